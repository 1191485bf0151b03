package core

import "time"

// CallbackID indexes a callback slot. The values of the default table are
// stable so hosts can dispatch without a name lookup.
type CallbackID int

const (
	OnInit CallbackID = iota
	OnNoteOn
	OnNoteOff
	OnController
	OnTimer
	OnControl
	PrepareToPlay
	ProcessBlock
)

// CallbackDef declares a named callback slot and its parameter names.
type CallbackDef struct {
	Name   string
	Params []string
}

// DefaultCallbacks returns the MIDI processor callback table.
func DefaultCallbacks() []CallbackDef {
	return []CallbackDef{
		{Name: "onInit"},
		{Name: "onNoteOn"},
		{Name: "onNoteOff"},
		{Name: "onController"},
		{Name: "onTimer"},
		{Name: "onControl", Params: []string{"component", "value"}},
		{Name: "prepareToPlay", Params: []string{"sampleRate", "blockSize"}},
		{Name: "processBlock", Params: []string{"channels"}},
	}
}

// EventType classifies a HiseEvent.
type EventType uint8

const (
	EventEmpty EventType = iota
	EventNoteOn
	EventNoteOff
	EventController
	EventPitchBend
	EventTimer
)

func (t EventType) String() string {
	switch t {
	case EventNoteOn:
		return "NoteOn"
	case EventNoteOff:
		return "NoteOff"
	case EventController:
		return "Controller"
	case EventPitchBend:
		return "PitchBend"
	case EventTimer:
		return "Timer"
	default:
		return "Empty"
	}
}

// HiseEvent is the opaque MIDI-like event handed to script callbacks and
// DSP networks.
type HiseEvent struct {
	Type      EventType
	Channel   int
	Number    int // note number or controller number
	Value     int // velocity or controller value
	EventID   uint16
	Timestamp int // sample offset within the current block
	Ignored   bool
}

// LogEntry is a single console message captured from a script.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Snippet string    `json:"snippet,omitempty"`
	Line    int       `json:"line,omitempty"`
	Time    time.Time `json:"time"`
}

// Result reports the outcome of a compile or callback invocation.
type Result struct {
	Err      error
	Logs     []LogEntry
	Duration time.Duration
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Message returns the human readable error message, or "OK".
func (r Result) Message() string {
	if r.Err == nil {
		return "OK"
	}
	return r.Err.Error()
}

// Location returns the code location attached to the error, if any.
func (r Result) Location() (CodeLocation, bool) {
	if se, ok := AsScriptError(r.Err); ok {
		return se.Location, true
	}
	return CodeLocation{}, false
}
