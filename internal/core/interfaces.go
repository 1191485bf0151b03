package core

// ScriptLoader retrieves script source by id.
type ScriptLoader interface {
	LoadScript(id string) (string, error)
}

// ConsoleSink receives console output from scripts. Implementations must
// be safe for concurrent use.
type ConsoleSink interface {
	Write(entry LogEntry)
}

// ConsoleFunc adapts a function to ConsoleSink.
type ConsoleFunc func(entry LogEntry)

// Write calls f(entry).
func (f ConsoleFunc) Write(entry LogEntry) { f(entry) }

// Host is the narrow view of the surrounding audio host that the API
// classes read from. The engine provides a default implementation.
type Host interface {
	SampleRate() float64
	BlockSize() int
	NumVoices() int
	// AddEvent schedules a generated event (Synth.addNoteOn, ...).
	AddEvent(e HiseEvent) uint16
}
