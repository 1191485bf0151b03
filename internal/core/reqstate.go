package core

import (
	"sync"
	"sync/atomic"
	"time"
)

const MaxLogMessageSize = 4096

var callCounter atomic.Uint64

// CallState holds per-invocation mutable state (captured logs, cleanups).
// The engine creates one before running a callback and closes it after.
type CallState struct {
	ID      uint64
	Snippet string
	MaxLogs int
	Sink    ConsoleSink

	mu       sync.Mutex
	logs     []LogEntry
	cleanups []func()
}

// NewCallState allocates a CallState with a fresh id.
func NewCallState(snippet string, maxLogs int, sink ConsoleSink) *CallState {
	if maxLogs <= 0 {
		maxLogs = DefaultMaxLogEntries
	}
	return &CallState{
		ID:      callCounter.Add(1),
		Snippet: snippet,
		MaxLogs: maxLogs,
		Sink:    sink,
	}
}

// AddLog appends a console entry and forwards it to the sink.
func (cs *CallState) AddLog(level, message string, line int) {
	if cs == nil {
		return
	}
	if len(message) > MaxLogMessageSize {
		message = message[:MaxLogMessageSize] + "...(truncated)"
	}
	entry := LogEntry{
		Level:   level,
		Message: message,
		Snippet: cs.Snippet,
		Line:    line,
		Time:    time.Now(),
	}
	cs.mu.Lock()
	if len(cs.logs) < cs.MaxLogs {
		cs.logs = append(cs.logs, entry)
	}
	cs.mu.Unlock()
	if cs.Sink != nil {
		cs.Sink.Write(entry)
	}
}

// Logs returns a copy of the captured entries.
func (cs *CallState) Logs() []LogEntry {
	if cs == nil {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]LogEntry, len(cs.logs))
	copy(out, cs.logs)
	return out
}

// RegisterCleanup adds a function run by Close. Cleanups run in reverse
// registration order.
func (cs *CallState) RegisterCleanup(fn func()) {
	cs.mu.Lock()
	cs.cleanups = append(cs.cleanups, fn)
	cs.mu.Unlock()
}

// Close runs registered cleanups and returns the captured logs.
func (cs *CallState) Close() []LogEntry {
	cs.mu.Lock()
	cleanups := cs.cleanups
	cs.cleanups = nil
	cs.mu.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	return cs.Logs()
}
