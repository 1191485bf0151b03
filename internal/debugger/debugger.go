// Package debugger holds script breakpoints and the suspension point the
// interpreter enters when one is hit.
package debugger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/value"
)

// State is the execution state seen by the debugger.
type State int32

const (
	Running State = iota
	Paused
	Terminated
)

func (s State) String() string {
	switch s {
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	}
	return "running"
}

// Breakpoint is a pause point in a snippet. Two breakpoints are equal
// when they share snippet and line.
type Breakpoint struct {
	Snippet   string `json:"snippet"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	CharIndex int    `json:"charIndex"`
	Index     int    `json:"index"`
	HitCount  int    `json:"hitCount"`

	// LocalScope is the snapshot of the visible variables taken at the
	// last hit.
	LocalScope map[string]value.Value `json:"-"`
}

// Equals reports whether b and o denote the same pause point.
func (b Breakpoint) Equals(o Breakpoint) bool {
	return b.Snippet == o.Snippet && b.Line == o.Line
}

func (b Breakpoint) String() string {
	return fmt.Sprintf("%s:%d", b.Snippet, b.Line)
}

// Listener is notified synchronously when a breakpoint is hit, before
// the interpreter suspends. It may call Continue or Abort directly.
type Listener interface {
	BreakpointWasHit(index int)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(index int)

// BreakpointWasHit calls f(index).
func (f ListenerFunc) BreakpointWasHit(index int) { f(index) }

type key struct {
	snippet string
	line    int
}

type listenerEntry struct {
	id int
	l  Listener
}

type resumeAction int

const (
	actionContinue resumeAction = iota
	actionAbort
)

// Debugger stores breakpoints and coordinates suspension. The zero value
// is not usable; call New.
type Debugger struct {
	mu           sync.RWMutex
	breakpoints  map[key]*Breakpoint
	nextIndex    int
	listeners    []listenerEntry
	nextListener int
	current      *Breakpoint

	count  atomic.Int32
	state  atomic.Int32
	resume chan resumeAction
}

// New creates an empty debugger.
func New() *Debugger {
	return &Debugger{
		breakpoints: make(map[key]*Breakpoint),
		resume:      make(chan resumeAction, 1),
	}
}

// Add inserts bp. It returns false when an equal breakpoint exists.
func (d *Debugger) Add(bp Breakpoint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(bp)
}

func (d *Debugger) add(bp Breakpoint) bool {
	k := key{bp.Snippet, bp.Line}
	if _, ok := d.breakpoints[k]; ok {
		return false
	}
	bp.Index = d.nextIndex
	d.nextIndex++
	d.breakpoints[k] = &bp
	d.count.Add(1)
	return true
}

// Remove deletes the breakpoint at snippet:line.
func (d *Debugger) Remove(snippet string, line int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remove(snippet, line)
}

func (d *Debugger) remove(snippet string, line int) bool {
	k := key{snippet, line}
	if _, ok := d.breakpoints[k]; !ok {
		return false
	}
	delete(d.breakpoints, k)
	d.count.Add(-1)
	return true
}

// Toggle adds bp, or removes it when an equal one already exists. It
// reports whether the breakpoint is set afterwards.
func (d *Debugger) Toggle(bp Breakpoint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remove(bp.Snippet, bp.Line) {
		return false
	}
	return d.add(bp)
}

// Clear removes every breakpoint.
func (d *Debugger) Clear() {
	d.mu.Lock()
	d.breakpoints = make(map[key]*Breakpoint)
	d.count.Store(0)
	d.mu.Unlock()
}

// Len returns the number of breakpoints.
func (d *Debugger) Len() int { return int(d.count.Load()) }

// List returns copies of all breakpoints ordered by snippet and line.
func (d *Debugger) List() []Breakpoint {
	d.mu.RLock()
	out := make([]Breakpoint, 0, len(d.breakpoints))
	for _, bp := range d.breakpoints {
		out = append(out, *bp)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Snippet != out[j].Snippet {
			return out[i].Snippet < out[j].Snippet
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// Lookup returns the breakpoint at snippet:line. The check is a single
// atomic load when no breakpoints are set.
func (d *Debugger) Lookup(snippet string, line int) (Breakpoint, bool) {
	if d == nil || d.count.Load() == 0 {
		return Breakpoint{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	bp, ok := d.breakpoints[key{snippet, line}]
	if !ok {
		return Breakpoint{}, false
	}
	return *bp, true
}

// Get returns the breakpoint with the given index.
func (d *Debugger) Get(index int) (Breakpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, bp := range d.breakpoints {
		if bp.Index == index {
			return *bp, true
		}
	}
	return Breakpoint{}, false
}

// AddListener registers l and returns a function that unregisters it.
func (d *Debugger) AddListener(l Listener) (remove func()) {
	d.mu.Lock()
	id := d.nextListener
	d.nextListener++
	d.listeners = append(d.listeners, listenerEntry{id, l})
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, e := range d.listeners {
			if e.id == id {
				d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

// State returns the current execution state.
func (d *Debugger) State() State { return State(d.state.Load()) }

// Current returns the breakpoint of the last hit.
func (d *Debugger) Current() (Breakpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == nil {
		return Breakpoint{}, false
	}
	return *d.current, true
}

// Continue resumes a suspended hit. A Continue sent while nothing is
// suspended is dropped when the next hit starts.
func (d *Debugger) Continue() { d.send(actionContinue) }

// Abort terminates the suspended (or the next) hit with
// core.ErrExecutionTerminated.
func (d *Debugger) Abort() { d.send(actionAbort) }

func (d *Debugger) send(a resumeAction) {
	for {
		select {
		case d.resume <- a:
			return
		default:
		}
		// replace a pending action
		select {
		case <-d.resume:
		default:
		}
	}
}

// Hit records a hit of the breakpoint at snippet:line with the given
// scope snapshot, notifies the listeners and suspends until Continue,
// Abort or ctx is done.
func (d *Debugger) Hit(ctx context.Context, snippet string, line int, locals map[string]value.Value) error {
	d.mu.Lock()
	bp, ok := d.breakpoints[key{snippet, line}]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	bp.HitCount++
	bp.LocalScope = locals
	d.current = bp
	index := bp.Index
	listeners := append([]listenerEntry(nil), d.listeners...)
	d.mu.Unlock()

	// A stale Continue must not skip this hit; a pending Abort still
	// applies. Listeners may resume synchronously, so this runs first.
	select {
	case a := <-d.resume:
		if a == actionAbort {
			d.state.Store(int32(Terminated))
			return core.ErrExecutionTerminated
		}
	default:
	}
	d.state.Store(int32(Paused))
	for _, e := range listeners {
		e.l.BreakpointWasHit(index)
	}
	select {
	case a := <-d.resume:
		if a == actionAbort {
			d.state.Store(int32(Terminated))
			return core.ErrExecutionTerminated
		}
		d.state.Store(int32(Running))
		return nil
	case <-ctx.Done():
		d.state.Store(int32(Terminated))
		return fmt.Errorf("%w: %v", core.ErrExecutionTerminated, ctx.Err())
	}
}
