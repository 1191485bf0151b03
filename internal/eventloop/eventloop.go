// Package eventloop implements the message-thread loop: script timers,
// posted tasks and pollers that drain audio-thread queues.
package eventloop

import (
	"context"
	"sync"
	"time"
)

// MinInterval is the shortest repeat interval a timer may use.
const MinInterval = 10 * time.Millisecond

// timerEntry is a pending one-shot or repeating timer. The callback is
// owned by the caller; the loop only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for one-shot timers
	id       int
	fire     func()
	cleared  bool
}

// Poller is called on every loop iteration. It returns true when it did
// any work.
type Poller func() bool

// Loop runs timers, posted tasks and pollers on a single goroutine.
// Callbacks never run concurrently with each other.
type Loop struct {
	mu      sync.Mutex
	timers  map[int]*timerEntry
	nextID  int
	tasks   []func()
	pollers []Poller
	wake    chan struct{}
}

// New creates an empty loop.
func New() *Loop {
	return &Loop{
		timers: make(map[int]*timerEntry),
		wake:   make(chan struct{}, 1),
	}
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// RegisterTimer schedules fire after delay and returns the timer id.
// Repeating timers are clamped to MinInterval.
func (l *Loop) RegisterTimer(delay time.Duration, repeat bool, fire func()) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
		fire:     fire,
	}
	if repeat {
		if delay < MinInterval {
			delay = MinInterval
			entry.deadline = time.Now().Add(delay)
		}
		entry.interval = delay
	}
	l.timers[id] = entry
	l.notify()
	return id
}

// ClearTimer cancels a timer by id.
func (l *Loop) ClearTimer(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[id]; ok {
		t.cleared = true
		delete(l.timers, id)
	}
}

// IsActive reports whether the timer is still scheduled.
func (l *Loop) IsActive(id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.timers[id]
	return ok
}

// Post queues fn to run on the loop.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.notify()
}

// AddPoller registers p to be called on every iteration.
func (l *Loop) AddPoller(p Poller) {
	l.mu.Lock()
	l.pollers = append(l.pollers, p)
	l.mu.Unlock()
}

// Wake interrupts a waiting Run or Drain so pollers run promptly.
func (l *Loop) Wake() { l.notify() }

// runTasks executes posted tasks and pollers. It returns true if any work
// was done.
func (l *Loop) runTasks() bool {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	pollers := l.pollers
	l.mu.Unlock()

	didWork := len(tasks) > 0
	for _, t := range tasks {
		t()
	}
	for _, p := range pollers {
		if p() {
			didWork = true
		}
	}
	return didWork
}

// nextTimer returns the timer with the earliest deadline.
func (l *Loop) nextTimer() *timerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var next *timerEntry
	for _, t := range l.timers {
		if t.cleared {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) {
			next = t
		}
	}
	return next
}

// fire runs the timer if it is still scheduled and reschedules repeating
// timers.
func (l *Loop) fire(t *timerEntry) {
	l.mu.Lock()
	if t.cleared {
		l.mu.Unlock()
		return
	}
	if t.interval > 0 {
		t.deadline = time.Now().Add(t.interval)
	} else {
		delete(l.timers, t.id)
	}
	fn := t.fire
	l.mu.Unlock()
	fn()
}

// RunPending runs queued tasks, pollers and every timer that is already
// due, without waiting.
func (l *Loop) RunPending() {
	for l.runTasks() {
	}
	now := time.Now()
	for {
		next := l.nextTimer()
		if next == nil || next.deadline.After(now) {
			break
		}
		l.fire(next)
		for l.runTasks() {
		}
	}
}

// Drain runs tasks and timers until nothing is pending or the deadline
// is reached. Repeating timers keep the loop busy until the deadline.
func (l *Loop) Drain(deadline time.Time) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	l.run(ctx, true)
}

// Run runs the loop until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	l.run(ctx, false)
}

func (l *Loop) run(ctx context.Context, stopWhenIdle bool) {
	for {
		if ctx.Err() != nil {
			return
		}
		if l.runTasks() {
			continue
		}
		next := l.nextTimer()
		if next == nil {
			if stopWhenIdle {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
			case <-time.After(time.Millisecond):
			}
			continue
		}
		if wait := time.Until(next.deadline); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-l.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}
		l.fire(next)
	}
}

// HasPending returns true if there are active timers or queued tasks.
func (l *Loop) HasPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers) > 0 || len(l.tasks) > 0
}

// Reset clears all timers and queued tasks. Pollers stay registered.
func (l *Loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.timers {
		t.cleared = true
	}
	l.timers = make(map[int]*timerEntry)
	l.tasks = nil
}
