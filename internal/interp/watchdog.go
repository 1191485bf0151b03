package interp

import (
	"sync"
	"sync/atomic"
	"time"
)

// watchdog flags an invocation as expired once its deadline passes. The
// evaluator polls the flag at loop iterations and call boundaries.
type watchdog struct {
	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	timeout  time.Duration
	paused   time.Duration // remaining time while suspended
	fired    atomic.Bool
}

func (w *watchdog) start(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fired.Store(false)
	w.timeout = d
	if d <= 0 {
		return
	}
	w.deadline = time.Now().Add(d)
	w.timer = time.AfterFunc(d, func() { w.fired.Store(true) })
}

func (w *watchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// extend moves the deadline of the running invocation out by d.
func (w *watchdog) extend(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil || w.fired.Load() {
		return
	}
	w.timeout += d
	w.deadline = w.deadline.Add(d)
	w.timer.Reset(time.Until(w.deadline))
}

// pause stops the clock while execution is suspended at a breakpoint.
func (w *watchdog) pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil || !w.timer.Stop() {
		return
	}
	w.paused = time.Until(w.deadline)
}

func (w *watchdog) resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil || w.fired.Load() || w.paused <= 0 {
		return
	}
	w.deadline = time.Now().Add(w.paused)
	w.timer.Reset(w.paused)
	w.paused = 0
}

func (w *watchdog) expired() bool { return w.fired.Load() }

func (w *watchdog) limit() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}
