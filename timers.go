package hisescript

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/value"
)

// WeakCallbackHolder refers to a script function of one compiled
// instance by generation. Once the instance is replaced, calls fail with
// ErrInstanceGone instead of running code of a stale instance.
type WeakCallbackHolder struct {
	ID  uuid.UUID
	Gen uint64

	e    *Engine
	fn   value.Value
	this value.Value
}

func (e *Engine) newHolder(inst *instance, fn, this value.Value) *WeakCallbackHolder {
	return &WeakCallbackHolder{ID: uuid.New(), Gen: inst.gen, e: e, fn: fn, this: this}
}

// Valid reports whether the holder's instance is still current.
func (h *WeakCallbackHolder) Valid() bool {
	inst := h.e.current.Load()
	return inst != nil && inst.gen == h.Gen && !inst.isDisposed()
}

// Call runs the function on its instance. It must not be called from
// script code of the same instance.
func (h *WeakCallbackHolder) Call(args ...value.Value) Result {
	inst := h.e.current.Load()
	if inst == nil || inst.gen != h.Gen {
		return Result{Err: ErrInstanceGone}
	}
	inst.run.Lock()
	defer inst.run.Unlock()
	return h.call(inst, args)
}

// call runs the function on inst. The caller holds inst.run.
func (h *WeakCallbackHolder) call(inst *instance, args []value.Value) Result {
	if cur := h.e.current.Load(); cur != inst || inst.gen != h.Gen || inst.isDisposed() {
		return Result{Err: ErrInstanceGone}
	}
	cs := core.NewCallState(h.fn.Callable().FunctionName(), h.e.config.MaxLogEntries, h.e.console)
	prev := inst.call
	inst.call = cs
	start := time.Now()
	_, err := inst.in.Call(h.fn, h.this, args...)
	inst.call = prev
	return Result{Err: h.e.located(inst, err), Logs: cs.Close(), Duration: time.Since(start)}
}

// reportAsync logs the failure of a callback run from the message loop.
func (e *Engine) reportAsync(what string, res Result) {
	if res.Err == nil || errors.Is(res.Err, ErrInstanceGone) || errors.Is(res.Err, ErrCallbackNotDefined) {
		return
	}
	log.Printf("hisescript: %s: %v", what, res.Err)
	r := res
	e.last.Store(&r)
	if e.console != nil {
		e.console.Write(LogEntry{Level: "error", Message: res.Err.Error(), Time: time.Now()})
	}
}

// newTimerObject creates the object returned by
// Engine.createTimerObject.
func (e *Engine) newTimerObject(inst *instance) value.Value {
	obj := value.NewObject()
	self := value.ObjectValue(obj)

	// Both fields are guarded by inst.run.
	var holder *WeakCallbackHolder
	timerID := 0

	stop := func() {
		if timerID != 0 {
			e.loop.ClearTimer(timerID)
			inst.removeTimer(timerID)
			timerID = 0
		}
	}
	fire := func() {
		inst.run.Lock()
		h := holder
		var res Result
		if h != nil {
			res = h.call(inst, []value.Value{})
		}
		inst.run.Unlock()
		e.reportAsync("timer callback", res)
	}

	obj.Set("setTimerCallback", value.Native("setTimerCallback", 1, func(_ value.Value, args []value.Value) (value.Value, error) {
		if !args[0].IsFunction() {
			return value.Undefined(), core.NewScriptError(core.TypeError, core.CodeLocation{}, "setTimerCallback: argument is not a function")
		}
		holder = e.newHolder(inst, args[0], self)
		return value.Undefined(), nil
	}))
	obj.Set("startTimer", value.Native("startTimer", 1, func(_ value.Value, args []value.Value) (value.Value, error) {
		ms := args[0].ToDouble()
		if ms < 1 {
			return value.Undefined(), errors.New("Go easy on the timer!")
		}
		stop()
		timerID = e.loop.RegisterTimer(time.Duration(ms*float64(time.Millisecond)), true, fire)
		if !inst.addTimer(timerID) {
			e.loop.ClearTimer(timerID)
			timerID = 0
		}
		return value.Undefined(), nil
	}))
	obj.Set("stopTimer", value.Native("stopTimer", 0, func(value.Value, []value.Value) (value.Value, error) {
		stop()
		return value.Undefined(), nil
	}))
	obj.Set("isTimerRunning", value.Native("isTimerRunning", 0, func(value.Value, []value.Value) (value.Value, error) {
		return value.Bool(timerID != 0 && e.loop.IsActive(timerID)), nil
	}))
	return self
}

// startSynthTimer drives onTimer of inst every interval.
func (e *Engine) startSynthTimer(inst *instance, interval time.Duration) {
	e.stopSynthTimer(inst)
	gen := inst.gen
	id := e.loop.RegisterTimer(interval, true, func() {
		if cur := e.current.Load(); cur == nil || cur.gen != gen {
			return
		}
		cb, ok := inst.data.CallbackIndex("onTimer")
		if !ok {
			return
		}
		inst.run.Lock()
		res := e.runCallback(inst, cb, nil)
		inst.run.Unlock()
		e.reportAsync("onTimer", res)
	})
	inst.mu.Lock()
	if inst.disposed {
		inst.mu.Unlock()
		e.loop.ClearTimer(id)
		return
	}
	inst.synthTimer = id
	inst.mu.Unlock()
}

func (e *Engine) stopSynthTimer(inst *instance) {
	inst.mu.Lock()
	id := inst.synthTimer
	inst.synthTimer = 0
	inst.mu.Unlock()
	if id != 0 {
		e.loop.ClearTimer(id)
	}
}
