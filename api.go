package hisescript

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/value"
)

// engineHost is the default Host: it reports the audio settings passed
// to PrepareToPlay and collects events generated by scripts.
type engineHost struct {
	mu         sync.Mutex
	sampleRate float64
	blockSize  int
	numVoices  int
	nextID     uint16
	events     []core.HiseEvent
}

func newEngineHost(sampleRate float64, blockSize int) *engineHost {
	return &engineHost{sampleRate: sampleRate, blockSize: blockSize, numVoices: 1}
}

func (h *engineHost) setAudio(sampleRate float64, blockSize int) {
	h.mu.Lock()
	h.sampleRate, h.blockSize = sampleRate, blockSize
	h.mu.Unlock()
}

func (h *engineHost) SampleRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sampleRate
}

func (h *engineHost) BlockSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blockSize
}

func (h *engineHost) NumVoices() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.numVoices
}

func (h *engineHost) AddEvent(e core.HiseEvent) uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e.EventID == 0 {
		h.nextID++
		e.EventID = h.nextID
	}
	h.events = append(h.events, e)
	return e.EventID
}

func (h *engineHost) take() []core.HiseEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.events
	h.events = nil
	return out
}

// GeneratedEvents returns and clears the events scripts created with
// Synth.addNoteOn and Synth.addNoteOff. It returns nil when a custom
// Host is installed.
func (e *Engine) GeneratedEvents() []HiseEvent {
	if e.host != Host(e.defHost) {
		return nil
	}
	return e.defHost.take()
}

// apiClasses builds the native classes for one compiled instance.
func (e *Engine) apiClasses(inst *instance) []*value.ApiClass {
	return []*value.ApiClass{
		e.mathClass(),
		e.consoleClass(inst),
		e.engineClass(inst),
		e.synthClass(inst),
		e.messageClass(inst),
	}
}

func unary(fn func(float64) float64) func([]value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		return value.Double(fn(args[0].ToDouble())), nil
	}
}

func binary(fn func(a, b float64) float64) func([]value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		return value.Double(fn(args[0].ToDouble(), args[1].ToDouble())), nil
	}
}

func (e *Engine) mathClass() *value.ApiClass {
	m := value.NewApiClass("Math")
	m.AddConstant("PI", value.Double(math.Pi)).
		AddConstant("E", value.Double(math.E)).
		AddConstant("SQRT2", value.Double(math.Sqrt2))

	m.AddFunction("abs", 1, func(args []value.Value) (value.Value, error) {
		if args[0].IsInteger() {
			n := args[0].ToInt64()
			if n < 0 {
				n = -n
			}
			return value.Integer(n), nil
		}
		return value.Double(math.Abs(args[0].ToDouble())), nil
	})
	m.AddFunction("sin", 1, unary(math.Sin))
	m.AddFunction("cos", 1, unary(math.Cos))
	m.AddFunction("tan", 1, unary(math.Tan))
	m.AddFunction("asin", 1, unary(math.Asin))
	m.AddFunction("acos", 1, unary(math.Acos))
	m.AddFunction("atan", 1, unary(math.Atan))
	m.AddFunction("atan2", 2, binary(math.Atan2))
	m.AddFunction("sinh", 1, unary(math.Sinh))
	m.AddFunction("cosh", 1, unary(math.Cosh))
	m.AddFunction("tanh", 1, unary(math.Tanh))
	m.AddFunction("pow", 2, binary(math.Pow))
	m.AddFunction("sqrt", 1, unary(math.Sqrt))
	m.AddFunction("sqr", 1, unary(func(x float64) float64 { return x * x }))
	m.AddFunction("exp", 1, unary(math.Exp))
	m.AddFunction("log", 1, unary(math.Log))
	m.AddFunction("log10", 1, unary(math.Log10))
	m.AddFunction("floor", 1, unary(math.Floor))
	m.AddFunction("ceil", 1, unary(math.Ceil))
	m.AddFunction("round", 1, unary(func(x float64) float64 { return math.Floor(x + 0.5) }))
	m.AddFunction("sign", 1, unary(func(x float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return 0
	}))
	m.AddFunction("fmod", 2, binary(math.Mod))
	m.AddFunction("min", 2, func(args []value.Value) (value.Value, error) {
		if args[0].IsInteger() && args[1].IsInteger() {
			return value.Integer(min(args[0].ToInt64(), args[1].ToInt64())), nil
		}
		return value.Double(math.Min(args[0].ToDouble(), args[1].ToDouble())), nil
	})
	m.AddFunction("max", 2, func(args []value.Value) (value.Value, error) {
		if args[0].IsInteger() && args[1].IsInteger() {
			return value.Integer(max(args[0].ToInt64(), args[1].ToInt64())), nil
		}
		return value.Double(math.Max(args[0].ToDouble(), args[1].ToDouble())), nil
	})
	m.AddFunction("range", 3, func(args []value.Value) (value.Value, error) {
		v, lo, hi := args[0].ToDouble(), args[1].ToDouble(), args[2].ToDouble()
		return value.Double(math.Max(lo, math.Min(hi, v))), nil
	})
	m.AddFunction("toDegrees", 1, unary(func(x float64) float64 { return x * 180 / math.Pi }))
	m.AddFunction("toRadians", 1, unary(func(x float64) float64 { return x * math.Pi / 180 }))

	// One sequence serves every instance, so a seeded engine is
	// reproducible across recompiles.
	m.AddFunction("random", 0, func([]value.Value) (value.Value, error) {
		e.rngMu.Lock()
		defer e.rngMu.Unlock()
		return value.Double(e.rng.Float64()), nil
	})
	m.AddFunction("randInt", 2, func(args []value.Value) (value.Value, error) {
		lo, hi := args[0].ToInt64(), args[1].ToInt64()
		if hi <= lo {
			return value.Integer(lo), nil
		}
		e.rngMu.Lock()
		defer e.rngMu.Unlock()
		return value.Integer(lo + e.rng.Int64N(hi-lo)), nil
	})
	return m
}

func (e *Engine) consoleClass(inst *instance) *value.ApiClass {
	c := value.NewApiClass("Console")
	c.AddFunction("print", 1, func(args []value.Value) (value.Value, error) {
		e.print(inst, "info", args[0].String())
		return value.Undefined(), nil
	})
	c.AddFunction("assertTrue", 1, func(args []value.Value) (value.Value, error) {
		if !args[0].ToBool() {
			return value.Undefined(), errors.New("Assertion failure: condition is false")
		}
		return value.Undefined(), nil
	})
	c.AddFunction("assertEqual", 2, func(args []value.Value) (value.Value, error) {
		if !value.LooseEquals(args[0], args[1]) {
			return value.Undefined(), fmt.Errorf("Assertion failure: values are unequal (%s != %s)", args[0], args[1])
		}
		return value.Undefined(), nil
	})
	c.AddFunction("assertIsDefined", 1, func(args []value.Value) (value.Value, error) {
		if args[0].IsVoid() {
			return value.Undefined(), errors.New("Assertion failure: value is undefined")
		}
		return value.Undefined(), nil
	})
	c.AddFunction("startBenchmark", 0, func([]value.Value) (value.Value, error) {
		inst.bench = time.Now()
		return value.Undefined(), nil
	})
	c.AddFunction("stopBenchmark", 0, func([]value.Value) (value.Value, error) {
		if inst.bench.IsZero() {
			return value.Undefined(), errors.New("startBenchmark was not called")
		}
		d := time.Since(inst.bench)
		inst.bench = time.Time{}
		e.print(inst, "info", "Benchmark result: "+humanize.SIWithDigits(d.Seconds(), 3, "s"))
		return value.Undefined(), nil
	})
	return c
}

func (e *Engine) engineClass(inst *instance) *value.ApiClass {
	c := value.NewApiClass("Engine")
	c.AddFunction("extendTimeOut", 1, func(args []value.Value) (value.Value, error) {
		inst.in.ExtendTimeout(time.Duration(args[0].ToInt()) * time.Millisecond)
		return value.Undefined(), nil
	})
	c.AddFunction("getUptime", 0, func([]value.Value) (value.Value, error) {
		return value.Double(time.Since(e.started).Seconds()), nil
	})
	c.AddFunction("getSampleRate", 0, func([]value.Value) (value.Value, error) {
		return value.Double(e.host.SampleRate()), nil
	})
	c.AddFunction("getBufferSize", 0, func([]value.Value) (value.Value, error) {
		return value.Int(e.host.BlockSize()), nil
	})
	c.AddFunction("getNumVoices", 0, func([]value.Value) (value.Value, error) {
		return value.Int(e.host.NumVoices()), nil
	})
	c.AddFunction("createTimerObject", 0, func([]value.Value) (value.Value, error) {
		return e.newTimerObject(inst), nil
	})
	c.AddFunction("createDspNetwork", 1, func(args []value.Value) (value.Value, error) {
		return e.networkHandle(args[0].String())
	})
	c.AddFunction("doubleToString", 2, func(args []value.Value) (value.Value, error) {
		return value.Str(fmt.Sprintf("%.*f", max(0, args[1].ToInt()), args[0].ToDouble())), nil
	})
	return c
}

func (e *Engine) synthClass(inst *instance) *value.ApiClass {
	c := value.NewApiClass("Synth")
	c.AddFunction("deferCallbacks", 1, func(args []value.Value) (value.Value, error) {
		e.SetDeferred(args[0].ToBool())
		return value.Undefined(), nil
	})
	c.AddFunction("startTimer", 1, func(args []value.Value) (value.Value, error) {
		secs := args[0].ToDouble()
		if secs < 0.004 {
			return value.Undefined(), errors.New("Go easy on the timer!")
		}
		e.startSynthTimer(inst, time.Duration(secs*float64(time.Second)))
		return value.Undefined(), nil
	})
	c.AddFunction("stopTimer", 0, func([]value.Value) (value.Value, error) {
		e.stopSynthTimer(inst)
		return value.Undefined(), nil
	})
	c.AddFunction("isTimerRunning", 0, func([]value.Value) (value.Value, error) {
		inst.mu.Lock()
		id := inst.synthTimer
		inst.mu.Unlock()
		return value.Bool(id != 0 && e.loop.IsActive(id)), nil
	})
	c.AddFunction("addNoteOn", 4, func(args []value.Value) (value.Value, error) {
		id := e.host.AddEvent(core.HiseEvent{
			Type:      core.EventNoteOn,
			Channel:   args[0].ToInt(),
			Number:    args[1].ToInt(),
			Value:     args[2].ToInt(),
			Timestamp: args[3].ToInt(),
		})
		return value.Int(int(id)), nil
	})
	c.AddFunction("addNoteOff", 3, func(args []value.Value) (value.Value, error) {
		e.host.AddEvent(core.HiseEvent{
			Type:      core.EventNoteOff,
			Channel:   args[0].ToInt(),
			Number:    args[1].ToInt(),
			Timestamp: args[2].ToInt(),
		})
		return value.Undefined(), nil
	})
	return c
}

var errNoEvent = errors.New("Message functions are only valid in MIDI callbacks")

func (e *Engine) messageClass(inst *instance) *value.ApiClass {
	c := value.NewApiClass("Message")
	get := func(name string, fn func(ev *core.HiseEvent) int) {
		c.AddFunction(name, 0, func([]value.Value) (value.Value, error) {
			if inst.event == nil {
				return value.Undefined(), errNoEvent
			}
			return value.Int(fn(inst.event)), nil
		})
	}
	get("getNoteNumber", func(ev *core.HiseEvent) int { return ev.Number })
	get("getVelocity", func(ev *core.HiseEvent) int { return ev.Value })
	get("getControllerNumber", func(ev *core.HiseEvent) int { return ev.Number })
	get("getControllerValue", func(ev *core.HiseEvent) int { return ev.Value })
	get("getChannel", func(ev *core.HiseEvent) int { return ev.Channel })
	get("getEventId", func(ev *core.HiseEvent) int { return int(ev.EventID) })
	get("getTimestamp", func(ev *core.HiseEvent) int { return ev.Timestamp })

	set := func(name string, fn func(ev *core.HiseEvent, v value.Value)) {
		c.AddFunction(name, 1, func(args []value.Value) (value.Value, error) {
			if inst.event == nil {
				return value.Undefined(), errNoEvent
			}
			fn(inst.event, args[0])
			return value.Undefined(), nil
		})
	}
	set("ignoreEvent", func(ev *core.HiseEvent, v value.Value) { ev.Ignored = v.ToBool() })
	set("setNoteNumber", func(ev *core.HiseEvent, v value.Value) { ev.Number = v.ToInt() })
	set("setVelocity", func(ev *core.HiseEvent, v value.Value) { ev.Value = v.ToInt() })
	set("setControllerValue", func(ev *core.HiseEvent, v value.Value) { ev.Value = v.ToInt() })

	c.AddFunction("isNoteOn", 0, func([]value.Value) (value.Value, error) {
		return value.Bool(inst.event != nil && inst.event.Type == core.EventNoteOn), nil
	})
	return c
}

// channelsToValue copies an audio block into script arrays.
func channelsToValue(channels [][]float32) value.Value {
	out := value.NewArray(len(channels))
	for _, ch := range channels {
		a := value.NewArray(len(ch))
		for _, x := range ch {
			a.Push(value.Double(float64(x)))
		}
		out.Push(value.ArrayValue(a))
	}
	return value.ArrayValue(out)
}

// storeChannels writes a processed block into the script arrays it was
// read from.
func storeChannels(v value.Value, channels [][]float32) {
	arr := v.Array()
	if arr == nil {
		return
	}
	for c, ch := range channels {
		if c >= arr.Len() {
			return
		}
		dst := arr.Get(c).Array()
		if dst == nil {
			continue
		}
		for i, x := range ch {
			dst.Set(i, value.Double(float64(x)))
		}
	}
}

// valueToChannels copies script arrays back into an audio block. Extra or
// missing elements are ignored.
func valueToChannels(v value.Value, channels [][]float32) {
	arr := v.Array()
	if arr == nil {
		return
	}
	for c, ch := range channels {
		if c >= arr.Len() {
			return
		}
		src := arr.Get(c).Array()
		if src == nil {
			continue
		}
		for i := range ch {
			if i >= src.Len() {
				break
			}
			ch[i] = float32(src.Get(i).ToDouble())
		}
	}
}
