package hisescript

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/debugger"
	"github.com/cryguy/hisescript/internal/eventloop"
	"github.com/cryguy/hisescript/internal/interp"
	"github.com/cryguy/hisescript/internal/parser"
	"github.com/cryguy/hisescript/internal/scriptnode"
	"github.com/cryguy/hisescript/internal/value"
)

// deferredQueueSize is the capacity of the ring buffer holding MIDI
// events while callbacks are deferred.
const deferredQueueSize = 1024

var errDeferredQueueFull = errors.New("deferred event queue is full")

// instance is one compiled script. It is immutable once published except
// for the interpreter state and the fields after run, which only the
// goroutine holding run touches. Instances do not share a lock, so a
// compile never waits for the live instance or blocks it.
type instance struct {
	gen     uint64
	source  string
	snippet string
	data    *parser.SpecialData
	in      *interp.Interpreter

	ctx    context.Context
	cancel context.CancelFunc

	run   sync.Mutex
	call  *core.CallState
	event *core.HiseEvent
	bench time.Time

	mu         sync.Mutex
	timers     map[int]struct{}
	synthTimer int
	disposed   bool
}

// addTimer records a loop timer owned by inst. It returns false once
// inst is disposed.
func (inst *instance) addTimer(id int) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.disposed {
		return false
	}
	inst.timers[id] = struct{}{}
	return true
}

func (inst *instance) removeTimer(id int) {
	inst.mu.Lock()
	delete(inst.timers, id)
	inst.mu.Unlock()
}

func (inst *instance) isDisposed() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.disposed
}

// dispose stops the instance's timers and aborts suspended breakpoints.
func (inst *instance) dispose(loop *eventloop.Loop) {
	inst.mu.Lock()
	if inst.disposed {
		inst.mu.Unlock()
		return
	}
	inst.disposed = true
	ids := make([]int, 0, len(inst.timers)+1)
	for id := range inst.timers {
		ids = append(ids, id)
	}
	if inst.synthTimer != 0 {
		ids = append(ids, inst.synthTimer)
	}
	inst.timers = nil
	inst.mu.Unlock()
	for _, id := range ids {
		loop.ClearTimer(id)
	}
	inst.cancel()
}

// Option configures an Engine.
type Option func(*Engine)

// WithLoader sets the loader used by LoadFromStore.
func WithLoader(l ScriptLoader) Option { return func(e *Engine) { e.loader = l } }

// WithConsole forwards console output to sink in addition to capturing
// it on results.
func WithConsole(sink ConsoleSink) Option { return func(e *Engine) { e.console = sink } }

// WithRegistry sets the node registry used by script-created networks.
func WithRegistry(r *scriptnode.Registry) Option { return func(e *Engine) { e.registry = r } }

// WithHost replaces the default audio host.
func WithHost(h Host) Option { return func(e *Engine) { e.host = h } }

// Engine compiles scripts and dispatches callbacks to the current
// compiled instance. Compilation replaces the instance as a whole; a
// failed compile keeps the previous one.
type Engine struct {
	config   EngineConfig
	loader   ScriptLoader
	console  ConsoleSink
	registry *scriptnode.Registry
	host     Host
	defHost  *engineHost
	passes   []parser.OptimizationPass

	current atomic.Pointer[instance]
	gen     atomic.Uint64
	last    atomic.Pointer[Result]

	compileMu sync.Mutex
	globalsMu sync.Mutex
	rngMu     sync.Mutex
	rng       *rand.Rand // guarded by rngMu
	nextEvent atomic.Uint32

	netMu    sync.Mutex
	networks map[string]*scriptnode.Network

	globals *value.Object
	debug   *debugger.Debugger
	loop    *eventloop.Loop
	ring    *eventloop.Ring[core.HiseEvent]
	group   singleflight.Group

	deferred atomic.Bool
	started  time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closed   atomic.Bool
}

// NewEngine creates an Engine and starts its message loop. Call Close to
// stop it.
func NewEngine(cfg EngineConfig, opts ...Option) *Engine {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:   cfg,
		networks: make(map[string]*scriptnode.Network),
		globals:  value.NewObject(),
		debug:    debugger.New(),
		loop:     eventloop.New(),
		ring:     eventloop.NewRing[core.HiseEvent](deferredQueueSize),
		rng:      rand.New(rand.NewPCG(uint64(cfg.RandomSeed), uint64(cfg.RandomSeed))),
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	e.defHost = newEngineHost(cfg.SampleRate, cfg.BlockSize)
	e.host = e.defHost
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = scriptnode.NewRegistry()
	}
	if cfg.Optimizations == nil {
		e.passes = parser.DefaultPasses()
	} else {
		var unknown []string
		e.passes, unknown = parser.PassesByName(cfg.Optimizations)
		for _, name := range unknown {
			log.Printf("hisescript: unknown optimization pass %q ignored", name)
		}
	}
	e.loop.AddPoller(e.drainDeferred)
	go func() {
		defer close(e.done)
		e.loop.Run(ctx)
	}()
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() EngineConfig { return e.config }

// Execute compiles source and runs its top-level body in a fresh
// instance. On success the instance replaces the current one; on any
// failure the current instance stays in place.
func (e *Engine) Execute(source string, allowConstDeclarations bool, snippet string) Result {
	if e.closed.Load() {
		return Result{Err: ErrEngineClosed}
	}
	e.compileMu.Lock()
	defer e.compileMu.Unlock()

	start := time.Now()
	inst := e.newInstance(source, snippet)
	cs := core.NewCallState(snippet, e.config.MaxLogEntries, e.console)

	err := e.compile(inst, allowConstDeclarations, cs)
	res := Result{Err: err, Logs: cs.Close(), Duration: time.Since(start)}
	if err != nil {
		inst.dispose(e.loop)
		e.last.Store(&res)
		return res
	}
	if old := e.current.Swap(inst); old != nil {
		old.dispose(e.loop)
	}
	e.last.Store(&res)
	return res
}

// CompileScript compiles source as the onInit snippet with const
// declarations allowed.
func (e *Engine) CompileScript(source string) Result {
	return e.Execute(source, true, "onInit")
}

func (e *Engine) newInstance(source, snippet string) *instance {
	ctx, cancel := context.WithCancel(e.ctx)
	inst := &instance{
		gen:     e.gen.Add(1),
		source:  source,
		snippet: snippet,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[int]struct{}),
	}
	inst.data = parser.NewSpecialData(e.config.Callbacks, e.apiClasses(inst)...)
	return inst
}

func (e *Engine) compile(inst *instance, allowConst bool, cs *core.CallState) error {
	prog, err := parser.Parse(inst.source, inst.snippet, inst.data, parser.Options{AllowConst: allowConst, Passes: e.passes})
	if err != nil {
		return e.located(inst, err)
	}
	opts := interp.Options{
		Globals:              e.globals,
		GlobalsLock:          &e.globalsMu,
		StrictParameterCalls: e.config.StrictParameterCalls,
		Timeout:              time.Duration(e.config.ExecutionTimeout) * time.Millisecond,
		Warn:                 inst.warn,
		Context:              inst.ctx,
	}
	if e.config.DebugEnabled {
		opts.Debugger = e.debug
	}
	inst.in = interp.New(prog, inst.data, opts)

	// Only the new instance is locked; the published one keeps serving.
	inst.run.Lock()
	defer inst.run.Unlock()
	inst.call = cs
	defer func() { inst.call = nil }()
	if err := inst.in.RunProgram(); err != nil {
		return e.located(inst, err)
	}
	if id, ok := inst.data.CallbackIndex("onInit"); ok {
		if _, err := inst.in.RunCallback(inst.data.Callback(id)); err != nil && !errors.Is(err, ErrCallbackNotDefined) {
			return e.located(inst, err)
		}
	}
	return nil
}

// located attaches the offending source line to script errors raised in
// inst's own snippet.
func (e *Engine) located(inst *instance, err error) error {
	if se, ok := core.AsScriptError(err); ok && se.Source == "" && se.Location.Snippet == inst.snippet {
		se.WithSource(inst.source)
	}
	return err
}

// warn is called by the interpreter for non-fatal diagnostics. It runs
// with inst.run held.
func (inst *instance) warn(loc core.CodeLocation, msg string) {
	if inst.call != nil {
		inst.call.AddLog("warning", msg, loc.Line)
		return
	}
	log.Printf("hisescript: %s: %s", loc, msg)
}

// print routes console output of the invocation running on inst.
func (e *Engine) print(inst *instance, level, msg string) {
	if inst.call != nil {
		inst.call.AddLog(level, msg, 0)
		return
	}
	if e.console != nil {
		e.console.Write(LogEntry{Level: level, Message: msg, Time: time.Now()})
	}
}

func (e *Engine) instance() (*instance, error) {
	inst := e.current.Load()
	if inst == nil {
		return nil, ErrNoCompiledInstance
	}
	return inst, nil
}

// acquire returns the current instance with its run lock held. An
// instance replaced while waiting for the lock is passed over.
func (e *Engine) acquire() (*instance, error) {
	for {
		inst, err := e.instance()
		if err != nil {
			return nil, err
		}
		inst.run.Lock()
		if e.current.Load() == inst {
			return inst, nil
		}
		inst.run.Unlock()
	}
}

// Evaluate evaluates an expression against the current instance.
func (e *Engine) Evaluate(expression string) (Value, error) {
	inst, err := e.acquire()
	if err != nil {
		return value.Undefined(), err
	}
	defer inst.run.Unlock()
	cs := core.NewCallState("eval", e.config.MaxLogEntries, e.console)
	inst.call = cs
	defer func() {
		inst.call = nil
		cs.Close()
	}()
	return inst.in.Evaluate(expression)
}

// CallFunction calls a script function by name. Dotted names address
// namespace members.
func (e *Engine) CallFunction(name string, args ...Value) (Value, error) {
	inst, err := e.acquire()
	if err != nil {
		return value.Undefined(), err
	}
	defer inst.run.Unlock()
	cs := core.NewCallState(name, e.config.MaxLogEntries, e.console)
	inst.call = cs
	defer func() {
		inst.call = nil
		cs.Close()
	}()
	return inst.in.CallFunction(name, args...)
}

// FireCallback runs the callback slot id of the current instance with
// the given parameters. Missing parameters are undefined.
func (e *Engine) FireCallback(id CallbackID, params ...Value) Result {
	inst, err := e.acquire()
	if err != nil {
		return Result{Err: err}
	}
	defer inst.run.Unlock()
	return e.runCallback(inst, id, params)
}

// runCallback dispatches a callback slot. The caller holds inst.run.
func (e *Engine) runCallback(inst *instance, id CallbackID, params []Value) Result {
	cb := inst.data.Callback(id)
	if cb == nil || !cb.Defined {
		return Result{Err: ErrCallbackNotDefined}
	}
	for i := 0; i < cb.NumParams(); i++ {
		if i < len(params) {
			cb.SetParam(i, params[i])
		} else {
			cb.SetParam(i, value.Undefined())
		}
	}
	cs := core.NewCallState(cb.Name, e.config.MaxLogEntries, e.console)
	prev := inst.call
	inst.call = cs
	start := time.Now()
	_, err := inst.in.RunCallback(cb)
	d := time.Since(start)
	inst.call = prev

	cb.RecordExecution(d, e.bufferDuration())
	if budget := time.Duration(e.config.CallbackBudget) * time.Microsecond; budget > 0 && d > budget {
		msg := fmt.Sprintf("%s took %s (budget %s)", cb.Name,
			humanize.SIWithDigits(d.Seconds(), 2, "s"), humanize.SIWithDigits(budget.Seconds(), 2, "s"))
		log.Printf("hisescript: %s", msg)
		cs.AddLog("warning", msg, 0)
	}
	res := Result{Err: e.located(inst, err), Logs: cs.Close(), Duration: d}
	if err != nil {
		e.last.Store(&res)
	}
	return res
}

func (e *Engine) bufferDuration() time.Duration {
	sr := e.host.SampleRate()
	if sr <= 0 {
		return 0
	}
	return time.Duration(float64(e.host.BlockSize()) / sr * float64(time.Second))
}

func (e *Engine) fireNamed(name string, params ...Value) Result {
	inst, err := e.acquire()
	if err != nil {
		return Result{Err: err}
	}
	defer inst.run.Unlock()
	id, ok := inst.data.CallbackIndex(name)
	if !ok {
		return Result{Err: ErrCallbackNotDefined}
	}
	return e.runCallback(inst, id, params)
}

// NoteOn dispatches a note-on event to onNoteOn. In deferred mode the
// event is queued for the message loop and the result is empty.
func (e *Engine) NoteOn(ev *HiseEvent) Result {
	ev.Type = core.EventNoteOn
	return e.dispatchEvent(ev)
}

// NoteOff dispatches a note-off event to onNoteOff.
func (e *Engine) NoteOff(ev *HiseEvent) Result {
	ev.Type = core.EventNoteOff
	return e.dispatchEvent(ev)
}

// Controller dispatches a controller event to onController.
func (e *Engine) Controller(ev *HiseEvent) Result {
	if ev.Type != core.EventPitchBend {
		ev.Type = core.EventController
	}
	return e.dispatchEvent(ev)
}

func callbackFor(t core.EventType) string {
	switch t {
	case core.EventNoteOn:
		return "onNoteOn"
	case core.EventNoteOff:
		return "onNoteOff"
	case core.EventTimer:
		return "onTimer"
	default:
		return "onController"
	}
}

func (e *Engine) dispatchEvent(ev *HiseEvent) Result {
	if e.deferred.Load() {
		if !e.ring.Push(*ev) {
			return Result{Err: errDeferredQueueFull}
		}
		e.loop.Wake()
		return Result{}
	}
	return e.runEvent(ev)
}

func (e *Engine) runEvent(ev *HiseEvent) Result {
	inst, err := e.acquire()
	if err != nil {
		return Result{Err: err}
	}
	defer inst.run.Unlock()
	id, ok := inst.data.CallbackIndex(callbackFor(ev.Type))
	if !ok {
		return Result{Err: ErrCallbackNotDefined}
	}
	if ev.Type == core.EventNoteOn && ev.EventID == 0 {
		ev.EventID = e.newEventID()
	}
	prev := inst.event
	inst.event = ev
	defer func() { inst.event = prev }()
	return e.runCallback(inst, id, nil)
}

// newEventID returns the next note-on id. Ids wrap but are never 0.
func (e *Engine) newEventID() uint16 {
	for {
		if id := uint16(e.nextEvent.Add(1)); id != 0 {
			return id
		}
	}
}

// drainDeferred replays queued events in order. It runs on the loop.
func (e *Engine) drainDeferred() bool {
	did := false
	for {
		ev, ok := e.ring.Pop()
		if !ok {
			return did
		}
		did = true
		if res := e.runEvent(&ev); res.Err != nil && !errors.Is(res.Err, ErrCallbackNotDefined) {
			log.Printf("hisescript: deferred %s: %v", ev.Type, res.Err)
		}
	}
}

// SetDeferred switches between realtime and deferred event dispatch.
// Switching back to realtime flushes the queue on the loop.
func (e *Engine) SetDeferred(on bool) {
	if e.deferred.Swap(on) && !on {
		e.loop.Wake()
	}
}

// IsDeferred reports whether events are queued for the message loop.
func (e *Engine) IsDeferred() bool { return e.deferred.Load() }

// PrepareToPlay updates the audio settings, prepares all networks and
// runs the prepareToPlay callback if defined.
func (e *Engine) PrepareToPlay(sampleRate float64, blockSize int) Result {
	if e.host == Host(e.defHost) {
		e.defHost.setAudio(sampleRate, blockSize)
	}
	var errs []error
	for _, n := range e.Networks() {
		if err := n.Prepare(scriptnode.PrepareSpecs{SampleRate: sampleRate, BlockSize: blockSize, NumChannels: 2}); err != nil {
			errs = append(errs, fmt.Errorf("network %s: %w", n.ID, err))
		}
	}
	res := e.fireNamed("prepareToPlay", value.Double(sampleRate), value.Int(blockSize))
	if errors.Is(res.Err, ErrCallbackNotDefined) {
		res.Err = nil
	}
	if res.Err == nil && len(errs) > 0 {
		res.Err = errors.Join(errs...)
	}
	return res
}

// ProcessBlock hands the channels to the processBlock callback as arrays
// of numbers and copies the result back. Without a processBlock callback
// the block is left untouched.
func (e *Engine) ProcessBlock(channels [][]float32) Result {
	inst, err := e.acquire()
	if err != nil {
		return Result{Err: err}
	}
	id, ok := inst.data.CallbackIndex("processBlock")
	if !ok || !inst.data.Callback(id).Defined {
		inst.run.Unlock()
		return Result{}
	}
	arg := channelsToValue(channels)
	res := e.runCallback(inst, id, []Value{arg})
	inst.run.Unlock()
	if res.Err == nil {
		valueToChannels(arg, channels)
	}
	return res
}

// ControlChanged runs onControl for a UI component change.
func (e *Engine) ControlChanged(component string, v float64) Result {
	return e.fireNamed("onControl", value.Str(component), value.Double(v))
}

// LastResult returns the result of the last compile or failed callback.
func (e *Engine) LastResult() Result {
	if r := e.last.Load(); r != nil {
		return *r
	}
	return Result{Err: ErrNoCompiledInstance}
}

// Debugger returns the breakpoint registry. Breakpoints only fire when
// DebugEnabled is set.
func (e *Engine) Debugger() *debugger.Debugger { return e.debug }

// Globals returns the Globals object shared by all compiled instances.
// Scripts may run concurrently with the caller; read it while no script
// executes, or treat the result as a snapshot.
func (e *Engine) Globals() *value.Object { return e.globals }

// Stats returns the access counters of the current instance.
func (e *Engine) Stats() interp.Counters {
	if inst := e.current.Load(); inst != nil && inst.in != nil {
		return inst.in.Stats().Snapshot()
	}
	return interp.Counters{}
}

// CheckCyclicReferences reports reference cycles reachable from the
// current instance's storage.
func (e *Engine) CheckCyclicReferences() ([]interp.CyclicReference, error) {
	inst, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer inst.run.Unlock()
	return inst.in.CheckCyclicReferences(), nil
}

// Generation returns the generation of the current instance, 0 if none.
func (e *Engine) Generation() uint64 {
	if inst := e.current.Load(); inst != nil {
		return inst.gen
	}
	return 0
}

// Network returns a network created by a script or attached by the host.
// Networks outlive recompilation.
func (e *Engine) Network(id string) (*scriptnode.Network, error) {
	e.netMu.Lock()
	defer e.netMu.Unlock()
	if n := e.networks[id]; n != nil {
		return n, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNetworkNotFound, id)
}

// Networks returns all networks ordered by id.
func (e *Engine) Networks() []*scriptnode.Network {
	e.netMu.Lock()
	defer e.netMu.Unlock()
	out := make([]*scriptnode.Network, 0, len(e.networks))
	for _, n := range e.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AttachNetwork makes n available to Engine.createDspNetwork under its
// id, replacing a network with the same id.
func (e *Engine) AttachNetwork(n *scriptnode.Network) {
	e.netMu.Lock()
	e.networks[n.ID] = n
	e.netMu.Unlock()
}

// network returns the network id, creating it on first use.
func (e *Engine) network(id string) *scriptnode.Network {
	e.netMu.Lock()
	defer e.netMu.Unlock()
	n := e.networks[id]
	if n == nil {
		n = scriptnode.NewNetwork(id, e.registry, e.host.NumVoices() > 1)
		e.networks[id] = n
	}
	return n
}

// LoadCompressed decompresses a blob produced by CompressScript and
// compiles it.
func (e *Engine) LoadCompressed(blob string) Result {
	src, err := DecompressScript(blob)
	if err != nil {
		return Result{Err: err}
	}
	return e.CompileScript(src)
}

// LoadFromStore loads script id through the configured loader and
// compiles it. Concurrent loads of the same id share one compile.
func (e *Engine) LoadFromStore(id string) Result {
	if e.loader == nil {
		return Result{Err: errors.New("script loader not set")}
	}
	v, err, _ := e.group.Do(id, func() (any, error) {
		src, err := e.loader.LoadScript(id)
		if err != nil {
			return nil, fmt.Errorf("loading script %s: %w", id, err)
		}
		return e.CompileScript(src), nil
	})
	if err != nil {
		return Result{Err: err}
	}
	return v.(Result)
}

// Close stops timers and the message loop. Suspended breakpoints are
// aborted.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	if inst := e.current.Load(); inst != nil {
		inst.dispose(e.loop)
	}
	e.cancel()
	<-e.done
	e.loop.Reset()
}
