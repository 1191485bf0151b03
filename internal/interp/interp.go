// Package interp is the tree-walking evaluator. An Interpreter is the
// explicit context of one compiled script instance: it owns the parsed
// program, the pre-resolved storage and the root scope, and is replaced
// as a whole on recompilation.
package interp

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/debugger"
	"github.com/cryguy/hisescript/internal/parser"
	"github.com/cryguy/hisescript/internal/value"
)

const maxCallDepth = 256

// Options configures an Interpreter.
type Options struct {
	// Globals is the object behind Globals.x, shared across instances.
	Globals *value.Object
	// GlobalsLock guards the Globals slots. Interpreters sharing Globals
	// from different goroutines must share the lock.
	GlobalsLock sync.Locker
	// Debugger enables breakpoints when non-nil.
	Debugger *debugger.Debugger
	// StrictParameterCalls rejects calls with too few arguments.
	StrictParameterCalls bool
	// Timeout bounds each top-level invocation. Zero disables the watchdog.
	Timeout time.Duration
	// Warn receives non-fatal diagnostics.
	Warn func(loc core.CodeLocation, msg string)
	// Context cancels suspended breakpoints.
	Context context.Context
}

// Counters is a snapshot of the instrumentation counters.
type Counters struct {
	ScopeLookups int64 `json:"scopeLookups"`
	SlotAccesses int64 `json:"slotAccesses"`
	ApiCalls     int64 `json:"apiCalls"`
}

// Stats counts how identifiers were accessed: dynamic scope lookups
// versus pre-resolved slot accesses.
type Stats struct {
	scopeLookups atomic.Int64
	slotAccesses atomic.Int64
	apiCalls     atomic.Int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Counters {
	return Counters{
		ScopeLookups: s.scopeLookups.Load(),
		SlotAccesses: s.slotAccesses.Load(),
		ApiCalls:     s.apiCalls.Load(),
	}
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.scopeLookups.Store(0)
	s.slotAccesses.Store(0)
	s.apiCalls.Store(0)
}

// Interpreter executes one compiled program.
type Interpreter struct {
	prog    *parser.Program
	data    *parser.SpecialData
	root    *Scope
	globals *value.Object
	opts    Options
	ctx     context.Context

	stats    Stats
	wd       watchdog
	depth    int
	active   int
	builtins map[string]value.Value
	slots    [][]value.Value
}

// New creates an interpreter for a parsed program.
func New(prog *parser.Program, data *parser.SpecialData, opts Options) *Interpreter {
	if opts.Globals == nil {
		opts.Globals = value.NewObject()
	}
	if opts.GlobalsLock == nil {
		opts.GlobalsLock = new(sync.Mutex)
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	in := &Interpreter{
		prog:    prog,
		data:    data,
		root:    &Scope{Vars: value.NewObject()},
		globals: opts.Globals,
		opts:    opts,
		ctx:     ctx,
	}
	in.builtins = newBuiltins(in)
	return in
}

// Data returns the storage the program was resolved against.
func (in *Interpreter) Data() *parser.SpecialData { return in.data }

// Program returns the parsed program.
func (in *Interpreter) Program() *parser.Program { return in.prog }

// Root returns the root scope object.
func (in *Interpreter) Root() *value.Object { return in.root.Vars }

// Globals returns the Globals object.
func (in *Interpreter) Globals() *value.Object { return in.globals }

func (in *Interpreter) global(name string) value.Value {
	in.opts.GlobalsLock.Lock()
	defer in.opts.GlobalsLock.Unlock()
	return in.globals.GetOr(name)
}

func (in *Interpreter) setGlobal(name string, v value.Value) {
	in.opts.GlobalsLock.Lock()
	in.globals.Set(name, v)
	in.opts.GlobalsLock.Unlock()
}

// Stats returns the instrumentation counters.
func (in *Interpreter) Stats() *Stats { return &in.stats }

// ExtendTimeout pushes the deadline of the running invocation out by d.
func (in *Interpreter) ExtendTimeout(d time.Duration) { in.wd.extend(d) }

// begin arms the watchdog for an outermost invocation.
func (in *Interpreter) begin() {
	if in.active == 0 {
		in.depth = 0
		in.wd.start(in.opts.Timeout)
	}
	in.active++
}

func (in *Interpreter) end() {
	in.active--
	if in.active == 0 {
		in.wd.stop()
	}
}

// guard converts panics from native code into script errors.
func (in *Interpreter) guard(err *error) {
	if r := recover(); r != nil {
		log.Printf("hisescript: recovered panic during script execution: %v", r)
		*err = core.NewScriptError(core.RuntimeError, core.CodeLocation{}, "internal error: %v", r)
	}
}

// RunProgram defines the program's functions and runs its top-level body.
func (in *Interpreter) RunProgram() (err error) {
	in.begin()
	defer in.end()
	defer in.guard(&err)

	f := &frame{scope: in.root, snippet: in.prog.Snippet}
	for _, fd := range in.prog.Functions {
		in.defineFunction(fd, f)
	}
	_, err = in.performBlock(in.prog.Body, f)
	return err
}

// RunCallback runs a callback slot. The host has already written the
// parameters into cb.Params.
func (in *Interpreter) RunCallback(cb *parser.Callback) (ret value.Value, err error) {
	if cb == nil || !cb.Defined {
		return value.Undefined(), core.ErrCallbackNotDefined
	}
	in.stats.slotAccesses.Add(1)
	in.begin()
	defer in.end()
	defer in.guard(&err)

	for i := range cb.Locals {
		cb.Locals[i] = value.Undefined()
	}
	f := &frame{scope: in.root, snippet: cb.Name, params: &cb.Params, locals: cb.Locals, callback: cb}
	sig, err := in.performBlock(cb.Body, f)
	if err != nil {
		return value.Undefined(), err
	}
	if sig == sigReturn {
		return f.ret, nil
	}
	return value.Undefined(), nil
}

// Call invokes a function value from the host (timer callbacks, holders).
func (in *Interpreter) Call(fn value.Value, this value.Value, args ...value.Value) (ret value.Value, err error) {
	in.begin()
	defer in.end()
	defer in.guard(&err)
	f := &frame{scope: in.root, snippet: in.prog.Snippet}
	return in.callValue(fn, this, args, nil, f)
}

// CallFunction calls a function defined in the root scope or, with a
// dotted name, in a namespace.
func (in *Interpreter) CallFunction(name string, args ...value.Value) (value.Value, error) {
	fn, ok := in.lookupFunction(name)
	if !ok {
		return value.Undefined(), core.NewScriptError(core.ReferenceError, core.CodeLocation{}, "function %s not found", name)
	}
	return in.Call(fn, value.Undefined(), args...)
}

func (in *Interpreter) lookupFunction(name string) (value.Value, bool) {
	if nsName, fnName, dotted := strings.Cut(name, "."); dotted {
		ns := in.data.Namespace(nsName)
		if ns == nil {
			return value.Undefined(), false
		}
		if inl := ns.Inline(fnName); inl != nil {
			return value.FunctionValue(inl), true
		}
		v, ok := ns.Object.Get(fnName)
		return v, ok && v.IsFunction()
	}
	if inl := in.data.Root.Inline(name); inl != nil {
		return value.FunctionValue(inl), true
	}
	v, ok := in.root.Vars.Get(name)
	return v, ok && v.IsFunction()
}

// Evaluate parses and evaluates a single expression against the current
// state. Declarations are not possible.
func (in *Interpreter) Evaluate(src string) (ret value.Value, err error) {
	e, err := parser.ParseExpression(src, "eval", in.data)
	if err != nil {
		return value.Undefined(), err
	}
	in.begin()
	defer in.end()
	defer in.guard(&err)
	return in.eval(e, &frame{scope: in.root, snippet: "eval"})
}

// errorAt builds a runtime error located at n.
func (in *Interpreter) errorAt(f *frame, n parser.Node, kind core.ErrorKind, format string, args ...any) *core.ScriptError {
	return core.NewScriptError(kind, f.location(n), format, args...)
}

// wrap attaches a location to errors coming from operators and natives.
func (in *Interpreter) wrap(f *frame, n parser.Node, err error) error {
	if err == nil {
		return nil
	}
	if se, ok := core.AsScriptError(err); ok {
		if !se.Location.IsValid() {
			se.Location = f.location(n)
		}
		return se
	}
	var te *value.TypeError
	if asTypeError(err, &te) {
		return in.errorAt(f, n, core.TypeError, "%s", te.Error())
	}
	se := in.errorAt(f, n, core.RuntimeError, "%s", err.Error())
	se.Err = err
	return se
}

func (in *Interpreter) checkTimeout(f *frame, n parser.Node) error {
	if in.wd.expired() {
		se := in.errorAt(f, n, core.TimeoutError, "execution timed out (limit: %v)", in.wd.limit())
		se.Err = core.ErrTimeout
		return se
	}
	return nil
}

func (in *Interpreter) warn(f *frame, n parser.Node, format string, args ...any) {
	if in.opts.Warn != nil {
		in.opts.Warn(f.location(n), fmt.Sprintf(format, args...))
	}
}

// acquireSlots returns a zeroed slot slice of length n from the free list.
func (in *Interpreter) acquireSlots(n int) []value.Value {
	if n == 0 {
		return nil
	}
	if k := len(in.slots); k > 0 {
		s := in.slots[k-1]
		in.slots = in.slots[:k-1]
		if cap(s) >= n {
			s = s[:n]
			for i := range s {
				s[i] = value.Undefined()
			}
			return s
		}
	}
	return make([]value.Value, n)
}

func (in *Interpreter) releaseSlots(s []value.Value) {
	if s != nil {
		in.slots = append(in.slots, s)
	}
}
