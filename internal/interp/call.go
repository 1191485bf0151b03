package interp

import (
	"fmt"
	"log"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/parser"
	"github.com/cryguy/hisescript/internal/value"
)

// UserFunction is a script function bound to the scope it was created in.
type UserFunction struct {
	Def     *parser.FunctionDef
	Closure *Scope
}

// FunctionName implements value.Callable.
func (u *UserFunction) FunctionName() string {
	if u.Def.Name == "" {
		return "function"
	}
	return u.Def.Name
}

func (in *Interpreter) evalCall(n *parser.Call, f *frame) (value.Value, error) {
	if m, ok := n.Callee.(*parser.Member); ok {
		obj, err := in.eval(m.Object, f)
		if err != nil {
			return value.Undefined(), err
		}
		if obj.IsObject() {
			if fn, ok := obj.Object().Get(m.Name); ok && fn.IsFunction() {
				args, err := in.evalArgs(n.Args, f)
				if err != nil {
					return value.Undefined(), err
				}
				return in.callValue(fn, obj, args, n, f)
			}
		}
		args, err := in.evalArgs(n.Args, f)
		if err != nil {
			return value.Undefined(), err
		}
		if v, handled, err := in.callMethod(obj, m.Name, args, n, f); handled {
			return v, err
		}
		if obj.IsVoid() {
			return value.Undefined(), in.errorAt(f, n, core.TypeError, "cannot call %s of %s", m.Name, obj.TypeOf())
		}
		return value.Undefined(), in.errorAt(f, n, core.TypeError, "%s is not a function", parser.String(m))
	}

	fn, err := in.eval(n.Callee, f)
	if err != nil {
		return value.Undefined(), err
	}
	args, err := in.evalArgs(n.Args, f)
	if err != nil {
		return value.Undefined(), err
	}
	if !fn.IsFunction() {
		return value.Undefined(), in.errorAt(f, n, core.TypeError, "%s is not a function", parser.String(n.Callee))
	}
	return in.callValue(fn, value.Undefined(), args, n, f)
}

func (in *Interpreter) evalNew(n *parser.New, f *frame) (value.Value, error) {
	fn, err := in.eval(n.Callee, f)
	if err != nil {
		return value.Undefined(), err
	}
	args, err := in.evalArgs(n.Args, f)
	if err != nil {
		return value.Undefined(), err
	}
	if !fn.IsFunction() {
		return value.Undefined(), in.errorAt(f, n, core.TypeError, "%s is not a constructor", parser.String(n.Callee))
	}
	if _, native := fn.Callable().(*value.NativeFunction); native {
		return in.callValue(fn, value.Undefined(), args, n, f)
	}
	this := value.ObjectValue(value.NewObject())
	v, err := in.callValue(fn, this, args, n, f)
	if err != nil {
		return value.Undefined(), err
	}
	if v.IsObject() || v.IsArray() {
		return v, nil
	}
	return this, nil
}

// callValue dispatches a call on any function value. n may be nil for
// calls made by the host.
func (in *Interpreter) callValue(fn, this value.Value, args []value.Value, n parser.Node, f *frame) (value.Value, error) {
	if err := in.checkTimeout(f, n); err != nil {
		return value.Undefined(), err
	}
	switch c := fn.Callable().(type) {
	case *UserFunction:
		return in.callUser(c, this, args, n, f)
	case *parser.InlineFunction:
		if len(args) != len(c.Params) {
			return value.Undefined(), in.errorAt(f, n, core.TypeError,
				"%s: wrong number of arguments (expected %d, got %d)", c.FunctionName(), len(c.Params), len(args))
		}
		return in.callInline(c, args, n, f)
	case *value.NativeFunction:
		return in.callNative(c, this, args, n, f)
	case nil:
		return value.Undefined(), in.errorAt(f, n, core.TypeError, "value is not a function")
	default:
		return value.Undefined(), in.errorAt(f, n, core.TypeError, "%s can't be called from script", c.FunctionName())
	}
}

func (in *Interpreter) enter(n parser.Node, f *frame) error {
	in.depth++
	if in.depth > maxCallDepth {
		in.depth--
		return in.errorAt(f, n, core.RuntimeError, "stack overflow (call depth %d)", maxCallDepth)
	}
	return nil
}

func (in *Interpreter) callUser(fn *UserFunction, this value.Value, args []value.Value, n parser.Node, f *frame) (value.Value, error) {
	def := fn.Def
	if len(args) < len(def.Params) {
		if in.opts.StrictParameterCalls {
			return value.Undefined(), in.errorAt(f, n, core.TypeError,
				"%s: too few arguments (expected %d, got %d)", fn.FunctionName(), len(def.Params), len(args))
		}
		in.warn(f, n, "%s: too few arguments (expected %d, got %d)", fn.FunctionName(), len(def.Params), len(args))
	}
	if err := in.enter(n, f); err != nil {
		return value.Undefined(), err
	}
	defer func() { in.depth-- }()

	scope := &Scope{Vars: value.NewObject(), Parent: fn.Closure, This: this}
	for i, p := range def.Params {
		if i < len(args) {
			scope.Vars.Set(p, args[i])
		} else {
			scope.Vars.Set(p, value.Undefined())
		}
	}
	inner := &frame{scope: scope, snippet: def.Snippet}
	sig, err := in.performBlock(def.Body, inner)
	if err != nil {
		return value.Undefined(), err
	}
	if sig == sigReturn {
		return inner.ret, nil
	}
	return value.Undefined(), nil
}

// callInline runs an inline function with slot-allocated arguments and
// locals taken from the interpreter's free list.
func (in *Interpreter) callInline(fn *parser.InlineFunction, args []value.Value, n parser.Node, f *frame) (value.Value, error) {
	if err := in.checkTimeout(f, n); err != nil {
		return value.Undefined(), err
	}
	if err := in.enter(n, f); err != nil {
		return value.Undefined(), err
	}
	defer func() { in.depth-- }()

	locals := in.acquireSlots(len(fn.LocalNames))
	defer in.releaseSlots(locals)
	inner := &frame{scope: in.root, snippet: fn.Snippet, args: args, locals: locals, inline: fn}
	sig, err := in.performBlock(fn.Body, inner)
	if err != nil {
		return value.Undefined(), err
	}
	if sig == sigReturn {
		return inner.ret, nil
	}
	return value.Undefined(), nil
}

func (in *Interpreter) callNative(fn *value.NativeFunction, this value.Value, args []value.Value, n parser.Node, f *frame) (ret value.Value, err error) {
	if fn.NumArgs >= 0 && len(args) != fn.NumArgs {
		return value.Undefined(), in.errorAt(f, n, core.TypeError,
			"%s: wrong number of arguments (expected %d, got %d)", fn.Name, fn.NumArgs, len(args))
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("hisescript: recovered panic in native function %s: %v", fn.Name, r)
			ret, err = value.Undefined(), in.errorAt(f, n, core.RuntimeError, "%s", fmt.Sprint(r))
		}
	}()
	v, err := fn.Fn(this, args)
	return v, in.wrap(f, n, err)
}
