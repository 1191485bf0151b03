package interp

import (
	"errors"
	"strconv"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/lexer"
	"github.com/cryguy/hisescript/internal/parser"
	"github.com/cryguy/hisescript/internal/value"
)

func asTypeError(err error, target **value.TypeError) bool { return errors.As(err, target) }

func (in *Interpreter) eval(e parser.Expr, f *frame) (value.Value, error) {
	switch n := e.(type) {
	case *parser.Literal:
		return n.Value, nil

	case *parser.UnqualifiedName:
		return in.lookupName(n, f)

	case *parser.RegisterRef:
		in.stats.slotAccesses.Add(1)
		return n.NS.Registers.Get(n.Slot), nil

	case *parser.ConstRef:
		in.stats.slotAccesses.Add(1)
		return n.NS.Const(n.Slot), nil

	case *parser.GlobalRef:
		return in.global(n.Name), nil

	case *parser.CallbackParamRef:
		in.stats.slotAccesses.Add(1)
		if f.params == nil {
			return value.Undefined(), nil
		}
		return f.params[n.Slot], nil

	case *parser.LocalRef:
		in.stats.slotAccesses.Add(1)
		return f.locals[n.Slot], nil

	case *parser.InlineArgRef:
		in.stats.slotAccesses.Add(1)
		return f.args[n.Slot], nil

	case *parser.NamespaceRef:
		return value.ObjectValue(n.NS.Object), nil

	case *parser.ApiCall:
		return in.evalApiCall(n, f)

	case *parser.InlineCall:
		args, err := in.evalArgs(n.Args, f)
		if err != nil {
			return value.Undefined(), err
		}
		return in.callInline(n.Fn, args, n, f)

	case *parser.Member:
		obj, err := in.eval(n.Object, f)
		if err != nil {
			return value.Undefined(), err
		}
		return in.getMember(obj, n.Name, n, f)

	case *parser.Index:
		obj, err := in.eval(n.Object, f)
		if err != nil {
			return value.Undefined(), err
		}
		idx, err := in.eval(n.Index, f)
		if err != nil {
			return value.Undefined(), err
		}
		return in.getIndex(obj, idx, n, f)

	case *parser.Call:
		return in.evalCall(n, f)

	case *parser.New:
		return in.evalNew(n, f)

	case *parser.Binary:
		a, err := in.eval(n.L, f)
		if err != nil {
			return value.Undefined(), err
		}
		b, err := in.eval(n.R, f)
		if err != nil {
			return value.Undefined(), err
		}
		v, err := parser.BinaryOp(n.Op, a, b)
		return v, in.wrap(f, n, err)

	case *parser.Logical:
		a, err := in.eval(n.L, f)
		if err != nil {
			return value.Undefined(), err
		}
		if n.Op == lexer.LogicalAnd && !a.ToBool() {
			return value.Bool(false), nil
		}
		if n.Op == lexer.LogicalOr && a.ToBool() {
			return value.Bool(true), nil
		}
		b, err := in.eval(n.R, f)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Bool(b.ToBool()), nil

	case *parser.Unary:
		a, err := in.eval(n.X, f)
		if err != nil {
			return value.Undefined(), err
		}
		v, err := parser.UnaryOp(n.Op, a)
		return v, in.wrap(f, n, err)

	case *parser.Typeof:
		if name, ok := n.X.(*parser.UnqualifiedName); ok {
			if _, _, found := f.scope.lookup(name.Name); !found {
				if _, builtin := in.builtins[name.Name]; !builtin {
					return value.Str("undefined"), nil
				}
			}
		}
		a, err := in.eval(n.X, f)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Str(a.TypeOf()), nil

	case *parser.Assign:
		if n.Op == lexer.Assign {
			return in.assign(n.Target, f, func(value.Value) (value.Value, error) {
				return in.eval(n.Value, f)
			})
		}
		return in.assign(n.Target, f, func(old value.Value) (value.Value, error) {
			rhs, err := in.eval(n.Value, f)
			if err != nil {
				return value.Undefined(), err
			}
			v, err := parser.BinaryOp(n.Op, old, rhs)
			return v, in.wrap(f, n, err)
		})

	case *parser.IncDec:
		var before value.Value
		after, err := in.assign(n.Target, f, func(old value.Value) (value.Value, error) {
			before = old
			var v value.Value
			var err error
			if n.Inc {
				v, err = value.Add(old, value.Int(1))
			} else {
				v, err = value.Sub(old, value.Int(1))
			}
			return v, in.wrap(f, n, err)
		})
		if err != nil || n.Prefix {
			return after, err
		}
		return before, nil

	case *parser.Ternary:
		c, err := in.eval(n.Cond, f)
		if err != nil {
			return value.Undefined(), err
		}
		if c.ToBool() {
			return in.eval(n.Then, f)
		}
		return in.eval(n.Else, f)

	case *parser.ArrayLit:
		arr := value.NewArray(len(n.Elems))
		for _, el := range n.Elems {
			v, err := in.eval(el, f)
			if err != nil {
				return value.Undefined(), err
			}
			arr.Push(v)
		}
		return value.ArrayValue(arr), nil

	case *parser.ObjectLit:
		obj := value.NewObject()
		for i, k := range n.Keys {
			v, err := in.eval(n.Values[i], f)
			if err != nil {
				return value.Undefined(), err
			}
			obj.Set(k, v)
		}
		return value.ObjectValue(obj), nil

	case *parser.FuncLit:
		return value.FunctionValue(&UserFunction{Def: n.Fn, Closure: f.scope}), nil
	}
	return value.Undefined(), in.errorAt(f, e, core.RuntimeError, "cannot evaluate %T", e)
}

func (in *Interpreter) lookupName(n *parser.UnqualifiedName, f *frame) (value.Value, error) {
	in.stats.scopeLookups.Add(1)
	if n.Name == "this" {
		return f.scope.this(), nil
	}
	if v, _, ok := f.scope.lookup(n.Name); ok {
		return v, nil
	}
	if v, ok := in.builtins[n.Name]; ok {
		return v, nil
	}
	if n.Name == "Globals" {
		return value.ObjectValue(in.globals), nil
	}
	return value.Undefined(), in.errorAt(f, n, core.ReferenceError, "Unknown identifier %s", n.Name)
}

func (in *Interpreter) evalArgs(exprs []parser.Expr, f *frame) ([]value.Value, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	args := make([]value.Value, len(exprs))
	for i, a := range exprs {
		v, err := in.eval(a, f)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (in *Interpreter) evalApiCall(n *parser.ApiCall, f *frame) (value.Value, error) {
	var buf [4]value.Value
	args := buf[:0]
	for _, a := range n.Args {
		v, err := in.eval(a, f)
		if err != nil {
			return value.Undefined(), err
		}
		args = append(args, v)
	}
	if err := in.checkTimeout(f, n); err != nil {
		return value.Undefined(), err
	}
	in.stats.apiCalls.Add(1)
	fn := n.Class.Function(n.Slot)
	v, err := fn.Fn(args)
	return v, in.wrap(f, n, err)
}

// assign evaluates the target's reference, computes the new value from
// the old one and stores it. It returns the stored value.
func (in *Interpreter) assign(target parser.Expr, f *frame, compute func(old value.Value) (value.Value, error)) (value.Value, error) {
	switch t := target.(type) {
	case *parser.UnqualifiedName:
		in.stats.scopeLookups.Add(1)
		old, sc, found := f.scope.lookup(t.Name)
		if !found {
			// Only top-level code may create a variable by assigning it.
			if !f.topLevel(in.root) {
				return value.Undefined(), in.errorAt(f, t, core.ReferenceError, "Unknown identifier %s", t.Name)
			}
			sc = in.root
		}
		v, err := compute(old)
		if err != nil {
			return value.Undefined(), err
		}
		sc.Vars.Set(t.Name, v)
		return v, nil

	case *parser.RegisterRef:
		in.stats.slotAccesses.Add(1)
		v, err := compute(t.NS.Registers.Get(t.Slot))
		if err != nil {
			return value.Undefined(), err
		}
		t.NS.Registers.Set(t.Slot, v)
		return v, nil

	case *parser.GlobalRef:
		v, err := compute(in.global(t.Name))
		if err != nil {
			return value.Undefined(), err
		}
		in.setGlobal(t.Name, v)
		return v, nil

	case *parser.CallbackParamRef:
		in.stats.slotAccesses.Add(1)
		v, err := compute(f.params[t.Slot])
		if err != nil {
			return value.Undefined(), err
		}
		f.params[t.Slot] = v
		return v, nil

	case *parser.LocalRef:
		in.stats.slotAccesses.Add(1)
		v, err := compute(f.locals[t.Slot])
		if err != nil {
			return value.Undefined(), err
		}
		f.locals[t.Slot] = v
		return v, nil

	case *parser.InlineArgRef:
		in.stats.slotAccesses.Add(1)
		v, err := compute(f.args[t.Slot])
		if err != nil {
			return value.Undefined(), err
		}
		f.args[t.Slot] = v
		return v, nil

	case *parser.Member:
		obj, err := in.eval(t.Object, f)
		if err != nil {
			return value.Undefined(), err
		}
		old, err := in.getMember(obj, t.Name, t, f)
		if err != nil {
			return value.Undefined(), err
		}
		v, err := compute(old)
		if err != nil {
			return value.Undefined(), err
		}
		return v, in.setMember(obj, t.Name, v, t, f)

	case *parser.Index:
		obj, err := in.eval(t.Object, f)
		if err != nil {
			return value.Undefined(), err
		}
		idx, err := in.eval(t.Index, f)
		if err != nil {
			return value.Undefined(), err
		}
		old, err := in.getIndex(obj, idx, t, f)
		if err != nil {
			return value.Undefined(), err
		}
		v, err := compute(old)
		if err != nil {
			return value.Undefined(), err
		}
		return v, in.setIndex(obj, idx, v, t, f)

	case *parser.ConstRef:
		return value.Undefined(), in.errorAt(f, t, core.TypeError, "can't assign to const %s", t.Name)
	}
	return value.Undefined(), in.errorAt(f, target, core.TypeError, "invalid assignment target %s", parser.String(target))
}

func (in *Interpreter) getMember(obj value.Value, name string, n parser.Node, f *frame) (value.Value, error) {
	switch obj.Kind() {
	case value.KindObject:
		return obj.Object().GetOr(name), nil
	case value.KindArray:
		if name == "length" {
			return value.Int(obj.Array().Len()), nil
		}
	case value.KindString:
		if name == "length" {
			return value.Int(len([]rune(obj.String()))), nil
		}
	case value.KindUndefined, value.KindNull:
		return value.Undefined(), in.errorAt(f, n, core.TypeError, "cannot read property '%s' of %s", name, obj.TypeOf())
	}
	return value.Undefined(), nil
}

func (in *Interpreter) setMember(obj value.Value, name string, v value.Value, n parser.Node, f *frame) error {
	if obj.IsObject() {
		obj.Object().Set(name, v)
		return nil
	}
	return in.errorAt(f, n, core.TypeError, "cannot set property '%s' of %s", name, obj.TypeOf())
}

func (in *Interpreter) getIndex(obj, idx value.Value, n parser.Node, f *frame) (value.Value, error) {
	switch obj.Kind() {
	case value.KindArray:
		if !idx.IsNumeric() {
			return value.Undefined(), nil
		}
		return obj.Array().Get(idx.ToInt()), nil
	case value.KindObject:
		return obj.Object().GetOr(propertyKey(idx)), nil
	case value.KindString:
		r := []rune(obj.String())
		i := idx.ToInt()
		if i < 0 || i >= len(r) {
			return value.Undefined(), nil
		}
		return value.Str(string(r[i])), nil
	case value.KindUndefined, value.KindNull:
		return value.Undefined(), in.errorAt(f, n, core.TypeError, "cannot read index of %s", obj.TypeOf())
	}
	return value.Undefined(), nil
}

func (in *Interpreter) setIndex(obj, idx, v value.Value, n parser.Node, f *frame) error {
	switch obj.Kind() {
	case value.KindArray:
		i := idx.ToInt()
		if !idx.IsNumeric() || i < 0 {
			return in.errorAt(f, n, core.TypeError, "invalid array index %s", idx)
		}
		obj.Array().Set(i, v)
		return nil
	case value.KindObject:
		obj.Object().Set(propertyKey(idx), v)
		return nil
	}
	return in.errorAt(f, n, core.TypeError, "cannot set index of %s", obj.TypeOf())
}

func propertyKey(v value.Value) string {
	if v.IsInteger() {
		return strconv.FormatInt(v.ToInt64(), 10)
	}
	return v.String()
}
