package interp

import (
	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/parser"
	"github.com/cryguy/hisescript/internal/value"
)

func (in *Interpreter) performBlock(b *parser.Block, f *frame) (signal, error) {
	if b == nil {
		return sigNormal, nil
	}
	for _, s := range b.Stmts {
		sig, err := in.perform(s, f)
		if err != nil || sig != sigNormal {
			return sig, err
		}
	}
	return sigNormal, nil
}

func (in *Interpreter) perform(s parser.Stmt, f *frame) (signal, error) {
	if s == nil {
		return sigNormal, nil
	}
	if b, ok := s.(*parser.Block); ok {
		return in.performBlock(b, f)
	}
	if line := s.Position().Line; line != f.line {
		f.line = line
		if in.opts.Debugger != nil {
			if err := in.checkBreakpoint(s, f); err != nil {
				return sigNormal, err
			}
		}
	}

	switch n := s.(type) {
	case *parser.ExprStmt:
		_, err := in.eval(n.X, f)
		return sigNormal, err

	case *parser.VarDecl:
		v, err := in.evalInit(n.Init, f)
		if err != nil {
			return sigNormal, err
		}
		in.stats.scopeLookups.Add(1)
		f.scope.Vars.Set(n.Name, v)

	case *parser.RegisterDecl:
		v, err := in.evalInit(n.Init, f)
		if err != nil {
			return sigNormal, err
		}
		in.stats.slotAccesses.Add(1)
		n.Ref.NS.Registers.Set(n.Ref.Slot, v)

	case *parser.ConstDecl:
		v, err := in.evalInit(n.Init, f)
		if err != nil {
			return sigNormal, err
		}
		in.stats.slotAccesses.Add(1)
		if err := n.Ref.NS.InitConst(n.Ref.Slot, v); err != nil {
			return sigNormal, in.errorAt(f, n, core.RuntimeError, "%s", err.Error())
		}

	case *parser.LocalDecl:
		v, err := in.evalInit(n.Init, f)
		if err != nil {
			return sigNormal, err
		}
		in.stats.slotAccesses.Add(1)
		f.locals[n.Ref.Slot] = v

	case *parser.GlobalDecl:
		v, err := in.evalInit(n.Init, f)
		if err != nil {
			return sigNormal, err
		}
		in.setGlobal(n.Ref.Name, v)

	case *parser.If:
		c, err := in.eval(n.Cond, f)
		if err != nil {
			return sigNormal, err
		}
		if c.ToBool() {
			return in.perform(n.Then, f)
		}
		return in.perform(n.Else, f)

	case *parser.While:
		for {
			f.rearm()
			if err := in.checkTimeout(f, n); err != nil {
				return sigNormal, err
			}
			c, err := in.eval(n.Cond, f)
			if err != nil {
				return sigNormal, err
			}
			if !c.ToBool() {
				return sigNormal, nil
			}
			sig, err := in.perform(n.Body, f)
			if stop, rs, err := loopControl(sig, err); stop {
				return rs, err
			}
		}

	case *parser.DoWhile:
		for {
			f.rearm()
			if err := in.checkTimeout(f, n); err != nil {
				return sigNormal, err
			}
			sig, err := in.perform(n.Body, f)
			if stop, rs, err := loopControl(sig, err); stop {
				return rs, err
			}
			c, err := in.eval(n.Cond, f)
			if err != nil {
				return sigNormal, err
			}
			if !c.ToBool() {
				return sigNormal, nil
			}
		}

	case *parser.For:
		if _, err := in.perform(n.Init, f); err != nil {
			return sigNormal, err
		}
		for {
			f.rearm()
			if err := in.checkTimeout(f, n); err != nil {
				return sigNormal, err
			}
			if n.Cond != nil {
				c, err := in.eval(n.Cond, f)
				if err != nil {
					return sigNormal, err
				}
				if !c.ToBool() {
					return sigNormal, nil
				}
			}
			sig, err := in.perform(n.Body, f)
			if stop, rs, err := loopControl(sig, err); stop {
				return rs, err
			}
			if n.Step != nil {
				if _, err := in.eval(n.Step, f); err != nil {
					return sigNormal, err
				}
			}
		}

	case *parser.ForIn:
		return in.performForIn(n, f)

	case *parser.Switch:
		return in.performSwitch(n, f)

	case *parser.Break:
		return sigBreak, nil

	case *parser.Continue:
		return sigContinue, nil

	case *parser.Return:
		v, err := in.evalInit(n.X, f)
		if err != nil {
			return sigNormal, err
		}
		f.ret = v
		return sigReturn, nil

	case *parser.FunctionDecl:
		in.defineFunction(n, f)

	case *parser.Empty:
	}
	return sigNormal, nil
}

// loopControl maps a body's signal to the enclosing loop's reaction.
func loopControl(sig signal, err error) (stop bool, out signal, _ error) {
	if err != nil {
		return true, sigNormal, err
	}
	switch sig {
	case sigBreak:
		return true, sigNormal, nil
	case sigReturn:
		return true, sigReturn, nil
	}
	return false, sigNormal, nil
}

func (in *Interpreter) evalInit(e parser.Expr, f *frame) (value.Value, error) {
	if e == nil {
		return value.Undefined(), nil
	}
	return in.eval(e, f)
}

func (in *Interpreter) defineFunction(fd *parser.FunctionDecl, f *frame) {
	fn := value.FunctionValue(&UserFunction{Def: fd.Fn, Closure: f.scope})
	if fd.NS != nil {
		fd.NS.Object.Set(fd.Fn.Name, fn)
		return
	}
	f.scope.Vars.Set(fd.Fn.Name, fn)
}

func (in *Interpreter) performForIn(n *parser.ForIn, f *frame) (signal, error) {
	if n.Decl != nil {
		if _, err := in.perform(n.Decl, f); err != nil {
			return sigNormal, err
		}
	}
	obj, err := in.eval(n.Object, f)
	if err != nil {
		return sigNormal, err
	}
	// An undeclared loop variable lives in the enclosing scope.
	if t, ok := n.Target.(*parser.UnqualifiedName); ok {
		if _, _, found := f.scope.lookup(t.Name); !found {
			f.scope.Vars.Set(t.Name, value.Undefined())
		}
	}

	step := func(v value.Value) (bool, signal, error) {
		f.rearm()
		if err := in.checkTimeout(f, n); err != nil {
			return true, sigNormal, err
		}
		if _, err := in.assign(n.Target, f, func(value.Value) (value.Value, error) { return v, nil }); err != nil {
			return true, sigNormal, err
		}
		sig, err := in.perform(n.Body, f)
		return loopControl(sig, err)
	}

	switch obj.Kind() {
	case value.KindArray:
		arr := obj.Array()
		for i := 0; i < arr.Len(); i++ {
			if stop, sig, err := step(arr.Get(i)); stop {
				return sig, err
			}
		}
	case value.KindObject:
		keys := append([]string(nil), obj.Object().Keys()...)
		for _, k := range keys {
			if stop, sig, err := step(value.Str(k)); stop {
				return sig, err
			}
		}
	case value.KindString:
		for _, r := range obj.String() {
			if stop, sig, err := step(value.Str(string(r))); stop {
				return sig, err
			}
		}
	case value.KindUndefined, value.KindNull:
	default:
		return sigNormal, in.errorAt(f, n.Object, core.TypeError, "%s is not iterable", parser.String(n.Object))
	}
	return sigNormal, nil
}

func (in *Interpreter) performSwitch(n *parser.Switch, f *frame) (signal, error) {
	tag, err := in.eval(n.Tag, f)
	if err != nil {
		return sigNormal, err
	}
	start, def := -1, -1
	for i, c := range n.Cases {
		if c.Default {
			def = i
			continue
		}
		for _, ce := range c.Values {
			v, err := in.eval(ce, f)
			if err != nil {
				return sigNormal, err
			}
			if value.LooseEquals(tag, v) {
				start = i
				break
			}
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		start = def
	}
	if start < 0 {
		return sigNormal, nil
	}
	for _, c := range n.Cases[start:] {
		for _, s := range c.Body {
			sig, err := in.perform(s, f)
			if err != nil {
				return sigNormal, err
			}
			switch sig {
			case sigBreak:
				return sigNormal, nil
			case sigContinue, sigReturn:
				return sig, nil
			}
		}
	}
	return sigNormal, nil
}

// checkBreakpoint suspends execution when a breakpoint is set on the
// statement's line. The watchdog is paused while suspended.
func (in *Interpreter) checkBreakpoint(s parser.Stmt, f *frame) error {
	line := s.Position().Line
	if _, ok := in.opts.Debugger.Lookup(f.snippet, line); !ok {
		return nil
	}
	in.wd.pause()
	err := in.opts.Debugger.Hit(in.ctx, f.snippet, line, in.snapshot(f))
	in.wd.resume()
	if err != nil {
		se := in.errorAt(f, s, core.BreakpointAbort, "execution aborted at breakpoint")
		se.Err = err
		return se
	}
	return nil
}

// snapshot collects the variables visible from f, innermost first.
func (in *Interpreter) snapshot(f *frame) map[string]value.Value {
	out := make(map[string]value.Value)
	put := func(name string, v value.Value) {
		if _, ok := out[name]; !ok {
			out[name] = v
		}
	}
	switch {
	case f.inline != nil:
		for i, name := range f.inline.LocalNames {
			put(name, f.locals[i])
		}
		for i, name := range f.inline.Params {
			put(name, f.args[i])
		}
	case f.callback != nil:
		for i, name := range f.callback.LocalNames {
			put(name, f.locals[i])
		}
		for i, name := range f.callback.ParamNames {
			put(name, f.params[i])
		}
	}
	for sc := f.scope; sc != nil && sc != in.root; sc = sc.Parent {
		for _, k := range sc.Vars.Keys() {
			put(k, sc.Vars.GetOr(k))
		}
	}
	if f.scope == in.root && f.inline == nil && f.callback == nil {
		for _, k := range in.root.Vars.Keys() {
			put(k, in.root.Vars.GetOr(k))
		}
	}
	return out
}
