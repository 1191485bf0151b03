package interp

import (
	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/parser"
	"github.com/cryguy/hisescript/internal/value"
)

// Scope is one link of the dynamic scope chain. Only user functions open
// a new scope; callbacks and inline functions run against the root.
type Scope struct {
	Vars   *value.Object
	Parent *Scope
	This   value.Value
}

// lookup walks the chain and returns the value and the scope holding it.
func (s *Scope) lookup(name string) (value.Value, *Scope, bool) {
	for sc := s; sc != nil; sc = sc.Parent {
		if v, ok := sc.Vars.Get(name); ok {
			return v, sc, true
		}
	}
	return value.Undefined(), nil, false
}

func (s *Scope) this() value.Value {
	for sc := s; sc != nil; sc = sc.Parent {
		if !sc.This.IsUndefined() {
			return sc.This
		}
	}
	return value.Undefined()
}

type signal int

const (
	sigNormal signal = iota
	sigBreak
	sigContinue
	sigReturn
)

// frame is the activation record of a running body.
type frame struct {
	scope   *Scope
	snippet string
	args    []value.Value // inline arguments
	locals  []value.Value // callback or inline locals
	params  *[core.MaxCallbackParameters]value.Value
	ret     value.Value

	callback *parser.Callback
	inline   *parser.InlineFunction
	line     int // last line checked for a breakpoint
}

// topLevel reports whether f runs the program body outside any
// function, callback or inline function.
func (f *frame) topLevel(root *Scope) bool {
	return f.scope == root && f.callback == nil && f.inline == nil
}

// rearm makes the next statement check for a breakpoint even when it is
// on the line checked last. Loops call it once per iteration.
func (f *frame) rearm() { f.line = 0 }

func (f *frame) location(n parser.Node) core.CodeLocation {
	if n == nil {
		return core.CodeLocation{Snippet: f.snippet}
	}
	p := n.Position()
	return core.CodeLocation{Snippet: f.snippet, Line: p.Line, Column: p.Column, CharIndex: p.Offset}
}
