package parser

import (
	"github.com/cryguy/hisescript/internal/lexer"
	"github.com/cryguy/hisescript/internal/value"
)

// OptimizationPass rewrites a parsed body. Passes run once after parsing
// over every callback and inline function body.
type OptimizationPass interface {
	Name() string
	Apply(b *Block) *Block
}

// Built-in pass names.
const (
	PassConstantFolding     = "ConstantFolding"
	PassDeadCodeElimination = "DeadCodeElimination"
	PassBlockFlattening     = "BlockFlattening"
)

// DefaultPasses returns all built-in passes in their canonical order.
func DefaultPasses() []OptimizationPass {
	return []OptimizationPass{ConstantFolding{}, DeadCodeElimination{}, BlockFlattening{}}
}

// PassesByName resolves pass names. nil selects DefaultPasses; unknown
// names are reported in the second result.
func PassesByName(names []string) ([]OptimizationPass, []string) {
	if names == nil {
		return DefaultPasses(), nil
	}
	var out []OptimizationPass
	var unknown []string
	for _, n := range names {
		switch n {
		case PassConstantFolding:
			out = append(out, ConstantFolding{})
		case PassDeadCodeElimination:
			out = append(out, DeadCodeElimination{})
		case PassBlockFlattening:
			out = append(out, BlockFlattening{})
		default:
			unknown = append(unknown, n)
		}
	}
	return out, unknown
}

// rewriter walks statements and expressions bottom-up, replacing each
// node with the result of the callbacks.
type rewriter struct {
	expr func(Expr) Expr
	stmt func(Stmt) Stmt
}

func (r rewriter) e(x Expr) Expr {
	if x == nil {
		return nil
	}
	switch n := x.(type) {
	case *ApiCall:
		r.list(n.Args)
	case *InlineCall:
		r.list(n.Args)
	case *Member:
		n.Object = r.e(n.Object)
	case *Index:
		n.Object, n.Index = r.e(n.Object), r.e(n.Index)
	case *Call:
		n.Callee = r.e(n.Callee)
		r.list(n.Args)
	case *New:
		r.list(n.Args)
	case *Binary:
		n.L, n.R = r.e(n.L), r.e(n.R)
	case *Logical:
		n.L, n.R = r.e(n.L), r.e(n.R)
	case *Unary:
		n.X = r.e(n.X)
	case *Typeof:
		n.X = r.e(n.X)
	case *Assign:
		n.Value = r.e(n.Value)
		if _, ok := n.Target.(*Member); ok {
			n.Target = r.e(n.Target)
		} else if _, ok := n.Target.(*Index); ok {
			n.Target = r.e(n.Target)
		}
	case *Ternary:
		n.Cond, n.Then, n.Else = r.e(n.Cond), r.e(n.Then), r.e(n.Else)
	case *ArrayLit:
		r.list(n.Elems)
	case *ObjectLit:
		r.list(n.Values)
	case *IncDec:
		return x
	}
	if r.expr != nil {
		return r.expr(x)
	}
	return x
}

func (r rewriter) list(xs []Expr) {
	for i := range xs {
		xs[i] = r.e(xs[i])
	}
}

func (r rewriter) s(x Stmt) Stmt {
	if x == nil {
		return nil
	}
	switch n := x.(type) {
	case *Block:
		for i := range n.Stmts {
			n.Stmts[i] = r.s(n.Stmts[i])
		}
	case *ExprStmt:
		n.X = r.e(n.X)
	case *VarDecl:
		n.Init = r.e(n.Init)
	case *RegisterDecl:
		n.Init = r.e(n.Init)
	case *ConstDecl:
		n.Init = r.e(n.Init)
	case *LocalDecl:
		n.Init = r.e(n.Init)
	case *GlobalDecl:
		n.Init = r.e(n.Init)
	case *If:
		n.Cond, n.Then, n.Else = r.e(n.Cond), r.s(n.Then), r.s(n.Else)
	case *For:
		n.Init, n.Cond, n.Step, n.Body = r.s(n.Init), r.e(n.Cond), r.e(n.Step), r.s(n.Body)
	case *ForIn:
		n.Object, n.Body = r.e(n.Object), r.s(n.Body)
	case *While:
		n.Cond, n.Body = r.e(n.Cond), r.s(n.Body)
	case *DoWhile:
		n.Body, n.Cond = r.s(n.Body), r.e(n.Cond)
	case *Switch:
		n.Tag = r.e(n.Tag)
		for _, c := range n.Cases {
			r.list(c.Values)
			for i := range c.Body {
				c.Body[i] = r.s(c.Body[i])
			}
		}
	case *Return:
		n.X = r.e(n.X)
	}
	if r.stmt != nil {
		return r.stmt(x)
	}
	return x
}

func (r rewriter) block(b *Block) *Block {
	out := r.s(b)
	if nb, ok := out.(*Block); ok {
		return nb
	}
	return &Block{node: b.node, Stmts: []Stmt{out}}
}

// pureMath lists the Math functions without side effects.
var pureMath = map[string]bool{
	"abs": true, "sin": true, "cos": true, "tan": true, "asin": true, "acos": true,
	"atan": true, "atan2": true, "sinh": true, "cosh": true, "tanh": true,
	"pow": true, "sqrt": true, "exp": true, "log": true, "log10": true,
	"floor": true, "ceil": true, "round": true, "min": true, "max": true,
	"range": true, "sign": true, "fmod": true, "sqr": true,
}

func isLiteral(e Expr) (value.Value, bool) {
	if lit, ok := e.(*Literal); ok && !lit.Value.IsReference() {
		return lit.Value, true
	}
	return value.Undefined(), false
}

// foldExpr folds a single node whose operands are already literals.
func foldExpr(e Expr) Expr {
	switch n := e.(type) {
	case *Binary:
		a, ok1 := isLiteral(n.L)
		b, ok2 := isLiteral(n.R)
		if ok1 && ok2 {
			if v, err := BinaryOp(n.Op, a, b); err == nil {
				return &Literal{n.node, v}
			}
		}
	case *Logical:
		a, ok1 := isLiteral(n.L)
		b, ok2 := isLiteral(n.R)
		if ok1 && ok2 {
			if n.Op == lexer.LogicalAnd {
				return &Literal{n.node, value.Bool(a.ToBool() && b.ToBool())}
			}
			return &Literal{n.node, value.Bool(a.ToBool() || b.ToBool())}
		}
	case *Unary:
		if a, ok := isLiteral(n.X); ok {
			if v, err := UnaryOp(n.Op, a); err == nil {
				return &Literal{n.node, v}
			}
		}
	case *Typeof:
		if a, ok := isLiteral(n.X); ok {
			return &Literal{n.node, value.Str(a.TypeOf())}
		}
	case *Ternary:
		if c, ok := isLiteral(n.Cond); ok {
			if c.ToBool() {
				return n.Then
			}
			return n.Else
		}
	case *ConstRef:
		if c := &n.NS.consts[n.Slot]; c.hasFolded {
			return &Literal{n.node, c.folded}
		}
	case *ApiCall:
		fn := n.Class.Function(n.Slot)
		if n.Class.Name != "Math" || !pureMath[fn.Name] {
			return e
		}
		args := make([]value.Value, len(n.Args))
		for i, a := range n.Args {
			v, ok := isLiteral(a)
			if !ok {
				return e
			}
			args[i] = v
		}
		if v, err := fn.Fn(args); err == nil {
			return &Literal{n.node, v}
		}
	}
	return e
}

// ConstantFolding evaluates operators, pure Math calls and const
// references whose operands are known at compile time.
type ConstantFolding struct{}

func (ConstantFolding) Name() string { return PassConstantFolding }

func (ConstantFolding) Apply(b *Block) *Block {
	return rewriter{expr: foldExpr}.block(b)
}

// DeadCodeElimination removes branches with constant conditions, loops
// that never run and statements after an unconditional jump.
type DeadCodeElimination struct{}

func (DeadCodeElimination) Name() string { return PassDeadCodeElimination }

func (DeadCodeElimination) Apply(b *Block) *Block {
	return rewriter{stmt: eliminate}.block(b)
}

func eliminate(s Stmt) Stmt {
	switch n := s.(type) {
	case *If:
		c, ok := isLiteral(n.Cond)
		if !ok {
			return s
		}
		if c.ToBool() {
			return n.Then
		}
		if n.Else != nil {
			return n.Else
		}
		return &Empty{n.node}
	case *While:
		if c, ok := isLiteral(n.Cond); ok && !c.ToBool() {
			return &Empty{n.node}
		}
	case *For:
		if n.Cond == nil {
			return s
		}
		if c, ok := isLiteral(n.Cond); ok && !c.ToBool() {
			if n.Init != nil {
				return n.Init
			}
			return &Empty{n.node}
		}
	case *Block:
		out := n.Stmts[:0]
		for _, st := range n.Stmts {
			if _, empty := st.(*Empty); empty {
				continue
			}
			out = append(out, st)
			if isJump(st) {
				break
			}
		}
		n.Stmts = out
	case *Switch:
		for _, c := range n.Cases {
			for i, st := range c.Body {
				if isJump(st) {
					c.Body = c.Body[:i+1]
					break
				}
			}
		}
	}
	return s
}

func isJump(s Stmt) bool {
	switch s.(type) {
	case *Return, *Break, *Continue:
		return true
	}
	return false
}

// BlockFlattening splices nested blocks into their parent. Blocks do not
// open a scope, so this never changes name resolution.
type BlockFlattening struct{}

func (BlockFlattening) Name() string { return PassBlockFlattening }

func (BlockFlattening) Apply(b *Block) *Block {
	return rewriter{stmt: flatten}.block(b)
}

func flatten(s Stmt) Stmt {
	n, ok := s.(*Block)
	if !ok {
		return s
	}
	var out []Stmt
	for _, st := range n.Stmts {
		if inner, ok := st.(*Block); ok {
			out = append(out, inner.Stmts...)
			continue
		}
		out = append(out, st)
	}
	n.Stmts = out
	return n
}
