// Package parser builds the AST for a script snippet and binds identifiers
// to their storage class at parse time: registers, consts, globals,
// callback parameters, inline function slots and native API calls are
// resolved to dedicated nodes so the interpreter can address them
// directly. Everything else becomes an UnqualifiedName looked up through
// the scope chain at runtime.
package parser

import (
	"fmt"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/lexer"
	"github.com/cryguy/hisescript/internal/value"
)

// Options controls a parse.
type Options struct {
	// AllowConst permits const declarations. Evaluate and partial
	// executes disable it.
	AllowConst bool
	// Passes run over every callback and inline function body.
	Passes []OptimizationPass
}

type ctxKind int

const (
	ctxTop ctxKind = iota
	ctxCallback
	ctxInline
	ctxFunction
)

// fnContext tracks the function being parsed.
type fnContext struct {
	kind     ctxKind
	callback *Callback
	inline   *InlineFunction
	// names declared dynamically (params and vars of user functions)
	dynamic map[string]bool
	parent  *fnContext
	snippet string

	loops    int
	switches int
}

type parser struct {
	toks    []lexer.Token
	pos     int
	src     string
	snippet string
	data    *SpecialData
	opts    Options

	ns        *Namespace
	ctx       *fnContext
	declLevel bool // directly inside the program or a namespace body
	program   *Program
}

// Parse parses a snippet into a Program, registering its declarations in
// data. Callback bodies are stored in data's callback slots.
func Parse(src, snippet string, data *SpecialData, opts Options) (*Program, error) {
	toks, err := lexer.Tokenize(src, snippet)
	if err != nil {
		return nil, err
	}
	p := newParser(toks, src, snippet, data, opts)
	if err := p.prescan(); err != nil {
		return nil, err
	}
	prog, err := p.parseProgram()
	if err != nil {
		return nil, err
	}
	for _, pass := range opts.Passes {
		for _, cb := range data.callbacks {
			if cb.Defined && cb.Body != nil {
				cb.Body = pass.Apply(cb.Body)
			}
		}
		for _, ns := range data.Namespaces() {
			for _, fn := range ns.inlines {
				if fn.Body != nil {
					fn.Body = pass.Apply(fn.Body)
				}
			}
		}
	}
	return prog, nil
}

// ParseExpression parses a single expression against existing storage
// without declaring anything. A trailing semicolon is accepted.
func ParseExpression(src, snippet string, data *SpecialData) (Expr, error) {
	toks, err := lexer.Tokenize(src, snippet)
	if err != nil {
		return nil, err
	}
	p := newParser(toks, src, snippet, data, Options{})
	e, err := p.expression()
	if err != nil {
		return nil, err
	}
	p.match(lexer.Semicolon)
	if !p.check(lexer.EOF) {
		return nil, p.unexpected()
	}
	return e, nil
}

func newParser(toks []lexer.Token, src, snippet string, data *SpecialData, opts Options) *parser {
	return &parser{
		toks:      toks,
		src:       src,
		snippet:   snippet,
		data:      data,
		opts:      opts,
		ns:        data.Root,
		ctx:       &fnContext{kind: ctxTop, snippet: snippet},
		declLevel: true,
	}
}

// ---- token helpers ----

func (p *parser) peek() lexer.Token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) previous() lexer.Token { return p.toks[p.pos-1] }

func (p *parser) check(t lexer.TokenType) bool { return p.peek().Type == t }

func (p *parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if t.Type != lexer.EOF {
		p.pos++
	}
	return t
}

func (p *parser) match(types ...lexer.TokenType) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *parser) expect(t lexer.TokenType) (lexer.Token, error) {
	if p.check(t) {
		return p.advance(), nil
	}
	return p.peek(), p.errorf(p.peek(), "expected %q, found %s", t.String(), p.peek())
}

func (p *parser) expectIdent() (string, lexer.Token, error) {
	tok, err := p.expect(lexer.Identifier)
	if err != nil {
		return "", tok, err
	}
	return tok.Lexeme, tok, nil
}

func (p *parser) errorf(tok lexer.Token, format string, args ...any) error {
	loc := core.CodeLocation{Snippet: p.ctx.snippet, Line: tok.Line, Column: tok.Column, CharIndex: tok.Offset}
	return core.NewScriptError(core.SyntaxError, loc, format, args...).WithSource(p.src)
}

func (p *parser) unexpected() error {
	return p.errorf(p.peek(), "unexpected %s", p.peek())
}

// endStatement consumes a semicolon. It may be omitted before a closing
// brace, at the end of input or at a line break.
func (p *parser) endStatement() error {
	if p.match(lexer.Semicolon) {
		return nil
	}
	if p.check(lexer.RBrace) || p.check(lexer.EOF) {
		return nil
	}
	if p.pos > 0 && p.peek().Line > p.previous().Line {
		return nil
	}
	return p.errorf(p.peek(), "expected \";\", found %s", p.peek())
}

// ---- prescan ----

// prescan registers every top-level and namespace-level declaration
// before parsing so resolution does not depend on declaration order and
// conflicting declarations are rejected in any order.
func (p *parser) prescan() error {
	depth := 0
	type nsFrame struct {
		ns    *Namespace
		depth int
	}
	var stack []nsFrame
	cur := p.data.Root
	declDepth := 0

	for i := 0; i < len(p.toks); i++ {
		t := p.toks[i]
		next := func(n int) lexer.Token {
			if i+n < len(p.toks) {
				return p.toks[i+n]
			}
			return p.toks[len(p.toks)-1]
		}
		switch t.Type {
		case lexer.LBrace:
			depth++
			continue
		case lexer.RBrace:
			depth--
			if len(stack) > 0 && depth == stack[len(stack)-1].depth-1 {
				stack = stack[:len(stack)-1]
				cur, declDepth = p.data.Root, 0
				if len(stack) > 0 {
					cur, declDepth = stack[len(stack)-1].ns, stack[len(stack)-1].depth
				}
			}
			continue
		}
		if depth != declDepth {
			continue
		}
		var err error
		switch t.Type {
		case lexer.Namespace:
			if next(1).Type == lexer.Identifier && next(2).Type == lexer.LBrace {
				if cur != p.data.Root {
					return p.errorf(t, "namespaces can't be nested")
				}
				name := next(1).Lexeme
				if p.data.ApiClass(name) != nil || p.data.Root.storageOf(name) != storageNone {
					return p.errorf(next(1), "%s", existingDefinition(name))
				}
				cur = p.data.namespaceFor(name)
				declDepth = depth + 1
				stack = append(stack, nsFrame{ns: cur, depth: declDepth})
			}
		case lexer.Reg:
			err = p.prescanList(i+1, func(name string) error { return p.data.declare(cur, name, storageRegister) })
		case lexer.Const:
			if !p.opts.AllowConst {
				return p.errorf(t, "const declarations are not allowed here")
			}
			j := i + 1
			if p.toks[j].Type == lexer.Var {
				j++
			}
			if p.toks[j].Type == lexer.Identifier {
				err = p.data.declare(cur, p.toks[j].Lexeme, storageConst)
				if err != nil {
					return p.errorf(p.toks[j], "%v", err)
				}
			}
		case lexer.Global:
			err = p.prescanList(i+1, func(name string) error { return p.data.declare(p.data.Root, name, storageGlobal) })
		case lexer.Inline:
			if next(1).Type == lexer.Function && next(2).Type == lexer.Identifier {
				nameTok := next(2)
				if err := p.data.declare(cur, nameTok.Lexeme, storageInline); err != nil {
					return p.errorf(nameTok, "%v", err)
				}
				fn := cur.inlines[nameTok.Lexeme]
				fn.P = posOf(nameTok)
				fn.Snippet = p.snippet
				for j := i + 3; j < len(p.toks) && p.toks[j].Type != lexer.RParen; j++ {
					if p.toks[j].Type == lexer.Identifier {
						fn.Params = append(fn.Params, p.toks[j].Lexeme)
					}
				}
			}
		case lexer.Function:
			if cur != p.data.Root && next(1).Type == lexer.Identifier && (i == 0 || p.toks[i-1].Type != lexer.Inline) {
				if err := p.data.declare(cur, next(1).Lexeme, storageFunction); err != nil {
					return p.errorf(next(1), "%v", err)
				}
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// prescanList declares each name of "a = 1, b, c = 2" starting at i. Only
// commas at nesting level zero separate declarators.
func (p *parser) prescanList(i int, declare func(string) error) error {
	expectName := true
	nest := 0
	for ; i < len(p.toks); i++ {
		t := p.toks[i]
		switch t.Type {
		case lexer.LParen, lexer.LBracket, lexer.LBrace:
			nest++
		case lexer.RParen, lexer.RBracket, lexer.RBrace:
			if nest == 0 {
				return nil
			}
			nest--
		case lexer.Semicolon, lexer.EOF:
			if nest == 0 {
				return nil
			}
		case lexer.Comma:
			if nest == 0 {
				expectName = true
				continue
			}
		case lexer.Identifier:
			if expectName && nest == 0 {
				if err := declare(t.Lexeme); err != nil {
					return p.errorf(t, "%v", err)
				}
			}
		}
		expectName = false
	}
	return nil
}

// ---- statements ----

func (p *parser) parseProgram() (*Program, error) {
	p.program = &Program{Snippet: p.snippet}
	body := &Block{node: node{P: Pos{Line: 1, Column: 1}}}
	for !p.check(lexer.EOF) {
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		if fd, ok := s.(*FunctionDecl); ok && fd.NS == nil {
			p.program.Functions = append(p.program.Functions, fd)
			continue
		}
		body.Stmts = append(body.Stmts, s)
	}
	p.program.Body = body
	return p.program, nil
}

func (p *parser) statement() (Stmt, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.LBrace:
		return p.block()
	case lexer.Semicolon:
		p.advance()
		return &Empty{node{posOf(tok)}}, nil
	case lexer.Var:
		return p.varStatement()
	case lexer.Const:
		return p.constStatement()
	case lexer.Reg:
		return p.regStatement()
	case lexer.Local:
		return p.localStatement()
	case lexer.Global:
		return p.globalStatement()
	case lexer.Inline:
		return p.inlineFunction()
	case lexer.Function:
		if p.peekAt(1).Type == lexer.Identifier {
			return p.functionDeclaration()
		}
	case lexer.Namespace:
		return p.namespaceStatement()
	case lexer.If:
		return p.ifStatement()
	case lexer.For:
		return p.forStatement()
	case lexer.While:
		return p.whileStatement()
	case lexer.Do:
		return p.doStatement()
	case lexer.Switch:
		return p.switchStatement()
	case lexer.Break:
		p.advance()
		if p.ctx.loops == 0 && p.ctx.switches == 0 {
			return nil, p.errorf(tok, "break outside of a loop or switch")
		}
		return &Break{node{posOf(tok)}}, p.endStatement()
	case lexer.Continue:
		p.advance()
		if p.ctx.loops == 0 {
			return nil, p.errorf(tok, "continue outside of a loop")
		}
		return &Continue{node{posOf(tok)}}, p.endStatement()
	case lexer.Return:
		return p.returnStatement()
	}
	e, err := p.expression()
	if err != nil {
		return nil, err
	}
	return &ExprStmt{node{posOf(tok)}, e}, p.endStatement()
}

// nested parses a statement that is not at declaration level.
func (p *parser) nested() (Stmt, error) {
	saved := p.declLevel
	p.declLevel = false
	defer func() { p.declLevel = saved }()
	return p.statement()
}

func (p *parser) block() (*Block, error) {
	open, err := p.expect(lexer.LBrace)
	if err != nil {
		return nil, err
	}
	saved := p.declLevel
	p.declLevel = false
	defer func() { p.declLevel = saved }()
	b := &Block{node: node{posOf(open)}}
	for !p.check(lexer.RBrace) {
		if p.check(lexer.EOF) {
			return nil, p.errorf(p.peek(), "expected \"}\", found end of input")
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	p.advance()
	return b, nil
}

// storageConflict fails when name already lives in a storage class of the
// current namespace (or is a global).
func (p *parser) storageConflict(tok lexer.Token, name string) error {
	if p.ns.storageOf(name) != storageNone || (p.ns == p.data.Root && p.data.globalNames[name]) {
		return p.errorf(tok, "%s", existingDefinition(name))
	}
	return nil
}

// declarators parses "name [= init] {, name [= init]}".
func (p *parser) declarators(each func(tok lexer.Token, name string, init Expr) (Stmt, error)) (Stmt, error) {
	start := p.previous()
	var out []Stmt
	for {
		name, tok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		var init Expr
		if p.match(lexer.Assign) {
			if init, err = p.assignment(); err != nil {
				return nil, err
			}
		}
		s, err := each(tok, name, init)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if !p.match(lexer.Comma) {
			break
		}
	}
	if err := p.endStatement(); err != nil {
		return nil, err
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return &Block{node{posOf(start)}, out}, nil
}

func (p *parser) varStatement() (Stmt, error) {
	p.advance()
	if p.ns != p.data.Root && p.ctx.kind == ctxTop {
		return nil, p.errorf(p.previous(), "var declarations are not allowed in namespaces, use reg or const")
	}
	return p.declarators(func(tok lexer.Token, name string, init Expr) (Stmt, error) {
		if p.ctx.kind == ctxTop || p.ctx.kind == ctxCallback {
			if err := p.storageConflict(tok, name); err != nil {
				return nil, err
			}
		}
		if p.ctx.kind == ctxFunction {
			p.ctx.dynamic[name] = true
		}
		if p.ctx.kind == ctxInline {
			slot := p.ctx.inline.localSlot(name, true)
			return &LocalDecl{node{posOf(tok)}, &LocalRef{node{posOf(tok)}, slot, name}, init}, nil
		}
		return &VarDecl{node{posOf(tok)}, name, init}, nil
	})
}

func (p *parser) constStatement() (Stmt, error) {
	kw := p.advance()
	if !p.opts.AllowConst {
		return nil, p.errorf(kw, "const declarations are not allowed here")
	}
	p.match(lexer.Var)
	name, tok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	slot := p.ns.constIndex(name)
	if !p.declLevel || slot < 0 {
		return nil, p.errorf(kw, "const declarations are only allowed at top level or in a namespace")
	}
	if _, err := p.expect(lexer.Assign); err != nil {
		return nil, err
	}
	init, err := p.assignment()
	if err != nil {
		return nil, err
	}
	if lit, ok := foldExpr(init).(*Literal); ok && !lit.Value.IsReference() {
		p.ns.consts[slot].folded = lit.Value
		p.ns.consts[slot].hasFolded = true
	}
	ref := &ConstRef{node{posOf(tok)}, p.ns, slot, name}
	return &ConstDecl{node{posOf(kw)}, ref, init}, p.endStatement()
}

func (p *parser) regStatement() (Stmt, error) {
	kw := p.advance()
	if !p.declLevel {
		return nil, p.errorf(kw, "reg declarations are only allowed at top level or in a namespace")
	}
	return p.declarators(func(tok lexer.Token, name string, init Expr) (Stmt, error) {
		slot := p.ns.Registers.Index(name)
		if slot < 0 {
			return nil, p.errorf(tok, "%s", existingDefinition(name))
		}
		return &RegisterDecl{node{posOf(tok)}, &RegisterRef{node{posOf(tok)}, p.ns, slot, name}, init}, nil
	})
}

func (p *parser) localStatement() (Stmt, error) {
	kw := p.advance()
	switch p.ctx.kind {
	case ctxTop:
		return nil, p.errorf(kw, "local declarations are only allowed in callbacks and functions")
	case ctxFunction:
		return p.declarators(func(tok lexer.Token, name string, init Expr) (Stmt, error) {
			p.ctx.dynamic[name] = true
			return &VarDecl{node{posOf(tok)}, name, init}, nil
		})
	}
	return p.declarators(func(tok lexer.Token, name string, init Expr) (Stmt, error) {
		var slot int
		if p.ctx.kind == ctxCallback {
			slot = p.ctx.callback.localSlot(name, true)
		} else {
			slot = p.ctx.inline.localSlot(name, true)
		}
		return &LocalDecl{node{posOf(tok)}, &LocalRef{node{posOf(tok)}, slot, name}, init}, nil
	})
}

func (p *parser) globalStatement() (Stmt, error) {
	kw := p.advance()
	if !p.declLevel || p.ns != p.data.Root {
		return nil, p.errorf(kw, "global declarations are only allowed at top level")
	}
	return p.declarators(func(tok lexer.Token, name string, init Expr) (Stmt, error) {
		return &GlobalDecl{node{posOf(tok)}, &GlobalRef{node{posOf(tok)}, name}, init}, nil
	})
}

func (p *parser) params() ([]string, error) {
	if _, err := p.expect(lexer.LParen); err != nil {
		return nil, err
	}
	var names []string
	for !p.check(lexer.RParen) {
		name, tok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if n == name {
				return nil, p.errorf(tok, "duplicate parameter %s", name)
			}
		}
		names = append(names, name)
		if !p.match(lexer.Comma) {
			break
		}
	}
	_, err := p.expect(lexer.RParen)
	return names, err
}

// withContext parses a function body in a fresh context.
func (p *parser) withContext(ctx *fnContext) (*Block, error) {
	savedCtx, savedDecl := p.ctx, p.declLevel
	ctx.parent = savedCtx
	p.ctx = ctx
	defer func() { p.ctx, p.declLevel = savedCtx, savedDecl }()
	return p.block()
}

func (p *parser) inlineFunction() (Stmt, error) {
	kw := p.advance()
	if _, err := p.expect(lexer.Function); err != nil {
		return nil, err
	}
	name, tok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	fn := p.ns.inlines[name]
	if !p.declLevel || fn == nil || p.ctx.kind != ctxTop {
		return nil, p.errorf(kw, "inline functions are only allowed at top level or in a namespace")
	}
	if fn.Body != nil {
		return nil, p.errorf(tok, "%s", existingDefinition(name))
	}
	params, err := p.params()
	if err != nil {
		return nil, err
	}
	fn.Params = params
	body, err := p.withContext(&fnContext{kind: ctxInline, inline: fn, snippet: p.snippet})
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return &Empty{node{posOf(kw)}}, nil
}

func (p *parser) functionDeclaration() (Stmt, error) {
	kw := p.advance()
	name, tok, _ := p.expectIdent()

	if id, ok := p.data.CallbackIndex(name); ok && p.ns == p.data.Root && p.ctx.kind == ctxTop && p.declLevel {
		cb := p.data.callbacks[id]
		if cb.Defined {
			return nil, p.errorf(tok, "callback %s is already defined", name)
		}
		params, err := p.params()
		if err != nil {
			return nil, err
		}
		if len(params) != len(cb.ParamNames) {
			return nil, p.errorf(tok, "%s: wrong number of parameters (expected %d, got %d)", name, len(cb.ParamNames), len(params))
		}
		cb.ParamNames = params
		cb.P = posOf(tok)
		body, err := p.withContext(&fnContext{kind: ctxCallback, callback: cb, snippet: name})
		if err != nil {
			return nil, err
		}
		cb.Body = body
		cb.Defined = true
		cb.Locals = make([]value.Value, len(cb.LocalNames))
		return &Empty{node{posOf(kw)}}, nil
	}

	if p.ctx.kind != ctxFunction {
		if p.ns == p.data.Root {
			if err := p.storageConflict(tok, name); err != nil {
				return nil, err
			}
		} else if p.ns.storageOf(name) != storageFunction {
			return nil, p.errorf(tok, "%s", existingDefinition(name))
		}
	} else {
		p.ctx.dynamic[name] = true
	}
	def, err := p.functionRest(name, tok)
	if err != nil {
		return nil, err
	}
	fd := &FunctionDecl{node: node{posOf(kw)}, Fn: def}
	if p.ns != p.data.Root && p.ctx.kind == ctxTop {
		fd.NS = p.ns
	}
	return fd, nil
}

// functionRest parses the parameter list and body of a user function.
func (p *parser) functionRest(name string, tok lexer.Token) (*FunctionDef, error) {
	params, err := p.params()
	if err != nil {
		return nil, err
	}
	ctx := &fnContext{kind: ctxFunction, dynamic: make(map[string]bool), snippet: p.snippet}
	for _, n := range params {
		ctx.dynamic[n] = true
	}
	body, err := p.withContext(ctx)
	if err != nil {
		return nil, err
	}
	return &FunctionDef{Name: name, Params: params, Body: body, Snippet: p.snippet, P: posOf(tok)}, nil
}

func (p *parser) namespaceStatement() (Stmt, error) {
	kw := p.advance()
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.ctx.kind != ctxTop || !p.declLevel || p.ns != p.data.Root {
		return nil, p.errorf(kw, "namespaces are only allowed at top level")
	}
	ns := p.data.Namespace(name)
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	p.ns = ns
	defer func() { p.ns = p.data.Root }()
	b := &Block{node: node{posOf(kw)}}
	for !p.check(lexer.RBrace) {
		if p.check(lexer.EOF) {
			return nil, p.errorf(p.peek(), "expected \"}\", found end of input")
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		if fd, ok := s.(*FunctionDecl); ok && fd.NS != nil {
			p.program.Functions = append(p.program.Functions, fd)
			continue
		}
		b.Stmts = append(b.Stmts, s)
	}
	p.advance()
	return b, nil
}

func (p *parser) parenExpr() (Expr, error) {
	if _, err := p.expect(lexer.LParen); err != nil {
		return nil, err
	}
	e, err := p.expression()
	if err != nil {
		return nil, err
	}
	_, err = p.expect(lexer.RParen)
	return e, err
}

func (p *parser) ifStatement() (Stmt, error) {
	kw := p.advance()
	cond, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.nested()
	if err != nil {
		return nil, err
	}
	s := &If{node: node{posOf(kw)}, Cond: cond, Then: then}
	if p.match(lexer.Else) {
		if s.Else, err = p.nested(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *parser) loopBody() (Stmt, error) {
	p.ctx.loops++
	defer func() { p.ctx.loops-- }()
	return p.nested()
}

func (p *parser) whileStatement() (Stmt, error) {
	kw := p.advance()
	cond, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.loopBody()
	if err != nil {
		return nil, err
	}
	return &While{node{posOf(kw)}, cond, body}, nil
}

func (p *parser) doStatement() (Stmt, error) {
	kw := p.advance()
	body, err := p.loopBody()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.While); err != nil {
		return nil, err
	}
	cond, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	return &DoWhile{node{posOf(kw)}, body, cond}, p.endStatement()
}

func (p *parser) forStatement() (Stmt, error) {
	kw := p.advance()
	if _, err := p.expect(lexer.LParen); err != nil {
		return nil, err
	}
	if s, ok, err := p.tryForIn(kw); ok || err != nil {
		return s, err
	}
	saved := p.declLevel
	p.declLevel = false
	defer func() { p.declLevel = saved }()

	f := &For{node: node{posOf(kw)}}
	var err error
	if !p.match(lexer.Semicolon) {
		if f.Init, err = p.statement(); err != nil {
			return nil, err
		}
	}
	if !p.check(lexer.Semicolon) {
		if f.Cond, err = p.expression(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	if !p.check(lexer.RParen) {
		if f.Step, err = p.expression(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(lexer.RParen); err != nil {
		return nil, err
	}
	if f.Body, err = p.loopBody(); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *parser) tryForIn(kw lexer.Token) (Stmt, bool, error) {
	declared := p.check(lexer.Var) || p.check(lexer.Local)
	off := 0
	if declared {
		off = 1
	}
	if p.peekAt(off).Type != lexer.Identifier || p.peekAt(off+1).Type != lexer.In {
		return nil, false, nil
	}
	f := &ForIn{node: node{posOf(kw)}}
	if declared {
		declKw := p.advance()
		name, tok, _ := p.expectIdent()
		switch {
		case p.ctx.kind == ctxInline || (declKw.Type == lexer.Local && p.ctx.kind == ctxCallback):
			var slot int
			if p.ctx.kind == ctxCallback {
				slot = p.ctx.callback.localSlot(name, true)
			} else {
				slot = p.ctx.inline.localSlot(name, true)
			}
			ref := &LocalRef{node{posOf(tok)}, slot, name}
			f.Target = ref
			f.Decl = &LocalDecl{node{posOf(tok)}, ref, nil}
		case p.ctx.kind == ctxTop && declKw.Type == lexer.Local:
			return nil, true, p.errorf(declKw, "local declarations are only allowed in callbacks and functions")
		default:
			if p.ctx.kind == ctxFunction {
				p.ctx.dynamic[name] = true
			}
			f.Target = &UnqualifiedName{node{posOf(tok)}, name}
			f.Decl = &VarDecl{node{posOf(tok)}, name, nil}
		}
	} else {
		target, err := p.primary()
		if err != nil {
			return nil, true, err
		}
		if !IsAssignable(target) {
			return nil, true, p.errorf(p.previous(), "invalid for-in target")
		}
		f.Target = target
	}
	p.advance() // in
	var err error
	if f.Object, err = p.expression(); err != nil {
		return nil, true, err
	}
	if _, err := p.expect(lexer.RParen); err != nil {
		return nil, true, err
	}
	if f.Body, err = p.loopBody(); err != nil {
		return nil, true, err
	}
	return f, true, nil
}

func (p *parser) switchStatement() (Stmt, error) {
	kw := p.advance()
	tag, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	saved := p.declLevel
	p.declLevel = false
	p.ctx.switches++
	defer func() {
		p.declLevel = saved
		p.ctx.switches--
	}()

	s := &Switch{node: node{posOf(kw)}, Tag: tag}
	hasDefault := false
	for !p.match(lexer.RBrace) {
		tok := p.peek()
		c := &Case{P: posOf(tok)}
		switch {
		case p.match(lexer.Case):
			for {
				v, err := p.expression()
				if err != nil {
					return nil, err
				}
				c.Values = append(c.Values, v)
				if _, err := p.expect(lexer.Colon); err != nil {
					return nil, err
				}
				// "case 1: case 2:" share one body
				if !p.match(lexer.Case) {
					break
				}
			}
		case p.match(lexer.Default):
			if hasDefault {
				return nil, p.errorf(tok, "more than one default clause in switch")
			}
			hasDefault = true
			c.Default = true
			if _, err := p.expect(lexer.Colon); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf(tok, "expected case or default, found %s", tok)
		}
		for !p.check(lexer.Case) && !p.check(lexer.Default) && !p.check(lexer.RBrace) {
			if p.check(lexer.EOF) {
				return nil, p.errorf(p.peek(), "expected \"}\", found end of input")
			}
			st, err := p.statement()
			if err != nil {
				return nil, err
			}
			c.Body = append(c.Body, st)
		}
		s.Cases = append(s.Cases, c)
	}
	return s, nil
}

func (p *parser) returnStatement() (Stmt, error) {
	kw := p.advance()
	r := &Return{node: node{posOf(kw)}}
	if p.check(lexer.Semicolon) || p.check(lexer.RBrace) || p.check(lexer.EOF) || p.peek().Line > kw.Line {
		return r, p.endStatement()
	}
	var err error
	if r.X, err = p.expression(); err != nil {
		return nil, err
	}
	return r, p.endStatement()
}

// ---- expressions ----

func (p *parser) expression() (Expr, error) { return p.assignment() }

func isAssignOp(t lexer.TokenType) bool {
	switch t {
	case lexer.Assign, lexer.PlusAssign, lexer.MinusAssign, lexer.StarAssign, lexer.SlashAssign,
		lexer.PercentAssign, lexer.AndAssign, lexer.OrAssign, lexer.XorAssign, lexer.ShlAssign, lexer.ShrAssign:
		return true
	}
	return false
}

func (p *parser) checkTarget(tok lexer.Token, target Expr) error {
	if c, ok := target.(*ConstRef); ok {
		return p.errorf(tok, "can't assign to const %s", c.Name)
	}
	if lit, ok := target.(*Literal); ok && lit.Value.IsFunction() {
		return p.errorf(tok, "can't assign to inline function %s", lit.Value.Callable().FunctionName())
	}
	if !IsAssignable(target) {
		return p.errorf(tok, "invalid assignment target")
	}
	return nil
}

func (p *parser) assignment() (Expr, error) {
	start := p.peek()
	target, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if !isAssignOp(p.peek().Type) {
		return target, nil
	}
	op := p.advance()
	if err := p.checkTarget(start, target); err != nil {
		return nil, err
	}
	val, err := p.assignment()
	if err != nil {
		return nil, err
	}
	return &Assign{node{posOf(op)}, op.Type, target, val}, nil
}

func (p *parser) ternary() (Expr, error) {
	cond, err := p.binary(0)
	if err != nil {
		return nil, err
	}
	if !p.check(lexer.Question) {
		return cond, nil
	}
	q := p.advance()
	then, err := p.assignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Colon); err != nil {
		return nil, err
	}
	els, err := p.assignment()
	if err != nil {
		return nil, err
	}
	return &Ternary{node{posOf(q)}, cond, then, els}, nil
}

// binary precedence levels, lowest first.
var precedence = [][]lexer.TokenType{
	{lexer.LogicalOr},
	{lexer.LogicalAnd},
	{lexer.BitOr},
	{lexer.BitXor},
	{lexer.BitAnd},
	{lexer.Equal, lexer.NotEqual, lexer.StrictEqual, lexer.StrictNotEqual},
	{lexer.Less, lexer.LessEqual, lexer.Greater, lexer.GreaterEqual},
	{lexer.Shl, lexer.Shr},
	{lexer.Plus, lexer.Minus},
	{lexer.Star, lexer.Slash, lexer.Percent},
}

func (p *parser) binary(level int) (Expr, error) {
	if level == len(precedence) {
		return p.unary()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		found := false
		for _, t := range precedence[level] {
			if op.Type == t {
				found = true
				break
			}
		}
		if !found {
			return left, nil
		}
		p.advance()
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		if op.Type == lexer.LogicalAnd || op.Type == lexer.LogicalOr {
			left = &Logical{node{posOf(op)}, op.Type, left, right}
		} else {
			left = &Binary{node{posOf(op)}, op.Type, left, right}
		}
	}
}

func (p *parser) unary() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.Not, lexer.Minus, lexer.Plus, lexer.BitNot:
		p.advance()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{node{posOf(tok)}, tok.Type, x}, nil
	case lexer.Typeof:
		p.advance()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Typeof{node{posOf(tok)}, x}, nil
	case lexer.Increment, lexer.Decrement:
		p.advance()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if err := p.checkTarget(tok, x); err != nil {
			return nil, err
		}
		return &IncDec{node{posOf(tok)}, x, tok.Type == lexer.Increment, true}, nil
	case lexer.KwNew:
		p.advance()
		callee, err := p.primary()
		if err != nil {
			return nil, err
		}
		for p.check(lexer.Dot) {
			p.advance()
			name, _, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			callee = &Member{node{callee.Position()}, callee, name}
		}
		n := &New{node: node{posOf(tok)}, Callee: callee}
		if p.check(lexer.LParen) {
			if n.Args, err = p.arguments(); err != nil {
				return nil, err
			}
		}
		return p.postfix(n)
	}
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	return p.postfix(x)
}

func (p *parser) arguments() ([]Expr, error) {
	if _, err := p.expect(lexer.LParen); err != nil {
		return nil, err
	}
	var args []Expr
	for !p.check(lexer.RParen) {
		a, err := p.assignment()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if !p.match(lexer.Comma) {
			break
		}
	}
	_, err := p.expect(lexer.RParen)
	return args, err
}

func (p *parser) postfix(e Expr) (Expr, error) {
	for {
		tok := p.peek()
		switch tok.Type {
		case lexer.Dot:
			p.advance()
			name, _, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			e = &Member{node{posOf(tok)}, e, name}
		case lexer.LBracket:
			p.advance()
			idx, err := p.expression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.RBracket); err != nil {
				return nil, err
			}
			e = &Index{node{posOf(tok)}, e, idx}
		case lexer.LParen:
			args, err := p.arguments()
			if err != nil {
				return nil, err
			}
			if lit, ok := e.(*Literal); ok {
				if fn, ok := lit.Value.Callable().(*InlineFunction); ok {
					if len(args) != len(fn.Params) {
						return nil, p.errorf(tok, "%s: wrong number of arguments (expected %d, got %d)", fn.FunctionName(), len(fn.Params), len(args))
					}
					e = &InlineCall{node{lit.P}, fn, args}
					continue
				}
			}
			e = &Call{node{posOf(tok)}, e, args}
		case lexer.Increment, lexer.Decrement:
			if tok.Line != p.previous().Line {
				return e, nil
			}
			if err := p.checkTarget(tok, e); err != nil {
				return nil, err
			}
			p.advance()
			e = &IncDec{node{posOf(tok)}, e, tok.Type == lexer.Increment, false}
		default:
			return e, nil
		}
	}
}

func (p *parser) primary() (Expr, error) {
	tok := p.advance()
	pos := node{posOf(tok)}
	switch tok.Type {
	case lexer.Integer:
		return &Literal{pos, value.Integer(tok.Literal.(int64))}, nil
	case lexer.Double:
		return &Literal{pos, value.Double(tok.Literal.(float64))}, nil
	case lexer.String:
		return &Literal{pos, value.Str(tok.Literal.(string))}, nil
	case lexer.True:
		return &Literal{pos, value.Bool(true)}, nil
	case lexer.False:
		return &Literal{pos, value.Bool(false)}, nil
	case lexer.Null:
		return &Literal{pos, value.Null()}, nil
	case lexer.Undefined:
		return &Literal{pos, value.Undefined()}, nil
	case lexer.LParen:
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(lexer.RParen)
		return e, err
	case lexer.LBracket:
		return p.arrayLiteral(tok)
	case lexer.LBrace:
		return p.objectLiteral(tok)
	case lexer.Function:
		name := ""
		if p.check(lexer.Identifier) {
			name = p.advance().Lexeme
		}
		def, err := p.functionRest(name, tok)
		if err != nil {
			return nil, err
		}
		return &FuncLit{pos, def}, nil
	case lexer.Identifier:
		return p.identifier(tok)
	}
	p.pos--
	return nil, p.unexpected()
}

func (p *parser) arrayLiteral(open lexer.Token) (Expr, error) {
	a := &ArrayLit{node: node{posOf(open)}}
	for !p.check(lexer.RBracket) {
		e, err := p.assignment()
		if err != nil {
			return nil, err
		}
		a.Elems = append(a.Elems, e)
		if !p.match(lexer.Comma) {
			break
		}
	}
	_, err := p.expect(lexer.RBracket)
	return a, err
}

func (p *parser) objectLiteral(open lexer.Token) (Expr, error) {
	o := &ObjectLit{node: node{posOf(open)}}
	for !p.check(lexer.RBrace) {
		key := p.advance()
		var name string
		switch key.Type {
		case lexer.Identifier:
			name = key.Lexeme
		case lexer.String:
			name = key.Literal.(string)
		case lexer.Integer, lexer.Double:
			name = key.Lexeme
		default:
			if _, isKeyword := lexer.Keywords[key.Lexeme]; isKeyword {
				name = key.Lexeme
				break
			}
			return nil, p.errorf(key, "expected property name, found %s", key)
		}
		if _, err := p.expect(lexer.Colon); err != nil {
			return nil, err
		}
		v, err := p.assignment()
		if err != nil {
			return nil, err
		}
		o.Keys = append(o.Keys, name)
		o.Values = append(o.Values, v)
		if !p.match(lexer.Comma) {
			break
		}
	}
	_, err := p.expect(lexer.RBrace)
	return o, err
}

// identifier resolves a name, including the qualified forms Api.fn(...),
// Api.CONST, Globals.x and Namespace.member.
func (p *parser) identifier(tok lexer.Token) (Expr, error) {
	name := tok.Lexeme
	pos := node{posOf(tok)}

	if p.check(lexer.Dot) && p.peekAt(1).Type == lexer.Identifier && !p.isDynamic(name) {
		member := p.peekAt(1)
		if class := p.data.ApiClass(name); class != nil {
			p.advance()
			p.advance()
			return p.apiMember(tok, class, member)
		}
		if name == "Globals" {
			p.advance()
			p.advance()
			return &GlobalRef{node{posOf(member)}, member.Lexeme}, nil
		}
		if ns := p.data.namespaces[name]; ns != nil {
			p.advance()
			p.advance()
			if e := p.resolveInNamespace(ns, member); e != nil {
				return e, nil
			}
			return nil, p.errorf(member, "%s.%s: not declared in namespace %s", name, member.Lexeme, name)
		}
	}
	return p.resolveName(tok, pos)
}

func (p *parser) apiMember(classTok lexer.Token, class *value.ApiClass, member lexer.Token) (Expr, error) {
	if slot, numArgs, ok := class.FunctionIndex(member.Lexeme); ok {
		if !p.check(lexer.LParen) {
			fn := class.Function(slot)
			return &Literal{node{posOf(member)}, value.Native(class.Name+"."+fn.Name, fn.NumArgs, func(_ value.Value, args []value.Value) (value.Value, error) {
				return fn.Fn(args)
			})}, nil
		}
		callTok := p.peek()
		args, err := p.arguments()
		if err != nil {
			return nil, err
		}
		if numArgs >= 0 && len(args) != numArgs {
			return nil, p.errorf(callTok, "%s.%s: wrong number of arguments (expected %d, got %d)", class.Name, member.Lexeme, numArgs, len(args))
		}
		return &ApiCall{node{posOf(classTok)}, class, slot, args}, nil
	}
	if v, ok := class.Constant(member.Lexeme); ok {
		return &Literal{node{posOf(member)}, v}, nil
	}
	return nil, p.errorf(member, "%s.%s: unknown function or constant", class.Name, member.Lexeme)
}

func (p *parser) resolveInNamespace(ns *Namespace, tok lexer.Token) Expr {
	name := tok.Lexeme
	pos := node{posOf(tok)}
	if slot := ns.Registers.Index(name); slot >= 0 {
		return &RegisterRef{pos, ns, slot, name}
	}
	if slot := ns.constIndex(name); slot >= 0 {
		return &ConstRef{pos, ns, slot, name}
	}
	if fn := ns.inlines[name]; fn != nil {
		return &Literal{pos, value.FunctionValue(fn)}
	}
	if ns.functions[name] {
		return &Member{pos, &NamespaceRef{pos, ns}, name}
	}
	return nil
}

// isDynamic reports whether name is a parameter or var of an enclosing
// user function, which shadows every static storage class.
func (p *parser) isDynamic(name string) bool {
	for c := p.ctx; c != nil; c = c.parent {
		switch c.kind {
		case ctxFunction:
			if c.dynamic[name] {
				return true
			}
		case ctxCallback, ctxInline:
			return false
		}
	}
	return false
}

func (p *parser) resolveName(tok lexer.Token, pos node) (Expr, error) {
	name := tok.Lexeme
	if p.isDynamic(name) {
		return &UnqualifiedName{pos, name}, nil
	}
	switch p.ctx.kind {
	case ctxCallback:
		cb := p.ctx.callback
		for i, n := range cb.ParamNames {
			if n == name {
				return &CallbackParamRef{pos, i, name}, nil
			}
		}
		if slot := cb.localSlot(name, false); slot >= 0 {
			return &LocalRef{pos, slot, name}, nil
		}
	case ctxInline:
		fn := p.ctx.inline
		for i, n := range fn.Params {
			if n == name {
				return &InlineArgRef{pos, i, name}, nil
			}
		}
		if slot := fn.localSlot(name, false); slot >= 0 {
			return &LocalRef{pos, slot, name}, nil
		}
	}
	if p.ns != p.data.Root {
		if e := p.resolveInNamespace(p.ns, tok); e != nil {
			return e, nil
		}
	}
	if e := p.resolveInNamespace(p.data.Root, tok); e != nil {
		return e, nil
	}
	if p.data.globalNames[name] {
		return &GlobalRef{pos, name}, nil
	}
	return &UnqualifiedName{pos, name}, nil
}

// String renders a short description of an expression for error messages.
func String(e Expr) string {
	switch x := e.(type) {
	case *UnqualifiedName:
		return x.Name
	case *RegisterRef:
		return x.Name
	case *ConstRef:
		return x.Name
	case *GlobalRef:
		return "Globals." + x.Name
	case *LocalRef:
		return x.Name
	case *InlineArgRef:
		return x.Name
	case *CallbackParamRef:
		return x.Name
	case *Member:
		return String(x.Object) + "." + x.Name
	case *Index:
		return String(x.Object) + "[]"
	case *Call:
		return String(x.Callee) + "()"
	case *ApiCall:
		return x.Class.Name + "." + x.Class.Function(x.Slot).Name + "()"
	case *InlineCall:
		return x.Fn.FunctionName() + "()"
	case *NamespaceRef:
		return x.NS.Name
	case *Literal:
		return x.Value.String()
	}
	return fmt.Sprintf("%T", e)
}
