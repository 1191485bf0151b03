package parser

import (
	"github.com/cryguy/hisescript/internal/lexer"
	"github.com/cryguy/hisescript/internal/value"
)

// Pos is a 1-based source position.
type Pos struct {
	Line   int
	Column int
	Offset int
}

func posOf(t lexer.Token) Pos { return Pos{Line: t.Line, Column: t.Column, Offset: t.Offset} }

// Node is implemented by every AST node.
type Node interface {
	Position() Pos
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

type node struct{ P Pos }

func (n node) Position() Pos { return n.P }

// ---- expressions ----

// Literal is a constant value.
type Literal struct {
	node
	Value value.Value
}

// UnqualifiedName is resolved dynamically through the scope chain.
type UnqualifiedName struct {
	node
	Name string
}

// RegisterRef addresses a register slot of a namespace.
type RegisterRef struct {
	node
	NS   *Namespace
	Slot int
	Name string
}

// ConstRef addresses a const slot of a namespace.
type ConstRef struct {
	node
	NS   *Namespace
	Slot int
	Name string
}

// GlobalRef addresses a property of the Globals object.
type GlobalRef struct {
	node
	Name string
}

// CallbackParamRef reads a parameter slot of the enclosing callback.
type CallbackParamRef struct {
	node
	Slot int
	Name string
}

// LocalRef addresses a local slot of the enclosing callback or inline
// function.
type LocalRef struct {
	node
	Slot int
	Name string
}

// InlineArgRef addresses an argument slot of the enclosing inline function.
type InlineArgRef struct {
	node
	Slot int
	Name string
}

// NamespaceRef evaluates to the object holding a namespace's plain
// functions.
type NamespaceRef struct {
	node
	NS *Namespace
}

// ApiCall is a call into a native class resolved to a slot.
type ApiCall struct {
	node
	Class *value.ApiClass
	Slot  int
	Args  []Expr
}

// InlineCall calls an inline function.
type InlineCall struct {
	node
	Fn   *InlineFunction
	Args []Expr
}

// Member is obj.name.
type Member struct {
	node
	Object Expr
	Name   string
}

// Index is obj[index].
type Index struct {
	node
	Object Expr
	Index  Expr
}

// Call is a dynamic function call. When Callee is a Member the object is
// bound to this.
type Call struct {
	node
	Callee Expr
	Args   []Expr
}

// New is new Callee(args).
type New struct {
	node
	Callee Expr
	Args   []Expr
}

// Binary is an arithmetic, bitwise or comparison operator.
type Binary struct {
	node
	Op   lexer.TokenType
	L, R Expr
}

// Logical is && or || with short-circuit evaluation.
type Logical struct {
	node
	Op   lexer.TokenType
	L, R Expr
}

// Unary is -x, !x, ~x or +x.
type Unary struct {
	node
	Op lexer.TokenType
	X  Expr
}

// Typeof is typeof x.
type Typeof struct {
	node
	X Expr
}

// Assign is target op= value. Op is lexer.Assign for plain assignment.
type Assign struct {
	node
	Op     lexer.TokenType
	Target Expr
	Value  Expr
}

// IncDec is ++x, x++, --x or x--.
type IncDec struct {
	node
	Target Expr
	Inc    bool
	Prefix bool
}

// Ternary is cond ? a : b.
type Ternary struct {
	node
	Cond, Then, Else Expr
}

// ArrayLit is [a, b, c].
type ArrayLit struct {
	node
	Elems []Expr
}

// ObjectLit is {k: v}.
type ObjectLit struct {
	node
	Keys   []string
	Values []Expr
}

// FuncLit is an anonymous function expression.
type FuncLit struct {
	node
	Fn *FunctionDef
}

func (*Literal) exprNode()          {}
func (*UnqualifiedName) exprNode()  {}
func (*RegisterRef) exprNode()      {}
func (*ConstRef) exprNode()         {}
func (*GlobalRef) exprNode()        {}
func (*CallbackParamRef) exprNode() {}
func (*LocalRef) exprNode()         {}
func (*InlineArgRef) exprNode()     {}
func (*NamespaceRef) exprNode()     {}
func (*ApiCall) exprNode()          {}
func (*InlineCall) exprNode()       {}
func (*Member) exprNode()           {}
func (*Index) exprNode()            {}
func (*Call) exprNode()             {}
func (*New) exprNode()              {}
func (*Binary) exprNode()           {}
func (*Logical) exprNode()          {}
func (*Unary) exprNode()            {}
func (*Typeof) exprNode()           {}
func (*Assign) exprNode()           {}
func (*IncDec) exprNode()           {}
func (*Ternary) exprNode()          {}
func (*ArrayLit) exprNode()         {}
func (*ObjectLit) exprNode()        {}
func (*FuncLit) exprNode()          {}

// ---- statements ----

// Block is a statement list. Blocks do not introduce a scope.
type Block struct {
	node
	Stmts []Stmt
}

// ExprStmt evaluates an expression for its side effects.
type ExprStmt struct {
	node
	X Expr
}

// VarDecl declares a dynamic variable in the current scope.
type VarDecl struct {
	node
	Name string
	Init Expr
}

// RegisterDecl initialises a register.
type RegisterDecl struct {
	node
	Ref  *RegisterRef
	Init Expr
}

// ConstDecl initialises a const slot once.
type ConstDecl struct {
	node
	Ref  *ConstRef
	Init Expr
}

// LocalDecl initialises a local slot.
type LocalDecl struct {
	node
	Ref  *LocalRef
	Init Expr
}

// GlobalDecl initialises a property of the Globals object.
type GlobalDecl struct {
	node
	Ref  *GlobalRef
	Init Expr
}

// If is if/else.
type If struct {
	node
	Cond Expr
	Then Stmt
	Else Stmt
}

// For is for(init; cond; step).
type For struct {
	node
	Init Stmt
	Cond Expr
	Step Expr
	Body Stmt
}

// ForIn is for (x in obj). Arrays iterate their elements, objects their
// keys.
type ForIn struct {
	node
	Target Expr
	Decl   Stmt // non-nil when the loop declares its variable
	Object Expr
	Body   Stmt
}

// While is while(cond) body.
type While struct {
	node
	Cond Expr
	Body Stmt
}

// DoWhile is do body while(cond).
type DoWhile struct {
	node
	Body Stmt
	Cond Expr
}

// Case is one switch arm. Default arms have no Values.
type Case struct {
	P       Pos
	Values  []Expr
	Body    []Stmt
	Default bool
}

// Switch compares Tag against each case with == and falls through until
// a break.
type Switch struct {
	node
	Tag   Expr
	Cases []*Case
}

// Break leaves the innermost loop or switch.
type Break struct{ node }

// Continue skips to the next loop iteration.
type Continue struct{ node }

// Return leaves the current function.
type Return struct {
	node
	X Expr
}

// FunctionDecl binds a function to a name at runtime. NS is non-nil for
// functions declared inside a namespace.
type FunctionDecl struct {
	node
	Fn *FunctionDef
	NS *Namespace
}

// Empty is a lone semicolon, or a statement removed by an optimisation.
type Empty struct{ node }

func (*Block) stmtNode()        {}
func (*ExprStmt) stmtNode()     {}
func (*VarDecl) stmtNode()      {}
func (*RegisterDecl) stmtNode() {}
func (*ConstDecl) stmtNode()    {}
func (*LocalDecl) stmtNode()    {}
func (*GlobalDecl) stmtNode()   {}
func (*If) stmtNode()           {}
func (*For) stmtNode()          {}
func (*ForIn) stmtNode()        {}
func (*While) stmtNode()        {}
func (*DoWhile) stmtNode()      {}
func (*Switch) stmtNode()       {}
func (*Break) stmtNode()        {}
func (*Continue) stmtNode()     {}
func (*Return) stmtNode()       {}
func (*FunctionDecl) stmtNode() {}
func (*Empty) stmtNode()        {}

// FunctionDef is a user function: declared, anonymous or a method.
type FunctionDef struct {
	Name    string
	Params  []string
	Body    *Block
	Snippet string
	P       Pos
}

// Program is the result of parsing one snippet.
type Program struct {
	Snippet string
	Body    *Block
	// Functions are the top-level function declarations, defined before
	// the body runs.
	Functions []*FunctionDecl
}
