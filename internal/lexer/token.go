// Package lexer turns script source into a token stream with 1-based
// line and column tracking.
package lexer

import "fmt"

// TokenType is the kind of a token.
type TokenType int

const (
	EOF TokenType = iota

	Identifier
	Integer // Literal holds int64
	Double  // Literal holds float64
	String  // Literal holds the unescaped string

	// Punctuation
	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Comma
	Dot
	Semicolon
	Colon
	Question

	// Operators
	Assign
	PlusAssign
	MinusAssign
	StarAssign
	SlashAssign
	PercentAssign
	AndAssign
	OrAssign
	XorAssign
	ShlAssign
	ShrAssign
	Plus
	Minus
	Star
	Slash
	Percent
	Increment
	Decrement
	Equal
	NotEqual
	StrictEqual
	StrictNotEqual
	Less
	LessEqual
	Greater
	GreaterEqual
	LogicalAnd
	LogicalOr
	Not
	BitAnd
	BitOr
	BitXor
	BitNot
	Shl
	Shr

	// Keywords
	Var
	Const
	Reg
	Local
	Global
	Inline
	Function
	Return
	If
	Else
	For
	In
	While
	Do
	Break
	Continue
	Switch
	Case
	Default
	Namespace
	True
	False
	Null
	Undefined
	Typeof
	KwNew
)

var tokenNames = map[TokenType]string{
	EOF: "end of input", Identifier: "identifier", Integer: "integer", Double: "number", String: "string",
	LParen: "(", RParen: ")", LBrace: "{", RBrace: "}", LBracket: "[", RBracket: "]",
	Comma: ",", Dot: ".", Semicolon: ";", Colon: ":", Question: "?",
	Assign: "=", PlusAssign: "+=", MinusAssign: "-=", StarAssign: "*=", SlashAssign: "/=",
	PercentAssign: "%=", AndAssign: "&=", OrAssign: "|=", XorAssign: "^=", ShlAssign: "<<=", ShrAssign: ">>=",
	Plus: "+", Minus: "-", Star: "*", Slash: "/", Percent: "%", Increment: "++", Decrement: "--",
	Equal: "==", NotEqual: "!=", StrictEqual: "===", StrictNotEqual: "!==",
	Less: "<", LessEqual: "<=", Greater: ">", GreaterEqual: ">=",
	LogicalAnd: "&&", LogicalOr: "||", Not: "!", BitAnd: "&", BitOr: "|", BitXor: "^", BitNot: "~",
	Shl: "<<", Shr: ">>",
	Var: "var", Const: "const", Reg: "reg", Local: "local", Global: "global", Inline: "inline",
	Function: "function", Return: "return", If: "if", Else: "else", For: "for", In: "in",
	While: "while", Do: "do", Break: "break", Continue: "continue", Switch: "switch",
	Case: "case", Default: "default", Namespace: "namespace", True: "true", False: "false",
	Null: "null", Undefined: "undefined", Typeof: "typeof", KwNew: "new",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Keywords maps reserved words to their token type. "register" is an
// alias of "reg".
var Keywords = map[string]TokenType{
	"var": Var, "const": Const, "reg": Reg, "register": Reg, "local": Local,
	"global": Global, "inline": Inline, "function": Function, "return": Return,
	"if": If, "else": Else, "for": For, "in": In, "while": While, "do": Do,
	"break": Break, "continue": Continue, "switch": Switch, "case": Case,
	"default": Default, "namespace": Namespace, "true": True, "false": False,
	"null": Null, "undefined": Undefined, "typeof": Typeof, "new": KwNew,
}

// Token is a lexical unit. Offset is the byte offset of the first
// character; Line and Column are 1-based.
type Token struct {
	Type    TokenType
	Lexeme  string
	Literal any
	Offset  int
	Line    int
	Column  int
}

func (t Token) String() string {
	if t.Type == EOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.Lexeme)
}
