package lexer

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cryguy/hisescript/internal/core"
)

// Lexer scans a single snippet of source.
type Lexer struct {
	src     string
	snippet string

	start, pos int
	line, col  int
	startLine  int
	startCol   int
	tokens     []Token
}

// New creates a lexer for src. snippet names the source in error
// locations.
func New(src, snippet string) *Lexer {
	return &Lexer{src: src, snippet: snippet, line: 1, col: 1}
}

// Scan tokenizes the whole input. The returned slice always ends with an
// EOF token.
func (l *Lexer) Scan() ([]Token, error) {
	for {
		if err := l.skipSpaceAndComments(); err != nil {
			return nil, err
		}
		l.start, l.startLine, l.startCol = l.pos, l.line, l.col
		if l.pos >= len(l.src) {
			l.tokens = append(l.tokens, Token{Type: EOF, Offset: l.pos, Line: l.line, Column: l.col})
			return l.tokens, nil
		}
		if err := l.scanToken(); err != nil {
			return nil, err
		}
	}
}

// Tokenize is shorthand for New(src, snippet).Scan().
func Tokenize(src, snippet string) ([]Token, error) {
	return New(src, snippet).Scan()
}

func (l *Lexer) errorf(format string, args ...any) error {
	loc := core.CodeLocation{Snippet: l.snippet, Line: l.startLine, Column: l.startCol, CharIndex: l.start}
	return core.NewScriptError(core.SyntaxError, loc, format, args...).WithSource(l.src)
}

func (l *Lexer) peekByte(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *Lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peekByte(1) == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance()
			}
		case c == '/' && l.peekByte(1) == '*':
			l.start, l.startLine, l.startCol = l.pos, l.line, l.col
			l.advance()
			l.advance()
			for {
				if l.pos >= len(l.src) {
					return l.errorf("unterminated comment")
				}
				if l.src[l.pos] == '*' && l.peekByte(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *Lexer) emit(t TokenType, literal any) {
	l.tokens = append(l.tokens, Token{
		Type:    t,
		Lexeme:  l.src[l.start:l.pos],
		Literal: literal,
		Offset:  l.start,
		Line:    l.startLine,
		Column:  l.startCol,
	})
}

// emitOp consumes the longest operator from candidates, which must be
// ordered longest first.
func (l *Lexer) emitOp(candidates []op) bool {
	rest := l.src[l.pos:]
	for _, c := range candidates {
		if strings.HasPrefix(rest, c.s) {
			for range c.s {
				l.advance()
			}
			l.emit(c.t, nil)
			return true
		}
	}
	return false
}

type op = struct {
	s string
	t TokenType
}

var operators = []op{
	{">>=", ShrAssign}, {"<<=", ShlAssign}, {"===", StrictEqual}, {"!==", StrictNotEqual},
	{"==", Equal}, {"!=", NotEqual}, {"<=", LessEqual}, {">=", GreaterEqual},
	{"&&", LogicalAnd}, {"||", LogicalOr}, {"++", Increment}, {"--", Decrement},
	{"+=", PlusAssign}, {"-=", MinusAssign}, {"*=", StarAssign}, {"/=", SlashAssign},
	{"%=", PercentAssign}, {"&=", AndAssign}, {"|=", OrAssign}, {"^=", XorAssign},
	{"<<", Shl}, {">>", Shr},
	{"(", LParen}, {")", RParen}, {"{", LBrace}, {"}", RBrace}, {"[", LBracket}, {"]", RBracket},
	{",", Comma}, {".", Dot}, {";", Semicolon}, {":", Colon}, {"?", Question},
	{"=", Assign}, {"+", Plus}, {"-", Minus}, {"*", Star}, {"/", Slash}, {"%", Percent},
	{"<", Less}, {">", Greater}, {"!", Not}, {"&", BitAnd}, {"|", BitOr}, {"^", BitXor}, {"~", BitNot},
}

func (l *Lexer) scanToken() error {
	c := l.src[l.pos]
	switch {
	case isDigit(c) || (c == '.' && isDigit(l.peekByte(1))):
		return l.scanNumber()
	case c == '"' || c == '\'':
		return l.scanString(c)
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.advance()
		}
		word := l.src[l.start:l.pos]
		if kw, ok := Keywords[word]; ok {
			l.emit(kw, nil)
		} else {
			l.emit(Identifier, word)
		}
		return nil
	}
	if l.emitOp(operators) {
		return nil
	}
	r := l.advance()
	if unicode.IsPrint(r) {
		return l.errorf("unexpected character %q", r)
	}
	return l.errorf("unexpected character %U", r)
}

func (l *Lexer) scanNumber() error {
	if l.src[l.pos] == '0' && (l.peekByte(1) == 'x' || l.peekByte(1) == 'X') {
		l.advance()
		l.advance()
		digits := l.pos
		for l.pos < len(l.src) && isHex(l.src[l.pos]) {
			l.advance()
		}
		if l.pos == digits {
			return l.errorf("malformed hex literal")
		}
		n, err := strconv.ParseUint(l.src[digits:l.pos], 16, 64)
		if err != nil {
			return l.errorf("hex literal out of range: %s", l.src[l.start:l.pos])
		}
		l.emit(Integer, int64(n))
		return nil
	}

	isFloat := false
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.advance()
	}
	if l.peekByte(0) == '.' && isDigit(l.peekByte(1)) {
		isFloat = true
		l.advance()
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.advance()
		}
	}
	if c := l.peekByte(0); c == 'e' || c == 'E' {
		next := l.peekByte(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peekByte(2))) {
			isFloat = true
			l.advance()
			l.advance()
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.advance()
			}
		}
	}
	text := l.src[l.start:l.pos]
	if isIdentStart(l.peekByte(0)) {
		if l.peekByte(0) == 'f' {
			// 1.0f style float suffix
			l.advance()
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return l.errorf("malformed number %s", text)
			}
			l.emit(Double, f)
			return nil
		}
		return l.errorf("malformed number %s", l.src[l.start:l.pos+1])
	}
	if !isFloat {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			l.emit(Integer, n)
			return nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return l.errorf("malformed number %s", text)
	}
	l.emit(Double, f)
	return nil
}

func (l *Lexer) scanString(quote byte) error {
	l.advance()
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return l.errorf("unterminated string literal")
		}
		c := l.src[l.pos]
		if c == quote {
			l.advance()
			break
		}
		if c == '\n' {
			return l.errorf("unterminated string literal")
		}
		if c != '\\' {
			sb.WriteRune(l.advance())
			continue
		}
		l.advance()
		if l.pos >= len(l.src) {
			return l.errorf("unterminated string literal")
		}
		e := l.advance()
		switch e {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '0':
			sb.WriteByte(0)
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case 'x':
			r, err := l.hexEscape(2)
			if err != nil {
				return err
			}
			sb.WriteRune(r)
		case 'u':
			r, err := l.hexEscape(4)
			if err != nil {
				return err
			}
			sb.WriteRune(r)
		default:
			sb.WriteRune(e)
		}
	}
	l.emit(String, sb.String())
	return nil
}

func (l *Lexer) hexEscape(n int) (rune, error) {
	if l.pos+n > len(l.src) {
		return 0, l.errorf("malformed escape sequence")
	}
	v, err := strconv.ParseUint(l.src[l.pos:l.pos+n], 16, 32)
	if err != nil {
		return 0, l.errorf("malformed escape sequence")
	}
	for i := 0; i < n; i++ {
		l.advance()
	}
	return rune(v), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
