package lexer

import (
	"testing"

	"github.com/cryguy/hisescript/internal/core"
)

func types(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func TestScan_Operators(t *testing.T) {
	toks, err := Tokenize("a === b !== c >>= 1 && x++ || --y", "test")
	if err != nil {
		t.Fatal(err)
	}
	want := []TokenType{
		Identifier, StrictEqual, Identifier, StrictNotEqual, Identifier, ShrAssign, Integer,
		LogicalAnd, Identifier, Increment, LogicalOr, Decrement, Identifier, EOF,
	}
	got := types(toks)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestScan_Keywords(t *testing.T) {
	toks, err := Tokenize("reg register const inline namespace local new typeof", "test")
	if err != nil {
		t.Fatal(err)
	}
	want := []TokenType{Reg, Reg, Const, Inline, Namespace, Local, KwNew, Typeof, EOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d = %v, want %v", i, toks[i].Type, w)
		}
	}
	if KwNew.String() != "new" {
		t.Errorf("KwNew.String() = %q", KwNew.String())
	}
}

func TestScan_Numbers(t *testing.T) {
	tests := []struct {
		src  string
		typ  TokenType
		want any
	}{
		{"42", Integer, int64(42)},
		{"0xFF", Integer, int64(255)},
		{"3.5", Double, 3.5},
		{".25", Double, 0.25},
		{"1e3", Double, 1000.0},
		{"2.0f", Double, 2.0},
		{"8589934592", Integer, int64(8589934592)},
	}
	for _, tt := range tests {
		toks, err := Tokenize(tt.src, "test")
		if err != nil {
			t.Fatalf("%s: %v", tt.src, err)
		}
		if toks[0].Type != tt.typ || toks[0].Literal != tt.want {
			t.Errorf("%s = %v %v, want %v %v", tt.src, toks[0].Type, toks[0].Literal, tt.typ, tt.want)
		}
	}
}

func TestScan_Strings(t *testing.T) {
	toks, err := Tokenize(`"a\tb" 'it\'s' "A"`, "test")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a\tb", "it's", "A"}
	for i, w := range want {
		if toks[i].Literal != w {
			t.Errorf("string %d = %q, want %q", i, toks[i].Literal, w)
		}
	}
}

func TestScan_LineAndColumn(t *testing.T) {
	src := "var a = 1;\n// comment\n  /* block\n */ b"
	toks, err := Tokenize(src, "test")
	if err != nil {
		t.Fatal(err)
	}
	b := toks[len(toks)-2]
	if b.Lexeme != "b" || b.Line != 4 || b.Column != 5 {
		t.Errorf("b at %d:%d, want 4:5", b.Line, b.Column)
	}
	if b.Offset != len(src)-1 {
		t.Errorf("offset = %d, want %d", b.Offset, len(src)-1)
	}
}

func TestScan_Errors(t *testing.T) {
	tests := []struct {
		src       string
		line, col int
	}{
		{"var s = \"abc", 1, 9},
		{"a\n  @", 2, 3},
		{"/* open", 1, 1},
		{"12abc", 1, 1},
	}
	for _, tt := range tests {
		_, err := Tokenize(tt.src, "snip")
		se, ok := core.AsScriptError(err)
		if !ok {
			t.Fatalf("%q: err = %v, want ScriptError", tt.src, err)
		}
		if se.Kind != core.SyntaxError {
			t.Errorf("%q: kind = %v", tt.src, se.Kind)
		}
		if se.Location.Line != tt.line || se.Location.Column != tt.col {
			t.Errorf("%q: location %d:%d, want %d:%d", tt.src, se.Location.Line, se.Location.Column, tt.line, tt.col)
		}
		if se.Location.Snippet != "snip" {
			t.Errorf("%q: snippet = %q", tt.src, se.Location.Snippet)
		}
	}
}
