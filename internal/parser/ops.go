package parser

import (
	"fmt"

	"github.com/cryguy/hisescript/internal/lexer"
	"github.com/cryguy/hisescript/internal/value"
)

// BinaryOp applies a binary operator token to two evaluated operands.
// It is shared by the interpreter and the constant folder so both agree
// on the arithmetic rules.
func BinaryOp(op lexer.TokenType, a, b value.Value) (value.Value, error) {
	switch op {
	case lexer.Plus, lexer.PlusAssign:
		return value.Add(a, b)
	case lexer.Minus, lexer.MinusAssign:
		return value.Sub(a, b)
	case lexer.Star, lexer.StarAssign:
		return value.Mul(a, b)
	case lexer.Slash, lexer.SlashAssign:
		return value.Div(a, b)
	case lexer.Percent, lexer.PercentAssign:
		return value.Mod(a, b)
	case lexer.BitAnd, lexer.AndAssign:
		return value.BitAnd(a, b)
	case lexer.BitOr, lexer.OrAssign:
		return value.BitOr(a, b)
	case lexer.BitXor, lexer.XorAssign:
		return value.BitXor(a, b)
	case lexer.Shl, lexer.ShlAssign:
		return value.Shl(a, b)
	case lexer.Shr, lexer.ShrAssign:
		return value.Shr(a, b)
	case lexer.Equal:
		return value.Bool(value.LooseEquals(a, b)), nil
	case lexer.NotEqual:
		return value.Bool(!value.LooseEquals(a, b)), nil
	case lexer.StrictEqual:
		return value.Bool(value.StrictEquals(a, b)), nil
	case lexer.StrictNotEqual:
		return value.Bool(!value.StrictEquals(a, b)), nil
	case lexer.Less, lexer.LessEqual, lexer.Greater, lexer.GreaterEqual:
		c, ok := value.Compare(a, b)
		if !ok {
			return value.Bool(false), nil
		}
		switch op {
		case lexer.Less:
			return value.Bool(c < 0), nil
		case lexer.LessEqual:
			return value.Bool(c <= 0), nil
		case lexer.Greater:
			return value.Bool(c > 0), nil
		}
		return value.Bool(c >= 0), nil
	}
	return value.Undefined(), fmt.Errorf("unsupported operator %s", op)
}

// UnaryOp applies a prefix operator.
func UnaryOp(op lexer.TokenType, x value.Value) (value.Value, error) {
	switch op {
	case lexer.Minus:
		return value.Neg(x)
	case lexer.Plus:
		if x.IsNumeric() {
			return x, nil
		}
		return value.Double(x.ToDouble()), nil
	case lexer.Not:
		return value.Bool(!x.ToBool()), nil
	case lexer.BitNot:
		return value.BitNot(x)
	}
	return value.Undefined(), fmt.Errorf("unsupported operator %s", op)
}

// IsAssignable reports whether e may appear on the left of an assignment.
func IsAssignable(e Expr) bool {
	switch e.(type) {
	case *UnqualifiedName, *RegisterRef, *GlobalRef, *LocalRef, *InlineArgRef,
		*CallbackParamRef, *Member, *Index:
		return true
	}
	return false
}
