package value

import (
	"fmt"
	"math"
	"strings"
)

// TypeError is returned by operators applied to unsupported operand types.
type TypeError struct {
	Op    string
	A, B  Kind
	Unary bool
}

func (e *TypeError) Error() string {
	if e.Unary {
		return fmt.Sprintf("cannot apply unary %s to %s", e.Op, e.A)
	}
	return fmt.Sprintf("cannot apply %s to %s and %s", e.Op, e.A, e.B)
}

// numClass returns the promotion rank: 0 not numeric, 1 int, 2 int64, 3 double.
func numClass(v Value) int {
	switch v.kind {
	case KindBool, KindInt, KindNull:
		return 1
	case KindInt64:
		return 2
	case KindDouble:
		return 3
	}
	return 0
}

func checkNumeric(op string, a, b Value) (int, error) {
	ca, cb := numClass(a), numClass(b)
	if ca == 0 || cb == 0 {
		return 0, &TypeError{Op: op, A: a.kind, B: b.kind}
	}
	return max(ca, cb), nil
}

// Add implements "+": string concatenation when either operand is a
// string, numeric addition with widest-type promotion otherwise.
func Add(a, b Value) (Value, error) {
	if a.kind == KindString || b.kind == KindString {
		return Str(a.String() + b.String()), nil
	}
	if a.kind == KindUndefined || b.kind == KindUndefined {
		return undefinedValue, nil
	}
	c, err := checkNumeric("+", a, b)
	if err != nil {
		return undefinedValue, err
	}
	switch c {
	case 3:
		return Double(a.ToDouble() + b.ToDouble()), nil
	case 2:
		return Int64(a.i + b.i), nil
	}
	return Integer(a.i + b.i), nil
}

// Sub implements "-".
func Sub(a, b Value) (Value, error) {
	if a.kind == KindUndefined || b.kind == KindUndefined {
		return undefinedValue, checkString("-", a, b)
	}
	c, err := checkNumeric("-", a, b)
	if err != nil {
		return undefinedValue, err
	}
	switch c {
	case 3:
		return Double(a.ToDouble() - b.ToDouble()), nil
	case 2:
		return Int64(a.i - b.i), nil
	}
	return Integer(a.i - b.i), nil
}

// Mul implements "*".
func Mul(a, b Value) (Value, error) {
	if a.kind == KindUndefined || b.kind == KindUndefined {
		return undefinedValue, checkString("*", a, b)
	}
	c, err := checkNumeric("*", a, b)
	if err != nil {
		return undefinedValue, err
	}
	switch c {
	case 3:
		return Double(a.ToDouble() * b.ToDouble()), nil
	case 2:
		return Int64(a.i * b.i), nil
	}
	return Integer(a.i * b.i), nil
}

// Div implements "/". The result is always a double so integer division
// by zero yields Infinity rather than a fault.
func Div(a, b Value) (Value, error) {
	if a.kind == KindUndefined || b.kind == KindUndefined {
		return undefinedValue, checkString("/", a, b)
	}
	if _, err := checkNumeric("/", a, b); err != nil {
		return undefinedValue, err
	}
	return Double(a.ToDouble() / b.ToDouble()), nil
}

// Mod implements "%". Integer modulo by zero yields NaN.
func Mod(a, b Value) (Value, error) {
	if a.kind == KindUndefined || b.kind == KindUndefined {
		return undefinedValue, checkString("%", a, b)
	}
	c, err := checkNumeric("%", a, b)
	if err != nil {
		return undefinedValue, err
	}
	if c == 3 {
		return Double(math.Mod(a.ToDouble(), b.ToDouble())), nil
	}
	if b.i == 0 {
		return Double(math.NaN()), nil
	}
	if c == 2 {
		return Int64(a.i % b.i), nil
	}
	return Integer(a.i % b.i), nil
}

func checkString(op string, a, b Value) error {
	if a.kind == KindString || b.kind == KindString {
		return &TypeError{Op: op, A: a.kind, B: b.kind}
	}
	return nil
}

func bitwise(op string, a, b Value, fn func(x, y int64) int64) (Value, error) {
	c, err := checkNumeric(op, a, b)
	if err != nil {
		return undefinedValue, err
	}
	r := fn(a.ToInt64(), b.ToInt64())
	if c == 2 {
		return Int64(r), nil
	}
	return Int(int(int32(r))), nil
}

// BitAnd implements "&".
func BitAnd(a, b Value) (Value, error) {
	return bitwise("&", a, b, func(x, y int64) int64 { return x & y })
}

// BitOr implements "|".
func BitOr(a, b Value) (Value, error) {
	return bitwise("|", a, b, func(x, y int64) int64 { return x | y })
}

// BitXor implements "^".
func BitXor(a, b Value) (Value, error) {
	return bitwise("^", a, b, func(x, y int64) int64 { return x ^ y })
}

// Shl implements "<<".
func Shl(a, b Value) (Value, error) {
	return bitwise("<<", a, b, func(x, y int64) int64 { return int64(int32(x) << (uint32(y) & 31)) })
}

// Shr implements ">>".
func Shr(a, b Value) (Value, error) {
	return bitwise(">>", a, b, func(x, y int64) int64 { return int64(int32(x) >> (uint32(y) & 31)) })
}

// Neg implements unary "-".
func Neg(a Value) (Value, error) {
	switch a.kind {
	case KindInt, KindBool, KindNull:
		return Integer(-a.i), nil
	case KindInt64:
		return Int64(-a.i), nil
	case KindDouble:
		return Double(-a.f), nil
	case KindUndefined:
		return undefinedValue, nil
	}
	return undefinedValue, &TypeError{Op: "-", A: a.kind, Unary: true}
}

// BitNot implements unary "~".
func BitNot(a Value) (Value, error) {
	if numClass(a) == 0 {
		return undefinedValue, &TypeError{Op: "~", A: a.kind, Unary: true}
	}
	return Int(int(^int32(a.ToInt64()))), nil
}

// LooseEquals implements "==" with numeric promotion across Int, Int64 and
// Double.
func LooseEquals(a, b Value) bool {
	if a.IsVoid() || b.IsVoid() {
		return a.IsVoid() && b.IsVoid()
	}
	if a.IsReference() || b.IsReference() {
		return a.kind == b.kind && a.ref == b.ref
	}
	if a.kind == KindString && b.kind == KindString {
		return a.s == b.s
	}
	if a.kind == KindString || b.kind == KindString {
		return a.ToDouble() == b.ToDouble()
	}
	if numClass(a) == 3 || numClass(b) == 3 {
		return a.ToDouble() == b.ToDouble()
	}
	return a.i == b.i
}

// StrictEquals implements "===": the operands must have the same Kind,
// so 1 === 1.0 is false while 1 == 1.0 is true.
func StrictEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindBool, KindInt, KindInt64:
		return a.i == b.i
	case KindDouble:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	}
	return a.ref == b.ref
}

// Compare orders two values. ok is false when the operands are not
// comparable (undefined, NaN, references).
func Compare(a, b Value) (cmp int, ok bool) {
	if a.kind == KindString && b.kind == KindString {
		return strings.Compare(a.s, b.s), true
	}
	if a.IsReference() || b.IsReference() || a.kind == KindUndefined || b.kind == KindUndefined {
		return 0, false
	}
	if numClass(a) != 3 && numClass(b) != 3 && a.kind != KindString && b.kind != KindString {
		switch {
		case a.i < b.i:
			return -1, true
		case a.i > b.i:
			return 1, true
		}
		return 0, true
	}
	x, y := a.ToDouble(), b.ToDouble()
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}
	return 0, true
}
