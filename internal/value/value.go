// Package value implements the dynamically typed value model shared by the
// script interpreter and its native API classes.
package value

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindInt
	KindInt64
	KindDouble
	KindString
	KindArray
	KindObject
	KindFunction
)

var kindNames = [...]string{"undefined", "null", "bool", "int", "int64", "double", "string", "array", "object", "function"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Value is a tagged union over the script types. Arrays, objects and
// functions are held by reference: copying a Value copies the handle.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	ref  any
}

// Callable is implemented by every function value. The interpreter
// recognises its own function types; NativeFunction is called directly.
type Callable interface {
	FunctionName() string
}

// NativeFunction is a host-implemented function value. NumArgs < 0 accepts
// any number of arguments.
type NativeFunction struct {
	Name    string
	NumArgs int
	Fn      func(this Value, args []Value) (Value, error)
}

// FunctionName implements Callable.
func (n *NativeFunction) FunctionName() string { return n.Name }

var (
	undefinedValue = Value{kind: KindUndefined}
	nullValue      = Value{kind: KindNull}
)

// Undefined returns the undefined value. The zero Value is also undefined.
func Undefined() Value { return undefinedValue }

// Null returns the null value.
func Null() Value { return nullValue }

// Bool wraps a bool.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// Int wraps a 32-bit integer.
func Int(i int) Value { return Value{kind: KindInt, i: int64(int32(i))} }

// Int64 wraps a 64-bit integer.
func Int64(i int64) Value { return Value{kind: KindInt64, i: i} }

// Integer wraps i as Int when it fits in 32 bits and as Int64 otherwise.
func Integer(i int64) Value {
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		return Value{kind: KindInt, i: i}
	}
	return Value{kind: KindInt64, i: i}
}

// Double wraps a float64.
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// Str wraps a string.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// ArrayValue wraps an array handle.
func ArrayValue(a *Array) Value {
	if a == nil {
		return nullValue
	}
	return Value{kind: KindArray, ref: a}
}

// ObjectValue wraps an object handle.
func ObjectValue(o *Object) Value {
	if o == nil {
		return nullValue
	}
	return Value{kind: KindObject, ref: o}
}

// FunctionValue wraps a callable.
func FunctionValue(c Callable) Value {
	if c == nil {
		return nullValue
	}
	return Value{kind: KindFunction, ref: c}
}

// Native creates a native function value.
func Native(name string, numArgs int, fn func(this Value, args []Value) (Value, error)) Value {
	return FunctionValue(&NativeFunction{Name: name, NumArgs: numArgs, Fn: fn})
}

// NewArrayOf creates an array value holding elems.
func NewArrayOf(elems ...Value) Value {
	return ArrayValue(&Array{Elems: elems})
}

// Kind returns the type tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsVoid() bool      { return v.kind == KindUndefined || v.kind == KindNull }
func (v Value) IsBool() bool      { return v.kind == KindBool }
func (v Value) IsString() bool    { return v.kind == KindString }
func (v Value) IsArray() bool     { return v.kind == KindArray }
func (v Value) IsObject() bool    { return v.kind == KindObject }
func (v Value) IsFunction() bool  { return v.kind == KindFunction }
func (v Value) IsDouble() bool    { return v.kind == KindDouble }

// IsInteger reports whether v holds an Int or Int64.
func (v Value) IsInteger() bool { return v.kind == KindInt || v.kind == KindInt64 }

// IsNumeric reports whether v holds Int, Int64 or Double.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindInt64 || v.kind == KindDouble
}

// IsReference reports whether v is shared by reference.
func (v Value) IsReference() bool {
	return v.kind == KindArray || v.kind == KindObject || v.kind == KindFunction
}

// Array returns the array handle or nil.
func (v Value) Array() *Array {
	a, _ := v.ref.(*Array)
	return a
}

// Object returns the object handle or nil.
func (v Value) Object() *Object {
	o, _ := v.ref.(*Object)
	return o
}

// Callable returns the function handle or nil.
func (v Value) Callable() Callable {
	c, _ := v.ref.(Callable)
	return c
}

// Ref returns the raw reference payload (array, object or function).
func (v Value) Ref() any { return v.ref }

// ToBool converts with script truthiness rules.
func (v Value) ToBool() bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return false
	case KindBool, KindInt, KindInt64:
		return v.i != 0
	case KindDouble:
		return v.f != 0 && !math.IsNaN(v.f)
	case KindString:
		return v.s != ""
	default:
		return true
	}
}

// ToInt64 converts to a 64-bit integer, truncating doubles.
func (v Value) ToInt64() int64 {
	switch v.kind {
	case KindBool, KindInt, KindInt64:
		return v.i
	case KindDouble:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return 0
		}
		return int64(v.f)
	case KindString:
		s := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

// ToInt converts to a 32-bit integer.
func (v Value) ToInt() int { return int(int32(v.ToInt64())) }

// ToDouble converts to float64. Unparseable strings and undefined give NaN.
func (v Value) ToDouble() float64 {
	switch v.kind {
	case KindBool, KindInt, KindInt64:
		return float64(v.i)
	case KindDouble:
		return v.f
	case KindNull:
		return 0
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

// String renders v the way Console.print shows it.
func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case KindInt, KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return FormatNumber(v.f)
	case KindString:
		return v.s
	case KindFunction:
		return "function " + v.Callable().FunctionName()
	default:
		return ToJSON(v)
	}
}

// TypeOf returns the typeof operator name.
func (v Value) TypeOf() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindBool:
		return "boolean"
	case KindInt, KindInt64, KindDouble:
		return "number"
	case KindString:
		return "string"
	case KindFunction:
		return "function"
	default:
		return "object"
	}
}

// FormatNumber renders a double with a stable, round-trippable decimal
// representation.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FromGo converts a Go value into a Value. Unsupported types become undefined.
func FromGo(x any) Value {
	switch t := x.(type) {
	case nil:
		return nullValue
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Integer(int64(t))
	case int32:
		return Int(int(t))
	case int64:
		return Int64(t)
	case float32:
		return Double(float64(t))
	case float64:
		return Double(t)
	case string:
		return Str(t)
	case []Value:
		return NewArrayOf(t...)
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			elems[i] = FromGo(e)
		}
		return NewArrayOf(elems...)
	case []float64:
		elems := make([]Value, len(t))
		for i, e := range t {
			elems[i] = Double(e)
		}
		return NewArrayOf(elems...)
	case map[string]any:
		o := NewObject()
		for _, k := range sortedKeys(t) {
			o.Set(k, FromGo(t[k]))
		}
		return ObjectValue(o)
	case *Array:
		return ArrayValue(t)
	case *Object:
		return ObjectValue(t)
	case Callable:
		return FunctionValue(t)
	}
	return undefinedValue
}

// ToGo converts v to plain Go values (nil, bool, int64, float64, string,
// []any, map[string]any). Functions convert to their name.
func ToGo(v Value) any {
	return toGo(v, make(map[any]bool))
}

func toGo(v Value, seen map[any]bool) any {
	switch v.kind {
	case KindUndefined, KindNull:
		return nil
	case KindBool:
		return v.i != 0
	case KindInt, KindInt64:
		return v.i
	case KindDouble:
		return v.f
	case KindString:
		return v.s
	case KindFunction:
		return v.Callable().FunctionName()
	}
	if seen[v.ref] {
		return nil
	}
	seen[v.ref] = true
	defer delete(seen, v.ref)
	if a := v.Array(); a != nil {
		out := make([]any, len(a.Elems))
		for i, e := range a.Elems {
			out[i] = toGo(e, seen)
		}
		return out
	}
	o := v.Object()
	out := make(map[string]any, o.Len())
	for _, k := range o.Keys() {
		p, _ := o.Get(k)
		out[k] = toGo(p, seen)
	}
	return out
}
