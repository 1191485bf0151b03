package value

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestAdd_Promotion(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		kind Kind
		want string
	}{
		{"int+int", Int(2), Int(3), KindInt, "5"},
		{"int+double", Int(2), Double(0.5), KindDouble, "2.5"},
		{"int64+int", Int64(1 << 40), Int(1), KindInt64, "1099511627777"},
		{"int64+double", Int64(10), Double(0.25), KindDouble, "10.25"},
		{"int overflow", Int(math.MaxInt32), Int(1), KindInt64, "2147483648"},
		{"string+int", Str("a"), Int(1), KindString, "a1"},
		{"int+string", Int(1), Str("a"), KindString, "1a"},
		{"bool+int", Bool(true), Int(1), KindInt, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Add(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			if got.Kind() != tt.kind {
				t.Errorf("kind = %v, want %v", got.Kind(), tt.kind)
			}
			if got.String() != tt.want {
				t.Errorf("value = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestArithmetic_StringOperandIsTypeError(t *testing.T) {
	ops := map[string]func(a, b Value) (Value, error){
		"-": Sub, "*": Mul, "/": Div, "%": Mod, "&": BitAnd,
	}
	for name, op := range ops {
		_, err := op(Str("x"), Int(1))
		var te *TypeError
		if !errors.As(err, &te) {
			t.Errorf("%s: err = %v, want TypeError", name, err)
		}
	}
}

func TestDiv_AlwaysDouble(t *testing.T) {
	v, _ := Div(Int(4), Int(2))
	if v.Kind() != KindDouble || v.ToDouble() != 2 {
		t.Errorf("4/2 = %v (%v), want double 2", v, v.Kind())
	}
	v, _ = Div(Int(1), Int(0))
	if !math.IsInf(v.ToDouble(), 1) {
		t.Errorf("1/0 = %v, want Infinity", v)
	}
}

func TestMod_ByZeroIsNaN(t *testing.T) {
	v, _ := Mod(Int(5), Int(0))
	if !math.IsNaN(v.ToDouble()) {
		t.Errorf("5%%0 = %v, want NaN", v)
	}
	v, _ = Mod(Int(7), Int(3))
	if v.Kind() != KindInt || v.ToInt() != 1 {
		t.Errorf("7%%3 = %v, want int 1", v)
	}
}

func TestStrictEquals_DistinguishesNumericSubtype(t *testing.T) {
	if StrictEquals(Int(1), Double(1)) {
		t.Error("1 === 1.0 should be false")
	}
	if !LooseEquals(Int(1), Double(1)) {
		t.Error("1 == 1.0 should be true")
	}
	if StrictEquals(Int(1), Int64(1)) {
		t.Error("int === int64 should be false")
	}
	if !StrictEquals(Str("a"), Str("a")) {
		t.Error(`"a" === "a" should be true`)
	}
	a := NewArrayOf(Int(1))
	b := NewArrayOf(Int(1))
	if StrictEquals(a, b) || LooseEquals(a, b) {
		t.Error("distinct arrays compare by reference")
	}
	if !StrictEquals(a, a) {
		t.Error("same array handle should be equal")
	}
	if !LooseEquals(Undefined(), Null()) || StrictEquals(Undefined(), Null()) {
		t.Error("undefined == null but not ===")
	}
}

func TestCompare(t *testing.T) {
	if c, ok := Compare(Int(1), Double(1.5)); !ok || c != -1 {
		t.Errorf("Compare(1, 1.5) = %d, %v", c, ok)
	}
	if c, ok := Compare(Str("b"), Str("a")); !ok || c != 1 {
		t.Errorf("Compare(b, a) = %d, %v", c, ok)
	}
	if _, ok := Compare(Undefined(), Int(1)); ok {
		t.Error("undefined should not compare")
	}
}

func TestArrayAndObjectShareByReference(t *testing.T) {
	a := NewArrayOf(Int(1))
	b := a
	b.Array().Push(Int(2))
	if a.Array().Len() != 2 {
		t.Errorf("len = %d, want 2", a.Array().Len())
	}

	o := NewObject()
	o.Set("x", Int(1))
	o.Set("y", Int(2))
	o.Set("x", Int(3))
	if got := o.Keys(); len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("keys = %v, want [x y]", got)
	}
	o.Delete("x")
	if o.Has("x") || o.Len() != 1 {
		t.Error("delete failed")
	}
}

func TestFormatNumber_Stable(t *testing.T) {
	tests := map[float64]string{
		0.5:     "0.5",
		1:       "1",
		-2.25:   "-2.25",
		1e-7:    "1e-07",
		0.1:     "0.1",
		1234567: "1234567",
	}
	for in, want := range tests {
		if got := FormatNumber(in); got != want {
			t.Errorf("FormatNumber(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestToJSON_HandlesCycles(t *testing.T) {
	o := NewObject()
	ov := ObjectValue(o)
	o.Set("self", ov)
	o.Set("n", Int(1))
	if got := ToJSON(ov); got != `{"self": null, "n": 1}` {
		t.Errorf("ToJSON = %s", got)
	}
}

func TestParseJSON(t *testing.T) {
	v, err := ParseJSON(`{"a": [1, 2.5, "x"], "b": true}`)
	if err != nil {
		t.Fatal(err)
	}
	arr := v.Object().GetOr("a").Array()
	if arr.Get(0).Kind() != KindInt || arr.Get(1).Kind() != KindDouble {
		t.Errorf("kinds = %v, %v", arr.Get(0).Kind(), arr.Get(1).Kind())
	}
	if !v.Object().GetOr("b").ToBool() {
		t.Error("b should be true")
	}
}

func TestClone_DeepCopy(t *testing.T) {
	inner := NewArrayOf(Int(1))
	outer := NewArrayOf(inner, inner)
	c := Clone(outer)
	c.Array().Get(0).Array().Push(Int(2))
	if inner.Array().Len() != 1 {
		t.Error("clone mutated original")
	}
	if c.Array().Get(0).Ref() != c.Array().Get(1).Ref() {
		t.Error("clone should preserve shared handles")
	}
}

func TestVarRegister(t *testing.T) {
	var r VarRegister
	slot, err := r.Add("x")
	if err != nil || slot != 0 {
		t.Fatalf("Add = %d, %v", slot, err)
	}
	if again, _ := r.Add("x"); again != slot {
		t.Errorf("re-add slot = %d, want %d", again, slot)
	}
	r.Set(slot, Int(5))
	if r.Get(slot).ToInt() != 5 {
		t.Error("register value not stored")
	}
	for i := 1; i < NumRegisters; i++ {
		if _, err := r.Add(fmt.Sprintf("r%d", i)); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if r.Len() != NumRegisters {
		t.Errorf("Len = %d, want %d", r.Len(), NumRegisters)
	}
	if _, err := r.Add("overflow"); err == nil {
		t.Error("expected error when slots are exhausted")
	}
}

func TestApiClass_SlotResolution(t *testing.T) {
	c := NewApiClass("Test")
	c.AddConstant("PI", Double(math.Pi))
	c.AddFunction("twice", 1, func(args []Value) (Value, error) {
		return Mul(args[0], Int(2))
	})
	slot, n, ok := c.FunctionIndex("twice")
	if !ok || slot != 0 || n != 1 {
		t.Fatalf("FunctionIndex = %d, %d, %v", slot, n, ok)
	}
	got, err := c.Function(slot).Fn([]Value{Int(4)})
	if err != nil || got.ToInt() != 8 {
		t.Errorf("twice(4) = %v, %v", got, err)
	}
	if v, ok := c.Constant("PI"); !ok || v.ToDouble() != math.Pi {
		t.Errorf("PI = %v", v)
	}
}
