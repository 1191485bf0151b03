package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ToJSON renders v as JSON. Cycles are rendered as null; functions as
// their name in quotes.
func ToJSON(v Value) string {
	var buf bytes.Buffer
	writeJSON(&buf, v, make(map[any]bool))
	return buf.String()
}

func writeJSON(buf *bytes.Buffer, v Value, seen map[any]bool) {
	switch v.kind {
	case KindUndefined, KindNull:
		buf.WriteString("null")
	case KindBool, KindInt, KindInt64:
		buf.WriteString(v.String())
	case KindDouble:
		s := FormatNumber(v.f)
		if s == "NaN" || s == "Infinity" || s == "-Infinity" {
			s = "null"
		}
		buf.WriteString(s)
	case KindString:
		buf.WriteString(strconv.Quote(v.s))
	case KindFunction:
		buf.WriteString(strconv.Quote("function " + v.Callable().FunctionName()))
	case KindArray:
		if seen[v.ref] {
			buf.WriteString("null")
			return
		}
		seen[v.ref] = true
		buf.WriteByte('[')
		for i, e := range v.Array().Elems {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeJSON(buf, e, seen)
		}
		buf.WriteByte(']')
		delete(seen, v.ref)
	case KindObject:
		if seen[v.ref] {
			buf.WriteString("null")
			return
		}
		seen[v.ref] = true
		o := v.Object()
		buf.WriteByte('{')
		for i, k := range o.Keys() {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(strconv.Quote(k))
			buf.WriteString(": ")
			writeJSON(buf, o.GetOr(k), seen)
		}
		buf.WriteByte('}')
		delete(seen, v.ref)
	}
}

// ParseJSON decodes a JSON document into a Value. Integral numbers become
// Int/Int64, everything else Double.
func ParseJSON(src string) (Value, error) {
	dec := json.NewDecoder(bytes.NewBufferString(src))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return undefinedValue, fmt.Errorf("parsing JSON: %w", err)
	}
	return fromJSON(x), nil
}

func fromJSON(x any) Value {
	switch t := x.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Integer(i)
		}
		f, _ := t.Float64()
		return Double(f)
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			elems[i] = fromJSON(e)
		}
		return NewArrayOf(elems...)
	case map[string]any:
		o := NewObject()
		for _, k := range sortedKeys(t) {
			o.Set(k, fromJSON(t[k]))
		}
		return ObjectValue(o)
	}
	return FromGo(x)
}

// Clone returns a deep copy of arrays and objects; other values are
// returned as is. Cycles are preserved.
func Clone(v Value) Value {
	return clone(v, make(map[any]Value))
}

func clone(v Value, done map[any]Value) Value {
	if v.kind != KindArray && v.kind != KindObject {
		return v
	}
	if c, ok := done[v.ref]; ok {
		return c
	}
	if a := v.Array(); a != nil {
		na := &Array{Elems: make([]Value, len(a.Elems))}
		nv := ArrayValue(na)
		done[v.ref] = nv
		for i, e := range a.Elems {
			na.Elems[i] = clone(e, done)
		}
		return nv
	}
	o := v.Object()
	no := NewObject()
	nv := ObjectValue(no)
	done[v.ref] = nv
	for _, k := range o.Keys() {
		no.Set(k, clone(o.GetOr(k), done))
	}
	return nv
}
