package value

import "sort"

// Array is a reference-counted (shared) list of values.
type Array struct {
	Elems []Value
}

// NewArray creates an empty array with capacity n.
func NewArray(n int) *Array { return &Array{Elems: make([]Value, 0, n)} }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.Elems) }

// Get returns the element at i, or undefined when out of range.
func (a *Array) Get(i int) Value {
	if i < 0 || i >= len(a.Elems) {
		return undefinedValue
	}
	return a.Elems[i]
}

// Set stores v at i, growing the array with undefined as needed.
func (a *Array) Set(i int, v Value) {
	if i < 0 {
		return
	}
	for len(a.Elems) <= i {
		a.Elems = append(a.Elems, undefinedValue)
	}
	a.Elems[i] = v
}

// Push appends values and returns the new length.
func (a *Array) Push(vs ...Value) int {
	a.Elems = append(a.Elems, vs...)
	return len(a.Elems)
}

// IndexOf returns the first index whose element loosely equals v, or -1.
func (a *Array) IndexOf(v Value) int {
	for i, e := range a.Elems {
		if LooseEquals(e, v) {
			return i
		}
	}
	return -1
}

// Object is an insertion-ordered property bag. It backs dynamic objects,
// scopes and the root object.
type Object struct {
	keys  []string
	props map[string]Value
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{props: make(map[string]Value)}
}

// Len returns the number of properties.
func (o *Object) Len() int { return len(o.keys) }

// Get returns the property value and whether it exists.
func (o *Object) Get(name string) (Value, bool) {
	v, ok := o.props[name]
	return v, ok
}

// GetOr returns the property value or undefined.
func (o *Object) GetOr(name string) Value {
	return o.props[name]
}

// Has reports whether the property exists.
func (o *Object) Has(name string) bool {
	_, ok := o.props[name]
	return ok
}

// Set creates or overwrites a property.
func (o *Object) Set(name string, v Value) {
	if _, ok := o.props[name]; !ok {
		o.keys = append(o.keys, name)
	}
	o.props[name] = v
}

// Delete removes a property.
func (o *Object) Delete(name string) bool {
	if _, ok := o.props[name]; !ok {
		return false
	}
	delete(o.props, name)
	for i, k := range o.keys {
		if k == name {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns property names in insertion order. The slice must not be
// modified.
func (o *Object) Keys() []string { return o.keys }

// Clear removes all properties.
func (o *Object) Clear() {
	o.keys = nil
	o.props = make(map[string]Value)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
