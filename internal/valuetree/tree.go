// Package valuetree is a typed hierarchical property store with change
// listeners and an XML representation. DSP networks persist through it.
package valuetree

import (
	"strconv"

	"github.com/cryguy/hisescript/internal/value"
)

// Property is a named value of a tree node.
type Property struct {
	Name  string
	Value value.Value
}

// Listener receives changes of a node and all of its descendants.
type Listener interface {
	PropertyChanged(t *Tree, name string)
	ChildAdded(parent, child *Tree)
	ChildRemoved(parent, child *Tree, index int)
}

// Funcs adapts optional functions to Listener.
type Funcs struct {
	OnProperty     func(t *Tree, name string)
	OnChildAdded   func(parent, child *Tree)
	OnChildRemoved func(parent, child *Tree, index int)
}

func (f Funcs) PropertyChanged(t *Tree, name string) {
	if f.OnProperty != nil {
		f.OnProperty(t, name)
	}
}

func (f Funcs) ChildAdded(parent, child *Tree) {
	if f.OnChildAdded != nil {
		f.OnChildAdded(parent, child)
	}
}

func (f Funcs) ChildRemoved(parent, child *Tree, index int) {
	if f.OnChildRemoved != nil {
		f.OnChildRemoved(parent, child, index)
	}
}

type listenerEntry struct {
	id int
	l  Listener
}

// Tree is one node. It is not safe for concurrent mutation; structural
// edits happen on the message thread.
type Tree struct {
	Type     string
	props    []Property
	children []*Tree
	parent   *Tree

	listeners []listenerEntry
	nextID    int
}

// New creates an empty node of the given type.
func New(typ string) *Tree { return &Tree{Type: typ} }

func (t *Tree) propIndex(name string) int {
	for i := range t.props {
		if t.props[i].Name == name {
			return i
		}
	}
	return -1
}

// SetProperty sets name to v and notifies listeners when the value
// changed. It returns t for chaining.
func (t *Tree) SetProperty(name string, v value.Value) *Tree {
	if i := t.propIndex(name); i >= 0 {
		if value.StrictEquals(t.props[i].Value, v) {
			return t
		}
		t.props[i].Value = v
	} else {
		t.props = append(t.props, Property{name, v})
	}
	t.notify(func(l Listener) { l.PropertyChanged(t, name) })
	return t
}

// Property returns the value of name.
func (t *Tree) Property(name string) (value.Value, bool) {
	if i := t.propIndex(name); i >= 0 {
		return t.props[i].Value, true
	}
	return value.Undefined(), false
}

// HasProperty reports whether name is set.
func (t *Tree) HasProperty(name string) bool { return t.propIndex(name) >= 0 }

// String returns the property rendered as a string, or "".
func (t *Tree) String(name string) string {
	v, ok := t.Property(name)
	if !ok {
		return ""
	}
	return v.String()
}

// Double returns the property as a float64, or def when missing or not
// numeric.
func (t *Tree) Double(name string, def float64) float64 {
	v, ok := t.Property(name)
	if !ok {
		return def
	}
	if v.IsNumeric() || v.IsBool() {
		return v.ToDouble()
	}
	f, err := strconv.ParseFloat(v.String(), 64)
	if err != nil {
		return def
	}
	return f
}

// Int returns the property as an int, or def.
func (t *Tree) Int(name string, def int) int {
	v, ok := t.Property(name)
	if !ok {
		return def
	}
	if v.IsNumeric() || v.IsBool() {
		return v.ToInt()
	}
	i, err := strconv.Atoi(v.String())
	if err != nil {
		return def
	}
	return i
}

// Bool returns the property as a bool. String values "1" and "true" are
// true.
func (t *Tree) Bool(name string, def bool) bool {
	v, ok := t.Property(name)
	if !ok {
		return def
	}
	if v.IsString() {
		s := v.String()
		return s == "1" || s == "true"
	}
	return v.ToBool()
}

// RemoveProperty deletes name.
func (t *Tree) RemoveProperty(name string) {
	i := t.propIndex(name)
	if i < 0 {
		return
	}
	t.props = append(t.props[:i], t.props[i+1:]...)
	t.notify(func(l Listener) { l.PropertyChanged(t, name) })
}

// Properties returns the properties in insertion order.
func (t *Tree) Properties() []Property { return t.props }

// Parent returns the parent node, or nil.
func (t *Tree) Parent() *Tree { return t.parent }

// Root returns the topmost ancestor.
func (t *Tree) Root() *Tree {
	r := t
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// NumChildren returns the number of children.
func (t *Tree) NumChildren() int { return len(t.children) }

// Child returns the child at i, or nil.
func (t *Tree) Child(i int) *Tree {
	if i < 0 || i >= len(t.children) {
		return nil
	}
	return t.children[i]
}

// Children returns the children in order.
func (t *Tree) Children() []*Tree { return t.children }

// IndexOf returns the position of child, or -1.
func (t *Tree) IndexOf(child *Tree) int {
	for i, c := range t.children {
		if c == child {
			return i
		}
	}
	return -1
}

// IsAncestorOf reports whether t contains other at any depth.
func (t *Tree) IsAncestorOf(other *Tree) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == t {
			return true
		}
	}
	return false
}

// AddChild inserts child at index (-1 appends), detaching it from its
// previous parent first.
func (t *Tree) AddChild(child *Tree, index int) {
	if child == t || child.IsAncestorOf(t) {
		return
	}
	if child.parent != nil {
		child.parent.RemoveChild(child)
	}
	if index < 0 || index > len(t.children) {
		index = len(t.children)
	}
	t.children = append(t.children, nil)
	copy(t.children[index+1:], t.children[index:])
	t.children[index] = child
	child.parent = t
	t.notify(func(l Listener) { l.ChildAdded(t, child) })
}

// RemoveChild detaches child. It reports whether child was present.
func (t *Tree) RemoveChild(child *Tree) bool {
	i := t.IndexOf(child)
	if i < 0 {
		return false
	}
	t.children = append(t.children[:i], t.children[i+1:]...)
	child.parent = nil
	t.notify(func(l Listener) { l.ChildRemoved(t, child, i) })
	return true
}

// ChildWithName returns the first direct child of the given type.
func (t *Tree) ChildWithName(typ string) *Tree {
	for _, c := range t.children {
		if c.Type == typ {
			return c
		}
	}
	return nil
}

// GetOrCreateChild returns the first child of type typ, appending a new
// one when missing.
func (t *Tree) GetOrCreateChild(typ string) *Tree {
	if c := t.ChildWithName(typ); c != nil {
		return c
	}
	c := New(typ)
	t.AddChild(c, -1)
	return c
}

// ChildWithProperty returns the first direct child whose property name
// loosely equals v.
func (t *Tree) ChildWithProperty(name string, v value.Value) *Tree {
	for _, c := range t.children {
		if p, ok := c.Property(name); ok && value.LooseEquals(p, v) {
			return c
		}
	}
	return nil
}

// FindRecursive returns the first node below t (depth first, t
// excluded) of type typ whose property name equals v.
func (t *Tree) FindRecursive(typ, name string, v value.Value) *Tree {
	var found *Tree
	t.Walk(func(n *Tree) bool {
		if n == t || found != nil {
			return found == nil
		}
		if n.Type == typ {
			if p, ok := n.Property(name); ok && value.LooseEquals(p, v) {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

// Walk visits t and its descendants depth first. Returning false from fn
// skips the node's children.
func (t *Tree) Walk(fn func(*Tree) bool) {
	if !fn(t) {
		return
	}
	for _, c := range append([]*Tree(nil), t.children...) {
		c.Walk(fn)
	}
}

// Clone returns a deep copy without parent or listeners.
func (t *Tree) Clone() *Tree {
	c := &Tree{Type: t.Type, props: append([]Property(nil), t.props...)}
	for _, ch := range t.children {
		cc := ch.Clone()
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}

// AddListener registers l for changes of t and its descendants and
// returns a function that removes it.
func (t *Tree) AddListener(l Listener) (remove func()) {
	id := t.nextID
	t.nextID++
	t.listeners = append(t.listeners, listenerEntry{id, l})
	return func() {
		for i, e := range t.listeners {
			if e.id == id {
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

// notify calls fn for the listeners of t and every ancestor.
func (t *Tree) notify(fn func(Listener)) {
	for n := t; n != nil; n = n.parent {
		for _, e := range append([]listenerEntry(nil), n.listeners...) {
			fn(e.l)
		}
	}
}
