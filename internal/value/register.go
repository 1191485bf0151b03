package value

import "fmt"

// NumRegisters is the fixed slot count of a VarRegister.
const NumRegisters = 32

// VarRegister is a fixed-size slot array for "reg" variables. Slots are
// addressed by index so reads and writes bypass any hash lookup.
type VarRegister struct {
	names  [NumRegisters]string
	values [NumRegisters]Value
	n      int
}

// Add declares name and returns its slot. Redeclaring returns the
// existing slot.
func (r *VarRegister) Add(name string) (int, error) {
	if i := r.Index(name); i >= 0 {
		return i, nil
	}
	if r.n >= NumRegisters {
		return -1, fmt.Errorf("all %d register slots are in use", NumRegisters)
	}
	r.names[r.n] = name
	r.n++
	return r.n - 1, nil
}

// Index returns the slot of name, or -1.
func (r *VarRegister) Index(name string) int {
	for i := 0; i < r.n; i++ {
		if r.names[i] == name {
			return i
		}
	}
	return -1
}

// Len returns the number of declared registers.
func (r *VarRegister) Len() int { return r.n }

// Name returns the name declared at slot.
func (r *VarRegister) Name(slot int) string { return r.names[slot] }

// Get reads a slot.
func (r *VarRegister) Get(slot int) Value { return r.values[slot] }

// Set writes a slot.
func (r *VarRegister) Set(slot int, v Value) { r.values[slot] = v }

// Reset clears all values but keeps the declarations.
func (r *VarRegister) Reset() {
	for i := range r.values {
		r.values[i] = undefinedValue
	}
}
