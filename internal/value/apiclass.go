package value

import "fmt"

// MaxApiSlots is the number of function slots of an ApiClass.
const MaxApiSlots = 60

// ApiFunction is one native call slot. NumArgs < 0 accepts any count.
type ApiFunction struct {
	Name    string
	NumArgs int
	Fn      func(args []Value) (Value, error)
}

type apiConstant struct {
	name  string
	value Value
}

// ApiClass is a native module (Math, Engine, Console, ...) with a fixed
// table of functions and constants. The parser resolves calls to slot
// indices so dispatch at runtime is a direct function-pointer call.
type ApiClass struct {
	Name      string
	constants []apiConstant
	functions [MaxApiSlots]ApiFunction
	numFns    int
}

// NewApiClass creates an empty class.
func NewApiClass(name string) *ApiClass {
	return &ApiClass{Name: name}
}

// AddConstant registers a named constant.
func (c *ApiClass) AddConstant(name string, v Value) *ApiClass {
	for i := range c.constants {
		if c.constants[i].name == name {
			c.constants[i].value = v
			return c
		}
	}
	c.constants = append(c.constants, apiConstant{name: name, value: v})
	return c
}

// AddFunction registers a function in the next free slot. It panics when
// the slot table is full: class tables are static and built at startup.
func (c *ApiClass) AddFunction(name string, numArgs int, fn func(args []Value) (Value, error)) *ApiClass {
	if c.numFns >= MaxApiSlots {
		panic(fmt.Sprintf("api class %s: more than %d functions", c.Name, MaxApiSlots))
	}
	c.functions[c.numFns] = ApiFunction{Name: name, NumArgs: numArgs, Fn: fn}
	c.numFns++
	return c
}

// Constant looks up a constant by name.
func (c *ApiClass) Constant(name string) (Value, bool) {
	for _, k := range c.constants {
		if k.name == name {
			return k.value, true
		}
	}
	return undefinedValue, false
}

// FunctionIndex resolves a function name to its slot.
func (c *ApiClass) FunctionIndex(name string) (slot, numArgs int, ok bool) {
	for i := 0; i < c.numFns; i++ {
		if c.functions[i].Name == name {
			return i, c.functions[i].NumArgs, true
		}
	}
	return -1, 0, false
}

// Function returns the function stored at slot.
func (c *ApiClass) Function(slot int) *ApiFunction {
	return &c.functions[slot]
}

// NumFunctions returns the number of used slots.
func (c *ApiClass) NumFunctions() int { return c.numFns }

// FunctionNames lists the registered function names in slot order.
func (c *ApiClass) FunctionNames() []string {
	names := make([]string, c.numFns)
	for i := 0; i < c.numFns; i++ {
		names[i] = c.functions[i].Name
	}
	return names
}
