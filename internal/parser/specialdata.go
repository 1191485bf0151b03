package parser

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/value"
)

// Storage classes a name can be declared in.
const (
	storageNone     = ""
	storageRegister = "register"
	storageConst    = "const"
	storageInline   = "inline function"
	storageFunction = "function"
	storageGlobal   = "global"
)

type constSlot struct {
	name        string
	value       value.Value
	initialised bool
	folded      value.Value
	hasFolded   bool
}

// Namespace owns the register, const and inline function storage of a
// user namespace. The unnamed root namespace holds top-level declarations.
type Namespace struct {
	Name      string
	Registers value.VarRegister

	consts    []constSlot
	inlines   map[string]*InlineFunction
	functions map[string]bool

	// Object holds the plain functions declared inside the namespace.
	Object *value.Object
}

func newNamespace(name string) *Namespace {
	return &Namespace{
		Name:      name,
		inlines:   make(map[string]*InlineFunction),
		functions: make(map[string]bool),
		Object:    value.NewObject(),
	}
}

func (ns *Namespace) storageOf(name string) string {
	switch {
	case ns.Registers.Index(name) >= 0:
		return storageRegister
	case ns.constIndex(name) >= 0:
		return storageConst
	case ns.inlines[name] != nil:
		return storageInline
	case ns.functions[name]:
		return storageFunction
	}
	return storageNone
}

func (ns *Namespace) constIndex(name string) int {
	for i := range ns.consts {
		if ns.consts[i].name == name {
			return i
		}
	}
	return -1
}

// NumConsts returns the number of declared consts.
func (ns *Namespace) NumConsts() int { return len(ns.consts) }

// ConstName returns the name of the const at slot.
func (ns *Namespace) ConstName(slot int) string { return ns.consts[slot].name }

// Const returns the value of the const at slot.
func (ns *Namespace) Const(slot int) value.Value { return ns.consts[slot].value }

// ConstInitialised reports whether the const at slot has been assigned.
func (ns *Namespace) ConstInitialised(slot int) bool { return ns.consts[slot].initialised }

// InitConst assigns the const at slot. A second initialisation fails.
func (ns *Namespace) InitConst(slot int, v value.Value) error {
	c := &ns.consts[slot]
	if c.initialised {
		return fmt.Errorf("const %s is already initialised", c.name)
	}
	c.value = v
	c.initialised = true
	return nil
}

// ResetConsts clears const values so the init code can run again.
func (ns *Namespace) ResetConsts() {
	for i := range ns.consts {
		ns.consts[i].value = value.Undefined()
		ns.consts[i].initialised = false
	}
}

// Inline returns the inline function declared under name.
func (ns *Namespace) Inline(name string) *InlineFunction { return ns.inlines[name] }

// InlineFunction is a function executed without a scope object: its
// arguments and locals live in fixed slots.
type InlineFunction struct {
	Name       string
	NS         *Namespace
	Params     []string
	LocalNames []string
	Body       *Block
	Snippet    string
	P          Pos
}

// FunctionName implements value.Callable.
func (f *InlineFunction) FunctionName() string {
	if f.NS != nil && f.NS.Name != "" {
		return f.NS.Name + "." + f.Name
	}
	return f.Name
}

func (f *InlineFunction) localSlot(name string, create bool) int {
	for i, n := range f.LocalNames {
		if n == name {
			return i
		}
	}
	if !create {
		return -1
	}
	f.LocalNames = append(f.LocalNames, name)
	return len(f.LocalNames) - 1
}

// Callback is a fixed callback slot. The host writes parameters into
// Params and runs Body without any name lookup.
type Callback struct {
	ID         core.CallbackID
	Name       string
	ParamNames []string
	Params     [core.MaxCallbackParameters]value.Value
	LocalNames []string
	Locals     []value.Value
	Body       *Block
	Defined    bool
	P          Pos

	lastExecution atomic.Int64
	bufferTime    atomic.Uint64
}

// NumParams returns the number of declared parameters.
func (c *Callback) NumParams() int { return len(c.ParamNames) }

// SetParam writes a parameter slot.
func (c *Callback) SetParam(i int, v value.Value) { c.Params[i] = v }

// FunctionName implements value.Callable.
func (c *Callback) FunctionName() string { return c.Name }

// RecordExecution stores the duration of the last run and its share of
// the audio buffer duration.
func (c *Callback) RecordExecution(d, bufferDuration time.Duration) {
	c.lastExecution.Store(int64(d))
	if bufferDuration > 0 {
		c.bufferTime.Store(math.Float64bits(float64(d) / float64(bufferDuration)))
	}
}

// LastExecutionTime returns the duration of the last run.
func (c *Callback) LastExecutionTime() time.Duration {
	return time.Duration(c.lastExecution.Load())
}

// BufferTime returns the last run's fraction of the audio buffer duration.
func (c *Callback) BufferTime() float64 {
	return math.Float64frombits(c.bufferTime.Load())
}

func (c *Callback) localSlot(name string, create bool) int {
	for i, n := range c.LocalNames {
		if n == name {
			return i
		}
	}
	if !create {
		return -1
	}
	c.LocalNames = append(c.LocalNames, name)
	return len(c.LocalNames) - 1
}

// SpecialData is the per-instance storage the parser resolves names
// against: namespaces with their registers, consts and inline functions,
// the callback slots and the native API classes.
type SpecialData struct {
	Root *Namespace

	namespaces    map[string]*Namespace
	nsOrder       []*Namespace
	callbacks     []*Callback
	callbackIndex map[string]int
	apiClasses    map[string]*value.ApiClass
	globalNames   map[string]bool
}

// NewSpecialData creates the storage for one compiled instance.
func NewSpecialData(callbacks []core.CallbackDef, classes ...*value.ApiClass) *SpecialData {
	d := &SpecialData{
		Root:          newNamespace(""),
		namespaces:    make(map[string]*Namespace),
		callbackIndex: make(map[string]int),
		apiClasses:    make(map[string]*value.ApiClass),
		globalNames:   make(map[string]bool),
	}
	for i, def := range callbacks {
		d.callbacks = append(d.callbacks, &Callback{
			ID:         core.CallbackID(i),
			Name:       def.Name,
			ParamNames: append([]string(nil), def.Params...),
		})
		d.callbackIndex[def.Name] = i
	}
	for _, c := range classes {
		d.apiClasses[c.Name] = c
	}
	return d
}

// AddApiClass registers a native class.
func (d *SpecialData) AddApiClass(c *value.ApiClass) { d.apiClasses[c.Name] = c }

// ApiClass looks up a native class by name.
func (d *SpecialData) ApiClass(name string) *value.ApiClass { return d.apiClasses[name] }

// Namespace returns a user namespace or nil.
func (d *SpecialData) Namespace(name string) *Namespace {
	if name == "" {
		return d.Root
	}
	return d.namespaces[name]
}

// Namespaces returns all namespaces, root first, in declaration order.
func (d *SpecialData) Namespaces() []*Namespace {
	return append([]*Namespace{d.Root}, d.nsOrder...)
}

func (d *SpecialData) namespaceFor(name string) *Namespace {
	if ns, ok := d.namespaces[name]; ok {
		return ns
	}
	ns := newNamespace(name)
	d.namespaces[name] = ns
	d.nsOrder = append(d.nsOrder, ns)
	return ns
}

// Callbacks returns the callback slots in table order.
func (d *SpecialData) Callbacks() []*Callback { return d.callbacks }

// Callback returns the slot for id, or nil.
func (d *SpecialData) Callback(id core.CallbackID) *Callback {
	if int(id) < 0 || int(id) >= len(d.callbacks) {
		return nil
	}
	return d.callbacks[id]
}

// CallbackIndex resolves a callback name to its slot index.
func (d *SpecialData) CallbackIndex(name string) (core.CallbackID, bool) {
	i, ok := d.callbackIndex[name]
	return core.CallbackID(i), ok
}

// GlobalNames returns the names declared with the global keyword.
func (d *SpecialData) GlobalNames() []string {
	out := make([]string, 0, len(d.globalNames))
	for k := range d.globalNames {
		out = append(out, k)
	}
	return out
}

func existingDefinition(name string) string {
	return name + ": Identifier already used by another variable"
}

func (d *SpecialData) declare(ns *Namespace, name, class string) error {
	if existing := ns.storageOf(name); existing != storageNone {
		if existing == class && class == storageRegister {
			return nil
		}
		if existing == class && class == storageConst {
			return fmt.Errorf("const %s is already defined", name)
		}
		return fmt.Errorf("%s", existingDefinition(name))
	}
	if class != storageGlobal && ns == d.Root && d.globalNames[name] {
		return fmt.Errorf("%s", existingDefinition(name))
	}
	switch class {
	case storageRegister:
		if _, err := ns.Registers.Add(name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	case storageConst:
		ns.consts = append(ns.consts, constSlot{name: name})
	case storageInline:
		ns.inlines[name] = &InlineFunction{Name: name, NS: ns}
	case storageFunction:
		ns.functions[name] = true
	case storageGlobal:
		d.globalNames[name] = true
	}
	return nil
}
