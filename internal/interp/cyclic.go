package interp

import (
	"fmt"
	"strconv"

	"github.com/cryguy/hisescript/internal/value"
)

// CyclicReference describes a container reachable from itself.
type CyclicReference struct {
	// Path is the access path of the reference that closes the cycle.
	Path string `json:"path"`
	// Target is the access path of the container it points back to.
	Target string `json:"target"`
}

func (c CyclicReference) String() string {
	return fmt.Sprintf("%s -> %s", c.Path, c.Target)
}

// CheckCyclicReferences walks everything reachable from the root scope,
// the registers, consts and the Globals object, and reports each
// reference that points back to a container on the current path.
func (in *Interpreter) CheckCyclicReferences() []CyclicReference {
	c := cycleCheck{onPath: make(map[any]string), done: make(map[any]bool)}
	for _, k := range in.root.Vars.Keys() {
		c.visit(in.root.Vars.GetOr(k), k)
	}
	for _, ns := range in.data.Namespaces() {
		prefix := ""
		if ns.Name != "" {
			prefix = ns.Name + "."
		}
		for i := 0; i < ns.Registers.Len(); i++ {
			c.visit(ns.Registers.Get(i), prefix+ns.Registers.Name(i))
		}
		for i := 0; i < ns.NumConsts(); i++ {
			c.visit(ns.Const(i), prefix+ns.ConstName(i))
		}
	}
	in.opts.GlobalsLock.Lock()
	keys := append([]string(nil), in.globals.Keys()...)
	in.opts.GlobalsLock.Unlock()
	for _, k := range keys {
		c.visit(in.global(k), "Globals."+k)
	}
	return c.found
}

type cycleCheck struct {
	onPath map[any]string
	done   map[any]bool
	found  []CyclicReference
}

func (c *cycleCheck) visit(v value.Value, path string) {
	if !v.IsArray() && !v.IsObject() {
		return
	}
	ref := v.Ref()
	if target, ok := c.onPath[ref]; ok {
		c.found = append(c.found, CyclicReference{Path: path, Target: target})
		return
	}
	if c.done[ref] {
		return
	}
	c.onPath[ref] = path
	if v.IsArray() {
		for i, e := range v.Array().Elems {
			c.visit(e, path+"["+strconv.Itoa(i)+"]")
		}
	} else {
		o := v.Object()
		for _, k := range o.Keys() {
			c.visit(o.GetOr(k), path+"."+k)
		}
	}
	delete(c.onPath, ref)
	c.done[ref] = true
}
