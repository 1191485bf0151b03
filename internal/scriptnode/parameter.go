package scriptnode

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/cryguy/hisescript/internal/value"
	"github.com/cryguy/hisescript/internal/valuetree"
)

// Range maps parameter values to and from the normalised 0..1 domain.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
	Skew float64 `json:"skew"`
}

// NormalisedRange is 0..1 without stepping or skew.
var NormalisedRange = Range{Min: 0, Max: 1, Skew: 1}

func (r Range) skew() float64 {
	if r.Skew <= 0 {
		return 1
	}
	return r.Skew
}

// Clamp limits v to the range and snaps it to Step.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.Min
	}
	if r.Step > 0 {
		v = r.Min + r.Step*math.Round((v-r.Min)/r.Step)
	}
	return math.Max(r.Min, math.Min(r.Max, v))
}

// To0To1 converts a value to the normalised domain.
func (r Range) To0To1(v float64) float64 {
	if r.Max == r.Min {
		return 0
	}
	p := math.Max(0, math.Min(1, (r.Clamp(v)-r.Min)/(r.Max-r.Min)))
	if s := r.skew(); s != 1 {
		p = math.Pow(p, s)
	}
	return p
}

// From0To1 converts a normalised value into the range.
func (r Range) From0To1(p float64) float64 {
	p = math.Max(0, math.Min(1, p))
	if s := r.skew(); s != 1 && p > 0 {
		p = math.Exp(math.Log(p) / s)
	}
	return r.Clamp(r.Min + (r.Max-r.Min)*p)
}

type target struct {
	key string
	fn  func(float64)
}

// DynamicBase is the indirection between a value source and whatever it
// drives. Targets are swapped atomically so rewiring never blocks Call.
type DynamicBase struct {
	mu      sync.Mutex
	targets atomic.Pointer[[]target]
}

// Call forwards v to every target. It does not allocate.
func (d *DynamicBase) Call(v float64) {
	if p := d.targets.Load(); p != nil {
		for _, t := range *p {
			t.fn(v)
		}
	}
}

// Set adds or replaces the target under key.
func (d *DynamicBase) Set(key string, fn func(float64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var next []target
	if p := d.targets.Load(); p != nil {
		for _, t := range *p {
			if t.key != key {
				next = append(next, t)
			}
		}
	}
	next = append(next, target{key, fn})
	d.targets.Store(&next)
}

// Remove drops the target under key.
func (d *DynamicBase) Remove(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.targets.Load()
	if p == nil {
		return false
	}
	next := make([]target, 0, len(*p))
	for _, t := range *p {
		if t.key != key {
			next = append(next, t)
		}
	}
	if len(next) == len(*p) {
		return false
	}
	d.targets.Store(&next)
	return true
}

// Len returns the number of targets.
func (d *DynamicBase) Len() int {
	if p := d.targets.Load(); p != nil {
		return len(*p)
	}
	return 0
}

// Parameter is a node input. The value is readable from the audio thread
// without locking; persisting it into the tree is deferred to
// FlushPending on the message thread.
type Parameter struct {
	ID    string
	Range Range

	// Dynamic forwards value changes to connected parameters.
	Dynamic DynamicBase

	node      *NodeBase
	bits      atomic.Uint64
	dirty     atomic.Bool
	propagate atomic.Bool
	tree      *valuetree.Tree
}

func newParameter(id string, r Range, def float64) *Parameter {
	p := &Parameter{ID: id, Range: r}
	p.bits.Store(math.Float64bits(r.Clamp(def)))
	return p
}

// Value returns the current value.
func (p *Parameter) Value() float64 { return math.Float64frombits(p.bits.Load()) }

// Node returns the owning node.
func (p *Parameter) Node() *NodeBase { return p.node }

func (p *Parameter) store(v float64) float64 {
	v = p.Range.Clamp(v)
	p.bits.Store(math.Float64bits(v))
	p.dirty.Store(true)
	return v
}

// SetValueAsync stores v for immediate read-back. Connected parameters
// and the persisted tree are updated on the next FlushPending.
func (p *Parameter) SetValueAsync(v float64) {
	p.store(v)
	p.propagate.Store(true)
}

// SetValueSync stores v and updates connected parameters before
// returning.
func (p *Parameter) SetValueSync(v float64) {
	v = p.store(v)
	p.Dynamic.Call(v)
}

// forward sends a value deferred by SetValueAsync to connected
// parameters.
func (p *Parameter) forward() {
	if p.propagate.Swap(false) {
		p.Dynamic.Call(p.Value())
	}
}

// persist writes a changed value into the tree. It runs on the message
// thread.
func (p *Parameter) persist() {
	if p.dirty.Swap(false) && p.tree != nil {
		p.tree.SetProperty(propValue, value.Double(p.Value()))
	}
}

// bindTree attaches the persisted element and reads its value and range.
func (p *Parameter) bindTree(t *valuetree.Tree) {
	p.tree = t
	if t.HasProperty(propMinValue) {
		p.Range.Min = t.Double(propMinValue, p.Range.Min)
		p.Range.Max = t.Double(propMaxValue, p.Range.Max)
		p.Range.Step = t.Double(propStepSize, p.Range.Step)
		p.Range.Skew = t.Double(propSkewFactor, p.Range.Skew)
	} else {
		t.SetProperty(propMinValue, value.Double(p.Range.Min))
		t.SetProperty(propMaxValue, value.Double(p.Range.Max))
		t.SetProperty(propStepSize, value.Double(p.Range.Step))
		t.SetProperty(propSkewFactor, value.Double(p.Range.skew()))
	}
	if t.HasProperty(propValue) {
		p.bits.Store(math.Float64bits(p.Range.Clamp(t.Double(propValue, p.Value()))))
	} else {
		t.SetProperty(propValue, value.Double(p.Value()))
	}
}
