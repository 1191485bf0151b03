package scriptnode

import (
	"sync/atomic"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/value"
	"github.com/cryguy/hisescript/internal/valuetree"
)

// Tree element and property names of the persisted network.
const (
	typeNetwork     = "Network"
	typeNode        = "Node"
	typeNodes       = "Nodes"
	typeParameters  = "Parameters"
	typeParameter   = "Parameter"
	typeConnections = "Connections"
	typeConnection  = "Connection"

	propID          = "ID"
	propUUID        = "UUID"
	propFactoryPath = "FactoryPath"
	propBypassed    = "Bypassed"
	propPolyphonic  = "AllowPolyphonic"
	propValue       = "Value"
	propMinValue    = "MinValue"
	propMaxValue    = "MaxValue"
	propStepSize    = "StepSize"
	propSkewFactor  = "SkewFactor"
	propKind        = "Kind"
	propSource      = "Source"
	propSourceParam = "SourceParameter"
	propTarget      = "Target"
	propTargetParam = "TargetParameter"
)

// NodeState is the lifecycle position of a node.
type NodeState int32

const (
	Unprepared NodeState = iota
	Prepared
	Active
	Inactive
	Bypassed
	Destroyed
)

func (s NodeState) String() string {
	switch s {
	case Unprepared:
		return "unprepared"
	case Prepared:
		return "prepared"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Bypassed:
		return "bypassed"
	case Destroyed:
		return "destroyed"
	}
	return "unknown"
}

// PrepareSpecs describe the processing context handed down the graph.
type PrepareSpecs struct {
	SampleRate  float64 `json:"sampleRate"`
	BlockSize   int     `json:"blockSize"`
	NumChannels int     `json:"numChannels"`
	// Frame is set below a frame-processing container.
	Frame bool `json:"-"`
}

// ProcessData is one block of audio plus the events that fall into it.
type ProcessData struct {
	Channels   [][]float32
	NumSamples int
	Events     []core.HiseEvent
}

// Node is a processing unit in a network.
type Node interface {
	Base() *NodeBase
	Prepare(ps PrepareSpecs) error
	Process(d *ProcessData)
	Reset()
}

// Container is a node with ordered children.
type Container interface {
	Node
	Children() []Node
	insert(child Node, index int)
	remove(child Node) bool
}

// ModulationSource is a node that emits a normalised control value.
type ModulationSource interface {
	Node
	Modulation() *DynamicBase
}

// NodeBase carries the state every node shares. Node implementations
// embed it.
type NodeBase struct {
	id       string
	path     string
	params   []*Parameter
	tree     *valuetree.Tree
	parent   Container
	network  *Network
	specs    PrepareSpecs
	state    atomic.Int32
	bypassed atomic.Bool
	broken   atomic.Bool
}

func (b *NodeBase) Base() *NodeBase { return b }

// ID returns the node id, unique within its network.
func (b *NodeBase) ID() string { return b.id }

// Path returns the factory path the node was created from.
func (b *NodeBase) Path() string { return b.path }

// Tree returns the persisted element of the node.
func (b *NodeBase) Tree() *valuetree.Tree { return b.tree }

// Parent returns the enclosing container or nil.
func (b *NodeBase) Parent() Container { return b.parent }

// Network returns the owning network.
func (b *NodeBase) Network() *Network { return b.network }

// Specs returns the specs of the last prepare call.
func (b *NodeBase) Specs() PrepareSpecs { return b.specs }

// State returns the lifecycle state.
func (b *NodeBase) State() NodeState {
	if b.bypassed.Load() && NodeState(b.state.Load()) != Destroyed {
		return Bypassed
	}
	return NodeState(b.state.Load())
}

// Parameters returns the node's parameters in declaration order.
func (b *NodeBase) Parameters() []*Parameter { return b.params }

// Parameter looks up a parameter by id.
func (b *NodeBase) Parameter(id string) *Parameter {
	for _, p := range b.params {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// AddParameter declares a parameter. Containers use it for macro
// parameters; built-in nodes declare theirs in the factory.
func (b *NodeBase) AddParameter(id string, r Range, def float64) *Parameter {
	if p := b.Parameter(id); p != nil {
		return p
	}
	p := newParameter(id, r, def)
	p.node = b
	b.params = append(b.params, p)
	if b.tree != nil {
		p.bindTree(b.paramTree(id))
	}
	return p
}

// IsBypassed reports whether processing skips the node.
func (b *NodeBase) IsBypassed() bool { return b.bypassed.Load() }

// SetBypassed toggles bypass and persists it.
func (b *NodeBase) SetBypassed(on bool) {
	b.bypassed.Store(on)
	if b.tree != nil {
		b.tree.SetProperty(propBypassed, value.Bool(on))
	}
}

// IsBroken reports whether the node failed validation.
func (b *NodeBase) IsBroken() bool { return b.broken.Load() }

func (b *NodeBase) skip() bool { return b.bypassed.Load() || b.broken.Load() }

func (b *NodeBase) poly() *PolyHandler {
	if b.network == nil {
		return nil
	}
	return b.network.Poly
}

func (b *NodeBase) paramTree(id string) *valuetree.Tree {
	params := b.tree.GetOrCreateChild(typeParameters)
	pt := params.ChildWithProperty(propID, value.Str(id))
	if pt == nil {
		pt = valuetree.New(typeParameter).SetProperty(propID, value.Str(id))
		params.AddChild(pt, -1)
	}
	return pt
}

// bindTree attaches the node to its persisted element. Existing
// attribute values win over the factory defaults.
func (b *NodeBase) bindTree(t *valuetree.Tree) {
	b.tree = t
	t.SetProperty(propID, value.Str(b.id))
	t.SetProperty(propFactoryPath, value.Str(b.path))
	if t.HasProperty(propBypassed) {
		b.bypassed.Store(t.Bool(propBypassed, false))
	} else {
		t.SetProperty(propBypassed, value.Bool(false))
	}
	for _, p := range b.params {
		p.bindTree(b.paramTree(p.ID))
	}
}

// walk visits n and every descendant in pre-order.
func walk(n Node, fn func(Node)) {
	fn(n)
	if c, ok := n.(Container); ok {
		for _, child := range c.Children() {
			walk(child, fn)
		}
	}
}
