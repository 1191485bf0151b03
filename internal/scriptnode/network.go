package scriptnode

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/value"
	"github.com/cryguy/hisescript/internal/valuetree"
)

// NumVoices is the voice count of a polyphonic network.
const NumVoices = 256

// Network is a tree of DSP nodes backed by a persisted value tree.
//
// Structural edits (Create, Add, Remove, Connect, Prepare, Edit) run on
// the message thread and hold the edit lock. Process runs on the audio
// thread; it only tries the lock and clears the block when an edit is in
// progress.
type Network struct {
	ID         string
	Root       Container
	Registry   *Registry
	Exceptions *ExceptionHandler
	Poly       *PolyHandler
	Tree       *valuetree.Tree

	editMu      sync.Mutex
	nodesMu     sync.RWMutex // writers also hold editMu
	nodes       map[string]Node
	connections map[string]*Connection
	specs       PrepareSpecs
	prepared    bool
	dirty       bool
	moving      bool
	onPrepared  func(Node)

	data       ProcessData
	processErr atomic.Uint64
	faults     atomic.Int64
}

func newNetwork(id string, registry *Registry, polyphonic bool) *Network {
	if registry == nil {
		registry = NewRegistry()
	}
	n := &Network{
		ID:          id,
		Registry:    registry,
		Exceptions:  NewExceptionHandler(),
		nodes:       make(map[string]Node),
		connections: make(map[string]*Connection),
	}
	if polyphonic {
		n.Poly = NewPolyHandler(NumVoices)
	}
	return n
}

// NewNetwork creates an empty network whose root is a chain container
// named after the network.
func NewNetwork(id string, registry *Registry, polyphonic bool) *Network {
	n := newNetwork(id, registry, polyphonic)
	n.Tree = valuetree.New(typeNetwork).
		SetProperty(propID, value.Str(id)).
		SetProperty(propUUID, value.Str(uuid.NewString())).
		SetProperty(propPolyphonic, value.Bool(polyphonic))
	rootTree := valuetree.New(typeNode)
	n.Tree.AddChild(rootTree, -1)
	n.Tree.AddChild(valuetree.New(typeConnections), -1)
	root := &chainNode{}
	root.path = "container.chain"
	n.adopt(root, id, rootTree)
	n.Root = root
	n.listen()
	return n
}

// CreateFromValueTree rebuilds a network from its persisted form. Nodes
// with an unknown factory path are reported as InitialisationError and
// left out; their elements stay in the tree.
func CreateFromValueTree(t *valuetree.Tree, registry *Registry) (*Network, error) {
	if t == nil || t.Type != typeNetwork {
		return nil, errors.New("scriptnode: not a network tree")
	}
	n := newNetwork(t.String(propID), registry, t.Bool(propPolyphonic, false))
	n.Tree = t.Clone()
	if !n.Tree.HasProperty(propUUID) {
		n.Tree.SetProperty(propUUID, value.Str(uuid.NewString()))
	}
	rootTree := n.Tree.ChildWithName(typeNode)
	if rootTree == nil {
		return nil, errors.New("scriptnode: network has no root node")
	}
	node, err := n.Registry.create(rootTree.String(propFactoryPath))
	if err != nil {
		return nil, fmt.Errorf("scriptnode: root: %w", err)
	}
	root, ok := node.(Container)
	if !ok {
		return nil, fmt.Errorf("scriptnode: root %q is not a container", rootTree.String(propFactoryPath))
	}
	id := rootTree.String(propID)
	if id == "" {
		id = n.ID
	}
	n.adopt(root, id, rootTree)
	n.Root = root
	n.load(root, rootTree)

	conns := n.Tree.GetOrCreateChild(typeConnections)
	for _, ct := range append([]*valuetree.Tree(nil), conns.Children()...) {
		c := connectionFromTree(ct)
		if c.ID == "" {
			c.ID = uuid.NewString()
			ct.SetProperty(propID, value.Str(c.ID))
		}
		if err := n.bind(c); err != nil {
			conns.RemoveChild(ct)
		}
	}
	n.listen()
	return n, nil
}

func (n *Network) load(c Container, t *valuetree.Tree) {
	list := t.ChildWithName(typeNodes)
	if list == nil {
		return
	}
	for _, ct := range list.Children() {
		if ct.Type != typeNode {
			continue
		}
		id := ct.String(propID)
		node, err := n.Registry.create(ct.String(propFactoryPath))
		if err != nil {
			n.Exceptions.Add(Error{Kind: InitialisationError, NodeID: id, Message: err.Error()})
			continue
		}
		if id == "" || n.nodes[id] != nil {
			id = n.uniqueID(id, node.Base().path)
		}
		n.adopt(node, id, ct)
		c.insert(node, -1)
		node.Base().parent = c
		if cc, ok := node.(Container); ok {
			n.load(cc, ct)
		}
	}
}

func (n *Network) listen() {
	n.Tree.AddListener(CableRemoveListener{net: n})
}

func (n *Network) adopt(node Node, id string, t *valuetree.Tree) {
	b := node.Base()
	b.id = id
	b.network = n
	b.bindTree(t)
	if _, ok := node.(Container); ok {
		t.GetOrCreateChild(typeNodes)
		for _, pt := range t.GetOrCreateChild(typeParameters).Children() {
			if id := pt.String(propID); b.Parameter(id) == nil {
				p := newParameter(id, NormalisedRange, 0)
				p.node = b
				p.bindTree(pt)
				b.params = append(b.params, p)
			}
		}
	}
	n.nodesMu.Lock()
	n.nodes[id] = node
	n.nodesMu.Unlock()
}

func (n *Network) uniqueID(id, path string) string {
	base := id
	if base == "" {
		base = path[strings.LastIndexByte(path, '.')+1:]
	}
	if id != "" && n.nodes[id] == nil {
		return id
	}
	for i := 1; ; i++ {
		cand := fmt.Sprintf("%s%d", base, i)
		if n.nodes[cand] == nil {
			return cand
		}
	}
}

// mutate runs fn under the edit lock and re-prepares afterwards when the
// structure changed. It does not nest; use Edit to batch changes.
func (n *Network) mutate(fn func() error) error {
	n.editMu.Lock()
	defer n.editMu.Unlock()
	err := fn()
	if n.dirty && n.prepared {
		n.prepareAll(n.specs)
	}
	return err
}

// Editor applies structural changes inside Edit, where the network's own
// methods would wait for the lock Edit holds. It is valid until the Edit
// callback returns.
type Editor struct{ n *Network }

// Create is Network.Create within an edit.
func (ed Editor) Create(path, id string) (Node, error) { return ed.n.create(path, id) }

// Add is Network.Add within an edit.
func (ed Editor) Add(id, parent string, index int) error { return ed.n.add(id, parent, index) }

// Remove is Network.Remove within an edit.
func (ed Editor) Remove(id string) error { return ed.n.remove(id) }

// Edit groups several structural changes. Processing is suspended until
// fn returns, and the network is re-prepared once afterwards.
func (n *Network) Edit(fn func(ed Editor) error) error {
	return n.mutate(func() error { return fn(Editor{n}) })
}

// Create instantiates a node from the registry. The node is not attached
// until Add is called. An empty or taken id is replaced by a generated
// one.
func (n *Network) Create(path, id string) (Node, error) {
	var node Node
	err := n.mutate(func() error {
		var err error
		node, err = n.create(path, id)
		return err
	})
	return node, err
}

func (n *Network) create(path, id string) (Node, error) {
	node, err := n.Registry.create(path)
	if err != nil {
		return nil, err
	}
	n.adopt(node, n.uniqueID(id, path), valuetree.New(typeNode))
	return node, nil
}

// Get returns the node with the given id.
func (n *Network) Get(id string) Node {
	n.nodesMu.RLock()
	defer n.nodesMu.RUnlock()
	return n.nodes[id]
}

// NumNodes returns the number of live nodes, including the root.
func (n *Network) NumNodes() int {
	n.nodesMu.RLock()
	defer n.nodesMu.RUnlock()
	return len(n.nodes)
}

// snapshot copies the live nodes in map order.
func (n *Network) snapshot() []Node {
	n.nodesMu.RLock()
	defer n.nodesMu.RUnlock()
	out := make([]Node, 0, len(n.nodes))
	for _, node := range n.nodes {
		out = append(out, node)
	}
	return out
}

// Nodes returns all live nodes ordered by id.
func (n *Network) Nodes() []Node {
	out := n.snapshot()
	sort.Slice(out, func(i, j int) bool { return out[i].Base().id < out[j].Base().id })
	return out
}

// Add attaches node id to the container parent at index (-1 appends),
// moving it if it is attached elsewhere.
func (n *Network) Add(id, parent string, index int) error {
	return n.mutate(func() error { return n.add(id, parent, index) })
}

func (n *Network) add(id, parent string, index int) error {
	node := n.nodes[id]
	if node == nil {
		return fmt.Errorf("scriptnode: unknown node %q", id)
	}
	pc, ok := n.nodes[parent].(Container)
	if !ok {
		return fmt.Errorf("scriptnode: %q is not a container", parent)
	}
	if node == Node(n.Root) {
		return errors.New("scriptnode: the root node can't be moved")
	}
	if node.Base().tree.IsAncestorOf(pc.Base().tree) || node == Node(pc) {
		return fmt.Errorf("scriptnode: %q can't contain itself", id)
	}
	n.moving = true
	defer func() { n.moving = false }()
	n.detach(node)
	list := pc.Base().tree.GetOrCreateChild(typeNodes)
	treeIndex := -1
	if index >= 0 && index < len(pc.Children()) {
		treeIndex = list.IndexOf(pc.Children()[index].Base().tree)
	}
	pc.insert(node, index)
	node.Base().parent = pc
	list.AddChild(node.Base().tree, treeIndex)
	n.dirty = true
	return nil
}

func (n *Network) detach(node Node) {
	b := node.Base()
	if b.parent != nil {
		b.parent.remove(node)
		b.parent = nil
		n.dirty = true
	}
	if pt := b.tree.Parent(); pt != nil {
		pt.RemoveChild(b.tree)
	}
}

// Remove deletes a node and its descendants. Connections touching any of
// them are removed with it.
func (n *Network) Remove(id string) error {
	return n.mutate(func() error { return n.remove(id) })
}

func (n *Network) remove(id string) error {
	node := n.nodes[id]
	if node == nil {
		return fmt.Errorf("scriptnode: unknown node %q", id)
	}
	if node == Node(n.Root) {
		return errors.New("scriptnode: the root node can't be removed")
	}
	t := node.Base().tree
	attached := t.Parent() != nil
	n.detach(node)
	if !attached {
		CableRemoveListener{net: n}.ChildRemoved(nil, t, 0)
	}
	walk(node, func(x Node) {
		b := x.Base()
		b.state.Store(int32(Destroyed))
		n.nodesMu.Lock()
		delete(n.nodes, b.id)
		n.nodesMu.Unlock()
		n.Exceptions.RemoveNode(b.id)
	})
	return nil
}

// Connect links srcParam of srcNode to dstParam of dstNode.
func (n *Network) Connect(srcNode, srcParam, dstNode, dstParam string) (*Connection, error) {
	return n.connect(&Connection{Kind: MacroConnection, Source: srcNode, SourceParam: srcParam, Target: dstNode, TargetParam: dstParam})
}

// ConnectModulation links the modulation output of srcNode to dstParam
// of dstNode.
func (n *Network) ConnectModulation(srcNode, dstNode, dstParam string) (*Connection, error) {
	return n.connect(&Connection{Kind: ModulationConnection, Source: srcNode, Target: dstNode, TargetParam: dstParam})
}

func (n *Network) connect(c *Connection) (*Connection, error) {
	err := n.mutate(func() error {
		for _, existing := range n.connections {
			if existing.Kind == c.Kind && existing.Source == c.Source && existing.SourceParam == c.SourceParam &&
				existing.Target == c.Target && existing.TargetParam == c.TargetParam {
				c = existing
				return nil
			}
		}
		if _, _, err := n.endpoints(c); err != nil {
			return fmt.Errorf("scriptnode: %w", err)
		}
		if n.createsCycle(c) {
			return ErrCycle
		}
		c.ID = uuid.NewString()
		if err := n.bind(c); err != nil {
			return err
		}
		n.Tree.GetOrCreateChild(typeConnections).AddChild(c.toTree(), -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Disconnect removes a connection by id.
func (n *Network) Disconnect(id string) error {
	return n.mutate(func() error {
		c := n.connections[id]
		if c == nil {
			return fmt.Errorf("scriptnode: unknown connection %q", id)
		}
		if p := c.tree.Parent(); p != nil {
			p.RemoveChild(c.tree)
		}
		n.unbind(id)
		return nil
	})
}

// Connections returns the live connections in persisted order.
func (n *Network) Connections() []*Connection {
	var out []*Connection
	if conns := n.Tree.ChildWithName(typeConnections); conns != nil {
		for _, ct := range conns.Children() {
			if c := n.connections[ct.String(propID)]; c != nil {
				out = append(out, c)
			}
		}
	}
	return out
}

// OnPrepared installs a hook called after each node finished preparing.
// Containers report after all of their descendants.
func (n *Network) OnPrepared(fn func(Node)) {
	n.editMu.Lock()
	n.onPrepared = fn
	n.editMu.Unlock()
}

// Prepare hands the processing specs down the graph. Repeating it with
// identical specs and no structural change in between does nothing.
func (n *Network) Prepare(ps PrepareSpecs) error {
	return n.mutate(func() error {
		if n.prepared && !n.dirty && ps == n.specs {
			return nil
		}
		var e *Error
		switch {
		case ps.SampleRate <= 0:
			e = &Error{Kind: SampleRateMismatch, Expected: 44100, Actual: int(ps.SampleRate)}
		case ps.BlockSize <= 0:
			e = &Error{Kind: IllegalBlockSize, Expected: 1, Actual: ps.BlockSize}
		case ps.NumChannels <= 0:
			e = &Error{Kind: ChannelMismatch, Expected: 1, Actual: ps.NumChannels}
		}
		if e != nil {
			e.NodeID = n.ID
			n.Exceptions.Add(*e)
			return e
		}
		n.prepareAll(ps)
		return nil
	})
}

var prepareKinds = []ErrorKind{ChannelMismatch, BlockSizeMismatch, IllegalFrameCall, IllegalBlockSize, SampleRateMismatch, NoMatchingParent}

func (n *Network) prepareAll(ps PrepareSpecs) {
	for _, k := range prepareKinds {
		n.Exceptions.ClearKind(k)
	}
	n.specs = ps
	n.prepareNode(n.Root, ps)
	walk(n.Root, func(x Node) {
		b := x.Base()
		if b.broken.Load() {
			b.state.Store(int32(Inactive))
		} else {
			b.state.Store(int32(Active))
		}
	})
	n.prepared, n.dirty = true, false
	n.processErr.Store(0)
}

func (n *Network) prepareNode(node Node, ps PrepareSpecs) {
	b := node.Base()
	b.specs = ps
	b.broken.Store(false)
	if err := node.Prepare(ps); err != nil {
		var ne *Error
		if !errors.As(err, &ne) {
			ne = &Error{Kind: InitialisationError, Message: err.Error()}
		}
		e := *ne
		e.NodeID = b.id
		n.Exceptions.Add(e)
		b.broken.Store(true)
	}
	b.state.Store(int32(Prepared))
	if n.onPrepared != nil {
		n.onPrepared(node)
	}
}

// IsPrepared reports whether Prepare succeeded.
func (n *Network) IsPrepared() bool { return n.prepared }

// Specs returns the specs of the last successful Prepare.
func (n *Network) Specs() PrepareSpecs { return n.specs }

// Process renders one block in place. It never allocates, blocks or
// panics: during an edit, or when the block doesn't match the prepared
// specs, the block is cleared instead.
func (n *Network) Process(channels [][]float32, events []core.HiseEvent) {
	if !n.editMu.TryLock() {
		clearChannels(channels)
		return
	}
	defer n.editMu.Unlock()
	defer func() {
		if recover() != nil {
			n.faults.Add(1)
			clearChannels(channels)
		}
	}()
	if !n.prepared || len(channels) == 0 {
		return
	}
	num := len(channels[0])
	if len(channels) != n.specs.NumChannels {
		n.fail(ChannelMismatch, n.specs.NumChannels, len(channels))
		clearChannels(channels)
		return
	}
	if num > n.specs.BlockSize {
		n.fail(BlockSizeMismatch, n.specs.BlockSize, num)
		clearChannels(channels)
		return
	}
	if n.Root.Base().skip() {
		return
	}
	n.data.Channels = channels
	n.data.NumSamples = num
	n.data.Events = events
	n.Root.Process(&n.data)
	n.data.Channels, n.data.Events = nil, nil
}

// ProcessVoice renders a block for one voice of a polyphonic network.
func (n *Network) ProcessVoice(voice int, channels [][]float32, events []core.HiseEvent) {
	defer SetVoice(n.Poly, voice).Close()
	n.Process(channels, events)
}

func clearChannels(channels [][]float32) {
	for _, ch := range channels {
		clear(ch)
	}
}

// fail records a runtime mismatch without allocating. The last one wins.
func (n *Network) fail(kind ErrorKind, expected, actual int) {
	const mask = 1<<28 - 1
	n.processErr.Store(uint64(kind)<<56 | uint64(expected&mask)<<28 | uint64(actual&mask))
}

// ProcessError returns the last mismatch seen by Process, or nil.
func (n *Network) ProcessError() *Error { return n.decodeFail(n.processErr.Load()) }

func (n *Network) decodeFail(bits uint64) *Error {
	if bits == 0 {
		return nil
	}
	const mask = 1<<28 - 1
	return &Error{
		Kind:     ErrorKind(bits >> 56),
		NodeID:   n.ID,
		Expected: int(bits >> 28 & mask),
		Actual:   int(bits & mask),
	}
}

// Faults returns the number of blocks dropped because a node panicked.
func (n *Network) Faults() int64 { return n.faults.Load() }

// Reset clears the runtime state of every node.
func (n *Network) Reset() {
	n.editMu.Lock()
	defer n.editMu.Unlock()
	n.Root.Reset()
}

// FlushPending persists deferred parameter writes and moves runtime
// mismatches into the exception handler. It runs on the message thread.
func (n *Network) FlushPending() {
	nodes := n.snapshot()
	for _, node := range nodes {
		for _, p := range node.Base().params {
			p.forward()
		}
	}
	for _, node := range nodes {
		for _, p := range node.Base().params {
			p.persist()
		}
	}
	if e := n.decodeFail(n.processErr.Swap(0)); e != nil {
		n.Exceptions.Add(*e)
	}
}

// ToValueTree returns a detached copy of the persisted network.
func (n *Network) ToValueTree() *valuetree.Tree {
	n.FlushPending()
	return n.Tree.Clone()
}
