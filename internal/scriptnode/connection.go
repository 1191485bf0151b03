package scriptnode

import (
	"errors"
	"fmt"

	"github.com/cryguy/hisescript/internal/value"
	"github.com/cryguy/hisescript/internal/valuetree"
)

// ConnectionKind distinguishes parameter links from modulation links.
type ConnectionKind string

const (
	// MacroConnection forwards a parameter to another parameter,
	// converting through the normalised range of both.
	MacroConnection ConnectionKind = "macro"
	// ModulationConnection forwards a modulation output to a parameter.
	ModulationConnection ConnectionKind = "modulation"
)

// ErrCycle is returned when a connection would close a feedback loop.
var ErrCycle = errors.New("scriptnode: connection would create a cycle")

// Connection is a live link between two nodes. Its persisted form is a
// Connection element below the network's Connections element.
type Connection struct {
	ID          string         `json:"id"`
	Kind        ConnectionKind `json:"kind"`
	Source      string         `json:"source"`
	SourceParam string         `json:"sourceParameter,omitempty"`
	Target      string         `json:"target"`
	TargetParam string         `json:"targetParameter"`

	tree *valuetree.Tree
	src  *DynamicBase
}

func (c *Connection) String() string {
	src := c.Source
	if c.SourceParam != "" {
		src += "." + c.SourceParam
	}
	return fmt.Sprintf("%s -> %s.%s (%s)", src, c.Target, c.TargetParam, c.Kind)
}

func connectionFromTree(t *valuetree.Tree) *Connection {
	return &Connection{
		ID:          t.String(propID),
		Kind:        ConnectionKind(t.String(propKind)),
		Source:      t.String(propSource),
		SourceParam: t.String(propSourceParam),
		Target:      t.String(propTarget),
		TargetParam: t.String(propTargetParam),
		tree:        t,
	}
}

func (c *Connection) toTree() *valuetree.Tree {
	t := valuetree.New(typeConnection).
		SetProperty(propID, value.Str(c.ID)).
		SetProperty(propKind, value.Str(string(c.Kind))).
		SetProperty(propSource, value.Str(c.Source))
	if c.SourceParam != "" {
		t.SetProperty(propSourceParam, value.Str(c.SourceParam))
	}
	t.SetProperty(propTarget, value.Str(c.Target)).
		SetProperty(propTargetParam, value.Str(c.TargetParam))
	c.tree = t
	return t
}

// endpoints resolves the source and target of c against the network.
func (n *Network) endpoints(c *Connection) (*DynamicBase, func(float64), error) {
	src, dst := n.nodes[c.Source], n.nodes[c.Target]
	if src == nil {
		return nil, nil, fmt.Errorf("unknown source node %q", c.Source)
	}
	if dst == nil {
		return nil, nil, fmt.Errorf("unknown target node %q", c.Target)
	}
	tp := dst.Base().Parameter(c.TargetParam)
	if tp == nil {
		return nil, nil, fmt.Errorf("node %q has no parameter %q", c.Target, c.TargetParam)
	}
	switch c.Kind {
	case MacroConnection:
		sp := src.Base().Parameter(c.SourceParam)
		if sp == nil {
			return nil, nil, fmt.Errorf("node %q has no parameter %q", c.Source, c.SourceParam)
		}
		return &sp.Dynamic, func(v float64) {
			tp.SetValueSync(tp.Range.From0To1(sp.Range.To0To1(v)))
		}, nil
	case ModulationConnection:
		ms, ok := src.(ModulationSource)
		if !ok {
			return nil, nil, fmt.Errorf("node %q has no modulation output", c.Source)
		}
		return ms.Modulation(), func(v float64) {
			tp.SetValueSync(tp.Range.From0To1(v))
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown connection kind %q", c.Kind)
}

func (n *Network) bind(c *Connection) error {
	src, fn, err := n.endpoints(c)
	if err != nil {
		return err
	}
	c.src = src
	src.Set(c.ID, fn)
	n.connections[c.ID] = c
	return nil
}

func (n *Network) unbind(id string) {
	c := n.connections[id]
	if c == nil {
		return
	}
	if c.src != nil {
		c.src.Remove(id)
	}
	delete(n.connections, id)
}

func paramVertex(node, param string) string { return node + "." + param }
func modVertex(node string) string          { return node + "#mod" }

func (c *Connection) vertices() (from, to string) {
	to = paramVertex(c.Target, c.TargetParam)
	if c.Kind == ModulationConnection {
		return modVertex(c.Source), to
	}
	return paramVertex(c.Source, c.SourceParam), to
}

// createsCycle reports whether adding c closes a loop. A node's
// parameters feed its own modulation output, so loops through a
// modulated node are caught too.
func (n *Network) createsCycle(c *Connection) bool {
	edges := make(map[string][]string)
	for id, node := range n.nodes {
		if _, ok := node.(ModulationSource); ok {
			for _, p := range node.Base().Parameters() {
				edges[paramVertex(id, p.ID)] = append(edges[paramVertex(id, p.ID)], modVertex(id))
			}
		}
	}
	for _, existing := range n.connections {
		from, to := existing.vertices()
		edges[from] = append(edges[from], to)
	}
	from, to := c.vertices()
	if from == to {
		return true
	}
	seen := map[string]bool{}
	stack := []string{to}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if v == from {
			return true
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		stack = append(stack, edges[v]...)
	}
	return false
}

// CableRemoveListener keeps connections consistent with the node tree.
// Removing a node element drops every connection touching the node or
// one of its descendants; removing a connection element unbinds it.
type CableRemoveListener struct {
	net *Network
}

func (CableRemoveListener) PropertyChanged(*valuetree.Tree, string) {}
func (CableRemoveListener) ChildAdded(_, _ *valuetree.Tree)         {}

func (l CableRemoveListener) ChildRemoved(_, child *valuetree.Tree, _ int) {
	switch child.Type {
	case typeConnection:
		l.net.unbind(child.String(propID))
	case typeNode:
		if l.net.moving {
			return
		}
		removed := map[string]bool{}
		child.Walk(func(t *valuetree.Tree) bool {
			if t.Type == typeNode {
				removed[t.String(propID)] = true
			}
			return true
		})
		conns := l.net.Tree.ChildWithName(typeConnections)
		if conns == nil {
			return
		}
		for _, ct := range append([]*valuetree.Tree(nil), conns.Children()...) {
			if removed[ct.String(propSource)] || removed[ct.String(propTarget)] {
				conns.RemoveChild(ct)
			}
		}
	}
}
