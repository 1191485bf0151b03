package scriptnode

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Factory creates an unattached node. Parameters declared by the factory
// are bound to the persisted tree when the network adopts the node.
type Factory func() Node

// Registry maps factory paths like "core.gain" to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in nodes.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(path string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[path] = f
}

// Has reports whether path is registered.
func (r *Registry) Has(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[path]
	return ok
}

// Paths returns all registered paths sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) create(path string) (Node, error) {
	r.mu.RLock()
	f, ok := r.factories[path]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", path)
	}
	n := f()
	n.Base().path = path
	return n, nil
}

func registerBuiltins(r *Registry) {
	r.Register("container.chain", func() Node { return &chainNode{} })
	r.Register("container.split", func() Node { return &splitNode{} })
	r.Register("container.multi", func() Node { return &multiNode{} })
	r.Register("container.modchain", func() Node { return &modChainNode{} })
	r.Register("container.frame2_block", func() Node { return &frameNode{} })
	r.Register("container.fix32_block", func() Node { return &fixBlockNode{} })

	r.Register("math.mul", func() Node {
		return newMathNode(1, func(x, v float32) float32 { return x * v })
	})
	r.Register("math.add", func() Node {
		return newMathNode(0, func(x, v float32) float32 { return x + v })
	})
	r.Register("math.clear", func() Node {
		return newMathNode(0, func(float32, float32) float32 { return 0 })
	})
	r.Register("math.tanh", func() Node {
		return newMathNode(1, func(x, v float32) float32 { return float32(math.Tanh(float64(x * v))) })
	})

	r.Register("core.gain", func() Node { return newGainNode() })
	r.Register("core.oscillator", func() Node { return newOscillatorNode() })
	r.Register("core.peak", func() Node { return &peakNode{} })
	r.Register("core.voice_index", func() Node { return &voiceIndexNode{} })
	r.Register("filters.svf", func() Node { return newSvfNode() })
	r.Register("control.pma", func() Node { return newPmaNode() })
}
