package hisescript

import (
	"fmt"

	"github.com/cryguy/hisescript/internal/scriptnode"
	"github.com/cryguy/hisescript/internal/value"
)

func method(obj *value.Object, name string, numArgs int, fn func(args []value.Value) (value.Value, error)) {
	obj.Set(name, value.Native(name, numArgs, func(_ value.Value, args []value.Value) (value.Value, error) {
		return fn(args)
	}))
}

// networkScope maps the node handles handed to scripts back to node ids.
type networkScope struct {
	e       *Engine
	net     *scriptnode.Network
	handles map[*value.Object]string
}

// networkHandle returns the script object for network id, creating the
// network on first use.
func (e *Engine) networkHandle(id string) (value.Value, error) {
	if id == "" {
		return value.Undefined(), fmt.Errorf("createDspNetwork: empty network id")
	}
	s := &networkScope{e: e, net: e.network(id), handles: make(map[*value.Object]string)}
	obj := value.NewObject()

	method(obj, "getId", 0, func([]value.Value) (value.Value, error) {
		return value.Str(s.net.ID), nil
	})
	method(obj, "create", 2, func(args []value.Value) (value.Value, error) {
		node, err := s.net.Create(args[0].String(), nodeIDArg(args[1]))
		if err != nil {
			return value.Undefined(), err
		}
		return s.node(node.Base().ID()), nil
	})
	method(obj, "get", 1, func(args []value.Value) (value.Value, error) {
		if s.net.Get(args[0].String()) == nil {
			return value.Undefined(), nil
		}
		return s.node(args[0].String()), nil
	})
	method(obj, "prepareToPlay", 2, func(args []value.Value) (value.Value, error) {
		err := s.net.Prepare(scriptnode.PrepareSpecs{
			SampleRate:  args[0].ToDouble(),
			BlockSize:   args[1].ToInt(),
			NumChannels: 2,
		})
		return value.Undefined(), err
	})
	method(obj, "processBlock", 1, func(args []value.Value) (value.Value, error) {
		arr := args[0].Array()
		if arr == nil {
			return value.Undefined(), fmt.Errorf("processBlock: expected an array of channels")
		}
		channels := make([][]float32, arr.Len())
		for c := range channels {
			ch := arr.Get(c).Array()
			if ch == nil {
				return value.Undefined(), fmt.Errorf("processBlock: channel %d is not an array", c)
			}
			channels[c] = make([]float32, ch.Len())
			for i := range channels[c] {
				channels[c][i] = float32(ch.Get(i).ToDouble())
			}
		}
		s.net.Process(channels, nil)
		s.net.FlushPending()
		storeChannels(args[0], channels)
		return value.Undefined(), nil
	})
	method(obj, "addParameter", 1, func(args []value.Value) (value.Value, error) {
		err := s.net.Edit(func(scriptnode.Editor) error {
			s.net.Root.Base().AddParameter(args[0].String(), scriptnode.NormalisedRange, 0)
			return nil
		})
		return value.Undefined(), err
	})
	method(obj, "setParameter", 2, func(args []value.Value) (value.Value, error) {
		p := s.net.Root.Base().Parameter(args[0].String())
		if p == nil {
			return value.Undefined(), fmt.Errorf("network %s has no parameter %q", s.net.ID, args[0].String())
		}
		p.SetValueSync(args[1].ToDouble())
		return value.Undefined(), nil
	})
	method(obj, "connect", 4, func(args []value.Value) (value.Value, error) {
		src, err := s.resolve(args[0])
		if err != nil {
			return value.Undefined(), err
		}
		dst, err := s.resolve(args[2])
		if err != nil {
			return value.Undefined(), err
		}
		var c *scriptnode.Connection
		if args[1].IsVoid() || args[1].String() == "" {
			c, err = s.net.ConnectModulation(src, dst, args[3].String())
		} else {
			c, err = s.net.Connect(src, args[1].String(), dst, args[3].String())
		}
		if err != nil {
			return value.Undefined(), err
		}
		return value.Str(c.ID), nil
	})
	method(obj, "clear", 0, func([]value.Value) (value.Value, error) {
		err := s.net.Edit(func(ed scriptnode.Editor) error {
			for _, child := range append([]scriptnode.Node(nil), s.net.Root.Children()...) {
				if err := ed.Remove(child.Base().ID()); err != nil {
					return err
				}
			}
			return nil
		})
		clear(s.handles)
		return value.Undefined(), err
	})
	method(obj, "toXml", 0, func([]value.Value) (value.Value, error) {
		xml, err := s.net.ToValueTree().XML()
		if err != nil {
			return value.Undefined(), err
		}
		return value.Str(xml), nil
	})
	method(obj, "getNumNodes", 0, func([]value.Value) (value.Value, error) {
		return value.Int(s.net.NumNodes()), nil
	})
	return value.ObjectValue(obj), nil
}

func nodeIDArg(v value.Value) string {
	if v.IsVoid() {
		return ""
	}
	return v.String()
}

// resolve accepts a node handle or a node id.
func (s *networkScope) resolve(v value.Value) (string, error) {
	if o := v.Object(); o != nil {
		if id, ok := s.handles[o]; ok {
			return id, nil
		}
		return "", fmt.Errorf("object is not a node of network %s", s.net.ID)
	}
	if v.IsString() {
		if s.net.Get(v.String()) == nil {
			return "", fmt.Errorf("network %s has no node %q", s.net.ID, v.String())
		}
		return v.String(), nil
	}
	return "", fmt.Errorf("expected a node or node id, got %s", v.TypeOf())
}

// live returns the node behind a handle or an error once it was removed.
func (s *networkScope) live(id string) (scriptnode.Node, error) {
	n := s.net.Get(id)
	if n == nil {
		return nil, fmt.Errorf("node %q was removed", id)
	}
	return n, nil
}

func (s *networkScope) param(id, name string) (*scriptnode.Parameter, error) {
	n, err := s.live(id)
	if err != nil {
		return nil, err
	}
	p := n.Base().Parameter(name)
	if p == nil {
		return nil, fmt.Errorf("node %q has no parameter %q", id, name)
	}
	return p, nil
}

// node returns the script handle of node id.
func (s *networkScope) node(id string) value.Value {
	for o, hid := range s.handles {
		if hid == id {
			return value.ObjectValue(o)
		}
	}
	obj := value.NewObject()
	s.handles[obj] = id

	method(obj, "getId", 0, func([]value.Value) (value.Value, error) {
		return value.Str(id), nil
	})
	method(obj, "set", 2, func(args []value.Value) (value.Value, error) {
		p, err := s.param(id, args[0].String())
		if err != nil {
			return value.Undefined(), err
		}
		p.SetValueSync(args[1].ToDouble())
		return value.Undefined(), nil
	})
	method(obj, "get", 1, func(args []value.Value) (value.Value, error) {
		p, err := s.param(id, args[0].String())
		if err != nil {
			return value.Undefined(), err
		}
		return value.Double(p.Value()), nil
	})
	method(obj, "setBypassed", 1, func(args []value.Value) (value.Value, error) {
		n, err := s.live(id)
		if err != nil {
			return value.Undefined(), err
		}
		n.Base().SetBypassed(args[0].ToBool())
		return value.Undefined(), nil
	})
	method(obj, "isBypassed", 0, func([]value.Value) (value.Value, error) {
		n, err := s.live(id)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Bool(n.Base().IsBypassed()), nil
	})
	method(obj, "setParent", 2, func(args []value.Value) (value.Value, error) {
		parent, err := s.resolve(args[0])
		if err != nil {
			return value.Undefined(), err
		}
		return value.Undefined(), s.net.Add(id, parent, args[1].ToInt())
	})
	method(obj, "connectTo", 2, func(args []value.Value) (value.Value, error) {
		dst, err := s.resolve(args[0])
		if err != nil {
			return value.Undefined(), err
		}
		c, err := s.net.ConnectModulation(id, dst, args[1].String())
		if err != nil {
			return value.Undefined(), err
		}
		return value.Str(c.ID), nil
	})
	return value.ObjectValue(obj)
}
