package valuetree

import (
	"strings"
	"testing"

	"github.com/cryguy/hisescript/internal/value"
)

func sampleTree() *Tree {
	net := New("Network").SetProperty("ID", value.Str("main")).SetProperty("Version", value.Double(0.1))
	node := New("Node").SetProperty("ID", value.Str("gain1")).SetProperty("FactoryPath", value.Str("core.gain"))
	params := New("Parameters")
	params.AddChild(New("Parameter").
		SetProperty("ID", value.Str("Gain")).
		SetProperty("Value", value.Double(-12.5)).
		SetProperty("MinValue", value.Double(-100)), -1)
	node.AddChild(params, -1)
	net.AddChild(node, -1)
	return net
}

func TestXMLRoundTrip(t *testing.T) {
	tree := sampleTree()
	first, err := tree.XML()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse([]byte(first))
	if err != nil {
		t.Fatal(err)
	}
	second, err := parsed.XML()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("round trip changed output:\n%s\n---\n%s", first, second)
	}
	p := parsed.FindRecursive("Parameter", "ID", value.Str("Gain"))
	if p == nil || p.Double("Value", 0) != -12.5 {
		t.Errorf("parameter = %v", p)
	}
}

func TestStableFloatRendering(t *testing.T) {
	tr := New("T").SetProperty("a", value.Double(0.1)).SetProperty("b", value.Double(1.0/3.0)).SetProperty("c", value.Double(1e-7))
	out, err := tr.XML()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`a="0.1"`, `b="0.3333333333333333"`, `c="1e-07"`} {
		if !strings.Contains(out, want) {
			t.Errorf("%s missing from %s", want, out)
		}
	}
}

func TestListenersBubble(t *testing.T) {
	root := sampleTree()
	var props []string
	var added, removed int
	remove := root.AddListener(Funcs{
		OnProperty:     func(n *Tree, name string) { props = append(props, n.Type+"."+name) },
		OnChildAdded:   func(_, _ *Tree) { added++ },
		OnChildRemoved: func(_, _ *Tree, _ int) { removed++ },
	})

	node := root.ChildWithName("Node")
	node.SetProperty("Bypassed", value.Bool(true))
	node.SetProperty("Bypassed", value.Bool(true)) // unchanged, no event
	extra := New("Node")
	root.AddChild(extra, 0)
	root.RemoveChild(extra)

	if len(props) != 1 || props[0] != "Node.Bypassed" {
		t.Errorf("props = %v", props)
	}
	if added != 1 || removed != 1 {
		t.Errorf("added = %d, removed = %d", added, removed)
	}

	remove()
	node.SetProperty("Folded", value.Bool(true))
	if len(props) != 1 {
		t.Error("listener still called after removal")
	}
}

func TestAddChildReparents(t *testing.T) {
	a, b, c := New("A"), New("B"), New("C")
	a.AddChild(c, -1)
	b.AddChild(c, -1)
	if a.NumChildren() != 0 || c.Parent() != b {
		t.Error("child was not moved")
	}
	c.AddChild(b, -1) // would create a cycle
	if b.Parent() != nil {
		t.Error("cycle accepted")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := sampleTree()
	cp := orig.Clone()
	cp.ChildWithName("Node").SetProperty("ID", value.Str("other"))
	if orig.ChildWithName("Node").String("ID") != "gain1" {
		t.Error("clone shares nodes with the original")
	}
	if cp.Parent() != nil {
		t.Error("clone kept parent")
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{"", "<a><b></a>", "<a/><b/>"} {
		if _, err := Parse([]byte(src)); err == nil {
			t.Errorf("Parse(%q) succeeded", src)
		}
	}
}

func TestTypedGetters(t *testing.T) {
	tr, err := Parse([]byte(`<N a="3" b="2.5" c="1" d="x"/>`))
	if err != nil {
		t.Fatal(err)
	}
	if tr.Int("a", 0) != 3 || tr.Double("b", 0) != 2.5 || !tr.Bool("c", false) || tr.Int("d", 7) != 7 {
		t.Errorf("getters = %d %v %v %d", tr.Int("a", 0), tr.Double("b", 0), tr.Bool("c", false), tr.Int("d", 7))
	}
}
