package hisescript

import (
	"errors"
	"testing"

	"github.com/cryguy/hisescript/internal/scriptnode"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Scripts(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveScript("a", "var v = 1;"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveScript("a", "var v = 2;"); err != nil {
		t.Fatal(err)
	}
	src, err := s.LoadScript("a")
	if err != nil {
		t.Fatal(err)
	}
	if src != "var v = 2;" {
		t.Errorf("src = %q, want the latest version", src)
	}
	if _, err := s.LoadScript("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Networks(t *testing.T) {
	s := newTestStore(t)
	n := scriptnode.NewNetwork("fx", nil, false)
	g, err := n.Create("core.gain", "gain")
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Add(g.Base().ID(), "fx", -1); err != nil {
		t.Fatal(err)
	}
	g.Base().Parameter("Gain").SetValueSync(-12)

	if err := s.SaveNetwork(n.ToValueTree()); err != nil {
		t.Fatal(err)
	}
	ids, err := s.ListNetworks()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "fx" {
		t.Errorf("ids = %v", ids)
	}

	loaded, err := s.OpenNetwork("fx", nil)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumNodes() != 2 {
		t.Errorf("nodes = %d, want 2", loaded.NumNodes())
	}
	node := loaded.Get("gain")
	if node == nil {
		t.Fatal("gain node missing after reload")
	}
	if v := node.Base().Parameter("Gain").Value(); v != -12 {
		t.Errorf("Gain = %v, want -12", v)
	}
	if _, err := s.LoadNetwork("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOpenStore_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveScript("main", "var x;"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.LoadScript("main"); err != nil {
		t.Errorf("script lost after reopen: %v", err)
	}
}
