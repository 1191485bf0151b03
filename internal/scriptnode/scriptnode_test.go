package scriptnode

import (
	"errors"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/value"
	"github.com/cryguy/hisescript/internal/valuetree"
)

var stereo = PrepareSpecs{SampleRate: 44100, BlockSize: 64, NumChannels: 2}

func add(t *testing.T, n *Network, parent, path, id string) Node {
	t.Helper()
	node, err := n.Create(path, id)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Add(node.Base().ID(), parent, -1); err != nil {
		t.Fatal(err)
	}
	return node
}

func block(numChannels, numSamples int, v float32) [][]float32 {
	out := make([][]float32, numChannels)
	for i := range out {
		out[i] = make([]float32, numSamples)
		for j := range out[i] {
			out[i][j] = v
		}
	}
	return out
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-5 }

func TestPreparePostOrder(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "container.split", "split")
	add(t, n, "split", "core.gain", "gain")
	add(t, n, "split", "container.chain", "inner")
	add(t, n, "inner", "math.mul", "mul")
	add(t, n, "inner", "core.peak", "peak")

	var order []string
	n.OnPrepared(func(node Node) { order = append(order, node.Base().ID()) })
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}

	pos := map[string]int{}
	for i, id := range order {
		if _, dup := pos[id]; dup {
			t.Fatalf("%s prepared twice: %v", id, order)
		}
		pos[id] = i
	}
	if len(order) != n.NumNodes() {
		t.Fatalf("prepared %d of %d nodes: %v", len(order), n.NumNodes(), order)
	}
	walk(n.Root, func(x Node) {
		walk(x, func(d Node) {
			if d != x && pos[d.Base().ID()] > pos[x.Base().ID()] {
				t.Errorf("%s prepared after its container %s", d.Base().ID(), x.Base().ID())
			}
		})
	})

	order = nil
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	if len(order) != 0 {
		t.Errorf("repeated Prepare re-prepared %v", order)
	}
	if err := n.Prepare(PrepareSpecs{SampleRate: 48000, BlockSize: 64, NumChannels: 2}); err != nil {
		t.Fatal(err)
	}
	if len(order) != n.NumNodes() {
		t.Errorf("new specs prepared %v", order)
	}
	if n.Get("mul").Base().State() != Active {
		t.Errorf("state = %v", n.Get("mul").Base().State())
	}
}

func connectionSet(n *Network) []string {
	var out []string
	for _, c := range n.Connections() {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out
}

func TestValueTreeRoundTrip(t *testing.T) {
	n := NewNetwork("net", nil, false)
	n.Root.Base().AddParameter("Macro", NormalisedRange, 0.25)
	add(t, n, "net", "container.modchain", "mods")
	add(t, n, "mods", "control.pma", "pma")
	add(t, n, "net", "filters.svf", "svf")
	gain := add(t, n, "net", "core.gain", "gain")
	gain.Base().Parameter("Gain").SetValueAsync(-12)
	n.Get("svf").Base().SetBypassed(true)
	if _, err := n.Connect("net", "Macro", "pma", "Value"); err != nil {
		t.Fatal(err)
	}
	if _, err := n.ConnectModulation("pma", "svf", "Frequency"); err != nil {
		t.Fatal(err)
	}

	xml, err := n.ToValueTree().XML()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := valuetree.Parse([]byte(xml))
	if err != nil {
		t.Fatal(err)
	}
	m, err := CreateFromValueTree(parsed, nil)
	if err != nil {
		t.Fatal(err)
	}

	if m.NumNodes() != n.NumNodes() {
		t.Fatalf("nodes = %d, want %d", m.NumNodes(), n.NumNodes())
	}
	for _, orig := range n.Nodes() {
		copyNode := m.Get(orig.Base().ID())
		if copyNode == nil || copyNode.Base().Path() != orig.Base().Path() {
			t.Fatalf("node %s missing or changed", orig.Base().ID())
		}
		if copyNode.Base().IsBypassed() != orig.Base().IsBypassed() {
			t.Errorf("%s bypass differs", orig.Base().ID())
		}
		for _, p := range orig.Base().Parameters() {
			q := copyNode.Base().Parameter(p.ID)
			if q == nil || q.Value() != p.Value() || q.Range != p.Range {
				t.Errorf("%s.%s = %+v, want %+v", orig.Base().ID(), p.ID, q, p)
			}
		}
	}
	if m.Get("gain").Base().Parameter("Gain").Value() != -12 {
		t.Error("async value was not persisted")
	}
	a, b := connectionSet(n), connectionSet(m)
	if len(a) != 2 || len(a) != len(b) {
		t.Fatalf("connections %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("connection %q vs %q", a[i], b[i])
		}
	}

	m.Root.Base().Parameter("Macro").SetValueSync(1)
	if m.Get("pma").Base().Parameter("Value").Value() != 1 {
		t.Error("restored macro connection is not live")
	}
}

const unknownNodeXML = `<Network ID="net" AllowPolyphonic="0">
  <Node ID="net" FactoryPath="container.chain" Bypassed="0">
    <Nodes>
      <Node ID="gain" FactoryPath="core.gain"/>
      <Node ID="mystery" FactoryPath="core.does_not_exist"/>
      <Node ID="mul" FactoryPath="math.mul"/>
    </Nodes>
  </Node>
  <Connections>
    <Connection ID="c1" Kind="modulation" Source="mystery" Target="mul" TargetParameter="Value"/>
  </Connections>
</Network>`

func TestUnknownFactoryPath(t *testing.T) {
	tree, err := valuetree.Parse([]byte(unknownNodeXML))
	if err != nil {
		t.Fatal(err)
	}
	n, err := CreateFromValueTree(tree, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n.NumNodes() != 3 {
		t.Errorf("nodes = %d, want 3", n.NumNodes())
	}
	errs := n.Exceptions.Errors()
	if len(errs) != 1 || errs[0].Kind != InitialisationError || errs[0].NodeID != "mystery" {
		t.Fatalf("errors = %+v", errs)
	}
	if len(n.Connections()) != 0 {
		t.Error("dangling connection kept")
	}

	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 16, 0.5)
	n.Process(buf, nil)
	if buf[0][0] != 0.5 {
		t.Errorf("out = %v", buf[0][0])
	}
	if n.ToValueTree().FindRecursive("Node", "ID", value.Str("mystery")) == nil {
		t.Error("unknown node dropped from the tree")
	}
}

func TestGain(t *testing.T) {
	n := NewNetwork("net", nil, false)
	g := add(t, n, "net", "core.gain", "gain")
	g.Base().Parameter("Gain").SetValueSync(-6)
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 64, 1)
	n.Process(buf, nil)
	if !near(float64(buf[1][63]), math.Pow(10, -6.0/20)) {
		t.Errorf("out = %v", buf[1][63])
	}
}

func TestSplitSumsChildren(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "container.split", "split")
	add(t, n, "split", "math.mul", "a")
	b := add(t, n, "split", "math.mul", "b")
	b.Base().Parameter("Value").SetValueSync(0.5)
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 32, 1)
	n.Process(buf, nil)
	if buf[0][0] != 1.5 || buf[1][31] != 1.5 {
		t.Errorf("out = %v %v", buf[0][0], buf[1][31])
	}
}

func TestMultiSplitsChannels(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "container.multi", "multi")
	add(t, n, "multi", "math.clear", "left")
	add(t, n, "multi", "math.add", "right").Base().Parameter("Value").SetValueSync(1)
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 8, 1)
	n.Process(buf, nil)
	if buf[0][3] != 0 || buf[1][3] != 2 {
		t.Errorf("out = %v %v", buf[0][3], buf[1][3])
	}
}

func TestModChainLeavesAudio(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "container.modchain", "mods")
	add(t, n, "mods", "math.clear", "clear")
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 8, 0.25)
	n.Process(buf, nil)
	if buf[0][0] != 0.25 {
		t.Errorf("out = %v", buf[0][0])
	}
}

func TestFrameNeedsStereo(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "container.frame2_block", "frame")
	add(t, n, "frame", "math.clear", "clear")
	if err := n.Prepare(PrepareSpecs{SampleRate: 44100, BlockSize: 64, NumChannels: 1}); err != nil {
		t.Fatal(err)
	}
	errs := n.Exceptions.ForNode("frame")
	if len(errs) != 1 || errs[0].Kind != ChannelMismatch || errs[0].Expected != 2 || errs[0].Actual != 1 {
		t.Fatalf("errors = %+v", errs)
	}
	if n.Get("frame").Base().State() != Inactive {
		t.Errorf("state = %v", n.Get("frame").Base().State())
	}
	buf := block(1, 16, 0.5)
	n.Process(buf, nil)
	if buf[0][0] != 0.5 {
		t.Error("broken node did not pass audio through")
	}
}

func TestFrameProcessing(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "container.frame2_block", "frame")
	add(t, n, "frame", "math.add", "add").Base().Parameter("Value").SetValueSync(0.5)
	add(t, n, "frame", "container.fix32_block", "fix")
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	errs := n.Exceptions.ForNode("fix")
	if len(errs) != 1 || errs[0].Kind != IllegalFrameCall {
		t.Fatalf("errors = %+v", errs)
	}
	buf := block(2, 64, 0)
	n.Process(buf, nil)
	if buf[0][10] != 0.5 || buf[1][63] != 0.5 {
		t.Errorf("out = %v %v", buf[0][10], buf[1][63])
	}
}

func TestFixBlockChunks(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "container.fix32_block", "fix")
	add(t, n, "fix", "core.peak", "peak")
	var calls int
	n.Get("peak").(ModulationSource).Modulation().Set("probe", func(float64) { calls++ })
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	n.Process(block(2, 64, 0.1), nil)
	if calls != 2 {
		t.Errorf("peak ran %d times, want 2", calls)
	}
	if n.Get("peak").Base().Specs().BlockSize != FixedBlockSize {
		t.Errorf("child block size = %d", n.Get("peak").Base().Specs().BlockSize)
	}

	small := NewNetwork("small", nil, false)
	add(t, small, "small", "container.fix32_block", "fix")
	if err := small.Prepare(PrepareSpecs{SampleRate: 44100, BlockSize: 16, NumChannels: 2}); err != nil {
		t.Fatal(err)
	}
	if errs := small.Exceptions.ForNode("fix"); len(errs) != 1 || errs[0].Kind != IllegalBlockSize {
		t.Errorf("errors = %+v", errs)
	}
}

func TestMacroConnection(t *testing.T) {
	n := NewNetwork("net", nil, false)
	macro := n.Root.Base().AddParameter("Macro", NormalisedRange, 0)
	gain := add(t, n, "net", "core.gain", "gain").Base().Parameter("Gain")
	if _, err := n.Connect("net", "Macro", "gain", "Gain"); err != nil {
		t.Fatal(err)
	}
	macro.SetValueSync(1)
	if gain.Value() != 0 {
		t.Errorf("gain = %v, want 0", gain.Value())
	}
	macro.SetValueAsync(0)
	if gain.Value() != 0 {
		t.Error("async value forwarded before flush")
	}
	n.FlushPending()
	if gain.Value() != -100 {
		t.Errorf("gain = %v, want -100", gain.Value())
	}
	if got := n.Tree.FindRecursive("Parameter", "ID", value.Str("Gain")).Double("Value", 1); got != -100 {
		t.Errorf("persisted gain = %v", got)
	}
}

func TestModulationConnection(t *testing.T) {
	n := NewNetwork("net", nil, false)
	pma := add(t, n, "net", "control.pma", "pma")
	add(t, n, "net", "math.mul", "mul")
	pma.Base().Parameter("Value").SetValueSync(0.5)
	if _, err := n.ConnectModulation("pma", "mul", "Value"); err != nil {
		t.Fatal(err)
	}
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 8, 1)
	n.Process(buf, nil)
	if buf[0][0] != 0.5 {
		t.Errorf("out = %v", buf[0][0])
	}
}

func TestCyclesRejected(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "control.pma", "a")
	add(t, n, "net", "control.pma", "b")
	if _, err := n.ConnectModulation("a", "b", "Value"); err != nil {
		t.Fatal(err)
	}
	if _, err := n.ConnectModulation("b", "a", "Add"); !errors.Is(err, ErrCycle) {
		t.Errorf("err = %v, want ErrCycle", err)
	}
	if _, err := n.Connect("a", "Value", "a", "Value"); !errors.Is(err, ErrCycle) {
		t.Errorf("self loop err = %v", err)
	}
	if _, err := n.Connect("a", "Value", "b", "Multiply"); err != nil {
		t.Errorf("forward link rejected: %v", err)
	}
	if len(n.Connections()) != 2 {
		t.Errorf("connections = %v", connectionSet(n))
	}
}

func TestRemoveDropsConnections(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "container.chain", "group")
	pma := add(t, n, "group", "control.pma", "pma")
	add(t, n, "net", "math.mul", "mul")
	if _, err := n.ConnectModulation("pma", "mul", "Value"); err != nil {
		t.Fatal(err)
	}
	if err := n.Remove("group"); err != nil {
		t.Fatal(err)
	}
	if n.Get("pma") != nil || n.Get("group") != nil {
		t.Error("nodes still registered")
	}
	if pma.Base().State() != Destroyed {
		t.Errorf("state = %v", pma.Base().State())
	}
	if len(n.Connections()) != 0 || n.Tree.ChildWithName("Connections").NumChildren() != 0 {
		t.Error("connection survived node removal")
	}
	if pma.(ModulationSource).Modulation().Len() != 0 {
		t.Error("modulation target still bound")
	}
	if err := n.Remove("net"); err == nil {
		t.Error("root removal accepted")
	}
}

func TestMoveKeepsConnections(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "container.chain", "a")
	add(t, n, "net", "container.chain", "b")
	add(t, n, "a", "control.pma", "pma")
	add(t, n, "net", "math.mul", "mul")
	if _, err := n.ConnectModulation("pma", "mul", "Value"); err != nil {
		t.Fatal(err)
	}
	if err := n.Add("pma", "b", 0); err != nil {
		t.Fatal(err)
	}
	if len(n.Connections()) != 1 {
		t.Error("move dropped the connection")
	}
	if n.Get("pma").Base().Parent() != n.Get("b") {
		t.Error("node not moved")
	}
	if err := n.Add("a", "a", -1); err == nil {
		t.Error("container added to itself")
	}
}

func TestProcessDuringEditIsCleared(t *testing.T) {
	n := NewNetwork("net", nil, false)
	add(t, n, "net", "math.add", "add").Base().Parameter("Value").SetValueSync(1)
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 8, 0.5)
	err := n.Edit(func(ed Editor) error {
		n.Process(buf, nil)
		_, err := ed.Create("math.mul", "")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if buf[0][0] != 0 {
		t.Errorf("block during edit = %v, want cleared", buf[0][0])
	}
	if n.Get("mul1") == nil {
		t.Error("generated id missing")
	}
}

func TestReadsDuringEdits(t *testing.T) {
	n := NewNetwork("net", nil, false)
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				err := n.Edit(func(ed Editor) error {
					node, err := ed.Create("math.add", "")
					if err != nil || i%2 == 0 {
						return err
					}
					return ed.Remove(node.Base().ID())
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			if got := n.NumNodes(); got != 101 {
				t.Errorf("NumNodes = %d, want 101", got)
			}
			if got := len(n.Nodes()); got != n.NumNodes() {
				t.Errorf("Nodes has %d entries, want %d", got, n.NumNodes())
			}
			return
		default:
		}
		n.Get("add1")
		n.Nodes()
		n.FlushPending()
	}
}

func TestProcessMismatch(t *testing.T) {
	n := NewNetwork("net", nil, false)
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 128, 1)
	n.Process(buf, nil)
	if buf[0][0] != 0 {
		t.Error("oversized block not cleared")
	}
	e := n.ProcessError()
	if e == nil || e.Kind != BlockSizeMismatch || e.Expected != 64 || e.Actual != 128 {
		t.Fatalf("process error = %+v", e)
	}
	n.FlushPending()
	if n.ProcessError() != nil || n.Exceptions.Len() != 1 {
		t.Errorf("flush did not move the error: %+v", n.Exceptions.Errors())
	}
	if err := n.Prepare(PrepareSpecs{BlockSize: 64, NumChannels: 2}); err == nil {
		t.Error("zero sample rate accepted")
	}
}

func TestVoiceIndex(t *testing.T) {
	n := NewNetwork("net", nil, true)
	add(t, n, "net", "core.voice_index", "voice")
	add(t, n, "net", "math.mul", "mul")
	if _, err := n.ConnectModulation("voice", "mul", "Value"); err != nil {
		t.Fatal(err)
	}
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 8, 1)
	n.ProcessVoice(NumVoices-1, buf, nil)
	if buf[0][0] != 1 {
		t.Errorf("last voice out = %v", buf[0][0])
	}
	buf = block(2, 8, 1)
	n.ProcessVoice(0, buf, nil)
	if buf[0][0] != 0 {
		t.Errorf("first voice out = %v", buf[0][0])
	}
	if n.Poly.Voice() != NoVoice {
		t.Error("voice not restored")
	}

	mono := NewNetwork("mono", nil, false)
	add(t, mono, "mono", "core.voice_index", "voice")
	if err := mono.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	if errs := mono.Exceptions.ForNode("voice"); len(errs) != 1 || errs[0].Kind != NoMatchingParent {
		t.Errorf("errors = %+v", errs)
	}
}

func TestOscillatorVoices(t *testing.T) {
	n := NewNetwork("net", nil, true)
	add(t, n, "net", "core.oscillator", "osc").Base().Parameter("Mode").SetValueSync(WaveSquare)
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	note := []core.HiseEvent{{Type: core.EventNoteOn, Number: 69, Value: 100}}
	buf := block(2, 64, 0)
	n.ProcessVoice(3, buf, note)
	if buf[0][0] != 1 || buf[1][0] != 1 {
		t.Errorf("first sample = %v %v", buf[0][0], buf[1][0])
	}
	osc := n.Get("osc").(*oscillatorNode)
	if osc.voices.All()[3].freq != 440 || osc.voices.All()[0].freq != 0 {
		t.Error("note-on did not target the current voice")
	}
	n.Reset()
	if osc.voices.All()[3].freq != 0 {
		t.Error("reset kept voice state")
	}
}

func TestFilterAttenuatesHighs(t *testing.T) {
	n := NewNetwork("net", nil, false)
	f := add(t, n, "net", "filters.svf", "svf")
	f.Base().Parameter("Frequency").SetValueSync(100)
	if err := n.Prepare(PrepareSpecs{SampleRate: 44100, BlockSize: 256, NumChannels: 1}); err != nil {
		t.Fatal(err)
	}
	buf := block(1, 256, 0)
	for i := range buf[0] {
		if i%2 == 0 {
			buf[0][i] = 1
		} else {
			buf[0][i] = -1
		}
	}
	n.Process(buf, nil)
	if math.Abs(float64(buf[0][255])) > 0.01 {
		t.Errorf("nyquist tone passed the low pass: %v", buf[0][255])
	}
}

func TestRangeConversion(t *testing.T) {
	r := Range{Min: 20, Max: 20000, Skew: 0.2299}
	for _, v := range []float64{20, 100, 1000, 20000} {
		if got := r.From0To1(r.To0To1(v)); !near(got, v) {
			t.Errorf("round trip %v = %v", v, got)
		}
	}
	if got := (Range{Min: 0, Max: 10, Step: 1, Skew: 1}).Clamp(3.4); got != 3 {
		t.Errorf("clamp = %v", got)
	}
	if got := NormalisedRange.Clamp(math.NaN()); got != 0 {
		t.Errorf("NaN clamp = %v", got)
	}
}

func TestProcessDoesNotAllocate(t *testing.T) {
	n := NewNetwork("net", nil, true)
	add(t, n, "net", "core.oscillator", "osc")
	add(t, n, "net", "container.split", "split")
	add(t, n, "split", "filters.svf", "svf")
	add(t, n, "split", "math.tanh", "tanh")
	add(t, n, "net", "container.fix32_block", "fix")
	add(t, n, "fix", "core.peak", "peak")
	add(t, n, "net", "container.frame2_block", "frame")
	add(t, n, "frame", "core.gain", "gain")
	add(t, n, "net", "container.multi", "multi")
	add(t, n, "multi", "math.mul", "mul")
	if _, err := n.ConnectModulation("peak", "mul", "Value"); err != nil {
		t.Fatal(err)
	}
	if err := n.Prepare(stereo); err != nil {
		t.Fatal(err)
	}
	buf := block(2, 64, 0)
	allocs := testing.AllocsPerRun(50, func() { n.ProcessVoice(1, buf, nil) })
	if allocs != 0 {
		t.Errorf("Process allocated %v times per block", allocs)
	}
}
