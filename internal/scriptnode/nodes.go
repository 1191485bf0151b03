package scriptnode

import (
	"math"

	"github.com/cryguy/hisescript/internal/core"
)

// mathNode applies a per-sample operation with one Value parameter.
type mathNode struct {
	NodeBase
	op    func(x, v float32) float32
	value *Parameter
}

func newMathNode(def float64, op func(x, v float32) float32) *mathNode {
	n := &mathNode{op: op}
	n.value = n.AddParameter("Value", NormalisedRange, def)
	return n
}

func (n *mathNode) Prepare(PrepareSpecs) error { return nil }
func (n *mathNode) Reset()                     {}

func (n *mathNode) Process(d *ProcessData) {
	v := float32(n.value.Value())
	for _, ch := range d.Channels {
		ch = ch[:d.NumSamples]
		for i, x := range ch {
			ch[i] = n.op(x, v)
		}
	}
}

// gainNode scales by a decibel value.
type gainNode struct {
	NodeBase
	gain *Parameter
}

func newGainNode() *gainNode {
	n := &gainNode{}
	n.gain = n.AddParameter("Gain", Range{Min: -100, Max: 0, Step: 0.1, Skew: 5.42}, 0)
	return n
}

// DecibelsToGain converts dB to a linear factor; -100 dB and below is
// silence.
func DecibelsToGain(db float64) float64 {
	if db <= -100 {
		return 0
	}
	return math.Pow(10, db/20)
}

func (n *gainNode) Prepare(PrepareSpecs) error { return nil }
func (n *gainNode) Reset()                     {}

func (n *gainNode) Process(d *ProcessData) {
	g := float32(DecibelsToGain(n.gain.Value()))
	for _, ch := range d.Channels {
		for i := range ch[:d.NumSamples] {
			ch[i] *= g
		}
	}
}

// Oscillator waveforms.
const (
	WaveSine = iota
	WaveSaw
	WaveSquare
)

type oscVoice struct {
	phase float64
	freq  float64 // set by note-on, 0 uses the parameter
}

// oscillatorNode writes a waveform into every channel. Note-on events
// set the frequency of the current voice.
type oscillatorNode struct {
	NodeBase
	mode, freq, gain *Parameter
	sampleRate       float64
	voices           PolyData[oscVoice]
}

func newOscillatorNode() *oscillatorNode {
	n := &oscillatorNode{}
	n.mode = n.AddParameter("Mode", Range{Min: 0, Max: 2, Step: 1, Skew: 1}, WaveSine)
	n.freq = n.AddParameter("Frequency", Range{Min: 20, Max: 20000, Step: 0.1, Skew: 0.2299}, 220)
	n.gain = n.AddParameter("Gain", NormalisedRange, 1)
	return n
}

func (n *oscillatorNode) Prepare(ps PrepareSpecs) error {
	n.sampleRate = ps.SampleRate
	n.voices.Prepare(n.poly())
	return nil
}

func (n *oscillatorNode) Reset() {
	for i := range n.voices.All() {
		n.voices.All()[i] = oscVoice{}
	}
}

// NoteToFrequency converts a MIDI note number to Hz.
func NoteToFrequency(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

func (n *oscillatorNode) Process(d *ProcessData) {
	if n.sampleRate <= 0 || len(d.Channels) == 0 {
		return
	}
	v := n.voices.Get()
	for _, e := range d.Events {
		if e.Type == core.EventNoteOn {
			v.freq = NoteToFrequency(e.Number)
			v.phase = 0
		}
	}
	freq := v.freq
	if freq == 0 {
		freq = n.freq.Value()
	}
	inc := freq / n.sampleRate
	mode := int(n.mode.Value())
	gain := float32(n.gain.Value())
	first := d.Channels[0][:d.NumSamples]
	for i := range first {
		var s float64
		switch mode {
		case WaveSaw:
			s = 2*v.phase - 1
		case WaveSquare:
			if v.phase < 0.5 {
				s = 1
			} else {
				s = -1
			}
		default:
			s = math.Sin(2 * math.Pi * v.phase)
		}
		first[i] = float32(s) * gain
		v.phase += inc
		v.phase -= math.Floor(v.phase)
	}
	for _, ch := range d.Channels[1:] {
		copy(ch[:d.NumSamples], first)
	}
}

// peakNode passes audio and emits the block's absolute peak.
type peakNode struct {
	NodeBase
	mod DynamicBase
}

func (n *peakNode) Prepare(PrepareSpecs) error { return nil }
func (n *peakNode) Reset()                     {}
func (n *peakNode) Modulation() *DynamicBase   { return &n.mod }

func (n *peakNode) Process(d *ProcessData) {
	var peak float32
	for _, ch := range d.Channels {
		for _, x := range ch[:d.NumSamples] {
			if x < 0 {
				x = -x
			}
			peak = max(peak, x)
		}
	}
	n.mod.Call(math.Min(1, float64(peak)))
}

// voiceIndexNode emits the current voice index normalised by the voice
// count. It needs a polyphonic network.
type voiceIndexNode struct {
	NodeBase
	mod DynamicBase
}

func (n *voiceIndexNode) Prepare(PrepareSpecs) error {
	if n.network == nil || n.network.Poly == nil {
		return newError(NoMatchingParent, 0, 0, "needs a polyphonic network")
	}
	return nil
}

func (n *voiceIndexNode) Reset()                   {}
func (n *voiceIndexNode) Modulation() *DynamicBase { return &n.mod }

func (n *voiceIndexNode) Process(*ProcessData) {
	h := n.poly()
	v := h.Voice()
	if v < 0 || h.NumVoices() <= 1 {
		n.mod.Call(0)
		return
	}
	n.mod.Call(float64(v) / float64(h.NumVoices()-1))
}

// pmaNode emits Value * Multiply + Add, clamped to 0..1. It leaves the
// audio alone.
type pmaNode struct {
	NodeBase
	val, mul, add *Parameter
	mod           DynamicBase
}

func newPmaNode() *pmaNode {
	n := &pmaNode{}
	n.val = n.AddParameter("Value", NormalisedRange, 0)
	n.mul = n.AddParameter("Multiply", Range{Min: -1, Max: 1, Skew: 1}, 1)
	n.add = n.AddParameter("Add", Range{Min: -1, Max: 1, Skew: 1}, 0)
	return n
}

func (n *pmaNode) Prepare(PrepareSpecs) error { return nil }
func (n *pmaNode) Reset()                     {}
func (n *pmaNode) Modulation() *DynamicBase   { return &n.mod }

// Output returns the current modulation value.
func (n *pmaNode) Output() float64 {
	return math.Max(0, math.Min(1, n.val.Value()*n.mul.Value()+n.add.Value()))
}

func (n *pmaNode) Process(*ProcessData) { n.mod.Call(n.Output()) }

// Filter modes of filters.svf.
const (
	FilterLowPass = iota
	FilterHighPass
	FilterBandPass
)

type svfState struct{ ic1, ic2 float64 }

// svfNode is a topology preserving state variable filter.
type svfNode struct {
	NodeBase
	freq, q, mode *Parameter
	sampleRate    float64
	state         PolyData[[]svfState]
}

func newSvfNode() *svfNode {
	n := &svfNode{}
	n.freq = n.AddParameter("Frequency", Range{Min: 20, Max: 20000, Step: 0.1, Skew: 0.2299}, 1000)
	n.q = n.AddParameter("Q", Range{Min: 0.3, Max: 9.9, Step: 0.1, Skew: 0.2647}, 1)
	n.mode = n.AddParameter("Mode", Range{Min: 0, Max: 2, Step: 1, Skew: 1}, FilterLowPass)
	return n
}

func (n *svfNode) Prepare(ps PrepareSpecs) error {
	if ps.SampleRate <= 0 {
		return newError(SampleRateMismatch, 44100, int(ps.SampleRate), "invalid sample rate")
	}
	n.sampleRate = ps.SampleRate
	n.state.Prepare(n.poly())
	for i := range n.state.All() {
		n.state.All()[i] = make([]svfState, ps.NumChannels)
	}
	return nil
}

func (n *svfNode) Reset() {
	for _, st := range n.state.All() {
		clear(st)
	}
}

func (n *svfNode) Process(d *ProcessData) {
	st := *n.state.Get()
	f := math.Min(n.freq.Value(), n.sampleRate*0.49)
	g := math.Tan(math.Pi * f / n.sampleRate)
	k := 1 / n.q.Value()
	a1 := 1 / (1 + g*(g+k))
	a2 := g * a1
	a3 := g * a2
	mode := int(n.mode.Value())
	for c, ch := range d.Channels {
		if c >= len(st) {
			break
		}
		s := &st[c]
		for i, x := range ch[:d.NumSamples] {
			v0 := float64(x)
			v3 := v0 - s.ic2
			v1 := a1*s.ic1 + a2*v3
			v2 := s.ic2 + a2*s.ic1 + a3*v3
			s.ic1 = 2*v1 - s.ic1
			s.ic2 = 2*v2 - s.ic2
			var out float64
			switch mode {
			case FilterHighPass:
				out = v0 - k*v1 - v2
			case FilterBandPass:
				out = v1
			default:
				out = v2
			}
			ch[i] = float32(out)
		}
	}
}
