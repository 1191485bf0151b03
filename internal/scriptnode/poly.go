package scriptnode

import "sync/atomic"

// NoVoice is the voice index outside of any voice rendering.
const NoVoice = -1

// PolyHandler holds the voice index currently being rendered. Within
// one audio callback there is a single logical thread of control, so
// this is a context value rather than a lock.
type PolyHandler struct {
	numVoices int
	voice     atomic.Int32
}

// NewPolyHandler creates a handler for numVoices voices.
func NewPolyHandler(numVoices int) *PolyHandler {
	h := &PolyHandler{numVoices: numVoices}
	h.voice.Store(NoVoice)
	return h
}

// NumVoices returns the voice count.
func (h *PolyHandler) NumVoices() int {
	if h == nil {
		return 1
	}
	return h.numVoices
}

// Voice returns the current voice index or NoVoice.
func (h *PolyHandler) Voice() int {
	if h == nil {
		return NoVoice
	}
	return int(h.voice.Load())
}

// ScopedVoiceSetter sets the voice index until Close restores the
// previous one.
type ScopedVoiceSetter struct {
	h    *PolyHandler
	prev int32
}

// SetVoice makes voice current. Use as defer poly.SetVoice(h, v).Close().
func SetVoice(h *PolyHandler, voice int) ScopedVoiceSetter {
	if h == nil {
		return ScopedVoiceSetter{}
	}
	prev := h.voice.Swap(int32(voice))
	return ScopedVoiceSetter{h: h, prev: prev}
}

// Close restores the previous voice index.
func (s ScopedVoiceSetter) Close() {
	if s.h != nil {
		s.h.voice.Store(s.prev)
	}
}

// PolyData keeps one T per voice and resolves the current voice's copy.
// Outside of a voice the first element is used.
type PolyData[T any] struct {
	h    *PolyHandler
	data []T
}

// Prepare sizes the storage for the handler's voice count. It must be
// called off the audio thread.
func (p *PolyData[T]) Prepare(h *PolyHandler) {
	n := 1
	if h != nil && h.NumVoices() > 0 {
		n = h.NumVoices()
	}
	if len(p.data) != n {
		p.data = make([]T, n)
	}
	p.h = h
}

// Get returns the current voice's element.
func (p *PolyData[T]) Get() *T {
	i := 0
	if v := p.h.Voice(); v >= 0 && v < len(p.data) {
		i = v
	}
	return &p.data[i]
}

// All returns the elements of every voice.
func (p *PolyData[T]) All() []T { return p.data }
