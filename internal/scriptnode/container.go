package scriptnode

// FixedBlockSize is the chunk size of container.fix32_block.
const FixedBlockSize = 32

type containerBase struct {
	NodeBase
	children []Node
}

func (c *containerBase) Children() []Node { return c.children }

func (c *containerBase) insert(child Node, index int) {
	if index < 0 || index >= len(c.children) {
		c.children = append(c.children, child)
		return
	}
	c.children = append(c.children, nil)
	copy(c.children[index+1:], c.children[index:])
	c.children[index] = child
}

func (c *containerBase) remove(child Node) bool {
	for i, n := range c.children {
		if n == child {
			c.children = append(c.children[:i], c.children[i+1:]...)
			return true
		}
	}
	return false
}

func (c *containerBase) prepareChildren(ps PrepareSpecs) {
	for _, child := range c.children {
		c.network.prepareNode(child, ps)
	}
}

func (c *containerBase) processChildren(d *ProcessData) {
	for _, child := range c.children {
		if !child.Base().skip() {
			child.Process(d)
		}
	}
}

func (c *containerBase) Reset() {
	for _, child := range c.children {
		child.Reset()
	}
}

func allocChannels(numChannels, numSamples int) [][]float32 {
	out := make([][]float32, numChannels)
	for i := range out {
		out[i] = make([]float32, numSamples)
	}
	return out
}

// chainNode processes its children serially in place.
type chainNode struct{ containerBase }

func (c *chainNode) Prepare(ps PrepareSpecs) error {
	c.prepareChildren(ps)
	return nil
}

func (c *chainNode) Process(d *ProcessData) { c.processChildren(d) }

// splitNode feeds every child a copy of the input and sums the outputs.
type splitNode struct {
	containerBase
	orig [][]float32
	work [][]float32
	sub  ProcessData
}

func (c *splitNode) Prepare(ps PrepareSpecs) error {
	c.prepareChildren(ps)
	c.orig = allocChannels(ps.NumChannels, ps.BlockSize)
	c.work = allocChannels(ps.NumChannels, ps.BlockSize)
	c.sub.Channels = make([][]float32, ps.NumChannels)
	return nil
}

func (c *splitNode) Process(d *ProcessData) {
	n := d.NumSamples
	nch := min(len(d.Channels), len(c.orig))
	for i := 0; i < nch; i++ {
		copy(c.orig[i][:n], d.Channels[i][:n])
	}
	first := true
	for _, child := range c.children {
		if child.Base().skip() {
			continue
		}
		if first {
			first = false
			child.Process(d)
			continue
		}
		c.sub.Channels = c.sub.Channels[:nch]
		for i := 0; i < nch; i++ {
			copy(c.work[i][:n], c.orig[i][:n])
			c.sub.Channels[i] = c.work[i][:n]
		}
		c.sub.NumSamples = n
		c.sub.Events = d.Events
		child.Process(&c.sub)
		for i := 0; i < nch; i++ {
			out, w := d.Channels[i][:n], c.work[i][:n]
			for j := range out {
				out[j] += w[j]
			}
		}
	}
}

// multiNode splits the channels between its children.
type multiNode struct {
	containerBase
	offsets []int
	counts  []int
	subs    []ProcessData
}

func (c *multiNode) Prepare(ps PrepareSpecs) error {
	k := len(c.children)
	if k == 0 {
		return nil
	}
	if ps.NumChannels < k {
		return newError(ChannelMismatch, k, ps.NumChannels, "not enough channels for %d children", k)
	}
	c.offsets = make([]int, k)
	c.counts = make([]int, k)
	c.subs = make([]ProcessData, k)
	per := ps.NumChannels / k
	off := 0
	for i, child := range c.children {
		cnt := per
		if i == k-1 {
			cnt = ps.NumChannels - off
		}
		c.offsets[i], c.counts[i] = off, cnt
		off += cnt
		sub := ps
		sub.NumChannels = cnt
		c.network.prepareNode(child, sub)
	}
	return nil
}

func (c *multiNode) Process(d *ProcessData) {
	for i, child := range c.children {
		if i >= len(c.subs) || child.Base().skip() {
			continue
		}
		off, cnt := c.offsets[i], c.counts[i]
		if off+cnt > len(d.Channels) {
			continue
		}
		s := &c.subs[i]
		s.Channels = d.Channels[off : off+cnt]
		s.NumSamples = d.NumSamples
		s.Events = d.Events
		child.Process(s)
	}
}

// modChainNode runs its children on a mono copy of the first channel.
// The audio passes unchanged; the children exist for their modulation
// outputs.
type modChainNode struct {
	containerBase
	buf []float32
	sub ProcessData
}

func (c *modChainNode) Prepare(ps PrepareSpecs) error {
	sub := ps
	sub.NumChannels = 1
	c.prepareChildren(sub)
	c.buf = make([]float32, ps.BlockSize)
	c.sub.Channels = make([][]float32, 1)
	return nil
}

func (c *modChainNode) Process(d *ProcessData) {
	n := d.NumSamples
	if len(d.Channels) > 0 {
		copy(c.buf[:n], d.Channels[0][:n])
	} else {
		clear(c.buf[:n])
	}
	c.sub.Channels[0] = c.buf[:n]
	c.sub.NumSamples = n
	c.sub.Events = d.Events
	c.processChildren(&c.sub)
}

// frameNode processes stereo audio one frame at a time.
type frameNode struct {
	containerBase
	frame [][]float32
	sub   ProcessData
}

func (c *frameNode) Prepare(ps PrepareSpecs) error {
	if ps.NumChannels != 2 {
		return newError(ChannelMismatch, 2, ps.NumChannels, "frame processing needs a stereo signal")
	}
	sub := ps
	sub.BlockSize = 1
	sub.Frame = true
	c.prepareChildren(sub)
	c.frame = make([][]float32, 2)
	return nil
}

func (c *frameNode) Process(d *ProcessData) {
	if len(d.Channels) != 2 {
		return
	}
	l, r := d.Channels[0], d.Channels[1]
	c.sub.NumSamples = 1
	c.sub.Events = nil
	for i := 0; i < d.NumSamples; i++ {
		c.frame[0] = l[i : i+1]
		c.frame[1] = r[i : i+1]
		c.sub.Channels = c.frame
		c.processChildren(&c.sub)
	}
}

// fixBlockNode processes the block in chunks of FixedBlockSize samples.
// Events are forwarded with the chunk that contains their timestamp;
// timestamps stay relative to the outer block.
type fixBlockNode struct {
	containerBase
	sub ProcessData
}

func (c *fixBlockNode) Prepare(ps PrepareSpecs) error {
	if ps.Frame {
		return newError(IllegalFrameCall, 0, 0, "block container inside frame processing")
	}
	if ps.BlockSize < FixedBlockSize {
		return newError(IllegalBlockSize, FixedBlockSize, ps.BlockSize, "block size below fixed size")
	}
	sub := ps
	sub.BlockSize = FixedBlockSize
	c.prepareChildren(sub)
	c.sub.Channels = make([][]float32, ps.NumChannels)
	return nil
}

func (c *fixBlockNode) Process(d *ProcessData) {
	nch := min(len(d.Channels), cap(c.sub.Channels))
	ev := 0
	for off := 0; off < d.NumSamples; off += FixedBlockSize {
		m := min(FixedBlockSize, d.NumSamples-off)
		c.sub.Channels = c.sub.Channels[:nch]
		for i := 0; i < nch; i++ {
			c.sub.Channels[i] = d.Channels[i][off : off+m]
		}
		start := ev
		for ev < len(d.Events) && d.Events[ev].Timestamp < off+m {
			ev++
		}
		c.sub.Events = d.Events[start:ev]
		c.sub.NumSamples = m
		c.processChildren(&c.sub)
	}
}
