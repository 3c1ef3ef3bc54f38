package rtpfeed

import (
	"sort"

	"github.com/pion/rtp"
)

// maxDropout is the largest forward sequence jump treated as loss. Larger
// jumps mean the sender restarted.
const maxDropout = 3000

// seqUnwrapper extends 16-bit sequence numbers so ordering survives wrap.
type seqUnwrapper struct {
	last    int64
	started bool
}

func (u *seqUnwrapper) unwrap(seq uint16) int64 {
	if !u.started {
		u.last, u.started = int64(seq), true
		return u.last
	}
	diff := int64(seq) - (u.last & 0xFFFF)
	if diff > 1<<15 {
		diff -= 1 << 16
	} else if diff < -(1 << 15) {
		diff += 1 << 16
	}
	u.last += diff
	return u.last
}

// reorderBuffer releases packets in sequence order. It holds at most window
// packets; when full, the oldest gap is declared lost and skipped.
type reorderBuffer struct {
	window  int
	seq     seqUnwrapper
	next    int64
	started bool
	pending map[int64]*rtp.Packet
}

func newReorderBuffer(window int) *reorderBuffer {
	return &reorderBuffer{window: window, pending: make(map[int64]*rtp.Packet)}
}

// push adds p and returns the packets now in order, the number of sequence
// numbers skipped as lost, and whether p was dropped as late or duplicate.
func (b *reorderBuffer) push(p *rtp.Packet) (ready []*rtp.Packet, lost int, dropped bool) {
	n := b.seq.unwrap(p.SequenceNumber)
	if !b.started || n-b.next > maxDropout || b.next-n > maxDropout {
		if b.started {
			// Sender restart. Whatever was pending will never complete.
			lost = len(b.pending)
		}
		b.reset(n)
	}
	if n < b.next {
		return nil, lost, true
	}
	if _, dup := b.pending[n]; dup {
		return nil, lost, true
	}
	b.pending[n] = p
	ready = b.drain(ready)
	for len(b.pending) > b.window {
		oldest := b.oldest()
		lost += int(oldest - b.next)
		b.next = oldest
		ready = b.drain(ready)
	}
	return ready, lost, false
}

func (b *reorderBuffer) reset(next int64) {
	b.next, b.started = next, true
	clear(b.pending)
}

func (b *reorderBuffer) drain(ready []*rtp.Packet) []*rtp.Packet {
	for {
		p, ok := b.pending[b.next]
		if !ok {
			return ready
		}
		delete(b.pending, b.next)
		ready = append(ready, p)
		b.next++
	}
}

func (b *reorderBuffer) oldest() int64 {
	keys := make([]int64, 0, len(b.pending))
	for k := range b.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys[0]
}
