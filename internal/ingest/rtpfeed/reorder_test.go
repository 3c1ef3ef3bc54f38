package rtpfeed

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
)

func pkt(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}}
}

func seqs(ps []*rtp.Packet) []uint16 {
	out := make([]uint16, len(ps))
	for i, p := range ps {
		out[i] = p.SequenceNumber
	}
	return out
}

func TestSeqUnwrap(t *testing.T) {
	t.Parallel()

	var u seqUnwrapper
	tests := []struct {
		in   uint16
		want int64
	}{
		{65534, 65534},
		{65535, 65535},
		{0, 65536},
		{65533, 65533},
		{3, 65539},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, u.unwrap(tt.in), "seq %d", tt.in)
	}
}

func TestReorderReleasesInOrder(t *testing.T) {
	t.Parallel()

	b := newReorderBuffer(8)
	var got []uint16
	for _, s := range []uint16{65534, 0, 65535, 1} {
		ready, lost, dropped := b.push(pkt(s))
		assert.Zero(t, lost)
		assert.False(t, dropped)
		got = append(got, seqs(ready)...)
	}
	assert.Equal(t, []uint16{65534, 65535, 0, 1}, got)
}

func TestReorderDropsLateAndDuplicate(t *testing.T) {
	t.Parallel()

	b := newReorderBuffer(8)
	b.push(pkt(10))
	b.push(pkt(11))

	_, _, dropped := b.push(pkt(10))
	assert.True(t, dropped, "already released")

	b.push(pkt(13))
	_, _, dropped = b.push(pkt(13))
	assert.True(t, dropped, "already pending")
}

func TestReorderSkipsGapWhenFull(t *testing.T) {
	t.Parallel()

	b := newReorderBuffer(2)
	b.push(pkt(100))

	// 101 and 102 never arrive.
	for _, s := range []uint16{103, 104} {
		ready, lost, _ := b.push(pkt(s))
		assert.Empty(t, ready)
		assert.Zero(t, lost)
	}
	ready, lost, _ := b.push(pkt(105))
	assert.Equal(t, 2, lost)
	assert.Equal(t, []uint16{103, 104, 105}, seqs(ready))

	ready, _, _ = b.push(pkt(106))
	assert.Equal(t, []uint16{106}, seqs(ready))
}

func TestReorderResetsOnSenderRestart(t *testing.T) {
	t.Parallel()

	b := newReorderBuffer(8)
	b.push(pkt(100))
	b.push(pkt(102))

	ready, lost, dropped := b.push(pkt(20000))
	assert.False(t, dropped)
	assert.Equal(t, 1, lost, "pending packet abandoned")
	assert.Equal(t, []uint16{20000}, seqs(ready))
}
