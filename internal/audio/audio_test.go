package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawDecoder treats each packet as little-endian PCM.
type rawDecoder struct {
	fail   bool
	closed bool
}

func (d *rawDecoder) Decode(packet []byte, pcm []int16) (int, error) {
	if d.fail {
		return 0, errors.New("bad packet")
	}
	n := min(len(packet)/2, len(pcm))
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(packet[2*i:]))
	}
	return n / 2, nil
}

func (d *rawDecoder) Close() error {
	d.closed = true
	return nil
}

type recordSink struct {
	r       io.Reader
	started int
	closed  int
}

func (s *recordSink) Start(_ OpusConfig, r io.Reader) error {
	s.r = r
	s.started++
	return nil
}

func (s *recordSink) Close() error {
	s.closed++
	return nil
}

func testConfig() OpusConfig {
	return OpusConfig{SampleRate: 48000, ChannelCount: 2, Streams: 1, CoupledStreams: 1, SamplesPerFrame: 4}
}

func packet(v int16, samples int) []byte {
	b := make([]byte, 2*samples)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func TestRendererPlaysDecodedPCM(t *testing.T) {
	t.Parallel()

	dec := &rawDecoder{}
	sink := &recordSink{}
	r := NewRenderer(func(OpusConfig) (Decoder, error) { return dec, nil }, sink, nil)
	require.NoError(t, r.Init(testConfig()))
	require.Equal(t, 1, sink.started)

	require.NoError(t, r.DecodeAndPlay(packet(1000, 8)))

	out := make([]byte, 16)
	n, err := sink.r.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	for i := 0; i < 8; i++ {
		assert.Equal(t, int16(1000), int16(binary.LittleEndian.Uint16(out[2*i:])))
	}

	r.Cleanup()
	assert.True(t, dec.closed)
	assert.Equal(t, 1, sink.closed)
	r.Cleanup()
	assert.Equal(t, 1, sink.closed, "second cleanup is a no-op")
}

func TestRendererDropsWhenRingFull(t *testing.T) {
	t.Parallel()

	r := NewRenderer(func(OpusConfig) (Decoder, error) { return &rawDecoder{}, nil }, nil, nil)
	require.NoError(t, r.Init(testConfig()))

	for i := 0; i < WaveBuffers+2; i++ {
		require.NoError(t, r.DecodeAndPlay(packet(int16(i), 8)))
	}
	st := r.Stats()
	assert.Equal(t, int64(WaveBuffers), st.Decoded)
	assert.Equal(t, int64(2), st.Dropped)
}

func TestRendererErrors(t *testing.T) {
	t.Parallel()

	r := NewRenderer(func(OpusConfig) (Decoder, error) { return &rawDecoder{fail: true}, nil }, nil, nil)
	require.ErrorIs(t, r.DecodeAndPlay([]byte{1}), ErrNotInitialized)

	require.Error(t, r.Init(OpusConfig{}))
	require.NoError(t, r.Init(testConfig()))
	require.Error(t, r.Init(testConfig()), "double init")

	require.Error(t, r.DecodeAndPlay([]byte{1, 2}))
	assert.Equal(t, int64(1), r.Stats().Errors)

	bad := NewRenderer(func(OpusConfig) (Decoder, error) { return nil, ErrUnsupportedLayout }, nil, nil)
	require.ErrorIs(t, bad.Init(testConfig()), ErrUnsupportedLayout)
}

func TestPCMRing(t *testing.T) {
	t.Parallel()

	r := NewPCMRing(6)
	require.True(t, r.Write([]int16{1, 2, 3, 4}))
	require.False(t, r.Write([]int16{5, 6, 7}), "does not fit")
	assert.Equal(t, int64(1), r.Dropped())

	out := make([]byte, 6)
	_, _ = r.Read(out)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, out)

	// Wraps around the end of the buffer.
	require.True(t, r.Write([]int16{5, 6, 7, -1}))
	assert.Equal(t, 5, r.Len())

	out = make([]byte, 12)
	_, _ = r.Read(out)
	assert.Equal(t, []byte{4, 0, 5, 0, 6, 0, 7, 0, 0xFF, 0xFF, 0, 0}, out)
	assert.Equal(t, int64(1), r.Underruns())
	assert.Equal(t, 0, r.Len())
}
