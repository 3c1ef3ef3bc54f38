// Package audio implements the decoded-audio callback contract: a stream
// is initialised with its Opus layout, each packet is decoded into a PCM
// ring, and an output sink drains the ring at the device rate.
package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotInitialized is returned when DecodeAndPlay runs before Init.
	ErrNotInitialized = errors.New("audio: not initialized")
	// ErrUnsupportedLayout is returned for channel layouts a decoder cannot
	// produce.
	ErrUnsupportedLayout = errors.New("audio: unsupported channel layout")
)

// WaveBuffers is how many decoded frames the ring holds.
const WaveBuffers = 3

// OpusConfig describes the negotiated Opus multistream layout.
type OpusConfig struct {
	SampleRate      int
	ChannelCount    int
	Streams         int
	CoupledStreams  int
	SamplesPerFrame int
	Mapping         []byte
}

// StereoConfig is the default 48 kHz stereo layout with 5 ms frames.
func StereoConfig() OpusConfig {
	return OpusConfig{
		SampleRate:      48000,
		ChannelCount:    2,
		Streams:         1,
		CoupledStreams:  1,
		SamplesPerFrame: 240,
		Mapping:         []byte{0, 1},
	}
}

func (c OpusConfig) validate() error {
	if c.SampleRate <= 0 || c.ChannelCount <= 0 || c.SamplesPerFrame <= 0 {
		return fmt.Errorf("audio: invalid config rate=%d channels=%d frame=%d",
			c.SampleRate, c.ChannelCount, c.SamplesPerFrame)
	}
	return nil
}

// Decoder turns one compressed packet into interleaved 16-bit PCM and
// returns the number of samples per channel written.
type Decoder interface {
	Decode(packet []byte, pcm []int16) (int, error)
}

// DecoderFactory builds a Decoder for a stream.
type DecoderFactory func(OpusConfig) (Decoder, error)

// Sink plays PCM pulled from r until closed.
type Sink interface {
	Start(cfg OpusConfig, r io.Reader) error
	Close() error
}

// Stats are cumulative playback counters.
type Stats struct {
	Decoded  int64
	Dropped  int64
	Errors   int64
	Underrun int64
}

// Renderer is the callback target handed to the streaming session.
type Renderer struct {
	newDecoder DecoderFactory
	sink       Sink
	log        *slog.Logger

	mu   sync.Mutex
	cfg  OpusConfig
	dec  Decoder
	ring *PCMRing
	pcm  []int16

	decoded atomic.Int64
	errs    atomic.Int64
}

// NewRenderer returns a Renderer. sink may be nil to decode without output.
func NewRenderer(newDecoder DecoderFactory, sink Sink, log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	return &Renderer{
		newDecoder: newDecoder,
		sink:       sink,
		log:        log.With("component", "audio"),
	}
}

// Init prepares decoding and starts the sink.
func (r *Renderer) Init(cfg OpusConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dec != nil {
		return fmt.Errorf("audio: already initialized")
	}

	dec, err := r.newDecoder(cfg)
	if err != nil {
		return fmt.Errorf("audio: creating decoder: %w", err)
	}
	frame := cfg.SamplesPerFrame * cfg.ChannelCount
	r.cfg = cfg
	r.dec = dec
	r.pcm = make([]int16, frame)
	r.ring = NewPCMRing(WaveBuffers * frame)

	if r.sink != nil {
		if err := r.sink.Start(cfg, r.ring); err != nil {
			r.dec, r.ring, r.pcm = nil, nil, nil
			return fmt.Errorf("audio: starting sink: %w", err)
		}
	}
	r.log.Info("audio initialized",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.ChannelCount,
		"samples_per_frame", cfg.SamplesPerFrame,
	)
	return nil
}

// DecodeAndPlay decodes one packet into the ring. When the ring has no room
// for a whole frame the packet is dropped undecoded.
func (r *Renderer) DecodeAndPlay(packet []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dec == nil {
		return ErrNotInitialized
	}
	if r.ring.Free() < len(r.pcm) {
		r.ring.drop()
		return nil
	}

	n, err := r.dec.Decode(packet, r.pcm)
	if err != nil {
		r.errs.Add(1)
		r.log.Debug("opus decode failed", "error", err)
		return fmt.Errorf("audio: decode: %w", err)
	}
	r.ring.Write(r.pcm[:n*r.cfg.ChannelCount])
	r.decoded.Add(1)
	return nil
}

// Cleanup stops the sink and releases the decoder. It is safe to call
// without Init.
func (r *Renderer) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dec == nil {
		return
	}
	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			r.log.Warn("closing audio sink", "error", err)
		}
	}
	if c, ok := r.dec.(io.Closer); ok {
		_ = c.Close()
	}
	st := r.statsLocked()
	r.log.Info("audio stopped", "decoded", st.Decoded, "dropped", st.Dropped, "underruns", st.Underrun)
	r.dec, r.pcm = nil, nil
}

// Stats returns the playback counters.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Renderer) statsLocked() Stats {
	st := Stats{Decoded: r.decoded.Load(), Errors: r.errs.Load()}
	if r.ring != nil {
		st.Dropped = r.ring.Dropped()
		st.Underrun = r.ring.Underruns()
	}
	return st
}
