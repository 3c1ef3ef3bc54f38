// Package reference is a pure-Go decoder backend for a trivial intra-only
// bitstream carried in ordinary H.264 or H.265 Annex-B framing. Each slice
// NAL encodes a solid picture and a marker, which makes pipeline ordering,
// parameter-set handling and asynchronous completion observable in tests
// and in the synthetic pattern source.
package reference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/duoview/internal/bitstream"
	"github.com/zsiec/duoview/internal/decoder"
	"github.com/zsiec/duoview/internal/media"
)

var (
	// ErrNoParamSets is returned for slices that arrive before any parameter set.
	ErrNoParamSets = errors.New("reference: slice before parameter sets")
	// ErrNoReference is returned for a predicted slice with no prior keyframe.
	ErrNoReference = errors.New("reference: predicted slice without keyframe")
	// ErrCorrupt is returned for a slice whose payload cannot be read.
	ErrCorrupt = errors.New("reference: corrupt slice payload")
)

const flagMoreSlices = 0x1

// payloadLen is the encoded slice payload: marker, luma, flags.
const payloadLen = 2 * (4 + 1 + 1)

// Codec is the reference Backend.
type Codec struct {
	caps       decoder.Capabilities
	format     media.PixelFormat
	requireIDR bool
	delay      time.Duration

	codec     media.Codec
	open      bool
	hasParams bool
	hasKey    bool
	busy      atomic.Bool
	opened    atomic.Int64
	closed    atomic.Int64
}

// Option configures a Codec.
type Option func(*Codec)

// WithCapabilities sets the advertised capabilities.
func WithCapabilities(c decoder.Capabilities) Option {
	return func(r *Codec) { r.caps = c }
}

// WithOutput selects the output format. I420 and RGB565 are supported.
func WithOutput(f media.PixelFormat) Option {
	return func(r *Codec) { r.format = f }
}

// WithAsync makes Decode report pictures as pending; the backend stays busy
// for d after each picture.
func WithAsync(d time.Duration) Option {
	return func(r *Codec) { r.delay = d }
}

// WithoutInitialIDR disables the first-picture IDR request.
func WithoutInitialIDR() Option {
	return func(r *Codec) { r.requireIDR = false }
}

// New returns a reference codec producing I420 pictures.
func New(opts ...Option) *Codec {
	r := &Codec{
		caps:       decoder.CapRefFrameInvalidationAVC | decoder.SlicesPerFrame(1),
		format:     media.PixelI420,
		requireIDR: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Codec) Name() string { return "reference" }

func (r *Codec) Capabilities() decoder.Capabilities { return r.caps }

func (r *Codec) RequiresInitialIDR() bool { return r.requireIDR }

// Busy reports whether the last asynchronous picture is still in flight.
func (r *Codec) Busy() bool { return r.busy.Load() }

// Opens counts successful Open calls.
func (r *Codec) Opens() int64 { return r.opened.Load() }

// Closes counts Close calls that released an open codec.
func (r *Codec) Closes() int64 { return r.closed.Load() }

// Open implements decoder.Backend.
func (r *Codec) Open(cfg decoder.Config) (media.PixelFormat, error) {
	if r.open {
		return 0, fmt.Errorf("reference: already open")
	}
	if r.format != media.PixelI420 && r.format != media.PixelRGB565 {
		return 0, fmt.Errorf("reference: unsupported output %s", r.format)
	}
	r.codec = cfg.Codec
	r.open = true
	r.hasParams = false
	r.hasKey = false
	r.opened.Add(1)
	return r.format, nil
}

// Decode implements decoder.Backend.
func (r *Codec) Decode(bs []byte, out *media.Picture) (decoder.Outcome, error) {
	if !r.open {
		return 0, fmt.Errorf("reference: not open")
	}

	var slice *bitstream.NALUnit
	for _, nal := range bitstream.Split(r.codec, bs) {
		switch {
		case bitstream.IsParamSet(r.codec, nal.Type):
			r.hasParams = true
		case bitstream.IsVCL(r.codec, nal.Type):
			nal := nal
			slice = &nal
		}
	}
	if slice == nil {
		if r.hasParams {
			return decoder.OutcomeParamSet, nil
		}
		return 0, ErrCorrupt
	}
	if !r.hasParams {
		return 0, ErrNoParamSets
	}
	key := bitstream.IsKeyframe(r.codec, slice.Type)
	if !key && !r.hasKey {
		return 0, ErrNoReference
	}

	hdr := 1
	if r.codec == media.CodecHEVC {
		hdr = 2
	}
	marker, luma, flags, err := decodePayload(slice.Data[hdr:])
	if err != nil {
		return 0, err
	}
	if key {
		r.hasKey = true
	}
	if flags&flagMoreSlices != 0 {
		return decoder.OutcomeIncomplete, nil
	}

	fill(out, luma)
	out.Marker = marker

	if r.delay > 0 {
		r.busy.Store(true)
		time.AfterFunc(r.delay, func() { r.busy.Store(false) })
		return decoder.OutcomePending, nil
	}
	return decoder.OutcomePicture, nil
}

// Close implements decoder.Backend.
func (r *Codec) Close() error {
	if !r.open {
		return nil
	}
	r.open = false
	r.closed.Add(1)
	return nil
}

func fill(p *media.Picture, luma byte) {
	switch p.Format {
	case media.PixelI420:
		y, u, v := p.Planes()
		for i := range y {
			y[i] = luma
		}
		for i := range u {
			u[i] = 128
			v[i] = 128
		}
	case media.PixelRGB565:
		c := uint16(luma>>3)<<11 | uint16(luma>>2)<<5 | uint16(luma>>3)
		for i := 0; i+1 < len(p.Pix); i += 2 {
			p.Pix[i] = byte(c)
			p.Pix[i+1] = byte(c >> 8)
		}
	}
}

// Fenced wraps a Codec with completion signalling. Pictures are reported as
// pending and Wait blocks until the asynchronous delay elapses.
type Fenced struct {
	*Codec
	mu   sync.Mutex
	done chan struct{}
}

// NewFenced returns a fenced reference codec that completes each picture
// after d.
func NewFenced(d time.Duration, opts ...Option) *Fenced {
	return &Fenced{Codec: New(append(opts, WithAsync(d))...)}
}

// Decode implements decoder.Backend.
func (f *Fenced) Decode(bs []byte, out *media.Picture) (decoder.Outcome, error) {
	outcome, err := f.Codec.Decode(bs, out)
	if err != nil || outcome != decoder.OutcomePending {
		return outcome, err
	}
	done := make(chan struct{})
	f.mu.Lock()
	f.done = done
	f.mu.Unlock()
	time.AfterFunc(f.delay, func() { close(done) })
	return outcome, nil
}

// Wait implements decoder.Fence.
func (f *Fenced) Wait(ctx context.Context, _ *media.Picture) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
