// Package decoder wraps stateful hardware or software video decoders behind
// one contract: accept one access unit at a time, in delivery order, and
// produce zero or one decoded picture.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/duoview/internal/media"
)

// Buffer sizing.
const (
	// InputPadding is the zeroed tail every bitstream buffer carries.
	// Bitstream readers may over-read by up to this many bytes.
	InputPadding = 64
	// InitialBufferSize is the starting bitstream buffer capacity.
	InitialBufferSize = 256 * 1024
	// DefaultWorkBufferSize is the base decoder work area.
	DefaultWorkBufferSize = 0x9006C8
	// HardwareBufferMultiplier gives hardware decoders headroom for several
	// in-flight pictures.
	HardwareBufferMultiplier = 23
	// DefaultSlots is the number of output pictures cycled by the adapter.
	DefaultSlots = 6
)

// sentinel is written to the four corners of an output picture before a
// decode whose completion cannot be observed directly.
const sentinel = 0x11

var (
	// ErrNotSetup is returned by Submit before Setup or after Cleanup.
	ErrNotSetup = errors.New("decoder: not set up")
	// ErrPictureTimeout is returned when a pending picture never became ready.
	ErrPictureTimeout = errors.New("decoder: picture not ready before deadline")
	// ErrEmptyAccessUnit is returned for an access unit with no bytes.
	ErrEmptyAccessUnit = errors.New("decoder: empty access unit")
)

// Result is the outcome of one Submit. Picture is nil when the access unit
// produced no output.
type Result struct {
	Status  media.Status
	Picture *media.Picture
}

// Stats are cumulative adapter counters.
type Stats struct {
	Submitted    int64
	Decoded      int64
	ParamSets    int64
	Incomplete   int64
	Errors       int64
	SentinelHits int64
	Allocs       int64
	Frees        int64
}

// Adapter drives a Backend. It owns the bitstream buffer and the cycle of
// output pictures. Submit must not be called concurrently.
type Adapter struct {
	log     *slog.Logger
	backend Backend

	hardware     bool
	slotCount    int
	readyTimeout time.Duration
	pollInterval time.Duration

	cfg       Config
	format    media.PixelFormat
	open      bool
	buf       []byte
	slots     []*media.Picture
	next      int
	requireID bool
	idrSent   bool

	submitted    atomic.Int64
	decoded      atomic.Int64
	paramSets    atomic.Int64
	incomplete   atomic.Int64
	errCount     atomic.Int64
	sentinelHits atomic.Int64
	allocs       atomic.Int64
	frees        atomic.Int64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSlots sets how many output pictures are cycled. It must exceed the
// number of pictures downstream stages can hold at once.
func WithSlots(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.slotCount = n
		}
	}
}

// WithHardware marks the backend as a hardware decoder that needs the
// enlarged work buffer.
func WithHardware() Option {
	return func(a *Adapter) { a.hardware = true }
}

// WithReadyTimeout bounds the wait for a pending picture.
func WithReadyTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.readyTimeout = d }
}

// NewAdapter wraps b. If log is nil, slog.Default() is used.
func NewAdapter(b Backend, log *slog.Logger, opts ...Option) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		log:          log.With("component", "decoder", "backend", b.Name()),
		backend:      b,
		slotCount:    DefaultSlots,
		readyTimeout: 100 * time.Millisecond,
		pollInterval: 250 * time.Microsecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Capabilities returns the backend's advertised capabilities.
func (a *Adapter) Capabilities() Capabilities {
	return a.backend.Capabilities()
}

// OutputFormat returns the pixel format of produced pictures. It is valid
// after Setup.
func (a *Adapter) OutputFormat() media.PixelFormat { return a.format }

// Setup opens the backend and allocates the bitstream buffer and output
// slots for width x height. Any failure is fatal to the stream.
func (a *Adapter) Setup(cfg Config) error {
	if a.open {
		return fmt.Errorf("decoder: already set up")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("decoder: invalid size %dx%d", cfg.Width, cfg.Height)
	}

	cfg.WorkBufferSize = DefaultWorkBufferSize
	if a.hardware {
		cfg.WorkBufferSize *= HardwareBufferMultiplier
	}
	cfg.DirectSubmit = a.backend.Capabilities().Has(CapDirectSubmit)

	format, err := a.backend.Open(cfg)
	if err != nil {
		return fmt.Errorf("decoder: open %s: %w", a.backend.Name(), err)
	}

	a.cfg = cfg
	a.format = format
	a.buf = make([]byte, 0, InitialBufferSize)
	a.allocs.Add(1)
	a.slots = make([]*media.Picture, a.slotCount)
	for i := range a.slots {
		a.slots[i] = media.NewPicture(cfg.Width, cfg.Height, format)
		a.allocs.Add(1)
	}
	a.next = 0
	a.idrSent = false
	a.requireID = false
	if kr, ok := a.backend.(KeyframeRequirer); ok {
		a.requireID = kr.RequiresInitialIDR()
	}
	a.open = true

	a.log.Info("decoder ready",
		"codec", cfg.Codec.String(),
		"width", cfg.Width,
		"height", cfg.Height,
		"redraw_rate", cfg.RedrawRate,
		"format", format.String(),
		"direct_submit", cfg.DirectSubmit,
		"slots", a.slotCount,
	)
	return nil
}

// Submit decodes one access unit. A per-unit decode error is returned but
// leaves decoder state intact; the caller continues with the next unit.
func (a *Adapter) Submit(ctx context.Context, au *media.AccessUnit) (Result, error) {
	if !a.open {
		return Result{}, ErrNotSetup
	}
	a.submitted.Add(1)

	n := a.assemble(au)
	if n == 0 {
		a.errCount.Add(1)
		return Result{}, ErrEmptyAccessUnit
	}

	if cf, ok := a.backend.(CacheFlusher); ok {
		if err := cf.FlushCache(a.buf[:n+InputPadding]); err != nil {
			a.errCount.Add(1)
			return Result{}, fmt.Errorf("decoder: flush cache: %w", err)
		}
	}

	out := a.slots[a.next]
	_, hasFence := a.backend.(Fence)
	if !hasFence {
		poison(out)
	}

	start := time.Now()
	outcome, err := a.backend.Decode(a.buf[:n], out)
	if err != nil {
		a.errCount.Add(1)
		return Result{}, fmt.Errorf("decoder: frame %d: %w", au.FrameNumber, err)
	}

	switch outcome {
	case OutcomeParamSet:
		a.paramSets.Add(1)
		return Result{Status: media.StatusOK}, nil
	case OutcomeIncomplete:
		a.incomplete.Add(1)
		return Result{Status: media.StatusOK}, nil
	case OutcomePending:
		if err := a.waitReady(ctx, out); err != nil {
			a.errCount.Add(1)
			return Result{}, fmt.Errorf("decoder: frame %d: %w", au.FrameNumber, err)
		}
	case OutcomePicture:
	default:
		a.errCount.Add(1)
		return Result{}, fmt.Errorf("decoder: frame %d: unknown outcome %d", au.FrameNumber, outcome)
	}

	out.DecodeTime = time.Since(start)
	out.Colorspace = au.Colorspace
	out.Range = au.Range
	a.next = (a.next + 1) % len(a.slots)
	a.decoded.Add(1)

	status := media.StatusOK
	if a.requireID && !a.idrSent {
		a.idrSent = true
		status = media.StatusNeedIDR
		a.log.Info("first picture decoded, requesting IDR")
	}
	return Result{Status: status, Picture: out}, nil
}

// assemble concatenates the entries into the padded bitstream buffer and
// returns the logical length.
func (a *Adapter) assemble(au *media.AccessUnit) int {
	n := au.Len()
	if au.FullLength > n {
		n = au.FullLength
	}
	need := n + InputPadding
	if cap(a.buf) < need {
		a.buf = make([]byte, 0, need+need/2)
		a.allocs.Add(1)
		a.frees.Add(1)
	}
	a.buf = a.buf[:need]

	off := 0
	for _, e := range au.Entries {
		off += copy(a.buf[off:], e)
	}
	clear(a.buf[off:need])
	return off
}

// waitReady blocks until a pending picture completes. A Fence is used when
// available; otherwise corner sentinels and the busy flag are polled.
//
// Sentinel polling can report false negatives when real picture data equals
// the sentinel at all four corners; the busy flag covers that case when the
// backend exposes one.
func (a *Adapter) waitReady(ctx context.Context, out *media.Picture) error {
	ctx, cancel := context.WithTimeout(ctx, a.readyTimeout)
	defer cancel()

	if f, ok := a.backend.(Fence); ok {
		if err := f.Wait(ctx, out); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return ErrPictureTimeout
			}
			return err
		}
		return nil
	}

	busy, hasBusy := a.backend.(BusyReporter)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		if !poisoned(out) {
			a.sentinelHits.Add(1)
			return nil
		}
		if hasBusy && !busy.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrPictureTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cleanup closes the backend and releases the buffers. Setup may be called
// again afterwards.
func (a *Adapter) Cleanup() error {
	if !a.open {
		return nil
	}
	a.open = false
	err := a.backend.Close()

	a.frees.Add(int64(len(a.slots)) + 1)
	a.slots = nil
	a.buf = nil

	a.log.Info("decoder closed", "decoded", a.decoded.Load(), "errors", a.errCount.Load())
	if err != nil {
		return fmt.Errorf("decoder: close %s: %w", a.backend.Name(), err)
	}
	return nil
}

// Stats returns a snapshot of the adapter counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		Submitted:    a.submitted.Load(),
		Decoded:      a.decoded.Load(),
		ParamSets:    a.paramSets.Load(),
		Incomplete:   a.incomplete.Load(),
		Errors:       a.errCount.Load(),
		SentinelHits: a.sentinelHits.Load(),
		Allocs:       a.allocs.Load(),
		Frees:        a.frees.Load(),
	}
}

// corners returns the byte offsets checked by the sentinel scheme.
func corners(p *media.Picture) [4]int {
	px := p.Format.BytesPerPixel()
	if px == 0 {
		px = 1 // planar: check the luma plane
	}
	row := p.Width * px
	total := p.Width * p.Height * px
	return [4]int{0, row - 1, total - row, total - 1}
}

func poison(p *media.Picture) {
	for _, off := range corners(p) {
		p.Pix[off] = sentinel
	}
}

func poisoned(p *media.Picture) bool {
	for _, off := range corners(p) {
		if p.Pix[off] != sentinel {
			return false
		}
	}
	return true
}
