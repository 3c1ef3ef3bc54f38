// Package pipeline orchestrates the decode-to-present data flow for a single
// stream: access units are decoded in delivery order, converted to the
// display's pixel format and handed to the renderer, either inline or
// through a bounded ring drained by a present goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/duoview/internal/colorconv"
	"github.com/zsiec/duoview/internal/decoder"
	"github.com/zsiec/duoview/internal/media"
	"github.com/zsiec/duoview/internal/render"
	"github.com/zsiec/duoview/internal/ring"
	"github.com/zsiec/duoview/internal/session"
)

var (
	// ErrStreamFatal wraps errors after which the stream cannot continue.
	// The session is marked closed before it is returned.
	ErrStreamFatal = errors.New("pipeline: stream fatal")
	// ErrNotStreaming is returned by SubmitDecodeUnit outside Setup/Cleanup.
	ErrNotStreaming = errors.New("pipeline: not streaming")
	// ErrRingCapacity is returned by Setup for an unusable ring size.
	ErrRingCapacity = errors.New("pipeline: invalid ring capacity")
)

// DefaultRingCapacity is the number of converted frames that may wait for
// the presenter.
const DefaultRingCapacity = 4

// State is the orchestrator lifecycle.
type State int32

// States.
const (
	StateIdle State = iota
	StateStreaming
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateTearingDown:
		return "tearing-down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Mode selects where presentation runs.
type Mode int

// Modes.
const (
	// ModeThreaded converts on the caller's goroutine and presents from a
	// dedicated goroutine paced by vsync.
	ModeThreaded Mode = iota
	// ModeSync decodes, converts and presents on the caller's goroutine.
	ModeSync
)

func (m Mode) String() string {
	if m == ModeSync {
		return "sync"
	}
	return "threaded"
}

// ParseMode maps a configuration name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "threaded", "thread":
		return ModeThreaded, nil
	case "sync", "synchronous":
		return ModeSync, nil
	}
	return 0, fmt.Errorf("pipeline: unknown mode %q", s)
}

// Config describes one stream.
type Config struct {
	Codec        media.Codec
	Width        int
	Height       int
	RedrawRate   int
	DisplayFlags uint32

	Layout render.Layout
	Mode   Mode
	// RingCapacity must be a power of two. Zero selects DefaultRingCapacity.
	RingCapacity int
	// LateThreshold is how many sequence numbers a picture may trail the
	// newest decoded one before it is logged as late. Zero uses the ring
	// capacity.
	LateThreshold int
	SurfaceWidth  int
	SplitOffset   int
	// Colorspace and Range seed the converter. Each picture's own colour
	// description replaces them when it differs.
	Colorspace media.Colorspace
	Range      media.ColorRange
}

// Deps are the collaborators a Pipeline drives. Display and Backend are
// required.
type Deps struct {
	Backend        decoder.Backend
	DecoderOptions []decoder.Option
	// Converter defaults to colorconv.NewSoftware().
	Converter colorconv.Converter
	Display   render.Display
	GPU       render.GPU
	// VSync paces the present goroutine. Nil presents as soon as a frame
	// is ready.
	VSync   <-chan struct{}
	Session *session.State
}

// PipelineContext is everything that lives for exactly one stream.
type PipelineContext struct {
	Decoder   *decoder.Adapter
	Converter colorconv.Converter
	Ring      *ring.Ring[*media.Picture]
	Renderer  render.Renderer
	// Pool holds the converted frames. Frames not queued or being
	// presented sit in free.
	Pool []*media.Picture

	cfg    Config
	params colorconv.Params
	free   chan *media.Picture
	stop   atomic.Bool
	wake   chan struct{}
	quit   chan struct{}
	group  *errgroup.Group
	seq    uint64
	newest atomic.Uint64
}

// Stats are cumulative counters across streams.
type Stats struct {
	Submitted    int64
	Decoded      int64
	Presented    int64
	Dropped      int64
	Late         int64
	DecodeErrors int64
	Fatal        int64
}

// Pipeline is the frame pipeline orchestrator. SubmitDecodeUnit must be
// called from one goroutine; Setup and Cleanup must not race with it.
type Pipeline struct {
	log     *slog.Logger
	deps    Deps
	decoder *decoder.Adapter

	mu    sync.Mutex
	state atomic.Int32
	pc    *PipelineContext

	submitted    atomic.Int64
	decoded      atomic.Int64
	presented    atomic.Int64
	dropped      atomic.Int64
	late         atomic.Int64
	decodeErrors atomic.Int64
	fatal        atomic.Int64
}

// New creates an idle Pipeline. If log is nil, slog.Default() is used.
func New(deps Deps, log *slog.Logger) (*Pipeline, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("pipeline: nil decoder backend")
	}
	if deps.Display == nil {
		return nil, fmt.Errorf("pipeline: nil display")
	}
	if log == nil {
		log = slog.Default()
	}
	if deps.Converter == nil {
		deps.Converter = colorconv.NewSoftware()
	}
	if deps.Session == nil {
		deps.Session = session.NewState(log)
	}
	log = log.With("component", "pipeline")
	return &Pipeline{
		log:     log,
		deps:    deps,
		decoder: decoder.NewAdapter(deps.Backend, log, deps.DecoderOptions...),
	}, nil
}

// State returns the lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Capabilities reports the decoder backend's capability flags.
func (p *Pipeline) Capabilities() decoder.Capabilities { return p.decoder.Capabilities() }

// Session returns the session state the pipeline reports into.
func (p *Pipeline) Session() *session.State { return p.deps.Session }

// Setup builds the PipelineContext for a stream and moves to Streaming. Any
// error is setup-fatal and leaves the pipeline Idle.
func (p *Pipeline) Setup(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() != StateIdle {
		return fmt.Errorf("pipeline: setup while %s", p.State())
	}

	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	if cfg.LateThreshold <= 0 {
		cfg.LateThreshold = cfg.RingCapacity
	}
	screen := render.ScreenTop
	if cfg.Layout == render.LayoutBottom {
		screen = render.ScreenBottom
	}
	output, err := formatForPixelSize(p.deps.Display.PixelSize(screen))
	if err != nil {
		return err
	}

	rg, err := ring.New[*media.Picture](cfg.RingCapacity)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRingCapacity, err)
	}

	if err := p.decoder.Setup(decoder.Config{
		Codec:        cfg.Codec,
		Width:        cfg.Width,
		Height:       cfg.Height,
		RedrawRate:   cfg.RedrawRate,
		DisplayFlags: cfg.DisplayFlags,
	}); err != nil {
		return err
	}

	params := colorconv.Params{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Output:     output,
		Colorspace: cfg.Colorspace,
		Range:      cfg.Range,
	}
	if err := p.deps.Converter.Configure(params); err != nil {
		_ = p.decoder.Cleanup()
		return fmt.Errorf("pipeline: configuring converter: %w", err)
	}

	r, err := render.New(cfg.Layout, p.deps.Display, render.Config{
		SrcWidth:     cfg.Width,
		SrcHeight:    cfg.Height,
		SurfaceWidth: cfg.SurfaceWidth,
		SplitOffset:  cfg.SplitOffset,
		Debug:        p.deps.Session.Debug(),
		GPU:          p.deps.GPU,
		Log:          p.log,
	})
	if err != nil {
		_ = p.decoder.Cleanup()
		return fmt.Errorf("pipeline: building renderer: %w", err)
	}

	// Ring slots plus one frame being presented plus one being written.
	poolSize := cfg.RingCapacity + 2
	pc := &PipelineContext{
		Decoder:   p.decoder,
		Converter: p.deps.Converter,
		Ring:      rg,
		Renderer:  r,
		Pool:      make([]*media.Picture, poolSize),
		cfg:       cfg,
		params:    params,
		free:      make(chan *media.Picture, poolSize),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
	for i := range pc.Pool {
		pc.Pool[i] = media.NewPicture(cfg.Width, cfg.Height, output)
		pc.free <- pc.Pool[i]
	}

	p.deps.Session.Start(cfg.Layout)
	if cfg.Mode == ModeThreaded {
		pc.group = new(errgroup.Group)
		pc.group.Go(func() error { return p.presentLoop(pc) })
	}
	p.pc = pc
	p.state.Store(int32(StateStreaming))

	p.log.Info("pipeline streaming",
		"codec", cfg.Codec.String(),
		"width", cfg.Width,
		"height", cfg.Height,
		"layout", cfg.Layout.String(),
		"mode", cfg.Mode.String(),
		"ring", cfg.RingCapacity,
		"output", output.String(),
	)
	caps := p.decoder.Capabilities()
	p.log.Info("decoder capabilities",
		"direct_submit", caps.Has(decoder.CapDirectSubmit),
		"rfi_avc", caps.Has(decoder.CapRefFrameInvalidationAVC),
		"rfi_hevc", caps.Has(decoder.CapRefFrameInvalidationHEVC),
		"slices_per_frame", caps.Slices(),
	)
	return nil
}

// SubmitDecodeUnit decodes au, converts the picture and either queues it
// for the presenter or presents it inline. Decode errors are recoverable
// and leave the stream running; errors wrapping ErrStreamFatal are not.
func (p *Pipeline) SubmitDecodeUnit(ctx context.Context, au *media.AccessUnit) (media.Status, error) {
	if p.State() != StateStreaming || p.deps.Session.Closed() {
		return media.StatusOK, ErrNotStreaming
	}
	pc := p.pc
	p.submitted.Add(1)

	res, err := pc.Decoder.Submit(ctx, au)
	if err != nil {
		p.decodeErrors.Add(1)
		p.log.Debug("decode failed", "frame", au.FrameNumber, "error", err)
		return media.StatusOK, err
	}
	if res.Picture == nil {
		return res.Status, nil
	}
	p.decoded.Add(1)

	pc.seq++
	res.Picture.Seq = pc.seq
	pc.newest.Store(pc.seq)

	var frame *media.Picture
	select {
	case frame = <-pc.free:
	default:
		// Unreachable with the pool sized to the ring; counted as a drop.
		p.dropped.Add(1)
		p.log.Warn("no free frame", "seq", pc.seq)
		return res.Status, nil
	}

	if err := p.convert(ctx, pc, res.Picture, frame); err != nil {
		pc.free <- frame
		if errors.Is(err, colorconv.ErrTimeout) {
			p.fatal.Add(1)
			p.deps.Session.MarkClosed()
			p.log.Error("conversion timed out, stream closed", "seq", pc.seq, "error", err)
			return res.Status, fmt.Errorf("%w: %w", ErrStreamFatal, err)
		}
		p.decodeErrors.Add(1)
		return res.Status, err
	}

	if pc.cfg.Mode == ModeSync {
		p.present(pc, frame)
		return res.Status, nil
	}

	if !pc.Ring.TryPush(frame) {
		pc.free <- frame
		p.dropped.Add(1)
		p.log.Debug("ring full, frame dropped", "seq", frame.Seq)
		return res.Status, nil
	}
	select {
	case pc.wake <- struct{}{}:
	default:
	}
	return res.Status, nil
}

// convert produces a display-format frame from a decoded picture. Packed
// decoder output in the display format is copied; the converter is
// reconfigured when the stream's colour description changes.
func (p *Pipeline) convert(ctx context.Context, pc *PipelineContext, src, dst *media.Picture) error {
	if src.Format == pc.params.Output {
		start := time.Now()
		copy(dst.Pix, src.Pix)
		dst.Seq, dst.Marker = src.Seq, src.Marker
		dst.Colorspace, dst.Range = src.Colorspace, src.Range
		dst.DecodeTime = src.DecodeTime
		dst.ConvertTime = time.Since(start)
		return nil
	}

	if src.Colorspace != pc.params.Colorspace || src.Range != pc.params.Range {
		next := pc.params
		next.Colorspace, next.Range = src.Colorspace, src.Range
		if err := pc.Converter.Configure(next); err != nil {
			return fmt.Errorf("pipeline: reconfiguring converter: %w", err)
		}
		p.log.Info("converter reconfigured",
			"colorspace", next.Colorspace.String(),
			"full_range", next.Range == media.RangeFull,
		)
		pc.params = next
	}
	return pc.Converter.Convert(ctx, src, dst)
}

func (p *Pipeline) present(pc *PipelineContext, frame *media.Picture) {
	if behind := pc.newest.Load() - frame.Seq; behind > uint64(pc.cfg.LateThreshold) {
		p.late.Add(1)
		p.log.Debug("late frame", "seq", frame.Seq, "behind", behind)
	}
	pc.Renderer.Present(frame)
	p.presented.Add(1)
	pc.free <- frame
}

// presentLoop drains the ring, one frame per vsync once a frame is ready.
func (p *Pipeline) presentLoop(pc *PipelineContext) error {
	for {
		select {
		case <-pc.wake:
		case <-pc.quit:
			return nil
		}
		// A closed connection leaves queued frames for Cleanup to reclaim.
		for !pc.stop.Load() && !p.deps.Session.Closed() {
			if p.deps.VSync != nil {
				select {
				case <-p.deps.VSync:
				case <-pc.quit:
					return nil
				}
			}
			frame, ok := pc.Ring.TryPop()
			if !ok {
				break
			}
			p.present(pc, frame)
		}
	}
}

// Cleanup stops the presenter, releases the decoder and restores the
// display. It is a no-op when Idle.
func (p *Pipeline) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() != StateStreaming {
		return nil
	}
	p.state.Store(int32(StateTearingDown))
	pc := p.pc

	pc.stop.Store(true)
	close(pc.quit)
	var errs []error
	if pc.group != nil {
		if err := pc.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	pc.Ring.Reset()
	pc.Renderer.Close()
	if err := pc.Decoder.Cleanup(); err != nil {
		errs = append(errs, err)
	}
	p.deps.Session.Reset()

	p.pc = nil
	p.state.Store(int32(StateIdle))

	st := p.Stats()
	p.log.Info("pipeline stopped",
		"decoded", st.Decoded,
		"presented", st.Presented,
		"dropped", st.Dropped,
		"late", st.Late,
	)
	return errors.Join(errs...)
}

// Close cleans up any active stream and releases the converter.
func (p *Pipeline) Close() error {
	return errors.Join(p.Cleanup(), p.deps.Converter.Close())
}

// Stats returns cumulative counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:    p.submitted.Load(),
		Decoded:      p.decoded.Load(),
		Presented:    p.presented.Load(),
		Dropped:      p.dropped.Load(),
		Late:         p.late.Load(),
		DecodeErrors: p.decodeErrors.Load(),
		Fatal:        p.fatal.Load(),
	}
}

// DecoderStats returns the adapter counters.
func (p *Pipeline) DecoderStats() decoder.Stats { return p.decoder.Stats() }

func formatForPixelSize(px int) (media.PixelFormat, error) {
	switch px {
	case 2:
		return media.PixelRGB565, nil
	case 3:
		return media.PixelBGR888, nil
	case 4:
		return media.PixelRGBA8888, nil
	}
	return 0, fmt.Errorf("pipeline: unsupported display pixel size %d", px)
}
