// Package pattern generates a synthetic feed of reference-codec access
// units: solid pictures whose brightness ramps frame by frame, with a
// keyframe at a fixed interval. It drives headless runs and tests without a
// real encoder.
package pattern

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/duoview/internal/decoder/reference"
	"github.com/zsiec/duoview/internal/ingest"
	"github.com/zsiec/duoview/internal/media"
	"github.com/zsiec/duoview/internal/mpegts"
	"github.com/zsiec/duoview/internal/pipeline"
)

// Defaults.
const (
	DefaultFPS         = 60
	DefaultKeyInterval = 60
)

// sentinelLuma is the value the decoder adapter paints into picture corners.
// Pictures of exactly that value cannot be told apart from unwritten ones.
const sentinelLuma = 0x11

// Config controls a Generator.
type Config struct {
	Codec media.Codec
	FPS   int
	// KeyInterval is the distance between keyframes in frames.
	KeyInterval int
	// Frames stops the generator after this many frames. Zero runs until
	// the context ends.
	Frames int
	// OnNeedIDR is called from Run when the sink asks for a keyframe.
	OnNeedIDR func(frame int)
}

// Generator produces the pattern. It is not safe for concurrent use.
type Generator struct {
	cfg      Config
	frame    int
	forceKey bool
}

// New returns a Generator. Zero fields take their defaults.
func New(cfg Config) *Generator {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.KeyInterval <= 0 {
		cfg.KeyInterval = DefaultKeyInterval
	}
	return &Generator{cfg: cfg}
}

// Interval is the time between frames.
func (g *Generator) Interval() time.Duration { return time.Second / time.Duration(g.cfg.FPS) }

// Done reports whether a bounded generator has produced all its frames.
func (g *Generator) Done() bool { return g.cfg.Frames > 0 && g.frame >= g.cfg.Frames }

// ForceKeyframe makes the next access unit a keyframe.
func (g *Generator) ForceKeyframe() { g.forceKey = true }

// Next returns the next access unit. The picture's marker is its frame
// number.
func (g *Generator) Next() *media.AccessUnit {
	n := g.frame
	g.frame++
	luma := byte(n * 3)
	if luma == sentinelLuma {
		luma++
	}
	key := g.forceKey || n%g.cfg.KeyInterval == 0
	g.forceKey = false
	return reference.AccessUnit(g.cfg.Codec, n, key, uint32(n), luma)
}

// PTS returns the 90 kHz presentation time of frame n.
func (g *Generator) PTS(n int) int64 {
	return int64(n) * ingest.ClockRate / int64(g.cfg.FPS)
}

// Run submits frames to sink at the configured rate until ctx ends, the
// frame count is reached or the sink fails fatally. Recoverable sink errors
// are logged and the pattern continues.
func (g *Generator) Run(ctx context.Context, sink ingest.Sink, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "pattern")
	log.Info("pattern started", "codec", g.cfg.Codec.String(), "fps", g.cfg.FPS, "key_interval", g.cfg.KeyInterval)

	tick := time.NewTicker(g.Interval())
	defer tick.Stop()
	for !g.Done() {
		au := g.Next()
		status, err := sink.SubmitDecodeUnit(ctx, au)
		switch {
		case errors.Is(err, pipeline.ErrStreamFatal), errors.Is(err, pipeline.ErrNotStreaming):
			return err
		case err != nil:
			log.Debug("frame rejected", "frame", au.FrameNumber, "error", err)
		case status == media.StatusNeedIDR:
			g.ForceKeyframe()
			if g.cfg.OnNeedIDR != nil {
				g.cfg.OnNeedIDR(au.FrameNumber)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
	return nil
}

// WriteTS writes the pattern as an MPEG-TS stream. With paced set it writes
// one frame per interval, otherwise as fast as w accepts.
func (g *Generator) WriteTS(ctx context.Context, w io.Writer, paced bool) error {
	st := uint8(mpegts.StreamTypeH264)
	if g.cfg.Codec == media.CodecHEVC {
		st = mpegts.StreamTypeH265
	}
	tw := mpegts.NewWriter(w, mpegts.ElementaryStream{PID: mpegts.DefaultVideoPID, StreamType: st})

	var tick <-chan time.Time
	if paced {
		t := time.NewTicker(g.Interval())
		defer t.Stop()
		tick = t.C
	}
	for !g.Done() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		au := g.Next()
		data := bytes.Join(au.Entries, nil)
		key := au.FrameType == media.FrameIDR
		if err := tw.WritePES(mpegts.DefaultVideoPID, mpegts.StreamIDVideo, g.PTS(au.FrameNumber), key, data); err != nil {
			return fmt.Errorf("pattern: frame %d: %w", au.FrameNumber, err)
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}
	}
	return nil
}
