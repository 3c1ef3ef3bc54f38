package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/duoview/internal/bitstream"
	"github.com/zsiec/duoview/internal/media"
	"github.com/zsiec/duoview/internal/pipeline"
)

// Filler data NAL types.
const (
	nalFiller     = 12
	hevcNALFiller = 38
)

// ClockRate is the 90 kHz media clock shared by MPEG-TS PTS and RTP video
// timestamps.
const ClockRate = 90000

// maxPaceJump is the largest timestamp step followed in real time. Larger
// steps and backwards jumps restart the clock.
const maxPaceJump = 5 * time.Second

// ErrNoStreamInfo is returned when a keyframe arrives but the stream size is
// unknown: the SPS could not be parsed and no fallback was configured.
var ErrNoStreamInfo = errors.New("ingest: stream size unknown")

// StreamInfo describes a video stream. FramerConfig.OnStart receives it
// before the first access unit and again whenever the codec or size changes.
type StreamInfo struct {
	Codec      media.Codec
	Width      int
	Height     int
	Colorspace media.Colorspace
	Range      media.ColorRange
	// FromSPS is false when Width and Height came from the fallback.
	FromSPS bool
}

// HDR reports whether the stream declares BT.2020 colour.
func (i StreamInfo) HDR() bool { return i.Colorspace == media.ColorspaceRec2020 }

func (i StreamInfo) restartNeeded(o StreamInfo) bool {
	return i.Codec != o.Codec || i.Width != o.Width || i.Height != o.Height
}

// FramerConfig controls a Framer.
type FramerConfig struct {
	// Pace holds each access unit until its timestamp comes due, for
	// playing files in real time. Live transports are already paced.
	Pace bool
	// Fallback supplies the size when the SPS cannot be parsed.
	Fallback StreamInfo
	// OnStart is called before the first access unit and on every codec or
	// size change. An error stops the feed.
	OnStart func(StreamInfo) error
	// OnNeedIDR is called when the decoder asks the sender for a fresh
	// keyframe. frame is the access unit that raised the request.
	OnNeedIDR func(frame int)
}

// FramerStats are cumulative Framer counters.
type FramerStats struct {
	Units     int64
	Submitted int64
	Keyframes int64
	// Skipped counts units discarded while waiting for a keyframe.
	Skipped int64
	NeedIDR int64
	Errors  int64
}

// Framer turns one Annex-B picture at a time into access units for a Sink.
// It strips delimiters and filler, keeps the latest parameter sets to put in
// front of keyframes that arrive without them, and discards pictures until
// the first keyframe. Framer is not safe for concurrent use; Stats is.
type Framer struct {
	log   *slog.Logger
	sink  Sink
	cfg   FramerConfig
	codec media.Codec

	params      [][]byte
	info        StreamInfo
	known       bool
	active      bool
	startedInfo StreamInfo
	keyed       bool
	frame       int
	clock       pacer

	units     atomic.Int64
	submitted atomic.Int64
	keyframes atomic.Int64
	skipped   atomic.Int64
	needIDR   atomic.Int64
	errors    atomic.Int64
}

// NewFramer returns a Framer for codec. If log is nil, slog.Default() is
// used.
func NewFramer(sink Sink, codec media.Codec, cfg FramerConfig, log *slog.Logger) *Framer {
	if log == nil {
		log = slog.Default()
	}
	return &Framer{
		log:   log.With("component", "framer"),
		sink:  sink,
		cfg:   cfg,
		codec: codec,
	}
}

// SetCodec switches codec. Cached parameter sets are dropped and the next
// picture must be a keyframe.
func (f *Framer) SetCodec(c media.Codec) {
	if c == f.codec {
		return
	}
	f.codec = c
	f.Resync()
}

// Resync drops cached parameter sets and discards pictures until the next
// keyframe. Transports call it after packet loss.
func (f *Framer) Resync() {
	f.params, f.keyed = nil, false
}

// Frame submits one picture. ts is in ClockRate ticks and used only when
// hasTS is set. Errors from the sink are counted, except those that end the
// stream, which are returned.
func (f *Framer) Frame(ctx context.Context, data []byte, ts int64, hasTS bool) error {
	f.units.Add(1)

	var entries [][]byte
	key, sawParams := false, false
	for _, n := range bitstream.Split(f.codec, data) {
		switch {
		case bitstream.IsAUD(f.codec, n.Type), f.isFiller(n.Type):
			continue
		case bitstream.IsParamSet(f.codec, n.Type):
			if !sawParams {
				f.params, sawParams = f.params[:0], true
			}
			f.params = append(f.params, annexB(n.Data))
			f.learn(n)
		case bitstream.IsKeyframe(f.codec, n.Type):
			key = true
		}
		entries = append(entries, annexB(n.Data))
	}
	if len(entries) == 0 {
		return nil
	}
	if key && !sawParams && len(f.params) > 0 {
		entries = append(append([][]byte{}, f.params...), entries...)
	}

	if !f.keyed {
		if !key {
			f.skipped.Add(1)
			return nil
		}
		f.keyed = true
	}
	if key {
		f.keyframes.Add(1)
		if err := f.start(); err != nil {
			return err
		}
	}

	au := media.NewAccessUnit(f.frame, entries...)
	f.frame++
	if key {
		au.FrameType = media.FrameIDR
	}
	au.Colorspace = f.info.Colorspace
	au.Range = f.info.Range
	au.HDR = f.info.HDR()

	if f.cfg.Pace && hasTS {
		if err := f.clock.wait(ctx, ts); err != nil {
			return err
		}
	}
	return f.submit(ctx, au)
}

// learn updates the stream info from an SPS. Unparseable parameter sets
// leave the previous info in place.
func (f *Framer) learn(n bitstream.NALUnit) {
	var si bitstream.StreamInfo
	switch {
	case f.codec == media.CodecH264 && n.Type == bitstream.NALTypeSPS:
		sps, err := bitstream.ParseSPS(n.Data)
		if err != nil {
			f.log.Debug("unparseable SPS", "error", err)
			return
		}
		si = sps.StreamInfo
	case f.codec == media.CodecHEVC && n.Type == bitstream.HEVCNALSPS:
		sps, err := bitstream.ParseHEVCSPS(n.Data)
		if err != nil {
			f.log.Debug("unparseable SPS", "error", err)
			return
		}
		si = sps.StreamInfo
	default:
		return
	}
	f.info = StreamInfo{
		Codec:      f.codec,
		Width:      si.Width,
		Height:     si.Height,
		Colorspace: si.Colorspace,
		Range:      si.Range,
		FromSPS:    true,
	}
	f.known = true
}

// start runs OnStart for the first keyframe and for keyframes that change
// the codec or size.
func (f *Framer) start() error {
	info := f.info
	if !f.known {
		if f.cfg.Fallback.Width == 0 || f.cfg.Fallback.Height == 0 {
			return ErrNoStreamInfo
		}
		info = f.cfg.Fallback
		info.Codec, info.FromSPS = f.codec, false
		f.info = info
	}
	if f.active && !f.startedInfo.restartNeeded(info) {
		return nil
	}
	f.log.Info("stream start",
		"codec", info.Codec.String(),
		"width", info.Width,
		"height", info.Height,
		"colorspace", info.Colorspace.String(),
		"from_sps", info.FromSPS,
	)
	if f.cfg.OnStart != nil {
		if err := f.cfg.OnStart(info); err != nil {
			return fmt.Errorf("ingest: start stream: %w", err)
		}
	}
	f.active = true
	f.startedInfo = info
	return nil
}

func (f *Framer) submit(ctx context.Context, au *media.AccessUnit) error {
	status, err := f.sink.SubmitDecodeUnit(ctx, au)
	if err != nil {
		if errors.Is(err, pipeline.ErrStreamFatal) || errors.Is(err, pipeline.ErrNotStreaming) {
			return err
		}
		f.errors.Add(1)
		f.log.Debug("access unit rejected", "frame", au.FrameNumber, "error", err)
		return nil
	}
	f.submitted.Add(1)
	if status == media.StatusNeedIDR {
		f.needIDR.Add(1)
		f.log.Debug("decoder requested IDR", "frame", au.FrameNumber)
		if f.cfg.OnNeedIDR != nil {
			f.cfg.OnNeedIDR(au.FrameNumber)
		}
	}
	return nil
}

func (f *Framer) isFiller(t byte) bool {
	if f.codec == media.CodecHEVC {
		return t == hevcNALFiller
	}
	return t == nalFiller
}

// Stats returns a snapshot of the Framer's counters.
func (f *Framer) Stats() FramerStats {
	return FramerStats{
		Units:     f.units.Load(),
		Submitted: f.submitted.Load(),
		Keyframes: f.keyframes.Load(),
		Skipped:   f.skipped.Load(),
		NeedIDR:   f.needIDR.Load(),
		Errors:    f.errors.Load(),
	}
}

var startCode = []byte{0, 0, 0, 1}

func annexB(nal []byte) []byte {
	return bytes.Join([][]byte{startCode, nal}, nil)
}

// pacer sleeps until a timestamp is due relative to the first one seen.
type pacer struct {
	base  int64
	start time.Time
	set   bool
}

func (p *pacer) wait(ctx context.Context, ts int64) error {
	now := time.Now()
	if !p.set {
		p.base, p.start, p.set = ts, now, true
		return nil
	}
	due := time.Duration((ts - p.base) * int64(time.Second) / ClockRate)
	if due < 0 || due > now.Sub(p.start)+maxPaceJump {
		p.base, p.start = ts, now
		return nil
	}
	d := time.Until(p.start.Add(due))
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
