// Package tsfeed turns an MPEG-TS byte stream into access units. It follows
// the first H.264 or H.265 stream in the PMT and hands one PES packet at a
// time to an ingest.Framer.
package tsfeed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/duoview/internal/ingest"
	"github.com/zsiec/duoview/internal/media"
	"github.com/zsiec/duoview/internal/mpegts"
)

// Stats are cumulative Feed counters.
type Stats struct {
	ingest.FramerStats
	Reader mpegts.ReaderStats
}

// Feed submits the video of one transport stream to a Sink.
type Feed struct {
	log    *slog.Logger
	framer *ingest.Framer
	rd     atomic.Pointer[mpegts.Reader]
	pid    uint16
}

// New returns a Feed submitting to sink. If log is nil, slog.Default() is
// used.
func New(sink ingest.Sink, cfg ingest.FramerConfig, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "tsfeed")
	return &Feed{
		log:    log,
		framer: ingest.NewFramer(sink, media.CodecH264, cfg, log),
	}
}

// Run reads r until it ends, ctx is done or the sink fails fatally. A clean
// end of input returns nil.
func (f *Feed) Run(ctx context.Context, r io.Reader) error {
	rd := mpegts.NewReader(r)
	f.rd.Store(rd)
	for {
		u, err := rd.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case u.PMT != nil:
			f.selectVideo(u.PMT)
		case u.PES != nil && f.pid != 0 && u.PID == f.pid:
			if err := f.framer.Frame(ctx, u.PES.Data, u.PES.PTS, u.PES.HasPTS); err != nil {
				return err
			}
		}
	}
}

func (f *Feed) selectVideo(pmt *mpegts.PMT) {
	es, ok := pmt.Stream(mpegts.StreamTypeH264, mpegts.StreamTypeH265)
	if !ok {
		if f.pid == 0 {
			f.log.Warn("program has no H.264 or H.265 stream", "program", pmt.ProgramNumber)
		}
		return
	}
	codec := media.CodecH264
	if es.StreamType == mpegts.StreamTypeH265 {
		codec = media.CodecHEVC
	}
	if es.PID == f.pid {
		f.framer.SetCodec(codec)
		return
	}
	f.log.Info("found video PID", "pid", es.PID, "codec", codec.String())
	f.pid = es.PID
	f.framer.SetCodec(codec)
	f.framer.Resync()
}

// Stats returns a snapshot of the Feed's counters.
func (f *Feed) Stats() Stats {
	st := Stats{FramerStats: f.framer.Stats()}
	if rd := f.rd.Load(); rd != nil {
		st.Reader = rd.Stats()
	}
	return st
}
