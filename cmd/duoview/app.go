package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zsiec/duoview/internal/audio"
	"github.com/zsiec/duoview/internal/display"
	"github.com/zsiec/duoview/internal/ingest"
	"github.com/zsiec/duoview/internal/ingest/pattern"
	"github.com/zsiec/duoview/internal/ingest/rtpfeed"
	srtingest "github.com/zsiec/duoview/internal/ingest/srt"
	"github.com/zsiec/duoview/internal/ingest/tsfeed"
	"github.com/zsiec/duoview/internal/pipeline"
	"github.com/zsiec/duoview/internal/session"
)

const stagePipeline = "video pipeline"

type app struct {
	cfg   config
	log   *slog.Logger
	pipe  *pipeline.Pipeline
	host  display.Host
	conn  *session.Listener
	audio *audio.Renderer

	mu      sync.Mutex
	closed  bool
	started bool
	streams sync.WaitGroup
}

// runSource feeds the pipeline from the configured source until ctx ends.
func (a *app) runSource(ctx context.Context) error {
	switch a.cfg.Source {
	case sourceSRT:
		reg := a.registry(ctx)
		return srtingest.NewServer(a.cfg.SRTAddr, a.cfg.SRTKey, reg, nil).Run(ctx)

	case sourceSRTPull:
		reg := a.registry(ctx)
		return srtingest.Pull(ctx, reg, srtingest.PullRequest{
			Address:  a.cfg.SRTPull,
			StreamID: a.cfg.SRTStreamID,
			Key:      a.cfg.SRTKey,
		}, true, nil)

	case sourceFile:
		f, err := os.Open(a.cfg.TSFile)
		if err != nil {
			return err
		}
		defer f.Close()
		reg := a.registry(ctx)
		_, err = reg.Copy(ctx, "file", ingest.SourceFile, a.cfg.TSFile, f)
		return err

	case sourceRTP:
		if !a.track() {
			return nil
		}
		defer a.streams.Done()
		var as rtpfeed.AudioSink
		if a.audio != nil {
			as = a.audio
		}
		rx := rtpfeed.New(a.pipe, as, rtpfeed.Config{Framer: a.framerConfig(false)}, nil)
		err := rx.Listen(ctx, a.cfg.RTPAddr)
		st := rx.Stats()
		a.end(st.Units, st.Submitted, err)
		return streamErr(err)

	case sourcePattern:
		if !a.track() {
			return nil
		}
		defer a.streams.Done()
		err := a.start(ingest.StreamInfo{Codec: a.cfg.Codec, Width: a.cfg.Width, Height: a.cfg.Height})
		if err == nil {
			g := pattern.New(pattern.Config{
				Codec:       a.cfg.Codec,
				FPS:         a.cfg.FPS,
				KeyInterval: a.cfg.KeyInterval,
				Frames:      a.cfg.Frames,
				OnNeedIDR:   a.conn.RequestIDR,
			})
			err = g.Run(ctx, a.pipe, nil)
		}
		a.end(1, 1, err)
		return streamErr(err)
	}
	return fmt.Errorf("unknown source %q", a.cfg.Source)
}

// registry returns a single-stream registry whose streams are played as
// MPEG-TS.
func (a *app) registry(ctx context.Context) *ingest.Registry {
	return ingest.NewRegistry(func(s *ingest.Stream) {
		a.playTS(ctx, s)
	}, ingest.WithLimit(1))
}

func (a *app) playTS(ctx context.Context, s *ingest.Stream) {
	if !a.track() {
		s.Abort(context.Canceled)
		return
	}
	defer a.streams.Done()

	a.log.Info("new stream from ingest", "key", s.Key, "source", s.Source.String())
	feed := tsfeed.New(a.pipe, a.framerConfig(s.Source == ingest.SourceFile), nil)
	err := feed.Run(ctx, s.Reader())
	if err != nil {
		s.Abort(err)
	}
	st := feed.Stats()
	a.end(st.Units, st.Submitted, err)
	a.log.Info("stream ended", "key", s.Key, "corrupt", st.Reader.Corrupt, "cc_errors", st.Reader.CCErrors)
}

func (a *app) framerConfig(pace bool) ingest.FramerConfig {
	return ingest.FramerConfig{
		Pace:      pace,
		Fallback:  ingest.StreamInfo{Codec: a.cfg.Codec, Width: a.cfg.Width, Height: a.cfg.Height},
		OnStart:   a.start,
		OnNeedIDR: a.conn.RequestIDR,
	}
}

// start (re)configures the pipeline for a stream.
func (a *app) start(info ingest.StreamInfo) error {
	if a.pipe.State() != pipeline.StateIdle {
		if err := a.pipe.Cleanup(); err != nil {
			a.log.Warn("cleanup before restart", "error", err)
		}
	}
	a.conn.StageStarting(stagePipeline)
	if err := a.pipe.Setup(a.cfg.pipelineConfig(info.Codec, info.Width, info.Height, info.Colorspace, info.Range)); err != nil {
		a.conn.StageFailed(stagePipeline, err)
		return err
	}
	a.conn.StageComplete(stagePipeline)

	a.mu.Lock()
	first := !a.started
	a.started = true
	a.mu.Unlock()
	if first {
		a.conn.ConnectionStarted()
	}
	a.conn.SetHDRMode(info.HDR())
	return nil
}

// end tears the stream down and reports why it ended.
func (a *app) end(units, submitted int64, err error) {
	if err := a.pipe.Cleanup(); err != nil {
		a.log.Warn("pipeline cleanup", "error", err)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.conn.LogMessage("%v", err)
	}
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
	a.conn.ConnectionTerminated(terminationCode(units, submitted, err))
}

// terminationCode maps how a stream ended to a connection termination code.
func terminationCode(units, submitted int64, err error) int {
	switch {
	case errors.Is(err, pipeline.ErrStreamFatal):
		return session.TerminationFrameConversion
	case units == 0:
		return session.TerminationNoVideoTraffic
	case submitted == 0:
		return session.TerminationNoVideoFrame
	case err != nil && !errors.Is(err, context.Canceled):
		return session.TerminationUnexpectedEarlyClose
	}
	return session.TerminationGraceful
}

// streamErr drops errors that only mean the stream was stopped.
func streamErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, pipeline.ErrNotStreaming) {
		return nil
	}
	return err
}

// track registers a running stream. It fails once shutdown has begun.
func (a *app) track() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.streams.Add(1)
	return true
}

// shutdown waits for running streams and releases the pipeline and audio.
func (a *app) shutdown() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.streams.Wait()

	if err := a.pipe.Close(); err != nil {
		a.log.Warn("pipeline close", "error", err)
	}
	if a.audio != nil {
		a.audio.Cleanup()
	}
}

// reportStatus refreshes the display's status line once a second.
func (a *app) reportStatus(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	var last pipeline.Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st := a.pipe.Stats()
		a.host.SetStatus(a.statusLine(st, last))
		last = st
	}
}

func (a *app) statusLine(st, last pipeline.Stats) string {
	sess := a.pipe.Session()
	if !sess.Active() || sess.Closed() {
		if msg := a.conn.DisconnectMessage(); msg != "" {
			return "waiting for stream  last: " + msg
		}
		return "waiting for stream"
	}
	line := fmt.Sprintf("%s  %d fps  dropped %d  late %d  idr %d",
		sess.Layout(), st.Presented-last.Presented, st.Dropped, st.Late, a.conn.IDRRequests())
	if sess.Motion() {
		line += "  motion"
	}
	return line
}
