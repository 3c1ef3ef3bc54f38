package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/duoview/internal/ingest"
)

// latencyNs is the SRT receive latency (80ms). Game streaming favours a
// short window over loss recovery.
const latencyNs = 80_000_000

// Server accepts SRT publishers and registers each with the registry.
type Server struct {
	log      *slog.Logger
	addr     string
	key      string
	registry *ingest.Registry
}

// NewServer returns a Server for addr. When key is set, publishers with a
// different stream key are refused.
func NewServer(addr, key string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		key:      key,
		registry: registry,
	}
}

func config() srtgo.Config {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	return cfg
}

// Run accepts publishers until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	l, err := srtgo.Listen(s.addr, config())
	if err != nil {
		return fmt.Errorf("srt: listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" || !s.accepts(StreamKey(req.StreamID)) || s.registry.Full() {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		key := StreamKey(conn.StreamID())
		s.log.Info("publish", "stream_key", key, "remote", conn.RemoteAddr())
		go s.serve(ctx, conn, key)
	}
}

func (s *Server) accepts(key string) bool {
	return s.key == "" || s.key == key
}

func (s *Server) serve(ctx context.Context, conn *srtgo.Conn, key string) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	stats, err := s.registry.Copy(ctx, key, ingest.SourceSRT, conn.RemoteAddr().String(), conn)
	logEnd(s.log, "connection closed", key, stats, err)
}

func logEnd(log *slog.Logger, msg, key string, stats ingest.Stats, err error) {
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		log.Debug("stream error", "stream_key", key, "error", err)
	}
	log.Info(msg, "stream_key", key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.Uptime.Milliseconds())
}

// StreamKey derives the registry key from an SRT stream ID: a leading slash
// and a "live/" prefix are dropped.
func StreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
