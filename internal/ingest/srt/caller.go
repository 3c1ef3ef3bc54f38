package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/duoview/internal/ingest"
)

// DialTimeout bounds a single caller-mode connection attempt.
const DialTimeout = 10 * time.Second

// ErrDialTimeout is returned when a remote listener does not answer in time.
var ErrDialTimeout = errors.New("srt: dial timed out")

// PullRequest names a remote SRT listener to pull a stream from.
type PullRequest struct {
	Address string
	// StreamID is sent to the remote. Empty means "live/" + Key.
	StreamID string
	Key      string
}

// Pull dials req.Address and feeds the stream into registry until the remote
// ends it or ctx is done. With retry set it reconnects after a second on
// every failure.
func Pull(ctx context.Context, registry *ingest.Registry, req PullRequest, retry bool, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-caller")
	if req.Address == "" {
		return fmt.Errorf("srt: pull address is required")
	}
	if req.Key == "" {
		req.Key = "default"
	}
	if req.StreamID == "" {
		req.StreamID = "live/" + req.Key
	}

	for {
		err := pullOnce(ctx, registry, req, log)
		if ctx.Err() != nil {
			return nil
		}
		if !retry {
			return err
		}
		log.Warn("pull ended, retrying", "address", req.Address, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func pullOnce(ctx context.Context, registry *ingest.Registry, req PullRequest, log *slog.Logger) error {
	log.Info("dialing", "address", req.Address, "stream_id", req.StreamID)
	conn, err := dial(ctx, req)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Info("connected", "address", req.Address, "stream_key", req.Key)
	stats, err := registry.Copy(ctx, req.Key, ingest.SourceSRTPull, req.Address, conn)
	logEnd(log, "pull ended", req.Key, stats, err)
	return err
}

// dial runs srtgo.Dial, which cannot be cancelled, under DialTimeout and
// ctx. A connection that arrives after the caller gave up is closed.
func dial(ctx context.Context, req PullRequest) (*srtgo.Conn, error) {
	cfg := config()
	cfg.StreamID = req.StreamID

	type result struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- result{conn, err}
	}()

	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	timer := time.NewTimer(DialTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", req.Address, res.err)
		}
		return res.conn, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("%w after %s", ErrDialTimeout, DialTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}
