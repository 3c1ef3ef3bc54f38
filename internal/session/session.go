// Package session holds the per-stream state shared by the pipeline, the
// renderer and the input loop, and the connection listener that reports
// lifecycle events to the user.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/duoview/internal/render"
)

// State is the stream/session state. Flags are read on hot paths and are
// atomics; the layout is fixed between Start and Reset.
type State struct {
	log *slog.Logger

	closed atomic.Bool
	debug  atomic.Bool
	motion atomic.Bool
	hdr    atomic.Bool

	mu        sync.RWMutex
	layout    render.Layout
	active    bool
	startedAt time.Time
}

// NewState returns an idle State. If log is nil, slog.Default() is used.
func NewState(log *slog.Logger) *State {
	if log == nil {
		log = slog.Default()
	}
	return &State{log: log.With("component", "session")}
}

// Start begins a stream with the given layout. The connection-closed flag
// and HDR mode are cleared; debug and motion keep their values, which come
// from configuration.
func (s *State) Start(layout render.Layout) {
	s.mu.Lock()
	s.layout = layout
	s.active = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.closed.Store(false)
	s.hdr.Store(false)
	s.log.Info("session started", "layout", layout.String())
}

// Reset ends the stream.
func (s *State) Reset() {
	s.mu.Lock()
	wasActive := s.active
	started := s.startedAt
	s.active = false
	s.layout = render.LayoutDefault
	s.startedAt = time.Time{}
	s.mu.Unlock()

	s.hdr.Store(false)
	if wasActive {
		s.log.Info("session ended", "duration", time.Since(started).Round(time.Millisecond))
	}
}

// Active reports whether a stream is between Start and Reset.
func (s *State) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Layout returns the layout chosen at Start.
func (s *State) Layout() render.Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout
}

// MarkClosed records that the connection is gone. It reports whether this
// call made the transition.
func (s *State) MarkClosed() bool { return !s.closed.Swap(true) }

func (s *State) Closed() bool { return s.closed.Load() }

// Debug is the overlay toggle. The renderer reads it on every present.
func (s *State) Debug() *atomic.Bool { return &s.debug }

func (s *State) SetMotion(on bool) { s.motion.Store(on) }

func (s *State) Motion() bool { return s.motion.Load() }

func (s *State) SetHDR(on bool) { s.hdr.Store(on) }

func (s *State) HDR() bool { return s.hdr.Load() }
