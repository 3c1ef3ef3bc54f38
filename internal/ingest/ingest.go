// Package ingest is the rendezvous between stream transports and the frame
// pipeline. Transports register a Stream and write container bytes into it;
// the registry hands the read side to a feed that turns it into access
// units.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/duoview/internal/media"
)

// Registration errors.
var (
	ErrBusy      = errors.New("ingest: stream limit reached")
	ErrDuplicate = errors.New("ingest: stream key already registered")
)

// Sink consumes access units in delivery order.
type Sink interface {
	SubmitDecodeUnit(ctx context.Context, au *media.AccessUnit) (media.Status, error)
}

// Source names the transport a Stream arrived on.
type Source int

// Transports.
const (
	SourceSRT Source = iota
	SourceSRTPull
	SourceFile
)

func (s Source) String() string {
	switch s {
	case SourceSRT:
		return "srt"
	case SourceSRTPull:
		return "srt-pull"
	case SourceFile:
		return "file"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Stats are connection-level counters for one Stream.
type Stats struct {
	BytesReceived int64
	ReadCount     int64
	ConnectedAt   time.Time
	Uptime        time.Duration
	RemoteAddr    string
}

// Stream is one registered MPEG-TS byte stream. The transport writes into
// it; the feed reads from Reader.
type Stream struct {
	Key       string
	Source    Source
	StartedAt time.Time

	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// Reader returns the read side of the stream.
func (s *Stream) Reader() io.Reader { return s.pr }

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Abort stops the stream from the reading side. The transport's next write
// fails with err.
func (s *Stream) Abort(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	s.pr.CloseWithError(err)
}

// RecordRead counts one transport read of n bytes.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr records the peer address for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt,
		Uptime:        time.Since(s.StartedAt),
		RemoteAddr:    addr,
	}
}

// Registry tracks registered streams by key. The device has one display, so
// a registry is normally limited to a single stream and further publishers
// are refused until it ends.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	limit   int

	onStream func(*Stream)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLimit caps the number of concurrent streams. Zero means no limit.
func WithLimit(n int) Option {
	return func(r *Registry) { r.limit = n }
}

// NewRegistry returns a Registry that calls onStream in a new goroutine for
// every registered stream.
func NewRegistry(onStream func(*Stream), opts ...Option) *Registry {
	r := &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Full reports whether a new stream would be refused for the limit.
func (r *Registry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limit > 0 && len(r.streams) >= r.limit
}

// Register adds a stream and returns the writer its transport feeds.
func (r *Registry) Register(key string, src Source) (*Stream, io.Writer, error) {
	pr, pw := io.Pipe()
	s := &Stream{
		Key:       key,
		Source:    src,
		StartedAt: time.Now(),
		pr:        pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, ok := r.streams[key]; ok {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %q", ErrDuplicate, key)
	}
	if r.limit > 0 && len(r.streams) >= r.limit {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %d active", ErrBusy, r.limit)
	}
	r.streams[key] = s
	r.mu.Unlock()

	if r.onStream != nil {
		go r.onStream(s)
	}
	return s, pw, nil
}

// Unregister removes a stream, ending its reader with io.EOF.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	s, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		s.pw.Close()
		close(s.done)
	}
}

// Get returns the stream registered under key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Copy feeds src into a newly registered stream until src ends, ctx is done
// or the reader aborts, then unregisters it. It is the transport loop shared
// by the SRT listener, the SRT caller and file playback.
func (r *Registry) Copy(ctx context.Context, key string, source Source, remote string, src io.Reader) (Stats, error) {
	s, w, err := r.Register(key, source)
	if err != nil {
		return Stats{}, err
	}
	defer r.Unregister(key)
	s.SetRemoteAddr(remote)

	buf := make([]byte, ReadBufferSize)
	for ctx.Err() == nil {
		n, err := src.Read(buf)
		if n > 0 {
			s.RecordRead(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return s.Stats(), werr
			}
		}
		if errors.Is(err, io.EOF) {
			return s.Stats(), nil
		}
		if err != nil {
			return s.Stats(), err
		}
	}
	return s.Stats(), ctx.Err()
}

// ReadBufferSize is ten SRT payloads of seven transport packets each.
const ReadBufferSize = 1316 * 10
