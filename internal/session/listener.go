package session

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// Termination codes reported by the streaming protocol.
const (
	TerminationGraceful             = 0
	TerminationNoVideoTraffic       = -100
	TerminationNoVideoFrame         = -101
	TerminationUnexpectedEarlyClose = -102
	TerminationProtectedContent     = -103

	// TerminationFrameConversion is raised locally when conversion fails
	// fatally. It has no canned message.
	TerminationFrameConversion = -104
)

var terminationMessages = map[int]string{
	TerminationGraceful:             "Connection has been terminated gracefully.",
	TerminationNoVideoTraffic:       "No video received from host. Check the host PC's firewall and port forwarding rules.",
	TerminationNoVideoFrame:         "Your network connection isn't performing well. Reduce your video bitrate setting or try a faster connection.",
	TerminationUnexpectedEarlyClose: "The connection was unexpectedly terminated by the host due to a video capture error. Make sure no DRM-protected content is playing on the host.",
	TerminationProtectedContent:     "The connection was terminated by the host due to DRM-protected content. Close any DRM-protected content on the host and try again.",
}

// TerminationMessage returns the user-facing text for code. Unknown codes
// yield "".
func TerminationMessage(code int) string { return terminationMessages[code] }

// Listener receives connection lifecycle callbacks. User-facing messages
// are written to Out; everything is also logged.
type Listener struct {
	state *State
	out   io.Writer
	log   *slog.Logger

	idr atomic.Int64

	mu         sync.Mutex
	disconnect string
	onClose    []func(code int)
}

// NewListener returns a Listener that marks state closed on termination.
// A nil out writes to stdout.
func NewListener(state *State, out io.Writer, log *slog.Logger) *Listener {
	if out == nil {
		out = os.Stdout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Listener{state: state, out: out, log: log.With("component", "connection")}
}

// OnTerminated registers fn to run after ConnectionTerminated.
func (l *Listener) OnTerminated(fn func(code int)) {
	l.mu.Lock()
	l.onClose = append(l.onClose, fn)
	l.mu.Unlock()
}

func (l *Listener) StageStarting(stage string) {
	l.log.Debug("stage starting", "stage", stage)
}

func (l *Listener) StageComplete(stage string) {
	l.log.Debug("stage complete", "stage", stage)
}

// StageFailed reports a connection stage that could not be brought up. The
// error also becomes the disconnect message.
func (l *Listener) StageFailed(stage string, err error) {
	l.mu.Lock()
	l.disconnect = fmt.Sprintf("starting %s: %v", stage, err)
	l.mu.Unlock()
	l.log.Error("stage failed", "stage", stage, "error", err)
	fmt.Fprintf(l.out, "Starting %s failed: %v\n", stage, err)
}

// RequestIDR records that the decoder needs a fresh keyframe from the host.
// Senders without a feedback channel only see it in the logs and status.
func (l *Listener) RequestIDR(frame int) {
	n := l.idr.Add(1)
	l.log.Info("requesting IDR from host", "frame", frame, "requests", n)
}

// IDRRequests returns how many times RequestIDR has been called.
func (l *Listener) IDRRequests() int64 { return l.idr.Load() }

func (l *Listener) ConnectionStarted() {
	l.log.Info("connection started")
}

// ConnectionTerminated prints the message for code, marks the session
// closed and runs the OnTerminated hooks.
func (l *Listener) ConnectionTerminated(code int) {
	l.mu.Lock()
	disconnect := l.disconnect
	hooks := append([]func(int){}, l.onClose...)
	l.mu.Unlock()

	if msg, ok := terminationMessages[code]; ok {
		fmt.Fprintln(l.out, msg)
	} else {
		fmt.Fprintln(l.out, disconnect)
		fmt.Fprintf(l.out, "Connection terminated with error: %d\n", code)
	}
	l.log.Info("connection terminated", "code", code)

	if l.state != nil {
		l.state.MarkClosed()
	}
	for _, fn := range hooks {
		fn(code)
	}
}

// LogMessage records the latest protocol log line. It is printed as the
// disconnect reason for unrecognised termination codes.
func (l *Listener) LogMessage(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.disconnect = msg
	l.mu.Unlock()
	l.log.Debug("protocol message", "text", msg)
}

// DisconnectMessage returns the last LogMessage text.
func (l *Listener) DisconnectMessage() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnect
}

func (l *Listener) SetHDRMode(on bool) {
	if l.state != nil {
		l.state.SetHDR(on)
	}
	l.log.Info("hdr mode", "on", on)
}

func (l *Listener) SetMotionEventState(on bool) {
	if l.state != nil {
		l.state.SetMotion(on)
	}
}
