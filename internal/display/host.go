package display

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/duoview/internal/render"
)

// Host is a display with its own run loop. Run blocks until ctx ends or the
// user closes the display; on desktop builds it must run on the main
// goroutine.
type Host interface {
	render.Display
	Run(ctx context.Context) error
	// VSync delivers one tick per refresh. Ticks are dropped when nobody
	// is waiting.
	VSync() <-chan struct{}
	// GPU returns the hardware transfer path, or nil when disabled.
	GPU() render.GPU
	// Debug is the overlay toggle shared with the renderer.
	Debug() *atomic.Bool
	SetStatus(s string)
}

// Config selects and sizes a Host.
type Config struct {
	Title       string
	Scale       int
	PixelSize   int
	RefreshRate int
	Headless    bool
	UseGPU      bool
	// Debug is the overlay flag the host toggles. Nil allocates one.
	Debug *atomic.Bool
	Log   *slog.Logger
}

func (c *Config) defaults() {
	if c.Title == "" {
		c.Title = "duoview"
	}
	if c.Scale <= 0 {
		c.Scale = 2
	}
	if c.PixelSize == 0 {
		c.PixelSize = 2
	}
	if c.RefreshRate <= 0 {
		c.RefreshRate = 60
	}
	if c.Debug == nil {
		c.Debug = new(atomic.Bool)
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
}

var _ Host = (*Headless)(nil)

// Headless is a Host without a window. Frames land in memory and VSync is
// driven by a ticker at the configured refresh rate.
type Headless struct {
	*Memory
	debug  *atomic.Bool
	gpu    *Scaler
	vsync  chan struct{}
	period time.Duration
	status atomic.Pointer[string]
	log    *slog.Logger
}

// NewHeadless returns a memory-backed Host.
func NewHeadless(cfg Config) *Headless {
	cfg.defaults()
	h := &Headless{
		Memory: NewMemory(cfg.PixelSize, cfg.PixelSize),
		debug:  cfg.Debug,
		vsync:  make(chan struct{}, 1),
		period: time.Second / time.Duration(cfg.RefreshRate),
		log:    cfg.Log.With("component", "display", "mode", "headless"),
	}
	if cfg.UseGPU {
		h.gpu = NewScaler(nil)
	}
	return h
}

// Run ticks VSync until ctx is done.
func (h *Headless) Run(ctx context.Context) error {
	h.log.Info("display running", "period", h.period)
	t := time.NewTicker(h.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			select {
			case h.vsync <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Headless) VSync() <-chan struct{} { return h.vsync }

func (h *Headless) GPU() render.GPU {
	if h.gpu == nil {
		return nil
	}
	return h.gpu
}

func (h *Headless) Debug() *atomic.Bool { return h.debug }

// SetStatus records s and logs it when it changes.
func (h *Headless) SetStatus(s string) {
	if old := h.status.Swap(&s); old == nil || *old != s {
		h.log.Info("status", "text", s)
	}
}

// Status returns the last status line.
func (h *Headless) Status() string {
	if p := h.status.Load(); p != nil {
		return *p
	}
	return ""
}
