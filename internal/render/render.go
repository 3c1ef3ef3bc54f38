// Package render presents converted pictures on a dual-screen handheld
// display. A Renderer is chosen once per stream from a Layout and owns the
// offset maps built for that stream's geometry.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zsiec/duoview/internal/media"
)

// Native panel geometry. Panels are mounted rotated, so a framebuffer's
// native scanline runs down a logical column of Height pixels.
const (
	ScreenHeight   = 240
	TopWidth       = 400
	TopWideWidth   = 800
	BottomWidth    = 320
	StereoEyeWidth = TopWidth
	// FrameBudget is the per-picture time the overlay scales against.
	FrameBudget = time.Second / 60
)

// ErrUnsupportedLayout is returned by ParseLayout and New.
var ErrUnsupportedLayout = errors.New("render: unsupported layout")

// Screen selects a physical panel.
type Screen int

// Panels.
const (
	ScreenTop Screen = iota
	ScreenBottom
)

func (s Screen) String() string {
	if s == ScreenBottom {
		return "bottom"
	}
	return "top"
}

// Side selects the eye of a stereo-capable panel. Mono output uses Left.
type Side int

// Eyes.
const (
	SideLeft Side = iota
	SideRight
)

// Display is the framebuffer surface a Renderer writes to.
type Display interface {
	// Framebuffer returns the back buffer of a panel in native order. The top
	// panel's buffer is TopWideWidth columns when wide mode is on.
	Framebuffer(s Screen, side Side) []byte
	PixelSize(s Screen) int
	SetWide(on bool)
	Wide() bool
	SetStereo(on bool)
	Stereo() bool
	// Swap makes the back buffer of s visible. stereo swaps both eyes.
	Swap(s Screen, stereo bool)
	// Slider reports the stereo depth control. Values above zero request
	// stereo output.
	Slider() float64
}

// GPU is an optional hardware transfer path for the top panel.
type GPU interface {
	// HasRights reports whether this process currently owns the GPU. It is
	// lost while the system menu is open.
	HasRights() bool
	// Transfer scales and rotates a packed picture into a native
	// framebuffer of w x h logical pixels.
	Transfer(dst []byte, w, h int, src *media.Picture) error
}

// Layout is the externally selected output arrangement. It is read once
// when a Renderer is built; changing it needs a new Renderer.
type Layout int

// Layouts.
const (
	LayoutDefault Layout = iota
	LayoutBottom
	LayoutDualScreenStretch
	LayoutDualScreenMirror
)

func (l Layout) String() string {
	switch l {
	case LayoutDefault:
		return "default"
	case LayoutBottom:
		return "bottom"
	case LayoutDualScreenStretch:
		return "dual-stretch"
	case LayoutDualScreenMirror:
		return "dual-mirror"
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// ParseLayout maps a configuration name to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default", "top":
		return LayoutDefault, nil
	case "bottom":
		return LayoutBottom, nil
	case "dual-stretch", "dual", "stretch", "dualscreen":
		return LayoutDualScreenStretch, nil
	case "dual-mirror", "mirror":
		return LayoutDualScreenMirror, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedLayout, s)
}

// Config describes the stream a Renderer is built for.
type Config struct {
	SrcWidth  int
	SrcHeight int
	// SurfaceWidth overrides the top panel width. Zero picks TopWideWidth
	// for sources wider than TopWidth.
	SurfaceWidth int
	// SplitOffset is the first source row shown on the bottom panel in the
	// stretch layout. Zero means SrcHeight/2. The right value depends on
	// how the host pads the doubled-height picture and should be calibrated
	// per target.
	SplitOffset int
	// Debug enables the timing overlay. It is read on every present.
	Debug *atomic.Bool
	GPU   GPU
	Log   *slog.Logger
}

// Timings are the per-picture costs drawn by the overlay.
type Timings struct {
	Decode time.Duration
	Copy   time.Duration
}

// Stats are cumulative present counters.
type Stats struct {
	Presented int64
	Skipped   int64
	StereoOn  int64
	StereoOff int64
}

// Renderer presents pictures. Present never fails; problems are logged and
// the picture is skipped.
type Renderer interface {
	Layout() Layout
	Present(pic *media.Picture)
	Stats() Stats
	// Close restores the display to its default mode and clears both
	// panels.
	Close()
}

// New builds the Renderer for layout. Offset maps are computed here, so any
// error is fatal to stream setup.
func New(layout Layout, d Display, cfg Config) (Renderer, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Debug == nil {
		cfg.Debug = new(atomic.Bool)
	}
	b, err := newBase(layout, d, cfg)
	if err != nil {
		return nil, err
	}

	var r Renderer
	switch layout {
	case LayoutDefault:
		r, err = newDefault(b)
	case LayoutBottom:
		r, err = newBottom(b)
	case LayoutDualScreenStretch, LayoutDualScreenMirror:
		r, err = newDual(b)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLayout, layout)
	}
	if err != nil {
		return nil, err
	}
	b.log.Info("renderer ready",
		"layout", layout.String(),
		"src_width", cfg.SrcWidth,
		"src_height", cfg.SrcHeight,
		"surface_width", b.surfaceWidth,
		"pixel_size", b.px,
	)
	return r, nil
}
