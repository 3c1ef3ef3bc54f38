package render

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/duoview/internal/media"
	"github.com/zsiec/duoview/internal/offsetmap"
)

// base holds what every variant shares: geometry, the stereo/wide state
// machine, the overlay and teardown.
type base struct {
	layout       Layout
	d            Display
	cfg          Config
	log          *slog.Logger
	px           int
	pxBottom     int
	surfaceWidth int

	presented atomic.Int64
	skipped   atomic.Int64
	stereoOn  atomic.Int64
	stereoOff atomic.Int64
	closed    atomic.Bool
}

func newBase(layout Layout, d Display, cfg Config) (*base, error) {
	if d == nil {
		return nil, fmt.Errorf("render: nil display")
	}
	if cfg.SrcWidth <= 0 || cfg.SrcHeight <= 0 {
		return nil, fmt.Errorf("render: invalid source %dx%d: %w", cfg.SrcWidth, cfg.SrcHeight, offsetmap.ErrInvalidGeometry)
	}
	b := &base{
		layout:   layout,
		d:        d,
		cfg:      cfg,
		log:      cfg.Log.With("component", "render"),
		px:       d.PixelSize(ScreenTop),
		pxBottom: d.PixelSize(ScreenBottom),
	}
	switch {
	case cfg.SurfaceWidth == TopWidth || cfg.SurfaceWidth == TopWideWidth:
		b.surfaceWidth = cfg.SurfaceWidth
	case cfg.SurfaceWidth != 0:
		return nil, fmt.Errorf("render: surface width %d: %w", cfg.SurfaceWidth, offsetmap.ErrInvalidGeometry)
	case cfg.SrcWidth > TopWidth:
		b.surfaceWidth = TopWideWidth
	default:
		b.surfaceWidth = TopWidth
	}
	return b, nil
}

func (b *base) Layout() Layout { return b.layout }

func (b *base) Stats() Stats {
	return Stats{
		Presented: b.presented.Load(),
		Skipped:   b.skipped.Load(),
		StereoOn:  b.stereoOn.Load(),
		StereoOff: b.stereoOff.Load(),
	}
}

func (b *base) buildMap(p offsetmap.Params) (*offsetmap.Map, error) {
	p.SrcWidth, p.SrcHeight = b.cfg.SrcWidth, b.cfg.SrcHeight
	m, err := offsetmap.Build(p)
	if err != nil {
		return nil, fmt.Errorf("render: %s map: %w", b.layout, err)
	}
	return m, nil
}

// check rejects pictures that do not match the geometry the maps were built
// for.
func (b *base) check(pic *media.Picture, px int) error {
	if pic == nil {
		return fmt.Errorf("nil picture")
	}
	if pic.Width != b.cfg.SrcWidth || pic.Height != b.cfg.SrcHeight {
		return fmt.Errorf("picture %dx%d, renderer built for %dx%d",
			pic.Width, pic.Height, b.cfg.SrcWidth, b.cfg.SrcHeight)
	}
	if pic.Format.BytesPerPixel() != px || !pic.Format.Packed() {
		return fmt.Errorf("picture format %s, display needs %d bytes per pixel", pic.Format, px)
	}
	return nil
}

func (b *base) skip(pic *media.Picture, err error) {
	b.skipped.Add(1)
	var seq uint64
	if pic != nil {
		seq = pic.Seq
	}
	b.log.Debug("frame skipped", "seq", seq, "error", err)
}

// ensureStereo turns stereo on. Wide and stereo are mutually exclusive, so
// wide goes off first.
func (b *base) ensureStereo() {
	if b.d.Stereo() {
		return
	}
	b.d.SetWide(false)
	b.d.SetStereo(true)
	b.stereoOn.Add(1)
	b.log.Debug("stereo enabled")
}

// ensureMono turns stereo off and restores wide output for 800-column
// surfaces.
func (b *base) ensureMono() {
	if b.d.Stereo() {
		b.d.SetStereo(false)
		b.stereoOff.Add(1)
		b.log.Debug("stereo disabled")
	}
	if b.surfaceWidth == TopWideWidth && !b.d.Wide() {
		b.d.SetWide(true)
	}
}

// finish draws the overlay when enabled, swaps s and counts the picture.
func (b *base) finish(s Screen, pic *media.Picture, start time.Time, stereo bool) {
	if b.cfg.Debug.Load() {
		drawOverlay(b.d.Framebuffer(s, SideLeft), ScreenHeight, b.d.PixelSize(s), Timings{
			Decode: pic.DecodeTime + pic.ConvertTime,
			Copy:   time.Since(start),
		})
	}
	b.d.Swap(s, stereo)
	b.presented.Add(1)
}

func (b *base) clearScreen(s Screen) {
	clear(b.d.Framebuffer(s, SideLeft))
	if s == ScreenTop {
		clear(b.d.Framebuffer(s, SideRight))
	}
	b.d.Swap(s, s == ScreenTop)
}

// Close turns stereo and wide off and blanks both panels. It is safe to
// call more than once.
func (b *base) Close() {
	if b.closed.Swap(true) {
		return
	}
	if b.d.Stereo() {
		b.d.SetStereo(false)
	}
	if b.d.Wide() {
		b.d.SetWide(false)
	}
	b.clearScreen(ScreenTop)
	b.clearScreen(ScreenBottom)
	st := b.Stats()
	b.log.Info("renderer closed", "presented", st.Presented, "skipped", st.Skipped)
}
