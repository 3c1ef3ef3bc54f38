//go:build !headless

package display

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text"
	"golang.org/x/image/font/basicfont"

	"github.com/zsiec/duoview/internal/render"
)

const (
	logicalWidth  = render.TopWidth
	logicalHeight = 2 * render.ScreenHeight
	statusHeight  = 16
	sliderStep    = 0.1
)

// Window emulates both panels in a desktop window: the top panel above the
// bottom one, each un-rotated from its native framebuffer. Up and Down move
// the stereo slider, F3 toggles the timing overlay and Escape closes.
type Window struct {
	*Memory
	cfg    Config
	log    *slog.Logger
	debug  *atomic.Bool
	gpu    *Scaler
	vsync  chan struct{}
	status atomic.Pointer[string]
	ctx    context.Context

	topRGBA    *image.RGBA
	bottomRGBA *image.RGBA
	top        *ebiten.Image
	bottom     *ebiten.Image
	frames     uint64
}

var _ Host = (*Window)(nil)

// NewWindow returns a window Host. Nothing is shown until Run.
func NewWindow(cfg Config) *Window {
	cfg.defaults()
	w := &Window{
		Memory: NewMemory(cfg.PixelSize, cfg.PixelSize),
		cfg:    cfg,
		debug:  cfg.Debug,
		log:    cfg.Log.With("component", "display", "mode", "window"),
		vsync:  make(chan struct{}, 1),
		ctx:    context.Background(),
	}
	if cfg.UseGPU {
		w.gpu = NewScaler(nil)
	}
	return w
}

// Run opens the window and blocks until it is closed or ctx ends.
func (w *Window) Run(ctx context.Context) error {
	w.ctx = ctx
	ebiten.SetWindowSize(logicalWidth*w.cfg.Scale, (logicalHeight+statusHeight)*w.cfg.Scale)
	ebiten.SetWindowTitle(w.cfg.Title)
	ebiten.SetWindowResizable(true)
	ebiten.SetRunnableOnUnfocused(true)
	ebiten.SetVsyncEnabled(true)
	ebiten.SetTPS(w.cfg.RefreshRate)

	w.log.Info("window opened", "scale", w.cfg.Scale)
	if err := ebiten.RunGame(w); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	w.log.Info("window closed")
	return nil
}

// Update implements ebiten.Game.
func (w *Window) Update() error {
	if w.ctx.Err() != nil || inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	// Losing focus stands in for the system menu taking the GPU.
	if w.gpu != nil {
		w.gpu.SetRights(ebiten.IsFocused())
	}
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowUp):
		w.SetSlider(math.Min(1, w.Slider()+sliderStep))
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowDown):
		w.SetSlider(math.Max(0, w.Slider()-sliderStep))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF3) {
		on := !w.debug.Load()
		w.debug.Store(on)
		w.log.Info("overlay toggled", "on", on)
	}
	return nil
}

// Draw implements ebiten.Game.
func (w *Window) Draw(screen *ebiten.Image) {
	topWidth := render.TopWidth
	if w.Wide() {
		topWidth = render.TopWideWidth
	}
	if w.topRGBA == nil || w.topRGBA.Rect.Dx() != topWidth {
		w.topRGBA = image.NewRGBA(image.Rect(0, 0, topWidth, render.ScreenHeight))
		if w.top != nil {
			w.top.Deallocate()
		}
		w.top = ebiten.NewImage(topWidth, render.ScreenHeight)
	}
	if w.bottomRGBA == nil {
		w.bottomRGBA = image.NewRGBA(image.Rect(0, 0, render.BottomWidth, render.ScreenHeight))
		w.bottom = ebiten.NewImage(render.BottomWidth, render.ScreenHeight)
	}

	// Stereo shows the left eye; the desktop has no parallax barrier.
	pxTop, pxBottom := w.PixelSize(render.ScreenTop), w.PixelSize(render.ScreenBottom)
	w.ReadFront(render.ScreenTop, render.SideLeft, func(px []byte) {
		// A wide switch between the check above and here shows up next frame.
		if len(px) == topWidth*render.ScreenHeight*pxTop {
			unrotate(w.topRGBA, px, topWidth, render.ScreenHeight, pxTop)
		}
	})
	w.ReadFront(render.ScreenBottom, render.SideLeft, func(px []byte) {
		unrotate(w.bottomRGBA, px, render.BottomWidth, render.ScreenHeight, pxBottom)
	})
	w.top.WritePixels(w.topRGBA.Pix)
	w.bottom.WritePixels(w.bottomRGBA.Pix)

	screen.Fill(color.Black)
	op := &ebiten.DrawImageOptions{Filter: ebiten.FilterLinear}
	op.GeoM.Scale(float64(logicalWidth)/float64(topWidth), 1)
	screen.DrawImage(w.top, op)

	op = &ebiten.DrawImageOptions{Filter: ebiten.FilterNearest}
	op.GeoM.Translate(float64(logicalWidth-render.BottomWidth)/2, render.ScreenHeight)
	screen.DrawImage(w.bottom, op)

	w.drawStatus(screen)

	w.frames++
	select {
	case w.vsync <- struct{}{}:
	default:
	}
}

func (w *Window) drawStatus(screen *ebiten.Image) {
	y := float64(logicalHeight)
	ebitenutil.DrawRect(screen, 0, y, logicalWidth, statusHeight, color.RGBA{0x20, 0x20, 0x20, 0xFF})
	line := fmt.Sprintf("3D %.1f", w.Slider())
	if w.Stereo() {
		line += " stereo"
	} else if w.Wide() {
		line += " wide"
	}
	if p := w.status.Load(); p != nil && *p != "" {
		line += "  " + *p
	}
	text.Draw(screen, line, basicfont.Face7x13, 4, logicalHeight+12, color.White)
}

// Layout implements ebiten.Game.
func (w *Window) Layout(_, _ int) (int, int) {
	return logicalWidth, logicalHeight + statusHeight
}

func (w *Window) VSync() <-chan struct{} { return w.vsync }

func (w *Window) GPU() render.GPU {
	if w.gpu == nil {
		return nil
	}
	return w.gpu
}

func (w *Window) Debug() *atomic.Bool { return w.debug }

func (w *Window) SetStatus(s string) { w.status.Store(&s) }
