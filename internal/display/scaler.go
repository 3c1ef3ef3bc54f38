package display

import (
	"fmt"
	"image"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/zsiec/duoview/internal/media"
)

// Scaler is a render.GPU that resamples pictures with x/image/draw and
// writes them rotated into the native framebuffer. Rights are granted and
// revoked by whoever owns the display, for example when the window loses
// focus.
type Scaler struct {
	interp draw.Interpolator
	rights atomic.Bool
	buf    *image.RGBA
}

// NewScaler returns a Scaler that holds rights. A nil interpolator selects
// draw.ApproxBiLinear.
func NewScaler(interp draw.Interpolator) *Scaler {
	if interp == nil {
		interp = draw.ApproxBiLinear
	}
	s := &Scaler{interp: interp}
	s.rights.Store(true)
	return s
}

// HasRights implements render.GPU.
func (s *Scaler) HasRights() bool { return s.rights.Load() }

// SetRights grants or revokes GPU access.
func (s *Scaler) SetRights(on bool) { s.rights.Store(on) }

// Transfer implements render.GPU. Pictures are presented by one goroutine,
// so the scratch image is not locked.
func (s *Scaler) Transfer(dst []byte, w, h int, src *media.Picture) error {
	if !src.Format.Packed() {
		return fmt.Errorf("display: scaler needs a packed picture, got %s", src.Format)
	}
	px := src.Format.BytesPerPixel()
	if len(dst) < w*h*px {
		return fmt.Errorf("display: framebuffer %d bytes, need %d", len(dst), w*h*px)
	}
	if s.buf == nil || s.buf.Rect.Dx() != w || s.buf.Rect.Dy() != h {
		s.buf = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	in := &packedImage{pix: src.Pix, w: src.Width, h: src.Height, px: px, stride: src.Stride()}
	s.interp.Scale(s.buf, s.buf.Rect, in, in.Bounds(), draw.Src, nil)
	rotate(dst, s.buf, w, h, px)
	return nil
}
