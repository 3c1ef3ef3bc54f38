// Package colorconv converts decoded YUV pictures into the packed RGB layout
// a display surface expects. Two implementations share one fixed-point
// kernel: a synchronous software converter and a striped batch unit that is
// triggered and then awaited with a bounded timeout.
package colorconv

import (
	"context"
	"errors"
	"fmt"

	"github.com/zsiec/duoview/internal/media"
)

var (
	// ErrTimeout is returned when a batch conversion does not complete in
	// time. A stuck unit cannot produce a valid picture, so callers treat it
	// as fatal to the stream.
	ErrTimeout = errors.New("colorconv: conversion timed out")

	// ErrNotConfigured is returned by Convert before Configure succeeds.
	ErrNotConfigured = errors.New("colorconv: not configured")

	// ErrFormat is returned for unsupported source or destination formats.
	ErrFormat = errors.New("colorconv: unsupported format")
)

// Params are the per-stream conversion settings. They must be re-applied
// whenever the resolution or declared colour standard changes.
type Params struct {
	Width      int
	Height     int
	Output     media.PixelFormat
	Colorspace media.Colorspace
	Range      media.ColorRange
}

// Converter converts one picture per call.
type Converter interface {
	Configure(p Params) error
	Convert(ctx context.Context, src, dst *media.Picture) error
	Close() error
}

func (p Params) validate() error {
	if p.Width <= 0 || p.Height <= 0 || p.Width%2 != 0 || p.Height%2 != 0 {
		return fmt.Errorf("colorconv: invalid size %dx%d", p.Width, p.Height)
	}
	if !p.Output.Packed() {
		return fmt.Errorf("%w: output %s", ErrFormat, p.Output)
	}
	return nil
}

// checkPictures validates that src and dst match the configured geometry.
func checkPictures(p Params, src, dst *media.Picture) error {
	if src.Width != p.Width || src.Height != p.Height {
		return fmt.Errorf("colorconv: source %dx%d, configured %dx%d",
			src.Width, src.Height, p.Width, p.Height)
	}
	switch src.Format {
	case media.PixelI420, media.PixelYUYV:
	default:
		return fmt.Errorf("%w: source %s", ErrFormat, src.Format)
	}
	if len(src.Pix) < src.Format.FrameSize(p.Width, p.Height) {
		return fmt.Errorf("colorconv: source buffer %d bytes, want %d",
			len(src.Pix), src.Format.FrameSize(p.Width, p.Height))
	}
	need := p.Output.FrameSize(p.Width, p.Height)
	if len(dst.Pix) < need {
		return fmt.Errorf("colorconv: destination buffer %d bytes, want %d", len(dst.Pix), need)
	}
	return nil
}

// kernel holds everything a stripe needs. It is immutable once built.
type kernel struct {
	params Params
	coef   Coefficients
	px     int
}

func newKernel(p Params) *kernel {
	return &kernel{
		params: p,
		coef:   CoefficientsFor(p.Colorspace, p.Range),
		px:     p.Output.BytesPerPixel(),
	}
}

// rows converts source rows [y0, y1) into dst.
func (k *kernel) rows(src *media.Picture, dst []byte, y0, y1 int) {
	w := k.params.Width
	switch src.Format {
	case media.PixelI420:
		yp, up, vp := src.Planes()
		cw := w / 2
		for y := y0; y < y1; y++ {
			yRow := yp[y*w : y*w+w]
			cRow := (y / 2) * cw
			out := dst[y*w*k.px:]
			for x := 0; x < w; x++ {
				r, g, b := k.coef.pixel(yRow[x], up[cRow+x/2], vp[cRow+x/2])
				k.store(out, x, r, g, b)
			}
		}
	case media.PixelYUYV:
		stride := w * 2
		for y := y0; y < y1; y++ {
			in := src.Pix[y*stride : y*stride+stride]
			out := dst[y*w*k.px:]
			for x := 0; x+1 < w; x += 2 {
				i := x * 2
				y0s, cb, y1s, cr := in[i], in[i+1], in[i+2], in[i+3]
				r, g, b := k.coef.pixel(y0s, cb, cr)
				k.store(out, x, r, g, b)
				r, g, b = k.coef.pixel(y1s, cb, cr)
				k.store(out, x+1, r, g, b)
			}
		}
	}
}

func (k *kernel) store(out []byte, x int, r, g, b byte) {
	switch k.params.Output {
	case media.PixelRGB565:
		v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
		out[x*2] = byte(v)
		out[x*2+1] = byte(v >> 8)
	case media.PixelBGR888:
		o := x * 3
		out[o] = b
		out[o+1] = g
		out[o+2] = r
	case media.PixelRGBA8888:
		o := x * 4
		out[o] = r
		out[o+1] = g
		out[o+2] = b
		out[o+3] = 0xFF
	}
}

func stampOutput(p Params, src, dst *media.Picture) {
	dst.Width = p.Width
	dst.Height = p.Height
	dst.Format = p.Output
	dst.Colorspace = src.Colorspace
	dst.Range = src.Range
	dst.Seq = src.Seq
	dst.Marker = src.Marker
	dst.DecodeTime = src.DecodeTime
}
