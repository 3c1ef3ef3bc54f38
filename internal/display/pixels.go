package display

import (
	"image"
	"image/color"
)

// decodePixel reads one pixel in the handheld's framebuffer encodings:
// little-endian RGB565, BGR888 or RGBA8888.
func decodePixel(b []byte, px int) color.RGBA {
	switch px {
	case 2:
		v := uint16(b[0]) | uint16(b[1])<<8
		r, g, bl := byte(v>>11), byte(v>>5)&0x3F, byte(v)&0x1F
		return color.RGBA{r<<3 | r>>2, g<<2 | g>>4, bl<<3 | bl>>2, 0xFF}
	case 3:
		return color.RGBA{b[2], b[1], b[0], 0xFF}
	case 4:
		return color.RGBA{b[0], b[1], b[2], 0xFF}
	}
	return color.RGBA{}
}

func encodePixel(dst []byte, px int, c color.RGBA) {
	switch px {
	case 2:
		v := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
		dst[0], dst[1] = byte(v), byte(v>>8)
	case 3:
		dst[0], dst[1], dst[2] = c.B, c.G, c.R
	case 4:
		dst[0], dst[1], dst[2], dst[3] = c.R, c.G, c.B, 0xFF
	}
}

// unrotate converts a native framebuffer of a w x h logical surface into an
// upright image. Logical (x, y) lives at native index h-y-1+h*x.
func unrotate(dst *image.RGBA, native []byte, w, h, px int) {
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			i := (h - y - 1 + h*x) * px
			if i+px > len(native) {
				continue
			}
			c := decodePixel(native[i:], px)
			o := x * 4
			row[o], row[o+1], row[o+2], row[o+3] = c.R, c.G, c.B, c.A
		}
	}
}

// rotate is the inverse of unrotate.
func rotate(native []byte, src *image.RGBA, w, h, px int) {
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			i := (h - y - 1 + h*x) * px
			if i+px > len(native) {
				continue
			}
			o := x * 4
			encodePixel(native[i:], px, color.RGBA{row[o], row[o+1], row[o+2], 0xFF})
		}
	}
}

// packedImage exposes a packed picture buffer as an image.Image so it can
// feed the x/image scalers.
type packedImage struct {
	pix    []byte
	w, h   int
	px     int
	stride int
}

func (p *packedImage) ColorModel() color.Model { return color.RGBAModel }

func (p *packedImage) Bounds() image.Rectangle { return image.Rect(0, 0, p.w, p.h) }

func (p *packedImage) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Bounds())) {
		return color.RGBA{}
	}
	return decodePixel(p.pix[y*p.stride+x*p.px:], p.px)
}
