package render

import "time"

type rgb struct{ r, g, b byte }

var (
	colorDecode = rgb{255, 0, 0}
	colorCopy   = rgb{0, 0, 255}
	colorTarget = rgb{0, 255, 0}
)

// drawOverlay paints the timing bars along the first native scanline of fb,
// which is one logical column of height pixels. The scanline is cleared, a
// decode bar and a copy bar are drawn end to end, and two pixels mark the
// middle, which corresponds to one full frame budget.
func drawOverlay(fb []byte, height, px int, t Timings) {
	if px <= 0 || len(fb) < height*px {
		return
	}
	clear(fb[:height*px])

	perPixel := float64(height) / float64(2*FrameBudget)
	pos := 0
	bar := func(d time.Duration, c rgb) {
		n := int(perPixel * float64(d))
		for i := 0; i <= n && pos < height; i++ {
			putPixel(fb[pos*px:], px, c)
			pos++
		}
	}

	bar(t.Decode, colorDecode)
	bar(t.Copy, colorCopy)

	pos = height/2 - 1
	bar(0, colorTarget)
	bar(0, colorTarget)
}

// putPixel encodes c in the framebuffer's native format: little-endian
// RGB565, BGR888 or RGBA8888.
func putPixel(dst []byte, px int, c rgb) {
	switch px {
	case 2:
		v := uint16(c.r>>3)<<11 | uint16(c.g>>2)<<5 | uint16(c.b>>3)
		dst[0], dst[1] = byte(v), byte(v>>8)
	case 3:
		dst[0], dst[1], dst[2] = c.b, c.g, c.r
	case 4:
		dst[0], dst[1], dst[2], dst[3] = c.r, c.g, c.b, 0xFF
	}
}
