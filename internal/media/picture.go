package media

import (
	"fmt"
	"time"
)

// PixelFormat describes the in-memory layout of picture samples.
type PixelFormat int

// Supported pixel formats. RGB565 is little-endian 16-bit, BGR888 stores
// blue first, RGBA8888 is straight RGBA.
const (
	PixelI420 PixelFormat = iota
	PixelYUYV
	PixelRGB565
	PixelBGR888
	PixelRGBA8888
)

func (f PixelFormat) String() string {
	switch f {
	case PixelI420:
		return "i420"
	case PixelYUYV:
		return "yuyv"
	case PixelRGB565:
		return "rgb565"
	case PixelBGR888:
		return "bgr888"
	case PixelRGBA8888:
		return "rgba8888"
	default:
		return fmt.Sprintf("pixfmt(%d)", int(f))
	}
}

// BytesPerPixel returns the packed pixel size. Planar formats return 0.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelRGB565, PixelYUYV:
		return 2
	case PixelBGR888:
		return 3
	case PixelRGBA8888:
		return 4
	}
	return 0
}

// Packed reports whether the format is a packed RGB format a renderer can
// copy pixel-by-pixel.
func (f PixelFormat) Packed() bool {
	return f == PixelRGB565 || f == PixelBGR888 || f == PixelRGBA8888
}

// FrameSize returns the number of bytes needed for a width x height picture.
func (f PixelFormat) FrameSize(width, height int) int {
	switch f {
	case PixelI420:
		return width*height + 2*((width/2)*(height/2))
	default:
		return width * height * f.BytesPerPixel()
	}
}

// Picture is a decoded or converted frame. Picture slots are allocated once
// per stream and reused cyclically; Pix is overwritten, never reallocated,
// while the resolution holds.
type Picture struct {
	Pix        []byte
	Width      int
	Height     int
	Format     PixelFormat
	Colorspace Colorspace
	Range      ColorRange

	// Seq is assigned by the pipeline when the picture is produced.
	Seq uint64
	// Marker is an opaque tag copied from the bitstream by decoders that
	// support it. Tests use it to verify ordering.
	Marker uint32

	DecodeTime  time.Duration
	ConvertTime time.Duration
}

// NewPicture allocates a picture of the given geometry.
func NewPicture(width, height int, format PixelFormat) *Picture {
	return &Picture{
		Pix:    make([]byte, format.FrameSize(width, height)),
		Width:  width,
		Height: height,
		Format: format,
	}
}

// Planes returns the Y, U and V planes of an I420 picture.
func (p *Picture) Planes() (y, u, v []byte) {
	ySize := p.Width * p.Height
	cSize := (p.Width / 2) * (p.Height / 2)
	if len(p.Pix) < ySize+2*cSize {
		return nil, nil, nil
	}
	return p.Pix[:ySize], p.Pix[ySize : ySize+cSize], p.Pix[ySize+cSize : ySize+2*cSize]
}

// Stride returns the byte length of one packed row.
func (p *Picture) Stride() int {
	return p.Width * p.Format.BytesPerPixel()
}
