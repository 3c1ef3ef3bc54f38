// Package offsetmap precomputes destination-to-source pixel lookup tables so
// the per-frame copy loop never repeats rotation or scaling arithmetic.
//
// Destination offsets follow the handheld framebuffer's native scan order:
// surfaces are stored column-major and rotated, so logical pixel (x, y) of a
// W x H surface lives at native index H - y - 1 + H*x.
package offsetmap

import (
	"errors"
	"fmt"
)

// ErrInvalidGeometry is returned by Build for non-positive or inconsistent
// dimensions.
var ErrInvalidGeometry = errors.New("offsetmap: invalid geometry")

// ErrShortBuffer is returned by Apply when a buffer is smaller than the map
// requires.
var ErrShortBuffer = errors.New("offsetmap: buffer too short")

// maxPixels caps a single map at the largest surface any supported display
// uses with generous headroom. Larger requests are configuration errors.
const maxPixels = 4096 * 4096

// Layout selects how source coordinates are derived for a destination pixel.
type Layout int

// Supported layouts.
const (
	// Single maps the whole source onto the destination.
	Single Layout = iota
	// Stereo produces separate left and right source tables from the two
	// horizontal halves of the source.
	Stereo
	// Split maps a horizontal band of source rows, starting at SrcRowOffset
	// and SrcRows tall, onto the destination.
	Split
)

func (l Layout) String() string {
	switch l {
	case Single:
		return "single"
	case Stereo:
		return "stereo"
	case Split:
		return "split"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// Params fully determines a Map. Two maps built from equal Params are equal.
type Params struct {
	DestWidth  int
	DestHeight int
	SrcWidth   int
	SrcHeight  int
	PixelSize  int
	Layout     Layout

	// SrcRowOffset and SrcRows describe the source band for Split. SrcRows
	// defaults to SrcHeight - SrcRowOffset when zero. Stereo maps use the
	// band only when SrcRows is set.
	SrcRowOffset int
	SrcRows      int
}

// Map holds parallel offset tables. Dest[i] and Src[i] are byte offsets for
// the i-th destination pixel in raster order. Right is populated only for
// Stereo and pairs with Dest the same way Src does.
type Map struct {
	Params Params
	Dest   []int32
	Src    []int32
	Right  []int32

	destExtent int
	srcExtent  int
}

// Build computes the offset tables for p.
func Build(p Params) (*Map, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	n := p.DestWidth * p.DestHeight
	m := &Map{
		Params: p,
		Dest:   make([]int32, n),
		Src:    make([]int32, n),
	}
	if p.Layout == Stereo {
		m.Right = make([]int32, n)
	}

	px := p.PixelSize
	dw, dh := p.DestWidth, p.DestHeight
	sw, sh := p.SrcWidth, p.SrcHeight
	rowOffset, rows := 0, sh
	if p.banded() {
		rowOffset = p.SrcRowOffset
		rows = p.bandRows()
	}
	half := sw / 2

	maxSrc := 0
	i := 0
	for y := 0; y < dh; y++ {
		srcRow := (rowOffset + y*rows/dh) * sw
		for x := 0; x < dw; x++ {
			m.Dest[i] = int32(px * (dh - y - 1 + dh*x))

			var s int
			switch p.Layout {
			case Stereo:
				s = x*half/dw + srcRow
				r := s + half
				m.Right[i] = int32(px * r)
				if r > maxSrc {
					maxSrc = r
				}
			default:
				s = x*sw/dw + srcRow
			}
			m.Src[i] = int32(px * s)
			if s > maxSrc {
				maxSrc = s
			}
			i++
		}
	}

	m.destExtent = n * px
	m.srcExtent = (maxSrc + 1) * px
	return m, nil
}

func (p Params) banded() bool {
	return p.Layout == Split || (p.Layout == Stereo && p.SrcRows > 0)
}

func (p Params) bandRows() int {
	if p.SrcRows > 0 {
		return p.SrcRows
	}
	return p.SrcHeight - p.SrcRowOffset
}

func (p Params) validate() error {
	if p.DestWidth <= 0 || p.DestHeight <= 0 || p.SrcWidth <= 0 || p.SrcHeight <= 0 {
		return fmt.Errorf("%w: dest %dx%d src %dx%d", ErrInvalidGeometry,
			p.DestWidth, p.DestHeight, p.SrcWidth, p.SrcHeight)
	}
	if p.PixelSize <= 0 || p.PixelSize > 4 {
		return fmt.Errorf("%w: pixel size %d", ErrInvalidGeometry, p.PixelSize)
	}
	if p.DestWidth*p.DestHeight > maxPixels || p.SrcWidth*p.SrcHeight > maxPixels {
		return fmt.Errorf("%w: surface too large", ErrInvalidGeometry)
	}
	switch p.Layout {
	case Single, Split:
	case Stereo:
		if p.SrcWidth < 2 {
			return fmt.Errorf("%w: stereo source narrower than 2px", ErrInvalidGeometry)
		}
	default:
		return fmt.Errorf("%w: unknown layout %d", ErrInvalidGeometry, p.Layout)
	}
	if p.banded() {
		rows := p.bandRows()
		if p.SrcRowOffset < 0 || rows <= 0 || p.SrcRowOffset+rows > p.SrcHeight {
			return fmt.Errorf("%w: band [%d,%d) outside source height %d", ErrInvalidGeometry,
				p.SrcRowOffset, p.SrcRowOffset+rows, p.SrcHeight)
		}
	}
	return nil
}

// Len returns the number of destination pixels.
func (m *Map) Len() int { return len(m.Dest) }

// DestBytes returns the minimum destination buffer size.
func (m *Map) DestBytes() int { return m.destExtent }

// SrcBytes returns the minimum source buffer size.
func (m *Map) SrcBytes() int { return m.srcExtent }

// Apply copies every mapped pixel from src into dst using the Src table.
func (m *Map) Apply(dst, src []byte) error {
	return m.apply(dst, src, m.Src)
}

// ApplyRight copies using the Right table. It is only valid for Stereo maps.
func (m *Map) ApplyRight(dst, src []byte) error {
	if m.Right == nil {
		return fmt.Errorf("offsetmap: %s map has no right view", m.Params.Layout)
	}
	return m.apply(dst, src, m.Right)
}

func (m *Map) apply(dst, src []byte, table []int32) error {
	if len(dst) < m.destExtent {
		return fmt.Errorf("%w: dest %d < %d", ErrShortBuffer, len(dst), m.destExtent)
	}
	if len(src) < m.srcExtent {
		return fmt.Errorf("%w: src %d < %d", ErrShortBuffer, len(src), m.srcExtent)
	}

	switch m.Params.PixelSize {
	case 2:
		for i, d := range m.Dest {
			s := table[i]
			dst[d] = src[s]
			dst[d+1] = src[s+1]
		}
	case 3:
		for i, d := range m.Dest {
			s := table[i]
			dst[d] = src[s]
			dst[d+1] = src[s+1]
			dst[d+2] = src[s+2]
		}
	default:
		px := int32(m.Params.PixelSize)
		for i, d := range m.Dest {
			s := table[i]
			copy(dst[d:d+px], src[s:s+px])
		}
	}
	return nil
}

// Equal reports whether two maps were built from the same parameters.
func (m *Map) Equal(o *Map) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.Params == o.Params
}
