package offsetmap

import (
	"errors"
	"testing"
)

func TestBuildDestIsBijection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Params
	}{
		{"top 400x240 from 400x240", Params{DestWidth: 400, DestHeight: 240, SrcWidth: 400, SrcHeight: 240, PixelSize: 2}},
		{"wide 800x240 from 800x480", Params{DestWidth: 800, DestHeight: 240, SrcWidth: 800, SrcHeight: 480, PixelSize: 3}},
		{"bottom 320x240 from 400x240", Params{DestWidth: 320, DestHeight: 240, SrcWidth: 400, SrcHeight: 240, PixelSize: 2}},
		{"stereo 400x240 from 800x240", Params{DestWidth: 400, DestHeight: 240, SrcWidth: 800, SrcHeight: 240, PixelSize: 2, Layout: Stereo}},
		{"split lower band", Params{DestWidth: 320, DestHeight: 240, SrcWidth: 400, SrcHeight: 480, PixelSize: 2, Layout: Split, SrcRowOffset: 240, SrcRows: 240}},
		{"odd sizes", Params{DestWidth: 7, DestHeight: 5, SrcWidth: 13, SrcHeight: 3, PixelSize: 4}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := Build(tt.p)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			n := tt.p.DestWidth * tt.p.DestHeight
			if m.Len() != n {
				t.Fatalf("Len: got %d, want %d", m.Len(), n)
			}

			seen := make([]bool, n)
			for i, d := range m.Dest {
				if int(d)%tt.p.PixelSize != 0 {
					t.Fatalf("dest[%d]=%d not aligned to pixel size %d", i, d, tt.p.PixelSize)
				}
				idx := int(d) / tt.p.PixelSize
				if idx < 0 || idx >= n {
					t.Fatalf("dest[%d]=%d out of range", i, idx)
				}
				if seen[idx] {
					t.Fatalf("dest index %d written twice", idx)
				}
				seen[idx] = true
			}
			for idx, ok := range seen {
				if !ok {
					t.Fatalf("dest index %d never written", idx)
				}
			}
		})
	}
}

func TestBuildRotation(t *testing.T) {
	t.Parallel()

	m, err := Build(Params{DestWidth: 4, DestHeight: 3, SrcWidth: 4, SrcHeight: 3, PixelSize: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// (x=0,y=0) is the top-left logical pixel and lands at the end of the
	// first native column.
	if m.Dest[0] != 2 {
		t.Errorf("dest[0]: got %d, want 2", m.Dest[0])
	}
	// (x=1,y=2) -> 3-2-1 + 3*1 = 3
	if got := m.Dest[2*4+1]; got != 3 {
		t.Errorf("dest[(1,2)]: got %d, want 3", got)
	}
	// 1:1 scale means src is raster order.
	for i, s := range m.Src {
		if int(s) != i {
			t.Fatalf("src[%d]: got %d, want %d", i, s, i)
		}
	}
}

func TestBuildDownscale(t *testing.T) {
	t.Parallel()

	m, err := Build(Params{DestWidth: 400, DestHeight: 240, SrcWidth: 800, SrcHeight: 480, PixelSize: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// (x=10,y=5) samples source (20,10).
	i := 5*400 + 10
	want := int32(2 * (20 + 10*800))
	if m.Src[i] != want {
		t.Errorf("src: got %d, want %d", m.Src[i], want)
	}
}

func TestStereoHalves(t *testing.T) {
	t.Parallel()

	p := Params{DestWidth: 400, DestHeight: 240, SrcWidth: 800, SrcHeight: 240, PixelSize: 2, Layout: Stereo}
	m, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(m.Right) != m.Len() {
		t.Fatalf("right table: got %d entries, want %d", len(m.Right), m.Len())
	}

	for i := range m.Src {
		lx := (int(m.Src[i]) / 2) % 800
		rx := (int(m.Right[i]) / 2) % 800
		if lx >= 400 {
			t.Fatalf("left view pixel %d samples column %d in right half", i, lx)
		}
		if rx < 400 {
			t.Fatalf("right view pixel %d samples column %d in left half", i, rx)
		}
		if rx-lx != 400 {
			t.Fatalf("right view pixel %d offset %d, want 400", i, rx-lx)
		}
	}
}

func TestStereoBand(t *testing.T) {
	t.Parallel()

	const srcW, srcH = 400, 480
	m, err := Build(Params{DestWidth: 400, DestHeight: 240, SrcWidth: srcW, SrcHeight: srcH,
		PixelSize: 2, Layout: Stereo, SrcRows: srcH / 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := range m.Src {
		if row := int(m.Src[i]) / 2 / srcW; row >= srcH/2 {
			t.Fatalf("left view pixel %d samples row %d, want < %d", i, row, srcH/2)
		}
		if row := int(m.Right[i]) / 2 / srcW; row >= srcH/2 {
			t.Fatalf("right view pixel %d samples row %d, want < %d", i, row, srcH/2)
		}
	}

	_, err = Build(Params{DestWidth: 400, DestHeight: 240, SrcWidth: srcW, SrcHeight: srcH,
		PixelSize: 2, Layout: Stereo, SrcRowOffset: 400, SrcRows: 240})
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("band past source: got %v, want ErrInvalidGeometry", err)
	}
}

func TestDualScreenSplitRows(t *testing.T) {
	t.Parallel()

	const srcW, srcH = 400, 480

	top, err := Build(Params{DestWidth: 400, DestHeight: 240, SrcWidth: srcW, SrcHeight: srcH,
		PixelSize: 2, Layout: Split, SrcRowOffset: 0, SrcRows: srcH / 2})
	if err != nil {
		t.Fatalf("Build top: %v", err)
	}
	bottom, err := Build(Params{DestWidth: 320, DestHeight: 240, SrcWidth: srcW, SrcHeight: srcH,
		PixelSize: 2, Layout: Split, SrcRowOffset: srcH / 2, SrcRows: srcH / 2})
	if err != nil {
		t.Fatalf("Build bottom: %v", err)
	}

	if bottom.Len() != 320*240 {
		t.Errorf("bottom Len: got %d, want %d", bottom.Len(), 320*240)
	}

	for i, s := range top.Src {
		row := int(s) / 2 / srcW
		if row < 0 || row >= 240 {
			t.Fatalf("top pixel %d maps to source row %d", i, row)
		}
	}
	for i, s := range bottom.Src {
		row := int(s) / 2 / srcW
		if row < 240 || row >= 480 {
			t.Fatalf("bottom pixel %d maps to source row %d", i, row)
		}
	}
}

func TestBuildInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Params
	}{
		{"zero dest", Params{DestWidth: 0, DestHeight: 240, SrcWidth: 400, SrcHeight: 240, PixelSize: 2}},
		{"negative src", Params{DestWidth: 400, DestHeight: 240, SrcWidth: -1, SrcHeight: 240, PixelSize: 2}},
		{"bad pixel size", Params{DestWidth: 400, DestHeight: 240, SrcWidth: 400, SrcHeight: 240, PixelSize: 0}},
		{"band overflow", Params{DestWidth: 400, DestHeight: 240, SrcWidth: 400, SrcHeight: 480, PixelSize: 2, Layout: Split, SrcRowOffset: 300, SrcRows: 240}},
		{"unknown layout", Params{DestWidth: 4, DestHeight: 4, SrcWidth: 4, SrcHeight: 4, PixelSize: 2, Layout: Layout(9)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Build(tt.p); !errors.Is(err, ErrInvalidGeometry) {
				t.Errorf("got %v, want ErrInvalidGeometry", err)
			}
		})
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	m, err := Build(Params{DestWidth: 2, DestHeight: 2, SrcWidth: 2, SrcHeight: 2, PixelSize: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	src := []byte{
		0x10, 0x11, 0x20, 0x21,
		0x30, 0x31, 0x40, 0x41,
	}
	dst := make([]byte, m.DestBytes())
	if err := m.Apply(dst, src); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Column-major rotated: native [ (0,1) (0,0) (1,1) (1,0) ].
	want := []byte{0x30, 0x31, 0x10, 0x11, 0x40, 0x41, 0x20, 0x21}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst[%d]: got %#x, want %#x", i, dst[i], want[i])
		}
	}

	if err := m.Apply(dst[:3], src); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("short dst: got %v, want ErrShortBuffer", err)
	}
	if err := m.Apply(dst, src[:4]); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("short src: got %v, want ErrShortBuffer", err)
	}
	if err := m.ApplyRight(dst, src); err == nil {
		t.Error("ApplyRight on single map: expected error")
	}
}

func TestEqualParams(t *testing.T) {
	t.Parallel()

	p := Params{DestWidth: 40, DestHeight: 24, SrcWidth: 80, SrcHeight: 48, PixelSize: 2}
	a, _ := Build(p)
	b, _ := Build(p)
	if !a.Equal(b) {
		t.Error("maps from equal params should be equal")
	}
	p.Layout = Stereo
	c, _ := Build(p)
	if a.Equal(c) {
		t.Error("maps from different layouts should differ")
	}
}
