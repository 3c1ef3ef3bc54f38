package colorconv

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/zsiec/duoview/internal/media"
)

func solidI420(w, h int, y, u, v byte) *media.Picture {
	p := media.NewPicture(w, h, media.PixelI420)
	yp, up, vp := p.Planes()
	for i := range yp {
		yp[i] = y
	}
	for i := range up {
		up[i] = u
		vp[i] = v
	}
	return p
}

func TestCoefficientsReferencePoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cs      media.Colorspace
		rng     media.ColorRange
		y, u, v byte
		r, g, b byte
	}{
		{"709 limited black", media.ColorspaceRec709, media.RangeLimited, 16, 128, 128, 0, 0, 0},
		{"709 limited white", media.ColorspaceRec709, media.RangeLimited, 235, 128, 128, 255, 255, 255},
		{"601 full grey", media.ColorspaceRec601, media.RangeFull, 128, 128, 128, 128, 128, 128},
		{"2020 full black", media.ColorspaceRec2020, media.RangeFull, 0, 128, 128, 0, 0, 0},
		{"709 limited clamps below black", media.ColorspaceRec709, media.RangeLimited, 0, 128, 128, 0, 0, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := CoefficientsFor(tt.cs, tt.rng)
			r, g, b := c.pixel(tt.y, tt.u, tt.v)
			if r != tt.r || g != tt.g || b != tt.b {
				t.Errorf("got (%d,%d,%d), want (%d,%d,%d)", r, g, b, tt.r, tt.g, tt.b)
			}
		})
	}
}

func TestCoefficientsFollowStandard(t *testing.T) {
	t.Parallel()

	// Saturated red in BT.601 full range. Decoding it with BT.709 shifts
	// green noticeably, which is why the declared standard matters.
	c601 := CoefficientsFor(media.ColorspaceRec601, media.RangeFull)
	c709 := CoefficientsFor(media.ColorspaceRec709, media.RangeFull)

	r, g, b := c601.pixel(76, 85, 255)
	if r < 250 || g > 3 || b > 3 {
		t.Errorf("601 red: got (%d,%d,%d)", r, g, b)
	}
	_, g709, _ := c709.pixel(76, 85, 255)
	if g709 < 20 {
		t.Errorf("709 decode of 601 red: got green %d, expected visible shift", g709)
	}
}

func TestSoftwareRGB565Packing(t *testing.T) {
	t.Parallel()

	s := NewSoftware()
	if err := s.Configure(Params{Width: 4, Height: 2, Output: media.PixelRGB565,
		Colorspace: media.ColorspaceRec709, Range: media.RangeLimited}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	src := solidI420(4, 2, 235, 128, 128)
	dst := media.NewPicture(4, 2, media.PixelRGB565)
	if err := s.Convert(context.Background(), src, dst); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	for i := 0; i < len(dst.Pix); i += 2 {
		if dst.Pix[i] != 0xFF || dst.Pix[i+1] != 0xFF {
			t.Fatalf("pixel %d: got %02x%02x, want ffff", i/2, dst.Pix[i+1], dst.Pix[i])
		}
	}
	if dst.Format != media.PixelRGB565 {
		t.Errorf("Format: got %s, want rgb565", dst.Format)
	}
}

func TestSoftwareBGR888Order(t *testing.T) {
	t.Parallel()

	s := NewSoftware()
	if err := s.Configure(Params{Width: 2, Height: 2, Output: media.PixelBGR888,
		Colorspace: media.ColorspaceRec601, Range: media.RangeFull}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	src := solidI420(2, 2, 76, 85, 255)
	dst := media.NewPicture(2, 2, media.PixelBGR888)
	if err := s.Convert(context.Background(), src, dst); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if dst.Pix[0] > 3 || dst.Pix[2] < 250 {
		t.Errorf("BGR red: got b=%d r=%d", dst.Pix[0], dst.Pix[2])
	}
}

func TestSoftwareYUYV(t *testing.T) {
	t.Parallel()

	s := NewSoftware()
	if err := s.Configure(Params{Width: 2, Height: 2, Output: media.PixelRGBA8888,
		Colorspace: media.ColorspaceRec601, Range: media.RangeFull}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	src := &media.Picture{Width: 2, Height: 2, Format: media.PixelYUYV,
		Pix: []byte{0, 128, 255, 128, 0, 128, 255, 128}}
	dst := media.NewPicture(2, 2, media.PixelRGBA8888)
	if err := s.Convert(context.Background(), src, dst); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := []byte{0, 0, 0, 255, 255, 255, 255, 255}
	for i, w := range want {
		if dst.Pix[i] != w {
			t.Fatalf("byte %d: got %d, want %d", i, dst.Pix[i], w)
		}
	}
}

func TestBatchMatchesSoftware(t *testing.T) {
	t.Parallel()

	const w, h = 64, 48
	rng := rand.New(rand.NewSource(7))
	src := media.NewPicture(w, h, media.PixelI420)
	rng.Read(src.Pix)

	for _, out := range []media.PixelFormat{media.PixelRGB565, media.PixelBGR888, media.PixelRGBA8888} {
		p := Params{Width: w, Height: h, Output: out, Colorspace: media.ColorspaceRec709}

		sw := NewSoftware()
		if err := sw.Configure(p); err != nil {
			t.Fatal(err)
		}
		b := NewBatch(WithWorkers(5), WithTimeout(5*time.Second))
		if err := b.Configure(p); err != nil {
			t.Fatal(err)
		}

		want := media.NewPicture(w, h, out)
		got := media.NewPicture(w, h, out)
		if err := sw.Convert(context.Background(), src, want); err != nil {
			t.Fatal(err)
		}
		if err := b.Convert(context.Background(), src, got); err != nil {
			t.Fatal(err)
		}
		for i := range want.Pix {
			if want.Pix[i] != got.Pix[i] {
				t.Fatalf("%s: byte %d differs: software %d, batch %d", out, i, want.Pix[i], got.Pix[i])
			}
		}
		b.Close()
	}
}

func untouched(t *testing.T, pic *media.Picture) {
	t.Helper()
	for i, v := range pic.Pix {
		if v != 0 {
			t.Fatalf("byte %d written after Convert returned: got %d, want 0", i, v)
		}
	}
}

func TestBatchTimeout(t *testing.T) {
	t.Parallel()

	b := NewBatch(WithTimeout(5 * time.Millisecond))
	b.beforeRun = func() { time.Sleep(40 * time.Millisecond) }
	if err := b.Configure(Params{Width: 16, Height: 16, Output: media.PixelRGB565}); err != nil {
		t.Fatal(err)
	}

	dst := media.NewPicture(16, 16, media.PixelRGB565)
	err := b.Convert(context.Background(), solidI420(16, 16, 235, 128, 128), dst)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	untouched(t, dst)
	time.Sleep(80 * time.Millisecond)
	untouched(t, dst)
	b.Close()
}

func TestBatchCancelLeavesFrameUntouched(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	b := NewBatch(WithTimeout(5 * time.Second))
	b.beforeRun = func() {
		close(started)
		time.Sleep(40 * time.Millisecond)
	}
	if err := b.Configure(Params{Width: 16, Height: 16, Output: media.PixelBGR888}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	dst := media.NewPicture(16, 16, media.PixelBGR888)
	err := b.Convert(ctx, solidI420(16, 16, 235, 128, 128), dst)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	untouched(t, dst)
	time.Sleep(80 * time.Millisecond)
	untouched(t, dst)
	b.Close()
}

func TestBatchConfigureWaitIsBounded(t *testing.T) {
	t.Parallel()

	p := Params{Width: 8, Height: 8, Output: media.PixelRGB565}
	b := NewBatch(WithTimeout(5 * time.Millisecond))
	b.beforeRun = func() { time.Sleep(100 * time.Millisecond) }
	if err := b.Configure(p); err != nil {
		t.Fatal(err)
	}

	job, err := b.Start(solidI420(8, 8, 16, 128, 128), media.NewPicture(8, 8, media.PixelRGB565))
	if err != nil {
		t.Fatal(err)
	}
	p.Colorspace = media.ColorspaceRec709
	if err := b.Configure(p); !errors.Is(err, ErrTimeout) {
		t.Fatalf("configure during stuck batch: got %v, want ErrTimeout", err)
	}

	<-job.Done()
	if err := b.Configure(p); err != nil {
		t.Fatalf("configure after batch: got %v, want nil", err)
	}
}

func TestConvertErrors(t *testing.T) {
	t.Parallel()

	s := NewSoftware()
	src := solidI420(4, 4, 16, 128, 128)
	dst := media.NewPicture(4, 4, media.PixelRGB565)

	if err := s.Convert(context.Background(), src, dst); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unconfigured: got %v, want ErrNotConfigured", err)
	}
	if err := s.Configure(Params{Width: 4, Height: 4, Output: media.PixelI420}); !errors.Is(err, ErrFormat) {
		t.Errorf("planar output: got %v, want ErrFormat", err)
	}
	if err := s.Configure(Params{Width: 3, Height: 4, Output: media.PixelRGB565}); err == nil {
		t.Error("odd width: expected error")
	}
	if err := s.Configure(Params{Width: 4, Height: 4, Output: media.PixelRGB565}); err != nil {
		t.Fatal(err)
	}
	if err := s.Convert(context.Background(), solidI420(8, 8, 0, 0, 0), dst); err == nil {
		t.Error("size mismatch: expected error")
	}
	if err := s.Convert(context.Background(), src, &media.Picture{Pix: make([]byte, 3)}); err == nil {
		t.Error("short destination: expected error")
	}
}
