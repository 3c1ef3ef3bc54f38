package render

import (
	"fmt"
	"time"

	"github.com/zsiec/duoview/internal/media"
	"github.com/zsiec/duoview/internal/offsetmap"
)

// defaultRenderer draws on the top panel, in stereo while the slider is
// raised. The bottom panel is blanked once and left alone.
type defaultRenderer struct {
	*base
	mono   *offsetmap.Map
	stereo *offsetmap.Map
}

func newDefault(b *base) (*defaultRenderer, error) {
	mono, err := b.buildMap(offsetmap.Params{
		DestWidth: b.surfaceWidth, DestHeight: ScreenHeight, PixelSize: b.px,
	})
	if err != nil {
		return nil, err
	}
	stereo, err := b.buildMap(offsetmap.Params{
		DestWidth: StereoEyeWidth, DestHeight: ScreenHeight, PixelSize: b.px,
		Layout: offsetmap.Stereo,
	})
	if err != nil {
		return nil, err
	}
	b.clearScreen(ScreenBottom)
	return &defaultRenderer{base: b, mono: mono, stereo: stereo}, nil
}

func (r *defaultRenderer) Present(pic *media.Picture) {
	if err := r.check(pic, r.px); err != nil {
		r.skip(pic, err)
		return
	}
	start := time.Now()

	if r.d.Slider() > 0 {
		r.ensureStereo()
		if err := r.stereo.Apply(r.d.Framebuffer(ScreenTop, SideLeft), pic.Pix); err != nil {
			r.skip(pic, err)
			return
		}
		if err := r.stereo.ApplyRight(r.d.Framebuffer(ScreenTop, SideRight), pic.Pix); err != nil {
			r.skip(pic, err)
			return
		}
		r.finish(ScreenTop, pic, start, true)
		return
	}

	r.ensureMono()
	fb := r.d.Framebuffer(ScreenTop, SideLeft)
	if gpu := r.cfg.GPU; gpu != nil {
		// Touching the GPU without rights hangs the system menu.
		if !gpu.HasRights() {
			r.skip(pic, fmt.Errorf("gpu rights lost"))
			return
		}
		if err := gpu.Transfer(fb, r.surfaceWidth, ScreenHeight, pic); err != nil {
			r.skip(pic, fmt.Errorf("gpu transfer: %w", err))
			return
		}
	} else if err := r.mono.Apply(fb, pic.Pix); err != nil {
		r.skip(pic, err)
		return
	}
	r.finish(ScreenTop, pic, start, false)
}

// bottomRenderer draws only on the bottom panel.
type bottomRenderer struct {
	*base
	m *offsetmap.Map
}

func newBottom(b *base) (*bottomRenderer, error) {
	m, err := b.buildMap(offsetmap.Params{
		DestWidth: BottomWidth, DestHeight: ScreenHeight, PixelSize: b.pxBottom,
	})
	if err != nil {
		return nil, err
	}
	return &bottomRenderer{base: b, m: m}, nil
}

func (r *bottomRenderer) Present(pic *media.Picture) {
	if err := r.check(pic, r.pxBottom); err != nil {
		r.skip(pic, err)
		return
	}
	start := time.Now()
	if err := r.m.Apply(r.d.Framebuffer(ScreenBottom, SideLeft), pic.Pix); err != nil {
		r.skip(pic, err)
		return
	}
	r.finish(ScreenBottom, pic, start, false)
}

// dualRenderer drives both panels. Stretch shows the top half of the source
// above and a lower band below; mirror shows the whole source on both. On an
// 800-column surface the stretch top panel follows the slider into stereo.
type dualRenderer struct {
	*base
	top    *offsetmap.Map
	stereo *offsetmap.Map
	bottom *offsetmap.Map
}

func newDual(b *base) (*dualRenderer, error) {
	if b.px != b.pxBottom {
		return nil, fmt.Errorf("render: %s needs equal pixel sizes, top %d bottom %d: %w",
			b.layout, b.px, b.pxBottom, offsetmap.ErrInvalidGeometry)
	}

	r := &dualRenderer{base: b}
	topParams := offsetmap.Params{DestWidth: b.surfaceWidth, DestHeight: ScreenHeight, PixelSize: b.px}
	bottomParams := offsetmap.Params{DestWidth: BottomWidth, DestHeight: ScreenHeight, PixelSize: b.px}
	if b.layout == LayoutDualScreenStretch {
		half := b.cfg.SrcHeight / 2
		offset := b.cfg.SplitOffset
		if offset == 0 {
			offset = half
		}
		topParams.Layout = offsetmap.Split
		topParams.SrcRows = half
		bottomParams.Layout = offsetmap.Split
		bottomParams.SrcRowOffset = offset
		bottomParams.SrcRows = half

		if b.surfaceWidth == TopWideWidth {
			stereo, err := b.buildMap(offsetmap.Params{
				DestWidth: StereoEyeWidth, DestHeight: ScreenHeight, PixelSize: b.px,
				Layout: offsetmap.Stereo, SrcRows: half,
			})
			if err != nil {
				return nil, err
			}
			r.stereo = stereo
		}
	}

	var err error
	if r.top, err = b.buildMap(topParams); err != nil {
		return nil, err
	}
	if r.bottom, err = b.buildMap(bottomParams); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *dualRenderer) Present(pic *media.Picture) {
	if err := r.check(pic, r.px); err != nil {
		r.skip(pic, err)
		return
	}
	start := time.Now()

	stereo := r.stereo != nil && r.d.Slider() > 0
	if stereo {
		r.ensureStereo()
		if err := r.stereo.Apply(r.d.Framebuffer(ScreenTop, SideLeft), pic.Pix); err != nil {
			r.skip(pic, err)
			return
		}
		if err := r.stereo.ApplyRight(r.d.Framebuffer(ScreenTop, SideRight), pic.Pix); err != nil {
			r.skip(pic, err)
			return
		}
	} else {
		r.ensureMono()
		if err := r.top.Apply(r.d.Framebuffer(ScreenTop, SideLeft), pic.Pix); err != nil {
			r.skip(pic, err)
			return
		}
	}
	if err := r.bottom.Apply(r.d.Framebuffer(ScreenBottom, SideLeft), pic.Pix); err != nil {
		r.skip(pic, err)
		return
	}
	r.d.Swap(ScreenBottom, false)
	r.finish(ScreenTop, pic, start, stereo)
}
