// Package display provides the framebuffer surfaces renderers draw on: an
// in-memory surface used headless and in tests, and a desktop window that
// emulates the handheld's two panels.
package display

import (
	"sync"

	"github.com/zsiec/duoview/internal/render"
)

// Memory is a render.Display backed by plain byte slices. Each panel keeps
// a back buffer per eye and the contents of the last swap.
type Memory struct {
	mu       sync.Mutex
	pxTop    int
	pxBottom int
	wide     bool
	stereo   bool
	slider   float64
	back     [2][2][]byte
	front    [2][2][]byte
	swaps    [2]int
	events   []string
}

// NewMemory returns a memory display with the given bytes per pixel for the
// top and bottom panels.
func NewMemory(pxTop, pxBottom int) *Memory {
	m := &Memory{pxTop: pxTop, pxBottom: pxBottom}
	for side := range 2 {
		m.back[render.ScreenTop][side] = make([]byte, render.TopWideWidth*render.ScreenHeight*pxTop)
		m.front[render.ScreenTop][side] = make([]byte, render.TopWideWidth*render.ScreenHeight*pxTop)
	}
	m.back[render.ScreenBottom][render.SideLeft] = make([]byte, render.BottomWidth*render.ScreenHeight*pxBottom)
	m.front[render.ScreenBottom][render.SideLeft] = make([]byte, render.BottomWidth*render.ScreenHeight*pxBottom)
	return m
}

func (m *Memory) width(s render.Screen) int {
	if s == render.ScreenBottom {
		return render.BottomWidth
	}
	if m.wide {
		return render.TopWideWidth
	}
	return render.TopWidth
}

// Framebuffer implements render.Display. The bottom panel has no right eye
// and returns its only buffer for either side.
func (m *Memory) Framebuffer(s render.Screen, side render.Side) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == render.ScreenBottom {
		side = render.SideLeft
	}
	return m.back[s][side][:m.width(s)*render.ScreenHeight*m.pixelSize(s)]
}

// pixelSize needs no lock; sizes are fixed at construction.
func (m *Memory) pixelSize(s render.Screen) int {
	if s == render.ScreenBottom {
		return m.pxBottom
	}
	return m.pxTop
}

// PixelSize implements render.Display.
func (m *Memory) PixelSize(s render.Screen) int { return m.pixelSize(s) }

// SetWide implements render.Display.
func (m *Memory) SetWide(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wide = on
	m.events = append(m.events, onOff("wide", on))
}

// Wide implements render.Display.
func (m *Memory) Wide() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wide
}

// SetStereo implements render.Display.
func (m *Memory) SetStereo(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stereo = on
	m.events = append(m.events, onOff("stereo", on))
}

// Stereo implements render.Display.
func (m *Memory) Stereo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stereo
}

// Swap implements render.Display by copying the back buffers to the front.
func (m *Memory) Swap(s render.Screen, stereo bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.front[s][render.SideLeft], m.back[s][render.SideLeft])
	if stereo && s == render.ScreenTop {
		copy(m.front[s][render.SideRight], m.back[s][render.SideRight])
	}
	m.swaps[s]++
}

// Slider implements render.Display.
func (m *Memory) Slider() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slider
}

// SetSlider moves the stereo depth control.
func (m *Memory) SetSlider(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slider = v
}

// Front returns a copy of the visible contents of a panel eye at the
// current width.
func (m *Memory) Front(s render.Screen, side render.Side) []byte {
	var out []byte
	m.ReadFront(s, side, func(px []byte) {
		out = append([]byte(nil), px...)
	})
	return out
}

// ReadFront calls fn with the visible contents of a panel eye while holding
// the swap lock. fn must not retain px or call back into m.
func (m *Memory) ReadFront(s render.Screen, side render.Side, fn func(px []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == render.ScreenBottom {
		side = render.SideLeft
	}
	fn(m.front[s][side][:m.width(s)*render.ScreenHeight*m.pixelSize(s)])
}

// Swaps returns how many times s has been swapped.
func (m *Memory) Swaps(s render.Screen) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swaps[s]
}

// Events returns the mode changes applied so far, oldest first, as
// "wide=on", "stereo=off" and so on.
func (m *Memory) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func onOff(name string, on bool) string {
	if on {
		return name + "=on"
	}
	return name + "=off"
}
