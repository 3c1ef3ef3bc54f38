//go:build !headless

package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// OtoSink plays through the system audio device. oto allows one context
// per process, so the context is created on first Start and kept.
type OtoSink struct {
	mu     sync.Mutex
	ctx    *oto.Context
	rate   int
	player *oto.Player
}

// NewSink returns the platform audio sink.
func NewSink() Sink { return &OtoSink{} }

// Start implements Sink.
func (s *OtoSink) Start(cfg OpusConfig, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		return fmt.Errorf("audio: sink already started")
	}
	if s.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.ChannelCount,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   0,
		})
		if err != nil {
			return err
		}
		<-ready
		s.ctx, s.rate = ctx, cfg.SampleRate
	} else if s.rate != cfg.SampleRate {
		return fmt.Errorf("audio: device opened at %d Hz, stream wants %d", s.rate, cfg.SampleRate)
	}
	s.player = s.ctx.NewPlayer(r)
	s.player.Play()
	return nil
}

// Close implements Sink.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	err := s.player.Close()
	s.player = nil
	return err
}
