package colorconv

import (
	"context"
	"time"

	"github.com/zsiec/duoview/internal/media"
)

// Software converts on the calling goroutine.
type Software struct {
	k *kernel
}

// NewSoftware returns an unconfigured software converter.
func NewSoftware() *Software {
	return &Software{}
}

// Configure sets the conversion parameters.
func (s *Software) Configure(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	s.k = newKernel(p)
	return nil
}

// Convert converts src into dst synchronously.
func (s *Software) Convert(_ context.Context, src, dst *media.Picture) error {
	if s.k == nil {
		return ErrNotConfigured
	}
	if err := checkPictures(s.k.params, src, dst); err != nil {
		return err
	}
	start := time.Now()
	s.k.rows(src, dst.Pix, 0, s.k.params.Height)
	stampOutput(s.k.params, src, dst)
	dst.ConvertTime = time.Since(start)
	return nil
}

// Close is a no-op.
func (s *Software) Close() error { return nil }
