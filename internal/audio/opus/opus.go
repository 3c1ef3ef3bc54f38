//go:build opus

package opus

import (
	"fmt"

	libopus "gopkg.in/hraban/opus.v2"

	"github.com/zsiec/duoview/internal/audio"
)

// New implements audio.DecoderFactory. Only single-stream layouts of one
// or two channels are supported.
func New(cfg audio.OpusConfig) (audio.Decoder, error) {
	if cfg.Streams > 1 || cfg.ChannelCount > 2 {
		return nil, fmt.Errorf("%w: %d channels in %d streams",
			audio.ErrUnsupportedLayout, cfg.ChannelCount, cfg.Streams)
	}
	dec, err := libopus.NewDecoder(cfg.SampleRate, cfg.ChannelCount)
	if err != nil {
		return nil, fmt.Errorf("opus: %w", err)
	}
	return dec, nil
}
