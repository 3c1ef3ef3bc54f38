//go:build ffmpeg

package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/duoview/internal/bitstream"
	"github.com/zsiec/duoview/internal/decoder"
	"github.com/zsiec/duoview/internal/media"
)

// Backend decodes H.264 and HEVC into I420 pictures.
type Backend struct {
	threads int

	codec media.Codec
	cc    *astiav.CodecContext
	pkt   *astiav.Packet
	frame *astiav.Frame
}

// New returns a backend using the given decoder thread count. Zero selects
// a single thread, which keeps libavcodec from adding frame-threading delay.
func New(threads int) *Backend {
	if threads <= 0 {
		threads = 1
	}
	return &Backend{threads: threads}
}

func (b *Backend) Name() string { return "ffmpeg" }

// Capabilities advertises reference frame invalidation for both codecs;
// libavcodec conceals missing references instead of failing.
func (b *Backend) Capabilities() decoder.Capabilities {
	return decoder.CapRefFrameInvalidationAVC | decoder.CapRefFrameInvalidationHEVC
}

// RequiresInitialIDR implements decoder.KeyframeRequirer.
func (b *Backend) RequiresInitialIDR() bool { return true }

// Open implements decoder.Backend.
func (b *Backend) Open(cfg decoder.Config) (media.PixelFormat, error) {
	id := astiav.CodecIDH264
	if cfg.Codec == media.CodecHEVC {
		id = astiav.CodecIDHevc
	}
	codec := astiav.FindDecoder(id)
	if codec == nil {
		return 0, fmt.Errorf("ffmpeg: no decoder for %s", cfg.Codec)
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return 0, errors.New("ffmpeg: AllocCodecContext returned nil")
	}
	cc.SetThreadCount(b.threads)
	cc.SetWidth(cfg.Width)
	cc.SetHeight(cfg.Height)
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return 0, fmt.Errorf("ffmpeg: open %s: %w", codec.Name(), err)
	}

	b.codec = cfg.Codec
	b.cc = cc
	b.pkt = astiav.AllocPacket()
	b.frame = astiav.AllocFrame()
	return media.PixelI420, nil
}

// Decode implements decoder.Backend.
func (b *Backend) Decode(bs []byte, out *media.Picture) (decoder.Outcome, error) {
	if b.cc == nil {
		return 0, errors.New("ffmpeg: not open")
	}
	if err := b.pkt.FromData(bs); err != nil {
		return 0, fmt.Errorf("ffmpeg: packet: %w", err)
	}
	defer b.pkt.Unref()

	if err := b.cc.SendPacket(b.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return 0, fmt.Errorf("ffmpeg: send packet: %w", err)
	}

	got := false
	for {
		err := b.cc.ReceiveFrame(b.frame)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("ffmpeg: receive frame: %w", err)
		}
		// With one thread and no reordering delay a packet yields at most
		// one picture; a second would overwrite the first in out.
		err = b.copyOut(out)
		b.frame.Unref()
		if err != nil {
			return 0, err
		}
		got = true
	}
	if got {
		return decoder.OutcomePicture, nil
	}

	for _, nal := range bitstream.Split(b.codec, bs) {
		if bitstream.IsVCL(b.codec, nal.Type) {
			return decoder.OutcomeIncomplete, nil
		}
	}
	return decoder.OutcomeParamSet, nil
}

func (b *Backend) copyOut(out *media.Picture) error {
	switch pf := b.frame.PixelFormat(); pf {
	case astiav.PixelFormatYuv420P, astiav.PixelFormatYuvj420P:
	default:
		return fmt.Errorf("ffmpeg: unsupported decoder output %s", pf)
	}
	if b.frame.Width() != out.Width || b.frame.Height() != out.Height {
		return fmt.Errorf("ffmpeg: picture %dx%d does not match stream %dx%d",
			b.frame.Width(), b.frame.Height(), out.Width, out.Height)
	}
	n, err := b.frame.ImageBufferSize(1)
	if err != nil {
		return fmt.Errorf("ffmpeg: image size: %w", err)
	}
	if n > len(out.Pix) {
		return fmt.Errorf("ffmpeg: image needs %d bytes, picture has %d", n, len(out.Pix))
	}
	if _, err := b.frame.ImageCopyToBuffer(out.Pix[:n], 1); err != nil {
		return fmt.Errorf("ffmpeg: copy image: %w", err)
	}
	return nil
}

// Close implements decoder.Backend.
func (b *Backend) Close() error {
	if b.frame != nil {
		b.frame.Free()
		b.frame = nil
	}
	if b.pkt != nil {
		b.pkt.Free()
		b.pkt = nil
	}
	if b.cc != nil {
		b.cc.Free()
		b.cc = nil
	}
	return nil
}
