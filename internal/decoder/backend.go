package decoder

import (
	"context"

	"github.com/zsiec/duoview/internal/media"
)

// Capabilities are advertised to the session layer and constrain what the
// host may send.
type Capabilities uint32

// Capability flags. The slice-count hint occupies the top byte.
const (
	CapDirectSubmit             Capabilities = 0x1
	CapRefFrameInvalidationAVC  Capabilities = 0x2
	CapRefFrameInvalidationHEVC Capabilities = 0x4
)

// SlicesPerFrame encodes a slice-count hint.
func SlicesPerFrame(n int) Capabilities {
	return Capabilities(uint32(n&0xFF) << 24)
}

// Slices returns the slice-count hint.
func (c Capabilities) Slices() int { return int(uint32(c) >> 24) }

// Has reports whether every flag in f is set.
func (c Capabilities) Has(f Capabilities) bool { return c&f == f }

// Config is passed to Backend.Open.
type Config struct {
	Codec      media.Codec
	Width      int
	Height     int
	RedrawRate int
	// DisplayFlags are opaque renderer hints forwarded from the session.
	DisplayFlags uint32
	// WorkBufferSize is the decoder work area a hardware backend should
	// reserve. Software backends may ignore it.
	WorkBufferSize int
	// DirectSubmit is set when the backend advertised CapDirectSubmit and the
	// adapter chose to use it.
	DirectSubmit bool
}

// Outcome is what a backend reports for one Decode call.
type Outcome int

// Backend outcomes. Only Picture and Pending produce output; ParamSet and
// Incomplete leave the destination slot untouched so the next decodable
// access unit reuses it.
const (
	OutcomePicture Outcome = iota
	OutcomePending
	OutcomeParamSet
	OutcomeIncomplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomePicture:
		return "picture"
	case OutcomePending:
		return "pending"
	case OutcomeParamSet:
		return "paramset"
	case OutcomeIncomplete:
		return "incomplete"
	}
	return "unknown"
}

// Backend is a stateful video decoder. Decode is always called with access
// units in delivery order.
type Backend interface {
	Name() string
	Capabilities() Capabilities
	// Open allocates decoder state and reports the output pixel format.
	Open(cfg Config) (media.PixelFormat, error)
	// Decode consumes one contiguous access unit. bitstream has at least
	// InputPadding zeroed bytes of spare capacity past its length.
	Decode(bitstream []byte, out *media.Picture) (Outcome, error)
	Close() error
}

// Fence is implemented by backends that can signal completion of a pending
// picture. The adapter prefers it over sentinel polling.
type Fence interface {
	Wait(ctx context.Context, out *media.Picture) error
}

// BusyReporter is implemented by backends that expose a busy status for
// their most recent submission.
type BusyReporter interface {
	Busy() bool
}

// CacheFlusher is implemented by backends that read the bitstream through a
// separate cache or DMA boundary.
type CacheFlusher interface {
	FlushCache(buf []byte) error
}

// KeyframeRequirer is implemented by backends that need the host to resend
// an IDR before the first picture is trusted.
type KeyframeRequirer interface {
	RequiresInitialIDR() bool
}
