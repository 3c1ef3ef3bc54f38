// Package media defines the core types that flow through the duoview frame
// pipeline, from network access units through decoded and converted pictures.
package media

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedCodec is returned for codecs a component cannot carry.
var ErrUnsupportedCodec = errors.New("media: unsupported codec")

// Codec identifies the compressed video format of a stream.
type Codec int

// Supported video codecs.
const (
	CodecH264 Codec = iota
	CodecHEVC
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "h265"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

// ParseCodec maps a textual codec name to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "h264", "avc", "H.264":
		return CodecH264, nil
	case "h265", "hevc", "H.265":
		return CodecHEVC, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCodec, s)
}

// Colorspace is the colour standard a stream declares for its YUV samples.
type Colorspace int

// Values match the streaming protocol's colorspace enumeration.
const (
	ColorspaceRec601 Colorspace = iota
	ColorspaceRec709
	ColorspaceRec2020
)

func (c Colorspace) String() string {
	switch c {
	case ColorspaceRec601:
		return "bt601"
	case ColorspaceRec709:
		return "bt709"
	case ColorspaceRec2020:
		return "bt2020"
	default:
		return fmt.Sprintf("colorspace(%d)", int(c))
	}
}

// ColorRange distinguishes studio-swing from full-swing sample values.
type ColorRange int

// Supported colour ranges.
const (
	RangeLimited ColorRange = iota
	RangeFull
)

// FrameType marks whether an access unit starts a new reference chain.
type FrameType int

// Frame types.
const (
	FramePredicted FrameType = iota
	FrameIDR
)

// AccessUnit is one compressed picture's worth of bitstream, delivered as a
// list of non-contiguous entries that must be concatenated in order before
// decode. Access units are submitted in delivery order and never reordered.
type AccessUnit struct {
	Entries     [][]byte
	FullLength  int
	FrameNumber int
	FrameType   FrameType
	HDR         bool
	Colorspace  Colorspace
	Range       ColorRange
	ReceivedAt  time.Time
}

// NewAccessUnit builds an AccessUnit from entries, computing FullLength.
func NewAccessUnit(frameNumber int, entries ...[]byte) *AccessUnit {
	au := &AccessUnit{
		Entries:     entries,
		FrameNumber: frameNumber,
		Colorspace:  ColorspaceRec709,
		ReceivedAt:  time.Now(),
	}
	for _, e := range entries {
		au.FullLength += len(e)
	}
	return au
}

// Len returns the summed length of all entries. It may differ from
// FullLength when a caller built the unit by hand.
func (au *AccessUnit) Len() int {
	n := 0
	for _, e := range au.Entries {
		n += len(e)
	}
	return n
}

// Status is the non-error outcome of submitting an access unit.
type Status int

// Submission statuses. NeedIDR asks the session layer to request a key frame
// from the host; it is a handshake signal, not an error.
const (
	StatusOK Status = iota
	StatusNeedIDR
)

func (s Status) String() string {
	if s == StatusNeedIDR {
		return "need_idr"
	}
	return "ok"
}
