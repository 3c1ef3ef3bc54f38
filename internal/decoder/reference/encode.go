package reference

import (
	"encoding/binary"

	"github.com/zsiec/duoview/internal/media"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// ParamSets returns Annex-B parameter-set NAL units for codec.
func ParamSets(codec media.Codec) []byte {
	if codec == media.CodecHEVC {
		var b []byte
		for _, hdr := range [][]byte{{0x40, 0x01}, {0x42, 0x01}, {0x44, 0x01}} {
			b = append(b, startCode...)
			b = append(b, hdr...)
			b = append(b, 0x0C, 0x80)
		}
		return b
	}
	b := append([]byte{}, startCode...)
	b = append(b, 0x67, 0x42, 0xC0, 0x1E, 0x80)
	b = append(b, startCode...)
	return append(b, 0x68, 0xCE, 0x38, 0x80)
}

// Slice returns one Annex-B slice NAL encoding a solid picture of the given
// luma and marker. more marks a slice that is not the last of its picture.
func Slice(codec media.Codec, key bool, marker uint32, luma byte, more bool) []byte {
	var hdr []byte
	switch {
	case codec == media.CodecHEVC && key:
		hdr = []byte{0x26, 0x01} // IDR_W_RADL
	case codec == media.CodecHEVC:
		hdr = []byte{0x02, 0x01} // TRAIL_R
	case key:
		hdr = []byte{0x65}
	default:
		hdr = []byte{0x41}
	}

	var raw [6]byte
	binary.BigEndian.PutUint32(raw[:4], marker)
	raw[4] = luma
	if more {
		raw[5] = flagMoreSlices
	}

	b := append([]byte{}, startCode...)
	b = append(b, hdr...)
	// Each byte is split into two nibbles tagged 0x40 so the payload can
	// never contain a start code or trailing zeros.
	for _, v := range raw {
		b = append(b, 0x40|v>>4, 0x40|v&0x0F)
	}
	return b
}

// AccessUnit builds a complete access unit. Keyframes are preceded by
// parameter sets.
func AccessUnit(codec media.Codec, frame int, key bool, marker uint32, luma byte) *media.AccessUnit {
	var entries [][]byte
	if key {
		entries = append(entries, ParamSets(codec))
	}
	entries = append(entries, Slice(codec, key, marker, luma, false))
	au := media.NewAccessUnit(frame, entries...)
	if key {
		au.FrameType = media.FrameIDR
	}
	return au
}

func decodePayload(p []byte) (marker uint32, luma, flags byte, err error) {
	if len(p) < payloadLen {
		return 0, 0, 0, ErrCorrupt
	}
	var raw [6]byte
	for i := range raw {
		hi, lo := p[2*i], p[2*i+1]
		if hi&0xF0 != 0x40 || lo&0xF0 != 0x40 {
			return 0, 0, 0, ErrCorrupt
		}
		raw[i] = (hi&0x0F)<<4 | lo&0x0F
	}
	return binary.BigEndian.Uint32(raw[:4]), raw[4], raw[5], nil
}
