package mpegts

import (
	"errors"
	"fmt"
)

var errPESStartCode = errors.New("mpegts: missing PES start code")

func hasPESStartCode(b []byte) bool {
	return len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1
}

// noOptionalHeader lists stream IDs whose PES packets go straight from the
// length field to data (H.222.0 Table 2-21).
func noOptionalHeader(id uint8) bool {
	switch id {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return true
	}
	return false
}

func parsePES(b []byte) (*PES, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("mpegts: PES too short (%d bytes)", len(b))
	}
	if !hasPESStartCode(b) {
		return nil, errPESStartCode
	}

	pes := &PES{StreamID: b[3]}
	// A zero length is allowed for video and means "until the next PUSI".
	end := len(b)
	if n := int(b[4])<<8 | int(b[5]); n > 0 && 6+n < end {
		end = 6 + n
	}

	if noOptionalHeader(pes.StreamID) {
		pes.Data = b[6:end]
		return pes, nil
	}
	if len(b) < 9 {
		return nil, fmt.Errorf("mpegts: PES header too short (%d bytes)", len(b))
	}

	flags := b[7] >> 6
	start := 9 + int(b[8])
	if start > end {
		return nil, fmt.Errorf("mpegts: PES header length %d overruns packet", b[8])
	}
	if flags&0x2 != 0 && len(b) >= 14 {
		pes.PTS, pes.HasPTS = readTimestamp(b[9:14]), true
	}
	if flags == 0x3 && len(b) >= 19 {
		pes.DTS, pes.HasDTS = readTimestamp(b[14:19]), true
	}
	pes.Data = b[start:end]
	return pes, nil
}

// readTimestamp decodes a 33-bit PTS or DTS spread over 5 bytes with marker
// bits.
func readTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}

// putTimestamp is the inverse of readTimestamp. prefix is 0x2 for a lone PTS,
// 0x3 for a PTS followed by a DTS and 0x1 for that DTS.
func putTimestamp(b []byte, prefix byte, ts int64) {
	ts &= 1<<33 - 1
	b[0] = prefix<<4 | byte(ts>>29)&0x0E | 1
	b[1] = byte(ts >> 22)
	b[2] = byte(ts>>14) | 1
	b[3] = byte(ts >> 7)
	b[4] = byte(ts<<1) | 1
}
