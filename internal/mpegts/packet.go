package mpegts

import (
	"errors"
	"fmt"
)

const syncByte = 0x47

var errSync = errors.New("mpegts: lost sync")

func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, want %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return nil, errSync
	}

	p := &Packet{
		TEI:        buf[1]&0x80 != 0,
		PUSI:       buf[1]&0x40 != 0,
		PID:        uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		HasPayload: buf[3]&0x10 != 0,
		CC:         buf[3] & 0x0F,
	}

	off := 4
	if buf[3]&0x20 != 0 {
		afLen := int(buf[4])
		if afLen > 0 {
			p.Discontinuity = buf[5]&0x80 != 0
			p.RandomAccess = buf[5]&0x40 != 0
		}
		off += 1 + afLen
	}
	if p.HasPayload && off < PacketSize {
		p.Payload = append([]byte(nil), buf[off:]...)
	}
	return p, nil
}
