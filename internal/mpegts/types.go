// Package mpegts reads and writes MPEG transport streams. The Reader finds
// programs through the PAT and PMT and reassembles PES packets per PID; the
// Writer muxes elementary streams into a single-program stream.
package mpegts

import "time"

// PacketSize is the only transport packet size supported.
const PacketSize = 188

// Stream types carried in the PMT.
const (
	StreamTypeH264    uint8 = 0x1B
	StreamTypeH265    uint8 = 0x24
	StreamTypePrivate uint8 = 0x06
)

// PES stream IDs used by the Writer.
const (
	StreamIDVideo   uint8 = 0xE0
	StreamIDPrivate uint8 = 0xBD
)

// ClockRate is the PTS/DTS tick rate.
const ClockRate = 90000

// Packet is one parsed transport packet. Payload is a private copy.
type Packet struct {
	PID           uint16
	CC            uint8
	PUSI          bool
	TEI           bool
	Discontinuity bool
	RandomAccess  bool
	HasPayload    bool
	Payload       []byte
}

// Unit is one reassembled payload unit. Exactly one of PAT, PMT and PES is
// set.
type Unit struct {
	PID uint16
	PAT []Program
	PMT *PMT
	PES *PES
	// RandomAccess is copied from the first packet of a PES unit.
	RandomAccess bool
}

// Program is one PAT entry.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PMT describes one program's elementary streams.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// Stream returns the first elementary stream of type typ.
func (p *PMT) Stream(typ ...uint8) (ElementaryStream, bool) {
	for _, es := range p.Streams {
		for _, t := range typ {
			if es.StreamType == t {
				return es, true
			}
		}
	}
	return ElementaryStream{}, false
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
}

// PES is a reassembled packetized elementary stream packet. PTS and DTS are
// in ClockRate ticks and valid only when the matching Has flag is set.
type PES struct {
	StreamID uint8
	PTS      int64
	DTS      int64
	HasPTS   bool
	HasDTS   bool
	Data     []byte
}

// Ticks converts d to ClockRate ticks.
func Ticks(d time.Duration) int64 {
	return int64(d) * ClockRate / int64(time.Second)
}
