package mpegts

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Default PIDs used by the Writer.
const (
	DefaultPMTPID   uint16 = 0x1000
	DefaultVideoPID uint16 = 0x0100
	DefaultAudioPID uint16 = 0x0101
	programNumber   uint16 = 1
)

const clockLead = 100 * time.Millisecond

// Writer muxes elementary streams into a single-program transport stream.
// The PAT and PMT are repeated before every random access point so a reader
// can join mid-stream. The first stream carries the PCR.
type Writer struct {
	w       io.Writer
	streams []ElementaryStream
	cc      map[uint16]uint8
	pkt     [PacketSize]byte
	tables  bool
}

// NewWriter returns a Writer for streams. With no streams it carries one
// H.264 stream on DefaultVideoPID.
func NewWriter(w io.Writer, streams ...ElementaryStream) *Writer {
	if len(streams) == 0 {
		streams = []ElementaryStream{{PID: DefaultVideoPID, StreamType: StreamTypeH264}}
	}
	return &Writer{w: w, streams: streams, cc: make(map[uint16]uint8)}
}

// WriteTables writes the PAT and PMT.
func (w *Writer) WriteTables() error {
	pat := []byte{
		tableIDPAT, 0, 0,
		0x00, 0x01, // transport_stream_id
		0xC1, 0x00, 0x00,
		byte(programNumber >> 8), byte(programNumber),
		0xE0 | byte(DefaultPMTPID>>8), byte(DefaultPMTPID & 0xFF),
	}
	if err := w.writeSection(pidPAT, pat); err != nil {
		return err
	}

	pcr := w.streams[0].PID
	pmt := []byte{
		tableIDPMT, 0, 0,
		byte(programNumber >> 8), byte(programNumber),
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcr>>8), byte(pcr),
		0xF0, 0x00, // program_info_length
	}
	for _, es := range w.streams {
		pmt = append(pmt, es.StreamType, 0xE0|byte(es.PID>>8), byte(es.PID), 0xF0, 0x00)
	}
	if err := w.writeSection(DefaultPMTPID, pmt); err != nil {
		return err
	}
	w.tables = true
	return nil
}

// writeSection fills in section_length, appends the CRC and sends the
// section in one packet padded with 0xFF.
func (w *Writer) writeSection(pid uint16, s []byte) error {
	n := len(s) - 3 + 4
	s[1] = 0xB0 | byte(n>>8)&0x0F
	s[2] = byte(n)
	s = binary.BigEndian.AppendUint32(s, crc32(s))
	if 1+len(s) > PacketSize-4 {
		return fmt.Errorf("mpegts: section of %d bytes does not fit a packet", len(s))
	}

	payload := make([]byte, PacketSize-4)
	payload[0] = 0 // pointer_field
	copy(payload[1:], s)
	for i := 1 + len(s); i < len(payload); i++ {
		payload[i] = 0xFF
	}
	_, err := w.writePacket(pid, true, nil, payload)
	return err
}

// WritePES sends data as one PES packet on pid. random marks a random
// access point: the tables are repeated and the first packet is flagged.
func (w *Writer) WritePES(pid uint16, streamID uint8, pts int64, random bool, data []byte) error {
	if random || !w.tables {
		if err := w.WriteTables(); err != nil {
			return err
		}
	}

	hdr := make([]byte, 14, 14+len(data))
	copy(hdr, []byte{0, 0, 1, streamID})
	if l := 8 + len(data); streamID != StreamIDVideo && l <= 0xFFFF {
		binary.BigEndian.PutUint16(hdr[4:], uint16(l))
	}
	hdr[6] = 0x80
	hdr[7] = 0x80 // PTS only
	hdr[8] = 5
	putTimestamp(hdr[9:], 0x2, pts)
	pes := append(hdr, data...)

	var af []byte
	if random || pid == w.streams[0].PID {
		af = w.adaptation(pid, random, pts)
	}
	first := true
	for len(pes) > 0 {
		n, err := w.writePacket(pid, first, af, pes)
		if err != nil {
			return err
		}
		pes = pes[n:]
		first, af = false, nil
	}
	return nil
}

// adaptation builds the adaptation field flags and fields, without the
// length byte, for the first packet of a PES.
func (w *Writer) adaptation(pid uint16, random bool, pts int64) []byte {
	var flags byte
	if random {
		flags |= 0x40
	}
	if pid != w.streams[0].PID {
		return []byte{flags}
	}
	// PCR runs a little behind PTS so the decoder has time to buffer.
	base := pts - Ticks(clockLead)
	if base < 0 {
		base = 0
	}
	b := make([]byte, 7)
	b[0] = flags | 0x10
	b[1] = byte(base >> 25)
	b[2] = byte(base >> 17)
	b[3] = byte(base >> 9)
	b[4] = byte(base >> 1)
	b[5] = byte(base<<7) | 0x7E
	b[6] = 0
	return b
}

// writePacket writes one packet carrying as much of payload as fits and
// returns how much that was. Short payloads are padded with adaptation
// field stuffing.
func (w *Writer) writePacket(pid uint16, pusi bool, af []byte, payload []byte) (int, error) {
	room := PacketSize - 4
	if af != nil {
		room -= 1 + len(af)
	}
	n := min(len(payload), room)
	stuff := room - n

	p := w.pkt[:0]
	p = append(p, syncByte, byte(pid>>8)&0x1F, byte(pid))
	if pusi {
		p[1] |= 0x40
	}
	cc := w.cc[pid]
	w.cc[pid] = (cc + 1) & 0x0F

	switch {
	case af == nil && stuff == 0:
		p = append(p, 0x10|cc)
	case af == nil && stuff == 1:
		p = append(p, 0x30|cc, 0)
	case af == nil:
		p = append(p, 0x30|cc, byte(stuff-1), 0x00)
		p = appendStuffing(p, stuff-2)
	default:
		p = append(p, 0x30|cc, byte(len(af)+stuff))
		p = append(p, af...)
		p = appendStuffing(p, stuff)
	}
	p = append(p, payload[:n]...)

	if _, err := w.w.Write(p); err != nil {
		return 0, err
	}
	return n, nil
}

func appendStuffing(p []byte, n int) []byte {
	for i := 0; i < n; i++ {
		p = append(p, 0xFF)
	}
	return p
}
