package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
)

// ReaderStats are cumulative Reader counters.
type ReaderStats struct {
	Packets  int64
	Resyncs  int64
	Corrupt  int64
	CCErrors int64
}

// Reader turns a transport stream into Units. It is not safe for concurrent
// use, but Stats may be called from any goroutine.
type Reader struct {
	r       io.Reader
	buf     []byte
	asm     *assemblers
	pending []*Unit
	eof     bool

	packets  atomic.Int64
	resyncs  atomic.Int64
	corrupt  atomic.Int64
	ccErrors atomic.Int64
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		buf: make([]byte, PacketSize),
		asm: newAssemblers(),
	}
}

// Next returns the next Unit. Corrupt packets and sections are counted and
// skipped. At the end of input the partial units are flushed before io.EOF is
// returned.
func (d *Reader) Next(ctx context.Context) (*Unit, error) {
	for {
		if len(d.pending) > 0 {
			u := d.pending[0]
			d.pending = d.pending[1:]
			return u, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := d.readPacket(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				for _, ps := range d.asm.drain() {
					d.emit(ps)
				}
				continue
			}
			return nil, err
		}

		p, err := parsePacket(d.buf)
		if err != nil {
			d.corrupt.Add(1)
			continue
		}
		d.packets.Add(1)
		if done := d.asm.add(p); done != nil {
			d.emit(done)
		}
		d.ccErrors.Store(d.asm.ccErrors())
	}
}

// readPacket fills buf with the next packet, scanning forward to the next
// sync byte when alignment is lost.
func (d *Reader) readPacket() error {
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return err
	}
	for d.buf[0] != syncByte {
		d.resyncs.Add(1)
		i := bytes.IndexByte(d.buf[1:], syncByte)
		if i < 0 {
			if _, err := io.ReadFull(d.r, d.buf); err != nil {
				return err
			}
			continue
		}
		n := copy(d.buf, d.buf[i+1:])
		if _, err := io.ReadFull(d.r, d.buf[n:]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Reader) emit(packets []*Packet) {
	first := packets[0]
	payload := join(packets)
	if len(payload) == 0 {
		return
	}

	if d.asm.isPSI(first.PID) {
		units, err := parsePSI(first.PID, payload)
		if err != nil {
			d.corrupt.Add(1)
		}
		for _, u := range units {
			for _, p := range u.PAT {
				d.asm.pmt[p.PMTPID] = true
			}
		}
		d.pending = append(d.pending, units...)
		return
	}

	if !hasPESStartCode(payload) {
		return
	}
	pes, err := parsePES(payload)
	if err != nil {
		d.corrupt.Add(1)
		return
	}
	d.pending = append(d.pending, &Unit{PID: first.PID, PES: pes, RandomAccess: first.RandomAccess})
}

// Stats returns a snapshot of the Reader's counters.
func (d *Reader) Stats() ReaderStats {
	return ReaderStats{
		Packets:  d.packets.Load(),
		Resyncs:  d.resyncs.Load(),
		Corrupt:  d.corrupt.Load(),
		CCErrors: d.ccErrors.Load(),
	}
}
