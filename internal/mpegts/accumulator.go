package mpegts

import "sort"

const pidPAT = 0x0000

// assembler collects the packets of one PID until a payload unit is
// complete. A PUSI closes the previous unit; PSI sections also close as soon
// as their declared length has arrived.
type assembler struct {
	pid     uint16
	psi     func(uint16) bool
	packets []*Packet
	// ccErrors counts unsignalled continuity jumps.
	ccErrors int64
}

func (a *assembler) add(p *Packet) []*Packet {
	if p.TEI {
		a.packets = nil
		return nil
	}
	if !p.HasPayload {
		return nil
	}

	if n := len(a.packets); n > 0 && !p.Discontinuity {
		prev := a.packets[n-1].CC
		if p.CC == prev {
			return nil
		}
		if p.CC != (prev+1)&0x0F {
			a.ccErrors++
			a.packets = nil
		}
	}

	var done []*Packet
	if p.PUSI && len(a.packets) > 0 {
		done, a.packets = a.packets, nil
	}
	if !p.PUSI && len(a.packets) == 0 {
		// Continuation without a start; wait for the next unit.
		return done
	}
	a.packets = append(a.packets, p)

	if done == nil && a.psi(a.pid) && sectionsComplete(join(a.packets)) {
		done, a.packets = a.packets, nil
	}
	return done
}

func (a *assembler) flush() []*Packet {
	done := a.packets
	a.packets = nil
	return done
}

func join(packets []*Packet) []byte {
	if len(packets) == 1 {
		return packets[0].Payload
	}
	var b []byte
	for _, p := range packets {
		b = append(b, p.Payload...)
	}
	return b
}

// sectionsComplete reports whether a PSI payload holds every section it
// starts.
func sectionsComplete(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	for off < len(payload) {
		if payload[off] == 0xFF {
			return true
		}
		if off+3 > len(payload) {
			return false
		}
		if payload[off+1]&0x80 == 0 {
			return true
		}
		off += 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if off > len(payload) {
			return false
		}
	}
	return true
}

// assemblers holds one assembler per PID seen.
type assemblers struct {
	byPID map[uint16]*assembler
	pmt   map[uint16]bool
}

func newAssemblers() *assemblers {
	return &assemblers{
		byPID: make(map[uint16]*assembler),
		pmt:   make(map[uint16]bool),
	}
}

func (as *assemblers) isPSI(pid uint16) bool {
	return pid == pidPAT || as.pmt[pid]
}

func (as *assemblers) add(p *Packet) []*Packet {
	a, ok := as.byPID[p.PID]
	if !ok {
		a = &assembler{pid: p.PID, psi: as.isPSI}
		as.byPID[p.PID] = a
	}
	return a.add(p)
}

func (as *assemblers) ccErrors() int64 {
	var n int64
	for _, a := range as.byPID {
		n += a.ccErrors
	}
	return n
}

// drain flushes every partial unit in PID order, so the PAT comes out before
// any PMT.
func (as *assemblers) drain() [][]*Packet {
	pids := make([]int, 0, len(as.byPID))
	for pid := range as.byPID {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	var out [][]*Packet
	for _, pid := range pids {
		if ps := as.byPID[uint16(pid)].flush(); len(ps) > 0 {
			out = append(out, ps)
		}
	}
	return out
}
