package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var errShortSection = errors.New("mpegts: section too short")

// parsePSI walks the sections of a PSI payload. Unknown table IDs are
// skipped; a bad CRC fails the whole payload.
func parsePSI(pid uint16, payload []byte) ([]*Unit, error) {
	if len(payload) < 1 {
		return nil, errShortSection
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return nil, fmt.Errorf("mpegts: pointer field %d out of range", payload[0])
	}

	var units []*Unit
	for off+3 <= len(payload) {
		if payload[off] == 0xFF || payload[off+1]&0x80 == 0 {
			break
		}
		end := off + 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if end > len(payload) {
			break
		}
		section := payload[off:end]
		off = end

		switch section[0] {
		case tableIDPAT:
			progs, err := parsePAT(section)
			if err != nil {
				return units, err
			}
			units = append(units, &Unit{PID: pid, PAT: progs})
		case tableIDPMT:
			pmt, err := parsePMT(section)
			if err != nil {
				return units, err
			}
			units = append(units, &Unit{PID: pid, PMT: pmt})
		}
	}
	return units, nil
}

// parsePAT reads the program loop between the 8-byte section header and
// the CRC. Program 0 points at the NIT and is skipped.
func parsePAT(s []byte) ([]Program, error) {
	if len(s) < 12 {
		return nil, errShortSection
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("PAT: %w", err)
	}
	var progs []Program
	for i := 8; i+4 <= len(s)-4; i += 4 {
		num := uint16(s[i])<<8 | uint16(s[i+1])
		if num == 0 {
			continue
		}
		progs = append(progs, Program{
			Number: num,
			PMTPID: uint16(s[i+2]&0x1F)<<8 | uint16(s[i+3]),
		})
	}
	return progs, nil
}

func parsePMT(s []byte) (*PMT, error) {
	if len(s) < 16 {
		return nil, errShortSection
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("PMT: %w", err)
	}
	pmt := &PMT{
		ProgramNumber: uint16(s[3])<<8 | uint16(s[4]),
		PCRPID:        uint16(s[8]&0x1F)<<8 | uint16(s[9]),
	}
	off := 12 + (int(s[10]&0x0F)<<8 | int(s[11]))
	end := len(s) - 4
	for off+5 <= end {
		pmt.Streams = append(pmt.Streams, ElementaryStream{
			StreamType: s[off],
			PID:        uint16(s[off+1]&0x1F)<<8 | uint16(s[off+2]),
		})
		off += 5 + (int(s[off+3]&0x0F)<<8 | int(s[off+4]))
	}
	return pmt, nil
}
