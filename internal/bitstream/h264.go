package bitstream

import (
	"fmt"

	"github.com/zsiec/duoview/internal/media"
)

// SPS holds the fields of an H.264 sequence parameter set used by the
// client.
type SPS struct {
	StreamInfo
	ProfileIDC      byte
	LevelIDC        byte
	ChromaFormatIDC int
}

// highProfiles carry chroma_format_idc and scaling matrices in the SPS.
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS parses an H.264 SPS NAL unit including its header byte. The VUI
// is read as far as the colour description; timing and HRD fields are not
// needed.
func ParseSPS(nalu []byte) (SPS, error) {
	if len(nalu) < 4 {
		return SPS{}, errShort
	}
	br := newBitReader(unescape(nalu[1:]))

	profile, err := br.readBits(8)
	if err != nil {
		return SPS{}, err
	}
	if _, err := br.readBits(8); err != nil { // constraint flags
		return SPS{}, err
	}
	level, err := br.readBits(8)
	if err != nil {
		return SPS{}, err
	}
	if err := br.skipUE(1); err != nil { // seq_parameter_set_id
		return SPS{}, err
	}

	sps := SPS{ProfileIDC: byte(profile), LevelIDC: byte(level), ChromaFormatIDC: 1}
	sps.BitDepth = 8
	separatePlanes := false

	if highProfiles[profile] {
		cf, err := br.readUE()
		if err != nil {
			return SPS{}, err
		}
		sps.ChromaFormatIDC = int(cf)
		if cf == 3 {
			if separatePlanes, err = br.readFlag(); err != nil {
				return SPS{}, err
			}
		}
		depth, err := br.readUE()
		if err != nil {
			return SPS{}, err
		}
		sps.BitDepth = int(depth) + 8
		if err := br.skipUE(1); err != nil { // bit_depth_chroma_minus8
			return SPS{}, err
		}
		if _, err := br.readBit(); err != nil { // qpprime_y_zero_transform_bypass
			return SPS{}, err
		}
		scaling, err := br.readFlag()
		if err != nil {
			return SPS{}, err
		}
		if scaling {
			lists := 8
			if cf == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				present, err := br.readFlag()
				if err != nil {
					return SPS{}, err
				}
				if !present {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				if err := br.skipScalingList(size); err != nil {
					return SPS{}, err
				}
			}
		}
	}

	if err := br.skipUE(1); err != nil { // log2_max_frame_num_minus4
		return SPS{}, err
	}
	pocType, err := br.readUE()
	if err != nil {
		return SPS{}, err
	}
	switch pocType {
	case 0:
		if err := br.skipUE(1); err != nil {
			return SPS{}, err
		}
	case 1:
		if _, err := br.readBit(); err != nil {
			return SPS{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPS{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPS{}, err
		}
		cycle, err := br.readUE()
		if err != nil {
			return SPS{}, err
		}
		for i := uint(0); i < cycle; i++ {
			if _, err := br.readSE(); err != nil {
				return SPS{}, err
			}
		}
	}

	if err := br.skipUE(1); err != nil { // max_num_ref_frames
		return SPS{}, err
	}
	if _, err := br.readBit(); err != nil { // gaps_in_frame_num_allowed
		return SPS{}, err
	}

	widthMbs, err := br.readUE()
	if err != nil {
		return SPS{}, err
	}
	heightUnits, err := br.readUE()
	if err != nil {
		return SPS{}, err
	}
	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPS{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBit(); err != nil { // mb_adaptive_frame_field
			return SPS{}, err
		}
	}
	if _, err := br.readBit(); err != nil { // direct_8x8_inference
		return SPS{}, err
	}

	var crop [4]uint
	cropping, err := br.readFlag()
	if err != nil {
		return SPS{}, err
	}
	if cropping {
		for i := range crop {
			if crop[i], err = br.readUE(); err != nil {
				return SPS{}, err
			}
		}
	}

	subW, subH := uint(2), uint(2)
	switch {
	case separatePlanes || sps.ChromaFormatIDC == 0 || sps.ChromaFormatIDC == 3:
		subW, subH = 1, 1
	case sps.ChromaFormatIDC == 2:
		subW, subH = 2, 1
	}
	cropUnitY := subH * (2 - frameMbsOnly)
	sps.Width = int((widthMbs+1)*16 - subW*(crop[0]+crop[1]))
	sps.Height = int((heightUnits+1)*16*(2-frameMbsOnly) - cropUnitY*(crop[2]+crop[3]))
	sps.Colorspace, _ = colorspaceFromMatrix(0)

	vui, err := br.readFlag()
	if err != nil || !vui {
		return sps, nil
	}
	// A truncated VUI leaves the defaults in place.
	_ = readVUIColour(br, &sps.StreamInfo)
	return sps, nil
}

// readVUIColour reads VUI fields up to and including the colour description.
// The layout is shared by H.264 and H.265.
func readVUIColour(br *bitReader, info *StreamInfo) error {
	arPresent, err := br.readFlag()
	if err != nil {
		return err
	}
	if arPresent {
		idc, err := br.readBits(8)
		if err != nil {
			return err
		}
		if idc == 255 { // extended SAR
			if _, err := br.readBits(32); err != nil {
				return err
			}
		}
	}
	overscan, err := br.readFlag()
	if err != nil {
		return err
	}
	if overscan {
		if _, err := br.readBit(); err != nil {
			return err
		}
	}
	signal, err := br.readFlag()
	if err != nil || !signal {
		return err
	}
	if _, err := br.readBits(3); err != nil { // video_format
		return err
	}
	full, err := br.readFlag()
	if err != nil {
		return err
	}
	if full {
		info.Range = media.RangeFull
	}
	desc, err := br.readFlag()
	if err != nil || !desc {
		return err
	}
	if _, err := br.readBits(16); err != nil { // primaries, transfer
		return err
	}
	matrix, err := br.readBits(8)
	if err != nil {
		return err
	}
	info.Colorspace, info.ColourDescribed = colorspaceFromMatrix(matrix)
	return nil
}

// String formats the SPS for logs.
func (s SPS) String() string {
	return fmt.Sprintf("profile=%d level=%d %dx%d %s", s.ProfileIDC, s.LevelIDC, s.Width, s.Height, s.Colorspace)
}
