// Package bitstream splits Annex-B elementary streams into NAL units and
// reads the parameter-set fields the client needs to size and colour-convert
// a stream: resolution, chroma format and VUI colour description.
package bitstream

import "github.com/zsiec/duoview/internal/media"

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCNALBlaWLP    = 16
	HEVCNALIDRWRadl  = 19
	HEVCNALIDRNlp    = 20
	HEVCNALCraNut    = 21
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALAUD       = 35
	HEVCNALSEIPrefix = 39
)

// NALUnit is one NAL unit without its start code.
type NALUnit struct {
	Type byte
	Data []byte
}

// HEVCNALType extracts the type from the first byte of a 2-byte HEVC header.
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// Split scans an Annex-B byte stream and returns its NAL units. Both 3- and
// 4-byte start codes are recognised; zeros preceding a start code belong to
// the start code, not the previous unit.
func Split(codec media.Codec, data []byte) []NALUnit {
	minLen, typeOf := 1, func(d []byte) byte { return d[0] & 0x1F }
	if codec == media.CodecHEVC {
		minLen, typeOf = 2, func(d []byte) byte { return HEVCNALType(d[0]) }
	}

	n := len(data)
	if n < 4 {
		return nil
	}

	var starts, ends []int
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				ends = append(ends, i)
				starts = append(starts, i+4)
				i += 4
				continue
			}
			if data[i+2] == 1 {
				ends = append(ends, i)
				starts = append(starts, i+3)
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, s := range starts {
		end := n
		if idx+1 < len(ends) {
			end = ends[idx+1]
		}
		if s >= end || end-s < minLen {
			continue
		}
		nal := data[s:end]
		units = append(units, NALUnit{Type: typeOf(nal), Data: nal})
	}
	return units
}

// IsKeyframe reports whether a NAL type starts a new reference chain.
func IsKeyframe(codec media.Codec, nalType byte) bool {
	if codec == media.CodecHEVC {
		return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
	}
	return nalType == NALTypeIDR
}

// IsParamSet reports whether a NAL type carries VPS, SPS or PPS data.
func IsParamSet(codec media.Codec, nalType byte) bool {
	if codec == media.CodecHEVC {
		return nalType == HEVCNALVPS || nalType == HEVCNALSPS || nalType == HEVCNALPPS
	}
	return nalType == NALTypeSPS || nalType == NALTypePPS
}

// IsAUD reports whether a NAL type is an access unit delimiter.
func IsAUD(codec media.Codec, nalType byte) bool {
	if codec == media.CodecHEVC {
		return nalType == HEVCNALAUD
	}
	return nalType == NALTypeAUD
}

// IsVCL reports whether a NAL type carries coded slice data.
func IsVCL(codec media.Codec, nalType byte) bool {
	if codec == media.CodecHEVC {
		return nalType < 32
	}
	return nalType >= NALTypeSlice && nalType <= NALTypeIDR
}

// StreamInfo is what the client learns from a sequence parameter set.
type StreamInfo struct {
	Width      int
	Height     int
	Colorspace media.Colorspace
	Range      media.ColorRange
	// ColourDescribed is false when the SPS carried no colour description
	// and Colorspace is a default.
	ColourDescribed bool
	BitDepth        int
}

// colorspaceFromMatrix maps an H.273 matrix_coefficients value.
func colorspaceFromMatrix(mc uint) (media.Colorspace, bool) {
	switch mc {
	case 1:
		return media.ColorspaceRec709, true
	case 5, 6:
		return media.ColorspaceRec601, true
	case 9, 10:
		return media.ColorspaceRec2020, true
	}
	return media.ColorspaceRec709, false
}
