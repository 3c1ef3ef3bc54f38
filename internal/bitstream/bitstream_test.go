package bitstream

import (
	"testing"

	"github.com/zsiec/duoview/internal/media"
)

// bitWriter builds RBSP payloads for hand-constructed parameter sets.
type bitWriter struct {
	out  []byte
	cur  byte
	used int
}

func (w *bitWriter) bits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		w.cur = w.cur<<1 | byte((v>>uint(i))&1)
		w.used++
		if w.used == 8 {
			w.out = append(w.out, w.cur)
			w.cur, w.used = 0, 0
		}
	}
}

func (w *bitWriter) ue(v uint) {
	v++
	n := 0
	for t := v; t > 1; t >>= 1 {
		n++
	}
	w.bits(0, n)
	w.bits(v, n+1)
}

func (w *bitWriter) bytes() []byte {
	w.bits(1, 1) // rbsp_stop_one_bit
	for w.used != 0 {
		w.bits(0, 1)
	}
	return w.out
}

func baselineSPS(widthMbs, heightMbs uint, vui func(w *bitWriter)) []byte {
	w := &bitWriter{}
	w.bits(66, 8) // profile_idc baseline
	w.bits(0xC0, 8)
	w.bits(30, 8) // level 3.0
	w.ue(0)       // sps id
	w.ue(0)       // log2_max_frame_num_minus4
	w.ue(2)       // pic_order_cnt_type
	w.ue(1)       // max_num_ref_frames
	w.bits(0, 1)  // gaps
	w.ue(widthMbs - 1)
	w.ue(heightMbs - 1)
	w.bits(1, 1) // frame_mbs_only
	w.bits(1, 1) // direct_8x8
	w.bits(0, 1) // cropping
	if vui == nil {
		w.bits(0, 1)
	} else {
		w.bits(1, 1)
		vui(w)
	}
	return append([]byte{0x67}, w.bytes()...)
}

func TestSplit(t *testing.T) {
	t.Parallel()

	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0xFF, 0xFE,
	}
	nalus := Split(media.CodecH264, data)
	if len(nalus) != 3 {
		t.Fatalf("got %d NAL units, want 3", len(nalus))
	}
	wantTypes := []byte{NALTypeSPS, NALTypePPS, NALTypeIDR}
	for i, want := range wantTypes {
		if nalus[i].Type != want {
			t.Errorf("unit %d: got type %d, want %d", i, nalus[i].Type, want)
		}
	}
	if !IsParamSet(media.CodecH264, nalus[0].Type) || !IsParamSet(media.CodecH264, nalus[1].Type) {
		t.Error("SPS/PPS not reported as parameter sets")
	}
	if !IsKeyframe(media.CodecH264, nalus[2].Type) {
		t.Error("IDR not reported as keyframe")
	}
	if len(nalus[2].Data) != 6 {
		t.Errorf("IDR length: got %d, want 6", len(nalus[2].Data))
	}
}

func TestSplitTrailingZeroBelongsToStartCode(t *testing.T) {
	t.Parallel()

	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x06, 0xAA, 0xBB, 0x00,
		0x00, 0x00, 0x01, 0x41, 0x9A,
	}
	nalus := Split(media.CodecH264, data)
	if len(nalus) != 2 {
		t.Fatalf("got %d NAL units, want 2", len(nalus))
	}
	if len(nalus[0].Data) != 3 {
		t.Errorf("SEI length: got %d, want 3", len(nalus[0].Data))
	}
	if nalus[1].Type != NALTypeSlice {
		t.Errorf("got type %d, want slice", nalus[1].Type)
	}
}

func TestSplitShortInput(t *testing.T) {
	t.Parallel()

	if got := Split(media.CodecH264, nil); got != nil {
		t.Errorf("nil input: got %d units", len(got))
	}
	if got := Split(media.CodecH264, []byte{0x00, 0x01}); got != nil {
		t.Errorf("short input: got %d units", len(got))
	}
}

func TestSplitHEVC(t *testing.T) {
	t.Parallel()

	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x40, 0x01, 0x0C,
		0x00, 0x00, 0x00, 0x01, 0x42, 0x01, 0x01,
		0x00, 0x00, 0x00, 0x01, 0x44, 0x01, 0xC0,
		0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0xAF,
	}
	nalus := Split(media.CodecHEVC, data)
	if len(nalus) != 4 {
		t.Fatalf("got %d NAL units, want 4", len(nalus))
	}
	for i := 0; i < 3; i++ {
		if !IsParamSet(media.CodecHEVC, nalus[i].Type) {
			t.Errorf("unit %d (type %d) not a parameter set", i, nalus[i].Type)
		}
	}
	if !IsKeyframe(media.CodecHEVC, nalus[3].Type) {
		t.Errorf("type %d not a keyframe", nalus[3].Type)
	}
	if !IsVCL(media.CodecHEVC, nalus[3].Type) || IsVCL(media.CodecHEVC, nalus[0].Type) {
		t.Error("VCL classification wrong")
	}
}

func TestHEVCNALType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		firstByte byte
		want      byte
	}{
		{0x40, HEVCNALVPS},
		{0x42, HEVCNALSPS},
		{0x44, HEVCNALPPS},
		{0x26, HEVCNALIDRWRadl},
		{0x28, HEVCNALIDRNlp},
		{0x2A, HEVCNALCraNut},
		{0x46, HEVCNALAUD},
		{0x02, 1},
	}
	for _, tt := range tests {
		if got := HEVCNALType(tt.firstByte); got != tt.want {
			t.Errorf("HEVCNALType(0x%02X) = %d, want %d", tt.firstByte, got, tt.want)
		}
	}
}

func TestParseSPSRealStreams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sps  []byte
		w, h int
	}{
		{"720p high", []byte{
			0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
			0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
			0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
			0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
		}, 1280, 720},
		{"256x192 main", []byte{
			0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
			0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
			0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
			0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
			0x3a, 0x8e, 0x18, 0xc9,
		}, 256, 192},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info, err := ParseSPS(tt.sps)
			if err != nil {
				t.Fatalf("ParseSPS: %v", err)
			}
			if info.Width != tt.w || info.Height != tt.h {
				t.Errorf("got %dx%d, want %dx%d", info.Width, info.Height, tt.w, tt.h)
			}
		})
	}
}

func TestParseSPSColourDescription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		full      bool
		matrix    uint
		wantCS    media.Colorspace
		wantRange media.ColorRange
	}{
		{"bt709 limited", false, 1, media.ColorspaceRec709, media.RangeLimited},
		{"bt601 full", true, 6, media.ColorspaceRec601, media.RangeFull},
		{"bt2020 limited", false, 9, media.ColorspaceRec2020, media.RangeLimited},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sps := baselineSPS(25, 15, func(w *bitWriter) {
				w.bits(0, 1) // aspect_ratio_info_present
				w.bits(0, 1) // overscan_info_present
				w.bits(1, 1) // video_signal_type_present
				w.bits(5, 3) // video_format
				full := uint(0)
				if tt.full {
					full = 1
				}
				w.bits(full, 1)
				w.bits(1, 1) // colour_description_present
				w.bits(1, 8)
				w.bits(1, 8)
				w.bits(tt.matrix, 8)
				w.bits(0, 1) // chroma_loc
				w.bits(0, 1) // timing
				w.bits(0, 1) // nal hrd
				w.bits(0, 1) // vcl hrd
				w.bits(0, 1) // pic_struct
				w.bits(0, 1) // bitstream_restriction
			})
			info, err := ParseSPS(sps)
			if err != nil {
				t.Fatalf("ParseSPS: %v", err)
			}
			if info.Width != 400 || info.Height != 240 {
				t.Errorf("size: got %dx%d, want 400x240", info.Width, info.Height)
			}
			if !info.ColourDescribed {
				t.Error("ColourDescribed: got false")
			}
			if info.Colorspace != tt.wantCS {
				t.Errorf("Colorspace: got %s, want %s", info.Colorspace, tt.wantCS)
			}
			if info.Range != tt.wantRange {
				t.Errorf("Range: got %d, want %d", info.Range, tt.wantRange)
			}
		})
	}
}

func TestParseSPSWithoutVUIDefaults(t *testing.T) {
	t.Parallel()

	info, err := ParseSPS(baselineSPS(20, 15, nil))
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if info.Width != 320 || info.Height != 240 {
		t.Errorf("size: got %dx%d, want 320x240", info.Width, info.Height)
	}
	if info.ColourDescribed {
		t.Error("ColourDescribed: got true without VUI")
	}
	if info.Colorspace != media.ColorspaceRec709 || info.Range != media.RangeLimited {
		t.Errorf("defaults: got %s/%d", info.Colorspace, info.Range)
	}
}

func TestParseSPSTooShort(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{nil, {}, {0x67, 0x64, 0x00}} {
		if _, err := ParseSPS(in); err == nil {
			t.Errorf("ParseSPS(% x): expected error", in)
		}
	}
}

func TestParseHEVCSPS(t *testing.T) {
	t.Parallel()

	sps := []byte{
		0x42, 0x01,
		0x01,
		0x01,
		0x40, 0x00, 0x00, 0x00,
		0xB0, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x5D,
		0xA0, 0x0A, 0x08, 0x0F, 0x10,
	}
	info, err := ParseHEVCSPS(sps)
	if err != nil {
		t.Fatalf("ParseHEVCSPS: %v", err)
	}
	if info.Width != 320 || info.Height != 240 {
		t.Errorf("size: got %dx%d, want 320x240", info.Width, info.Height)
	}
	if info.ProfileIDC != 1 || info.LevelIDC != 93 || info.TierFlag != 0 {
		t.Errorf("ptl: got profile=%d level=%d tier=%d", info.ProfileIDC, info.LevelIDC, info.TierFlag)
	}
	if info.ChromaFormatIDC != 1 {
		t.Errorf("ChromaFormatIDC: got %d, want 1", info.ChromaFormatIDC)
	}

	if _, err := ParseHEVCSPS([]byte{0x42, 0x01}); err == nil {
		t.Error("short SPS: expected error")
	}
}
