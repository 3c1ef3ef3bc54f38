package bitstream

// HEVCSPS holds the fields of an H.265 sequence parameter set used by the
// client. HEVC VUI sits behind reference picture sets and is not parsed;
// colour for HEVC streams comes from the session's HDR flag.
type HEVCSPS struct {
	StreamInfo
	ProfileIDC      byte
	TierFlag        byte
	LevelIDC        byte
	ChromaFormatIDC int
}

// ParseHEVCSPS parses an H.265 SPS NAL unit including its 2-byte header.
func ParseHEVCSPS(nalu []byte) (HEVCSPS, error) {
	if len(nalu) < 4 {
		return HEVCSPS{}, errShort
	}
	br := newBitReader(unescape(nalu[2:]))

	if _, err := br.readBits(4); err != nil { // sps_video_parameter_set_id
		return HEVCSPS{}, err
	}
	subLayers, err := br.readBits(3)
	if err != nil {
		return HEVCSPS{}, err
	}
	if _, err := br.readBit(); err != nil { // temporal_id_nesting
		return HEVCSPS{}, err
	}

	var sps HEVCSPS
	if err := readProfileTierLevel(br, &sps, subLayers); err != nil {
		return HEVCSPS{}, err
	}
	if err := br.skipUE(1); err != nil { // sps_seq_parameter_set_id
		return HEVCSPS{}, err
	}
	cf, err := br.readUE()
	if err != nil {
		return HEVCSPS{}, err
	}
	sps.ChromaFormatIDC = int(cf)
	if cf == 3 {
		if _, err := br.readBit(); err != nil {
			return HEVCSPS{}, err
		}
	}
	w, err := br.readUE()
	if err != nil {
		return HEVCSPS{}, err
	}
	h, err := br.readUE()
	if err != nil {
		return HEVCSPS{}, err
	}
	sps.Width, sps.Height = int(w), int(h)
	sps.Colorspace, _ = colorspaceFromMatrix(0)
	sps.BitDepth = 8

	// Fields past the picture size are optional for our purposes; a short
	// read returns what was parsed.
	window, err := br.readFlag()
	if err != nil {
		return sps, nil
	}
	if window {
		var off [4]uint
		for i := range off {
			if off[i], err = br.readUE(); err != nil {
				return sps, nil
			}
		}
		subW, subH := uint(1), uint(1)
		switch cf {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW = 2
		}
		sps.Width -= int((off[0] + off[1]) * subW)
		sps.Height -= int((off[2] + off[3]) * subH)
	}
	depth, err := br.readUE()
	if err != nil {
		return sps, nil
	}
	sps.BitDepth = int(depth) + 8
	return sps, nil
}

func readProfileTierLevel(br *bitReader, sps *HEVCSPS, subLayers uint) error {
	if _, err := br.readBits(2); err != nil { // general_profile_space
		return err
	}
	tier, err := br.readBits(1)
	if err != nil {
		return err
	}
	profile, err := br.readBits(5)
	if err != nil {
		return err
	}
	// compatibility flags (32) + constraint indicator flags (48)
	for _, n := range []int{32, 32, 16} {
		if _, err := br.readBits(n); err != nil {
			return err
		}
	}
	level, err := br.readBits(8)
	if err != nil {
		return err
	}
	sps.TierFlag, sps.ProfileIDC, sps.LevelIDC = byte(tier), byte(profile), byte(level)

	if subLayers == 0 {
		return nil
	}
	var profilePresent, levelPresent [8]bool
	for i := uint(0); i < subLayers; i++ {
		if profilePresent[i], err = br.readFlag(); err != nil {
			return err
		}
		if levelPresent[i], err = br.readFlag(); err != nil {
			return err
		}
	}
	for i := subLayers; i < 8; i++ {
		if _, err := br.readBits(2); err != nil {
			return err
		}
	}
	for i := uint(0); i < subLayers; i++ {
		if profilePresent[i] {
			for _, n := range []int{32, 32, 24} {
				if _, err := br.readBits(n); err != nil {
					return err
				}
			}
		}
		if levelPresent[i] {
			if _, err := br.readBits(8); err != nil {
				return err
			}
		}
	}
	return nil
}
