package colorconv

import (
	"math"

	"github.com/zsiec/duoview/internal/media"
)

// fixedShift is the fractional precision of the conversion matrix.
const fixedShift = 16

// Coefficients is a YCbCr to RGB matrix in 16.16 fixed point, with the
// range expansion folded in.
type Coefficients struct {
	YOffset int32
	YScale  int32
	CrToR   int32
	CbToG   int32
	CrToG   int32
	CbToB   int32
}

// luma weights per ITU-R recommendation.
var lumaWeights = map[media.Colorspace][2]float64{
	media.ColorspaceRec601:  {0.299, 0.114},
	media.ColorspaceRec709:  {0.2126, 0.0722},
	media.ColorspaceRec2020: {0.2627, 0.0593},
}

// CoefficientsFor returns the matrix for a declared colour standard. Unknown
// standards fall back to BT.709, the broadcast default.
func CoefficientsFor(cs media.Colorspace, r media.ColorRange) Coefficients {
	w, ok := lumaWeights[cs]
	if !ok {
		w = lumaWeights[media.ColorspaceRec709]
	}
	kr, kb := w[0], w[1]
	kg := 1 - kr - kb

	yScale, cScale := 1.0, 1.0
	var yOffset int32
	if r == media.RangeLimited {
		yScale = 255.0 / 219.0
		cScale = 255.0 / 224.0
		yOffset = 16
	}

	fix := func(f float64) int32 { return int32(math.Round(f * (1 << fixedShift))) }

	return Coefficients{
		YOffset: yOffset,
		YScale:  fix(yScale),
		CrToR:   fix(2 * (1 - kr) * cScale),
		CbToG:   fix(2 * kb * (1 - kb) / kg * cScale),
		CrToG:   fix(2 * kr * (1 - kr) / kg * cScale),
		CbToB:   fix(2 * (1 - kb) * cScale),
	}
}

const round = 1 << (fixedShift - 1)

// pixel converts one sample triple.
func (c *Coefficients) pixel(y, cb, cr byte) (r, g, b byte) {
	yy := (int32(y) - c.YOffset) * c.YScale
	u := int32(cb) - 128
	v := int32(cr) - 128

	r = clampToByte((yy + c.CrToR*v + round) >> fixedShift)
	g = clampToByte((yy - c.CbToG*u - c.CrToG*v + round) >> fixedShift)
	b = clampToByte((yy + c.CbToB*u + round) >> fixedShift)
	return r, g, b
}

func clampToByte(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
