package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Sinusoid precomputes the fixed positional table with maxLen rows and
// width columns. Column 2k carries sin(pos / 10000^(2k/width)) and column
// 2k+1 the matching cosine, so position 0 encodes to (0, 1, 0, 1, ...).
func Sinusoid(maxLen, width int) *mat.Dense {
	pe := mat.NewDense(maxLen, width, nil)
	for pos := 0; pos < maxLen; pos++ {
		for k := 0; k < width; k += 2 {
			angle := float64(pos) / math.Pow(10000, float64(k)/float64(width))
			pe.Set(pos, k, math.Sin(angle))
			if k+1 < width {
				pe.Set(pos, k+1, math.Cos(angle))
			}
		}
	}
	return pe
}
