package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/james-see/drumgen/pkg/nn"
)

// ShapeError reports a mask or sequence shape the model cannot accept.
type ShapeError struct {
	Op   string
	Want string
	Got  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("model: %s mismatch: got %s, want %s", e.Op, e.Got, e.Want)
}

// CausalMask returns the TxT additive mask whose entry (i, j) is 0 when
// j <= i and -Inf when j > i, blocking attention to future positions
// during both training and generation.
func CausalMask(t int) *nn.Tensor {
	m := mat.NewDense(t, t, nil)
	neg := math.Inf(-1)
	for i := 0; i < t; i++ {
		for j := i + 1; j < t; j++ {
			m.Set(i, j, neg)
		}
	}
	return nn.NewConst(m)
}
