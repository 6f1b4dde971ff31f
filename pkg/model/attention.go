package model

import (
	"math"
	"math/rand"

	"github.com/james-see/drumgen/pkg/nn"
)

// attention is multi-head scaled dot-product attention. Each head owns its
// own query, key and value projections into a d/heads-wide subspace; the
// concatenated head outputs pass through a shared output projection.
type attention struct {
	heads int
	scale float64
	wq    []*nn.Tensor
	wk    []*nn.Tensor
	wv    []*nn.Tensor
	wo    *nn.Tensor
	bo    *nn.Tensor
}

func newAttention(d, heads int, rng *rand.Rand) *attention {
	dk := d / heads
	a := &attention{
		heads: heads,
		scale: 1 / math.Sqrt(float64(dk)),
		wq:    make([]*nn.Tensor, heads),
		wk:    make([]*nn.Tensor, heads),
		wv:    make([]*nn.Tensor, heads),
		wo:    nn.NewParam(d, d, initStd, rng),
		bo:    nn.NewConstParam(1, d, 0),
	}
	for h := 0; h < heads; h++ {
		a.wq[h] = nn.NewParam(d, dk, initStd, rng)
		a.wk[h] = nn.NewParam(d, dk, initStd, rng)
		a.wv[h] = nn.NewParam(d, dk, initStd, rng)
	}
	return a
}

// forward attends query rows over key/value rows. A non-nil mask is added
// to every head's score matrix before the softmax.
func (a *attention) forward(query, key, value, mask *nn.Tensor) *nn.Tensor {
	heads := make([]*nn.Tensor, a.heads)
	for h := 0; h < a.heads; h++ {
		q := nn.MatMul(query, a.wq[h])
		k := nn.MatMul(key, a.wk[h])
		v := nn.MatMul(value, a.wv[h])
		scores := nn.Scale(nn.MatMul(q, nn.Transpose(k)), a.scale)
		if mask != nil {
			scores = nn.Add(scores, mask)
		}
		heads[h] = nn.MatMul(nn.RowSoftmax(scores), v)
	}
	return nn.AddBias(nn.MatMul(nn.ConcatCols(heads...), a.wo), a.bo)
}

func (a *attention) params() []*nn.Tensor {
	out := make([]*nn.Tensor, 0, 3*a.heads+2)
	for h := 0; h < a.heads; h++ {
		out = append(out, a.wq[h], a.wk[h], a.wv[h])
	}
	return append(out, a.wo, a.bo)
}
