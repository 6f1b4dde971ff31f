package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// checkGrad compares the analytic gradient of p under the scalar loss
// built by f against a central finite difference.
func checkGrad(t *testing.T, f func() *Tensor, p *Tensor, tol float64) {
	t.Helper()

	p.ZeroGrad()
	loss := f()
	loss.Backward()
	analytic := mat.DenseCopyOf(p.Grad)
	p.ZeroGrad()

	const eps = 1e-6
	r, c := p.Value.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			orig := p.Value.At(i, j)
			p.Value.Set(i, j, orig+eps)
			up := f().Value.At(0, 0)
			p.Value.Set(i, j, orig-eps)
			down := f().Value.At(0, 0)
			p.Value.Set(i, j, orig)
			numeric := (up - down) / (2 * eps)
			require.InDelta(t, numeric, analytic.At(i, j), tol,
				"gradient mismatch at (%d,%d)", i, j)
		}
	}
}

func TestMatMulGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := NewParam(3, 4, 0.5, rng)
	b := NewParam(4, 2, 0.5, rng)
	targets := []int{1, 0, 1}

	f := func() *Tensor { return MeanCrossEntropy(MatMul(a, b), targets) }
	checkGrad(t, f, a, 1e-5)
	checkGrad(t, f, b, 1e-5)
}

func TestAddBiasGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := NewParam(3, 4, 0.5, rng)
	bias := NewParam(1, 4, 0.5, rng)
	targets := []int{0, 3, 2}

	f := func() *Tensor { return MeanCrossEntropy(AddBias(x, bias), targets) }
	checkGrad(t, f, x, 1e-5)
	checkGrad(t, f, bias, 1e-5)
}

func TestReLUGrad(t *testing.T) {
	// Values chosen away from zero so the finite difference never
	// straddles the kink.
	x := &Tensor{
		Value: mat.NewDense(2, 3, []float64{0.8, -0.7, 1.2, -1.1, 0.5, -0.3}),
		Grad:  mat.NewDense(2, 3, nil),
	}
	x.requiresGrad = true
	w := &Tensor{
		Value: mat.NewDense(3, 3, []float64{0.2, -0.1, 0.4, 0.3, 0.6, -0.2, -0.5, 0.1, 0.7}),
		Grad:  mat.NewDense(3, 3, nil),
	}
	w.requiresGrad = true
	targets := []int{2, 0}

	f := func() *Tensor { return MeanCrossEntropy(MatMul(ReLU(x), w), targets) }
	checkGrad(t, f, x, 1e-5)
	checkGrad(t, f, w, 1e-5)
}

func TestRowSoftmaxGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	scores := NewParam(3, 3, 0.5, rng)
	v := NewParam(3, 4, 0.5, rng)
	targets := []int{1, 2, 0}

	f := func() *Tensor { return MeanCrossEntropy(MatMul(RowSoftmax(scores), v), targets) }
	checkGrad(t, f, scores, 1e-5)
	checkGrad(t, f, v, 1e-5)
}

func TestRowSoftmaxMasked(t *testing.T) {
	x := NewConst(mat.NewDense(2, 3, []float64{
		1.5, math.Inf(-1), math.Inf(-1),
		0.2, 0.9, math.Inf(-1),
	}))
	out := RowSoftmax(x)

	assert.InDelta(t, 1.0, out.Value.At(0, 0), 1e-12)
	assert.Zero(t, out.Value.At(0, 1))
	assert.Zero(t, out.Value.At(0, 2))

	row1 := out.Value.RawRowView(1)
	assert.InDelta(t, 1.0, row1[0]+row1[1], 1e-12)
	assert.Zero(t, row1[2])
	assert.Greater(t, row1[1], row1[0])
}

func TestLayerNormGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	x := NewParam(3, 4, 1.0, rng)
	gain := NewConstParam(1, 4, 1.0)
	bias := NewConstParam(1, 4, 0.0)
	targets := []int{1, 0, 3}

	f := func() *Tensor { return MeanCrossEntropy(LayerNorm(x, gain, bias, 1e-5), targets) }
	checkGrad(t, f, x, 1e-4)
	checkGrad(t, f, gain, 1e-5)
	checkGrad(t, f, bias, 1e-5)
}

func TestEmbedRowsGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	table := NewParam(5, 4, 0.5, rng)
	// Repeated id exercises the scatter-add path.
	ids := []int{0, 2, 2, 4}
	targets := []int{1, 0, 3, 2}

	f := func() *Tensor { return MeanCrossEntropy(Scale(EmbedRows(table, ids), 2.0), targets) }
	checkGrad(t, f, table, 1e-5)
}

func TestConcatColsGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	x := NewParam(2, 3, 0.5, rng)
	wa := NewParam(3, 2, 0.5, rng)
	wb := NewParam(3, 2, 0.5, rng)
	targets := []int{3, 1}

	f := func() *Tensor {
		return MeanCrossEntropy(ConcatCols(MatMul(x, wa), MatMul(x, wb)), targets)
	}
	checkGrad(t, f, x, 1e-5)
	checkGrad(t, f, wa, 1e-5)
	checkGrad(t, f, wb, 1e-5)
}

func TestTransposeGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q := NewParam(3, 4, 0.5, rng)
	k := NewParam(3, 4, 0.5, rng)
	targets := []int{0, 2, 1}

	f := func() *Tensor {
		return MeanCrossEntropy(Scale(MatMul(q, Transpose(k)), 0.5), targets)
	}
	checkGrad(t, f, q, 1e-5)
	checkGrad(t, f, k, 1e-5)
}

func TestReusedTensorAccumulates(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	x := NewParam(2, 3, 0.5, rng)
	targets := []int{1, 2}

	// x feeds the loss twice; gradients from both paths must add.
	f := func() *Tensor { return MeanCrossEntropy(Add(x, x), targets) }
	checkGrad(t, f, x, 1e-5)
}

func TestMeanCrossEntropyKnownValue(t *testing.T) {
	logits := NewParam(1, 2, 0, rand.New(rand.NewSource(9))) // zeros
	loss := MeanCrossEntropy(logits, []int{0})

	require.InDelta(t, math.Log(2), loss.Value.At(0, 0), 1e-12)

	loss.Backward()
	assert.InDelta(t, -0.5, logits.Grad.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5, logits.Grad.At(0, 1), 1e-12)
}

func TestMeanScalars(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	a := NewParam(1, 1, 1.0, rng)
	b := NewParam(1, 1, 1.0, rng)

	mean := MeanScalars(a, b)
	require.InDelta(t, (a.Value.At(0, 0)+b.Value.At(0, 0))/2, mean.Value.At(0, 0), 1e-12)

	mean.Backward()
	assert.InDelta(t, 0.5, a.Grad.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5, b.Grad.At(0, 0), 1e-12)
}

func TestDropoutEvalIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x := NewParam(4, 4, 1.0, rng)

	out := Dropout(x, 0.5, false, rng)
	require.Same(t, x, out)

	out = Dropout(x, 0, true, rng)
	require.Same(t, x, out)
}

func TestDropoutTrainScalesSurvivors(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	x := NewConstParam(8, 8, 1.0)

	out := Dropout(x, 0.25, true, rng)
	require.NotSame(t, x, out)

	zeros := 0
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			v := out.Value.At(i, j)
			if v == 0 {
				zeros++
				continue
			}
			assert.InDelta(t, 1/0.75, v, 1e-12)
		}
	}
	assert.Greater(t, zeros, 0, "expected some elements dropped")
	assert.Less(t, zeros, 64, "expected some elements kept")
}

func TestBackwardRequiresScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	x := NewParam(2, 2, 1.0, rng)

	require.Panics(t, func() { x.Backward() })
}

func TestConstTakesNoGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(14))
	x := NewParam(2, 3, 0.5, rng)
	mask := NewConst(mat.NewDense(2, 3, nil))

	loss := MeanCrossEntropy(Add(x, mask), []int{0, 1})
	loss.Backward()

	require.Nil(t, mask.Grad)
	require.False(t, mask.RequiresGrad())
}
