package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MatMul returns a times b.
func MatMul(a, b *Tensor) *Tensor {
	ar, ac := a.Value.Dims()
	br, bc := b.Value.Dims()
	if ac != br {
		panic(fmt.Sprintf("nn: matmul %dx%d by %dx%d", ar, ac, br, bc))
	}
	value := mat.NewDense(ar, bc, nil)
	value.Mul(a.Value, b.Value)

	t := result(value, a, b)
	if t.requiresGrad {
		t.backward = func() {
			if a.requiresGrad {
				var d mat.Dense
				d.Mul(t.Grad, b.Value.T())
				a.Grad.Add(a.Grad, &d)
			}
			if b.requiresGrad {
				var d mat.Dense
				d.Mul(a.Value.T(), t.Grad)
				b.Grad.Add(b.Grad, &d)
			}
		}
	}
	return t
}

// Transpose returns x with rows and columns swapped.
func Transpose(x *Tensor) *Tensor {
	r, c := x.Value.Dims()
	value := mat.NewDense(c, r, nil)
	value.Copy(x.Value.T())

	t := result(value, x)
	if t.requiresGrad {
		t.backward = func() {
			if x.requiresGrad {
				x.Grad.Add(x.Grad, t.Grad.T())
			}
		}
	}
	return t
}

// Add returns the elementwise sum of two same-shaped tensors.
func Add(a, b *Tensor) *Tensor {
	ar, ac := a.Value.Dims()
	br, bc := b.Value.Dims()
	if ar != br || ac != bc {
		panic(fmt.Sprintf("nn: add %dx%d with %dx%d", ar, ac, br, bc))
	}
	value := mat.NewDense(ar, ac, nil)
	value.Add(a.Value, b.Value)

	t := result(value, a, b)
	if t.requiresGrad {
		t.backward = func() {
			if a.requiresGrad {
				a.Grad.Add(a.Grad, t.Grad)
			}
			if b.requiresGrad {
				b.Grad.Add(b.Grad, t.Grad)
			}
		}
	}
	return t
}

// AddBias adds a 1xC bias row to every row of x.
func AddBias(x, bias *Tensor) *Tensor {
	r, c := x.Value.Dims()
	br, bc := bias.Value.Dims()
	if br != 1 || bc != c {
		panic(fmt.Sprintf("nn: bias %dx%d against %dx%d", br, bc, r, c))
	}
	value := mat.NewDense(r, c, nil)
	bRow := bias.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		row := x.Value.RawRowView(i)
		out := value.RawRowView(i)
		for j := range row {
			out[j] = row[j] + bRow[j]
		}
	}

	t := result(value, x, bias)
	if t.requiresGrad {
		t.backward = func() {
			if x.requiresGrad {
				x.Grad.Add(x.Grad, t.Grad)
			}
			if bias.requiresGrad {
				g := bias.Grad.RawRowView(0)
				for i := 0; i < r; i++ {
					dy := t.Grad.RawRowView(i)
					for j := range dy {
						g[j] += dy[j]
					}
				}
			}
		}
	}
	return t
}

// Scale multiplies every element of x by s.
func Scale(x *Tensor, s float64) *Tensor {
	r, c := x.Value.Dims()
	value := mat.NewDense(r, c, nil)
	value.Scale(s, x.Value)

	t := result(value, x)
	if t.requiresGrad {
		t.backward = func() {
			if x.requiresGrad {
				var d mat.Dense
				d.Scale(s, t.Grad)
				x.Grad.Add(x.Grad, &d)
			}
		}
	}
	return t
}

// ReLU zeroes negative elements.
func ReLU(x *Tensor) *Tensor {
	r, c := x.Value.Dims()
	value := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := x.Value.RawRowView(i)
		out := value.RawRowView(i)
		for j, v := range row {
			if v > 0 {
				out[j] = v
			}
		}
	}

	t := result(value, x)
	if t.requiresGrad {
		t.backward = func() {
			if !x.requiresGrad {
				return
			}
			for i := 0; i < r; i++ {
				row := x.Value.RawRowView(i)
				dy := t.Grad.RawRowView(i)
				g := x.Grad.RawRowView(i)
				for j := range row {
					if row[j] > 0 {
						g[j] += dy[j]
					}
				}
			}
		}
	}
	return t
}

// RowSoftmax applies softmax independently to each row. Rows may contain
// -Inf entries from an additive mask; those positions get zero weight.
func RowSoftmax(x *Tensor) *Tensor {
	r, c := x.Value.Dims()
	value := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := x.Value.RawRowView(i)
		out := value.RawRowView(i)
		max := floats.Max(row)
		var sum float64
		for j, v := range row {
			e := math.Exp(v - max)
			out[j] = e
			sum += e
		}
		for j := range out {
			out[j] /= sum
		}
	}

	t := result(value, x)
	if t.requiresGrad {
		t.backward = func() {
			if !x.requiresGrad {
				return
			}
			for i := 0; i < r; i++ {
				y := value.RawRowView(i)
				dy := t.Grad.RawRowView(i)
				var dot float64
				for j := range y {
					dot += dy[j] * y[j]
				}
				g := x.Grad.RawRowView(i)
				for j := range y {
					g[j] += y[j] * (dy[j] - dot)
				}
			}
		}
	}
	return t
}

// LayerNorm normalizes each row to zero mean and unit variance, then
// applies the learned 1xC gain and bias.
func LayerNorm(x, gain, bias *Tensor, eps float64) *Tensor {
	r, c := x.Value.Dims()
	value := mat.NewDense(r, c, nil)
	xhat := mat.NewDense(r, c, nil)
	invStd := make([]float64, r)
	gainRow := gain.Value.RawRowView(0)
	biasRow := bias.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		row := x.Value.RawRowView(i)
		mean := floats.Sum(row) / float64(c)
		var variance float64
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(c)
		inv := 1 / math.Sqrt(variance+eps)
		invStd[i] = inv
		xh := xhat.RawRowView(i)
		out := value.RawRowView(i)
		for j, v := range row {
			xh[j] = (v - mean) * inv
			out[j] = gainRow[j]*xh[j] + biasRow[j]
		}
	}

	t := result(value, x, gain, bias)
	if t.requiresGrad {
		t.backward = func() {
			n := float64(c)
			for i := 0; i < r; i++ {
				dy := t.Grad.RawRowView(i)
				xh := xhat.RawRowView(i)
				if gain.requiresGrad {
					g := gain.Grad.RawRowView(0)
					for j := range dy {
						g[j] += dy[j] * xh[j]
					}
				}
				if bias.requiresGrad {
					g := bias.Grad.RawRowView(0)
					for j := range dy {
						g[j] += dy[j]
					}
				}
				if x.requiresGrad {
					dxhat := make([]float64, c)
					var m1, m2 float64
					for j := range dy {
						dxhat[j] = dy[j] * gainRow[j]
						m1 += dxhat[j]
						m2 += dxhat[j] * xh[j]
					}
					m1 /= n
					m2 /= n
					g := x.Grad.RawRowView(i)
					for j := range dy {
						g[j] += (dxhat[j] - m1 - xh[j]*m2) * invStd[i]
					}
				}
			}
		}
	}
	return t
}

// Dropout zeroes elements with probability rate and scales survivors by
// 1/(1-rate) so expected activations match evaluation mode. Outside
// training it is the identity.
func Dropout(x *Tensor, rate float64, training bool, rng *rand.Rand) *Tensor {
	if !training || rate == 0 {
		return x
	}
	r, c := x.Value.Dims()
	scale := 1 / (1 - rate)
	mask := mat.NewDense(r, c, nil)
	value := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := x.Value.RawRowView(i)
		m := mask.RawRowView(i)
		out := value.RawRowView(i)
		for j := range row {
			if rng.Float64() >= rate {
				m[j] = scale
				out[j] = row[j] * scale
			}
		}
	}

	t := result(value, x)
	if t.requiresGrad {
		t.backward = func() {
			if x.requiresGrad {
				var d mat.Dense
				d.MulElem(t.Grad, mask)
				x.Grad.Add(x.Grad, &d)
			}
		}
	}
	return t
}

// ConcatCols joins same-height tensors side by side.
func ConcatCols(xs ...*Tensor) *Tensor {
	rows, _ := xs[0].Value.Dims()
	total := 0
	for _, x := range xs {
		r, c := x.Value.Dims()
		if r != rows {
			panic(fmt.Sprintf("nn: concat rows %d and %d", rows, r))
		}
		total += c
	}
	value := mat.NewDense(rows, total, nil)
	offset := 0
	for _, x := range xs {
		_, c := x.Value.Dims()
		for i := 0; i < rows; i++ {
			copy(value.RawRowView(i)[offset:offset+c], x.Value.RawRowView(i))
		}
		offset += c
	}

	parents := make([]*Tensor, len(xs))
	copy(parents, xs)
	t := result(value, parents...)
	if t.requiresGrad {
		t.backward = func() {
			offset := 0
			for _, x := range xs {
				_, c := x.Value.Dims()
				if x.requiresGrad {
					for i := 0; i < rows; i++ {
						dy := t.Grad.RawRowView(i)[offset : offset+c]
						g := x.Grad.RawRowView(i)
						for j := range dy {
							g[j] += dy[j]
						}
					}
				}
				offset += c
			}
		}
	}
	return t
}

// EmbedRows gathers one embedding row per token id. The backward pass
// scatter-adds gradients into the embedding table.
func EmbedRows(embedding *Tensor, ids []int) *Tensor {
	rows, cols := embedding.Value.Dims()
	value := mat.NewDense(len(ids), cols, nil)
	for i, id := range ids {
		if id < 0 || id >= rows {
			panic(fmt.Sprintf("nn: embedding id %d outside table of %d rows", id, rows))
		}
		copy(value.RawRowView(i), embedding.Value.RawRowView(id))
	}

	t := result(value, embedding)
	if t.requiresGrad {
		t.backward = func() {
			if !embedding.requiresGrad {
				return
			}
			for i, id := range ids {
				dy := t.Grad.RawRowView(i)
				g := embedding.Grad.RawRowView(id)
				for j := range dy {
					g[j] += dy[j]
				}
			}
		}
	}
	return t
}

// MeanCrossEntropy returns the mean negative log-likelihood of the target
// ids under a row-wise softmax of the logits, as a 1x1 tensor.
func MeanCrossEntropy(logits *Tensor, targets []int) *Tensor {
	r, c := logits.Value.Dims()
	if len(targets) != r {
		panic(fmt.Sprintf("nn: %d targets for %d logit rows", len(targets), r))
	}
	probs := mat.NewDense(r, c, nil)
	var total float64
	for i := 0; i < r; i++ {
		id := targets[i]
		if id < 0 || id >= c {
			panic(fmt.Sprintf("nn: target %d outside vocabulary of %d", id, c))
		}
		row := logits.Value.RawRowView(i)
		p := probs.RawRowView(i)
		max := floats.Max(row)
		var sum float64
		for j, v := range row {
			e := math.Exp(v - max)
			p[j] = e
			sum += e
		}
		for j := range p {
			p[j] /= sum
		}
		total += max + math.Log(sum) - row[id]
	}
	value := mat.NewDense(1, 1, []float64{total / float64(r)})

	t := result(value, logits)
	if t.requiresGrad {
		t.backward = func() {
			if !logits.requiresGrad {
				return
			}
			scale := t.Grad.At(0, 0) / float64(r)
			for i := 0; i < r; i++ {
				p := probs.RawRowView(i)
				g := logits.Grad.RawRowView(i)
				for j := range p {
					d := p[j]
					if j == targets[i] {
						d--
					}
					g[j] += d * scale
				}
			}
		}
	}
	return t
}

// MeanScalars averages 1x1 tensors, typically per-example losses, into a
// single loss node.
func MeanScalars(xs ...*Tensor) *Tensor {
	if len(xs) == 0 {
		panic("nn: mean of no tensors")
	}
	var total float64
	for _, x := range xs {
		if r, c := x.Value.Dims(); r != 1 || c != 1 {
			panic(fmt.Sprintf("nn: mean of %dx%d tensor, want 1x1", r, c))
		}
		total += x.Value.At(0, 0)
	}
	n := float64(len(xs))
	value := mat.NewDense(1, 1, []float64{total / n})

	parents := make([]*Tensor, len(xs))
	copy(parents, xs)
	t := result(value, parents...)
	if t.requiresGrad {
		t.backward = func() {
			share := t.Grad.At(0, 0) / n
			for _, x := range xs {
				if x.requiresGrad {
					x.Grad.Set(0, 0, x.Grad.At(0, 0)+share)
				}
			}
		}
	}
	return t
}
