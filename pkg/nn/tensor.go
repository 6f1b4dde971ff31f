// Package nn implements the numeric primitives behind the sequence model:
// a small reverse-mode autodiff over gonum dense matrices, the sinusoidal
// position table, and the Adam optimizer. A fresh graph is built per
// forward pass and released once Backward has run.
package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Tensor is one node in the computation graph: a value matrix, space for
// its gradient, and the closure routing incoming gradient to its parents.
type Tensor struct {
	Value *mat.Dense
	Grad  *mat.Dense

	requiresGrad bool
	parents      []*Tensor
	backward     func()
}

// NewParam returns a trainable tensor initialized from a zero-mean normal
// distribution with the given standard deviation.
func NewParam(rows, cols int, std float64, rng *rand.Rand) *Tensor {
	value := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			value.Set(i, j, rng.NormFloat64()*std)
		}
	}
	return &Tensor{
		Value:        value,
		Grad:         mat.NewDense(rows, cols, nil),
		requiresGrad: true,
	}
}

// NewConstParam returns a trainable tensor with every element set to v.
// Used for biases (v=0) and normalization gains (v=1).
func NewConstParam(rows, cols int, v float64) *Tensor {
	value := mat.NewDense(rows, cols, nil)
	if v != 0 {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				value.Set(i, j, v)
			}
		}
	}
	return &Tensor{
		Value:        value,
		Grad:         mat.NewDense(rows, cols, nil),
		requiresGrad: true,
	}
}

// NewConst wraps a matrix that takes no part in optimization, such as an
// attention mask or the positional table.
func NewConst(m *mat.Dense) *Tensor {
	return &Tensor{Value: m}
}

// result builds the output node of an op. It tracks gradients if any
// parent does.
func result(value *mat.Dense, parents ...*Tensor) *Tensor {
	t := &Tensor{Value: value, parents: parents}
	for _, p := range parents {
		if p.requiresGrad {
			t.requiresGrad = true
			break
		}
	}
	if t.requiresGrad {
		r, c := value.Dims()
		t.Grad = mat.NewDense(r, c, nil)
	}
	return t
}

// Dims returns the value's dimensions.
func (t *Tensor) Dims() (rows, cols int) {
	return t.Value.Dims()
}

// RequiresGrad reports whether the tensor participates in optimization.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	if t.Grad != nil {
		t.Grad.Zero()
	}
}

// Backward propagates gradients from a 1x1 loss node through the graph in
// reverse topological order.
func (t *Tensor) Backward() {
	if r, c := t.Value.Dims(); r != 1 || c != 1 {
		panic(fmt.Sprintf("nn: backward must start from a 1x1 tensor, got %dx%d", r, c))
	}
	if !t.requiresGrad {
		return
	}

	order := make([]*Tensor, 0, 128)
	seen := make(map[*Tensor]bool)
	var visit func(*Tensor)
	visit = func(n *Tensor) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, p := range n.parents {
			visit(p)
		}
		order = append(order, n)
	}
	visit(t)

	t.Grad.Set(0, 0, 1)
	for i := len(order) - 1; i >= 0; i-- {
		if order[i].backward != nil {
			order[i].backward()
		}
	}
}
