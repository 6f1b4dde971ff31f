package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam is the bias-corrected adaptive optimizer driving training. Clip, if
// positive, rescales gradients whose global norm exceeds it; the default of
// zero leaves gradients untouched.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	Clip  float64

	params []*Tensor
	m      []*mat.Dense
	v      []*mat.Dense
	step   int
}

// NewAdam returns an optimizer over the given parameters with the usual
// moment defaults.
func NewAdam(params []*Tensor, lr, clip float64) *Adam {
	o := &Adam{
		LR:     lr,
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-8,
		Clip:   clip,
		params: params,
		m:      make([]*mat.Dense, len(params)),
		v:      make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		o.m[i] = mat.NewDense(r, c, nil)
		o.v[i] = mat.NewDense(r, c, nil)
	}
	return o
}

// Step applies one update from the accumulated gradients, then zeroes them.
func (o *Adam) Step() {
	o.step++
	if o.Clip > 0 {
		o.clip()
	}
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))
	for i, p := range o.params {
		g := p.Grad.RawMatrix().Data
		m := o.m[i].RawMatrix().Data
		v := o.v[i].RawMatrix().Data
		w := p.Value.RawMatrix().Data
		for j := range g {
			m[j] = o.Beta1*m[j] + (1-o.Beta1)*g[j]
			v[j] = o.Beta2*v[j] + (1-o.Beta2)*g[j]*g[j]
			w[j] -= o.LR * (m[j] / c1) / (math.Sqrt(v[j]/c2) + o.Eps)
		}
		p.Grad.Zero()
	}
}

func (o *Adam) clip() {
	var sum float64
	for _, p := range o.params {
		for _, g := range p.Grad.RawMatrix().Data {
			sum += g * g
		}
	}
	norm := math.Sqrt(sum)
	if norm <= o.Clip {
		return
	}
	scale := o.Clip / norm
	for _, p := range o.params {
		g := p.Grad.RawMatrix().Data
		for j := range g {
			g[j] *= scale
		}
	}
}
