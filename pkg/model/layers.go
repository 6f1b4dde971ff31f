package model

import (
	"math/rand"

	"github.com/james-see/drumgen/pkg/nn"
)

const normEps = 1e-5

type norm struct {
	gain *nn.Tensor
	bias *nn.Tensor
}

func newNorm(d int) norm {
	return norm{
		gain: nn.NewConstParam(1, d, 1),
		bias: nn.NewConstParam(1, d, 0),
	}
}

func (n norm) apply(x *nn.Tensor) *nn.Tensor {
	return nn.LayerNorm(x, n.gain, n.bias, normEps)
}

func (n norm) params() []*nn.Tensor {
	return []*nn.Tensor{n.gain, n.bias}
}

type feedForward struct {
	w1 *nn.Tensor
	b1 *nn.Tensor
	w2 *nn.Tensor
	b2 *nn.Tensor
}

func newFeedForward(d, hidden int, rng *rand.Rand) *feedForward {
	return &feedForward{
		w1: nn.NewParam(d, hidden, initStd, rng),
		b1: nn.NewConstParam(1, hidden, 0),
		w2: nn.NewParam(hidden, d, initStd, rng),
		b2: nn.NewConstParam(1, d, 0),
	}
}

func (f *feedForward) forward(x *nn.Tensor, m *Model) *nn.Tensor {
	h := nn.ReLU(nn.AddBias(nn.MatMul(x, f.w1), f.b1))
	h = m.drop(h)
	return nn.AddBias(nn.MatMul(h, f.w2), f.b2)
}

func (f *feedForward) params() []*nn.Tensor {
	return []*nn.Tensor{f.w1, f.b1, f.w2, f.b2}
}

// encoderLayer is self-attention followed by the position-wise feed-forward
// block, each wrapped in a dropout + residual + layer norm.
type encoderLayer struct {
	self  *attention
	ff    *feedForward
	norm1 norm
	norm2 norm
}

func newEncoderLayer(cfg Config, rng *rand.Rand) *encoderLayer {
	return &encoderLayer{
		self:  newAttention(cfg.DModel, cfg.Heads, rng),
		ff:    newFeedForward(cfg.DModel, cfg.FFWidth, rng),
		norm1: newNorm(cfg.DModel),
		norm2: newNorm(cfg.DModel),
	}
}

func (l *encoderLayer) forward(x *nn.Tensor, m *Model) *nn.Tensor {
	attn := l.self.forward(x, x, x, nil)
	x = l.norm1.apply(nn.Add(x, m.drop(attn)))
	ff := l.ff.forward(x, m)
	return l.norm2.apply(nn.Add(x, m.drop(ff)))
}

func (l *encoderLayer) params() []*nn.Tensor {
	out := l.self.params()
	out = append(out, l.ff.params()...)
	out = append(out, l.norm1.params()...)
	return append(out, l.norm2.params()...)
}

// decoderLayer is masked self-attention, cross-attention over the encoder
// memory, then the feed-forward block, with the same residual wrapping.
type decoderLayer struct {
	self  *attention
	cross *attention
	ff    *feedForward
	norm1 norm
	norm2 norm
	norm3 norm
}

func newDecoderLayer(cfg Config, rng *rand.Rand) *decoderLayer {
	return &decoderLayer{
		self:  newAttention(cfg.DModel, cfg.Heads, rng),
		cross: newAttention(cfg.DModel, cfg.Heads, rng),
		ff:    newFeedForward(cfg.DModel, cfg.FFWidth, rng),
		norm1: newNorm(cfg.DModel),
		norm2: newNorm(cfg.DModel),
		norm3: newNorm(cfg.DModel),
	}
}

func (l *decoderLayer) forward(x, memory, mask *nn.Tensor, m *Model) *nn.Tensor {
	self := l.self.forward(x, x, x, mask)
	x = l.norm1.apply(nn.Add(x, m.drop(self)))
	cross := l.cross.forward(x, memory, memory, nil)
	x = l.norm2.apply(nn.Add(x, m.drop(cross)))
	ff := l.ff.forward(x, m)
	return l.norm3.apply(nn.Add(x, m.drop(ff)))
}

func (l *decoderLayer) params() []*nn.Tensor {
	out := l.self.params()
	out = append(out, l.cross.params()...)
	out = append(out, l.ff.params()...)
	out = append(out, l.norm1.params()...)
	out = append(out, l.norm2.params()...)
	return append(out, l.norm3.params()...)
}
