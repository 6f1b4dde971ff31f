// Package model implements the encoder-decoder network that maps a window
// of drum pitches to next-pitch logits: a shared scaled token embedding
// with sinusoidal positions, stacks of multi-head attention layers with
// post-norm residuals, and a linear projection back onto the pitch
// vocabulary.
package model

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/james-see/drumgen/pkg/nn"
)

const initStd = 0.02

// Config fixes the architecture. Checkpoints carry no metadata, so the
// same Config must be used to train, save and later reload a model.
type Config struct {
	VocabSize     int
	DModel        int
	Heads         int
	EncoderLayers int
	DecoderLayers int
	FFWidth       int
	Dropout       float64
	MaxLen        int
}

func (c Config) validate() error {
	switch {
	case c.VocabSize < 1:
		return fmt.Errorf("model: vocab size %d, want >= 1", c.VocabSize)
	case c.DModel < 1:
		return fmt.Errorf("model: d_model %d, want >= 1", c.DModel)
	case c.Heads < 1:
		return fmt.Errorf("model: heads %d, want >= 1", c.Heads)
	case c.DModel%c.Heads != 0:
		return fmt.Errorf("model: d_model %d not divisible by %d heads", c.DModel, c.Heads)
	case c.EncoderLayers < 1:
		return fmt.Errorf("model: encoder layers %d, want >= 1", c.EncoderLayers)
	case c.DecoderLayers < 1:
		return fmt.Errorf("model: decoder layers %d, want >= 1", c.DecoderLayers)
	case c.FFWidth < 1:
		return fmt.Errorf("model: feed-forward width %d, want >= 1", c.FFWidth)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("model: dropout %g, want [0, 1)", c.Dropout)
	case c.MaxLen < 1:
		return fmt.Errorf("model: max length %d, want >= 1", c.MaxLen)
	}
	return nil
}

// Model holds the trainable parameters and the precomputed positional
// table. It is not safe for concurrent use.
type Model struct {
	cfg      Config
	rng      *rand.Rand
	training bool

	embedding  *nn.Tensor
	positional *mat.Dense
	encoder    []*encoderLayer
	decoder    []*decoderLayer
	outWeight  *nn.Tensor
	outBias    *nn.Tensor

	params []*nn.Tensor
}

// New builds a model with freshly initialized parameters drawn from rng.
// A nil rng falls back to a time-seeded source.
func New(cfg Config, rng *rand.Rand) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	m := &Model{
		cfg:        cfg,
		rng:        rng,
		embedding:  nn.NewParam(cfg.VocabSize, cfg.DModel, initStd, rng),
		positional: nn.Sinusoid(cfg.MaxLen, cfg.DModel),
		outWeight:  nn.NewParam(cfg.DModel, cfg.VocabSize, initStd, rng),
		outBias:    nn.NewConstParam(1, cfg.VocabSize, 0),
	}
	for i := 0; i < cfg.EncoderLayers; i++ {
		m.encoder = append(m.encoder, newEncoderLayer(cfg, rng))
	}
	for i := 0; i < cfg.DecoderLayers; i++ {
		m.decoder = append(m.decoder, newDecoderLayer(cfg, rng))
	}

	m.params = append(m.params, m.embedding)
	for _, l := range m.encoder {
		m.params = append(m.params, l.params()...)
	}
	for _, l := range m.decoder {
		m.params = append(m.params, l.params()...)
	}
	m.params = append(m.params, m.outWeight, m.outBias)
	return m, nil
}

// Config returns the architecture the model was built with.
func (m *Model) Config() Config { return m.cfg }

// Params returns every trainable tensor in a fixed order. The order is
// part of the checkpoint format.
func (m *Model) Params() []*nn.Tensor { return m.params }

// ParamCount reports the total number of scalar parameters.
func (m *Model) ParamCount() int {
	total := 0
	for _, p := range m.params {
		r, c := p.Dims()
		total += r * c
	}
	return total
}

// SetTraining toggles dropout. Generation and evaluation run with
// training off, which makes the forward pass deterministic.
func (m *Model) SetTraining(on bool) { m.training = on }

// Forward encodes src, decodes tgt against the encoded memory under the
// given self-attention mask, and returns len(tgt) x VocabSize logits.
// The mask must be len(tgt) x len(tgt); CausalMask builds the usual one.
func (m *Model) Forward(src, tgt []int, mask *nn.Tensor) (*nn.Tensor, error) {
	if err := m.checkTokens("source", src); err != nil {
		return nil, err
	}
	if err := m.checkTokens("target", tgt); err != nil {
		return nil, err
	}
	t := len(tgt)
	if mask == nil {
		return nil, &ShapeError{Op: "decoder mask", Want: fmt.Sprintf("%dx%d", t, t), Got: "nil"}
	}
	mr, mc := mask.Dims()
	if mr != t || mc != t {
		return nil, &ShapeError{
			Op:   "decoder mask",
			Want: fmt.Sprintf("%dx%d", t, t),
			Got:  fmt.Sprintf("%dx%d", mr, mc),
		}
	}

	memory := m.embed(src)
	for _, l := range m.encoder {
		memory = l.forward(memory, m)
	}
	x := m.embed(tgt)
	for _, l := range m.decoder {
		x = l.forward(x, memory, mask, m)
	}
	return nn.AddBias(nn.MatMul(x, m.outWeight), m.outBias), nil
}

// embed looks up token rows, scales by sqrt(d_model), adds the positional
// rows and applies embedding dropout.
func (m *Model) embed(tokens []int) *nn.Tensor {
	x := nn.Scale(nn.EmbedRows(m.embedding, tokens), math.Sqrt(float64(m.cfg.DModel)))
	pe := nn.NewConst(mat.DenseCopyOf(m.positional.Slice(0, len(tokens), 0, m.cfg.DModel)))
	return m.drop(nn.Add(x, pe))
}

func (m *Model) drop(x *nn.Tensor) *nn.Tensor {
	return nn.Dropout(x, m.cfg.Dropout, m.training, m.rng)
}

func (m *Model) checkTokens(name string, tokens []int) error {
	if len(tokens) == 0 {
		return &ShapeError{Op: name + " sequence", Want: "length >= 1", Got: "length 0"}
	}
	if len(tokens) > m.cfg.MaxLen {
		return &ShapeError{
			Op:   name + " sequence",
			Want: fmt.Sprintf("length <= %d", m.cfg.MaxLen),
			Got:  fmt.Sprintf("length %d", len(tokens)),
		}
	}
	for i, tok := range tokens {
		if tok < 0 || tok >= m.cfg.VocabSize {
			return fmt.Errorf("model: %s token %d at position %d outside vocabulary [0, %d)",
				name, tok, i, m.cfg.VocabSize)
		}
	}
	return nil
}
