// Package generator samples new drum sequences from a trained model one
// pitch at a time, snapping every draw onto the percussion lattice so the
// output stays playable.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/james-see/drumgen/pkg/gm"
	"github.com/james-see/drumgen/pkg/model"
)

// Config controls sampling. Temperature and RepetitionPenalty of 1 leave
// the model's distribution untouched.
type Config struct {
	Temperature       float64
	RepetitionPenalty float64
	Lattice           []int
}

func (c Config) validate(vocab int) error {
	if c.Temperature <= 0 {
		return fmt.Errorf("generator: temperature %g, want > 0", c.Temperature)
	}
	if c.RepetitionPenalty <= 0 {
		return fmt.Errorf("generator: repetition penalty %g, want > 0", c.RepetitionPenalty)
	}
	if len(c.Lattice) == 0 {
		return errors.New("generator: lattice is empty")
	}
	for i, p := range c.Lattice {
		if p < 0 || p >= vocab {
			return fmt.Errorf("generator: lattice pitch %d outside vocabulary [0, %d)", p, vocab)
		}
		// Snap breaks ties toward the earlier entry; that only means
		// "toward the smaller pitch" if the lattice is ascending.
		if i > 0 && p <= c.Lattice[i-1] {
			return fmt.Errorf("generator: lattice must be strictly ascending, got %d after %d", p, c.Lattice[i-1])
		}
	}
	return nil
}

// Generator extends seed sequences autoregressively. It only reads model
// parameters; training against the same model must not run concurrently.
type Generator struct {
	cfg    Config
	model  *model.Model
	rng    *rand.Rand
	logger *zap.Logger
}

// New builds a generator around a trained model. A nil rng falls back to
// a time-seeded source, giving varied output across runs.
func New(m *model.Model, cfg Config, rng *rand.Rand, logger *zap.Logger) (*Generator, error) {
	if err := cfg.validate(m.Config().VocabSize); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg, model: m, rng: rng, logger: logger}, nil
}

// Generate appends length sampled pitches to seed and returns the full
// sequence. Each step feeds the entire running sequence through the model
// as both source and decoder input, truncated to the most recent max_len
// tokens once it grows past the model's window.
func (g *Generator) Generate(seed []int, length int) ([]int, error) {
	if len(seed) == 0 {
		return nil, errors.New("generator: seed must hold at least one pitch")
	}
	if length < 0 {
		return nil, fmt.Errorf("generator: length %d, want >= 0", length)
	}
	vocab := g.model.Config().VocabSize
	for i, p := range seed {
		if p < 0 || p >= vocab {
			return nil, fmt.Errorf("generator: seed pitch %d at position %d outside vocabulary [0, %d)", p, i, vocab)
		}
	}

	g.model.SetTraining(false)
	maxLen := g.model.Config().MaxLen

	out := make([]int, len(seed), len(seed)+length)
	copy(out, seed)

	for step := 0; step < length; step++ {
		ctx := out
		if len(ctx) > maxLen {
			ctx = ctx[len(ctx)-maxLen:]
		}

		logits, err := g.model.Forward(ctx, ctx, model.CausalMask(len(ctx)))
		if err != nil {
			return nil, fmt.Errorf("failed to sample step %d: %w", step, err)
		}

		row := lastRow(logits.Value.RawMatrix().Data, vocab)
		g.penalizeRepeats(row, ctx)
		g.applyTemperature(row)
		tok := g.sample(softmaxRow(row))
		out = append(out, gm.Snap(g.cfg.Lattice, tok))
	}

	g.logger.Debug("generation complete",
		zap.Int("seed_len", len(seed)),
		zap.Int("generated", length))
	return out, nil
}

func lastRow(data []float64, cols int) []float64 {
	row := make([]float64, cols)
	copy(row, data[len(data)-cols:])
	return row
}

// penalizeRepeats discounts logits of pitches already in the context:
// positive logits are divided by the penalty, negative ones multiplied.
func (g *Generator) penalizeRepeats(row []float64, ctx []int) {
	if g.cfg.RepetitionPenalty == 1 {
		return
	}
	seen := make(map[int]bool, len(ctx))
	for _, tok := range ctx {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if row[tok] > 0 {
			row[tok] /= g.cfg.RepetitionPenalty
		} else {
			row[tok] *= g.cfg.RepetitionPenalty
		}
	}
}

func (g *Generator) applyTemperature(row []float64) {
	if g.cfg.Temperature == 1 {
		return
	}
	for j := range row {
		row[j] /= g.cfg.Temperature
	}
}

func softmaxRow(row []float64) []float64 {
	max := floats.Max(row)
	probs := make([]float64, len(row))
	var sum float64
	for j, v := range row {
		probs[j] = math.Exp(v - max)
		sum += probs[j]
	}
	for j := range probs {
		probs[j] /= sum
	}
	return probs
}

// sample draws one index from a categorical distribution by walking the
// cumulative mass.
func (g *Generator) sample(probs []float64) int {
	r := g.rng.Float64()
	var cum float64
	for j, p := range probs {
		cum += p
		if r < cum {
			return j
		}
	}
	return len(probs) - 1
}
