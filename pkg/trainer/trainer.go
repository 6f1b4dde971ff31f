// Package trainer runs teacher-forced optimization of the sequence model:
// each batch shifts its target windows right by one, forwards source and
// decoder input under a causal mask, and steps Adam on the mean
// cross-entropy against the true next tokens.
package trainer

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/james-see/drumgen/pkg/dataset"
	"github.com/james-see/drumgen/pkg/model"
	"github.com/james-see/drumgen/pkg/nn"
)

// Config controls the optimization loop.
type Config struct {
	Epochs       int
	LearningRate float64
	// ClipNorm rescales gradients whose global norm exceeds it; 0 turns
	// clipping off.
	ClipNorm float64
	// DetectDivergence aborts with a DivergedError when a batch loss goes
	// NaN or infinite, before the bad gradients reach the weights. Off by
	// default: a diverged run otherwise corrupts weights silently.
	DetectDivergence bool
}

func (c Config) validate() error {
	switch {
	case c.Epochs < 1:
		return fmt.Errorf("trainer: epochs %d, want >= 1", c.Epochs)
	case c.LearningRate <= 0:
		return fmt.Errorf("trainer: learning rate %g, want > 0", c.LearningRate)
	case c.ClipNorm < 0:
		return fmt.Errorf("trainer: clip norm %g, want >= 0", c.ClipNorm)
	}
	return nil
}

// Epoch summarizes one pass over the dataset.
type Epoch struct {
	Epoch    int
	Batches  int
	AvgLoss  float64
	Duration time.Duration
}

// DivergedError reports a NaN or infinite batch loss caught before the
// parameter update.
type DivergedError struct {
	Epoch int
	Batch int
	Loss  float64
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d batch %d with loss %g; lower the learning rate or enable gradient clipping",
		e.Epoch, e.Batch, e.Loss)
}

// Trainer owns the model parameters for the duration of a run. It is not
// safe to generate from the model while Run is in progress.
type Trainer struct {
	cfg    Config
	model  *model.Model
	loader *dataset.Loader
	opt    *nn.Adam
	logger *zap.Logger

	// OnEpoch, when set, is called after every epoch with its summary.
	OnEpoch func(Epoch)
}

// New wires a trainer to a model and a batch loader.
func New(m *model.Model, loader *dataset.Loader, cfg Config, logger *zap.Logger) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		cfg:    cfg,
		model:  m,
		loader: loader,
		opt:    nn.NewAdam(m.Params(), cfg.LearningRate, cfg.ClipNorm),
		logger: logger,
	}, nil
}

// Run trains for the configured epoch count and returns one summary per
// completed epoch. The model is left in evaluation mode.
func (t *Trainer) Run() ([]Epoch, error) {
	if t.loader.Batches() == 0 {
		return nil, errors.New("trainer: dataset produced no training examples")
	}

	t.model.SetTraining(true)
	defer t.model.SetTraining(false)

	t.logger.Info("training started",
		zap.Int("epochs", t.cfg.Epochs),
		zap.Int("batches_per_epoch", t.loader.Batches()),
		zap.Float64("learning_rate", t.cfg.LearningRate))

	history := make([]Epoch, 0, t.cfg.Epochs)
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		start := time.Now()
		t.loader.Reset()

		var sum float64
		batches := 0
		for {
			inputs, targets, ok := t.loader.Next()
			if !ok {
				break
			}
			batches++
			loss, err := t.step(epoch, batches, inputs, targets)
			if err != nil {
				return history, err
			}
			sum += loss
		}

		report := Epoch{
			Epoch:    epoch,
			Batches:  batches,
			AvgLoss:  sum / float64(batches),
			Duration: time.Since(start),
		}
		t.logger.Info("epoch complete",
			zap.Int("epoch", report.Epoch),
			zap.Int("batches", report.Batches),
			zap.Float64("avg_loss", report.AvgLoss),
			zap.Duration("duration", report.Duration))
		if t.OnEpoch != nil {
			t.OnEpoch(report)
		}
		history = append(history, report)
	}
	return history, nil
}

// step forwards one batch and updates the weights. Each target window is
// split into decoder input (all but the last token) and expected output
// (all but the first), so every window position supervises one
// next-token prediction.
func (t *Trainer) step(epoch, batch int, inputs, targets [][]int) (float64, error) {
	mask := model.CausalMask(len(targets[0]) - 1)

	losses := make([]*nn.Tensor, 0, len(inputs))
	for i := range inputs {
		tgt := targets[i]
		decoderIn := tgt[:len(tgt)-1]
		expected := tgt[1:]

		logits, err := t.model.Forward(inputs[i], decoderIn, mask)
		if err != nil {
			return 0, fmt.Errorf("failed to forward batch %d of epoch %d: %w", batch, epoch, err)
		}
		losses = append(losses, nn.MeanCrossEntropy(logits, expected))
	}

	loss := nn.MeanScalars(losses...)
	v := loss.Value.At(0, 0)
	if t.cfg.DetectDivergence && (math.IsNaN(v) || math.IsInf(v, 0)) {
		return v, &DivergedError{Epoch: epoch, Batch: batch, Loss: v}
	}

	loss.Backward()
	t.opt.Step()
	return v, nil
}
