// Package config defines the explicit configuration passed to the drumgen
// components. Defaults can be overridden by DRUMGEN_* environment variables
// and again by CLI flags.
package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/james-see/drumgen/pkg/gm"
)

// ModelConfig holds the sequence-model shape. A checkpoint written under
// one shape can only be loaded back under the identical shape.
type ModelConfig struct {
	VocabSize     int     `envconfig:"VOCAB_SIZE"`
	DModel        int     `envconfig:"D_MODEL"`
	Heads         int     `envconfig:"HEADS"`
	EncoderLayers int     `envconfig:"ENCODER_LAYERS"`
	DecoderLayers int     `envconfig:"DECODER_LAYERS"`
	FFWidth       int     `envconfig:"FF_WIDTH"`
	Dropout       float64 `envconfig:"DROPOUT"`
	MaxLen        int     `envconfig:"MAX_LEN"`
}

// TrainConfig holds the optimization settings.
type TrainConfig struct {
	SeqLen           int     `envconfig:"SEQ_LEN"`
	BatchSize        int     `envconfig:"BATCH_SIZE"`
	Epochs           int     `envconfig:"EPOCHS"`
	LearningRate     float64 `envconfig:"LEARNING_RATE"`
	GradClip         float64 `envconfig:"GRAD_CLIP"`
	DetectDivergence bool    `envconfig:"DETECT_DIVERGENCE"`
}

// GenConfig holds the sampling settings. Temperature and RepetitionPenalty
// default to 1.0, which leaves the raw model distribution untouched.
type GenConfig struct {
	Length            int     `envconfig:"LENGTH"`
	Temperature       float64 `envconfig:"TEMPERATURE"`
	RepetitionPenalty float64 `envconfig:"REPETITION_PENALTY"`
}

// MIDIConfig holds the serializer settings.
type MIDIConfig struct {
	Delta           uint32  `envconfig:"DELTA"`
	Velocity        uint8   `envconfig:"VELOCITY"`
	TicksPerQuarter uint16  `envconfig:"TICKS_PER_QUARTER"`
	TempoBPM        float64 `envconfig:"TEMPO_BPM"`
}

// Config aggregates everything a run needs.
type Config struct {
	Device  string `envconfig:"DEVICE"`
	Kit     string `envconfig:"KIT"`
	RNGSeed int64  `envconfig:"RNG_SEED"`

	Model ModelConfig
	Train TrainConfig
	Gen   GenConfig
	MIDI  MIDIConfig
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device:  "cpu",
		Kit:     "gm",
		RNGSeed: 0,
		Model: ModelConfig{
			VocabSize:     128,
			DModel:        64,
			Heads:         4,
			EncoderLayers: 2,
			DecoderLayers: 2,
			FFWidth:       256,
			Dropout:       0.1,
			MaxLen:        128,
		},
		Train: TrainConfig{
			SeqLen:       32,
			BatchSize:    32,
			Epochs:       10,
			LearningRate: 1e-4,
			GradClip:     0,
		},
		Gen: GenConfig{
			Length:            64,
			Temperature:       1.0,
			RepetitionPenalty: 1.0,
		},
		MIDI: MIDIConfig{
			Delta:           120,
			Velocity:        100,
			TicksPerQuarter: 480,
			TempoBPM:        120,
		},
	}
}

// Load applies DRUMGEN_* environment overrides on top of the defaults.
func Load() (Config, error) {
	cfg := Default()
	if err := envconfig.Process("drumgen", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration before any component is built.
func (c Config) Validate() error {
	if c.Device != "cpu" {
		return fmt.Errorf("device %q is not supported; compute runs on cpu only", c.Device)
	}
	if _, err := gm.KitByName(c.Kit); err != nil {
		return err
	}
	if c.Model.VocabSize != 128 {
		return fmt.Errorf("vocab size is fixed to the MIDI pitch range, got %d", c.Model.VocabSize)
	}
	if c.Model.DModel <= 0 {
		return fmt.Errorf("d_model must be positive, got %d", c.Model.DModel)
	}
	if c.Model.Heads <= 0 {
		return fmt.Errorf("head count must be positive, got %d", c.Model.Heads)
	}
	if c.Model.DModel%c.Model.Heads != 0 {
		return fmt.Errorf("d_model %d is not divisible by head count %d", c.Model.DModel, c.Model.Heads)
	}
	if c.Model.EncoderLayers <= 0 || c.Model.DecoderLayers <= 0 {
		return fmt.Errorf("layer counts must be positive, got encoder %d decoder %d",
			c.Model.EncoderLayers, c.Model.DecoderLayers)
	}
	if c.Model.FFWidth <= 0 {
		return fmt.Errorf("feed-forward width must be positive, got %d", c.Model.FFWidth)
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0,1), got %g", c.Model.Dropout)
	}
	if c.Train.SeqLen < 2 {
		return fmt.Errorf("window length must be at least 2, got %d", c.Train.SeqLen)
	}
	if c.Model.MaxLen < c.Train.SeqLen {
		return fmt.Errorf("max_len %d is shorter than window length %d", c.Model.MaxLen, c.Train.SeqLen)
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Train.BatchSize)
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("epoch count must be positive, got %d", c.Train.Epochs)
	}
	if c.Train.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.Train.LearningRate)
	}
	if c.Train.GradClip < 0 {
		return fmt.Errorf("gradient clip must be zero or positive, got %g", c.Train.GradClip)
	}
	if c.Gen.Length <= 0 {
		return fmt.Errorf("generation length must be positive, got %d", c.Gen.Length)
	}
	if c.Gen.Temperature <= 0 {
		return fmt.Errorf("temperature must be positive, got %g", c.Gen.Temperature)
	}
	if c.Gen.RepetitionPenalty <= 0 {
		return fmt.Errorf("repetition penalty must be positive, got %g", c.Gen.RepetitionPenalty)
	}
	if c.MIDI.Delta == 0 {
		return errors.New("inter-onset delta must be positive")
	}
	if c.MIDI.Velocity > 127 {
		return fmt.Errorf("velocity must be within 0-127, got %d", c.MIDI.Velocity)
	}
	if c.MIDI.TicksPerQuarter == 0 {
		return errors.New("ticks per quarter must be positive")
	}
	if c.MIDI.TempoBPM <= 0 {
		return fmt.Errorf("tempo must be positive, got %g", c.MIDI.TempoBPM)
	}
	return nil
}
