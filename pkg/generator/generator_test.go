package generator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/james-see/drumgen/pkg/gm"
	"github.com/james-see/drumgen/pkg/model"
)

func testModel(t *testing.T, maxLen int) *model.Model {
	t.Helper()
	m, err := model.New(model.Config{
		VocabSize:     128,
		DModel:        8,
		Heads:         2,
		EncoderLayers: 1,
		DecoderLayers: 1,
		FFWidth:       16,
		Dropout:       0,
		MaxLen:        maxLen,
	}, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	return m
}

func defaultConfig() Config {
	return Config{
		Temperature:       1,
		RepetitionPenalty: 1,
		Lattice:           gm.GeneralMIDI.Lattice(),
	}
}

func TestGenerateLengthContract(t *testing.T) {
	g, err := New(testModel(t, 16), defaultConfig(), rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)

	seed := []int{36, 38, 40, 38}
	out, err := g.Generate(seed, 5)
	require.NoError(t, err)

	require.Len(t, out, len(seed)+5)
	require.Equal(t, seed, out[:len(seed)])
	for i, p := range out[len(seed):] {
		require.True(t, gm.GeneralMIDI.Contains(p), "generated pitch %d at step %d not in lattice", p, i)
	}
}

func TestGenerateZeroLength(t *testing.T) {
	g, err := New(testModel(t, 16), defaultConfig(), rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)

	seed := []int{42, 42, 46}
	out, err := g.Generate(seed, 0)
	require.NoError(t, err)
	require.Equal(t, seed, out)
}

func TestGenerateDeterministicWithSeededRNG(t *testing.T) {
	m := testModel(t, 16)
	seed := []int{36, 38}

	a, err := New(m, defaultConfig(), rand.New(rand.NewSource(11)), nil)
	require.NoError(t, err)
	first, err := a.Generate(seed, 8)
	require.NoError(t, err)

	b, err := New(m, defaultConfig(), rand.New(rand.NewSource(11)), nil)
	require.NoError(t, err)
	second, err := b.Generate(seed, 8)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestGenerateTruncatesLongContext(t *testing.T) {
	g, err := New(testModel(t, 8), defaultConfig(), rand.New(rand.NewSource(2)), nil)
	require.NoError(t, err)

	seed := []int{36, 38, 42, 36, 38, 42, 36, 38, 42, 36}
	out, err := g.Generate(seed, 4)
	require.NoError(t, err)
	require.Len(t, out, 14)
	require.Equal(t, seed, out[:len(seed)])
}

func TestGenerateLeavesParametersUntouched(t *testing.T) {
	m := testModel(t, 16)
	before := append([]float64{}, m.Params()[0].Value.RawMatrix().Data...)

	g, err := New(m, defaultConfig(), rand.New(rand.NewSource(4)), nil)
	require.NoError(t, err)
	_, err = g.Generate([]int{36, 38, 40, 38}, 6)
	require.NoError(t, err)

	require.Equal(t, before, m.Params()[0].Value.RawMatrix().Data)
}

func TestGenerateValidation(t *testing.T) {
	g, err := New(testModel(t, 16), defaultConfig(), rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)

	t.Run("empty seed", func(t *testing.T) {
		_, err := g.Generate(nil, 5)
		require.Error(t, err)
	})
	t.Run("negative length", func(t *testing.T) {
		_, err := g.Generate([]int{36}, -1)
		require.Error(t, err)
	})
	t.Run("seed pitch out of range", func(t *testing.T) {
		_, err := g.Generate([]int{36, 200}, 5)
		require.Error(t, err)
	})
}

func TestNewValidatesConfig(t *testing.T) {
	m := testModel(t, 16)
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero temperature", Config{Temperature: 0, RepetitionPenalty: 1, Lattice: []int{36}}},
		{"zero penalty", Config{Temperature: 1, RepetitionPenalty: 0, Lattice: []int{36}}},
		{"empty lattice", Config{Temperature: 1, RepetitionPenalty: 1}},
		{"lattice pitch out of range", Config{Temperature: 1, RepetitionPenalty: 1, Lattice: []int{36, 130}}},
		{"lattice not ascending", Config{Temperature: 1, RepetitionPenalty: 1, Lattice: []int{38, 36}}},
		{"lattice duplicate entry", Config{Temperature: 1, RepetitionPenalty: 1, Lattice: []int{36, 36}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(m, tc.cfg, nil, nil)
			require.Error(t, err)
		})
	}
}

func TestSoftmaxRow(t *testing.T) {
	probs := softmaxRow([]float64{0, 0})
	require.InDelta(t, 0.5, probs[0], 1e-12)
	require.InDelta(t, 0.5, probs[1], 1e-12)

	probs = softmaxRow([]float64{1000, 1000, 1000})
	for _, p := range probs {
		require.InDelta(t, 1.0/3, p, 1e-12)
	}
}

func TestSampleFollowsMass(t *testing.T) {
	g := &Generator{rng: rand.New(rand.NewSource(1))}
	for i := 0; i < 20; i++ {
		require.Equal(t, 1, g.sample([]float64{0, 1, 0}))
	}
	for i := 0; i < 20; i++ {
		require.Equal(t, 0, g.sample([]float64{1, 0, 0}))
	}
}

func TestApplyTemperature(t *testing.T) {
	g := &Generator{cfg: Config{Temperature: 2}}
	row := []float64{2, 4}
	g.applyTemperature(row)
	require.Equal(t, []float64{1, 2}, row)

	g = &Generator{cfg: Config{Temperature: 1}}
	row = []float64{2, 4}
	g.applyTemperature(row)
	require.Equal(t, []float64{2, 4}, row)
}

func TestPenalizeRepeats(t *testing.T) {
	g := &Generator{cfg: Config{RepetitionPenalty: 2}}
	row := []float64{2, -2, 1}
	g.penalizeRepeats(row, []int{0, 1, 0})
	require.Equal(t, []float64{1, -4, 1}, row)

	g = &Generator{cfg: Config{RepetitionPenalty: 1}}
	row = []float64{2, -2, 1}
	g.penalizeRepeats(row, []int{0, 1})
	require.Equal(t, []float64{2, -2, 1}, row)
}
