package trainer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/james-see/drumgen/pkg/dataset"
	"github.com/james-see/drumgen/pkg/logging"
	"github.com/james-see/drumgen/pkg/model"
)

func tinyModel(t *testing.T, dropout float64) *model.Model {
	t.Helper()
	m, err := model.New(model.Config{
		VocabSize:     8,
		DModel:        8,
		Heads:         2,
		EncoderLayers: 1,
		DecoderLayers: 1,
		FFWidth:       16,
		Dropout:       dropout,
		MaxLen:        8,
	}, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	return m
}

func patternLoader(t *testing.T, batchSize int) *dataset.Loader {
	t.Helper()
	seq := make([]int, 30)
	for i := range seq {
		seq[i] = 1 + i%3
	}
	d, err := dataset.New([][]int{seq}, 4)
	require.NoError(t, err)
	l, err := dataset.NewLoader(d, batchSize, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return l
}

func TestRunReducesLoss(t *testing.T) {
	m := tinyModel(t, 0)
	tr, err := New(m, patternLoader(t, 4), Config{Epochs: 15, LearningRate: 0.01}, nil)
	require.NoError(t, err)

	history, err := tr.Run()
	require.NoError(t, err)
	require.Len(t, history, 15)

	for _, ep := range history {
		require.False(t, math.IsNaN(ep.AvgLoss), "epoch %d", ep.Epoch)
		require.False(t, math.IsInf(ep.AvgLoss, 0), "epoch %d", ep.Epoch)
	}
	require.Less(t, history[14].AvgLoss, history[0].AvgLoss)
}

func TestOnEpochReports(t *testing.T) {
	m := tinyModel(t, 0)
	loader := patternLoader(t, 8)
	logger, logs := logging.NewTestLogger()

	tr, err := New(m, loader, Config{Epochs: 3, LearningRate: 0.001}, logger)
	require.NoError(t, err)

	var seen []Epoch
	tr.OnEpoch = func(ep Epoch) { seen = append(seen, ep) }

	history, err := tr.Run()
	require.NoError(t, err)
	require.Equal(t, history, seen)
	require.Len(t, seen, 3)
	for i, ep := range seen {
		require.Equal(t, i+1, ep.Epoch)
		require.Equal(t, loader.Batches(), ep.Batches)
	}
	require.Equal(t, 3, logs.FilterMessage("epoch complete").Len())
}

func TestRunEmptyDataset(t *testing.T) {
	d, err := dataset.New(nil, 4)
	require.NoError(t, err)
	loader, err := dataset.NewLoader(d, 4, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	tr, err := New(tinyModel(t, 0), loader, Config{Epochs: 1, LearningRate: 0.001}, nil)
	require.NoError(t, err)

	_, err = tr.Run()
	require.ErrorContains(t, err, "no training examples")
}

func TestDivergenceDetected(t *testing.T) {
	m := tinyModel(t, 0)
	m.Params()[0].Value.Set(1, 0, math.NaN())

	tr, err := New(m, patternLoader(t, 4), Config{
		Epochs:           2,
		LearningRate:     0.001,
		DetectDivergence: true,
	}, nil)
	require.NoError(t, err)

	history, err := tr.Run()
	var diverged *DivergedError
	require.ErrorAs(t, err, &diverged)
	require.Equal(t, 1, diverged.Epoch)
	require.Equal(t, 1, diverged.Batch)
	require.True(t, math.IsNaN(diverged.Loss))
	require.Empty(t, history)
}

func TestDivergenceIgnoredByDefault(t *testing.T) {
	m := tinyModel(t, 0)
	m.Params()[0].Value.Set(1, 0, math.NaN())

	tr, err := New(m, patternLoader(t, 4), Config{Epochs: 1, LearningRate: 0.001}, nil)
	require.NoError(t, err)

	history, err := tr.Run()
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, math.IsNaN(history[0].AvgLoss))
}

func TestRunLeavesEvalMode(t *testing.T) {
	m := tinyModel(t, 0.5)
	tr, err := New(m, patternLoader(t, 8), Config{Epochs: 1, LearningRate: 0.001}, nil)
	require.NoError(t, err)

	_, err = tr.Run()
	require.NoError(t, err)

	src := []int{1, 2, 3}
	tgt := []int{2, 3, 1}
	mask := model.CausalMask(len(tgt))
	first, err := m.Forward(src, tgt, mask)
	require.NoError(t, err)
	second, err := m.Forward(src, tgt, mask)
	require.NoError(t, err)
	require.Equal(t, first.Value.RawMatrix().Data, second.Value.RawMatrix().Data)
}

func TestNewValidatesConfig(t *testing.T) {
	m := tinyModel(t, 0)
	loader := patternLoader(t, 4)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero epochs", Config{Epochs: 0, LearningRate: 0.001}},
		{"zero learning rate", Config{Epochs: 1, LearningRate: 0}},
		{"negative clip norm", Config{Epochs: 1, LearningRate: 0.001, ClipNorm: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(m, loader, tc.cfg, nil)
			require.Error(t, err)
		})
	}
}
