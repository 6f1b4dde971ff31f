package dataset

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func ascending(n int) []int {
	seq := make([]int, n)
	for i := range seq {
		seq[i] = i
	}
	return seq
}

func TestWindowCount(t *testing.T) {
	d, err := New([][]int{ascending(10)}, 4)
	require.NoError(t, err)
	require.Equal(t, 6, d.Len())

	input, target := d.At(0)
	require.Equal(t, []int{0, 1, 2, 3}, input)
	require.Equal(t, []int{1, 2, 3, 4}, target)

	input, target = d.At(5)
	require.Equal(t, []int{5, 6, 7, 8}, input)
	require.Equal(t, []int{6, 7, 8, 9}, target)
}

func TestShiftInvariant(t *testing.T) {
	seq := []int{36, 38, 42, 36, 46, 38, 36, 42, 38, 49}
	d, err := New([][]int{seq}, 4)
	require.NoError(t, err)

	for i := 0; i < d.Len(); i++ {
		input, target := d.At(i)
		for j := 0; j < len(input)-1; j++ {
			require.Equal(t, input[j+1], target[j], "pair %d position %d", i, j)
		}
	}
}

func TestShortSequencesSkipped(t *testing.T) {
	d, err := New([][]int{ascending(4), ascending(5), ascending(3)}, 4)
	require.NoError(t, err)
	require.Equal(t, 1, d.Len())

	input, target := d.At(0)
	require.Equal(t, []int{0, 1, 2, 3}, input)
	require.Equal(t, []int{1, 2, 3, 4}, target)
}

func TestMultiFileIndexing(t *testing.T) {
	first := []int{10, 11, 12, 13, 14, 15}
	second := []int{20, 21, 22, 23, 24, 25, 26}
	d, err := New([][]int{first, second}, 4)
	require.NoError(t, err)
	require.Equal(t, 5, d.Len())

	input, _ := d.At(1)
	require.Equal(t, []int{11, 12, 13, 14}, input)

	input, target := d.At(2)
	require.Equal(t, []int{20, 21, 22, 23}, input)
	require.Equal(t, []int{21, 22, 23, 24}, target)

	input, _ = d.At(4)
	require.Equal(t, []int{22, 23, 24, 25}, input)
}

func TestWindowsNeverCrossFiles(t *testing.T) {
	d, err := New([][]int{{1, 2, 3, 4, 5}, {6, 7, 8, 9, 10}}, 4)
	require.NoError(t, err)
	require.Equal(t, 2, d.Len())

	for i := 0; i < d.Len(); i++ {
		input, target := d.At(i)
		both := append(append([]int{}, input...), target...)
		low := both[0] <= 5
		for _, v := range both {
			require.Equal(t, low, v <= 5, "pair %d mixes files", i)
		}
	}
}

func TestAtPanicsOutOfRange(t *testing.T) {
	d, err := New([][]int{ascending(10)}, 4)
	require.NoError(t, err)
	require.Panics(t, func() { d.At(-1) })
	require.Panics(t, func() { d.At(6) })
}

func TestNewRejectsNarrowWindow(t *testing.T) {
	_, err := New([][]int{ascending(10)}, 1)
	require.Error(t, err)
}

func TestLoaderCoversEveryExampleOnce(t *testing.T) {
	d, err := New([][]int{ascending(12)}, 2)
	require.NoError(t, err)
	require.Equal(t, 10, d.Len())

	l, err := NewLoader(d, 4, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Equal(t, 3, l.Batches())

	seen := map[int]int{}
	sizes := []int{}
	for {
		inputs, targets, ok := l.Next()
		if !ok {
			break
		}
		require.Equal(t, len(inputs), len(targets))
		sizes = append(sizes, len(inputs))
		for _, in := range inputs {
			seen[in[0]]++
		}
	}
	require.Equal(t, []int{4, 4, 2}, sizes)
	for i := 0; i < 10; i++ {
		require.Equal(t, 1, seen[i], "example %d", i)
	}
}

func TestLoaderDeterministicWithSeed(t *testing.T) {
	d, err := New([][]int{ascending(12)}, 2)
	require.NoError(t, err)

	a, err := NewLoader(d, 3, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, err := NewLoader(d, 3, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	for {
		ai, at, aok := a.Next()
		bi, bt, bok := b.Next()
		require.Equal(t, aok, bok)
		if !aok {
			break
		}
		require.Equal(t, ai, bi)
		require.Equal(t, at, bt)
	}
}

func TestLoaderResetStartsNewEpoch(t *testing.T) {
	d, err := New([][]int{ascending(8)}, 2)
	require.NoError(t, err)
	l, err := NewLoader(d, 4, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	for epoch := 0; epoch < 2; epoch++ {
		seen := map[int]bool{}
		for {
			inputs, _, ok := l.Next()
			if !ok {
				break
			}
			for _, in := range inputs {
				seen[in[0]] = true
			}
		}
		require.Len(t, seen, d.Len(), "epoch %d", epoch)
		l.Reset()
	}
}

func TestLoaderEmptyDataset(t *testing.T) {
	d, err := New(nil, 4)
	require.NoError(t, err)
	l, err := NewLoader(d, 4, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	require.Equal(t, 0, l.Batches())
	_, _, ok := l.Next()
	require.False(t, ok)
}

func TestLoaderRejectsBadBatchSize(t *testing.T) {
	d, err := New([][]int{ascending(10)}, 4)
	require.NoError(t, err)
	_, err = NewLoader(d, 0, rand.New(rand.NewSource(1)))
	require.Error(t, err)
}
