// Package dataset cuts fixed-width sliding windows out of pitch sequences
// to form next-token training pairs, and batches them for the trainer.
package dataset

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// Dataset is an ordered collection of (input, target) windows. A sequence
// of N pitches yields max(0, N-L) pairs for window length L; pair i is
// (seq[i:i+L], seq[i+1:i+L+1]), the input shifted one position.
type Dataset struct {
	window    int
	sequences [][]int
	starts    []int
	total     int
}

// New windows every sequence. Sequences shorter than window+1 contribute
// nothing. Example order is deterministic given the same sequence order.
func New(sequences [][]int, window int) (*Dataset, error) {
	if window < 2 {
		return nil, fmt.Errorf("dataset: window %d, want >= 2", window)
	}
	d := &Dataset{window: window}
	for _, seq := range sequences {
		n := len(seq) - window
		if n <= 0 {
			continue
		}
		d.sequences = append(d.sequences, seq)
		d.starts = append(d.starts, d.total)
		d.total += n
	}
	return d, nil
}

// Len reports the total number of training pairs.
func (d *Dataset) Len() int { return d.total }

// Window reports the configured window length.
func (d *Dataset) Window() int { return d.window }

// At returns pair i. The returned slices alias the underlying sequence
// and must not be mutated.
func (d *Dataset) At(i int) (input, target []int) {
	if i < 0 || i >= d.total {
		panic(fmt.Sprintf("dataset: index %d out of range [0, %d)", i, d.total))
	}
	s := sort.Search(len(d.starts), func(k int) bool { return d.starts[k] > i }) - 1
	off := i - d.starts[s]
	seq := d.sequences[s]
	return seq[off : off+d.window], seq[off+1 : off+1+d.window]
}

// Loader deals shuffled fixed-size batches out of a Dataset. Shuffling
// happens once per Reset; within a batch the shuffled order is preserved.
type Loader struct {
	data      *Dataset
	batchSize int
	rng       *rand.Rand
	order     []int
	next      int
}

// NewLoader returns a loader positioned at the start of a freshly
// shuffled epoch. A nil rng falls back to a time-seeded source.
func NewLoader(data *Dataset, batchSize int, rng *rand.Rand) (*Loader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("dataset: batch size %d, want >= 1", batchSize)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	l := &Loader{data: data, batchSize: batchSize, rng: rng}
	l.Reset()
	return l, nil
}

// Reset reshuffles the example order and rewinds to the first batch.
func (l *Loader) Reset() {
	l.order = l.rng.Perm(l.data.Len())
	l.next = 0
}

// Next returns the next batch. The final batch of an epoch may be short.
// ok is false once the epoch is exhausted; call Reset to start another.
func (l *Loader) Next() (inputs, targets [][]int, ok bool) {
	if l.next >= len(l.order) {
		return nil, nil, false
	}
	end := l.next + l.batchSize
	if end > len(l.order) {
		end = len(l.order)
	}
	for _, idx := range l.order[l.next:end] {
		in, tgt := l.data.At(idx)
		inputs = append(inputs, in)
		targets = append(targets, tgt)
	}
	l.next = end
	return inputs, targets, true
}

// Batches reports how many batches one epoch yields.
func (l *Loader) Batches() int {
	if l.data.Len() == 0 {
		return 0
	}
	return (l.data.Len() + l.batchSize - 1) / l.batchSize
}
