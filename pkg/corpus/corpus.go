// Package corpus turns MIDI recordings into flat percussion pitch
// sequences, one per file. Only note-on events on the percussion channel
// contribute; everything else in the file is ignored.
package corpus

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"
	"go.uber.org/zap"
)

// General MIDI reserves channel 10 (zero-based 9) for percussion.
const percussionChannel = 9

// ReadError wraps a MIDI file that could not be opened or parsed. Callers
// skip the file and continue the scan.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read corpus file %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// InsufficientDataError marks a file whose percussion part is too short to
// cut even one training window from.
type InsufficientDataError struct {
	Path  string
	Notes int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("corpus file %s has %d percussion notes, need at least %d", e.Path, e.Notes, e.Need)
}

// Extractor reads MIDI files and emits pitch sequences long enough to
// window at the configured sequence length.
type Extractor struct {
	minNotes int
	logger   *zap.Logger
}

// NewExtractor returns an extractor that requires seqLen+1 percussion
// notes per file, the minimum for one input/target pair.
func NewExtractor(seqLen int, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{minNotes: seqLen + 1, logger: logger}
}

// ExtractFile parses one MIDI file and returns its percussion pitches
// ordered by onset tick. Events at equal ticks keep file order.
func (e *Extractor) ExtractFile(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	seq, err := extract(data)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	if len(seq) < e.minNotes {
		return nil, &InsufficientDataError{Path: path, Notes: len(seq), Need: e.minNotes}
	}
	return seq, nil
}

// Extract runs ExtractFile over every path, logging and skipping files
// that fail instead of aborting the run.
func (e *Extractor) Extract(paths []string) [][]int {
	var sequences [][]int
	for _, path := range paths {
		seq, err := e.ExtractFile(path)
		if err != nil {
			e.logger.Warn("skipping corpus file", zap.String("path", path), zap.Error(err))
			continue
		}
		e.logger.Debug("extracted pitch sequence", zap.String("path", path), zap.Int("notes", len(seq)))
		sequences = append(sequences, seq)
	}
	return sequences
}

func extract(data []byte) ([]int, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	type noteEvent struct {
		tick  int64
		pitch int
	}

	var events []noteEvent
	for _, track := range s.Tracks {
		var currentTick int64
		for _, ev := range track {
			currentTick += int64(ev.Delta)

			msg := ev.Message
			if len(msg) < 3 {
				continue
			}
			status := msg[0]

			// Note On (0x90-0x9F) with nonzero velocity; velocity 0 is a
			// running-status note off.
			if status < 0x90 || status > 0x9F || msg[2] == 0 {
				continue
			}
			if status&0x0F != percussionChannel {
				continue
			}
			events = append(events, noteEvent{tick: currentTick, pitch: int(msg[1])})
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })

	seq := make([]int, len(events))
	for i, ev := range events {
		seq[i] = ev.pitch
	}
	return seq, nil
}

// IsMIDIPath reports whether path has a MIDI file extension.
func IsMIDIPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		return true
	}
	return false
}

// ScanDir walks root and returns every MIDI file path in lexical order.
func ScanDir(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsMIDIPath(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan corpus directory: %w", err)
	}
	return paths, nil
}
