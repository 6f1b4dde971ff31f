// Package midifile serializes generated pitch sequences to standard MIDI
// files: one percussion track, evenly spaced onsets, fixed velocity.
package midifile

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
	"go.uber.org/zap"
)

const percussionChannel = 9

// Config fixes the timing grid of the written track. Note i starts at
// i * Delta ticks and lasts Delta ticks.
type Config struct {
	Delta           uint32
	Velocity        uint8
	TicksPerQuarter uint16
	Tempo           float64
}

func (c Config) validate() error {
	switch {
	case c.Delta < 1:
		return fmt.Errorf("midifile: delta %d ticks, want >= 1", c.Delta)
	case c.Velocity < 1 || c.Velocity > 127:
		return fmt.Errorf("midifile: velocity %d, want [1, 127]", c.Velocity)
	case c.TicksPerQuarter < 1:
		return fmt.Errorf("midifile: ticks per quarter %d, want >= 1", c.TicksPerQuarter)
	case c.Tempo <= 0:
		return fmt.Errorf("midifile: tempo %g bpm, want > 0", c.Tempo)
	}
	return nil
}

// Writer renders pitch sequences to SMF data.
type Writer struct {
	cfg    Config
	logger *zap.Logger
}

func NewWriter(cfg Config, logger *zap.Logger) (*Writer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{cfg: cfg, logger: logger}, nil
}

// Render builds a single-track MIDI file holding the sequence on the
// percussion channel.
func (w *Writer) Render(pitches []int) ([]byte, error) {
	if len(pitches) == 0 {
		return nil, errors.New("midifile: no pitches to write")
	}
	for i, p := range pitches {
		if p < 0 || p > 127 {
			return nil, fmt.Errorf("midifile: pitch %d at position %d outside MIDI range [0, 127]", p, i)
		}
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(w.cfg.TicksPerQuarter)

	var track smf.Track

	// Tempo meta event (FF 51 03 ...)
	microsecondsPerBeat := uint32(60000000.0 / w.cfg.Tempo)
	track.Add(0, smf.Message([]byte{
		0xFF, 0x51, 0x03,
		byte(microsecondsPerBeat >> 16),
		byte(microsecondsPerBeat >> 8),
		byte(microsecondsPerBeat),
	}))

	// Time signature 4/4
	track.Add(0, smf.Message([]byte{0xFF, 0x58, 0x04, 0x04, 0x02, 0x18, 0x08}))

	for _, p := range pitches {
		track.Add(0, midi.NoteOn(percussionChannel, uint8(p), w.cfg.Velocity))
		track.Add(w.cfg.Delta, midi.NoteOff(percussionChannel, uint8(p)))
	}

	track.Close(0)
	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write MIDI: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile renders the sequence and writes it to path, overwriting any
// existing file.
func (w *Writer) WriteFile(pitches []int, path string) error {
	data, err := w.Render(pitches)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write MIDI file: %w", err)
	}
	w.logger.Info("wrote MIDI file",
		zap.String("path", path),
		zap.Int("notes", len(pitches)),
		zap.Int("bytes", len(data)))
	return nil
}
