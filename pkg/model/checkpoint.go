package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// ConfigMismatchError means a checkpoint's size does not match the
// parameter count of the model trying to load it, which happens when the
// architecture differs from the one the checkpoint was saved under.
type ConfigMismatchError struct {
	Path      string
	WantBytes int
	GotBytes  int
	Params    int
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("checkpoint %s holds %d bytes but the configured model needs %d (%d parameters); load it with the configuration it was trained under",
		e.Path, e.GotBytes, e.WantBytes, e.Params)
}

// SaveParams writes every parameter's raw values as little-endian float64
// in the model's fixed parameter order. The blob carries no shape or
// version metadata, so loading requires an identically configured model.
func (m *Model) SaveParams(path string) error {
	var buf bytes.Buffer
	buf.Grow(m.ParamCount() * 8)
	for _, p := range m.Params() {
		if err := binary.Write(&buf, binary.LittleEndian, p.Value.RawMatrix().Data); err != nil {
			return fmt.Errorf("failed to encode parameters: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadParams replaces the model's parameters with the checkpoint at path.
func (m *Model) LoadParams(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	want := m.ParamCount() * 8
	if len(data) != want {
		return &ConfigMismatchError{
			Path:      path,
			WantBytes: want,
			GotBytes:  len(data),
			Params:    m.ParamCount(),
		}
	}
	r := bytes.NewReader(data)
	for _, p := range m.Params() {
		if err := binary.Read(r, binary.LittleEndian, p.Value.RawMatrix().Data); err != nil {
			return fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	}
	return nil
}
