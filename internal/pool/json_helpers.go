package pool

import (
	"bytes"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// Snapshot is the serialisable occupancy view of a manager.
type Snapshot struct {
	Manager  string        `json:"manager"`
	Scope    string        `json:"scope"`
	Pools    []RecordStats `json:"pools"`
	Capacity int           `json:"capacity"`
	Active   int           `json:"active"`
}

// TakeSnapshot captures occupancy for every pool of m.
func TakeSnapshot(m *Manager) Snapshot {
	snap := Snapshot{Manager: m.Name(), Scope: m.Scope(), Pools: m.Stats()}
	for _, stats := range snap.Pools {
		snap.Capacity += stats.Capacity
		snap.Active += stats.Active
	}
	return snap
}

// EncodeJSON marshals v without HTML escaping or a trailing newline.
func EncodeJSON(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// WriteSnapshot encodes m's snapshot to w.
func WriteSnapshot(w io.Writer, m *Manager) error {
	data, err := EncodeJSON(TakeSnapshot(m))
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write pool snapshot: %w", err)
	}
	return nil
}
