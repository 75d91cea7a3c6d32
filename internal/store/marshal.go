package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// marshalMeta converts a metadata map to JSON TEXT for storage.
// Uses json.Encoder with HTML escaping disabled so stored addresses and
// URLs stay readable. Map keys are sorted by encoding/json.
func marshalMeta(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(meta); err != nil {
		return "", fmt.Errorf("marshal meta: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalMeta parses JSON TEXT to a metadata map.
// Numbers decode as json.Number so large integers keep their precision.
func unmarshalMeta(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
