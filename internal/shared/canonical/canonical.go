// Package canonical produces the deterministic JSON encoding used for
// signature payloads and audit-event hashing: keys sorted lexicographically,
// no insignificant whitespace, strings normalised to UTF-8 NFC.
package canonical

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// JSON renders v as canonical JSON bytes. v must be built from maps, slices,
// strings, numbers, bools, and nil; encoding/json sorts map keys, which
// provides the lexicographic ordering.
func JSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return norm.NFC.String(val), nil
	case bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			normalized, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[norm.NFC.String(k)] = normalized
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[norm.NFC.String(k)] = norm.NFC.String(item)
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = norm.NFC.String(item)
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			normalized, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		// Round-trip structs and other shapes through encoding/json so the
		// result is still map/slice based and key-sorted on re-marshal.
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("canonical: %w", err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("canonical: %w", err)
		}
		return normalize(generic)
	}
}
