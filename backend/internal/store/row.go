package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ============================================================================
// Row accessors
// ============================================================================
//
// Backends hand values back in their native types (int64 from Neo4j and
// SQLite, float32/float64 from Postgres, []byte for JSON columns), so every
// read goes through these lenient accessors.

func (r Row) GetString(key string) string {
	val, ok := r[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

func (r Row) GetFloat(key string) float64 {
	f, _ := toFloat(r[key])
	return f
}

func (r Row) GetInt(key string) int {
	val, ok := r[key]
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return 0
}

// GetTime reads a timestamp stored natively or as an RFC3339 string
func (r Row) GetTime(key string) *time.Time {
	val, ok := r[key]
	if !ok || val == nil {
		return nil
	}
	switch v := val.(type) {
	case time.Time:
		if v.IsZero() {
			return nil
		}
		t := v
		return &t
	case *time.Time:
		return v
	case string:
		if v == "" {
			return nil
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &t
		}
	}
	return nil
}

// GetJSON decodes a JSON-ish column into a map. Native maps, JSON strings
// and raw bytes are all accepted; anything else yields an empty map.
func (r Row) GetJSON(key string) map[string]any {
	val, ok := r[key]
	if !ok || val == nil {
		return map[string]any{}
	}
	var raw []byte
	switch v := val.(type) {
	case map[string]any:
		return v
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		// Backends may return typed JSON wrappers; round-trip through json
		b, err := json.Marshal(v)
		if err != nil {
			return map[string]any{}
		}
		raw = b
	}
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// DecodeJSON unmarshals a JSON-ish column into dst, accepting every form
// GetJSON does
func (r Row) DecodeJSON(key string, dst any) error {
	raw, err := json.Marshal(r.GetJSON(key))
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// JSONDoc converts v into the generic map form JSON columns are written in
func JSONDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStringSlice reads a list column as strings, dropping non-string items
func (r Row) GetStringSlice(key string) []string {
	return StringSlice(r[key])
}

// StringSlice converts a decoded JSON list to strings
func StringSlice(val any) []string {
	switch v := val.(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return []string{}
}

// Clone returns a deep copy of the row's maps and slices
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			m[k] = cloneValue(item)
		}
		return m
	case Row:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, item := range t {
			s[i] = cloneValue(item)
		}
		return s
	case []string:
		return append([]string{}, t...)
	case []byte:
		return append([]byte{}, t...)
	}
	return v
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
