package platform

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record is one row as returned by the platform. Relationship fields hold
// nested maps.
type Record map[string]any

// ID returns the record's Id.
func (r Record) ID() string {
	s, _ := r.Lookup("Id")
	return AsString(s)
}

// Lookup walks a dotted path through nested relationship maps. Keys match
// case-insensitively when no exact key exists.
func (r Record) Lookup(path string) (any, bool) {
	if r == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := lookupKey(m, part)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Map returns the nested relationship map at path.
func (r Record) Map(path string) (map[string]any, bool) {
	v, ok := r.Lookup(path)
	if !ok {
		return nil, false
	}
	return asMap(v)
}

func lookupKey(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case Record:
		return map[string]any(m), m != nil
	}
	return nil, false
}

// AsString converts scalar values to a string; nil and maps become "".
func AsString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case []byte:
		return string(val)
	}
	return ""
}

// AsFloat converts numeric values. The second result is false for nil or
// non-numeric values.
func AsFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		return f, err == nil
	}
	return 0, false
}
