// Package profile defines connection profiles, their type schemas and the
// small value types shared by the store, the capability registry and the
// profile registry.
package profile

import (
	"encoding/json"
	"maps"
	"sort"
	"strings"
)

const (
	// BaseType is the always-present type whose default profile carries
	// connection values shared by every other type.
	BaseType = "base"
	// DefaultType is used when a profile is created without an explicit type.
	DefaultType = "zosmf"
)

// Profile is a named, typed bundle of connection fields.
type Profile struct {
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"type" yaml:"type"`
	Fields Fields `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Clone returns a deep copy of the profile fields.
func (p Profile) Clone() Profile {
	return Profile{Name: p.Name, Type: p.Type, Fields: p.Fields.Clone()}
}

// SameName reports whether name identifies this profile, ignoring case.
func (p Profile) SameName(name string) bool {
	return strings.EqualFold(p.Name, name)
}

// Fields holds type-specific profile values. A nil value inside a patch means
// "remove this field".
type Fields map[string]any

// Clone copies the map. Slice values are copied one level deep.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		if arr, ok := v.([]any); ok {
			v = append([]any(nil), arr...)
		}
		out[k] = v
	}
	return out
}

// String returns the value for key rendered as a string, or "" when absent.
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(data), `"`)
}

// Int returns the numeric value for key, or fallback when absent or not numeric.
func (f Fields) Int(key string, fallback int) int {
	v, ok := f[key]
	if !ok {
		return fallback
	}
	n, err := toNumber(v)
	if err != nil {
		return fallback
	}
	switch x := n.(type) {
	case int:
		return x
	case float64:
		return int(x)
	}
	return fallback
}

// Bool returns the boolean value for key, or fallback when absent.
func (f Fields) Bool(key string, fallback bool) bool {
	v, ok := f[key]
	if !ok {
		return fallback
	}
	b, err := toBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge applies patch onto base and returns the result. Keys whose patch
// value is nil are removed; all other keys overwrite. Neither input is modified.
func Merge(base, patch Fields) Fields {
	out := maps.Clone(base)
	if out == nil {
		out = Fields{}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// DecodeFields parses a JSON object, keeping integral numbers as int.
func DecodeFields(raw []byte) (Fields, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Fields{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	fields := make(Fields, len(out))
	for k, v := range out {
		fields[k] = fromJSONValue(v)
	}
	return fields, nil
}

func fromJSONValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = fromJSONValue(x[i])
		}
		return out
	default:
		return v
	}
}
