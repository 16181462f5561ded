package profile

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the value kind of a schema property.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
)

// Property describes one field of a profile type.
type Property struct {
	Name        string `json:"name" yaml:"name"`
	Kind        Kind   `json:"type" yaml:"type"`
	Secure      bool   `json:"secure,omitempty" yaml:"secure,omitempty"`
	Optional    bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Schema is the field contract for one profile type.
type Schema struct {
	Type       string     `json:"type" yaml:"type"`
	Title      string     `json:"title,omitempty" yaml:"title,omitempty"`
	Properties []Property `json:"properties" yaml:"properties"`
}

// IsZero reports whether the schema declares nothing.
func (s Schema) IsZero() bool {
	return s.Type == "" && len(s.Properties) == 0
}

// Property looks up a property by name.
func (s Schema) Property(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// SecureNames returns the names of properties stored as secrets.
func (s Schema) SecureNames() []string {
	var out []string
	for _, p := range s.Properties {
		if p.Secure {
			out = append(out, p.Name)
		}
	}
	return out
}

// MissingPropertyError reports a required property with no value and no default.
type MissingPropertyError struct {
	Type     string
	Property string
}

func (e MissingPropertyError) Error() string {
	return fmt.Sprintf("profile: %s property %q is required", e.Type, e.Property)
}

// Normalize converts values to the kinds declared by the schema, fills
// defaults, and rejects missing required properties. Fields not declared by
// the schema are kept as-is.
func (s Schema) Normalize(fields Fields) (Fields, error) {
	out := fields.Clone()
	for _, prop := range s.Properties {
		raw, present := out[prop.Name]
		if !present || raw == nil || raw == "" {
			if prop.Default != nil {
				raw = prop.Default
				present = true
			} else if !present || raw == nil {
				if !prop.Optional && !prop.Secure {
					return nil, MissingPropertyError{Type: s.Type, Property: prop.Name}
				}
				delete(out, prop.Name)
				continue
			}
		}
		value, err := convert(prop.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("profile: %s property %q: %w", s.Type, prop.Name, err)
		}
		out[prop.Name] = value
	}
	return out, nil
}

// DropEmptyCredentials removes optional secure properties whose value is empty.
func (s Schema) DropEmptyCredentials(fields Fields) Fields {
	out := fields.Clone()
	for _, prop := range s.Properties {
		if !prop.Secure || !prop.Optional {
			continue
		}
		if v, ok := out[prop.Name]; ok && (v == nil || v == "") {
			delete(out, prop.Name)
		}
	}
	return out
}

func convert(kind Kind, v any) (any, error) {
	switch kind {
	case KindNumber:
		return toNumber(v)
	case KindBoolean:
		return toBool(v)
	case KindArray:
		return toArray(v)
	case KindString, "":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func toNumber(v any) (any, error) {
	var f float64
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		f = x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", x)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%v (%T) is not a number", v, v)
	}
	if f == math.Trunc(f) && math.Abs(f) < math.MaxInt32 {
		return int(f), nil
	}
	return f, nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", x)
		}
		return b, nil
	}
	return false, fmt.Errorf("%v (%T) is not a boolean", v, v)
}

func toArray(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, nil
	case string:
		var out []any
		for _, part := range strings.Split(x, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%v (%T) is not a list", v, v)
}
