package capability

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nupi-ai/connprof/internal/profile"
)

// TypeSpec is the declarative description of a profile type: its schema,
// the transport kind that validates it, and the axes it serves.
type TypeSpec struct {
	profile.Schema `yaml:",inline"`
	Kind           string           `yaml:"kind,omitempty"`
	Axes           []profile.Domain `yaml:"axes,omitempty"`
}

type typesFile struct {
	Types []TypeSpec `yaml:"types"`
}

//go:embed builtin.yaml
var builtinYAML []byte

var builtinSpecs = mustParseSpecs(builtinYAML)

func mustParseSpecs(data []byte) []TypeSpec {
	specs, err := ParseTypeSpecs(data)
	if err != nil {
		panic(err)
	}
	return specs
}

// BuiltinSpecs returns the built-in type descriptions.
func BuiltinSpecs() []TypeSpec {
	return append([]TypeSpec(nil), builtinSpecs...)
}

// BuiltinSpec returns the built-in description of typ.
func BuiltinSpec(typ string) (TypeSpec, bool) {
	for _, s := range builtinSpecs {
		if s.Type == typ {
			return s, true
		}
	}
	return TypeSpec{}, false
}

// ParseTypeSpecs decodes a types document.
func ParseTypeSpecs(data []byte) ([]TypeSpec, error) {
	var doc typesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("capability: parse types: %w", err)
	}
	for i, spec := range doc.Types {
		if spec.Type == "" {
			return nil, fmt.Errorf("capability: types[%d]: type is required", i)
		}
		for j, axis := range spec.Axes {
			d, err := profile.ParseDomain(string(axis))
			if err != nil {
				return nil, fmt.Errorf("capability: type %s: %w", spec.Type, err)
			}
			doc.Types[i].Axes[j] = d
		}
	}
	return doc.Types, nil
}

// LoadTypeSpecs reads a types.yaml file. A missing file yields no specs.
func LoadTypeSpecs(path string) ([]TypeSpec, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("capability: read %s: %w", path, err)
	}
	return ParseTypeSpecs(data)
}
