package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nupi-ai/connprof/internal/config/store"
	"github.com/nupi-ai/connprof/internal/eventbus"
	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/version"
)

const exportVersion = 1

// ExportDocument is the YAML form of a set of profiles.
type ExportDocument struct {
	Version   int               `yaml:"version"`
	Generator string            `yaml:"generator,omitempty"`
	Profiles  []ExportedProfile `yaml:"profiles"`
}

// ExportedProfile is one profile in an export. Secure fields are never
// written.
type ExportedProfile struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Default bool           `yaml:"default,omitempty"`
	Fields  profile.Fields `yaml:"fields,omitempty"`
}

// ImportReport lists what Import did with each profile.
type ImportReport struct {
	Imported []string
	Skipped  []string
	Failed   map[string]error
}

// Export writes the loaded profiles as YAML. With types only those types
// are written.
func (r *Registry) Export(w io.Writer, types ...string) error {
	doc := ExportDocument{Version: exportVersion, Generator: "connprof " + version.FormatVersion(version.String())}
	for _, p := range r.AllProfiles() {
		if len(types) > 0 && !slices.Contains(types, p.Type) {
			continue
		}
		fields := p.Fields.Clone()
		if schema, ok := r.caps.Schema(p.Type); ok {
			for _, key := range schema.SecureNames() {
				delete(fields, key)
			}
		}
		def, ok := r.defaults.Get(p.Type)
		doc.Profiles = append(doc.Profiles, ExportedProfile{
			Name:    p.Name,
			Type:    p.Type,
			Default: ok && def.Name == p.Name,
			Fields:  fields,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("registry: encode export: %w", err)
	}
	return enc.Close()
}

// Import reads an export document and saves every profile whose name is not
// taken. Fields are normalised against the type schema without prompting.
func (r *Registry) Import(ctx context.Context, rd io.Reader) (*ImportReport, error) {
	var doc ExportDocument
	if err := yaml.NewDecoder(rd).Decode(&doc); err != nil {
		return nil, fmt.Errorf("registry: decode import: %w", err)
	}
	if doc.Version != exportVersion {
		return nil, fmt.Errorf("registry: unsupported export version %d", doc.Version)
	}

	report := &ImportReport{Failed: make(map[string]error)}
	correlationID := newCorrelationID()
	for _, item := range doc.Profiles {
		if _, exists := r.findByName(item.Name); exists {
			report.Skipped = append(report.Skipped, item.Name)
			continue
		}
		saved, err := r.importOne(ctx, item)
		if errors.Is(err, store.ErrAlreadyExists) {
			report.Skipped = append(report.Skipped, item.Name)
			continue
		}
		if err != nil {
			report.Failed[item.Name] = err
			r.logger.Warn("import profile failed", zap.String("profile", item.Name), zap.Error(err))
			continue
		}
		report.Imported = append(report.Imported, saved.Name)
		r.publishLifecycle(ctx, eventbus.ActionCreated, saved, correlationID)
	}
	return report, nil
}

func (r *Registry) importOne(ctx context.Context, item ExportedProfile) (profile.Profile, error) {
	if item.Name == "" {
		return profile.Profile{}, fmt.Errorf("registry: imported profile has no name")
	}
	typ := item.Type
	if typ == "" {
		typ = profile.DefaultType
	}
	schema, ok := r.caps.Schema(typ)
	if !ok {
		return profile.Profile{}, fmt.Errorf("registry: unknown profile type %q", typ)
	}
	fields, err := schema.Normalize(profile.Fields(item.Fields))
	if err != nil {
		return profile.Profile{}, err
	}
	s, err := r.storeFor(ctx, typ)
	if err != nil {
		return profile.Profile{}, err
	}
	saved, err := s.Save(ctx, profile.Profile{Name: item.Name, Type: typ, Fields: fields})
	if err != nil {
		return profile.Profile{}, err
	}

	r.mu.Lock()
	r.all = append(r.all, saved.Clone())
	r.byType[typ] = append(r.byType[typ], saved.Clone())
	r.mu.Unlock()

	if item.Default {
		if err := r.SetDefault(ctx, typ, saved.Name); err != nil {
			r.logger.Warn("import default failed", zap.String("profile", saved.Name), zap.Error(err))
		}
	}
	return saved, nil
}
