package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/config/store"
	"github.com/nupi-ai/connprof/internal/eventbus"
	"github.com/nupi-ai/connprof/internal/profile"
)

// RefreshReport summarises a Refresh. Failures never abort the refresh.
type RefreshReport struct {
	Profiles        int
	Types           []string
	BaseFailure     error
	LoadFailures    map[string]error
	DefaultFailures map[string]error
}

// Err joins every recorded failure. A missing default is not a failure.
func (r *RefreshReport) Err() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.BaseFailure != nil {
		errs = append(errs, fmt.Errorf("base default: %w", r.BaseFailure))
	}
	for _, typ := range r.Types {
		if err := r.LoadFailures[typ]; err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", typ, err))
		}
		if err := r.DefaultFailures[typ]; err != nil {
			errs = append(errs, fmt.Errorf("%s default: %w", typ, err))
		}
	}
	return errors.Join(errs...)
}

func (r *RefreshReport) failures() int {
	n := len(r.LoadFailures) + len(r.DefaultFailures)
	if r.BaseFailure != nil {
		n++
	}
	return n
}

// Refresh rebuilds every cache from the store: the profile list, the type
// index, the default cache and the schema types. The validation ledger is
// cleared and validity reset. Consumer stores are not touched.
func (r *Registry) Refresh(ctx context.Context) *RefreshReport {
	report := &RefreshReport{
		LoadFailures:    make(map[string]error),
		DefaultFailures: make(map[string]error),
	}

	var base *profile.Profile
	if s, err := r.storeFor(ctx, profile.BaseType); err != nil {
		report.BaseFailure = err
	} else if p, err := s.LoadDefault(ctx); err != nil {
		if !store.IsNotFound(err) {
			report.BaseFailure = err
		}
	} else {
		base = &p
	}

	types := r.caps.Types()
	report.Types = types
	var all []profile.Profile
	byType := make(map[string][]profile.Profile, len(types))
	defaults := make(map[string]profile.Profile)

	for _, typ := range types {
		s, err := r.storeFor(ctx, typ)
		if err != nil {
			report.LoadFailures[typ] = err
			continue
		}
		list, err := s.LoadAll(ctx)
		if err != nil {
			report.LoadFailures[typ] = err
			r.logger.Warn("load profiles failed", zap.String("type", typ), zap.Error(err))
			continue
		}
		all = append(all, list...)
		byType[typ] = list

		def, err := s.LoadDefault(ctx)
		switch {
		case err == nil:
			defaults[typ] = def
		case store.IsNotFound(err):
		default:
			report.DefaultFailures[typ] = err
			r.logger.Warn("load default profile failed", zap.String("type", typ), zap.Error(err))
		}
	}

	var schemaTypes []profile.Schema
	for _, s := range r.storesInOrder() {
		configs, err := s.Configurations(ctx)
		if err != nil || len(configs) == 0 {
			continue
		}
		schemaTypes = configs
		break
	}

	r.mu.Lock()
	r.all = all
	r.byType = byType
	r.base = base
	r.schemaTypes = schemaTypes
	r.ledger = make(map[string]profile.Status)
	r.validity = profile.Invalid
	r.mu.Unlock()

	r.defaults.Reset()
	for _, p := range defaults {
		r.defaults.Set(p)
	}

	report.Profiles = len(all)
	if err := report.Err(); err != nil {
		r.logger.Warn("refresh completed with failures", zap.Int("profiles", report.Profiles), zap.Error(err))
	} else {
		r.logger.Debug("refresh completed", zap.Int("profiles", report.Profiles))
	}
	eventbus.Publish(ctx, r.bus, eventbus.Profiles.Refreshed, eventbus.SourceRegistry, eventbus.ProfilesRefreshedEvent{
		Profiles: report.Profiles,
		Types:    append([]string(nil), types...),
		Failures: report.failures(),
	})
	return report
}
