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

// UpdateInfo names a profile and the field patch to apply. A nil patch value
// removes the field. An empty Type is resolved from the loaded profiles.
type UpdateInfo struct {
	Name  string
	Type  string
	Patch profile.Fields
}

// UpdateProfile applies info to the stored profile and replaces the cached
// entry. With rePrompt every schema property is asked again first. Missing
// credentials abort the update silently; other failures are reported.
func (r *Registry) UpdateProfile(ctx context.Context, info UpdateInfo, rePrompt bool) bool {
	typ, name := info.Type, info.Name
	if typ == "" {
		p, ok := r.findByName(name)
		if !ok {
			r.errs.Handle(&NotFoundError{Name: name}, "profiles.update", "cannot update profile "+name)
			return false
		}
		typ, name = p.Type, p.Name
	}

	ok, err := r.updateProfile(ctx, typ, name, info.Patch, rePrompt)
	if errors.Is(err, store.ErrMissingCredentials) {
		r.logger.Debug("update skipped: missing credentials", zap.String("profile", name), zap.Error(err))
		return false
	}
	if err != nil {
		r.errs.Handle(err, "profiles.update", "cannot update profile "+name)
		return false
	}
	return ok
}

func (r *Registry) updateProfile(ctx context.Context, typ, name string, patch profile.Fields, rePrompt bool) (bool, error) {
	s, err := r.storeFor(ctx, typ)
	if err != nil {
		return false, err
	}
	current, err := s.Load(ctx, name)
	if err != nil {
		return false, err
	}

	fields := current.Fields
	if rePrompt {
		schema, ok := r.caps.Schema(typ)
		if !ok {
			return false, fmt.Errorf("registry: no schema for type %q", typ)
		}
		collected, ok, err := r.caps.CollectProfileDetails(ctx, r.collectPrompter(), fields, schema, true)
		if err != nil {
			return false, err
		}
		if !ok {
			r.prompts.Notify("Operation cancelled.")
			return false, nil
		}
		fields = collected
	}

	updated, err := s.Update(ctx, current.Name, profile.Merge(fields, patch), false)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.all = replaceProfile(r.all, updated)
	r.byType[typ] = replaceProfile(r.byType[typ], updated)
	r.mu.Unlock()
	if d, ok := r.defaults.Get(typ); ok && d.Name == updated.Name {
		r.defaults.Set(updated)
	}

	r.logger.Info("profile updated", zap.String("profile", updated.Name), zap.String("type", typ))
	r.publishLifecycle(ctx, eventbus.ActionUpdated, updated, newCorrelationID())
	return true, nil
}

func replaceProfile(list []profile.Profile, p profile.Profile) []profile.Profile {
	out := make([]profile.Profile, 0, len(list))
	replaced := false
	for _, existing := range list {
		if existing.Name == p.Name && existing.Type == p.Type {
			out = append(out, p.Clone())
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, p.Clone())
	}
	return out
}
