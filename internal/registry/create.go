package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/config/store"
	"github.com/nupi-ai/connprof/internal/eventbus"
	"github.com/nupi-ai/connprof/internal/profile"
)

func duplicateMessage(name string) string {
	return fmt.Sprintf("A profile named %q already exists. Choose a different name.", name)
}

// CreateNewConnection collects the fields of a new typ profile starting from
// basis, persists it and adds it to the cache. An empty typ means
// profile.DefaultType. It returns the stored name, or false when the user
// cancelled, the name is taken, or persisting failed.
func (r *Registry) CreateNewConnection(ctx context.Context, basis profile.Fields, name, typ string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		r.prompts.Notify("Profile name was not supplied. Operation cancelled.")
		return "", false
	}
	if typ == "" {
		typ = profile.DefaultType
	}
	if existing, ok := r.findByName(name); ok {
		r.prompts.Notify(duplicateMessage(existing.Name))
		return "", false
	}

	schema, ok := r.caps.Schema(typ)
	if !ok {
		r.errs.Handle(fmt.Errorf("%w: %q", capability.ErrUnknownType, typ), "profiles.create", "cannot create profile "+name)
		return "", false
	}
	fields, ok, err := r.caps.CollectProfileDetails(ctx, r.collectPrompter(), basis, schema, false)
	if err != nil {
		r.errs.Handle(err, "profiles.create", "invalid details for profile "+name)
		return "", false
	}
	if !ok {
		r.prompts.Notify("Operation cancelled.")
		return "", false
	}
	fields = schema.DropEmptyCredentials(fields)

	s, err := r.storeFor(ctx, typ)
	if err != nil {
		r.errs.Handle(err, "profiles.create", "cannot create profile "+name)
		return "", false
	}
	saved, err := s.Save(ctx, profile.Profile{Name: name, Type: typ, Fields: fields})
	if errors.Is(err, store.ErrAlreadyExists) {
		r.prompts.Notify(duplicateMessage(name))
		return "", false
	}
	if err != nil {
		r.errs.Handle(err, "profiles.create", "cannot create profile "+name)
		return "", false
	}
	if saved.Name == "" {
		saved = profile.Profile{Name: name, Type: typ, Fields: fields}
	}

	r.mu.Lock()
	r.all = append(r.all, saved.Clone())
	r.byType[typ] = append(r.byType[typ], saved.Clone())
	r.mu.Unlock()

	r.logger.Info("profile created", zap.String("profile", saved.Name), zap.String("type", typ))
	r.publishLifecycle(ctx, eventbus.ActionCreated, saved, newCorrelationID())
	return saved.Name, true
}
