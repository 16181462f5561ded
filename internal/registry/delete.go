package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/eventbus"
	"github.com/nupi-ai/connprof/internal/profile"
)

// DeleteProfile removes a profile from the store, then scrubs it from every
// consumer store, from the persisted domain settings and from the registry
// caches. Without target the user picks one. It returns the deleted name,
// or "" when the user cancelled or the store delete failed. Cleanup after
// the store delete is best-effort: failures are reported and the remaining
// steps still run.
func (r *Registry) DeleteProfile(ctx context.Context, stores []ConsumerStore, target *profile.Profile) string {
	var p profile.Profile
	if target != nil {
		p = target.Clone()
	} else {
		names := r.names()
		if len(names) == 0 {
			r.prompts.Notify("No profiles to delete.")
			return ""
		}
		name, ok := r.prompts.SelectProfile(ctx, "Select the profile to delete", names)
		if !ok {
			return ""
		}
		loaded, err := r.LoadNamedProfile(name, "")
		if err != nil {
			r.errs.Handle(err, "profiles.delete", "cannot delete profile "+name)
			return ""
		}
		p = loaded
	}
	if loaded, ok := r.findByName(p.Name); ok && (p.Type == "" || p.Type == loaded.Type) {
		p.Name, p.Type = loaded.Name, loaded.Type
	}

	if !r.prompts.Confirm(ctx, fmt.Sprintf("Are you sure you want to permanently delete profile %q?", p.Name)) {
		return ""
	}

	s, err := r.storeFor(ctx, p.Type)
	if err != nil {
		r.errs.Handle(err, "profiles.delete", "cannot delete profile "+p.Name)
		return ""
	}
	deleted, err := s.Delete(ctx, p.Name)
	if err != nil {
		r.errs.Handle(err, "profiles.delete", "cannot delete profile "+p.Name)
		return ""
	}
	// The store matches names ignoring case; scrub under the stored spelling.
	if deleted.Name != "" {
		p.Name = deleted.Name
	}

	for _, cs := range stores {
		r.scrubConsumer(ctx, cs, p.Name)
	}
	r.scrubSettings(ctx, p.Name)

	r.mu.Lock()
	r.all = removeProfile(r.all, p.Name)
	if list, ok := r.byType[p.Type]; ok {
		r.byType[p.Type] = removeProfile(list, p.Name)
	}
	delete(r.ledger, p.Name)
	r.mu.Unlock()
	r.defaults.RemoveName(p.Name)

	r.logger.Info("profile deleted", zap.String("profile", p.Name), zap.String("type", p.Type))
	r.publishLifecycle(ctx, eventbus.ActionDeleted, p, newCorrelationID())
	return p.Name
}

// scrubConsumer removes every trace of name from one consumer store. History
// tokens match ignoring case; favorite tokens and session nodes match
// exactly.
func (r *Registry) scrubConsumer(ctx context.Context, cs ConsumerStore, name string) {
	upper := strings.ToUpper(name)
	for _, entry := range cs.FileHistory() {
		if strings.ToUpper(profile.EntryToken(entry)) == upper {
			cs.RemoveFileHistory(entry)
		}
	}

	for _, fav := range cs.Favorites() {
		if profile.EntryToken(fav.Label) != name {
			continue
		}
		if err := cs.RemoveFavorite(ctx, fav); err != nil {
			r.errs.Handle(err, "profiles.delete", fmt.Sprintf("cannot remove favorite %q from %s", fav.Label, cs.TreeType()))
		}
	}

	hidden := false
	for _, node := range cs.SessionNodes() {
		if node.Profile == name {
			cs.HideSession(node)
			hidden = true
		}
	}
	if hidden {
		cs.Refresh()
	}
}

// scrubSettings rewrites the persisted settings of every domain without
// name.
func (r *Registry) scrubSettings(ctx context.Context, name string) {
	if r.settings == nil {
		return
	}
	upper := strings.ToUpper(name)
	for _, domain := range profile.Domains() {
		settings, err := r.settings.LoadDomainSettings(ctx, domain)
		if err != nil {
			r.errs.Handle(err, "profiles.delete", "cannot load "+string(domain)+" settings")
			continue
		}
		before := len(settings.Sessions) + len(settings.Favorites) + len(settings.History)
		settings.Sessions = slices.DeleteFunc(settings.Sessions, func(s string) bool { return s == name })
		settings.Favorites = slices.DeleteFunc(settings.Favorites, func(f string) bool { return profile.EntryToken(f) == name })
		settings.History = slices.DeleteFunc(settings.History, func(h string) bool { return strings.ToUpper(profile.EntryToken(h)) == upper })
		if len(settings.Sessions)+len(settings.Favorites)+len(settings.History) == before {
			continue
		}
		if err := r.settings.SaveDomainSettings(ctx, domain, settings); err != nil {
			r.errs.Handle(err, "profiles.delete", "cannot save "+string(domain)+" settings")
		}
	}
}

func removeProfile(list []profile.Profile, name string) []profile.Profile {
	out := make([]profile.Profile, 0, len(list))
	for _, p := range list {
		if p.Name != name {
			out = append(out, p)
		}
	}
	return out
}
