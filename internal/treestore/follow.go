package treestore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/eventbus"
	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/registry"
)

// AxisSupporter reports whether a profile type serves a domain.
type AxisSupporter interface {
	Supports(typ string, axis profile.Domain) bool
}

// Follow keeps the store in step with profile lifecycle events: a created
// profile whose type serves the domain gets a session node, a deleted one
// loses its node, and registry refreshes trigger Refresh. The returned stop
// function ends following and waits for the handler to return.
func (s *Store) Follow(ctx context.Context, bus *eventbus.Bus, caps AxisSupporter) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	name := "treestore_" + string(s.domain)
	lifecycle := eventbus.SubscribeTo(bus, eventbus.Profiles.Lifecycle, eventbus.WithSubscriptionName(name+"_lifecycle"))
	refreshed := eventbus.SubscribeTo(bus, eventbus.Profiles.Refreshed, eventbus.WithSubscriptionName(name+"_refreshed"))

	var wg sync.WaitGroup
	wg.Add(2)
	go eventbus.Consume(ctx, lifecycle, &wg, func(ev eventbus.ProfileLifecycleEvent) {
		s.handleLifecycle(ctx, caps, ev)
	})
	go eventbus.Consume(ctx, refreshed, &wg, func(eventbus.ProfilesRefreshedEvent) {
		s.Refresh()
	})

	return func() {
		cancel()
		lifecycle.Close()
		refreshed.Close()
		wg.Wait()
	}
}

func (s *Store) handleLifecycle(ctx context.Context, caps AxisSupporter, ev eventbus.ProfileLifecycleEvent) {
	switch ev.Action {
	case eventbus.ActionCreated:
		if caps != nil && !caps.Supports(ev.Type, s.domain) {
			return
		}
		if err := s.AddSession(ctx, ev.Name); err != nil {
			s.logger.Warn("add session failed", zap.String("domain", string(s.domain)), zap.String("profile", ev.Name), zap.Error(err))
			return
		}
		s.Refresh()
	case eventbus.ActionDeleted:
		hidden := false
		for _, node := range s.SessionNodes() {
			if node.Profile == ev.Name {
				s.HideSession(node)
				hidden = true
			}
		}
		if !hidden {
			return
		}
		if err := s.Flush(ctx); err != nil {
			s.logger.Warn("save after delete failed", zap.String("domain", string(s.domain)), zap.Error(err))
		}
		s.Refresh()
	}
}

// Stores builds one store per domain.
func Stores(settings registry.SettingsStore, opts ...Option) []*Store {
	var out []*Store
	for _, d := range profile.Domains() {
		out = append(out, New(d, settings, opts...))
	}
	return out
}

// AsConsumers converts stores for registry.DeleteProfile.
func AsConsumers(stores []*Store) []registry.ConsumerStore {
	out := make([]registry.ConsumerStore, len(stores))
	for i, s := range stores {
		out[i] = s
	}
	return out
}
