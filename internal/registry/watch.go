package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/config/store"
)

// ChangeWatcher emits an event when the persisted profiles or settings
// change. *store.Store implements it.
type ChangeWatcher interface {
	Watch(ctx context.Context, interval time.Duration) (<-chan store.ChangeEvent, error)
}

// Watch refreshes the registry whenever w reports a profile change, for
// example an edit made by another process. onRefresh, when set, receives
// each report. Watch blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, w ChangeWatcher, interval time.Duration, onRefresh func(*RefreshReport)) error {
	events, err := w.Watch(ctx, interval)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !ev.ProfilesChanged {
				continue
			}
			r.logger.Debug("store changed, refreshing", zap.Int("profiles", ev.Snapshot.ProfileCount))
			report := r.Refresh(ctx)
			if onRefresh != nil {
				onRefresh(report)
			}
		}
	}
}
