package store

import (
	"context"
	"database/sql"
	"time"
)

// ChangeSnapshot captures update markers of the tracked tables.
type ChangeSnapshot struct {
	Profiles     string
	ProfileCount int
	Settings     string
}

// ChangeEvent describes what changed since the previous snapshot.
type ChangeEvent struct {
	ProfilesChanged bool
	SettingsChanged bool
	Snapshot        ChangeSnapshot
}

// Changed returns true when at least one tracked group changed.
func (e ChangeEvent) Changed() bool {
	return e.ProfilesChanged || e.SettingsChanged
}

// Watch polls the store and emits an event whenever profiles or settings
// change, including changes made by other processes. Deletions are seen
// through the profile count. Cancel ctx to stop; the channel is closed then.
// Intervals below 500ms are raised to 500ms.
func (s *Store) Watch(ctx context.Context, interval time.Duration) (<-chan ChangeEvent, error) {
	if s == nil {
		return nil, sql.ErrConnDone
	}
	if interval <= 0 {
		interval = time.Second
	}
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}

	initial, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan ChangeEvent, 1)
	go func() {
		defer close(out)

		last := initial
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next, err := s.snapshot(ctx)
				if err != nil {
					continue
				}
				ev := diffSnapshots(last, next)
				if !ev.Changed() {
					continue
				}
				select {
				case out <- ev:
					last = next
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *Store) snapshot(ctx context.Context) (ChangeSnapshot, error) {
	var snap ChangeSnapshot
	if err := s.db.QueryRowContext(ctx, `
		SELECT IFNULL(MAX(updated_at), ''), COUNT(*)
		FROM profiles
		WHERE instance_name = ?
	`, s.instanceName).Scan(&snap.Profiles, &snap.ProfileCount); err != nil {
		return ChangeSnapshot{}, err
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT IFNULL(MAX(updated_at), '')
		FROM settings
		WHERE instance_name = ?
	`, s.instanceName).Scan(&snap.Settings); err != nil {
		return ChangeSnapshot{}, err
	}
	return snap, nil
}

func diffSnapshots(prev, curr ChangeSnapshot) ChangeEvent {
	return ChangeEvent{
		ProfilesChanged: curr.Profiles != prev.Profiles || curr.ProfileCount != prev.ProfileCount,
		SettingsChanged: curr.Settings != prev.Settings,
		Snapshot:        curr,
	}
}
