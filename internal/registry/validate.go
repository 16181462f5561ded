package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/eventbus"
	"github.com/nupi-ai/connprof/internal/profile"
)

// ValidationResult is the outcome of CheckCurrentProfile. Session is set
// only when the profile is active; the caller owns it.
type ValidationResult struct {
	Status  profile.Status
	Name    string
	Session *capability.Session
}

// CheckCurrentProfile validates p by asking its capability for a session
// and then for the live status. Capability errors are reported and count as
// inactive. The registry-wide validity follows the latest completed check.
func (r *Registry) CheckCurrentProfile(ctx context.Context, p profile.Profile) ValidationResult {
	result := ValidationResult{Status: profile.StatusInactive, Name: p.Name}

	sess, err := r.caps.ValidSession(ctx, p, capability.SessionOptions{})
	if err != nil {
		r.errs.Handle(err, "profiles.check", "could not open a session for "+p.Name)
	}
	if err == nil && sess != nil {
		status, err := r.caps.Status(ctx, p)
		if err != nil {
			r.errs.Handle(err, "profiles.check", "could not read the status of "+p.Name)
			status = profile.StatusInactive
		}
		if status == profile.StatusActive {
			result.Status = profile.StatusActive
			result.Session = sess
		} else {
			sess.Close()
		}
	}

	validity := profile.Invalid
	if result.Status == profile.StatusActive {
		validity = profile.Valid
	}
	r.mu.Lock()
	r.validity = validity
	r.ledger[p.Name] = result.Status
	r.mu.Unlock()

	r.logger.Debug("profile checked", zap.String("profile", p.Name), zap.String("status", string(result.Status)))
	eventbus.Publish(ctx, r.bus, eventbus.Profiles.Validated, eventbus.SourceRegistry, eventbus.ProfileValidatedEvent{
		Name:   p.Name,
		Type:   p.Type,
		Active: result.Status == profile.StatusActive,
	})
	return result
}
