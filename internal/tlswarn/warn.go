// Package tlswarn builds client TLS settings for profiles and warns once per
// profile when certificate verification is turned off.
package tlswarn

import (
	"crypto/tls"
	"log"
	"sync"

	"github.com/nupi-ai/connprof/internal/profile"
)

var warned sync.Map

// LogInsecure emits a warning the first time it is called for name.
func LogInsecure(name string) {
	if _, loaded := warned.LoadOrStore(name, struct{}{}); loaded {
		return
	}
	log.Printf("[TLS] WARNING: certificate and hostname verification is disabled for profile %q. Do NOT use in production.", name)
}

// ClientConfig returns the TLS client settings of p. A profile with
// rejectUnauthorized=false skips verification.
func ClientConfig(p profile.Profile) *tls.Config {
	if p.Fields.Bool("rejectUnauthorized", true) {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	LogInsecure(p.Name)
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opted out per profile
}
