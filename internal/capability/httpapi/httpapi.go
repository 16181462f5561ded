// Package httpapi validates z/OSMF style REST profiles by calling the
// service's info endpoint.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/tlswarn"
)

const (
	defaultInfoPath = "/zosmf/info"
	defaultTimeout  = 10 * time.Second
	maxDrain        = 4096
)

// Checker probes a REST endpoint with the profile's credentials.
type Checker struct {
	// InfoPath is appended to the profile's base URL.
	InfoPath string
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// New returns a checker for the z/OSMF info endpoint.
func New() *Checker {
	return &Checker{InfoPath: defaultInfoPath}
}

// BaseURL builds protocol://host:port[/basePath] from the profile fields.
func BaseURL(p profile.Profile) (string, error) {
	host := strings.TrimSpace(p.Fields.String("host"))
	if host == "" {
		return "", fmt.Errorf("httpapi: profile %s has no host", p.Name)
	}
	protocol := p.Fields.String("protocol")
	if protocol == "" {
		protocol = "https"
	}
	port := p.Fields.Int("port", 443)
	base := protocol + "://" + net.JoinHostPort(host, strconv.Itoa(port))
	if bp := strings.Trim(p.Fields.String("basePath"), "/"); bp != "" {
		base += "/" + bp
	}
	return base, nil
}

func (c *Checker) client(p profile.Profile) *http.Client {
	timeout := defaultTimeout
	if secs := p.Fields.Int("responseTimeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	rt := c.Transport
	if rt == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = tlswarn.ClientConfig(p)
		rt = tr
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}

// probe returns the HTTP status of the info endpoint.
func (c *Checker) probe(ctx context.Context, p profile.Profile, user, password string) (int, error) {
	base, err := BaseURL(p)
	if err != nil {
		return 0, err
	}
	path := c.InfoPath
	if path == "" {
		path = defaultInfoPath
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return 0, fmt.Errorf("httpapi: build request: %w", err)
	}
	req.Header.Set("X-CSRF-ZOSMF-HEADER", "true")
	switch {
	case user != "" && password != "":
		req.SetBasicAuth(user, password)
	case p.Fields.String("tokenValue") != "":
		req.Header.Set("Authorization", "Bearer "+p.Fields.String("tokenValue"))
	}

	resp, err := c.client(p).Do(req)
	if err != nil {
		return 0, fmt.Errorf("httpapi: %s: %w", base, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	return resp.StatusCode, nil
}

// ValidSession returns a session when the service accepts the credentials.
// A rejected login yields a nil session without error.
func (c *Checker) ValidSession(ctx context.Context, p profile.Profile, opts capability.SessionOptions) (*capability.Session, error) {
	user, password, ok := capability.Credentials(ctx, p, opts)
	if !ok {
		return nil, nil
	}
	code, err := c.probe(ctx, p, user, password)
	if err != nil {
		return nil, err
	}
	if code < 200 || code > 299 {
		return nil, nil
	}
	base, _ := BaseURL(p)
	return capability.NewSession(p.Name, p.Type, base, nil), nil
}

// Status reports active when the info endpoint answers 2xx. Unreachable
// services are inactive, not errors.
func (c *Checker) Status(ctx context.Context, p profile.Profile) (profile.Status, error) {
	code, err := c.probe(ctx, p, p.Fields.String("user"), p.Fields.String("password"))
	if err != nil || code < 200 || code > 299 {
		return profile.StatusInactive, nil
	}
	return profile.StatusActive, nil
}
