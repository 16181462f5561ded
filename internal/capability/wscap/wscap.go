// Package wscap validates WebSocket profiles by completing an upgrade
// handshake against the profile's URL.
package wscap

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/tlswarn"
)

const (
	handshakeTimeout = 10 * time.Second
	pingTimeout      = 5 * time.Second
)

// Checker dials the profile's WebSocket endpoint.
type Checker struct{}

// New returns a WebSocket checker.
func New() *Checker {
	return &Checker{}
}

// Endpoint validates and returns the profile's ws:// or wss:// URL.
func Endpoint(p profile.Profile) (string, error) {
	raw := p.Fields.String("url")
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return "", fmt.Errorf("wscap: profile %s: invalid url %q", p.Name, raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("wscap: profile %s: url scheme must be ws or wss", p.Name)
	}
	return u.String(), nil
}

func authHeader(p profile.Profile, user, password string) http.Header {
	h := http.Header{}
	switch {
	case p.Fields.String("tokenValue") != "":
		h.Set("Authorization", "Bearer "+p.Fields.String("tokenValue"))
	case user != "":
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+password)))
	}
	return h
}

func dial(ctx context.Context, p profile.Profile, user, password string) (*websocket.Conn, string, int, error) {
	endpoint, err := Endpoint(p)
	if err != nil {
		return nil, "", 0, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	dialer.TLSClientConfig = tlswarn.ClientConfig(p)
	conn, resp, err := dialer.DialContext(ctx, endpoint, authHeader(p, user, password))
	code := 0
	if resp != nil {
		code = resp.StatusCode
		if resp.Body != nil {
			resp.Body.Close()
		}
	}
	if err != nil {
		return nil, endpoint, code, fmt.Errorf("wscap: dial %s: %w", endpoint, err)
	}
	return conn, endpoint, code, nil
}

// ValidSession returns the open WebSocket as the session. A handshake the
// server refused with an HTTP status yields a nil session.
func (c *Checker) ValidSession(ctx context.Context, p profile.Profile, opts capability.SessionOptions) (*capability.Session, error) {
	user, password, ok := capability.Credentials(ctx, p, opts)
	if !ok {
		return nil, nil
	}
	conn, endpoint, code, err := dial(ctx, p, user, password)
	if err != nil {
		if code != 0 {
			return nil, nil
		}
		return nil, err
	}
	return capability.NewSession(p.Name, p.Type, endpoint, capability.CloserFunc(func() error {
		deadline := time.Now().Add(pingTimeout)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		return conn.Close()
	})), nil
}

// Status reports active when the upgrade succeeds and the server accepts a
// ping.
func (c *Checker) Status(ctx context.Context, p profile.Profile) (profile.Status, error) {
	conn, _, _, err := dial(ctx, p, p.Fields.String("user"), p.Fields.String("password"))
	if err != nil {
		return profile.StatusInactive, nil
	}
	defer conn.Close()
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout)); err != nil {
		return profile.StatusInactive, nil
	}
	return profile.StatusActive, nil
}
