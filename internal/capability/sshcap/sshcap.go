// Package sshcap validates SSH profiles by completing a client handshake.
package sshcap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/profile"
)

const defaultHandshakeTimeout = 10 * time.Second

// ErrHostKeyMismatch is returned when the server key does not match the
// profile's hostKey fingerprint.
var ErrHostKeyMismatch = errors.New("sshcap: host key mismatch")

// Checker dials the profile's SSH server.
type Checker struct {
	dialer net.Dialer
}

// New returns an SSH checker.
func New() *Checker {
	return &Checker{}
}

// Address returns host:port for the profile.
func Address(p profile.Profile) (string, error) {
	host := strings.TrimSpace(p.Fields.String("host"))
	if host == "" {
		return "", fmt.Errorf("sshcap: profile %s has no host", p.Name)
	}
	return net.JoinHostPort(host, strconv.Itoa(p.Fields.Int("port", 22))), nil
}

// hostKeyCallback pins the server key when the profile names one. mismatch
// is set when the pinned key is rejected.
func hostKeyCallback(p profile.Profile, mismatch *bool) ssh.HostKeyCallback {
	want := strings.TrimSpace(p.Fields.String("hostKey"))
	if want == "" {
		return ssh.InsecureIgnoreHostKey() //nolint:gosec // no pinned key configured
	}
	return func(_ string, _ net.Addr, key ssh.PublicKey) error {
		if ssh.FingerprintSHA256(key) != want {
			*mismatch = true
			return fmt.Errorf("host key %s not pinned", ssh.FingerprintSHA256(key))
		}
		return nil
	}
}

func authMethods(p profile.Profile, password string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if path := p.Fields.String("privateKey"); path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sshcap: read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("sshcap: parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if password != "" {
		methods = append(methods, ssh.Password(password))
	}
	return methods, nil
}

func (c *Checker) connect(ctx context.Context, p profile.Profile, user, password string) (*ssh.Client, string, error) {
	addr, err := Address(p)
	if err != nil {
		return nil, "", err
	}
	auth, err := authMethods(p, password)
	if err != nil {
		return nil, "", err
	}
	timeout := defaultHandshakeTimeout
	if secs := p.Fields.Int("handshakeTimeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	var mismatch bool
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback(p, &mismatch),
		Timeout:         timeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, addr, fmt.Errorf("sshcap: dial %s: %w", addr, err)
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if mismatch {
			return nil, addr, fmt.Errorf("%w: %s", ErrHostKeyMismatch, addr)
		}
		return nil, addr, fmt.Errorf("sshcap: handshake %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(sc, chans, reqs), addr, nil
}

// ValidSession returns the SSH client as the session. Authentication
// failures yield a nil session; a host key mismatch is an error.
func (c *Checker) ValidSession(ctx context.Context, p profile.Profile, opts capability.SessionOptions) (*capability.Session, error) {
	user, password, ok := capability.Credentials(ctx, p, opts)
	if !ok {
		return nil, nil
	}
	client, addr, err := c.connect(ctx, p, user, password)
	if err != nil {
		if errors.Is(err, ErrHostKeyMismatch) {
			return nil, err
		}
		return nil, nil
	}
	return capability.NewSession(p.Name, p.Type, addr, client), nil
}

// Status reports active when a handshake with the stored credentials
// succeeds.
func (c *Checker) Status(ctx context.Context, p profile.Profile) (profile.Status, error) {
	client, _, err := c.connect(ctx, p, p.Fields.String("user"), p.Fields.String("password"))
	if err != nil {
		return profile.StatusInactive, nil
	}
	client.Close()
	return profile.StatusActive, nil
}
