// Package grpchealth validates gRPC profiles with the standard
// grpc.health.v1 Check RPC.
package grpchealth

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/tlswarn"
)

const (
	passthroughPrefix = "passthrough:///"
	checkTimeout      = 5 * time.Second
	retryDelay        = 500 * time.Millisecond
)

// Checker probes the health service of the profile's endpoint.
type Checker struct {
	// DialOptions are appended after the defaults (tests inject bufconn).
	DialOptions []grpc.DialOption
}

// New returns a health checker.
func New(opts ...grpc.DialOption) *Checker {
	return &Checker{DialOptions: opts}
}

// Target returns host:port for the profile.
func Target(p profile.Profile) (string, error) {
	host := strings.TrimSpace(p.Fields.String("host"))
	if host == "" {
		return "", fmt.Errorf("grpchealth: profile %s has no host", p.Name)
	}
	return net.JoinHostPort(host, strconv.Itoa(p.Fields.Int("port", 50051))), nil
}

func (c *Checker) dial(p profile.Profile) (*grpc.ClientConn, string, error) {
	addr, err := Target(p)
	if err != nil {
		return nil, "", err
	}
	creds := insecure.NewCredentials()
	if p.Fields.Bool("tls", false) {
		creds = credentials.NewTLS(tlswarn.ClientConfig(p))
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  retryDelay,
				Multiplier: 1.0,
				Jitter:     0.2,
				MaxDelay:   retryDelay,
			},
			MinConnectTimeout: checkTimeout,
		}),
	}
	opts = append(opts, c.DialOptions...)
	conn, err := grpc.NewClient(passthroughPrefix+addr, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("grpchealth: connect %s: %w", addr, err)
	}
	return conn, addr, nil
}

// probe returns nil only when the server reports SERVING.
func probe(ctx context.Context, conn *grpc.ClientConn, service string) error {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("grpchealth: check: %w", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpchealth: status %s (expected SERVING)", resp.Status)
	}
	return nil
}

// ValidSession keeps the connection open as the session when the server is
// serving. A non-serving server yields a nil session.
func (c *Checker) ValidSession(ctx context.Context, p profile.Profile, _ capability.SessionOptions) (*capability.Session, error) {
	conn, addr, err := c.dial(p)
	if err != nil {
		return nil, err
	}
	if err := probe(ctx, conn, p.Fields.String("service")); err != nil {
		conn.Close()
		return nil, nil
	}
	return capability.NewSession(p.Name, p.Type, addr, conn), nil
}

// Status reports active when the health service answers SERVING.
func (c *Checker) Status(ctx context.Context, p profile.Profile) (profile.Status, error) {
	conn, _, err := c.dial(p)
	if err != nil {
		return profile.StatusInactive, err
	}
	defer conn.Close()
	if err := probe(ctx, conn, p.Fields.String("service")); err != nil {
		return profile.StatusInactive, nil
	}
	return profile.StatusActive, nil
}
