// Package transport opens one gRPC connection per delivery attempt and issues
// the Deliver call over it.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/austindbirch/grpc_deliver/internal/auth"
	"github.com/austindbirch/grpc_deliver/internal/rfc822"
)

// ErrEndpoint wraps every endpoint URL that cannot be dialled.
var ErrEndpoint = errors.New("invalid endpoint")

// Conn is an established connection to a delivery service.
type Conn interface {
	Deliver(ctx context.Context, req *rfc822.Request) error
	Close() error
}

// Connector opens connections to endpoint URLs.
type Connector interface {
	Connect(ctx context.Context, endpoint string) (Conn, error)
}

// Endpoint is a parsed target URL.
type Endpoint struct {
	Address string // host:port
	TLS     bool
}

// ParseEndpoint accepts http:// and grpc:// (plaintext) and https:// and
// grpcs:// (TLS) URLs. A missing port defaults to 80 or 443.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w %q: %v", ErrEndpoint, raw, err)
	}
	var ep Endpoint
	port := "80"
	switch strings.ToLower(u.Scheme) {
	case "http", "grpc":
	case "https", "grpcs":
		ep.TLS = true
		port = "443"
	default:
		return Endpoint{}, fmt.Errorf("%w %q: unsupported scheme %q", ErrEndpoint, raw, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w %q: no host", ErrEndpoint, raw)
	}
	if p := u.Port(); p != "" {
		port = p
	}
	ep.Address = net.JoinHostPort(host, port)
	return ep, nil
}

// Credentials returns plaintext credentials, or TLS with cfg (system roots
// when nil) for TLS endpoints.
func Credentials(ep Endpoint, cfg *tls.Config) credentials.TransportCredentials {
	if !ep.TLS {
		return insecure.NewCredentials()
	}
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return credentials.NewTLS(cfg)
}

// Dialer is the production Connector. The zero value dials without call
// authentication.
type Dialer struct {
	// Signer, when set, attaches a bearer token to every call.
	Signer *auth.Signer
	// TLSConfig overrides the client TLS settings for https/grpcs endpoints.
	TLSConfig *tls.Config
	// Options are appended to the dial options, mostly for tests.
	Options []grpc.DialOption
}

// dialRecorder remembers why the most recent connection attempt failed: the
// TCP dial error or, once TCP is up, the TLS handshake error. A successful
// dial clears it.
type dialRecorder struct {
	d   net.Dialer
	mu  sync.Mutex
	err error
}

func (r *dialRecorder) record(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *dialRecorder) dial(ctx context.Context, addr string) (net.Conn, error) {
	c, err := r.d.DialContext(ctx, "tcp", addr)
	r.record(err)
	return c, err
}

func (r *dialRecorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// recordingCreds reports client handshake failures to a dialRecorder.
type recordingCreds struct {
	credentials.TransportCredentials
	rec *dialRecorder
}

func (c recordingCreds) ClientHandshake(ctx context.Context, authority string, raw net.Conn) (net.Conn, credentials.AuthInfo, error) {
	conn, info, err := c.TransportCredentials.ClientHandshake(ctx, authority, raw)
	if err != nil {
		c.rec.record(fmt.Errorf("tls handshake with %s: %w", authority, err))
	}
	return conn, info, err
}

func (c recordingCreds) Clone() credentials.TransportCredentials {
	return recordingCreds{TransportCredentials: c.TransportCredentials.Clone(), rec: c.rec}
}

// Connect dials endpoint and waits until the connection is ready or has
// failed. There is no deadline beyond ctx and the gRPC connect defaults.
func (d *Dialer) Connect(ctx context.Context, endpoint string) (Conn, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	rec := &dialRecorder{}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(recordingCreds{TransportCredentials: Credentials(ep, d.TLSConfig), rec: rec}),
		grpc.WithContextDialer(rec.dial),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	opts = append(opts, d.Options...)

	cc, err := grpc.NewClient("passthrough:///"+ep.Address, opts...)
	if err != nil {
		return nil, err
	}

	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return &conn{cc: cc, client: rfc822.NewDelivererClient(cc), signer: d.Signer}, nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			_ = cc.Close()
			if err := rec.lastErr(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("connection to %s failed", ep.Address)
		}
		if !cc.WaitForStateChange(ctx, state) {
			_ = cc.Close()
			return nil, ctx.Err()
		}
	}
}

type conn struct {
	cc     *grpc.ClientConn
	client rfc822.DelivererClient
	signer *auth.Signer
}

func (c *conn) Deliver(ctx context.Context, req *rfc822.Request) error {
	if c.signer != nil {
		var err error
		ctx, err = c.signer.Outgoing(ctx, req.TransactionID)
		if err != nil {
			return err
		}
	}
	_, err := c.client.Deliver(ctx, req)
	return err
}

func (c *conn) Close() error {
	return c.cc.Close()
}
