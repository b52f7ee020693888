package perron

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/addityasingh/perron/pkg/clock"
)

// Defaults applied by DefaultConfig.
const (
	DefaultProtocol          = ProtocolHTTPS
	DefaultConnectionTimeout = 1000 * time.Millisecond
	DefaultReadTimeout       = 2000 * time.Millisecond
)

// ReadTimeoutMode selects how the read timeout is measured.
type ReadTimeoutMode int

const (
	// ReadTimeoutIdle fires only after a full window without any socket
	// activity. Bytes flowing in either direction keep the request alive.
	ReadTimeoutIdle ReadTimeoutMode = iota
	// ReadTimeoutFixed fires a fixed duration after the connection became
	// usable, regardless of activity.
	ReadTimeoutFixed
)

func (m ReadTimeoutMode) String() string {
	if m == ReadTimeoutFixed {
		return "fixed"
	}
	return "idle"
}

// Config holds the defaults applied to every Request executed by a Client.
type Config struct {
	// Protocol used when a Request leaves it empty. Default "https:".
	Protocol string
	// ConnectionTimeout bounds establishment of a new connection. Default 1s.
	ConnectionTimeout time.Duration
	// ReadTimeout bounds response inactivity once connected. Default 2s.
	ReadTimeout time.Duration
	// ReadTimeoutMode defaults to ReadTimeoutIdle.
	ReadTimeoutMode ReadTimeoutMode
	// Timing enables checkpoint instrumentation for all requests.
	Timing bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Protocol:          DefaultProtocol,
		ConnectionTimeout: DefaultConnectionTimeout,
		ReadTimeout:       DefaultReadTimeout,
		ReadTimeoutMode:   ReadTimeoutIdle,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Protocol == "" {
		c.Protocol = d.Protocol
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	return c
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithConfig replaces the client defaults. Zero fields fall back to
// DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(c *Client) {
		c.config = cfg.withDefaults()
	}
}

// WithConnectionTimeout sets the default connection timeout.
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.config.ConnectionTimeout = d
		}
	}
}

// WithReadTimeout sets the default read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.config.ReadTimeout = d
		}
	}
}

// WithReadTimeoutMode selects idle or fixed read timeout semantics.
func WithReadTimeoutMode(m ReadTimeoutMode) Option {
	return func(c *Client) {
		c.config.ReadTimeoutMode = m
	}
}

// WithTiming enables timing instrumentation for every request.
func WithTiming(enabled bool) Option {
	return func(c *Client) {
		c.config.Timing = enabled
	}
}

// WithKeepAlives configures whether connections are reused between requests.
// Keep-alives are enabled by default.
func WithKeepAlives(enabled bool) Option {
	return func(c *Client) {
		c.transport.DisableKeepAlives = !enabled
	}
}

// WithDialer sets the dialer used for new connections.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *Client) {
		c.dial = dialer.DialContext
	}
}

// WithDialContext sets a custom dial function for new connections.
func WithDialContext(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithTLSHandshakeTimeout sets the transport's TLS handshake timeout.
func WithTLSHandshakeTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.transport.TLSHandshakeTimeout = timeout
	}
}

// WithTLSClientConfig sets the TLS configuration for https requests.
func WithTLSClientConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.transport.TLSClientConfig = cfg
	}
}

// WithTransport uses a clone of base as the connection pool. The clone's
// DialContext is wrapped so executions can observe and destroy sockets;
// compression is always handled by the client itself.
func WithTransport(base *http.Transport) Option {
	return func(c *Client) {
		t := base.Clone()
		if t.DialContext != nil {
			c.dial = t.DialContext
		}
		c.transport = t
	}
}

// WithClock sets a custom clock for testing.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithLogger sets the logger used for lifecycle and fault logging.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}
