package perron

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/addityasingh/perron/pkg/clock"
)

// Connection pool defaults for the client's transport.
const (
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
)

// Doer executes a Request. Client implements it, and the observability
// wrappers decorate it.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Client executes requests, each resolving exactly once with a Response or
// an error. It is safe for concurrent use; executions share only the
// connection pool.
type Client struct {
	config    Config
	transport *http.Transport
	dial      func(ctx context.Context, network, addr string) (net.Conn, error)
	clock     clock.Clock
	log       logr.Logger

	// next is the outermost Doer in the decorator chain.
	next Doer
}

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	c := &Client{
		config: DefaultConfig(),
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        DefaultMaxIdleConns,
			MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
			ForceAttemptHTTP2:   true,
		},
		dial:  dialer.DialContext,
		clock: clock.New(),
		log:   logr.Discard(),
	}
	c.next = engine{c}

	for _, opt := range opts {
		opt(c)
	}

	// Sockets must be observable, and decoding is done by the client.
	c.transport.DialContext = c.dialContext
	c.transport.DisableCompression = true

	return c
}

// Config returns the client's effective defaults.
func (c *Client) Config() Config {
	return c.config
}

// Do executes req and blocks until it resolves.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.next.Do(ctx, req)
}

// Get is a convenience wrapper around Do for a GET of rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := NewRequest(http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Start executes req in the background and returns its pending outcome.
func (c *Client) Start(ctx context.Context, req *Request) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		p.resp, p.err = c.Do(ctx, req)
		close(p.done)
	}()
	return p
}

// CloseIdleConnections closes pooled connections that are not in use.
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

// execute runs the core lifecycle for one request.
func (c *Client) execute(ctx context.Context, req *Request) (*Response, error) {
	spec, err := req.resolve(c.config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	sock := &netSocket{cancel: cancel}
	e := newExecution(spec, c.config.ReadTimeoutMode, sock, c.clock, c.log)
	sock.exec = e

	go c.run(ctx, e, sock)
	return e.wait()
}

// engine is the innermost Doer.
type engine struct {
	c *Client
}

func (en engine) Do(ctx context.Context, req *Request) (*Response, error) {
	return en.c.execute(ctx, req)
}

// Pending is the single-resolution outcome of a request started with Start.
type Pending struct {
	done chan struct{}
	resp *Response
	err  error
}

// Done is closed once the request has resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request resolves and returns its outcome.
func (p *Pending) Wait() (*Response, error) {
	<-p.done
	return p.resp, p.err
}
