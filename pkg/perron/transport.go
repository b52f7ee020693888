package perron

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"
	"sync/atomic"
)

var errSocketDestroyed = errors.New("socket destroyed")

type socketKey struct{}

// netSocket is the per-execution handle on the transport's connection. It
// can destroy a dial in progress, an assigned connection, and the request
// itself.
type netSocket struct {
	exec   *execution
	cancel context.CancelCauseFunc

	mu          sync.Mutex
	destroyed   bool
	conn        *trackedConn
	dialCancels []context.CancelFunc
}

func (s *netSocket) destroy(cause error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	conn := s.conn
	cancels := s.dialCancels
	s.dialCancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.cancel(cause)
}

// addDial registers a dial in progress. It returns false when the socket
// has already been destroyed.
func (s *netSocket) addDial(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	s.dialCancels = append(s.dialCancels, cancel)
	return true
}

func (s *netSocket) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// assign records the connection this request currently depends on: a fresh
// dial before its TLS handshake, then the connection the transport picked.
// It closes c and returns false when the socket has already been destroyed.
func (s *netSocket) assign(c *trackedConn) bool {
	s.mu.Lock()
	if !s.destroyed {
		s.conn = c
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	_ = c.Close()
	return false
}

// trackedConn reports read and write progress to whichever execution
// currently owns the pooled connection.
type trackedConn struct {
	net.Conn
	owner atomic.Pointer[execution]
}

func (c *trackedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.touch()
	}
	return n, err
}

func (c *trackedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.touch()
	}
	return n, err
}

func (c *trackedConn) touch() {
	if e := c.owner.Load(); e != nil {
		e.onActivity()
	}
}

func (c *trackedConn) attach(e *execution) {
	c.owner.Store(e)
}

func (c *trackedConn) detach(e *execution) {
	c.owner.CompareAndSwap(e, nil)
}

// unwrapTracked finds the trackedConn beneath TLS or other wrappers.
func unwrapTracked(conn net.Conn) *trackedConn {
	for i := 0; conn != nil && i < 4; i++ {
		if tc, ok := conn.(*trackedConn); ok {
			return tc
		}
		inner, ok := conn.(interface{ NetConn() net.Conn })
		if !ok {
			return nil
		}
		conn = inner.NetConn()
	}
	return nil
}

// dialContext is installed as the transport's DialContext. A dial started on
// behalf of an execution is the socket-assigned event for a new connection.
func (c *Client) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	sock, _ := ctx.Value(socketKey{}).(*netSocket)
	if sock != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		if !sock.addDial(cancel) {
			return nil, errSocketDestroyed
		}
		sock.exec.onSocket(true)
	}

	conn, err := c.dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	tc := &trackedConn{Conn: conn}
	// Held by the socket from here so destroy can close it mid-handshake.
	if sock != nil && !sock.assign(tc) {
		return nil, errSocketDestroyed
	}
	return tc, nil
}

// clientTrace maps httptrace hooks onto execution events.
func (c *Client) clientTrace(e *execution, sock *netSocket) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSDone: func(httptrace.DNSDoneInfo) {
			e.onLookup()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if tc := unwrapTracked(info.Conn); tc != nil {
				tc.attach(e)
				sock.assign(tc)
				e.onRelease(func() { tc.detach(e) })
			}
			e.onSocket(!info.Reused)
			e.onConnect()
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				e.onRequestWritten()
			}
		},
	}
}

// run drives one execution through the transport. It owns the request
// context and cancels it once the response body has been released.
func (c *Client) run(ctx context.Context, e *execution, sock *netSocket) {
	defer sock.cancel(nil)

	spec := e.req
	ctx = context.WithValue(ctx, socketKey{}, sock)
	ctx = httptrace.WithClientTrace(ctx, c.clientTrace(e, sock))

	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL(), body)
	e.begin()
	if err != nil {
		e.onTransportError(err)
		return
	}
	httpReq.Header = spec.Headers.Clone()
	if host := spec.Headers.Get("Host"); host != "" {
		httpReq.Host = host
	}

	resp, err := c.transport.RoundTrip(httpReq)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && sock.isDestroyed() {
			err = cause
		}
		e.onTransportError(err)
		return
	}
	defer resp.Body.Close()

	if !e.onResponse(resp.StatusCode, resp.Status, resp.Header) {
		return
	}
	pump(e, resp)
}

// pump streams the response body through the decompression filter into the
// execution.
func pump(e *execution, resp *http.Response) {
	r, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if errors.Is(err, io.EOF) {
		// An encoded but empty body, as sent with HEAD or 204.
		r, err = bytes.NewReader(nil), nil
	}
	if err != nil {
		e.onStreamError(err)
		return
	}

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-e.done:
			return
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			e.onData(buf[:n])
		}
		if err == io.EOF {
			e.onEnd()
			return
		}
		if err != nil {
			e.onStreamError(err)
			return
		}
	}
}
