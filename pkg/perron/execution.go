package perron

import (
	"net/http"
	"sync"

	"github.com/go-logr/logr"

	"github.com/addityasingh/perron/pkg/clock"
)

// socket is the transport resource an execution may destroy when one of its
// timers fires.
type socket interface {
	destroy(cause error)
}

type state int

const (
	stateInit state = iota
	stateAwaitingSocket
	stateConnecting
	stateConnected
	stateReused
	stateAwaitingResponse
	stateReceivingBody
	stateComplete
	stateFailed
)

var stateNames = [...]string{
	"init", "awaiting_socket", "connecting", "connected", "reused",
	"awaiting_response", "receiving_body", "complete", "failed",
}

func (s state) String() string {
	return stateNames[s]
}

func (s state) terminal() bool {
	return s == stateComplete || s == stateFailed
}

// execution is the lifecycle state machine of a single request. Transport
// events may arrive on any goroutine; every handler takes mu and checks the
// current state before acting, so once the execution is resolved all later
// events are no-ops.
type execution struct {
	mu    sync.Mutex
	req   *Request
	log   logr.Logger
	state state
	rec   *recorder
	gov   *governor
	sock  socket
	body  aggregator

	statusCode int
	status     string
	header     http.Header

	releases []func()

	done chan struct{}
	resp *Response
	err  error
}

func newExecution(req *Request, mode ReadTimeoutMode, sock socket, clk clock.Clock, log logr.Logger) *execution {
	e := &execution{
		req:  req,
		log:  log.WithValues("method", req.Method, "host", req.Hostname, "path", req.ResolvedPath()),
		sock: sock,
		rec:  newRecorder(req.Timing, clk),
		done: make(chan struct{}),
	}
	e.gov = newGovernor(clk, req.ConnectionTimeout, req.ReadTimeout, mode, e.onTimer)
	return e
}

// begin moves INIT to AWAITING_SOCKET and starts the elapsed-time origin.
func (e *execution) begin() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateInit {
		return
	}
	e.rec.begin()
	e.transition(stateAwaitingSocket)
}

// onRelease registers f to run when the execution reaches a terminal state.
// If it already has, f runs immediately.
func (e *execution) onRelease(f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.terminal() {
		f()
		return
	}
	e.releases = append(e.releases, f)
}

// onSocket handles socket assignment. A connecting socket arms the
// connection timer; a reused one is usable at once.
func (e *execution) onSocket(connecting bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateAwaitingSocket {
		return
	}
	e.rec.mark(CheckpointSocket)
	if connecting {
		e.transition(stateConnecting)
		e.gov.armConnect()
		return
	}
	e.rec.markFrom(CheckpointLookup, CheckpointSocket)
	e.rec.markFrom(CheckpointConnect, CheckpointSocket)
	e.transition(stateReused)
	e.gov.armRead()
}

func (e *execution) onLookup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateConnecting {
		return
	}
	e.rec.mark(CheckpointLookup)
}

func (e *execution) onConnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateConnecting {
		return
	}
	e.rec.mark(CheckpointConnect)
	e.transition(stateConnected)
	e.gov.connected()
}

// onRequestWritten marks the request as fully sent.
func (e *execution) onRequestWritten() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateConnected && e.state != stateReused {
		return
	}
	e.transition(stateAwaitingResponse)
	e.gov.activity()
}

// onResponse handles arrival of the response headers. It reports whether
// the caller should go on to stream the body.
func (e *execution) onResponse(statusCode int, status string, header http.Header) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateAwaitingSocket:
		// The transport never reported a socket.
		e.rec.mark(CheckpointSocket)
	case stateConnecting:
		e.gov.disarmConnect()
	case stateConnected, stateReused, stateAwaitingResponse:
	default:
		return false
	}

	e.rec.markFrom(CheckpointLookup, CheckpointSocket)
	e.rec.markFrom(CheckpointConnect, CheckpointSocket)
	e.rec.mark(CheckpointResponse)

	e.statusCode = statusCode
	e.status = status
	e.header = header
	e.transition(stateReceivingBody)
	e.gov.armRead()
	e.gov.activity()
	return true
}

// onData appends a body chunk.
func (e *execution) onData(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateReceivingBody {
		return
	}
	e.body.write(p)
	e.gov.activity()
}

// onActivity reports raw socket progress.
func (e *execution) onActivity() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.terminal() {
		return
	}
	e.gov.activity()
}

// onEnd completes the execution successfully.
func (e *execution) onEnd() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateReceivingBody {
		return
	}
	e.rec.mark(CheckpointEnd)

	resp := &Response{
		StatusCode: e.statusCode,
		Status:     e.status,
		Headers:    e.header,
		Body:       e.body.finish(),
		Request:    e.req,
	}
	if e.req.Timing {
		t, p := e.rec.snapshot()
		resp.Timings = &t
		resp.Phases = &p
	}
	e.log.V(1).Info("request complete", "status", e.statusCode)
	e.resolve(stateComplete, resp, nil)
}

func (e *execution) onTransportError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail(&Fault{Kind: FaultTransport, Host: e.req.Hostname, Err: err})
}

func (e *execution) onStreamError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail(&Fault{Kind: FaultStream, Host: e.req.Hostname, Err: err})
}

// onTimer is the governor's expiry callback. The socket is destroyed before
// the fault is published.
func (e *execution) onTimer(kind FaultKind, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.terminal() || !e.gov.expired(kind, gen) {
		return
	}
	f := &Fault{Kind: kind, Host: e.req.Hostname, Limit: e.gov.limit(kind)}
	if e.sock != nil {
		e.sock.destroy(f)
	}
	e.fail(f)
}

// fail resolves the execution with f. Caller holds mu.
func (e *execution) fail(f *Fault) {
	if e.state.terminal() {
		return
	}
	var err error = f
	if e.req.Timing {
		t, p := e.rec.snapshot()
		err = &TimedError{Fault: f, Timings: t, Phases: p}
	}
	e.body.discard()
	e.log.Error(f, "request failed", "kind", f.Kind.String(), "state", e.state.String())
	e.resolve(stateFailed, nil, err)
}

// resolve enters a terminal state. Caller holds mu.
func (e *execution) resolve(final state, resp *Response, err error) {
	e.transition(final)
	e.gov.stop()
	for _, f := range e.releases {
		f()
	}
	e.releases = nil
	e.resp = resp
	e.err = err
	close(e.done)
}

func (e *execution) transition(next state) {
	e.log.V(2).Info("transition", "from", e.state.String(), "to", next.String())
	e.state = next
}

// wait blocks until the execution resolves.
func (e *execution) wait() (*Response, error) {
	<-e.done
	return e.resp, e.err
}
