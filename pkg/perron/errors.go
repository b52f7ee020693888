package perron

import (
	"errors"
	"fmt"
	"time"
)

// FaultKind classifies why an execution failed.
type FaultKind int

const (
	// FaultTransport is a socket or protocol error reported by the transport.
	FaultTransport FaultKind = iota + 1
	// FaultStream is an error while reading or decompressing the body.
	FaultStream
	// FaultConnectionTimeout means a new connection was not established in time.
	FaultConnectionTimeout
	// FaultReadTimeout means a usable connection produced no response activity in time.
	FaultReadTimeout
)

// Sentinels matched by errors.Is against any *Fault of the same kind.
var (
	ErrTransport         = errors.New("transport error")
	ErrStream            = errors.New("stream error")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrReadTimeout       = errors.New("read timeout")
)

func (k FaultKind) String() string {
	switch k {
	case FaultTransport:
		return "transport"
	case FaultStream:
		return "stream"
	case FaultConnectionTimeout:
		return "connection_timeout"
	case FaultReadTimeout:
		return "read_timeout"
	}
	return "unknown"
}

func (k FaultKind) sentinel() error {
	switch k {
	case FaultTransport:
		return ErrTransport
	case FaultStream:
		return ErrStream
	case FaultConnectionTimeout:
		return ErrConnectionTimeout
	case FaultReadTimeout:
		return ErrReadTimeout
	}
	return nil
}

// Fault is the error outcome of an execution.
type Fault struct {
	Kind FaultKind
	// Host is the target hostname.
	Host string
	// Limit is the configured duration for timeout faults.
	Limit time.Duration
	// Err is the underlying cause for transport and stream faults.
	Err error
}

func (f *Fault) Error() string {
	switch f.Kind {
	case FaultConnectionTimeout:
		return fmt.Sprintf("connection timeout of %dms exceeded for %s", f.Limit.Milliseconds(), f.Host)
	case FaultReadTimeout:
		return fmt.Sprintf("read timeout of %dms exceeded for %s", f.Limit.Milliseconds(), f.Host)
	case FaultStream:
		return fmt.Sprintf("response stream from %s failed: %v", f.Host, f.Err)
	}
	return fmt.Sprintf("request to %s failed: %v", f.Host, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is reports whether target is the sentinel for f's kind.
func (f *Fault) Is(target error) bool {
	return target != nil && target == f.Kind.sentinel()
}

// Timeout reports whether the fault was raised by one of the two timers.
func (f *Fault) Timeout() bool {
	return f.Kind == FaultConnectionTimeout || f.Kind == FaultReadTimeout
}

// TimedError wraps a fault with the timings recorded up to the failure.
type TimedError struct {
	Fault   *Fault
	Timings Timings
	Phases  TimingPhases
}

func (e *TimedError) Error() string {
	return e.Fault.Error()
}

func (e *TimedError) Unwrap() error {
	return e.Fault
}

// KindOf returns the FaultKind carried by err, or zero if err is not a fault.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

// TimingsOf returns the timing snapshot carried by err, if any.
func TimingsOf(err error) (Timings, TimingPhases, bool) {
	var te *TimedError
	if errors.As(err, &te) {
		return te.Timings, te.Phases, true
	}
	return Timings{}, TimingPhases{}, false
}
