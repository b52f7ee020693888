package perron

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFaultMessages(t *testing.T) {
	tests := []struct {
		fault *Fault
		want  string
	}{
		{&Fault{Kind: FaultConnectionTimeout, Host: "api.example.com", Limit: 1000 * time.Millisecond},
			"connection timeout of 1000ms exceeded for api.example.com"},
		{&Fault{Kind: FaultReadTimeout, Host: "api.example.com", Limit: 250 * time.Millisecond},
			"read timeout of 250ms exceeded for api.example.com"},
		{&Fault{Kind: FaultStream, Host: "h", Err: io.ErrUnexpectedEOF},
			"response stream from h failed: unexpected EOF"},
		{&Fault{Kind: FaultTransport, Host: "h", Err: errors.New("connection refused")},
			"request to h failed: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.fault.Kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fault.Error())
		})
	}
}

func TestFaultIs(t *testing.T) {
	f := &Fault{Kind: FaultReadTimeout, Host: "h", Limit: time.Second}
	wrapped := fmt.Errorf("call failed: %w", &TimedError{Fault: f})

	assert.ErrorIs(t, wrapped, ErrReadTimeout)
	assert.NotErrorIs(t, wrapped, ErrConnectionTimeout)
	assert.Equal(t, FaultReadTimeout, KindOf(wrapped))
	assert.True(t, f.Timeout())

	cause := errors.New("boom")
	tf := &Fault{Kind: FaultTransport, Host: "h", Err: cause}
	assert.ErrorIs(t, tf, ErrTransport)
	assert.ErrorIs(t, tf, cause)
	assert.False(t, tf.Timeout())
}

func TestKindOfNonFault(t *testing.T) {
	assert.Equal(t, FaultKind(0), KindOf(errors.New("x")))
	assert.Equal(t, FaultKind(0), KindOf(nil))
	assert.Equal(t, "unknown", FaultKind(0).String())
}

func TestTimingsOf(t *testing.T) {
	te := &TimedError{
		Fault:   &Fault{Kind: FaultStream, Host: "h", Err: io.EOF},
		Timings: Timings{Socket: ms(1)},
	}
	timings, _, ok := TimingsOf(fmt.Errorf("wrap: %w", te))
	assert.True(t, ok)
	assert.Equal(t, time.Millisecond, *timings.Socket)

	_, _, ok = TimingsOf(&Fault{Kind: FaultStream})
	assert.False(t, ok)
}
