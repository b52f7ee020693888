package perron

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/addityasingh/perron/pkg/clock"
)

// Checkpoint names an instant in a request's lifecycle.
type Checkpoint int

const (
	// CheckpointSocket is recorded when a connection is assigned to the request.
	CheckpointSocket Checkpoint = iota
	// CheckpointLookup is recorded when DNS resolution finishes.
	CheckpointLookup
	// CheckpointConnect is recorded when the connection is ready for use.
	CheckpointConnect
	// CheckpointResponse is recorded when the response headers arrive.
	CheckpointResponse
	// CheckpointEnd is recorded when the response body has been read.
	CheckpointEnd
)

var checkpointNames = [...]string{"socket", "lookup", "connect", "response", "end"}

func (c Checkpoint) String() string {
	if c < 0 || int(c) >= len(checkpointNames) {
		return "unknown"
	}
	return checkpointNames[c]
}

// Timings holds the elapsed time, measured from the start of the request,
// at which each checkpoint was reached. A nil field was never reached.
type Timings struct {
	Socket   *time.Duration
	Lookup   *time.Duration
	Connect  *time.Duration
	Response *time.Duration
	End      *time.Duration
}

// TimingPhases holds durations derived from Timings. A phase is nil when
// either of its checkpoints is missing.
type TimingPhases struct {
	// Wait is the time until a connection was assigned.
	Wait *time.Duration
	// DNS is socket to lookup.
	DNS *time.Duration
	// TCP is lookup to connect.
	TCP *time.Duration
	// FirstByte is connect to response headers.
	FirstByte *time.Duration
	// Download is response headers to end of body.
	Download *time.Duration
	// Total is the elapsed time at end of body.
	Total *time.Duration
}

func (t *Timings) field(c Checkpoint) **time.Duration {
	switch c {
	case CheckpointSocket:
		return &t.Socket
	case CheckpointLookup:
		return &t.Lookup
	case CheckpointConnect:
		return &t.Connect
	case CheckpointResponse:
		return &t.Response
	case CheckpointEnd:
		return &t.End
	}
	return nil
}

// Get returns the elapsed time for c and whether it was recorded.
func (t Timings) Get(c Checkpoint) (time.Duration, bool) {
	p := t.field(c)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// Clone returns a deep copy so snapshots cannot be mutated through the
// recorder that produced them.
func (t Timings) Clone() Timings {
	var out Timings
	for c := CheckpointSocket; c <= CheckpointEnd; c++ {
		if d, ok := t.Get(c); ok {
			*out.field(c) = durationPtr(d)
		}
	}
	return out
}

// DerivePhases computes the phase durations for t.
func DerivePhases(t Timings) TimingPhases {
	return TimingPhases{
		Wait:      copyDuration(t.Socket),
		DNS:       between(t.Socket, t.Lookup),
		TCP:       between(t.Lookup, t.Connect),
		FirstByte: between(t.Connect, t.Response),
		Download:  between(t.Response, t.End),
		Total:     copyDuration(t.End),
	}
}

func between(from, to *time.Duration) *time.Duration {
	if from == nil || to == nil {
		return nil
	}
	return durationPtr(*to - *from)
}

func copyDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	return durationPtr(*d)
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

// MarshalJSON emits each recorded checkpoint in milliseconds.
func (t Timings) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Socket   *float64 `json:"socket,omitempty"`
		Lookup   *float64 `json:"lookup,omitempty"`
		Connect  *float64 `json:"connect,omitempty"`
		Response *float64 `json:"response,omitempty"`
		End      *float64 `json:"end,omitempty"`
	}{
		Socket:   millis(t.Socket),
		Lookup:   millis(t.Lookup),
		Connect:  millis(t.Connect),
		Response: millis(t.Response),
		End:      millis(t.End),
	})
}

// MarshalJSON emits each defined phase in milliseconds.
func (p TimingPhases) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Wait      *float64 `json:"wait,omitempty"`
		DNS       *float64 `json:"dns,omitempty"`
		TCP       *float64 `json:"tcp,omitempty"`
		FirstByte *float64 `json:"firstByte,omitempty"`
		Download  *float64 `json:"download,omitempty"`
		Total     *float64 `json:"total,omitempty"`
	}{
		Wait:      millis(p.Wait),
		DNS:       millis(p.DNS),
		TCP:       millis(p.TCP),
		FirstByte: millis(p.FirstByte),
		Download:  millis(p.Download),
		Total:     millis(p.Total),
	})
}

// String returns a human-readable representation of the defined phases.
func (p TimingPhases) String() string {
	var parts []string
	add := func(name string, d *time.Duration) {
		if d != nil {
			parts = append(parts, name+"="+d.String())
		}
	}
	add("wait", p.Wait)
	add("dns", p.DNS)
	add("tcp", p.TCP)
	add("firstByte", p.FirstByte)
	add("download", p.Download)
	add("total", p.Total)
	return strings.Join(parts, " ")
}

func millis(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	ms := float64(*d) / float64(time.Millisecond)
	return &ms
}

// recorder captures checkpoints for one execution. It is guarded by the
// owning execution's lock.
type recorder struct {
	enabled bool
	clock   clock.Clock
	start   time.Time
	timings Timings
}

func newRecorder(enabled bool, clk clock.Clock) *recorder {
	return &recorder{enabled: enabled, clock: clk}
}

func (r *recorder) begin() {
	r.start = r.clock.Now()
}

// mark records c at the current elapsed time unless it is already set.
func (r *recorder) mark(c Checkpoint) {
	if !r.enabled {
		return
	}
	r.set(c, r.clock.Now().Sub(r.start))
}

// markFrom copies src into dst when dst is unset.
func (r *recorder) markFrom(dst, src Checkpoint) {
	if !r.enabled {
		return
	}
	if d, ok := r.timings.Get(src); ok {
		r.set(dst, d)
	}
}

func (r *recorder) set(c Checkpoint, d time.Duration) {
	p := r.timings.field(c)
	if p == nil || *p != nil {
		return
	}
	// Never precede an earlier checkpoint.
	for prev := CheckpointSocket; prev < c; prev++ {
		if pd, ok := r.timings.Get(prev); ok && d < pd {
			d = pd
		}
	}
	*p = durationPtr(d)
}

func (r *recorder) snapshot() (Timings, TimingPhases) {
	t := r.timings.Clone()
	return t, DerivePhases(t)
}
