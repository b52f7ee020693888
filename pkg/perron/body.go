package perron

import (
	"golang.org/x/text/encoding/unicode"
)

// aggregator buffers response body chunks until end of stream.
type aggregator struct {
	chunks [][]byte
	length int
}

// write stores a copy of p; the caller may reuse p afterwards.
func (a *aggregator) write(p []byte) {
	if len(p) == 0 {
		return
	}
	a.chunks = append(a.chunks, append([]byte(nil), p...))
	a.length += len(p)
}

// finish joins the chunks and decodes them as UTF-8. The chunk buffers are
// released before returning even though the aggregator itself may stay
// reachable from pending callbacks.
func (a *aggregator) finish() string {
	buf := make([]byte, 0, a.length)
	for _, c := range a.chunks {
		buf = append(buf, c...)
	}
	a.discard()

	text, err := unicode.UTF8.NewDecoder().Bytes(buf)
	if err != nil {
		// The UTF-8 decoder replaces invalid sequences rather than failing.
		return string(buf)
	}
	return string(text)
}

func (a *aggregator) discard() {
	a.chunks = nil
	a.length = 0
}
