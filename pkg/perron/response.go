package perron

import (
	"encoding/json"
	"net/http"
)

// Response is the fully materialized result of a successful execution.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	// Body is the decompressed response body decoded as UTF-8 text.
	Body string
	// Request is the resolved request that produced this response.
	Request *Request

	// Timings and Phases are set only when timing was enabled.
	Timings *Timings
	Phases  *TimingPhases
}

// Header returns the first value of the named response header.
func (r *Response) Header(key string) string {
	return r.Headers.Get(key)
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal([]byte(r.Body), v)
}
