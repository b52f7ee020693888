package perron

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Protocols understood by the client.
const (
	ProtocolHTTPS = "https:"
	ProtocolHTTP  = "http:"
)

// ErrInvalidRequest is wrapped by every error returned for a Request that
// cannot be executed.
var ErrInvalidRequest = errors.New("perron: invalid request")

// Request describes a single outbound HTTP request.
type Request struct {
	// Method defaults to GET.
	Method string
	// Protocol is "https:" or "http:". Empty means the client default.
	Protocol string
	Hostname string
	// Port is optional; the protocol's default port is used when zero.
	Port int

	// Path is the fully resolved request target, including any query
	// string. When set it wins over Pathname and Query.
	Path string
	// Pathname and Query are combined into the request target when Path
	// is empty.
	Pathname string
	Query    url.Values

	// rawQuery is the query string as written in the URL given to
	// NewRequest. It is used verbatim while Query still matches it.
	rawQuery string

	Headers http.Header
	Body    []byte

	// Timing enables checkpoint instrumentation for this request. It is
	// also enabled when the client config enables it.
	Timing bool
	// ConnectionTimeout and ReadTimeout override the client defaults when
	// non-zero.
	ConnectionTimeout time.Duration
	ReadTimeout       time.Duration
}

// NewRequest builds a Request from a URL string.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported URL scheme %q", ErrInvalidRequest, u.Scheme)
	}

	r := &Request{
		Method:   method,
		Protocol: u.Scheme + ":",
		Hostname: u.Hostname(),
		Pathname: u.EscapedPath(),
		Query:    u.Query(),
		rawQuery: u.RawQuery,
		Headers:  make(http.Header),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidRequest, p)
		}
		r.Port = port
	}
	return r, nil
}

// SetHeader sets a request header and returns r for chaining.
func (r *Request) SetHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(http.Header)
	}
	r.Headers.Set(key, value)
	return r
}

// SetQueryParam sets a query parameter and returns r for chaining.
func (r *Request) SetQueryParam(key, value string) *Request {
	if r.Query == nil {
		r.Query = make(url.Values)
	}
	r.Query.Set(key, value)
	return r
}

// ResolvedPath returns the request target: Path if set, otherwise Pathname
// followed by the encoded Query.
func (r *Request) ResolvedPath() string {
	if r.Path != "" {
		return r.Path
	}
	p := r.Pathname
	if p == "" {
		p = "/"
	}
	if len(r.Query) > 0 {
		if r.rawQuery != "" && sameQuery(r.rawQuery, r.Query) {
			p += "?" + r.rawQuery
		} else {
			p += "?" + r.Query.Encode()
		}
	}
	return p
}

func sameQuery(raw string, q url.Values) bool {
	parsed, err := url.ParseQuery(raw)
	if err != nil {
		return false
	}
	return maps.EqualFunc(parsed, q, func(a, b []string) bool { return slices.Equal(a, b) })
}

// Host returns hostname[:port] as used in the request URL. IPv6 literals
// are bracketed.
func (r *Request) Host() string {
	if r.Port == 0 {
		if strings.Contains(r.Hostname, ":") {
			return "[" + r.Hostname + "]"
		}
		return r.Hostname
	}
	return net.JoinHostPort(r.Hostname, strconv.Itoa(r.Port))
}

// URL returns the absolute URL the request will be sent to.
func (r *Request) URL() string {
	scheme := strings.TrimSuffix(r.Protocol, ":")
	return scheme + "://" + r.Host() + r.ResolvedPath()
}

// resolve returns a private copy of r with defaults from cfg applied. The
// copy is what an execution owns for its whole lifetime.
func (r *Request) resolve(cfg Config) (*Request, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}

	out := *r
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if out.Protocol == "" {
		out.Protocol = cfg.Protocol
	}
	if out.Protocol != ProtocolHTTPS && out.Protocol != ProtocolHTTP {
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrInvalidRequest, out.Protocol)
	}
	if out.Hostname == "" {
		return nil, fmt.Errorf("%w: missing hostname", ErrInvalidRequest)
	}
	if out.Port < 0 || out.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrInvalidRequest, out.Port)
	}
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = cfg.ConnectionTimeout
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = cfg.ReadTimeout
	}
	out.Timing = out.Timing || cfg.Timing

	out.Headers = r.Headers.Clone()
	if out.Headers == nil {
		out.Headers = make(http.Header)
	}
	if r.Query != nil {
		out.Query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			out.Query[k] = append([]string(nil), v...)
		}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out, nil
}
