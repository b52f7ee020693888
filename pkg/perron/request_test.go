package perron

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("GET", "http://example.com:8080/a/b?x=1&y=2")
	require.NoError(t, err)

	assert.Equal(t, ProtocolHTTP, req.Protocol)
	assert.Equal(t, "example.com", req.Hostname)
	assert.Equal(t, 8080, req.Port)
	assert.Equal(t, "/a/b", req.Pathname)
	assert.Equal(t, "/a/b?x=1&y=2", req.ResolvedPath())
	assert.Equal(t, "http://example.com:8080/a/b?x=1&y=2", req.URL())
}

func TestNewRequestKeepsRawQuery(t *testing.T) {
	req, err := NewRequest("GET", "http://example.com/search?b=2&a=1&flag")
	require.NoError(t, err)
	assert.Equal(t, "/search?b=2&a=1&flag", req.ResolvedPath())

	req.SetQueryParam("c", "3")
	assert.Equal(t, "/search?a=1&b=2&c=3&flag=", req.ResolvedPath())
}

func TestRequestHostIPv6(t *testing.T) {
	req, err := NewRequest("GET", "http://[::1]/status")
	require.NoError(t, err)
	assert.Equal(t, "::1", req.Hostname)
	assert.Equal(t, "[::1]", req.Host())
	assert.Equal(t, "http://[::1]/status", req.URL())

	req.Port = 8080
	assert.Equal(t, "[::1]:8080", req.Host())
	assert.Equal(t, "http://[::1]:8080/status", req.URL())

	assert.Equal(t, "https://[fe80::1]/", (&Request{Protocol: ProtocolHTTPS, Hostname: "fe80::1"}).URL())
}

func TestNewRequestInvalid(t *testing.T) {
	_, err := NewRequest("GET", "ftp://example.com/")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewRequest("GET", "://bad")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestResolvedPath(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"empty", Request{}, "/"},
		{"pathname", Request{Pathname: "/users"}, "/users"},
		{"query", Request{Pathname: "/users", Query: url.Values{"id": {"7"}}}, "/users?id=7"},
		{"path wins", Request{Path: "/raw?q=1", Pathname: "/ignored", Query: url.Values{"a": {"b"}}}, "/raw?q=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.ResolvedPath())
		})
	}
}

func TestResolveAppliesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing = true

	orig := &Request{Hostname: "example.com", Body: []byte("abc")}
	orig.SetHeader("X-Test", "1").SetQueryParam("k", "v")

	out, err := orig.resolve(cfg)
	require.NoError(t, err)

	assert.Equal(t, "GET", out.Method)
	assert.Equal(t, ProtocolHTTPS, out.Protocol)
	assert.Equal(t, DefaultConnectionTimeout, out.ConnectionTimeout)
	assert.Equal(t, DefaultReadTimeout, out.ReadTimeout)
	assert.True(t, out.Timing)

	// The resolved copy is independent of the caller's request.
	orig.Headers.Set("X-Test", "2")
	orig.Query.Set("k", "changed")
	orig.Body[0] = 'z'
	assert.Equal(t, "1", out.Headers.Get("X-Test"))
	assert.Equal(t, "v", out.Query.Get("k"))
	assert.Equal(t, "abc", string(out.Body))
}

func TestResolveKeepsOverrides(t *testing.T) {
	req := &Request{
		Method:            "POST",
		Protocol:          ProtocolHTTP,
		Hostname:          "h",
		ConnectionTimeout: 50 * time.Millisecond,
		ReadTimeout:       70 * time.Millisecond,
	}
	out, err := req.resolve(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "POST", out.Method)
	assert.Equal(t, ProtocolHTTP, out.Protocol)
	assert.Equal(t, 50*time.Millisecond, out.ConnectionTimeout)
	assert.Equal(t, 70*time.Millisecond, out.ReadTimeout)
	assert.False(t, out.Timing)
}

func TestResolveRejects(t *testing.T) {
	cfg := DefaultConfig()
	for name, req := range map[string]*Request{
		"nil":      nil,
		"hostname": {},
		"protocol": {Hostname: "h", Protocol: "gopher:"},
		"port":     {Hostname: "h", Port: 70000},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := req.resolve(cfg)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{ReadTimeout: time.Second, ReadTimeoutMode: ReadTimeoutFixed}.withDefaults()
	assert.Equal(t, DefaultProtocol, cfg.Protocol)
	assert.Equal(t, DefaultConnectionTimeout, cfg.ConnectionTimeout)
	assert.Equal(t, time.Second, cfg.ReadTimeout)
	assert.Equal(t, "fixed", cfg.ReadTimeoutMode.String())
}
