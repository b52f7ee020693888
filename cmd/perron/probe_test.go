package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/addityasingh/perron/internal/targets"
	"github.com/addityasingh/perron/pkg/perron"
)

// summaryOutput is the subset of Summary checked in JSON output.
type summaryOutput struct {
	Target     string         `json:"target"`
	URL        string         `json:"url"`
	Iterations int            `json:"iterations"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Faults     map[string]int `json:"faults"`
	Results    []struct {
		Iteration  int    `json:"iteration"`
		RequestID  string `json:"request_id"`
		StatusCode int    `json:"status_code"`
	} `json:"results"`
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func TestSummarize(t *testing.T) {
	results := []RequestResult{
		{Iteration: 2, Duration: ms(30), StatusCode: 200},
		{Iteration: 0, Duration: ms(10), StatusCode: 200},
		{Iteration: 3, Error: "read timeout of 2s exceeded for example.com", Fault: "read_timeout"},
		{Iteration: 1, Duration: ms(20), StatusCode: 200},
	}

	s := summarize("api", "https://example.com", results)

	assert.Equal(t, "api", s.Target)
	assert.Equal(t, 4, s.Iterations)
	assert.Equal(t, 3, s.Successful)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, map[string]int{"read_timeout": 1}, s.Faults)

	for i, r := range s.Results {
		assert.Equal(t, i, r.Iteration)
	}

	// 3 significant digits leaves at most 0.1% error per value.
	assert.InDelta(t, float64(ms(10)), float64(s.Min), float64(ms(10))*0.002)
	assert.InDelta(t, float64(ms(30)), float64(s.Max), float64(ms(30))*0.002)
	assert.InDelta(t, float64(ms(20)), float64(s.Mean), float64(ms(20))*0.002)
	assert.InDelta(t, float64(ms(20)), float64(s.P50), float64(ms(20))*0.002)
	assert.InDelta(t, float64(ms(30)), float64(s.P99), float64(ms(30))*0.002)
	assert.Greater(t, s.StdDev, time.Duration(0))
}

func TestSummarizePhaseMeans(t *testing.T) {
	dns1, dns2 := ms(2), ms(4)
	tcp := ms(6)
	results := []RequestResult{
		{Iteration: 0, Duration: ms(10), Phases: phasesWith(&dns1, &tcp)},
		{Iteration: 1, Duration: ms(12), Phases: phasesWith(&dns2, nil)},
	}

	s := summarize("api", "https://example.com", results)
	assert.Equal(t, ms(3), s.PhaseMeans["dns"])
	assert.Equal(t, ms(6), s.PhaseMeans["tcp"])
	assert.NotContains(t, s.PhaseMeans, "download")
}

func phasesWith(dns, tcp *time.Duration) *perron.TimingPhases {
	return &perron.TimingPhases{DNS: dns, TCP: tcp}
}

func TestSummarizeAllFailed(t *testing.T) {
	results := []RequestResult{
		{Iteration: 0, Error: "dial tcp: connection refused", Fault: "transport"},
		{Iteration: 1, Error: "invalid header"},
	}

	s := summarize("down", "http://127.0.0.1:1", results)
	assert.Equal(t, 0, s.Successful)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, map[string]int{"transport": 1}, s.Faults)
	assert.Zero(t, s.Mean)
	assert.Nil(t, s.PhaseMeans)
}

func TestRecordLatencyClamps(t *testing.T) {
	h := newHistogram()
	recordLatency(h, 0)
	recordLatency(h, 2*time.Minute)
	assert.Equal(t, int64(2), h.TotalCount())
	assert.Equal(t, int64(histMin), h.Min())
}

func TestResolveTargets(t *testing.T) {
	g := &globals{file: &targets.File{Targets: []targets.Target{
		{ID: "a", URL: "http://a.example"},
		{ID: "b", URL: "http://b.example"},
	}}}

	list, err := resolveTargets(g, []string{"http://direct.example"}, nil, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "http://direct.example", list[0].URL)

	list, err = resolveTargets(g, nil, []string{"b"}, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)

	list, err = resolveTargets(g, nil, nil, targets.PresetAWS)
	require.NoError(t, err)
	assert.Len(t, list, len(targets.AWSRegions()))

	_, err = resolveTargets(&globals{file: &targets.File{}}, nil, nil, "")
	assert.Error(t, err)
}

func TestProbeCommandJSON(t *testing.T) {
	var hits atomic.Int32
	ids := make(chan string, 10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		ids <- r.Header.Get(requestIDHeader)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	out, err := execute(t, "probe", "-n", "5", "-c", "2", "--format", "json", server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(5), hits.Load())

	var summaries []summaryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	s := summaries[0]
	assert.Equal(t, server.URL, s.URL)
	assert.Equal(t, 5, s.Iterations)
	assert.Equal(t, 5, s.Successful)
	require.Len(t, s.Results, 5)

	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		assert.NotEmpty(t, id)
		seen[id] = true
	}
	assert.Len(t, seen, 5, "request ids should be unique")
	for _, r := range s.Results {
		assert.True(t, seen[r.RequestID])
		assert.Equal(t, http.StatusOK, r.StatusCode)
	}
}

func TestProbeCommandTargetsFromConfig(t *testing.T) {
	var fast, slow atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		fast.Add(1)
		assert.Equal(t, "edge", r.Header.Get("X-Team"))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		slow.Add(1)
		assert.Equal(t, http.MethodHead, r.Method)
		time.Sleep(20 * time.Millisecond)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := fmt.Sprintf(`
defaults:
  read_timeout: 2s
  headers:
    X-Team: edge
targets:
  - id: fast
    url: %[1]s/fast
  - id: slow
    url: %[1]s/slow
    method: HEAD
`, server.URL)
	path := filepath.Join(t.TempDir(), "perron.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	out, err := execute(t, "--config", path, "probe", "-n", "2", "--format", "short")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fast.Load())
	assert.Equal(t, int32(2), slow.Load())

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], server.URL+"/fast: mean="))
	assert.True(t, strings.HasPrefix(lines[1], server.URL+"/slow: mean="))
	assert.Contains(t, lines[1], "(success=2/2)")
}

func TestProbeCommandSelectsTarget(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	cfg := fmt.Sprintf("targets:\n  - id: one\n    url: %[1]s/one\n  - id: two\n    url: %[1]s/two\n", server.URL)
	path := filepath.Join(t.TempDir(), "perron.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	out, err := execute(t, "--config", path, "probe", "-n", "3", "--target", "two", "--format", "short")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Contains(t, out, "/two: mean=")
	assert.NotContains(t, out, "/one")

	_, err = execute(t, "--config", path, "probe", "--target", "three")
	assert.ErrorIs(t, err, targets.ErrUnknownTarget)
}

func TestProbeCommandTextWithFailures(t *testing.T) {
	var n atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1)%2 == 0 {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	out, err := execute(t, "probe", "-n", "4", "--read-timeout", "50ms", "--details", server.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "=== Summary for "+server.URL+" ===")
	assert.Contains(t, out, "Iterations: 4 (Success: 2, Failed: 2)")
	assert.Contains(t, out, "read_timeout: 2")
	assert.Contains(t, out, "Latency Statistics:")
	assert.Contains(t, out, "Detailed Results:")
}

func TestProbeCommandAllFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	out, err := execute(t, "probe", "-n", "2", "--format", "short", url)
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, out, "all requests failed (2/2)")
}

func TestProbeCommandRejectsFormat(t *testing.T) {
	_, err := execute(t, "probe", "--format", "xml", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "xml"`)
}

func TestServeMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	promConfig, err := perron.NewPrometheusConfig(reg)
	require.NoError(t, err)

	addr, shutdown, err := serveMetrics("127.0.0.1:0", reg)
	require.NoError(t, err)
	defer shutdown()

	client := perron.New(perron.WithTiming(true), perron.WithPrometheus(promConfig))
	_, err = client.Get(context.Background(), server.URL)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `perron_requests_total{code="200",host="127.0.0.1",method="GET",status="success"} 1`)
	assert.Contains(t, string(body), "perron_request_phase_duration_seconds_bucket")
}

func TestPrintRanking(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	printRanking(p, []Summary{
		{Target: "slow", Iterations: 1, Successful: 1, Mean: ms(300), P90: ms(300)},
		{Target: "down", Iterations: 1, Failed: 1},
		{Target: "fast", Iterations: 1, Successful: 1, Mean: ms(20), P90: ms(25)},
	})

	out := buf.String()
	iFast := strings.Index(out, "fast")
	iSlow := strings.Index(out, "slow")
	iDown := strings.Index(out, "down")
	require.True(t, iFast > 0 && iSlow > 0 && iDown > 0)
	assert.Less(t, iFast, iSlow)
	assert.Less(t, iSlow, iDown)
	assert.Contains(t, out, "FAILED")
}
