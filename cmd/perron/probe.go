package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/addityasingh/perron/internal/targets"
	"github.com/addityasingh/perron/pkg/perron"
)

// Output formats
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatShort = "short"
)

type probeOptions struct {
	client clientFlags

	iterations  int
	concurrency int
	rate        float64
	format      string
	method      string
	headers     []string
	targetIDs   []string
	preset      string
	metricsAddr string
	details     bool
}

func newProbeCmd(g *globals) *cobra.Command {
	o := &probeOptions{}
	cmd := &cobra.Command{
		Use:   "probe [url]",
		Short: "Repeat a request and summarize latency percentiles",
		Long: `Repeat a request against a URL, configured targets or a preset and
summarize latency with min/max/mean and percentiles.

Examples:
  perron probe -n 50 -c 5 https://example.com
  perron probe --rate 2 --format short --config perron.yaml --target api
  perron probe --preset aws -n 3 --format short
  perron probe -n 1000 --metrics-addr :9090 https://example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := resolveTargets(g, args, o.targetIDs, o.preset)
			if err != nil {
				return err
			}
			return o.run(cmd.Context(), g, cmd.OutOrStdout(), list)
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&o.iterations, "iterations", "n", 10, "Number of requests per target")
	fs.IntVarP(&o.concurrency, "concurrency", "c", 1, "Number of concurrent requests per target")
	fs.Float64VarP(&o.rate, "rate", "r", 0, "Maximum requests per second across all targets (0 is unlimited)")
	fs.StringVar(&o.format, "format", FormatText, "Output format: text, json, or short")
	fs.StringVarP(&o.method, "method", "X", http.MethodGet, "HTTP method for URL arguments")
	fs.StringArrayVarP(&o.headers, "header", "H", nil, "Request header 'Name: value' (repeatable)")
	fs.StringSliceVar(&o.targetIDs, "target", nil, "Target ids from the config file (default all)")
	fs.StringVar(&o.preset, "preset", "", "Built-in target list (aws)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while probing")
	fs.BoolVar(&o.details, "details", false, "Show per-iteration phase breakdown")
	o.client.register(fs)
	return cmd
}

// resolveTargets picks what to probe: a URL argument, a preset, or targets
// from the config file.
func resolveTargets(g *globals, args, ids []string, preset string) ([]targets.Target, error) {
	switch {
	case len(args) == 1:
		return []targets.Target{{ID: args[0], URL: args[0]}}, nil
	case preset != "":
		return targets.Preset(preset)
	case len(g.file.Targets) > 0:
		return targets.Select(g.file.Targets, ids)
	}
	return nil, errors.New("nothing to probe: pass a URL, --preset, or --config with targets")
}

func (o *probeOptions) run(ctx context.Context, g *globals, out io.Writer, list []targets.Target) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	switch o.format {
	case FormatText, FormatJSON, FormatShort:
	default:
		return fmt.Errorf("unknown format %q", o.format)
	}
	if o.iterations < 1 {
		o.iterations = 1
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}

	var extra []perron.Option
	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		promConfig, err := perron.NewPrometheusConfig(reg)
		if err != nil {
			return err
		}
		extra = append(extra, perron.WithPrometheus(promConfig))

		addr, shutdown, err := serveMetrics(o.metricsAddr, reg)
		if err != nil {
			return err
		}
		defer shutdown()
		fmt.Fprintf(os.Stderr, "Metrics available at http://%s/metrics\n", addr)
	}

	client := perron.New(o.client.options(g, extra...)...)

	var limiter *rate.Limiter
	if o.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rate), 1)
	}

	p := newPrinter(out)
	summaries := make([]Summary, 0, len(list))
	for _, t := range list {
		if o.format == FormatText {
			p.bold.Fprintf(out, "Probing %s (%s)\n", t.Label(), t.URL)
		}
		results := o.probeTarget(ctx, g, client, limiter, t, func(r RequestResult) {
			if o.format == FormatText && !o.details {
				printProgress(p, r)
			}
		})
		summaries = append(summaries, summarize(t.Label(), t.URL, results))
	}

	switch o.format {
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summaries); err != nil {
			return err
		}
	case FormatShort:
		for _, s := range summaries {
			printShort(out, s)
		}
	default:
		for _, s := range summaries {
			printText(p, s, o.details)
		}
		if len(summaries) > 1 {
			printRanking(p, summaries)
		}
	}

	for _, s := range summaries {
		if s.Successful == 0 {
			return errReported
		}
	}
	return nil
}

// probeTarget runs the iterations for one target with bounded concurrency.
func (o *probeOptions) probeTarget(ctx context.Context, g *globals, client *perron.Client, limiter *rate.Limiter, t targets.Target, progress func(RequestResult)) []RequestResult {
	results := make([]RequestResult, 0, o.iterations)
	resultsChan := make(chan RequestResult, o.iterations)

	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for i := 0; i < o.iterations; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				resultsChan <- RequestResult{Iteration: i, Error: err.Error()}
				continue
			}
		}
		wg.Add(1)
		go func(iteration int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resultsChan <- o.performRequest(ctx, g, client, t, iteration)
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for r := range resultsChan {
		results = append(results, r)
		progress(r)
	}
	return results
}

func (o *probeOptions) performRequest(ctx context.Context, g *globals, client *perron.Client, t targets.Target, iteration int) RequestResult {
	method := o.method
	if t.Method != "" {
		method = t.Method
	}
	headers := append([]string(nil), o.headers...)
	for k, v := range t.Headers {
		headers = append(headers, k+": "+v)
	}

	req, err := buildRequest(method, t.URL, headers, nil, "", g.file.Defaults.Headers)
	if err != nil {
		return RequestResult{Iteration: iteration, Error: err.Error()}
	}
	result := RequestResult{Iteration: iteration, RequestID: req.Headers.Get(requestIDHeader)}

	start := time.Now()
	resp, err := client.Do(ctx, req)
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		if kind := perron.KindOf(err); kind != 0 {
			result.Fault = kind.String()
		}
		if _, phases, ok := perron.TimingsOf(err); ok {
			result.Phases = &phases
		}
		g.log.V(1).Info("probe failed", "target", t.ID, "requestID", result.RequestID, "fault", result.Fault)
		return result
	}

	result.StatusCode = resp.StatusCode
	result.Phases = resp.Phases
	if resp.Phases != nil && resp.Phases.Total != nil {
		result.Duration = *resp.Phases.Total
	}
	return result
}

// serveMetrics exposes reg on addr until the returned function is called.
// It returns the address actually bound.
func serveMetrics(addr string, reg *prometheus.Registry) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func printProgress(p *printer, r RequestResult) {
	if r.Error != "" {
		p.red.Fprintf(p.w, "  #%d: ERROR: %s\n", r.Iteration+1, r.Error)
		return
	}
	fmt.Fprintf(p.w, "  #%d: ", r.Iteration+1)
	p.latency(r.Duration).Fprintf(p.w, "%v", r.Duration.Round(time.Millisecond))
	fmt.Fprint(p.w, " (status: ")
	p.status(r.StatusCode).Fprintf(p.w, "%d", r.StatusCode)
	fmt.Fprintln(p.w, ")")
}

func printText(p *printer, s Summary, showDetails bool) {
	p.bold.Fprintf(p.w, "\n=== Summary for %s ===\n", s.URL)
	fmt.Fprintf(p.w, "Iterations: %d (Success: %d, Failed: %d)\n", s.Iterations, s.Successful, s.Failed)

	if len(s.Faults) > 0 {
		kinds := make([]string, 0, len(s.Faults))
		for k := range s.Faults {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			p.red.Fprintf(p.w, "  %s: %d\n", k, s.Faults[k])
		}
	}

	if s.Successful > 0 {
		fmt.Fprintf(p.w, "\nLatency Statistics:\n")
		fmt.Fprintf(p.w, "  Min:     %v\n", s.Min.Round(time.Millisecond))
		fmt.Fprintf(p.w, "  Max:     %v\n", s.Max.Round(time.Millisecond))
		fmt.Fprintf(p.w, "  Mean:    %v (stddev %v)\n", s.Mean.Round(time.Millisecond), s.StdDev.Round(time.Millisecond))
		fmt.Fprintf(p.w, "  P50:     %v\n", s.P50.Round(time.Millisecond))
		fmt.Fprintf(p.w, "  P90:     %v\n", s.P90.Round(time.Millisecond))
		fmt.Fprintf(p.w, "  P99:     %v\n", s.P99.Round(time.Millisecond))
	}

	if len(s.PhaseMeans) > 0 {
		fmt.Fprintf(p.w, "\nPhase Means:\n")
		for _, name := range []string{"wait", "dns", "tcp", "firstByte", "download"} {
			if d, ok := s.PhaseMeans[name]; ok {
				fmt.Fprintf(p.w, "  %-10s ", name+":")
				p.cyan.Fprintln(p.w, formatDuration(d))
			}
		}
	}

	if showDetails {
		fmt.Fprintf(p.w, "\nDetailed Results:\n")
		for _, r := range s.Results {
			if r.Error != "" {
				p.red.Fprintf(p.w, "  #%d: %s\n", r.Iteration+1, r.Error)
				continue
			}
			fmt.Fprintf(p.w, "  #%d: [%d] %s\n", r.Iteration+1, r.StatusCode, phaseLine(r.Phases, r.Duration))
		}
	}
}

func phaseLine(ph *perron.TimingPhases, total time.Duration) string {
	if ph == nil {
		return "total=" + formatDuration(total)
	}
	return ph.String()
}

func printShort(w io.Writer, s Summary) {
	if s.Successful > 0 {
		fmt.Fprintf(w, "%s: mean=%v min=%v max=%v p90=%v p99=%v (success=%d/%d)\n",
			s.URL,
			s.Mean.Round(time.Millisecond),
			s.Min.Round(time.Millisecond),
			s.Max.Round(time.Millisecond),
			s.P90.Round(time.Millisecond),
			s.P99.Round(time.Millisecond),
			s.Successful,
			s.Iterations)
		return
	}
	fmt.Fprintf(w, "%s: all requests failed (%d/%d)\n", s.URL, s.Failed, s.Iterations)
}

// printRanking lists targets fastest first by mean latency.
func printRanking(p *printer, summaries []Summary) {
	ranked := append([]Summary(nil), summaries...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if (ranked[i].Successful == 0) != (ranked[j].Successful == 0) {
			return ranked[i].Successful > 0
		}
		return ranked[i].Mean < ranked[j].Mean
	})

	p.bold.Fprintln(p.w, "\n=== Ranking ===")
	fmt.Fprintf(p.w, "%-30s %10s %10s %10s\n", "Target", "Mean", "P90", "Success")
	fmt.Fprintln(p.w, strings.Repeat("-", 64))
	for _, s := range ranked {
		if s.Successful == 0 {
			fmt.Fprintf(p.w, "%-30s %10s %10s %10s\n", s.Target, "FAILED", "-", fmt.Sprintf("0/%d", s.Iterations))
			continue
		}
		fmt.Fprintf(p.w, "%-30s ", s.Target)
		p.latency(s.Mean).Fprintf(p.w, "%10v", s.Mean.Round(time.Millisecond))
		fmt.Fprintf(p.w, " %10v %10s\n", s.P90.Round(time.Millisecond), fmt.Sprintf("%d/%d", s.Successful, s.Iterations))
	}
}
