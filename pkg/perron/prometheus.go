package perron

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusConfig holds configuration for Prometheus metrics collection.
type PrometheusConfig struct {
	// Histogram for tracking phase durations
	DurationHistogram *prometheus.HistogramVec

	// Optional: Counter for total requests
	RequestCounter *prometheus.CounterVec

	// Optional: Gauge for in-flight requests
	InFlightGauge prometheus.Gauge

	// Whether to observe every derived phase, not only the total
	DetailedMetrics bool
}

// WithPrometheus returns an option that enables Prometheus metrics collection.
func WithPrometheus(config PrometheusConfig) Option {
	return func(c *Client) {
		c.next = &prometheusDoer{
			next:   c.next,
			config: config,
			client: c,
		}
	}
}

// prometheusDoer wraps a Doer to collect Prometheus metrics.
type prometheusDoer struct {
	next   Doer
	config PrometheusConfig
	client *Client
}

// Do implements Doer with Prometheus metrics collection.
func (d *prometheusDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	spec, err := req.resolve(d.client.config)
	if err != nil {
		// Invalid requests never reach the network; let the engine report them.
		return d.next.Do(ctx, req)
	}

	if d.config.InFlightGauge != nil {
		d.config.InFlightGauge.Inc()
		defer d.config.InFlightGauge.Dec()
	}

	start := d.client.clock.Now()
	resp, err := d.next.Do(ctx, req)
	elapsed := d.client.clock.Now().Sub(start)

	code := "0"
	status := "success"
	var phases *TimingPhases
	if resp != nil {
		code = strconv.Itoa(resp.StatusCode)
		phases = resp.Phases
	}
	if err != nil {
		status = "error"
		if kind := KindOf(err); kind != 0 {
			status = kind.String()
		}
		if _, p, ok := TimingsOf(err); ok {
			phases = &p
		}
	}

	labels := prometheus.Labels{
		"method": spec.Method,
		"host":   spec.Hostname,
		"code":   code,
		"status": status,
	}

	if d.config.RequestCounter != nil {
		d.config.RequestCounter.With(labels).Inc()
	}

	if d.config.DurationHistogram == nil {
		return resp, err
	}

	observe := func(phase string, v time.Duration) {
		d.config.DurationHistogram.With(prometheus.Labels{
			"phase":  phase,
			"method": spec.Method,
			"host":   spec.Hostname,
			"code":   code,
			"status": status,
		}).Observe(v.Seconds())
	}

	total := elapsed
	if phases != nil && phases.Total != nil {
		total = *phases.Total
	}
	observe("total", total)

	if d.config.DetailedMetrics && phases != nil {
		for _, ph := range []struct {
			name string
			v    *time.Duration
		}{
			{"wait", phases.Wait},
			{"dns", phases.DNS},
			{"tcp", phases.TCP},
			{"first_byte", phases.FirstByte},
			{"download", phases.Download},
		} {
			if ph.v != nil {
				observe(ph.name, *ph.v)
			}
		}
	}

	return resp, err
}

// DefaultPrometheusHistogram creates a default histogram for request phase durations.
func DefaultPrometheusHistogram() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "perron_request_phase_duration_seconds",
			Help: "Duration of HTTP request phases in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
				10.0,  // 10s
			},
		},
		[]string{"phase", "method", "host", "code", "status"},
	)
}

// DefaultPrometheusCounter creates a default counter for requests.
func DefaultPrometheusCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perron_requests_total",
			Help: "Total number of HTTP requests by outcome",
		},
		[]string{"method", "host", "code", "status"},
	)
}

// DefaultPrometheusInFlightGauge creates a default gauge for in-flight requests.
func DefaultPrometheusInFlightGauge() prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perron_in_flight_requests",
		Help: "Number of HTTP requests currently in flight",
	})
}

// NewPrometheusConfig creates a configuration with the default collectors,
// registered with reg.
func NewPrometheusConfig(reg prometheus.Registerer) (PrometheusConfig, error) {
	config := PrometheusConfig{
		DurationHistogram: DefaultPrometheusHistogram(),
		RequestCounter:    DefaultPrometheusCounter(),
		InFlightGauge:     DefaultPrometheusInFlightGauge(),
		DetailedMetrics:   true,
	}
	if err := RegisterPrometheusMetrics(reg, config); err != nil {
		return PrometheusConfig{}, err
	}
	return config, nil
}

// RegisterPrometheusMetrics registers the collectors present in config.
func RegisterPrometheusMetrics(reg prometheus.Registerer, config PrometheusConfig) error {
	for _, c := range config.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterPrometheusMetrics unregisters the collectors present in config.
func UnregisterPrometheusMetrics(reg prometheus.Registerer, config PrometheusConfig) {
	for _, c := range config.collectors() {
		reg.Unregister(c)
	}
}

func (config PrometheusConfig) collectors() []prometheus.Collector {
	var cs []prometheus.Collector
	if config.DurationHistogram != nil {
		cs = append(cs, config.DurationHistogram)
	}
	if config.RequestCounter != nil {
		cs = append(cs, config.RequestCounter)
	}
	if config.InFlightGauge != nil {
		cs = append(cs, config.InFlightGauge)
	}
	return cs
}
