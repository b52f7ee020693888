package main

import (
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/addityasingh/perron/pkg/perron"
)

// Histogram range in microseconds: 1us to 60s, 3 significant digits.
const (
	histMin     = 1
	histMax     = 60_000_000
	histSigFigs = 3
)

// RequestResult holds the result of a single probe iteration
type RequestResult struct {
	Iteration  int                  `json:"iteration"`
	RequestID  string               `json:"request_id"`
	Duration   time.Duration        `json:"duration_ns"`
	StatusCode int                  `json:"status_code,omitempty"`
	Phases     *perron.TimingPhases `json:"phases,omitempty"`
	Fault      string               `json:"fault,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Summary holds aggregate statistics for one target
type Summary struct {
	Target     string         `json:"target"`
	URL        string         `json:"url"`
	Iterations int            `json:"iterations"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Faults     map[string]int `json:"faults,omitempty"`

	Min    time.Duration `json:"min_ns"`
	Max    time.Duration `json:"max_ns"`
	Mean   time.Duration `json:"mean_ns"`
	StdDev time.Duration `json:"stddev_ns"`
	P50    time.Duration `json:"p50_ns"`
	P90    time.Duration `json:"p90_ns"`
	P99    time.Duration `json:"p99_ns"`

	// PhaseMeans is the mean of each derived phase over successful iterations.
	PhaseMeans map[string]time.Duration `json:"phase_means_ns,omitempty"`

	Results []RequestResult `json:"results,omitempty"`
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histMin, histMax, histSigFigs)
}

func recordLatency(h *hdrhistogram.Histogram, d time.Duration) {
	us := d.Microseconds()
	if us < histMin {
		us = histMin
	}
	if us > histMax {
		us = histMax
	}
	_ = h.RecordValue(us)
}

func fromMicros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// summarize computes latency statistics over the successful results. Results
// are sorted by iteration.
func summarize(target, url string, results []RequestResult) Summary {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Iteration < results[j].Iteration
	})

	s := Summary{
		Target:     target,
		URL:        url,
		Iterations: len(results),
		Results:    results,
	}

	hist := newHistogram()
	phases := map[string][]time.Duration{}
	for _, r := range results {
		if r.Error != "" {
			s.Failed++
			if r.Fault != "" {
				if s.Faults == nil {
					s.Faults = map[string]int{}
				}
				s.Faults[r.Fault]++
			}
			continue
		}
		s.Successful++
		recordLatency(hist, r.Duration)
		if r.Phases != nil {
			addPhase(phases, "wait", r.Phases.Wait)
			addPhase(phases, "dns", r.Phases.DNS)
			addPhase(phases, "tcp", r.Phases.TCP)
			addPhase(phases, "firstByte", r.Phases.FirstByte)
			addPhase(phases, "download", r.Phases.Download)
		}
	}

	if s.Successful == 0 {
		return s
	}

	s.Min = fromMicros(hist.Min())
	s.Max = fromMicros(hist.Max())
	s.Mean = time.Duration(hist.Mean() * float64(time.Microsecond))
	s.StdDev = time.Duration(hist.StdDev() * float64(time.Microsecond))
	s.P50 = fromMicros(hist.ValueAtQuantile(50))
	s.P90 = fromMicros(hist.ValueAtQuantile(90))
	s.P99 = fromMicros(hist.ValueAtQuantile(99))

	if len(phases) > 0 {
		s.PhaseMeans = make(map[string]time.Duration, len(phases))
		for name, ds := range phases {
			var sum time.Duration
			for _, d := range ds {
				sum += d
			}
			s.PhaseMeans[name] = sum / time.Duration(len(ds))
		}
	}
	return s
}

func addPhase(m map[string][]time.Duration, name string, d *time.Duration) {
	if d != nil {
		m[name] = append(m[name], *d)
	}
}
