package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/addityasingh/perron/pkg/perron"
)

// Latency bands used to colour totals.
const (
	fastThreshold = 100 * time.Millisecond
	slowThreshold = 250 * time.Millisecond
)

// printer renders results for humans.
type printer struct {
	w io.Writer

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	cyan   *color.Color
	bold   *color.Color
	dim    *color.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:      w,
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		cyan:   color.New(color.FgCyan),
		bold:   color.New(color.Bold),
		dim:    color.New(color.Faint),
	}
}

func (p *printer) latency(d time.Duration) *color.Color {
	switch {
	case d < fastThreshold:
		return p.green
	case d < slowThreshold:
		return p.yellow
	}
	return p.red
}

func (p *printer) status(code int) *color.Color {
	switch {
	case code >= 500:
		return p.red
	case code >= 400:
		return p.yellow
	case code >= 300:
		return p.cyan
	}
	return p.green
}

// response prints the status line, headers and optionally the body.
func (p *printer) response(resp *perron.Response, showBody bool) {
	p.status(resp.StatusCode).Fprintf(p.w, "%s\n", resp.Status)

	keys := make([]string, 0, len(resp.Headers))
	for k := range resp.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.dim.Fprintf(p.w, "%s: ", k)
		fmt.Fprintln(p.w, strings.Join(resp.Headers[k], ", "))
	}

	if resp.Phases != nil {
		fmt.Fprintln(p.w)
		p.phases(resp.Phases)
	}

	if showBody {
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, resp.Body)
	}
}

// fault prints a failed execution with whatever timings were recorded.
func (p *printer) fault(err error) {
	kind := perron.KindOf(err)
	if kind == 0 {
		p.red.Fprintf(p.w, "error: %v\n", err)
		return
	}
	p.red.Fprintf(p.w, "%s: %v\n", kind, err)
	if _, phases, ok := perron.TimingsOf(err); ok {
		fmt.Fprintln(p.w)
		p.phases(&phases)
	}
}

// phases prints one aligned line per derived phase; missing phases print as "-".
func (p *printer) phases(ph *perron.TimingPhases) {
	rows := []struct {
		name string
		v    *time.Duration
	}{
		{"wait", ph.Wait},
		{"dns", ph.DNS},
		{"tcp", ph.TCP},
		{"first byte", ph.FirstByte},
		{"download", ph.Download},
	}
	for _, r := range rows {
		fmt.Fprintf(p.w, "  %-11s ", r.name)
		if r.v == nil {
			p.dim.Fprintln(p.w, "-")
			continue
		}
		p.cyan.Fprintln(p.w, formatDuration(*r.v))
	}

	fmt.Fprintf(p.w, "  %-11s ", "total")
	if ph.Total == nil {
		p.dim.Fprintln(p.w, "-")
		return
	}
	p.latency(*ph.Total).Fprintln(p.w, formatDuration(*ph.Total))
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.Round(time.Microsecond).String()
	}
	return d.Round(100 * time.Microsecond).String()
}
