package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/spf13/cobra"

	"github.com/addityasingh/perron/internal/targets"
	"github.com/addityasingh/perron/pkg/perron"
)

const (
	maxWatchConcurrent = 64
	failedCell         = "???"
)

// Fixed columns before the per-iteration totals.
const (
	colTarget = iota
	colAvg
	colDNS
	colTCP
	colTTFB
	fixedColumns
)

type watchOptions struct {
	client clientFlags

	iterations int
	preset     string
	targetIDs  []string
}

func newWatchCmd(g *globals) *cobra.Command {
	o := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Interactive latency table across many targets",
		Long: `Measure every target several times and show a live table sorted by
average latency, with DNS, TCP and time-to-first-byte means.

Keys: r re-runs the measurement, q or Ctrl-C quits and prints the fastest
target. Targets come from --config; without one the aws preset is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := o.targets(g)
			if err != nil {
				return err
			}
			return o.run(cmd.Context(), g, cmd.OutOrStdout(), list)
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&o.iterations, "iterations", "n", 10, "Requests per target")
	fs.StringVar(&o.preset, "preset", "", "Built-in target list (aws)")
	fs.StringSliceVar(&o.targetIDs, "target", nil, "Target ids from the config file (default all)")
	o.client.register(fs)
	return cmd
}

func (o *watchOptions) targets(g *globals) ([]targets.Target, error) {
	if o.preset == "" && len(g.file.Targets) == 0 {
		return targets.Preset(targets.PresetAWS)
	}
	return resolveTargets(g, nil, o.targetIDs, o.preset)
}

func (o *watchOptions) run(ctx context.Context, g *globals, out io.Writer, list []targets.Target) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if o.iterations < 1 {
		o.iterations = 1
	}

	if err := ui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %w", err)
	}

	client := perron.New(o.client.options(g, perron.WithTiming(true))...)
	b := o.measure(ctx, client, list)

	uiEvents := ui.PollEvents()
	done := false
	for !done {
		e := <-uiEvents
		switch e.ID {
		case "r":
			b = o.measure(ctx, client, list)
		case "q", "<C-c>":
			done = true
		}
	}
	ui.Close()

	if fastest, ok := b.fastest(); ok {
		fmt.Fprintln(out, fastest)
		return nil
	}
	fmt.Fprintln(out, "no target responded")
	return errReported
}

// measure probes every target and renders results as they arrive.
func (o *watchOptions) measure(ctx context.Context, client *perron.Client, list []targets.Target) *board {
	b := newBoard(list, o.iterations, func(t *widgets.Table) { ui.Render(t) })
	b.draw()
	b.collect(ctx, client, maxWatchConcurrent)
	b.finish()
	return b
}

// sample is one measurement of a target.
type sample struct {
	ok    bool
	total time.Duration
	dns   *time.Duration
	tcp   *time.Duration
	ttfb  *time.Duration
}

func sampleOf(resp *perron.Response, err error) sample {
	if err != nil || resp == nil || resp.Phases == nil || resp.Phases.Total == nil {
		return sample{}
	}
	return sample{
		ok:    true,
		total: *resp.Phases.Total,
		dns:   resp.Phases.DNS,
		tcp:   resp.Phases.TCP,
		ttfb:  resp.Phases.FirstByte,
	}
}

type boardRow struct {
	target  targets.Target
	samples []sample
}

// means averages the successful samples. ok is false when none succeeded.
func (r boardRow) means() (avg, dns, tcp, ttfb time.Duration, ok bool) {
	var n, nDNS, nTCP, nTTFB int64
	for _, s := range r.samples {
		if !s.ok {
			continue
		}
		n++
		avg += s.total
		if s.dns != nil {
			nDNS++
			dns += *s.dns
		}
		if s.tcp != nil {
			nTCP++
			tcp += *s.tcp
		}
		if s.ttfb != nil {
			nTTFB++
			ttfb += *s.ttfb
		}
	}
	if n == 0 {
		return 0, 0, 0, 0, false
	}
	avg /= time.Duration(n)
	if nDNS > 0 {
		dns /= time.Duration(nDNS)
	}
	if nTCP > 0 {
		tcp /= time.Duration(nTCP)
	}
	if nTTFB > 0 {
		ttfb /= time.Duration(nTTFB)
	}
	return avg, dns, tcp, ttfb, true
}

// board is the watch table and the samples behind it.
type board struct {
	mu     sync.Mutex
	rows   []*boardRow
	table  *widgets.Table
	render func(*widgets.Table)
}

func newBoard(list []targets.Target, iterations int, render func(*widgets.Table)) *board {
	b := &board{table: widgets.NewTable(), render: render}

	header := []string{"Target", "avg", "dns", "tcp", "ttfb"}
	widths := []int{16, 7, 7, 7, 7}
	for i := 0; i < iterations; i++ {
		header = append(header, strconv.Itoa(i+1))
		widths = append(widths, 7)
	}
	b.table.Rows = [][]string{header}
	b.table.ColumnWidths = widths

	for _, t := range list {
		b.rows = append(b.rows, &boardRow{target: t, samples: make([]sample, iterations)})
		row := make([]string, fixedColumns+iterations)
		row[colTarget] = t.ID
		b.table.Rows = append(b.table.Rows, row)
	}

	b.table.SetRect(2, 2, iterations*8+fixedColumns*8+20, len(list)*2+3)
	b.table.TextStyle = ui.NewStyle(ui.ColorWhite)
	b.table.TextAlignment = ui.AlignCenter
	return b
}

func (b *board) draw() {
	if b.render != nil {
		b.render(b.table)
	}
}

// collect runs every iteration of every target with at most limit requests
// in flight.
func (b *board) collect(ctx context.Context, client *perron.Client, limit int) {
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, row := range b.rows {
		for iter := range row.samples {
			wg.Add(1)
			sem <- struct{}{}
			go func(i, iter int, t targets.Target) {
				defer wg.Done()
				defer func() { <-sem }()

				resp, err := client.Get(ctx, t.URL)
				b.record(i, iter, sampleOf(resp, err))
			}(i, iter, row.target)
		}
	}
	wg.Wait()
}

// record stores a sample and updates its cell.
func (b *board) record(i, iter int, s sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rows[i].samples[iter] = s
	cell := failedCell
	if s.ok {
		cell = s.total.Truncate(time.Millisecond).String()
	}
	b.table.Rows[i+1][fixedColumns+iter] = cell
	b.draw()
}

// finish fills in the means, sorts rows fastest first and colors them.
func (b *board) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sort.SliceStable(b.rows, func(i, j int) bool {
		ai, _, _, _, oki := b.rows[i].means()
		aj, _, _, _, okj := b.rows[j].means()
		if oki != okj {
			return oki
		}
		return ai < aj
	})

	for i, r := range b.rows {
		row := b.table.Rows[i+1]
		row[colTarget] = r.target.ID
		avg, dns, tcp, ttfb, ok := r.means()
		if ok {
			row[colAvg] = avg.Truncate(time.Millisecond).String()
			row[colDNS] = dns.Truncate(time.Millisecond).String()
			row[colTCP] = tcp.Truncate(time.Millisecond).String()
			row[colTTFB] = ttfb.Truncate(time.Millisecond).String()
		} else {
			row[colAvg], row[colDNS], row[colTCP], row[colTTFB] = failedCell, "", "", ""
		}
		for iter, s := range r.samples {
			row[fixedColumns+iter] = failedCell
			if s.ok {
				row[fixedColumns+iter] = s.total.Truncate(time.Millisecond).String()
			}
		}
		b.table.RowStyles[i+1] = rowStyle(avg, ok)
	}
	b.draw()
}

// fastest returns the id of the target with the lowest mean latency.
func (b *board) fastest() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rows) == 0 {
		return "", false
	}
	if _, _, _, _, ok := b.rows[0].means(); !ok {
		return "", false
	}
	return b.rows[0].target.ID, true
}

func rowStyle(avg time.Duration, ok bool) ui.Style {
	switch {
	case !ok:
		return ui.NewStyle(ui.ColorRed)
	case avg < 100*time.Millisecond:
		return ui.NewStyle(ui.ColorGreen)
	case avg < 250*time.Millisecond:
		return ui.NewStyle(ui.ColorYellow)
	}
	return ui.NewStyle(ui.ColorRed)
}
