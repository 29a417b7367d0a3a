package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/mExOms/venueprobe/internal/stats"
	"github.com/mExOms/venueprobe/internal/venue"
	"github.com/mExOms/venueprobe/pkg/types"
)

const (
	refreshInterval       = 500 * time.Millisecond
	compatRefreshInterval = 5 * time.Second
	clearScreen           = "\033[H\033[2J"
	seriesSuccess         = "success"
	seriesAll             = "all"
)

// Row is one venue × operation × series line of the statistics table.
type Row struct {
	Venue       string      `json:"venue"`
	Operation   string      `json:"operation"`
	Series      string      `json:"series"`
	Stats       stats.Stats `json:"stats"`
	Failures    int64       `json:"failures"`
	Total       int64       `json:"total"`
	FailureRate float64     `json:"failure_rate"`
}

// Rows snapshots every adapter's recorder into table rows, in adapter order.
func Rows(adapters []venue.Adapter) []Row {
	var rows []Row
	for _, a := range adapters {
		for _, snap := range a.Stats().Snapshot() {
			base := Row{
				Venue:       a.Name(),
				Operation:   snap.Operation.Label(),
				Failures:    snap.Counters.Failures,
				Total:       snap.Counters.Total,
				FailureRate: snap.Counters.FailureRate(),
			}
			success, all := base, base
			success.Series, success.Stats = seriesSuccess, snap.SuccessStats()
			all.Series, all.Stats = seriesAll, snap.TotalStats()
			rows = append(rows, success, all)
		}
	}
	return rows
}

// WriteTable renders rows as an aligned table. Latencies are in seconds.
func WriteTable(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Venue\tOperation\tSeries\tCount\tMin\tMax\tMean\tMedian\tStdDev\tP95\tP99\tFail%\t")
	for _, r := range rows {
		s := r.Stats
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t\n",
			r.Venue, r.Operation, r.Series, s.Count,
			seconds(s, s.Min), seconds(s, s.Max), seconds(s, s.Mean), seconds(s, s.Median),
			seconds(s, s.StdDev), seconds(s, s.P95), seconds(s, s.P99), r.FailureRate)
	}
	return tw.Flush()
}

func seconds(s stats.Stats, v float64) string {
	if !s.Valid {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

// Table periodically redraws the statistics table.
type Table struct {
	out      io.Writer
	adapters []venue.Adapter
	interval time.Duration
	redraw   bool
	started  time.Time
	progress func() int64
}

// NewTable builds a live table on out. noFlicker, or an out that is not a
// terminal, switches to the slow refresh without screen clearing.
func NewTable(out io.Writer, adapters []venue.Adapter, noFlicker bool, progress func() int64) *Table {
	tty := isTerminal(out)
	t := &Table{
		out:      out,
		adapters: adapters,
		interval: refreshInterval,
		redraw:   tty && !noFlicker,
		started:  time.Now(),
		progress: progress,
	}
	if noFlicker || !tty {
		t.interval = compatRefreshInterval
	}
	return t
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Interval is the refresh period in use.
func (t *Table) Interval() time.Duration {
	return t.interval
}

// Run redraws until ctx is done.
func (t *Table) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Render()
		}
	}
}

// Render draws one frame.
func (t *Table) Render() {
	var b strings.Builder
	if t.redraw {
		b.WriteString(clearScreen)
	}
	fmt.Fprintf(&b, "venueprobe  elapsed %s", time.Since(t.started).Truncate(time.Second))
	if t.progress != nil {
		fmt.Fprintf(&b, "  probes %d", t.progress())
	}
	b.WriteString("\n\n")
	_ = WriteTable(&b, Rows(t.adapters))
	b.WriteString("\n")
	io.WriteString(t.out, b.String())
}

// WriteSummary writes the final plain-text block printed at shutdown.
func WriteSummary(w io.Writer, adapters []venue.Adapter, elapsed time.Duration, iterations int64, stranded map[string][]types.OpenOrder) error {
	fmt.Fprintf(w, "\n=== Latency summary (%s, %d probes) ===\n\n", elapsed.Truncate(time.Millisecond), iterations)
	if err := WriteTable(w, Rows(adapters)); err != nil {
		return err
	}
	if len(stranded) == 0 {
		fmt.Fprintln(w, "\nAll probe orders cancelled.")
		return nil
	}
	fmt.Fprintln(w, "\nWARNING: orders still open at venues:")
	for _, a := range adapters {
		for _, o := range stranded[a.Name()] {
			fmt.Fprintf(w, "  %s  %s  %s\n", a.Name(), o.Symbol, o.ID)
		}
	}
	return nil
}
