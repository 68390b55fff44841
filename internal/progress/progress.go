// Package progress prints per-request probe results and the run summary.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/nodeprobe/internal/report"
)

// Display writes result lines to out and, when status is set, keeps a
// progress bar on status.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	status  io.Writer
	started bool
	stopped bool

	// Stats
	total  atomic.Int64
	ok     atomic.Int64
	errors atomic.Int64

	// Timing
	startTime time.Time

	// Display
	lastLine string
}

// New creates a display. status may be nil to disable the progress bar.
func New(out, status io.Writer) *Display {
	if out == nil {
		out = io.Discard
	}
	return &Display{out: out, status: status}
}

// Start prints the run header.
func (d *Display) Start(node, source string, total int, methods []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.total.Store(int64(total))

	fmt.Fprintf(d.out, "Node: %s\n", node)
	fmt.Fprintf(d.out, "OpenAPI: %s\n", source)
	fmt.Fprintf(d.out, "Requests: %d (methods: %s)\n", total, strings.Join(methods, ", "))
}

// Success records and prints a successful request.
func (d *Display) Success(method, path, id string) {
	d.ok.Add(1)
	d.line(fmt.Sprintf("[OK] %s %s (%s)", method, path, id))
}

// Failure records and prints a failed request with its reason.
func (d *Display) Failure(method, path, id, reason string) {
	d.errors.Add(1)
	d.line(fmt.Sprintf("[ERR] %s %s (%s) -> %s", method, path, id, reason))
}

func (d *Display) line(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clearBar()
	fmt.Fprintln(d.out, s)
	d.drawBar()
}

// Done prints the final count line.
func (d *Display) Done() {
	d.Stop()
	fmt.Fprintf(d.out, "Done: ok=%d, error=%d\n", d.ok.Load(), d.errors.Load())
}

// Stop removes the progress bar.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true
	d.clearBar()
}

// drawBar must be called with mu held.
func (d *Display) drawBar() {
	if d.status == nil || !d.started || d.stopped {
		return
	}

	total := d.total.Load()
	done := d.ok.Load() + d.errors.Load()
	progress := 100
	if total > 0 {
		progress = int(float64(done) / float64(total) * 100)
	}

	elapsed := time.Since(d.startTime)
	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(done) / elapsed.Seconds()
	}

	barWidth := 30
	filled := progress * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | %d/%d | OK: %d | ERR: %d | %.1f req/s | %s",
		bar, progress, done, total, d.ok.Load(), d.errors.Load(), speed, formatDuration(elapsed))

	fmt.Fprint(d.status, line)
	d.lastLine = line
}

// clearBar must be called with mu held.
func (d *Display) clearBar() {
	if d.status == nil || d.lastLine == "" {
		return
	}
	fmt.Fprint(d.status, "\r"+strings.Repeat(" ", len([]rune(d.lastLine)))+"\r")
	d.lastLine = ""
}

// PrintSummary prints a boxed summary of a finished run to w, listing each
// failed request.
func PrintSummary(w io.Writer, run *report.Run) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                       Probe Complete                         ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Node:                %s\n", truncateURL(run.Node, 50))
	fmt.Fprintf(w, "  Description:         %s\n", truncateURL(run.Description, 50))
	fmt.Fprintf(w, "  Duration:            %s\n", formatDuration(run.Duration))
	fmt.Fprintf(w, "  Requests:            %d\n", run.Total)
	fmt.Fprintf(w, "  OK:                  %d\n", run.Success)
	fmt.Fprintf(w, "  Errors:              %d\n", run.Errors)
	for _, e := range run.Failed() {
		fmt.Fprintf(w, "    - %s %s: %s\n", e.Method, e.Path, e.Error)
	}
	fmt.Fprintln(w)
}

// Stats returns the request total and current outcome counts.
func (d *Display) Stats() (total, ok, errors int64) {
	return d.total.Load(), d.ok.Load(), d.errors.Load()
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
