package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// consoleDisplay handles terminal output.
type consoleDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsole creates a Display that writes to standard error.
func NewConsole() Display {
	return &consoleDisplay{
		out: os.Stderr,
	}
}

// NewWriterDisplay creates a Display that writes to the provided io.Writer.
func NewWriterDisplay(w io.Writer) Display {
	return &consoleDisplay{
		out: w,
	}
}

func (d *consoleDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verbose = v
}

func (d *consoleDisplay) isVerbose() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.verbose
}

// Print writes a message directly to the output writer.
func (d *consoleDisplay) Print(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.out, msg)
}

func (d *consoleDisplay) StartTask(name string) Task {
	t := &consoleTask{d: d, name: name, lastPercent: -1}
	t.line(fmt.Sprintf("[%s] started", name), false)
	return t
}

// RenderTable prints a table with columns padded to the widest cell.
func (d *consoleDisplay) RenderTable(t *Table) {
	if t == nil || len(t.Header) == 0 {
		return
	}

	widths := make([]int, len(t.Header))
	for i, h := range t.Header {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	for i, h := range t.Header {
		fmt.Fprintf(&sb, "%-*s  ", widths[i], h)
	}
	sb.WriteString("\n")

	totalWidth := 0
	for _, w := range widths {
		totalWidth += w + 2
	}
	sb.WriteString(strings.Repeat("-", totalWidth) + "\n")

	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(&sb, "%-*s  ", widths[i], cell)
			}
		}
		sb.WriteString("\n")
	}
	d.Print(sb.String())
}

type consoleTask struct {
	d           *consoleDisplay
	name        string
	stage       string
	lastPercent int
	lastPrint   time.Time
}

func (t *consoleTask) line(msg string, verboseOnly bool) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if verboseOnly && !t.d.verbose {
		return
	}
	fmt.Fprintln(t.d.out, msg)
}

func (t *consoleTask) Log(msg string) {
	t.line(fmt.Sprintf("[%s] %s", t.name, msg), true)
}

func (t *consoleTask) SetStage(name string, target string) {
	t.stage = name
	t.lastPercent = -1
	t.line(fmt.Sprintf("[%s] %s %s", t.name, name, target), false)
}

// Progress only prints when the percentage moved by at least ten points,
// or once a second when the total is unknown.
func (t *consoleTask) Progress(percent int, message string) {
	if !t.d.isVerbose() {
		return
	}
	now := time.Now()
	if percent < 0 {
		if now.Sub(t.lastPrint) < time.Second {
			return
		}
		t.lastPrint = now
		t.line(fmt.Sprintf("[%s] %s %s", t.name, t.stage, message), true)
		return
	}
	if t.lastPercent >= 0 && percent < 100 && percent-t.lastPercent < 10 {
		return
	}
	t.lastPercent = percent
	t.lastPrint = now
	t.line(fmt.Sprintf("[%s] %s %3d%% %s", t.name, t.stage, percent, message), true)
}

func (t *consoleTask) Done() {
	t.line(fmt.Sprintf("[%s] done", t.name), false)
}
