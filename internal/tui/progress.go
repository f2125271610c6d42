// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

const barTemplate = `{{string . "prefix"}} {{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{etime . }}`

// LiveRenderer prints flow progress: status lines for the scan and query
// phases, then a record progress bar while files are written.
// - Uses a pb bar and colors when the output is an interactive terminal.
// - Falls back to plain lines otherwise.
type LiveRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	start   time.Time
	stopped bool

	supports bool // interactive + ANSI
	bar      *pb.ProgressBar

	info  func(a ...any) string
	warn  func(a ...any) string
	fail  func(a ...any) string
	faint func(a ...any) string

	// aggregate
	records int
	written int
	skipped int
	bytes   int64
	lastGID string
}

// NewLiveRenderer creates a renderer on stdout.
func NewLiveRenderer() *LiveRenderer {
	return NewRenderer(os.Stdout, isInteractive() && ansiOkay())
}

// NewRenderer creates a renderer on w. interactive enables the progress
// bar and colors.
func NewRenderer(w io.Writer, interactive bool) *LiveRenderer {
	lr := &LiveRenderer{
		out:      w,
		start:    time.Now(),
		supports: interactive,
	}
	paint := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if !interactive || os.Getenv("NO_COLOR") != "" {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
		return c.SprintFunc()
	}
	lr.info = paint(color.FgGreen)
	lr.warn = paint(color.FgYellow)
	lr.fail = paint(color.FgRed)
	lr.faint = paint(color.Faint)
	return lr
}

// Handler returns a ProgressFunc that feeds events to the renderer.
func (lr *LiveRenderer) Handler() eventlogs.ProgressFunc {
	return lr.apply
}

// Close stops the bar if it is still running.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.stopped {
		return
	}
	lr.stopped = true
	lr.finishBar()
}

func (lr *LiveRenderer) apply(ev eventlogs.ProgressEvent) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	switch ev.Event {
	case "scan_start", "query_start":
		lr.line(lr.faint(ev.Message))
	case "scan_done", "snapshot":
		if ev.Message != "" {
			lr.line(ev.Message)
		}
	case "query_done":
		lr.records = ev.Total
		lr.line(ev.Message)
		lr.startBar(ev.Total)
	case "record_start":
		if lr.bar != nil {
			lr.bar.Set("prefix", "id"+ev.GID)
		} else {
			lr.line(ev.Message)
		}
		lr.lastGID = ev.GID
	case "file_done":
		lr.bytes += ev.Bytes
	case "record_done":
		lr.written++
		lr.advance()
	case "record_skip":
		lr.skipped++
		if lr.bar == nil {
			lr.line(lr.faint(fmt.Sprintf("skip: %s %s", ev.Path, ev.Message)))
		}
		lr.advance()
	case "retry":
		lr.line(lr.warn(fmt.Sprintf("retry %s (attempt %d): %s", ev.Path, ev.Attempt, ev.Message)))
	case "error":
		lr.finishBar()
		lr.line(lr.fail("error: " + ev.Message))
	case "done":
		lr.finishBar()
		lr.line(lr.info(ev.Message))
		lr.line(lr.faint(fmt.Sprintf("%d written, %d skipped, %s in %s",
			lr.written, lr.skipped, humanBytes(lr.bytes), fmtDuration(time.Since(lr.start)))))
	}
}

func (lr *LiveRenderer) startBar(total int) {
	if !lr.supports || total <= 0 {
		return
	}
	lr.bar = pb.New(total).
		SetTemplateString(barTemplate).
		SetWriter(lr.out).
		SetMaxWidth(termWidth()).
		Set("prefix", "records")
	lr.bar.Start()
}

func (lr *LiveRenderer) advance() {
	if lr.bar != nil {
		lr.bar.Increment()
	}
}

func (lr *LiveRenderer) finishBar() {
	if lr.bar != nil {
		lr.bar.Finish()
		lr.bar = nil
	}
}

func (lr *LiveRenderer) line(s string) {
	fmt.Fprintln(lr.out, s)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func fmtDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}
