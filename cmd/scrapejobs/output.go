package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/scrapejobs/internal/api"
	"github.com/kalambet/scrapejobs/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

const maxTextWidth = 100

// terminalRenderer prints poll loop events: records to out, everything else
// through the print helpers.
type terminalRenderer struct {
	out          io.Writer
	lastStatus   string
	lastProgress int
	lastCurrent  int
}

func newTerminalRenderer(out io.Writer) *terminalRenderer {
	return &terminalRenderer{out: out, lastProgress: -1, lastCurrent: -1}
}

func (r *terminalRenderer) Ack(jobID, message string) {
	printSuccess("%s", message)
	printStatus("Job", "%s", jobID)
}

func (r *terminalRenderer) Progress(st api.StatusResponse) {
	if st.Status == r.lastStatus && st.Progress == r.lastProgress && st.Current == r.lastCurrent {
		return
	}
	r.lastStatus, r.lastProgress, r.lastCurrent = st.Status, st.Progress, st.Current
	printStep("%s", progressLine(st))
}

func (r *terminalRenderer) Records(records []storage.Result, start int) {
	for i, rec := range records {
		fmt.Fprintf(r.out, "%4d  %s\n", start+i+1, formatRecord(rec))
	}
}

func (r *terminalRenderer) Completed(filename string, count int) {
	printSuccess("Scrape completed: %d tweets saved to %s", count, filename)
}

func (r *terminalRenderer) Failed(err error) {
	printError("%v", err)
}

func progressLine(st api.StatusResponse) string {
	if st.Target > 0 {
		return fmt.Sprintf("%s %3d%% (%d/%d)", st.Status, st.Progress, st.Current, st.Target)
	}
	return fmt.Sprintf("%s (%d collected)", st.Status, st.Current)
}

func formatRecord(r storage.Result) string {
	user := r.Username
	if user == "" {
		user = "unknown"
	}
	kind := ""
	if r.Kind != "" && r.Kind != storage.KindOriginal {
		kind = " [" + string(r.Kind) + "]"
	}
	return fmt.Sprintf("@%s%s: %s (%d likes, %d retweets, %d replies)",
		user, kind, truncate(r.Text, maxTextWidth), r.Likes, r.Retweets, r.Replies)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
