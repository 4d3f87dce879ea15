// Package ui provides terminal output helpers for the module-creator CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/spherical/module-creator/internal/domain"
)

// UI writes user-facing messages.
type UI struct {
	out     io.Writer
	errOut  io.Writer
	noColor bool
}

// New creates a UI writing to stdout and stderr.
func New(noColor bool) *UI {
	return NewWithWriters(os.Stdout, os.Stderr, noColor)
}

// NewWithWriters creates a UI with explicit writers.
func NewWithWriters(out, errOut io.Writer, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{out: out, errOut: errOut, noColor: noColor}
}

func (u *UI) print(w io.Writer, attr color.Attribute, symbol, format string, args ...interface{}) {
	msg := fmt.Sprintf("%s %s\n", symbol, fmt.Sprintf(format, args...))
	if u.noColor {
		fmt.Fprint(w, msg)
		return
	}
	color.New(attr).Fprint(w, msg)
}

// Success prints a success message.
func (u *UI) Success(format string, args ...interface{}) {
	u.print(u.out, color.FgGreen, "✓", format, args...)
}

// Error prints an error message to stderr.
func (u *UI) Error(format string, args ...interface{}) {
	u.print(u.errOut, color.FgRed, "✗", format, args...)
}

// Warning prints a warning message.
func (u *UI) Warning(format string, args ...interface{}) {
	u.print(u.out, color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (u *UI) Info(format string, args ...interface{}) {
	u.print(u.out, color.FgCyan, "ℹ", format, args...)
}

// Step prints a step message.
func (u *UI) Step(format string, args ...interface{}) {
	u.print(u.out, color.FgBlue, "→", format, args...)
}

// Section prints a section header.
func (u *UI) Section(title string) {
	fmt.Fprintln(u.out)
	line := fmt.Sprintf("━━━ %s ━━━", strings.ToUpper(title))
	if u.noColor {
		fmt.Fprintln(u.out, line)
	} else {
		color.New(color.FgMagenta, color.Bold).Fprintln(u.out, line)
	}
	fmt.Fprintln(u.out)
}

// KeyValue prints a key-value pair.
func (u *UI) KeyValue(key string, value interface{}) {
	if u.noColor {
		fmt.Fprintf(u.out, "  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Fprintf(u.out, "  %s: ", key)
	fmt.Fprintf(u.out, "%v\n", value)
}

// Newline prints a newline.
func (u *UI) Newline() {
	fmt.Fprintln(u.out)
}

// Event prints one progress event on a single line.
func (u *UI) Event(ev domain.ProgressEvent) {
	ts := ev.Timestamp.Format(time.TimeOnly)
	line := fmt.Sprintf("%s %-8.8s %-14s %s", ts, ev.RunID, ev.Type, ev.State)
	if ev.Message != "" {
		line += " - " + ev.Message
	}

	switch ev.Type {
	case domain.EventRunSucceeded:
		u.print(u.out, color.FgGreen, "✓", "%s", line)
	case domain.EventRunFailed:
		u.print(u.out, color.FgRed, "✗", "%s", line)
	default:
		u.print(u.out, color.FgBlue, "→", "%s", line)
	}
}

// Spinner wraps a spinner for indeterminate progress.
type Spinner struct {
	spinner *spinner.Spinner
}

// NewSpinner creates a spinner writing to stderr.
func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	return &Spinner{spinner: s}
}

// Start starts the spinner animation.
func (s *Spinner) Start() { s.spinner.Start() }

// Stop stops the spinner and clears the line.
func (s *Spinner) Stop() { s.spinner.Stop() }

// UpdateMessage replaces the spinner text.
func (s *Spinner) UpdateMessage(message string) {
	s.spinner.Lock()
	s.spinner.Suffix = " " + message
	s.spinner.Unlock()
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(100 * time.Millisecond).String()
}
