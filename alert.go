package guestcore

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	ALERT_MIN_WIDTH     = 24
	ALERT_DEFAULT_WIDTH = 80

	ansiRed   = "\x1b[1;31m"
	ansiReset = "\x1b[0m"
)

// Alerter shows a fatal alert to the user.
type Alerter interface {
	FatalAlert(msg string)
}

// TerminalAlerter prints fatal alerts to a terminal or log stream. On a
// terminal the alert is boxed to the terminal width and coloured.
type TerminalAlerter struct {
	mu  sync.Mutex
	out io.Writer
	fd  int
}

// NewTerminalAlerter writes to stderr.
func NewTerminalAlerter() *TerminalAlerter {
	return &TerminalAlerter{out: os.Stderr, fd: int(os.Stderr.Fd())}
}

// NewWriterAlerter writes plain alerts to w.
func NewWriterAlerter(w io.Writer) *TerminalAlerter {
	return &TerminalAlerter{out: w, fd: -1}
}

func (a *TerminalAlerter) FatalAlert(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fd < 0 || !term.IsTerminal(a.fd) {
		fmt.Fprintf(a.out, "FATAL ALERT: %s\n", msg)
		return
	}
	width, _, err := term.GetSize(a.fd)
	if err != nil || width < ALERT_MIN_WIDTH {
		width = ALERT_DEFAULT_WIDTH
	}
	fmt.Fprint(a.out, ansiRed+boxAlert("Fatal Alert", msg, width)+ansiReset)
}

// boxAlert frames msg, wrapped on word boundaries, in a box width columns
// wide.
func boxAlert(title, msg string, width int) string {
	inner := width - 4
	var b strings.Builder
	rule := "+" + strings.Repeat("-", width-2) + "+\n"
	b.WriteString(rule)
	fmt.Fprintf(&b, "| %-*s |\n", inner, title)
	b.WriteString(rule)
	for _, line := range wrapWords(msg, inner) {
		fmt.Fprintf(&b, "| %-*s |\n", inner, line)
	}
	b.WriteString(rule)
	return b.String()
}

func wrapWords(s string, width int) []string {
	var lines []string
	line := ""
	for _, w := range strings.Fields(s) {
		for len(w) > width {
			if line != "" {
				lines = append(lines, line)
				line = ""
			}
			lines = append(lines, w[:width])
			w = w[width:]
		}
		switch {
		case line == "":
			line = w
		case len(line)+1+len(w) <= width:
			line += " " + w
		default:
			lines = append(lines, line)
			line = w
		}
	}
	if line != "" || len(lines) == 0 {
		lines = append(lines, line)
	}
	return lines
}
