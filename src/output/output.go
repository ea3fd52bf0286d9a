// Package output renders run progress for humans and CI: framed phase
// sections, per-plugin status rows, a run summary, GitLab collapsible
// sections and JUnit reports.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// UseColor returns true if colored output should be used.
// Respects NO_COLOR env, TERM=dumb, and terminal detection.
func UseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal() || IsCI()
}

func colorize(text, color string, enabled bool) string {
	if !enabled {
		return text
	}
	return color + text + colorReset
}

// Warnings writes soft issues as a list, one per line.
func Warnings(w io.Writer, warnings []string, color bool) {
	if len(warnings) == 0 {
		return
	}
	tag := colorize("WARN", colorYellow, color)
	for _, msg := range warnings {
		fmt.Fprintf(w, "  %s %s\n", tag, msg)
	}
}

// Errorf writes a failure line.
func Errorf(w io.Writer, color bool, format string, args ...any) {
	tag := colorize("FAIL", colorRed, color)
	fmt.Fprintf(w, "  %s %s\n", tag, fmt.Sprintf(format, args...))
}

// RowStatus writes a row with label, detail, and a status icon.
func RowStatus(sec *Section, label, detail, status string, color bool) {
	icon := StatusIcon(status, color)
	if detail != "" {
		sec.Row("%s %s %s", icon, label, Dimmed(detail, color))
	} else {
		sec.Row("%s %s", icon, label)
	}
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
