// Package ui renders terminal output for the octosync CLI.
//
// Styling is applied only when stdout is a terminal and NO_COLOR is unset;
// otherwise every Render function returns its input unchanged, so piped
// output stays plain.
package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB000")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

var (
	colorOnce sync.Once
	colorOn   bool
	forced    *bool
)

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// SetColor forces styling on or off, overriding terminal detection.
func SetColor(on bool) {
	forced = &on
}

func colorEnabled() bool {
	if forced != nil {
		return *forced
	}
	colorOnce.Do(func() {
		_, noColor := os.LookupEnv("NO_COLOR")
		colorOn = !noColor && IsTerminal()
	})
	return colorOn
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

// RenderAccent highlights headings and progress markers.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass marks success.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn marks warnings.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail marks failures.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted de-emphasizes secondary details.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// Table renders rows as left-aligned columns with a bold header.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	line := func(cells []string, style func(string) string) {
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			pad := widths[i] - lipgloss.Width(cell)
			b.WriteString(style(cell))
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		b.WriteString("\n")
	}

	line(header, func(s string) string { return render(labelStyle, s) })
	for _, row := range rows {
		line(row, func(s string) string { return s })
	}
	return b.String()
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
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
