package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/native-bridge/bridge"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD166"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

type statRow struct {
	label string
	value string
	warn  bool
}

func statRows(s bridge.Stats) []statRow {
	mode := "direct"
	if s.Checked {
		mode = "checked"
	}
	return []statRow{
		{label: "mode", value: mode},
		{label: "policy", value: s.Policy.String(), warn: s.Policy == bridge.PolicyAbort},
		{label: "violations", value: fmt.Sprint(s.Violations), warn: s.Violations > 0},
		{label: "threads", value: fmt.Sprintf("%d attached, %d live", s.Threads, s.Live)},
		{label: "globals", value: fmt.Sprintf("%d / %d", s.Globals, s.GlobalMax), warn: s.GlobalMax > 0 && s.Globals*10 >= s.GlobalMax*9},
		{label: "watermarks", value: fmt.Sprintf("[%d, %d)", s.WatermarkLo, s.WatermarkHi)},
		{label: "pinned", value: fmt.Sprint(s.Pinned)},
		{label: "natives", value: fmt.Sprintf("%d bound, %d libraries", s.Registered, s.Libraries)},
	}
}

// renderStats formats a stats snapshot. Without styling it is plain
// "label: value" lines suitable for logs and pipes.
func renderStats(s bridge.Stats, styled bool) string {
	var b strings.Builder
	for _, row := range statRows(s) {
		if !styled {
			fmt.Fprintf(&b, "%-11s %s\n", row.label+":", row.value)
			continue
		}
		value := valueStyle.Render(row.value)
		if row.warn {
			value = warnStyle.Render(row.value)
		}
		b.WriteString(labelStyle.Render(row.label))
		b.WriteString(value)
		b.WriteByte('\n')
	}
	if !styled {
		return b.String()
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderSummary(rc runConfig, steps int64, elapsed time.Duration, styled bool) string {
	names := make([]string, len(rc.workloads))
	for i, wl := range rc.workloads {
		names[i] = wl.name
	}
	rate := 0.0
	if elapsed > 0 {
		rate = float64(steps) / elapsed.Seconds()
	}
	line := fmt.Sprintf("%s: %d steps on %d threads in %s (%.0f steps/s)",
		strings.Join(names, ","), steps, rc.threads, elapsed.Round(time.Millisecond), rate)
	if !styled {
		return line
	}
	return titleStyle.Render("bridgectl") + " " + line
}
