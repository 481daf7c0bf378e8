package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/native-bridge/bridge"
)

const dumpLines = 18

type interactiveModel struct {
	err      error
	b        *bridge.Bridge
	done     *atomic.Int64
	cancel   context.CancelFunc
	start    func() tea.Msg
	note     string
	started  time.Time
	rc       runConfig
	spinner  spinner.Model
	progress progress.Model
	stats    bridge.Stats
	elapsed  time.Duration
	finished bool
	showDump bool
}

type tickMsg time.Time

type runDoneMsg struct {
	err     error
	elapsed time.Duration
}

func newInteractiveModel(ctx context.Context, b *bridge.Bridge, rc runConfig) *interactiveModel {
	ctx, cancel := context.WithCancel(ctx)
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = valueStyle

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 48

	m := &interactiveModel{
		b:        b,
		rc:       rc,
		done:     &atomic.Int64{},
		cancel:   cancel,
		spinner:  s,
		progress: p,
		started:  time.Now(),
		stats:    b.Stats(),
	}
	m.start = func() tea.Msg {
		err := runWorkloads(ctx, b, rc, m.done)
		return runDoneMsg{err: err, elapsed: time.Since(m.started)}
	}
	return m
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.start, m.spinner.Tick, tick())
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit

		case "c":
			if m.b.Checked() {
				m.note = "checked mode is already on"
			} else {
				m.b.EnableChecked()
				m.note = "checked mode enabled on every attached thread"
			}

		case "a":
			if err := m.b.SetPolicy(bridge.PolicyAbort); err != nil {
				m.note = err.Error()
			} else {
				m.note = "violations now abort"
			}

		case "d":
			// The dump walks every thread's locals and needs the workers stopped.
			if !m.finished {
				m.note = "dump is available once the run finishes"
			} else {
				m.showDump = !m.showDump
			}
		}

	case tickMsg:
		m.stats = m.b.Stats()
		if !m.finished {
			m.elapsed = time.Since(m.started)
		}
		return m, tick()

	case runDoneMsg:
		m.finished = true
		m.err = msg.err
		m.elapsed = msg.elapsed
		m.stats = m.b.Stats()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) percent() float64 {
	total := m.rc.total()
	if total == 0 {
		return 1
	}
	return float64(m.done.Load()) / float64(total)
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("bridgectl"))
	b.WriteString(" ")
	names := make([]string, len(m.rc.workloads))
	for i, wl := range m.rc.workloads {
		names[i] = wl.name
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n\n")

	switch {
	case !m.finished:
		fmt.Fprintf(&b, "%s running on %d threads  %s\n", m.spinner.View(), m.rc.threads, m.elapsed.Round(time.Millisecond))
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteByte('\n')
	default:
		fmt.Fprintf(&b, "done in %s\n", m.elapsed.Round(time.Millisecond))
	}
	b.WriteString(m.progress.ViewAs(m.percent()))
	fmt.Fprintf(&b, "  %d/%d\n\n", m.done.Load(), m.rc.total())

	b.WriteString(renderStats(m.stats, true))
	b.WriteString("\n")

	if m.note != "" {
		b.WriteString(warnStyle.Render(m.note))
		b.WriteString("\n")
	}
	if m.showDump {
		lines := strings.Split(m.b.DumpString(), "\n")
		if len(lines) > dumpLines {
			lines = append(lines[:dumpLines], fmt.Sprintf("... %d more lines", len(lines)-dumpLines))
		}
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("c checked mode • a abort policy • d dump • q quit"))
	return b.String()
}

func runInteractive(ctx context.Context, b *bridge.Bridge, rc runConfig) error {
	m := newInteractiveModel(ctx, b, rc)
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(*interactiveModel); ok && fm.err != nil {
		return fm.err
	}
	return nil
}
