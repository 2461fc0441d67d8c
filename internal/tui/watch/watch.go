// Package watch provides the live queue dashboard shown by "mailroom queue
// watch".
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/leefowlercu/mailroom/internal/daemon"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/tui/styles"
)

// DefaultInterval is the polling period when none is given.
const DefaultInterval = 2 * time.Second

// Source supplies queue overviews, normally the daemon client.
type Source interface {
	Queues(ctx context.Context) (*daemon.Overview, error)
}

type overviewMsg struct {
	overview *daemon.Overview
	err      error
}

type tickMsg time.Time

var columns = []table.Column{
	{Title: "Queue", Width: 12},
	{Title: "Workers", Width: 9},
	{Title: "Idle", Width: 5},
	{Title: "Backlog", Width: 8},
	{Title: "Pending", Width: 8},
	{Title: "Running", Width: 8},
	{Title: "Retry", Width: 6},
	{Title: "Done", Width: 8},
	{Title: "Failed", Width: 7},
	{Title: "Cancelled", Width: 9},
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	source   Source
	interval time.Duration
	table    table.Model
	overview *daemon.Overview
	err      error
	updated  time.Time
	quitting bool
}

// New creates a dashboard polling source every interval.
func New(source Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(6),
	)
	s := table.DefaultStyles()
	s.Header = styles.TableHeader
	s.Selected = styles.TableSelected
	t.SetStyles(s)

	return Model{
		source:   source,
		interval: interval,
		table:    t,
	}
}

// Init fetches the first overview.
func (m Model) Init() tea.Cmd {
	return m.fetch()
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.interval)
		defer cancel()
		ov, err := m.source.Queues(ctx)
		return overviewMsg{overview: ov, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles key presses, poll ticks and fetched overviews.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case tickMsg:
		return m, m.fetch()

	case overviewMsg:
		m.err = msg.err
		if msg.err != nil {
			slog.Debug("queue overview fetch failed", "error", msg.err)
		} else {
			m.overview = msg.overview
			m.updated = time.Now()
			m.table.SetRows(Rows(msg.overview))
		}
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.Title.Render("mailroom queues"))
	b.WriteString("\n")

	if ov := m.overview; ov != nil {
		fmt.Fprintf(&b, "daemon %s  workers %s  uptime %s",
			styles.Status(string(ov.State)).Render(string(ov.State)),
			styles.Status(string(ov.Pool.State)).Render(string(ov.Pool.State)),
			ov.Uptime.Truncate(time.Second))
		if ov.Pool.StoreDegraded {
			b.WriteString("  " + styles.ErrorText.Render("store unavailable"))
		}
		b.WriteString("\n\n")
		b.WriteString(m.table.View())
		b.WriteString("\n")
		b.WriteString(styles.MutedText.Render("updated " + m.updated.Format(time.TimeOnly)))
		b.WriteString("\n")
	} else if m.err == nil {
		b.WriteString(styles.MutedText.Render("connecting..."))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(styles.ErrorText.Render(m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(styles.HelpText.Render("r refresh • ↑/↓ select • q quit"))
	return styles.Container.Render(b.String())
}

// Rows renders one table row per queue of the overview.
func Rows(ov *daemon.Overview) []table.Row {
	if ov == nil {
		return nil
	}
	rows := make([]table.Row, 0, len(ov.Pool.Queues))
	for _, q := range ov.Pool.Queues {
		c := ov.Counters[q.Name]
		name := q.Name
		if q.Critical {
			name += " *"
		}
		rows = append(rows, table.Row{
			name,
			fmt.Sprintf("%d/%d", q.Live(), q.Concurrency),
			strconv.Itoa(q.Idle),
			strconv.FormatInt(q.Backlog, 10),
			count(c, jobs.StatusPending),
			count(c, jobs.StatusProcessing),
			count(c, jobs.StatusRetryPending),
			count(c, jobs.StatusCompleted),
			count(c, jobs.StatusFailed),
			count(c, jobs.StatusCancelled),
		})
	}
	return rows
}

func count(c map[string]int64, status jobs.Status) string {
	return strconv.FormatInt(c[string(status)], 10)
}

// Run shows the dashboard until the user quits or ctx is canceled.
func Run(ctx context.Context, source Source, interval time.Duration) error {
	p := tea.NewProgram(New(source, interval), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to run queue dashboard; %w", err)
	}
	return nil
}
