// Package tui implements the interactive `containers watch` view.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/jeeftor/vmcap/internal/instance"
	"github.com/jeeftor/vmcap/internal/styles"
)

// Source is where the view reads instances from and sends kills to.
type Source interface {
	Instances(ctx context.Context) ([]instance.Info, error)
	Kill(ctx context.Context, id string) error
}

type snapshotMsg struct {
	infos []instance.Info
	err   error
	at    time.Time
}

type tickMsg struct{}

type killedMsg struct {
	id  string
	err error
}

// WatchModel polls a Source and shows its instances in a table.
type WatchModel struct {
	ctx      context.Context
	src      Source
	interval time.Duration

	keys    KeyMap
	help    help.Model
	table   table.Model
	spinner spinner.Model

	infos      []instance.Info
	err        error
	status     string
	lastUpdate time.Time
	paused     bool
	loading    bool
	width      int
	quitting   bool
}

var columns = []table.Column{
	{Title: "ID", Width: 38},
	{Title: "Image", Width: 20},
	{Title: "Type", Width: 6},
	{Title: "State", Width: 22},
	{Title: "IP", Width: 15},
}

// NewWatchModel creates the view. interval is the polling period.
func NewWatchModel(ctx context.Context, src Source, interval time.Duration) *WatchModel {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color(styles.PrimaryText)).
		Background(lipgloss.Color(styles.Primary))
	t.SetStyles(ts)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.InfoStyle

	return &WatchModel{
		ctx:      ctx,
		src:      src,
		interval: interval,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		table:    t,
		spinner:  sp,
		loading:  true,
		width:    80,
	}
}

// Init implements tea.Model.
func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m *WatchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		infos, err := m.src.Instances(m.ctx)
		return snapshotMsg{infos: infos, err: err, at: time.Now()}
	}
}

func (m *WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *WatchModel) kill(id string) tea.Cmd {
	return func() tea.Msg {
		return killedMsg{id: id, err: m.src.Kill(m.ctx, id)}
	}
}

// Update implements tea.Model.
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.table.SetHeight(max(3, msg.Height-6))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case snapshotMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.infos = msg.infos
			m.lastUpdate = msg.at
			m.table.SetRows(rows(msg.infos))
		}
		return m, m.tick()

	case tickMsg:
		if m.paused {
			return m, m.tick()
		}
		return m, m.refresh()

	case killedMsg:
		if msg.err != nil {
			m.status = styles.ErrorStyle.Render(fmt.Sprintf("kill %s: %v", msg.id, msg.err))
		} else {
			m.status = styles.SuccessStyle.Render("killed " + msg.id)
		}
		return m, m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *WatchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		m.loading = true
		return m, m.refresh()
	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused
		return m, nil
	case key.Matches(msg, m.keys.Kill):
		if id := m.Selected(); id != "" {
			m.status = "killing " + id
			return m, m.kill(id)
		}
		return m, nil
	case key.Matches(msg, m.keys.KillAll):
		m.status = "killing all instances"
		return m, m.kill("all")
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// Selected returns the highlighted instance id, or "" when the table is empty.
func (m *WatchModel) Selected() string {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return ""
	}
	return row[0]
}

func rows(infos []instance.Info) []table.Row {
	return lo.Map(infos, func(i instance.Info, _ int) table.Row {
		return table.Row{i.ID, i.Name, i.Type, i.State, lo.Ternary(i.IP == "", "-", i.IP)}
	})
}

// View implements tea.Model.
func (m *WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := styles.TitleStyle.Render("vmcap instances")
	if m.loading {
		title += " " + m.spinner.View()
	}
	if m.paused {
		title += " " + styles.WarningStyle.Render("paused")
	}
	b.WriteString(title + "\n\n")

	switch {
	case m.err != nil:
		b.WriteString(styles.ErrorStyle.Render("Error: "+m.err.Error()) + "\n")
	case len(m.infos) == 0 && !m.loading:
		b.WriteString(styles.MutedStyle.Render("No instances") + "\n")
	default:
		b.WriteString(m.table.View() + "\n")
	}

	footer := fmt.Sprintf("%d instance(s)", len(m.infos))
	if !m.lastUpdate.IsZero() {
		footer += " · updated " + m.lastUpdate.Format("15:04:05")
	}
	b.WriteString(styles.MutedStyle.Render(footer) + "\n")
	if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}
