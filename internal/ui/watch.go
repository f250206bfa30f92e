package ui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/dtvplus/internal/dtvclient"
)

// watchTimeout bounds one refresh or stop exchange
const watchTimeout = 10 * time.Second

// Fetcher reads both snapshots from a controller
type Fetcher func(ctx context.Context) (dtvclient.SystemInfo, dtvclient.Values, error)

// Action is a command the watch view can send, such as stopping the shower
type Action func(ctx context.Context) error

type snapshotMsg struct {
	info   dtvclient.SystemInfo
	values dtvclient.Values
	err    error
	at     time.Time
}

type tickMsg struct {
	gen int
}

type actionMsg struct {
	name string
	err  error
}

// watchKeyMap defines key bindings for the watch view
type watchKeyMap struct {
	Refresh key.Binding
	Stop    key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Stop, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh, k.Stop, k.Quit}}
}

// WatchModel is a live status view of one controller
type WatchModel struct {
	Address  string
	Interval time.Duration

	fetch Fetcher
	stop  Action

	status     Status
	hasStatus  bool
	err        error
	message    string
	loading    bool
	lastUpdate time.Time
	gen        int

	width   int
	spinner spinner.Model
	help    help.Model
	keys    watchKeyMap
}

// NewWatchModel creates a watch view that refreshes every interval. stop
// may be nil, in which case the stop key is disabled.
func NewWatchModel(address string, interval time.Duration, fetch Fetcher, stop Action) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	keys := watchKeyMap{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Stop: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "stop shower"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
	keys.Stop.SetEnabled(stop != nil)

	return WatchModel{
		Address:  address,
		Interval: interval,
		fetch:    fetch,
		stop:     stop,
		loading:  true,
		width:    GetTerminalWidth(),
		spinner:  s,
		help:     help.New(),
		keys:     keys,
	}
}

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd())
}

func (m WatchModel) fetchCmd() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), watchTimeout)
		defer cancel()
		info, values, err := fetch(ctx)
		return snapshotMsg{info: info, values: values, err: err, at: time.Now()}
	}
}

func (m WatchModel) tickCmd() tea.Cmd {
	gen := m.gen
	return tea.Tick(m.Interval, func(time.Time) tea.Msg {
		return tickMsg{gen: gen}
	})
}

func (m WatchModel) stopCmd() tea.Cmd {
	stop := m.stop
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), watchTimeout)
		defer cancel()
		return actionMsg{name: "stop", err: stop(ctx)}
	}
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = ClampWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, m.fetchCmd()
		case key.Matches(msg, m.keys.Stop):
			m.message = "Stopping shower..."
			return m, m.stopCmd()
		}
		return m, nil

	case snapshotMsg:
		m.loading = false
		m.gen++
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.status = BuildStatus(m.Address, msg.info, msg.values)
			m.hasStatus = true
			m.lastUpdate = msg.at
		}
		return m, m.tickCmd()

	case tickMsg:
		if msg.gen != m.gen || m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.fetchCmd()

	case actionMsg:
		if msg.err != nil {
			m.message = FailureMarker + " " + msg.name + " failed: " + dtvclient.ShortErrorMessage(msg.err)
			return m, nil
		}
		m.message = SuccessMarker + " " + msg.name + " sent"
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.fetchCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model
func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString(RenderHeader("Shower Status", "dtvplus-cfg watch", map[string]string{
		"Controller": m.Address,
		"Refresh":    m.Interval.String(),
	}, m.width))
	b.WriteString("\n")

	if m.hasStatus {
		b.WriteString(RenderStatus(m.status, m.width))
		b.WriteString("\n")
	}

	switch {
	case m.loading:
		b.WriteString(FooterStyle.Render(m.spinner.View() + " reading controller..."))
	case !m.lastUpdate.IsZero():
		b.WriteString(FooterStyle.Render("updated " + m.lastUpdate.Format("15:04:05")))
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(ErrorMessageStyle.Render("  " + FailureMarker + " " + dtvclient.ShortErrorMessage(m.err)))
		b.WriteString("\n")
	}
	if m.message != "" {
		b.WriteString(FooterStyle.Render(m.message))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(FooterStyle.Render(m.help.View(m.keys)))
	return b.String()
}

// Status returns the last successfully read status
func (m WatchModel) Status() (Status, bool) {
	return m.status, m.hasStatus
}

// Err returns the error of the last refresh, if it failed
func (m WatchModel) Err() error {
	return m.err
}

// RunWatch runs the watch view until the user quits
func RunWatch(m WatchModel) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
