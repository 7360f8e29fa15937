package tui

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/ui"
)

const (
	// DefaultMaxLines caps the lines kept in the watch scrollback
	DefaultMaxLines = 1000

	// Events queued between the channel reader and the UI loop
	eventQueue = 1024

	stateRefresh = 500 * time.Millisecond
)

// Target names one channel on one device.
type Target struct {
	Address string
	Channel string
}

func (t Target) String() string {
	return t.Address + "/" + t.Channel
}

// Messages for async operations
type eventMsg struct {
	target Target
	event  channel.Event
}

type stateTickMsg time.Time

// watchKeyMap defines key bindings for the watch screen
type watchKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Bottom key.Binding
	Pause  key.Binding
	Clear  key.Binding
	Help   key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Clear, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Bottom},
		{k.Pause, k.Clear},
		{k.Help, k.Quit},
	}
}

func newWatchKeyMap() watchKeyMap {
	return watchKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "follow"),
		),
		Pause: key.NewBinding(
			key.WithKeys("p", " "),
			key.WithHelp("p", "pause"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "more keys"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// WatchModel shows the live events of one or more channels. It subscribes
// on creation; call Close after the program exits.
type WatchModel struct {
	manager *channel.Manager
	targets []Target
	subs    []uuid.UUID
	events  chan eventMsg
	dropped *atomic.Int64

	Viewport viewport.Model
	Help     help.Model
	Keys     watchKeyMap

	lines    []string
	MaxLines int
	Paused   bool
	Received int
	Width    int
	Height   int
}

// NewWatchModel subscribes to every target and returns the screen model.
func NewWatchModel(manager *channel.Manager, targets ...Target) WatchModel {
	m := WatchModel{
		manager:  manager,
		targets:  targets,
		events:   make(chan eventMsg, eventQueue),
		dropped:  new(atomic.Int64),
		Viewport: viewport.New(defaultWidth-4, defaultHeight-chromeHeight-len(targets)-1),
		Help:     help.New(),
		Keys:     newWatchKeyMap(),
		MaxLines: DefaultMaxLines,
	}

	for _, t := range targets {
		events, dropped := m.events, m.dropped
		id := manager.Subscribe(t.Address, t.Channel, func(ev channel.Event) {
			select {
			case events <- eventMsg{target: t, event: ev}:
			default:
				dropped.Add(1)
			}
		})
		m.subs = append(m.subs, id)
	}
	return m
}

// Close removes the model's subscriptions.
func (m WatchModel) Close() {
	for i, t := range m.targets {
		m.manager.Unsubscribe(t.Address, t.Channel, m.subs[i])
	}
}

// Lines returns the scrollback currently held.
func (m WatchModel) Lines() []string {
	return m.lines
}

// Dropped returns how many events were lost because the screen fell behind.
func (m WatchModel) Dropped() int {
	return int(m.dropped.Load())
}

// Init starts listening for events and refreshing channel states
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tickStates())
}

func waitForEvent(events <-chan eventMsg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func tickStates() tea.Cmd {
	return tea.Tick(stateRefresh, func(t time.Time) tea.Msg {
		return stateTickMsg(t)
	})
}

// Update handles messages and updates the model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.Keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Pause):
			m.Paused = !m.Paused
			if !m.Paused {
				m.refresh(true)
			}
			return m, nil
		case key.Matches(msg, m.Keys.Clear):
			m.lines = nil
			m.refresh(true)
			return m, nil
		case key.Matches(msg, m.Keys.Bottom):
			m.Viewport.GotoBottom()
			return m, nil
		case key.Matches(msg, m.Keys.Help):
			m.Help.ShowAll = !m.Help.ShowAll
			m.resize()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Help.Width = msg.Width - 4
		m.resize()
		return m, nil

	case eventMsg:
		m.Received++
		m.lines = append(m.lines, ui.FormatEvent(msg.target.Address, msg.target.Channel, msg.event))
		if over := len(m.lines) - m.MaxLines; m.MaxLines > 0 && over > 0 {
			m.lines = m.lines[over:]
		}
		if !m.Paused {
			m.refresh(m.Viewport.AtBottom())
		}
		return m, waitForEvent(m.events)

	case stateTickMsg:
		return m, tickStates()
	}

	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

func (m *WatchModel) refresh(follow bool) {
	m.Viewport.SetContent(strings.Join(m.lines, "\n"))
	if follow {
		m.Viewport.GotoBottom()
	}
}

func (m *WatchModel) resize() {
	width, height := m.Width, m.Height
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	helpRows := lipgloss.Height(m.Help.View(m.Keys))
	m.Viewport.Width = width - 4
	m.Viewport.Height = max(height-chromeHeight-len(m.targets)-1-(helpRows-1), 1)
}

// View renders the watch screen
func (m WatchModel) View() string {
	var b strings.Builder

	for _, t := range m.targets {
		state := m.manager.State(t.Address, t.Channel)
		line := fmt.Sprintf("%-28s %s  %d buffered",
			t.String(),
			ui.StateStyle(state).Render(fmt.Sprintf("%-10s", state)),
			len(m.manager.BufferedEvents(t.Address, t.Channel)),
		)
		if err := m.manager.Err(t.Address, t.Channel); err != nil {
			line += "  " + ErrorStyle.Render(err.Error())
		}
		b.WriteString(line + "\n")
	}

	status := fmt.Sprintf("%d received", m.Received)
	if d := m.Dropped(); d > 0 {
		status += WarningStyle.Render(fmt.Sprintf("  %d dropped", d))
	}
	if m.Paused {
		status += WarningStyle.Render("  PAUSED")
	}
	b.WriteString(SubtitleStyle.Render(status) + "\n")
	b.WriteString(m.Viewport.View())

	caption := "watching " + fmt.Sprint(len(m.targets)) + " channel(s)"
	return renderApplicationContainer(caption, b.String(), m.Help.View(m.Keys), m.Width, m.Height)
}
