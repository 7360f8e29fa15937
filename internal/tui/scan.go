package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cogmote/puremote/internal/device"
	"github.com/cogmote/puremote/internal/discovery"
	"github.com/cogmote/puremote/internal/ui"
)

const progressRefresh = 100 * time.Millisecond

// Messages for async operations
type scanCompleteMsg struct {
	detected int
}

type progressTickMsg time.Time

// scanKeyMap defines key bindings for the scan screen
type scanKeyMap struct {
	Quit key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k scanKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k scanKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Quit}}
}

// ScanModel probes a list of addresses and shows progress while it runs.
// When the scan completes it lists the records returned by results.
type ScanModel struct {
	coord     *discovery.Coordinator
	addresses []string
	results   func() []device.Record

	ctx    context.Context
	cancel context.CancelFunc

	Scanning      bool
	Cancelled     bool
	detected      int
	done          int
	records       []device.Record
	ScanStartTime time.Time
	Elapsed       time.Duration

	Width       int
	Height      int
	Spinner     spinner.Model
	ProgressBar progress.Model
	Help        help.Model
	Keys        scanKeyMap
}

// NewScanModel creates the scan screen. The scan stops early when ctx is
// cancelled or the user quits.
func NewScanModel(ctx context.Context, coord *discovery.Coordinator, addresses []string, results func() []device.Record) ScanModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	progressBar := progress.New(progress.WithDefaultGradient())
	progressBar.Width = 40

	ctx, cancel := context.WithCancel(ctx)

	return ScanModel{
		coord:         coord,
		addresses:     addresses,
		results:       results,
		ctx:           ctx,
		cancel:        cancel,
		Scanning:      true,
		ScanStartTime: time.Now(),
		Spinner:       s,
		ProgressBar:   progressBar,
		Help:          help.New(),
		Keys: scanKeyMap{
			Quit: key.NewBinding(
				key.WithKeys("q", "esc", "ctrl+c"),
				key.WithHelp("q", "quit"),
			),
		},
	}
}

// Detected returns how many devices the scan found.
func (m ScanModel) Detected() int {
	return m.detected
}

// Records returns the records listed after the scan.
func (m ScanModel) Records() []device.Record {
	return m.records
}

// Init starts the scan
func (m ScanModel) Init() tea.Cmd {
	return tea.Batch(
		m.scan(),
		tickProgress(),
		m.Spinner.Tick,
	)
}

func (m ScanModel) scan() tea.Cmd {
	coord, ctx, addresses := m.coord, m.ctx, m.addresses
	return func() tea.Msg {
		return scanCompleteMsg{detected: coord.ProbeMany(ctx, addresses)}
	}
}

func tickProgress() tea.Cmd {
	return tea.Tick(progressRefresh, func(t time.Time) tea.Msg {
		return progressTickMsg(t)
	})
}

// Update handles messages and updates the model
func (m ScanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.Keys.Quit) {
			if m.Scanning {
				m.Cancelled = true
				m.cancel()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.ProgressBar.Width = min(max(msg.Width-20, 10), 60)

	case progressTickMsg:
		if !m.Scanning {
			return m, nil
		}
		m.done, _ = m.coord.Progress()
		m.Elapsed = time.Since(m.ScanStartTime)
		return m, tickProgress()

	case scanCompleteMsg:
		m.Scanning = false
		m.detected = msg.detected
		m.done = len(m.addresses)
		m.Elapsed = time.Since(m.ScanStartTime)
		if m.results != nil {
			m.records = m.results()
		}
		m.cancel()
		return m, nil

	case spinner.TickMsg:
		if !m.Scanning {
			return m, nil
		}
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// Fraction returns the share of candidates probed so far.
func (m ScanModel) Fraction() float64 {
	if len(m.addresses) == 0 {
		return 1
	}
	return float64(m.done) / float64(len(m.addresses))
}

// View renders the scan screen
func (m ScanModel) View() string {
	width := m.Width
	if width <= 0 {
		width = defaultWidth
	}

	var content string
	if m.Scanning {
		content = m.renderScanning(width)
	} else {
		content = m.renderResults()
	}

	caption := fmt.Sprintf("scanning %d candidates", len(m.addresses))
	return renderApplicationContainer(caption, content, m.Help.View(m.Keys), m.Width, m.Height)
}

func (m ScanModel) renderScanning(width int) string {
	title := fmt.Sprintf("%s PROBING DEVICES", m.Spinner.View())
	subtitle := fmt.Sprintf("%d of %d candidates probed", m.done, len(m.addresses))

	content := lipgloss.JoinVertical(lipgloss.Center,
		"",
		TitleStyle.Render(title),
		"",
		SubtitleStyle.Render(subtitle),
		"",
		m.ProgressBar.ViewAs(m.Fraction()),
		"",
		SubtitleStyle.Render(fmt.Sprintf("Elapsed: %ds", int(m.Elapsed.Seconds()))),
		"",
	)

	return lipgloss.Place(width-4, 0, lipgloss.Center, lipgloss.Top, content)
}

func (m ScanModel) renderResults() string {
	var b strings.Builder

	b.WriteString("\n")
	summary := discovery.Summary(m.detected)
	if m.detected == 0 {
		b.WriteString(WarningStyle.Render(ui.WarningMarker + " " + summary))
	} else {
		b.WriteString(SuccessStyle.Render(ui.SuccessMarker + " " + summary))
	}
	b.WriteString(SubtitleStyle.Render(fmt.Sprintf("  (%s)", m.Elapsed.Round(time.Millisecond))))
	b.WriteString("\n\n")

	if len(m.records) > 0 {
		b.WriteString(ui.FormatDeviceTable(m.records))
	}
	return b.String()
}
