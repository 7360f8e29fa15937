package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/cogmote/puremote/internal/ui"
	"github.com/cogmote/puremote/internal/version"
)

// AppName is shown in the header of every screen
const AppName = "PUREMOTE"

// Layout fallbacks used before the first tea.WindowSizeMsg arrives
const (
	defaultWidth  = 80
	defaultHeight = 24
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(ui.PrimaryColor).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ui.MutedColor)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ui.PrimaryColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ui.ErrorColor).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ui.SuccessColor).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ui.WarningColor).
			Bold(true)

	BorderColor = ui.PrimaryColor
)

// buildHeaderContent creates header content with app name, version and a
// screen-specific caption.
func buildHeaderContent(caption string) string {
	left := lipgloss.NewStyle().
		Foreground(ui.TextColor).
		Bold(true).
		Render(AppName + " " + version.Version)

	right := lipgloss.NewStyle().
		Foreground(ui.MutedColor).
		Render(caption)

	return lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
}

// renderApplicationContainer wraps a screen with the shared header and a
// footer holding the screen's help text, filling the terminal.
func renderApplicationContainer(caption, content, footerText string, width, height int) string {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}

	styledHeader := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Bottom: "─"}).
		BorderForeground(BorderColor).
		Width(width-4). // Leave room for outer border
		Padding(0, 1).
		Render(buildHeaderContent(caption))

	styledFooter := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Top: "─"}).
		BorderForeground(BorderColor).
		Width(width-4).
		Padding(0, 1).
		Render(lipgloss.NewStyle().Foreground(ui.MutedColor).Render(footerText))

	styledContent := lipgloss.NewStyle().
		Width(width - 4).
		Render(content)

	inner := lipgloss.JoinVertical(lipgloss.Left, styledHeader, styledContent, styledFooter)

	bordered := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(BorderColor).
		Width(width - 2).
		Height(height - 2).
		AlignVertical(lipgloss.Top).
		Render(inner)

	return lipgloss.Place(width, height, lipgloss.Left, lipgloss.Top, bordered)
}

// chromeHeight is the number of rows the container uses around content:
// outer border (2), header and its rule (2), footer and its rule (2).
const chromeHeight = 6
