package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/device"
)

// FormatUptime renders seconds of uptime as e.g. "3d 4h 12m".
func FormatUptime(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds * float64(time.Second))

	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", int(seconds))
	}
}

// FormatDeviceInfo returns a formatted block describing one record
func FormatDeviceInfo(r device.Record) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Address:  %s\n", r.Address))
	b.WriteString(fmt.Sprintf("Status:   %s\n", r.Status))
	if r.Device == nil {
		return b.String()
	}
	d := r.Device
	b.WriteString(fmt.Sprintf("Hostname: %s\n", orDash(d.Hostname)))
	b.WriteString(fmt.Sprintf("User:     %s\n", orDash(d.Username)))
	b.WriteString(fmt.Sprintf("System:   %s/%s\n", orDash(d.OS), orDash(d.Arch)))
	b.WriteString(fmt.Sprintf("CPU:      %s\n", orDash(d.CPU)))
	b.WriteString(fmt.Sprintf("Uptime:   %s\n", FormatUptime(d.Uptime)))

	if len(d.Extra) > 0 {
		keys := make([]string, 0, len(d.Extra))
		for k := range d.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("%-9s %s\n", k+":", string(d.Extra[k])))
		}
	}

	return b.String()
}

// FormatDeviceTable renders records as an aligned table.
func FormatDeviceTable(records []device.Record) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		row := []string{r.Address, RenderStatus(r.Status), "-", "-", "-"}
		if r.Device != nil {
			row[2] = orDash(r.Device.Hostname)
			row[3] = orDash(r.Device.OS)
			row[4] = FormatUptime(r.Device.Uptime)
		}
		rows = append(rows, row)
	}
	return renderTable([]string{"ADDRESS", "STATUS", "HOSTNAME", "OS", "UPTIME"}, rows)
}

// FormatChannelTable renders channel summaries as an aligned table.
func FormatChannelTable(infos []channel.Info) string {
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{
			info.Address,
			info.Name,
			StateStyle(info.State).Render(info.State.String()),
			fmt.Sprint(info.Events),
			orDash(info.LastError),
		})
	}
	return renderTable([]string{"ADDRESS", "CHANNEL", "STATE", "EVENTS", "LAST ERROR"}, rows)
}

// FormatExperiments returns one block per experiment record
func FormatExperiments(records []device.ExperimentRecord) string {
	if len(records) == 0 {
		return NoteStyle.Render("No experiments registered") + "\n"
	}

	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteString("\n")
		}
		title := r.Experiment.Nickname
		if title == "" {
			title = r.ID
		}
		b.WriteString(TableHeaderStyle.Render(title))
		b.WriteString(fmt.Sprintf("  [%s]\n", orDash(r.Status)))
		b.WriteString(fmt.Sprintf("  ID:         %s\n", r.ID))
		b.WriteString(fmt.Sprintf("  Type:       %s\n", orDash(r.Experiment.Type)))
		if r.Branch != nil {
			b.WriteString(fmt.Sprintf("  Branch:     %s\n", *r.Branch))
		}
		b.WriteString(fmt.Sprintf("  Registered: %s\n", orDash(r.RegisterTime)))
		b.WriteString(fmt.Sprintf("  Updated:    %s\n", orDash(r.LastUpdate)))
		for _, e := range r.Experiment.Execs {
			b.WriteString(fmt.Sprintf("  Exec:       %s\n", e.Name()))
		}
	}
	return b.String()
}

// FormatEvent renders one event as a log line.
func FormatEvent(address, name string, ev channel.Event) string {
	stamp := NoteStyle.Render(ev.ReceivedAt.Format("15:04:05.000"))
	return fmt.Sprintf("%s %s/%s %s", stamp, address, name, string(ev.Data))
}

// renderTable pads each column to its widest cell. Widths are measured with
// lipgloss so styled cells align.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style func(string) string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(style(cell))
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
			}
		}
		b.WriteString("\n")
	}

	writeRow(headers, func(s string) string { return TableHeaderStyle.Render(s) })
	for _, row := range rows {
		writeRow(row, func(s string) string { return s })
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
