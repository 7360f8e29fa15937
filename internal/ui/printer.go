package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/device"
)

// Printer provides methods for printing UI components to a writer.
// This is the primary way CLI commands output styled content.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Width returns the current terminal width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// Print writes content to the output
func (p *Printer) Print(content string) {
	_, _ = fmt.Fprint(p.out, content)
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params ...Param) {
	p.Println(NewHeader(title, command, params...).SetWidth(p.width).Render())
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details ...Param) {
	p.Println(NewSuccessResult(title, details...).SetWidth(p.width).Render())
}

// PrintWarning prints a warning result box
func (p *Printer) PrintWarning(title string, details ...Param) {
	p.Println(NewWarningResult(title, details...).SetWidth(p.width).Render())
}

// PrintError prints an error result box with troubleshooting tips
func (p *Printer) PrintError(title string, err error, troubleshooting []string) {
	p.Println(NewFailureResult(title, err, troubleshooting).SetWidth(p.width).Render())
}

// PrintDevices prints the registry as a table
func (p *Printer) PrintDevices(records []device.Record) {
	if len(records) == 0 {
		p.Println(NoteStyle.Render("No devices registered"))
		return
	}
	p.Print(FormatDeviceTable(records))
}

// PrintChannels prints channel summaries as a table
func (p *Printer) PrintChannels(infos []channel.Info) {
	if len(infos) == 0 {
		p.Println(NoteStyle.Render("No channels known"))
		return
	}
	p.Print(FormatChannelTable(infos))
}

// PrintEvent prints one telemetry event
func (p *Printer) PrintEvent(address, name string, ev channel.Event) {
	p.Println(FormatEvent(address, name, ev))
}
