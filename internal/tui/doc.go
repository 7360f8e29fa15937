// Package tui implements the full-screen terminal views of puremote.
//
// Built using the Bubble Tea framework, each screen is a Model-Update-View
// value driven by messages. Long running work (probing, channel readers)
// happens in commands or goroutines and reaches the model as messages.
//
// # Screens
//
//   - ScanModel: probes candidate addresses with a spinner and progress bar,
//     then lists the devices found
//   - WatchModel: follows the live events of one or more channels in a
//     scrolling viewport with their current connection states
//
// Both screens use renderApplicationContainer for a shared header, content
// area and key help footer.
//
// # Usage Example
//
//	model := tui.NewWatchModel(channels, tui.Target{Address: "10.0.0.7", Channel: "trials"})
//	defer model.Close()
//
//	program := tea.NewProgram(model, tea.WithAltScreen())
//	if _, err := program.Run(); err != nil {
//	    return err
//	}
//
// Commands fall back to the line printer in package ui when stdout is not a
// terminal.
package tui
