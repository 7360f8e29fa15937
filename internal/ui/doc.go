// Package ui provides terminal output components for the puremote CLI.
//
// These components follow a "print once" pattern: commands build a header,
// print tables or blocks, and finish with a result box. The live screens
// live in package tui.
//
//   - Header: Command banner showing operation name and parameters
//   - Result: Success, failure and warning boxes
//   - Tables: device registry and channel listings
//
// Output goes through a Printer so commands can be tested against a buffer:
//
//	p := ui.NewPrinter(cmd.OutOrStdout())
//	p.PrintHeader("Device Scan", "puremote scan 192.168.1.*",
//	    ui.Param{Key: "Candidates", Value: "254"})
//	p.PrintDevices(reg.All())
//	p.PrintSuccess(discovery.Summary(n))
//
// # Logging Integration
//
// This package expects logging to be controlled via the PUREMOTE_LOG_LEVEL
// environment variable. When unset or empty, zap logging is silent, allowing
// the curated UI output to be displayed cleanly.
package ui
