// Package logging provides structured logging for puremote.
//
// It wraps a process-wide zap logger. Logging is silent unless a level is
// passed to Initialize or set in PUREMOTE_LOG_LEVEL, so CLI output stays clean
// by default.
//
// # Log Levels
//
//   - Debug: individual probes, raw channel frames, registry writes
//   - Info: batch summaries, channel state changes
//   - Warn: channel failures, skipped persisted entries
//   - Error: persistence failures
//
// # Usage
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
//	logging.LogChannelState("192.168.1.20", "trials", "connecting", "open", nil)
//
// Logs go to stderr in zap's console encoding so they never mix with command
// output on stdout.
package logging
