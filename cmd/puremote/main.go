// Puremote discovers experiment devices on the local network and follows
// their telemetry.
//
// Devices run an HTTP agent that describes itself at /api/device and
// publishes named Server-Sent Event channels. Puremote probes address
// patterns for agents, keeps a persistent registry of what it found, and
// can stream channels to the terminal or relay them to local websocket
// clients.
//
// Usage:
//
//	puremote [command] [flags]
//
// See 'puremote --help' for available commands.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cogmote/puremote/internal/logging"
	"github.com/cogmote/puremote/internal/version"
)

func main() {
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath   string
	logLevel     string
	devicePort   int
	probeTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "puremote",
	Short: "Experiment device discovery and telemetry",
	Long: `Discover experiment devices on the local network and follow their telemetry.

Address patterns expand to candidate hosts which are probed concurrently for
the device agent. Devices that answer are kept in a registry that is
reconciled on every start. Telemetry channels can be watched in the terminal
or relayed to local clients over websockets.

Logging is silent unless --log-level or PUREMOTE_LOG_LEVEL is set.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Example: `  # Probe a /24 and a range of numbered hosts
  puremote scan 192.168.1.* rig-[1-12].lab.local

  # Show the registry without probing
  puremote list --cached

  # Follow two channels of one device
  puremote watch 192.168.1.20 trials gaze

  # Relay channels to browser clients
  puremote serve --listen 127.0.0.1:9013`,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&devicePort, "port", 0, "Device agent port (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&probeTimeout, "timeout", 0, "Per-request timeout (overrides config)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "puremote %s\n", version.Full())
	},
}
