package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/cogmote/puremote/internal/addrspace"
	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/config"
	"github.com/cogmote/puremote/internal/device"
	"github.com/cogmote/puremote/internal/discovery"
	"github.com/cogmote/puremote/internal/relay"
	"github.com/cogmote/puremote/internal/tui"
	"github.com/cogmote/puremote/internal/ui"
)

// Command flags
var (
	precheck     bool
	plainOutput  bool
	cachedList   bool
	jsonOutput   bool
	browseFor    time.Duration
	probeFound   bool
	listenAddr   string
	allowOrigins []string
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(mdnsCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(expsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func interactive(cmd *cobra.Command) bool {
	if plainOutput {
		return false
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && ui.IsTerminal(f)
}

// scanCmd probes address patterns for devices
var scanCmd = &cobra.Command{
	Use:   "scan <pattern>...",
	Short: "Probe address patterns for devices",
	Long: `Expand each pattern into candidate addresses and probe them concurrently.

IPv4 patterns have four dot separated parts, each a number from 0 to 255, a
range [a-b] or * for the whole octet. Host patterns have the form
prefix[a-b]suffix. Anything else is used as a literal host name.

Devices that answer are added to the registry. Candidates that do not answer
are left out; existing registry entries are never removed by a scan.`,
	Example: `  # Probe a /24
  puremote scan 192.168.1.*

  # Probe numbered hosts, skipping hosts with a closed agent port
  puremote scan rig-[1-40].lab.local --precheck`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&precheck, "precheck", false, "Skip candidates whose agent port refuses a TCP connection")
	scanCmd.Flags().BoolVar(&plainOutput, "plain", false, "Print plain output instead of the interactive view")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	p := ui.NewPrinter(cmd.OutOrStdout())
	a, err := newApp(p)
	if err != nil {
		return err
	}
	defer a.close()

	addresses := addrspace.ExpandAll(args)
	if len(addresses) == 0 {
		return errors.New("patterns expanded to no candidate addresses")
	}

	if err := a.openRegistry(ctx, true); err != nil {
		return err
	}

	candidates := addresses
	if precheck {
		checker := discovery.NewPortChecker()
		checker.Port = a.cfg.DevicePort
		checker.Timeout = a.cfg.PrecheckTimeout
		candidates = checker.ReachablePorts(ctx, addresses)
	}

	results := func() []device.Record { return scannedRecords(a.registry.All(), candidates) }

	if interactive(cmd) {
		model := tui.NewScanModel(ctx, a.coord, candidates, results)
		if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("scan view error: %w", err)
		}
		return nil
	}

	p.PrintHeader("Device Scan", "puremote scan",
		ui.Param{Key: "Patterns", Value: fmt.Sprint(args)},
		ui.Param{Key: "Candidates", Value: strconv.Itoa(len(addresses))},
		ui.Param{Key: "Probed", Value: strconv.Itoa(len(candidates))},
	)

	start := time.Now()
	n := a.coord.ProbeMany(ctx, candidates)
	summary := discovery.Summary(n)

	p.PrintDevices(results())
	p.Newline()
	details := []ui.Param{
		{Key: "Elapsed", Value: time.Since(start).Round(time.Millisecond).String()},
		{Key: "Registry", Value: a.registry.Path()},
	}
	if n == 0 {
		p.PrintWarning(summary, details...)
	} else {
		p.PrintSuccess(summary, details...)
	}
	return nil
}

// scannedRecords returns the online records among addresses.
func scannedRecords(records []device.Record, addresses []string) []device.Record {
	scanned := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		scanned[address] = struct{}{}
	}

	var out []device.Record
	for _, r := range records {
		if _, ok := scanned[r.Address]; ok && r.Online() {
			out = append(out, r)
		}
	}
	return out
}

// mdnsCmd browses for advertised agents
var mdnsCmd = &cobra.Command{
	Use:   "mdns",
	Short: "Browse the local network for advertised devices",
	Long: `Listen for mDNS/DNS-SD advertisements of the device agent and list them.

With --probe the advertised addresses are probed and added to the registry.`,
	Example: `  # Browse for 5 seconds (default)
  puremote mdns

  # Browse longer and register what answers
  puremote mdns --for 15s --probe`,
	RunE: runMDNS,
}

func init() {
	mdnsCmd.Flags().DurationVar(&browseFor, "for", discovery.DefaultScanTimeout, "How long to listen for advertisements")
	mdnsCmd.Flags().BoolVar(&probeFound, "probe", false, "Probe advertised addresses and register those that answer")
}

func runMDNS(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	p := ui.NewPrinter(cmd.OutOrStdout())
	a, err := newApp(p)
	if err != nil {
		return err
	}
	defer a.close()

	p.PrintHeader("mDNS Browse", "puremote mdns",
		ui.Param{Key: "Service", Value: discovery.ServiceType},
		ui.Param{Key: "Duration", Value: browseFor.String()},
	)

	scanner := discovery.NewMDNSScanner()
	scanner.Timeout = browseFor
	services, err := scanner.Scan(ctx)
	if err != nil {
		p.PrintError("Browse failed", err, []string{
			"Check that multicast traffic is allowed on this network",
			"Use 'puremote scan' with an address pattern instead",
		})
		return err
	}

	if len(services) == 0 {
		p.PrintWarning("No advertisements received")
		return nil
	}
	for _, s := range services {
		p.Println(ui.OnlineMarker + " " + s.String())
	}
	p.Newline()

	if !probeFound {
		p.PrintSuccess(fmt.Sprintf("%d services advertised", len(services)))
		return nil
	}

	if err := a.openRegistry(ctx, true); err != nil {
		return err
	}
	addresses := discovery.Addresses(services)
	n := a.coord.ProbeMany(ctx, addresses)
	p.PrintDevices(scannedRecords(a.registry.All(), addresses))
	p.Newline()
	p.PrintSuccess(discovery.Summary(n), ui.Param{Key: "Registry", Value: a.registry.Path()})
	return nil
}

// addCmd registers a single address
var addCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Probe one address and register it if it answers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		p := ui.NewPrinter(cmd.OutOrStdout())
		a, err := newApp(p)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.openRegistry(ctx, false); err != nil {
			return err
		}

		if err := a.coord.Add(ctx, args[0]); err != nil {
			p.PrintError("Device did not answer", err, []string{
				"Check that the agent is running on the device",
				fmt.Sprintf("Check that port %d is reachable", a.cfg.DevicePort),
			})
			return err
		}

		record, _ := a.registry.Get(args[0])
		p.Print(ui.FormatDeviceInfo(record))
		p.Newline()
		p.PrintSuccess("Device registered", ui.Param{Key: "Registry", Value: a.registry.Path()})
		return nil
	},
}

// listCmd prints the registry
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices",
	Long: `List the devices in the registry.

The registry is reconciled first: every known address is probed again and
marked online or offline. Use --cached to show the records as last saved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		p := ui.NewPrinter(cmd.OutOrStdout())
		a, err := newApp(p)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.openRegistry(ctx, !cachedList); err != nil {
			return err
		}

		if jsonOutput {
			data, err := a.registry.Snapshot()
			if err != nil {
				return err
			}
			p.Println(string(data))
			return nil
		}

		p.PrintDevices(a.registry.All())
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&cachedList, "cached", false, "Do not probe; show the saved records")
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the registry in its persisted JSON form")
}

// reconcileCmd probes every registered device
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Probe every registered device and update its status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		p := ui.NewPrinter(cmd.OutOrStdout())
		a, err := newApp(p)
		if err != nil {
			return err
		}
		defer a.close()

		p.PrintHeader("Reconcile", "puremote reconcile",
			ui.Param{Key: "Registry", Value: a.registry.Path()},
		)

		// Opening with a prober reconciles every restored record.
		start := time.Now()
		if err := a.openRegistry(ctx, true); err != nil {
			return err
		}

		records := a.registry.All()
		online := 0
		for _, r := range records {
			if r.Online() {
				online++
			}
		}

		p.PrintDevices(records)
		p.Newline()
		p.PrintSuccess("Registry reconciled",
			ui.Param{Key: "Online", Value: strconv.Itoa(online)},
			ui.Param{Key: "Offline", Value: strconv.Itoa(len(records) - online)},
			ui.Param{Key: "Elapsed", Value: time.Since(start).Round(time.Millisecond).String()},
		)
		return nil
	},
}

// channelsCmd lists a device's channels
var channelsCmd = &cobra.Command{
	Use:   "channels <address>",
	Short: "List the telemetry channels of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		p := ui.NewPrinter(cmd.OutOrStdout())
		a, err := newApp(p)
		if err != nil {
			return err
		}
		defer a.channels.CloseAll()

		if _, err := a.channels.FetchChannels(ctx, args[0]); err != nil {
			p.PrintError("Could not list channels", err, []string{
				"Check that the device is online with 'puremote add " + args[0] + "'",
			})
			return err
		}
		p.PrintChannels(a.channels.List())
		return nil
	},
}

// expsCmd lists a device's experiments
var expsCmd = &cobra.Command{
	Use:     "exps <address>",
	Aliases: []string{"experiments"},
	Short:   "List the experiments registered on a device",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		p := ui.NewPrinter(cmd.OutOrStdout())
		a, err := newApp(p)
		if err != nil {
			return err
		}

		records, err := a.client.GetExperiments(ctx, args[0])
		if err != nil {
			p.PrintError("Could not list experiments", err, nil)
			return err
		}
		p.Print(ui.FormatExperiments(records))
		return nil
	},
}

// watchCmd follows channels of one device
var watchCmd = &cobra.Command{
	Use:   "watch <address> <channel>...",
	Short: "Stream telemetry channels to the terminal",
	Long: `Connect to one or more channels of a device and print every event.

In a terminal the events are shown in a scrolling view with the state of each
channel. Otherwise each event is printed as one line until interrupted.`,
	Example: `  puremote watch 192.168.1.20 trials
  puremote watch 192.168.1.20 trials gaze --plain > events.log`,
	Args: cobra.MinimumNArgs(2),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&plainOutput, "plain", false, "Print one line per event instead of the interactive view")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	p := ui.NewPrinter(cmd.OutOrStdout())
	a, err := newApp(p)
	if err != nil {
		return err
	}
	defer a.channels.CloseAll()

	address := args[0]
	targets := make([]tui.Target, 0, len(args)-1)
	for _, name := range args[1:] {
		targets = append(targets, tui.Target{Address: address, Channel: name})
	}

	if interactive(cmd) {
		model := tui.NewWatchModel(a.channels, targets...)
		defer model.Close()
		if err := connectAll(ctx, a, targets); err != nil {
			return err
		}
		if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("watch view error: %w", err)
		}
		return nil
	}

	var mu sync.Mutex
	for _, t := range targets {
		id := a.channels.Subscribe(t.Address, t.Channel, func(ev channel.Event) {
			mu.Lock()
			defer mu.Unlock()
			p.PrintEvent(t.Address, t.Channel, ev)
		})
		defer a.channels.Unsubscribe(t.Address, t.Channel, id)
	}
	if err := connectAll(ctx, a, targets); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// connectAll opens every target and fails on the first error.
func connectAll(ctx context.Context, a *app, targets []tui.Target) error {
	for _, t := range targets {
		if err := a.channels.Connect(ctx, t.Address, t.Channel, a.cfg.ConnectTimeout); err != nil {
			return fmt.Errorf("failed to connect %s: %w", t, err)
		}
	}
	return nil
}

// serveCmd runs the relay
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Relay the registry and channels to local clients",
	Long: `Serve the registry and channel manager over HTTP and websockets.

Clients connect channels with POST /api/devices/{address}/channels/{name}/connect
and follow them on /ws/{address}/{name}. Prometheus metrics are exposed on
/metrics. The server stops gracefully on SIGINT or SIGTERM.`,
	Example: `  # Listen on the configured address
  puremote serve

  # Accept a browser dashboard served from another origin
  puremote serve --listen 0.0.0.0:9013 --allow-origin http://localhost:5173`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (overrides config)")
	serveCmd.Flags().StringSliceVar(&allowOrigins, "allow-origin", nil, "Browser origin allowed to open websockets (repeatable, * for any)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	p := ui.NewPrinter(cmd.OutOrStdout())
	a, err := newApp(p)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.openRegistry(ctx, true); err != nil {
		return err
	}

	listen := a.cfg.RelayListen
	if listenAddr != "" {
		listen = listenAddr
	}

	srv := relay.New(&relay.Config{
		Listen:         listen,
		ConnectTimeout: a.cfg.ConnectTimeout,
		AllowedOrigins: allowOrigins,
	}, a.registry, a.channels, relay.WithAdder(a.coord), relay.WithMetrics(a.metrics))

	p.PrintHeader("Relay", "puremote serve",
		ui.Param{Key: "Listen", Value: listen},
		ui.Param{Key: "Registry", Value: a.registry.Path()},
		ui.Param{Key: "Devices", Value: strconv.Itoa(a.registry.Len())},
	)

	return srv.Start(ctx)
}

// configCmd manages the config file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout())
		a, err := newApp(p)
		if err != nil {
			return err
		}

		dataDir, _ := a.cfg.ResolveDataDir()
		p.PrintHeader("Configuration", "puremote config",
			ui.Param{Key: "File", Value: a.configPath},
			ui.Param{Key: "Data dir", Value: dataDir},
			ui.Param{Key: "Device port", Value: strconv.Itoa(a.cfg.DevicePort)},
			ui.Param{Key: "Probe timeout", Value: a.cfg.ProbeTimeout.String()},
			ui.Param{Key: "Precheck timeout", Value: a.cfg.PrecheckTimeout.String()},
			ui.Param{Key: "Connect timeout", Value: a.cfg.ConnectTimeout.String()},
			ui.Param{Key: "Max events", Value: strconv.Itoa(a.cfg.MaxEvents)},
			ui.Param{Key: "Relay listen", Value: a.cfg.RelayListen},
		)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Configuration written", ui.Param{Key: "File", Value: path})
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
