package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/config"
	"github.com/cogmote/puremote/internal/deviceapi"
	"github.com/cogmote/puremote/internal/discovery"
	"github.com/cogmote/puremote/internal/logging"
	"github.com/cogmote/puremote/internal/metrics"
	"github.com/cogmote/puremote/internal/registry"
	"github.com/cogmote/puremote/internal/ui"
)

// app is the object graph shared by the commands.
type app struct {
	cfg        *config.Config
	configPath string

	client   *deviceapi.Client
	metrics  *metrics.Metrics
	coord    *discovery.Coordinator
	registry *registry.Registry
	channels *channel.Manager
	printer  *ui.Printer

	opened bool
}

// newApp loads the configuration, starts logging and wires the components.
// The registry is created but not opened.
func newApp(printer *ui.Printer) (*app, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return nil, err
		}
	}

	cfg, cfgErr := config.Load(path)

	level := logLevel
	if level == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		level = cfg.LogLevel
	}
	if err := logging.Initialize(level); err != nil {
		return nil, err
	}

	if cfgErr != nil {
		logging.Warn("Configuration file was invalid", zap.String("path", path), zap.Error(cfgErr))
		printer.PrintWarning("Configuration reset to defaults", ui.Param{Key: "File", Value: path})
	}

	if devicePort > 0 {
		cfg.DevicePort = devicePort
	}
	if probeTimeout > 0 {
		cfg.ProbeTimeout = probeTimeout
	}

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	client := deviceapi.NewClient()
	client.Port = cfg.DevicePort
	client.SetTimeout(cfg.ProbeTimeout)

	m := metrics.New()
	coord := discovery.NewCoordinator(client, m)
	reg := registry.New(filepath.Join(dataDir, registry.FileName), registry.FileStorage{}, coord, registry.WithMetrics(m))
	coord.SetSink(reg)

	logging.Debug("Application configured",
		zap.String("config", path),
		zap.String("registry", reg.Path()),
		zap.Int("port", cfg.DevicePort),
		zap.Duration("timeout", cfg.ProbeTimeout),
	)

	return &app{
		cfg:        cfg,
		configPath: path,
		client:     client,
		metrics:    m,
		coord:      coord,
		registry:   reg,
		channels:   channel.NewManager(client, channel.WithMetrics(m), channel.WithMaxEvents(cfg.MaxEvents)),
		printer:    printer,
	}, nil
}

// openRegistry restores the persisted registry. With reconcile false the
// records are shown as last saved.
func (a *app) openRegistry(ctx context.Context, reconcile bool) error {
	reg := a.registry
	if !reconcile {
		reg = registry.New(a.registry.Path(), registry.FileStorage{}, nil, registry.WithMetrics(a.metrics))
		a.registry = reg
		a.coord.SetSink(reg)
	}

	a.opened = true
	if err := reg.Open(ctx); err != nil {
		// Open has already reset and rewritten the file; keep going.
		logging.Warn("Registry could not be restored", zap.String("path", reg.Path()), zap.Error(err))
		a.printer.PrintWarning("Registry reset", ui.Param{Key: "File", Value: reg.Path()}, ui.Param{Key: "Reason", Value: err.Error()})
	}
	return ctx.Err()
}

// close releases streams and flushes the registry if it was opened.
func (a *app) close() {
	a.channels.CloseAll()
	if !a.opened {
		return
	}
	if err := a.registry.Save(); err != nil {
		logging.Error("Failed to save registry", zap.Error(err))
	}
}
