package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "puremote") {
		t.Errorf("GetConfigDir() = %v, should contain 'puremote'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("macOS config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG_CONFIG_HOME only applies on Linux")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if configDir != filepath.Join("/tmp/xdg-config", "puremote") {
		t.Errorf("GetConfigDir() = %v", configDir)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestDataDir(t *testing.T) {
	dataDir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir() error = %v", err)
	}

	switch runtime.GOOS {
	case "darwin":
		if !strings.Contains(dataDir, "Application Support") {
			t.Errorf("macOS data dir should be under Application Support, got: %v", dataDir)
		}
	case "windows":
	default:
		t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
		dataDir, _ = DataDir()
		if dataDir != filepath.Join("/tmp/xdg-data", "puremote") {
			t.Errorf("DataDir() = %v, want /tmp/xdg-data/puremote", dataDir)
		}
	}
}

func TestResolveDataDir_Override(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/srv/puremote"

	got, err := cfg.ResolveDataDir()
	if err != nil {
		t.Fatalf("ResolveDataDir() error = %v", err)
	}
	if got != "/srv/puremote" {
		t.Errorf("ResolveDataDir() = %v, want /srv/puremote", got)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %v, want %v", cfg.Version, CurrentVersion)
	}
	if cfg.DevicePort != 9012 {
		t.Errorf("DevicePort = %v, want 9012", cfg.DevicePort)
	}
	if cfg.ProbeTimeout != time.Second {
		t.Errorf("ProbeTimeout = %v, want 1s", cfg.ProbeTimeout)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.ConnectTimeout)
	}
	if cfg.RelayListen != "127.0.0.1:9013" {
		t.Errorf("RelayListen = %v", cfg.RelayListen)
	}
}

func TestLoad_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DevicePort != 9012 {
		t.Errorf("DevicePort = %v, want default", cfg.DevicePort)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Load() should not create a file when none exists")
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.ProbeTimeout = 750 * time.Millisecond
	cfg.MaxEvents = 500
	cfg.LogLevel = "debug"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "probe_timeout: 750ms") {
		t.Errorf("durations should be written in Go syntax:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ProbeTimeout != 750*time.Millisecond {
		t.Errorf("ProbeTimeout = %v, want 750ms", loaded.ProbeTimeout)
	}
	if loaded.MaxEvents != 500 || loaded.LogLevel != "debug" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoad_FillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nmax_events: 10\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxEvents != 10 {
		t.Errorf("MaxEvents = %v, want 10", cfg.MaxEvents)
	}
	if cfg.DevicePort != 9012 || cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_MalformedIsRewritten(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "version: [1\n"},
		{"bad duration", "version: 1\nprobe_timeout: soon\n"},
		{"wrong version", "version: 7\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err == nil {
				t.Fatal("Load() should report the malformed file")
			}
			if cfg == nil || cfg.DevicePort != 9012 {
				t.Fatalf("Load() should return defaults, got %+v", cfg)
			}

			again, err := Load(path)
			if err != nil {
				t.Errorf("rewritten file should load cleanly: %v", err)
			}
			if again.Version != CurrentVersion {
				t.Errorf("Version = %v", again.Version)
			}
		})
	}
}
