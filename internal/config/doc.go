// Package config provides user configuration management for puremote.
//
// Settings live in a small YAML file. Every field has a built-in default, and
// command-line flags override whatever the file says.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/puremote/config.yaml or $HOME/.config/puremote/config.yaml
//   - macOS: $HOME/.config/puremote/config.yaml
//   - Windows: %LOCALAPPDATA%\puremote\config.yaml
//
// The device registry (devices.json) is application data, not configuration,
// and is kept under DataDir unless data_dir is set.
//
// # Usage Example
//
//	path, _ := config.GetConfigPath()
//	cfg, err := config.Load(path)
//	if err != nil {
//	    // cfg holds defaults; the broken file has been rewritten
//	    logging.Warn("config reset", zap.Error(err))
//	}
//
// # Thread Safety
//
// Save is protected by a mutex and writes atomically through a temporary file.
package config
