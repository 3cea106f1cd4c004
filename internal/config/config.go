// Package config provides TOML configuration file loading and parsing for the shell.
// The configuration file lives at ~/.gantry/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the shell configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Addr is the host:port for the UI bridge server.
	// Default: 127.0.0.1:7171
	Addr string `toml:"addr"`

	// Packaged indicates the shell is running from a packaged install.
	// When true, the backend working directory is resolved under ResourcesDir.
	// When false, it is resolved relative to the shell executable.
	// Default: false
	Packaged bool `toml:"packaged"`

	// ResourcesDir is the install resources directory for packaged builds.
	// Ignored unless Packaged is true.
	ResourcesDir string `toml:"resources_dir"`

	// StateStore is the path to the SQLite database for run history.
	// Default: ~/.gantry/gantry.db
	StateStore string `toml:"state_store"`

	// MdnsEnabled enables mDNS/Bonjour advertisement of the bridge endpoint.
	// When true, remote rendering surfaces on the LAN can discover the shell
	// without manual address entry.
	// Default: false (disabled for security - must be explicitly enabled)
	MdnsEnabled bool `toml:"mdns_enabled"`

	// LocalLogs mirrors backend output to the shell's stdout
	// (in addition to streaming it to UI clients).
	// Default: false
	LocalLogs bool `toml:"local_logs"`

	// Backend configures how the supervised backend process is launched.
	Backend BackendConfig `toml:"backend"`

	// Restart configures the crash restart policy.
	Restart RestartConfig `toml:"restart"`
}

// BackendConfig describes the backend process launch parameters.
type BackendConfig struct {
	// Dir is the backend execution root, relative to the install location.
	// Default: backend
	Dir string `toml:"dir"`

	// Command is the backend command on POSIX platforms.
	// Default: ./backend
	Command string `toml:"command"`

	// CommandWindows is the backend command on Windows.
	// Default: backend.exe
	CommandWindows string `toml:"command_windows"`

	// Args are the backend command arguments.
	Args []string `toml:"args"`

	// Env is an environment overlay applied on top of the shell's environment.
	Env map[string]string `toml:"env"`

	// PortPattern is the regular expression used to discover the backend port.
	// It must contain one capture group for the port digits.
	// Default: (?i)https?://(?:localhost|127\.0\.0\.1):(\d+)
	PortPattern string `toml:"port_pattern"`

	// StartupTimeoutMs is the port discovery window in milliseconds.
	// Default: 10000
	StartupTimeoutMs int `toml:"startup_timeout_ms"`

	// ShutdownGraceMs is the SIGTERM grace window in milliseconds.
	// Default: 5000
	ShutdownGraceMs int `toml:"shutdown_grace_ms"`

	// UsePTY launches the backend under a pseudo-terminal so CLIs that
	// only colorize on a TTY keep their colors. Output arrives as a single
	// combined stream. Default: false
	UsePTY bool `toml:"use_pty"`
}

// RestartConfig describes how the shell reacts to backend crashes.
type RestartConfig struct {
	// Policy is one of "immediate", "backoff", or "never".
	// Default: immediate
	Policy string `toml:"policy"`

	// InitialDelayMs is the first backoff delay in milliseconds.
	// Only used when Policy is "backoff". Default: 500
	InitialDelayMs int `toml:"initial_delay_ms"`

	// MaxDelayMs caps the backoff delay in milliseconds.
	// Only used when Policy is "backoff". Default: 30000
	MaxDelayMs int `toml:"max_delay_ms"`
}

// DefaultConfigPath returns the default config file location: ~/.gantry/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".gantry", "config.toml"), nil
}

// DefaultStatePath returns the default run history database location.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".gantry", "gantry.db"), nil
}

// WriteDefault creates a config file with commented defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	// Check if file already exists - never overwrite
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, nothing to do
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Minimal TOML config documenting the common knobs.
	// Using a raw string to control formatting exactly.
	content := `# Gantry configuration
# Created by 'gantry init'

# UI bridge listen address (loopback only by default)
addr = "127.0.0.1:7171"

[backend]
# dir = "backend"
# command = "./backend"
# command_windows = "backend.exe"
# startup_timeout_ms = 10000
# shutdown_grace_ms = 5000

[restart]
# policy = "immediate"   # immediate | backoff | never
`

	// Write with restrictive permissions (owner read/write only)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.gantry/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the shell to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return empty config
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// If the user names a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
