// Package backend supervises the application's backend process: it spawns
// the process, discovers the port it bound by scanning its output, restarts
// it on unexpected crash, and terminates it deterministically on shutdown.
package backend

import (
	"regexp"
	"time"
)

// Defaults for ServerConfig. The backend ships inside the application
// install under the "backend" directory and announces its bound port on
// stdout in the form "http://localhost:<port>".
const (
	DefaultExecRoot       = "backend"
	DefaultCommand        = "./backend"
	DefaultCommandWindows = "backend.exe"
	DefaultPortPattern    = `(?i)https?://(?:localhost|127\.0\.0\.1):(\d+)`
	DefaultStartupTimeout = 10 * time.Second
	DefaultShutdownGrace  = 5 * time.Second
)

// ServerConfig declares how the backend process is launched. It is data
// only; resolution against the filesystem happens per attempt in Resolve.
type ServerConfig struct {
	// ExecRoot is the backend execution root, relative to the install.
	ExecRoot string

	// Command is the backend command on POSIX platforms.
	Command string

	// CommandWindows is the backend command on Windows.
	CommandWindows string

	// Args are passed to the command verbatim, after bare-filename resolution.
	Args []string

	// Env is an overlay applied on top of the shell's environment.
	Env map[string]string

	// PortPattern matches the backend's port announcement. The first capture
	// group must be the port digits.
	PortPattern *regexp.Regexp

	// StartupTimeout bounds the window between spawn and port discovery.
	StartupTimeout time.Duration

	// ShutdownGrace is how long a terminated backend gets to exit politely
	// before it is force-killed.
	ShutdownGrace time.Duration
}

// DefaultServerConfig returns the launch configuration used when nothing
// is overridden. The environment overlay marks the backend as running
// under the shell and forces colorized output even though the child's
// stdout is a pipe.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ExecRoot:       DefaultExecRoot,
		Command:        DefaultCommand,
		CommandWindows: DefaultCommandWindows,
		Env: map[string]string{
			"GANTRY":      "1",
			"FORCE_COLOR": "1",
		},
		PortPattern:    regexp.MustCompile(DefaultPortPattern),
		StartupTimeout: DefaultStartupTimeout,
		ShutdownGrace:  DefaultShutdownGrace,
	}
}

// commandFor selects the platform command. Exactly one command is used per
// run; the choice is keyed on the GOOS identifier resolved once at startup.
func (c ServerConfig) commandFor(goos string) string {
	if goos == "windows" {
		return c.CommandWindows
	}
	return c.Command
}
