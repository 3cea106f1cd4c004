package main

import (
	"testing"
	"time"

	"github.com/gantry-app/gantry/internal/config"
	apperrors "github.com/gantry-app/gantry/internal/errors"
)

func TestBuildServerConfigDefaults(t *testing.T) {
	sc, err := buildServerConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if sc.ExecRoot != "backend" || sc.Command != "./backend" || sc.CommandWindows != "backend.exe" {
		t.Errorf("defaults = %q %q %q", sc.ExecRoot, sc.Command, sc.CommandWindows)
	}
	if sc.StartupTimeout != 10*time.Second || sc.ShutdownGrace != 5*time.Second {
		t.Errorf("timeouts = %s %s", sc.StartupTimeout, sc.ShutdownGrace)
	}
	if sc.Env["GANTRY"] != "1" || sc.Env["FORCE_COLOR"] != "1" {
		t.Errorf("env overlay = %v", sc.Env)
	}
	if !sc.PortPattern.MatchString("Uvicorn running on http://127.0.0.1:8000") {
		t.Error("default pattern should match a loopback URL")
	}
}

func TestBuildServerConfigOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Backend.Dir = "srv"
	cfg.Backend.Command = "python3"
	cfg.Backend.Args = []string{"main.py"}
	cfg.Backend.Env = map[string]string{"EXTRA": "yes"}
	cfg.Backend.PortPattern = `listening on (\d+)`
	cfg.Backend.StartupTimeoutMs = 2500
	cfg.Backend.ShutdownGraceMs = 1000

	sc, err := buildServerConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.ExecRoot != "srv" || sc.Command != "python3" || len(sc.Args) != 1 {
		t.Errorf("launch = %q %q %v", sc.ExecRoot, sc.Command, sc.Args)
	}
	// The standard overlay survives extra entries.
	if sc.Env["EXTRA"] != "yes" || sc.Env["GANTRY"] != "1" {
		t.Errorf("env = %v", sc.Env)
	}
	if sc.StartupTimeout != 2500*time.Millisecond {
		t.Errorf("timeout = %s", sc.StartupTimeout)
	}
	if m := sc.PortPattern.FindStringSubmatch("listening on 4567"); m == nil || m[1] != "4567" {
		t.Errorf("pattern override not applied: %v", m)
	}
}

func TestBuildServerConfigBadPattern(t *testing.T) {
	cfg := &config.Config{}
	cfg.Backend.PortPattern = `(unclosed`
	if _, err := buildServerConfig(cfg); !apperrors.IsCode(err, apperrors.CodeLaunchPattern) {
		t.Errorf("err = %v, want launch.pattern", err)
	}

	// A pattern without a capture group can never yield a port.
	cfg.Backend.PortPattern = `listening on \d+`
	if _, err := buildServerConfig(cfg); !apperrors.IsCode(err, apperrors.CodeLaunchPattern) {
		t.Errorf("err = %v, want launch.pattern", err)
	}
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := &config.Config{}
	applyConfigDefaults(cfg)
	if cfg.Addr != config.DefaultAddr {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.Restart.Policy != config.DefaultRestartPolicy {
		t.Errorf("policy = %q", cfg.Restart.Policy)
	}
	if cfg.StateStore == "" {
		t.Error("state store should default under the home directory")
	}

	// Explicit values are preserved.
	cfg = &config.Config{Addr: "127.0.0.1:9999"}
	cfg.Restart.Policy = "never"
	applyConfigDefaults(cfg)
	if cfg.Addr != "127.0.0.1:9999" || cfg.Restart.Policy != "never" {
		t.Errorf("explicit values clobbered: %q %q", cfg.Addr, cfg.Restart.Policy)
	}
}

func TestBridgePort(t *testing.T) {
	port, err := bridgePort("127.0.0.1:7171")
	if err != nil || port != 7171 {
		t.Errorf("bridgePort = (%d, %v)", port, err)
	}
	if _, err := bridgePort("not-an-addr"); err == nil {
		t.Error("expected error for malformed address")
	}
}
