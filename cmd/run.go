package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/gantry-app/gantry/internal/backend"
	"github.com/gantry-app/gantry/internal/bridge"
	"github.com/gantry-app/gantry/internal/config"
	apperrors "github.com/gantry-app/gantry/internal/errors"
	"github.com/gantry-app/gantry/internal/lifecycle"
	"github.com/gantry-app/gantry/internal/mdns"
	"github.com/gantry-app/gantry/internal/storage"
)

const runUsage = `Usage: gantry run [options]

Launches the backend process, discovers its port, and serves the UI bridge.

Options:
  --config <path>           Config file (default: ~/.gantry/config.toml)
  --addr <host:port>        Bridge listen address (default: 127.0.0.1:7171)
  --packaged                Resolve the backend under --resources-dir
  --resources-dir <path>    Install resources directory (packaged mode)
  --backend-dir <name>      Backend execution root (default: backend)
  --backend-command <cmd>   Backend command (default: ./backend)
  --state-store <path>      Run history database (default: ~/.gantry/gantry.db)
  --restart-policy <name>   immediate | backoff | never (default: immediate)
  --use-pty                 Launch the backend under a pseudo-terminal
  --local-logs              Mirror backend output to stdout
  --mdns                    Advertise the bridge via mDNS (opt-in)
`

func runRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path")
	addr := fs.String("addr", "", "Bridge listen address")
	packaged := fs.Bool("packaged", false, "Resolve the backend under --resources-dir")
	resourcesDir := fs.String("resources-dir", "", "Install resources directory")
	backendDir := fs.String("backend-dir", "", "Backend execution root")
	backendCommand := fs.String("backend-command", "", "Backend command")
	stateStore := fs.String("state-store", "", "Run history database path")
	restartPolicy := fs.String("restart-policy", "", "Restart policy name")
	usePTY := fs.Bool("use-pty", false, "Launch the backend under a pseudo-terminal")
	localLogs := fs.Bool("local-logs", false, "Mirror backend output to stdout")
	mdnsEnabled := fs.Bool("mdns", false, "Advertise the bridge via mDNS")
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, runUsage) }
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Flags override the config file, but only the flags actually set on
	// the command line. fs.Visit walks exactly those.
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if explicit["addr"] {
		cfg.Addr = *addr
	}
	if explicit["packaged"] {
		cfg.Packaged = *packaged
	}
	if explicit["resources-dir"] {
		cfg.ResourcesDir = *resourcesDir
	}
	if explicit["backend-dir"] {
		cfg.Backend.Dir = *backendDir
	}
	if explicit["backend-command"] {
		cfg.Backend.Command = *backendCommand
	}
	if explicit["state-store"] {
		cfg.StateStore = *stateStore
	}
	if explicit["restart-policy"] {
		cfg.Restart.Policy = *restartPolicy
	}
	if explicit["use-pty"] {
		cfg.Backend.UsePTY = *usePTY
	}
	if explicit["local-logs"] {
		cfg.LocalLogs = *localLogs
	}
	if explicit["mdns"] {
		cfg.MdnsEnabled = *mdnsEnabled
	}
	applyConfigDefaults(cfg)

	return runShell(cfg, stdout, stderr)
}

// applyConfigDefaults fills anything neither the config file nor the
// flags set.
func applyConfigDefaults(cfg *config.Config) {
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultAddr
	}
	if cfg.Restart.Policy == "" {
		cfg.Restart.Policy = config.DefaultRestartPolicy
	}
	if cfg.StateStore == "" {
		if path, err := config.DefaultStatePath(); err == nil {
			cfg.StateStore = path
		}
	}
}

// buildServerConfig translates file/flag configuration into the
// supervisor's launch parameters.
func buildServerConfig(cfg *config.Config) (backend.ServerConfig, error) {
	sc := backend.DefaultServerConfig()
	if cfg.Backend.Dir != "" {
		sc.ExecRoot = cfg.Backend.Dir
	}
	if cfg.Backend.Command != "" {
		sc.Command = cfg.Backend.Command
	}
	if cfg.Backend.CommandWindows != "" {
		sc.CommandWindows = cfg.Backend.CommandWindows
	}
	if len(cfg.Backend.Args) > 0 {
		sc.Args = cfg.Backend.Args
	}
	for k, v := range cfg.Backend.Env {
		sc.Env[k] = v
	}
	if cfg.Backend.PortPattern != "" {
		pattern, err := regexp.Compile(cfg.Backend.PortPattern)
		if err != nil {
			return sc, apperrors.New(apperrors.CodeLaunchPattern,
				fmt.Sprintf("invalid port pattern %q: %v", cfg.Backend.PortPattern, err))
		}
		if pattern.NumSubexp() < 1 {
			return sc, apperrors.New(apperrors.CodeLaunchPattern,
				"port pattern needs a capture group for the port digits")
		}
		sc.PortPattern = pattern
	}
	if cfg.Backend.StartupTimeoutMs > 0 {
		sc.StartupTimeout = time.Duration(cfg.Backend.StartupTimeoutMs) * time.Millisecond
	}
	if cfg.Backend.ShutdownGraceMs > 0 {
		sc.ShutdownGrace = time.Duration(cfg.Backend.ShutdownGraceMs) * time.Millisecond
	}
	return sc, nil
}

func runShell(cfg *config.Config, stdout, stderr io.Writer) int {
	serverCfg, err := buildServerConfig(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Run history. The shell still works if the database cannot be
	// opened; history is a diagnostic aid, not a dependency.
	var store *storage.RunStore
	if cfg.StateStore != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.StateStore), 0700); err != nil {
			fmt.Fprintf(stderr, "Warning: cannot create state directory: %v\n", err)
		} else if store, err = storage.NewRunStore(cfg.StateStore); err != nil {
			fmt.Fprintf(stderr, "Warning: run history disabled: %v\n", err)
			store = nil
		}
	}
	if store != nil {
		defer store.Close()
	}

	b := bridge.NewBridge(cfg.Addr)

	policy := backend.NewRestartPolicy(cfg.Restart.Policy,
		time.Duration(cfg.Restart.InitialDelayMs)*time.Millisecond,
		time.Duration(cfg.Restart.MaxDelayMs)*time.Millisecond)

	var rec backend.RunRecorder
	if store != nil {
		rec = store
	}
	sup := backend.NewSupervisor(serverCfg, backend.LaunchOptions{
		Packaged:     cfg.Packaged,
		ResourcesDir: cfg.ResourcesDir,
		UsePTY:       cfg.Backend.UsePTY,
	}, policy, b, rec)

	b.SetPortSource(sup.Port)

	var lister bridge.RunLister
	if store != nil {
		lister = store
	}
	statusHandler := bridge.NewStatusHandler(b, func() backend.Status {
		return sup.Snapshot()
	}, lister)

	if err := <-b.StartAsync(statusHandler); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer b.Stop()

	// Mirror backend output locally when asked to. The disposer detaches
	// the tap on shutdown.
	if cfg.LocalLogs {
		dispose, err := b.Subscribe(bridge.ChannelBackendLog, func(payload interface{}) {
			if p, ok := payload.(bridge.LogEventPayload); ok {
				fmt.Fprint(stdout, p.Chunk)
			}
		})
		if err == nil {
			defer dispose()
		}
	}

	var advertiser *mdns.Advertiser
	if cfg.MdnsEnabled {
		if port, err := bridgePort(b.Addr()); err == nil {
			advertiser = mdns.NewAdvertiser(mdns.Config{Port: port})
			if err := advertiser.Start(); err != nil {
				fmt.Fprintf(stderr, "Warning: mDNS advertisement failed: %v\n", err)
				advertiser = nil
			}
		}
	}
	if advertiser != nil {
		defer advertiser.Stop()
	}

	hook := lifecycle.NewQuitHook(sup.Quit)
	hook.Notify(os.Interrupt, syscall.SIGTERM)

	port, err := sup.Start(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "Error: backend failed to start: %v\n", err)
		hook.Quit()
		return 1
	}
	fmt.Fprintf(stdout, "gantry: bridge on %s, backend on port %d\n", b.Addr(), port)

	<-hook.Done()
	return 0
}

// bridgePort extracts the numeric port from the bound bridge address.
func bridgePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
