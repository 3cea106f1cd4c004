package backend

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	apperrors "github.com/gantry-app/gantry/internal/errors"
)

// LaunchOptions selects how the backend's working directory is found.
// Packaged installs resolve under the install's resources directory;
// development runs resolve relative to the shell executable. The choice is
// an explicit flag wired through configuration, never an environment
// heuristic.
type LaunchOptions struct {
	// Packaged selects the packaged-install path layout.
	Packaged bool

	// ResourcesDir is the install resources directory. Required when
	// Packaged is true.
	ResourcesDir string

	// DevDir overrides the development base directory. When empty, the
	// directory containing the shell executable is used.
	DevDir string

	// UsePTY launches the backend under a pseudo-terminal.
	UsePTY bool
}

// ResolvedLaunch is a fully resolved, ready-to-spawn launch: absolute
// working directory, absolute or platform command, resolved arguments, and
// the merged environment. It is computed fresh for every attempt so a
// restart picks up the same configuration deterministically.
type ResolvedLaunch struct {
	Dir     string
	Command string
	Args    []string
	Env     []string
	UsePTY  bool
}

// runnableExts are the extensions that mark an argument as a script or
// executable the backend cannot start without. Arguments carrying one of
// these are checked for existence before spawning.
var runnableExts = map[string]bool{
	".py":  true,
	".pyc": true,
	".js":  true,
	".mjs": true,
	".cjs": true,
	".sh":  true,
	".rb":  true,
	".exe": true,
	".bat": true,
	".cmd": true,
}

// Resolve computes the launch for one attempt. It fails with
// launch.preflight, before any spawn, if a required script or executable
// argument does not exist.
func Resolve(cfg ServerConfig, opts LaunchOptions) (*ResolvedLaunch, error) {
	return resolve(cfg, opts, runtime.GOOS)
}

func resolve(cfg ServerConfig, opts LaunchOptions, goos string) (*ResolvedLaunch, error) {
	dir, err := workdir(cfg, opts)
	if err != nil {
		return nil, err
	}

	command := cfg.commandFor(goos)
	// Relative commands run from the working directory; make them absolute
	// so exec does not consult PATH for "./backend" style commands.
	if !filepath.IsAbs(command) && strings.ContainsAny(command, `/\`) {
		command = filepath.Join(dir, filepath.FromSlash(command))
	}

	args := make([]string, len(cfg.Args))
	for i, arg := range cfg.Args {
		resolved := arg
		if isBareFilename(arg) {
			resolved = filepath.Join(dir, arg)
		}
		if runnableExts[strings.ToLower(filepath.Ext(resolved))] {
			if _, err := os.Stat(resolved); err != nil {
				return nil, apperrors.LaunchPreflight(resolved)
			}
		}
		args[i] = resolved
	}

	return &ResolvedLaunch{
		Dir:     dir,
		Command: command,
		Args:    args,
		Env:     mergeEnv(os.Environ(), cfg.Env),
		UsePTY:  opts.UsePTY,
	}, nil
}

// workdir resolves the absolute backend working directory.
func workdir(cfg ServerConfig, opts LaunchOptions) (string, error) {
	if opts.Packaged {
		if opts.ResourcesDir == "" {
			return "", apperrors.New(apperrors.CodeLaunchResolve, "packaged install requires a resources directory")
		}
		return filepath.Join(opts.ResourcesDir, cfg.ExecRoot), nil
	}

	base := opts.DevDir
	if base == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeLaunchResolve, "cannot locate shell executable", err)
		}
		base = filepath.Dir(exe)
	}
	return filepath.Join(base, cfg.ExecRoot), nil
}

// isBareFilename reports whether an argument looks like a file the backend
// expects next to itself: no path separators or whitespace, and an
// extension. Such arguments are made absolute under the working directory
// so the backend finds them regardless of the shell's own cwd.
func isBareFilename(arg string) bool {
	if strings.ContainsAny(arg, "/\\ \t") {
		return false
	}
	// A dot at position 0 is a hidden file, not an extension.
	return strings.Index(arg, ".") > 0
}

// mergeEnv layers the overlay on top of the base environment. Overlay keys
// replace base entries of the same name; the result is sorted for
// deterministic spawns.
func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}

	merged := make(map[string]string, len(base)+len(overlay))
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
