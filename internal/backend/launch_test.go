package backend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/gantry-app/gantry/internal/errors"
)

func TestWorkdirPackagedVsDev(t *testing.T) {
	cfg := DefaultServerConfig()

	dir, err := workdir(cfg, LaunchOptions{Packaged: true, ResourcesDir: "/opt/app/resources"})
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join("/opt/app/resources", "backend") {
		t.Errorf("packaged workdir = %q", dir)
	}

	dir, err = workdir(cfg, LaunchOptions{DevDir: "/home/dev/app"})
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join("/home/dev/app", "backend") {
		t.Errorf("dev workdir = %q", dir)
	}

	if _, err := workdir(cfg, LaunchOptions{Packaged: true}); !apperrors.IsCode(err, apperrors.CodeLaunchResolve) {
		t.Errorf("packaged without resources dir: err = %v", err)
	}
}

func TestCommandForPlatform(t *testing.T) {
	cfg := DefaultServerConfig()

	if got := cfg.commandFor("linux"); got != "./backend" {
		t.Errorf("linux command = %q", got)
	}
	if got := cfg.commandFor("darwin"); got != "./backend" {
		t.Errorf("darwin command = %q", got)
	}
	if got := cfg.commandFor("windows"); got != "backend.exe" {
		t.Errorf("windows command = %q", got)
	}
}

func TestResolveBareFilenameArgs(t *testing.T) {
	base := t.TempDir()
	execRoot := filepath.Join(base, "backend")
	if err := os.MkdirAll(execRoot, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(execRoot, "main.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultServerConfig()
	cfg.Command = "python3"
	cfg.Args = []string{"main.py", "--port-hint", "0", "sub/other.py"}

	l, err := resolve(cfg, LaunchOptions{DevDir: base}, "linux")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if l.Args[0] != filepath.Join(execRoot, "main.py") {
		t.Errorf("bare script arg not resolved: %q", l.Args[0])
	}
	if l.Args[1] != "--port-hint" || l.Args[2] != "0" {
		t.Errorf("plain args must pass through: %v", l.Args)
	}
	if l.Args[3] != "sub/other.py" {
		t.Errorf("args with path separators must pass through: %q", l.Args[3])
	}
	// "python3" has no separator: PATH lookup, left untouched.
	if l.Command != "python3" {
		t.Errorf("command = %q", l.Command)
	}
}

func TestResolvePreflightMissingScript(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "backend"), 0755); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultServerConfig()
	cfg.Command = "python3"
	cfg.Args = []string{"main.py"}

	_, err := resolve(cfg, LaunchOptions{DevDir: base}, "linux")
	if !apperrors.IsCode(err, apperrors.CodeLaunchPreflight) {
		t.Fatalf("expected launch.preflight, got %v", err)
	}
}

func TestResolveRelativeCommand(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "backend"), 0755); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultServerConfig()
	l, err := resolve(cfg, LaunchOptions{DevDir: base}, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if l.Command != filepath.Join(base, "backend", "backend") {
		t.Errorf("relative command should be absolute under workdir, got %q", l.Command)
	}
	if l.Dir != filepath.Join(base, "backend") {
		t.Errorf("Dir = %q", l.Dir)
	}
}

func TestResolveEnvOverlay(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "backend"), 0755); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultServerConfig()
	l, err := resolve(cfg, LaunchOptions{DevDir: base}, "linux")
	if err != nil {
		t.Fatal(err)
	}

	env := strings.Join(l.Env, "\n")
	if !strings.Contains(env, "GANTRY=1") {
		t.Error("environment should mark the backend as shell-managed")
	}
	if !strings.Contains(env, "FORCE_COLOR=1") {
		t.Error("environment should force colorized output")
	}
}

func TestMergeEnvOverlayWins(t *testing.T) {
	merged := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "override", "C": "3"})

	got := strings.Join(merged, ",")
	want := "A=1,B=override,C=3"
	if got != want {
		t.Errorf("mergeEnv = %q, want %q", got, want)
	}
}
