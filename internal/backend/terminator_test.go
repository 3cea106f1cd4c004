package backend

import (
	"strings"
	"testing"
	"time"
)

// startShell spawns /bin/sh -c script directly, bypassing resolution.
func startShell(t *testing.T, script string, onExit func(int)) *Handle {
	t.Helper()
	if onExit == nil {
		onExit = func(int) {}
	}
	h, err := startProcess(&ResolvedLaunch{
		Dir:     t.TempDir(),
		Command: "/bin/sh",
		Args:    []string{"-c", script},
	}, nil, onExit)
	if err != nil {
		t.Fatalf("startProcess failed: %v", err)
	}
	return h
}

func TestTerminatePoliteChildNeverKills(t *testing.T) {
	// The child honors SIGTERM between sleeps and exits cleanly.
	h := startShell(t, `trap 'exit 0' TERM; while true; do sleep 0.05; done`, nil)

	term := NewTerminator(2 * time.Second)
	start := time.Now()
	term.Terminate(h)

	if !h.HasExited() {
		t.Fatal("process should have exited within the grace window")
	}
	if h.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0 (polite exit, no kill)", h.ExitCode())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Terminate took %s, should return as soon as the child exits", elapsed)
	}
}

func TestTerminateStuckChildGetsKilled(t *testing.T) {
	// The child ignores SIGTERM; only the force-kill ends it.
	h := startShell(t, `trap '' TERM; while true; do sleep 0.05; done`, nil)

	term := NewTerminator(100 * time.Millisecond)
	term.Terminate(h)

	// Terminate returns right after the kill; the exit lands shortly after.
	select {
	case <-h.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("killed process never reported exit")
	}
	if h.ExitCode() == 0 {
		t.Error("force-killed process should not report a clean exit")
	}
}

func TestTerminateExitedProcessIsNoop(t *testing.T) {
	h := startShell(t, "exit 0", nil)

	select {
	case <-h.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("short-lived process never exited")
	}

	term := NewTerminator(2 * time.Second)
	start := time.Now()
	term.Terminate(h)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Terminate on exited process took %s, want immediate return", elapsed)
	}

	// Nil handles are tolerated too.
	term.Terminate(nil)
}

func TestHandleExitCode(t *testing.T) {
	exitCh := make(chan int, 1)
	startShell(t, "exit 7", func(code int) { exitCh <- code })

	select {
	case code := <-exitCh:
		if code != 7 {
			t.Errorf("exit code = %d, want 7", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onExit never fired")
	}
}

func TestHandleOutputBeforeExit(t *testing.T) {
	outCh := make(chan string, 16)
	exitCh := make(chan struct{})

	h, err := startProcess(&ResolvedLaunch{
		Dir:     t.TempDir(),
		Command: "/bin/sh",
		Args:    []string{"-c", "printf 'hello '; printf 'world' 1>&2; exit 0"},
	}, func(chunk string) { outCh <- chunk }, func(int) { close(exitCh) })
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-exitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("process never exited")
	}
	<-h.Exited()

	// Both streams are drained before the exit callback fires.
	var all string
	for {
		select {
		case c := <-outCh:
			all += c
			continue
		default:
		}
		break
	}
	if !strings.Contains(all, "hello") || !strings.Contains(all, "world") {
		t.Errorf("output = %q, want both stdout and stderr content", all)
	}
}
