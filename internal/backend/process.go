package backend

import (
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"

	apperrors "github.com/gantry-app/gantry/internal/errors"
)

// outputBufSize is the read size for process output. Output is relayed in
// raw chunks as it arrives; chunk boundaries carry no meaning.
const outputBufSize = 4096

// Handle owns one spawned backend process instance. Output chunks are
// delivered through the onOutput callback in arrival order (stdout and
// stderr interleave); onExit fires exactly once with the exit code after
// all output has been drained.
type Handle struct {
	cmd *exec.Cmd

	// exited closes after onExit has been invoked. exitCode is written
	// before the close and must only be read after it.
	exited   chan struct{}
	exitCode int

	killOnce sync.Once
}

// startProcess spawns the resolved launch and begins draining its output.
// onOutput may be nil. onExit is required.
func startProcess(l *ResolvedLaunch, onOutput func(chunk string), onExit func(exitCode int)) (*Handle, error) {
	if l.UsePTY {
		return startPTYProcess(l, onOutput, onExit)
	}

	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = l.Dir
	cmd.Env = l.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.LaunchSpawn(l.Command, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperrors.LaunchSpawn(l.Command, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.LaunchSpawn(l.Command, err)
	}

	h := &Handle{
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	// One reader per stream. cmd.Wait closes the pipes, so the exit
	// watcher must not call it until both readers have drained.
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		drainOutput(stdout, onOutput)
	}()
	go func() {
		defer readers.Done()
		drainOutput(stderr, onOutput)
	}()

	go func() {
		readers.Wait()
		h.finish(cmd.Wait(), onExit)
	}()

	return h, nil
}

// drainOutput reads raw chunks from a stream until EOF.
func drainOutput(r io.Reader, onOutput func(string)) {
	buf := make([]byte, outputBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && onOutput != nil {
			onOutput(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// finish records the exit code and fires onExit exactly once.
func (h *Handle) finish(waitErr error, onExit func(int)) {
	code := 0
	if waitErr != nil {
		if ee, ok := waitErr.(*exec.ExitError); ok {
			// ExitCode is -1 when the process was killed by a signal.
			code = ee.ExitCode()
		} else {
			log.Printf("backend: wait error: %v", waitErr)
			code = -1
		}
	}

	h.exitCode = code
	close(h.exited)
	onExit(code)
}

// PID returns the operating system process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Exited closes when the process has exited and its output is drained.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitCode returns the exit code. Only valid after Exited has closed.
func (h *Handle) ExitCode() int {
	return h.exitCode
}

// HasExited reports whether the process has already exited.
func (h *Handle) HasExited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

// Signal delivers a signal to the process. Errors after exit are expected
// and ignored by callers.
func (h *Handle) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(sig)
}

// Terminate asks the process to exit politely.
func (h *Handle) Terminate() error {
	return h.Signal(syscall.SIGTERM)
}

// Kill force-kills the process. Safe to call more than once; the kill is
// delivered at most once.
func (h *Handle) Kill() {
	h.killOnce.Do(func() {
		if h.cmd.Process != nil {
			if err := h.cmd.Process.Kill(); err != nil && !h.HasExited() {
				log.Printf("backend: kill pid %d: %v", h.PID(), err)
			}
		}
	})
}
