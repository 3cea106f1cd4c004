package backend

import (
	"os/exec"

	"github.com/creack/pty"

	apperrors "github.com/gantry-app/gantry/internal/errors"
)

// startPTYProcess spawns the backend under a pseudo-terminal. Some backend
// CLIs only emit colorized, human-oriented output when attached to a TTY;
// the PTY launch mode preserves that even though the shell relays output
// over a pipe-shaped channel. Stdout and stderr arrive as one combined
// stream, which the port scanner handles the same way.
func startPTYProcess(l *ResolvedLaunch, onOutput func(chunk string), onExit func(exitCode int)) (*Handle, error) {
	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = l.Dir
	cmd.Env = l.Env

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, apperrors.LaunchSpawn(l.Command, err)
	}

	h := &Handle{
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	// The PTY read loop ends with an error (commonly EIO) once the child
	// exits and the slave side closes; that is the drain-complete signal.
	go func() {
		drainOutput(ptmx, onOutput)
		ptmx.Close()
		h.finish(cmd.Wait(), onExit)
	}()

	return h, nil
}
