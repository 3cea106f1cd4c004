package backend

import (
	"log"
	"time"
)

// Terminator shuts a backend process down deterministically: ask politely
// with SIGTERM, wait out a grace window, then force-kill. The caller only
// learns that termination completed; how it completed is logged.
type Terminator struct {
	// Grace is how long the process gets to exit after SIGTERM.
	Grace time.Duration
}

// NewTerminator returns a terminator with the given grace window. A zero
// or negative grace falls back to the default.
func NewTerminator(grace time.Duration) *Terminator {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	return &Terminator{Grace: grace}
}

// Terminate runs the shutdown sequence on one process instance:
//
//   - already exited: return immediately, no signals sent
//   - exits within the grace window: the force-kill never happens
//   - still alive when the window lapses: exactly one SIGKILL, then return
//     immediately (a force-killed process is assumed terminal)
func (t *Terminator) Terminate(h *Handle) {
	if h == nil || h.HasExited() {
		return
	}

	if err := h.Terminate(); err != nil {
		// The process likely exited between the check and the signal.
		if h.HasExited() {
			return
		}
		log.Printf("backend: SIGTERM pid %d: %v", h.PID(), err)
	}

	timer := time.NewTimer(t.Grace)
	defer timer.Stop()

	select {
	case <-h.Exited():
		return
	case <-timer.C:
		log.Printf("backend: pid %d did not exit within %s, killing", h.PID(), t.Grace)
		h.Kill()
	}
}
