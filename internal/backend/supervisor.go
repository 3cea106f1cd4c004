package backend

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/gantry-app/gantry/internal/errors"
)

// State is the supervisor's lifecycle phase. The port is only meaningful
// in StateRunning and is set at most once per process instance.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateCrashed  State = "crashed"
	StateStopping State = "stopping"
	StateQuitting State = "quitting"
)

// OutputSink receives supervisor events for relay to UI clients. Chunks
// are delivered verbatim, in arrival order, before they are scanned for
// the port announcement. Implementations must not block.
type OutputSink interface {
	BackendOutput(chunk string)
	PortDiscovered(port int)
}

// RunRecorder persists basic run state for each launch attempt.
type RunRecorder interface {
	RecordStart(id string, pid int, restartOrdinal int, startedAt time.Time) error
	RecordPort(id string, port int) error
	RecordExit(id string, exitCode int, endedAt time.Time) error
}

// Status is a point-in-time snapshot of the supervisor.
type Status struct {
	State    State `json:"state"`
	Port     int   `json:"port,omitempty"`
	PID      int   `json:"pid,omitempty"`
	Restarts int   `json:"restarts"`
}

// attempt tracks one port discovery window. Every waiter blocked in Start
// shares the same attempt; done closes exactly once, after which port or
// err is set.
type attempt struct {
	scanner *PortScanner
	timer   *time.Timer
	done    chan struct{}
	port    int
	err     error
}

// Supervisor owns the backend process lifecycle: spawn, port discovery,
// crash restart, and termination. All state transitions are serialized by
// one mutex; process output and exits arrive on their own goroutines and
// take the same lock.
type Supervisor struct {
	cfg    ServerConfig
	opts   LaunchOptions
	policy RestartPolicy
	term   *Terminator
	sink   OutputSink
	rec    RunRecorder

	mu       sync.Mutex
	state    State
	port     int
	proc     *Handle
	runID    string
	gen      uint64 // process generation, guards against stale callbacks
	att      *attempt
	restarts int

	// lateScan keeps discovery alive after a startup timeout abandoned
	// the attempt: a slow backend that announces late still reaches
	// StateRunning, even though the timed-out waiters are gone.
	lateScan *PortScanner
}

type noopSink struct{}

func (noopSink) BackendOutput(string) {}
func (noopSink) PortDiscovered(int)   {}

// NewSupervisor creates a supervisor. sink and rec may be nil; policy nil
// means relaunch immediately on crash, without limit.
func NewSupervisor(cfg ServerConfig, opts LaunchOptions, policy RestartPolicy, sink OutputSink, rec RunRecorder) *Supervisor {
	if policy == nil {
		policy = immediatePolicy{}
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Supervisor{
		cfg:    cfg,
		opts:   opts,
		policy: policy,
		term:   NewTerminator(cfg.ShutdownGrace),
		sink:   sink,
		rec:    rec,
		state:  StateStopped,
	}
}

// Start launches the backend and blocks until its port is discovered, the
// startup window lapses, or ctx is canceled.
//
// Start is idempotent: when the backend is already running it returns the
// current port without spawning; when a launch is already in flight the
// caller joins it, so concurrent Starts spawn exactly one process and all
// observe the same outcome.
func (s *Supervisor) Start(ctx context.Context) (int, error) {
	s.mu.Lock()

	switch s.state {
	case StateRunning:
		port := s.port
		s.mu.Unlock()
		return port, nil

	case StateStarting, StateCrashed:
		// Crashed with a pending relaunch behaves like Starting: join it.
		if att := s.att; att != nil {
			s.mu.Unlock()
			return s.await(ctx, att)
		}
		if s.state == StateStarting {
			// A previous attempt timed out and was abandoned. Discovery
			// stays live, so a late announcement still flips the state to
			// Running, but this caller reports the timeout.
			timeout := s.cfg.StartupTimeout
			s.mu.Unlock()
			return 0, apperrors.StartupTimeout(timeout.Milliseconds())
		}

	case StateStopping, StateQuitting:
		s.mu.Unlock()
		return 0, apperrors.ShuttingDown()
	}

	att := s.beginAttemptLocked()
	s.state = StateStarting
	if err := s.spawnLocked(); err != nil {
		s.state = StateStopped
		s.resolveAttemptLocked(err)
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	return s.await(ctx, att)
}

// beginAttemptLocked installs a fresh attempt with its own discovery
// buffer and startup timer.
func (s *Supervisor) beginAttemptLocked() *attempt {
	att := &attempt{
		scanner: NewPortScanner(s.cfg.PortPattern),
		done:    make(chan struct{}),
	}
	att.timer = time.AfterFunc(s.cfg.StartupTimeout, func() { s.onStartupTimeout(att) })
	s.att = att
	s.lateScan = nil
	return att
}

func (s *Supervisor) await(ctx context.Context, att *attempt) (int, error) {
	select {
	case <-att.done:
		return att.port, att.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// spawnLocked resolves and starts one process instance. The caller holds
// the lock.
func (s *Supervisor) spawnLocked() error {
	launch, err := Resolve(s.cfg, s.opts)
	if err != nil {
		return err
	}

	gen := s.gen + 1
	h, err := startProcess(launch,
		func(chunk string) { s.onOutput(gen, chunk) },
		func(code int) { s.onExit(gen, code) },
	)
	if err != nil {
		return err
	}

	s.gen = gen
	s.proc = h
	s.runID = uuid.NewString()
	log.Printf("backend: started pid %d (run %s, restart %d)", h.PID(), s.runID, s.restarts)

	if s.rec != nil {
		if err := s.rec.RecordStart(s.runID, h.PID(), s.restarts, time.Now()); err != nil {
			log.Printf("backend: record start: %v", err)
		}
	}
	return nil
}

// onOutput handles one raw output chunk from the current process. The
// chunk reaches UI subscribers first, then feeds port discovery; the tap
// sees everything regardless of discovery state.
func (s *Supervisor) onOutput(gen uint64, chunk string) {
	s.sink.BackendOutput(chunk)

	s.mu.Lock()
	if s.gen != gen || s.state != StateStarting {
		s.mu.Unlock()
		return
	}

	att := s.att
	scanner := s.lateScan
	if att != nil {
		scanner = att.scanner
	}
	if scanner == nil {
		s.mu.Unlock()
		return
	}

	port, found := scanner.Feed(chunk)
	if !found {
		s.mu.Unlock()
		return
	}

	s.state = StateRunning
	s.port = port
	runID := s.runID
	s.lateScan = nil
	if att != nil {
		att.timer.Stop()
		att.port = port
		close(att.done)
		s.att = nil
	}
	s.mu.Unlock()

	log.Printf("backend: listening on port %d", port)
	s.policy.Reset()
	if s.rec != nil {
		if err := s.rec.RecordPort(runID, port); err != nil {
			log.Printf("backend: record port: %v", err)
		}
	}
	s.sink.PortDiscovered(port)
}

// onStartupTimeout rejects the attempt if it is still pending. When the
// attempt already resolved this is a no-op; the timer can never undo a
// discovery. The process is left running and its output keeps feeding the
// abandoned scanner, so a late announcement still reaches StateRunning.
func (s *Supervisor) onStartupTimeout(att *attempt) {
	s.mu.Lock()
	if s.att != att {
		s.mu.Unlock()
		return
	}
	s.att = nil
	s.lateScan = att.scanner
	att.err = apperrors.StartupTimeout(s.cfg.StartupTimeout.Milliseconds())
	close(att.done)
	s.mu.Unlock()

	log.Printf("backend: no port announced within %s", s.cfg.StartupTimeout)
}

// onExit handles the end of one process instance. A zero exit or an exit
// during shutdown settles the supervisor; a non-zero exit outside shutdown
// is a crash and triggers the restart policy.
func (s *Supervisor) onExit(gen uint64, code int) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}

	runID := s.runID
	s.proc = nil
	s.port = 0
	s.lateScan = nil

	switch {
	case s.state == StateStopping || s.state == StateQuitting || s.state == StateStopped:
		// Stop/Quit own the terminal state; just settle any waiter. The
		// Stopped case covers a killed process whose exit lands after
		// shutdown already finished: that exit is the shutdown's doing,
		// never a crash to restart from.
		s.resolveAttemptLocked(apperrors.ShuttingDown())

	case code == 0:
		log.Printf("backend: exited cleanly")
		s.state = StateStopped
		s.resolveAttemptLocked(apperrors.StartupExited(code))

	default:
		log.Printf("backend: crashed with exit code %d", code)
		s.state = StateCrashed
		delay, restart := s.policy.NextDelay()
		if !restart {
			log.Printf("backend: restart policy forbids relaunch, staying down")
			s.resolveAttemptLocked(apperrors.StartupExited(code))
		} else {
			s.restarts++
			// A crash mid-discovery keeps its waiters: the relaunch reuses
			// the pending attempt (with a fresh buffer) under the original
			// startup timer.
			go s.relaunch(delay)
		}
	}
	s.mu.Unlock()

	if s.rec != nil && runID != "" {
		if err := s.rec.RecordExit(runID, code, time.Now()); err != nil {
			log.Printf("backend: record exit: %v", err)
		}
	}
}

// resolveAttemptLocked settles a pending attempt with an error, if any.
func (s *Supervisor) resolveAttemptLocked(err error) {
	if att := s.att; att != nil {
		att.timer.Stop()
		att.err = err
		close(att.done)
		s.att = nil
	}
}

// relaunch respawns the backend after a crash. When no attempt is pending
// (the crash happened while running) a new one is created so the fresh
// instance gets its own discovery window.
func (s *Supervisor) relaunch(delay time.Duration) {
	if delay > 0 {
		log.Printf("backend: relaunching in %s", delay)
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCrashed {
		// Shutdown raced the relaunch; leave the backend down.
		return
	}

	if s.att != nil {
		// Discovery output from the dead instance must never satisfy the
		// new one.
		s.att.scanner = NewPortScanner(s.cfg.PortPattern)
	} else {
		s.beginAttemptLocked()
	}

	s.state = StateStarting
	if err := s.spawnLocked(); err != nil {
		log.Printf("backend: relaunch failed: %v", err)
		s.state = StateStopped
		s.resolveAttemptLocked(err)
	}
}

// Stop terminates the backend and settles the supervisor in StateStopped.
// A later Start is allowed. Stop during Stopped is a no-op.
func (s *Supervisor) Stop() {
	s.shutdown(StateStopping, StateStopped)
}

// Quit terminates the backend for application shutdown. Unlike Stop it is
// terminal: crash restarts are suppressed from the moment Quit begins and
// later Starts are refused.
func (s *Supervisor) Quit() {
	s.shutdown(StateQuitting, StateQuitting)
}

func (s *Supervisor) shutdown(during, after State) {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateStopping || s.state == StateQuitting {
		if during == StateQuitting && s.state == StateStopped {
			// Quit after Stop still seals the supervisor.
			s.state = StateQuitting
		}
		s.mu.Unlock()
		return
	}
	s.state = during
	proc := s.proc
	s.lateScan = nil
	s.resolveAttemptLocked(apperrors.ShuttingDown())
	s.mu.Unlock()

	s.term.Terminate(proc)

	s.mu.Lock()
	s.proc = nil
	s.port = 0
	s.state = after
	s.mu.Unlock()
}

// Port returns the discovered port. ok is false unless the backend is
// running and the port is known.
func (s *Supervisor) Port() (port int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return 0, false
	}
	return s.port, true
}

// Snapshot returns the current status for the /status endpoint.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:    s.state,
		Restarts: s.restarts,
	}
	if s.state == StateRunning {
		st.Port = s.port
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
	}
	return st
}
