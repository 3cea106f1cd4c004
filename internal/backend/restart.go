package backend

import (
	"time"

	"github.com/cenkalti/backoff"
)

// Restart policy names accepted in configuration.
const (
	PolicyImmediate = "immediate"
	PolicyBackoff   = "backoff"
	PolicyNever     = "never"
)

// RestartPolicy decides whether and when to relaunch after a crash.
// Reset is called after a successful port discovery so a long-healthy
// backend does not inherit delay built up by earlier crashes.
type RestartPolicy interface {
	// NextDelay returns the wait before the next relaunch, and whether a
	// relaunch should happen at all.
	NextDelay() (time.Duration, bool)
	Reset()
}

// NewRestartPolicy builds a policy by name. Unknown names fall back to
// immediate, the historical behavior: relaunch right away, without limit.
func NewRestartPolicy(name string, initial, max time.Duration) RestartPolicy {
	switch name {
	case PolicyNever:
		return neverPolicy{}
	case PolicyBackoff:
		eb := backoff.NewExponentialBackOff()
		if initial > 0 {
			eb.InitialInterval = initial
		}
		if max > 0 {
			eb.MaxInterval = max
		}
		// Crashes are retried forever; only the delay grows.
		eb.MaxElapsedTime = 0
		eb.Reset()
		return &backoffPolicy{eb: eb}
	default:
		return immediatePolicy{}
	}
}

type immediatePolicy struct{}

func (immediatePolicy) NextDelay() (time.Duration, bool) { return 0, true }
func (immediatePolicy) Reset()                           {}

type neverPolicy struct{}

func (neverPolicy) NextDelay() (time.Duration, bool) { return 0, false }
func (neverPolicy) Reset()                           {}

type backoffPolicy struct {
	eb *backoff.ExponentialBackOff
}

func (p *backoffPolicy) NextDelay() (time.Duration, bool) {
	d := p.eb.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

func (p *backoffPolicy) Reset() {
	p.eb.Reset()
}
