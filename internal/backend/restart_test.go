package backend

import (
	"testing"
	"time"
)

func TestRestartPolicySelection(t *testing.T) {
	if d, ok := NewRestartPolicy(PolicyImmediate, 0, 0).NextDelay(); d != 0 || !ok {
		t.Errorf("immediate: (%s, %v), want (0, true)", d, ok)
	}
	if _, ok := NewRestartPolicy(PolicyNever, 0, 0).NextDelay(); ok {
		t.Error("never: relaunch must be forbidden")
	}
	// Unknown names preserve the historical behavior.
	if d, ok := NewRestartPolicy("bogus", 0, 0).NextDelay(); d != 0 || !ok {
		t.Errorf("unknown policy: (%s, %v), want (0, true)", d, ok)
	}
}

func TestBackoffPolicyGrowsAndResets(t *testing.T) {
	p := NewRestartPolicy(PolicyBackoff, 100*time.Millisecond, time.Second)

	d1, ok := p.NextDelay()
	if !ok || d1 <= 0 {
		t.Fatalf("first delay = (%s, %v)", d1, ok)
	}

	// Delays grow (with jitter) and never pass the cap plus its jitter margin.
	var last time.Duration
	for i := 0; i < 10; i++ {
		d, ok := p.NextDelay()
		if !ok {
			t.Fatal("backoff policy must retry forever")
		}
		if d > 2*time.Second {
			t.Fatalf("delay %s exceeds the cap margin", d)
		}
		last = d
	}
	if last < d1/2 {
		t.Errorf("delays should have grown: first=%s last=%s", d1, last)
	}

	p.Reset()
	d, ok := p.NextDelay()
	if !ok || d > time.Second {
		t.Errorf("after reset: (%s, %v), want a small initial delay again", d, ok)
	}
}
