package lifecycle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQuitRunsExactlyOnce(t *testing.T) {
	var calls int32
	h := NewQuitHook(func() { atomic.AddInt32(&calls, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Quit()
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("shutdown ran %d times, want 1", n)
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
}

func TestQuitWithNilFuncStillCompletes(t *testing.T) {
	h := NewQuitHook(nil)
	h.Quit()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
}

func TestDoneBlocksUntilQuit(t *testing.T) {
	h := NewQuitHook(func() {})
	select {
	case <-h.Done():
		t.Fatal("Done closed before Quit")
	case <-time.After(50 * time.Millisecond):
	}
	h.Quit()
	<-h.Done()
}
