// Package lifecycle ties application shutdown to the backend supervisor.
// However many paths request quit (signal, window close, a second signal),
// the shutdown sequence runs exactly once.
package lifecycle

import (
	"log"
	"os"
	"os/signal"
	"sync"
)

// QuitHook runs a shutdown function exactly once, no matter how many
// times quit is requested.
type QuitHook struct {
	once sync.Once
	done chan struct{}
	quit func()
}

// NewQuitHook wraps quit so it runs at most once.
func NewQuitHook(quit func()) *QuitHook {
	return &QuitHook{
		done: make(chan struct{}),
		quit: quit,
	}
}

// Quit runs the shutdown function on the first call; later calls return
// immediately without waiting for it.
func (h *QuitHook) Quit() {
	h.once.Do(func() {
		if h.quit != nil {
			h.quit()
		}
		close(h.done)
	})
}

// Done is closed once the shutdown function has completed.
func (h *QuitHook) Done() <-chan struct{} {
	return h.done
}

// Notify quits on the first of the given signals. Subsequent signals are
// ignored; a stuck shutdown is already bounded by the terminator's grace
// window.
func (h *QuitHook) Notify(sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	go func() {
		sig := <-ch
		log.Printf("received %s, shutting down", sig)
		h.Quit()
	}()
}
