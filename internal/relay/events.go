package relay

import "sync"

// Hook is a named observer set. Subscribers run on their own
// goroutines so a slow observer never blocks the emitting handler.
type Hook[T any] struct {
	mu   sync.RWMutex
	subs []func(T)
}

// Subscribe adds an observer. Observers registered after an emit do
// not see past events.
func (h *Hook[T]) Subscribe(fn func(T)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

// Emit dispatches the event to every observer asynchronously.
func (h *Hook[T]) Emit(ev T) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()
	for _, fn := range subs {
		go fn(ev)
	}
}
