package relay

import "sync"

// Window is an in-process linking window. There is nothing to render for a
// local key relay, so it only tracks open state.
type Window struct {
	mu   sync.Mutex
	open bool
}

func newWindow() *Window {
	return &Window{open: true}
}

// Focus fails once the window is closed.
func (w *Window) Focus() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return errWindowClosed
	}
	return nil
}

// Close marks the window closed. It is idempotent.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.open = false
}

// IsOpen reports whether Close has not been called yet.
func (w *Window) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}
