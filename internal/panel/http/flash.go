package http

import (
	"sync"

	"github.com/carteralabs/panel/internal/panel/session"
)

// flashBin buffers notices emitted by a provider between requests. Handlers
// drain it into the next response so toast-style feedback survives the
// post/redirect/get round trip.
type flashBin struct {
	mu      sync.Mutex
	notices []session.Notice
}

func (f *flashBin) Notify(n session.Notice) {
	f.mu.Lock()
	f.notices = append(f.notices, n)
	f.mu.Unlock()
}

func (f *flashBin) Drain() []session.Notice {
	f.mu.Lock()
	defer f.mu.Unlock()

	drained := f.notices
	f.notices = nil
	return drained
}
