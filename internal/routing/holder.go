package routing

import "sync/atomic"

// Holder shares the current routing map between the indexing pipeline and
// the search orchestrator. Reloads are atomic pointer replacement, never
// in-place mutation.
type Holder struct {
	ptr atomic.Pointer[Map]
}

// Store replaces the current map. A nil map disables domain routing.
func (h *Holder) Store(m *Map) {
	h.ptr.Store(m)
}

// Load returns the current map, or nil when none is loaded.
func (h *Holder) Load() *Map {
	if h == nil {
		return nil
	}
	return h.ptr.Load()
}
