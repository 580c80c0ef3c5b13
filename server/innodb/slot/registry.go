package slot

import "sync"

// Registry is the process-wide table of per-page transaction slot
// arrays, keyed by (logNumber, block) the same way the undo log
// registry keys logs by number: one lazily-created *PageSlots per page
// that has ever needed a transaction slot, held for the life of the
// process.
type Registry struct {
	mu    sync.Mutex
	pages map[uint32]map[uint64]*PageSlots
}

// NewRegistry creates an empty slot registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[uint32]map[uint64]*PageSlots)}
}

// For returns the PageSlots for (logNumber, block), creating it on
// first reference. It satisfies the redo dispatcher's
// func(logNumber uint32, block uint64) *slot.PageSlots provider shape
// directly: pass registry.For as the Slots field of redo.Context.
func (r *Registry) For(logNumber uint32, block uint64) *PageSlots {
	r.mu.Lock()
	defer r.mu.Unlock()

	byLog, ok := r.pages[logNumber]
	if !ok {
		byLog = make(map[uint64]*PageSlots)
		r.pages[logNumber] = byLog
	}
	ps, ok := byLog[block]
	if !ok {
		ps = &PageSlots{}
		byLog[block] = ps
	}
	return ps
}

// Forget drops the tracked slots for a page, e.g. once its segment has
// been discarded and the page will never be referenced again.
func (r *Registry) Forget(logNumber uint32, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if byLog, ok := r.pages[logNumber]; ok {
		delete(byLog, block)
		if len(byLog) == 0 {
			delete(r.pages, logNumber)
		}
	}
}
