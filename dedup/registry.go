// Package dedup keeps track of which events have already been surfaced to a reader
package dedup

import (
	"sync"

	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
)

// Registry is the set of event ids surfaced so far. It is shared by every feed
// session of a page, so an id marked by one session is never shown by another.
type Registry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		ids: make(map[string]struct{}),
	}
}

// HasBeenShown reports whether the id was marked since the last reset
func (r *Registry) HasBeenShown(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok
}

// MarkShown adds the ids of all events. Ids seen twice are stored once.
func (r *Registry) MarkShown(events []*nostr.Event) {
	if len(events) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range events {
		r.ids[evt.ID] = struct{}{}
	}
}

// Count returns the number of distinct ids surfaced since the last reset
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Reset forgets every id, used when a reader restarts the page from scratch
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	log.WithFields(log.Fields{
		"count": len(r.ids),
	}).Info("Resetting dedup registry")
	r.ids = make(map[string]struct{})
}
