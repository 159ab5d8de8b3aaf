package dedup_test

import (
	"sync"
	"testing"

	"nostrfeed/dedup"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

func events(ids ...string) []*nostr.Event {
	evts := make([]*nostr.Event, len(ids))
	for i, id := range ids {
		evts[i] = &nostr.Event{ID: id}
	}
	return evts
}

func TestRegistryMarkShown(t *testing.T) {
	r := dedup.NewRegistry()

	assert.False(t, r.HasBeenShown("a"))

	r.MarkShown(events("a", "b", "a"))

	assert.True(t, r.HasBeenShown("a"))
	assert.True(t, r.HasBeenShown("b"))
	assert.False(t, r.HasBeenShown("c"))
	assert.Equal(t, 2, r.Count())

	r.MarkShown(events("b"))
	assert.Equal(t, 2, r.Count())
}

func TestRegistryReset(t *testing.T) {
	r := dedup.NewRegistry()
	r.MarkShown(events("a", "b"))

	r.Reset()

	assert.False(t, r.HasBeenShown("a"))
	assert.Equal(t, 0, r.Count())

	r.MarkShown(events("a"))
	assert.True(t, r.HasBeenShown("a"))
}

func TestRegistryIsolation(t *testing.T) {
	first := dedup.NewRegistry()
	second := dedup.NewRegistry()

	first.MarkShown(events("a"))

	assert.True(t, first.HasBeenShown("a"))
	assert.False(t, second.HasBeenShown("a"))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := dedup.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			r.MarkShown(events(id))
			r.HasBeenShown(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 26, r.Count())
}
