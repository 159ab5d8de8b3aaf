package feeds

import (
	"github.com/nbd-wtf/go-nostr"

	"nostrfeed/dedup"
	"nostrfeed/models"
	"nostrfeed/query"
)

// FeedQueryBuilder builds relay filters for a feed and the predicates fetched
// events must pass before they can be shown
type FeedQueryBuilder struct {
	filter     query.Filter
	predicates []query.Predicate
}

// NewFeedQueryBuilder sets up the predicates every feed needs: registry, kind and
// id allow-list checks, plus the root note check for note feeds
func NewFeedQueryBuilder(filter query.Filter, registry *dedup.Registry) *FeedQueryBuilder {
	b := &FeedQueryBuilder{
		filter:     filter,
		predicates: make([]query.Predicate, 0, 4),
	}

	b.AddFilter(&SeenFilter{Registry: registry})
	b.AddFilter(&KindFilter{Kinds: filter.Kinds})
	if len(filter.IDs) > 0 {
		b.AddFilter(&IDSuffixFilter{Filter: filter})
	}
	if filter.HasKind(models.KindNote) {
		b.AddFilter(&RootNoteFilter{})
	}

	return b
}

func (b *FeedQueryBuilder) AddFilter(predicate query.Predicate) {
	b.predicates = append(b.predicates, predicate)
}

// Build returns the relay filter for one round. An until of Unbounded asks for
// the newest events.
func (b *FeedQueryBuilder) Build(limit int, until int64) nostr.Filter {
	filter := nostr.Filter{
		Kinds:   b.filter.Kinds,
		Authors: b.filter.Authors,
		Limit:   limit,
	}

	// Relays index full ids only, suffixes are matched by the IDSuffix predicate
	if full := b.filter.FullIDs(); len(full) > 0 && len(full) == len(b.filter.IDs) {
		filter.IDs = full
	}

	if until != Unbounded {
		ts := nostr.Timestamp(until)
		filter.Until = &ts
	}

	return filter
}

// Admit reports whether evt passes every predicate
func (b *FeedQueryBuilder) Admit(evt *nostr.Event) bool {
	for _, predicate := range b.predicates {
		if !predicate.Admit(evt) {
			return false
		}
	}
	return true
}
