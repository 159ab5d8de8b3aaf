package query

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Querier runs filtered, time-bounded queries against a set of relays
type Querier interface {
	// Query returns at most filter.Limit events older than filter.Until from the relays.
	// It may return fewer events than asked for, or none.
	Query(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
	// QueryByIDs looks up specific events by id. The ids may be id suffixes,
	// those are matched among the events selected by the kinds and authors of scope.
	QueryByIDs(ctx context.Context, relays []string, scope nostr.Filter, ids []string) ([]*nostr.Event, error)
}

// Predicate decides whether a fetched event may enter a feed at all
type Predicate interface {
	// Admit returns false when the event must never be shown by the feed
	Admit(evt *nostr.Event) bool
}

// Filter is the static description of what a feed block displays
type Filter struct {
	Kinds    []int
	Authors  []string
	IDs      []string // id suffixes, matched against the tail of full ids
	MinChars int
	Count    int
}

// EffectiveCount caps the count at the size of the id allow-list when one is present
func (f Filter) EffectiveCount() int {
	if len(f.IDs) > 0 && len(f.IDs) < f.Count {
		return len(f.IDs)
	}
	return f.Count
}

// MatchesID reports whether id ends with one of the allow-listed suffixes.
// An empty allow-list matches everything.
func (f Filter) MatchesID(id string) bool {
	if len(f.IDs) == 0 {
		return true
	}
	for _, suffix := range f.IDs {
		if suffix != "" && strings.HasSuffix(id, suffix) {
			return true
		}
	}
	return false
}

// FullIDs returns the allow-list entries that are complete hex event ids
func (f Filter) FullIDs() []string {
	full, _ := SplitIDs(f.IDs)
	return full
}

// SplitIDs separates complete 64 char hex ids from shorter suffixes
func SplitIDs(ids []string) (full, suffixes []string) {
	for _, id := range ids {
		switch {
		case id == "":
		case isFullID(id):
			full = append(full, strings.ToLower(id))
		default:
			suffixes = append(suffixes, id)
		}
	}
	return full, suffixes
}

// HasKind reports whether kind is one of the filter kinds
func (f Filter) HasKind(kind int) bool {
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func isFullID(id string) bool {
	if len(id) != 64 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
