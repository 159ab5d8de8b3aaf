package feeds

import (
	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"

	"nostrfeed/dedup"
	"nostrfeed/models"
	"nostrfeed/query"
	"nostrfeed/screen"
)

// SeenFilter drops events already shown by any feed sharing the registry
type SeenFilter struct {
	Registry *dedup.Registry
}

func (f *SeenFilter) Admit(evt *nostr.Event) bool {
	return !f.Registry.HasBeenShown(evt.ID)
}

// KindFilter drops events of kinds the feed does not display
type KindFilter struct {
	Kinds []int
}

func (f *KindFilter) Admit(evt *nostr.Event) bool {
	return len(f.Kinds) == 0 || lo.Contains(f.Kinds, evt.Kind)
}

// IDSuffixFilter keeps only allow-listed ids when the feed has an allow-list
type IDSuffixFilter struct {
	Filter query.Filter
}

func (f *IDSuffixFilter) Admit(evt *nostr.Event) bool {
	return f.Filter.MatchesID(evt.ID)
}

// RootNoteFilter drops replies
type RootNoteFilter struct{}

func (f *RootNoteFilter) Admit(evt *nostr.Event) bool {
	return models.IsRootNote(evt)
}

// LanguageFilter keeps events written in one of the detector's languages
type LanguageFilter struct {
	Detector *screen.LanguageDetector
}

func (f *LanguageFilter) Admit(evt *nostr.Event) bool {
	return f.Detector.Matches(evt.Content)
}

// SpamFilter drops events that look like spam
type SpamFilter struct{}

func (f *SpamFilter) Admit(evt *nostr.Event) bool {
	return !screen.IsSpam(evt.Content)
}

var _ query.Predicate = (*SeenFilter)(nil)
var _ query.Predicate = (*KindFilter)(nil)
var _ query.Predicate = (*IDSuffixFilter)(nil)
var _ query.Predicate = (*RootNoteFilter)(nil)
var _ query.Predicate = (*LanguageFilter)(nil)
var _ query.Predicate = (*SpamFilter)(nil)
