package feeds

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"nostrfeed/config"
	"nostrfeed/dedup"
	"nostrfeed/query"
	"nostrfeed/screen"
)

// FeedMap holds one session per configured block, keyed by block id
type FeedMap map[string]*Session

// InitializeFeeds builds a session for every block of the configuration. The
// sessions share the registry so an event shows up in one block only.
func InitializeFeeds(cfg *config.Config, querier query.Querier, registry *dedup.Registry) (FeedMap, error) {
	if cfg.PubKey == "" || len(cfg.Relays) == 0 {
		return nil, config.ErrConfigurationMissing
	}

	feeds := make(FeedMap, len(cfg.Blocks))
	for _, block := range cfg.Blocks {
		predicates, err := blockPredicates(block)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", block.ID, err)
		}

		session, err := NewSession(SessionConfig{
			Block: block.ID,
			Filter: query.Filter{
				Kinds:    block.Kind.EventKinds(),
				Authors:  []string{cfg.PubKey},
				IDs:      block.IDs,
				MinChars: block.MinChars,
				Count:    block.Count,
			},
			Relays:     cfg.Relays,
			Querier:    querier,
			Registry:   registry,
			Tunables:   cfg.Tunables,
			Predicates: predicates,
		})
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", block.ID, err)
		}

		feeds[block.ID] = session
		log.WithFields(log.Fields{
			"block": block.ID,
			"kind":  block.Kind,
			"style": block.Style,
		}).Debug("Initialized feed")
	}

	return feeds, nil
}

func blockPredicates(block config.Block) ([]query.Predicate, error) {
	predicates := make([]query.Predicate, 0, 2)

	if len(block.Languages) > 0 {
		detector, err := screen.NewLanguageDetector(block.Languages)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, &LanguageFilter{Detector: detector})
	}
	if block.ExcludeSpam {
		predicates = append(predicates, &SpamFilter{})
	}

	return predicates, nil
}

// IDs returns the block ids in sorted order
func (m FeedMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset clears the registry and every session so the feeds start over from the newest events
func (m FeedMap) Reset(ctx context.Context, registry *dedup.Registry) error {
	for _, id := range m.IDs() {
		if err := m[id].Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset feed %s: %w", id, err)
		}
	}
	registry.Reset()
	return nil
}
