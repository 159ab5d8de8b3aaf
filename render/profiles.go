package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"nostrfeed/models"
	"nostrfeed/query"
)

const (
	// cache successes for 2 hours, failures for 5 minutes
	profileTTL        = 2 * 60 * 60
	profileFailureTTL = 5 * 60

	defaultProfileCacheSize = 512 * 1024
	profileLookupTimeout    = 5 * time.Second
	maxProfileRelays        = 5
)

// ErrProfileNotFound is returned when no relay knows the profile
var ErrProfileNotFound = errors.New("profile not found")

type profileMetadata struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// ProfileResolver looks profile names up on relays and caches them
type ProfileResolver struct {
	querier query.Querier
	relays  []string
	cache   *freecache.Cache
}

var _ NameResolver = (*ProfileResolver)(nil)

// NewProfileResolver creates a resolver asking relays through querier. A cacheSize
// of zero uses a 512KB cache.
func NewProfileResolver(querier query.Querier, relays []string, cacheSize int) *ProfileResolver {
	if cacheSize <= 0 {
		cacheSize = defaultProfileCacheSize
	}
	return &ProfileResolver{
		querier: querier,
		relays:  relays,
		cache:   freecache.NewCache(cacheSize),
	}
}

// ShortName returns the name to label a profile reference with. Profiles without
// a name get a shortened npub.
func (p *ProfileResolver) ShortName(ctx context.Context, code string) (string, error) {
	pubkey, hints, err := models.DecodePubKey(code)
	if err != nil {
		return "", err
	}

	key := []byte(pubkey)
	if cached, err := p.cache.Get(key); err == nil {
		if len(cached) == 0 {
			return "", ErrProfileNotFound
		}
		return string(cached), nil
	}

	name, err := p.lookup(ctx, pubkey, hints)
	if err != nil {
		_ = p.cache.Set(key, []byte{}, profileFailureTTL)
		return "", err
	}

	_ = p.cache.Set(key, []byte(name), profileTTL)
	return name, nil
}

func (p *ProfileResolver) lookup(ctx context.Context, pubkey string, hints []string) (string, error) {
	relays := lo.Uniq(append(append([]string{}, hints...), p.relays...))
	if len(relays) > maxProfileRelays {
		relays = relays[:maxProfileRelays]
	}

	ctx, cancel := context.WithTimeout(ctx, profileLookupTimeout)
	defer cancel()

	events, err := p.querier.Query(ctx, relays, nostr.Filter{
		Kinds:   []int{models.KindProfile},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to query profile: %w", err)
	}

	profiles := lo.Filter(events, func(evt *nostr.Event, _ int) bool {
		return evt.Kind == models.KindProfile && evt.PubKey == pubkey
	})
	if len(profiles) == 0 {
		return "", ErrProfileNotFound
	}

	newest := lo.MaxBy(profiles, func(a, b *nostr.Event) bool {
		return a.CreatedAt > b.CreatedAt
	})

	var metadata profileMetadata
	if err := json.Unmarshal([]byte(newest.Content), &metadata); err != nil {
		log.WithFields(log.Fields{
			"pubkey": pubkey,
			"error":  err,
		}).Debug("Invalid profile metadata")
	}

	return shortName(pubkey, metadata), nil
}

func shortName(pubkey string, metadata profileMetadata) string {
	if metadata.Name != "" {
		return metadata.Name
	}
	if metadata.DisplayName != "" {
		return metadata.DisplayName
	}
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil || len(npub) < 12 {
		return pubkey
	}
	return npub[:8] + "…" + npub[len(npub)-4:]
}
