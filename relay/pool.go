// Package relay queries nostr relays over websockets
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nostrfeed/query"
)

var (
	relayQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_relay_queries_total",
		Help: "Relay queries by outcome",
	}, []string{"relay", "outcome"})

	relayQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nostrfeed_relay_query_duration_seconds",
		Help:    "Time until a relay answered a query with EOSE",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"relay"})
)

// suffixLookupLimit bounds the events scanned when matching id suffixes
const suffixLookupLimit = 500

// Config holds settings shared by every relay connection of a pool
type Config struct {
	UserAgent        string
	DialTimeout      time.Duration
	DialAttempts     uint64
	VerifySignatures bool
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		UserAgent:        "nostrfeed",
		DialTimeout:      10 * time.Second,
		DialAttempts:     2,
		VerifySignatures: true,
	}
}

// Pool keeps one lazily dialed connection per relay URL
type Pool struct {
	config Config
	mu     sync.Mutex
	relays map[string]*Relay
}

func NewPool(config Config) *Pool {
	return &Pool{
		config: config,
		relays: make(map[string]*Relay),
	}
}

var _ query.Querier = (*Pool)(nil)

// Relay returns a connected relay, dialing it when there is no live connection
func (p *Pool) Relay(ctx context.Context, url string) (*Relay, error) {
	url = nostr.NormalizeURL(url)

	p.mu.Lock()
	existing, ok := p.relays[url]
	p.mu.Unlock()
	if ok && existing.IsConnected() {
		return existing, nil
	}

	r, err := Connect(ctx, url, p.config)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another caller may have connected in the meantime
	if current, ok := p.relays[url]; ok && current != existing && current.IsConnected() {
		r.Close()
		return current, nil
	}
	p.relays[url] = r
	return r, nil
}

// Query sends filter to every relay in parallel and merges the answers,
// dropping duplicate events. It only fails when every relay failed.
func (p *Pool) Query(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	relays = lo.Uniq(relays)
	results := make([][]*nostr.Event, len(relays))
	errs := make([]error, len(relays))

	g, gctx := errgroup.WithContext(ctx)
	for i, url := range relays {
		g.Go(func() error {
			results[i], errs[i] = p.queryRelay(gctx, url, filter)
			// A failing relay must not cancel the others
			return nil
		})
	}
	_ = g.Wait()

	events := lo.UniqBy(lo.Flatten(results), func(evt *nostr.Event) string {
		return evt.ID
	})

	failed := lo.Compact(errs)
	if len(relays) > 0 && len(failed) == len(relays) {
		return nil, errors.Join(failed...)
	}
	return events, nil
}

// QueryByIDs looks events up by id. Full hex ids are asked for directly.
// Relays only index full ids, so shorter suffixes are matched against the
// newest events of scope instead.
func (p *Pool) QueryByIDs(ctx context.Context, relays []string, scope nostr.Filter, ids []string) ([]*nostr.Event, error) {
	full, suffixes := query.SplitIDs(ids)
	if len(suffixes) > 0 && len(scope.Authors) == 0 && len(scope.Kinds) == 0 {
		log.WithField("suffixes", suffixes).Debug("Cannot look id suffixes up without authors or kinds")
		suffixes = nil
	}

	var (
		byID, bySuffix []*nostr.Event
		idErr, sfxErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	if len(full) > 0 {
		g.Go(func() error {
			filter := scope
			filter.IDs = full
			filter.Limit = len(full)
			byID, idErr = p.Query(gctx, relays, filter)
			return nil
		})
	}
	if len(suffixes) > 0 {
		g.Go(func() error {
			filter := scope
			filter.IDs = nil
			filter.Limit = suffixLookupLimit
			events, err := p.Query(gctx, relays, filter)
			matcher := query.Filter{IDs: suffixes}
			bySuffix = lo.Filter(events, func(evt *nostr.Event, _ int) bool {
				return matcher.MatchesID(evt.ID)
			})
			sfxErr = err
			return nil
		})
	}
	_ = g.Wait()

	events := lo.UniqBy(append(byID, bySuffix...), func(evt *nostr.Event) string {
		return evt.ID
	})
	if len(events) == 0 && (idErr != nil || sfxErr != nil) {
		return nil, errors.Join(idErr, sfxErr)
	}
	return events, nil
}

func (p *Pool) queryRelay(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	start := time.Now()

	r, err := p.Relay(ctx, url)
	if err != nil {
		relayQueries.WithLabelValues(url, "unavailable").Inc()
		return nil, err
	}

	events, err := r.Query(ctx, filter)
	if err != nil {
		relayQueries.WithLabelValues(url, "error").Inc()
		log.WithFields(log.Fields{
			"relay": url,
			"error": err,
		}).Warn("Relay query failed")
		return nil, err
	}

	relayQueries.WithLabelValues(url, "ok").Inc()
	relayQueryDuration.WithLabelValues(url).Observe(time.Since(start).Seconds())
	log.WithFields(log.Fields{
		"relay":   url,
		"events":  len(events),
		"latency": time.Since(start),
	}).Debug("Relay query answered")

	return events, nil
}

// Close disconnects every relay
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for url, r := range p.relays {
		r.Close()
		delete(p.relays, url)
	}
}
