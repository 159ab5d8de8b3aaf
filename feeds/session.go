package feeds

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"nostrfeed/config"
	"nostrfeed/content"
	"nostrfeed/dedup"
	"nostrfeed/models"
	"nostrfeed/query"
)

// Unbounded is the cursor of a session that has not fetched anything yet
const Unbounded int64 = math.MaxInt64

// ErrNoSources is returned when a session is built without relays
var ErrNoSources = fmt.Errorf("%w: feed has no relays", config.ErrConfigurationMissing)

var (
	feedItemsSurfaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_feed_items_surfaced_total",
		Help: "Items handed out by feed sessions",
	}, []string{"block"})

	feedRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_feed_rounds_total",
		Help: "Relay query rounds run by feed sessions",
	}, []string{"block"})

	feedSourcesExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_feed_sources_exhausted_total",
		Help: "Relays marked exhausted, by reason",
	}, []string{"block", "reason"})

	feedTakeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nostrfeed_feed_take_duration_seconds",
		Help:    "Time spent serving a page, including time queued behind other callers",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"block"})
)

// SessionConfig describes the feed a session pages through
type SessionConfig struct {
	Block      string
	Filter     query.Filter
	Relays     []string
	Querier    query.Querier
	Registry   *dedup.Registry
	Tunables   config.Tunables
	Predicates []query.Predicate
}

// Session pages backwards through the history of one feed block across
// several relays. Calls are served one at a time in arrival order.
type Session struct {
	block    string
	filter   query.Filter
	relays   []string
	querier  query.Querier
	registry *dedup.Registry
	builder  *FeedQueryBuilder
	tunables config.Tunables

	lock *semaphore.Weighted

	// Guarded by lock
	carryOver []*nostr.Event
	exhausted map[string]bool
	next      int

	until     atomic.Int64
	surfaced  atomic.Int64
	ready     atomic.Bool
	pending   atomic.Int32
	exhaustCt atomic.Int32

	hookMu   sync.Mutex
	onChange func(models.FeedStatus)
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if len(cfg.Relays) == 0 {
		return nil, ErrNoSources
	}
	if cfg.Querier == nil {
		return nil, errors.New("feed session needs a querier")
	}
	if cfg.Registry == nil {
		cfg.Registry = dedup.NewRegistry()
	}

	builder := NewFeedQueryBuilder(cfg.Filter, cfg.Registry)
	for _, predicate := range cfg.Predicates {
		builder.AddFilter(predicate)
	}

	s := &Session{
		block:     cfg.Block,
		filter:    cfg.Filter,
		relays:    lo.Uniq(cfg.Relays),
		querier:   cfg.Querier,
		registry:  cfg.Registry,
		builder:   builder,
		tunables:  cfg.Tunables,
		lock:      semaphore.NewWeighted(1),
		exhausted: make(map[string]bool),
	}
	s.until.Store(Unbounded)
	return s, nil
}

// Take returns up to count events the registry has not seen, newest first.
// With minChars above zero only events whose content reaches that length are
// returned, the rest wait in the carry-over for a later call. A page shorter
// than count means every relay is exhausted.
func (s *Session) Take(ctx context.Context, count, minChars int) ([]*nostr.Event, error) {
	start := time.Now()
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.lock.Release(1)

	if len(s.filter.IDs) > 0 && len(s.filter.IDs) < count {
		count = len(s.filter.IDs)
	}
	count = max(count, 0)
	minChars = max(minChars, 0)

	working := s.carryOver
	s.carryOver = nil

	// Length checks are cached per call since the same event is looked at
	// before every round and again when scanning
	meets := make(map[string]bool)
	satisfies := func(evt *nostr.Event) bool {
		if minChars == 0 {
			return true
		}
		ok, cached := meets[evt.ID]
		if !cached {
			ok = content.MeetsThreshold(evt, minChars)
			meets[evt.ID] = ok
		}
		return ok
	}
	available := func() int {
		return lo.CountBy(working, func(evt *nostr.Event) bool {
			return !s.registry.HasBeenShown(evt.ID) && satisfies(evt)
		})
	}

	for count > 0 && available() < count {
		sources := s.nextSources()
		if len(sources) == 0 {
			break
		}

		fetched, err := s.fetchRound(ctx, sources, count, minChars)
		if err != nil {
			// The caller gave up, keep everything for the next call
			s.carryOver = sortAscending(working)
			return nil, err
		}
		working = s.merge(working, fetched)
	}

	result, rest := s.scan(working, count, satisfies)
	s.carryOver = sortAscending(rest)
	s.registry.MarkShown(result)

	s.pending.Store(int32(len(s.carryOver)))
	s.exhaustCt.Store(int32(len(s.exhausted)))
	s.complete(len(result))
	feedTakeDuration.WithLabelValues(s.block).Observe(time.Since(start).Seconds())

	log.WithFields(log.Fields{
		"block":     s.block,
		"count":     count,
		"minChars":  minChars,
		"returned":  len(result),
		"carryOver": len(s.carryOver),
		"exhausted": len(s.exhausted),
	}).Debug("Served feed page")

	return result, nil
}

// nextSources picks up to SourcesPerRound relays that are not exhausted,
// rotating through the relay list so every relay gets its turn
func (s *Session) nextSources() []string {
	perRound := max(s.tunables.SourcesPerRound, 1)
	selected := make([]string, 0, perRound)

	for i := 0; i < len(s.relays) && len(selected) < perRound; i++ {
		url := s.relays[(s.next+i)%len(s.relays)]
		if !s.exhausted[url] {
			selected = append(selected, url)
		}
	}
	if len(selected) > 0 {
		last := lo.IndexOf(s.relays, selected[len(selected)-1])
		s.next = (last + 1) % len(s.relays)
	}
	return selected
}

// fetchRound queries every source in parallel, each under its own timeout.
// Sources that fail, time out or return nothing are exhausted for good.
func (s *Session) fetchRound(ctx context.Context, sources []string, count, minChars int) ([]*nostr.Event, error) {
	limit := s.limit(count, minChars)
	until := s.until.Load()
	filter := s.builder.Build(limit, until)
	feedRounds.WithLabelValues(s.block).Inc()

	results := make([][]*nostr.Event, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	for i, url := range sources {
		g.Go(func() error {
			qctx, cancel := s.queryContext(ctx)
			defer cancel()
			results[i], errs[i] = s.querier.Query(qctx, []string{url}, filter)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, url := range sources {
		// Relays ignoring the cursor would otherwise be asked forever
		results[i] = lo.Filter(results[i], func(evt *nostr.Event, _ int) bool {
			return evt != nil && int64(evt.CreatedAt) <= until
		})
		switch {
		case errs[i] != nil:
			s.exhaust(url, "error")
			log.WithFields(log.Fields{
				"block": s.block,
				"relay": url,
				"error": errs[i],
			}).Warn("Relay unavailable, skipping it for this feed")
		case len(results[i]) == 0:
			s.exhaust(url, "empty")
		}
	}

	fetched := lo.Flatten(results)
	if len(fetched) > 0 {
		earliest := lo.MinBy(fetched, func(a, b *nostr.Event) bool {
			return a.CreatedAt < b.CreatedAt
		})
		s.advance(int64(earliest.CreatedAt) - 1)
	}

	return fetched, nil
}

func (s *Session) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.tunables.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.tunables.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) exhaust(url, reason string) {
	if s.exhausted[url] {
		return
	}
	s.exhausted[url] = true
	feedSourcesExhausted.WithLabelValues(s.block, reason).Inc()
	log.WithFields(log.Fields{
		"block":  s.block,
		"relay":  url,
		"reason": reason,
	}).Debug("Relay exhausted")
}

// advance moves the cursor back to until, never forward
func (s *Session) advance(until int64) {
	if until < s.until.Load() {
		s.until.Store(until)
	}
}

// limit scales the per-relay request size by the over-fetch factors
func (s *Session) limit(count, minChars int) int {
	limit := count
	if minChars > 0 && s.tunables.MinCharsFactor > 1 {
		limit *= s.tunables.MinCharsFactor
	}
	if s.filter.HasKind(models.KindNote) && s.tunables.NoteKindFactor > 1 {
		limit *= s.tunables.NoteKindFactor
	}
	if s.tunables.MaxLimit > 0 && limit > s.tunables.MaxLimit {
		limit = s.tunables.MaxLimit
	}
	return limit
}

// merge adds the admitted events that are not in the working set yet and
// keeps the working set sorted ascending by creation time
func (s *Session) merge(working, fetched []*nostr.Event) []*nostr.Event {
	present := make(map[string]struct{}, len(working))
	for _, evt := range working {
		present[evt.ID] = struct{}{}
	}

	for _, evt := range fetched {
		if _, ok := present[evt.ID]; ok {
			continue
		}
		if !s.builder.Admit(evt) {
			continue
		}
		present[evt.ID] = struct{}{}
		working = append(working, evt)
	}

	return sortAscending(working)
}

// scan walks the working set from the newest event until count events are
// accepted. Events shown in the meantime are dropped, events that are too
// short are kept aside along with everything not reached.
func (s *Session) scan(working []*nostr.Event, count int, satisfies func(*nostr.Event) bool) ([]*nostr.Event, []*nostr.Event) {
	result := make([]*nostr.Event, 0, count)
	rest := make([]*nostr.Event, 0)

	i := len(working) - 1
	for ; i >= 0 && len(result) < count; i-- {
		evt := working[i]
		if s.registry.HasBeenShown(evt.ID) {
			continue
		}
		if !satisfies(evt) {
			rest = append(rest, evt)
			continue
		}
		result = append(result, evt)
	}

	return result, append(rest, working[:i+1]...)
}

func sortAscending(events []*nostr.Event) []*nostr.Event {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt == events[j].CreatedAt {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt < events[j].CreatedAt
	})
	return events
}

// TakeByIDs looks specific events up on a few of the relays. The ids may be
// hex ids, id suffixes, note1 or nevent1 codes. It bypasses the registry and
// the cursor, and returns the matches newest first.
func (s *Session) TakeByIDs(ctx context.Context, ids []string) ([]*nostr.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lookup := make([]string, 0, len(ids))
	hints := make([]string, 0)
	for _, code := range ids {
		id, relays, err := models.DecodeEventID(code)
		if err != nil {
			log.WithFields(log.Fields{
				"block": s.block,
				"id":    code,
				"error": err,
			}).Debug("Looking id up as given")
			id = code
		}
		if id != "" {
			lookup = append(lookup, id)
		}
		hints = append(hints, relays...)
	}
	lookup = lo.Uniq(lookup)
	if len(lookup) == 0 {
		s.complete(0)
		return []*nostr.Event{}, nil
	}

	maxSources := max(s.tunables.MaxIDSources, 1)
	sources := lo.Uniq(append(append([]string{}, s.relays...), hints...))
	if len(sources) > maxSources {
		sources = sources[:maxSources]
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	scope := nostr.Filter{Kinds: s.filter.Kinds, Authors: s.filter.Authors}
	events, err := s.querier.QueryByIDs(qctx, sources, scope, lookup)
	if err != nil {
		log.WithFields(log.Fields{
			"block": s.block,
			"error": err,
		}).Warn("Id lookup failed")
		events = nil
	}

	matcher := query.Filter{IDs: lookup}
	matched := lo.UniqBy(lo.Filter(events, func(evt *nostr.Event, _ int) bool {
		return evt != nil && matcher.MatchesID(evt.ID)
	}), func(evt *nostr.Event) string {
		return evt.ID
	})
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt > matched[j].CreatedAt
	})

	s.complete(len(matched))
	return matched, nil
}

// Reset forgets the cursor, the carry-over and the exhausted relays. It waits
// for calls in flight.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)

	s.carryOver = nil
	s.exhausted = make(map[string]bool)
	s.next = 0
	s.until.Store(Unbounded)
	s.pending.Store(0)
	s.exhaustCt.Store(0)
	s.notify()

	log.WithField("block", s.block).Info("Feed session reset")
	return nil
}

// complete publishes the observable state after a call
func (s *Session) complete(surfaced int) {
	s.surfaced.Add(int64(surfaced))
	s.ready.Store(true)
	feedItemsSurfaced.WithLabelValues(s.block).Add(float64(surfaced))
	s.notify()
}

// OnChange registers a callback run with the new status after every call
func (s *Session) OnChange(fn func(models.FeedStatus)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onChange = fn
}

func (s *Session) notify() {
	s.hookMu.Lock()
	fn := s.onChange
	s.hookMu.Unlock()
	if fn != nil {
		fn(s.Status())
	}
}

func (s *Session) Status() models.FeedStatus {
	return models.FeedStatus{
		Block:     s.block,
		Surfaced:  s.surfaced.Load(),
		Ready:     s.ready.Load(),
		Exhausted: int(s.exhaustCt.Load()),
		Pending:   int(s.pending.Load()),
	}
}

func (s *Session) Block() string {
	return s.block
}

// Filter returns the static filter of the session
func (s *Session) Filter() query.Filter {
	return s.filter
}

// Until returns the cursor, Unbounded before the first round
func (s *Session) Until() int64 {
	return s.until.Load()
}

// Exhausted reports whether every relay of the session is exhausted
func (s *Session) Exhausted() bool {
	return int(s.exhaustCt.Load()) == len(s.relays)
}
