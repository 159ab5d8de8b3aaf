package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"nostrfeed/config"
	"nostrfeed/dedup"
	"nostrfeed/feeds"
	"nostrfeed/models"
	"nostrfeed/query"
)

const (
	readerCookie = "nostrfeed_reader"
	readerHeader = "X-Nostrfeed-Reader"

	defaultReaderTTL  = 30 * time.Minute
	defaultMaxReaders = 10000
)

// reader is the pagination state of one page view. Its feeds share a registry
// so an event shows up in one block of the page only.
type reader struct {
	key      string
	config   *config.Config
	feeds    feeds.FeedMap
	registry *dedup.Registry
}

// readerStore hands every reader its own feeds, built from the base page
// configuration with the settings of the request host applied. Readers idle
// for longer than the TTL are dropped.
type readerStore struct {
	base    *config.Config
	querier query.Querier
	bc      *Broadcaster

	mu      sync.Mutex
	readers *expirable.LRU[string, *reader]
}

func newReaderStore(base *config.Config, querier query.Querier, bc *Broadcaster, size int, ttl time.Duration) *readerStore {
	if size <= 0 {
		size = defaultMaxReaders
	}
	if ttl <= 0 {
		ttl = defaultReaderTTL
	}

	return &readerStore{
		base:    base,
		querier: querier,
		bc:      bc,
		readers: expirable.NewLRU[string, *reader](size, func(key string, _ *reader) {
			log.WithField("reader", key).Debug("Dropping idle reader")
		}, ttl),
	}
}

// readerKey returns the key sent by the client, or issues a new one
func readerKey(c *fiber.Ctx) string {
	key := c.Query("reader")
	if key == "" {
		key = c.Get(readerHeader)
	}
	if key == "" {
		key = c.Cookies(readerCookie)
	}
	if _, err := uuid.Parse(key); err != nil {
		key = uuid.NewString()
	}

	c.Set(readerHeader, key)
	c.Cookie(&fiber.Cookie{
		Name:     readerCookie,
		Value:    key,
		Path:     "/",
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return key
}

// Get returns the reader of the request, building its feeds on first use
func (s *readerStore) Get(c *fiber.Ctx, page pageHost) (*reader, error) {
	key := readerKey(c)
	// The same reader may browse several page hosts
	cacheKey := key + "@" + page.Subdomain

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.readers.Get(cacheKey); ok {
		// Refresh the TTL
		s.readers.Add(cacheKey, r)
		return r, nil
	}

	cfg, err := pageConfig(s.base, page.Subdomain)
	if err != nil {
		return nil, err
	}

	registry := dedup.NewRegistry()
	feedMap, err := feeds.InitializeFeeds(cfg, s.querier, registry)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	for _, session := range feedMap {
		session.OnChange(func(status models.FeedStatus) {
			s.bc.BroadcastStatus(key, status)
		})
	}

	r := &reader{
		key:      key,
		config:   cfg,
		feeds:    feedMap,
		registry: registry,
	}
	s.readers.Add(cacheKey, r)

	log.WithFields(log.Fields{
		"reader": key,
		"page":   page.Subdomain,
		"feeds":  feedMap.IDs(),
	}).Debug("New reader")
	return r, nil
}

func (s *readerStore) Len() int {
	return s.readers.Len()
}

// pageConfig applies the settings carried by a page subdomain to a copy of base
func pageConfig(base *config.Config, subdomain string) (*config.Config, error) {
	params, err := config.ParseSubdomain(subdomain)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	cfg := base.Clone()
	if err := cfg.ApplyParams(params); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrConfigurationMissing) {
			return nil, fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return cfg, nil
}
