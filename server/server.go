package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"nostrfeed/config"
	"nostrfeed/db"
	"nostrfeed/feeds"
	"nostrfeed/models"
	"nostrfeed/query"
	"nostrfeed/render"
)

const (
	maxPageSize     = 100
	maxIDsPerLookup = 50
	renderWorkers   = 8
	topDomains      = 20
)

type ServerConfig struct {
	// Base page configuration. Settings carried by the request host are
	// applied on top of it for every reader.
	Config  *config.Config
	Querier query.Querier

	Renderer *render.Renderer

	// Broadcast channel to pass feed status changes to SSE clients
	Broadcaster *Broadcaster

	// Every reader gets its own feeds, dropped after ReaderTTL without requests
	ReaderTTL  time.Duration
	MaxReaders int

	// Domain the page is served under, e.g. "nostr.page". Requests on other
	// hosts are custom domains, resolved through their CNAME and recorded
	// through Writer.
	BaseDomain string
	Writer     *db.Writer
	Tracker    *db.DomainTracker
	// Defaults to net.LookupCNAME
	LookupCNAME func(host string) (string, error)

	AllowOrigins string
}

type feedInfo struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	Style    string            `json:"style"`
	Count    int               `json:"count"`
	MinChars int               `json:"min_chars"`
	Status   models.FeedStatus `json:"status"`
}

// Returns a fiber.App instance serving the feeds of a page
func Server(sc *ServerConfig) *fiber.App {
	bc := sc.Broadcaster
	if bc == nil {
		bc = NewBroadcaster()
	}

	cnames := newCNAMEResolver()
	if sc.LookupCNAME != nil {
		cnames.lookup = sc.LookupCNAME
	}
	readers := newReaderStore(sc.Config, sc.Querier, bc, sc.MaxReaders, sc.ReaderTTL)

	readerOf := func(c *fiber.Ctx) (*reader, error) {
		page, err := resolvePageHost(hostname(c), sc.BaseDomain, cnames)
		if err != nil {
			return nil, err
		}
		return readers.Get(c, page)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/sse")
		},
	}))

	allowOrigins := sc.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowHeaders:  "Cache-Control, " + readerHeader,
		ExposeHeaders: readerHeader,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Called by Caddy before it requests an on-demand certificate
	app.Get("/caddy/ask", func(c *fiber.Ctx) error {
		domain := c.Query("domain")
		if !allowCustomDomain(domain, sc.BaseDomain, cnames) {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		log.WithField("domain", domain).Info("Allowing custom domain")
		return c.SendStatus(fiber.StatusOK)
	})

	// Page configuration, with the settings carried in the host name applied.
	// Loaded once per page view, so custom domain visits are recorded here.
	app.Get("/config", func(c *fiber.Ctx) error {
		page, err := resolvePageHost(hostname(c), sc.BaseDomain, cnames)
		if err != nil {
			return err
		}

		cfg, err := pageConfig(sc.Config, page.Subdomain)
		if err != nil {
			return err
		}

		if page.Custom {
			if sc.Writer != nil {
				sc.Writer.Record(db.Visit{
					Domain:          page.Host,
					TargetSubdomain: page.Subdomain,
				})
			}
			c.Set("Cache-Control", "public, max-age=7200")
		}
		return c.JSON(cfg)
	})

	app.Get("/feeds", func(c *fiber.Ctx) error {
		r, err := readerOf(c)
		if err != nil {
			return err
		}

		infos := make([]feedInfo, 0, len(r.feeds))
		for _, block := range r.config.Blocks {
			session, ok := r.feeds[block.ID]
			if !ok {
				continue
			}
			infos = append(infos, feedInfo{
				ID:       block.ID,
				Kind:     block.Kind.String(),
				Style:    block.Style.String(),
				Count:    block.Count,
				MinChars: block.MinChars,
				Status:   session.Status(),
			})
		}
		return c.JSON(infos)
	})

	// Starts the feeds of the reader over, other readers are not affected
	app.Post("/feeds/reset", func(c *fiber.Ctx) error {
		r, err := readerOf(c)
		if err != nil {
			return err
		}
		if err := r.feeds.Reset(c.UserContext(), r.registry); err != nil {
			log.WithError(err).Error("Error resetting feeds")
			return c.Status(fiber.StatusInternalServerError).SendString("Error resetting feeds")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/feeds/:id", func(c *fiber.Ctx) error {
		r, err := readerOf(c)
		if err != nil {
			return err
		}
		session, block, ok := lookupFeed(r, c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).SendString("Unknown feed")
		}

		count := c.QueryInt("count", block.Count)
		minChars := c.QueryInt("min_chars", block.MinChars)
		if count < 0 || count > maxPageSize || minChars < 0 {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid count or min_chars")
		}

		events, err := session.Take(c.UserContext(), count, minChars)
		if err != nil {
			log.WithFields(log.Fields{
				"feed":   block.ID,
				"reader": r.key,
				"error":  err,
			}).Error("Error taking feed page")
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting feed")
		}

		style := block.Style
		if !c.QueryBool("render", true) {
			style = config.StyleGrid
		}
		presenter := render.PresenterFor(block.Kind, style, sc.Renderer)

		expected := session.Filter()
		expected.Count = count
		return c.JSON(models.FeedResponse{
			Block: block.ID,
			Items: present(c, presenter, events),
			End:   len(events) < expected.EffectiveCount(),
		})
	})

	app.Get("/feeds/:id/ids", func(c *fiber.Ctx) error {
		r, err := readerOf(c)
		if err != nil {
			return err
		}
		session, block, ok := lookupFeed(r, c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).SendString("Unknown feed")
		}

		ids := lo.Compact(lo.Map(strings.Split(c.Query("ids"), ","), func(id string, _ int) string {
			return strings.TrimSpace(id)
		}))
		if len(ids) == 0 || len(ids) > maxIDsPerLookup {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid ids")
		}

		events, err := session.TakeByIDs(c.UserContext(), ids)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Error looking up ids")
		}

		presenter := render.PresenterFor(block.Kind, block.Style, sc.Renderer)
		return c.JSON(models.FeedResponse{
			Block: block.ID,
			Items: present(c, presenter, events),
			End:   true,
		})
	})

	app.Get("/feeds/:id/status", func(c *fiber.Ctx) error {
		r, err := readerOf(c)
		if err != nil {
			return err
		}
		session, _, ok := lookupFeed(r, c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).SendString("Unknown feed")
		}
		return c.JSON(session.Status())
	})

	app.Delete("/feeds/:id/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get("/feeds/:id/sse", func(c *fiber.Ctx) error {
		r, err := readerOf(c)
		if err != nil {
			return err
		}
		session, block, ok := lookupFeed(r, c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).SendString("Unknown feed")
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		statusChannel := make(chan models.FeedStatus, 10)
		bc.AddClient(key, r.key, statusChannel)
		initial := session.Status()

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			aliveChan := time.NewTicker(5 * time.Second)
			defer aliveChan.Stop()
			defer func() {
				log.Infof("Cleaning up SSE stream for client: %s", key)
				bc.RemoveClient(key)
			}()

			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := writeStatus(w, initial); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-aliveChan.C:
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case status, ok := <-statusChannel:
					if !ok {
						log.Warnf("Status channel closed for client %s", key)
						return
					}
					if status.Block != block.ID {
						continue
					}
					if err := writeStatus(w, status); err != nil {
						log.Warnf("Failed to send status event to client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	app.Get("/stats/domains", func(c *fiber.Ctx) error {
		if sc.Tracker == nil {
			return c.Status(fiber.StatusNotFound).SendString("Domain tracking is disabled")
		}

		stats, err := sc.Tracker.GetStats(c.UserContext())
		if err != nil {
			log.WithError(err).Error("Error getting domain stats")
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting domain stats")
		}
		top, err := sc.Tracker.GetTopDomains(c.UserContext(), c.QueryInt("limit", topDomains))
		if err != nil {
			log.WithError(err).Error("Error getting top domains")
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting top domains")
		}

		return c.JSON(fiber.Map{
			"stats":   stats,
			"domains": top,
		})
	})

	return app
}

// present turns events into items concurrently, keeping their order
func present(c *fiber.Ctx, presenter render.Presenter, events []*nostr.Event) []models.FeedItem {
	items := make([]models.FeedItem, len(events))
	var g errgroup.Group
	g.SetLimit(renderWorkers)
	for i, evt := range events {
		g.Go(func() error {
			items[i] = presenter.Present(c.UserContext(), evt)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func writeStatus(w *bufio.Writer, status models.FeedStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func lookupFeed(r *reader, id string) (*feeds.Session, config.Block, bool) {
	session, ok := r.feeds[id]
	if !ok {
		return nil, config.Block{}, false
	}
	block, ok := r.config.Block(id)
	return session, block, ok
}

// hostname returns the request host without port
func hostname(c *fiber.Ctx) string {
	host := c.Hostname()
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// pageHost is the page a request host points at
type pageHost struct {
	Host string
	// Labels in front of the base domain, they carry page settings
	Subdomain string
	// Custom domains reach the page through a CNAME to a base domain subdomain
	Custom bool
}

// resolvePageHost finds the page settings of a request host. Custom domains
// must have a CNAME pointing under the base domain.
func resolvePageHost(host, baseDomain string, cnames *cnameResolver) (pageHost, error) {
	page := pageHost{Host: host}
	if baseDomain == "" || host == "" {
		return page, nil
	}
	if sub, ok := strings.CutSuffix(host, "."+baseDomain); ok {
		page.Subdomain = sub
		return page, nil
	}
	if host == baseDomain || host == "localhost" || net.ParseIP(host) != nil {
		return page, nil
	}

	page.Custom = true
	cname := cnames.Resolve(host)
	if cname == "" {
		return page, fiber.NewError(fiber.StatusBadRequest, "missing CNAME record for "+host)
	}
	sub, ok := strings.CutSuffix(cname, "."+baseDomain)
	if !ok {
		return page, fiber.NewError(fiber.StatusNotFound,
			fmt.Sprintf("invalid CNAME '%s' doesn't end with '%s'", cname, baseDomain))
	}
	page.Subdomain = sub
	return page, nil
}

// allowCustomDomain reports whether a certificate may be issued for domain
func allowCustomDomain(domain, baseDomain string, cnames *cnameResolver) bool {
	if domain == "" || baseDomain == "" {
		return false
	}
	if domain == baseDomain || strings.HasSuffix(domain, "."+baseDomain) {
		return false
	}
	return strings.HasSuffix(cnames.Resolve(domain), "."+baseDomain)
}
