package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"nostrfeed/config"
	"nostrfeed/db"
	"nostrfeed/relay"
	"nostrfeed/render"
	"nostrfeed/server"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the feeds over HTTP",
		Description: `Starts the nostrfeed HTTP server.

Every block of the page configuration becomes a feed that clients page through
with GET /feeds/:id. Each reader, identified by a cookie, gets its own feeds.
Feed status changes are pushed over server-sent events.

When a database is configured, requests arriving on custom domains are
recorded and can be inspected with the stats command.`,
		Flags: append(pageFlags(),
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Host to listen on",
				Value:   "0.0.0.0",
				EnvVars: []string{"NOSTRFEED_HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   3000,
				EnvVars: []string{"NOSTRFEED_PORT"},
			},
			&cli.StringFlag{
				Name:    "base-domain",
				Usage:   "Domain the page is served under, host labels in front of it carry page settings",
				EnvVars: []string{"NOSTRFEED_BASE_DOMAIN"},
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "SQLite database for custom domain tracking, empty disables tracking",
				EnvVars: []string{"NOSTRFEED_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "allow-origins",
				Usage:   "CORS allowed origins",
				Value:   "*",
				EnvVars: []string{"NOSTRFEED_ALLOW_ORIGINS"},
			},
			&cli.DurationFlag{
				Name:    "reader-ttl",
				Usage:   "Drop the feeds of a reader after this long without requests",
				Value:   30 * time.Minute,
				EnvVars: []string{"NOSTRFEED_READER_TTL"},
			},
			&cli.IntFlag{
				Name:    "max-readers",
				Usage:   "Maximum number of readers with live feeds",
				Value:   10000,
				EnvVars: []string{"NOSTRFEED_MAX_READERS"},
			},
			&cli.IntFlag{
				Name:    "profile-cache",
				Usage:   "Size in bytes of the profile name cache",
				Value:   512 * 1024,
				EnvVars: []string{"NOSTRFEED_PROFILE_CACHE"},
			},
		),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadPage(ctx)
			if err != nil {
				// Pages on the base domain carry the author in their host name
				if !errors.Is(err, config.ErrConfigurationMissing) || ctx.String("base-domain") == "" || cfg == nil {
					return err
				}
				log.WithError(err).Warn("Incomplete page configuration, hosts must fill it in")
			}

			pool := relay.NewPool(relay.DefaultConfig())
			defer pool.Close()

			names := render.NewProfileResolver(pool, cfg.Relays, ctx.Int("profile-cache"))
			broadcaster := server.NewBroadcaster()

			runCtx, cancel := context.WithCancel(ctx.Context)
			defer cancel()

			sc := &server.ServerConfig{
				Config:       cfg,
				Querier:      pool,
				ReaderTTL:    ctx.Duration("reader-ttl"),
				MaxReaders:   ctx.Int("max-readers"),
				Renderer:     render.NewRenderer(names),
				Broadcaster:  broadcaster,
				BaseDomain:   ctx.String("base-domain"),
				AllowOrigins: ctx.String("allow-origins"),
			}

			if database := ctx.String("database"); database != "" {
				if err := db.Migrate(database); err != nil {
					return err
				}
				tracker, err := db.NewDomainTracker(database)
				if err != nil {
					return err
				}
				defer tracker.Close()

				sc.Tracker = tracker
				sc.Writer = db.NewWriter(tracker, 100)
				go sc.Writer.Subscribe(runCtx)
			}

			app := server.Server(sc)

			// Graceful shutdown
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			done := make(chan struct{})

			go func() {
				<-sig
				log.Info("Gracefully shutting down...")
				broadcaster.Shutdown()
				if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
					log.WithError(err).Error("Error shutting down server")
				}
				cancel()
				close(done)
			}()

			log.WithFields(log.Fields{
				"blocks": len(cfg.Blocks),
				"relays": cfg.Relays,
				"author": cfg.PubKey,
			}).Info("Starting server")

			if err := app.Listen(fmt.Sprintf("%s:%d", ctx.String("host"), ctx.Int("port"))); err != nil {
				return err
			}

			<-done
			log.Info("Done!")
			return nil
		},
	}
}
