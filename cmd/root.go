package cmd

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"nostrfeed/config"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "nostrfeed",
		Usage: "Paginated feeds of a nostr author's articles, notes and images",
		Description: `Aggregates the events of one nostr author from several relays into
		feed blocks that can be paged through without repeating an event.

		Feeds are configured in a TOML file with one [[blocks]] entry per block.
		The author and the relays can be overridden from the command line.

		Flags can generally be set via environment variables, e.g.:

		--config => NOSTRFEED_CONFIG=page.toml
		--port => NOSTRFEED_PORT=3000

		A .env file in the working directory is read on startup.
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (trace, debug, info, warn, error)",
				EnvVars: []string{"NOSTRFEED_LOG_LEVEL"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			fetchCmd(),
			browseCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
			statsCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// Execute loads .env and runs the application with the process arguments
func Execute() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("Could not read .env file")
	}

	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// pageFlags are shared by the commands that build feeds
func pageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "config/page.toml",
			Usage:   "Path to page configuration file",
			EnvVars: []string{"NOSTRFEED_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "author",
			Aliases: []string{"a"},
			Usage:   "Author npub, nprofile or hex key, overrides the config file",
			EnvVars: []string{"NOSTRFEED_AUTHOR"},
		},
		&cli.StringSliceFlag{
			Name:    "relay",
			Aliases: []string{"r"},
			Usage:   "Relay URL, can be repeated. Adds to the relays of the config file",
			EnvVars: []string{"NOSTRFEED_RELAYS"},
		},
	}
}

// loadPage reads the page configuration and applies the command line overrides
func loadPage(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || (ctx.String("author") == "" && ctx.String("base-domain") == "") {
			return nil, err
		}
		log.WithField("config", ctx.String("config")).Warn("No config file, using a default page")
		cfg = defaultPage()
	}

	params := config.Params{}
	if author := ctx.String("author"); author != "" {
		params["author"] = author
	}
	if relays := ctx.StringSlice("relay"); len(relays) > 0 {
		params["relays"] = strings.Join(relays, ",")
	}
	if err := cfg.ApplyParams(params); err != nil {
		return nil, err
	}

	// The page is still returned, hosts may fill in what is missing
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultPage() *config.Config {
	return &config.Config{
		Tunables: config.DefaultTunables(),
		Blocks: []config.Block{
			{ID: "articles", Kind: config.KindArticles, Style: config.StyleList},
			{ID: "notes", Kind: config.KindNotes, Style: config.StyleGrid, MinChars: 300},
			{ID: "images", Kind: config.KindImages, Style: config.StyleGrid},
		},
	}
}
