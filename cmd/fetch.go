package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"nostrfeed/config"
	"nostrfeed/dedup"
	"nostrfeed/feeds"
	"nostrfeed/models"
	"nostrfeed/relay"
	"nostrfeed/render"
)

// feedRuntime is everything a command needs to page through the feeds of a page
type feedRuntime struct {
	config   *config.Config
	pool     *relay.Pool
	feeds    feeds.FeedMap
	renderer *render.Renderer
}

func newFeedRuntime(ctx *cli.Context) (*feedRuntime, error) {
	cfg, err := loadPage(ctx)
	if err != nil {
		return nil, err
	}

	pool := relay.NewPool(relay.DefaultConfig())
	feedMap, err := feeds.InitializeFeeds(cfg, pool, dedup.NewRegistry())
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &feedRuntime{
		config:   cfg,
		pool:     pool,
		feeds:    feedMap,
		renderer: render.NewRenderer(render.NewProfileResolver(pool, cfg.Relays, 0)),
	}, nil
}

func (r *feedRuntime) Close() {
	r.pool.Close()
}

// page takes the next page of a block and presents it
func (r *feedRuntime) page(ctx *cli.Context, block config.Block, count, minChars int, full bool) (models.FeedResponse, error) {
	session := r.feeds[block.ID]
	events, err := session.Take(ctx.Context, count, minChars)
	if err != nil {
		return models.FeedResponse{}, err
	}

	style := block.Style
	if full {
		style = config.StyleList
	}
	presenter := render.PresenterFor(block.Kind, style, r.renderer)

	items := make([]models.FeedItem, 0, len(events))
	for _, evt := range events {
		items = append(items, presenter.Present(ctx.Context, evt))
	}

	expected := session.Filter()
	expected.Count = count
	return models.FeedResponse{
		Block: block.ID,
		Items: items,
		End:   len(events) < expected.EffectiveCount(),
	}, nil
}

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Print pages of a feed block",
		ArgsUsage: "<block id>",
		Description: `Fetch pages of a feed block and print them to stdout.

Prints each item as a JSON object on a single line. Use a tool like jq to
process the output, or pass --format yaml for a readable document per page.

Prints all other log messages to stderr.`,
		Flags: append(pageFlags(),
			&cli.IntFlag{
				Name:  "count",
				Usage: "Items per page, defaults to the block count",
			},
			&cli.IntFlag{
				Name:  "min-chars",
				Usage: "Minimum content length, defaults to the block setting",
				Value: -1,
			},
			&cli.IntFlag{
				Name:  "pages",
				Usage: "Number of pages to fetch, 0 fetches until the feed ends",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format, json or yaml",
				Value: "json",
			},
			&cli.BoolFlag{
				Name:  "html",
				Usage: "Include rendered HTML regardless of block style",
			},
		),
		Action: func(ctx *cli.Context) error {
			// Keep stdout for the items
			log.SetOutput(os.Stderr)

			rt, err := newFeedRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			block, ok := rt.config.Block(ctx.Args().First())
			if !ok {
				return fmt.Errorf("unknown block %q, have %v", ctx.Args().First(), rt.feeds.IDs())
			}

			count := block.Count
			if ctx.Int("count") > 0 {
				count = ctx.Int("count")
			}
			minChars := block.MinChars
			if ctx.Int("min-chars") >= 0 {
				minChars = ctx.Int("min-chars")
			}

			for n := 0; ctx.Int("pages") == 0 || n < ctx.Int("pages"); n++ {
				page, err := rt.page(ctx, block, count, minChars, ctx.Bool("html"))
				if err != nil {
					return err
				}
				if err := printPage(os.Stdout, ctx.String("format"), page); err != nil {
					return err
				}
				if page.End {
					break
				}
			}
			return nil
		},
	}
}

func printPage(w io.Writer, format string, page models.FeedResponse) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(page)
	case "json":
		enc := json.NewEncoder(w)
		for _, item := range page.Items {
			if err := enc.Encode(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
