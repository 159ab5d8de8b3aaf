package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"nostrfeed/db"
)

func statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show custom domain statistics",
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of domains to list",
				Value: 20,
			},
		},
		Action: func(ctx *cli.Context) error {
			tracker, err := db.NewDomainTracker(ctx.String("database"))
			if err != nil {
				return err
			}
			defer tracker.Close()

			stats, err := tracker.GetStats(ctx.Context)
			if err != nil {
				return err
			}
			domains, err := tracker.GetTopDomains(ctx.Context, ctx.Int("limit"))
			if err != nil {
				return err
			}

			fmt.Println(headerStyle.Render("Custom domains"))
			fmt.Printf("%d domains, %d requests, %d active in the last 24h\n\n",
				stats.TotalDomains, stats.TotalRequests, stats.ActiveDomains24h)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tREQUESTS\tLAST SEEN\tTARGET")
			for _, d := range domains {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", d.Domain, d.RequestCount, d.LastSeen.Format(time.DateTime), d.TargetSubdomain)
			}
			return w.Flush()
		},
	}
}
