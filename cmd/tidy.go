package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"nostrfeed/db"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing custom domains that have not been seen
		for 90 days.`,
		Flags: []cli.Flag{databaseFlag()},
		Action: func(ctx *cli.Context) error {
			removed, err := db.Tidy(ctx.String("database"))
			if err != nil {
				return err
			}
			log.WithField("removed", removed).Info("Tidied database")
			return nil
		},
	}
}
