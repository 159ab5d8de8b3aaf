package db

import (
	"context"
	"fmt"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy removes domains that have not been seen for DomainRetention
func Tidy(database string) (int64, error) {
	tracker, err := NewDomainTracker(database)
	if err != nil {
		return 0, err
	}
	defer tracker.Close()

	return tracker.Tidy(context.Background())
}

func (dt *DomainTracker) Tidy(ctx context.Context) (int64, error) {
	cutoff := dt.now().Add(-DomainRetention).Unix()
	deleteDomains := sb.SQLite.NewDeleteBuilder()
	query, args := deleteDomains.DeleteFrom("domains").Where(deleteDomains.LessThan("last_seen", cutoff)).Build()

	res, err := dt.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to tidy domains: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"removed": removed,
		"cutoff":  time.Unix(cutoff, 0).UTC(),
	}).Info("Tidied database")
	return removed, nil
}
