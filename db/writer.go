package db

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Visit is a page request seen on a custom domain
type Visit struct {
	Domain          string
	TargetSubdomain string
}

// Writer records visits off the request path and tidies the table periodically
type Writer struct {
	tracker  *DomainTracker
	visits   chan Visit
	tidyChan *time.Ticker
}

func NewWriter(tracker *DomainTracker, buffer int) *Writer {
	return &Writer{
		tracker: tracker,
		visits:  make(chan Visit, buffer),
		// Tidy once an hour
		tidyChan: time.NewTicker(time.Hour),
	}
}

// Record queues a visit. Visits are dropped when the queue is full.
func (writer *Writer) Record(visit Visit) bool {
	select {
	case writer.visits <- visit:
		return true
	default:
		log.WithField("domain", visit.Domain).Warn("Visit queue full, dropping visit")
		return false
	}
}

// Subscribe writes queued visits until ctx is done
func (writer *Writer) Subscribe(ctx context.Context) {
	defer writer.tidyChan.Stop()

	if _, err := writer.tracker.Tidy(ctx); err != nil {
		log.WithError(err).Error("Error tidying database")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-writer.tidyChan.C:
			if _, err := writer.tracker.Tidy(ctx); err != nil {
				log.WithError(err).Error("Error tidying database")
			}
		case visit := <-writer.visits:
			if err := writer.tracker.RecordDomain(ctx, visit.Domain, visit.TargetSubdomain); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"domain":    visit.Domain,
					"subdomain": visit.TargetSubdomain,
				}).Error("Error recording domain visit")
			}
		}
	}
}
