// Package db tracks the custom domains pages are served on
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Domains unseen for longer than this are removed by Tidy
const DomainRetention = 90 * 24 * time.Hour

// DomainRecord is a domain that served a page
type DomainRecord struct {
	Domain          string    `json:"domain" yaml:"domain"`
	FirstSeen       time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen        time.Time `json:"last_seen" yaml:"last_seen"`
	RequestCount    int       `json:"request_count" yaml:"request_count"`
	TargetSubdomain string    `json:"target_subdomain" yaml:"target_subdomain"`
}

// DomainStats summarizes the domain table
type DomainStats struct {
	TotalDomains     int `json:"total_domains" yaml:"total_domains"`
	TotalRequests    int `json:"total_requests" yaml:"total_requests"`
	ActiveDomains24h int `json:"active_domains_24h" yaml:"active_domains_24h"`
}

type DomainTracker struct {
	db  *sql.DB
	now func() time.Time
}

// NewDomainTracker opens the database. Run Migrate on it first.
func NewDomainTracker(database string) (*DomainTracker, error) {
	db, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &DomainTracker{db: db, now: time.Now}, nil
}

// RecordDomain counts a request for domain, pointing at targetSubdomain
func (dt *DomainTracker) RecordDomain(ctx context.Context, domain, targetSubdomain string) error {
	now := dt.now().Unix()

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("domains").
		Cols("domain", "first_seen", "last_seen", "request_count", "target_subdomain").
		Values(domain, now, now, 1, targetSubdomain)
	ib.SQL("ON CONFLICT(domain) DO UPDATE SET last_seen = excluded.last_seen, " +
		"request_count = domains.request_count + 1, target_subdomain = excluded.target_subdomain")
	query, args := ib.Build()

	if _, err := dt.db.ExecContext(ctx, query, args...); err != nil {
		log.WithFields(log.Fields{
			"domain": domain,
			"error":  err,
		}).Error("Failed to record domain")
		return err
	}

	log.WithFields(log.Fields{
		"domain": domain,
		"target": targetSubdomain,
	}).Debug("Recorded domain access")
	return nil
}

func (dt *DomainTracker) GetStats(ctx context.Context) (DomainStats, error) {
	var stats DomainStats

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COUNT(*)", "COALESCE(SUM(request_count), 0)").From("domains")
	query, args := sb.Build()
	if err := dt.db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalDomains, &stats.TotalRequests); err != nil {
		return stats, fmt.Errorf("failed to count domains: %w", err)
	}

	active := sqlbuilder.SQLite.NewSelectBuilder()
	active.Select("COUNT(*)").From("domains").
		Where(active.GreaterThan("last_seen", dt.now().Add(-24*time.Hour).Unix()))
	query, args = active.Build()
	if err := dt.db.QueryRowContext(ctx, query, args...).Scan(&stats.ActiveDomains24h); err != nil {
		return stats, fmt.Errorf("failed to count active domains: %w", err)
	}

	return stats, nil
}

// GetTopDomains returns the domains with the most requests
func (dt *DomainTracker) GetTopDomains(ctx context.Context, limit int) ([]DomainRecord, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("domain", "first_seen", "last_seen", "request_count", "target_subdomain").
		From("domains").
		OrderBy("request_count DESC", "last_seen DESC").
		Limit(limit)
	query, args := sb.Build()

	rows, err := dt.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	domains := make([]DomainRecord, 0)
	for rows.Next() {
		var d DomainRecord
		var firstSeen, lastSeen int64
		if err := rows.Scan(&d.Domain, &firstSeen, &lastSeen, &d.RequestCount, &d.TargetSubdomain); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		d.FirstSeen = time.Unix(firstSeen, 0).UTC()
		d.LastSeen = time.Unix(lastSeen, 0).UTC()
		domains = append(domains, d)
	}

	return domains, rows.Err()
}

func (dt *DomainTracker) Close() error {
	return dt.db.Close()
}
