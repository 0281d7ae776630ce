// Package postgres provides a Postgres-backed archive index.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/cmdgate/internal/archive"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

const (
	urlCrawlsQuery = `SELECT datesCrawled, COALESCE(crawlIDs, '') FROM URLs WHERE url = $1`
	crawlQuery     = `SELECT COALESCE(crawlName, ''), COALESCE(startDate, ''), COALESCE(endDate, '') ` +
		`FROM Crawls WHERE shortName = $1`
)

type queryCloser interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ArchiveStore reads the URLs and Crawls tables from Postgres.
type ArchiveStore struct {
	pool queryCloser
}

var _ archive.Store = (*ArchiveStore)(nil)

// NewArchiveStore connects a pool using cfg.
func NewArchiveStore(ctx context.Context, cfg Config) (*ArchiveStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArchiveStore{pool: pool}, nil
}

// NewArchiveStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArchiveStoreWithPool(pool queryCloser) (*ArchiveStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ArchiveStore{pool: pool}, nil
}

// URLCrawls implements archive.Store.
func (s *ArchiveStore) URLCrawls(ctx context.Context, url string) (string, string, error) {
	var dates, ids string
	err := s.pool.QueryRow(ctx, urlCrawlsQuery, url).Scan(&dates, &ids)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", fmt.Errorf("%w: url %s", archive.ErrNotFound, url)
	}
	if err != nil {
		return "", "", fmt.Errorf("query url %s: %w", url, err)
	}
	return dates, ids, nil
}

// Crawl implements archive.Store.
func (s *ArchiveStore) Crawl(ctx context.Context, shortName string) (archive.Crawl, error) {
	var name, start, end string
	err := s.pool.QueryRow(ctx, crawlQuery, shortName).Scan(&name, &start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Crawl{}, fmt.Errorf("%w: crawl %s", archive.ErrNotFound, shortName)
	}
	if err != nil {
		return archive.Crawl{}, fmt.Errorf("query crawl %s: %w", shortName, err)
	}
	crawl := archive.Crawl{ShortName: shortName, FullName: name}
	if start != "" {
		if crawl.Start, err = archive.ParseDate(start); err != nil {
			return archive.Crawl{}, err
		}
	}
	if end != "" {
		if crawl.End, err = archive.ParseDate(end); err != nil {
			return archive.Crawl{}, err
		}
	}
	return crawl, nil
}

// Close releases pool resources.
func (s *ArchiveStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
