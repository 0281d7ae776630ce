// Package sqlite provides a SQLite-backed archive index.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/cmdgate/internal/archive"
)

const schema = `
CREATE TABLE IF NOT EXISTS URLs (
	url          TEXT PRIMARY KEY,
	datesCrawled TEXT NOT NULL,
	crawlIDs     TEXT
);
CREATE TABLE IF NOT EXISTS Crawls (
	shortName TEXT PRIMARY KEY,
	crawlName TEXT,
	startDate TEXT,
	endDate   TEXT
);`

// Store reads the URLs and Crawls tables of an archive index file.
type Store struct {
	db *sql.DB
}

var _ archive.Store = (*Store)(nil)

// Open opens (creating if needed) the index at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// URLCrawls implements archive.Store.
func (s *Store) URLCrawls(ctx context.Context, url string) (string, string, error) {
	var dates string
	var ids sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT datesCrawled, crawlIDs FROM URLs WHERE url = ?", url).Scan(&dates, &ids)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: url %s", archive.ErrNotFound, url)
	}
	if err != nil {
		return "", "", fmt.Errorf("query url %s: %w", url, err)
	}
	return dates, ids.String, nil
}

// Crawl implements archive.Store.
func (s *Store) Crawl(ctx context.Context, shortName string) (archive.Crawl, error) {
	var name, start, end sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT crawlName, startDate, endDate FROM Crawls WHERE shortName = ?", shortName,
	).Scan(&name, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Crawl{}, fmt.Errorf("%w: crawl %s", archive.ErrNotFound, shortName)
	}
	if err != nil {
		return archive.Crawl{}, fmt.Errorf("query crawl %s: %w", shortName, err)
	}
	crawl := archive.Crawl{ShortName: shortName, FullName: name.String}
	if crawl.Start, err = optionalDate(start.String); err != nil {
		return archive.Crawl{}, err
	}
	if crawl.End, err = optionalDate(end.String); err != nil {
		return archive.Crawl{}, err
	}
	return crawl, nil
}

// PutURL inserts or replaces the crawl history of url.
func (s *Store) PutURL(ctx context.Context, url, datesCrawled, crawlIDs string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO URLs (url, datesCrawled, crawlIDs) VALUES (?, ?, ?)",
		url, datesCrawled, crawlIDs,
	)
	if err != nil {
		return fmt.Errorf("put url %s: %w", url, err)
	}
	return nil
}

// PutCrawl inserts or replaces a crawl description.
func (s *Store) PutCrawl(ctx context.Context, c archive.Crawl) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO Crawls (shortName, crawlName, startDate, endDate) VALUES (?, ?, ?, ?)",
		c.ShortName, c.FullName, formatOptional(c.Start), formatOptional(c.End),
	)
	if err != nil {
		return fmt.Errorf("put crawl %s: %w", c.ShortName, err)
	}
	return nil
}
