// Package archive answers "which crawl captured this URL closest to a given
// time" from a web archive index, and exposes that lookup as a command
// subscriber.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the timestamp format stored in the index.
const DateLayout = "2006-01-02 15:04:05"

var (
	// ErrNotFound reports a URL or crawl missing from the index.
	ErrNotFound = errors.New("archive: not found")
	// ErrDataFormat reports an index row that cannot be interpreted.
	ErrDataFormat = errors.New("archive: bad index data")
)

// Crawl describes one crawl run.
type Crawl struct {
	ShortName string
	FullName  string
	// Start and End are zero when the index does not record them.
	Start time.Time
	End   time.Time
}

// Store reads raw index rows. URLCrawls returns the ';'-separated crawl dates
// and crawl ids recorded for url, or ErrNotFound.
type Store interface {
	URLCrawls(ctx context.Context, url string) (datesCrawled, crawlIDs string, err error)
	Crawl(ctx context.Context, shortName string) (Crawl, error)
}

// Resource is the capture of a URL closest to a reference time.
type Resource struct {
	URL       string
	Captured  time.Time
	CrawlID   string
	CrawlName string
}

func (r Resource) String() string {
	return "<" + r.URL + ": " + r.CrawlName + " at " + r.Captured.Format(DateLayout) + ">"
}

// Index resolves lookups against a Store.
type Index struct {
	store Store
}

// NewIndex wraps store.
func NewIndex(store Store) *Index {
	return &Index{store: store}
}

// CrawlDates returns every capture time of url in index order.
func (x *Index) CrawlDates(ctx context.Context, url string) ([]time.Time, error) {
	dates, _, err := x.store.URLCrawls(ctx, url)
	if err != nil {
		return nil, err
	}
	return ParseDateChain(dates)
}

// Closest returns the capture of url nearest to ref. Ties go to the earlier
// entry in the index.
func (x *Index) Closest(ctx context.Context, url string, ref time.Time) (Resource, error) {
	datesStr, idsStr, err := x.store.URLCrawls(ctx, url)
	if err != nil {
		return Resource{}, err
	}
	if strings.TrimSpace(datesStr) == "" {
		return Resource{}, fmt.Errorf("%w: no crawl dates for %s", ErrNotFound, url)
	}
	dates, err := ParseDateChain(datesStr)
	if err != nil {
		return Resource{}, err
	}

	best := 0
	bestDist := absDuration(ref.Sub(dates[0]))
	for i, d := range dates[1:] {
		if dist := absDuration(ref.Sub(d)); dist < bestDist {
			best, bestDist = i+1, dist
		}
	}

	ids := splitChain(idsStr)
	if len(ids) < len(dates) {
		return Resource{}, fmt.Errorf("%w: %d crawl ids for %d dates of %s", ErrDataFormat, len(ids), len(dates), url)
	}
	crawl, err := x.store.Crawl(ctx, ids[best])
	if err != nil {
		return Resource{}, err
	}
	if crawl.FullName == "" {
		return Resource{}, fmt.Errorf("%w: empty crawl name for %s", ErrDataFormat, ids[best])
	}
	return Resource{
		URL:       url,
		Captured:  dates[best],
		CrawlID:   ids[best],
		CrawlName: crawl.FullName,
	}, nil
}

// ParseDate parses one index timestamp as UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrDataFormat, err)
	}
	return t, nil
}

// ParseDateChain parses a ';'-separated list of index timestamps.
func ParseDateChain(chain string) ([]time.Time, error) {
	parts := splitChain(chain)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty date chain", ErrDataFormat)
	}
	out := make([]time.Time, 0, len(parts))
	for _, p := range parts {
		t, err := ParseDate(p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func splitChain(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
