package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cmdgate/internal/archive"
)

func newMockStore(t *testing.T) (*ArchiveStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewArchiveStoreWithPool(mock)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store, mock
}

func TestURLCrawls(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(urlCrawlsQuery)).
		WithArgs("http://example.com/").
		WillReturnRows(pgxmock.NewRows([]string{"datesCrawled", "crawlIDs"}).
			AddRow("2011-10-02 15:23:40;2012-04-23 23:45:02", "c1;c2"))

	dates, ids, err := store.URLCrawls(context.Background(), "http://example.com/")
	require.NoError(t, err)
	require.Equal(t, "2011-10-02 15:23:40;2012-04-23 23:45:02", dates)
	require.Equal(t, "c1;c2", ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestURLCrawlsNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(urlCrawlsQuery)).
		WithArgs("http://missing.example/").
		WillReturnError(pgx.ErrNoRows)

	_, _, err := store.URLCrawls(context.Background(), "http://missing.example/")
	require.ErrorIs(t, err, archive.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCrawl(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(crawlQuery)).
		WithArgs("c2").
		WillReturnRows(pgxmock.NewRows([]string{"crawlName", "startDate", "endDate"}).
			AddRow("crawl-2012-04", "2012-04-01 00:00:00", ""))

	crawl, err := store.Crawl(context.Background(), "c2")
	require.NoError(t, err)
	require.Equal(t, "crawl-2012-04", crawl.FullName)
	require.Equal(t, time.Date(2012, 4, 1, 0, 0, 0, 0, time.UTC), crawl.Start)
	require.True(t, crawl.End.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCrawlQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(crawlQuery)).
		WithArgs("c9").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Crawl(context.Background(), "c9")
	require.ErrorContains(t, err, "connection reset")
	require.NotErrorIs(t, err, archive.ErrNotFound)
}

func TestNewArchiveStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewArchiveStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewArchiveStore(context.Background(), Config{DSN: "postgres://user@localhost:notaport/db"})
	require.Error(t, err)
	_, err = NewArchiveStoreWithPool(nil)
	require.Error(t, err)
}
