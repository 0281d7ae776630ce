package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cmdgate/internal/archive"
	sqlitestore "github.com/JakeFAU/cmdgate/internal/storage/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedIndex(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	store, err := sqlitestore.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.PutURL(ctx, "http://example.com/", "2011-10-02 15:23:40; 2012-04-23 23:45:02", "c1;c2"))
	require.NoError(t, store.PutCrawl(ctx, archive.Crawl{ShortName: "c1", FullName: "crawl-2011-10"}))
	require.NoError(t, store.PutCrawl(ctx, archive.Crawl{ShortName: "c2", FullName: "crawl-2012-04"}))
	require.NoError(t, store.Close())
	return path
}

func TestLookupPrintsClosestCapture(t *testing.T) {
	path := seedIndex(t)

	out, err := execute(t, "lookup", "--dsn", path, "http://example.com/", "2012-05-01 00:00:00")
	require.NoError(t, err)
	require.Equal(t, "<http://example.com/: crawl-2012-04 at 2012-04-23 23:45:02>\n", out)

	out, err = execute(t, "lookup", "--driver", "sqlite", "--dsn", path, "http://example.com/", "20100101000000")
	require.NoError(t, err)
	require.Contains(t, out, "crawl-2011-10")
}

func TestLookupErrors(t *testing.T) {
	path := seedIndex(t)

	_, err := execute(t, "lookup", "--dsn", path, "http://missing.example/", "20100101000000")
	require.ErrorIs(t, err, archive.ErrNotFound)

	_, err = execute(t, "lookup", "--dsn", path, "http://example.com/", "yesterday")
	require.ErrorIs(t, err, archive.ErrBadRequest)

	_, err = execute(t, "lookup", "http://example.com/", "20100101000000")
	require.ErrorContains(t, err, "dsn is required")

	_, err = execute(t, "lookup", "only-one-arg")
	require.Error(t, err)
}

func TestServeRejectsBadConfig(t *testing.T) {
	_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestRootHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	require.Contains(t, out, "serve")
	require.Contains(t, out, "lookup")
}
