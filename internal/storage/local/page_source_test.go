package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Path: "  "})
	require.Error(t, err)
}

func TestLoadJoinsLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(path, []byte("<html>\r\n<body>hi</body>\n</html>\n"), 0o600))

	src, err := New(Config{Path: path})
	require.NoError(t, err)
	require.Equal(t, path, src.Path())

	got, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "<html><body>hi</body></html>", got)
}

func TestLoadMissingFileNamesPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.html")
	src, err := New(Config{Path: path})
	require.NoError(t, err)

	_, err = src.Load(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
	require.ErrorContains(t, err, path)
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.html")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	src, err := New(Config{Path: path})
	require.NoError(t, err)

	got, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}
