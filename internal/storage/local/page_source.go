// Package local reads the static page from the local filesystem.
package local

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Config captures the parameters for a file-backed page.
type Config struct {
	// Path is the HTML file to serve.
	Path string `mapstructure:"path" yaml:"path"`
}

// PageSource loads page content from a file.
type PageSource struct {
	path string
}

// New validates cfg and returns a PageSource. The file itself is read on Load.
func New(cfg Config) (*PageSource, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("page path is required")
	}
	return &PageSource{path: cfg.Path}, nil
}

// Path returns the configured file path.
func (s *PageSource) Path() string {
	return s.path
}

// Load reads the file line by line and joins the lines without their
// terminators.
func (s *PageSource) Load(ctx context.Context) (string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("open page %s: %w", s.path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("read page %s: %w", s.path, err)
		}
		b.WriteString(strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read page %s: %w", s.path, err)
	}
	return b.String(), nil
}
