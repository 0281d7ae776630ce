// Package page holds the static HTML page returned for the empty command and
// after every dispatched GET.
package page

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Default is served until a page is configured.
const Default = "<html><body><h2>cmdgate</h2>\nCommand server ready.\n</body></html>"

// Source produces page content, for example from a file or an object store.
type Source interface {
	Load(ctx context.Context) (string, error)
}

// String is a Source returning fixed content.
type String string

// Load implements Source.
func (s String) Load(context.Context) (string, error) {
	return string(s), nil
}

// Page is the current static page. Readers never observe a partial update.
type Page struct {
	content atomic.Pointer[string]
}

// New returns a Page holding content.
func New(content string) *Page {
	p := &Page{}
	p.Set(content)
	return p
}

// Set replaces the page content.
func (p *Page) Set(content string) {
	p.content.Store(&content)
}

// Load returns the current content.
func (p *Page) Load() string {
	if s := p.content.Load(); s != nil {
		return *s
	}
	return ""
}

// LoadFrom reads src and installs the result. The current page is kept when
// src fails.
func (p *Page) LoadFrom(ctx context.Context, src Source) error {
	content, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load static page: %w", err)
	}
	p.Set(content)
	return nil
}
