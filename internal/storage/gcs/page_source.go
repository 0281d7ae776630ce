// Package gcs reads the static page from Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

const maxPageBytes = 4 << 20

// Config captures the object holding the page.
type Config struct {
	// URI has the form gs://bucket/object.
	URI string
}

// ObjectOpener opens an object for reading. *storage.Client satisfies it
// through ClientOpener.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// ClientOpener adapts *storage.Client to ObjectOpener.
type ClientOpener struct {
	Client *storage.Client
}

// Open implements ObjectOpener.
func (c ClientOpener) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := c.Client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return r, nil
}

// PageSource loads page content from a GCS object.
type PageSource struct {
	opener ObjectOpener
	bucket string
	object string
}

// New creates a GCS-backed page source.
func New(opener ObjectOpener, cfg Config) (*PageSource, error) {
	if opener == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	bucket, object, err := ParseURI(cfg.URI)
	if err != nil {
		return nil, err
	}
	return &PageSource{opener: opener, bucket: bucket, object: object}, nil
}

// NewFromClient is New over a real storage client.
func NewFromClient(client *storage.Client, cfg Config) (*PageSource, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return New(ClientOpener{Client: client}, cfg)
}

// Load downloads the object. Objects over 4MiB are rejected.
func (s *PageSource) Load(ctx context.Context) (string, error) {
	r, err := s.opener.Open(ctx, s.bucket, s.object)
	if err != nil {
		return "", fmt.Errorf("read gs://%s/%s: %w", s.bucket, s.object, err)
	}
	defer r.Close() //nolint:errcheck // read-only

	data, err := io.ReadAll(io.LimitReader(r, maxPageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read gs://%s/%s: %w", s.bucket, s.object, err)
	}
	if len(data) > maxPageBytes {
		return "", fmt.Errorf("gs://%s/%s exceeds %d bytes", s.bucket, s.object, maxPageBytes)
	}
	return string(data), nil
}

// IsURI reports whether s looks like a gs:// location.
func IsURI(s string) bool {
	return strings.HasPrefix(s, "gs://")
}

// ParseURI splits gs://bucket/object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("invalid gcs uri %q: missing gs:// prefix", uri)
	}
	rest := strings.TrimPrefix(uri, "gs://")
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid gcs uri %q: want gs://bucket/object", uri)
	}
	return bucket, object, nil
}
