package sqlite

import (
	"time"

	"github.com/JakeFAU/cmdgate/internal/archive"
)

func optionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return archive.ParseDate(s)
}

func formatOptional(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(archive.DateLayout)
}
