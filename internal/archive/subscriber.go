package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cmdgate/internal/command"
)

// Parameter names understood by Subscriber.
const (
	ParamURL  = "url"
	ParamDate = "date"
)

// Accepted layouts for the date parameter. Query strings are not decoded, so
// both forms avoid spaces.
var dateParamLayouts = []string{"2006-01-02T15:04:05", "20060102150405"}

// ErrBadRequest reports missing or unparsable command parameters.
var ErrBadRequest = errors.New("archive: bad lookup request")

// Lookup records one handled command.
type Lookup struct {
	URL       string    `json:"url"`
	Reference time.Time `json:"reference"`
	Captured  time.Time `json:"captured,omitempty"`
	CrawlID   string    `json:"crawl_id,omitempty"`
	CrawlName string    `json:"crawl_name,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Subscriber resolves lookup commands such as
// /lookup?url=http://example.com/&date=20120101120000.
type Subscriber struct {
	index  *Index
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	recent []Lookup
	limit  int
}

// NewSubscriber returns a Subscriber remembering up to limit lookups.
func NewSubscriber(index *Index, limit int, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 50
	}
	return &Subscriber{index: index, logger: logger, limit: limit, now: func() time.Time { return time.Now().UTC() }}
}

// HandleCommand looks up the capture closest to the date parameter.
func (s *Subscriber) HandleCommand(ctx context.Context, cmd *command.Command) error {
	url, ok := cmd.Get(ParamURL)
	if !ok || url == "" {
		return s.fail(Lookup{}, fmt.Errorf("%w: missing %q", ErrBadRequest, ParamURL))
	}
	rawDate, ok := cmd.Get(ParamDate)
	if !ok {
		return s.fail(Lookup{URL: url}, fmt.Errorf("%w: missing %q", ErrBadRequest, ParamDate))
	}
	ref, err := ParseDateParam(rawDate)
	if err != nil {
		return s.fail(Lookup{URL: url}, err)
	}

	entry := Lookup{URL: url, Reference: ref}
	res, err := s.index.Closest(ctx, url, ref)
	if err != nil {
		return s.fail(entry, fmt.Errorf("lookup %s: %w", url, err))
	}
	entry.Captured, entry.CrawlID, entry.CrawlName = res.Captured, res.CrawlID, res.CrawlName
	s.remember(entry)
	s.logger.Info("archive lookup",
		zap.String("url", url),
		zap.Time("reference", ref),
		zap.Time("captured", res.Captured),
		zap.String("crawl", res.CrawlName),
	)
	return nil
}

// Recent returns remembered lookups, newest first.
func (s *Subscriber) Recent() []Lookup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Lookup, len(s.recent))
	for i, l := range s.recent {
		out[len(s.recent)-1-i] = l
	}
	return out
}

func (s *Subscriber) fail(entry Lookup, err error) error {
	entry.Error = err.Error()
	s.remember(entry)
	return err
}

func (s *Subscriber) remember(entry Lookup) {
	entry.At = s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recent) == s.limit {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, entry)
}

// ParseDateParam parses the date command parameter as UTC.
func ParseDateParam(s string) (time.Time, error) {
	for _, layout := range dateParamLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q must look like %s or %s", ErrBadRequest, s, dateParamLayouts[0], dateParamLayouts[1])
}
