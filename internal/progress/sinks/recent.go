package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/cmdgate/internal/progress"
)

const defaultRecentSize = 100

// RecentSink keeps the last N events in memory for the admin API.
type RecentSink struct {
	mu    sync.RWMutex
	ring  []progress.Event
	next  int
	count int
}

// NewRecentSink returns a sink retaining up to size events.
func NewRecentSink(size int) *RecentSink {
	if size <= 0 {
		size = defaultRecentSize
	}
	return &RecentSink{ring: make([]progress.Event, size)}
}

// Consume appends the batch, overwriting the oldest events.
func (s *RecentSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.ring[s.next] = evt
		s.next = (s.next + 1) % len(s.ring)
		if s.count < len(s.ring) {
			s.count++
		}
	}
	return nil
}

// Events returns retained events, newest first.
func (s *RecentSink) Events() []progress.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]progress.Event, 0, s.count)
	for i := 1; i <= s.count; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *RecentSink) Close(context.Context) error {
	return nil
}
