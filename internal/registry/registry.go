// Package registry maps command names to subscribers and fires commands at
// them synchronously on the caller's goroutine.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/cmdgate/internal/command"
	"github.com/JakeFAU/cmdgate/internal/metrics"
)

// Subscriber handles commands fired under the name it subscribed to.
type Subscriber interface {
	HandleCommand(ctx context.Context, cmd *command.Command) error
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(ctx context.Context, cmd *command.Command) error

// HandleCommand calls f.
func (f SubscriberFunc) HandleCommand(ctx context.Context, cmd *command.Command) error {
	return f(ctx, cmd)
}

// Subscription identifies one Subscribe call and is the handle used to undo it.
type Subscription struct {
	ID   uuid.UUID
	Name string
}

type entry struct {
	sub        Subscription
	subscriber Subscriber
}

// table is immutable once published; writers build a new one.
type table map[string][]entry

// Registry is safe for concurrent use. Fire reads a snapshot of the table
// and never blocks on Subscribe or Unsubscribe.
type Registry struct {
	mu     sync.Mutex
	table  atomic.Pointer[table]
	logger *zap.Logger
}

// New returns an empty Registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{logger: logger}
	r.table.Store(&table{})
	return r
}

// Subscribe registers s under name. The same subscriber may be registered
// several times and is then invoked once per registration.
func (r *Registry) Subscribe(name string, s Subscriber) Subscription {
	sub := Subscription{ID: uuid.New(), Name: name}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.snapshot().clone()
	entries := make([]entry, 0, len(next[name])+1)
	entries = append(entries, next[name]...)
	next[name] = append(entries, entry{sub: sub, subscriber: s})
	r.table.Store(&next)
	r.logger.Debug("subscriber added", zap.String("command", name), zap.Stringer("subscription", sub.ID))
	return sub
}

// Unsubscribe removes one registration. It reports whether it was found.
func (r *Registry) Unsubscribe(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	entries := cur[sub.Name]
	for i, e := range entries {
		if e.sub.ID != sub.ID {
			continue
		}
		next := cur.clone()
		rest := make([]entry, 0, len(entries)-1)
		rest = append(rest, entries[:i]...)
		rest = append(rest, entries[i+1:]...)
		if len(rest) == 0 {
			delete(next, sub.Name)
		} else {
			next[sub.Name] = rest
		}
		r.table.Store(&next)
		return true
	}
	return false
}

// UnsubscribeAll removes s from every command name and returns how many
// registrations were dropped. s must be comparable, such as a pointer.
func (r *Registry) UnsubscribeAll(s Subscriber) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	next := make(table, len(cur))
	removed := 0
	for name, entries := range cur {
		kept := make([]entry, 0, len(entries))
		for _, e := range entries {
			if sameSubscriber(e.subscriber, s) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) > 0 {
			next[name] = kept
		}
	}
	if removed > 0 {
		r.table.Store(&next)
	}
	return removed
}

// HasSubscribers reports whether anyone listens to name.
func (r *Registry) HasSubscribers(name string) bool {
	return len(r.snapshot()[name]) > 0
}

// Count returns the number of registrations under name.
func (r *Registry) Count(name string) int {
	return len(r.snapshot()[name])
}

// Names returns the subscribed command names, sorted.
func (r *Registry) Names() []string {
	cur := r.snapshot()
	names := make([]string, 0, len(cur))
	for name := range cur {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fire invokes every subscriber registered under cmd's name in registration
// order and returns how many were invoked. Each subscriber gets its own copy
// of cmd. Errors and panics are logged and never stop the remaining
// subscribers. Firing a name nobody subscribed to is a no-op.
func (r *Registry) Fire(ctx context.Context, cmd *command.Command) int {
	if cmd == nil {
		return 0
	}
	entries := r.snapshot()[cmd.Name()]
	for _, e := range entries {
		if err := r.invoke(ctx, e, cmd.Clone()); err != nil {
			metrics.ObserveSubscriberFailure(cmd.Name())
			r.logger.Warn("subscriber failed",
				zap.String("command", cmd.Name()),
				zap.Stringer("subscription", e.sub.ID),
				zap.Error(err),
			)
		}
	}
	return len(entries)
}

func (r *Registry) invoke(ctx context.Context, e entry, cmd *command.Command) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("subscriber panic: %v", rec)
		}
	}()
	return e.subscriber.HandleCommand(ctx, cmd)
}

func (r *Registry) snapshot() table {
	return *r.table.Load()
}

func (t table) clone() table {
	out := make(table, len(t)+1)
	for name, entries := range t {
		out[name] = entries
	}
	return out
}

// sameSubscriber compares without panicking on uncomparable dynamic types
// such as SubscriberFunc.
func sameSubscriber(a, b Subscriber) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
