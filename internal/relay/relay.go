// Package relay forwards dispatched commands to a message topic.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cmdgate/internal/command"
)

// Publisher sends one payload under a subject. Implementations live in
// internal/publisher.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) (string, error)
}

// ErrThrottled reports a command dropped by the rate limit.
var ErrThrottled = errors.New("relay throttled")

// Limiter decides whether a command may be published now.
type Limiter interface {
	Allow(key string) bool
}

// Message is the JSON document published for each command.
type Message struct {
	Command    string            `json:"command"`
	Params     map[string]string `json:"params"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Subscriber publishes every command it handles.
type Subscriber struct {
	pub     Publisher
	limiter Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// Option customizes a Subscriber.
type Option func(*Subscriber)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Subscriber) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLimiter drops commands the limiter refuses, keyed by command name.
func WithLimiter(l Limiter) Option {
	return func(s *Subscriber) { s.limiter = l }
}

// New returns a Subscriber publishing through pub.
func New(pub Publisher, logger *zap.Logger, opts ...Option) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Subscriber{pub: pub, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleCommand publishes cmd with the command name as subject.
func (s *Subscriber) HandleCommand(ctx context.Context, cmd *command.Command) error {
	if s.limiter != nil && !s.limiter.Allow(cmd.Name()) {
		return fmt.Errorf("%w: %q", ErrThrottled, cmd.Name())
	}
	msg := Message{
		Command:    cmd.Name(),
		Params:     cmd.Params(),
		ReceivedAt: s.now(),
	}
	id, err := s.pub.Publish(ctx, cmd.Name(), msg)
	if err != nil {
		return fmt.Errorf("relay %q: %w", cmd.Name(), err)
	}
	s.logger.Debug("command relayed", zap.String("command", cmd.Name()), zap.String("message_id", id))
	return nil
}
