package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/cmdgate/internal/progress"
)

// LogSink emits one structured log line per request event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Rejected and
// abandoned requests are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("request_id", evt.RequestUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("method", evt.Method),
			zap.String("command", evt.Command),
			zap.Int("status", evt.Status),
			zap.Int("delivered", evt.Delivered),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageRequestDone {
			s.logger.Info("request", fields...)
			continue
		}
		s.logger.Warn("request", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
