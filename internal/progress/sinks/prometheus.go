package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/cmdgate/internal/progress"
)

// PrometheusSink exports per-request metrics derived from progress events.
type PrometheusSink struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	dispatched *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmdgate_requests_total",
			Help: "Command requests partitioned by response status and method.",
		}, []string{"status", "method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cmdgate_request_duration_seconds",
			Help:    "Time from accept to close partitioned by response status.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"status"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmdgate_commands_dispatched_total",
			Help: "Subscriber invocations partitioned by command name.",
		}, []string{"command"}),
	}
	for _, collector := range []prometheus.Collector{s.requests, s.duration, s.dispatched} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register request collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		status := progress.StatusLabel(evt.Status)
		s.requests.WithLabelValues(status, methodLabel(evt.Method)).Inc()
		if evt.Dur > 0 {
			s.duration.WithLabelValues(status).Observe(evt.Dur.Seconds())
		}
		if evt.Delivered > 0 && evt.Command != "" {
			s.dispatched.WithLabelValues(evt.Command).Add(float64(evt.Delivered))
		}
	}
	return nil
}

// methodLabel folds client-supplied methods into a fixed label set.
func methodLabel(method string) string {
	switch method {
	case "GET", "HEAD":
		return method
	case "":
		return "unknown"
	default:
		return "other"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
