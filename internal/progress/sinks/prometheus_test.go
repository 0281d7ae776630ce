package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cmdgate/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{
			RequestID: progress.UUIDToBytes(uuid.New()),
			TS:        time.Now(),
			Stage:     progress.StageRequestDone,
			Method:    "GET",
			Command:   "play",
			Status:    200,
			Delivered: 2,
			Dur:       3 * time.Millisecond,
		},
		{
			RequestID: progress.UUIDToBytes(uuid.New()),
			TS:        time.Now(),
			Stage:     progress.StageRequestRejected,
			Method:    "GET",
			Command:   "stop",
			Status:    405,
			Dur:       time.Millisecond,
		},
		{
			RequestID: progress.UUIDToBytes(uuid.New()),
			TS:        time.Now(),
			Stage:     progress.StageRequestAbandoned,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.requests.WithLabelValues("200", "GET")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.requests.WithLabelValues("405", "GET")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.requests.WithLabelValues("none", "unknown")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.dispatched.WithLabelValues("play")), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.duration, "cmdgate_request_duration_seconds"))
}

// TestPrometheusSinkFoldsUnknownMethods keeps malformed client methods out of label values.
func TestPrometheusSinkFoldsUnknownMethods(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{RequestID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRequestRejected, Method: "\xff", Status: 400},
		{RequestID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRequestRejected, Method: "BREW", Status: 405},
		{RequestID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRequestDone, Method: "HEAD", Status: 200},
	}

	require.NotPanics(t, func() {
		require.NoError(t, sink.Consume(context.Background(), batch))
	})
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.requests.WithLabelValues("400", "other")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.requests.WithLabelValues("405", "other")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.requests.WithLabelValues("200", "HEAD")), 1e-9)
	require.Equal(t, 3, testutil.CollectAndCount(sink.requests, "cmdgate_requests_total"))
}

// TestPrometheusSinkRejectsDuplicateRegistration verifies collector conflicts surface as errors.
func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
