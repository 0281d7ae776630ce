package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/cmdgate/internal/progress"
)

func TestRecentSinkKeepsNewestFirst(t *testing.T) {
	t.Parallel()

	sink := NewRecentSink(2)
	require.Empty(t, sink.Events())

	batch := []progress.Event{
		{Command: "a", TS: time.Unix(1, 0)},
		{Command: "b", TS: time.Unix(2, 0)},
		{Command: "c", TS: time.Unix(3, 0)},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	events := sink.Events()
	require.Len(t, events, 2)
	require.Equal(t, "c", events[0].Command)
	require.Equal(t, "b", events[1].Command)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Stage: progress.StageRequestDone, Method: "GET", Status: 200},
		{Stage: progress.StageRequestAbandoned, Note: "read timeout"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "read timeout", entries[1].ContextMap()["note"])
}
