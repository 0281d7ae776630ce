package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "play", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "stop", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "play", msgs[0].Subject)
	require.JSONEq(t, `{"k":"v"}`, string(msgs[0].Data))
	require.Equal(t, `"payload"`, string(msgs[1].Data))

	msgs[0].Subject = "modified"
	require.Equal(t, "play", pub.Messages()[0].Subject, "Messages() must return a copy")
	require.NoError(t, pub.Close())
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "x", func() {})
	require.ErrorContains(t, err, "marshal payload")

	boom := errors.New("topic deleted")
	pub.FailWith(boom)
	_, err = pub.Publish(context.Background(), "x", 1)
	require.ErrorIs(t, err, boom)

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "x", 1)
	require.NoError(t, err)
	require.Len(t, pub.Messages(), 1)
}
