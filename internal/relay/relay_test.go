package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cmdgate/internal/command"
	"github.com/JakeFAU/cmdgate/internal/policy/ratelimit"
	"github.com/JakeFAU/cmdgate/internal/publisher/memory"
	"github.com/JakeFAU/cmdgate/internal/registry"
)

var fixed = time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

func TestHandleCommandPublishesJSON(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sub := New(pub, zap.NewNop(), WithClock(func() time.Time { return fixed }))

	cmd, err := command.New("play", "file=a.mp3", "volume=7")
	require.NoError(t, err)
	require.NoError(t, sub.HandleCommand(context.Background(), cmd))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "play", msgs[0].Subject)
	require.JSONEq(t,
		`{"command":"play","params":{"file":"a.mp3","volume":"7"},"received_at":"2024-03-09T14:05:06Z"}`,
		string(msgs[0].Data))
}

func TestHandleCommandWrapsPublishErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	boom := errors.New("unavailable")
	pub.FailWith(boom)
	sub := New(pub, nil)

	cmd, err := command.New("stop")
	require.NoError(t, err)
	err = sub.HandleCommand(context.Background(), cmd)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, `relay "stop"`)
}

func TestRelayThroughRegistry(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	reg := registry.New(zap.NewNop())
	sub := New(pub, nil)
	for _, name := range []string{"play", "pause"} {
		reg.Subscribe(name, sub)
	}

	for _, name := range []string{"play", "pause", "eject"} {
		cmd, err := command.New(name)
		require.NoError(t, err)
		reg.Fire(context.Background(), cmd)
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "play", msgs[0].Subject)
	require.Equal(t, "pause", msgs[1].Subject)
	require.Contains(t, string(msgs[1].Data), `"params":{}`)
}

func TestLimiterDropsBursts(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 0.001, DefaultBurst: 1})
	sub := New(pub, nil, WithLimiter(limiter))

	play, err := command.New("play")
	require.NoError(t, err)
	stop, err := command.New("stop")
	require.NoError(t, err)

	require.NoError(t, sub.HandleCommand(context.Background(), play))
	require.ErrorIs(t, sub.HandleCommand(context.Background(), play), ErrThrottled)
	require.NoError(t, sub.HandleCommand(context.Background(), stop))
	require.Len(t, pub.Messages(), 2)
}
