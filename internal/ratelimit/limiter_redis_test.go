package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestLimiterAgainstRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := Dial(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l, err := New(client, Config{Window: 30 * time.Second, MaxRequests: 3, Prefix: "api"})
	require.NoError(t, err)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := range 3 {
		l.now = func() time.Time { return start.Add(time.Duration(i) * time.Second) }
		res, err := l.Check(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, 2-i, res.Remaining)
	}

	members, err := mr.ZMembers("api:10.0.0.1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	require.Equal(t, 30*time.Second, mr.TTL("api:10.0.0.1"))

	l.now = func() time.Time { return start.Add(5 * time.Second) }
	res, err := l.Check(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 25*time.Second, res.Reset)

	l.now = func() time.Time { return start.Add(31 * time.Second) }
	res, err = l.Check(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestDialFailsWhenRedisIsDown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Dial(context.Background(), addr, "", 0)
	require.ErrorContains(t, err, "redis ping failed")

	_, err = Dial(context.Background(), "", "", 0)
	require.Error(t, err)
}
