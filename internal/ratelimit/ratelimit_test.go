package ratelimit

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/flowcollab/internal/kv"
)

func newTestLimiter(t *testing.T, tiers map[string]Limits) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := kv.New(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return New(store, tiers)
}

func TestCheckAndConsume_AllowsWithinBudget(t *testing.T) {
	l := newTestLimiter(t, map[string]Limits{"free": {MaxPerHour: 2}})
	ctx := context.Background()

	res, err := l.CheckAndConsume(ctx, "user-1", "conn-1", "free", RequestHour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.CheckAndConsume(ctx, "user-1", "conn-1", "free", RequestHour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckAndConsume_RejectsOverBudget(t *testing.T) {
	l := newTestLimiter(t, map[string]Limits{"free": {MaxPerHour: 1}})
	ctx := context.Background()

	_, err := l.CheckAndConsume(ctx, "user-2", "conn-2", "free", RequestHour)
	require.NoError(t, err)

	res, err := l.CheckAndConsume(ctx, "user-2", "conn-2", "free", RequestHour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.NotEmpty(t, res.Reason)
}

func TestCheckAndConsume_UnlimitedWhenZero(t *testing.T) {
	l := newTestLimiter(t, map[string]Limits{"enterprise": {MaxPerHour: 0}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.CheckAndConsume(ctx, "user-3", "conn-3", "enterprise", RequestHour)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestCheckAndConsume_UnknownTierFallsBackToDefault(t *testing.T) {
	l := newTestLimiter(t, map[string]Limits{})
	ctx := context.Background()

	res, err := l.CheckAndConsume(ctx, "user-4", "conn-4", "nonexistent-tier", RequestHour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckAndConsume_MessageRateIsPerConnection(t *testing.T) {
	l := newTestLimiter(t, map[string]Limits{"free": {MaxMessagesPerSec: 1}})
	ctx := context.Background()

	res, err := l.CheckAndConsume(ctx, "user-6", "conn-a", "free", Message)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.CheckAndConsume(ctx, "user-6", "conn-b", "free", Message)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a second connection from the same user must have its own message budget")

	res, err = l.CheckAndConsume(ctx, "user-6", "conn-a", "free", Message)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "conn-a already spent its budget this window")
}

func TestAcquireAndReleaseConnection(t *testing.T) {
	l := newTestLimiter(t, map[string]Limits{"free": {MaxConnections: 1}})
	ctx := context.Background()

	ok, err := l.AcquireConnection(ctx, "user-5", "free")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.AcquireConnection(ctx, "user-5", "free")
	require.NoError(t, err)
	assert.False(t, ok, "second connection should exceed the cap of 1")

	require.NoError(t, l.ReleaseConnection(ctx, "user-5"))

	ok, err = l.AcquireConnection(ctx, "user-5", "free")
	require.NoError(t, err)
	assert.True(t, ok, "slot should be free again after release")
}
