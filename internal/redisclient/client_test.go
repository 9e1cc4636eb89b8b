package redisclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"auto-market-engine/internal/jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDelayedQueue(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c, err := NewClient("localhost:6379", "", 15, "engine:jobs:test")
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.GetClient().Del(ctx, "engine:jobs:test").Err())

	now := time.Now()
	due := jobs.New(jobs.KindOfferFulfill, 1, now.Add(-time.Second))
	later := jobs.New(jobs.KindOfferFulfill, 2, now.Add(time.Hour))
	require.NoError(t, c.Enqueue(ctx, due))
	require.NoError(t, c.Enqueue(ctx, later))

	claimed, err := c.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)

	pending, err := c.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestLock(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c, err := NewClient("localhost:6379", "", 15, "engine:jobs:test")
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	token, ok, err := c.AcquireLock(ctx, "job:offer.fulfill:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, "job:offer.fulfill:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "job:offer.fulfill:1", "someone-else"))
	_, ok, err = c.AcquireLock(ctx, "job:offer.fulfill:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a foreign token must not release the lock")

	require.NoError(t, c.ReleaseLock(ctx, "job:offer.fulfill:1", token))
	_, ok, err = c.AcquireLock(ctx, "job:offer.fulfill:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDecodeClaimed_SkipsBadMembers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := jobs.New(jobs.KindOfferFulfill, 1, now)
	last := jobs.New(jobs.KindOfferFulfill, 3, now)

	encode := func(j jobs.Job) string {
		payload, err := json.Marshal(j)
		require.NoError(t, err)
		return string(payload)
	}

	raw := []interface{}{encode(first), "{not json", int64(42), encode(last)}
	claimed := decodeClaimed(raw, zap.NewNop())

	require.Len(t, claimed, 2)
	assert.Equal(t, first.ID, claimed[0].ID)
	assert.Equal(t, last.ID, claimed[1].ID)
}
