package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_ClaimDue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	late := New(KindOfferFulfill, 1, now.Add(time.Minute))
	early := New(KindOfferFulfill, 2, now.Add(-time.Minute))
	onTime := New(KindDealerMatch, 3, now)
	for _, j := range []Job{late, early, onTime} {
		require.NoError(t, q.Enqueue(ctx, j))
	}

	due, err := q.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, onTime.ID, due[1].ID)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, late.ID, pending[0].ID)

	due, err = q.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryQueue_ClaimDueRespectsLimit(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, q.Enqueue(ctx, New(KindOfferFulfill, i, now.Add(-time.Duration(i)*time.Second))))
	}

	due, err := q.ClaimDue(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, int64(5), due[0].SubjectID)
	assert.Equal(t, int64(4), due[1].SubjectID)
	assert.Len(t, q.Pending(), 3)
}

func TestJob_Next(t *testing.T) {
	j := New(KindOfferFulfill, 9, time.Now())
	at := time.Now().Add(5 * time.Minute)

	next := j.Next(at)
	assert.NotEqual(t, j.ID, next.ID)
	assert.Equal(t, j.Kind, next.Kind)
	assert.Equal(t, j.SubjectID, next.SubjectID)
	assert.Equal(t, 1, next.Attempt)
	assert.True(t, next.NotBefore.Equal(at))
	assert.Equal(t, "job:offer.fulfill:9", j.LockKey())
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return now }

	token, ok, err := l.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, _ = l.AcquireLock(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	token, ok, _ = l.AcquireLock(ctx, "k", time.Minute)
	assert.True(t, ok, "expired lock can be taken again")

	require.NoError(t, l.ReleaseLock(ctx, "k", token))
	_, ok, _ = l.AcquireLock(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestMemoryLocker_StaleTokenKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return now }

	stale, ok, err := l.AcquireLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(time.Minute)
	current, ok, err := l.AcquireLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, stale, current)

	require.NoError(t, l.ReleaseLock(ctx, "k", stale))
	_, ok, _ = l.AcquireLock(ctx, "k", 30*time.Second)
	assert.False(t, ok, "the first holder must not free the second holder's lock")

	require.NoError(t, l.ReleaseLock(ctx, "k", current))
	_, ok, _ = l.AcquireLock(ctx, "k", 30*time.Second)
	assert.True(t, ok)
}
