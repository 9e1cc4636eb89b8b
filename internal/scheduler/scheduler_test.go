package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"auto-market-engine/internal/service"
	"auto-market-engine/internal/util"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	util.SetLogger(zap.NewNop())
}

func TestRunOnce(t *testing.T) {
	err := RunOnce(context.Background(), TaskRank, func(context.Context) (service.BatchReport, error) {
		return service.BatchReport{Dealers: 3, Failed: 1}, nil
	})
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = RunOnce(context.Background(), TaskRank, func(context.Context) (service.BatchReport, error) {
		return service.BatchReport{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int64
	s := New()
	s.Every(TaskMatch, 10*time.Millisecond, func(context.Context) (service.BatchReport, error) {
		runs.Add(1)
		return service.BatchReport{}, nil
	})
	s.Every(TaskPurchase, 0, func(context.Context) (service.BatchReport, error) {
		t.Error("disabled task ran")
		return service.BatchReport{}, nil
	})

	s.Start(ctx)
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	s.Wait()
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}
