package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"auto-market-engine/internal/jobs"
	"auto-market-engine/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

//go:embed scripts/claim_jobs.lua
var claimJobsScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	queueKey      string
	claimScript   *redis.Script
	releaseScript *redis.Script
	logger        *zap.Logger
}

var (
	_ jobs.Queue  = (*Client)(nil)
	_ jobs.Locker = (*Client)(nil)
)

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, queueKey string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		queueKey:      queueKey,
		claimScript:   redis.NewScript(claimJobsScript),
		releaseScript: redis.NewScript(releaseLockScript),
		logger:        util.ComponentLogger("redis"),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Enqueue adds a job to the delayed queue, scored by its not-before time
func (c *Client) Enqueue(ctx context.Context, job jobs.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	member := &redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: string(payload)}
	if err := c.rdb.ZAdd(ctx, c.queueKey, member).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ClaimDue atomically pops up to limit jobs whose not-before time has passed.
// Members that do not decode are already removed by the script; they are
// logged and skipped so the rest of the batch still reaches the caller.
func (c *Client) ClaimDue(ctx context.Context, now time.Time, limit int) ([]jobs.Job, error) {
	result, err := c.claimScript.Run(ctx, c.rdb, []string{c.queueKey},
		strconv.FormatInt(now.UnixMilli(), 10), limit).Result()
	if err != nil {
		return nil, fmt.Errorf("claim jobs script failed: %w", err)
	}

	raw, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script result type")
	}

	return decodeClaimed(raw, c.logger), nil
}

func decodeClaimed(raw []interface{}, logger *zap.Logger) []jobs.Job {
	claimed := make([]jobs.Job, 0, len(raw))
	for _, item := range raw {
		payload, ok := item.(string)
		if !ok {
			logger.Error("Dropping queue member of unexpected type", zap.String("type", fmt.Sprintf("%T", item)))
			continue
		}
		var job jobs.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			logger.Error("Dropping undecodable job", zap.String("payload", payload), zap.Error(err))
			continue
		}
		claimed = append(claimed, job)
	}
	return claimed
}

// PendingJobs returns the number of jobs waiting in the delayed queue
func (c *Client) PendingJobs(ctx context.Context) (int64, error) {
	return c.rdb.ZCard(ctx, c.queueKey).Result()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireLock takes a distributed lock and returns the token it was set with
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := jobs.NewLockToken()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock deletes the lock only while it still holds token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
