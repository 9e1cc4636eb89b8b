package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Job
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, job)
	return nil
}

func (q *MemoryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sort.SliceStable(q.jobs, func(i, j int) bool { return q.jobs[i].NotBefore.Before(q.jobs[j].NotBefore) })

	var due []Job
	rest := q.jobs[:0:0]
	for _, job := range q.jobs {
		if len(due) < limit && !job.NotBefore.After(now) {
			due = append(due, job)
			continue
		}
		rest = append(rest, job)
	}
	q.jobs = rest
	return due, nil
}

// Pending returns a copy of the jobs not yet claimed.
func (q *MemoryQueue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]Job(nil), q.jobs...)
}

// MemoryLocker is an in-process Locker with expiring locks.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock

	Now func() time.Time
}

var _ Locker = (*MemoryLocker)(nil)

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock), Now: time.Now}
}

func (l *MemoryLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	if held, ok := l.locks[key]; ok && now.Before(held.expires) {
		return "", false, nil
	}
	token := NewLockToken()
	l.locks[key] = memoryLock{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[key]; ok && held.token == token {
		delete(l.locks, key)
	}
	return nil
}
