package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names the work a job carries.
type Kind string

const (
	// KindOfferFulfill retries a buyer purchase offer until it is fulfilled or closed.
	KindOfferFulfill Kind = "offer.fulfill"
	// KindDealerMatch recomputes a dealer's suitable cars after their criteria changed.
	KindDealerMatch Kind = "dealer.match"
)

// ErrUnknownKind is returned by dispatchers for job kinds they do not handle.
var ErrUnknownKind = errors.New("jobs: unknown job kind")

// Job is a delayed unit of work. It becomes claimable at NotBefore.
type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	SubjectID  int64     `json:"subject_id"`
	NotBefore  time.Time `json:"not_before"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func New(kind Kind, subjectID int64, notBefore time.Time) Job {
	return Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		SubjectID:  subjectID,
		NotBefore:  notBefore,
		EnqueuedAt: time.Now(),
	}
}

// Next returns the follow-up of j, due at notBefore.
func (j Job) Next(notBefore time.Time) Job {
	next := New(j.Kind, j.SubjectID, notBefore)
	next.Attempt = j.Attempt + 1
	return next
}

// LockKey is the key under which workers serialize jobs for the same subject.
func (j Job) LockKey() string {
	return fmt.Sprintf("job:%s:%d", j.Kind, j.SubjectID)
}

// Queue is a durable delayed job queue.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// ClaimDue removes and returns up to limit jobs due at now, earliest first.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
}

// Locker hands out short-lived exclusive locks. AcquireLock returns a token
// unique to that acquisition; ReleaseLock only frees the lock while it is
// still held under that token, so an expired holder cannot free a lock
// someone else has since taken.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// NewLockToken returns a fresh lock token.
func NewLockToken() string {
	return uuid.New().String()
}
