package programs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/inkhaven/platform/internal/domain"
)

// RetryBackoff returns how long a job waits after its n-th failed attempt
// before becoming eligible again: linear in the attempt count, capped at
// one hour (min(3600s, 30s * attempts)).
//
// The Postgres repository computes the same value in SQL
// (LEAST(3600, 30 * attempts)); keep the two in sync.
func RetryBackoff(attempts int) time.Duration {
	d := time.Duration(attempts) * 30 * time.Second
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// SyncQueue is the CRM sync job queue service. It owns enqueue defaults
// and delegates every state transition to the repository, which is where
// the queue's atomicity and locking guarantees live.
type SyncQueue struct {
	repo Repository
}

// NewSyncQueue creates a queue service backed by the given repository.
func NewSyncQueue(repo Repository) *SyncQueue {
	return &SyncQueue{repo: repo}
}

// Enqueue creates a queued job eligible immediately. maxAttempts <= 0
// selects the default budget of 5. Existence of the program and admin user
// is validated by the surrounding CRUD layer before this is called.
func (q *SyncQueue) Enqueue(ctx context.Context, programID, adminUserID, reason string, payload domain.CrmSyncPayload, maxAttempts int) (*domain.CrmSyncJob, error) {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxSyncAttempts
	}
	now := time.Now().UTC()
	job := &domain.CrmSyncJob{
		ID:                uuid.New().String(),
		ProgramID:         programID,
		Status:            domain.SyncJobQueued,
		Reason:            reason,
		Payload:           payload,
		Attempts:          0,
		MaxAttempts:       maxAttempts,
		NextAttemptAt:     now,
		TriggeredByUserID: adminUserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := q.repo.QueueCrmSyncJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue crm sync job: %w", err)
	}
	log.Printf("[SyncQueue] Enqueued job %s for program %s (reason: %s, max_attempts: %d)",
		job.ID, programID, reason, maxAttempts)
	return job, nil
}

// ClaimNext atomically claims the earliest-eligible job, or returns
// (nil, nil) when the queue has nothing due.
func (q *SyncQueue) ClaimNext(ctx context.Context) (*domain.CrmSyncJob, error) {
	return q.repo.ClaimNextCrmSyncJob(ctx)
}

// Complete marks a claimed job succeeded. Idempotent.
func (q *SyncQueue) Complete(ctx context.Context, jobID string) error {
	return q.repo.CompleteCrmSyncJob(ctx, jobID)
}

// Fail records a failed attempt: retry with backoff, or dead_letter once
// the attempt budget is exhausted.
func (q *SyncQueue) Fail(ctx context.Context, jobID, errorMessage string) error {
	return q.repo.FailCrmSyncJob(ctx, jobID, errorMessage)
}

// List returns a program's jobs newest-first for operator triage.
// Limit defaults to 100.
func (q *SyncQueue) List(ctx context.Context, programID string, f JobListFilter) ([]domain.CrmSyncJob, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	return q.repo.ListCrmSyncJobs(ctx, programID, f)
}
