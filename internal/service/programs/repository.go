package programs

import (
	"context"

	"github.com/inkhaven/platform/internal/domain"
)

// JobListFilter controls pagination and filtering for CRM sync job lists.
type JobListFilter struct {
	Status domain.CrmSyncJobStatus
	Limit  int
	Offset int
}

// Repository defines the data access contract for the programs scheduling
// core. Implementations must be safe for concurrent use.
//
// The claim/complete/fail trio is the queue's consistency boundary:
// ClaimNextCrmSyncJob must be a single atomic statement that takes a
// non-blocking exclusive row lock (skip-on-contention) so concurrent
// claimants each obtain a distinct job or nothing; CompleteCrmSyncJob and
// FailCrmSyncJob must each be one atomic statement against the owning row
// and must be no-ops for jobs that are missing or already terminal.
type Repository interface {
	// QueueCrmSyncJob inserts a new job. The caller populates every field.
	QueueCrmSyncJob(ctx context.Context, job *domain.CrmSyncJob) error

	// ListCrmSyncJobs returns a program's jobs ordered newest-first.
	ListCrmSyncJobs(ctx context.Context, programID string, f JobListFilter) ([]domain.CrmSyncJob, error)

	// ClaimNextCrmSyncJob atomically claims the earliest-eligible job
	// (status queued or failed, next_attempt_at due), transitioning it to
	// running with attempts incremented. Ties break on
	// (next_attempt_at ASC, created_at ASC). Returns (nil, nil) when no
	// job is eligible.
	ClaimNextCrmSyncJob(ctx context.Context) (*domain.CrmSyncJob, error)

	// CompleteCrmSyncJob marks a running job succeeded, sets processed_at
	// and clears last_error. No-op if the job is not running.
	CompleteCrmSyncJob(ctx context.Context, jobID string) error

	// FailCrmSyncJob records a failed attempt on a running job: dead_letter
	// with processed_at when attempts >= max_attempts, otherwise failed
	// with next_attempt_at pushed out by RetryBackoff(attempts). No-op if
	// the job is not running.
	FailCrmSyncJob(ctx context.Context, jobID, errorMessage string) error

	// ListApplicationReminderCandidates returns applications in
	// submitted/under_review older than ageMinutes that have no dedupe
	// marker yet. The dedupe filter is part of the query (NOT EXISTS),
	// never re-checked by the caller.
	ListApplicationReminderCandidates(ctx context.Context, ageMinutes, limit int) ([]domain.ApplicationReminderCandidate, error)

	// MarkApplicationReminderSent writes the dedupe marker for one
	// application reminder. Writing an existing key is a no-op.
	MarkApplicationReminderSent(ctx context.Context, programID, applicationID string, payload map[string]any) error

	// HasApplicationReminderBeenSent reports whether the marker exists.
	HasApplicationReminderBeenSent(ctx context.Context, programID, applicationID string) (bool, error)

	// ListSessionReminderCandidates returns (session, attendee, offset)
	// tuples for sessions starting within
	// [now - lookbackMinutes, now + horizonMinutes], using the session's
	// configured offsets (default [60]), filtered by NOT EXISTS dedupe.
	ListSessionReminderCandidates(ctx context.Context, horizonMinutes, lookbackMinutes, limit int) ([]domain.SessionReminderCandidate, error)

	// MarkSessionReminderSent writes the dedupe marker for one session
	// reminder tuple. Writing an existing key is a no-op.
	MarkSessionReminderSent(ctx context.Context, programID, sessionID, userID string, offsetMinutes int, payload map[string]any) error

	// HasSessionReminderBeenSent reports whether the marker exists.
	HasSessionReminderBeenSent(ctx context.Context, programID, sessionID, userID string, offsetMinutes int) (bool, error)

	// RunCohortTransition bulk-completes active memberships of cohorts
	// whose end_at has passed and returns the number of rows changed.
	RunCohortTransition(ctx context.Context) (int, error)

	// CollectProgramKpis computes the current per-program queue rollups.
	CollectProgramKpis(ctx context.Context) ([]domain.ProgramKpiSnapshot, error)

	// UpsertProgramKpiSnapshot overwrites the program's snapshot row.
	UpsertProgramKpiSnapshot(ctx context.Context, snap domain.ProgramKpiSnapshot) error

	// ReplaceAvailabilityWindows wholesale-replaces a program's window set.
	ReplaceAvailabilityWindows(ctx context.Context, programID string, windows []domain.AvailabilityWindow) error

	// ListAvailabilityWindows returns the given users' windows for a
	// program, each user's slice ordered by starts_at ascending. Users
	// with no windows are absent from the map.
	ListAvailabilityWindows(ctx context.Context, programID string, userIDs []string) (map[string][]domain.AvailabilityWindow, error)

	// UpsertSessionIntegration creates or replaces a session's reminder
	// integration record.
	UpsertSessionIntegration(ctx context.Context, integ domain.SessionIntegration) error

	// GetSessionIntegration returns the integration record or ErrNotFound.
	GetSessionIntegration(ctx context.Context, sessionID string) (*domain.SessionIntegration, error)
}

// Gateway publishes program events to the internal notification/CRM
// gateway. Calls are blocking I/O; any transport error or HTTP status
// >= 400 surfaces as a non-nil error.
type Gateway interface {
	PublishCrmSync(ctx context.Context, job *domain.CrmSyncJob) error
	PublishApplicationReminder(ctx context.Context, c domain.ApplicationReminderCandidate) error
	PublishSessionReminder(ctx context.Context, c domain.SessionReminderCandidate) error
}
