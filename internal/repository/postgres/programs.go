// Package postgres implements the programs repository on PostgreSQL.
//
// Queue consistency lives here: the claim is a single UPDATE over a
// FOR UPDATE SKIP LOCKED subselect, and fail/complete are single UPDATEs
// guarded by status = 'running'. Backoff is computed in SQL as
// LEAST(3600, 30 * attempts) seconds and must stay in sync with
// programs.RetryBackoff.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/inkhaven/platform/internal/domain"
	"github.com/inkhaven/platform/internal/service/programs"
)

// ProgramsRepository is the PostgreSQL-backed programs.Repository.
type ProgramsRepository struct {
	db *sql.DB
}

// NewProgramsRepository creates a repository over the given connection pool.
func NewProgramsRepository(db *sql.DB) *ProgramsRepository {
	return &ProgramsRepository{db: db}
}

var _ programs.Repository = (*ProgramsRepository)(nil)

const syncJobColumns = `id, program_id, status, reason, payload, attempts, max_attempts,
	next_attempt_at, last_error, triggered_by_user_id, processed_at, created_at, updated_at`

func scanSyncJob(row interface{ Scan(...any) error }) (*domain.CrmSyncJob, error) {
	var (
		job       domain.CrmSyncJob
		payload   []byte
		lastError sql.NullString
		processed sql.NullTime
	)
	err := row.Scan(&job.ID, &job.ProgramID, &job.Status, &job.Reason, &payload,
		&job.Attempts, &job.MaxAttempts, &job.NextAttemptAt, &lastError,
		&job.TriggeredByUserID, &processed, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("decoding job payload: %w", err)
		}
	}
	job.LastError = lastError.String
	if processed.Valid {
		t := processed.Time
		job.ProcessedAt = &t
	}
	return &job, nil
}

// QueueCrmSyncJob inserts a new job row.
func (r *ProgramsRepository) QueueCrmSyncJob(ctx context.Context, job *domain.CrmSyncJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encoding job payload: %w", err)
	}

	query := `
		INSERT INTO program_crm_sync_jobs (
			id, program_id, status, reason, payload, attempts, max_attempts,
			next_attempt_at, last_error, triggered_by_user_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.ProgramID, job.Status, job.Reason, payload,
		job.Attempts, job.MaxAttempts, job.NextAttemptAt, job.LastError,
		job.TriggeredByUserID, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting sync job: %w", err)
	}
	return nil
}

// ListCrmSyncJobs returns a program's jobs, newest first.
func (r *ProgramsRepository) ListCrmSyncJobs(ctx context.Context, programID string, f programs.JobListFilter) ([]domain.CrmSyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM program_crm_sync_jobs
		WHERE program_id = $1
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query, programID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.CrmSyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimNextCrmSyncJob atomically claims the earliest-eligible job. The
// SKIP LOCKED subselect guarantees concurrent claimants never receive the
// same row; a claimant either gets a distinct job or (nil, nil).
func (r *ProgramsRepository) ClaimNextCrmSyncJob(ctx context.Context) (*domain.CrmSyncJob, error) {
	query := `
		UPDATE program_crm_sync_jobs
		SET status = 'running', attempts = attempts + 1, updated_at = NOW()
		WHERE id = (
			SELECT j.id FROM program_crm_sync_jobs j
			WHERE j.status IN ('queued', 'failed')
			  AND j.next_attempt_at <= NOW()
			ORDER BY j.next_attempt_at ASC, j.created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + syncJobColumns

	job, err := scanSyncJob(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming sync job: %w", err)
	}
	return job, nil
}

// CompleteCrmSyncJob marks a running job succeeded. Guarded by
// status = 'running' so terminal rows are never touched.
func (r *ProgramsRepository) CompleteCrmSyncJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE program_crm_sync_jobs
		SET status = 'succeeded', last_error = '', processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'`

	if _, err := r.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("completing sync job: %w", err)
	}
	return nil
}

// FailCrmSyncJob records a failed attempt in one statement: dead_letter
// once the attempt budget is spent, otherwise failed with the next attempt
// pushed out by the capped linear backoff.
func (r *ProgramsRepository) FailCrmSyncJob(ctx context.Context, jobID, errorMessage string) error {
	query := `
		UPDATE program_crm_sync_jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'failed' END,
		    last_error = $2,
		    processed_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE processed_at END,
		    next_attempt_at = CASE WHEN attempts >= max_attempts THEN next_attempt_at
		        ELSE NOW() + make_interval(secs => LEAST(3600, 30 * attempts)) END,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'running'`

	if _, err := r.db.ExecContext(ctx, query, jobID, errorMessage); err != nil {
		return fmt.Errorf("failing sync job: %w", err)
	}
	return nil
}

// ListApplicationReminderCandidates finds aged applications with no dedupe
// marker. The NOT EXISTS keeps the dedupe check inside the query plan.
func (r *ProgramsRepository) ListApplicationReminderCandidates(ctx context.Context, ageMinutes, limit int) ([]domain.ApplicationReminderCandidate, error) {
	query := `
		SELECT a.program_id, a.id, a.applicant_user_id, a.status, a.submitted_at
		FROM program_applications a
		WHERE a.status IN ('submitted', 'under_review')
		  AND a.submitted_at <= NOW() - make_interval(mins => $1)
		  AND NOT EXISTS (
			SELECT 1 FROM program_notification_dedupe d
			WHERE d.dedupe_key = 'app-reminder:' || a.program_id || ':' || a.id
		  )
		ORDER BY a.submitted_at ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, ageMinutes, limit)
	if err != nil {
		return nil, fmt.Errorf("listing application reminder candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.ApplicationReminderCandidate
	for rows.Next() {
		var c domain.ApplicationReminderCandidate
		if err := rows.Scan(&c.ProgramID, &c.ApplicationID, &c.ApplicantUserID, &c.Status, &c.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scanning application candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkApplicationReminderSent writes the dedupe marker; duplicates no-op.
func (r *ProgramsRepository) MarkApplicationReminderSent(ctx context.Context, programID, applicationID string, payload map[string]any) error {
	return r.insertDedupe(ctx,
		domain.ApplicationReminderKey(programID, applicationID),
		domain.NotificationApplicationReminder, payload)
}

// HasApplicationReminderBeenSent reports whether the marker exists.
func (r *ProgramsRepository) HasApplicationReminderBeenSent(ctx context.Context, programID, applicationID string) (bool, error) {
	return r.dedupeExists(ctx, domain.ApplicationReminderKey(programID, applicationID))
}

// ListSessionReminderCandidates expands each upcoming session into one row
// per (attendee, offset), using the session's configured offsets with [60]
// as the fallback, filtered by NOT EXISTS against the dedupe table.
func (r *ProgramsRepository) ListSessionReminderCandidates(ctx context.Context, horizonMinutes, lookbackMinutes, limit int) ([]domain.SessionReminderCandidate, error) {
	query := `
		SELECT s.program_id, s.id, att.user_id, o.offset_minutes, s.starts_at
		FROM program_sessions s
		JOIN program_session_attendees att ON att.session_id = s.id
		LEFT JOIN program_session_integrations i ON i.session_id = s.id
		CROSS JOIN LATERAL unnest(
			COALESCE(NULLIF(i.reminder_offsets_minutes, '{}'::int[]), ARRAY[60])
		) AS o(offset_minutes)
		WHERE s.starts_at >= NOW() - make_interval(mins => $1)
		  AND s.starts_at <= NOW() + make_interval(mins => $2)
		  AND s.starts_at - make_interval(mins => o.offset_minutes) <= NOW()
		  AND NOT EXISTS (
			SELECT 1 FROM program_notification_dedupe d
			WHERE d.dedupe_key = 'session-reminder:' || s.program_id || ':' || s.id
				|| ':' || att.user_id || ':' || o.offset_minutes
		  )
		ORDER BY s.starts_at ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, lookbackMinutes, horizonMinutes, limit)
	if err != nil {
		return nil, fmt.Errorf("listing session reminder candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionReminderCandidate
	for rows.Next() {
		var c domain.SessionReminderCandidate
		if err := rows.Scan(&c.ProgramID, &c.SessionID, &c.AttendeeUserID, &c.OffsetMinutes, &c.StartsAt); err != nil {
			return nil, fmt.Errorf("scanning session candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkSessionReminderSent writes the dedupe marker; duplicates no-op.
func (r *ProgramsRepository) MarkSessionReminderSent(ctx context.Context, programID, sessionID, userID string, offsetMinutes int, payload map[string]any) error {
	return r.insertDedupe(ctx,
		domain.SessionReminderKey(programID, sessionID, userID, offsetMinutes),
		domain.NotificationSessionReminder, payload)
}

// HasSessionReminderBeenSent reports whether the marker exists.
func (r *ProgramsRepository) HasSessionReminderBeenSent(ctx context.Context, programID, sessionID, userID string, offsetMinutes int) (bool, error) {
	return r.dedupeExists(ctx, domain.SessionReminderKey(programID, sessionID, userID, offsetMinutes))
}

func (r *ProgramsRepository) insertDedupe(ctx context.Context, key, notificationType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding dedupe payload: %w", err)
	}

	query := `
		INSERT INTO program_notification_dedupe (dedupe_key, notification_type, payload, sent_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (dedupe_key) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, key, notificationType, data); err != nil {
		return fmt.Errorf("inserting dedupe marker: %w", err)
	}
	return nil
}

func (r *ProgramsRepository) dedupeExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM program_notification_dedupe WHERE dedupe_key = $1)`
	if err := r.db.QueryRowContext(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking dedupe marker: %w", err)
	}
	return exists, nil
}

// RunCohortTransition flips active memberships of expired cohorts to
// completed in one idempotent bulk UPDATE.
func (r *ProgramsRepository) RunCohortTransition(ctx context.Context) (int, error) {
	query := `
		UPDATE program_cohort_memberships m
		SET status = 'completed', updated_at = NOW()
		FROM program_cohorts c
		WHERE c.id = m.cohort_id
		  AND m.status = 'active'
		  AND c.end_at <= NOW()`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("running cohort transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting transitioned memberships: %w", err)
	}
	return int(n), nil
}

// CollectProgramKpis rolls up the sync queue per program.
func (r *ProgramsRepository) CollectProgramKpis(ctx context.Context) ([]domain.ProgramKpiSnapshot, error) {
	query := `
		SELECT program_id,
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status = 'dead_letter'),
			NOW()
		FROM program_crm_sync_jobs
		GROUP BY program_id
		ORDER BY program_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("collecting program KPIs: %w", err)
	}
	defer rows.Close()

	var out []domain.ProgramKpiSnapshot
	for rows.Next() {
		var s domain.ProgramKpiSnapshot
		if err := rows.Scan(&s.ProgramID, &s.QueuedSyncJobs, &s.RunningSyncJobs,
			&s.SucceededSyncJobs, &s.DeadLetterSyncJobs, &s.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning KPI snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertProgramKpiSnapshot overwrites the program's snapshot row.
func (r *ProgramsRepository) UpsertProgramKpiSnapshot(ctx context.Context, snap domain.ProgramKpiSnapshot) error {
	query := `
		INSERT INTO program_kpi_snapshots (
			program_id, queued_sync_jobs, running_sync_jobs,
			succeeded_sync_jobs, dead_letter_sync_jobs, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (program_id) DO UPDATE SET
			queued_sync_jobs = EXCLUDED.queued_sync_jobs,
			running_sync_jobs = EXCLUDED.running_sync_jobs,
			succeeded_sync_jobs = EXCLUDED.succeeded_sync_jobs,
			dead_letter_sync_jobs = EXCLUDED.dead_letter_sync_jobs,
			captured_at = EXCLUDED.captured_at`

	_, err := r.db.ExecContext(ctx, query, snap.ProgramID, snap.QueuedSyncJobs,
		snap.RunningSyncJobs, snap.SucceededSyncJobs, snap.DeadLetterSyncJobs, snap.CapturedAt)
	if err != nil {
		return fmt.Errorf("upserting KPI snapshot: %w", err)
	}
	return nil
}

// ReplaceAvailabilityWindows wholesale-replaces a program's window set in
// one transaction.
func (r *ProgramsRepository) ReplaceAvailabilityWindows(ctx context.Context, programID string, windows []domain.AvailabilityWindow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM program_availability_windows WHERE program_id = $1`, programID); err != nil {
		return fmt.Errorf("clearing availability windows: %w", err)
	}

	query := `
		INSERT INTO program_availability_windows (id, program_id, user_id, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5)`
	for _, w := range windows {
		id := w.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, query, id, programID, w.UserID, w.StartsAt, w.EndsAt); err != nil {
			return fmt.Errorf("inserting availability window: %w", err)
		}
	}

	return tx.Commit()
}

// ListAvailabilityWindows returns the given users' windows grouped by user,
// each slice ordered by starts_at.
func (r *ProgramsRepository) ListAvailabilityWindows(ctx context.Context, programID string, userIDs []string) (map[string][]domain.AvailabilityWindow, error) {
	query := `
		SELECT id, program_id, user_id, starts_at, ends_at
		FROM program_availability_windows
		WHERE program_id = $1 AND user_id = ANY($2)
		ORDER BY user_id, starts_at ASC`

	rows, err := r.db.QueryContext(ctx, query, programID, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("listing availability windows: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.AvailabilityWindow)
	for rows.Next() {
		var w domain.AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.ProgramID, &w.UserID, &w.StartsAt, &w.EndsAt); err != nil {
			return nil, fmt.Errorf("scanning availability window: %w", err)
		}
		out[w.UserID] = append(out[w.UserID], w)
	}
	return out, rows.Err()
}

// UpsertSessionIntegration creates or replaces a session's integration row.
func (r *ProgramsRepository) UpsertSessionIntegration(ctx context.Context, integ domain.SessionIntegration) error {
	query := `
		INSERT INTO program_session_integrations (
			session_id, provider, meeting_url, recording_url,
			reminder_offsets_minutes, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			meeting_url = EXCLUDED.meeting_url,
			recording_url = EXCLUDED.recording_url,
			reminder_offsets_minutes = EXCLUDED.reminder_offsets_minutes,
			updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, integ.SessionID, integ.Provider,
		integ.MeetingURL, integ.RecordingURL, pq.Array(integ.ReminderOffsetsMinutes))
	if err != nil {
		return fmt.Errorf("upserting session integration: %w", err)
	}
	return nil
}

// GetSessionIntegration returns the integration row or programs.ErrNotFound.
func (r *ProgramsRepository) GetSessionIntegration(ctx context.Context, sessionID string) (*domain.SessionIntegration, error) {
	query := `
		SELECT session_id, provider, meeting_url, recording_url,
			reminder_offsets_minutes, updated_at
		FROM program_session_integrations
		WHERE session_id = $1`

	var (
		integ   domain.SessionIntegration
		offsets pq.Int64Array
	)
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&integ.SessionID,
		&integ.Provider, &integ.MeetingURL, &integ.RecordingURL, &offsets, &integ.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, programs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session integration: %w", err)
	}

	for _, o := range offsets {
		integ.ReminderOffsetsMinutes = append(integ.ReminderOffsetsMinutes, int(o))
	}
	return &integ, nil
}
