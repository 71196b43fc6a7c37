package domain

import "time"

// ProgramKpiSnapshot is the periodic per-program rollup written by the
// kpi_aggregation job. One row per program, overwritten on each run.
type ProgramKpiSnapshot struct {
	ProgramID          string    `json:"program_id" db:"program_id"`
	QueuedSyncJobs     int       `json:"queued_sync_jobs" db:"queued_sync_jobs"`
	RunningSyncJobs    int       `json:"running_sync_jobs" db:"running_sync_jobs"`
	SucceededSyncJobs  int       `json:"succeeded_sync_jobs" db:"succeeded_sync_jobs"`
	DeadLetterSyncJobs int       `json:"dead_letter_sync_jobs" db:"dead_letter_sync_jobs"`
	CapturedAt         time.Time `json:"captured_at" db:"captured_at"`
}
