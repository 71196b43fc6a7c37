package domain

import (
	"encoding/json"
	"time"
)

// CrmSyncJobStatus enumerates the lifecycle states of a CRM sync job.
type CrmSyncJobStatus string

const (
	SyncJobQueued     CrmSyncJobStatus = "queued"
	SyncJobRunning    CrmSyncJobStatus = "running"
	SyncJobSucceeded  CrmSyncJobStatus = "succeeded"
	SyncJobFailed     CrmSyncJobStatus = "failed"
	SyncJobDeadLetter CrmSyncJobStatus = "dead_letter"
)

// DefaultMaxSyncAttempts is the attempt budget for a job enqueued without
// an explicit limit.
const DefaultMaxSyncAttempts = 5

// CrmSyncPayload carries the job-specific parameters of a program CRM
// sync. Known fields are typed; any other keys present on the wire are
// retained in Extra so newer producers can add fields without breaking
// older workers.
type CrmSyncPayload struct {
	// Scope selects what to synchronize: "participants", "outcomes" or
	// "leads". Empty means a full sync.
	Scope string `json:"scope,omitempty"`
	// CohortID restricts the sync to a single cohort when set.
	CohortID string `json:"cohort_id,omitempty"`
	// DryRun asks the gateway to validate without writing to the CRM.
	DryRun bool `json:"dry_run,omitempty"`

	// Extra holds unknown keys round-tripped as-is.
	Extra map[string]any `json:"-"`
}

var knownPayloadKeys = map[string]bool{
	"scope":     true,
	"cohort_id": true,
	"dry_run":   true,
}

// UnmarshalJSON decodes the typed fields and keeps everything else in Extra.
func (p *CrmSyncPayload) UnmarshalJSON(data []byte) error {
	type plain CrmSyncPayload
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownPayloadKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[k] = val
	}

	*p = CrmSyncPayload(out)
	return nil
}

// MarshalJSON emits the typed fields merged with Extra. Typed fields win
// on key collision.
func (p CrmSyncPayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.Scope != "" {
		out["scope"] = p.Scope
	}
	if p.CohortID != "" {
		out["cohort_id"] = p.CohortID
	}
	if p.DryRun {
		out["dry_run"] = true
	}
	return json.Marshal(out)
}

// CrmSyncJob is one durable unit of work on the CRM sync queue.
//
// Invariants: Attempts never exceeds MaxAttempts while the job is
// non-terminal; succeeded and dead_letter are terminal and immutable;
// at most one worker holds status=running for a given job at any instant
// (enforced by the claim statement, not by this type).
type CrmSyncJob struct {
	ID                string           `json:"id" db:"id"`
	ProgramID         string           `json:"program_id" db:"program_id"`
	Status            CrmSyncJobStatus `json:"status" db:"status"`
	Reason            string           `json:"reason" db:"reason"`
	Payload           CrmSyncPayload   `json:"payload" db:"payload"`
	Attempts          int              `json:"attempts" db:"attempts"`
	MaxAttempts       int              `json:"max_attempts" db:"max_attempts"`
	NextAttemptAt     time.Time        `json:"next_attempt_at" db:"next_attempt_at"`
	LastError         string           `json:"last_error,omitempty" db:"last_error"`
	TriggeredByUserID string           `json:"triggered_by_user_id" db:"triggered_by_user_id"`
	ProcessedAt       *time.Time       `json:"processed_at" db:"processed_at"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true once the job can no longer change state.
func (j *CrmSyncJob) IsTerminal() bool {
	return j.Status == SyncJobSucceeded || j.Status == SyncJobDeadLetter
}
