// Package memory implements the programs repository in process memory.
// It mirrors the PostgreSQL implementation's semantics closely enough for
// service-level tests: atomic claim with the same eligibility ordering,
// status-guarded complete/fail, write-once dedupe markers.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/inkhaven/platform/internal/domain"
	"github.com/inkhaven/platform/internal/service/programs"
)

// application is a seeded application row.
type application struct {
	ID              string
	ProgramID       string
	ApplicantUserID string
	Status          string
	SubmittedAt     time.Time
}

// session is a seeded session row with its attendees and optional offsets.
type session struct {
	ID        string
	ProgramID string
	StartsAt  time.Time
	Attendees []string
	Offsets   []int
}

// cohort is a seeded cohort row.
type cohort struct {
	ID    string
	EndAt time.Time
}

// ProgramsRepository is an in-memory programs.Repository.
type ProgramsRepository struct {
	mu sync.Mutex

	jobs         map[string]*domain.CrmSyncJob
	dedupe       map[string]domain.NotificationDedupeRecord
	windows      map[string][]domain.AvailabilityWindow // programID -> windows
	integrations map[string]domain.SessionIntegration
	snapshots    map[string]domain.ProgramKpiSnapshot

	applications []application
	sessions     []session
	cohorts      map[string]cohort
	memberships  map[string]*domain.CohortMembership

	// nowFn is overridable so tests can control eligibility timing.
	nowFn func() time.Time
}

// NewProgramsRepository creates an empty repository.
func NewProgramsRepository() *ProgramsRepository {
	return &ProgramsRepository{
		jobs:         make(map[string]*domain.CrmSyncJob),
		dedupe:       make(map[string]domain.NotificationDedupeRecord),
		windows:      make(map[string][]domain.AvailabilityWindow),
		integrations: make(map[string]domain.SessionIntegration),
		snapshots:    make(map[string]domain.ProgramKpiSnapshot),
		cohorts:      make(map[string]cohort),
		memberships:  make(map[string]*domain.CohortMembership),
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}

var _ programs.Repository = (*ProgramsRepository)(nil)

// SetNow overrides the clock.
func (r *ProgramsRepository) SetNow(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFn = fn
}

// SeedApplication registers an application for reminder candidate queries.
func (r *ProgramsRepository) SeedApplication(id, programID, applicantUserID, status string, submittedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applications = append(r.applications, application{
		ID: id, ProgramID: programID, ApplicantUserID: applicantUserID,
		Status: status, SubmittedAt: submittedAt,
	})
}

// SeedSession registers a session and its attendees.
func (r *ProgramsRepository) SeedSession(id, programID string, startsAt time.Time, attendees ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, session{
		ID: id, ProgramID: programID, StartsAt: startsAt, Attendees: attendees,
	})
}

// SeedCohort registers a cohort with its end time.
func (r *ProgramsRepository) SeedCohort(id string, endAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cohorts[id] = cohort{ID: id, EndAt: endAt}
}

// SeedCohortMembership registers a membership row.
func (r *ProgramsRepository) SeedCohortMembership(id, cohortID, userID string, status domain.CohortMembershipStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memberships[id] = &domain.CohortMembership{
		ID: id, CohortID: cohortID, UserID: userID, Status: status,
	}
}

// GetJob returns a copy of the stored job, or nil.
func (r *ProgramsRepository) GetJob(jobID string) *domain.CrmSyncJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// Membership returns a copy of the stored membership, or nil.
func (r *ProgramsRepository) Membership(id string) *domain.CohortMembership {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memberships[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Snapshot returns the stored KPI snapshot for a program.
func (r *ProgramsRepository) Snapshot(programID string) (domain.ProgramKpiSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[programID]
	return s, ok
}

func (r *ProgramsRepository) QueueCrmSyncJob(_ context.Context, job *domain.CrmSyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *ProgramsRepository) ListCrmSyncJobs(_ context.Context, programID string, f programs.JobListFilter) ([]domain.CrmSyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []domain.CrmSyncJob
	for _, job := range r.jobs {
		if job.ProgramID != programID {
			continue
		}
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[f.Offset:]
	}
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs, nil
}

func (r *ProgramsRepository) ClaimNextCrmSyncJob(_ context.Context) (*domain.CrmSyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	var best *domain.CrmSyncJob
	for _, job := range r.jobs {
		if job.Status != domain.SyncJobQueued && job.Status != domain.SyncJobFailed {
			continue
		}
		if job.NextAttemptAt.After(now) {
			continue
		}
		if best == nil || earlier(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = domain.SyncJobRunning
	best.Attempts++
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

// earlier implements the (next_attempt_at ASC, created_at ASC) tie-break.
func earlier(a, b *domain.CrmSyncJob) bool {
	if !a.NextAttemptAt.Equal(b.NextAttemptAt) {
		return a.NextAttemptAt.Before(b.NextAttemptAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (r *ProgramsRepository) CompleteCrmSyncJob(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok || job.Status != domain.SyncJobRunning {
		return nil
	}
	now := r.nowFn()
	job.Status = domain.SyncJobSucceeded
	job.LastError = ""
	job.ProcessedAt = &now
	job.UpdatedAt = now
	return nil
}

func (r *ProgramsRepository) FailCrmSyncJob(_ context.Context, jobID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok || job.Status != domain.SyncJobRunning {
		return nil
	}
	now := r.nowFn()
	job.LastError = errorMessage
	job.UpdatedAt = now
	if job.Attempts >= job.MaxAttempts {
		job.Status = domain.SyncJobDeadLetter
		job.ProcessedAt = &now
	} else {
		job.Status = domain.SyncJobFailed
		job.NextAttemptAt = now.Add(programs.RetryBackoff(job.Attempts))
	}
	return nil
}

func (r *ProgramsRepository) ListApplicationReminderCandidates(_ context.Context, ageMinutes, limit int) ([]domain.ApplicationReminderCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.nowFn().Add(-time.Duration(ageMinutes) * time.Minute)
	var out []domain.ApplicationReminderCandidate
	for _, a := range r.applications {
		if a.Status != "submitted" && a.Status != "under_review" {
			continue
		}
		if a.SubmittedAt.After(cutoff) {
			continue
		}
		if _, sent := r.dedupe[domain.ApplicationReminderKey(a.ProgramID, a.ID)]; sent {
			continue
		}
		out = append(out, domain.ApplicationReminderCandidate{
			ProgramID:       a.ProgramID,
			ApplicationID:   a.ID,
			ApplicantUserID: a.ApplicantUserID,
			Status:          a.Status,
			SubmittedAt:     a.SubmittedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ProgramsRepository) MarkApplicationReminderSent(_ context.Context, programID, applicationID string, payload map[string]any) error {
	r.markSent(domain.ApplicationReminderKey(programID, applicationID),
		domain.NotificationApplicationReminder, payload)
	return nil
}

func (r *ProgramsRepository) HasApplicationReminderBeenSent(_ context.Context, programID, applicationID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.dedupe[domain.ApplicationReminderKey(programID, applicationID)]
	return ok, nil
}

func (r *ProgramsRepository) ListSessionReminderCandidates(_ context.Context, horizonMinutes, lookbackMinutes, limit int) ([]domain.SessionReminderCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	from := now.Add(-time.Duration(lookbackMinutes) * time.Minute)
	to := now.Add(time.Duration(horizonMinutes) * time.Minute)

	var out []domain.SessionReminderCandidate
	for _, s := range r.sessions {
		if s.StartsAt.Before(from) || s.StartsAt.After(to) {
			continue
		}
		offsets := s.Offsets
		if integ, ok := r.integrations[s.ID]; ok && len(integ.ReminderOffsetsMinutes) > 0 {
			offsets = integ.ReminderOffsetsMinutes
		}
		if len(offsets) == 0 {
			offsets = domain.DefaultReminderOffsetsMinutes
		}
		for _, user := range s.Attendees {
			for _, off := range offsets {
				if s.StartsAt.Add(-time.Duration(off) * time.Minute).After(now) {
					continue
				}
				key := domain.SessionReminderKey(s.ProgramID, s.ID, user, off)
				if _, sent := r.dedupe[key]; sent {
					continue
				}
				out = append(out, domain.SessionReminderCandidate{
					ProgramID:      s.ProgramID,
					SessionID:      s.ID,
					AttendeeUserID: user,
					OffsetMinutes:  off,
					StartsAt:       s.StartsAt,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ProgramsRepository) MarkSessionReminderSent(_ context.Context, programID, sessionID, userID string, offsetMinutes int, payload map[string]any) error {
	r.markSent(domain.SessionReminderKey(programID, sessionID, userID, offsetMinutes),
		domain.NotificationSessionReminder, payload)
	return nil
}

func (r *ProgramsRepository) HasSessionReminderBeenSent(_ context.Context, programID, sessionID, userID string, offsetMinutes int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.dedupe[domain.SessionReminderKey(programID, sessionID, userID, offsetMinutes)]
	return ok, nil
}

func (r *ProgramsRepository) markSent(key, notificationType string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dedupe[key]; ok {
		return
	}
	r.dedupe[key] = domain.NotificationDedupeRecord{
		DedupeKey:        key,
		NotificationType: notificationType,
		Payload:          payload,
		SentAt:           r.nowFn(),
	}
}

func (r *ProgramsRepository) RunCohortTransition(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	n := 0
	for _, m := range r.memberships {
		if m.Status != domain.MembershipActive {
			continue
		}
		c, ok := r.cohorts[m.CohortID]
		if !ok || c.EndAt.After(now) {
			continue
		}
		m.Status = domain.MembershipCompleted
		m.UpdatedAt = now
		n++
	}
	return n, nil
}

func (r *ProgramsRepository) CollectProgramKpis(_ context.Context) ([]domain.ProgramKpiSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	byProgram := make(map[string]*domain.ProgramKpiSnapshot)
	for _, job := range r.jobs {
		s, ok := byProgram[job.ProgramID]
		if !ok {
			s = &domain.ProgramKpiSnapshot{ProgramID: job.ProgramID, CapturedAt: now}
			byProgram[job.ProgramID] = s
		}
		switch job.Status {
		case domain.SyncJobQueued:
			s.QueuedSyncJobs++
		case domain.SyncJobRunning:
			s.RunningSyncJobs++
		case domain.SyncJobSucceeded:
			s.SucceededSyncJobs++
		case domain.SyncJobDeadLetter:
			s.DeadLetterSyncJobs++
		}
	}

	ids := make([]string, 0, len(byProgram))
	for id := range byProgram {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]domain.ProgramKpiSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byProgram[id])
	}
	return out, nil
}

func (r *ProgramsRepository) UpsertProgramKpiSnapshot(_ context.Context, snap domain.ProgramKpiSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snap.ProgramID] = snap
	return nil
}

func (r *ProgramsRepository) ReplaceAvailabilityWindows(_ context.Context, programID string, windows []domain.AvailabilityWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]domain.AvailabilityWindow, len(windows))
	copy(cp, windows)
	for i := range cp {
		cp[i].ProgramID = programID
	}
	r.windows[programID] = cp
	return nil
}

func (r *ProgramsRepository) ListAvailabilityWindows(_ context.Context, programID string, userIDs []string) (map[string][]domain.AvailabilityWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}

	out := make(map[string][]domain.AvailabilityWindow)
	for _, w := range r.windows[programID] {
		if !want[w.UserID] {
			continue
		}
		out[w.UserID] = append(out[w.UserID], w)
	}
	for _, ws := range out {
		sort.Slice(ws, func(i, j int) bool { return ws[i].StartsAt.Before(ws[j].StartsAt) })
	}
	return out, nil
}

func (r *ProgramsRepository) UpsertSessionIntegration(_ context.Context, integ domain.SessionIntegration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	integ.UpdatedAt = r.nowFn()
	r.integrations[integ.SessionID] = integ
	return nil
}

func (r *ProgramsRepository) GetSessionIntegration(_ context.Context, sessionID string) (*domain.SessionIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	integ, ok := r.integrations[sessionID]
	if !ok {
		return nil, programs.ErrNotFound
	}
	cp := integ
	return &cp, nil
}
