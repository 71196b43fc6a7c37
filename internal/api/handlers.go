// Package api exposes the admin HTTP surface for the programs scheduling
// core: enqueueing and listing CRM sync jobs, managing availability windows
// and session integrations, running scheduling matches, and triggering
// scheduled jobs on demand.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inkhaven/platform/internal/domain"
	"github.com/inkhaven/platform/internal/pkg/httputil"
	"github.com/inkhaven/platform/internal/service/programs"
	"github.com/inkhaven/platform/internal/worker"
)

// Handlers holds the services the API surfaces.
type Handlers struct {
	queue     *programs.SyncQueue
	matcher   *programs.Matcher
	repo      programs.Repository
	scheduler *worker.Scheduler
}

// NewHandlers wires the handler set.
func NewHandlers(queue *programs.SyncQueue, matcher *programs.Matcher, repo programs.Repository, scheduler *worker.Scheduler) *Handlers {
	return &Handlers{queue: queue, matcher: matcher, repo: repo, scheduler: scheduler}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// actorUserID identifies the admin behind a mutation. Authentication
// itself happens upstream at the edge proxy; this service only records
// who the edge says is acting.
func actorUserID(r *http.Request) string {
	return r.Header.Get("X-Actor-User-ID")
}

type enqueueSyncJobRequest struct {
	Reason      string                `json:"reason"`
	Payload     domain.CrmSyncPayload `json:"payload"`
	MaxAttempts int                   `json:"max_attempts"`
}

// EnqueueCrmSyncJob creates a queued CRM sync job for a program.
func (h *Handlers) EnqueueCrmSyncJob(w http.ResponseWriter, r *http.Request) {
	programID := chi.URLParam(r, "programID")

	var req enqueueSyncJobRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		httputil.BadRequest(w, "reason is required")
		return
	}

	job, err := h.queue.Enqueue(r.Context(), programID, actorUserID(r), req.Reason, req.Payload, req.MaxAttempts)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, job)
}

// ListCrmSyncJobs returns a program's jobs newest-first, optionally
// filtered by ?status= and paginated with ?limit=/?offset=.
func (h *Handlers) ListCrmSyncJobs(w http.ResponseWriter, r *http.Request) {
	programID := chi.URLParam(r, "programID")

	f := programs.JobListFilter{
		Status: domain.CrmSyncJobStatus(r.URL.Query().Get("status")),
		Limit:  httputil.QueryInt(r, "limit", 0),
		Offset: httputil.QueryInt(r, "offset", 0),
	}

	jobs, err := h.queue.List(r.Context(), programID, f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.CrmSyncJob{}
	}
	httputil.OK(w, map[string]any{"jobs": jobs, "count": len(jobs)})
}

type availabilityWindowRequest struct {
	UserID   string    `json:"user_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// ReplaceAvailability wholesale-replaces a program's availability windows.
func (h *Handlers) ReplaceAvailability(w http.ResponseWriter, r *http.Request) {
	programID := chi.URLParam(r, "programID")

	var req struct {
		Windows []availabilityWindowRequest `json:"windows"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	windows := make([]domain.AvailabilityWindow, 0, len(req.Windows))
	for _, in := range req.Windows {
		if in.UserID == "" {
			httputil.BadRequest(w, "window user_id is required")
			return
		}
		if !in.EndsAt.After(in.StartsAt) {
			httputil.BadRequest(w, "window ends_at must be after starts_at")
			return
		}
		windows = append(windows, domain.AvailabilityWindow{
			ProgramID: programID,
			UserID:    in.UserID,
			StartsAt:  in.StartsAt,
			EndsAt:    in.EndsAt,
		})
	}

	if err := h.repo.ReplaceAvailabilityWindows(r.Context(), programID, windows); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"replaced": len(windows)})
}

type matchRequest struct {
	AttendeeUserIDs []string `json:"attendee_user_ids"`
	DurationMinutes int      `json:"duration_minutes"`
}

// MatchSchedule finds the first common slot for a set of attendees.
// No-availability and no-common-slot outcomes are 404s with a
// machine-readable code, not server errors.
func (h *Handlers) MatchSchedule(w http.ResponseWriter, r *http.Request) {
	programID := chi.URLParam(r, "programID")

	var req matchRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.AttendeeUserIDs) == 0 {
		httputil.BadRequest(w, "attendee_user_ids is required")
		return
	}
	if req.DurationMinutes <= 0 {
		httputil.BadRequest(w, "duration_minutes must be positive")
		return
	}

	result, err := h.matcher.Match(r.Context(), programID, req.AttendeeUserIDs, req.DurationMinutes)
	switch {
	case errors.Is(err, programs.ErrNoAvailability):
		httputil.ErrorCode(w, http.StatusNotFound, err.Error(), "no_availability")
	case errors.Is(err, programs.ErrNoCommonSlot):
		httputil.ErrorCode(w, http.StatusNotFound, err.Error(), "no_common_slot")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, result)
	}
}

type sessionIntegrationRequest struct {
	Provider               string `json:"provider"`
	MeetingURL             string `json:"meeting_url"`
	RecordingURL           string `json:"recording_url"`
	ReminderOffsetsMinutes []int  `json:"reminder_offsets_minutes"`
}

// UpsertSessionIntegration creates or replaces a session's meeting and
// reminder configuration.
func (h *Handlers) UpsertSessionIntegration(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sessionIntegrationRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Provider == "" {
		httputil.BadRequest(w, "provider is required")
		return
	}
	for _, off := range req.ReminderOffsetsMinutes {
		if off <= 0 {
			httputil.BadRequest(w, "reminder offsets must be positive minutes")
			return
		}
	}

	integ := domain.SessionIntegration{
		SessionID:              sessionID,
		Provider:               req.Provider,
		MeetingURL:             req.MeetingURL,
		RecordingURL:           req.RecordingURL,
		ReminderOffsetsMinutes: req.ReminderOffsetsMinutes,
	}
	if err := h.repo.UpsertSessionIntegration(r.Context(), integ); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, integ)
}

// GetSessionIntegration returns a session's integration record.
func (h *Handlers) GetSessionIntegration(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	integ, err := h.repo.GetSessionIntegration(r.Context(), sessionID)
	if errors.Is(err, programs.ErrNotFound) {
		httputil.NotFound(w, "session integration not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, integ)
}

type runJobRequest struct {
	Job string `json:"job"`
	worker.RunOptions
}

// RunJob triggers a single synchronous run of one scheduled job and
// returns its run report.
func (h *Handlers) RunJob(w http.ResponseWriter, r *http.Request) {
	var req runJobRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Job == "" {
		httputil.BadRequest(w, "job is required")
		return
	}

	rep, err := h.scheduler.RunJob(r.Context(), req.Job, req.RunOptions)
	if errors.Is(err, worker.ErrUnknownJob) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rep)
}
