// Package events is the client for the internal notification/CRM gateway.
// Every outbound program event — CRM syncs, application SLA reminders,
// session reminders — goes through one POST endpoint on the gateway,
// which fans out to the CRM and the members' notification channels.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/inkhaven/platform/internal/config"
	"github.com/inkhaven/platform/internal/domain"
	"github.com/inkhaven/platform/internal/pkg/httpretry"
	"github.com/inkhaven/platform/internal/pkg/logger"
)

// Event types emitted by the programs core.
const (
	EventCrmSync             = "program.crm.sync"
	EventApplicationReminder = "program.application.reminder"
	EventSessionReminder     = "program.session.reminder"
)

// Event is the gateway's wire envelope.
type Event struct {
	EventID      string         `json:"eventId"`
	EventType    string         `json:"eventType"`
	OccurredAt   time.Time      `json:"occurredAt"`
	ActorUserID  string         `json:"actorUserId,omitempty"`
	TargetUserID string         `json:"targetUserId,omitempty"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Client posts events to the gateway. Any transport error or HTTP status
// >= 400 is a failure; the caller's retry state machine decides what
// happens next. The embedded retry client only smooths over transient
// 5xx/429 responses within a single logical attempt.
type Client struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, cfg.MaxRetries),
	}
}

// Publish sends one event. An empty EventID is filled in.
func (c *Client) Publish(ctx context.Context, ev Event) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/internal/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// Gateway error bodies can echo member emails; never let those
		// reach logs or job last_error columns unmasked.
		return fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, logger.Redact(string(msg)))
	}
	return nil
}

// PublishCrmSync emits the sync event for one claimed job.
func (c *Client) PublishCrmSync(ctx context.Context, job *domain.CrmSyncJob) error {
	payload := map[string]any{
		"programId": job.ProgramID,
		"reason":    job.Reason,
		"attempt":   job.Attempts,
		"sync":      job.Payload,
	}
	return c.Publish(ctx, Event{
		EventType:    EventCrmSync,
		ActorUserID:  job.TriggeredByUserID,
		ResourceType: "program_crm_sync_job",
		ResourceID:   job.ID,
		Payload:      payload,
	})
}

// PublishApplicationReminder emits the SLA reminder for one application.
func (c *Client) PublishApplicationReminder(ctx context.Context, cand domain.ApplicationReminderCandidate) error {
	return c.Publish(ctx, Event{
		EventType:    EventApplicationReminder,
		TargetUserID: cand.ApplicantUserID,
		ResourceType: "program_application",
		ResourceID:   cand.ApplicationID,
		Payload: map[string]any{
			"programId":   cand.ProgramID,
			"status":      cand.Status,
			"submittedAt": cand.SubmittedAt,
		},
	})
}

// PublishSessionReminder emits the reminder for one session attendee.
func (c *Client) PublishSessionReminder(ctx context.Context, cand domain.SessionReminderCandidate) error {
	return c.Publish(ctx, Event{
		EventType:    EventSessionReminder,
		TargetUserID: cand.AttendeeUserID,
		ResourceType: "program_session",
		ResourceID:   cand.SessionID,
		Payload: map[string]any{
			"programId":     cand.ProgramID,
			"offsetMinutes": cand.OffsetMinutes,
			"startsAt":      cand.StartsAt,
		},
	})
}
