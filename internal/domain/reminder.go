package domain

import (
	"fmt"
	"time"
)

// Notification types recorded on dedupe markers.
const (
	NotificationApplicationReminder = "application_sla_reminder"
	NotificationSessionReminder     = "session_reminder"
)

// DefaultReminderOffsetsMinutes is used when a session has no integration
// record or the record configures no offsets.
var DefaultReminderOffsetsMinutes = []int{60}

// NotificationDedupeRecord marks one logical reminder as sent. Records are
// written once, read many times, and never updated or deleted.
type NotificationDedupeRecord struct {
	DedupeKey        string         `json:"dedupe_key" db:"dedupe_key"`
	NotificationType string         `json:"notification_type" db:"notification_type"`
	Payload          map[string]any `json:"payload" db:"payload"`
	SentAt           time.Time      `json:"sent_at" db:"sent_at"`
}

// ApplicationReminderKey builds the dedupe key for an application SLA
// reminder. One reminder per (program, application), ever.
func ApplicationReminderKey(programID, applicationID string) string {
	return fmt.Sprintf("app-reminder:%s:%s", programID, applicationID)
}

// SessionReminderKey builds the dedupe key for a session reminder. One
// reminder per (program, session, attendee, offset).
func SessionReminderKey(programID, sessionID, userID string, offsetMinutes int) string {
	return fmt.Sprintf("session-reminder:%s:%s:%s:%d", programID, sessionID, userID, offsetMinutes)
}

// ApplicationReminderCandidate is an aged application that has not yet
// received its SLA reminder. The dedupe filter is applied by the candidate
// query itself, so a candidate returned by the repository is always safe
// to send.
type ApplicationReminderCandidate struct {
	ProgramID       string    `json:"program_id"`
	ApplicationID   string    `json:"application_id"`
	ApplicantUserID string    `json:"applicant_user_id"`
	Status          string    `json:"status"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// DedupeKey returns the candidate's dedupe key.
func (c ApplicationReminderCandidate) DedupeKey() string {
	return ApplicationReminderKey(c.ProgramID, c.ApplicationID)
}

// SessionReminderCandidate is one (session, attendee, offset) tuple for an
// upcoming session, already filtered against the dedupe table.
type SessionReminderCandidate struct {
	ProgramID      string    `json:"program_id"`
	SessionID      string    `json:"session_id"`
	AttendeeUserID string    `json:"attendee_user_id"`
	OffsetMinutes  int       `json:"offset_minutes"`
	StartsAt       time.Time `json:"starts_at"`
}

// DedupeKey returns the candidate's dedupe key.
func (c SessionReminderCandidate) DedupeKey() string {
	return SessionReminderKey(c.ProgramID, c.SessionID, c.AttendeeUserID, c.OffsetMinutes)
}

// SessionIntegration holds the per-session meeting/reminder configuration
// managed through the admin surface.
type SessionIntegration struct {
	SessionID              string    `json:"session_id" db:"session_id"`
	Provider               string    `json:"provider" db:"provider"`
	MeetingURL             string    `json:"meeting_url" db:"meeting_url"`
	RecordingURL           string    `json:"recording_url" db:"recording_url"`
	ReminderOffsetsMinutes []int     `json:"reminder_offsets_minutes" db:"reminder_offsets_minutes"`
	UpdatedAt              time.Time `json:"updated_at" db:"updated_at"`
}
