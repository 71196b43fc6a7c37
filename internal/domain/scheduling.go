package domain

import "time"

// AvailabilityWindow is one raw half-open interval [StartsAt, EndsAt)
// during which a user can attend. Windows are consumed exactly as given:
// no overlap-merging, multiple windows per user permitted. The full window
// set of a program is wholesale-replaced on each administrative update.
type AvailabilityWindow struct {
	ID        string    `json:"id" db:"id"`
	ProgramID string    `json:"program_id" db:"program_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	StartsAt  time.Time `json:"starts_at" db:"starts_at"`
	EndsAt    time.Time `json:"ends_at" db:"ends_at"`
}

// SchedulingMatchResult is the ephemeral outcome of a common-slot search.
// It is returned to the caller and never persisted.
type SchedulingMatchResult struct {
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	AttendeeUserIDs []string  `json:"attendee_user_ids"`
}
