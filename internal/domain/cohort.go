package domain

import "time"

// CohortMembershipStatus enumerates the membership states touched by the
// transition job. The membership rows themselves are owned by the cohort
// CRUD collaborator; this subsystem only flips active members of expired
// cohorts to completed.
type CohortMembershipStatus string

const (
	MembershipActive    CohortMembershipStatus = "active"
	MembershipCompleted CohortMembershipStatus = "completed"
)

// CohortMembership ties a user to a time-boxed cohort.
type CohortMembership struct {
	ID        string                 `json:"id" db:"id"`
	CohortID  string                 `json:"cohort_id" db:"cohort_id"`
	UserID    string                 `json:"user_id" db:"user_id"`
	Status    CohortMembershipStatus `json:"status" db:"status"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}
