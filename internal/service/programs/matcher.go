package programs

import (
	"context"
	"fmt"
	"time"

	"github.com/inkhaven/platform/internal/domain"
)

// Matcher computes a common free slot across attendees' availability
// windows for a program.
type Matcher struct {
	repo Repository
}

// NewMatcher creates a matcher backed by the given repository.
func NewMatcher(repo Repository) *Matcher {
	return &Matcher{repo: repo}
}

// Match finds the first feasible slot of durationMinutes shared by every
// attendee. Returns ErrNoAvailability when any attendee has zero windows
// (regardless of the others), and ErrNoCommonSlot when no candidate
// window works out.
func (m *Matcher) Match(ctx context.Context, programID string, attendeeUserIDs []string, durationMinutes int) (*domain.SchedulingMatchResult, error) {
	if len(attendeeUserIDs) == 0 {
		return nil, ErrNoAvailability
	}

	byUser, err := m.repo.ListAvailabilityWindows(ctx, programID, attendeeUserIDs)
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}

	ordered := make([][]domain.AvailabilityWindow, len(attendeeUserIDs))
	for i, uid := range attendeeUserIDs {
		ws := byUser[uid]
		if len(ws) == 0 {
			return nil, fmt.Errorf("%w: user %s", ErrNoAvailability, uid)
		}
		ordered[i] = ws
	}

	start, ok := FirstCommonSlot(ordered, time.Duration(durationMinutes)*time.Minute)
	if !ok {
		return nil, ErrNoCommonSlot
	}

	return &domain.SchedulingMatchResult{
		StartsAt:        start,
		EndsAt:          start.Add(time.Duration(durationMinutes) * time.Minute),
		AttendeeUserIDs: attendeeUserIDs,
	}, nil
}

// FirstCommonSlot walks the first attendee's windows in ascending start
// order as candidates. For each candidate it keeps a running overlap,
// narrowing it against one window from each remaining attendee in turn; an
// attendee contributes the first of its windows whose intersection with
// the current overlap still sustains the duration. The first candidate
// that survives every attendee wins.
//
// This returns the earliest satisfiable window of the FIRST listed
// attendee, not a globally-earliest slot across all attendees. Callers
// depend on that tie-break; do not "improve" it.
func FirstCommonSlot(attendees [][]domain.AvailabilityWindow, duration time.Duration) (time.Time, bool) {
	if len(attendees) == 0 || duration <= 0 {
		return time.Time{}, false
	}

	for _, candidate := range attendees[0] {
		overlapStart, overlapEnd := candidate.StartsAt, candidate.EndsAt
		if overlapEnd.Sub(overlapStart) < duration {
			continue
		}

		feasible := true
		for _, other := range attendees[1:] {
			narrowed := false
			for _, w := range other {
				s := maxTime(overlapStart, w.StartsAt)
				e := minTime(overlapEnd, w.EndsAt)
				if e.Sub(s) >= duration {
					overlapStart, overlapEnd = s, e
					narrowed = true
					break
				}
			}
			if !narrowed {
				feasible = false
				break
			}
		}
		if feasible {
			return overlapStart, true
		}
	}

	return time.Time{}, false
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
