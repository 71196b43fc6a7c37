package programs

import (
	"context"
	"log"
)

// Reminder scan defaults, used when the caller passes zero values.
const (
	DefaultReminderLimit          = 100
	DefaultApplicationAgeMinutes  = 2880 // 48h review SLA
	DefaultSessionHorizonMinutes  = 120
	DefaultSessionLookbackMinutes = 15
)

// ReminderOptions tunes one reminder scan. The application scan uses
// AgeMinutes; the session scan uses HorizonMinutes and LookbackMinutes.
type ReminderOptions struct {
	Limit           int
	AgeMinutes      int
	HorizonMinutes  int
	LookbackMinutes int
}

func (o *ReminderOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = DefaultReminderLimit
	}
	if o.AgeMinutes <= 0 {
		o.AgeMinutes = DefaultApplicationAgeMinutes
	}
	if o.HorizonMinutes <= 0 {
		o.HorizonMinutes = DefaultSessionHorizonMinutes
	}
	if o.LookbackMinutes <= 0 {
		o.LookbackMinutes = DefaultSessionLookbackMinutes
	}
}

// ReminderDispatcher runs the two reminder scans. Candidates arrive
// pre-filtered against the dedupe table; for each one the dispatcher sends
// through the gateway and only then writes the dedupe marker. That order
// gives at-most-one delivery in the common case but admits a narrow
// duplicate window if the process crashes between a successful send and
// the marker write — a documented limitation, accepted as-is. The same
// window exists between two concurrent scans that both read before either
// writes; the marker insert itself is conflict-free either way.
type ReminderDispatcher struct {
	repo    Repository
	gateway Gateway
}

// NewReminderDispatcher creates a dispatcher over the repository and gateway.
func NewReminderDispatcher(repo Repository, gateway Gateway) *ReminderDispatcher {
	return &ReminderDispatcher{repo: repo, gateway: gateway}
}

// RunApplicationSLA sends one reminder per aged application still in
// submitted/under_review. Per-candidate errors are counted, not returned.
func (d *ReminderDispatcher) RunApplicationSLA(ctx context.Context, opts ReminderOptions) (RunReport, error) {
	opts.applyDefaults()
	rep := RunReport{Job: "application_sla_reminder"}

	candidates, err := d.repo.ListApplicationReminderCandidates(ctx, opts.AgeMinutes, opts.Limit)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(candidates)

	for _, c := range candidates {
		if err := d.gateway.PublishApplicationReminder(ctx, c); err != nil {
			rep.Failed++
			log.Printf("[ReminderDispatcher] Application reminder %s send failed: %v", c.DedupeKey(), err)
			continue
		}
		payload := map[string]any{
			"programId":     c.ProgramID,
			"applicationId": c.ApplicationID,
			"status":        c.Status,
		}
		if err := d.repo.MarkApplicationReminderSent(ctx, c.ProgramID, c.ApplicationID, payload); err != nil {
			rep.Failed++
			log.Printf("[ReminderDispatcher] Application reminder %s marker write failed: %v", c.DedupeKey(), err)
			continue
		}
		rep.Processed++
	}

	return rep, nil
}

// RunSessionReminders sends one reminder per (session, attendee, offset)
// tuple for sessions starting inside the scan window.
func (d *ReminderDispatcher) RunSessionReminders(ctx context.Context, opts ReminderOptions) (RunReport, error) {
	opts.applyDefaults()
	rep := RunReport{Job: "session_reminder"}

	candidates, err := d.repo.ListSessionReminderCandidates(ctx, opts.HorizonMinutes, opts.LookbackMinutes, opts.Limit)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(candidates)

	for _, c := range candidates {
		if err := d.gateway.PublishSessionReminder(ctx, c); err != nil {
			rep.Failed++
			log.Printf("[ReminderDispatcher] Session reminder %s send failed: %v", c.DedupeKey(), err)
			continue
		}
		payload := map[string]any{
			"programId":     c.ProgramID,
			"sessionId":     c.SessionID,
			"userId":        c.AttendeeUserID,
			"offsetMinutes": c.OffsetMinutes,
			"startsAt":      c.StartsAt,
		}
		if err := d.repo.MarkSessionReminderSent(ctx, c.ProgramID, c.SessionID, c.AttendeeUserID, c.OffsetMinutes, payload); err != nil {
			rep.Failed++
			log.Printf("[ReminderDispatcher] Session reminder %s marker write failed: %v", c.DedupeKey(), err)
			continue
		}
		rep.Processed++
	}

	return rep, nil
}
