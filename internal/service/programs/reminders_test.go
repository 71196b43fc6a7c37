package programs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkhaven/platform/internal/domain"
	"github.com/inkhaven/platform/internal/repository/memory"
	"github.com/inkhaven/platform/internal/service/programs"
)

// fakeGateway records published events and can fail on demand.
type fakeGateway struct {
	mu           sync.Mutex
	syncJobs     []domain.CrmSyncJob
	appReminders []domain.ApplicationReminderCandidate
	sessReminds  []domain.SessionReminderCandidate
	failSync     error
	failApp      error
	failSession  error
}

func (g *fakeGateway) PublishCrmSync(_ context.Context, job *domain.CrmSyncJob) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSync != nil {
		return g.failSync
	}
	g.syncJobs = append(g.syncJobs, *job)
	return nil
}

func (g *fakeGateway) PublishApplicationReminder(_ context.Context, c domain.ApplicationReminderCandidate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failApp != nil {
		return g.failApp
	}
	g.appReminders = append(g.appReminders, c)
	return nil
}

func (g *fakeGateway) PublishSessionReminder(_ context.Context, c domain.SessionReminderCandidate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSession != nil {
		return g.failSession
	}
	g.sessReminds = append(g.sessReminds, c)
	return nil
}

func TestApplicationSLARemindersOnce(t *testing.T) {
	repo := memory.NewProgramsRepository()
	gw := &fakeGateway{}
	d := programs.NewReminderDispatcher(repo, gw)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.SetNow(func() time.Time { return now })

	// Aged past the 48h SLA.
	repo.SeedApplication("app-1", "prog-1", "writer-1", "submitted", now.Add(-49*time.Hour))
	// Too fresh.
	repo.SeedApplication("app-2", "prog-1", "writer-2", "submitted", now.Add(-1*time.Hour))
	// Aged but already decided.
	repo.SeedApplication("app-3", "prog-1", "writer-3", "accepted", now.Add(-72*time.Hour))

	rep, err := d.RunApplicationSLA(ctx, programs.ReminderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 0, rep.Failed)
	require.Len(t, gw.appReminders, 1)
	assert.Equal(t, "app-1", gw.appReminders[0].ApplicationID)

	sent, err := repo.HasApplicationReminderBeenSent(ctx, "prog-1", "app-1")
	require.NoError(t, err)
	assert.True(t, sent)

	// A second run finds nothing: the dedupe filter is in the query.
	rep, err = d.RunApplicationSLA(ctx, programs.ReminderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Scanned)
	assert.Len(t, gw.appReminders, 1)
}

func TestApplicationReminderSendFailureLeavesNoMarker(t *testing.T) {
	repo := memory.NewProgramsRepository()
	gw := &fakeGateway{failApp: errors.New("gateway down")}
	d := programs.NewReminderDispatcher(repo, gw)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.SetNow(func() time.Time { return now })
	repo.SeedApplication("app-1", "prog-1", "writer-1", "under_review", now.Add(-72*time.Hour))

	rep, err := d.RunApplicationSLA(ctx, programs.ReminderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, 0, rep.Processed)
	assert.Equal(t, 1, rep.Failed)

	// No marker written, so the next healthy run retries the send.
	sent, err := repo.HasApplicationReminderBeenSent(ctx, "prog-1", "app-1")
	require.NoError(t, err)
	assert.False(t, sent)

	gw.failApp = nil
	rep, err = d.RunApplicationSLA(ctx, programs.ReminderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
}

func TestSessionRemindersDefaultOffset(t *testing.T) {
	repo := memory.NewProgramsRepository()
	gw := &fakeGateway{}
	d := programs.NewReminderDispatcher(repo, gw)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.SetNow(func() time.Time { return now })

	// Starts in 45 minutes: inside the default 60-minute offset.
	repo.SeedSession("sess-1", "prog-1", now.Add(45*time.Minute), "writer-1", "writer-2")
	// Starts in 3 hours: the 60-minute offset is not yet due.
	repo.SeedSession("sess-2", "prog-1", now.Add(3*time.Hour), "writer-3")

	rep, err := d.RunSessionReminders(ctx, programs.ReminderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 2, rep.Processed)
	require.Len(t, gw.sessReminds, 2)
	for _, c := range gw.sessReminds {
		assert.Equal(t, "sess-1", c.SessionID)
		assert.Equal(t, 60, c.OffsetMinutes)
	}

	// Re-run: both tuples are deduped.
	rep, err = d.RunSessionReminders(ctx, programs.ReminderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Scanned)
}

func TestSessionRemindersConfiguredOffsets(t *testing.T) {
	repo := memory.NewProgramsRepository()
	gw := &fakeGateway{}
	d := programs.NewReminderDispatcher(repo, gw)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.SetNow(func() time.Time { return now })

	repo.SeedSession("sess-1", "prog-1", now.Add(10*time.Minute), "writer-1")
	require.NoError(t, repo.UpsertSessionIntegration(ctx, domain.SessionIntegration{
		SessionID:              "sess-1",
		Provider:               "zoom",
		ReminderOffsetsMinutes: []int{60, 15},
	}))

	rep, err := d.RunSessionReminders(ctx, programs.ReminderOptions{})
	require.NoError(t, err)
	// Both offsets are already due 10 minutes before start.
	assert.Equal(t, 2, rep.Processed)

	offsets := map[int]bool{}
	for _, c := range gw.sessReminds {
		offsets[c.OffsetMinutes] = true
	}
	assert.True(t, offsets[60])
	assert.True(t, offsets[15])
}

func TestSessionRemindersLookbackExcludesStarted(t *testing.T) {
	repo := memory.NewProgramsRepository()
	gw := &fakeGateway{}
	d := programs.NewReminderDispatcher(repo, gw)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.SetNow(func() time.Time { return now })

	// Started 10 minutes ago: still inside the 15-minute lookback.
	repo.SeedSession("sess-recent", "prog-1", now.Add(-10*time.Minute), "writer-1")
	// Started an hour ago: outside the lookback, never reminded.
	repo.SeedSession("sess-old", "prog-1", now.Add(-time.Hour), "writer-2")

	rep, err := d.RunSessionReminders(ctx, programs.ReminderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
	require.Len(t, gw.sessReminds, 1)
	assert.Equal(t, "sess-recent", gw.sessReminds[0].SessionID)
}

func TestSessionReminderDedupeKeyIsPerAttendeeAndOffset(t *testing.T) {
	assert.Equal(t, "session-reminder:p:s:u:60", domain.SessionReminderKey("p", "s", "u", 60))
	assert.Equal(t, "app-reminder:p:a", domain.ApplicationReminderKey("p", "a"))
	c := domain.SessionReminderCandidate{ProgramID: "p", SessionID: "s", AttendeeUserID: "u", OffsetMinutes: 15}
	assert.Equal(t, "session-reminder:p:s:u:15", c.DedupeKey())
}
