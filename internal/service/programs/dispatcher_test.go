package programs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkhaven/platform/internal/domain"
	"github.com/inkhaven/platform/internal/repository/memory"
	"github.com/inkhaven/platform/internal/service/programs"
)

func TestDispatchPendingDrainsQueue(t *testing.T) {
	repo := memory.NewProgramsRepository()
	queue := programs.NewSyncQueue(repo)
	gw := &fakeGateway{}
	d := programs.NewSyncDispatcher(queue, gw)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := queue.Enqueue(ctx, "prog-1", "admin-1", "roster_change", domain.CrmSyncPayload{}, 0)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	rep, err := d.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 0, rep.Failed)
	assert.Len(t, gw.syncJobs, 3)

	for _, id := range ids {
		assert.Equal(t, domain.SyncJobSucceeded, repo.GetJob(id).Status)
	}

	// Empty queue: the loop stops at the first nil claim.
	rep, err = d.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Scanned)
}

func TestDispatchPendingHonorsLimit(t *testing.T) {
	repo := memory.NewProgramsRepository()
	queue := programs.NewSyncQueue(repo)
	d := programs.NewSyncDispatcher(queue, &fakeGateway{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := queue.Enqueue(ctx, "prog-1", "admin-1", "manual", domain.CrmSyncPayload{}, 0)
		require.NoError(t, err)
	}

	rep, err := d.DispatchPending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Processed)

	remaining, err := queue.List(ctx, "prog-1", programs.JobListFilter{Status: domain.SyncJobQueued})
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}

func TestDispatchGatewayFailureDrivesRetry(t *testing.T) {
	repo := memory.NewProgramsRepository()
	queue := programs.NewSyncQueue(repo)
	gw := &fakeGateway{failSync: errors.New("crm 503")}
	d := programs.NewSyncDispatcher(queue, gw)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.SetNow(func() time.Time { return now })

	job, err := queue.Enqueue(ctx, "prog-1", "admin-1", "manual", domain.CrmSyncPayload{}, 3)
	require.NoError(t, err)

	rep, err := d.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, 1, rep.Failed)

	stored := repo.GetJob(job.ID)
	assert.Equal(t, domain.SyncJobFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "crm 503", stored.LastError)
	assert.Equal(t, now.Add(30*time.Second), stored.NextAttemptAt)
}

func TestDispatchExhaustsBudgetToDeadLetter(t *testing.T) {
	repo := memory.NewProgramsRepository()
	queue := programs.NewSyncQueue(repo)
	gw := &fakeGateway{failSync: errors.New("crm down")}
	d := programs.NewSyncDispatcher(queue, gw)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.SetNow(func() time.Time { return now })

	job, err := queue.Enqueue(ctx, "prog-1", "admin-1", "manual", domain.CrmSyncPayload{}, 2)
	require.NoError(t, err)

	// Attempt 1 fails, backs off 30s.
	_, err = d.DispatchPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, domain.SyncJobFailed, repo.GetJob(job.ID).Status)

	// Attempt 2 (after backoff) exhausts the budget.
	repo.SetNow(func() time.Time { return now.Add(time.Minute) })
	_, err = d.DispatchPending(ctx, 10)
	require.NoError(t, err)

	stored := repo.GetJob(job.ID)
	assert.Equal(t, domain.SyncJobDeadLetter, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.NotNil(t, stored.ProcessedAt)

	// Dead letter is terminal: nothing left to dispatch.
	rep, err := d.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Scanned)
}
