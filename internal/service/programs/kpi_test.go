package programs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkhaven/platform/internal/domain"
	"github.com/inkhaven/platform/internal/pkg/distlock"
	"github.com/inkhaven/platform/internal/repository/memory"
	"github.com/inkhaven/platform/internal/service/programs"
)

type stubLock struct {
	held bool
}

func (l *stubLock) Acquire(context.Context) (bool, error) { return !l.held, nil }
func (l *stubLock) Release(context.Context) error         { return nil }

func TestKpiAggregatorWritesSnapshots(t *testing.T) {
	repo := memory.NewProgramsRepository()
	agg := programs.NewKpiAggregator(repo, nil)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.SetNow(func() time.Time { return now })

	seed := func(id, program string, status domain.CrmSyncJobStatus) {
		require.NoError(t, repo.QueueCrmSyncJob(ctx, &domain.CrmSyncJob{
			ID: id, ProgramID: program, Status: status, MaxAttempts: 5, CreatedAt: now,
		}))
	}
	seed("j1", "prog-1", domain.SyncJobQueued)
	seed("j2", "prog-1", domain.SyncJobQueued)
	seed("j3", "prog-1", domain.SyncJobDeadLetter)
	seed("j4", "prog-2", domain.SyncJobSucceeded)

	n, err := agg.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s1, ok := repo.Snapshot("prog-1")
	require.True(t, ok)
	assert.Equal(t, 2, s1.QueuedSyncJobs)
	assert.Equal(t, 1, s1.DeadLetterSyncJobs)
	assert.Equal(t, 0, s1.SucceededSyncJobs)

	s2, ok := repo.Snapshot("prog-2")
	require.True(t, ok)
	assert.Equal(t, 1, s2.SucceededSyncJobs)
}

func TestKpiAggregatorSkipsWhenLockHeld(t *testing.T) {
	repo := memory.NewProgramsRepository()
	lock := &stubLock{held: true}
	agg := programs.NewKpiAggregator(repo, func(string) distlock.DistLock { return lock })
	ctx := context.Background()

	require.NoError(t, repo.QueueCrmSyncJob(ctx, &domain.CrmSyncJob{
		ID: "j1", ProgramID: "prog-1", Status: domain.SyncJobQueued, MaxAttempts: 5,
	}))

	n, err := agg.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, ok := repo.Snapshot("prog-1")
	assert.False(t, ok)

	lock.held = false
	n, err = agg.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
