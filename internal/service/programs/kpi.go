package programs

import (
	"context"
	"log"

	"github.com/inkhaven/platform/internal/pkg/distlock"
)

// kpiLockKey serializes snapshot writes across replicas. The lock is a
// best-effort optimization for this job only; queue correctness never
// depends on it (that comes from the claim statement's row locking).
const kpiLockKey = "programs:kpi_aggregation"

// LockFactory builds a distributed lock for a key. Wired from cmd/ so the
// service layer stays ignorant of Redis/Postgres handles.
type LockFactory func(key string) distlock.DistLock

// KpiAggregator writes the periodic per-program queue rollups. When a lock
// factory is configured, only one replica per tick performs the write;
// the others skip silently.
type KpiAggregator struct {
	repo    Repository
	newLock LockFactory
}

// NewKpiAggregator creates the aggregator. newLock may be nil, in which
// case every run writes unconditionally.
func NewKpiAggregator(repo Repository, newLock LockFactory) *KpiAggregator {
	return &KpiAggregator{repo: repo, newLock: newLock}
}

// Run collects current rollups and upserts one snapshot row per program.
// Returns the number of snapshots written.
func (a *KpiAggregator) Run(ctx context.Context) (int, error) {
	if a.newLock != nil {
		lock := a.newLock(kpiLockKey)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		if !acquired {
			log.Printf("[KpiAggregator] Snapshot held by another replica, skipping")
			return 0, nil
		}
		defer lock.Release(ctx)
	}

	snaps, err := a.repo.CollectProgramKpis(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, s := range snaps {
		if err := a.repo.UpsertProgramKpiSnapshot(ctx, s); err != nil {
			log.Printf("[KpiAggregator] Snapshot write for program %s failed: %v", s.ProgramID, err)
			continue
		}
		written++
	}
	return written, nil
}
