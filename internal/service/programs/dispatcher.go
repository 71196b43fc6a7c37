package programs

import (
	"context"
	"log"
)

// DefaultDispatchBatch bounds how many jobs one dispatcher run will claim.
const DefaultDispatchBatch = 20

// RunReport summarizes one run of any scheduled job. Scanned is the number
// of work items fetched/claimed, Processed the number fully handled, and
// Failed the number where any step raised.
type RunReport struct {
	Job       string `json:"job"`
	Scanned   int    `json:"scanned"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// SyncDispatcher drains the CRM sync queue: it claims eligible jobs one at
// a time and resolves each claim to a terminal-for-this-attempt state.
// The gateway call is blocking I/O with no cancellation; whatever its
// outcome, the job ends the attempt as succeeded, failed, or dead_letter.
//
// There is deliberately no lease or heartbeat reclaim for jobs stuck in
// running after a worker crash. That is a known gap in this design, left
// open rather than papered over with a timeout policy the rest of the
// system does not account for.
type SyncDispatcher struct {
	queue   *SyncQueue
	gateway Gateway
}

// NewSyncDispatcher creates a dispatcher over the given queue and gateway.
func NewSyncDispatcher(queue *SyncQueue, gateway Gateway) *SyncDispatcher {
	return &SyncDispatcher{queue: queue, gateway: gateway}
}

// DispatchPending claims and dispatches up to limit jobs (default 20).
// Per-job gateway failures drive the retry state machine and are counted,
// never returned; only claim-statement errors abort the run.
func (d *SyncDispatcher) DispatchPending(ctx context.Context, limit int) (RunReport, error) {
	if limit <= 0 {
		limit = DefaultDispatchBatch
	}
	rep := RunReport{Job: "crm_sync_dispatcher"}

	for i := 0; i < limit; i++ {
		job, err := d.queue.ClaimNext(ctx)
		if err != nil {
			return rep, err
		}
		if job == nil {
			break
		}
		rep.Scanned++

		if err := d.gateway.PublishCrmSync(ctx, job); err != nil {
			rep.Failed++
			log.Printf("[SyncDispatcher] Job %s attempt %d/%d failed: %v",
				job.ID, job.Attempts, job.MaxAttempts, err)
			if ferr := d.queue.Fail(ctx, job.ID, err.Error()); ferr != nil {
				log.Printf("[SyncDispatcher] Could not record failure for job %s: %v", job.ID, ferr)
			}
			continue
		}

		if err := d.queue.Complete(ctx, job.ID); err != nil {
			rep.Failed++
			log.Printf("[SyncDispatcher] Could not complete job %s: %v", job.ID, err)
			continue
		}
		rep.Processed++
	}

	return rep, nil
}
