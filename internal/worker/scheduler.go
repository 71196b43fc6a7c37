package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/inkhaven/platform/internal/service/programs"
)

// =============================================================================
// PROGRAMS JOB SCHEDULER
// =============================================================================
// Ticks the five scheduled jobs on a fixed interval and exposes a manual
// single-run entry point for the admin "run now" endpoint. Multiple
// replicas may run this concurrently: the CRM queue is safe because its
// claim is exclusive, the reminder and cohort jobs because their writes
// are idempotent. No leader election, no in-process mutual exclusion.

// Job names accepted by RunJob and reported in run summaries.
const (
	JobCrmSyncDispatcher      = "crm_sync_dispatcher"
	JobApplicationSLAReminder = "application_sla_reminder"
	JobSessionReminder        = "session_reminder"
	JobCohortTransition       = "cohort_transition"
	JobKpiAggregation         = "kpi_aggregation"
)

// ErrUnknownJob is returned by RunJob for names outside the five kinds.
var ErrUnknownJob = errors.New("unknown scheduled job")

// Config tunes the scheduler. Zero values select the documented defaults.
type Config struct {
	Enabled                bool
	Interval               time.Duration // default 60s
	SyncBatchLimit         int
	ReminderLimit          int
	ApplicationAgeMinutes  int
	SessionHorizonMinutes  int
	SessionLookbackMinutes int
}

// RunOptions overrides per-run parameters for a manual invocation.
// Zero values fall back to the scheduler's configured defaults.
type RunOptions struct {
	Limit           int `json:"limit,omitempty"`
	AgeMinutes      int `json:"ageMinutes,omitempty"`
	HorizonMinutes  int `json:"horizonMinutes,omitempty"`
	LookbackMinutes int `json:"lookbackMinutes,omitempty"`
}

// Scheduler drives the programs core's periodic jobs.
type Scheduler struct {
	dispatcher *programs.SyncDispatcher
	reminders  *programs.ReminderDispatcher
	cohorts    *programs.CohortTransitioner
	kpis       *programs.KpiAggregator
	cfg        Config

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewScheduler wires the scheduler over the four job services.
func NewScheduler(dispatcher *programs.SyncDispatcher, reminders *programs.ReminderDispatcher,
	cohorts *programs.CohortTransitioner, kpis *programs.KpiAggregator, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	return &Scheduler{
		dispatcher: dispatcher,
		reminders:  reminders,
		cohorts:    cohorts,
		kpis:       kpis,
		cfg:        cfg,
	}
}

// Start begins the ticking loop. When the scheduler is disabled by config
// this is a no-op. Starting twice returns an error.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		log.Printf("[Scheduler] Disabled by config, not starting")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[Scheduler] Starting with interval %v", s.cfg.Interval)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels the ticker and waits for an in-flight tick to finish.
// Idempotent: safe to call twice or before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Printf("[Scheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.ctx)
		}
	}
}

// tick runs every job kind once. Each run is isolated: a panic or error
// in one job never prevents the others from running in the same tick.
func (s *Scheduler) tick(ctx context.Context) {
	for _, name := range []string{
		JobCrmSyncDispatcher,
		JobApplicationSLAReminder,
		JobSessionReminder,
		JobCohortTransition,
		JobKpiAggregation,
	} {
		s.runIsolated(ctx, name)
	}
}

func (s *Scheduler) runIsolated(ctx context.Context, name string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scheduler] Job %s panicked: %v\n%s", name, r, debug.Stack())
		}
	}()

	rep, err := s.RunJob(ctx, name, RunOptions{})
	if err != nil {
		log.Printf("[Scheduler] Job %s failed: %v", name, err)
		return
	}
	if rep.Scanned > 0 || rep.Processed > 0 || rep.Failed > 0 {
		log.Printf("[Scheduler] Job %s: scanned=%d processed=%d failed=%d",
			name, rep.Scanned, rep.Processed, rep.Failed)
	}
}

// RunJob synchronously runs exactly one named job, bypassing the ticker.
// Safe to call concurrently with an active ticker; the underlying
// operations tolerate overlapping runs (see package comment).
func (s *Scheduler) RunJob(ctx context.Context, name string, opts RunOptions) (programs.RunReport, error) {
	switch name {
	case JobCrmSyncDispatcher:
		limit := opts.Limit
		if limit <= 0 {
			limit = s.cfg.SyncBatchLimit
		}
		return s.dispatcher.DispatchPending(ctx, limit)

	case JobApplicationSLAReminder:
		return s.reminders.RunApplicationSLA(ctx, s.reminderOptions(opts))

	case JobSessionReminder:
		return s.reminders.RunSessionReminders(ctx, s.reminderOptions(opts))

	case JobCohortTransition:
		n, err := s.cohorts.Run(ctx)
		rep := programs.RunReport{Job: name, Scanned: n, Processed: n}
		return rep, err

	case JobKpiAggregation:
		n, err := s.kpis.Run(ctx)
		rep := programs.RunReport{Job: name, Scanned: n, Processed: n}
		return rep, err

	default:
		return programs.RunReport{Job: name}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
}

func (s *Scheduler) reminderOptions(opts RunOptions) programs.ReminderOptions {
	out := programs.ReminderOptions{
		Limit:           opts.Limit,
		AgeMinutes:      opts.AgeMinutes,
		HorizonMinutes:  opts.HorizonMinutes,
		LookbackMinutes: opts.LookbackMinutes,
	}
	if out.Limit <= 0 {
		out.Limit = s.cfg.ReminderLimit
	}
	if out.AgeMinutes <= 0 {
		out.AgeMinutes = s.cfg.ApplicationAgeMinutes
	}
	if out.HorizonMinutes <= 0 {
		out.HorizonMinutes = s.cfg.SessionHorizonMinutes
	}
	if out.LookbackMinutes <= 0 {
		out.LookbackMinutes = s.cfg.SessionLookbackMinutes
	}
	return out
}
