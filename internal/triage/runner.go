package triage

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink receives outcomes and cycle reports. Errors are logged and never
// affect triage.
type Sink interface {
	RecordOutcome(ctx context.Context, out Outcome) error
	ObserveCycle(ctx context.Context, report CycleReport) error
}

// CycleReport summarizes one poll cycle
type CycleReport struct {
	ID               string     `json:"id"`
	Mode             Mode       `json:"mode"`
	CheckpointBefore Checkpoint `json:"checkpoint_before"`
	CheckpointAfter  Checkpoint `json:"checkpoint_after"`
	Candidates       int        `json:"candidates"`
	Outcomes         []Outcome  `json:"outcomes"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
}

// Status is a read-only snapshot of the runner for observers
type Status struct {
	Mode           Mode         `json:"mode"`
	Checkpoint     Checkpoint   `json:"checkpoint"`
	ProcessedCount int          `json:"processed_count"`
	Cycles         int          `json:"cycles"`
	LastCycle      *CycleReport `json:"last_cycle,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// RunnerConfig holds the runner's optional collaborators
type RunnerConfig struct {
	MessageDelay time.Duration
	Pacer        Pacer
	Sinks        []Sink
	Logger       *zap.Logger
}

// Runner orchestrates poll cycles for one inbox. Cycles run on the
// goroutine that calls RunOnce or Run; Status and Trigger are safe to call
// from any goroutine.
type Runner struct {
	tracker  *Tracker
	pipeline *Pipeline
	cfg      RunnerConfig
	logger   *zap.Logger

	trigger chan struct{}
	status  atomic.Pointer[Status]
	cycles  int
}

// NewRunner creates a runner over tracker and pipeline
func NewRunner(tracker *Tracker, pipeline *Pipeline, cfg RunnerConfig) *Runner {
	if cfg.Pacer == nil {
		cfg.Pacer = SleepPacer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		tracker:  tracker,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
	r.status.Store(&Status{Mode: tracker.Mode(), UpdatedAt: time.Now()})
	return r
}

// Status returns the latest published snapshot
func (r *Runner) Status() Status {
	return *r.status.Load()
}

// Trigger requests an immediate cycle from a running Run loop. It returns
// false when a request is already pending.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce performs a single poll cycle. A listing failure aborts the cycle
// and is returned; per-message failures are recorded in the report.
func (r *Runner) RunOnce(ctx context.Context) (CycleReport, error) {
	report := CycleReport{
		ID:               uuid.NewString(),
		Mode:             r.tracker.Mode(),
		CheckpointBefore: r.tracker.Checkpoint(),
		StartedAt:        time.Now(),
	}
	log := r.logger.With(zap.String("cycle_id", report.ID))

	if err := ctx.Err(); err != nil {
		return report, err
	}

	// Enumerate new messages
	msgs, mode, err := r.tracker.NewMessages(ctx)
	report.Mode = mode
	if err != nil {
		log.Error("cycle aborted", zap.String("mode", string(mode)), zap.Error(err))
		report.Error = err.Error()
		r.finish(ctx, &report)
		return report, err
	}
	report.Candidates = len(msgs)
	log.Info("found new messages", zap.String("mode", string(mode)), zap.Int("count", len(msgs)))

	var processed []MessageSummary
	for i, m := range msgs {
		if i > 0 {
			if err := r.cfg.Pacer.Wait(ctx, r.cfg.MessageDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		out := r.pipeline.Process(ctx, m)
		out.CycleID = report.ID
		report.Outcomes = append(report.Outcomes, out)
		r.record(ctx, out)
		if !out.Skipped {
			processed = append(processed, m)
		}
	}

	// Advance checkpoint
	r.tracker.Advance(processed)
	r.finish(ctx, &report)

	log.Info("cycle complete",
		zap.Int("processed", len(processed)),
		zap.Int64("checkpoint", report.CheckpointAfter.InternalDate))
	return report, nil
}

// Run polls until ctx is cancelled, waiting interval between the end of one
// cycle and the start of the next.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info("starting triage loop", zap.Duration("interval", interval))

	for {
		if ctx.Err() != nil {
			r.logger.Info("stopping triage loop")
			return nil
		}

		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("cycle failed, retrying next poll", zap.Error(err))
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("stopping triage loop")
			return nil
		case <-timer.C:
		case <-r.trigger:
			timer.Stop()
			r.logger.Info("cycle triggered")
		}
	}
}

func (r *Runner) record(ctx context.Context, out Outcome) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range r.cfg.Sinks {
		if err := s.RecordOutcome(ctx, out); err != nil {
			r.logger.Warn("sink failed to record outcome",
				zap.String("message_id", out.MessageID), zap.Error(err))
		}
	}
}

func (r *Runner) finish(ctx context.Context, report *CycleReport) {
	report.CheckpointAfter = r.tracker.Checkpoint()
	report.FinishedAt = time.Now()
	r.cycles++

	snapshot := *report
	snapshot.Outcomes = slices.Clone(report.Outcomes)
	r.status.Store(&Status{
		Mode:           r.tracker.Mode(),
		Checkpoint:     report.CheckpointAfter,
		ProcessedCount: r.tracker.ProcessedCount(),
		Cycles:         r.cycles,
		LastCycle:      &snapshot,
		UpdatedAt:      report.FinishedAt,
	})

	ctx = context.WithoutCancel(ctx)
	for _, s := range r.cfg.Sinks {
		if err := s.ObserveCycle(ctx, *report); err != nil {
			r.logger.Warn("sink failed to observe cycle", zap.String("cycle_id", report.ID), zap.Error(err))
		}
	}
}
