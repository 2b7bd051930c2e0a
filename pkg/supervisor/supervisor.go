package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"feedharvest/pkg/collector"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
)

// Worker is the part of a worker controller the supervisor drives;
// *worker.Controller satisfies it
type Worker interface {
	Feed() string
	Spec() models.JobSpec
	Run(ctx context.Context) collector.Result
	Stop()
	Done() <-chan struct{}
	State() collector.State
	Progress() collector.Progress
}

// Builder creates the worker for one job
type Builder func(spec models.JobSpec) (Worker, error)

// JobStatus is a live view of one worker
type JobStatus struct {
	Feed       string `json:"feed"`
	State      string `json:"state"`
	Iterations int    `json:"iterations"`
	Admitted   int    `json:"admitted"`
	Finalized  int    `json:"finalized"`
}

// Supervisor owns the workers of one harvest run
type Supervisor struct {
	runID   string
	workers []Worker
	log     logger.Logger
}

// New validates the job list and builds one worker per job. Two jobs may
// not share a feed id or a checkpoint location.
func New(specs []models.JobSpec, build Builder, log logger.Logger) (*Supervisor, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no jobs to run")
	}

	feeds := make(map[string]bool, len(specs))
	checkpoints := make(map[string]string, len(specs))
	for _, spec := range specs {
		if spec.FeedID == "" {
			return nil, fmt.Errorf("job without a feed id")
		}
		if feeds[spec.FeedID] {
			return nil, fmt.Errorf("duplicate feed id %q", spec.FeedID)
		}
		feeds[spec.FeedID] = true

		if spec.CheckpointPath == "" {
			continue
		}
		path := filepath.Clean(spec.CheckpointPath)
		if other, ok := checkpoints[path]; ok {
			return nil, fmt.Errorf("jobs %q and %q share checkpoint %s", other, spec.FeedID, path)
		}
		checkpoints[path] = spec.FeedID
	}

	runID := uuid.New().String()
	s := &Supervisor{
		runID: runID,
		log:   log.WithField("run_id", runID),
	}
	for _, spec := range specs {
		w, err := build(spec)
		if err != nil {
			return nil, fmt.Errorf("failed to build worker for %s: %w", spec.FeedID, err)
		}
		s.workers = append(s.workers, w)
	}
	return s, nil
}

// RunID identifies this harvest run in logs and the report
func (s *Supervisor) RunID() string {
	return s.runID
}

// Run starts every worker and blocks until all of them have stopped.
// Cancelling ctx stops all workers cooperatively; Run still waits for
// them before returning.
func (s *Supervisor) Run(ctx context.Context) *Report {
	report := &Report{
		RunID:     s.runID,
		StartedAt: time.Now(),
		Jobs:      make([]JobReport, len(s.workers)),
	}
	logger.LogComponentStart(s.log, "supervisor", map[string]interface{}{
		"jobs": len(s.workers),
	})

	stopAll := context.AfterFunc(ctx, func() {
		s.log.Warn("Interrupt received, stopping all workers")
		s.StopAll()
	})
	defer stopAll()

	// Workers get a context that is never cancelled; they stop through
	// Stop so each one finishes its checkpoint.
	workerCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i, w := range s.workers {
		g.Go(func() error {
			report.Jobs[i] = jobReport(w.Run(workerCtx))
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now()
	report.Interrupted = ctx.Err() != nil

	s.log.InfoWithFields("Harvest finished", map[string]interface{}{
		"jobs":        len(report.Jobs),
		"failed":      report.Failed(),
		"admitted":    report.Admitted(),
		"interrupted": report.Interrupted,
		"duration":    report.FinishedAt.Sub(report.StartedAt),
	})
	logger.LogComponentStop(s.log, "supervisor", "all workers stopped")
	return report
}

// StopAll asks every worker to stop
func (s *Supervisor) StopAll() {
	for _, w := range s.workers {
		w.Stop()
	}
}

// Statuses returns a snapshot of every worker's progress, in job order
func (s *Supervisor) Statuses() []JobStatus {
	out := make([]JobStatus, len(s.workers))
	for i, w := range s.workers {
		p := w.Progress()
		out[i] = JobStatus{
			Feed:       w.Feed(),
			State:      w.State().String(),
			Iterations: p.Iterations,
			Admitted:   p.Admitted,
			Finalized:  p.Finalized,
		}
	}
	return out
}
