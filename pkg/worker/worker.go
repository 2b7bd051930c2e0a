package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"feedharvest/pkg/checkpoint"
	"feedharvest/pkg/collector"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
)

// Store loads and saves checkpoints; *checkpoint.Store satisfies it
type Store interface {
	Load(path string) (*checkpoint.State, error)
	Save(path string, st *checkpoint.State) error
}

// Config holds everything a worker needs to run one job
type Config struct {
	Spec      models.JobSpec
	Options   collector.Options
	Providers collector.ProviderOpener
	Sinks     collector.SinkOpener
	Extractor collector.Extractor
	Store     Store
	Observer  collector.Observer
}

// Controller runs one collector for one job and owns its provider and sink
type Controller struct {
	cfg Config
	log logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool
	started  atomic.Bool
	done     chan struct{}

	collector atomic.Pointer[collector.Collector]
	result    collector.Result
}

// New creates a worker for cfg.Spec. Every log line it writes carries the
// feed id.
func New(cfg Config, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Controller{
		cfg:    cfg,
		log:    log.WithField("feed", cfg.Spec.FeedID),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Feed returns the id of the feed this worker harvests
func (w *Controller) Feed() string {
	return w.cfg.Spec.FeedID
}

// Spec returns the job this worker runs
func (w *Controller) Spec() models.JobSpec {
	return w.cfg.Spec
}

// Stop requests a cooperative stop. It returns immediately; use Done to
// wait for the worker to finish.
func (w *Controller) Stop() {
	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		close(w.stopCh)
		w.log.Info("Stop requested")
	})
}

// IsStopped reports whether a stop has been requested
func (w *Controller) IsStopped() bool {
	return w.stopped.Load()
}

// Done is closed once Run has returned
func (w *Controller) Done() <-chan struct{} {
	return w.done
}

// Result returns the outcome of Run. It is only meaningful after Done is
// closed.
func (w *Controller) Result() collector.Result {
	<-w.done
	return w.result
}

// State returns the collector state, or idle before the collector exists
func (w *Controller) State() collector.State {
	if c := w.collector.Load(); c != nil {
		return c.State()
	}
	select {
	case <-w.done:
		return collector.StateStopped
	default:
		return collector.StateIdle
	}
}

// Progress returns live counters for the job
func (w *Controller) Progress() collector.Progress {
	if c := w.collector.Load(); c != nil {
		return c.Progress()
	}
	return collector.Progress{State: w.State()}
}

// Run executes the job until it stops. It must be called at most once.
func (w *Controller) Run(parent context.Context) collector.Result {
	if !w.started.CompareAndSwap(false, true) {
		return collector.Result{
			Feed:   w.Feed(),
			Reason: collector.ReasonAcquireError,
			Err:    errs.Newf(errs.KindAcquireError, "run", "worker for %s already started", w.Feed()),
		}
	}
	defer close(w.done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	logger.LogComponentStart(w.log, "worker", map[string]interface{}{
		"checkpoint": w.cfg.Spec.CheckpointPath,
	})

	w.result = w.run(ctx)
	if w.result.Duration == 0 {
		w.result.Duration = time.Since(start)
	}
	logger.LogComponentStop(w.log, "worker", string(w.result.Reason))
	return w.result
}

func (w *Controller) run(ctx context.Context) collector.Result {
	spec := w.cfg.Spec

	resume, err := w.loadCheckpoint()
	if err != nil {
		w.log.WithError(err).Error("Checkpoint unusable, leaving it untouched")
		return w.fatal(collector.ReasonCorruptCheckpoint, err, nil)
	}

	provider, err := w.cfg.Providers.OpenProvider(ctx, spec)
	if err != nil {
		return w.fatal(collector.ReasonAcquireError, errs.New(errs.KindAcquireError, "open provider", err), resume)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			w.log.WithError(err).Warn("Failed to release provider")
		}
	}()

	sink, err := w.cfg.Sinks.OpenSink(ctx, spec)
	if err != nil {
		return w.fatal(collector.ReasonAcquireError, errs.New(errs.KindAcquireError, "open sink", err), resume)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			w.log.WithError(err).Warn("Failed to close sink")
		}
	}()

	resume = w.mergeSinkIdentities(ctx, sink, resume)

	var store collector.Checkpointer
	if w.cfg.Store != nil {
		store = w.cfg.Store
	}
	c, err := collector.New(spec, collector.Deps{
		Provider:  provider,
		Extractor: w.cfg.Extractor,
		Sink:      sink,
		Store:     store,
		Observer:  w.cfg.Observer,
		Resume:    resume,
	}, w.cfg.Options, w.log)
	if err != nil {
		return w.fatal(collector.ReasonAcquireError, errs.New(errs.KindAcquireError, "build collector", err), resume)
	}
	w.collector.Store(c)

	return c.Run(ctx)
}

// loadCheckpoint reads the job's checkpoint, treating a checkpoint written
// for another feed as corrupt
func (w *Controller) loadCheckpoint() (*checkpoint.State, error) {
	if w.cfg.Store == nil || w.cfg.Spec.CheckpointPath == "" {
		return nil, nil
	}
	st, err := w.cfg.Store.Load(w.cfg.Spec.CheckpointPath)
	if err != nil {
		return nil, err
	}
	if st != nil && st.Feed != "" && st.Feed != w.cfg.Spec.FeedID {
		return nil, errs.New(errs.KindCorruptCheckpoint, "load "+w.cfg.Spec.CheckpointPath,
			fmt.Errorf("%w: written for feed %q", checkpoint.ErrCorrupt, st.Feed))
	}
	if st != nil {
		w.log.InfoWithFields("Resuming from checkpoint", map[string]interface{}{
			"seen":      len(st.SeenIdentities),
			"finalized": st.FinalizedCount,
			"saved_at":  st.SavedAt,
		})
	}
	return st, nil
}

// mergeSinkIdentities adds the identities the sink already holds to the
// resume state, so records written after the last checkpoint are not
// emitted again. Each added identity counts as finalized.
func (w *Controller) mergeSinkIdentities(ctx context.Context, sink collector.Sink, resume *checkpoint.State) *checkpoint.State {
	lister, ok := sink.(collector.IdentityLister)
	if !ok {
		return resume
	}
	ids, err := lister.Identities(ctx)
	if err != nil {
		w.log.WithError(err).Warn("Failed to list stored identities, relying on the checkpoint alone")
		return resume
	}
	if len(ids) == 0 {
		return resume
	}

	if resume == nil {
		resume = &checkpoint.State{Feed: w.cfg.Spec.FeedID}
	}
	known := make(map[string]bool, len(resume.SeenIdentities))
	for _, id := range resume.SeenIdentities {
		known[id] = true
	}
	added := 0
	for _, id := range ids {
		if known[id] {
			continue
		}
		known[id] = true
		resume.SeenIdentities = append(resume.SeenIdentities, id)
		added++
	}
	resume.FinalizedCount += added
	if added > 0 {
		w.log.InfoWithFields("Merged identities already stored by the sink", map[string]interface{}{
			"added": added,
			"seen":  len(resume.SeenIdentities),
		})
	}
	return resume
}

func (w *Controller) fatal(reason collector.StopReason, err error, resume *checkpoint.State) collector.Result {
	res := collector.Result{
		Feed:   w.Feed(),
		Reason: reason,
		Err:    err,
	}
	if resume != nil {
		res.Finalized = resume.FinalizedCount
	}
	w.log.WithError(err).ErrorWithFields("Worker failed before collecting", map[string]interface{}{
		"reason": string(reason),
	})
	if w.cfg.Observer != nil {
		w.cfg.Observer.Stopped(w.Feed(), reason)
	}
	return res
}
