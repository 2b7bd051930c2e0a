package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"feedharvest/pkg/checkpoint"
	"feedharvest/pkg/daterange"
	"feedharvest/pkg/dedup"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/identity"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
	"feedharvest/pkg/ratelimit"
	"feedharvest/pkg/retry"
)

// Options tunes the collector loop
type Options struct {
	// StagnationLimit is the number of consecutive advances that reveal
	// nothing before the job stops
	StagnationLimit int
	// CheckpointEvery saves progress every N iterations
	CheckpointEvery int
	// SettleDelay is waited after each advance before reading content
	SettleDelay time.Duration
	// InitTimeout bounds the wait for the first extractable content
	InitTimeout time.Duration
	// ReadyPollInterval is the delay between readiness probes
	ReadyPollInterval time.Duration
	// RetryDelay is waited before the single retry of a failed provider call
	RetryDelay time.Duration
	// EarlyExit stops the job at the first fragment dated before the window
	EarlyExit bool
	// ExcludeAuthors lists handles whose posts are skipped
	ExcludeAuthors []string
	// AdvanceLimiter paces advances; nil means unpaced
	AdvanceLimiter ratelimit.Limiter
}

// DefaultOptions returns the collector defaults
func DefaultOptions() Options {
	return Options{
		StagnationLimit:   5,
		CheckpointEvery:   20,
		SettleDelay:       4 * time.Second,
		InitTimeout:       2 * time.Minute,
		ReadyPollInterval: time.Second,
		RetryDelay:        10 * time.Second,
		EarlyExit:         true,
	}
}

// Checkpointer saves job state; *checkpoint.Store satisfies it
type Checkpointer interface {
	Save(path string, st *checkpoint.State) error
}

// Deps are the collaborators of one collector
type Deps struct {
	Provider  Provider
	Extractor Extractor
	Sink      Sink
	Store     Checkpointer
	Observer  Observer
	// Resume is the checkpoint loaded for the job, if any
	Resume *checkpoint.State
}

// Collector drives one feed until a stop condition is met
type Collector struct {
	spec     models.JobSpec
	window   daterange.Window
	opts     Options
	excluded map[string]struct{}

	provider  Provider
	extractor Extractor
	sink      Sink
	store     Checkpointer
	observer  Observer
	log       logger.Logger

	seen      *dedup.Set
	finalized int
	admitted  int
	stats     Stats

	state         atomic.Int32
	iterations    atomic.Int64
	liveAdmitted  atomic.Int64
	liveFinalized atomic.Int64
}

// New builds a collector for spec
func New(spec models.JobSpec, deps Deps, opts Options, log logger.Logger) (*Collector, error) {
	if deps.Provider == nil || deps.Extractor == nil || deps.Sink == nil {
		return nil, errors.New("collector requires a provider, an extractor and a sink")
	}
	window, err := daterange.FromTimes(spec.Start, spec.End)
	if err != nil {
		return nil, fmt.Errorf("invalid date window for %s: %w", spec.FeedID, err)
	}
	if opts.StagnationLimit <= 0 {
		return nil, fmt.Errorf("stagnation limit must be positive, got %d", opts.StagnationLimit)
	}
	if opts.CheckpointEvery <= 0 {
		return nil, fmt.Errorf("checkpoint interval must be positive, got %d", opts.CheckpointEvery)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	c := &Collector{
		spec:      spec,
		window:    window,
		opts:      opts,
		excluded:  make(map[string]struct{}, len(opts.ExcludeAuthors)),
		provider:  deps.Provider,
		extractor: deps.Extractor,
		sink:      deps.Sink,
		store:     deps.Store,
		observer:  deps.Observer,
		log:       log.WithField("component", "collector"),
	}
	for _, handle := range opts.ExcludeAuthors {
		c.excluded[normalizeHandle(handle)] = struct{}{}
	}

	if deps.Resume != nil {
		c.seen = dedup.New(deps.Resume.SeenIdentities)
		c.finalized = deps.Resume.FinalizedCount
	} else {
		c.seen = dedup.New(nil)
	}
	c.liveFinalized.Store(int64(c.finalized))

	return c, nil
}

// State returns the current lifecycle state
func (c *Collector) State() State {
	return State(c.state.Load())
}

// Progress returns a snapshot that is safe to read from other goroutines
func (c *Collector) Progress() Progress {
	return Progress{
		State:      c.State(),
		Iterations: int(c.iterations.Load()),
		Admitted:   int(c.liveAdmitted.Load()),
		Finalized:  int(c.liveFinalized.Load()),
	}
}

func (c *Collector) setState(s State) {
	c.state.Store(int32(s))
}

// Run collects until a stop condition is met. Cancelling ctx is the
// cooperative stop request: it is honoured at the top of every iteration
// and interrupts every wait. A final checkpoint is always attempted.
func (c *Collector) Run(ctx context.Context) Result {
	start := time.Now()
	logger.LogComponentStart(c.log, "collector", map[string]interface{}{
		"window":           c.window.String(),
		"resumed_seen":     c.seen.Len(),
		"stagnation_limit": c.opts.StagnationLimit,
		"checkpoint_every": c.opts.CheckpointEvery,
		"early_exit":       c.opts.EarlyExit,
		"max_iterations":   c.spec.MaxIterations,
	})

	reason, err := c.run(ctx)

	_ = c.checkpoint()
	c.setState(StateStopped)
	c.observer.Stopped(c.spec.FeedID, reason)

	res := Result{
		Feed:       c.spec.FeedID,
		Reason:     reason,
		Admitted:   c.admitted,
		Finalized:  c.finalized,
		Iterations: int(c.iterations.Load()),
		Stats:      c.stats,
		Err:        err,
		Duration:   time.Since(start),
	}

	fields := map[string]interface{}{
		"reason":     string(reason),
		"admitted":   res.Admitted,
		"finalized":  res.Finalized,
		"iterations": res.Iterations,
		"duration":   res.Duration,
	}
	if err != nil {
		c.log.WithError(err).ErrorWithFields("Collector stopped with error", fields)
	} else {
		c.log.InfoWithFields("Collector stopped", fields)
	}
	return res
}

func (c *Collector) run(ctx context.Context) (StopReason, error) {
	c.setState(StateAwaitingInitialContent)
	content, err := c.awaitInitialContent(ctx)
	if err != nil {
		return c.failure(ctx, err)
	}

	stagnant := 0
	prevSize := content.Size
	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			return ReasonStopRequested, nil
		}

		c.setState(StateCollecting)
		admitted, older := c.collect(ctx, content)
		c.iterations.Store(int64(iteration + 1))
		c.observer.IterationDone(c.spec.FeedID, content.Size)
		logger.LogHarvestProgress(c.log, iteration+1, c.admitted, c.finalized)

		if older && c.opts.EarlyExit {
			return ReasonOlderThanStart, nil
		}
		if ctx.Err() != nil {
			return ReasonStopRequested, nil
		}

		if iteration > 0 {
			if content.Size == prevSize && admitted == 0 {
				stagnant++
			} else {
				stagnant = 0
			}
			if stagnant >= c.opts.StagnationLimit {
				return ReasonStagnation, nil
			}
		}

		if (iteration+1)%c.opts.CheckpointEvery == 0 {
			_ = c.checkpoint()
		}

		if c.spec.MaxIterations > 0 && iteration+1 >= c.spec.MaxIterations {
			return ReasonBudgetExhausted, nil
		}

		c.setState(StateAdvancing)
		prevSize = content.Size
		content, err = c.advance(ctx)
		if err != nil {
			return c.failure(ctx, err)
		}
	}
}

// failure maps an error from a blocking step to a stop reason. Anything that
// happened because the stop was requested is a stop, not an error.
func (c *Collector) failure(ctx context.Context, err error) (StopReason, error) {
	if ctx.Err() != nil {
		return ReasonStopRequested, nil
	}
	if errs.Is(err, errs.KindInitializationTimeout) {
		return ReasonInitializationTimeout, err
	}
	if !errs.Is(err, errs.KindProviderError) {
		err = errs.New(errs.KindProviderError, "provider", err)
	}
	return ReasonProviderError, err
}

// awaitInitialContent polls the provider until at least one fragment
// extracts to a post, bounded by InitTimeout. Provider errors while waiting
// count as "not ready yet".
func (c *Collector) awaitInitialContent(ctx context.Context) (models.Content, error) {
	initCtx, cancel := context.WithTimeout(ctx, c.opts.InitTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		ready, err := c.provider.IsReady(initCtx)
		if err == nil && ready {
			var content models.Content
			content, err = c.provider.CurrentContent(initCtx)
			if err == nil && c.hasExtractable(content) {
				c.log.InfoWithFields("Initial content available", map[string]interface{}{
					"fragments": len(content.Fragments),
					"attempts":  attempt,
				})
				return content, nil
			}
		}
		if err != nil {
			lastErr = err
		}

		if waitErr := retry.Wait(initCtx, c.opts.ReadyPollInterval); waitErr != nil {
			if ctx.Err() != nil {
				return models.Content{}, ctx.Err()
			}
			if lastErr != nil {
				return models.Content{}, errs.Newf(errs.KindInitializationTimeout, "await initial content",
					"no extractable content after %s: %v", c.opts.InitTimeout, lastErr)
			}
			return models.Content{}, errs.Newf(errs.KindInitializationTimeout, "await initial content",
				"no extractable content after %s", c.opts.InitTimeout)
		}
	}
}

func (c *Collector) hasExtractable(content models.Content) bool {
	for _, frag := range content.Fragments {
		if post, err := c.extract(frag); err == nil && post != nil {
			return true
		}
	}
	return false
}

// collect processes the visible fragments in order. It returns the number
// of records admitted and whether a fragment older than the window was seen.
// With early exit enabled processing stops at that fragment.
func (c *Collector) collect(ctx context.Context, content models.Content) (int, bool) {
	admitted := 0
	older := false
	feed := c.spec.FeedID

	for _, frag := range content.Fragments {
		if ctx.Err() != nil {
			break
		}
		c.stats.Fragments++
		c.observer.FragmentSeen(feed)

		post, err := c.extract(frag)
		if err != nil {
			c.stats.ExtractionErrors++
			c.observer.ErrorCounted(feed, errs.KindExtractionError)
			c.log.WithError(err).DebugWithFields("Fragment extraction failed", map[string]interface{}{
				"fragment": frag.Index,
			})
			continue
		}
		if post == nil {
			continue
		}

		if c.isExcluded(post.AuthorHandle) {
			c.stats.Excluded++
			c.observer.RecordRejected(feed, RejectExcluded)
			continue
		}

		day, err := daterange.Parse(post.Timestamp)
		if err != nil {
			c.stats.FilterParseErrors++
			c.observer.ErrorCounted(feed, errs.KindFilterParseError)
			c.log.WithError(err).DebugWithFields("Record date unreadable", map[string]interface{}{
				"fragment": frag.Index,
			})
			continue
		}

		switch c.window.Classify(day) {
		case daterange.Before:
			c.stats.OutOfWindow++
			c.observer.RecordRejected(feed, RejectOutOfWindow)
			older = true
			if c.opts.EarlyExit {
				c.log.InfoWithFields("Reached records older than the window", map[string]interface{}{
					"date": day.Format(daterange.DateLayout),
				})
				return admitted, older
			}
			continue
		case daterange.After:
			c.stats.OutOfWindow++
			c.observer.RecordRejected(feed, RejectOutOfWindow)
			continue
		}

		id := identity.Of(*post)
		if !c.seen.Admit(id) {
			c.stats.Duplicates++
			c.observer.RecordRejected(feed, RejectDuplicate)
			continue
		}

		rec := models.Record{
			Feed:      feed,
			Identity:  id,
			CreatedAt: day,
			Post:      *post,
		}
		if err := c.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
			// Forget it so a later pass over the same fragment retries the write
			c.seen.Forget(id)
			c.stats.SinkErrors++
			c.observer.ErrorCounted(feed, errs.KindSinkWriteError)
			c.log.WithError(err).WarnWithFields("Sink rejected record", map[string]interface{}{
				"identity": id,
			})
			continue
		}

		c.finalized++
		c.admitted++
		admitted++
		c.liveAdmitted.Store(int64(c.admitted))
		c.liveFinalized.Store(int64(c.finalized))
		c.observer.RecordAdmitted(feed)
		c.log.DebugWithFields("Record admitted", map[string]interface{}{
			"identity": id,
			"link":     post.Link,
		})
	}
	return admitted, older
}

// extract calls the extractor and turns a panic into an extraction error
func (c *Collector) extract(frag models.Fragment) (post *models.Post, err error) {
	defer func() {
		if r := recover(); r != nil {
			post = nil
			err = errs.Newf(errs.KindExtractionError, "extract", "panic on fragment %d: %v", frag.Index, r)
		}
	}()

	post, err = c.extractor.Extract(frag)
	if err != nil && !errs.Is(err, errs.KindExtractionError) {
		err = errs.New(errs.KindExtractionError, "extract", err)
	}
	return post, err
}

func (c *Collector) isExcluded(handle string) bool {
	if len(c.excluded) == 0 || handle == "" {
		return false
	}
	_, ok := c.excluded[normalizeHandle(handle)]
	return ok
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// advance moves the feed forward, waits for it to settle and reads the new
// content
func (c *Collector) advance(ctx context.Context) (models.Content, error) {
	if c.opts.AdvanceLimiter != nil {
		if err := c.opts.AdvanceLimiter.Wait(ctx); err != nil {
			return models.Content{}, err
		}
	}

	if err := c.providerCall(ctx, "advance", func() error {
		return c.provider.Advance(ctx)
	}); err != nil {
		return models.Content{}, err
	}

	if err := retry.Wait(ctx, c.opts.SettleDelay); err != nil {
		return models.Content{}, err
	}

	var content models.Content
	err := c.providerCall(ctx, "current content", func() error {
		var callErr error
		content, callErr = c.provider.CurrentContent(ctx)
		return callErr
	})
	return content, err
}

// providerCall runs op, retrying once after RetryDelay
func (c *Collector) providerCall(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(fn, &retry.Config{
		MaxAttempts: 2,
		Backoff:     &retry.ConstantBackoff{Delay: c.opts.RetryDelay},
		RetryIf:     func(error) bool { return ctx.Err() == nil },
		Context:     ctx,
		Logger:      c.log,
	})
	if err != nil {
		return errs.New(errs.KindProviderError, op, err)
	}
	return nil
}

// checkpoint saves the current state. Failures are counted and reported;
// the next interval tries again.
func (c *Collector) checkpoint() error {
	if c.store == nil || c.spec.CheckpointPath == "" {
		return nil
	}
	prev := c.State()
	c.setState(StateCheckpointing)
	defer c.setState(prev)

	st := &checkpoint.State{
		Feed:           c.spec.FeedID,
		SeenIdentities: c.seen.Identities(),
		FinalizedCount: c.finalized,
	}

	start := time.Now()
	err := c.store.Save(c.spec.CheckpointPath, st)
	elapsed := time.Since(start)

	logger.LogCheckpoint(c.log, c.spec.CheckpointPath, len(st.SeenIdentities), elapsed, err)
	c.observer.CheckpointSaved(c.spec.FeedID, elapsed, err)
	if err != nil {
		c.stats.CheckpointErrors++
		c.observer.ErrorCounted(c.spec.FeedID, errs.KindCheckpointWriteError)
		if !errs.Is(err, errs.KindCheckpointWriteError) {
			err = errs.New(errs.KindCheckpointWriteError, "checkpoint", err)
		}
		return err
	}
	c.stats.Checkpoints++
	return nil
}
