package collector

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedharvest/pkg/checkpoint"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testSpec() models.JobSpec {
	return models.JobSpec{
		FeedID:         "acme",
		Start:          day("2024-10-05"),
		End:            day("2024-10-09"),
		CheckpointPath: "/tmp/acme.checkpoint.json",
	}
}

func testOptions() Options {
	return Options{
		StagnationLimit:   3,
		CheckpointEvery:   20,
		InitTimeout:       time.Second,
		ReadyPollInterval: 2 * time.Millisecond,
		RetryDelay:        2 * time.Millisecond,
		EarlyExit:         true,
	}
}

type harness struct {
	provider *fakeProvider
	sink     *memSink
	store    *memStore
	observer *countingObserver
	log      *logger.TestLogger
}

func newHarness(pages ...models.Content) *harness {
	return &harness{
		provider: &fakeProvider{pages: pages},
		sink:     &memSink{},
		store:    &memStore{},
		observer: newCountingObserver(),
		log:      logger.NewTestLogger(),
	}
}

func (h *harness) collector(t *testing.T, spec models.JobSpec, opts Options, resume *checkpoint.State) *Collector {
	t.Helper()
	c, err := New(spec, Deps{
		Provider:  h.provider,
		Extractor: jsonExtractor{},
		Sink:      h.sink,
		Store:     h.store,
		Observer:  h.observer,
		Resume:    resume,
	}, opts, h.log)
	require.NoError(t, err)
	return c
}

func (h *harness) run(t *testing.T, spec models.JobSpec, opts Options) Result {
	t.Helper()
	return h.collector(t, spec, opts, nil).Run(context.Background())
}

func TestNewValidation(t *testing.T) {
	h := newHarness()
	deps := Deps{Provider: h.provider, Extractor: jsonExtractor{}, Sink: h.sink}

	_, err := New(testSpec(), Deps{}, testOptions(), nil)
	assert.Error(t, err)

	inverted := testSpec()
	inverted.Start, inverted.End = inverted.End, inverted.Start
	_, err = New(inverted, deps, testOptions(), nil)
	assert.Error(t, err)

	opts := testOptions()
	opts.StagnationLimit = 0
	_, err = New(testSpec(), deps, opts, nil)
	assert.Error(t, err)

	opts = testOptions()
	opts.CheckpointEvery = 0
	_, err = New(testSpec(), deps, opts, nil)
	assert.Error(t, err)
}

func TestWindowScenarioBothPolicies(t *testing.T) {
	for _, earlyExit := range []bool{true, false} {
		t.Run(map[bool]string{true: "early exit", false: "full scan"}[earlyExit], func(t *testing.T) {
			h := newHarness(page(
				frag("1", "2024-10-06T10:00:00.000Z"),
				frag("2", "2024-10-07T10:00:00.000Z"),
				frag("3", "2024-10-10T10:00:00.000Z"),
			))
			opts := testOptions()
			opts.EarlyExit = earlyExit

			res := h.run(t, testSpec(), opts)

			assert.Equal(t, 2, res.Admitted)
			assert.Equal(t, []string{"id:1", "id:2"}, h.sink.identities())
			assert.Equal(t, ReasonStagnation, res.Reason)
			assert.NoError(t, res.Err)
			assert.Equal(t, res.Iterations, res.Stats.OutOfWindow, "the later record is rejected on every pass")
		})
	}
}

func TestInclusiveBoundaries(t *testing.T) {
	h := newHarness(page(
		frag("10", "2024-10-09T23:59:59Z"),
		frag("11", "2024-10-05T00:00:00Z"),
		frag("12", "2024-10-10T00:00:00Z"),
	))

	res := h.run(t, testSpec(), testOptions())

	assert.Equal(t, []string{"id:10", "id:11"}, h.sink.identities())
	assert.Equal(t, day("2024-10-09"), h.sink.records[0].CreatedAt)
	assert.Equal(t, res.Iterations, res.Stats.OutOfWindow)
}

func TestEarlyExitPoliciesDiverge(t *testing.T) {
	content := page(
		frag("1", "2024-10-06"),
		frag("2", "2024-10-01"),
		frag("3", "2024-10-07"),
	)

	t.Run("early exit stops at the older record", func(t *testing.T) {
		h := newHarness(content)
		res := h.run(t, testSpec(), testOptions())

		assert.Equal(t, ReasonOlderThanStart, res.Reason)
		assert.Equal(t, []string{"id:1"}, h.sink.identities())
		assert.Equal(t, 0, h.provider.advanceCount())
		assert.Equal(t, 1, h.store.count(), "final checkpoint")
	})

	t.Run("full scan keeps going", func(t *testing.T) {
		h := newHarness(content)
		opts := testOptions()
		opts.EarlyExit = false
		res := h.run(t, testSpec(), opts)

		assert.Equal(t, ReasonStagnation, res.Reason)
		assert.Equal(t, []string{"id:1", "id:3"}, h.sink.identities())
	})
}

func TestStagnationStopsWithinLimit(t *testing.T) {
	for _, k := range []int{1, 3, 5} {
		h := newHarness(page(frag("1", "2024-10-06")))
		opts := testOptions()
		opts.StagnationLimit = k

		res := h.run(t, testSpec(), opts)

		assert.Equal(t, ReasonStagnation, res.Reason)
		assert.Equal(t, k, h.provider.advanceCount(), "K=%d", k)
		assert.Equal(t, k+1, res.Iterations)
	}
}

func TestGrowthResetsStagnation(t *testing.T) {
	p0 := page(frag("1", "2024-10-06"))
	p1 := page(frag("1", "2024-10-06"), frag("2", "2024-10-06"))
	p2 := page(frag("1", "2024-10-06"), frag("2", "2024-10-06"), frag("3", "2024-10-12"))
	h := newHarness(p0, p1, p2)

	opts := testOptions()
	opts.StagnationLimit = 2
	res := h.run(t, testSpec(), opts)

	assert.Equal(t, ReasonStagnation, res.Reason)
	// Two growing advances, then two that reveal nothing
	assert.Equal(t, 4, h.provider.advanceCount())
	assert.Equal(t, 2, res.Admitted)
}

func TestBudgetExhausted(t *testing.T) {
	h := newHarness(page(frag("1", "2024-10-06")))
	h.provider.grow = true

	spec := testSpec()
	spec.MaxIterations = 4
	res := h.run(t, spec, testOptions())

	assert.Equal(t, ReasonBudgetExhausted, res.Reason)
	assert.False(t, res.Reason.Failed())
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, 3, h.provider.advanceCount())
	assert.Equal(t, 4, res.Admitted)
	assert.NoError(t, res.Err)
}

func TestStopRequestedDuringSettle(t *testing.T) {
	h := newHarness(page(frag("1", "2024-10-06")))
	h.provider.grow = true

	opts := testOptions()
	opts.SettleDelay = time.Hour
	c := h.collector(t, testSpec(), opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return h.provider.advanceCount() == 1 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, ReasonStopRequested, res.Reason)
		assert.NoError(t, res.Err)
		require.NotNil(t, h.store.last())
		assert.Equal(t, []string{"id:1"}, h.store.last().SeenIdentities)
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not honour the stop request")
	}
	assert.Equal(t, StateStopped, c.State())
}

func TestStopBeforeStart(t *testing.T) {
	h := newHarness(page(frag("1", "2024-10-06")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.collector(t, testSpec(), testOptions(), nil).Run(ctx)

	assert.Equal(t, ReasonStopRequested, res.Reason)
	assert.NoError(t, res.Err)
	assert.Zero(t, h.sink.count())
	assert.Equal(t, 1, h.store.count(), "final checkpoint is written even on an immediate stop")
}

func TestProviderRetry(t *testing.T) {
	t.Run("single failure is retried", func(t *testing.T) {
		h := newHarness(page(frag("1", "2024-10-06")))
		h.provider.advanceErrs = []error{errors.New("tab crashed")}

		res := h.run(t, testSpec(), testOptions())

		assert.Equal(t, ReasonStagnation, res.Reason)
		assert.NoError(t, res.Err)
	})

	t.Run("second failure stops the job", func(t *testing.T) {
		h := newHarness(page(frag("1", "2024-10-06")))
		h.provider.advanceErrs = []error{errors.New("tab crashed"), errors.New("tab crashed again")}

		res := h.run(t, testSpec(), testOptions())

		assert.Equal(t, ReasonProviderError, res.Reason)
		assert.True(t, res.Reason.Failed())
		require.Error(t, res.Err)
		assert.Equal(t, errs.KindProviderError, errs.KindOf(res.Err))
		assert.Contains(t, res.Err.Error(), "tab crashed again")

		require.NotNil(t, h.store.last(), "checkpoint saved before stopping")
		assert.Equal(t, []string{"id:1"}, h.store.last().SeenIdentities)
		assert.Equal(t, 1, h.store.last().FinalizedCount)
	})

	t.Run("failed retry waits the delay once", func(t *testing.T) {
		h := newHarness(page(frag("1", "2024-10-06")))
		h.provider.advanceErrs = []error{errors.New("tab crashed"), errors.New("tab crashed again")}
		opts := testOptions()
		opts.RetryDelay = 200 * time.Millisecond

		start := time.Now()
		res := h.run(t, testSpec(), opts)
		elapsed := time.Since(start)

		assert.Equal(t, ReasonProviderError, res.Reason)
		assert.GreaterOrEqual(t, elapsed, opts.RetryDelay)
		assert.Less(t, elapsed, 2*opts.RetryDelay)
	})

	t.Run("content failure after advance", func(t *testing.T) {
		h := newHarness(page(frag("1", "2024-10-06")))
		// first call serves initial content, the next two fail
		h.provider.contentErrs = []error{nil, errors.New("detached"), errors.New("detached")}

		res := h.run(t, testSpec(), testOptions())

		assert.Equal(t, ReasonProviderError, res.Reason)
		assert.Equal(t, errs.KindProviderError, errs.KindOf(res.Err))
	})
}

func TestInitialization(t *testing.T) {
	t.Run("waits until ready", func(t *testing.T) {
		h := newHarness(page(frag("1", "2024-10-06")))
		h.provider.readyAfter = 3

		res := h.run(t, testSpec(), testOptions())

		assert.Equal(t, ReasonStagnation, res.Reason)
		assert.Equal(t, 1, res.Admitted)
	})

	t.Run("times out when never ready", func(t *testing.T) {
		h := newHarness(page(frag("1", "2024-10-06")))
		h.provider.readyAfter = 1 << 30
		opts := testOptions()
		opts.InitTimeout = 30 * time.Millisecond

		res := h.run(t, testSpec(), opts)

		assert.Equal(t, ReasonInitializationTimeout, res.Reason)
		assert.Equal(t, errs.KindInitializationTimeout, errs.KindOf(res.Err))
		assert.True(t, errs.IsFatal(errs.KindOf(res.Err)))
		assert.Zero(t, res.Iterations)
	})

	t.Run("times out when nothing extracts", func(t *testing.T) {
		h := newHarness(page(rawFrag("skip"), rawFrag("skip")))
		opts := testOptions()
		opts.InitTimeout = 30 * time.Millisecond

		res := h.run(t, testSpec(), opts)

		assert.Equal(t, ReasonInitializationTimeout, res.Reason)
	})
}

func TestIdempotentResume(t *testing.T) {
	p0 := page(frag("1", "2024-10-06"), frag("2", "2024-10-06"))
	p1 := page(frag("1", "2024-10-06"), frag("2", "2024-10-06"), frag("3", "2024-10-07"))

	first := newHarness(p0, p1)
	spec := testSpec()
	spec.MaxIterations = 1
	res1 := first.run(t, spec, testOptions())
	require.Equal(t, ReasonBudgetExhausted, res1.Reason)
	require.Equal(t, 2, res1.Admitted)

	saved := first.store.last()
	require.NotNil(t, saved)

	second := newHarness(p0, p1)
	spec.MaxIterations = 0
	res2 := second.collector(t, spec, testOptions(), saved).Run(context.Background())

	assert.Equal(t, 1, res2.Admitted)
	assert.Equal(t, 3, res2.Finalized)
	assert.Equal(t, []string{"id:3"}, second.sink.identities())
	assert.GreaterOrEqual(t, res2.Stats.Duplicates, 2)

	// Running again from the final state emits nothing
	third := newHarness(p0, p1)
	res3 := third.collector(t, spec, testOptions(), second.store.last()).Run(context.Background())
	assert.Zero(t, res3.Admitted)
	assert.Equal(t, 3, res3.Finalized)
	assert.Zero(t, third.sink.count())
}

func TestNoDuplicateEmission(t *testing.T) {
	// Each page repeats everything seen so far, like a scrolling timeline
	var pages []models.Content
	var acc []models.Fragment
	for i := 1; i <= 6; i++ {
		acc = append(acc, frag(growID(i), "2024-10-06"))
		pages = append(pages, page(acc...))
	}
	h := newHarness(pages...)

	res := h.run(t, testSpec(), testOptions())

	ids := h.sink.identities()
	assert.Len(t, ids, 6)
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		assert.NotEqual(t, sorted[i-1], sorted[i])
	}
	assert.Equal(t, 6, res.Admitted)
	assert.Greater(t, res.Stats.Duplicates, 0)
	assert.Equal(t, res.Stats.Duplicates, h.observer.rejected[RejectDuplicate])
}

func TestContentHashIdentityWithoutCanonicalID(t *testing.T) {
	a := models.Fragment{Body: []byte(`{"author_handle":"@a","timestamp":"2024-10-06","text":"same opening line, different ending one"}`)}
	b := models.Fragment{Body: []byte(`{"author_handle":"@a","timestamp":"2024-10-06","text":"same opening line, different ending two"}`)}
	h := newHarness(page(a, b, a))

	res := h.run(t, testSpec(), testOptions())

	assert.Equal(t, 2, res.Admitted)
	for _, id := range h.sink.identities() {
		assert.Regexp(t, `^h:[0-9a-f]{64}$`, id)
	}
}

func TestRecoverableErrorsAreCounted(t *testing.T) {
	h := newHarness(page(
		rawFrag("panic"),
		rawFrag("error"),
		rawFrag("skip"),
		frag("1", "yesterday"),
		frag("2", "2024-10-06"),
	))

	res := h.run(t, testSpec(), testOptions())

	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.Admitted)
	// Every pass revisits the same bad fragments
	assert.Equal(t, 2*res.Iterations, res.Stats.ExtractionErrors)
	assert.Equal(t, res.Iterations, res.Stats.FilterParseErrors)
	assert.Equal(t, res.Stats.ExtractionErrors, h.observer.errors[errs.KindExtractionError])
	assert.Equal(t, res.Stats.FilterParseErrors, h.observer.errors[errs.KindFilterParseError])
}

func TestSinkFailureIsRetriedOnLaterPass(t *testing.T) {
	h := newHarness(page(frag("1", "2024-10-06"), frag("2", "2024-10-06")))
	h.sink.failFirst = 1

	res := h.run(t, testSpec(), testOptions())

	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.Stats.SinkErrors)
	assert.ElementsMatch(t, []string{"id:1", "id:2"}, h.sink.identities())
	assert.Equal(t, 2, res.Finalized)
	assert.True(t, h.log.HasMessage("Sink rejected record"))
}

func TestExcludedAuthors(t *testing.T) {
	h := newHarness(page(
		fragBy("1", "2024-10-06", "@Acme"),
		fragBy("2", "2024-10-06", "@customer"),
	))
	opts := testOptions()
	opts.ExcludeAuthors = []string{"acme"}

	res := h.run(t, testSpec(), opts)

	assert.Equal(t, []string{"id:2"}, h.sink.identities())
	assert.Equal(t, res.Iterations, res.Stats.Excluded)
}

func TestPeriodicCheckpoints(t *testing.T) {
	h := newHarness(page(frag("1", "2024-10-06")))
	h.provider.grow = true

	spec := testSpec()
	spec.MaxIterations = 7
	opts := testOptions()
	opts.CheckpointEvery = 3

	res := h.run(t, spec, opts)

	// iterations 3 and 6, then the final save
	assert.Equal(t, 3, h.store.count())
	assert.Equal(t, 3, res.Stats.Checkpoints)
	last := h.store.last()
	assert.Equal(t, res.Finalized, last.FinalizedCount)
	assert.Len(t, last.SeenIdentities, res.Finalized)
	assert.Equal(t, "acme", last.Feed)
}

func TestCheckpointFailureIsNotFatal(t *testing.T) {
	h := newHarness(page(frag("1", "2024-10-06")))
	h.store.fail = true

	res := h.run(t, testSpec(), testOptions())

	assert.Equal(t, ReasonStagnation, res.Reason)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.Stats.CheckpointErrors)
	assert.Equal(t, 1, h.observer.errors[errs.KindCheckpointWriteError])
	msg, ok := h.log.Find("Checkpoint write failed")
	require.True(t, ok)
	assert.Equal(t, "collector", msg.Fields["component"])
}

func TestProgressAndObserver(t *testing.T) {
	h := newHarness(page(frag("1", "2024-10-06"), frag("2", "2024-10-06")))
	c := h.collector(t, testSpec(), testOptions(), &checkpoint.State{FinalizedCount: 10})

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 10, c.Progress().Finalized)

	res := c.Run(context.Background())

	p := c.Progress()
	assert.Equal(t, StateStopped, p.State)
	assert.Equal(t, 2, p.Admitted)
	assert.Equal(t, 12, p.Finalized)
	assert.Equal(t, res.Iterations, p.Iterations)
	assert.Equal(t, 2, h.observer.admitted)
	assert.Equal(t, ReasonStagnation, h.observer.stopped)
}

func TestReasonForKind(t *testing.T) {
	assert.Equal(t, ReasonInitializationTimeout, ReasonForKind(errs.KindInitializationTimeout))
	assert.Equal(t, ReasonCorruptCheckpoint, ReasonForKind(errs.KindCorruptCheckpoint))
	assert.Equal(t, ReasonAcquireError, ReasonForKind(errs.KindAcquireError))
	assert.Equal(t, ReasonProviderError, ReasonForKind(errs.KindProviderError))
	assert.Equal(t, "checkpointing", StateCheckpointing.String())
}
