package supervisor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedharvest/pkg/collector"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
)

// fakeWorker runs until stopped, or returns result at once when block is false
type fakeWorker struct {
	spec    models.JobSpec
	block   bool
	result  collector.Result
	running chan string
	stopCh  chan struct{}
	done    chan struct{}
	stops   atomic.Int32
	ctxErr  error
}

func newFakeWorker(spec models.JobSpec, running chan string) *fakeWorker {
	return &fakeWorker{
		spec:    spec,
		block:   true,
		running: running,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (w *fakeWorker) Feed() string         { return w.spec.FeedID }
func (w *fakeWorker) Spec() models.JobSpec { return w.spec }

func (w *fakeWorker) Run(ctx context.Context) collector.Result {
	defer close(w.done)
	if w.running != nil {
		w.running <- w.spec.FeedID
	}
	if !w.block {
		return w.result
	}
	<-w.stopCh
	w.ctxErr = ctx.Err()
	return collector.Result{Feed: w.spec.FeedID, Reason: collector.ReasonStopRequested, Admitted: 1, Finalized: 3}
}

func (w *fakeWorker) Stop() {
	if w.stops.Add(1) == 1 {
		close(w.stopCh)
	}
}

func (w *fakeWorker) Done() <-chan struct{}  { return w.done }
func (w *fakeWorker) State() collector.State { return collector.StateCollecting }

func (w *fakeWorker) Progress() collector.Progress {
	return collector.Progress{Iterations: 4, Admitted: 1, Finalized: 3}
}

func specs(feeds ...string) []models.JobSpec {
	out := make([]models.JobSpec, len(feeds))
	for i, f := range feeds {
		out[i] = models.JobSpec{FeedID: f, CheckpointPath: "/tmp/cp/" + f + ".json"}
	}
	return out
}

func TestNewValidation(t *testing.T) {
	build := func(spec models.JobSpec) (Worker, error) { return newFakeWorker(spec, nil), nil }

	tests := []struct {
		name    string
		specs   []models.JobSpec
		wantErr string
	}{
		{"no jobs", nil, "no jobs"},
		{"missing feed", []models.JobSpec{{}}, "without a feed id"},
		{"duplicate feed", specs("acme", "acme"), "duplicate feed id"},
		{"shared checkpoint", []models.JobSpec{
			{FeedID: "a", CheckpointPath: "/tmp/cp/x.json"},
			{FeedID: "b", CheckpointPath: "/tmp/cp/../cp/x.json"},
		}, "share checkpoint"},
		{"no checkpoints", []models.JobSpec{{FeedID: "a"}, {FeedID: "b"}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.specs, build, nil)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Len(t, s.workers, len(tt.specs))
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewBuilderError(t *testing.T) {
	_, err := New(specs("a"), func(models.JobSpec) (Worker, error) {
		return nil, errors.New("no sink")
	}, nil)
	assert.ErrorContains(t, err, "no sink")
}

func TestRunStopsAllOnInterrupt(t *testing.T) {
	running := make(chan string, 3)
	var workers []*fakeWorker
	s, err := New(specs("a", "b", "c"), func(spec models.JobSpec) (Worker, error) {
		w := newFakeWorker(spec, running)
		workers = append(workers, w)
		return w, nil
	}, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = uuid.Parse(s.RunID())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan *Report, 1)
	go func() { reports <- s.Run(ctx) }()

	// every worker runs at the same time
	for i := 0; i < 3; i++ {
		select {
		case <-running:
		case <-time.After(2 * time.Second):
			t.Fatal("workers did not start concurrently")
		}
	}
	cancel()

	var report *Report
	select {
	case report = <-reports:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return after interrupt")
	}

	assert.True(t, report.Interrupted)
	assert.Zero(t, report.Failed())
	assert.Equal(t, 3, report.Admitted())
	require.Len(t, report.Jobs, 3)
	for i, w := range workers {
		assert.Equal(t, int32(1), w.stops.Load())
		assert.NoError(t, w.ctxErr, "worker context is not cancelled")
		assert.Equal(t, w.spec.FeedID, report.Jobs[i].Feed, "report keeps job order")
		assert.Equal(t, collector.ReasonStopRequested, report.Jobs[i].Reason)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	results := map[string]collector.Result{
		"ok": {Feed: "ok", Reason: collector.ReasonStagnation, Admitted: 5, Finalized: 5},
		"bad": {
			Feed:   "bad",
			Reason: collector.ReasonCorruptCheckpoint,
			Err:    errs.Newf(errs.KindCorruptCheckpoint, "load", "unexpected end of JSON input"),
		},
	}
	s, err := New(specs("ok", "bad"), func(spec models.JobSpec) (Worker, error) {
		w := newFakeWorker(spec, nil)
		w.block = false
		w.result = results[spec.FeedID]
		return w, nil
	}, nil)
	require.NoError(t, err)

	report := s.Run(context.Background())

	assert.False(t, report.Interrupted)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 5, report.Admitted())
	assert.Equal(t, collector.ReasonStagnation, report.Jobs[0].Reason)
	assert.Empty(t, report.Jobs[0].ErrorKind)
	assert.Equal(t, errs.KindCorruptCheckpoint, report.Jobs[1].ErrorKind)
	assert.Contains(t, report.Jobs[1].Error, "unexpected end of JSON input")
}

func TestStatuses(t *testing.T) {
	s, err := New(specs("a", "b"), func(spec models.JobSpec) (Worker, error) {
		return newFakeWorker(spec, nil), nil
	}, nil)
	require.NoError(t, err)

	got := s.Statuses()
	require.Len(t, got, 2)
	assert.Equal(t, JobStatus{Feed: "a", State: "collecting", Iterations: 4, Admitted: 1, Finalized: 3}, got[0])
	assert.Equal(t, "b", got[1].Feed)
}

func TestReportRender(t *testing.T) {
	start := time.Date(2024, 10, 9, 12, 0, 0, 0, time.UTC)
	r := &Report{
		RunID:       "run-1",
		StartedAt:   start,
		FinishedAt:  start.Add(90 * time.Second),
		Interrupted: true,
		Jobs: []JobReport{
			{Feed: "FibeIndia", Reason: collector.ReasonStagnation, Admitted: 12, Finalized: 40, Iterations: 9},
			{Feed: "casheApp", Reason: collector.ReasonProviderError, ErrorKind: errs.KindProviderError, Error: "tab crashed"},
		},
	}

	var buf bytes.Buffer
	r.Render(&buf)
	out := buf.String()

	for _, want := range []string{"run-1", "FibeIndia", "casheApp", "stagnation", "[provider_error] tab crashed"} {
		assert.Contains(t, out, want)
	}
	// footers are upper-cased by the table style
	assert.Contains(t, strings.ToLower(out), "1 failed, interrupted")
}
