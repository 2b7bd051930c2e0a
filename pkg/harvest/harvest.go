package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"feedharvest/internal/mediapool"
	"feedharvest/pkg/checkpoint"
	"feedharvest/pkg/collector"
	"feedharvest/pkg/config"
	"feedharvest/pkg/daterange"
	"feedharvest/pkg/extractor"
	"feedharvest/pkg/fetch"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/metrics"
	"feedharvest/pkg/models"
	"feedharvest/pkg/provider"
	"feedharvest/pkg/ratelimit"
	"feedharvest/pkg/sink"
	"feedharvest/pkg/storage"
	"feedharvest/pkg/supervisor"
	"feedharvest/pkg/worker"
)

// Harvest is a fully wired run: one worker per configured job plus the
// shared sinks, metrics and media pool they use
type Harvest struct {
	cfg *config.Config
	log logger.Logger

	supervisor *supervisor.Supervisor
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	client     *fetch.Client
	media      *mediapool.Pool

	sqlite   *sink.SQLite
	postgres *sink.Postgres

	jobs map[string]config.JobConfig
}

// Build resolves the configured jobs and wires a worker for each. Shared
// database handles are opened here; call Close when done.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*Harvest, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	jobs, err := cfg.ResolveJobs()
	if err != nil {
		return nil, err
	}

	h := &Harvest{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
		jobs:     make(map[string]config.JobConfig, len(jobs)),
	}
	h.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	h.metrics = metrics.NewCollector(h.registry)
	h.client = fetch.NewClient(fetch.Options{
		UserAgent:  cfg.HTTP.UserAgent,
		Cookie:     cfg.HTTP.Cookie,
		Timeout:    cfg.HTTP.Timeout,
		MaxRetries: cfg.HTTP.MaxRetries,
		Limiter:    ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute),
	}, log)

	specs := make([]models.JobSpec, 0, len(jobs))
	for _, job := range jobs {
		spec, err := jobSpec(cfg, job)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
		h.jobs[job.Feed] = job
	}

	if err := h.openShared(ctx); err != nil {
		h.Close()
		return nil, err
	}
	if cfg.Media.Enabled {
		if err := h.openMedia(); err != nil {
			h.Close()
			return nil, err
		}
	}

	sup, err := supervisor.New(specs, h.buildWorker, log)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.supervisor = sup
	return h, nil
}

// jobSpec converts a resolved job into the immutable spec its worker runs
func jobSpec(cfg *config.Config, job config.JobConfig) (models.JobSpec, error) {
	start, err := daterange.Parse(job.StartDate)
	if err != nil {
		return models.JobSpec{}, fmt.Errorf("job %s: invalid start date: %w", job.Feed, err)
	}
	end, err := daterange.Parse(job.EndDate)
	if err != nil {
		return models.JobSpec{}, fmt.Errorf("job %s: invalid end date: %w", job.Feed, err)
	}

	path, err := CheckpointPath(cfg, job)
	if err != nil {
		return models.JobSpec{}, fmt.Errorf("job %s: %w", job.Feed, err)
	}

	return models.JobSpec{
		FeedID:         job.Feed,
		Start:          start,
		End:            end,
		CheckpointPath: path,
		MaxIterations:  job.MaxIterations,
	}, nil
}

// CheckpointPath returns where the job's checkpoint lives: its own setting,
// or a per-feed file in the checkpoint directory
func CheckpointPath(cfg *config.Config, job config.JobConfig) (string, error) {
	if job.Checkpoint != "" {
		return job.Checkpoint, nil
	}
	return checkpoint.DefaultPath(cfg.Checkpoint.Directory, job.Feed)
}

// Options converts the harvest settings and a job's overrides into
// collector options. The feed owner is excluded when the job names no
// authors.
func Options(cfg *config.Config, job config.JobConfig) collector.Options {
	opts := collector.DefaultOptions()
	h := cfg.Harvest
	opts.StagnationLimit = h.StagnationLimit
	opts.CheckpointEvery = h.CheckpointEvery
	opts.SettleDelay = h.SettleDelay
	opts.InitTimeout = h.InitializationTimeout
	if h.ReadyPollInterval > 0 {
		opts.ReadyPollInterval = h.ReadyPollInterval
	}
	opts.RetryDelay = h.RetryDelay
	opts.EarlyExit = job.EarlyExitEnabled()
	opts.ExcludeAuthors = job.ExcludeAuthors
	if len(opts.ExcludeAuthors) == 0 {
		opts.ExcludeAuthors = []string{job.Feed}
	}
	opts.AdvanceLimiter = ratelimit.PerMinute(h.AdvancesPerMinute)
	return opts
}

func (h *Harvest) openShared(ctx context.Context) error {
	for _, format := range h.cfg.Output.FormatList() {
		switch format {
		case config.FormatSQLite:
			path := h.cfg.Output.SQLitePath
			if path == "" {
				path = filepath.Join(h.cfg.Output.Directory, "harvest.db")
			}
			if path != ":memory:" {
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					return fmt.Errorf("failed to create database directory: %w", err)
				}
			}
			db, err := sink.OpenSQLite(path)
			if err != nil {
				return err
			}
			h.sqlite = db
		case config.FormatPostgres:
			db, err := sink.OpenPostgres(ctx, h.cfg.Output.PostgresDSN)
			if err != nil {
				return err
			}
			h.postgres = db
		}
	}
	return nil
}

func (h *Harvest) openMedia() error {
	dir := h.cfg.Media.Directory
	if dir == "" {
		dir = filepath.Join(h.cfg.Output.Directory, "media")
	}
	store, err := storage.NewManager(dir)
	if err != nil {
		return err
	}
	// Downloads share the fetch client, which already paces requests
	h.media = mediapool.New(h.cfg.Media.ConcurrentDownloads, h.client, store, nil, h.log)
	return nil
}

// buildWorker wires one job's provider, sinks and collector options
func (h *Harvest) buildWorker(spec models.JobSpec) (supervisor.Worker, error) {
	job, ok := h.jobs[spec.FeedID]
	if !ok {
		return nil, fmt.Errorf("no job configured for feed %q", spec.FeedID)
	}
	providers, err := h.providerOpener(job)
	if err != nil {
		return nil, err
	}
	return worker.New(worker.Config{
		Spec:      spec,
		Options:   Options(h.cfg, job),
		Providers: providers,
		Sinks:     h.sinkOpener(job),
		Extractor: extractor.NewTweetExtractor(""),
		Store:     checkpoint.NewStore(h.log),
		Observer:  h.metrics,
	}, h.log), nil
}

func (h *Harvest) providerOpener(job config.JobConfig) (collector.ProviderOpener, error) {
	src := job.Source
	switch src.Kind {
	case config.SourceHTTP:
		return collector.ProviderOpenerFunc(func(ctx context.Context, spec models.JobSpec) (collector.Provider, error) {
			p, err := provider.NewHTTPFeed(h.client, provider.HTTPFeedConfig{
				URL:       src.URL,
				Selector:  src.Selector,
				KeepPages: src.KeepPages,
			}, h.log)
			if err != nil {
				return nil, err
			}
			return p, nil
		}), nil
	case config.SourceSnapshot:
		return collector.ProviderOpenerFunc(func(ctx context.Context, spec models.JobSpec) (collector.Provider, error) {
			p, err := provider.NewSnapshot(src.Dir, src.Selector, h.log)
			if err != nil {
				return nil, err
			}
			return p, nil
		}), nil
	default:
		return nil, fmt.Errorf("job %s: invalid source kind %q", job.Feed, src.Kind)
	}
}

// sinkOpener opens every configured format for the job. File sinks are
// per job; database sinks share the handles opened by Build.
func (h *Harvest) sinkOpener(job config.JobConfig) collector.SinkOpener {
	return collector.SinkOpenerFunc(func(ctx context.Context, spec models.JobSpec) (collector.Sink, error) {
		sinks := sink.NewMulti()
		fail := func(err error) (collector.Sink, error) {
			return nil, errors.Join(err, sinks.Close())
		}

		for _, format := range h.cfg.Output.FormatList() {
			switch format {
			case config.FormatCSV:
				s, err := sink.OpenCSV(sink.FilePath(h.cfg.Output.Directory, job.Feed, "csv"))
				if err != nil {
					return fail(err)
				}
				sinks.Add(s)
			case config.FormatJSONL:
				s, err := sink.OpenJSONL(sink.FilePath(h.cfg.Output.Directory, job.Feed, "jsonl"))
				if err != nil {
					return fail(err)
				}
				sinks.Add(s)
			case config.FormatSQLite:
				if h.sqlite == nil {
					return fail(errors.New("sqlite output is not open"))
				}
				sinks.Add(h.sqlite.Sink(job.Feed))
			case config.FormatPostgres:
				if h.postgres == nil {
					return fail(errors.New("postgres output is not open"))
				}
				sinks.Add(h.postgres.Sink(job.Feed))
			default:
				return fail(fmt.Errorf("unknown output format %q", format))
			}
		}
		if sinks.Len() == 0 {
			return nil, errors.New("no output formats configured")
		}

		var out collector.Sink = sinks
		if h.media != nil {
			out = mediapool.NewSink(out, h.media)
		}
		return out, nil
	})
}

// Run starts the metrics server and media pool when enabled, runs every
// job to completion, and drains the media queue. Cancelling ctx stops all
// workers cooperatively.
func (h *Harvest) Run(ctx context.Context) *supervisor.Report {
	if h.cfg.Metrics.Enabled {
		srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		srv := metrics.NewServer(h.cfg.Metrics.Listen, h.registry, h.supervisor, h.log)
		go func() {
			if err := srv.ListenAndServe(srvCtx); err != nil {
				h.log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	if h.media != nil {
		h.media.Start()
	}

	report := h.supervisor.Run(ctx)

	if h.media != nil {
		if report.Interrupted {
			h.media.Cancel()
		}
		h.media.Stop()
		stats := h.media.Stats()
		h.log.InfoWithFields("Media downloads finished", map[string]interface{}{
			"downloaded": stats.Downloaded,
			"skipped":    stats.Skipped,
			"failed":     stats.Failed,
		})
	}
	return report
}

// Supervisor returns the supervisor driving the workers
func (h *Harvest) Supervisor() *supervisor.Supervisor {
	return h.supervisor
}

// Registry returns the registry the harvest metrics are registered in
func (h *Harvest) Registry() *prometheus.Registry {
	return h.registry
}

// Close releases the shared database handles
func (h *Harvest) Close() error {
	var errs []error
	if h.sqlite != nil {
		errs = append(errs, h.sqlite.Close())
		h.sqlite = nil
	}
	if h.postgres != nil {
		errs = append(errs, h.postgres.Close())
		h.postgres = nil
	}
	return errors.Join(errs...)
}
