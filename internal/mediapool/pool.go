package mediapool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"feedharvest/pkg/logger"
	"feedharvest/pkg/ratelimit"
)

// Job is one media file to download
type Job struct {
	URL  string
	Name string
	Feed string
}

// Stats counts finished jobs
type Stats struct {
	Downloaded int64
	Skipped    int64
	Failed     int64
}

// Downloader fetches media; *fetch.Client satisfies it
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Storage stores media; *storage.Manager satisfies it
type Storage interface {
	IsDownloaded(name string) bool
	Save(r io.Reader, name string) error
}

// Pool downloads media with a fixed number of workers. It is shared by all
// harvest jobs.
type Pool struct {
	numWorkers  int
	jobQueue    chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	client      Downloader
	storage     Storage
	rateLimiter ratelimit.Limiter
	logger      logger.Logger

	mu       sync.RWMutex
	closed   bool
	stopping chan struct{}
	stopOnce sync.Once

	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

// New creates a download pool; call Start before submitting
func New(numWorkers int, client Downloader, storage Storage, rateLimiter ratelimit.Limiter, log logger.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logger.GetLogger()
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	return &Pool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		stopping:    make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		client:      client,
		storage:     storage,
		rateLimiter: rateLimiter,
		logger:      log.WithField("component", "media"),
	}
}

// Start starts all workers
func (p *Pool) Start() {
	p.logger.InfoWithFields("Starting media pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop lets the workers finish every queued job and waits for them.
// Submits blocked on a full queue return an error.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopping) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobQueue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()

	s := p.Stats()
	p.logger.InfoWithFields("Media pool stopped", map[string]interface{}{
		"downloaded": s.Downloaded,
		"skipped":    s.Skipped,
		"failed":     s.Failed,
	})
}

// Cancel aborts in-flight downloads and makes workers drop queued jobs.
// Stop must still be called to wait for the workers.
func (p *Pool) Cancel() {
	p.cancel()
}

// Submit queues a job, blocking while the queue is full until ctx is done
// or the pool stops
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("media pool is stopped")
	}

	select {
	case p.jobQueue <- job:
		p.logger.DebugWithFields("Media job queued", map[string]interface{}{
			"name": job.Name,
			"feed": job.Feed,
		})
		return nil
	case <-p.stopping:
		return fmt.Errorf("media pool is stopped")
	case <-p.ctx.Done():
		return fmt.Errorf("media pool is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the counts of finished jobs
func (p *Pool) Stats() Stats {
	return Stats{
		Downloaded: p.downloaded.Load(),
		Skipped:    p.skipped.Load(),
		Failed:     p.failed.Load(),
	}
}

// QueueSize returns the number of queued jobs
func (p *Pool) QueueSize() int {
	return len(p.jobQueue)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		if p.ctx.Err() != nil {
			p.failed.Add(1)
			continue
		}
		p.process(job, id)
	}
}

func (p *Pool) process(job Job, workerID int) {
	start := time.Now()

	if p.storage.IsDownloaded(job.Name) {
		p.skipped.Add(1)
		return
	}

	if p.rateLimiter != nil {
		if err := p.rateLimiter.Wait(p.ctx); err != nil {
			p.failed.Add(1)
			return
		}
	}

	data, err := p.client.Download(p.ctx, job.URL)
	if err != nil {
		p.failed.Add(1)
		p.logger.WarnWithFields("Media download failed", map[string]interface{}{
			"worker_id": workerID,
			"feed":      job.Feed,
			"url":       job.URL,
			"error":     err.Error(),
		})
		return
	}

	if err := p.storage.Save(bytes.NewReader(data), job.Name); err != nil {
		p.failed.Add(1)
		p.logger.ErrorWithFields("Failed to save media", map[string]interface{}{
			"worker_id": workerID,
			"name":      job.Name,
			"error":     err.Error(),
		})
		return
	}

	p.downloaded.Add(1)
	p.logger.DebugWithFields("Media saved", map[string]interface{}{
		"worker_id": workerID,
		"name":      job.Name,
		"size":      len(data),
		"duration":  time.Since(start),
	})
}
