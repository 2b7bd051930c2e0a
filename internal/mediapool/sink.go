package mediapool

import (
	"context"

	"feedharvest/pkg/collector"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
	"feedharvest/pkg/storage"
)

// Sink passes records to the next sink and queues their images once the
// record is written
type Sink struct {
	next collector.Sink
	pool *Pool
	log  logger.Logger
}

// NewSink wraps next
func NewSink(next collector.Sink, pool *Pool) *Sink {
	return &Sink{next: next, pool: pool, log: pool.logger}
}

// Append writes the record, then queues its images. A record whose images
// could not be queued is still admitted.
func (s *Sink) Append(ctx context.Context, r models.Record) error {
	if err := s.next.Append(ctx, r); err != nil {
		return err
	}
	for i, u := range r.Post.ImageURLs {
		job := Job{
			URL:  u,
			Name: storage.MediaName(r.Feed, r.Identity, i, u),
			Feed: r.Feed,
		}
		if err := s.pool.Submit(ctx, job); err != nil {
			s.log.WarnWithFields("Media not queued", map[string]interface{}{
				"feed":  r.Feed,
				"url":   u,
				"error": err.Error(),
			})
		}
	}
	return nil
}

// Identities lists the identities of the next sink, if it can
func (s *Sink) Identities(ctx context.Context) ([]string, error) {
	if lister, ok := s.next.(collector.IdentityLister); ok {
		return lister.Identities(ctx)
	}
	return nil, nil
}

// Close closes the next sink; the pool is stopped by its owner
func (s *Sink) Close() error {
	return s.next.Close()
}
