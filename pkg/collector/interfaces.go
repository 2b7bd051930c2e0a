package collector

import (
	"context"
	"time"

	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/models"
)

// Provider exposes the current rendered content of one feed and can be told
// to advance it. A provider belongs to exactly one job.
type Provider interface {
	IsReady(ctx context.Context) (bool, error)
	CurrentContent(ctx context.Context) (models.Content, error)
	Advance(ctx context.Context) error
	Close() error
}

// ProviderOpener acquires a provider for a job
type ProviderOpener interface {
	OpenProvider(ctx context.Context, spec models.JobSpec) (Provider, error)
}

// ProviderOpenerFunc adapts a function to ProviderOpener
type ProviderOpenerFunc func(ctx context.Context, spec models.JobSpec) (Provider, error)

func (f ProviderOpenerFunc) OpenProvider(ctx context.Context, spec models.JobSpec) (Provider, error) {
	return f(ctx, spec)
}

// Extractor turns one fragment into a post. A nil post with a nil error
// means the fragment carries nothing to collect.
type Extractor interface {
	Extract(fragment models.Fragment) (*models.Post, error)
}

// ExtractorFunc adapts a function to Extractor
type ExtractorFunc func(fragment models.Fragment) (*models.Post, error)

func (f ExtractorFunc) Extract(fragment models.Fragment) (*models.Post, error) {
	return f(fragment)
}

// Sink persists finalized records
type Sink interface {
	Append(ctx context.Context, record models.Record) error
	Close() error
}

// IdentityLister is implemented by sinks that can report which identities
// they already hold for the job's feed
type IdentityLister interface {
	Identities(ctx context.Context) ([]string, error)
}

// SinkOpener acquires a sink for a job
type SinkOpener interface {
	OpenSink(ctx context.Context, spec models.JobSpec) (Sink, error)
}

// SinkOpenerFunc adapts a function to SinkOpener
type SinkOpenerFunc func(ctx context.Context, spec models.JobSpec) (Sink, error)

func (f SinkOpenerFunc) OpenSink(ctx context.Context, spec models.JobSpec) (Sink, error) {
	return f(ctx, spec)
}

// Observer receives harvest events, typically to feed metrics. Calls come
// from the collector goroutine of the job named by feed.
type Observer interface {
	FragmentSeen(feed string)
	RecordAdmitted(feed string)
	RecordRejected(feed string, reason string)
	ErrorCounted(feed string, kind errs.Kind)
	IterationDone(feed string, contentSize int64)
	CheckpointSaved(feed string, elapsed time.Duration, err error)
	Stopped(feed string, reason StopReason)
}

// Rejection reasons passed to Observer.RecordRejected
const (
	RejectDuplicate   = "duplicate"
	RejectOutOfWindow = "out_of_window"
	RejectExcluded    = "excluded_author"
)

type nopObserver struct{}

func (nopObserver) FragmentSeen(string)                          {}
func (nopObserver) RecordAdmitted(string)                        {}
func (nopObserver) RecordRejected(string, string)                {}
func (nopObserver) ErrorCounted(string, errs.Kind)               {}
func (nopObserver) IterationDone(string, int64)                  {}
func (nopObserver) CheckpointSaved(string, time.Duration, error) {}
func (nopObserver) Stopped(string, StopReason)                   {}
