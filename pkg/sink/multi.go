package sink

import (
	"context"
	"errors"
	"sync"

	"feedharvest/pkg/collector"
	"feedharvest/pkg/models"
)

// Multi fans every record out to several sinks. When only some sinks accept
// a record, Multi remembers which ones did; appending the same identity
// again writes only to the sinks that are still missing it.
type Multi struct {
	sinks []collector.Sink

	mu      sync.Mutex
	partial map[string][]bool
}

// NewMulti creates a fan-out over sinks
func NewMulti(sinks ...collector.Sink) *Multi {
	return &Multi{sinks: sinks, partial: make(map[string][]bool)}
}

// Add appends another sink
func (m *Multi) Add(s collector.Sink) {
	m.sinks = append(m.sinks, s)
}

// Len returns the number of sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Append writes r to every sink that has not yet accepted it and joins
// their errors
func (m *Multi) Append(ctx context.Context, r models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	done := m.partial[r.Identity]
	if done == nil {
		done = make([]bool, len(m.sinks))
	}

	var errList []error
	for i, s := range m.sinks {
		if done[i] {
			continue
		}
		if err := s.Append(ctx, r); err != nil {
			errList = append(errList, err)
			continue
		}
		done[i] = true
	}

	if len(errList) == 0 {
		delete(m.partial, r.Identity)
		return nil
	}
	m.partial[r.Identity] = done
	return errors.Join(errList...)
}

// Pending returns the number of records some sink is still missing
func (m *Multi) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.partial)
}

// Identities returns the union of the identities held by the sinks that
// can list them
func (m *Multi) Identities(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range m.sinks {
		lister, ok := s.(collector.IdentityLister)
		if !ok {
			continue
		}
		got, err := lister.Identities(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range got {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// Close closes every sink
func (m *Multi) Close() error {
	var errList []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
