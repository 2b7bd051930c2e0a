// Package dedup tracks the identities a job has already admitted.
package dedup

import "sort"

// Set is a set of seen identities. It is not safe for concurrent use.
type Set struct {
	seen map[string]struct{}
}

// New creates a set pre-populated with seed identities
func New(seed []string) *Set {
	s := &Set{seen: make(map[string]struct{}, len(seed))}
	for _, id := range seed {
		s.seen[id] = struct{}{}
	}
	return s
}

// Admit returns true the first time id is seen and records it
func (s *Set) Admit(id string) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Seen reports whether id has been admitted
func (s *Set) Seen(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// Forget removes id so a later Admit succeeds again
func (s *Set) Forget(id string) {
	delete(s.seen, id)
}

// Len returns the number of admitted identities
func (s *Set) Len() int {
	return len(s.seen)
}

// Identities returns the admitted identities in sorted order
func (s *Set) Identities() []string {
	ids := make([]string, 0, len(s.seen))
	for id := range s.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
