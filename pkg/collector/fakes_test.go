package collector

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"feedharvest/pkg/checkpoint"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/models"
)

// frag builds a fragment whose body is the JSON of a post
func frag(id, timestamp string) models.Fragment {
	return fragBy(id, timestamp, "@someone")
}

func fragBy(id, timestamp, handle string) models.Fragment {
	body, _ := json.Marshal(models.Post{
		ID:           id,
		Link:         "https://x.com/someone/status/" + id,
		AuthorHandle: handle,
		Text:         "post " + id,
		Timestamp:    timestamp,
	})
	return models.Fragment{Body: body}
}

func rawFrag(body string) models.Fragment {
	return models.Fragment{Body: []byte(body)}
}

// page numbers the fragments and sets a size that grows with their count
func page(frags ...models.Fragment) models.Content {
	out := make([]models.Fragment, len(frags))
	var size int64
	for i, f := range frags {
		f.Index = i
		out[i] = f
		size += int64(len(f.Body))
	}
	return models.Content{Fragments: out, Size: size}
}

// jsonExtractor decodes fragment bodies written by frag. The bodies
// "panic", "error" and "skip" trigger the corresponding behaviour.
type jsonExtractor struct{}

func (jsonExtractor) Extract(f models.Fragment) (*models.Post, error) {
	switch string(f.Body) {
	case "panic":
		panic("malformed markup")
	case "error":
		return nil, errors.New("missing status link")
	case "skip":
		return nil, nil
	}
	var p models.Post
	if err := json.Unmarshal(f.Body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// fakeProvider shows pages[i] after i advances; past the end the last page
// stays visible
type fakeProvider struct {
	mu sync.Mutex

	pages       []models.Content
	pos         int
	advances    int
	readyAfter  int
	readyCalls  int
	advanceErrs []error
	contentErrs []error
	closed      bool

	// grow makes every advance reveal one more fragment past the last page
	grow bool
}

func (p *fakeProvider) IsReady(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readyCalls++
	return p.readyCalls > p.readyAfter, nil
}

func (p *fakeProvider) CurrentContent(ctx context.Context) (models.Content, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.contentErrs) > 0 {
		err := p.contentErrs[0]
		p.contentErrs = p.contentErrs[1:]
		if err != nil {
			return models.Content{}, err
		}
	}
	if len(p.pages) == 0 {
		return models.Content{}, nil
	}
	idx := p.pos
	if idx >= len(p.pages) {
		idx = len(p.pages) - 1
	}
	return p.pages[idx], nil
}

func (p *fakeProvider) Advance(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p.advanceErrs) > 0 {
		err := p.advanceErrs[0]
		p.advanceErrs = p.advanceErrs[1:]
		if err != nil {
			return err
		}
	}
	p.advances++
	if p.grow && p.pos >= len(p.pages)-1 {
		last := p.pages[len(p.pages)-1]
		next := append(append([]models.Fragment(nil), last.Fragments...),
			frag(growID(p.advances), "2024-10-07"))
		p.pages = append(p.pages, page(next...))
	}
	p.pos++
	return nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProvider) advanceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advances
}

func growID(n int) string {
	return strconv.Itoa(9000 + n)
}

// memSink records appended records; failFirst makes the first n appends fail
type memSink struct {
	mu        sync.Mutex
	records   []models.Record
	failFirst int
	calls     int
}

func (s *memSink) Append(ctx context.Context, r models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errs.Newf(errs.KindSinkWriteError, "append", "disk full")
	}
	s.records = append(s.records, r)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) identities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.records))
	for i, r := range s.records {
		ids[i] = r.Identity
	}
	return ids
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// memStore keeps every saved checkpoint state
type memStore struct {
	mu    sync.Mutex
	saves []checkpoint.State
	fail  bool
}

func (m *memStore) Save(path string, st *checkpoint.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errs.Newf(errs.KindCheckpointWriteError, "save "+path, "read-only file system")
	}
	cp := *st
	cp.SeenIdentities = append([]string(nil), st.SeenIdentities...)
	m.saves = append(m.saves, cp)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func (m *memStore) last() *checkpoint.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saves) == 0 {
		return nil
	}
	cp := m.saves[len(m.saves)-1]
	return &cp
}

// countingObserver counts the events it receives
type countingObserver struct {
	mu       sync.Mutex
	admitted int
	rejected map[string]int
	errors   map[errs.Kind]int
	stopped  StopReason
}

func newCountingObserver() *countingObserver {
	return &countingObserver{rejected: map[string]int{}, errors: map[errs.Kind]int{}}
}

func (o *countingObserver) FragmentSeen(string) {}

func (o *countingObserver) RecordAdmitted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.admitted++
}

func (o *countingObserver) RecordRejected(_ string, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[reason]++
}

func (o *countingObserver) ErrorCounted(_ string, kind errs.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors[kind]++
}

func (o *countingObserver) IterationDone(string, int64) {}

func (o *countingObserver) CheckpointSaved(string, time.Duration, error) {}

func (o *countingObserver) Stopped(_ string, reason StopReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = reason
}
