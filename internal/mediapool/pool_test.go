package mediapool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
	"feedharvest/pkg/ratelimit"
)

// MockClient counts downloads
type MockClient struct {
	downloadDelay   time.Duration
	downloadError   error
	downloadCounter int32
}

func (m *MockClient) Download(ctx context.Context, url string) ([]byte, error) {
	atomic.AddInt32(&m.downloadCounter, 1)
	if m.downloadDelay > 0 {
		select {
		case <-time.After(m.downloadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.downloadError != nil {
		return nil, m.downloadError
	}
	return []byte("mock image data"), nil
}

func (m *MockClient) GetDownloadCount() int {
	return int(atomic.LoadInt32(&m.downloadCounter))
}

// MockStorage keeps saved names in memory
type MockStorage struct {
	saved     map[string]bool
	saveError error
	mu        sync.Mutex
}

func NewMockStorage() *MockStorage {
	return &MockStorage{saved: make(map[string]bool)}
}

func (m *MockStorage) IsDownloaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[name]
}

func (m *MockStorage) Save(r io.Reader, name string) error {
	if m.saveError != nil {
		return m.saveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[name] = true
	return nil
}

func (m *MockStorage) GetSavedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func submitN(t *testing.T, pool *Pool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		job := Job{
			URL:  fmt.Sprintf("https://example.com/image%d.jpg", i),
			Name: fmt.Sprintf("acme_%d.jpg", i),
			Feed: "acme",
		}
		if err := pool.Submit(context.Background(), job); err != nil {
			t.Errorf("Failed to submit job %d: %v", i, err)
		}
	}
}

func TestPoolBasicFunctionality(t *testing.T) {
	client := &MockClient{downloadDelay: 5 * time.Millisecond}
	store := NewMockStorage()

	pool := New(3, client, store, ratelimit.NewTokenBucket(100, time.Second), logger.NewNopLogger())
	pool.Start()
	submitN(t, pool, 10)
	pool.Stop()

	assert.Equal(t, Stats{Downloaded: 10}, pool.Stats())
	assert.Equal(t, 10, client.GetDownloadCount())
	assert.Equal(t, 10, store.GetSavedCount())
}

func TestPoolWithErrors(t *testing.T) {
	client := &MockClient{downloadError: errors.New("download error")}
	pool := New(2, client, NewMockStorage(), nil, logger.NewNopLogger())
	pool.Start()
	submitN(t, pool, 5)
	pool.Stop()

	assert.Equal(t, Stats{Failed: 5}, pool.Stats())

	saveFails := New(2, &MockClient{}, &MockStorage{saved: map[string]bool{}, saveError: errors.New("disk full")}, nil, logger.NewNopLogger())
	saveFails.Start()
	submitN(t, saveFails, 3)
	saveFails.Stop()
	assert.Equal(t, int64(3), saveFails.Stats().Failed)
}

func TestPoolConcurrency(t *testing.T) {
	client := &MockClient{downloadDelay: 100 * time.Millisecond}
	pool := New(5, client, NewMockStorage(), nil, logger.NewNopLogger())
	pool.Start()

	start := time.Now()
	submitN(t, pool, 10)
	pool.Stop()
	elapsed := time.Since(start)

	// 10 jobs of 100ms on 5 workers take about 200ms
	if elapsed > 600*time.Millisecond {
		t.Errorf("Downloads took too long: %v", elapsed)
	}
	assert.Equal(t, int64(10), pool.Stats().Downloaded)
}

func TestPoolSkipsExisting(t *testing.T) {
	client := &MockClient{}
	store := NewMockStorage()
	store.saved["acme_1.jpg"] = true
	store.saved["acme_3.jpg"] = true

	pool := New(2, client, store, nil, logger.NewNopLogger())
	pool.Start()
	submitN(t, pool, 4)
	pool.Stop()

	assert.Equal(t, 2, client.GetDownloadCount())
	assert.Equal(t, Stats{Downloaded: 2, Skipped: 2}, pool.Stats())
	assert.Equal(t, 4, store.GetSavedCount())
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := New(1, &MockClient{}, NewMockStorage(), nil, logger.NewNopLogger())
	pool.Start()
	pool.Stop()
	pool.Stop()

	err := pool.Submit(context.Background(), Job{URL: "u", Name: "n"})
	assert.Error(t, err)
}

func TestPoolCancel(t *testing.T) {
	client := &MockClient{downloadDelay: time.Hour}
	pool := New(1, client, NewMockStorage(), nil, logger.NewNopLogger())
	pool.Start()
	submitN(t, pool, 2)

	done := make(chan struct{})
	go func() {
		pool.Cancel()
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not abort in-flight downloads")
	}
	assert.Equal(t, int64(2), pool.Stats().Failed)
}

type recordingSink struct {
	records []models.Record
	fail    error
	closed  bool
}

func (r *recordingSink) Append(ctx context.Context, rec models.Record) error {
	if r.fail != nil {
		return r.fail
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestSinkQueuesImages(t *testing.T) {
	store := NewMockStorage()
	pool := New(2, &MockClient{}, store, nil, logger.NewNopLogger())
	pool.Start()

	next := &recordingSink{}
	s := NewSink(next, pool)
	rec := models.Record{
		Feed:     "acme",
		Identity: "id:7",
		Post: models.Post{
			ID:        "7",
			ImageURLs: []string{"https://pbs.example.com/a.png", "https://pbs.example.com/b.jpg"},
		},
	}
	require.NoError(t, s.Append(context.Background(), rec))
	require.NoError(t, s.Close())
	pool.Stop()

	assert.Len(t, next.records, 1)
	assert.True(t, next.closed)
	assert.True(t, store.IsDownloaded("acme_id_7_0.png"))
	assert.True(t, store.IsDownloaded("acme_id_7_1.jpg"))
}

func TestSinkDoesNotQueueFailedRecords(t *testing.T) {
	client := &MockClient{}
	pool := New(1, client, NewMockStorage(), nil, logger.NewNopLogger())
	pool.Start()

	s := NewSink(&recordingSink{fail: errors.New("disk full")}, pool)
	err := s.Append(context.Background(), models.Record{Post: models.Post{ImageURLs: []string{"https://x/a.jpg"}}})
	assert.Error(t, err)
	pool.Stop()

	assert.Zero(t, client.GetDownloadCount())
}

func TestSinkAppendReturnsWhenPoolStops(t *testing.T) {
	client := &MockClient{downloadDelay: time.Hour}
	pool := New(1, client, NewMockStorage(), nil, logger.NewNopLogger())
	pool.Start()

	rec := models.Record{Feed: "acme", Identity: "id:9"}
	for i := 0; i < 10; i++ {
		rec.Post.ImageURLs = append(rec.Post.ImageURLs, fmt.Sprintf("https://pbs.example.com/%d.jpg", i))
	}
	next := &recordingSink{}
	s := NewSink(next, pool)

	appended := make(chan error, 1)
	go func() { appended <- s.Append(context.Background(), rec) }()

	require.Eventually(t, func() bool {
		return pool.QueueSize() == cap(pool.jobQueue)
	}, 2*time.Second, time.Millisecond, "queue fills while the only worker is busy")

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case err := <-appended:
		assert.NoError(t, err, "the record is still admitted")
	case <-time.After(2 * time.Second):
		t.Fatal("Append stayed blocked after Stop")
	}
	assert.Len(t, next.records, 1)

	pool.Cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after Cancel")
	}
}
