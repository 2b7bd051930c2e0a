package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
)

// Snapshot replays page sources saved in a directory. Files are read in
// name order; each one is the whole page as it looked after one more
// scroll. Size is the byte length of the current file, so replaying past
// the last file leaves it unchanged.
type Snapshot struct {
	files    []string
	selector string
	log      logger.Logger

	mu      sync.Mutex
	pos     int
	content models.Content
	loaded  bool
}

// NewSnapshot lists the .html files in dir
func NewSnapshot(dir, selector string, log logger.Logger) (*Snapshot, error) {
	if selector == "" {
		return nil, fmt.Errorf("snapshot needs a fragment selector")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)

	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Snapshot{
		files:    files,
		selector: selector,
		log:      log.WithField("component", "snapshot"),
	}, nil
}

// IsReady loads the first file
func (s *Snapshot) IsReady(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.files) == 0 {
		return false, nil
	}
	if !s.loaded {
		if err := s.load(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// CurrentContent returns the fragments of the current file
func (s *Snapshot) CurrentContent(ctx context.Context) (models.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded && len(s.files) > 0 {
		if err := s.load(); err != nil {
			return models.Content{}, err
		}
	}
	return s.content, nil
}

// Advance moves to the next file, or does nothing after the last one
func (s *Snapshot) Advance(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos+1 >= len(s.files) {
		return nil
	}
	s.pos++
	return s.load()
}

// Close releases nothing
func (s *Snapshot) Close() error {
	return nil
}

func (s *Snapshot) load() error {
	path := s.files[s.pos]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	frags, err := SplitHTML(data, s.selector)
	if err != nil {
		return err
	}
	s.content = join([]page{{frags: frags}}, int64(len(data)))
	s.loaded = true
	s.log.DebugWithFields("Loaded snapshot", map[string]interface{}{
		"file":      filepath.Base(path),
		"fragments": len(frags),
	})
	return nil
}
