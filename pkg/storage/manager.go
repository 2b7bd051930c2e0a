package storage

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Manager stores downloaded media files in one directory and remembers
// which names are already present
type Manager struct {
	outputDir  string
	downloaded map[string]bool
	mu         sync.RWMutex
}

// NewManager creates a new storage manager
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manager := &Manager{
		outputDir:  outputDir,
		downloaded: make(map[string]bool),
	}

	if err := manager.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	return manager, nil
}

// scanExistingFiles records the files already in the output directory
func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		m.downloaded[entry.Name()] = true
	}

	return nil
}

// IsDownloaded reports whether a file called name already exists
func (m *Manager) IsDownloaded(name string) bool {
	m.mu.RLock()
	known := m.downloaded[name]
	m.mu.RUnlock()
	if known {
		return true
	}

	if _, err := os.Stat(filepath.Join(m.outputDir, name)); err == nil {
		m.mu.Lock()
		m.downloaded[name] = true
		m.mu.Unlock()
		return true
	}

	return false
}

// Save writes r to name through a temporary file and a rename, so a
// partially written file never appears under its final name
func (m *Manager) Save(r io.Reader, name string) error {
	filename := filepath.Join(m.outputDir, name)

	out, err := os.CreateTemp(m.outputDir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempFile := out.Name()

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to save media data: %w", err)
	}

	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	m.mu.Lock()
	m.downloaded[name] = true
	m.mu.Unlock()

	return nil
}

// Dir returns the output directory path
func (m *Manager) Dir() string {
	return m.outputDir
}

// Count returns the number of stored files
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.downloaded)
}

// MediaName names the n-th media file of a record. The extension comes
// from the URL path, or the "format" query parameter used by image CDNs,
// and defaults to .jpg.
func MediaName(feed, identity string, n int, rawURL string) string {
	ext := ".jpg"
	if u, err := url.Parse(rawURL); err == nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 5 {
			ext = e
		} else if f := u.Query().Get("format"); f != "" {
			ext = "." + f
		}
	}
	return fmt.Sprintf("%s_%s_%d%s", safe(feed), safe(identity), n, strings.ToLower(ext))
}

func safe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '?', '*', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
