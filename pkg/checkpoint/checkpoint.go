package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
)

// Version is the only checkpoint layout this build reads and writes
const Version = 1

// ErrCorrupt is wrapped by every Load error caused by the file's content
var ErrCorrupt = errors.New("corrupt checkpoint")

// State is the persisted progress of one job
type State struct {
	Version        int       `json:"version"`
	Feed           string    `json:"feed"`
	SeenIdentities []string  `json:"seenIdentities"`
	FinalizedCount int       `json:"finalizedCount"`
	SavedAt        time.Time `json:"savedAt"`
}

// Store loads and saves checkpoint files
type Store struct {
	logger logger.Logger
}

// NewStore creates a checkpoint store
func NewStore(log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{logger: log}
}

// Load reads the checkpoint at path. It returns (nil, nil) when no file
// exists. A file that exists but cannot be used is reported with kind
// corrupt_checkpoint and left untouched on disk.
func (s *Store) Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.KindCorruptCheckpoint, "load "+path, fmt.Errorf("failed to read checkpoint file: %w", err))
	}

	st, err := decode(data)
	if err != nil {
		return nil, errs.New(errs.KindCorruptCheckpoint, "load "+path, err)
	}

	s.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"path":      path,
		"feed":      st.Feed,
		"seen":      len(st.SeenIdentities),
		"finalized": st.FinalizedCount,
		"saved_at":  st.SavedAt,
	})
	return st, nil
}

func decode(data []byte) (*State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrCorrupt)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var st State
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after checkpoint", ErrCorrupt)
	}
	if st.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, st.Version)
	}
	if st.FinalizedCount < 0 {
		return nil, fmt.Errorf("%w: negative finalized count %d", ErrCorrupt, st.FinalizedCount)
	}
	if st.SeenIdentities == nil {
		st.SeenIdentities = []string{}
	}
	return &st, nil
}

// Save writes st to path atomically: the file on disk is always either the
// previous checkpoint or the new one in full.
func (s *Store) Save(path string, st *State) error {
	out := *st
	out.Version = Version
	out.SavedAt = time.Now().UTC()
	if out.SeenIdentities == nil {
		out.SeenIdentities = []string{}
	}

	start := time.Now()
	if err := writeAtomic(path, &out); err != nil {
		return errs.New(errs.KindCheckpointWriteError, "save "+path, err)
	}

	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"path":      path,
		"feed":      out.Feed,
		"seen":      len(out.SeenIdentities),
		"finalized": out.FinalizedCount,
		"duration":  time.Since(start),
	})
	return nil
}

func writeAtomic(path string, st *State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}
	tempPath := file.Name()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(st); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry of a rename. Not every platform
// supports it, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Delete removes the checkpoint file. Only operator commands call it.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	s.logger.InfoWithFields("Checkpoint deleted", map[string]interface{}{"path": path})
	return nil
}

// Exists checks if a checkpoint file exists
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Info returns a summary of the checkpoint at path, or nil when absent
func (s *Store) Info(path string) (map[string]interface{}, error) {
	st, err := s.Load(path)
	if err != nil || st == nil {
		return nil, err
	}

	return map[string]interface{}{
		"path":      path,
		"feed":      st.Feed,
		"seen":      len(st.SeenIdentities),
		"finalized": st.FinalizedCount,
		"saved_at":  st.SavedAt,
		"age":       time.Since(st.SavedAt).Round(time.Second),
	}, nil
}

// DefaultPath returns the checkpoint location for feed under dir, falling
// back to the platform data directory when dir is empty
func DefaultPath(dir, feed string) (string, error) {
	if dir == "" {
		dataDir, err := DataDirectory()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(dataDir, "checkpoints")
	}
	return filepath.Join(dir, fileName(feed)), nil
}

func fileName(feed string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, feed)
	return safe + ".checkpoint.json"
}

// DataDirectory returns the appropriate data directory for the current OS
func DataDirectory() (string, error) {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "feedharvest"), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "feedharvest"), nil
	default:
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			return filepath.Join(xdgDataHome, "feedharvest"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "feedharvest"), nil
	}
}
