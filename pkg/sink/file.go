package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/models"
)

func openAppend(path string) (*os.File, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return f, info.Size() == 0, nil
}

// CSV appends records to a CSV file. The header is written only when the
// file is new, so resumed runs keep appending to the same table.
type CSV struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// OpenCSV opens or creates path
func OpenCSV(path string) (*CSV, error) {
	f, fresh, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	s := &CSV{path: path, file: f, w: csv.NewWriter(f)}
	if fresh {
		if err := s.write(Columns); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Append writes one row and flushes it
func (s *CSV) Append(ctx context.Context, r models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(row(r))
}

func (s *CSV) write(fields []string) error {
	if err := s.w.Write(fields); err != nil {
		return errs.New(errs.KindSinkWriteError, "csv "+s.path, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return errs.New(errs.KindSinkWriteError, "csv "+s.path, err)
	}
	return nil
}

// Close flushes and closes the file
func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// JSONL appends one JSON object per record
type JSONL struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *json.Encoder
}

// OpenJSONL opens or creates path
func OpenJSONL(path string) (*JSONL, error) {
	f, _, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONL{path: path, file: f, enc: enc}, nil
}

// Append writes one line
func (s *JSONL) Append(ctx context.Context, r models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(r); err != nil {
		return errs.New(errs.KindSinkWriteError, "jsonl "+s.path, err)
	}
	return nil
}

// Close closes the file
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
