package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedharvest/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug json", &config.LoggingConfig{Level: "debug", Format: "json"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "harvest.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func TestUseConsoleFormat(t *testing.T) {
	assert.False(t, useConsoleFormat("json", nil))
	assert.True(t, useConsoleFormat("CONSOLE", nil))
}

func newBufferLogger(t *testing.T, level string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, err := NewWithWriter(&config.LoggingConfig{Level: level}, &buf)
	require.NoError(t, err)
	return log, &buf
}

func TestNewWithWriterTagsApp(t *testing.T) {
	log, buf := newBufferLogger(t, "debug")
	log.WithField("feed", "FibeIndia").Info("job started")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "feedharvest", line["app"])
	assert.Equal(t, "FibeIndia", line["feed"])
	assert.Equal(t, "job started", line["message"])
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(t, "warn")
	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestFieldChaining(t *testing.T) {
	log, buf := newBufferLogger(t, "info")

	base := log.WithField("feed", "a")
	base.WithFields(map[string]interface{}{"iteration": 3, "done": true}).Info("chained")
	base.Info("base only")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"feed":"a"`)
	assert.Contains(t, lines[0], `"iteration":3`)
	assert.Contains(t, lines[0], `"done":true`)
	assert.NotContains(t, lines[1], "iteration", "derived fields must not leak into the parent")
}

func TestWithError(t *testing.T) {
	log, buf := newBufferLogger(t, "info")

	assert.Same(t, log, log.WithError(nil))

	log.WithError(errors.New("disk full")).Error("sink write failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestFieldTypes(t *testing.T) {
	log, buf := newBufferLogger(t, "info")

	log.InfoWithFields("typed", map[string]interface{}{
		"int64":    int64(456),
		"float":    3.5,
		"time":     time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC),
		"duration": 5 * time.Second,
		"strings":  []string{"a", "b"},
		"custom":   struct{ Name string }{Name: "x"},
	})

	out := buf.String()
	assert.Contains(t, out, `"int64":456`)
	assert.Contains(t, out, `"strings":["a","b"]`)
	assert.Contains(t, out, `"Name":"x"`)
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	log, buf := newBufferLogger(t, "info")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			l := log.WithField("worker", w)
			for i := 0; i < 50; i++ {
				l.Info("tick")
			}
		}(w)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 400)
	for _, line := range lines {
		var v map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &v), "line %q", line)
	}
}

func TestGlobalLogger(t *testing.T) {
	require.NoError(t, Initialize(&config.LoggingConfig{Level: "disabled"}))
	require.NotNil(t, GetLogger())

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")
	WithField("key", "value").Info("with field")
	WithError(errors.New("boom")).Error("with error")
}

func TestHelpers(t *testing.T) {
	tl := NewTestLogger()
	log := tl.WithField("feed", "acme")

	LogComponentStart(log, "collector", map[string]interface{}{"stagnation_limit": 5})
	LogComponentStop(log, "collector", "stagnation")
	LogCheckpoint(log, "/tmp/a.json", 3, time.Millisecond, nil)
	LogCheckpoint(log, "/tmp/a.json", 3, time.Millisecond, errors.New("read-only"))
	LogRequest(log, "GET", "https://example.com", 503, time.Second)

	started, ok := tl.Find("Component started")
	require.True(t, ok)
	assert.Equal(t, "acme", started.Fields["feed"])
	assert.Equal(t, 5, started.Fields["stagnation_limit"])

	failed, ok := tl.Find("Checkpoint write failed")
	require.True(t, ok)
	assert.Equal(t, "WARN", failed.Level)
	assert.EqualError(t, failed.Error, "read-only")

	assert.True(t, tl.HasError(), "5xx requests log at error level")
	assert.Equal(t, "50.0%", Percent(1, 2))
	assert.Equal(t, "0.0%", Percent(1, 0))
}

func TestTestLoggerSharesCapture(t *testing.T) {
	tl := NewTestLogger()
	tl.WithField("a", 1).WithError(errors.New("x")).Warn("derived")
	tl.Info("root")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Fields["a"])
	assert.Empty(t, msgs[1].Fields)

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}
