package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedharvest/pkg/auth"
	"feedharvest/pkg/checkpoint"
	"feedharvest/pkg/config"
	"feedharvest/pkg/harvest"
)

func TestExampleConfigIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedharvest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleConfig), 0644))

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	require.NoError(t, cfg.Validate())

	jobs, err := cfg.ResolveJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "https://example.com/FibeIndia/posts?page={page}", jobs[0].Source.URL)
	assert.Equal(t, []string{"casheApp", "support"}, jobs[1].ExcludeAuthors)
	assert.Equal(t, config.SourceSnapshot, jobs[2].Source.Kind)
	assert.Equal(t, "./snapshots/archive", jobs[2].Source.Dir)
	assert.Equal(t, 4*time.Second, cfg.Harvest.SettleDelay)
	assert.NotEmpty(t, cfg.HTTP.UserAgent)
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"empty", "", ""},
		{"with password", "postgres://harvest:secret@db:5432/harvest", "postgres://harvest:***@db:5432/harvest"},
		{"without password", "postgres://harvest@db/harvest", "postgres://harvest@db/harvest"},
		{"keyword form", "host=db password=secret", "host...cret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskDSN(tt.dsn))
		})
	}
}

func TestMaskedConfigLeavesOriginal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Cookie = "auth_token=abcdef123456"

	display := maskedConfig(cfg)
	assert.Equal(t, "auth...3456", display.HTTP.Cookie)
	assert.Equal(t, "auth_token=abcdef123456", cfg.HTTP.Cookie)
}

func TestRenderCheckpoints(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Checkpoint.Directory = t.TempDir()
	cfg.Jobs = []config.JobConfig{
		{Feed: "acme", StartDate: "2024-10-01", EndDate: "2024-10-31", Source: config.SourceConfig{URL: "https://example.com/{feed}"}},
		{Feed: "globex", StartDate: "2024-10-01", EndDate: "2024-10-31", Source: config.SourceConfig{URL: "https://example.com/{feed}"}},
	}
	jobs, err := cfg.ResolveJobs()
	require.NoError(t, err)

	store := checkpoint.NewStore(nil)
	path, err := harvest.CheckpointPath(cfg, jobs[0])
	require.NoError(t, err)
	require.NoError(t, store.Save(path, &checkpoint.State{
		Feed:           "acme",
		SeenIdentities: []string{"id:1", "id:2", "id:3"},
		FinalizedCount: 2,
	}))

	var buf bytes.Buffer
	require.NoError(t, renderCheckpoints(&buf, cfg, jobs, store))

	out := buf.String()
	assert.Contains(t, out, "acme")
	assert.Contains(t, out, "globex")
	assert.Contains(t, out, "none")
	assert.Contains(t, out, path)
}

func TestRenderSessionsMasksCookies(t *testing.T) {
	var buf bytes.Buffer
	renderSessions(&buf, []*auth.Session{
		{Name: "work", Cookie: "auth_token=abcdef123456", LastModified: time.Now()},
	})

	out := buf.String()
	assert.Contains(t, out, "work")
	assert.Contains(t, out, "auth...3456")
	assert.NotContains(t, out, "abcdef123456")
}
