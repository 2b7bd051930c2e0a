package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the harvester
type Config struct {
	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Collector tuning shared by every job
	Harvest HarvestConfig `yaml:"harvest" json:"harvest"`

	// Request pacing for HTTP sources and media downloads
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// HTTP client settings
	HTTP HTTPConfig `yaml:"http" json:"http"`

	// Record sinks
	Output OutputConfig `yaml:"output" json:"output"`

	// Optional media download
	Media MediaConfig `yaml:"media" json:"media"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Checkpoint location
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Defaults merged into every job
	Defaults JobConfig `yaml:"defaults" json:"defaults"`

	// Feeds to harvest
	Jobs []JobConfig `yaml:"jobs" json:"jobs"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Format string `yaml:"format" json:"format"`
}

// HarvestConfig holds collector tuning
type HarvestConfig struct {
	StagnationLimit       int           `yaml:"stagnation_limit" json:"stagnation_limit"`
	CheckpointEvery       int           `yaml:"checkpoint_every" json:"checkpoint_every"`
	SettleDelay           time.Duration `yaml:"settle_delay" json:"settle_delay"`
	InitializationTimeout time.Duration `yaml:"initialization_timeout" json:"initialization_timeout"`
	ReadyPollInterval     time.Duration `yaml:"ready_poll_interval" json:"ready_poll_interval"`
	RetryDelay            time.Duration `yaml:"retry_delay" json:"retry_delay"`
	AdvancesPerMinute     int           `yaml:"advances_per_minute" json:"advances_per_minute"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	UserAgent  string        `yaml:"user_agent" json:"user_agent"`
	Cookie     string        `yaml:"cookie" json:"cookie"`
	// Session names a stored session used when Cookie is empty
	Session    string        `yaml:"session" json:"session"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// OutputConfig holds sink configuration
type OutputConfig struct {
	Directory   string   `yaml:"directory" json:"directory"`
	Formats     []string `yaml:"formats" json:"formats"`
	SQLitePath  string   `yaml:"sqlite_path" json:"sqlite_path"`
	PostgresDSN string   `yaml:"postgres_dsn" json:"postgres_dsn"`
}

// FormatList returns the configured formats lowercased and trimmed, without
// duplicates, in their configured order
func (o OutputConfig) FormatList() []string {
	seen := make(map[string]bool, len(o.Formats))
	out := make([]string, 0, len(o.Formats))
	for _, f := range o.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// MediaConfig holds media download configuration
type MediaConfig struct {
	Enabled             bool   `yaml:"enabled" json:"enabled"`
	Directory           string `yaml:"directory" json:"directory"`
	ConcurrentDownloads int    `yaml:"concurrent_downloads" json:"concurrent_downloads"`
}

// MetricsConfig holds the metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// CheckpointConfig holds checkpoint storage configuration
type CheckpointConfig struct {
	// Directory for checkpoint files; empty means the platform data directory
	Directory string `yaml:"directory" json:"directory"`
}

// JobConfig describes one feed to harvest
type JobConfig struct {
	Feed           string       `yaml:"feed" json:"feed"`
	StartDate      string       `yaml:"start_date" json:"start_date"`
	EndDate        string       `yaml:"end_date" json:"end_date"`
	Checkpoint     string       `yaml:"checkpoint" json:"checkpoint"`
	MaxIterations  int          `yaml:"max_iterations" json:"max_iterations"`
	EarlyExit      *bool        `yaml:"early_exit" json:"early_exit"`
	ExcludeAuthors []string     `yaml:"exclude_authors" json:"exclude_authors"`
	Source         SourceConfig `yaml:"source" json:"source"`
}

// SourceConfig describes where a job's feed content comes from
type SourceConfig struct {
	// Kind is "http" or "snapshot"
	Kind string `yaml:"kind" json:"kind"`
	// URL template for http sources; {feed} and {page} are substituted
	URL string `yaml:"url" json:"url"`
	// Dir of saved page sources for snapshot sources; {feed} is substituted
	Dir string `yaml:"dir" json:"dir"`
	// Selector matching one fragment in a page
	Selector string `yaml:"selector" json:"selector"`
	// KeepPages bounds how many pages stay visible at once (0 keeps all)
	KeepPages int `yaml:"keep_pages" json:"keep_pages"`
}

// Source kinds
const (
	SourceHTTP     = "http"
	SourceSnapshot = "snapshot"
)

// Output formats
const (
	FormatCSV      = "csv"
	FormatJSONL    = "jsonl"
	FormatSQLite   = "sqlite"
	FormatPostgres = "postgres"
)

// DefaultSelector matches one post article in a rendered timeline
const DefaultSelector = "article[data-testid='tweet']"

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	earlyExit := true
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "console",
		},
		Harvest: HarvestConfig{
			StagnationLimit:       5,
			CheckpointEvery:       20,
			SettleDelay:           4 * time.Second,
			InitializationTimeout: 2 * time.Minute,
			ReadyPollInterval:     time.Second,
			RetryDelay:            10 * time.Second,
			AdvancesPerMinute:     0,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		HTTP: HTTPConfig{
			UserAgent:  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Output: OutputConfig{
			Directory: "./harvest",
			Formats:   []string{FormatCSV},
		},
		Media: MediaConfig{
			Enabled:             false,
			Directory:           "./harvest/media",
			ConcurrentDownloads: 3,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
		Defaults: JobConfig{
			MaxIterations: 2500,
			EarlyExit:     &earlyExit,
			Source: SourceConfig{
				Kind:      SourceHTTP,
				Selector:  DefaultSelector,
				KeepPages: 0,
			},
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if logLevel := os.Getenv("HARVEST_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv("HARVEST_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}
	if outputDir := os.Getenv("HARVEST_OUTPUT_DIR"); outputDir != "" {
		c.Output.Directory = outputDir
	}
	if checkpointDir := os.Getenv("HARVEST_CHECKPOINT_DIR"); checkpointDir != "" {
		c.Checkpoint.Directory = checkpointDir
	}
	if cookie := os.Getenv("HARVEST_COOKIE"); cookie != "" {
		c.HTTP.Cookie = cookie
	}
	if session := os.Getenv("HARVEST_SESSION"); session != "" {
		c.HTTP.Session = session
	}
	if dsn := os.Getenv("HARVEST_POSTGRES_DSN"); dsn != "" {
		c.Output.PostgresDSN = dsn
	}
	if listen := os.Getenv("HARVEST_METRICS_LISTEN"); listen != "" {
		c.Metrics.Listen = listen
		c.Metrics.Enabled = true
	}

	if rpm := os.Getenv("HARVEST_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		if _, err := fmt.Sscanf(rpm, "%d", &val); err != nil {
			return fmt.Errorf("invalid HARVEST_REQUESTS_PER_MINUTE %q: %w", rpm, err)
		}
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}

	if media := os.Getenv("HARVEST_MEDIA_ENABLED"); media != "" {
		c.Media.Enabled = strings.ToLower(media) == "true"
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"feedharvest.yaml",
		"feedharvest.yml",
		".feedharvest.yaml",
		filepath.Join(home, ".config", "feedharvest", "config.yaml"),
		filepath.Join(home, ".config", "feedharvest", "config.yml"),
		filepath.Join(home, ".feedharvest.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// ResolveJobs returns the configured jobs with defaults merged in
func (c *Config) ResolveJobs() ([]JobConfig, error) {
	jobs := make([]JobConfig, 0, len(c.Jobs))
	for i, job := range c.Jobs {
		if err := mergo.Merge(&job, c.Defaults); err != nil {
			return nil, fmt.Errorf("failed to merge defaults into job %d: %w", i, err)
		}
		job.Source.URL = expandFeed(job.Source.URL, job.Feed)
		job.Source.Dir = expandFeed(job.Source.Dir, job.Feed)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// SelectJobs restricts the configured jobs to the named feeds
func (c *Config) SelectJobs(feeds []string) error {
	if len(feeds) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(feeds))
	for _, f := range feeds {
		wanted[f] = true
	}

	var selected []JobConfig
	for _, job := range c.Jobs {
		if wanted[job.Feed] {
			selected = append(selected, job)
			delete(wanted, job.Feed)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for f := range wanted {
			missing = append(missing, f)
		}
		return fmt.Errorf("unknown jobs: %s", strings.Join(missing, ", "))
	}
	c.Jobs = selected
	return nil
}

// Job looks up a configured job by feed, defaults merged
func (c *Config) Job(feed string) (JobConfig, error) {
	jobs, err := c.ResolveJobs()
	if err != nil {
		return JobConfig{}, err
	}
	for _, job := range jobs {
		if job.Feed == feed {
			return job, nil
		}
	}
	return JobConfig{}, fmt.Errorf("no job configured for feed %q", feed)
}

// EarlyExitEnabled reports the job's early exit policy
func (j JobConfig) EarlyExitEnabled() bool {
	return j.EarlyExit == nil || *j.EarlyExit
}

func expandFeed(s, feed string) string {
	return strings.ReplaceAll(s, "{feed}", feed)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Validate harvest tuning
	if c.Harvest.StagnationLimit <= 0 {
		errs = append(errs, errors.New("stagnation limit must be positive"))
	}
	if c.Harvest.CheckpointEvery <= 0 {
		errs = append(errs, errors.New("checkpoint interval must be positive"))
	}
	if c.Harvest.SettleDelay < 0 {
		errs = append(errs, errors.New("settle delay cannot be negative"))
	}
	if c.Harvest.InitializationTimeout <= 0 {
		errs = append(errs, errors.New("initialization timeout must be positive"))
	}
	if c.Harvest.ReadyPollInterval <= 0 {
		errs = append(errs, errors.New("ready poll interval must be positive"))
	}
	if c.Harvest.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	if c.Harvest.AdvancesPerMinute < 0 {
		errs = append(errs, errors.New("advances per minute cannot be negative"))
	}

	// Validate rate limiting
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http timeout must be positive"))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	// Validate output settings
	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if len(c.Output.FormatList()) == 0 {
		errs = append(errs, errors.New("at least one output format is required"))
	}
	for _, format := range c.Output.FormatList() {
		switch format {
		case FormatCSV, FormatJSONL, FormatSQLite:
		case FormatPostgres:
			if c.Output.PostgresDSN == "" {
				errs = append(errs, errors.New("postgres output requires a DSN"))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid output format %q", format))
		}
	}

	if c.Media.Enabled {
		if c.Media.Directory == "" {
			errs = append(errs, errors.New("media directory is required when media download is enabled"))
		}
		if c.Media.ConcurrentDownloads <= 0 || c.Media.ConcurrentDownloads > 10 {
			errs = append(errs, errors.New("concurrent downloads must be between 1 and 10"))
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics listen address is required"))
	}

	// Validate logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	validFormats := map[string]bool{"console": true, "json": true, "": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
	}

	errs = append(errs, c.validateJobs()...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateJobs checks every job after defaults are merged
func (c *Config) validateJobs() []error {
	var errs []error

	if len(c.Jobs) == 0 {
		return []error{errors.New("at least one job is required")}
	}

	jobs, err := c.ResolveJobs()
	if err != nil {
		return []error{err}
	}

	feeds := make(map[string]bool)
	checkpoints := make(map[string]string)
	for i, job := range jobs {
		name := job.Feed
		if name == "" {
			errs = append(errs, fmt.Errorf("job %d: feed is required", i))
			name = fmt.Sprintf("#%d", i)
		} else if feeds[name] {
			errs = append(errs, fmt.Errorf("job %s: duplicate feed", name))
		}
		feeds[name] = true

		if job.Checkpoint != "" {
			clean := filepath.Clean(job.Checkpoint)
			if other, ok := checkpoints[clean]; ok {
				errs = append(errs, fmt.Errorf("job %s: checkpoint %s already used by job %s", name, clean, other))
			}
			checkpoints[clean] = name
		}

		start, err := time.Parse("2006-01-02", job.StartDate)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: invalid start date %q", name, job.StartDate))
		}
		end, err2 := time.Parse("2006-01-02", job.EndDate)
		if err2 != nil {
			errs = append(errs, fmt.Errorf("job %s: invalid end date %q", name, job.EndDate))
		}
		if err == nil && err2 == nil && end.Before(start) {
			errs = append(errs, fmt.Errorf("job %s: end date is before start date", name))
		}

		if job.MaxIterations < 0 {
			errs = append(errs, fmt.Errorf("job %s: max iterations cannot be negative", name))
		}

		switch job.Source.Kind {
		case SourceHTTP:
			if job.Source.URL == "" {
				errs = append(errs, fmt.Errorf("job %s: http source requires a url", name))
			}
		case SourceSnapshot:
			if job.Source.Dir == "" {
				errs = append(errs, fmt.Errorf("job %s: snapshot source requires a dir", name))
			}
		default:
			errs = append(errs, fmt.Errorf("job %s: invalid source kind %q", name, job.Source.Kind))
		}
		if job.Source.KeepPages < 0 {
			errs = append(errs, fmt.Errorf("job %s: keep_pages cannot be negative", name))
		}
	}

	return errs
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.Directory = outputDir
	}
	if formats, ok := flags["format"].([]string); ok && len(formats) > 0 {
		c.Output.Formats = formats
	}
	if checkpointDir, ok := flags["checkpoint-dir"].(string); ok && checkpointDir != "" {
		c.Checkpoint.Directory = checkpointDir
	}
	if listen, ok := flags["metrics-listen"].(string); ok && listen != "" {
		c.Metrics.Listen = listen
		c.Metrics.Enabled = true
	}
	if media, ok := flags["media"].(bool); ok {
		c.Media.Enabled = media
	}
	if maxIterations, ok := flags["max-iterations"].(int); ok && maxIterations > 0 {
		c.Defaults.MaxIterations = maxIterations
		for i := range c.Jobs {
			c.Jobs[i].MaxIterations = maxIterations
		}
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".feedharvest.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	config.Output.Formats = config.Output.FormatList()

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
