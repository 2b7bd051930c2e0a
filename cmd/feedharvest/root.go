package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"feedharvest/pkg/config"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "feedharvest",
	Short: "Resumable concurrent harvester for paginated social feeds",
	Long: `feedharvest collects posts from paginated feeds into CSV, JSONL, SQLite or
Postgres, one worker per configured feed.

Features:
  - Date window filtering with early exit once posts get older than the window
  - Exactly-once output across restarts through per-feed checkpoints
  - Stops a feed after its content stops growing
  - Graceful shutdown on Ctrl+C with a final checkpoint per feed
  - Prometheus metrics and a live job status endpoint
  - Optional download of post images`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			ui.SetQuietMode(true)
		}
		if noColor {
			ui.SetNoColor(true)
		}
		if cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "show" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./feedharvest.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.SetVersionTemplate(`feedharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// effectiveLogLevel resolves --log-level, --quiet and --verbose
func effectiveLogLevel() string {
	switch {
	case logLevel != "":
		return logLevel
	case quiet:
		return "error"
	case verbose:
		return "debug"
	default:
		return ""
	}
}

// loadConfig loads the configuration with the given command line overrides
// and initializes the global logger from it
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if level := effectiveLogLevel(); level != "" {
		flags["log-level"] = level
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
