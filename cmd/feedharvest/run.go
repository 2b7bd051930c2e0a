package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"feedharvest/pkg/auth"
	"feedharvest/pkg/config"
	"feedharvest/pkg/harvest"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/supervisor"
	"feedharvest/pkg/ui"
	"feedharvest/pkg/ui/tui"
)

var (
	// Run command flags
	runJobs       []string
	outputDir     string
	formats       []string
	checkpointDir string
	metricsListen string
	mediaEnabled  bool
	maxIterations int
	useTUI        bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest every configured feed",
	Long: `Harvest the feeds listed under 'jobs' in the configuration file, one worker
per feed, all running concurrently.

Each feed resumes from its checkpoint, so records written by an earlier run are
never written again. Press Ctrl+C once to stop: every worker saves a final
checkpoint before exiting. A second Ctrl+C exits immediately.`,
	Example: `  # Harvest every configured feed
  feedharvest run

  # Harvest two feeds into SQLite and JSONL
  feedharvest run --job FibeIndia --job casheApp --format sqlite,jsonl

  # Expose Prometheus metrics and the live job list
  feedharvest run --metrics-listen :9090

  # Watch progress in the terminal dashboard
  feedharvest run --tui`,
	Args: cobra.NoArgs,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVarP(&runJobs, "job", "j", nil, "harvest only these feeds (repeatable)")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for record files")
	runCmd.Flags().StringSliceVarP(&formats, "format", "f", nil, "output formats: csv, jsonl, sqlite, postgres")
	runCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "directory for checkpoint files")
	runCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve /metrics, /healthz and /jobs on this address")
	runCmd.Flags().BoolVar(&mediaEnabled, "media", false, "download post images")
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration budget per feed")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show a live dashboard instead of logs")
}

// runFlags collects the run flags the user actually set
func runFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	changed := cmd.Flags().Changed
	if changed("output") {
		flags["output"] = outputDir
	}
	if changed("format") {
		flags["format"] = formats
	}
	if changed("checkpoint-dir") {
		flags["checkpoint-dir"] = checkpointDir
	}
	if changed("metrics-listen") {
		flags["metrics-listen"] = metricsListen
	}
	if changed("media") {
		flags["media"] = mediaEnabled
	}
	if changed("max-iterations") {
		flags["max-iterations"] = maxIterations
	}
	return flags
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runFlags(cmd))
	if err != nil {
		return err
	}
	if err := cfg.SelectJobs(runJobs); err != nil {
		return err
	}
	if useTUI && cfg.Logging.File == "" {
		// The dashboard owns the terminal
		cfg.Logging.Level = "error"
		if err := logger.Initialize(&cfg.Logging); err != nil {
			return err
		}
	}
	log := logger.GetLogger()

	if err := applySession(cfg); err != nil {
		return err
	}

	// The first signal stops every worker; stop() then restores the default
	// handling so a second signal kills the process
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	h, err := harvest.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize harvest: %w", err)
	}
	defer h.Close()

	log.WithFields(map[string]interface{}{
		"run_id":  h.Supervisor().RunID(),
		"version": version,
		"jobs":    len(cfg.Jobs),
	}).Info("feedharvest starting")
	ui.PrintInfo("Run", h.Supervisor().RunID())

	var report *supervisor.Report
	if useTUI {
		report, err = runWithDashboard(ctx, h)
		if err != nil {
			return err
		}
	} else {
		ui.PrintHighlight("[HARVEST STARTED]")
		report = h.Run(ctx)
	}

	report.Render(os.Stdout)

	code := 0
	switch {
	case report.Interrupted:
		ui.PrintWarning("Harvest interrupted; rerun to resume from the saved checkpoints")
		code = 130
	case report.Failed() > 0:
		ui.PrintError("Harvest finished with failures", fmt.Sprintf("%d of %d jobs", report.Failed(), len(report.Jobs)))
		code = 1
	default:
		ui.PrintSuccess(fmt.Sprintf("[HARVEST COMPLETED] %d records admitted", report.Admitted()))
	}

	if err := h.Close(); err != nil {
		log.WithError(err).Warn("Failed to close output databases")
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// runWithDashboard runs the harvest while the dashboard owns the terminal.
// Quitting the dashboard stops every worker.
func runWithDashboard(ctx context.Context, h *harvest.Harvest) (*supervisor.Report, error) {
	sup := h.Supervisor()
	dashboard := tui.NewTUI(sup, sup.StopAll)

	done := make(chan *supervisor.Report, 1)
	go func() {
		report := h.Run(ctx)
		dashboard.Done()
		done <- report
	}()

	if err := dashboard.Start(); err != nil {
		sup.StopAll()
		report := <-done
		return report, fmt.Errorf("dashboard failed: %w", err)
	}
	return <-done, nil
}

// applySession fills an empty cookie from a stored session when some job
// fetches over HTTP. A missing session store is only an error when a
// session was named.
func applySession(cfg *config.Config) error {
	if cfg.HTTP.Cookie != "" || !usesHTTP(cfg) {
		return nil
	}
	manager, err := auth.NewManager("")
	if err != nil {
		if cfg.HTTP.Session != "" {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		logger.WithError(err).Debug("Session store unavailable")
		return nil
	}

	applied, err := manager.Apply(&cfg.HTTP)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return fmt.Errorf("session %q not found; store it with 'feedharvest auth login %s'", cfg.HTTP.Session, cfg.HTTP.Session)
		}
		return err
	}
	if applied {
		logger.Info("Using stored session cookie")
	}
	return nil
}

func usesHTTP(cfg *config.Config) bool {
	jobs, err := cfg.ResolveJobs()
	if err != nil {
		return false
	}
	for _, job := range jobs {
		if job.Source.Kind == config.SourceHTTP {
			return true
		}
	}
	return false
}
