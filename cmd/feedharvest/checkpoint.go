package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"feedharvest/pkg/checkpoint"
	"feedharvest/pkg/config"
	"feedharvest/pkg/harvest"
	"feedharvest/pkg/ui"
)

var clearAll bool

// checkpointCmd represents the checkpoint command
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear per-feed checkpoints",
	Long: `Every feed keeps a checkpoint of the records it has already written so a
later run resumes without duplicates. Clearing a checkpoint makes the next run
start that feed from scratch, except that records already stored in a sqlite
or postgres output are still skipped.`,
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show [feed...]",
	Short: "Show the checkpoint of every (or the named) feed",
	RunE:  runCheckpointShow,
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear [feed...]",
	Short: "Delete the checkpoint of the named feeds",
	Example: `  # Start FibeIndia from scratch on the next run
  feedharvest checkpoint clear FibeIndia

  # Forget every feed
  feedharvest checkpoint clear --all`,
	RunE: runCheckpointClear,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)

	checkpointClearCmd.Flags().BoolVar(&clearAll, "all", false, "clear every configured feed")
}

// selectedJobs loads the config and returns the named jobs, or all of them
func selectedJobs(feeds []string) (*config.Config, []config.JobConfig, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.SelectJobs(feeds); err != nil {
		return nil, nil, err
	}
	jobs, err := cfg.ResolveJobs()
	if err != nil {
		return nil, nil, err
	}
	return cfg, jobs, nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	cfg, jobs, err := selectedJobs(args)
	if err != nil {
		return err
	}
	return renderCheckpoints(os.Stdout, cfg, jobs, checkpoint.NewStore(nil))
}

// renderCheckpoints writes one table row per job's checkpoint
func renderCheckpoints(w io.Writer, cfg *config.Config, jobs []config.JobConfig, store *checkpoint.Store) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Checkpoints")
	t.AppendHeader(table.Row{"Feed", "Seen", "Total", "Saved", "Path"})

	for _, job := range jobs {
		path, err := harvest.CheckpointPath(cfg, job)
		if err != nil {
			return err
		}
		info, err := store.Info(path)
		switch {
		case err != nil:
			t.AppendRow(table.Row{job.Feed, "-", "-", "unusable: " + err.Error(), path})
		case info == nil:
			t.AppendRow(table.Row{job.Feed, "-", "-", "none", path})
		default:
			saved := info["saved_at"].(time.Time)
			t.AppendRow(table.Row{
				job.Feed,
				info["seen"],
				info["finalized"],
				fmt.Sprintf("%s (%s ago)", saved.Local().Format("2006-01-02 15:04:05"), info["age"]),
				path,
			})
		}
	}
	t.Render()
	return nil
}

func runCheckpointClear(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !clearAll {
		return fmt.Errorf("name the feeds to clear, or pass --all")
	}
	if clearAll {
		args = nil
	}
	cfg, jobs, err := selectedJobs(args)
	if err != nil {
		return err
	}

	store := checkpoint.NewStore(nil)
	for _, job := range jobs {
		path, err := harvest.CheckpointPath(cfg, job)
		if err != nil {
			return err
		}
		if !store.Exists(path) {
			ui.PrintInfo(job.Feed, "no checkpoint")
			continue
		}
		if err := store.Delete(path); err != nil {
			return fmt.Errorf("failed to clear %s: %w", job.Feed, err)
		}
		ui.PrintSuccess(fmt.Sprintf("Cleared checkpoint for %s", job.Feed))
	}
	return nil
}
