package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/cache"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/history"
)

// recentRuns is how many history entries cache status prints.
const recentRuns = 5

func newCacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the incremental cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear [path]",
		Short: "Delete the cache file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(cmd, opts, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status [path]",
		Short: "Show the cache record and recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStatus(cmd, opts, args)
		},
	})
	return cmd
}

func runCacheClear(cmd *cobra.Command, opts *options, args []string) error {
	logger := newLogger(opts)
	defer logger.Sync()

	cfg, err := loadConfig(cmd, opts, args, logger)
	if err != nil {
		return configError(err)
	}
	store := cache.NewStore(resolvePath(cfg.ExtensionPath, cfg.Cache.Path), logger)
	if err := store.Clear(); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	fmt.Fprintf(opts.out, "Cache cleared: %s\n", store.Path())
	return nil
}

func runCacheStatus(cmd *cobra.Command, opts *options, args []string) error {
	logger := newLogger(opts)
	defer logger.Sync()

	cfg, err := loadConfig(cmd, opts, args, logger)
	if err != nil {
		return configError(err)
	}
	out := opts.out
	status := cache.NewStore(resolvePath(cfg.ExtensionPath, cfg.Cache.Path), logger).Status()

	fmt.Fprintf(out, "Cache file: %s\n", status.Path)
	if !status.Exists {
		fmt.Fprintln(out, "Status: no cache record")
	} else {
		fmt.Fprintf(out, "Size: %d bytes\n", status.Size)
		if !status.LastRun.IsZero() {
			fmt.Fprintf(out, "Last run: %s\n", status.LastRun.Format(time.RFC3339))
		}
		fmt.Fprintf(out, "Tracked files: %d\n", status.Files)
		r := status.Results
		fmt.Fprintf(out, "Last results: %d total, %d passed, %d failed, %d skipped (%d%%)\n",
			r.Total, r.Passed, r.Failed, r.Skipped, r.SuccessRate)
	}

	historyPath := resolvePath(cfg.ExtensionPath, cfg.History.Path)
	if _, err := os.Stat(historyPath); err != nil {
		return nil
	}
	store, err := history.Open(historyPath, logger)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	defer store.Close()

	runs, err := store.Recent(cmd.Context(), recentRuns)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	if len(runs) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nRecent runs:")
	for _, run := range runs {
		fmt.Fprintf(out, "  %s  %-11s %3d%%  %d/%d passed  exit %d  %s\n",
			run.StartedAt.Format(time.RFC3339), run.Mode, run.SuccessRate,
			run.Passed, run.Total, run.ExitCode, run.ID)
	}
	return nil
}
