package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/incremental"
)

// watchDebounce coalesces bursts of file events into one run.
const watchDebounce = 300 * time.Millisecond

func newWatchCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Re-validate incrementally whenever files change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func runWatch(cmd *cobra.Command, opts *options, args []string) error {
	logger := newLogger(opts)
	defer logger.Sync()

	cfg, err := loadConfig(cmd, opts, args, logger)
	if err != nil {
		return configError(err)
	}
	topts, err := opts.trackerOptions()
	if err != nil {
		return configError(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	v := &validation{config: cfg, logger: logger, out: opts.out, useCache: true, suites: opts.suites}
	trigger := func() {
		if _, err := v.run(ctx, topts); err != nil {
			logger.Error("Validation failed", zap.Error(err))
		}
		// Only the first run honours --force and --since.
		topts = incremental.Options{UseGit: topts.UseGit, GitBase: topts.GitBase}
		fmt.Fprintf(opts.out, "\nWatching %s for changes (Ctrl+C to stop)\n", cfg.ExtensionPath)
	}

	trigger()
	return watchLoop(ctx, cfg.ExtensionPath, watchDebounce, logger, trigger, outputPaths(cfg.ExtensionPath, cfg.OutputFile, cfg.MetricsFile)...)
}

// outputPaths returns the absolute files a run writes, so the watcher does
// not react to its own reports.
func outputPaths(root, reportFile, metricsFile string) []string {
	var out []string
	if reportFile != "" {
		if abs, err := filepath.Abs(reportFile); err == nil {
			out = append(out, abs)
		}
	}
	if metricsFile != "" {
		out = append(out, filepath.Clean(resolvePath(root, metricsFile)))
	}
	return out
}

// watchLoop calls trigger once per debounced burst of changes under root
// until ctx is done. Events on the ignore paths are dropped. Runs never
// overlap: trigger is called from this goroutine only.
func watchLoop(ctx context.Context, root string, debounce time.Duration, logger *zap.Logger, trigger func(), ignore ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init failed: %w", err)
	}
	defer watcher.Close()

	if err := addWatchRecursive(watcher, root); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	ignored := make(map[string]bool, len(ignore))
	for _, p := range ignore {
		ignored[filepath.Clean(p)] = true
	}

	pending := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignoredPath(root, ev.Name) || ignored[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addWatchRecursive(watcher, ev.Name); err != nil {
						logger.Warn("Failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			logger.Debug("File changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watch error", zap.Error(err))
		}
	}
}

func addWatchRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoredPath(root, path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// ignoredPath skips dot directories and files, which hold the cache,
// history and VCS metadata, plus node_modules.
func ignoredPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") || part == "node_modules" {
			return true
		}
	}
	return false
}
