package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/cache"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/checks"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/history"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/incremental"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/reporter"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/runner"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/scanner"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// historyKeep is how many runs the history database retains.
const historyKeep = 100

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "Validate an extension once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args)
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func runValidate(cmd *cobra.Command, opts *options, args []string) error {
	logger := newLogger(opts)
	defer logger.Sync()

	cfg, err := loadConfig(cmd, opts, args, logger)
	if err != nil {
		return configError(err)
	}
	runOpts, err := opts.trackerOptions()
	if err != nil {
		return configError(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	v := &validation{config: cfg, logger: logger, out: opts.out, useCache: !opts.noCache, suites: opts.suites}
	code, err := v.run(ctx, runOpts)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	if code != ExitSuccess {
		return &ExitError{Code: code}
	}
	return nil
}

func (o *options) trackerOptions() (incremental.Options, error) {
	topts := incremental.Options{
		Force:   o.force,
		UseGit:  o.useGit,
		GitBase: o.gitBase,
	}
	if o.since != "" {
		d, err := time.ParseDuration(o.since)
		if err != nil {
			return topts, fmt.Errorf("%w: --since: %v", config.ErrInvalidConfig, err)
		}
		topts.Since = time.Now().Add(-d)
	}
	return topts, nil
}

// validation is one configured pipeline: scan, run suites, report, then
// persist cache, history and metrics.
type validation struct {
	config   *config.Config
	logger   *zap.Logger
	out      io.Writer
	useCache bool
	suites   []string
}

// run executes the pipeline once and returns the exit code.
func (v *validation) run(ctx context.Context, topts incremental.Options) (int, error) {
	cfg, logger := v.config, v.logger
	sc := scanner.New(cfg, logger)
	root := sc.Root()
	notes := reporter.Notes{}

	var setOpts []checks.Option
	suites := v.suites
	changed := make(map[string]bool)

	var tracker *incremental.Tracker
	if cfg.Cache.Enabled && v.useCache {
		store := cache.NewStore(resolvePath(root, cfg.Cache.Path), logger)
		tracker = incremental.NewTracker(root, store, logger, incremental.WithFileLister(sc.Files))
		targets, err := tracker.DetermineTargets(ctx, topts)
		if err != nil {
			return ExitFailure, fmt.Errorf("change detection failed: %w", err)
		}
		notes["mode"] = string(targets.Mode)
		notes["reason"] = targets.Reason
		logger.Info("Change detection complete",
			zap.String("mode", string(targets.Mode)),
			zap.String("reason", targets.Reason),
			zap.Int("files", len(targets.Files)))

		switch targets.Mode {
		case incremental.ModeNone:
			return v.unchanged(tracker.Record()), nil
		case incremental.ModeIncremental:
			setOpts = append(setOpts, checks.WithFiles(targets.Files))
			for _, f := range targets.Files {
				changed[f] = true
			}
			for _, f := range targets.Deleted {
				changed[f] = true
			}
			suites = intersect(suites, targets.Suites)
			if len(suites) == 0 {
				fmt.Fprintln(v.out, "No selected suite is affected by the changes.")
				return v.previousCode(tracker.Record()), nil
			}
		}
	}

	set := checks.New(cfg, sc, logger, setOpts...)
	metrics := runner.NewMetrics()
	result := runner.New(cfg, logger, runner.WithMetrics(metrics)).Run(ctx, set.Select(suites))

	var prior *cache.Record
	if tracker != nil {
		prior = tracker.Record()
	}
	failures, carried := mergeFailures(prior, result, set.FileScoped, changed)
	if carried > 0 {
		notes["carried"] = fmt.Sprintf("%d failure(s) from checks not repeated in this run", carried)
	}
	code := failuresExitCode(failures, v.suites, cfg)

	if err := reporter.New(cfg, logger).WithWriter(v.out).Generate(result, notes); err != nil {
		return ExitFailure, err
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteFile(resolvePath(root, cfg.MetricsFile)); err != nil {
			logger.Warn("Failed to write metrics", zap.String("file", cfg.MetricsFile), zap.Error(err))
		}
	}

	if tracker != nil && ctx.Err() == nil {
		if err := tracker.Commit(ctx, cacheResults(result, failures, failuresExitCode(failures, nil, cfg))); err != nil {
			logger.Warn("Failed to save cache", zap.Error(err))
		}
	}

	if cfg.History.Enabled {
		v.recordHistory(ctx, root, result, code)
	}

	logger.Info("Validation complete",
		zap.String("run", result.ID),
		zap.Int("passed", result.Summary.Passed),
		zap.Int("failed", result.Summary.Failed),
		zap.Int("exitCode", code))
	return code, nil
}

// unchanged reports a run skipped because nothing changed and replays the
// previous outcome so a failing tree keeps failing.
func (v *validation) unchanged(record *cache.Record) int {
	if record == nil {
		return ExitSuccess
	}
	r := record.TestResults
	fmt.Fprintf(v.out, "No changes since last run (%s): %d passed, %d failed, %d skipped.\n",
		record.LastRun.Format(time.RFC3339), r.Passed, r.Failed, r.Skipped)
	return v.previousCode(record)
}

// previousCode is the exit code of the recorded tree for the requested
// suites. Records without failure details fall back to their exit code.
func (v *validation) previousCode(record *cache.Record) int {
	if record == nil {
		return ExitSuccess
	}
	if len(record.TestResults.Failures) == 0 {
		return record.TestResults.ExitCode
	}
	return failuresExitCode(record.TestResults.Failures, v.suites, v.config)
}

func (v *validation) recordHistory(ctx context.Context, root string, result *runner.RunResult, code int) {
	store, err := history.Open(resolvePath(root, v.config.History.Path), v.logger)
	if err != nil {
		v.logger.Warn("History unavailable", zap.Error(err))
		return
	}
	defer store.Close()
	if err := store.Record(ctx, result, code); err != nil {
		v.logger.Warn("Failed to record run history", zap.Error(err))
		return
	}
	if _, err := store.Prune(ctx, historyKeep); err != nil {
		v.logger.Warn("Failed to prune run history", zap.Error(err))
	}
}

// levelsExitCode applies the exit-code contract and then failOnError: when
// it is off, ERROR-level failures are reported but do not fail the process.
func levelsExitCode(levels []severity.Level, cfg *config.Config) int {
	if !cfg.FailOnError {
		kept := levels[:0:0]
		for _, l := range levels {
			if l != severity.LevelError {
				kept = append(kept, l)
			}
		}
		levels = kept
	}
	return severity.ExitCode(levels, cfg.FailOnWarning)
}

// failuresExitCode applies the exit-code contract to recorded failures of
// the given suites, or of every suite when none are given.
func failuresExitCode(failures []cache.Failure, suites []string, cfg *config.Config) int {
	want := make(map[string]bool, len(suites))
	for _, s := range suites {
		want[s] = true
	}
	var levels []severity.Level
	for _, f := range failures {
		if len(want) == 0 || want[f.Suite] {
			levels = append(levels, f.Level)
		}
	}
	return levelsExitCode(levels, cfg)
}

// runFailures lists the failing outcomes of a run, one per failing issue,
// or one per case when the case failed without issues.
func runFailures(result *runner.RunResult) []cache.Failure {
	var out []cache.Failure
	for _, sr := range result.Suites {
		for _, c := range sr.Tests {
			if c.Status != suite.StatusFailed {
				continue
			}
			issues := severity.FilterByMinimum(c.Issues, severity.LevelWarning)
			if len(issues) == 0 {
				out = append(out, cache.Failure{Suite: sr.Name, Case: c.Name, Level: c.Level})
				continue
			}
			for _, issue := range issues {
				out = append(out, cache.Failure{Suite: sr.Name, Case: c.Name, File: issue.File, Level: issue.Level})
			}
		}
	}
	return out
}

// mergeFailures combines this run's failures with the previous record's
// failures for checks the run did not repeat: suites that did not run, and
// issues in unchanged files for cases that only examined changed files. It
// returns the merged list and the number carried over.
func mergeFailures(prior *cache.Record, result *runner.RunResult, scoped func(suiteName, caseName string) bool, changed map[string]bool) ([]cache.Failure, int) {
	current := runFailures(result)
	if prior == nil {
		return current, 0
	}

	ran := make(map[string]map[string]bool, len(result.Suites))
	for _, sr := range result.Suites {
		cases := make(map[string]bool, len(sr.Tests))
		for _, c := range sr.Tests {
			if c.Status != suite.StatusSkipped {
				cases[c.Name] = true
			}
		}
		ran[sr.Name] = cases
	}

	carried := 0
	for _, f := range prior.TestResults.Failures {
		cases, suiteRan := ran[f.Suite]
		keep := !suiteRan ||
			(cases[f.Case] && scoped(f.Suite, f.Case) && f.File != "" && !changed[f.File])
		if keep {
			current = append(current, f)
			carried++
		}
	}
	return current, carried
}

func cacheResults(result *runner.RunResult, failures []cache.Failure, code int) cache.Results {
	s := result.Summary
	out := cache.Results{
		RunID:       result.ID,
		Total:       s.Total,
		Passed:      s.Passed,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
		SuccessRate: s.SuccessRate,
		ExitCode:    code,
		Failures:    failures,
	}
	for _, sr := range result.Suites {
		out.Suites = append(out.Suites, sr.Name)
	}
	return out
}

// intersect keeps the suites of affected that were requested. An empty
// request selects all of affected.
func intersect(requested, affected []string) []string {
	if len(requested) == 0 {
		return affected
	}
	want := make(map[string]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	var out []string
	for _, s := range affected {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}
