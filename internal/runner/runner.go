package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/logging"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// ErrTimeout is wrapped by the error recorded for a case that exceeded its
// timeout.
var ErrTimeout = errors.New("test timed out")

// DefaultRestartBackoff is the pause before a crashed worker is restarted.
const DefaultRestartBackoff = 100 * time.Millisecond

// EssentialChecks lists, per suite, the cases that still run in quick mode.
var EssentialChecks = map[string][]string{
	"manifest":  {"valid-json", "required-fields"},
	"security":  {"unsafe-innerHTML", "eval-usage"},
	"structure": {"referenced-files"},
}

// Runner executes suites and aggregates their results.
type Runner struct {
	config         *config.Config
	logger         *zap.Logger
	metrics        *Metrics
	essential      map[string][]string
	parallelism    func() int
	restartBackoff time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records run metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithEssential replaces the quick-mode allow-list.
func WithEssential(essential map[string][]string) Option {
	return func(r *Runner) { r.essential = essential }
}

// WithParallelism overrides how available parallelism is detected.
func WithParallelism(fn func() int) Option {
	return func(r *Runner) { r.parallelism = fn }
}

// WithRestartBackoff sets the pause before a crashed worker restarts.
func WithRestartBackoff(d time.Duration) Option {
	return func(r *Runner) { r.restartBackoff = d }
}

// New creates a runner.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		config:         cfg,
		logger:         logger,
		essential:      EssentialChecks,
		parallelism:    func() int { return runtime.GOMAXPROCS(0) },
		restartBackoff: DefaultRestartBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the enabled suites. Sequential mode runs them in
// registration order; parallel mode distributes whole suites over a worker
// pool. Results are always reported in registration order.
func (r *Runner) Run(ctx context.Context, suites []*suite.Suite) *RunResult {
	start := time.Now()
	enabled := make([]*suite.Suite, 0, len(suites))
	for _, s := range suites {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	result := &RunResult{
		ID:        uuid.NewString(),
		Timestamp: start,
		Mode:      ModeSequential,
		Warnings:  make([]logging.Warning, 0),
	}

	if r.config.Parallel && len(enabled) > 1 {
		if r.parallelism() < 2 {
			r.logger.Warn("Parallel execution unavailable, running sequentially",
				zap.Int("parallelism", r.parallelism()))
			result.Suites = r.runSequential(ctx, enabled)
		} else {
			result.Mode = ModeParallel
			result.Suites = r.runParallel(ctx, enabled)
		}
	} else {
		result.Suites = r.runSequential(ctx, enabled)
	}

	for _, sr := range result.Suites {
		result.Warnings = append(result.Warnings, sr.Warnings...)
	}
	result.Summary = Summarize(result.Suites)
	result.Duration = time.Since(start)
	if r.metrics != nil {
		r.metrics.lastRun.SetToCurrentTime()
	}

	r.logger.Info("Run completed",
		zap.String("id", result.ID),
		zap.String("mode", result.Mode),
		zap.Int("total", result.Summary.Total),
		zap.Int("passed", result.Summary.Passed),
		zap.Int("failed", result.Summary.Failed),
		zap.Int("skipped", result.Summary.Skipped),
		zap.Duration("duration", result.Duration))
	return result
}

func (r *Runner) runSequential(ctx context.Context, suites []*suite.Suite) []suite.SuiteResult {
	results := make([]suite.SuiteResult, 0, len(suites))
	for _, s := range suites {
		sr, crash := r.safeRunSuite(ctx, s)
		if crash != nil {
			r.logger.Error("Suite crashed", zap.String("suite", s.Name), zap.Any("panic", crash))
			sr = crashedSuite(s, fmt.Errorf("suite crashed: %v", crash))
		}
		results = append(results, sr)
	}
	return results
}

func (r *Runner) safeRunSuite(ctx context.Context, s *suite.Suite) (sr suite.SuiteResult, crash any) {
	defer func() {
		if p := recover(); p != nil {
			crash = p
		}
	}()
	return r.RunSuite(ctx, s), nil
}

// RunSuite executes one suite. Warnings logged during the suite, by hooks,
// checks or the runner itself, are captured into the result; the capture
// ends with the suite.
func (r *Runner) RunSuite(ctx context.Context, s *suite.Suite) suite.SuiteResult {
	start := time.Now()
	ctx, span := startSuiteSpan(ctx, s)

	capture := logging.NewCapture(r.logger.With(zap.String("suite", s.Name)))
	logger := capture.Logger()
	beforeAll, afterAll, beforeEach, afterEach := s.Hooks()

	result := suite.SuiteResult{
		Name:        s.Name,
		Description: s.Description,
		Tests:       make([]suite.CaseResult, 0, len(s.Cases())),
	}

	suiteCtx := &suite.TestContext{Config: r.config, Logger: logger, Suite: s.Name}
	r.runHook(ctx, "beforeAll", beforeAll, suiteCtx)

	for _, c := range s.Cases() {
		cr := r.runCase(ctx, s, c, logger, beforeEach, afterEach)
		result.Add(cr)
		if r.metrics != nil {
			r.metrics.observeCase(s.Name, cr)
		}
	}

	r.runHook(ctx, "afterAll", afterAll, suiteCtx)

	result.Warnings = capture.Warnings()
	result.Duration = time.Since(start)
	if r.metrics != nil {
		r.metrics.observeSuite(result)
	}
	endSuiteSpan(span, result, result.Duration)
	return result
}

func (r *Runner) runCase(ctx context.Context, s *suite.Suite, c *suite.Case, logger *zap.Logger, beforeEach, afterEach suite.HookFunc) suite.CaseResult {
	cr := suite.CaseResult{Name: c.Name, Tags: c.Tags}
	if reason, skip := r.skipReason(s, c); skip {
		cr.Status = suite.StatusSkipped
		cr.SkipReason = reason
		logger.Debug("Case skipped", zap.String("case", c.Name), zap.String("reason", reason))
		return cr
	}

	ctx, span := startCaseSpan(ctx, s.Name, c.Name)
	tc := &suite.TestContext{Config: r.config, Logger: logger.With(zap.String("case", c.Name)), Suite: s.Name, Case: c.Name}

	r.runHook(ctx, "beforeEach", beforeEach, tc)

	start := time.Now()
	err := r.race(ctx, c, tc, r.timeoutFor(c))
	cr.Duration = time.Since(start)

	r.runHook(ctx, "afterEach", afterEach, tc)

	if err == nil {
		cr.Status = suite.StatusPassed
	} else {
		cr.Status = suite.StatusFailed
		cr.Error = err.Error()
		cr.Level = failureLevel(c, err)
		var ie *suite.IssuesError
		if errors.As(err, &ie) {
			cr.Issues = ie.Issues
		}
		logger.Debug("Case failed", zap.String("case", c.Name), zap.Error(err))
	}
	endCaseSpan(span, cr)
	return cr
}

// race runs the check against the timeout. The result channel is buffered
// so a check that settles after the timeout finishes without blocking, and
// its value is never read.
func (r *Runner) race(ctx context.Context, c *suite.Case, tc *suite.TestContext, timeout time.Duration) error {
	checkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.Run(checkCtx, tc)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) timeoutFor(c *suite.Case) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return r.config.CaseTimeout()
}

// runHook runs a lifecycle hook. Hook errors and panics are logged and
// never abort the suite.
func (r *Runner) runHook(ctx context.Context, name string, hook suite.HookFunc, tc *suite.TestContext) {
	if hook == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = &suite.PanicError{Value: p}
			}
		}()
		return hook(ctx, tc)
	}()
	if err != nil {
		tc.Logger.Warn("Hook failed",
			zap.String("hook", name),
			zap.String("case", tc.Case),
			zap.Error(err))
	}
}

// skipReason applies the skip policy in priority order: the case's own
// skip flag or condition, the configured skip list, then the quick-mode
// allow-list.
func (r *Runner) skipReason(s *suite.Suite, c *suite.Case) (string, bool) {
	if c.ShouldSkip(r.config) {
		return "skipped by case", true
	}
	if r.config.Skipped(s.Name, c.Name) {
		return "skipped by configuration", true
	}
	if r.config.QuickMode && !r.isEssential(s.Name, c.Name) {
		return "not essential in quick mode", true
	}
	return "", false
}

func (r *Runner) isEssential(suiteName, caseName string) bool {
	for _, name := range r.essential[suiteName] {
		if name == caseName {
			return true
		}
	}
	return false
}

func failureLevel(c *suite.Case, err error) severity.Level {
	var ie *suite.IssuesError
	if errors.As(err, &ie) {
		return ie.Level()
	}
	if c.Severity != severity.LevelNone {
		return c.Severity
	}
	return severity.LevelError
}

// crashedSuite reports every case of a suite whose execution was lost.
func crashedSuite(s *suite.Suite, err error) suite.SuiteResult {
	sr := suite.SuiteResult{Name: s.Name, Description: s.Description}
	for _, c := range s.Cases() {
		sr.Add(suite.CaseResult{
			Name:   c.Name,
			Status: suite.StatusFailed,
			Error:  err.Error(),
			Level:  severity.LevelError,
			Tags:   c.Tags,
		})
	}
	return sr
}
