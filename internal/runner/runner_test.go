package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

func pass(context.Context, *suite.TestContext) error { return nil }

func fail(msg string) suite.CheckFunc {
	return func(context.Context, *suite.TestContext) error { return errors.New(msg) }
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Timeout = 2000
	return cfg
}

func TestSequentialRun(t *testing.T) {
	s1 := suite.New("manifest", "").
		Test("a", pass).
		Test("b", fail("missing name")).
		Skip("c", pass)
	s2 := suite.New("security", "").Test("d", pass)
	disabled := suite.New("off", "")
	disabled.Enabled = false
	disabled.Test("never", fail("should not run"))

	result := New(testConfig(), nil).Run(context.Background(), []*suite.Suite{s1, s2, disabled})

	require.Len(t, result.Suites, 2)
	assert.Equal(t, ModeSequential, result.Mode)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "manifest", result.Suites[0].Name)

	tests := result.Suites[0].Tests
	require.Len(t, tests, 3)
	assert.Equal(t, suite.StatusPassed, tests[0].Status)
	assert.Equal(t, suite.StatusFailed, tests[1].Status)
	assert.Equal(t, "missing name", tests[1].Error)
	assert.Equal(t, severity.LevelError, tests[1].Level)
	assert.Equal(t, suite.StatusSkipped, tests[2].Status)
	assert.Equal(t, "skipped by case", tests[2].SkipReason)

	sum := result.Summary
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 2, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 50, sum.SuccessRate)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, CaseError{Suite: "manifest", Test: "b", Error: "missing name", Level: severity.LevelError}, sum.Errors[0])
	assert.Equal(t, 1, result.ExitCode(false))
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 0, SuccessRate(0, 0))
	assert.Equal(t, 67, SuccessRate(2, 3))
	assert.Equal(t, 100, SuccessRate(5, 5))

	result := New(testConfig(), nil).Run(context.Background(), nil)
	assert.Equal(t, 0, result.Summary.Total)
	assert.Equal(t, 0, result.Summary.SuccessRate)
}

func TestTimeoutWinsAndLateResultIgnored(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	slow := func(ctx context.Context, tc *suite.TestContext) error {
		defer close(finished)
		<-release
		return nil
	}
	s := suite.New("perf", "").Test("slow", slow, suite.WithTimeout(20*time.Millisecond))

	result := New(testConfig(), nil).Run(context.Background(), []*suite.Suite{s})
	tc := result.Suites[0].Tests[0]
	assert.Equal(t, suite.StatusFailed, tc.Status)
	assert.Contains(t, tc.Error, ErrTimeout.Error())
	assert.Contains(t, tc.Error, "20ms")

	close(release)
	<-finished
	assert.Equal(t, suite.StatusFailed, result.Suites[0].Tests[0].Status)
	assert.Equal(t, 1, result.Summary.Failed)
}

func TestGlobalTimeoutApplies(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10
	block := func(ctx context.Context, tc *suite.TestContext) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s := suite.New("s", "").Test("blocked", block)
	result := New(cfg, nil).Run(context.Background(), []*suite.Suite{s})
	assert.Contains(t, result.Suites[0].Tests[0].Error, "timed out after 10ms")
}

func TestHooksRunAroundCasesAndErrorsAreLogged(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	record := func(name string, err error) suite.HookFunc {
		return func(ctx context.Context, tc *suite.TestContext) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name+":"+tc.Case)
			return err
		}
	}
	check := func(name string) suite.CheckFunc {
		return func(ctx context.Context, tc *suite.TestContext) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, "run:"+name)
			return nil
		}
	}

	s := suite.New("hooks", "").
		BeforeAll(record("beforeAll", errors.New("setup failed"))).
		AfterAll(record("afterAll", nil)).
		BeforeEach(record("beforeEach", nil)).
		AfterEach(func(context.Context, *suite.TestContext) error { panic("teardown exploded") }).
		Test("one", check("one")).
		Test("two", check("two"))

	result := New(testConfig(), nil).Run(context.Background(), []*suite.Suite{s})

	assert.Equal(t, []string{
		"beforeAll:",
		"beforeEach:one", "run:one",
		"beforeEach:two", "run:two",
		"afterAll:",
	}, calls)
	sr := result.Suites[0]
	assert.Equal(t, 2, sr.Passed)
	// beforeAll error plus two afterEach panics.
	assert.Len(t, sr.Warnings, 3)
	assert.Equal(t, "Hook failed", sr.Warnings[0].Message)
	assert.Equal(t, 3, result.Summary.WarningCount)
}

func TestWarningCaptureIsScopedPerSuite(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	noisy := suite.New("noisy", "").Test("warns", func(ctx context.Context, tc *suite.TestContext) error {
		tc.Logger.Warn("deprecated API used")
		return nil
	})
	quiet := suite.New("quiet", "").Test("silent", pass)

	result := New(testConfig(), zap.New(core)).Run(context.Background(), []*suite.Suite{noisy, quiet})

	require.Len(t, result.Suites[0].Warnings, 1)
	assert.Equal(t, "deprecated API used", result.Suites[0].Warnings[0].Message)
	assert.Empty(t, result.Suites[1].Warnings)
	assert.Len(t, result.Warnings, 1)
	// The ambient logger still received the warning.
	assert.Equal(t, 1, logs.FilterMessage("deprecated API used").Len())

	assert.Equal(t, 0, result.ExitCode(false))
	assert.Equal(t, 0, result.ExitCode(true))
}

func TestSkipPriority(t *testing.T) {
	cfg := testConfig()
	cfg.SkipTests = []string{"security/eval-usage", "performance"}
	cfg.QuickMode = true

	security := suite.New("security", "").
		Test("unsafe-innerHTML", pass).
		Test("eval-usage", pass).
		Test("console-usage", pass).
		Test("unsafe-innerHTML-cond", pass, suite.WithSkip())
	perf := suite.New("performance", "").Test("file-size", pass)

	result := New(cfg, nil).Run(context.Background(), []*suite.Suite{security, perf})

	tests := result.Suites[0].Tests
	assert.Equal(t, suite.StatusPassed, tests[0].Status)
	assert.Equal(t, "skipped by configuration", tests[1].SkipReason)
	assert.Equal(t, "not essential in quick mode", tests[2].SkipReason)
	assert.Equal(t, "skipped by case", tests[3].SkipReason)
	assert.Equal(t, "skipped by configuration", result.Suites[1].Tests[0].SkipReason)
}

func TestIssuesErrorLevelDrivesExitCode(t *testing.T) {
	warnOnly := func(context.Context, *suite.TestContext) error {
		return suite.NewIssuesError("console-usage", []severity.Resolved{{
			Issue: model.Issue{Type: "console-usage", File: "a.js", Line: 3},
			Level: severity.LevelWarning,
		}})
	}
	s := suite.New("performance", "").Test("console-usage", warnOnly)
	result := New(testConfig(), nil).Run(context.Background(), []*suite.Suite{s})

	tc := result.Suites[0].Tests[0]
	assert.Equal(t, suite.StatusFailed, tc.Status)
	assert.Equal(t, severity.LevelWarning, tc.Level)
	require.Len(t, tc.Issues, 1)
	assert.Len(t, result.Issues(), 1)
	assert.Equal(t, 0, result.ExitCode(false))
	assert.Equal(t, 1, result.ExitCode(true))
}

func TestDeclaredSeverityUsedForPlainErrors(t *testing.T) {
	s := suite.New("structure", "").Test("naming", fail("bad name"), suite.WithSeverity(severity.LevelInfo))
	result := New(testConfig(), nil).Run(context.Background(), []*suite.Suite{s})
	assert.Equal(t, severity.LevelInfo, result.Suites[0].Tests[0].Level)
	assert.Equal(t, 0, result.ExitCode(true))
}

func parallelSuites(n int) []*suite.Suite {
	var suites []*suite.Suite
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		suites = append(suites, suite.New(name, "").
			Test(name+"1", func(context.Context, *suite.TestContext) error {
				time.Sleep(5 * time.Millisecond)
				return nil
			}).
			Test(name+"2", pass))
	}
	return suites
}

func TestParallelRunKeepsRegistrationOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Parallel = true
	cfg.Workers = 3

	result := New(cfg, nil, WithParallelism(func() int { return 8 })).Run(context.Background(), parallelSuites(5))

	assert.Equal(t, ModeParallel, result.Mode)
	require.Len(t, result.Suites, 5)
	for i, sr := range result.Suites {
		assert.Equal(t, string(rune('a'+i)), sr.Name)
		require.Len(t, sr.Tests, 2)
		assert.Equal(t, sr.Name+"1", sr.Tests[0].Name)
		assert.Equal(t, sr.Name+"2", sr.Tests[1].Name)
	}
	assert.Equal(t, 10, result.Summary.Passed)
}

func TestParallelFallsBackToSequential(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := testConfig()
	cfg.Parallel = true

	result := New(cfg, zap.New(core), WithParallelism(func() int { return 1 })).
		Run(context.Background(), parallelSuites(3))

	assert.Equal(t, ModeSequential, result.Mode)
	assert.Equal(t, 6, result.Summary.Passed)
	assert.Equal(t, 1, logs.FilterMessage("Parallel execution unavailable, running sequentially").Len())
}

func TestWorkerCrashReportsLostSuiteAndRestarts(t *testing.T) {
	cfg := testConfig()
	cfg.Parallel = true
	cfg.Workers = 1

	crashing := suite.New("crash", "").
		TestIf("boom", func(*config.Config) bool { panic("condition exploded") }, pass).
		Test("after", pass)
	suites := append([]*suite.Suite{crashing}, parallelSuites(2)...)

	metrics := NewMetrics()
	r := New(cfg, nil,
		WithParallelism(func() int { return 4 }),
		WithMetrics(metrics),
		WithRestartBackoff(time.Millisecond))
	result := r.Run(context.Background(), suites)

	require.Len(t, result.Suites, 3)
	crashed := result.Suites[0]
	assert.Equal(t, 2, crashed.Failed)
	assert.Contains(t, crashed.Tests[0].Error, "worker 0 crashed: condition exploded")
	assert.Equal(t, 2, result.Suites[1].Passed)
	assert.Equal(t, 2, result.Suites[2].Passed)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.workerRestarts))
}

func TestSequentialCrashIsReportedAsFailure(t *testing.T) {
	crashing := suite.New("crash", "").TestIf("boom", func(*config.Config) bool { panic("bad") }, pass)
	result := New(testConfig(), nil).Run(context.Background(), append([]*suite.Suite{crashing}, parallelSuites(1)...))
	assert.Equal(t, 1, result.Suites[0].Failed)
	assert.Contains(t, result.Suites[0].Tests[0].Error, "suite crashed: bad")
	assert.Equal(t, 2, result.Suites[1].Passed)
}

func TestPanickingCheckFailsOnlyItsCase(t *testing.T) {
	s := suite.New("s", "").
		Test("p", func(context.Context, *suite.TestContext) error { panic("nil map") }).
		Test("ok", pass)
	result := New(testConfig(), nil).Run(context.Background(), []*suite.Suite{s})
	assert.Equal(t, "panic: nil map", result.Suites[0].Tests[0].Error)
	assert.Equal(t, suite.StatusPassed, result.Suites[0].Tests[1].Status)
}

func TestMetricsExport(t *testing.T) {
	metrics := NewMetrics()
	s := suite.New("manifest", "").Test("a", pass).Test("b", fail("x"))
	New(testConfig(), nil, WithMetrics(metrics)).Run(context.Background(), []*suite.Suite{s})

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.casesTotal.WithLabelValues("manifest", "passed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.casesTotal.WithLabelValues("manifest", "failed")))

	path := filepath.Join(t.TempDir(), "metrics", "validator.prom")
	require.NoError(t, metrics.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "extension_validator_cases_total"))
}
