package suite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
)

func TestBuilderKeepsOrder(t *testing.T) {
	noop := func(context.Context, *TestContext) error { return nil }
	s := New("security", "Security checks").
		Test("first", noop).
		Skip("second", noop).
		TestIf("third", func(*config.Config) bool { return false }, noop, WithTimeout(time.Second), WithTags("slow")).
		Test("fourth", noop, WithSeverity(severity.LevelWarning))

	cases := s.Cases()
	require.Len(t, cases, 4)
	assert.Equal(t, []string{"first", "second", "third", "fourth"},
		[]string{cases[0].Name, cases[1].Name, cases[2].Name, cases[3].Name})
	assert.True(t, s.Enabled)

	cfg := config.Default()
	assert.False(t, cases[0].ShouldSkip(cfg))
	assert.True(t, cases[1].ShouldSkip(cfg))
	assert.True(t, cases[2].ShouldSkip(cfg))
	assert.Equal(t, time.Second, cases[2].Timeout)
	assert.Equal(t, []string{"slow"}, cases[2].Tags)
	assert.Equal(t, severity.LevelWarning, cases[3].Severity)
}

func TestConditionSeesConfig(t *testing.T) {
	c := &Case{Name: "strict-only", Condition: func(cfg *config.Config) bool { return cfg.StrictMode }}
	cfg := config.Default()
	assert.True(t, c.ShouldSkip(cfg))
	cfg.StrictMode = true
	assert.False(t, c.ShouldSkip(cfg))
}

func TestRunErrorIsFailure(t *testing.T) {
	boom := errors.New("manifest missing")
	c := &Case{Name: "x", Check: func(context.Context, *TestContext) error { return boom }}
	assert.ErrorIs(t, c.Run(context.Background(), &TestContext{}), boom)

	ok := &Case{Name: "y", Check: func(context.Context, *TestContext) error { return nil }}
	assert.NoError(t, ok.Run(context.Background(), &TestContext{}))

	assert.Error(t, (&Case{Name: "empty"}).Run(context.Background(), &TestContext{}))
}

func TestRunRecoversPanic(t *testing.T) {
	c := &Case{Name: "p", Check: func(context.Context, *TestContext) error { panic("bad state") }}
	err := c.Run(context.Background(), &TestContext{})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "panic: bad state", err.Error())
	assert.NotEmpty(t, pe.Stack)
}

func TestIssuesError(t *testing.T) {
	info := severity.Resolved{Issue: model.Issue{Type: "a", File: "a.js", Line: 1, Message: "note"}, Level: severity.LevelInfo}
	warn := severity.Resolved{Issue: model.Issue{Type: "b", File: "b.js", Line: 2, Message: "careful"}, Level: severity.LevelWarning}

	assert.NoError(t, NewIssuesError("check", nil))
	assert.NoError(t, NewIssuesError("check", []severity.Resolved{info}))

	err := NewIssuesError("check", []severity.Resolved{info, warn})
	var ie *IssuesError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, severity.LevelWarning, ie.Level())
	assert.Len(t, ie.Issues, 2)
	assert.Equal(t, "check: 1 issue(s); WARNING b.js:2: careful", err.Error())
}

func TestSuiteResultAdd(t *testing.T) {
	var r SuiteResult
	r.Add(CaseResult{Name: "a", Status: StatusPassed})
	r.Add(CaseResult{Name: "b", Status: StatusFailed})
	r.Add(CaseResult{Name: "c", Status: StatusSkipped})
	r.Add(CaseResult{Name: "d", Status: StatusPassed})
	assert.Equal(t, 2, r.Passed)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	assert.Len(t, r.Tests, 4)
}
