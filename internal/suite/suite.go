package suite

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
)

// TestContext is what a check receives besides its context.Context. Logger
// is scoped to the running suite; warnings logged through it are captured
// into that suite's result.
type TestContext struct {
	Config *config.Config
	Logger *zap.Logger
	Suite  string
	Case   string
}

// CheckFunc is a single check. A returned error fails the case; a nil
// return passes it.
type CheckFunc func(ctx context.Context, tc *TestContext) error

// HookFunc is a lifecycle hook.
type HookFunc func(ctx context.Context, tc *TestContext) error

// Condition decides whether a case applies to a configuration.
type Condition func(cfg *config.Config) bool

// Case is one independently runnable check.
type Case struct {
	Name      string
	Check     CheckFunc
	Skip      bool
	Condition Condition
	Timeout   time.Duration
	Tags      []string
	// Severity is the level a failure of this case reports when the error
	// does not carry its own.
	Severity severity.Level
}

// CaseOption sets optional case metadata.
type CaseOption func(*Case)

// WithSkip marks a case as statically skipped.
func WithSkip() CaseOption {
	return func(c *Case) { c.Skip = true }
}

// WithCondition runs the case only when cond is true for the configuration.
func WithCondition(cond Condition) CaseOption {
	return func(c *Case) { c.Condition = cond }
}

// WithTimeout overrides the case timeout.
func WithTimeout(d time.Duration) CaseOption {
	return func(c *Case) { c.Timeout = d }
}

// WithTags attaches tags.
func WithTags(tags ...string) CaseOption {
	return func(c *Case) { c.Tags = append(c.Tags, tags...) }
}

// WithSeverity sets the declared severity.
func WithSeverity(l severity.Level) CaseOption {
	return func(c *Case) { c.Severity = l }
}

// ShouldSkip reports whether the case is statically skipped or its
// condition rejects cfg.
func (c *Case) ShouldSkip(cfg *config.Config) bool {
	if c.Skip {
		return true
	}
	return c.Condition != nil && !c.Condition(cfg)
}

// Run invokes the check. A panic is converted into an error so it fails
// only this case.
func (c *Case) Run(ctx context.Context, tc *TestContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	if c.Check == nil {
		return fmt.Errorf("case %s has no check function", c.Name)
	}
	return c.Check(ctx, tc)
}

// PanicError wraps a recovered panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Suite is a named, ordered group of cases with lifecycle hooks. The suite
// owns its cases.
type Suite struct {
	Name        string
	Description string
	Enabled     bool
	Category    string

	cases      []*Case
	beforeAll  HookFunc
	afterAll   HookFunc
	beforeEach HookFunc
	afterEach  HookFunc
}

// New creates an enabled suite.
func New(name, description string) *Suite {
	return &Suite{Name: name, Description: description, Enabled: true}
}

// Test registers a case.
func (s *Suite) Test(name string, check CheckFunc, opts ...CaseOption) *Suite {
	c := &Case{Name: name, Check: check}
	for _, opt := range opts {
		opt(c)
	}
	s.cases = append(s.cases, c)
	return s
}

// Skip registers a statically skipped case.
func (s *Suite) Skip(name string, check CheckFunc) *Suite {
	return s.Test(name, check, WithSkip())
}

// TestIf registers a case that runs only when cond holds.
func (s *Suite) TestIf(name string, cond Condition, check CheckFunc, opts ...CaseOption) *Suite {
	return s.Test(name, check, append([]CaseOption{WithCondition(cond)}, opts...)...)
}

// BeforeAll sets the hook run once before the first case.
func (s *Suite) BeforeAll(h HookFunc) *Suite { s.beforeAll = h; return s }

// AfterAll sets the hook run once after the last case.
func (s *Suite) AfterAll(h HookFunc) *Suite { s.afterAll = h; return s }

// BeforeEach sets the hook run before every executed case.
func (s *Suite) BeforeEach(h HookFunc) *Suite { s.beforeEach = h; return s }

// AfterEach sets the hook run after every executed case.
func (s *Suite) AfterEach(h HookFunc) *Suite { s.afterEach = h; return s }

// WithCategory sets the issue category the suite covers.
func (s *Suite) WithCategory(c string) *Suite { s.Category = c; return s }

// Cases returns the cases in registration order.
func (s *Suite) Cases() []*Case {
	return append([]*Case(nil), s.cases...)
}

// Hooks returns the lifecycle hooks; unset hooks are nil.
func (s *Suite) Hooks() (beforeAll, afterAll, beforeEach, afterEach HookFunc) {
	return s.beforeAll, s.afterAll, s.beforeEach, s.afterEach
}
