// Package checks provides the built-in suites run against an extension:
// manifest, security, performance, structure and localization.
package checks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/rules"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/scanner"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// Set builds the built-in suites and shares one source scan and one
// manifest parse between them.
type Set struct {
	config   *config.Config
	scanner  *scanner.Scanner
	resolver *severity.Resolver
	logger   *zap.Logger
	files    []string

	scanMu  sync.Mutex
	scan    *scanner.ScanResult
	scanErr error

	manifestOnce sync.Once
	manifest     *Manifest
	manifestErr  error
}

// Option configures a Set.
type Option func(*Set)

// WithFiles restricts source scanning to the given root-relative files.
func WithFiles(files []string) Option {
	return func(s *Set) { s.files = append([]string(nil), files...) }
}

// WithResolver replaces the resolver built from the configuration.
func WithResolver(r *severity.Resolver) Option {
	return func(s *Set) { s.resolver = r }
}

// New creates the built-in check set over sc.
func New(cfg *config.Config, sc *scanner.Scanner, logger *zap.Logger, opts ...Option) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Set{
		config:   cfg,
		scanner:  sc,
		resolver: severity.NewResolver(cfg),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Suites returns the built-in suites in run order.
func (s *Set) Suites() []*suite.Suite {
	return []*suite.Suite{
		s.ManifestSuite(),
		s.SecuritySuite(),
		s.PerformanceSuite(),
		s.StructureSuite(),
		s.LocalizationSuite(),
	}
}

// Select returns the built-in suites whose names are listed, in run order.
// An empty list selects every suite.
func (s *Set) Select(names []string) []*suite.Suite {
	all := s.Suites()
	if len(names) == 0 {
		return all
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make([]*suite.Suite, 0, len(names))
	for _, st := range all {
		if want[st.Name] {
			out = append(out, st)
		}
	}
	return out
}

// sourceIssues scans the tree once. Files the scanner had to skip are
// reported as warnings through the logger of the case that triggered the
// scan. A scan cut short by the calling case's context is not kept, so the
// next case scans again instead of inheriting the cancellation.
func (s *Set) sourceIssues(ctx context.Context, logger *zap.Logger) ([]model.Issue, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if s.scan == nil && s.scanErr == nil {
		var (
			scan *scanner.ScanResult
			err  error
		)
		if s.files != nil {
			scan, err = s.scanner.ScanFiles(ctx, s.files)
		} else {
			scan, err = s.scanner.Scan(ctx)
		}
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("source scan interrupted: %w", err)
		}
		s.scan, s.scanErr = scan, err
		if err == nil {
			for _, sk := range scan.SkippedFiles {
				logger.Warn("File skipped during scan",
					zap.String("file", sk.Path),
					zap.String("reason", sk.Reason))
			}
		}
	}
	if s.scanErr != nil {
		return nil, fmt.Errorf("source scan failed: %w", s.scanErr)
	}
	return s.scan.Issues, nil
}

// resolve assigns levels to issues. Scripts the manifest declares as
// background entry points resolve in the privileged role.
func (s *Set) resolve(issues []model.Issue) []severity.Resolved {
	privileged := make(map[string]bool)
	if m, err := s.loadManifest(); err == nil {
		for _, p := range m.BackgroundScripts() {
			privileged[p] = true
		}
	}

	out := make([]severity.Resolved, 0, len(issues))
	for _, issue := range issues {
		ctx := severity.Context{
			Environment: s.config.Environment,
			StrictMode:  s.config.StrictMode,
			Privileged:  privileged[issue.File],
		}
		res := s.resolver.Classify(issue, ctx)
		if res.Level == severity.LevelNone {
			continue
		}
		out = append(out, severity.Resolved{Issue: issue, Level: res.Level, Source: res.Source, Reason: res.Reason})
	}
	return out
}

// ruleCase checks the source scan for one rule's issues.
func (s *Set) ruleCase(rule *rules.Rule) suite.CheckFunc {
	return func(ctx context.Context, tc *suite.TestContext) error {
		issues, err := s.sourceIssues(ctx, tc.Logger)
		if err != nil {
			return err
		}
		var matched []model.Issue
		for _, issue := range issues {
			if strings.EqualFold(issue.Type, rule.Name) {
				matched = append(matched, issue)
			}
		}
		resolved := s.resolve(matched)
		if len(resolved) > 0 {
			tc.Logger.Debug("Rule matched",
				zap.String("rule", rule.Name),
				zap.Int("issues", len(resolved)))
		}
		return suite.NewIssuesError(rule.Name, resolved)
	}
}

// addRuleCases registers one case per enabled rule of category. Every
// built-in suite hosts the rules of its own category.
func (s *Set) addRuleCases(st *suite.Suite, category string) {
	for _, rule := range s.scanner.Engine().ByCategory(category) {
		st.Test(rule.Name, s.ruleCase(rule), suite.WithTags(category, rule.Severity))
	}
}

// FileScoped reports whether a case only examined the files the set was
// restricted to with WithFiles. Rule cases are; whole-tree checks are not.
func (s *Set) FileScoped(suiteName, caseName string) bool {
	if s.files == nil {
		return false
	}
	rule, ok := s.scanner.Engine().Get(caseName)
	return ok && rule.Category == suiteName
}

// fail turns issues found by a structural check into a case outcome.
func (s *Set) fail(check string, issues []model.Issue) error {
	return suite.NewIssuesError(check, s.resolve(issues))
}
