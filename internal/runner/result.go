package runner

import (
	"math"
	"time"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/logging"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// Execution modes.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// RunResult is the outcome of one run. It is immutable once returned.
type RunResult struct {
	ID        string              `json:"id"`
	Suites    []suite.SuiteResult `json:"suites"`
	Summary   Summary             `json:"summary"`
	Warnings  []logging.Warning   `json:"warnings"`
	Timestamp time.Time           `json:"timestamp"`
	Duration  time.Duration       `json:"duration"`
	Mode      string              `json:"mode"`
}

// Summary is a reduction over all case results.
type Summary struct {
	Total        int         `json:"total"`
	Passed       int         `json:"passed"`
	Failed       int         `json:"failed"`
	Skipped      int         `json:"skipped"`
	SuccessRate  int         `json:"successRate"`
	WarningCount int         `json:"warningCount"`
	Errors       []CaseError `json:"errors"`
}

// CaseError identifies one failed case.
type CaseError struct {
	Suite string         `json:"suite"`
	Test  string         `json:"test"`
	Error string         `json:"error"`
	Level severity.Level `json:"level"`
}

// Summarize reduces suite results into a summary.
func Summarize(suites []suite.SuiteResult) Summary {
	s := Summary{Errors: make([]CaseError, 0)}
	for _, sr := range suites {
		s.WarningCount += len(sr.Warnings)
		for _, c := range sr.Tests {
			s.Total++
			switch c.Status {
			case suite.StatusPassed:
				s.Passed++
			case suite.StatusFailed:
				s.Failed++
				s.Errors = append(s.Errors, CaseError{Suite: sr.Name, Test: c.Name, Error: c.Error, Level: c.Level})
			case suite.StatusSkipped:
				s.Skipped++
			}
		}
	}
	s.SuccessRate = SuccessRate(s.Passed, s.Total)
	return s
}

// SuccessRate is round(passed/total*100), or 0 when total is 0.
func SuccessRate(passed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(passed) / float64(total) * 100))
}

// Levels returns the level of every failed case. Captured log warnings
// are diagnostics and never count toward the exit code.
func (r *RunResult) Levels() []severity.Level {
	var levels []severity.Level
	for _, sr := range r.Suites {
		for _, c := range sr.Tests {
			if c.Status == suite.StatusFailed {
				levels = append(levels, c.Level)
			}
		}
	}
	return levels
}

// ExitCode applies the exit-code contract to the run.
func (r *RunResult) ExitCode(failOnWarning bool) int {
	return severity.ExitCode(r.Levels(), failOnWarning)
}

// Issues returns every issue attached to a case result.
func (r *RunResult) Issues() []severity.Resolved {
	var out []severity.Resolved
	for _, sr := range r.Suites {
		for _, c := range sr.Tests {
			out = append(out, c.Issues...)
		}
	}
	return out
}
