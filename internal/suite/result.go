package suite

import (
	"time"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/logging"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
)

// Status is the terminal state of a case.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// CaseResult records one case outcome. It is written once by the runner.
type CaseResult struct {
	Name       string              `json:"name"`
	Status     Status              `json:"status"`
	Duration   time.Duration       `json:"duration"`
	Error      string              `json:"error,omitempty"`
	SkipReason string              `json:"skipReason,omitempty"`
	Level      severity.Level      `json:"level,omitempty"`
	Issues     []severity.Resolved `json:"issues,omitempty"`
	Tags       []string            `json:"tags,omitempty"`
}

// SuiteResult aggregates the cases of one suite in registration order.
type SuiteResult struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Tests       []CaseResult      `json:"tests"`
	Passed      int               `json:"passed"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Warnings    []logging.Warning `json:"warnings,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// Add appends a case result and updates the counters.
func (r *SuiteResult) Add(c CaseResult) {
	r.Tests = append(r.Tests, c)
	switch c.Status {
	case StatusPassed:
		r.Passed++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	}
}
