package reporter

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/logging"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/runner"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

func sampleResult() *runner.RunResult {
	security := suite.SuiteResult{Name: "security", Description: "Source security checks"}
	security.Add(suite.CaseResult{Name: "eval-usage", Status: suite.StatusPassed})
	security.Add(suite.CaseResult{
		Name:   "unsafe-innerHTML",
		Status: suite.StatusFailed,
		Error:  "unsafe-innerHTML: 1 issue(s)",
		Level:  severity.LevelError,
		Issues: []severity.Resolved{{
			Issue: model.Issue{
				Type:       "unsafe-innerHTML",
				File:       "popup.js",
				Line:       10,
				Column:     4,
				Message:    "innerHTML assignment with dynamic content",
				Context:    "el.innerHTML = userInput;",
				Suggestion: "Use textContent",
			},
			Level:  severity.LevelError,
			Source: severity.SourceIssue,
		}},
	})
	security.Warnings = []logging.Warning{{Level: "warn", Message: "File skipped during scan", Fields: map[string]string{"file": "big.js"}}}

	manifest := suite.SuiteResult{Name: "manifest"}
	manifest.Add(suite.CaseResult{Name: "icons", Status: suite.StatusSkipped, SkipReason: "quick mode"})
	manifest.Add(suite.CaseResult{Name: "permissions", Status: suite.StatusFailed, Error: "boom", Level: severity.LevelWarning})

	suites := []suite.SuiteResult{security, manifest}
	return &runner.RunResult{
		ID:        "run-1",
		Suites:    suites,
		Summary:   runner.Summarize(suites),
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Mode:      runner.ModeSequential,
	}
}

func TestTextReport(t *testing.T) {
	cfg := config.Default()
	var buf bytes.Buffer
	require.NoError(t, New(cfg, nil).WithWriter(&buf).Generate(sampleResult(), Notes{"incremental": "1 file(s) changed"}))

	out := buf.String()
	for _, want := range []string{
		"Extension Validation Report",
		"Run: run-1 (sequential)",
		"2026-01-02T03:04:05Z",
		"incremental: 1 file(s) changed",
		"PASS eval-usage",
		"FAIL unsafe-innerHTML [ERROR]",
		"popup.js:10:4 innerHTML assignment with dynamic content",
		"fix: Use textContent",
		"SKIP icons (quick mode)",
		"FAIL permissions [WARNING]",
		"      boom",
		"File skipped during scan (file=big.js)",
		"Success rate: 25%",
	} {
		assert.Contains(t, out, want)
	}
}

func TestJSONReport(t *testing.T) {
	cfg := config.Default()
	cfg.Format = "json"
	var buf bytes.Buffer
	require.NoError(t, New(cfg, nil).WithWriter(&buf).Generate(sampleResult(), nil))

	var decoded struct {
		ID      string `json:"id"`
		Summary struct {
			Total  int `json:"total"`
			Failed int `json:"failed"`
			Errors []struct {
				Test  string `json:"test"`
				Level string `json:"level"`
			} `json:"errors"`
		} `json:"summary"`
		Notes map[string]string `json:"notes"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.ID)
	assert.Equal(t, 4, decoded.Summary.Total)
	assert.Equal(t, 2, decoded.Summary.Failed)
	require.Len(t, decoded.Summary.Errors, 2)
	assert.Equal(t, "unsafe-innerHTML", decoded.Summary.Errors[0].Test)
	assert.Equal(t, "error", decoded.Summary.Errors[0].Level)
	assert.Nil(t, decoded.Notes)
}

func TestReportToFile(t *testing.T) {
	cfg := config.Default()
	cfg.OutputFile = filepath.Join(t.TempDir(), "report.txt")
	var buf bytes.Buffer
	require.NoError(t, New(cfg, nil).WithWriter(&buf).Generate(sampleResult(), nil))

	assert.Empty(t, buf.String())
	data, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unsafe-innerHTML")
}

func TestUnsupportedFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Format = "sarif"
	_, err := New(cfg, nil).Render(sampleResult(), nil)
	assert.ErrorContains(t, err, "unsupported output format: sarif")
}
