package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/runner"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// Styles used by the text report. lipgloss drops the colors when the
// output is not a terminal.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7A89"))
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#16858E")).
			Padding(0, 1)
)

// Notes carry context about how a run was selected, such as the
// incremental mode and reason.
type Notes map[string]string

// Reporter renders run results.
type Reporter struct {
	config *config.Config
	logger *zap.Logger
	out    io.Writer
}

// New creates a reporter writing to stdout unless OutputFile is set.
func New(cfg *config.Config, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		config: cfg,
		logger: logger,
		out:    os.Stdout,
	}
}

// WithWriter redirects stdout output.
func (r *Reporter) WithWriter(w io.Writer) *Reporter {
	r.out = w
	return r
}

// Generate renders result in the configured format and writes it out.
func (r *Reporter) Generate(result *runner.RunResult, notes Notes) error {
	output, err := r.Render(result, notes)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if r.config.OutputFile != "" {
		if err := os.WriteFile(r.config.OutputFile, []byte(output), 0644); err != nil {
			return fmt.Errorf("failed to write report to file: %w", err)
		}
		r.logger.Info("Report written", zap.String("file", r.config.OutputFile))
		return nil
	}
	_, err = io.WriteString(r.out, output)
	return err
}

// Render returns the report without writing it.
func (r *Reporter) Render(result *runner.RunResult, notes Notes) (string, error) {
	switch strings.ToLower(r.config.Format) {
	case "json":
		return r.generateJSON(result, notes)
	case "text", "":
		return r.generateText(result, notes), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", r.config.Format)
	}
}

type jsonReport struct {
	*runner.RunResult
	Notes Notes `json:"notes,omitempty"`
}

func (r *Reporter) generateJSON(result *runner.RunResult, notes Notes) (string, error) {
	data, err := json.MarshalIndent(jsonReport{RunResult: result, Notes: notes}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func (r *Reporter) generateText(result *runner.RunResult, notes Notes) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("=== Extension Validation Report ===") + "\n\n")
	sb.WriteString(fmt.Sprintf("Run: %s (%s)\n", result.ID, result.Mode))
	sb.WriteString(fmt.Sprintf("Completed at: %s\n", result.Timestamp.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Duration: %s\n", result.Duration.Round(time.Millisecond)))
	for _, k := range sortedNoteKeys(notes) {
		sb.WriteString(fmt.Sprintf("%s: %s\n", k, notes[k]))
	}
	sb.WriteString("\n")

	for _, sr := range result.Suites {
		sb.WriteString(titleStyle.Render(sr.Name))
		if sr.Description != "" {
			sb.WriteString(mutedStyle.Render(" - " + sr.Description))
		}
		sb.WriteString("\n")
		for _, c := range sr.Tests {
			sb.WriteString("  " + statusLabel(c) + " " + c.Name)
			switch c.Status {
			case suite.StatusSkipped:
				sb.WriteString(mutedStyle.Render(" (" + c.SkipReason + ")"))
			case suite.StatusFailed:
				sb.WriteString(" [" + c.Level.String() + "]")
			}
			sb.WriteString("\n")
			if c.Status != suite.StatusFailed {
				continue
			}
			if len(c.Issues) == 0 {
				sb.WriteString("      " + c.Error + "\n")
				continue
			}
			writeIssues(&sb, c.Issues)
		}
		for _, w := range sr.Warnings {
			sb.WriteString("  " + warnStyle.Render("warning") + " " + w.Message + formatFields(w.Fields) + "\n")
		}
		sb.WriteString("\n")
	}

	s := result.Summary
	summary := fmt.Sprintf("Total: %d  Passed: %d  Failed: %d  Skipped: %d  Warnings: %d\nSuccess rate: %d%%",
		s.Total, s.Passed, s.Failed, s.Skipped, s.WarningCount, s.SuccessRate)
	sb.WriteString(summaryStyle.Render(summary) + "\n")
	return sb.String()
}

func statusLabel(c suite.CaseResult) string {
	switch c.Status {
	case suite.StatusPassed:
		return passStyle.Render("PASS")
	case suite.StatusSkipped:
		return mutedStyle.Render("SKIP")
	}
	if c.Level == severity.LevelWarning {
		return warnStyle.Render("FAIL")
	}
	return failStyle.Render("FAIL")
}

func writeIssues(sb *strings.Builder, issues []severity.Resolved) {
	sorted := append([]severity.Resolved(nil), issues...)
	severity.SortBySeverity(sorted)
	for _, issue := range sorted {
		sb.WriteString(fmt.Sprintf("      %-7s %s %s\n", issue.Level, issue.Location(), issue.Message))
		if issue.Context != "" {
			sb.WriteString(mutedStyle.Render("              "+issue.Context) + "\n")
		}
		if issue.Reason != "" {
			sb.WriteString(mutedStyle.Render("              known issue: "+issue.Reason) + "\n")
		} else if issue.Suggestion != "" {
			sb.WriteString(mutedStyle.Render("              fix: "+issue.Suggestion) + "\n")
		}
	}
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, k := range sortedNoteKeys(fields) {
		parts = append(parts, k+"="+fields[k])
	}
	return mutedStyle.Render(" (" + strings.Join(parts, ", ") + ")")
}

func sortedNoteKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
