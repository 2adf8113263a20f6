package suite

import (
	"fmt"
	"strings"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
)

// maxListedIssues bounds how many issues an IssuesError message lists.
const maxListedIssues = 5

// IssuesError fails a case because of detected issues. The runner keeps the
// issues on the case result and uses Level for the exit code.
type IssuesError struct {
	Check  string
	Issues []severity.Resolved
}

// NewIssuesError returns nil when no issue reaches WARNING, so checks can
// return its result directly.
func NewIssuesError(check string, issues []severity.Resolved) error {
	failing := severity.FilterByMinimum(issues, severity.LevelWarning)
	if len(failing) == 0 {
		return nil
	}
	return &IssuesError{Check: check, Issues: issues}
}

// Level is the most severe level among the issues.
func (e *IssuesError) Level() severity.Level {
	return severity.Max(severity.Levels(e.Issues)...)
}

func (e *IssuesError) Error() string {
	failing := severity.FilterByMinimum(e.Issues, severity.LevelWarning)
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d issue(s)", e.Check, len(failing))
	for i, issue := range failing {
		if i == maxListedIssues {
			fmt.Fprintf(&b, "; and %d more", len(failing)-maxListedIssues)
			break
		}
		fmt.Fprintf(&b, "; %s %s: %s", issue.Level, issue.Location(), issue.Message)
	}
	return b.String()
}
