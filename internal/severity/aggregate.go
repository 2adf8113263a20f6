package severity

import "sort"

// Exit codes.
const (
	ExitOK      = 0
	ExitFailing = 1
)

// GroupBySeverity buckets resolved issues by level, preserving order.
func GroupBySeverity(issues []Resolved) map[Level][]Resolved {
	groups := make(map[Level][]Resolved)
	for _, issue := range issues {
		groups[issue.Level] = append(groups[issue.Level], issue)
	}
	return groups
}

// FilterByMinimum keeps issues at or above min.
func FilterByMinimum(issues []Resolved, min Level) []Resolved {
	out := make([]Resolved, 0, len(issues))
	for _, issue := range issues {
		if issue.Level >= min {
			out = append(out, issue)
		}
	}
	return out
}

// Levels extracts the level of each issue.
func Levels(issues []Resolved) []Level {
	out := make([]Level, len(issues))
	for i, issue := range issues {
		out[i] = issue.Level
	}
	return out
}

// Counts returns the number of issues per level.
func Counts(issues []Resolved) map[Level]int {
	counts := make(map[Level]int)
	for _, issue := range issues {
		counts[issue.Level]++
	}
	return counts
}

// SortBySeverity orders issues most severe first, then by location.
func SortBySeverity(issues []Resolved) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
}

// ExitCode is failing when any ERROR is present, or when failOnWarning is
// set and any WARNING is present.
func ExitCode(levels []Level, failOnWarning bool) int {
	for _, l := range levels {
		if l >= LevelError {
			return ExitFailing
		}
		if l == LevelWarning && failOnWarning {
			return ExitFailing
		}
	}
	return ExitOK
}
