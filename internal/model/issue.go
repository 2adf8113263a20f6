package model

import "fmt"

// Issue is a single detected problem candidate. Issues are created during a
// scan pass over one file and are not modified afterwards.
type Issue struct {
	Type       string `json:"type"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Column     int    `json:"column,omitempty"`
	Severity   string `json:"severity"`
	Category   string `json:"category,omitempty"`
	Message    string `json:"message"`
	Context    string `json:"context,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Location renders file:line[:column].
func (i Issue) Location() string {
	if i.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", i.File, i.Line, i.Column)
	}
	return fmt.Sprintf("%s:%d", i.File, i.Line)
}

// Categories used by rules and suites.
const (
	CategoryManifest     = "manifest"
	CategorySecurity     = "security"
	CategoryPerformance  = "performance"
	CategoryStructure    = "structure"
	CategoryLocalization = "localization"
)
