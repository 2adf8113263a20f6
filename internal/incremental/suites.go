package incremental

import (
	"path"
	"regexp"
	"strings"
)

// Suite names known to the change heuristics, in canonical run order.
const (
	SuiteManifest     = "manifest"
	SuiteSecurity     = "security"
	SuitePerformance  = "performance"
	SuiteStructure    = "structure"
	SuiteLocalization = "localization"
)

// AllSuites is the canonical suite order.
var AllSuites = []string{SuiteManifest, SuiteSecurity, SuitePerformance, SuiteStructure, SuiteLocalization}

// ManifestFile is the extension root file whose change forces a full run.
const ManifestFile = "manifest.json"

var privilegedScriptRegex = regexp.MustCompile(`(?i)(background|service[-_]?worker|(^|[-_.])sw([-_.]|$))`)

// SuitesFor returns the suites affected by a change to the root-relative
// path rel.
func SuitesFor(rel string) []string {
	rel = strings.TrimPrefix(rel, "./")
	if rel == "_locales" || strings.HasPrefix(rel, "_locales/") {
		return []string{SuiteLocalization}
	}

	base := path.Base(rel)
	switch strings.ToLower(path.Ext(rel)) {
	case ".css", ".scss", ".less":
		return []string{SuitePerformance}
	case ".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx":
		if privilegedScriptRegex.MatchString(strings.TrimSuffix(base, path.Ext(base))) {
			return []string{SuiteManifest, SuiteSecurity, SuitePerformance}
		}
		return []string{SuiteSecurity, SuitePerformance}
	case ".html", ".htm":
		return []string{SuiteSecurity, SuiteStructure}
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp":
		return []string{SuiteStructure, SuitePerformance}
	default:
		return []string{SuiteStructure}
	}
}

// orderSuites returns the members of set in canonical order.
func orderSuites(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, s := range AllSuites {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
