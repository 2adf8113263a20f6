package severity

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
)

// Context is the environment an issue is resolved in.
type Context struct {
	Environment string
	StrictMode  bool
	// Privileged forces the background/service-worker role regardless of
	// the file name, for callers that read it from the manifest.
	Privileged bool
}

// Source says which rule decided a level.
type Source string

const (
	SourceOverride    Source = "override"
	SourceEnvironment Source = "environment"
	SourceFileRole    Source = "file-role"
	SourceDefault     Source = "default"
	SourceIssue       Source = "issue"
	SourceFallback    Source = "fallback"
	SourceKnownIssue  Source = "known-issue"
)

// Resolution is the outcome of resolving one issue.
type Resolution struct {
	Level  Level  `json:"level"`
	Source Source `json:"source"`
	// Reason carries the known-issue justification when one applied.
	Reason string `json:"reason,omitempty"`
}

// Resolved pairs an issue with its resolution.
type Resolved struct {
	model.Issue
	Level  Level  `json:"level"`
	Source Source `json:"source"`
	Reason string `json:"knownIssueReason,omitempty"`
}

// DefaultLevels is the built-in table keyed by lower-case issue type. Sink
// assignments are absent on purpose so the scanner's value-based severity
// applies.
var DefaultLevels = map[string]Level{
	"eval-usage":                      LevelError,
	"function-constructor":            LevelError,
	"document-write":                  LevelError,
	"string-timer":                    LevelWarning,
	"console-usage":                   LevelWarning,
	"debugger-statement":              LevelWarning,
	"local-storage-usage":             LevelInfo,
	"insecure-http-url":               LevelWarning,
	"sync-xhr":                        LevelWarning,
	"message-handler-no-sender-check": LevelWarning,
	"manifest-invalid-json":           LevelError,
	"manifest-missing-field":          LevelError,
	"manifest-invalid-version":        LevelError,
	"manifest-deprecated-version":     LevelWarning,
	"csp-unsafe-eval":                 LevelError,
	"csp-remote-script":               LevelError,
	"broad-host-permission":           LevelWarning,
	"sensitive-permission":            LevelInfo,
	"missing-referenced-file":         LevelError,
	"missing-icon":                    LevelWarning,
	"file-too-large":                  LevelWarning,
	"total-size-exceeded":             LevelWarning,
	"missing-default-locale":          LevelError,
	"missing-locale-message":          LevelWarning,
	"unused-locale":                   LevelInfo,
}

// Noisy issue types that environments adjust.
var noisyTypes = map[string]bool{
	"console-usage":      true,
	"debugger-statement": true,
}

// Types downgraded to INFO inside test files.
var testRelaxedTypes = map[string]bool{
	"console-usage":       true,
	"debugger-statement":  true,
	"local-storage-usage": true,
	"insecure-http-url":   true,
	"eval-usage":          true,
}

// Dangerous calls upgraded to ERROR in privileged contexts.
var privilegedStrictTypes = map[string]bool{
	"eval-usage":           true,
	"function-constructor": true,
	"string-timer":         true,
	"document-write":       true,
}

// TestFilePatterns identify test sources.
var TestFilePatterns = []string{
	"**/*.test.{js,mjs,ts}",
	"**/*.spec.{js,mjs,ts}",
	"**/test/**",
	"**/tests/**",
	"**/__tests__/**",
}

// PrivilegedFilePatterns identify background and service-worker scripts.
var PrivilegedFilePatterns = []string{
	"**/background*.{js,mjs,ts}",
	"**/service-worker*.{js,mjs,ts}",
	"**/service_worker*.{js,mjs,ts}",
	"**/sw.js",
}

type knownIssue struct {
	file   string
	typ    string
	reason string
}

// Resolver maps issues to levels. Resolve is a pure function of the issue,
// the context and the configuration the resolver was built from.
type Resolver struct {
	overrides map[string]Level
	defaults  map[string]Level
	known     []knownIssue
}

// NewResolver builds a resolver from the configuration's warning levels and
// known issues. Override keys are matched case-insensitively.
func NewResolver(cfg *config.Config) *Resolver {
	r := &Resolver{
		overrides: make(map[string]Level),
		defaults:  DefaultLevels,
	}
	if cfg == nil {
		return r
	}
	for typ, raw := range cfg.WarningLevels {
		if l, ok := ParseLevel(raw); ok {
			r.overrides[strings.ToLower(typ)] = l
		}
	}
	for _, ki := range cfg.KnownIssues {
		r.known = append(r.known, knownIssue{
			file:   strings.TrimPrefix(ki.File, "./"),
			typ:    strings.ToLower(ki.Type),
			reason: ki.Reason,
		})
	}
	return r
}

// Resolve returns the level for issue.
func (r *Resolver) Resolve(issue model.Issue, ctx Context) Level {
	return r.Classify(issue, ctx).Level
}

// Classify resolves issue and reports which rule decided it.
func (r *Resolver) Classify(issue model.Issue, ctx Context) Resolution {
	if reason, ok := r.knownIssue(issue); ok {
		return Resolution{Level: LevelInfo, Source: SourceKnownIssue, Reason: reason}
	}

	typ := strings.ToLower(issue.Type)
	if l, ok := r.overrides[typ]; ok {
		return Resolution{Level: l, Source: SourceOverride}
	}
	if l, ok := environmentLevel(typ, ctx); ok {
		return Resolution{Level: l, Source: SourceEnvironment}
	}
	if l, ok := fileRoleLevel(typ, issue.File, ctx); ok {
		return Resolution{Level: l, Source: SourceFileRole}
	}
	if l, ok := r.defaults[typ]; ok {
		return Resolution{Level: l, Source: SourceDefault}
	}
	if issue.Severity != "" {
		if l, ok := ParseLevel(issue.Severity); ok {
			return Resolution{Level: l, Source: SourceIssue}
		}
	}
	return Resolution{Level: LevelWarning, Source: SourceFallback}
}

// ResolveAll resolves every issue and drops the ignored ones.
func (r *Resolver) ResolveAll(issues []model.Issue, ctx Context) []Resolved {
	out := make([]Resolved, 0, len(issues))
	for _, issue := range issues {
		res := r.Classify(issue, ctx)
		if res.Level == LevelNone {
			continue
		}
		out = append(out, Resolved{Issue: issue, Level: res.Level, Source: res.Source, Reason: res.Reason})
	}
	return out
}

func (r *Resolver) knownIssue(issue model.Issue) (string, bool) {
	file := strings.TrimPrefix(issue.File, "./")
	typ := strings.ToLower(issue.Type)
	for _, ki := range r.known {
		if ki.typ != "*" && ki.typ != typ {
			continue
		}
		if ki.file == file || ki.file == "*" {
			return ki.reason, true
		}
		if ok, err := doublestar.Match(ki.file, file); err == nil && ok {
			return ki.reason, true
		}
	}
	return "", false
}

func environmentLevel(typ string, ctx Context) (Level, bool) {
	if !noisyTypes[typ] {
		return LevelNone, false
	}
	switch ctx.Environment {
	case "development", "test":
		return LevelInfo, true
	case "production":
		if !ctx.StrictMode {
			return LevelNone, false
		}
		if typ == "debugger-statement" {
			return LevelError, true
		}
		return LevelWarning, true
	}
	return LevelNone, false
}

func fileRoleLevel(typ, file string, ctx Context) (Level, bool) {
	if testRelaxedTypes[typ] && IsTestFile(file) {
		return LevelInfo, true
	}
	if privilegedStrictTypes[typ] && (ctx.Privileged || IsPrivilegedFile(file)) {
		return LevelError, true
	}
	return LevelNone, false
}

// IsTestFile reports whether file looks like a test source.
func IsTestFile(file string) bool {
	return matchAny(TestFilePatterns, file)
}

// IsPrivilegedFile reports whether file looks like a background or
// service-worker script.
func IsPrivilegedFile(file string) bool {
	return matchAny(PrivilegedFilePatterns, file)
}

func matchAny(patterns []string, file string) bool {
	file = path.Clean(strings.TrimPrefix(file, "./"))
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, file); err == nil && ok {
			return true
		}
	}
	return false
}
