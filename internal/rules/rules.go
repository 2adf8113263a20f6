package rules

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/safepattern"
)

// Legacy five-level severities carried by rules.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

var validSeverities = map[string]bool{
	SeverityCritical: true,
	SeverityHigh:     true,
	SeverityMedium:   true,
	SeverityLow:      true,
	SeverityInfo:     true,
}

// ScriptExtensions are the file extensions treated as script sources.
var ScriptExtensions = []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx"}

// Rule is one pattern consumed by the scanner.
type Rule struct {
	Name       string           `json:"name" yaml:"name"`
	Pattern    string           `json:"pattern" yaml:"pattern"`
	Regex      *regexp.Regexp   `json:"-" yaml:"-"`
	Severity   string           `json:"severity" yaml:"severity"`
	Extensions []string         `json:"extensions" yaml:"extensions"`
	Category   string           `json:"category" yaml:"category"`
	Kind       safepattern.Kind `json:"kind,omitempty" yaml:"kind"`
	// Assignment marks sink-assignment rules; a match followed by "=" is a
	// comparison and is ignored.
	Assignment bool   `json:"assignment,omitempty" yaml:"assignment"`
	Message    string `json:"message" yaml:"message"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion"`
}

// Compile prepares the rule's regular expression.
func (r *Rule) Compile() error {
	if r.Regex != nil {
		return nil
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %s: invalid pattern: %w", r.Name, err)
	}
	r.Regex = re
	return nil
}

// AppliesTo reports whether the rule should run on path. A rule without
// extensions applies to every file.
func (r *Rule) AppliesTo(path string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range r.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Engine holds the ordered rule catalog.
type Engine struct {
	mu       sync.RWMutex
	rules    []*Rule
	disabled map[string]bool
}

// NewEngine creates an engine seeded with the built-in rules, minus the
// disabled names.
func NewEngine(disabled []string) *Engine {
	e := &Engine{disabled: make(map[string]bool)}
	for _, name := range disabled {
		e.disabled[name] = true
	}
	for _, r := range Builtin() {
		// Built-ins are known to compile.
		_ = e.Add(r)
	}
	return e
}

// Add registers a rule. A rule with an existing name replaces the earlier
// definition in place, so catalog order is stable.
func (e *Engine) Add(r *Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Severity == "" {
		r.Severity = SeverityMedium
	}
	r.Severity = strings.ToLower(r.Severity)
	if !validSeverities[r.Severity] {
		return fmt.Errorf("rule %s: unknown severity %q", r.Name, r.Severity)
	}
	if err := r.Compile(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.rules {
		if existing.Name == r.Name {
			e.rules[i] = r
			return nil
		}
	}
	e.rules = append(e.rules, r)
	return nil
}

// Disable turns a rule off by name.
func (e *Engine) Disable(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabled[name] = true
}

// Get returns a rule by name, enabled or not.
func (e *Engine) Get(name string) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Rules returns the enabled rules in catalog order.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if !e.disabled[r.Name] {
			out = append(out, r)
		}
	}
	return out
}

// ForFile returns the enabled rules that apply to path.
func (e *Engine) ForFile(path string) []*Rule {
	var out []*Rule
	for _, r := range e.Rules() {
		if r.AppliesTo(path) {
			out = append(out, r)
		}
	}
	return out
}

// ByCategory returns the enabled rules of one category.
func (e *Engine) ByCategory(category string) []*Rule {
	var out []*Rule
	for _, r := range e.Rules() {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}
