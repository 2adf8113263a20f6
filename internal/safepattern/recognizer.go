package safepattern

import (
	"fmt"
	"regexp"
	"sync"
)

// Kind identifies the usage a safe pattern applies to. The set is open:
// rule catalogs may introduce their own kinds.
type Kind string

const (
	KindSink    Kind = "sink"
	KindStorage Kind = "storage"
	KindEval    Kind = "eval"
	KindMessage Kind = "message"
	KindURL     Kind = "url"
)

// Scope says which text a pattern is tested against.
type Scope int

const (
	// ScopeValue patterns are tested against the extracted value text.
	ScopeValue Scope = iota
	// ScopeWindow patterns are tested against the text around the usage.
	ScopeWindow
)

// DefaultWindow is the number of bytes taken on each side of a usage for
// window-scoped patterns.
const DefaultWindow = 150

// Pattern is one known-safe shape.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
	Scope Scope
}

// Recognizer whitelists known-benign code shapes. A usage matching any
// pattern of its kind is dropped.
type Recognizer struct {
	mu       sync.RWMutex
	patterns map[Kind][]Pattern
	window   int
}

// New returns an empty recognizer.
func New() *Recognizer {
	return &Recognizer{
		patterns: make(map[Kind][]Pattern),
		window:   DefaultWindow,
	}
}

// Default returns a recognizer loaded with the built-in safe shapes.
func Default() *Recognizer {
	r := New()
	for kind, patterns := range builtin {
		for _, p := range patterns {
			r.patterns[kind] = append(r.patterns[kind], p)
		}
	}
	return r
}

// Window returns the context window size in bytes.
func (r *Recognizer) Window() int {
	return r.window
}

// SetWindow changes the context window size.
func (r *Recognizer) SetWindow(n int) {
	if n > 0 {
		r.window = n
	}
}

// Add registers a safe pattern for kind.
func (r *Recognizer) Add(kind Kind, name, expr string, scope Scope) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid safe pattern %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns[kind] = append(r.patterns[kind], Pattern{Name: name, Regex: re, Scope: scope})
	return nil
}

// Patterns returns the patterns registered for kind.
func (r *Recognizer) Patterns(kind Kind) []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Pattern(nil), r.patterns[kind]...)
}

// IsSafe reports whether any value-scoped pattern for kind matches text.
func (r *Recognizer) IsSafe(kind Kind, text string) bool {
	return r.Match(kind, text, "") != ""
}

// IsSafeUsage checks value-scoped patterns against value and window-scoped
// patterns against window.
func (r *Recognizer) IsSafeUsage(kind Kind, value, window string) bool {
	return r.Match(kind, value, window) != ""
}

// Match returns the name of the first pattern that makes the usage safe, or
// "" when none does.
func (r *Recognizer) Match(kind Kind, value, window string) string {
	if kind == "" {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns[kind] {
		switch p.Scope {
		case ScopeValue:
			if p.Regex.MatchString(value) {
				return p.Name
			}
		case ScopeWindow:
			if window != "" && p.Regex.MatchString(window) {
				return p.Name
			}
		}
	}
	return ""
}
