package scanner

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/rules"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/safepattern"
)

const (
	maxValueLen   = 500
	maxContextLen = 200
)

var (
	// Identifiers that usually carry data an attacker controls.
	userDataRegex  = regexp.MustCompile(`(?i)(user|input|param|query|search|hash|href|location|url|request|response|payload|message|msg|event\.data|e\.data|\.value\b|responseText|cookie|referrer)`)
	stringLitRegex = regexp.MustCompile(`^\s*(?:'(?:[^'\\\n]|\\.)*'|"(?:[^"\\\n]|\\.)*"|` + "`[^`$]*`" + `)\s*$`)
)

// Detector finds rule matches in one file's text. Detect is pure and safe
// for concurrent use.
type Detector struct {
	engine     *rules.Engine
	recognizer *safepattern.Recognizer
	tokenizer  Tokenizer
	strict     bool
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithTokenizer replaces the default linear tokenizer.
func WithTokenizer(t Tokenizer) DetectorOption {
	return func(d *Detector) {
		if t != nil {
			d.tokenizer = t
		}
	}
}

// WithStrictMode disables safe-pattern suppression.
func WithStrictMode(strict bool) DetectorOption {
	return func(d *Detector) { d.strict = strict }
}

// NewDetector creates a detector over a rule engine and recognizer.
func NewDetector(engine *rules.Engine, recognizer *safepattern.Recognizer, opts ...DetectorOption) *Detector {
	if recognizer == nil {
		recognizer = safepattern.Default()
	}
	d := &Detector{
		engine:     engine,
		recognizer: recognizer,
		tokenizer:  LinearTokenizer{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the issues found in content, ordered by position.
func (d *Detector) Detect(content, filePath string) []model.Issue {
	applicable := d.engine.ForFile(filePath)
	if len(applicable) == 0 || content == "" {
		return nil
	}
	return d.detect(content, filePath, applicable)
}

// DetectRules runs only the named rules.
func (d *Detector) DetectRules(content, filePath string, names ...string) []model.Issue {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var applicable []*rules.Rule
	for _, r := range d.engine.ForFile(filePath) {
		if wanted[r.Name] {
			applicable = append(applicable, r)
		}
	}
	if len(applicable) == 0 || content == "" {
		return nil
	}
	return d.detect(content, filePath, applicable)
}

func (d *Detector) detect(content, filePath string, applicable []*rules.Rule) []model.Issue {
	ctx := d.tokenizer.Analyze(content, filePath)
	seen := make(map[string]bool)
	var issues []model.Issue

	for _, rule := range applicable {
		for _, loc := range rule.Regex.FindAllStringIndex(content, -1) {
			start, end := loc[0], loc[1]
			if ctx.Excluded(start) {
				continue
			}
			// "x.innerHTML == y" is a comparison.
			if rule.Assignment && end < len(content) && content[end] == '=' {
				continue
			}

			value := extractValue(content, rule, start, end)
			if !d.strict && rule.Kind != "" {
				w := d.recognizer.Window()
				if d.recognizer.IsSafeUsage(rule.Kind, value, window(content, start, end, w)) {
					continue
				}
			}

			line, col := ctx.Position(start)
			ls, le := ctx.LineBounds(start, len(content))
			issue := model.Issue{
				Type:       rule.Name,
				File:       filePath,
				Line:       line,
				Column:     col,
				Severity:   assessSeverity(rule, value),
				Category:   rule.Category,
				Message:    rule.Message,
				Context:    truncate(strings.TrimSpace(content[ls:le]), maxContextLen),
				Suggestion: rule.Suggestion,
			}
			key := issue.Type + "|" + issue.Location()
			if seen[key] {
				continue
			}
			seen[key] = true
			issues = append(issues, issue)
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Line != issues[j].Line {
			return issues[i].Line < issues[j].Line
		}
		if issues[i].Column != issues[j].Column {
			return issues[i].Column < issues[j].Column
		}
		return issues[i].Type < issues[j].Type
	})
	return issues
}

// extractValue returns the text a safety or severity decision is based on:
// the right-hand side for assignments, the argument list for calls, and
// the match itself otherwise.
func extractValue(content string, rule *rules.Rule, start, end int) string {
	match := content[start:end]
	switch {
	case rule.Assignment:
		return truncate(strings.TrimSpace(rhs(content, end)), maxValueLen)
	case strings.HasSuffix(match, "("):
		return truncate(strings.TrimSpace(callArgs(content, end)), maxValueLen)
	default:
		return match
	}
}

// rhs returns text from offset up to the next unescaped statement
// terminator at bracket depth zero.
func rhs(content string, offset int) string {
	depth := 0
	var quote byte
	for i := offset; i < len(content); i++ {
		c := content[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth == 0 {
				return content[offset:i]
			}
			depth--
		case ';', '\n':
			if depth == 0 {
				return content[offset:i]
			}
		}
	}
	return content[offset:]
}

// callArgs returns the text between an opening parenthesis that ends just
// before offset and its balancing close.
func callArgs(content string, offset int) string {
	depth := 0
	var quote byte
	for i := offset; i < len(content); i++ {
		c := content[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth == 0 {
				return content[offset:i]
			}
			depth--
		}
	}
	return content[offset:]
}

func window(content string, start, end, size int) string {
	lo := start - size
	if lo < 0 {
		lo = 0
	}
	hi := end + size
	if hi > len(content) {
		hi = len(content)
	}
	return content[lo:hi]
}

// assessSeverity adjusts the rule's severity for sink and eval usages based
// on the value flowing in.
func assessSeverity(rule *rules.Rule, value string) string {
	switch rule.Kind {
	case safepattern.KindSink:
		switch {
		case userDataRegex.MatchString(value):
			return rules.SeverityCritical
		case strings.Contains(value, "${") || strings.Contains(value, "+"):
			return rules.SeverityHigh
		case stringLitRegex.MatchString(value):
			return rules.SeverityLow
		}
	case safepattern.KindEval:
		if userDataRegex.MatchString(value) {
			return rules.SeverityCritical
		}
	}
	return rule.Severity
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
