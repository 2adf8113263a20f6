package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/safepattern"
)

// YAMLRuleFile is the on-disk format of a custom rule file. JSON files are
// accepted as well since JSON is valid YAML.
type YAMLRuleFile struct {
	Rules        []YAMLRule        `yaml:"rules"`
	SafePatterns []YAMLSafePattern `yaml:"safePatterns"`
	Disable      []string          `yaml:"disable"`
}

// YAMLRule represents one rule definition.
type YAMLRule struct {
	Name       string   `yaml:"name"`
	Pattern    string   `yaml:"pattern"`
	Severity   string   `yaml:"severity"`
	Extensions []string `yaml:"extensions"`
	Category   string   `yaml:"category"`
	Kind       string   `yaml:"kind"`
	Assignment bool     `yaml:"assignment"`
	Message    string   `yaml:"message"`
	Suggestion string   `yaml:"suggestion"`
	Enabled    *bool    `yaml:"enabled"`
}

// YAMLSafePattern extends the safe-pattern recognizer.
type YAMLSafePattern struct {
	Kind    string `yaml:"kind"`
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Scope   string `yaml:"scope"`
}

// YAMLRuleLoader loads custom rules from a file or a directory of files.
type YAMLRuleLoader struct {
	path   string
	logger *zap.Logger
}

// NewYAMLRuleLoader creates a loader for path.
func NewYAMLRuleLoader(path string, logger *zap.Logger) *YAMLRuleLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YAMLRuleLoader{path: path, logger: logger}
}

// Load reads every rule file and registers its contents. A file that fails
// to parse or validate is logged and skipped; the count of loaded rules is
// returned.
func (l *YAMLRuleLoader) Load(engine *Engine, recognizer *safepattern.Recognizer) (int, error) {
	files, err := l.files()
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, file := range files {
		n, err := l.loadFile(file, engine, recognizer)
		if err != nil {
			l.logger.Warn("Failed to load rule file",
				zap.String("file", file),
				zap.Error(err))
			continue
		}
		loaded += n
	}
	l.logger.Debug("Custom rules loaded",
		zap.Int("files", len(files)),
		zap.Int("rules", loaded))
	return loaded, nil
}

func (l *YAMLRuleLoader) files() ([]string, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("rule path %s: %w", l.path, err)
	}
	if !info.IsDir() {
		return []string{l.path}, nil
	}

	var files []string
	for _, glob := range []string{"*.yaml", "*.yml", "*.json"} {
		matches, err := filepath.Glob(filepath.Join(l.path, glob))
		if err != nil {
			return nil, fmt.Errorf("failed to find rule files: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func (l *YAMLRuleLoader) loadFile(path string, engine *Engine, recognizer *safepattern.Recognizer) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	var file YAMLRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse rule file: %w", err)
	}
	if err := validateYAMLRuleFile(&file); err != nil {
		return 0, fmt.Errorf("invalid rule file: %w", err)
	}

	for _, sp := range file.SafePatterns {
		if recognizer == nil {
			break
		}
		if err := recognizer.Add(safepattern.Kind(sp.Kind), sp.Name, sp.Pattern, parseScope(sp.Scope)); err != nil {
			return 0, err
		}
	}

	count := 0
	for _, yr := range file.Rules {
		rule := convertYAMLRule(yr)
		if err := engine.Add(rule); err != nil {
			return count, err
		}
		if yr.Enabled != nil && !*yr.Enabled {
			engine.Disable(rule.Name)
		}
		count++
	}
	for _, name := range file.Disable {
		engine.Disable(name)
	}
	return count, nil
}

// validCategories are the categories a built-in suite hosts rule cases for.
var validCategories = map[string]bool{
	model.CategoryManifest:     true,
	model.CategorySecurity:     true,
	model.CategoryPerformance:  true,
	model.CategoryStructure:    true,
	model.CategoryLocalization: true,
}

// validateYAMLRuleFile validates a rule file before anything is registered.
func validateYAMLRuleFile(file *YAMLRuleFile) error {
	for i, r := range file.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if r.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", r.Name)
		}
		if r.Severity != "" && !validSeverities[strings.ToLower(r.Severity)] {
			return fmt.Errorf("rule %s: unknown severity %q", r.Name, r.Severity)
		}
		if r.Category != "" && !validCategories[strings.ToLower(r.Category)] {
			return fmt.Errorf("rule %s: unknown category %q", r.Name, r.Category)
		}
	}
	for i, sp := range file.SafePatterns {
		if sp.Kind == "" {
			return fmt.Errorf("safe pattern %d: kind is required", i)
		}
		if sp.Pattern == "" {
			return fmt.Errorf("safe pattern %d: pattern is required", i)
		}
		switch sp.Scope {
		case "", "value", "window":
		default:
			return fmt.Errorf("safe pattern %d: unknown scope %q", i, sp.Scope)
		}
	}
	return nil
}

func convertYAMLRule(yr YAMLRule) *Rule {
	exts := make([]string, 0, len(yr.Extensions))
	for _, e := range yr.Extensions {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, strings.ToLower(e))
	}
	category := strings.ToLower(yr.Category)
	if category == "" {
		category = model.CategorySecurity
	}
	return &Rule{
		Name:       yr.Name,
		Pattern:    yr.Pattern,
		Severity:   yr.Severity,
		Extensions: exts,
		Category:   category,
		Kind:       safepattern.Kind(yr.Kind),
		Assignment: yr.Assignment,
		Message:    yr.Message,
		Suggestion: yr.Suggestion,
	}
}

func parseScope(s string) safepattern.Scope {
	if s == "window" {
		return safepattern.ScopeWindow
	}
	return safepattern.ScopeValue
}
