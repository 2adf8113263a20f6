package config

import (
	"runtime"
	"time"
)

// Config holds the application configuration. It is data only: loaded from
// YAML/JSON through viper, never executed.
type Config struct {
	ExtensionPath   string            `mapstructure:"extensionPath" json:"extensionPath" validate:"required"`
	Exclude         []string          `mapstructure:"exclude" json:"exclude,omitempty"`
	Include         []string          `mapstructure:"include" json:"include,omitempty"`
	IncludeDotfiles bool              `mapstructure:"includeDotfiles" json:"includeDotfiles,omitempty"`
	ExcludePatterns ExcludePatterns   `mapstructure:"excludePatterns" json:"excludePatterns"`
	Context         string            `mapstructure:"context" json:"context,omitempty"`
	WarningLevels   map[string]string `mapstructure:"warningLevels" json:"warningLevels,omitempty" validate:"dive,keys,required,endkeys,oneof=error warning info critical high medium low ignore"`
	KnownIssues     []KnownIssue      `mapstructure:"knownIssues" json:"knownIssues,omitempty" validate:"dive"`
	Profile         string            `mapstructure:"profile" json:"profile,omitempty" validate:"omitempty,oneof=development production ci quick"`
	Environment     string            `mapstructure:"environment" json:"environment,omitempty" validate:"omitempty,oneof=development test production"`
	StrictMode      bool              `mapstructure:"strictMode" json:"strictMode,omitempty"`
	QuickMode       bool              `mapstructure:"quickMode" json:"quickMode,omitempty"`
	SkipTests       []string          `mapstructure:"skipTests" json:"skipTests,omitempty"`
	Timeout         int               `mapstructure:"timeout" json:"timeout" validate:"gte=0"` // milliseconds
	Parallel        bool              `mapstructure:"parallel" json:"parallel,omitempty"`
	Workers         int               `mapstructure:"workers" json:"workers,omitempty" validate:"gte=0"`
	FailOnError     bool              `mapstructure:"failOnError" json:"failOnError"`
	FailOnWarning   bool              `mapstructure:"failOnWarning" json:"failOnWarning,omitempty"`
	Cache           CacheConfig       `mapstructure:"cache" json:"cache"`
	History         HistoryConfig     `mapstructure:"history" json:"history"`
	Rules           RulesConfig       `mapstructure:"rules" json:"rules"`
	Scanner         ScannerConfig     `mapstructure:"scanner" json:"scanner"`
	MetricsFile     string            `mapstructure:"metricsFile" json:"metricsFile,omitempty"`
	Format          string            `mapstructure:"format" json:"format,omitempty" validate:"omitempty,oneof=text json"`
	OutputFile      string            `mapstructure:"output" json:"output,omitempty"`
	Verbose         bool              `mapstructure:"verbose" json:"verbose,omitempty"`
}

// ExcludePatterns are exclusions expressed as directories, files, or
// patterns scoped to a named context.
type ExcludePatterns struct {
	Directories []string            `mapstructure:"directories" json:"directories,omitempty"`
	Files       []string            `mapstructure:"files" json:"files,omitempty"`
	ByContext   map[string][]string `mapstructure:"byContext" json:"byContext,omitempty"`
}

// KnownIssue marks an accepted issue. Matching issues are reported at info
// level with Reason attached.
type KnownIssue struct {
	File   string `mapstructure:"file" json:"file" validate:"required"`
	Type   string `mapstructure:"type" json:"type" validate:"required"`
	Reason string `mapstructure:"reason" json:"reason" validate:"required"`
}

// CacheConfig holds incremental cache configuration.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path,omitempty"`
}

// HistoryConfig holds run history configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path,omitempty"`
}

// RulesConfig holds rule catalog configuration.
type RulesConfig struct {
	CustomPath string   `mapstructure:"customPath" json:"customPath,omitempty"`
	Disabled   []string `mapstructure:"disabled" json:"disabled,omitempty"`
}

// ScannerConfig holds scanner tuning.
type ScannerConfig struct {
	Tokenizer   string `mapstructure:"tokenizer" json:"tokenizer,omitempty" validate:"omitempty,oneof=linear treesitter"`
	MaxFileSize int64  `mapstructure:"maxFileSize" json:"maxFileSize,omitempty" validate:"gte=0"`
}

const (
	DefaultTimeout     = 30000
	DefaultCacheFile   = ".extension-validator-cache.json"
	DefaultHistoryFile = ".extension-validator/history.db"
	DefaultMaxFileSize = 5 * 1024 * 1024
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ExtensionPath: ".",
		Timeout:       DefaultTimeout,
		FailOnError:   true,
		Format:        "text",
		Cache: CacheConfig{
			Enabled: true,
			Path:    DefaultCacheFile,
		},
		History: HistoryConfig{
			Path: DefaultHistoryFile,
		},
		Scanner: ScannerConfig{
			Tokenizer:   "linear",
			MaxFileSize: DefaultMaxFileSize,
		},
	}
}

// CaseTimeout returns the configured per-case timeout.
func (c *Config) CaseTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout * time.Millisecond
	}
	return time.Duration(c.Timeout) * time.Millisecond
}

// WorkerCount returns the parallel worker count for n suites: the configured
// value, or available parallelism minus one, capped at n and at least 1.
func (c *Config) WorkerCount(n int) int {
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) - 1
	}
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Skipped reports whether a case id ("suite/case") or a whole suite is on the
// skip list.
func (c *Config) Skipped(suiteName, caseName string) bool {
	id := suiteName + "/" + caseName
	for _, s := range c.SkipTests {
		if s == id || s == suiteName || s == caseName {
			return true
		}
	}
	return false
}
