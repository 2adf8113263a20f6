package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every blocking configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError lists every blocking problem found while loading.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

var knownKeys = map[string]bool{
	"extensionpath": true, "exclude": true, "include": true, "includedotfiles": true,
	"excludepatterns": true, "context": true, "warninglevels": true, "knownissues": true,
	"profile": true, "environment": true, "strictmode": true, "quickmode": true,
	"skiptests": true, "timeout": true, "parallel": true, "workers": true,
	"failonerror": true, "failonwarning": true, "cache": true, "history": true,
	"rules": true, "scanner": true, "metricsfile": true, "format": true,
	"output": true, "verbose": true,
}

var validate = validator.New()

// Load loads configuration from the global viper instance.
func Load() (*Config, []string, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFile loads configuration from a single YAML or JSON file.
func LoadFile(path string) (*Config, []string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, &ValidationError{Problems: []string{fmt.Sprintf("read %s: %v", path, err)}}
	}
	return LoadFrom(v)
}

// LoadFrom decodes, applies the selected profile and validates. The returned
// warnings never block a run; a non-nil error always does.
func LoadFrom(v *viper.Viper) (*Config, []string, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, &ValidationError{Problems: []string{err.Error()}}
	}

	warnings := unknownKeyWarnings(v.AllKeys())

	for k, level := range cfg.WarningLevels {
		cfg.WarningLevels[k] = strings.ToLower(strings.TrimSpace(level))
	}

	if cfg.Profile != "" {
		if p, ok := Profiles[cfg.Profile]; ok {
			applyProfile(cfg, p, v.IsSet)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, warnings, err
	}

	warnings = append(warnings, supersededWarnings(cfg)...)
	return cfg, warnings, nil
}

// Validate checks the decoded configuration against its schema.
func Validate(cfg *Config) error {
	var problems []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, describeFieldError(fe))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if cfg.ExtensionPath != "" {
		info, err := os.Stat(cfg.ExtensionPath)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("extensionPath: %v", err))
		case !info.IsDir():
			problems = append(problems, fmt.Sprintf("extensionPath: %s is not a directory", cfg.ExtensionPath))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s: %q is not one of [%s]", field, fmt.Sprint(fe.Value()), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

func unknownKeyWarnings(keys []string) []string {
	seen := make(map[string]bool)
	var warnings []string
	for _, key := range keys {
		top := strings.SplitN(key, ".", 2)[0]
		if knownKeys[top] || seen[top] {
			continue
		}
		seen[top] = true
		warnings = append(warnings, fmt.Sprintf("unknown configuration key %q ignored", top))
	}
	sort.Strings(warnings)
	return warnings
}

func supersededWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Workers > 0 && !cfg.Parallel {
		warnings = append(warnings, "workers is ignored because parallel is disabled")
	}
	if !cfg.FailOnError {
		warnings = append(warnings, "failOnError is false: error-level failures will not change the exit code")
	}
	if cfg.QuickMode && len(cfg.SkipTests) > 0 {
		warnings = append(warnings, "quickMode is set: skipTests only applies to essential checks")
	}
	return warnings
}
