package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/logging"
)

// Process exit codes.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// ExitError ends a command with a specific exit code. Err is printed when
// set.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// options holds the flags shared by every command.
type options struct {
	cfgFile string
	verbose bool

	// run flags
	force   bool
	noCache bool
	useGit  bool
	gitBase string
	since   string
	suites  []string

	v   *viper.Viper
	out io.Writer
}

// configFlags maps persistent flags onto configuration keys.
var configFlags = map[string]string{
	"profile":         "profile",
	"env":             "environment",
	"context":         "context",
	"format":          "format",
	"output":          "output",
	"parallel":        "parallel",
	"workers":         "workers",
	"quick":           "quickMode",
	"strict":          "strictMode",
	"fail-on-warning": "failOnWarning",
	"fail-on-error":   "failOnError",
	"timeout":         "timeout",
	"skip":            "skipTests",
	"exclude":         "exclude",
	"rules":           "rules.customPath",
	"metrics-file":    "metricsFile",
	"history":         "history.enabled",
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return execute(os.Args[1:], os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitConfigError
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:   "extension-validator [path]",
		Short: "Static validation and test runner for browser extensions",
		Long: `Validates a browser extension source tree: manifest correctness, unsafe
code patterns, performance budgets, file structure and localization.
Results are reported as test suites with pass/fail/skip outcomes and a
CI-friendly exit code (0 success, 1 failing checks, 2 configuration error).`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is .extension-validator.{yaml,json})")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	pf.String("profile", "", "configuration profile (development, production, ci, quick)")
	pf.String("env", "", "environment (development, test, production)")
	pf.String("context", "", "exclude-pattern context")
	pf.StringP("format", "f", "text", "output format (text, json)")
	pf.StringP("output", "o", "", "output file (default: stdout)")
	pf.Bool("parallel", false, "run suites in parallel")
	pf.IntP("workers", "w", 0, "parallel workers (0 = available CPUs - 1)")
	pf.Bool("quick", false, "run essential checks only")
	pf.Bool("strict", false, "disable safe-pattern recognition and apply production upgrades")
	pf.Bool("fail-on-warning", false, "exit non-zero on warning-level failures")
	pf.Bool("fail-on-error", true, "exit non-zero on error-level failures")
	pf.Int("timeout", config.DefaultTimeout, "per-case timeout in milliseconds")
	pf.StringSlice("skip", nil, "suites or suite/case ids to skip")
	pf.StringSlice("exclude", nil, "glob patterns to exclude")
	pf.String("rules", "", "YAML file or directory with custom rules")
	pf.String("metrics-file", "", "write Prometheus metrics to this file after the run")
	pf.Bool("history", false, "record the run in the history database")

	addRunFlags(root, opts)

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newCacheCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	return root
}

func addRunFlags(cmd *cobra.Command, opts *options) {
	fs := cmd.Flags()
	fs.BoolVar(&opts.force, "force", false, "ignore the cache and run every suite")
	fs.BoolVar(&opts.noCache, "no-cache", false, "do not read or write the incremental cache")
	fs.BoolVar(&opts.useGit, "git", false, "include uncommitted git changes in change detection")
	fs.StringVar(&opts.gitBase, "git-base", "HEAD", "git revision to diff against")
	fs.StringVar(&opts.since, "since", "", "also treat files modified within this duration as changed (e.g. 1h)")
	fs.StringSliceVar(&opts.suites, "suite", nil, "run only these suites")
}

// loadConfig reads the config file, flags and environment into a validated
// configuration for the extension at path. Any error is a configuration
// error.
func loadConfig(cmd *cobra.Command, opts *options, args []string, logger *zap.Logger) (*config.Config, error) {
	v := opts.v

	extPath := "."
	if len(args) > 0 {
		extPath = args[0]
	}
	absPath, err := filepath.Abs(extPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	if opts.cfgFile != "" {
		v.SetConfigFile(opts.cfgFile)
	} else {
		v.AddConfigPath(absPath)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".extension-validator")
	}

	v.SetEnvPrefix("EXTENSION_VALIDATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
	} else {
		logger.Debug("Using config file", zap.String("file", v.ConfigFileUsed()))
	}

	for flag, key := range configFlags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	if len(args) > 0 || !v.IsSet("extensionPath") {
		v.Set("extensionPath", absPath)
	}

	cfg, warnings, err := config.LoadFrom(v)
	for _, w := range warnings {
		logger.Warn("Configuration warning", zap.String("warning", w))
	}
	if err != nil {
		return nil, err
	}
	cfg.Verbose = opts.verbose
	if abs, err := filepath.Abs(cfg.ExtensionPath); err == nil {
		cfg.ExtensionPath = abs
	}
	return cfg, nil
}

func configError(err error) error {
	return &ExitError{Code: ExitConfigError, Err: err}
}

func newLogger(opts *options) *zap.Logger {
	return logging.MustNew(opts.verbose)
}

// resolvePath anchors a relative cache or history path at the extension
// root.
func resolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
