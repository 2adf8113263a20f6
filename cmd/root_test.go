package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/runner"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

const validManifest = `{
  "manifest_version": 3,
  "name": "Demo",
  "version": "1.0.0",
  "icons": {"16": "icons/16.png", "48": "icons/48.png", "128": "icons/128.png"},
  "action": {"default_popup": "popup.html"}
}`

// pngHeader is the start of a real PNG file, NUL bytes included.
const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x10\x00\x00\x00\x10\x08\x06\x00\x00\x00"

func writeExtension(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	base := map[string]string{
		"manifest.json": validManifest,
		"icons/16.png":  pngHeader,
		"icons/48.png":  pngHeader,
		"icons/128.png": pngHeader,
		"popup.html":    `<html><body><script src="popup.js"></script></body></html>`,
		"popup.js":      "document.getElementById('out').textContent = 'ready';\n",
	}
	for k, v := range files {
		base[k] = v
	}
	for rel, content := range base {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunPassingExtension(t *testing.T) {
	root := writeExtension(t, nil)

	code, out, _ := run(t, root)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Extension Validation Report")
	assert.Contains(t, out, "mode: full")
	assert.FileExists(t, filepath.Join(root, config.DefaultCacheFile))

	code, out, _ = run(t, "run", root)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "No changes since last run")
}

func TestRunFailingExtension(t *testing.T) {
	root := writeExtension(t, map[string]string{
		"popup.js": "const el = document.body;\nel.innerHTML = userInput;\n",
	})

	code, out, _ := run(t, "run", "--no-cache", root)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "FAIL unsafe-innerHTML [ERROR]")
	assert.Contains(t, out, "popup.js:2")
	assert.NoFileExists(t, filepath.Join(root, config.DefaultCacheFile))

	code, _, _ = run(t, "run", "--no-cache", "--fail-on-error=false", root)
	assert.Equal(t, ExitSuccess, code)
}

func TestBinaryIconsDoNotFailOnWarning(t *testing.T) {
	root := writeExtension(t, nil)

	code, out, _ := run(t, "run", "--no-cache", "--fail-on-warning", root)
	assert.Equal(t, ExitSuccess, code)
	assert.NotContains(t, out, "File skipped")
	assert.NotContains(t, out, "FAIL")
}

func TestNoChangeReplaysFailure(t *testing.T) {
	root := writeExtension(t, map[string]string{"popup.js": "eval(userInput);\n"})

	code, _, _ := run(t, root)
	require.Equal(t, ExitFailure, code)

	code, out, _ := run(t, root)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "No changes since last run")

	require.NoError(t, os.WriteFile(filepath.Join(root, "popup.js"), []byte("console.log('fixed');\n"), 0o644))
	code, out, _ = run(t, root)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "mode: incremental")
	assert.Contains(t, out, "reason: 1 file(s) changed")
}

func TestRunJSONOutput(t *testing.T) {
	root := writeExtension(t, nil)
	report := filepath.Join(t.TempDir(), "report.json")

	code, _, _ := run(t, "run", "--no-cache", "-f", "json", "-o", report, "--suite", "manifest", root)
	require.Equal(t, ExitSuccess, code)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var decoded runner.RunResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Suites, 1)
	assert.Equal(t, "manifest", decoded.Suites[0].Name)
	assert.Equal(t, 100, decoded.Summary.SuccessRate)
}

func TestConfigErrors(t *testing.T) {
	root := writeExtension(t, nil)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad format", []string{"run", "--format", "xml", root}, "Format"},
		{"bad since", []string{"run", "--since", "soon", root}, "--since"},
		{"missing path", []string{"run", filepath.Join(root, "nope")}, "extensionPath"},
		{"missing config file", []string{"run", "--config", filepath.Join(root, "missing.yaml"), root}, "invalid configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(t, tt.args...)
			assert.Equal(t, ExitConfigError, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestConfigFileWarningLevels(t *testing.T) {
	root := writeExtension(t, map[string]string{
		"popup.js":                  "eval(userInput);\n",
		".extension-validator.yaml": "warningLevels:\n  eval-usage: info\ncache:\n  enabled: false\n",
	})

	code, out, _ := run(t, "run", root)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "PASS eval-usage")

	bad := writeExtension(t, map[string]string{
		".extension-validator.yaml": "warningLevels:\n  eval-usage: loud\n",
	})
	code, _, stderr := run(t, "run", bad)
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "loud")
}

func TestCacheCommands(t *testing.T) {
	root := writeExtension(t, nil)

	code, out, _ := run(t, "cache", "status", root)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "no cache record")

	code, _, _ = run(t, "run", "--history", root)
	require.Equal(t, ExitSuccess, code)

	code, out, _ = run(t, "cache", "status", root)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Tracked files: 6")
	assert.Contains(t, out, "Recent runs:")
	assert.Contains(t, out, "exit 0")

	code, out, _ = run(t, "cache", "clear", root)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Cache cleared")
	assert.NoFileExists(t, filepath.Join(root, config.DefaultCacheFile))
}

func TestMetricsFile(t *testing.T) {
	root := writeExtension(t, nil)
	metrics := filepath.Join(t.TempDir(), "validator.prom")

	code, _, _ := run(t, "run", "--no-cache", "--metrics-file", metrics, root)
	require.Equal(t, ExitSuccess, code)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), "extension_validator_cases_total")
}

func TestExitCodeFailOnError(t *testing.T) {
	result := &runner.RunResult{Suites: []suite.SuiteResult{{
		Name: "security",
		Tests: []suite.CaseResult{
			{Name: "eval-usage", Status: suite.StatusFailed, Level: severity.LevelError},
		},
	}}}

	cfg := config.Default()
	assert.Equal(t, ExitFailure, levelsExitCode(result.Levels(), cfg))

	cfg.FailOnError = false
	assert.Equal(t, ExitSuccess, levelsExitCode(result.Levels(), cfg))

	result.Suites[0].Tests = append(result.Suites[0].Tests,
		suite.CaseResult{Name: "console-usage", Status: suite.StatusFailed, Level: severity.LevelWarning})
	cfg.FailOnWarning = true
	assert.Equal(t, ExitFailure, levelsExitCode(result.Levels(), cfg))
}

func TestIntersect(t *testing.T) {
	affected := []string{"security", "performance", "structure"}
	assert.Equal(t, affected, intersect(nil, affected))
	assert.Equal(t, []string{"security", "structure"}, intersect([]string{"structure", "security", "manifest"}, affected))
	assert.Empty(t, intersect([]string{"manifest"}, affected))
}

func TestOutputPaths(t *testing.T) {
	root := t.TempDir()
	paths := outputPaths(root, "", "metrics/validator.prom")
	assert.Equal(t, []string{filepath.Join(root, "metrics", "validator.prom")}, paths)

	report := filepath.Join(root, "report.json")
	assert.Equal(t, []string{report}, outputPaths(root, report, ""))
}

func TestWatchLoopIgnoresOutputFiles(t *testing.T) {
	root := t.TempDir()
	report := filepath.Join(root, "report.json")
	metrics := filepath.Join(root, "validator.prom")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchLoop(ctx, root, 50*time.Millisecond, zap.NewNop(), func() { calls.Add(1) }, report, metrics)
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(report, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(metrics, []byte("# metrics"), 0o644))
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, os.WriteFile(filepath.Join(root, "popup.js"), []byte("x"), 0o644))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not stop")
	}
}

func TestIgnoredPath(t *testing.T) {
	root := filepath.FromSlash("/ext")
	assert.False(t, ignoredPath(root, root))
	assert.False(t, ignoredPath(root, filepath.FromSlash("/ext/popup.js")))
	assert.True(t, ignoredPath(root, filepath.FromSlash("/ext/.extension-validator-cache.json")))
	assert.True(t, ignoredPath(root, filepath.FromSlash("/ext/.git/index")))
	assert.True(t, ignoredPath(root, filepath.FromSlash("/ext/node_modules/x/y.js")))
}

func TestWatchLoopDebounces(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "src"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchLoop(ctx, root, 50*time.Millisecond, zap.NewNop(), func() { calls.Add(1) })
	}()

	// Give the watcher time to register directories.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.js"), []byte{byte('a' + i)}, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, ".cache.json"), []byte("{}"), 0o644))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not stop")
	}
}
