package incremental

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// CommandRunner runs external commands.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(file string) (string, error)
}

// OSRunner runs commands with os/exec.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s %v failed: %w: %s", name, args, err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s %v failed: %w", name, args, err)
	}
	return stdout.Bytes(), nil
}

func (OSRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// GitChanges returns the root-relative paths that differ from base in the
// working tree, including untracked files.
func GitChanges(ctx context.Context, runner CommandRunner, root, base string) ([]string, error) {
	if _, err := runner.LookPath("git"); err != nil {
		return nil, fmt.Errorf("git not available: %w", err)
	}
	if base == "" {
		base = "HEAD"
	}

	out, err := runner.Run(ctx, "git", "-C", root, "diff", "--relative", "--no-color", "--no-ext-diff", base)
	if err != nil {
		return nil, err
	}
	changed, err := ParseDiffPaths(out)
	if err != nil {
		return nil, err
	}

	untracked, err := runner.Run(ctx, "git", "-C", root, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(untracked), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			changed = append(changed, line)
		}
	}
	return dedupe(changed), nil
}

// ParseDiffPaths extracts the touched paths from a unified diff. Deleted
// files report their original name.
func ParseDiffPaths(patch []byte) ([]string, error) {
	if len(bytes.TrimSpace(patch)) == 0 {
		return nil, nil
	}
	fileDiffs, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}

	var paths []string
	for _, fd := range fileDiffs {
		name := stripDiffPrefix(fd.NewName)
		if name == "" {
			name = stripDiffPrefix(fd.OrigName)
		}
		if name != "" {
			paths = append(paths, name)
		}
	}
	return dedupe(paths), nil
}

func stripDiffPrefix(name string) string {
	if name == "/dev/null" {
		return ""
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
