package incremental

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/cache"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/pathmatch"
)

// Mode is the kind of run the tracker recommends.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeNone        Mode = "none"
)

// Options controls change detection for one DetermineTargets call.
type Options struct {
	// Force requests a full run regardless of the cache.
	Force bool
	// UseGit unions the working tree diff against GitBase into the change
	// set.
	UseGit  bool
	GitBase string
	// Since, when set, also treats files modified after it as changed.
	Since time.Time
}

// Targets is the tracker's decision.
type Targets struct {
	Mode    Mode     `json:"mode"`
	Files   []string `json:"files"`
	Suites  []string `json:"suites"`
	Reason  string   `json:"reason"`
	Deleted []string `json:"deleted,omitempty"`
}

// FileLister lists the root-relative, slash-separated files of the tree.
type FileLister func(ctx context.Context) ([]string, error)

// Tracker decides which files and suites a run must cover, from content
// hashes persisted by the previous run.
type Tracker struct {
	root    string
	store   *cache.Store
	logger  *zap.Logger
	list    FileLister
	runner  CommandRunner
	workers int

	record  *cache.Record
	current map[string]string
	files   []string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithFileLister replaces the default directory walk.
func WithFileLister(fn FileLister) Option {
	return func(t *Tracker) { t.list = fn }
}

// WithCommandRunner sets the runner used for git.
func WithCommandRunner(r CommandRunner) Option {
	return func(t *Tracker) { t.runner = r }
}

// NewTracker loads the previous record from store. A missing or corrupt
// record means the next decision is a full run.
func NewTracker(root string, store *cache.Store, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		root:    root,
		store:   store,
		logger:  logger,
		runner:  OSRunner{},
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.list == nil {
		t.list = walkFiles(root)
	}

	record, err := store.Load()
	if err == nil {
		t.record = record
	} else if !errors.Is(err, cache.ErrNoRecord) {
		logger.Warn("Failed to load cache record", zap.Error(err))
	}
	return t
}

// HasRecord reports whether a previous run was recorded.
func (t *Tracker) HasRecord() bool {
	return t.record != nil
}

// Record returns the previous run's record, or nil.
func (t *Tracker) Record() *cache.Record {
	return t.record
}

// DetermineTargets compares the tree with the previous record.
func (t *Tracker) DetermineTargets(ctx context.Context, opts Options) (*Targets, error) {
	files, err := t.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	sort.Strings(files)

	current, err := hashTree(ctx, t.root, files, t.workers, t.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to hash files: %w", err)
	}
	t.current = current
	t.files = files

	if opts.Force {
		return t.full(files, "full run requested"), nil
	}
	if t.record == nil {
		return t.full(files, "no previous cache record"), nil
	}

	changed := make(map[string]bool)
	var deleted []string
	for rel, sum := range current {
		if t.record.FileHashes[rel] != sum {
			changed[rel] = true
		}
	}
	for rel := range t.record.FileHashes {
		if _, ok := current[rel]; !ok {
			changed[rel] = true
			deleted = append(deleted, rel)
		}
	}

	if opts.UseGit {
		gitChanged, err := GitChanges(ctx, t.runner, t.root, opts.GitBase)
		if err != nil {
			t.logger.Warn("Git change detection failed, using content hashes only", zap.Error(err))
		} else {
			for _, rel := range gitChanged {
				if _, tracked := current[rel]; tracked || t.record.FileHashes[rel] != "" {
					changed[rel] = true
				}
			}
		}
	}

	if !opts.Since.IsZero() {
		for _, rel := range files {
			info, err := os.Stat(filepath.Join(t.root, filepath.FromSlash(rel)))
			if err == nil && info.ModTime().After(opts.Since) {
				changed[rel] = true
			}
		}
	}

	if changed[ManifestFile] {
		return t.full(files, fmt.Sprintf("critical file changed: %s", ManifestFile)), nil
	}
	if len(changed) == 0 {
		return &Targets{Mode: ModeNone, Files: []string{}, Suites: []string{}, Reason: "no changes since last run"}, nil
	}

	suites := make(map[string]bool)
	targets := make(map[string]bool)
	for rel := range changed {
		for _, s := range SuitesFor(rel) {
			suites[s] = true
		}
		if _, exists := current[rel]; exists {
			targets[rel] = true
		}
		for _, page := range t.record.Dependents(rel) {
			if _, exists := current[page]; !exists {
				continue
			}
			targets[page] = true
			for _, s := range SuitesFor(page) {
				suites[s] = true
			}
		}
	}

	sort.Strings(deleted)
	result := &Targets{
		Mode:    ModeIncremental,
		Files:   sortedKeys(targets),
		Suites:  orderSuites(suites),
		Reason:  fmt.Sprintf("%d file(s) changed", len(changed)),
		Deleted: deleted,
	}
	t.logger.Debug("Incremental targets determined",
		zap.Int("changed", len(changed)),
		zap.Strings("suites", result.Suites))
	return result, nil
}

func (t *Tracker) full(files []string, reason string) *Targets {
	t.logger.Debug("Full run required", zap.String("reason", reason))
	return &Targets{
		Mode:   ModeFull,
		Files:  append([]string(nil), files...),
		Suites: append([]string(nil), AllSuites...),
		Reason: reason,
	}
}

// Commit persists the hashes seen by the last DetermineTargets call
// together with the run summary, so the next decision diffs against this
// run.
func (t *Tracker) Commit(ctx context.Context, results cache.Results) error {
	if t.current == nil {
		files, err := t.list(ctx)
		if err != nil {
			return fmt.Errorf("failed to list files: %w", err)
		}
		current, err := hashTree(ctx, t.root, files, t.workers, t.logger)
		if err != nil {
			return fmt.Errorf("failed to hash files: %w", err)
		}
		t.current, t.files = current, files
	}

	record := cache.NewRecord()
	record.LastRun = time.Now()
	record.FileHashes = t.current
	record.Dependencies = buildDependencies(t.root, t.files)
	record.TestResults = results
	if err := t.store.Save(record); err != nil {
		return err
	}
	t.record = record
	t.current = nil
	return nil
}

// Clear deletes the persisted record.
func (t *Tracker) Clear() error {
	if err := t.store.Clear(); err != nil {
		return err
	}
	t.record = nil
	t.current = nil
	return nil
}

// walkFiles lists files under root, skipping what the default matcher
// excludes.
func walkFiles(root string) FileLister {
	return func(ctx context.Context) ([]string, error) {
		matcher := pathmatch.New(pathmatch.Options{BaseDir: root})
		var files []string
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if matcher.ShouldExcludeDirectory(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || matcher.ShouldExclude(rel) {
				return nil
			}
			files = append(files, rel)
			return nil
		})
		return files, err
	}
}
