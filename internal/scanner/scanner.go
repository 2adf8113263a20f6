package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/config"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/pathmatch"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/rules"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/safepattern"
)

// Reasons a file is not scanned.
var (
	ErrBinaryFile  = errors.New("binary file")
	ErrInvalidUTF8 = errors.New("file is not valid UTF-8")
	ErrTooLarge    = errors.New("file exceeds size limit")
)

// binarySniffLen is how much of a file is checked for NUL bytes.
const binarySniffLen = 8000

// Scanner walks an extension tree and runs the detector over each file.
type Scanner struct {
	config     *config.Config
	logger     *zap.Logger
	root       string
	self       pathmatch.SelfFunc
	matcher    *pathmatch.Matcher
	engine     *rules.Engine
	recognizer *safepattern.Recognizer
	detector   *Detector
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithSelfFunc sets the predicate that recognizes the validator's own files.
func WithSelfFunc(fn pathmatch.SelfFunc) Option {
	return func(s *Scanner) { s.self = fn }
}

// WithEngine replaces the rule engine built from configuration.
func WithEngine(e *rules.Engine) Option {
	return func(s *Scanner) { s.engine = e }
}

// WithRecognizer replaces the default safe-pattern recognizer.
func WithRecognizer(r *safepattern.Recognizer) Option {
	return func(s *Scanner) { s.recognizer = r }
}

// ScanResult represents the result of scanning a tree.
type ScanResult struct {
	Issues       []model.Issue   `json:"issues"`
	ScannedFiles []string        `json:"scannedFiles"`
	SkippedFiles []SkippedFile   `json:"skippedFiles,omitempty"`
	Statistics   *ScanStatistics `json:"statistics"`
	StartTime    time.Time       `json:"startTime"`
	EndTime      time.Time       `json:"endTime"`
	Duration     time.Duration   `json:"duration"`
}

// SkippedFile records a file that could not be scanned.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ScanStatistics contains scan statistics.
type ScanStatistics struct {
	FilesScanned int            `json:"filesScanned"`
	FilesSkipped int            `json:"filesSkipped"`
	LinesScanned int            `json:"linesScanned"`
	IssuesCount  int            `json:"issuesCount"`
	ByType       map[string]int `json:"byType"`
	Workers      int            `json:"workers"`
}

type fileOutcome struct {
	rel     string
	issues  []model.Issue
	lines   int
	skipped error
}

// New creates a scanner for cfg.ExtensionPath. Custom rules are loaded from
// cfg.Rules.CustomPath when set; a broken rule file is logged, not fatal.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scanner{
		config: cfg,
		logger: logger,
		root:   cfg.ExtensionPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	if abs, err := filepath.Abs(s.root); err == nil {
		s.root = abs
	}
	if s.recognizer == nil {
		s.recognizer = safepattern.Default()
	}
	if s.engine == nil {
		s.engine = rules.NewEngine(cfg.Rules.Disabled)
		if cfg.Rules.CustomPath != "" {
			loader := rules.NewYAMLRuleLoader(resolveAgainst(s.root, cfg.Rules.CustomPath), logger)
			if _, err := loader.Load(s.engine, s.recognizer); err != nil {
				logger.Warn("Custom rules not loaded", zap.Error(err))
			}
		}
	}

	s.matcher = pathmatch.New(pathmatch.Options{
		BaseDir:         s.root,
		Exclude:         cfg.Exclude,
		Include:         cfg.Include,
		Directories:     cfg.ExcludePatterns.Directories,
		Files:           cfg.ExcludePatterns.Files,
		ByContext:       cfg.ExcludePatterns.ByContext,
		Context:         matcherContext(cfg),
		IncludeDotfiles: cfg.IncludeDotfiles,
		IsSelf:          s.self,
	})
	s.detector = NewDetector(s.engine, s.recognizer,
		WithTokenizer(NewTokenizer(cfg.Scanner.Tokenizer)),
		WithStrictMode(cfg.StrictMode))
	return s
}

func matcherContext(cfg *config.Config) string {
	if cfg.Context != "" {
		return cfg.Context
	}
	return cfg.Environment
}

func resolveAgainst(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// Root returns the absolute extension directory.
func (s *Scanner) Root() string { return s.root }

// Matcher returns the path matcher gating the scan.
func (s *Scanner) Matcher() *pathmatch.Matcher { return s.matcher }

// Engine returns the rule engine.
func (s *Scanner) Engine() *rules.Engine { return s.engine }

// Detector returns the detector used for each file.
func (s *Scanner) Detector() *Detector { return s.detector }

// Files returns every non-excluded file under the root as a slash-separated
// path relative to the root, sorted.
func (s *Scanner) Files(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("Error accessing path", zap.String("path", path), zap.Error(err))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if path != s.root && s.matcher.ShouldExcludeDirectory(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if s.matcher.ShouldExclude(path) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile reads a root-relative file as text. Binary, non-UTF-8 and
// oversized files are rejected with ErrBinaryFile, ErrInvalidUTF8 or
// ErrTooLarge.
func (s *Scanner) ReadFile(rel string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	limit := s.config.Scanner.MaxFileSize
	if limit > 0 && info.Size() > limit {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return "", ErrBinaryFile
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

// Scan scans every included file under the root.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	files, err := s.Files(ctx)
	if err != nil {
		return nil, err
	}
	return s.ScanFiles(ctx, files)
}

// ScanFiles scans the given root-relative files with a worker pool. Only
// files some rule applies to are read. Files that cannot be read are
// recorded as skipped and logged; they never abort the scan.
func (s *Scanner) ScanFiles(ctx context.Context, files []string) (*ScanResult, error) {
	startTime := time.Now()
	files = s.applicable(files)
	workers := s.config.WorkerCount(len(files))

	s.logger.Debug("Starting scan",
		zap.String("path", s.root),
		zap.Int("files", len(files)),
		zap.Int("workers", workers))

	result := &ScanResult{
		Issues:       make([]model.Issue, 0),
		ScannedFiles: make([]string, 0, len(files)),
		StartTime:    startTime,
		Statistics: &ScanStatistics{
			ByType:  make(map[string]int),
			Workers: workers,
		},
	}

	jobs := make(chan string, workers*2)
	outcomes := make(chan fileOutcome, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, jobs, outcomes)
	}

	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go s.collect(&collectorWg, outcomes, result)

	var sendErr error
send:
	for _, f := range files {
		select {
		case jobs <- f:
		case <-ctx.Done():
			sendErr = ctx.Err()
			break send
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)
	collectorWg.Wait()

	sort.Strings(result.ScannedFiles)
	sort.Slice(result.SkippedFiles, func(i, j int) bool {
		return result.SkippedFiles[i].Path < result.SkippedFiles[j].Path
	})
	sort.SliceStable(result.Issues, func(i, j int) bool {
		a, b := result.Issues[i], result.Issues[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	result.Statistics.IssuesCount = len(result.Issues)

	s.logger.Debug("Scan completed",
		zap.Int("issues", len(result.Issues)),
		zap.Int("files_scanned", result.Statistics.FilesScanned),
		zap.Int("files_skipped", result.Statistics.FilesSkipped),
		zap.Duration("duration", result.Duration))

	if sendErr == nil {
		sendErr = ctx.Err()
	}
	return result, sendErr
}

// applicable drops files that no enabled rule applies to. They are never
// read, so binary assets such as icons are not reported as skipped.
func (s *Scanner) applicable(files []string) []string {
	out := make([]string, 0, len(files))
	for _, rel := range files {
		if len(s.engine.ForFile(rel)) > 0 {
			out = append(out, rel)
		}
	}
	return out
}

func (s *Scanner) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan string, outcomes chan<- fileOutcome) {
	defer wg.Done()
	for rel := range jobs {
		if ctx.Err() != nil {
			continue
		}
		outcomes <- s.processFile(rel)
	}
}

func (s *Scanner) processFile(rel string) fileOutcome {
	content, err := s.ReadFile(rel)
	if err != nil {
		s.logger.Warn("Skipping file",
			zap.String("file", rel),
			zap.Error(err))
		return fileOutcome{rel: rel, skipped: err}
	}
	return fileOutcome{
		rel:    rel,
		issues: s.detector.Detect(content, rel),
		lines:  strings.Count(content, "\n") + 1,
	}
}

func (s *Scanner) collect(wg *sync.WaitGroup, outcomes <-chan fileOutcome, result *ScanResult) {
	defer wg.Done()
	for o := range outcomes {
		if o.skipped != nil {
			result.SkippedFiles = append(result.SkippedFiles, SkippedFile{Path: o.rel, Reason: o.skipped.Error()})
			result.Statistics.FilesSkipped++
			continue
		}
		result.ScannedFiles = append(result.ScannedFiles, o.rel)
		result.Statistics.FilesScanned++
		result.Statistics.LinesScanned += o.lines
		for _, issue := range o.issues {
			result.Issues = append(result.Issues, issue)
			result.Statistics.ByType[issue.Type]++
		}
	}
}
