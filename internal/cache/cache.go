package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
)

// ErrNoRecord is returned by Load when there is no usable cache record:
// the file is missing, unreadable or corrupt.
var ErrNoRecord = errors.New("no cache record")

// RecordVersion is written into every record. Older records without a
// version are still accepted.
const RecordVersion = "1"

// Record is the persisted state of the incremental tracker.
type Record struct {
	Version      string              `json:"version,omitempty"`
	LastRun      time.Time           `json:"lastRun"`
	FileHashes   map[string]string   `json:"fileHashes"`
	TestResults  Results             `json:"testResults"`
	Dependencies map[string][]string `json:"dependencies"`
}

// Results is the summary of the run that produced the record.
type Results struct {
	RunID       string   `json:"runId,omitempty"`
	Total       int      `json:"total"`
	Passed      int      `json:"passed"`
	Failed      int      `json:"failed"`
	Skipped     int      `json:"skipped"`
	SuccessRate int      `json:"successRate"`
	ExitCode    int      `json:"exitCode"`
	Suites      []string `json:"suites,omitempty"`
	// Failures are the failing outcomes of the whole tree as of this
	// record, including ones carried over from checks a partial run did not
	// repeat.
	Failures []Failure `json:"failures,omitempty"`
}

// Failure is one failing case outcome. File is set when the case reported
// an issue in a specific file.
type Failure struct {
	Suite string         `json:"suite"`
	Case  string         `json:"case"`
	File  string         `json:"file,omitempty"`
	Level severity.Level `json:"level"`
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	r := &Record{Version: RecordVersion}
	r.normalize()
	return r
}

// normalize fills the maps a record read from an older or partial file may
// lack.
func (r *Record) normalize() {
	if r.FileHashes == nil {
		r.FileHashes = make(map[string]string)
	}
	if r.Dependencies == nil {
		r.Dependencies = make(map[string][]string)
	}
}

// Dependents returns the files that reference path, sorted.
func (r *Record) Dependents(path string) []string {
	var out []string
	for from, deps := range r.Dependencies {
		for _, d := range deps {
			if d == path {
				out = append(out, from)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Store reads and writes one cache record file.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore creates a store for the record at path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the record file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the record. A missing or corrupt file yields ErrNoRecord;
// corruption is logged but never fatal.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Cache file unreadable, ignoring", zap.String("path", s.path), zap.Error(err))
		}
		return nil, ErrNoRecord
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn("Cache file corrupt, ignoring", zap.String("path", s.path), zap.Error(err))
		return nil, ErrNoRecord
	}
	record.normalize()
	return &record, nil
}

// Save writes the record atomically.
func (s *Store) Save(r *Record) error {
	if r == nil {
		return fmt.Errorf("cannot save nil cache record")
	}
	r.normalize()
	if r.Version == "" {
		r.Version = RecordVersion
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write cache record: %w", err)
	}
	s.logger.Debug("Saved cache record",
		zap.String("path", s.path),
		zap.Int("files", len(r.FileHashes)))
	return nil
}

// Clear deletes the record file. Clearing a missing record is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	s.logger.Info("Cleared cache", zap.String("path", s.path))
	return nil
}

// Status describes the persisted record.
type Status struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size"`
	LastRun time.Time `json:"lastRun,omitempty"`
	Files   int       `json:"files"`
	Results Results   `json:"testResults"`
}

// Status reports on the record without failing on a corrupt file.
func (s *Store) Status() Status {
	st := Status{Path: s.path}
	info, err := os.Stat(s.path)
	if err != nil {
		return st
	}
	st.Exists = true
	st.Size = info.Size()
	if r, err := s.Load(); err == nil {
		st.LastRun = r.LastRun
		st.Files = len(r.FileHashes)
		st.Results = r.TestResults
	}
	return st
}

// writeFileAtomic writes to a temp file in the target directory, syncs it
// and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	return d.Sync()
}
