package pathmatch

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// DefaultExcludes are always active. They keep the validator's own
// artifacts and dependency trees out of every scan and cannot be removed
// with RemovePattern.
var DefaultExcludes = []string{
	"node_modules/**",
	"**/node_modules/**",
	".git/**",
	"**/.git/**",
	"**/.extension-validator/**",
	"**/.extension-validator-cache.json",
	"**/extension-validator-report*.{json,html,md}",
}

// infrastructure directories are rejected before any glob is evaluated.
var infraDirRegex = regexp.MustCompile(`(^|/)(node_modules|\.git|\.svn|\.hg)(/|$)`)

// SelfFunc reports whether an absolute path belongs to the validator's own
// installation rather than to the extension being scanned.
type SelfFunc func(absPath string) bool

// Options configures a Matcher.
type Options struct {
	BaseDir         string
	Exclude         []string
	Include         []string
	Directories     []string
	Files           []string
	ByContext       map[string][]string
	Context         string
	IncludeDotfiles bool
	IsSelf          SelfFunc
}

// Matcher decides whether a path participates in scanning.
type Matcher struct {
	mu        sync.RWMutex
	baseDir   string
	user      []string
	dirs      []string
	files     []string
	include   []string
	byContext map[string][]string
	context   string
	dot       bool
	isSelf    SelfFunc

	cacheMu  sync.Mutex
	compiled map[string]*regexp.Regexp
}

// New builds a Matcher from options.
func New(opts Options) *Matcher {
	m := &Matcher{
		user:      append([]string(nil), opts.Exclude...),
		include:   append([]string(nil), opts.Include...),
		byContext: make(map[string][]string),
		context:   opts.Context,
		dot:       opts.IncludeDotfiles,
		isSelf:    opts.IsSelf,
		compiled:  make(map[string]*regexp.Regexp),
	}
	if opts.BaseDir != "" {
		if abs, err := filepath.Abs(opts.BaseDir); err == nil {
			m.baseDir = abs
		}
	}
	for _, d := range opts.Directories {
		d = strings.Trim(filepath.ToSlash(d), "/")
		if d == "" {
			continue
		}
		m.dirs = append(m.dirs, d+"/**")
		if !strings.Contains(d, "/") {
			m.dirs = append(m.dirs, "**/"+d+"/**")
		}
	}
	for _, f := range opts.Files {
		f = strings.TrimPrefix(filepath.ToSlash(f), "./")
		if f == "" {
			continue
		}
		if strings.Contains(f, "/") {
			m.files = append(m.files, f)
		} else {
			m.files = append(m.files, "**/"+f)
		}
	}
	for ctx, patterns := range opts.ByContext {
		m.byContext[ctx] = append([]string(nil), patterns...)
	}
	return m
}

// ShouldExclude reports whether a file path is excluded from scanning.
// Paths may be absolute or relative to the base directory.
func (m *Matcher) ShouldExclude(path string) bool {
	rel, abs := m.resolve(path)
	if infraDirRegex.MatchString(rel) {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.isSelf != nil && abs != "" && m.isSelf(abs) {
		return true
	}
	if !m.dot && hasDotSegment(rel) {
		return true
	}
	if m.matchesAny(rel, m.excludePatterns()) {
		return true
	}
	if len(m.include) > 0 && !m.matchesAny(rel, m.include) {
		return true
	}
	return false
}

// ShouldExcludeDirectory reports whether a directory can be pruned from a
// walk. Include patterns are not applied to directories because a file
// deeper in the tree may still match them.
func (m *Matcher) ShouldExcludeDirectory(path string) bool {
	rel, abs := m.resolve(path)
	if rel == "" || rel == "." {
		return false
	}
	if infraDirRegex.MatchString(rel) {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.isSelf != nil && abs != "" && m.isSelf(abs) {
		return true
	}
	if !m.dot && hasDotSegment(rel) {
		return true
	}
	return m.matchesAny(rel, m.excludePatterns())
}

// FilterFiles returns the paths that are not excluded, preserving order.
func (m *Matcher) FilterFiles(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !m.ShouldExclude(p) {
			out = append(out, p)
		}
	}
	return out
}

// AddPattern appends a user exclude pattern.
func (m *Matcher) AddPattern(pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.user {
		if p == pattern {
			return
		}
	}
	m.user = append(m.user, pattern)
}

// RemovePattern removes a user exclude pattern. Default patterns are never
// removed; the return value reports whether anything changed.
func (m *Matcher) RemovePattern(pattern string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.user {
		if p == pattern {
			m.user = append(m.user[:i], m.user[i+1:]...)
			return true
		}
	}
	return false
}

// SetContext switches the active context (for example "development").
func (m *Matcher) SetContext(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.context = name
}

// Patterns returns every exclude pattern currently in effect.
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.excludePatterns()
}

// BaseDir returns the absolute base directory, if one was configured.
func (m *Matcher) BaseDir() string {
	return m.baseDir
}

func (m *Matcher) excludePatterns() []string {
	all := make([]string, 0, len(DefaultExcludes)+len(m.user)+len(m.dirs)+len(m.files))
	all = append(all, DefaultExcludes...)
	all = append(all, m.user...)
	all = append(all, m.dirs...)
	all = append(all, m.files...)
	if m.context != "" {
		all = append(all, m.byContext[m.context]...)
	}
	return all
}

func (m *Matcher) matchesAny(rel string, patterns []string) bool {
	for _, p := range patterns {
		re := m.compile(p)
		if re != nil && re.MatchString(rel) {
			return true
		}
	}
	return false
}

// compile caches translated patterns. Called with the read lock held, so the
// cache has its own mutex.
func (m *Matcher) compile(pattern string) *regexp.Regexp {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if re, ok := m.compiled[pattern]; ok {
		return re
	}
	re := CompileGlob(pattern, GlobOptions{Dot: m.dot})
	m.compiled[pattern] = re
	return re
}

// resolve returns the slash-separated path relative to the base directory
// and, when it can be determined, the absolute path.
func (m *Matcher) resolve(path string) (rel string, abs string) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) {
		abs = clean
		if m.baseDir != "" {
			if r, err := filepath.Rel(m.baseDir, clean); err == nil && !strings.HasPrefix(r, "..") {
				return filepath.ToSlash(r), abs
			}
		}
		return strings.TrimPrefix(filepath.ToSlash(clean), "/"), abs
	}
	if m.baseDir != "" {
		abs = filepath.Join(m.baseDir, clean)
	}
	return strings.TrimPrefix(filepath.ToSlash(clean), "./"), abs
}

func hasDotSegment(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if len(seg) > 1 && seg[0] == '.' && seg != ".." {
			return true
		}
	}
	return false
}

// SelfExclusion returns a SelfFunc that treats paths under installDir as the
// validator's own files. When the scan root is the install directory or lies
// inside it nothing is excluded, so validating a checkout of the tool works.
func SelfExclusion(installDir, scanRoot string) SelfFunc {
	install := resolveReal(installDir)
	root := resolveReal(scanRoot)
	if install == "" || install == root || strings.HasPrefix(root, install+string(filepath.Separator)) {
		return func(string) bool { return false }
	}
	return func(absPath string) bool {
		p := resolveReal(absPath)
		return p == install || strings.HasPrefix(p, install+string(filepath.Separator))
	}
}

func resolveReal(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}
