package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// ManifestFile is the extension manifest, relative to the extension root.
const ManifestFile = "manifest.json"

// Issue types reported by the manifest suite.
const (
	IssueManifestInvalidJSON       = "manifest-invalid-json"
	IssueManifestMissingField      = "manifest-missing-field"
	IssueManifestInvalidVersion    = "manifest-invalid-version"
	IssueManifestDeprecatedVersion = "manifest-deprecated-version"
	IssueCSPUnsafeEval             = "csp-unsafe-eval"
	IssueCSPRemoteScript           = "csp-remote-script"
	IssueBroadHostPermission       = "broad-host-permission"
	IssueSensitivePermission       = "sensitive-permission"
)

// ErrManifestUnavailable is returned by checks that need a parsed manifest
// when there is none.
var ErrManifestUnavailable = errors.New("manifest unavailable")

// RequiredFields must be present in every manifest.
var RequiredFields = []string{"manifest_version", "name", "version"}

var broadHostPatterns = map[string]bool{
	"<all_urls>":  true,
	"*://*/*":     true,
	"http://*/*":  true,
	"https://*/*": true,
}

var sensitivePermissions = map[string]bool{
	"debugger":           true,
	"nativeMessaging":    true,
	"proxy":              true,
	"webRequestBlocking": true,
	"cookies":            true,
	"history":            true,
	"management":         true,
	"privacy":            true,
	"downloads":          true,
	"clipboardRead":      true,
}

var (
	versionRegex   = regexp.MustCompile(`^\d+(\.\d+){0,3}$`)
	remoteSrcRegex = regexp.MustCompile(`(?i)(?:^|\s)(?:https?:)?//[^\s;']+|(?:^|\s)https?:(?:\s|;|$)`)
)

// Manifest is the parsed manifest.json.
type Manifest struct {
	Raw     map[string]json.RawMessage `json:"-"`
	Content string                     `json:"-"`

	ManifestVersion     int               `json:"manifest_version"`
	Name                string            `json:"name"`
	Version             string            `json:"version"`
	Description         string            `json:"description"`
	DefaultLocale       string            `json:"default_locale"`
	Icons               map[string]string `json:"icons"`
	Background          BackgroundInfo    `json:"background"`
	Action              *ActionInfo       `json:"action"`
	BrowserAction       *ActionInfo       `json:"browser_action"`
	PageAction          *ActionInfo       `json:"page_action"`
	OptionsPage         string            `json:"options_page"`
	OptionsUI           OptionsUIInfo     `json:"options_ui"`
	DevtoolsPage        string            `json:"devtools_page"`
	ContentScripts      []ContentScript   `json:"content_scripts"`
	Permissions         []string          `json:"permissions"`
	OptionalPermissions []string          `json:"optional_permissions"`
	HostPermissions     []string          `json:"host_permissions"`
	CSP                 json.RawMessage   `json:"content_security_policy"`
}

// BackgroundInfo is the background entry.
type BackgroundInfo struct {
	ServiceWorker string   `json:"service_worker"`
	Scripts       []string `json:"scripts"`
	Page          string   `json:"page"`
}

// ActionInfo is an action, browser_action or page_action entry.
type ActionInfo struct {
	DefaultPopup string          `json:"default_popup"`
	DefaultIcon  json.RawMessage `json:"default_icon"`
}

// OptionsUIInfo is the options_ui entry.
type OptionsUIInfo struct {
	Page string `json:"page"`
}

// ContentScript is one content_scripts entry.
type ContentScript struct {
	Matches []string `json:"matches"`
	JS      []string `json:"js"`
	CSS     []string `json:"css"`
}

// ParseManifest decodes manifest content.
func ParseManifest(content []byte) (*Manifest, error) {
	m := &Manifest{Content: string(content)}
	if err := json.Unmarshal(content, &m.Raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Has reports whether key is present at the top level.
func (m *Manifest) Has(key string) bool {
	_, ok := m.Raw[key]
	return ok
}

// Line returns the first line mentioning key, or 1.
func (m *Manifest) Line(key string) int {
	idx := strings.Index(m.Content, `"`+key+`"`)
	if idx < 0 {
		return 1
	}
	return strings.Count(m.Content[:idx], "\n") + 1
}

// BackgroundScripts returns the scripts that run in the background role.
func (m *Manifest) BackgroundScripts() []string {
	var out []string
	if m.Background.ServiceWorker != "" {
		out = append(out, cleanRef(m.Background.ServiceWorker))
	}
	for _, s := range m.Background.Scripts {
		out = append(out, cleanRef(s))
	}
	return out
}

// Actions returns the declared action entries.
func (m *Manifest) Actions() []*ActionInfo {
	var out []*ActionInfo
	for _, a := range []*ActionInfo{m.Action, m.BrowserAction, m.PageAction} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Pages returns the extension pages the manifest declares.
func (m *Manifest) Pages() []string {
	var out []string
	add := func(p string) {
		if p != "" {
			out = append(out, cleanRef(p))
		}
	}
	add(m.Background.Page)
	for _, a := range m.Actions() {
		add(a.DefaultPopup)
	}
	add(m.OptionsPage)
	add(m.OptionsUI.Page)
	add(m.DevtoolsPage)
	return out
}

// ExtensionPagesCSP returns the policy that applies to extension pages.
func (m *Manifest) ExtensionPagesCSP() string {
	if len(m.CSP) == 0 {
		return ""
	}
	var policy string
	if err := json.Unmarshal(m.CSP, &policy); err == nil {
		return policy
	}
	var policies struct {
		ExtensionPages string `json:"extension_pages"`
	}
	if err := json.Unmarshal(m.CSP, &policies); err == nil {
		return policies.ExtensionPages
	}
	return ""
}

func (s *Set) loadManifest() (*Manifest, error) {
	s.manifestOnce.Do(func() {
		path := filepath.Join(s.scanner.Root(), ManifestFile)
		content, err := os.ReadFile(path)
		if err != nil {
			s.manifestErr = err
			return
		}
		s.manifest, s.manifestErr = ParseManifest(content)
	})
	return s.manifest, s.manifestErr
}

func (s *Set) requireManifest() (*Manifest, error) {
	m, err := s.loadManifest()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestUnavailable, err)
	}
	return m, nil
}

func manifestIssue(typ string, line int, msg, suggestion string) model.Issue {
	return model.Issue{
		Type:       typ,
		File:       ManifestFile,
		Line:       line,
		Category:   model.CategoryManifest,
		Message:    msg,
		Suggestion: suggestion,
	}
}

// ManifestSuite validates manifest.json.
func (s *Set) ManifestSuite() *suite.Suite {
	st := suite.New("manifest", "Manifest validation").
		WithCategory(model.CategoryManifest).
		Test("valid-json", s.checkManifestJSON).
		Test("required-fields", s.checkRequiredFields).
		Test("manifest-version", s.checkManifestVersion).
		Test("content-security-policy", s.checkCSP).
		Test("permissions", s.checkPermissions)
	s.addRuleCases(st, model.CategoryManifest)
	return st
}

func (s *Set) checkManifestJSON(ctx context.Context, tc *suite.TestContext) error {
	_, err := s.loadManifest()
	if err == nil {
		return nil
	}
	line := 1
	msg := fmt.Sprintf("manifest.json could not be parsed: %v", err)
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, os.ErrNotExist):
		msg = "manifest.json not found in the extension root"
	case errors.As(err, &syntaxErr):
		content, _ := os.ReadFile(filepath.Join(s.scanner.Root(), ManifestFile))
		if off := int(syntaxErr.Offset); off <= len(content) {
			line = strings.Count(string(content[:off]), "\n") + 1
		}
	}
	return s.fail("valid-json", []model.Issue{
		manifestIssue(IssueManifestInvalidJSON, line, msg, "Fix the JSON syntax of manifest.json"),
	})
}

func (s *Set) checkRequiredFields(ctx context.Context, tc *suite.TestContext) error {
	m, err := s.requireManifest()
	if err != nil {
		return err
	}
	var issues []model.Issue
	for _, field := range RequiredFields {
		if !m.Has(field) {
			issues = append(issues, manifestIssue(IssueManifestMissingField, 1,
				fmt.Sprintf("Required field %q is missing", field),
				fmt.Sprintf("Add %q to manifest.json", field)))
		}
	}
	return s.fail("required-fields", issues)
}

func (s *Set) checkManifestVersion(ctx context.Context, tc *suite.TestContext) error {
	m, err := s.requireManifest()
	if err != nil {
		return err
	}
	var issues []model.Issue
	switch m.ManifestVersion {
	case 3:
	case 2:
		issues = append(issues, manifestIssue(IssueManifestDeprecatedVersion, m.Line("manifest_version"),
			"Manifest V2 is deprecated", "Migrate to manifest_version 3"))
	default:
		if m.Has("manifest_version") {
			issues = append(issues, manifestIssue(IssueManifestInvalidVersion, m.Line("manifest_version"),
				fmt.Sprintf("Unsupported manifest_version %d", m.ManifestVersion), "Use manifest_version 3"))
		}
	}
	if m.Has("version") && !validVersion(m.Version) {
		issues = append(issues, manifestIssue(IssueManifestInvalidVersion, m.Line("version"),
			fmt.Sprintf("Version %q must be one to four dot-separated integers between 0 and 65535", m.Version),
			`Use a version such as "1.0.0"`))
	}
	return s.fail("manifest-version", issues)
}

func validVersion(v string) bool {
	if !versionRegex.MatchString(v) {
		return false
	}
	for _, part := range strings.Split(v, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n > 65535 || (len(part) > 1 && part[0] == '0') {
			return false
		}
	}
	return true
}

func (s *Set) checkCSP(ctx context.Context, tc *suite.TestContext) error {
	m, err := s.requireManifest()
	if err != nil {
		return err
	}
	policy := m.ExtensionPagesCSP()
	if policy == "" {
		return nil
	}
	line := m.Line("content_security_policy")
	var issues []model.Issue
	for _, directive := range strings.Split(policy, ";") {
		fields := strings.Fields(directive)
		if len(fields) == 0 {
			continue
		}
		name := strings.ToLower(fields[0])
		if name != "script-src" && name != "default-src" && name != "object-src" {
			continue
		}
		sources := strings.Join(fields[1:], " ")
		if strings.Contains(sources, "'unsafe-eval'") {
			issues = append(issues, manifestIssue(IssueCSPUnsafeEval, line,
				fmt.Sprintf("%s allows 'unsafe-eval'", name),
				"Remove 'unsafe-eval' from the content security policy"))
		}
		if name != "object-src" && remoteSrcRegex.MatchString(" "+sources) {
			issues = append(issues, manifestIssue(IssueCSPRemoteScript, line,
				fmt.Sprintf("%s allows remotely hosted code", name),
				"Bundle scripts with the extension instead of loading them remotely"))
		}
	}
	return s.fail("content-security-policy", issues)
}

func (s *Set) checkPermissions(ctx context.Context, tc *suite.TestContext) error {
	m, err := s.requireManifest()
	if err != nil {
		return err
	}
	var issues []model.Issue
	hosts := append(append([]string(nil), m.HostPermissions...), m.Permissions...)
	seen := make(map[string]bool)
	for _, h := range hosts {
		if broadHostPatterns[h] && !seen[h] {
			seen[h] = true
			issues = append(issues, manifestIssue(IssueBroadHostPermission, m.Line(h),
				fmt.Sprintf("Host permission %q grants access to every site", h),
				"Request only the hosts the extension needs, or use activeTab"))
		}
	}
	var sensitive []string
	for _, p := range m.Permissions {
		if sensitivePermissions[p] {
			sensitive = append(sensitive, p)
		}
	}
	sort.Strings(sensitive)
	for _, p := range sensitive {
		issues = append(issues, manifestIssue(IssueSensitivePermission, m.Line(p),
			fmt.Sprintf("Permission %q is sensitive and needs justification in review", p),
			"Move it to optional_permissions if it is not always required"))
	}
	return s.fail("permissions", issues)
}

func cleanRef(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return filepath.ToSlash(filepath.Clean(p))
}
