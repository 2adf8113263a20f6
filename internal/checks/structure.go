package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/incremental"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// Issue types reported by the structure suite.
const (
	IssueMissingReferencedFile = "missing-referenced-file"
	IssueMissingIcon           = "missing-icon"
)

// RecommendedIconSizes are the icon sizes the store listing expects.
var RecommendedIconSizes = []string{"16", "48", "128"}

// StructureSuite checks that the files the extension references exist.
func (s *Set) StructureSuite() *suite.Suite {
	st := suite.New("structure", "File structure checks").
		WithCategory(model.CategoryStructure).
		Test("referenced-files", s.checkReferencedFiles).
		Test("page-resources", s.checkPageResources).
		Test("icons", s.checkIcons)
	s.addRuleCases(st, model.CategoryStructure)
	return st
}

// manifestRefs returns every local file manifest.json points at, mapped to
// the manifest key that references it.
func manifestRefs(m *Manifest) map[string]string {
	refs := make(map[string]string)
	add := func(key, p string) {
		if p == "" || strings.Contains(p, "://") {
			return
		}
		p = cleanRef(p)
		if _, ok := refs[p]; !ok {
			refs[p] = key
		}
	}

	for _, p := range m.BackgroundScripts() {
		add("background", p)
	}
	for _, p := range m.Pages() {
		add("pages", p)
	}
	for _, icon := range m.Icons {
		add("icons", icon)
	}
	for _, a := range m.Actions() {
		for _, icon := range defaultIcons(a.DefaultIcon) {
			add("default_icon", icon)
		}
	}
	for _, cs := range m.ContentScripts {
		for _, js := range cs.JS {
			add("content_scripts", js)
		}
		for _, css := range cs.CSS {
			add("content_scripts", css)
		}
	}
	return refs
}

// defaultIcons accepts both the string and the size-map forms.
func defaultIcons(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	var bySize map[string]string
	if err := json.Unmarshal(raw, &bySize); err != nil {
		return nil
	}
	out := make([]string, 0, len(bySize))
	for _, p := range bySize {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Set) exists(rel string) bool {
	info, err := os.Stat(filepath.Join(s.scanner.Root(), filepath.FromSlash(rel)))
	return err == nil && !info.IsDir()
}

func (s *Set) checkReferencedFiles(ctx context.Context, tc *suite.TestContext) error {
	m, err := s.requireManifest()
	if err != nil {
		return err
	}
	refs := manifestRefs(m)
	paths := make([]string, 0, len(refs))
	for p := range refs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var issues []model.Issue
	for _, p := range paths {
		if s.exists(p) {
			continue
		}
		issues = append(issues, model.Issue{
			Type:       IssueMissingReferencedFile,
			File:       ManifestFile,
			Line:       m.Line(p),
			Category:   model.CategoryStructure,
			Message:    fmt.Sprintf("%s references %q, which does not exist", refs[p], p),
			Suggestion: "Add the file or fix the path in manifest.json",
		})
	}
	return s.fail("referenced-files", issues)
}

// checkPageResources verifies the local scripts and stylesheets of every
// HTML page in the tree.
func (s *Set) checkPageResources(ctx context.Context, tc *suite.TestContext) error {
	files, err := s.scanner.Files(ctx)
	if err != nil {
		return err
	}
	var issues []model.Issue
	for _, rel := range files {
		ext := strings.ToLower(path.Ext(rel))
		if ext != ".html" && ext != ".htm" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.scanner.Root(), filepath.FromSlash(rel)))
		if err != nil {
			tc.Logger.Warn("Page unreadable", zap.String("file", rel), zap.Error(err))
			continue
		}
		for _, ref := range incremental.ExtractReferences(rel, content) {
			if s.exists(ref) {
				continue
			}
			issues = append(issues, model.Issue{
				Type:       IssueMissingReferencedFile,
				File:       rel,
				Line:       lineOf(string(content), path.Base(ref)),
				Category:   model.CategoryStructure,
				Message:    fmt.Sprintf("Page references %q, which does not exist", ref),
				Suggestion: "Add the file or fix the path",
			})
		}
	}
	return s.fail("page-resources", issues)
}

func (s *Set) checkIcons(ctx context.Context, tc *suite.TestContext) error {
	m, err := s.requireManifest()
	if err != nil {
		return err
	}
	var issues []model.Issue
	for _, size := range RecommendedIconSizes {
		if _, ok := m.Icons[size]; ok {
			continue
		}
		issues = append(issues, model.Issue{
			Type:       IssueMissingIcon,
			File:       ManifestFile,
			Line:       m.Line("icons"),
			Category:   model.CategoryStructure,
			Message:    fmt.Sprintf("No %sx%s icon declared", size, size),
			Suggestion: fmt.Sprintf("Add a %s px PNG icon under \"icons\"", size),
		})
	}
	return s.fail("icons", issues)
}

func lineOf(content, needle string) int {
	idx := strings.Index(content, needle)
	if idx < 0 {
		return 1
	}
	return strings.Count(content[:idx], "\n") + 1
}
