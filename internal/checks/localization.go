package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// LocalesDir holds one directory of messages per locale.
const LocalesDir = "_locales"

// Issue types reported by the localization suite.
const (
	IssueMissingDefaultLocale = "missing-default-locale"
	IssueMissingLocaleMessage = "missing-locale-message"
	IssueUnusedLocale         = "unused-locale"
)

var msgRefRegex = regexp.MustCompile(`__MSG_(\w+)__`)

// LocalizationSuite checks default_locale against _locales.
func (s *Set) LocalizationSuite() *suite.Suite {
	st := suite.New("localization", "Localization checks").
		WithCategory(model.CategoryLocalization).
		Test("default-locale", s.checkDefaultLocale).
		Test("manifest-messages", s.checkManifestMessages).
		Test("locale-consistency", s.checkLocaleConsistency)
	s.addRuleCases(st, model.CategoryLocalization)
	return st
}

// locales returns the locale directory names, sorted.
func (s *Set) locales() []string {
	entries, err := os.ReadDir(filepath.Join(s.scanner.Root(), LocalesDir))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func messagesPath(locale string) string {
	return LocalesDir + "/" + locale + "/messages.json"
}

// messages reads the message keys of a locale. A missing file yields nil
// without error.
func (s *Set) messages(locale string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(s.scanner.Root(), filepath.FromSlash(messagesPath(locale))))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var msgs map[string]json.RawMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("%s: %w", messagesPath(locale), err)
	}
	return msgs, nil
}

func localeIssue(typ, file string, line int, msg, suggestion string) model.Issue {
	return model.Issue{
		Type:       typ,
		File:       file,
		Line:       line,
		Category:   model.CategoryLocalization,
		Message:    msg,
		Suggestion: suggestion,
	}
}

func (s *Set) checkDefaultLocale(ctx context.Context, tc *suite.TestContext) error {
	m, err := s.requireManifest()
	if err != nil {
		return err
	}
	locales := s.locales()
	var issues []model.Issue

	switch {
	case len(locales) == 0 && m.DefaultLocale == "":
		return nil
	case len(locales) == 0:
		issues = append(issues, localeIssue(IssueMissingDefaultLocale, ManifestFile, m.Line("default_locale"),
			fmt.Sprintf("default_locale is %q but there is no %s directory", m.DefaultLocale, LocalesDir),
			"Add _locales/"+m.DefaultLocale+"/messages.json or remove default_locale"))
	case m.DefaultLocale == "":
		issues = append(issues, localeIssue(IssueMissingDefaultLocale, ManifestFile, 1,
			fmt.Sprintf("%s exists but default_locale is not set", LocalesDir),
			"Set default_locale in manifest.json"))
	default:
		msgs, err := s.messages(m.DefaultLocale)
		if err != nil {
			return err
		}
		if msgs == nil {
			issues = append(issues, localeIssue(IssueMissingDefaultLocale, ManifestFile, m.Line("default_locale"),
				fmt.Sprintf("%s does not exist", messagesPath(m.DefaultLocale)),
				"Add messages for the default locale"))
		}
	}
	return s.fail("default-locale", issues)
}

// checkManifestMessages verifies every __MSG_name__ placeholder in the
// manifest resolves in the default locale.
func (s *Set) checkManifestMessages(ctx context.Context, tc *suite.TestContext) error {
	m, err := s.requireManifest()
	if err != nil {
		return err
	}
	refs := msgRefRegex.FindAllStringSubmatch(m.Content, -1)
	if len(refs) == 0 || m.DefaultLocale == "" {
		return nil
	}
	msgs, err := s.messages(m.DefaultLocale)
	if err != nil {
		return err
	}
	if msgs == nil {
		// Reported by default-locale.
		return nil
	}

	var issues []model.Issue
	seen := make(map[string]bool)
	for _, ref := range refs {
		key := ref[1]
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := lookupMessage(msgs, key); ok {
			continue
		}
		issues = append(issues, localeIssue(IssueMissingLocaleMessage, ManifestFile, m.Line(ref[0]),
			fmt.Sprintf("Message %q is not defined for locale %q", key, m.DefaultLocale),
			fmt.Sprintf("Add %q to %s", key, messagesPath(m.DefaultLocale))))
	}
	return s.fail("manifest-messages", issues)
}

// checkLocaleConsistency compares every locale with the default one.
func (s *Set) checkLocaleConsistency(ctx context.Context, tc *suite.TestContext) error {
	m, err := s.requireManifest()
	if err != nil {
		return err
	}
	if m.DefaultLocale == "" {
		return nil
	}
	base, err := s.messages(m.DefaultLocale)
	if err != nil || base == nil {
		return err
	}
	keys := make([]string, 0, len(base))
	for k := range base {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var issues []model.Issue
	for _, locale := range s.locales() {
		if locale == m.DefaultLocale {
			continue
		}
		msgs, err := s.messages(locale)
		if err != nil {
			tc.Logger.Warn("Locale messages unreadable", zap.String("locale", locale), zap.Error(err))
			continue
		}
		if msgs == nil {
			issues = append(issues, localeIssue(IssueUnusedLocale, LocalesDir+"/"+locale, 1,
				fmt.Sprintf("Locale %q has no messages.json", locale),
				"Add messages.json or remove the directory"))
			continue
		}
		for _, k := range keys {
			if _, ok := lookupMessage(msgs, k); !ok {
				issues = append(issues, localeIssue(IssueMissingLocaleMessage, messagesPath(locale), 1,
					fmt.Sprintf("Message %q is missing for locale %q", k, locale),
					fmt.Sprintf("Translate %q or rely on the default locale", k)))
			}
		}
	}
	return s.fail("locale-consistency", issues)
}

// lookupMessage matches message names case-insensitively, as the browser
// does.
func lookupMessage(msgs map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if v, ok := msgs[key]; ok {
		return v, true
	}
	for k, v := range msgs {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
