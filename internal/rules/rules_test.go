package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/safepattern"
)

func TestBuiltinRulesCompile(t *testing.T) {
	e := NewEngine(nil)
	all := e.Rules()
	require.Len(t, all, len(Builtin()))
	for _, r := range all {
		assert.NotNil(t, r.Regex, r.Name)
		assert.NotEmpty(t, r.Message, r.Name)
		assert.NotEmpty(t, r.Category, r.Name)
	}
}

func TestBuiltinPatterns(t *testing.T) {
	tests := []struct {
		rule  string
		code  string
		match bool
	}{
		{UnsafeInnerHTML, "el.innerHTML = x;", true},
		{UnsafeInnerHTML, "el.innerHTML += x;", true},
		{UnsafeInnerHTML, "const h = el.innerHTML;", false},
		{EvalUsage, "eval(code)", true},
		{EvalUsage, "evaluate(code)", false},
		{StringTimer, "setTimeout('run()', 10)", true},
		{StringTimer, "setTimeout(run, 10)", false},
		{FunctionConstructor, "new Function('a', 'return a')", true},
		{InsecureHTTPURL, `fetch("http://api.example.com")`, true},
		{InsecureHTTPURL, `fetch("https://api.example.com")`, false},
		{SyncXHR, `xhr.open("GET", url, false)`, true},
		{SyncXHR, `xhr.open("GET", url, true)`, false},
		{MessageHandlerNoAuth, "chrome.runtime.onMessage.addListener(fn)", true},
		{LocalStorageUsage, "localStorage.setItem('k', v)", true},
		{LocalStorageUsage, "localStorage['k'] = v", true},
	}

	e := NewEngine(nil)
	for _, tt := range tests {
		t.Run(tt.rule+"|"+tt.code, func(t *testing.T) {
			r, ok := e.Get(tt.rule)
			require.True(t, ok)
			assert.Equal(t, tt.match, r.Regex.MatchString(tt.code))
		})
	}
}

func TestDisabledRules(t *testing.T) {
	e := NewEngine([]string{ConsoleUsage})
	_, ok := e.Get(ConsoleUsage)
	assert.True(t, ok)
	for _, r := range e.Rules() {
		assert.NotEqual(t, ConsoleUsage, r.Name)
	}

	e.Disable(EvalUsage)
	assert.Len(t, e.Rules(), len(Builtin())-2)
}

func TestAppliesTo(t *testing.T) {
	e := NewEngine(nil)
	r, _ := e.Get(UnsafeInnerHTML)
	assert.True(t, r.AppliesTo("src/popup.js"))
	assert.True(t, r.AppliesTo("src/popup.TS"))
	assert.False(t, r.AppliesTo("popup.css"))

	css := e.ForFile("styles/main.css")
	require.Len(t, css, 1)
	assert.Equal(t, InsecureHTTPURL, css[0].Name)
}

func TestAddReplacesInPlace(t *testing.T) {
	e := NewEngine(nil)
	require.NoError(t, e.Add(&Rule{Name: EvalUsage, Pattern: `\beval\(`, Severity: "LOW"}))

	r, _ := e.Get(EvalUsage)
	assert.Equal(t, SeverityLow, r.Severity)
	assert.Equal(t, EvalUsage, e.Rules()[4].Name)

	assert.Error(t, e.Add(&Rule{Name: "bad", Pattern: `(`}))
	assert.Error(t, e.Add(&Rule{Name: "bad", Pattern: `x`, Severity: "fatal"}))
	assert.Error(t, e.Add(&Rule{Pattern: `x`}))
}

func TestYAMLRuleLoader(t *testing.T) {
	dir := t.TempDir()
	good := `
rules:
  - name: chrome-tabs-execute
    pattern: 'chrome\.tabs\.executeScript\('
    severity: high
    extensions: [js]
    kind: eval
  - name: jquery-html
    pattern: '\.html\('
    enabled: false
safePatterns:
  - kind: sink
    name: my-escape
    pattern: '^\s*myEscape\('
disable:
  - console-usage
`
	bad := `
rules:
  - name: broken
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(good), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(bad), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"),
		[]byte(`{"rules":[{"name":"json-rule","pattern":"foo\\(","severity":"info"}]}`), 0o644))

	e := NewEngine(nil)
	rec := safepattern.Default()
	n, err := NewYAMLRuleLoader(dir, nil).Load(e, rec)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	r, ok := e.Get("chrome-tabs-execute")
	require.True(t, ok)
	assert.Equal(t, []string{".js"}, r.Extensions)
	assert.Equal(t, "security", r.Category)
	assert.Equal(t, safepattern.KindEval, r.Kind)

	names := map[string]bool{}
	for _, r := range e.Rules() {
		names[r.Name] = true
	}
	assert.True(t, names["json-rule"])
	assert.False(t, names["jquery-html"])
	assert.False(t, names[ConsoleUsage])
	assert.False(t, names["broken"])

	assert.True(t, rec.IsSafe(safepattern.KindSink, "myEscape(x)"))
}

func TestYAMLRuleCategories(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"structure.yaml": "rules:\n  - name: legacy-path\n    pattern: 'chrome-extension://'\n    category: Structure\n",
		"unknown.yaml":   "rules:\n  - name: styled\n    pattern: 'x'\n    category: styling\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	e := NewEngine(nil)
	n, err := NewYAMLRuleLoader(dir, nil).Load(e, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r, ok := e.Get("legacy-path")
	require.True(t, ok)
	assert.Equal(t, "structure", r.Category)
	_, ok = e.Get("styled")
	assert.False(t, ok)
}

func TestYAMLRuleLoaderMissingPath(t *testing.T) {
	_, err := NewYAMLRuleLoader(filepath.Join(t.TempDir(), "nope"), nil).Load(NewEngine(nil), nil)
	assert.Error(t, err)
}
