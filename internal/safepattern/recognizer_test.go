package safepattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSinkPatterns(t *testing.T) {
	r := Default()
	tests := []struct {
		value string
		safe  bool
	}{
		{`''`, true},
		{`""`, true},
		{"``", true},
		{`'<b>Loading</b>'`, true},
		{`"plain text"`, true},
		{"`static markup`", true},
		{`DOMPurify.sanitize(html)`, true},
		{`window.DOMPurify.sanitize(html)`, true},
		{`sanitizeHtml(input)`, true},
		{`utils.escapeHTML(name)`, true},
		{`chrome.i18n.getMessage("title")`, true},
		{`0`, true},
		{`userInput`, false},
		{"`<p>${name}</p>`", false},
		{`'<p>' + name + '</p>'`, false},
		{`response.text`, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.safe, r.IsSafe(KindSink, tt.value))
		})
	}
}

func TestMessageHandlerWindow(t *testing.T) {
	r := Default()
	window := `chrome.runtime.onMessage.addListener((msg, sender) => {
  if (sender.id !== chrome.runtime.id) return;
  handle(msg);
});`
	assert.True(t, r.IsSafeUsage(KindMessage, "", window))
	assert.False(t, r.IsSafeUsage(KindMessage, "", `chrome.runtime.onMessage.addListener((m) => handle(m));`))

	// Window patterns never apply to the bare value.
	assert.False(t, r.IsSafe(KindMessage, "sender.id === chrome.runtime.id"))
}

func TestURLAndStorageKinds(t *testing.T) {
	r := Default()
	assert.True(t, r.IsSafe(KindURL, `"http://localhost:8080/api"`))
	assert.True(t, r.IsSafe(KindURL, `'http://www.w3.org/2000/svg`))
	assert.False(t, r.IsSafe(KindURL, `"http://tracker.example.com`))

	assert.True(t, r.IsSafe(KindStorage, `'theme', 'dark'`))
	assert.False(t, r.IsSafe(KindStorage, `'authToken', token`))
}

func TestUnknownAndEmptyKinds(t *testing.T) {
	r := Default()
	assert.False(t, r.IsSafe("", `''`))
	assert.False(t, r.IsSafe("custom", `''`))
}

func TestAddExtendsOpenSet(t *testing.T) {
	r := New()
	assert.False(t, r.IsSafe("jquery-html", `$.escape(x)`))

	require.NoError(t, r.Add("jquery-html", "jquery-escape", `^\s*\$\.escape\(`, ScopeValue))
	assert.True(t, r.IsSafe("jquery-html", `$.escape(x)`))
	assert.Equal(t, "jquery-escape", r.Match("jquery-html", `$.escape(x)`, ""))
	assert.Len(t, r.Patterns("jquery-html"), 1)

	assert.Error(t, r.Add(KindSink, "broken", `(`, ScopeValue))
}

func TestDefaultIsIndependentCopy(t *testing.T) {
	a := Default()
	require.NoError(t, a.Add(KindSink, "extra", `^x$`, ScopeValue))
	b := Default()
	assert.True(t, a.IsSafe(KindSink, "x"))
	assert.False(t, b.IsSafe(KindSink, "x"))
}

func TestWindowSize(t *testing.T) {
	r := New()
	assert.Equal(t, DefaultWindow, r.Window())
	r.SetWindow(0)
	assert.Equal(t, DefaultWindow, r.Window())
	r.SetWindow(80)
	assert.Equal(t, 80, r.Window())
}
