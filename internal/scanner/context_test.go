package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosition(t *testing.T) {
	content := "ab\ncde\n\nf"
	ctx := LinearTokenizer{}.Analyze(content, "a.txt")

	tests := []struct {
		offset, line, column int
	}{
		{0, 1, 1},
		{1, 1, 2},
		{3, 2, 1},
		{5, 2, 3},
		{7, 3, 1},
		{8, 4, 1},
	}
	for _, tt := range tests {
		line, col := ctx.Position(tt.offset)
		assert.Equal(t, tt.line, line, "offset %d", tt.offset)
		assert.Equal(t, tt.column, col, "offset %d", tt.offset)
	}

	start, end := ctx.LineBounds(4, len(content))
	assert.Equal(t, "cde", content[start:end])
	start, end = ctx.LineBounds(8, len(content))
	assert.Equal(t, "f", content[start:end])
}

func TestLinearSpans(t *testing.T) {
	content := `a = "x"; // note
b = 'y' /* block */ + c;`
	ctx := LinearTokenizer{}.Analyze(content, "a.js")

	assert.True(t, ctx.InString(5))
	assert.False(t, ctx.Excluded(4)) // opening quote
	assert.True(t, ctx.InComment(12))
	assert.False(t, ctx.Excluded(17)) // "b"
	assert.True(t, ctx.InComment(25))
	assert.False(t, ctx.Excluded(len(content)-2))
}

func TestStyleAndMarkupSpans(t *testing.T) {
	css := "a { color: red; } /* url('x') */ b {}"
	ctx := LinearTokenizer{}.Analyze(css, "main.css")
	assert.True(t, ctx.InComment(20))
	assert.False(t, ctx.Excluded(2))

	html := "<p>don't</p><!-- hidden -->"
	ctx = LinearTokenizer{}.Analyze(html, "popup.html")
	assert.False(t, ctx.Excluded(8))
	assert.True(t, ctx.InComment(15))
}

func TestNewTokenizer(t *testing.T) {
	assert.Equal(t, "linear", NewTokenizer("").Name())
	assert.Equal(t, "linear", NewTokenizer("unknown").Name())
	assert.Equal(t, "treesitter", NewTokenizer("treesitter").Name())
}

func TestTreeSitterFallsBackOnSyntaxErrors(t *testing.T) {
	tok := NewTreeSitterTokenizer()
	content := "/* el.innerHTML = x;\n"
	assert.True(t, tok.Analyze(content, "a.js").InComment(5))

	// Non-script files always use the linear rules.
	assert.True(t, tok.Analyze("<!-- x -->", "a.html").InComment(3))
}
