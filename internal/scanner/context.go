package scanner

import (
	"path/filepath"
	"sort"
	"strings"
)

// SpanKind is the kind of a non-code region.
type SpanKind int

const (
	SpanComment SpanKind = iota
	SpanString
)

// Span is a half-open byte range [Start, End) that is not code.
type Span struct {
	Start int
	End   int
	Kind  SpanKind
}

// CodeContext answers location questions about one file's text.
type CodeContext struct {
	spans    []Span
	newlines []int
}

func newCodeContext(content string, spans []Span) *CodeContext {
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	nl := make([]int, 0, strings.Count(content, "\n"))
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			nl = append(nl, i)
		}
	}
	return &CodeContext{spans: spans, newlines: nl}
}

// Excluded reports whether offset lies inside a comment or string literal.
func (c *CodeContext) Excluded(offset int) bool {
	_, ok := c.spanAt(offset)
	return ok
}

// InString reports whether offset lies inside a string literal.
func (c *CodeContext) InString(offset int) bool {
	s, ok := c.spanAt(offset)
	return ok && s.Kind == SpanString
}

// InComment reports whether offset lies inside a comment.
func (c *CodeContext) InComment(offset int) bool {
	s, ok := c.spanAt(offset)
	return ok && s.Kind == SpanComment
}

// Spans returns the excluded regions in offset order.
func (c *CodeContext) Spans() []Span {
	return append([]Span(nil), c.spans...)
}

func (c *CodeContext) spanAt(offset int) (Span, bool) {
	// Spans never overlap, so the candidate is the last one starting at or
	// before offset.
	i := sort.Search(len(c.spans), func(i int) bool { return c.spans[i].Start > offset })
	if i == 0 {
		return Span{}, false
	}
	s := c.spans[i-1]
	return s, offset >= s.Start && offset < s.End
}

// Position maps a byte offset to a 1-based line and column.
func (c *CodeContext) Position(offset int) (line, column int) {
	// Number of newlines strictly before offset.
	n := sort.SearchInts(c.newlines, offset)
	last := -1
	if n > 0 {
		last = c.newlines[n-1]
	}
	return n + 1, offset - last
}

// LineBounds returns the [start, end) offsets of the line containing offset.
func (c *CodeContext) LineBounds(offset, contentLen int) (int, int) {
	n := sort.SearchInts(c.newlines, offset)
	start := 0
	if n > 0 {
		start = c.newlines[n-1] + 1
	}
	end := contentLen
	if n < len(c.newlines) {
		end = c.newlines[n]
	}
	return start, end
}

// Tokenizer finds the comment and string regions of a file.
type Tokenizer interface {
	Analyze(content, path string) *CodeContext
	Name() string
}

// NewTokenizer returns the tokenizer registered under name. Unknown names
// fall back to the linear tokenizer.
func NewTokenizer(name string) Tokenizer {
	if name == "treesitter" {
		return NewTreeSitterTokenizer()
	}
	return LinearTokenizer{}
}

type fileKind int

const (
	kindScript fileKind = iota
	kindMarkup
	kindStyle
	kindOther
)

func classify(path string) fileKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx":
		return kindScript
	case ".html", ".htm":
		return kindMarkup
	case ".css":
		return kindStyle
	default:
		return kindOther
	}
}

// LinearTokenizer tracks quote and comment state in a single pass. It is
// best-effort: regex literals and deeply nested template expressions can
// confuse it, which costs an occasional missed or extra finding.
type LinearTokenizer struct{}

// Name returns "linear".
func (LinearTokenizer) Name() string { return "linear" }

// Analyze scans content once and records the excluded spans.
func (LinearTokenizer) Analyze(content, path string) *CodeContext {
	var spans []Span
	switch classify(path) {
	case kindScript:
		spans = scriptSpans(content)
	case kindMarkup:
		spans = delimitedSpans(content, "<!--", "-->")
	case kindStyle:
		spans = delimitedSpans(content, "/*", "*/")
	}
	return newCodeContext(content, spans)
}

func delimitedSpans(content, open, close string) []Span {
	var spans []Span
	pos := 0
	for {
		i := strings.Index(content[pos:], open)
		if i < 0 {
			return spans
		}
		start := pos + i
		j := strings.Index(content[start+len(open):], close)
		end := len(content)
		if j >= 0 {
			end = start + len(open) + j + len(close)
		}
		spans = append(spans, Span{Start: start, End: end, Kind: SpanComment})
		pos = end
	}
}

// scriptSpans walks JavaScript text. A quote only opens a string in code
// state, escapes are honored inside strings, and "${" inside a template
// literal returns to code until its closing brace.
func scriptSpans(content string) []Span {
	var spans []Span
	// Brace depth for each open template substitution.
	var templates []int
	depth := 0
	n := len(content)

	for i := 0; i < n; i++ {
		c := content[i]
		switch {
		case c == '/' && i+1 < n && content[i+1] == '/':
			end := strings.IndexByte(content[i:], '\n')
			if end < 0 {
				end = n
			} else {
				end += i
			}
			spans = append(spans, Span{Start: i, End: end, Kind: SpanComment})
			i = end - 1
		case c == '/' && i+1 < n && content[i+1] == '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				end = n
			} else {
				end += i + 4
			}
			spans = append(spans, Span{Start: i, End: end, Kind: SpanComment})
			i = end - 1
		case c == '\'' || c == '"':
			end := closeQuote(content, i+1, c)
			spans = append(spans, Span{Start: i + 1, End: end, Kind: SpanString})
			i = end
		case c == '`':
			end, sub := scanTemplate(content, i+1)
			spans = append(spans, Span{Start: i + 1, End: end, Kind: SpanString})
			if sub {
				templates = append(templates, depth)
				i = end + 1
			} else {
				i = end
			}
		case c == '{':
			depth++
		case c == '}':
			if len(templates) > 0 && templates[len(templates)-1] == depth {
				templates = templates[:len(templates)-1]
				end, sub := scanTemplate(content, i+1)
				spans = append(spans, Span{Start: i + 1, End: end, Kind: SpanString})
				if sub {
					templates = append(templates, depth)
					i = end + 1
				} else {
					i = end
				}
				continue
			}
			if depth > 0 {
				depth--
			}
		}
	}
	return spans
}

// closeQuote returns the index of the quote closing a string that started
// before from. An unterminated string ends at the line break.
func closeQuote(content string, from int, quote byte) int {
	for i := from; i < len(content); i++ {
		switch content[i] {
		case '\\':
			i++
		case quote:
			return i
		case '\n':
			return i
		}
	}
	return len(content)
}

// scanTemplate returns the end of the template text starting at from and
// whether it stopped at a "${" substitution. The returned index points at
// the closing backtick or the "$".
func scanTemplate(content string, from int) (int, bool) {
	for i := from; i < len(content); i++ {
		switch content[i] {
		case '\\':
			i++
		case '`':
			return i, false
		case '$':
			if i+1 < len(content) && content[i+1] == '{' {
				return i, true
			}
		}
	}
	return len(content), false
}
