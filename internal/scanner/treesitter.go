package scanner

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// TreeSitterTokenizer derives comment and string spans from a real parse
// tree. Template substitutions stay code. Files with syntax errors, and
// non-script files, go through the linear tokenizer.
type TreeSitterTokenizer struct {
	fallback LinearTokenizer
	// Parsers are not safe for concurrent use.
	pool sync.Pool
}

// NewTreeSitterTokenizer creates a tree-sitter backed tokenizer.
func NewTreeSitterTokenizer() *TreeSitterTokenizer {
	return &TreeSitterTokenizer{
		pool: sync.Pool{New: func() any { return sitter.NewParser() }},
	}
}

// Name returns "treesitter".
func (t *TreeSitterTokenizer) Name() string { return "treesitter" }

// Analyze parses content and collects the excluded spans.
func (t *TreeSitterTokenizer) Analyze(content, path string) *CodeContext {
	lang := languageFor(path)
	if lang == nil {
		return t.fallback.Analyze(content, path)
	}

	parser := t.pool.Get().(*sitter.Parser)
	defer t.pool.Put(parser)
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(content))
	if err != nil || tree == nil {
		return t.fallback.Analyze(content, path)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return t.fallback.Analyze(content, path)
	}
	var spans []Span
	collectSpans(root, &spans)
	return newCodeContext(content, spans)
}

func languageFor(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs", ".jsx":
		return javascript.GetLanguage()
	case ".ts":
		return typescript.GetLanguage()
	default:
		return nil
	}
}

func collectSpans(node *sitter.Node, spans *[]Span) {
	if node == nil {
		return
	}
	start, end := int(node.StartByte()), int(node.EndByte())

	switch node.Type() {
	case "comment":
		*spans = append(*spans, Span{Start: start, End: end, Kind: SpanComment})
		return
	case "string":
		if end-start >= 2 {
			*spans = append(*spans, Span{Start: start + 1, End: end - 1, Kind: SpanString})
		}
		return
	case "regex":
		*spans = append(*spans, Span{Start: start + 1, End: end, Kind: SpanString})
		return
	case "template_string":
		cur := start + 1
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child == nil || child.Type() != "template_substitution" {
				continue
			}
			if int(child.StartByte()) > cur {
				*spans = append(*spans, Span{Start: cur, End: int(child.StartByte()), Kind: SpanString})
			}
			collectSpans(child, spans)
			cur = int(child.EndByte())
		}
		if end-1 > cur {
			*spans = append(*spans, Span{Start: cur, End: end - 1, Kind: SpanString})
		}
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectSpans(node.Child(i), spans)
	}
}
