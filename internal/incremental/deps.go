package incremental

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	scriptSrcRegex = regexp.MustCompile(`(?is)<script\b[^>]*\bsrc\s*=\s*["']([^"']+)["']`)
	linkHrefRegex  = regexp.MustCompile(`(?is)<link\b[^>]*\bhref\s*=\s*["']([^"']+)["']`)
)

// ExtractReferences returns the local scripts and stylesheets an HTML page
// at rel references, as root-relative paths.
func ExtractReferences(rel string, content []byte) []string {
	dir := path.Dir(rel)
	var refs []string
	for _, re := range []*regexp.Regexp{scriptSrcRegex, linkHrefRegex} {
		for _, m := range re.FindAllSubmatch(content, -1) {
			if target, ok := resolveLocal(dir, string(m[1])); ok {
				refs = append(refs, target)
			}
		}
	}
	return dedupe(refs)
}

func resolveLocal(dir, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.Contains(ref, "://") || strings.HasPrefix(ref, "//") ||
		strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "#") {
		return "", false
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	var target string
	if strings.HasPrefix(ref, "/") {
		target = path.Clean(strings.TrimPrefix(ref, "/"))
	} else {
		target = path.Clean(path.Join(dir, ref))
	}
	if target == "." || strings.HasPrefix(target, "../") {
		return "", false
	}
	return target, true
}

// buildDependencies maps every HTML page among files to its references.
func buildDependencies(root string, files []string) map[string][]string {
	deps := make(map[string][]string)
	for _, rel := range files {
		ext := strings.ToLower(path.Ext(rel))
		if ext != ".html" && ext != ".htm" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		if refs := ExtractReferences(rel, content); len(refs) > 0 {
			deps[rel] = refs
		}
	}
	return deps
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
