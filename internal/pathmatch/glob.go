package pathmatch

import (
	"regexp"
	"strings"
)

// GlobOptions controls glob translation.
type GlobOptions struct {
	// Dot lets wildcards match path segments that start with ".".
	Dot bool
}

// CompileGlob translates a glob into an anchored regular expression.
//
//	*   matches within one path segment
//	**  matches zero or more whole segments
//	?   matches one non-separator character
//	[a-z] and {a,b} are passed through as class and alternation
//
// A pattern without "/" is matched against any directory depth, and a
// trailing "/" is treated as "dir/**". Malformed patterns return nil, which
// callers treat as "matches nothing".
func CompileGlob(pattern string, opts GlobOptions) *regexp.Regexp {
	expr, ok := globToRegexp(pattern, opts)
	if !ok {
		return nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}
	return re
}

func globToRegexp(pattern string, opts GlobOptions) (string, bool) {
	pattern = strings.TrimSpace(strings.ReplaceAll(pattern, "\\", "/"))
	pattern = strings.TrimPrefix(pattern, "./")
	if pattern == "" {
		return "", false
	}
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	pattern = strings.TrimPrefix(pattern, "/")
	if !strings.Contains(pattern, "/") {
		pattern = "**/" + pattern
	}

	segs := collapseGlobstars(strings.Split(pattern, "/"))

	anySeg := `[^/]+`
	if !opts.Dot {
		anySeg = `[^./][^/]*`
	}

	var b strings.Builder
	b.WriteString("^")
	for i, seg := range segs {
		first := i == 0
		last := i == len(segs)-1
		if seg == "**" {
			switch {
			case first && last:
				b.WriteString("(?:" + anySeg + "(?:/" + anySeg + ")*)?")
			case first:
				b.WriteString("(?:" + anySeg + "/)*")
			default:
				b.WriteString("(?:/" + anySeg + ")*")
			}
			continue
		}
		if !first && !(i == 1 && segs[0] == "**") {
			b.WriteString("/")
		}
		part, ok := segmentToRegexp(seg, opts)
		if !ok {
			return "", false
		}
		b.WriteString(part)
	}
	b.WriteString("$")
	return b.String(), true
}

func collapseGlobstars(segs []string) []string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if s == "" {
			continue
		}
		if s == "**" && len(out) > 0 && out[len(out)-1] == "**" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func segmentToRegexp(seg string, opts GlobOptions) (string, bool) {
	var b strings.Builder
	runes := []rune(seg)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		atStart := i == 0
		switch c {
		case '*':
			for i+1 < len(runes) && runes[i+1] == '*' {
				i++
			}
			if atStart && !opts.Dot {
				// An empty match is only safe when the next character cannot
				// be a leading dot.
				if i+1 < len(runes) && plainRune(runes[i+1]) {
					b.WriteString(`(?:[^./][^/]*)?`)
				} else {
					b.WriteString(`[^./][^/]*`)
				}
			} else {
				b.WriteString(`[^/]*`)
			}
		case '?':
			if atStart && !opts.Dot {
				b.WriteString(`[^./]`)
			} else {
				b.WriteString(`[^/]`)
			}
		case '[':
			end := indexRune(runes, ']', i+1)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := string(runes[i+1 : end])
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			if class == "" || class == "^" {
				return "", false
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i = end
		case '{':
			end := indexRune(runes, '}', i+1)
			if end < 0 {
				b.WriteString(`\{`)
				continue
			}
			alts := strings.Split(string(runes[i+1:end]), ",")
			parts := make([]string, 0, len(alts))
			for _, alt := range alts {
				p, ok := segmentToRegexp(alt, GlobOptions{Dot: true})
				if !ok {
					return "", false
				}
				parts = append(parts, p)
			}
			b.WriteString("(?:" + strings.Join(parts, "|") + ")")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String(), true
}

func plainRune(r rune) bool {
	switch r {
	case '.', '*', '?', '[', '{':
		return false
	}
	return true
}

func indexRune(runes []rune, r rune, from int) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
