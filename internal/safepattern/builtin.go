package safepattern

import "regexp"

func value(name, expr string) Pattern {
	return Pattern{Name: name, Regex: regexp.MustCompile(expr), Scope: ScopeValue}
}

func window(name, expr string) Pattern {
	return Pattern{Name: name, Regex: regexp.MustCompile(expr), Scope: ScopeWindow}
}

var builtin = map[Kind][]Pattern{
	KindSink: {
		value("empty-string", `^\s*(?:''|""|`+"``"+`)\s*$`),
		value("fixed-string", `^\s*(?:'(?:[^'\\\n]|\\.)*'|"(?:[^"\\\n]|\\.)*")\s*$`),
		value("fixed-template", "^\\s*`[^`$]*`\\s*$"),
		value("dompurify", `^\s*(?:window\.)?DOMPurify\.sanitize\s*\(`),
		value("sanitizer-call", `^\s*(?:[\w$.]+\.)?(?:sanitize\w*|escape(?:HTML|Html)\w*|purify\w*)\s*\(`),
		value("i18n-message", `^\s*(?:chrome|browser)\.i18n\.getMessage\s*\(`),
		value("numeric", `^\s*-?\d+(?:\.\d+)?\s*$`),
		value("null-clear", `^\s*(?:null|undefined)\s*$`),
	},
	KindEval: {
		value("fixed-string", `^\s*(?:'[^'\n]*'|"[^"\n]*")\s*$`),
	},
	KindStorage: {
		value("ui-preference-key", `^\s*['"](?:theme|lang|language|locale|settings|preferences|ui[-_.]?\w*|last[-_]?\w*)['"]`),
	},
	KindMessage: {
		window("sender-id-check", `sender\.id\s*[!=]==?\s*(?:chrome|browser)\.runtime\.id|(?:chrome|browser)\.runtime\.id\s*[!=]==?\s*sender\.id`),
		window("sender-origin-check", `sender\.(?:origin|url)\s*(?:[!=]==?|\.startsWith\s*\()`),
		window("sender-tab-guard", `if\s*\(\s*!?\s*sender\.(?:tab|id|origin)\b`),
	},
	KindURL: {
		value("loopback", `^['"`+"`"+`]?http://(?:localhost|127\.0\.0\.1|\[::1\])(?:[:/]|['"`+"`"+`]|$)`),
		value("xml-namespace", `^['"`+"`"+`]?http://www\.w3\.org/`),
	},
}
