package rules

import (
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/safepattern"
)

// Built-in rule names.
const (
	UnsafeInnerHTML      = "unsafe-innerHTML"
	UnsafeOuterHTML      = "unsafe-outerHTML"
	InsertAdjacentHTML   = "insert-adjacent-html"
	DocumentWrite        = "document-write"
	EvalUsage            = "eval-usage"
	FunctionConstructor  = "function-constructor"
	StringTimer          = "string-timer"
	ConsoleUsage         = "console-usage"
	DebuggerStatement    = "debugger-statement"
	LocalStorageUsage    = "local-storage-usage"
	MessageHandlerNoAuth = "message-handler-no-sender-check"
	InsecureHTTPURL      = "insecure-http-url"
	SyncXHR              = "sync-xhr"
)

// Builtin returns a fresh copy of the built-in rule catalog.
func Builtin() []*Rule {
	return []*Rule{
		{
			Name:       UnsafeInnerHTML,
			Pattern:    `\.innerHTML\s*\+?=`,
			Severity:   SeverityHigh,
			Extensions: ScriptExtensions,
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindSink,
			Assignment: true,
			Message:    "Assignment to innerHTML can inject untrusted markup",
			Suggestion: "Use textContent, or sanitize the value with DOMPurify.sanitize()",
		},
		{
			Name:       UnsafeOuterHTML,
			Pattern:    `\.outerHTML\s*\+?=`,
			Severity:   SeverityHigh,
			Extensions: ScriptExtensions,
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindSink,
			Assignment: true,
			Message:    "Assignment to outerHTML can inject untrusted markup",
			Suggestion: "Build nodes with document.createElement instead",
		},
		{
			Name:       InsertAdjacentHTML,
			Pattern:    `\.insertAdjacentHTML\s*\(`,
			Severity:   SeverityHigh,
			Extensions: ScriptExtensions,
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindSink,
			Message:    "insertAdjacentHTML parses its argument as markup",
			Suggestion: "Use insertAdjacentText or sanitize the markup first",
		},
		{
			Name:       DocumentWrite,
			Pattern:    `\bdocument\.write(?:ln)?\s*\(`,
			Severity:   SeverityHigh,
			Extensions: ScriptExtensions,
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindSink,
			Message:    "document.write is unsafe and blocked in extension pages",
			Suggestion: "Manipulate the DOM directly",
		},
		{
			Name:       EvalUsage,
			Pattern:    `\beval\s*\(`,
			Severity:   SeverityCritical,
			Extensions: ScriptExtensions,
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindEval,
			Message:    "eval() executes arbitrary code and violates the default CSP",
			Suggestion: "Parse data with JSON.parse or restructure the code",
		},
		{
			Name:       FunctionConstructor,
			Pattern:    `\bnew\s+Function\s*\(`,
			Severity:   SeverityHigh,
			Extensions: ScriptExtensions,
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindEval,
			Message:    "The Function constructor evaluates strings as code",
			Suggestion: "Use a regular function",
		},
		{
			Name:       StringTimer,
			Pattern:    "\\bset(?:Timeout|Interval)\\s*\\(\\s*[\"'`]",
			Severity:   SeverityMedium,
			Extensions: ScriptExtensions,
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindEval,
			Message:    "Passing a string to a timer evaluates it as code",
			Suggestion: "Pass a function instead of a string",
		},
		{
			Name:       ConsoleUsage,
			Pattern:    `\bconsole\.(?:log|debug|info|trace|dir)\s*\(`,
			Severity:   SeverityLow,
			Extensions: ScriptExtensions,
			Category:   model.CategoryPerformance,
			Message:    "console output left in shipped code",
			Suggestion: "Remove logging or guard it behind a debug flag",
		},
		{
			Name:       DebuggerStatement,
			Pattern:    `\bdebugger\b\s*;?`,
			Severity:   SeverityMedium,
			Extensions: ScriptExtensions,
			Category:   model.CategoryPerformance,
			Message:    "debugger statement left in code",
			Suggestion: "Remove the debugger statement",
		},
		{
			Name:       LocalStorageUsage,
			Pattern:    `\blocalStorage\s*(?:\.\s*(?:setItem|getItem)\s*|\[)`,
			Severity:   SeverityLow,
			Extensions: ScriptExtensions,
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindStorage,
			Message:    "localStorage is readable by any script on the origin",
			Suggestion: "Store extension data with chrome.storage",
		},
		{
			Name:       MessageHandlerNoAuth,
			Pattern:    `\b(?:chrome|browser)\.runtime\.onMessage(?:External)?\.addListener\s*\(`,
			Severity:   SeverityMedium,
			Extensions: ScriptExtensions,
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindMessage,
			Message:    "Message handler does not verify the sender",
			Suggestion: "Check sender.id or sender.origin before acting on the message",
		},
		{
			Name:       InsecureHTTPURL,
			Pattern:    "[\"'`]http://[^\\s\"'`]+",
			Severity:   SeverityMedium,
			Extensions: append([]string{".html", ".htm", ".css"}, ScriptExtensions...),
			Category:   model.CategorySecurity,
			Kind:       safepattern.KindURL,
			Message:    "Resource loaded over plain HTTP",
			Suggestion: "Use https://",
		},
		{
			Name:       SyncXHR,
			Pattern:    `\.open\s*\(\s*['"][A-Za-z]+['"]\s*,[^,)]+,\s*false\s*\)`,
			Severity:   SeverityMedium,
			Extensions: ScriptExtensions,
			Category:   model.CategoryPerformance,
			Message:    "Synchronous XMLHttpRequest blocks the page",
			Suggestion: "Use fetch() or an asynchronous request",
		},
	}
}
