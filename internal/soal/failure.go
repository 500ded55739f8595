// Package soal implements the diagnose and repair loop: Sense groups the
// failures seen so far, Orient picks a repair action by utility, Act applies
// it through an injected Repairer, Verify re-checks the result and Learn
// updates per-task knowledge.
package soal

import (
	"regexp"
	"strings"
)

// FailureType classifies why an attempt failed.
type FailureType string

const (
	FailureSelector        FailureType = "selector_error"
	FailureTimeout         FailureType = "timeout"
	FailureRateLimit       FailureType = "rate_limit"
	FailureBlocked         FailureType = "blocked"
	FailureStructureChange FailureType = "structure_change"
	FailureContentMissing  FailureType = "content_missing"
	FailureAPI             FailureType = "api_error"
	FailureSyntax          FailureType = "syntax_error"
	FailureUnknown         FailureType = "unknown"
)

// FailureTypes lists the taxonomy in display order.
var FailureTypes = []FailureType{
	FailureSelector, FailureTimeout, FailureRateLimit, FailureBlocked,
	FailureStructureChange, FailureContentMissing, FailureAPI, FailureSyntax, FailureUnknown,
}

// Valid reports whether t is part of the taxonomy.
func (t FailureType) Valid() bool {
	for _, ft := range FailureTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// ParseFailureType normalizes free text such as "Selector Error" into the
// taxonomy, falling back to unknown.
func ParseFailureType(s string) FailureType {
	t := FailureType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	if t.Valid() {
		return t
	}
	return FailureUnknown
}

// Failure is one observed failure.
type Failure struct {
	Type      FailureType `json:"type"`
	Message   string      `json:"message"`
	Iteration int         `json:"iteration"`
}

// NewFailure classifies msg and wraps it.
func NewFailure(msg string, iteration int) Failure {
	return Failure{Type: Classify(msg), Message: msg, Iteration: iteration}
}

type classifierRule struct {
	kind    FailureType
	pattern *regexp.Regexp
}

// Rules are checked in order. Selector waits come before plain timeouts
// because playwright reports a missing element as a timeout.
var classifierRules = []classifierRule{
	{FailureBlocked, regexp.MustCompile(`(?i)\b403\b|access denied|forbidden|\bblocked\b|captcha|cloudflare|bot detected|just a moment|attention required`)},
	{FailureRateLimit, regexp.MustCompile(`(?i)\b429\b|rate.?limit|too many requests|throttl`)},
	{FailureSyntax, regexp.MustCompile(`SyntaxError|IndentationError|TabError|invalid syntax|(?i:syntax error)`)},
	{FailureSelector, regexp.MustCompile(`(?i)waiting for (selector|locator)|no such element|element not found|selector|locator\(|'NoneType' object has no attribute '(inner_text|text_content|get_attribute|query_selector)`)},
	{FailureTimeout, regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`)},
	{FailureContentMissing, regexp.MustCompile(`(?i)no data|no records|empty result|0 records|content missing|NO_DATA_EXTRACTED|LOW_QUALITY`)},
	{FailureStructureChange, regexp.MustCompile(`(?i)structure (has )?changed|layout changed|unexpected (page )?structure|KeyError|IndexError`)},
	{FailureAPI, regexp.MustCompile(`(?i)ModuleNotFoundError|ImportError|AttributeError|TypeError|NameError|api error|status (code )?5\d\d|\b50[0-4]\b`)},
}

// Classify maps error text onto the failure taxonomy.
func Classify(text string) FailureType {
	if strings.TrimSpace(text) == "" {
		return FailureUnknown
	}
	for _, r := range classifierRules {
		if r.pattern.MatchString(text) {
			return r.kind
		}
	}
	return FailureUnknown
}

// Group counts failures by type, classifying untyped ones.
func Group(failures []Failure) map[FailureType]int {
	grouped := map[FailureType]int{}
	for _, f := range failures {
		t := f.Type
		if t == "" {
			t = Classify(f.Message)
		}
		grouped[t]++
	}
	return grouped
}

// Dominant returns the most frequent failure type. Ties go to the type that
// occurred most recently. No failures means unknown.
func Dominant(failures []Failure) FailureType {
	grouped := Group(failures)
	best, bestCount, bestLast := FailureUnknown, 0, -1
	for t, n := range grouped {
		last := lastIndexOf(failures, t)
		if n > bestCount || (n == bestCount && last > bestLast) {
			best, bestCount, bestLast = t, n, last
		}
	}
	return best
}

func lastIndexOf(failures []Failure, t FailureType) int {
	for i := len(failures) - 1; i >= 0; i-- {
		ft := failures[i].Type
		if ft == "" {
			ft = Classify(failures[i].Message)
		}
		if ft == t {
			return i
		}
	}
	return -1
}
