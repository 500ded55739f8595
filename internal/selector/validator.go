// Package selector tests CSS selectors against a static DOM snapshot and
// keeps the library of selector patterns used to seed code generation.
//
// Testing is a pure function of the snapshot: nothing here executes page
// scripts or performs network I/O, and the snapshot is never mutated.
package selector

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"reconagent/internal/logging"
)

// Sample is one matched element, trimmed for prompts and reports.
type Sample struct {
	Tag     string   `json:"tag"`
	Text    string   `json:"text"`
	Classes []string `json:"classes"`
	ID      string   `json:"id"`
	Href    string   `json:"href,omitempty"`
	Src     string   `json:"src,omitempty"`
}

// TestResult is the outcome of testing one selector.
type TestResult struct {
	Selector string   `json:"selector"`
	Valid    bool     `json:"valid"`
	Count    int      `json:"count"`
	Samples  []Sample `json:"samples"`
	Error    string   `json:"error,omitempty"`
}

// Snapshot is a parsed, read-only DOM.
type Snapshot struct {
	doc  *goquery.Document
	size int
}

// NewSnapshot parses an HTML document.
func NewSnapshot(source string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Snapshot{doc: doc, size: len(source)}, nil
}

// Size returns the length of the source HTML.
func (s *Snapshot) Size() int { return s.size }

// Document exposes the parsed document for read-only queries.
func (s *Snapshot) Document() *goquery.Document { return s.doc }

// Test runs one selector. Invalid selector syntax is reported in the result,
// not returned as an error.
func (s *Snapshot) Test(sel string, maxSamples int) TestResult {
	result := TestResult{Selector: sel, Samples: []Sample{}}

	matcher, err := compile(sel)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	matches := s.doc.FindMatcher(matcher)
	result.Count = matches.Length()
	result.Valid = result.Count > 0

	matches.EachWithBreak(func(i int, el *goquery.Selection) bool {
		if i >= maxSamples {
			return false
		}
		result.Samples = append(result.Samples, sampleOf(el))
		return true
	})
	return result
}

func sampleOf(el *goquery.Selection) Sample {
	tag := goquery.NodeName(el)
	sample := Sample{
		Tag:     tag,
		Text:    truncate(strippedText(el), 100),
		Classes: strings.Fields(el.AttrOr("class", "")),
		ID:      el.AttrOr("id", ""),
	}
	switch tag {
	case "a":
		sample.Href = truncate(el.AttrOr("href", ""), 200)
	case "img":
		sample.Src = truncate(el.AttrOr("src", ""), 200)
	}
	return sample
}

// strippedText joins every descendant text node, each trimmed, with no
// separator.
func strippedText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}

func compile(sel string) (goquery.Matcher, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, fmt.Errorf("empty selector")
	}
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return m, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Report summarizes a validation pass over several selectors.
type Report struct {
	Confidence      float64      `json:"confidence"`
	Results         []TestResult `json:"selector_results"`
	ValidSelectors  []string     `json:"valid_selectors"`
	InvalidSelector []string     `json:"invalid_selectors"`
	Recommendations []string     `json:"recommendations"`
	HTMLLength      int          `json:"html_length"`
	TotalTested     int          `json:"total_selectors_tested"`

	// Alternatives holds generator-suggested selectors tested after a
	// low-confidence first pass.
	Alternatives       []string     `json:"alternative_selectors,omitempty"`
	AlternativeResults []TestResult `json:"alternative_results,omitempty"`

	Error string `json:"error,omitempty"`
}

// Validator scores selector sets against a snapshot.
type Validator struct {
	config Config
}

// NewValidator creates a validator.
func NewValidator(config Config) *Validator {
	if config.MaxSamples <= 0 {
		config.MaxSamples = DefaultConfig().MaxSamples
	}
	return &Validator{config: config}
}

// Config returns the validator's settings.
func (v *Validator) Config() Config { return v.config }

// TestAll tests selectors in parallel; results keep input order.
func (v *Validator) TestAll(ctx context.Context, snap *Snapshot, selectors []string) ([]TestResult, error) {
	results := make([]TestResult, len(selectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, sel := range selectors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = snap.Test(sel, v.config.MaxSamples)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Validate tests selectors and builds a report. An empty selector list
// falls back to the generic selectors so the report is never empty.
func (v *Validator) Validate(ctx context.Context, snap *Snapshot, selectors []string) (*Report, error) {
	timer := logging.StartTimer(logging.CategorySelector, "validate selectors")
	defer timer.Stop()

	if len(selectors) == 0 {
		selectors = GenericSelectors()
	}

	results, err := v.TestAll(ctx, snap, selectors)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Results:     results,
		HTMLLength:  snap.Size(),
		TotalTested: len(results),
	}
	for _, r := range results {
		if r.Valid {
			report.ValidSelectors = append(report.ValidSelectors, r.Selector)
		} else {
			report.InvalidSelector = append(report.InvalidSelector, r.Selector)
		}
	}
	report.Confidence = v.Confidence(results)
	report.Recommendations = v.Recommendations(results)

	logging.Get(logging.CategorySelector).Info("validated %d selectors: %d valid, confidence=%.2f",
		len(results), len(report.ValidSelectors), report.Confidence)
	return report, nil
}

// MergeAlternatives tests alternative selectors, appends the valid ones and
// recomputes confidence over the combined results.
func (v *Validator) MergeAlternatives(ctx context.Context, snap *Snapshot, report *Report, alternatives []string) error {
	if len(alternatives) == 0 {
		return nil
	}
	alt, err := v.TestAll(ctx, snap, alternatives)
	if err != nil {
		return err
	}
	report.Alternatives = alternatives
	report.AlternativeResults = alt
	for _, r := range alt {
		if r.Valid {
			report.ValidSelectors = append(report.ValidSelectors, r.Selector)
		}
	}
	combined := append(append([]TestResult{}, report.Results...), alt...)
	report.Confidence = v.Confidence(combined)
	return nil
}

// NeedsAlternatives reports whether confidence is below threshold.
func (v *Validator) NeedsAlternatives(report *Report) bool {
	return report.Confidence < v.config.ConfidenceThreshold
}

// Confidence computes validCount/total, plus the ideal-range bonus when any
// valid selector lands in [IdealMin, IdealMax], minus the overmatch penalty
// when every valid selector matches more than OvermatchLimit elements. The
// penalty also applies when nothing is valid. Rounded to two places.
func (v *Validator) Confidence(results []TestResult) float64 {
	if len(results) == 0 {
		return 0
	}

	valid := 0
	hasIdeal := false
	allOvermatched := true
	for _, r := range results {
		if !r.Valid {
			continue
		}
		valid++
		if r.Count >= v.config.IdealMin && r.Count <= v.config.IdealMax {
			hasIdeal = true
		}
		if r.Count <= v.config.OvermatchLimit {
			allOvermatched = false
		}
	}

	confidence := float64(valid) / float64(len(results))
	if hasIdeal {
		confidence = math.Min(1, confidence+v.config.IdealBonus)
	}
	if allOvermatched {
		confidence = math.Max(0, confidence-v.config.OvermatchPenalty)
	}
	return round2(confidence)
}

// Recommendations produces human-readable advice for a result set.
func (v *Validator) Recommendations(results []TestResult) []string {
	var recs []string

	valid := 0
	overmatched := 0
	zero := 0
	for _, r := range results {
		if r.Valid {
			valid++
		}
		if r.Count > v.config.OvermatchLimit {
			overmatched++
		}
		if r.Count == 0 {
			zero++
		}
	}
	total := len(results)

	switch {
	case valid == 0:
		recs = append(recs, "No valid selectors found. Consider using more generic selectors or check if page structure changed.")
	case float64(valid) < float64(total)/2:
		recs = append(recs, "Less than half of selectors are valid. LLM should use alternative selection strategies.")
	case valid == total:
		recs = append(recs, "All selectors validated successfully. High confidence for execution.")
	}

	if overmatched > 0 {
		recs = append(recs, fmt.Sprintf("Warning: %d selector(s) match too many elements (>%d). Consider adding more specificity.",
			overmatched, v.config.OvermatchLimit))
	}
	if zero > 0 {
		recs = append(recs, fmt.Sprintf("%d selector(s) matched zero elements. These should be replaced.", zero))
	}
	return recs
}

// FailedReport is the report used when validation itself could not run.
func FailedReport(err error) *Report {
	return &Report{
		Error:           err.Error(),
		Results:         []TestResult{},
		Recommendations: []string{"Validation failed, proceeding with caution"},
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
