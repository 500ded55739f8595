// Package quality scores extracted records against the user's goal.
//
// Each record gets three independent sub-scores, blended by configurable
// weights:
//   - L1 field completeness: required fields present, plus a capped bonus
//     for desired fields.
//   - L2 semantic quality: title and content length, meaningful-content
//     indicators, and boilerplate ratio.
//   - L3 intent satisfaction: keyword overlap between the goal and the
//     record's text.
//
// The fallback scorer is used only when evaluation itself fails; it is
// capped so it can never report more than the primary evaluator's floor.
package quality

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"reconagent/internal/logging"
)

// Record is one extracted item.
type Record = map[string]any

// RecordQuality is the assessment of a single record.
type RecordQuality struct {
	URL           string   `json:"url"`
	Score         float64  `json:"quality_score"`
	Completeness  float64  `json:"l1_score"`
	Semantic      float64  `json:"l2_score"`
	Intent        float64  `json:"l3_score"`
	MissingFields []string `json:"missing_fields"`
	Issues        []string `json:"issues"`
}

// Metrics aggregates a batch.
type Metrics struct {
	RelevantRatio     float64            `json:"relevant_ratio"`
	AvgQualityScore   float64            `json:"avg_quality_score"`
	DataTypesFound    []string           `json:"data_types_found"`
	FieldCompleteness map[string]float64 `json:"field_completeness"`
}

// Result is the outcome of evaluating a batch.
type Result struct {
	Score   float64         `json:"score"`
	Issues  []string        `json:"issues"`
	Records []RecordQuality `json:"records,omitempty"`
	Metrics Metrics         `json:"metrics"`

	// Fallback is true when the basic validity check produced Score.
	Fallback bool `json:"fallback,omitempty"`
}

var boilerplatePatterns = mustCompileAll(
	`© \d{4}`,
	`all rights reserved`,
	`cookies? policy`,
	`terms of service`,
	`privacy policy`,
	`subscribe to our`,
	`follow us on`,
	`view mobile site`,
)

var contentIndicators = mustCompileAll(
	`\.\s+[A-Z]`,                // sentence boundary
	`\d{4}`,                     // year-like number
	`[A-Z][a-z]+\s+[A-Z][a-z]+`, // capitalized name
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "about": true, "get": true,
	"fetch": true, "crawl": true, "all": true, "some": true, "data": true,
	"content": true, "pages": true, "site": true, "website": true,
	"的": true, "是": true, "爬取": true, "获取": true, "数据": true,
	"内容": true, "页面": true, "网站": true,
}

func mustCompileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Evaluator scores records. It holds no mutable state and is safe for
// concurrent use.
type Evaluator struct {
	config Config
}

// NewEvaluator creates an evaluator.
func NewEvaluator(config Config) *Evaluator {
	return &Evaluator{config: config}
}

// Config returns the evaluator's settings.
func (e *Evaluator) Config() Config { return e.config }

// Evaluate scores a batch. Empty input scores 0 with no issues. The batch
// score is the mean record score; issues are deduplicated in first-seen
// order. An error means a record could not be evaluated at all (a title or
// content that is not text); see EvaluateWithFallback.
func (e *Evaluator) Evaluate(records []Record, goal string) (*Result, error) {
	if len(records) == 0 {
		return &Result{Issues: []string{}, Metrics: Metrics{DataTypesFound: []string{}, FieldCompleteness: map[string]float64{}}}, nil
	}

	result := &Result{Issues: []string{}}
	seenIssue := map[string]bool{}
	keywords := ExtractKeywords(goal)

	fieldPresent := map[string]int{}
	types := map[string]bool{}
	relevant := 0
	total := 0.0

	for i, rec := range records {
		rq, err := e.EvaluateRecord(rec, goal, keywords)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		result.Records = append(result.Records, rq)
		total += rq.Score
		if rq.Score >= e.config.RelevantThreshold {
			relevant++
		}
		for _, issue := range rq.Issues {
			if !seenIssue[issue] {
				seenIssue[issue] = true
				result.Issues = append(result.Issues, issue)
			}
		}
		for _, f := range e.trackedFields() {
			if truthy(rec[f]) {
				fieldPresent[f]++
			}
		}
		for _, t := range DetectDataTypes(rec) {
			types[t] = true
		}
	}

	n := float64(len(records))
	result.Score = total / n
	result.Metrics = Metrics{
		RelevantRatio:     float64(relevant) / n,
		AvgQualityScore:   result.Score,
		DataTypesFound:    sortedKeys(types),
		FieldCompleteness: map[string]float64{},
	}
	for _, f := range e.trackedFields() {
		result.Metrics.FieldCompleteness[f] = float64(fieldPresent[f]) / n
	}
	return result, nil
}

// EvaluateWithFallback evaluates and, if evaluation fails, degrades to the
// capped fallback score with an explanatory issue.
func (e *Evaluator) EvaluateWithFallback(records []Record, goal string) *Result {
	res, err := e.Evaluate(records, goal)
	if err == nil {
		return res
	}
	logging.Get(logging.CategoryQuality).Warn("evaluation failed, using fallback: %v", err)
	return &Result{
		Score:    e.FallbackScore(records),
		Issues:   []string{"Evaluation failed, using basic validation: " + err.Error()},
		Fallback: true,
		Metrics:  Metrics{DataTypesFound: []string{}, FieldCompleteness: map[string]float64{}},
	}
}

func (e *Evaluator) trackedFields() []string {
	fields := append([]string{}, e.config.RequiredFields...)
	return append(fields, e.config.DesiredFields...)
}

// EvaluateRecord scores one record. keywords may be precomputed with
// ExtractKeywords; nil means derive them from goal.
func (e *Evaluator) EvaluateRecord(rec Record, goal string, keywords []string) (RecordQuality, error) {
	title, err := textField(rec, "title")
	if err != nil {
		return RecordQuality{}, err
	}
	content, err := textField(rec, "content")
	if err != nil {
		return RecordQuality{}, err
	}
	if keywords == nil {
		keywords = ExtractKeywords(goal)
	}

	l1, missing := e.completeness(rec)
	l2, issues := e.semantic(title, content)
	l3 := e.intent(rec, title, content, goal, keywords)

	url, _ := textField(rec, "url")
	return RecordQuality{
		URL:           url,
		Score:         e.config.WeightCompleteness*l1 + e.config.WeightSemantic*l2 + e.config.WeightIntent*l3,
		Completeness:  l1,
		Semantic:      l2,
		Intent:        l3,
		MissingFields: missing,
		Issues:        issues,
	}, nil
}

// completeness is L1.
func (e *Evaluator) completeness(rec Record) (float64, []string) {
	missing := []string{}
	present := 0
	for _, f := range e.config.RequiredFields {
		if truthy(rec[f]) {
			present++
		} else {
			missing = append(missing, f)
		}
	}

	bonusCount := 0
	for _, f := range e.config.DesiredFields {
		if truthy(rec[f]) {
			bonusCount++
		}
	}

	base := 0.0
	if len(e.config.RequiredFields) > 0 {
		base = float64(present) / float64(len(e.config.RequiredFields))
	}
	bonus := 0.0
	if len(e.config.DesiredFields) > 0 {
		bonus = math.Min(float64(bonusCount)/float64(len(e.config.DesiredFields)), 0.2)
	}
	return math.Min(base+bonus, 1.0), missing
}

// semantic is L2: the mean of a title score and a content score.
func (e *Evaluator) semantic(title, content string) (float64, []string) {
	issues := []string{}

	titleScore := 1.0
	titleLen := utf8.RuneCountInString(title)
	switch {
	case titleLen < e.config.MinTitleLength:
		titleScore = 0.3
		issues = append(issues, fmt.Sprintf("Title too short: %d chars", titleLen))
	case titleLen > e.config.MaxTitleLength:
		titleScore = 0.7
		issues = append(issues, fmt.Sprintf("Title too long: %d chars", titleLen))
	}

	contentScore := 1.0
	contentLen := utf8.RuneCountInString(content)
	if contentLen < e.config.MinContentLength {
		contentScore = 0.2
		issues = append(issues, fmt.Sprintf("Content too short: %d chars", contentLen))
	} else {
		if !IsMeaningful(content) {
			contentScore = 0.5
			issues = append(issues, "Content lacks meaningful indicators")
		}
		if ratio := BoilerplateRatio(content); ratio > e.config.MaxBoilerplateRatio {
			contentScore = math.Max(contentScore-0.3, 0.3)
			issues = append(issues, fmt.Sprintf("High boilerplate ratio: %.1f%%", ratio*100))
		}
	}

	return (titleScore + contentScore) / 2, issues
}

// intent is L3.
func (e *Evaluator) intent(rec Record, title, content, goal string, keywords []string) float64 {
	if strings.TrimSpace(goal) == "" || len(keywords) == 0 {
		return 0.7
	}

	text := strings.ToLower(title) + " " + strings.ToLower(content)
	if meta, ok := rec["metadata"]; ok && meta != nil {
		text += " " + strings.ToLower(fmt.Sprint(meta))
	}

	matches := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matches++
		}
	}
	score := math.Min(float64(matches)/float64(len(keywords)), 1.0)
	return math.Max(score, 0.3)
}

// ExtractKeywords lowercases the goal, splits it into words and drops stop
// words and words of two characters or fewer.
func ExtractKeywords(goal string) []string {
	keywords := []string{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(goal), -1) {
		if utf8.RuneCountInString(w) > 2 && !stopWords[w] {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

// IsMeaningful reports whether content shows at least two of the structural
// indicators. Matching runs on the original text since every indicator
// depends on capitalization or digits.
func IsMeaningful(content string) bool {
	count := 0
	for _, re := range contentIndicators {
		if re.MatchString(content) {
			count++
		}
	}
	return count >= 2
}

// BoilerplateRatio is the share of content characters matched by
// boilerplate patterns.
func BoilerplateRatio(content string) float64 {
	if content == "" {
		return 0
	}
	lower := strings.ToLower(content)
	chars := 0
	for _, re := range boilerplatePatterns {
		for _, m := range re.FindAllString(lower, -1) {
			chars += utf8.RuneCountInString(m)
		}
	}
	return float64(chars) / float64(utf8.RuneCountInString(content))
}

// DetectDataTypes classifies what kind of data a record carries.
func DetectDataTypes(rec Record) []string {
	var types []string
	if truthy(rec["metadata"]) {
		types = append(types, "structured_metadata")
	}
	for k := range rec {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "image") || strings.Contains(lk, "video") ||
			strings.Contains(lk, "audio") || strings.Contains(lk, "media") {
			types = append(types, "media")
			break
		}
	}
	if truthy(rec["date"]) || truthy(rec["published"]) || truthy(rec["created"]) {
		types = append(types, "temporal")
	}
	if truthy(rec["author"]) {
		types = append(types, "attributed")
	}
	if truthy(rec["tags"]) || truthy(rec["category"]) {
		types = append(types, "categorized")
	}
	if len(types) == 0 {
		return []string{"text"}
	}
	return types
}

// textField reads a field as text. Missing and null become "", scalars are
// formatted, and nested values are an error.
func textField(rec Record, key string) (string, error) {
	switch v := rec[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64, int, int64, bool:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("field %q is %T, not text", key, v)
	}
}

// truthy mirrors the usual notion of an empty value: nil, "", zero, false
// and empty collections are all absent.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	default:
		return true
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
