package quality

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(DefaultConfig())
}

func TestEvaluate_LongContentWithoutIndicators(t *testing.T) {
	e := newTestEvaluator()
	records := []Record{{
		"title":   "A valid long enough title",
		"content": strings.Repeat("x", 150),
		"url":     "http://x",
	}}

	res, err := e.Evaluate(records, "get articles")
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	rq := res.Records[0]
	assert.Equal(t, 1.0, rq.Completeness)
	assert.InDelta(t, 0.75, rq.Semantic, 1e-9)
	assert.InDelta(t, 0.3, rq.Intent, 1e-9)
	assert.InDelta(t, 0.69, res.Score, 1e-9)
	assert.GreaterOrEqual(t, res.Score, 0.6)
	assert.Equal(t, []string{"Content lacks meaningful indicators"}, res.Issues)
	assert.Empty(t, rq.MissingFields)
}

func TestEvaluate_EmptyInput(t *testing.T) {
	e := newTestEvaluator()
	for _, goal := range []string{"", "get articles", "爬取商品价格"} {
		res, err := e.Evaluate(nil, goal)
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Score)
		assert.NotNil(t, res.Issues)
		assert.Empty(t, res.Issues)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := newTestEvaluator()
	records := []Record{
		{"title": "Go 1.24 Released", "content": "The Go team announced a release in 2025. New Features include iterators.", "url": "https://go.dev/blog"},
		{"title": "x", "content": "", "url": "", "author": "Rob Pike", "metadata": map[string]any{"lang": "en"}},
		{"title": "Privacy", "content": strings.Repeat("all rights reserved ", 10), "url": "https://a/b", "image_url": "https://a/i.png"},
	}

	first, err := e.Evaluate(records, "Go release announcements")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Evaluate(records, "Go release announcements")
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("evaluation changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestEvaluate_SemanticIssues(t *testing.T) {
	goodContent := "The Quick brown fox jumped in 2024. Then it rested for a while under a tree near the river bank, far away."

	tests := []struct {
		name    string
		title   string
		content string
		want    []string
	}{
		{"short title", "Hi", goodContent, []string{"Title too short: 2 chars"}},
		{"long title", strings.Repeat("t", 201), goodContent, []string{"Title too long: 201 chars"}},
		{"short content", "Normal title", "short", []string{"Content too short: 5 chars"}},
		{"short content counts runes", "Normal title", "价格很低", []string{"Content too short: 4 chars"}},
		{"boilerplate", "Normal title", strings.Repeat("all rights reserved ", 10),
			[]string{"Content lacks meaningful indicators", "High boilerplate ratio: 95.0%"}},
		{"clean", "Normal title", goodContent, []string{}},
	}

	e := newTestEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rq, err := e.EvaluateRecord(Record{"title": tt.title, "content": tt.content, "url": "u"}, "", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rq.Issues)
			assert.Equal(t, 0.7, rq.Intent, "empty goal uses the default intent score")
		})
	}
}

func TestEvaluate_BoilerplateFloor(t *testing.T) {
	e := newTestEvaluator()
	rq, err := e.EvaluateRecord(Record{"title": "Normal title", "content": strings.Repeat("all rights reserved ", 10)}, "", nil)
	require.NoError(t, err)
	// title 1.0, content max(0.5-0.3, 0.3)
	assert.InDelta(t, 0.65, rq.Semantic, 1e-9)
}

func TestIsMeaningful_UsesOriginalCase(t *testing.T) {
	assert.True(t, IsMeaningful("It works. Then Alice Smith left."))
	assert.True(t, IsMeaningful("Published 2023. Another sentence"))
	assert.False(t, IsMeaningful("lowercase only text without any markers"))
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		goal string
		want []string
	}{
		{"Get all product prices from the shop", []string{"product", "prices", "shop"}},
		{"get articles", []string{"articles"}},
		{"", []string{}},
		{"a an of", []string{}},
		{"爬取 新闻标题", []string{"新闻标题"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractKeywords(tt.goal), tt.goal)
	}
}

func TestEvaluate_Intent(t *testing.T) {
	e := newTestEvaluator()

	rq, err := e.EvaluateRecord(Record{"title": "Product list", "content": "cheap prices"}, "product prices", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rq.Intent)

	rq, err = e.EvaluateRecord(Record{"title": "Product list", "content": "nothing"}, "product prices", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rq.Intent)

	rq, err = e.EvaluateRecord(Record{"title": "x", "metadata": map[string]any{"section": "Prices"}}, "prices", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rq.Intent, "metadata text counts toward intent")

	rq, err = e.EvaluateRecord(Record{"title": "x"}, "the data", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.7, rq.Intent, "goal with only stop words")
}

func TestEvaluate_Completeness(t *testing.T) {
	e := newTestEvaluator()

	rq, err := e.EvaluateRecord(Record{"title": "Title here", "author": "A", "date": "2024-01-01"}, "", nil)
	require.NoError(t, err)
	// 1/3 required + min(2/4, 0.2)
	assert.InDelta(t, 1.0/3+0.2, rq.Completeness, 1e-9)
	assert.Equal(t, []string{"content", "url"}, rq.MissingFields)

	rq, err = e.EvaluateRecord(Record{"title": "T", "content": "c", "url": "u", "author": "a", "tags": []any{"x"}}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rq.Completeness, "capped at 1")
}

func TestEvaluate_Metrics(t *testing.T) {
	e := newTestEvaluator()
	good := "The Quick brown fox jumped in 2024. Then it rested for a while under a tree near the river bank, far away."
	records := []Record{
		{"title": "First story", "content": good, "url": "https://a/1", "author": "Ann", "date": "2024-02-01"},
		{"title": "Second story", "content": good, "url": "https://a/2", "image_url": "https://a/i.png", "metadata": map[string]any{"k": "v"}},
	}

	res, err := e.Evaluate(records, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"attributed", "media", "structured_metadata", "temporal"}, res.Metrics.DataTypesFound)
	assert.Equal(t, 1.0, res.Metrics.FieldCompleteness["title"])
	assert.Equal(t, 0.5, res.Metrics.FieldCompleteness["author"])
	assert.Equal(t, 0.0, res.Metrics.FieldCompleteness["tags"])
	assert.Equal(t, 1.0, res.Metrics.RelevantRatio)
	assert.Equal(t, res.Score, res.Metrics.AvgQualityScore)
}

func TestDetectDataTypes_Text(t *testing.T) {
	assert.Equal(t, []string{"text"}, DetectDataTypes(Record{"title": "t"}))
	assert.Equal(t, []string{"categorized"}, DetectDataTypes(Record{"category": "news"}))
}

func TestEvaluate_NonTextTitleFails(t *testing.T) {
	e := newTestEvaluator()
	_, err := e.Evaluate([]Record{{"title": map[string]any{"nested": true}}}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 0")

	res := e.EvaluateWithFallback([]Record{{"title": map[string]any{"nested": true}}}, "")
	assert.True(t, res.Fallback)
	require.Len(t, res.Issues, 1)
	assert.True(t, strings.HasPrefix(res.Issues[0], "Evaluation failed, using basic validation"))
	assert.LessOrEqual(t, res.Score, e.PrimaryFloor())
}

func TestEvaluate_ScalarTitleIsFormatted(t *testing.T) {
	e := newTestEvaluator()
	rq, err := e.EvaluateRecord(Record{"title": 12345.0}, "", nil)
	require.NoError(t, err)
	assert.Empty(t, filterPrefix(rq.Issues, "Title"))
}

func filterPrefix(issues []string, prefix string) []string {
	var out []string
	for _, i := range issues {
		if strings.HasPrefix(i, prefix) {
			out = append(out, i)
		}
	}
	return out
}

func TestRawFallbackScore(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		want    float64
	}{
		{"empty", nil, 0},
		{"all good", []Record{{"title": "a"}, {"url": "http://x"}}, 1},
		{"placeholder", []Record{{"title": "N/A"}, {"title": "ok"}}, 0.5},
		{"chinese placeholder", []Record{{"name": "暂无"}, {"title": "ok"}, {"title": "ok"}}, 0.67},
		{"blank key field", []Record{{"link": "   "}, {"title": "ok"}}, 0.5},
		{"empty record", []Record{{}, {"title": "ok"}}, 0.5},
		{"all values empty", []Record{{"title": "", "x": nil}}, 0},
		{"nil record", []Record{nil}, 0},
		{"issues capped at total", []Record{{"title": "-", "url": "null", "href": "tbd"}}, 0},
		{"no key fields", []Record{{"price": "9.99"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RawFallbackScore(tt.records))
		})
	}
}

func TestFallbackNeverExceedsPrimary(t *testing.T) {
	e := newTestEvaluator()
	assert.InDelta(t, 0.19, e.PrimaryFloor(), 1e-9)

	fixtures := [][]Record{
		nil,
		{{}},
		{{"title": "N/A"}},
		{{"x": "y"}},
		{{"title": "Hi", "content": "", "url": ""}},
		{{"title": "A valid long enough title", "content": strings.Repeat("x", 150), "url": "http://x"}},
		{{"title": "a"}, {"title": "b"}, {"url": "c"}},
	}
	goals := []string{"", "get articles", "product prices"}

	for _, records := range fixtures {
		for _, goal := range goals {
			res, err := e.Evaluate(records, goal)
			require.NoError(t, err)
			assert.LessOrEqual(t, e.FallbackScore(records), res.Score, "records=%v goal=%q", records, goal)
		}
	}
}
