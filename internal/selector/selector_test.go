package selector

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><body>
<div class="list main">
  <div class="item" id="first"><a href="/p/1" class="title">  First   story </a></div>
  <div class="item"><a href="/p/2">Second story</a></div>
  <div class="item"><a href="/article/3">Third story</a></div>
  <div class="item"><a href="/post/4">Fourth story</a><img src="/img/4.png"></div>
</div>
<footer><a href="/about">About</a></footer>
</body></html>`

func mustSnapshot(t *testing.T, html string) *Snapshot {
	t.Helper()
	snap, err := NewSnapshot(html)
	require.NoError(t, err)
	return snap
}

func TestSnapshot_Test(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)

	r := snap.Test(".item", 3)
	assert.True(t, r.Valid)
	assert.Equal(t, 4, r.Count)
	require.Len(t, r.Samples, 3)
	assert.Equal(t, "div", r.Samples[0].Tag)
	assert.Equal(t, "first", r.Samples[0].ID)
	assert.Equal(t, []string{"item"}, r.Samples[0].Classes)
	assert.Equal(t, "First   story", r.Samples[0].Text)

	links := snap.Test("a.title", 3)
	require.Len(t, links.Samples, 1)
	assert.Equal(t, "/p/1", links.Samples[0].Href)

	imgs := snap.Test("img", 3)
	require.Len(t, imgs.Samples, 1)
	assert.Equal(t, "/img/4.png", imgs.Samples[0].Src)
}

func TestSnapshot_TestInvalidAndMissing(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)

	missing := snap.Test(".does-not-exist", 3)
	assert.False(t, missing.Valid)
	assert.Equal(t, 0, missing.Count)
	assert.Empty(t, missing.Error)

	bad := snap.Test("div[[", 3)
	assert.False(t, bad.Valid)
	assert.Equal(t, 0, bad.Count)
	assert.NotEmpty(t, bad.Error)
	assert.Empty(t, bad.Samples)
}

func TestSnapshot_TestIsIdempotent(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)
	before, err := snap.Document().Html()
	require.NoError(t, err)

	first := snap.Test("a[href]", 3)
	second := snap.Test("a[href]", 3)

	assert.Empty(t, cmp.Diff(first, second))
	after, err := snap.Document().Html()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestValidator_Confidence(t *testing.T) {
	v := NewValidator(DefaultConfig())

	valid := func(n int) TestResult { return TestResult{Valid: true, Count: n} }
	invalid := TestResult{}

	tests := []struct {
		name    string
		results []TestResult
		want    float64
	}{
		{"empty", nil, 0},
		{"all invalid gets penalty floor", []TestResult{invalid, invalid}, 0},
		{"ideal bonus", []TestResult{valid(5), invalid}, 0.7},
		{"ideal bonus capped", []TestResult{valid(5), valid(10)}, 1.0},
		{"all overmatched", []TestResult{valid(150)}, 0.9},
		{"mixed overmatch no penalty", []TestResult{valid(1), valid(150)}, 1.0},
		{"one of three", []TestResult{valid(1), invalid, invalid}, 0.33},
		{"boundary 50 is ideal", []TestResult{valid(50), invalid, invalid, invalid}, 0.45},
		{"boundary 100 not overmatched", []TestResult{valid(100), invalid}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, v.Confidence(tt.results), 1e-9)
		})
	}
}

func TestValidator_Recommendations(t *testing.T) {
	v := NewValidator(DefaultConfig())

	recs := v.Recommendations([]TestResult{{}, {}})
	assert.Equal(t, []string{
		"No valid selectors found. Consider using more generic selectors or check if page structure changed.",
		"2 selector(s) matched zero elements. These should be replaced.",
	}, recs)

	recs = v.Recommendations([]TestResult{{Valid: true, Count: 200}, {Valid: true, Count: 4}})
	assert.Equal(t, []string{
		"All selectors validated successfully. High confidence for execution.",
		"Warning: 1 selector(s) match too many elements (>100). Consider adding more specificity.",
	}, recs)

	recs = v.Recommendations([]TestResult{{Valid: true, Count: 4}, {}, {}})
	assert.Equal(t, "Less than half of selectors are valid. LLM should use alternative selection strategies.", recs[0])

	// exactly half valid: no headline recommendation
	recs = v.Recommendations([]TestResult{{Valid: true, Count: 4}, {}})
	assert.Equal(t, []string{"1 selector(s) matched zero elements. These should be replaced."}, recs)
}

func TestValidator_Validate(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)
	v := NewValidator(DefaultConfig())

	report, err := v.Validate(context.Background(), snap, []string{".item", ".missing", "a[href]"})
	require.NoError(t, err)

	assert.Equal(t, []string{".item", "a[href]"}, report.ValidSelectors)
	assert.Equal(t, []string{".missing"}, report.InvalidSelector)
	assert.Equal(t, 3, report.TotalTested)
	assert.Equal(t, len(listingHTML), report.HTMLLength)
	assert.InDelta(t, 0.87, report.Confidence, 1e-9)
	assert.False(t, v.NeedsAlternatives(report))
}

func TestValidator_ValidateEmptyUsesGeneric(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)
	v := NewValidator(DefaultConfig())

	report, err := v.Validate(context.Background(), snap, nil)
	require.NoError(t, err)
	assert.Equal(t, len(GenericSelectors()), report.TotalTested)
	assert.Equal(t, []string{".item"}, report.ValidSelectors)
}

func TestValidator_MergeAlternatives(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)
	v := NewValidator(DefaultConfig())

	report, err := v.Validate(context.Background(), snap, []string{".missing", ".nope"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Confidence)
	assert.True(t, v.NeedsAlternatives(report))

	require.NoError(t, v.MergeAlternatives(context.Background(), snap, report, []string{".item", ".gone"}))
	assert.Equal(t, []string{".item"}, report.ValidSelectors)
	// 1 valid of 4 combined, plus ideal bonus
	assert.InDelta(t, 0.45, report.Confidence, 1e-9)
	assert.Len(t, report.AlternativeResults, 2)
}

func TestValidator_TestAllKeepsOrder(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)
	v := NewValidator(DefaultConfig())

	var sels []string
	for i := 0; i < 30; i++ {
		sels = append(sels, fmt.Sprintf(".c%d", i))
	}
	results, err := v.TestAll(context.Background(), snap, sels)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, sels[i], r.Selector)
	}
}

func TestValidator_TestAllCancelled(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)
	v := NewValidator(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.TestAll(ctx, snap, []string{".item"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailedReport(t *testing.T) {
	r := FailedReport(fmt.Errorf("no html"))
	assert.Equal(t, 0.0, r.Confidence)
	assert.Equal(t, []string{"Validation failed, proceeding with caution"}, r.Recommendations)
	assert.Equal(t, "no html", r.Error)
}

func TestAnalyzeStructure(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)
	st := snap.AnalyzeStructure()

	require.Len(t, st.Containers, 1)
	assert.Equal(t, "div.list.main", st.Containers[0].Selector)
	assert.Equal(t, 4, st.Containers[0].Children)
	assert.Equal(t, map[string]int{"/p/": 2, "/article": 1, "/post": 1}, st.LinkPatterns)
	assert.Equal(t, 5, st.TotalLinks)
	assert.Equal(t, 1, st.TotalImages)
}

func TestFindBest(t *testing.T) {
	snap := mustSnapshot(t, listingHTML)

	best, ok := snap.FindBest("link", 1, DefaultConfig())
	require.True(t, ok)
	assert.Equal(t, "a[href]", best.Selector)

	_, ok = mustSnapshot(t, "<html><body><p>x</p></body></html>").FindBest("image", 1, DefaultConfig())
	assert.False(t, ok)
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		name        string
		goal        string
		websiteType string
		target      string
		want        []string
	}{
		{
			name:        "site specific then product patterns",
			goal:        "get product prices",
			websiteType: "ecommerce",
			target:      "https://www.amazon.com/s?k=x",
			want: []string{
				"[data-component-type='s-search-result']",
				"h2 a span",
				".a-price .a-offscreen",
				".product-card, .item, [data-product], .goods-item",
				".product-title, .goods-name, h2.title, [data-title]",
				".price, .product-price, [data-price], .current-price",
				".product-image img, .goods-img img, .p-picture img",
			},
		},
		{
			name:        "subdomain falls back to base domain",
			goal:        "titles",
			websiteType: "unknown",
			target:      "jobs.indeed.com",
			want:        []string{".job_seen_beacon", "[id='jobTitle'] h2", "[data-testid='company-name']"},
		},
		{
			name:        "chinese article keyword",
			goal:        "爬取文章标题",
			websiteType: "news",
			target:      "https://news.example.org",
			want: []string{
				"article, .article, .post, .entry, [data-article]",
				"h1, h2.title, .article-title, .entry-title, [data-title]",
				".article-content, .entry-content, .post-content, article p",
				".author, .by-author, [data-author], .writer",
			},
		},
		{
			name:        "generic fallback",
			goal:        "get everything",
			websiteType: "unknown",
			target:      "https://example.com",
			want:        GenericSelectors(),
		},
		{
			name:        "keyword with no matching type",
			goal:        "job listings",
			websiteType: "news",
			target:      "",
			want:        GenericSelectors(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Suggest(tt.goal, tt.websiteType, tt.target))
		})
	}
}

func TestSuggestIsDeduplicated(t *testing.T) {
	got := Suggest("articles", "news", "https://medium.com/tag/go")
	seen := map[string]bool{}
	for _, s := range got {
		assert.False(t, seen[s], "duplicate %s", s)
		seen[s] = true
	}
	assert.Equal(t, "article", got[0])
}

func TestSiteSelectors(t *testing.T) {
	assert.Equal(t, "#video-title", SiteSelectors("https://www.youtube.com/watch?v=1")["title"])
	assert.Nil(t, SiteSelectors("https://example.com"))
	assert.Nil(t, SiteSelectors(""))
}

func TestPatternsForType(t *testing.T) {
	names := func(ps []Pattern) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}
	assert.Equal(t, []string{"post", "username", "link", "image", "button"}, names(PatternsForType("social_media")))
	assert.Equal(t, []string{"link", "image", "button"}, names(PatternsForType("wiki")))

	p, ok := GetPattern("salary")
	require.True(t, ok)
	assert.Contains(t, p.WebsiteTypes, "job_board")
}

func TestFixSuggestion(t *testing.T) {
	assert.True(t, strings.HasPrefix(FixSuggestion("div"), "Qualify"))
	assert.Contains(t, FixSuggestion("li:nth-of-type(2)"), "pseudo-classes")
	assert.Contains(t, FixSuggestion("[src]"), "Narrow")
	assert.Equal(t, "", FixSuggestion("#content"))
}

func TestSuggestionPrompt(t *testing.T) {
	p := SuggestionPrompt("products", "ecommerce", "https://shop.example.com")
	assert.Contains(t, p, "type ecommerce")
	assert.Equal(t, 4, strings.Count(p, "\n- "))
}
