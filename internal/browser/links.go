package browser

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link categories.
const (
	LinkContent    = "content"
	LinkPagination = "pagination"
	LinkCategory   = "category"
	LinkBlacklist  = "blacklist"
	LinkOther      = "other"
)

var linkPatterns = []struct {
	category string
	markers  []string
}{
	{LinkBlacklist, []string{"/login", "/admin", "/register", "/account", "/user/"}},
	{LinkPagination, []string{"?page=", "&page=", "/page/", "/p/"}},
	{LinkContent, []string{"/article/", "/post/", "/news/", "/blog/", "/detail/", "/story/", "/item", "/product"}},
	{LinkCategory, []string{"/category/", "/tag/", "/topic/"}},
}

// Link is one anchor on a page.
type Link struct {
	Href            string   `json:"href"`
	Text            string   `json:"text"`
	Category        string   `json:"category"`
	IsHoneypot      bool     `json:"is_honeypot"`
	HoneypotReasons []string `json:"honeypot_reasons,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
}

// LinkReport summarizes a page's links.
type LinkReport struct {
	Links      []Link         `json:"links"`
	Safe       int            `json:"safe"`
	Honeypots  int            `json:"honeypots"`
	ByCategory map[string]int `json:"by_category"`
}

var (
	styleDisplayNone = regexp.MustCompile(`(?i)display\s*:\s*none`)
	styleInvisible   = regexp.MustCompile(`(?i)visibility\s*:\s*hidden`)
	styleOpacityZero = regexp.MustCompile(`(?i)opacity\s*:\s*0(\.0+)?\s*(;|$)`)
	styleOffscreen   = regexp.MustCompile(`(?i)(left|top)\s*:\s*-\d{4,}px`)
	styleZeroSize    = regexp.MustCompile(`(?i)(width|height)\s*:\s*[01]px`)
	styleNoPointer   = regexp.MustCompile(`(?i)pointer-events\s*:\s*none`)
	suspiciousHref   = regexp.MustCompile(`(?i)honeypot|trap|captcha`)
)

// honeypotReasons flags links a human could not see or reach. Only inline
// styles and attributes are visible in static HTML.
func honeypotReasons(a *goquery.Selection, href string) []string {
	var reasons []string
	style, _ := a.Attr("style")
	checks := []struct {
		hit    bool
		reason string
	}{
		{styleDisplayNone.MatchString(style) || a.Is("[hidden]"), "Hidden via display:none"},
		{styleInvisible.MatchString(style), "Hidden via visibility:hidden"},
		{styleOpacityZero.MatchString(style), "Hidden via opacity:0"},
		{styleOffscreen.MatchString(style), "Positioned off-screen"},
		{styleZeroSize.MatchString(style), "Zero or near-zero size"},
		{a.AttrOr("aria-hidden", "") == "true", "Marked as aria-hidden"},
		{a.AttrOr("tabindex", "") == "-1", "Not keyboard accessible (negative tabindex)"},
		{styleNoPointer.MatchString(style), "Pointer events disabled"},
		{suspiciousHref.MatchString(href), "Suspicious URL pattern"},
		{a.ParentsFiltered(`[style*="display:none"],[style*="display: none"],[hidden]`).Length() > 0, "Inside a hidden container"},
	}
	for _, c := range checks {
		if c.hit {
			reasons = append(reasons, c.reason)
		}
	}
	return reasons
}

func honeypotConfidence(reasons []string) float64 {
	if len(reasons) == 0 {
		return 0
	}
	c := 0.5 + float64(len(reasons))*0.15
	if c > 1 {
		c = 1
	}
	return c
}

// CategorizeLink sorts an href into content, pagination, category,
// blacklist or other.
func CategorizeLink(href, text string) string {
	lower := strings.ToLower(href)
	for _, p := range linkPatterns {
		for _, m := range p.markers {
			if strings.Contains(lower, m) {
				return p.category
			}
		}
	}
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "next" || t == "prev" || t == "previous" || t == "下一页" || t == "上一页" {
		return LinkPagination
	}
	return LinkOther
}

// AnalyzeLinks extracts anchors from source, resolves them against base and
// flags honeypots.
func AnalyzeLinks(source, base string) (*LinkReport, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, err
	}
	baseURL, _ := url.Parse(base)

	report := &LinkReport{Links: []Link{}, ByCategory: map[string]int{}}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		raw := strings.TrimSpace(a.AttrOr("href", ""))
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "javascript:") {
			return
		}
		href := raw
		if baseURL != nil {
			if u, err := baseURL.Parse(raw); err == nil {
				href = u.String()
			}
		}
		text := strings.Join(strings.Fields(a.Text()), " ")
		reasons := honeypotReasons(a, href)
		link := Link{
			Href:            href,
			Text:            text,
			Category:        CategorizeLink(href, text),
			IsHoneypot:      len(reasons) > 0,
			HoneypotReasons: reasons,
			Confidence:      honeypotConfidence(reasons),
		}
		report.Links = append(report.Links, link)
		if link.IsHoneypot {
			report.Honeypots++
			return
		}
		report.Safe++
		report.ByCategory[link.Category]++
	})
	return report, nil
}

// SafeLinks returns links that are not honeypots.
func (r *LinkReport) SafeLinks() []Link {
	out := []Link{}
	for _, l := range r.Links {
		if !l.IsHoneypot {
			out = append(out, l)
		}
	}
	return out
}

// Patterns returns up to n distinct path prefixes of safe content links,
// most frequent first.
func (r *LinkReport) Patterns(n int) []string {
	counts := map[string]int{}
	for _, l := range r.Links {
		if l.IsHoneypot || l.Category != LinkContent {
			continue
		}
		u, err := url.Parse(l.Href)
		if err != nil {
			continue
		}
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segs) == 0 || segs[0] == "" {
			continue
		}
		counts["/"+segs[0]+"/"]++
	}
	out := make([]string, 0, len(counts))
	for p := range counts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
