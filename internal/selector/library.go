package selector

import (
	"net/url"
	"strings"
)

// Pattern is a reusable selector for one kind of element.
type Pattern struct {
	Name         string
	Selector     string
	Description  string
	WebsiteTypes []string // "*" applies to every type
	Confidence   float64
}

// patterns is ordered; suggestions follow this order.
var patterns = []Pattern{
	// ecommerce
	{"product_card", ".product-card, .item, [data-product], .goods-item", "product card", []string{"ecommerce"}, 0.8},
	{"product_title", ".product-title, .goods-name, h2.title, [data-title]", "product title", []string{"ecommerce"}, 0.85},
	{"product_price", ".price, .product-price, [data-price], .current-price", "product price", []string{"ecommerce"}, 0.9},
	{"product_image", ".product-image img, .goods-img img, .p-picture img", "product image", []string{"ecommerce"}, 0.8},

	// news and blogs
	{"article_card", "article, .article, .post, .entry, [data-article]", "article card", []string{"news", "blog"}, 0.85},
	{"article_title", "h1, h2.title, .article-title, .entry-title, [data-title]", "article title", []string{"news", "blog"}, 0.9},
	{"article_content", ".article-content, .entry-content, .post-content, article p", "article body", []string{"news", "blog"}, 0.8},
	{"article_author", ".author, .by-author, [data-author], .writer", "article author", []string{"news", "blog"}, 0.7},

	// job boards
	{"job_card", ".job-card, .job-item, [data-job], .posting", "job card", []string{"job_board"}, 0.8},
	{"job_title", ".job-title, h2, .position, [data-position]", "job title", []string{"job_board"}, 0.85},
	{"company_name", ".company, .employer, [data-company], .company-name", "company name", []string{"job_board"}, 0.75},
	{"salary", ".salary, .pay, [data-salary], .compensation", "salary", []string{"job_board"}, 0.7},

	// social media
	{"post", ".post, .tweet, [data-post], .status", "post", []string{"social_media"}, 0.75},
	{"username", ".username, .user, [data-user], .author-name", "username", []string{"social_media"}, 0.8},

	// generic
	{"link", "a[href]", "link", []string{"*"}, 0.95},
	{"image", "img[src]", "image", []string{"*"}, 0.95},
	{"button", "button, .btn, [role='button']", "button", []string{"*"}, 0.9},
}

type namedSelector struct {
	name     string
	selector string
}

// siteSelectors holds known selectors for specific sites, keyed by bare domain.
var siteSelectors = map[string][]namedSelector{
	"amazon.com": {
		{"product_card", "[data-component-type='s-search-result']"},
		{"product_title", "h2 a span"},
		{"product_price", ".a-price .a-offscreen"},
	},
	"indeed.com": {
		{"job_card", ".job_seen_beacon"},
		{"job_title", "[id='jobTitle'] h2"},
		{"company_name", "[data-testid='company-name']"},
	},
	"zillow.com": {
		{"property_card", "[data-test='property-card']"},
		{"price", "[data-test='property-card-price']"},
	},
	"linkedin.com": {
		{"job_card", ".job-card-container"},
		{"job_title", ".job-title span"},
	},
	"medium.com": {
		{"article", "article"},
		{"title", "h1"},
		{"author", ".author-name"},
	},
	"twitter.com": {
		{"tweet", "[data-testid='tweet']"},
		{"text", "[data-testid='tweetText']"},
	},
	"youtube.com": {
		{"video", "ytd-video-renderer"},
		{"title", "#video-title"},
		{"channel", "ytd-channel-name"},
	},
}

// GenericSelectors are tried when nothing more specific is known.
func GenericSelectors() []string {
	return []string{"article", ".item", ".card", "[data-id]"}
}

// GetPattern returns a pattern by name.
func GetPattern(name string) (Pattern, bool) {
	for _, p := range patterns {
		if p.Name == name {
			return p, true
		}
	}
	return Pattern{}, false
}

// PatternsForType returns patterns that apply to a website type, including
// the generic ones.
func PatternsForType(websiteType string) []Pattern {
	var out []Pattern
	for _, p := range patterns {
		for _, t := range p.WebsiteTypes {
			if t == websiteType || t == "*" {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// SiteSelectors returns known selectors for a URL or domain, matching the
// exact host (without www.) first, then its last two labels.
func SiteSelectors(target string) map[string]string {
	list := siteSelectorList(target)
	if list == nil {
		return nil
	}
	out := make(map[string]string, len(list))
	for _, s := range list {
		out[s.name] = s.selector
	}
	return out
}

func siteSelectorList(target string) []namedSelector {
	host := hostOf(target)
	if host == "" {
		return nil
	}
	if list, ok := siteSelectors[host]; ok {
		return list
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		base := strings.Join(parts[len(parts)-2:], ".")
		if list, ok := siteSelectors[base]; ok {
			return list
		}
	}
	return nil
}

func hostOf(target string) string {
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Suggest proposes selectors for a goal: site-specific ones first, then
// type patterns filtered by the goal's subject, then the generic fallback.
// The result is deduplicated in first-seen order.
func Suggest(goal, websiteType, target string) []string {
	var out []string
	for _, s := range siteSelectorList(target) {
		out = append(out, s.selector)
	}

	goalLower := strings.ToLower(goal)
	var subject string
	switch {
	case strings.Contains(goalLower, "商品") || strings.Contains(goalLower, "product"):
		subject = "product"
	case strings.Contains(goalLower, "文章") || strings.Contains(goalLower, "article"):
		subject = "article"
	case strings.Contains(goalLower, "职位") || strings.Contains(goalLower, "job"):
		subject = "job"
	case strings.Contains(goalLower, "图片") || strings.Contains(goalLower, "image"):
		subject = "image"
	}
	if subject != "" {
		for _, p := range PatternsForType(websiteType) {
			if strings.Contains(p.Name, subject) {
				out = append(out, p.Selector)
			}
		}
	}

	if len(out) == 0 {
		out = GenericSelectors()
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// SuggestionPrompt renders up to five suggestions as a prompt section.
func SuggestionPrompt(goal, websiteType, target string) string {
	suggested := Suggest(goal, websiteType, target)
	if len(suggested) > 5 {
		suggested = suggested[:5]
	}
	var b strings.Builder
	b.WriteString("\n\n[Reference selectors]\n")
	b.WriteString("For a site of type " + websiteType + ", try these selectors first:\n")
	for _, s := range suggested {
		b.WriteString("- " + s + "\n")
	}
	b.WriteString("\nIf none match, look for classes or data attributes with similar meaning on the page.\n")
	return b.String()
}

// FixPattern describes a common selector mistake and its remedy.
type FixPattern struct {
	Kind     string
	Problems []string
	Fix      string
}

var fixPatterns = []FixPattern{
	{"too_generic", []string{"div", "span", "a", "img"},
		"Qualify the element with a class or attribute, e.g. div.item, a.link"},
	{"missing_attribute", []string{"[href]", "[src]"},
		"Narrow the attribute match, e.g. a[href^='/'], img[src*='/uploads/']"},
	{"too_specific", []string{`\[class='very-long-specific-class-name-abc123'\]`},
		"Use partial matching, e.g. [class*='specific-class']"},
	{"pseudoclass_missing", []string{"a:first-child", "li:nth-of-type"},
		"Consider :first-child or :nth-child() pseudo-classes"},
}

// FixSuggestion returns advice for the first known problem contained in the
// selector, or "" when none applies.
func FixSuggestion(sel string) string {
	for _, fp := range fixPatterns {
		for _, problem := range fp.Problems {
			if strings.Contains(sel, problem) {
				return fp.Fix
			}
		}
	}
	return ""
}
