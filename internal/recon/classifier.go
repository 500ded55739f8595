package recon

import (
	"math"
	"net/url"
	"regexp"
	"strings"
)

// Website types.
const (
	TypeEcommerce   = "ecommerce"
	TypeNews        = "news"
	TypeSocialMedia = "social_media"
	TypeBlog        = "blog"
	TypeForum       = "forum"
	TypeWiki        = "wiki"
	TypeJobBoard    = "job_board"
	TypeRealEstate  = "real_estate"
	TypeTravel      = "travel"
	TypeDirectory   = "directory"
	TypePortfolio   = "portfolio"
	TypeCorporate   = "corporate"
	TypeGovernment  = "government"
	TypeEducation   = "education"
	TypeUnknown     = "unknown"
)

// Classification methods.
const (
	MethodURLOnly           = "url_only"
	MethodHTMLOnly          = "html_only"
	MethodHTMLLowConfidence = "html_low_confidence"
	MethodAgreement         = "combined_agreement"
	MethodConflict          = "conflict_low_confidence"
	MethodURLPrimary        = "url_primary"
	MethodHTMLPrimary       = "html_primary"
)

// Classification is the verdict on a site's type.
type Classification struct {
	Type           string             `json:"type"`
	Confidence     float64            `json:"confidence"`
	Method         string             `json:"method"`
	Alternative    string             `json:"alternative,omitempty"`
	URLConfidence  float64            `json:"url_confidence"`
	HTMLConfidence float64            `json:"html_confidence"`
	Scores         map[string]float64 `json:"scores,omitempty"`
}

type domainRule struct {
	siteType string
	pattern  *regexp.Regexp
}

// Checked in order; the first match wins.
var domainRules = buildDomainRules([]struct {
	siteType string
	patterns []string
}{
	{TypeEcommerce, []string{`amazon`, `ebay`, `alibaba`, `taobao`, `jd\.com`, `shopify`, `etsy`, `walmart`, `target`, `bestbuy`}},
	{TypeNews, []string{`cnn`, `bbc`, `reuters`, `nytimes`, `theguardian`, `washingtonpost`, `wsj`, `bloomberg`, `apnews`, `news`}},
	{TypeSocialMedia, []string{`facebook`, `twitter`, `instagram`, `linkedin`, `tiktok`, `reddit`, `pinterest`, `youtube`}},
	{TypeJobBoard, []string{`indeed`, `glassdoor`, `monster`, `careerbuilder`, `ziprecruiter`, `simplyhired`}},
	{TypeRealEstate, []string{`zillow`, `realtor`, `redfin`, `trulia`, `rightmove`, `zoopla`}},
	{TypeTravel, []string{`expedia`, `booking`, `airbnb`, `tripadvisor`, `kayak`, `priceline`}},
	{TypeWiki, []string{`wikipedia`, `wiki`, `fandom`}},
	{TypeForum, []string{`discourse`, `phpbb`, `vbulletin`, `xenforo`}},
	{TypeGovernment, []string{`\.gov$`, `\.gov\.`, `\.go\.`}},
	{TypeEducation, []string{`\.edu$`, `\.edu\.`, `\.ac\.`, `university`, `college`}},
})

func buildDomainRules(groups []struct {
	siteType string
	patterns []string
}) []domainRule {
	var rules []domainRule
	for _, g := range groups {
		for _, p := range g.patterns {
			rules = append(rules, domainRule{g.siteType, regexp.MustCompile(p)})
		}
	}
	return rules
}

var pathRules = []struct {
	siteType   string
	markers    []string
	confidence float64
}{
	{TypeEcommerce, []string{"/product", "/item", "/shop"}, 0.7},
	{TypeNews, []string{"/news", "/article"}, 0.7},
	{TypeJobBoard, []string{"/job", "/career"}, 0.7},
	{TypeBlog, []string{"/blog", "/post"}, 0.6},
	{TypeForum, []string{"/forum", "/thread"}, 0.7},
	{TypeRealEstate, []string{"/property", "/home", "/real-estate"}, 0.7},
	{TypeNews, []string{"/chart", "/quote", "/ticker"}, 0.6},
}

type weightedFeature struct {
	pattern *regexp.Regexp
	weight  float64
}

type featureSet struct {
	siteType string
	features []weightedFeature
	// structural marker counted in the raw HTML, with its weight
	marker       string
	markerWeight float64
}

func weighted(pairs ...any) []weightedFeature {
	out := make([]weightedFeature, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		term := pairs[i].(string)
		out = append(out, weightedFeature{
			pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`),
			weight:  pairs[i+1].(float64),
		})
	}
	return out
}

// Weights keep common words like "comment" from dominating.
var htmlFeatures = []featureSet{
	{siteType: TypeEcommerce, features: weighted(
		"add to cart", 3.0, "buy now", 3.0, "price", 1.0, "product", 1.2,
		"shipping", 1.5, "checkout", 2.0, "wishlist", 1.5, "review", 0.8)},
	{siteType: TypeNews, features: weighted(
		"article", 1.2, "breaking news", 2.0, "editorial", 1.8, "journalist", 1.8,
		"published", 1.2, "byline", 1.6, "comment", 0.4),
		marker: "<article", markerWeight: 0.8},
	{siteType: TypeSocialMedia, features: weighted(
		"follow", 1.0, "like", 0.6, "share", 0.6, "comment", 0.4,
		"profile", 1.2, "message", 1.0, "friend", 1.2, "post", 0.8)},
	{siteType: TypeJobBoard, features: weighted(
		"apply", 1.6, "job", 1.8, "resume", 1.8, "salary", 1.6,
		"employer", 1.2, "candidate", 1.2, "interview", 1.2),
		marker: "job-card", markerWeight: 1.2},
	{siteType: TypeBlog, features: weighted(
		"blog", 2.0, "post", 1.0, "author", 1.2, "comment", 0.4,
		"subscribe", 1.0, "rss", 1.5)},
}

// ClassifyURL classifies from the host and path alone.
func ClassifyURL(raw string) (string, float64) {
	u, err := url.Parse(raw)
	if err != nil {
		return TypeUnknown, 0
	}
	domain := strings.ToLower(u.Host)
	path := strings.ToLower(u.Path)

	switch {
	case strings.Contains(domain, "arxiv.org"):
		return TypeEducation, 0.95
	case strings.Contains(domain, "datawrapper"):
		return TypeCorporate, 0.9
	case strings.Contains(domain, "finance.yahoo.com"),
		strings.HasSuffix(domain, "yahoo.com") && strings.Contains(path, "/quote/"):
		return TypeNews, 0.9
	case strings.Contains(domain, "linkedin.com") && (strings.Contains(path, "/jobs") || strings.Contains(path, "/job/")):
		return TypeJobBoard, 0.95
	}

	for _, r := range domainRules {
		if r.pattern.MatchString(domain) {
			return r.siteType, 0.9
		}
	}
	for _, r := range pathRules {
		for _, m := range r.markers {
			if strings.Contains(path, m) {
				return r.siteType, r.confidence
			}
		}
	}
	return TypeUnknown, 0
}

// ClassifyHTML scores the page text against weighted keyword sets.
func ClassifyHTML(source string) Classification {
	lower := strings.ToLower(source)
	if lower == "" {
		return Classification{Type: TypeUnknown, Scores: map[string]float64{}}
	}

	scores := map[string]float64{}
	bestType, best, total := "", 0.0, 0.0
	for _, set := range htmlFeatures {
		score := 0.0
		for _, f := range set.features {
			n := len(f.pattern.FindAllStringIndex(lower, 3))
			score += float64(n) * f.weight
		}
		if set.marker != "" {
			score += float64(min(3, strings.Count(lower, set.marker))) * set.markerWeight
		}
		if score <= 0 {
			continue
		}
		scores[set.siteType] = round2(score)
		total += score
		if score > best {
			bestType, best = set.siteType, score
		}
	}
	if bestType == "" {
		return Classification{Type: TypeUnknown, Scores: scores}
	}

	dominance := best / total
	conf := math.Min(0.95, 0.2+math.Min(best, 12)*0.04+dominance*0.4)
	return Classification{Type: bestType, Confidence: round2(conf), Scores: scores}
}

// Classify combines the URL and HTML verdicts. When they disagree with
// similar, modest confidence the site is left unknown rather than guessed.
func Classify(rawURL, source string) Classification {
	urlType, urlConf := ClassifyURL(rawURL)
	if source == "" {
		return Classification{Type: urlType, Confidence: round2(urlConf), Method: MethodURLOnly, URLConfidence: round2(urlConf)}
	}

	h := ClassifyHTML(source)
	c := Classification{
		URLConfidence:  round2(urlConf),
		HTMLConfidence: h.Confidence,
		Scores:         h.Scores,
	}

	switch {
	case urlType == TypeUnknown && h.Confidence < 0.5:
		c.Type, c.Confidence, c.Method = TypeUnknown, h.Confidence, MethodHTMLLowConfidence
		if h.Type != TypeUnknown {
			c.Alternative = h.Type
		}
	case urlType == TypeUnknown:
		c.Type, c.Confidence, c.Method = h.Type, h.Confidence, MethodHTMLOnly
	case h.Type == TypeUnknown:
		c.Type, c.Confidence, c.Method = urlType, round2(urlConf), MethodURLOnly
	case urlType == h.Type:
		c.Type, c.Confidence, c.Method = urlType, round2(math.Max(urlConf, h.Confidence)), MethodAgreement
	case math.Abs(urlConf-h.Confidence) <= 0.15 && math.Max(urlConf, h.Confidence) < 0.85:
		c.Type, c.Confidence, c.Method = TypeUnknown, round2(math.Max(urlConf, h.Confidence)*0.7), MethodConflict
		c.Alternative = "url:" + urlType + ",html:" + h.Type
	case urlConf >= h.Confidence:
		c.Type, c.Confidence, c.Method, c.Alternative = urlType, round2(urlConf*0.8), MethodURLPrimary, h.Type
	default:
		c.Type, c.Confidence, c.Method, c.Alternative = h.Type, round2(h.Confidence*0.8), MethodHTMLPrimary, urlType
	}
	return c
}

var featureMarkers = []struct {
	name    string
	markers []string
}{
	{"pagination", []string{"pagination", "next", "previous", "page 1"}},
	{"infinite_scroll", []string{"load more", "scroll", "infinite"}},
	{"search", []string{"search", "query", "filter"}},
	{"login_required", []string{"login", "sign in", "authenticate"}},
	{"javascript_heavy", []string{"<script", "react", "vue", "angular"}},
	{"images", []string{"<img", "image", "photo"}},
	{"videos", []string{"<video", "youtube", "vimeo"}},
	{"tables", []string{"<table", "tbody", "thead"}},
	{"forms", []string{"<form", "input", "submit"}},
	{"ads", []string{"advertisement", "ad-", "banner"}},
	{"comments", []string{"comment", "review", "rating"}},
}

// ExtractFeatures lists page traits used to index reflections.
func ExtractFeatures(source, rawURL string) []string {
	lower := strings.ToLower(source)
	out := []string{}
	for _, f := range featureMarkers {
		for _, m := range f.markers {
			if strings.Contains(lower, m) {
				out = append(out, f.name)
				break
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil && rawURL != "" {
		if u.Scheme == "https" {
			out = append(out, "https")
		}
		if strings.HasPrefix(u.Host, "www.") {
			out = append(out, "www_subdomain")
		}
	}
	return out
}

var (
	interactionVerb = regexp.MustCompile(`(?i)\b(search|click|log ?in|submit|scroll|filter|type|select)\b|搜索|点击|登录|提交|滚动|筛选|输入|选择`)
	interactiveMark = regexp.MustCompile(`(?i)<form\b|load[ -]?more|infinite[-_ ]?scroll|加载更多`)
)

// RequiresInteraction reports whether the goal asks for an interaction the
// page can actually offer.
func RequiresInteraction(goal, source string) bool {
	return interactionVerb.MatchString(goal) && interactiveMark.MatchString(source)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
