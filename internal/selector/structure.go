package selector

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Container is a div with several direct children, likely a list wrapper.
type Container struct {
	Selector string `json:"selector"`
	Class    string `json:"class"`
	Children int    `json:"children"`
}

// Structure summarizes page layout for prompts.
type Structure struct {
	Containers   []Container    `json:"containers"`
	LinkPatterns map[string]int `json:"link_patterns"`
	TotalLinks   int            `json:"total_links"`
	TotalImages  int            `json:"total_images"`
}

var linkMarkers = []string{"/p/", "/article", "/post"}

// AnalyzeStructure inspects the first 50 classed divs for containers and
// the first 20 links for common URL shapes.
func (s *Snapshot) AnalyzeStructure() Structure {
	st := Structure{LinkPatterns: map[string]int{}}

	s.doc.Find("div").EachWithBreak(func(i int, div *goquery.Selection) bool {
		if i >= 50 {
			return false
		}
		class := strings.Join(strings.Fields(div.AttrOr("class", "")), " ")
		if class == "" {
			return true
		}
		children := div.Children().Length()
		if children >= 3 {
			st.Containers = append(st.Containers, Container{
				Selector: "div." + strings.ReplaceAll(class, " ", "."),
				Class:    class,
				Children: children,
			})
		}
		return true
	})
	sort.SliceStable(st.Containers, func(i, j int) bool {
		return st.Containers[i].Children > st.Containers[j].Children
	})
	if len(st.Containers) > 10 {
		st.Containers = st.Containers[:10]
	}

	s.doc.Find("a[href]").EachWithBreak(func(i int, a *goquery.Selection) bool {
		if i >= 20 {
			return false
		}
		href := a.AttrOr("href", "")
		for _, m := range linkMarkers {
			if strings.Contains(href, m) {
				st.LinkPatterns[m]++
			}
		}
		return true
	})

	st.TotalLinks = s.doc.Find("a").Length()
	st.TotalImages = s.doc.Find("img").Length()
	return st
}

// candidatePatterns per target kind; combined with div/li prefixes below.
var candidatePatterns = map[string][]string{
	"article": {"article", "[class*='article']", "[class*='post']", "[class*='item']",
		"[class*='card']", "[class*='entry']", "[class*='story']"},
	"link":  {"a[href]", "[class*='link']", "[href*='/p/']", "[href*='/article']"},
	"image": {"img[src]", "[class*='image']", "[class*='photo']", "picture img"},
}

func candidates(target string) []string {
	base, ok := candidatePatterns[target]
	if !ok {
		base = []string{"div", "section", "article"}
	}
	var out []string
	for _, p := range base {
		out = append(out, p)
		if !strings.HasPrefix(p, "a") && !strings.HasPrefix(p, "img") {
			out = append(out, "div "+p, "li "+p)
		}
	}
	return out
}

// FindBest searches generated candidates for the best-scoring selector of a
// kind (article, link, image). Counts in the ideal range and samples with
// real text score higher. Returns false when nothing matched.
func (s *Snapshot) FindBest(target string, minCount int, cfg Config) (TestResult, bool) {
	var best TestResult
	bestScore := 0
	for _, c := range candidates(target) {
		r := s.Test(c, cfg.MaxSamples)
		if !r.Valid {
			continue
		}
		score := scoreCandidate(r, target, cfg)
		if score > bestScore && r.Count >= minCount {
			bestScore = score
			best = r
		}
	}
	return best, bestScore > 0
}

func scoreCandidate(r TestResult, target string, cfg Config) int {
	score := 0
	switch {
	case r.Count >= cfg.IdealMin && r.Count <= cfg.IdealMax:
		score += 10
	case r.Count > 0:
		score += 5
	}
	for _, sm := range r.Samples {
		if len([]rune(sm.Text)) > 10 {
			score += 2
		}
		if target == "link" && sm.Href != "" {
			score += 3
		}
		if target == "image" && sm.Src != "" {
			score += 3
		}
	}
	return score
}
