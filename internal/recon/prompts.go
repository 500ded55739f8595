package recon

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"reconagent/internal/selector"
	"reconagent/internal/soal"
)

// Generator call purposes, used for logging, audit and test fakes.
const (
	PurposeInteract  = "interact"
	PurposeSelectors = "selectors"
	PurposePlan      = "plan"
	PurposeRepair    = "repair"
	PurposeReflect   = "reflect"
	PurposeReport    = "report"
)

// ChangeStrategyHeader opens the instruction added to a Plan prompt after a
// repeated script was detected.
const ChangeStrategyHeader = "CHANGE STRATEGY"

const outputContract = `Output contract:
- Write a complete Python 3 script using playwright.sync_api (with sync_playwright() as p).
- Define def main() and call it under if __name__ == "__main__".
- Open the page with browser.new_page() and call browser.close() when done.
- Print exactly one JSON object to stdout with json.dumps: {"results": [ ...records... ], "metadata": {...}}.
- Each record is a flat object of strings or numbers (e.g. title, url, content, date).
- Print nothing else to stdout; send diagnostics to stderr.
- Wrap the extraction in try/except and still print the JSON object on error.
Return only the script in one python code block.`

// TruncateHTML shortens page source for prompts, keeping the head, a slice
// of the middle and the tail of very large pages.
func TruncateHTML(source string) string {
	const (
		large = 50000
		small = 15000
	)
	switch n := len(source); {
	case n > large:
		mid := n / 2
		return cut(source, 0, 20000) + "\n<!-- ... -->\n" +
			cut(source, mid-5000, mid+5000) + "\n<!-- ... -->\n" +
			cut(source, n-10000, n)
	case n > small:
		return cut(source, 0, 12000) + "\n<!-- ... -->\n" + cut(source, n-3000, n)
	default:
		return source
	}
}

// cut slices s on rune boundaries.
func cut(s string, from, to int) string {
	for from > 0 && from < len(s) && !utf8.RuneStart(s[from]) {
		from++
	}
	for to < len(s) && to > 0 && !utf8.RuneStart(s[to]) {
		to--
	}
	return s[from:to]
}

func interactPrompt(s *TaskState) string {
	var b strings.Builder
	b.WriteString("You control a browser. The user's goal requires interacting with the page before data can be read.\n\n")
	fmt.Fprintf(&b, "URL: %s\nGoal: %s\n\n", s.SiteURL, s.UserGoal)
	b.WriteString(ProfileFor(s.AntiBotLevel).Hints())
	b.WriteString("\nPage HTML (truncated):\n")
	b.WriteString(TruncateHTML(s.DOMSnapshot))
	b.WriteString(`

Write a Python playwright script that performs the interaction (search, click, scroll, fill forms) needed to reach the data.
When done, print one JSON object: {"final_url": "<url after interaction>", "actions": ["..."]}.
Return only the script in one python code block.`)
	return b.String()
}

func selectorPrompt(s *TaskState) string {
	var b strings.Builder
	b.WriteString("The candidate CSS selectors below matched poorly on this page.\n\n")
	fmt.Fprintf(&b, "URL: %s\nGoal: %s\nWebsite type: %s\n\n", s.SiteURL, s.UserGoal, s.WebsiteType)
	if r := s.SelectorReport; r != nil {
		b.WriteString("Tested selectors:\n")
		for _, res := range r.Results {
			fmt.Fprintf(&b, "- %s: %d matches\n", res.Selector, res.Count)
		}
	}
	b.WriteString("\nPage HTML (truncated):\n")
	b.WriteString(TruncateHTML(s.DOMSnapshot))
	b.WriteString("\n\nPropose better selectors for the data the goal asks for. ")
	b.WriteString(`Answer with JSON only: {"alternative_selectors": ["...", "..."]}`)
	return b.String()
}

// PlanInputs is the context gathered for the Plan prompt beyond the state.
type PlanInputs struct {
	Recommendations []string
	RecentFailures  int
	Suggestions     string
}

func planPrompt(s *TaskState, in PlanInputs) string {
	var b strings.Builder
	b.WriteString("Write a web scraping script.\n\n")
	fmt.Fprintf(&b, "URL: %s\nGoal: %s\nWebsite type: %s\n", s.SiteURL, s.UserGoal, s.WebsiteType)
	if s.PageTitle != "" {
		fmt.Fprintf(&b, "Page title: %s\n", s.PageTitle)
	}
	b.WriteString("\n")
	b.WriteString(ProfileFor(s.AntiBotLevel).Hints())

	if r := s.SelectorReport; r != nil && len(s.ValidatedSelectors) > 0 {
		b.WriteString("\nValidated selectors (tested against the live DOM):\n")
		results := append(append([]selector.TestResult{}, r.Results...), r.AlternativeResults...)
		for _, res := range results {
			if !res.Valid {
				continue
			}
			fmt.Fprintf(&b, "- %s (%d matches)", res.Selector, res.Count)
			if len(res.Samples) > 0 && res.Samples[0].Text != "" {
				fmt.Fprintf(&b, " e.g. %q", res.Samples[0].Text)
			}
			b.WriteString("\n")
		}
	} else if in.Suggestions != "" {
		b.WriteString(in.Suggestions)
	}

	if st := s.Structure; st != nil && len(st.Containers) > 0 {
		b.WriteString("\nLikely list containers:\n")
		for _, c := range st.Containers {
			fmt.Fprintf(&b, "- %s (%d children)\n", c.Selector, c.Children)
		}
	}
	if s.Links != nil {
		if p := s.Links.Patterns(3); len(p) > 0 {
			fmt.Fprintf(&b, "\nContent links follow these paths: %s\n", strings.Join(p, ", "))
		}
		if s.Links.Honeypots > 0 {
			fmt.Fprintf(&b, "The page has %d hidden trap links; never follow links a user cannot see.\n", s.Links.Honeypots)
		}
	}

	if len(in.Recommendations) > 0 {
		b.WriteString("\nStrategies that worked on similar sites:\n")
		for _, r := range in.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	n := in.RecentFailures
	if n <= 0 {
		n = 3
	}
	if len(s.FailureHistory) > 0 {
		b.WriteString("\nPrevious failures (most recent last):\n")
		for _, f := range lastN(s.FailureHistory, n) {
			fmt.Fprintf(&b, "- iteration %d [%s]: %s", f.Iteration, f.FailureType, f.RootCause)
			if f.SuggestedFix != "" {
				fmt.Fprintf(&b, " -> fix: %s", f.SuggestedFix)
			}
			b.WriteString("\n")
		}
	}
	if len(s.ReflectionMemory) > 0 {
		b.WriteString("\nLessons from earlier attempts:\n")
		for _, m := range lastN(s.ReflectionMemory, n) {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	if s.RepeatDetected || s.SwitchStrategy {
		fmt.Fprintf(&b, "\n%s: ", ChangeStrategyHeader)
		if s.RepeatDetected {
			b.WriteString("an earlier attempt already produced this same script and it failed. ")
		} else {
			b.WriteString("every strategy tried so far is known to fail on this domain. ")
		}
		b.WriteString("Do not repeat it. Use a different approach: different selectors, a different wait strategy, or a different navigation path.\n")
	}

	b.WriteString("\nPage HTML (truncated):\n")
	b.WriteString(TruncateHTML(s.DOMSnapshot))
	b.WriteString("\n\n")
	b.WriteString(outputContract)
	return b.String()
}

func lastN[T any](list []T, n int) []T {
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}

func repairPrompt(s *TaskState, req soal.RepairRequest) string {
	var b strings.Builder
	b.WriteString("A web scraping script failed. Repair it.\n\n")
	fmt.Fprintf(&b, "URL: %s\nGoal: %s\nWebsite type: %s\nAnti-bot level: %s\n\n", s.SiteURL, s.UserGoal, s.WebsiteType, s.AntiBotLevel)
	fmt.Fprintf(&b, "Repair action: %s\n%s\n", req.Action, req.Hint())
	if req.Decision.Reasoning != "" {
		fmt.Fprintf(&b, "Diagnosis: %s\n", req.Decision.Reasoning)
	}
	if req.Error != "" {
		fmt.Fprintf(&b, "\nError:\n%s\n", req.Error)
	}
	if len(req.Failures) > 1 {
		b.WriteString("\nEarlier failures in this task:\n")
		for _, f := range lastN(req.Failures, 5) {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Type, firstLine(f.Message))
		}
	}
	if req.Knowledge != nil {
		if sel := req.Knowledge.WorkingSelectors(); len(sel) > 0 {
			b.WriteString("\nSelectors known to work:\n")
			for _, field := range slices.Sorted(maps.Keys(sel)) {
				fmt.Fprintf(&b, "- %s: %s\n", field, sel[field])
			}
		}
	}
	if len(s.ValidatedSelectors) > 0 {
		fmt.Fprintf(&b, "\nValidated selectors: %s\n", strings.Join(s.ValidatedSelectors, ", "))
	}
	b.WriteString("\nScript:\n```python\n")
	b.WriteString(req.Code)
	b.WriteString("\n```\n\n")
	b.WriteString(outputContract)
	return b.String()
}

func reflectPrompt(s *TaskState, errText string) string {
	var b strings.Builder
	b.WriteString("Diagnose why this scraping attempt failed.\n\n")
	fmt.Fprintf(&b, "URL: %s\nGoal: %s\nWebsite type: %s\nAnti-bot level: %s\n", s.SiteURL, s.UserGoal, s.WebsiteType, s.AntiBotLevel)
	fmt.Fprintf(&b, "Records extracted: %d\nQuality score: %.2f\n", len(s.SampleData), s.QualityScore)
	if len(s.QualityIssues) > 0 {
		fmt.Fprintf(&b, "Quality issues: %s\n", strings.Join(lastN(s.QualityIssues, 10), "; "))
	}
	if errText != "" {
		fmt.Fprintf(&b, "Error:\n%s\n", errText)
	}
	if len(s.SampleData) > 0 {
		sample, _ := json.Marshal(lastN(s.SampleData, 3))
		fmt.Fprintf(&b, "Sample records: %s\n", sample)
	}
	b.WriteString("\nScript:\n```python\n")
	b.WriteString(s.GeneratedCode)
	b.WriteString("\n```\n\n")
	fmt.Fprintf(&b, "Failure types: %s.\n", strings.Join(failureTypeNames(), ", "))
	b.WriteString(`Answer with JSON only: {"failure_type": "...", "root_cause": "...", "suggested_fix": "..."}`)
	return b.String()
}

func failureTypeNames() []string {
	out := make([]string, len(soal.FailureTypes))
	for i, t := range soal.FailureTypes {
		out[i] = string(t)
	}
	return out
}

func reportPrompt(r *Report) string {
	sample, _ := json.MarshalIndent(lastN(r.SampleData, 5), "", "  ")
	var b strings.Builder
	b.WriteString("Write a concise Markdown reconnaissance report for this scraping task.\n\n")
	fmt.Fprintf(&b, "URL: %s\nGoal: %s\nWebsite type: %s\nAnti-bot level: %s\n", r.SiteURL, r.UserGoal, r.WebsiteType, r.AntiBotLevel)
	fmt.Fprintf(&b, "Status: %s\nRepair iterations: %d\nQuality score: %.2f\nSample count: %d\n", r.CompletionStatus, r.Iterations, r.QualityScore, r.SampleCount)
	if r.FailureReason != "" {
		fmt.Fprintf(&b, "Failure reason: %s\n", r.FailureReason)
	}
	fmt.Fprintf(&b, "Sample data:\n%s\n\n", sample)
	b.WriteString("Sections: site overview, data available, extraction approach, quality assessment, risks. Return Markdown only.")
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
