package recon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"reconagent/internal/browser"
	"reconagent/internal/config"
	"reconagent/internal/llm"
	"reconagent/internal/soal"
	"reconagent/internal/tactile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const listingHTML = `<html><head><title>Daily Digest</title></head>
<body>
<div class="articles">
  <div class="item"><h2 class="title"><a href="/story/1">First story about the harbour</a></h2><p class="summary">A long enough summary.</p></div>
  <div class="item"><h2 class="title"><a href="/story/2">Second story about the market</a></h2><p class="summary">Another summary.</p></div>
  <div class="item"><h2 class="title"><a href="/story/3">Third story about the weather</a></h2><p class="summary">More text.</p></div>
</div>
</body></html>`

// scraper returns a well-formed script; target varies its signature.
func scraper(target string) string {
	return fmt.Sprintf(`import json
from playwright.sync_api import sync_playwright

def main():
    try:
        with sync_playwright() as p:
            browser = p.chromium.launch(headless=True)
            page = browser.new_page()
            page.goto(%q)
            items = [{"title": t.inner_text()} for t in page.query_selector_all("h2.title")]
            print(json.dumps({"results": items, "metadata": {}}))
            browser.close()
    except Exception as e:
        print(json.dumps({"results": [], "metadata": {"error": str(e)}}))

if __name__ == "__main__":
    main()
`, target)
}

func fenced(code string) string {
	return "```python\n" + code + "\n```"
}

type fakeObserver struct {
	html     string
	headers  map[string]string
	err      error
	closeErr error
	panics   bool
}

func (f *fakeObserver) Name() string { return "fake" }
func (f *fakeObserver) Close() error { return f.closeErr }

func (f *fakeObserver) Observe(ctx context.Context, url string) (*browser.Observation, error) {
	if f.panics {
		panic("observer exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &browser.Observation{
		URL:      url,
		FinalURL: url,
		Status:   200,
		Title:    "Daily Digest",
		HTML:     f.html,
		Headers:  f.headers,
		Source:   "fake",
	}, nil
}

// fakeRunner answers dry runs with success and real runs with act.
type fakeRunner struct {
	mu    sync.Mutex
	act   func(code string) *tactile.ScriptResult
	dry   func(code string) *tactile.ScriptResult
	runs  []string
	dries int
}

func (f *fakeRunner) Run(ctx context.Context, code string, timeout time.Duration) *tactile.ScriptResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(code, "dry run") {
		f.dries++
		if f.dry != nil {
			return f.dry(code)
		}
		return &tactile.ScriptResult{Success: true, Stdout: `{"dry_run": true}`}
	}
	f.runs = append(f.runs, code)
	if f.act != nil {
		return f.act(code)
	}
	return records(0)
}

func (f *fakeRunner) actRuns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func records(n int) *tactile.ScriptResult {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]any{
			"title":   fmt.Sprintf("Story number %d about the harbour", i+1),
			"content": strings.Repeat("Local reporting on the harbour expansion. ", 5),
			"url":     fmt.Sprintf("https://example.com/story/%d", i+1),
		}
	}
	return &tactile.ScriptResult{
		Success:    true,
		ParsedData: map[string]any{"results": items, "metadata": map[string]any{}},
		Duration:   10 * time.Millisecond,
	}
}

func failed(stderr string) *tactile.ScriptResult {
	return &tactile.ScriptResult{Success: false, Error: "exit status 1", Stderr: stderr, ExitCode: 1}
}

func testConfig(mode soal.Mode) *config.Config {
	cfg := config.DefaultConfig()
	cfg.SOAL.Mode = mode
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, gen llm.CodeGenerator, obs browser.Observer, runner *fakeRunner) *Orchestrator {
	t.Helper()
	o, err := New(Options{Config: cfg, Generator: gen, Observer: obs, Runner: runner})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}
