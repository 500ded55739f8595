package verify

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"reconagent/internal/tactile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodScript = `import json
from playwright.sync_api import sync_playwright

def main():
    with sync_playwright() as p:
        browser = p.chromium.launch(headless=True)
        try:
            page = browser.new_page()
            page.goto("https://example.com")
            items = [{"title": el.inner_text()} for el in page.query_selector_all("h2")]
            print(json.dumps({"results": items, "metadata": {}}))
        except Exception as e:
            print(json.dumps({"results": [], "error": str(e)}))
        finally:
            browser.close()

if __name__ == "__main__":
    main()
`

type fakeRunner struct {
	mu     sync.Mutex
	codes  []string
	result *tactile.ScriptResult
}

func (f *fakeRunner) Run(_ context.Context, code string, _ time.Duration) *tactile.ScriptResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return f.result
}

func TestSyntaxChecker(t *testing.T) {
	c := NewSyntaxChecker()
	ctx := context.Background()

	assert.True(t, c.Check(ctx, goodScript).Valid)
	assert.True(t, c.Check(ctx, "x = 1\n").Valid)

	for _, bad := range []string{
		"def f(:\n    pass\n",
		"x = (1, 2\n",
		"for i in range(3)\n    print(i)\n",
	} {
		res := c.Check(ctx, bad)
		assert.False(t, res.Valid, bad)
		assert.Positive(t, res.Line, bad)
		assert.True(t, strings.HasPrefix(res.Error, "Syntax error at line "), res.Error)
	}
}

func TestSyntaxChecker_ReportsLaterLine(t *testing.T) {
	res := NewSyntaxChecker().Check(context.Background(), "import json\n\n\ndef f(:\n    pass\n")
	require.False(t, res.Valid)
	assert.Equal(t, 4, res.Line)
}

func TestCheckImports(t *testing.T) {
	res := CheckImports(goodScript)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Missing)
	assert.Equal(t, []string{"import json", "from playwright.sync_api import sync_playwright"}, res.Found)

	res = CheckImports("page.goto('x')\n")
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"json", "playwright"}, res.Missing)

	res = CheckImports("import json\nprint(1)\n")
	assert.True(t, res.Valid, "playwright only required when used")
}

func TestCheckStructure(t *testing.T) {
	res := CheckStructure(goodScript)
	assert.True(t, res.Valid, res.Issues)

	res = CheckStructure("print('hi')")
	assert.False(t, res.Valid)
	assert.False(t, res.HasMainFunction)
	assert.False(t, res.HasJSONOutput)
	assert.False(t, res.HasErrorHandling)
	assert.Len(t, res.Issues, 4)

	res = CheckStructure("def main():\n    sync_playwright()\n")
	assert.Contains(t, res.Issues, "Browser not properly closed. Add browser.close() to prevent resource leaks.")

	res = CheckStructure("async def main():\n    await page.goto('x')\n")
	assert.Contains(t, res.Issues, "Code uses async API. Use sync_playwright with sync API instead.")
}

func TestInjectDryRunExit(t *testing.T) {
	out, injected := InjectDryRunExit(goodScript)
	require.True(t, injected)

	lines := strings.Split(out, "\n")
	idx := -1
	for i, l := range lines {
		if strings.Contains(l, "browser.new_page()") {
			idx = i
			break
		}
	}
	require.NotEqual(t, -1, idx)
	assert.Equal(t, "            # dry run: stop after initialization", lines[idx+1])
	assert.Equal(t, "            raise SystemExit(0)", lines[idx+4])
	assert.Contains(t, out, `page.goto("https://example.com")`, "rest of the script is kept")
	assert.True(t, NewSyntaxChecker().Check(context.Background(), out).Valid)

	plain := "import json\nprint(json.dumps([]))\n"
	out, injected = InjectDryRunExit(plain)
	assert.False(t, injected)
	assert.Equal(t, plain, out)
}

func TestVerify_EmptyCode(t *testing.T) {
	runner := &fakeRunner{}
	r := NewVerifier(runner, time.Second).Verify(context.Background(), "")
	assert.Equal(t, StatusFailed, r.Status)
	assert.False(t, r.CanProceed)
	assert.Equal(t, "No code generated for verification", r.Error)
	assert.Empty(t, runner.codes)
}

func TestVerify_Passed(t *testing.T) {
	runner := &fakeRunner{result: &tactile.ScriptResult{Success: true}}
	r := NewVerifier(runner, time.Second).Verify(context.Background(), goodScript)

	assert.Equal(t, StatusPassed, r.Status)
	assert.True(t, r.CanProceed)
	assert.True(t, r.SyntaxValid())
	assert.True(t, r.ImportsOK())
	assert.Empty(t, r.StructureIssues())
	assert.True(t, r.DryRunSuccess())
	assert.True(t, r.DryRun.Injected)
	require.Len(t, runner.codes, 1)
	assert.Contains(t, runner.codes[0], "raise SystemExit(0)")
	assert.Empty(t, r.Warnings)
	assert.Empty(t, r.Recommendations)
}

func TestVerify_WarningStillProceeds(t *testing.T) {
	runner := &fakeRunner{result: &tactile.ScriptResult{Success: true}}
	r := NewVerifier(runner, time.Second).Verify(context.Background(), "print('hi')\n")

	assert.Equal(t, StatusWarning, r.Status)
	assert.True(t, r.CanProceed)
	assert.Equal(t, "Missing imports: json", r.Warnings[0])
	assert.Contains(t, r.Recommendations, "Add missing import statements")
	assert.Contains(t, r.Recommendations, "Add a main() or scrape() function")
}

func TestVerify_SyntaxErrorSkipsDryRun(t *testing.T) {
	runner := &fakeRunner{result: &tactile.ScriptResult{Success: true}}
	r := NewVerifier(runner, time.Second).Verify(context.Background(), "def f(:\n")

	assert.Equal(t, StatusFailed, r.Status)
	assert.False(t, r.CanProceed)
	assert.True(t, r.DryRun.Skipped)
	assert.Empty(t, runner.codes)
	assert.True(t, strings.HasPrefix(r.Recommendations[0], "Fix syntax error: Syntax error at line 1"))
}

func TestVerify_DryRunFailure(t *testing.T) {
	runner := &fakeRunner{result: &tactile.ScriptResult{Error: "ModuleNotFoundError: No module named 'playwright'"}}
	r := NewVerifier(runner, time.Second).Verify(context.Background(), goodScript)

	assert.Equal(t, StatusFailed, r.Status)
	assert.False(t, r.CanProceed)
	assert.Contains(t, r.Recommendations, "Fix execution error: ModuleNotFoundError: No module named 'playwright'")
}

func TestVerify_NoRunner(t *testing.T) {
	r := NewVerifier(nil, 0).Verify(context.Background(), goodScript)
	assert.False(t, r.CanProceed)
	assert.Equal(t, "no sandbox available for dry run", r.DryRun.Error)
}

func TestVerify_RealDryRunStopsAfterNewPage(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	script := `import json

class FakeBrowser:
    def new_page(self):
        return object()
    def close(self):
        print("closed")

def main():
    browser = FakeBrowser()
    try:
        page = browser.new_page()
        print(json.dumps({"results": [{"title": "should not run"}]}))
    except Exception:
        pass

main()
`
	sandbox := tactile.NewSandbox(tactile.DefaultSandboxConfig(), nil)
	r := NewVerifier(sandbox, 10*time.Second).Verify(context.Background(), script)

	require.True(t, r.DryRun.Success, r.DryRun.Error)
	assert.True(t, r.CanProceed)
	out, ok := r.DryRun.Output.(string)
	require.True(t, ok, "mixed stdout falls back to text")
	assert.Contains(t, out, `"dry_run": "success"`)
	assert.Contains(t, out, "closed")
	assert.NotContains(t, out, "should not run")
}
