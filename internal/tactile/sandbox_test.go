package tactile

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func newTestSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	prefix := "recontest_" + uuid.NewString()[:8] + "_"
	cfg := DefaultSandboxConfig()
	cfg.DirPrefix = prefix
	return NewSandbox(cfg, nil), prefix
}

func assertScratchRemoved(t *testing.T, prefix string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), prefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "scratch directories must be removed")
}

func TestSandbox_NonJSONOutput(t *testing.T) {
	requirePython(t)
	sb, prefix := newTestSandbox(t)

	res := sb.Run(context.Background(), "print('not json')", 5*time.Second)

	assert.True(t, res.Success)
	assert.Equal(t, "not json", res.ParsedData)
	assert.Empty(t, res.Error)
	assertScratchRemoved(t, prefix)
}

func TestSandbox_JSONOutput(t *testing.T) {
	requirePython(t)
	sb, prefix := newTestSandbox(t)

	code := `import json
print("loading page")
print(json.dumps({"results": [{"title": "a"}, {"title": "b"}], "metadata": {"total": 2}}))
`
	res := sb.Run(context.Background(), code, 5*time.Second)

	require.True(t, res.Success, res.Error)
	records := ExtractRecords(res.ParsedData)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0]["title"])
	assert.Equal(t, float64(2), Metadata(res.ParsedData)["total"])
	assertScratchRemoved(t, prefix)
}

func TestSandbox_Failure(t *testing.T) {
	requirePython(t)
	sb, prefix := newTestSandbox(t)

	res := sb.Run(context.Background(), "raise ValueError('boom')", 5*time.Second)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Error, "ValueError: boom")
	assert.Contains(t, res.Stderr, "Traceback")
	assertScratchRemoved(t, prefix)
}

func TestSandbox_Timeout(t *testing.T) {
	requirePython(t)
	sb, prefix := newTestSandbox(t)

	start := time.Now()
	res := sb.Run(context.Background(), "import time\ntime.sleep(30)\n", time.Second)

	assert.False(t, res.Success)
	assert.True(t, res.Killed)
	assert.Equal(t, "timeout after 1s", res.Error)
	assert.Less(t, time.Since(start), 10*time.Second)
	assertScratchRemoved(t, prefix)
}

func TestSandbox_CancelKillsScript(t *testing.T) {
	requirePython(t)
	sb, prefix := newTestSandbox(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	res := sb.Run(ctx, "import time\ntime.sleep(30)\n", 30*time.Second)

	assert.False(t, res.Success)
	assert.True(t, res.Killed)
	assert.Contains(t, res.Error, "cancelled")
	assert.Less(t, time.Since(start), 10*time.Second)
	assertScratchRemoved(t, prefix)
}

func TestSandbox_EmptyScript(t *testing.T) {
	sb, _ := newTestSandbox(t)

	res := sb.Run(context.Background(), "   \n", time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, ErrEmptyScript.Error(), res.Error)
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   any
	}{
		{"empty", "", nil},
		{"whitespace", "  \n ", nil},
		{"plain text", "not json\n", "not json"},
		{"object", `{"a": 1}`, map[string]any{"a": float64(1)}},
		{"array", `[1, 2]`, []any{float64(1), float64(2)}},
		{"log then json", "step 1\n{\"ok\": true}\n", map[string]any{"ok": true}},
		{"json then log", "{\"ok\": true}\ndone", "{\"ok\": true}\ndone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOutput(tt.stdout))
		})
	}
}

func TestExtractRecords(t *testing.T) {
	tests := []struct {
		name   string
		parsed any
		want   int
	}{
		{"nil", nil, 0},
		{"string", "not json", 0},
		{"results wrapper", map[string]any{"results": []any{map[string]any{"t": "x"}}}, 1},
		{"missing results", map[string]any{"data": []any{}}, 0},
		{"bare list", []any{map[string]any{"t": "x"}, map[string]any{"t": "y"}}, 2},
		{"skips scalars", []any{"x", map[string]any{"t": "y"}, 3.0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ExtractRecords(tt.parsed), tt.want)
		})
	}
}
