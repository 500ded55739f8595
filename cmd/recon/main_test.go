package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reconagent/internal/browser"
	"reconagent/internal/config"
	"reconagent/internal/recon"
)

const shopPage = `<html><head><title>Gadgets</title></head><body>
<div class="product"><h2 class="name">Phone</h2><span class="price">$199</span><button>Add to cart</button></div>
<div class="product"><h2 class="name">Tablet</h2><span class="price">$299</span><button>Buy now</button></div>
<a href="/checkout">Checkout</a>
<a href="/trap" style="display:none">secret</a>
</body></html>`

func setup(t *testing.T) {
	t.Helper()
	logger = zap.NewNop()
	cfg = config.DefaultConfig()
	cfg.Pipeline.Workspace = t.TempDir()
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTasks(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		want    []recon.Task
		wantErr string
	}{
		{
			name: "yaml",
			file: "tasks.yaml",
			body: "- url: https://a.example\n  goal: titles\n- url: https://b.example\n  goal: prices\n",
			want: []recon.Task{{URL: "https://a.example", Goal: "titles"}, {URL: "https://b.example", Goal: "prices"}},
		},
		{
			name: "json",
			file: "tasks.json",
			body: `[{"url": "https://a.example", "goal": "titles"}]`,
			want: []recon.Task{{URL: "https://a.example", Goal: "titles"}},
		},
		{
			name:    "missing url",
			file:    "tasks.yaml",
			body:    "- goal: titles\n",
			wantErr: "task 1 has no url",
		},
		{
			name:    "empty list",
			file:    "tasks.yaml",
			body:    "[]\n",
			wantErr: "no tasks",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadTasks(writeFile(t, tt.file, tt.body))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("tasks (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadTasks_MissingFile(t *testing.T) {
	_, err := loadTasks(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read tasks")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	d := config.DefaultConfig()
	assert.Equal(t, d.Name+" "+d.Version+"\n", out.String())
}

func TestClassifyObservation(t *testing.T) {
	setup(t)
	o := &browser.Observation{
		URL:      "https://shop.example.com/",
		FinalURL: "https://shop.example.com/home",
		Status:   200,
		Title:    "Gadgets",
		HTML:     shopPage,
		Source:   "http",
	}

	res := classifyObservation(o, "search for tablets")
	assert.Equal(t, "https://shop.example.com/home", res.FinalURL)
	assert.Equal(t, recon.TypeEcommerce, res.Classification.Type)
	assert.Equal(t, recon.AntiBotNone, res.AntiBot.Level)
	assert.Equal(t, recon.AntiBotNone, res.Stealth.Level)
	assert.Contains(t, res.Features, "https")
	assert.False(t, res.RequiresInteraction, "no form or load-more control on the page")
	assert.Equal(t, 1, res.Honeypots)
}

func TestClassifyObservation_NoGoalSkipsInteraction(t *testing.T) {
	setup(t)
	o := &browser.Observation{URL: "https://x.example/", HTML: `<form><input name="q"></form>`}
	res := classifyObservation(o, "")
	assert.False(t, res.RequiresInteraction)
	assert.Equal(t, "https://x.example/", res.FinalURL)
}

func TestValidatePage(t *testing.T) {
	setup(t)
	o := &browser.Observation{URL: "https://shop.example.com/", HTML: shopPage}

	report, err := validatePage(context.Background(), o, "", []string{"h2.name", "span.price", ".missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"h2.name", "span.price"}, report.ValidSelectors)
	assert.Equal(t, []string{".missing"}, report.InvalidSelector)
	assert.Equal(t, 3, report.TotalTested)
}

func TestValidatePage_SuggestsWhenEmpty(t *testing.T) {
	setup(t)
	o := &browser.Observation{URL: "https://shop.example.com/", HTML: shopPage}

	report, err := validatePage(context.Background(), o, "product prices", nil)
	require.NoError(t, err)
	assert.NotZero(t, report.TotalTested)
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJSON(&out, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", out.String())
}

func TestOpenMemory_EmptyStore(t *testing.T) {
	setup(t)
	mem, err := openMemory()
	require.NoError(t, err)
	assert.Zero(t, mem.Summary().TotalReflections)
	_, ok := mem.DomainInsight("example.com")
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(cfg.MemoryPath(), cfg.Pipeline.Workspace))
}
