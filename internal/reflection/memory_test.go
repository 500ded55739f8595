package reflection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stepClock returns increasing timestamps one second apart.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory(NewInMemoryStorage())
	require.NoError(t, err)
	m.now = stepClock()
	return m
}

func TestNewMemory_NoStorage(t *testing.T) {
	_, err := NewMemory(nil)
	assert.ErrorIs(t, err, ErrNoStorage)
}

func TestRecord_UpdatesIndexes(t *testing.T) {
	m := newTestMemory(t)

	_, err := m.Record(Reflection{
		URL: "https://shop.example.com/list", WebsiteType: "ecommerce", AntiBotLevel: "low",
		FailureType: "selector_error", AttemptedStrategies: []string{"playwright", "css"},
	})
	require.NoError(t, err)
	_, err = m.Record(Reflection{
		URL: "https://shop.example.com/list?page=2", WebsiteType: "ecommerce", AntiBotLevel: "low",
		FailureType: "none", AttemptedStrategies: []string{"stealth", "css"}, ExecutionSuccess: true,
	})
	require.NoError(t, err)

	d, ok := m.DomainInsight("shop.example.com")
	require.True(t, ok)
	assert.Equal(t, 2, d.AttemptCount)
	assert.Equal(t, 1, d.SuccessCount)
	assert.Equal(t, map[string]int{"selector_error": 1, "none": 1}, d.CommonFailures)
	assert.Equal(t, []string{"stealth", "css"}, d.WorkingStrategies)
	assert.Equal(t, []string{"playwright", "css"}, d.NonWorkingStrategies)

	snap := m.Snapshot()
	css := snap.StrategyEffectiveness["ecommerce:low:css"]
	require.NotNil(t, css)
	assert.Equal(t, 2, css.TotalCount)
	assert.Equal(t, 1, css.SuccessCount)
	assert.Len(t, snap.Reflections, 2)
}

func TestRecord_DomainOverride(t *testing.T) {
	m := newTestMemory(t)
	e, err := m.Record(Reflection{URL: "not a url", Domain: "example.org"})
	require.NoError(t, err)
	assert.Equal(t, "example.org", e.Domain)

	e, err = m.Record(Reflection{URL: "example.net/path"})
	require.NoError(t, err)
	assert.Equal(t, "example.net/path", e.Domain, "schemeless input is kept as the domain")

	e, err = m.Record(Reflection{URL: "http://localhost:8080/x"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", e.Domain)
}

func TestRecommend(t *testing.T) {
	m := newTestMemory(t)

	assert.Equal(t, DefaultStrategies("high"), m.Recommend("news", "high"), "no history falls back to defaults")
	assert.Equal(t, DefaultStrategies("medium"), m.Recommend("news", "weird"))

	record := func(strategy string, success bool) {
		_, err := m.Record(Reflection{URL: "https://n.example", WebsiteType: "news", AntiBotLevel: "none",
			AttemptedStrategies: []string{strategy}, ExecutionSuccess: success})
		require.NoError(t, err)
	}
	record("a", false)
	record("b", true)
	record("c", true)
	record("c", false)
	record("d", false)
	record("d", false)

	// b=1.0, c=0.5, then a and d tie at 0; d has more attempts.
	assert.Equal(t, []string{"b", "c", "d"}, m.Recommend("news", "none"))
	assert.Equal(t, DefaultStrategies("none"), m.Recommend("blog", "none"), "exact pair only")
}

func TestRecommend_OnlyKnownStrategies(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.Record(Reflection{URL: "https://x.io", WebsiteType: "blog", AntiBotLevel: "low", AttemptedStrategies: []string{"s1", "s2"}})
	require.NoError(t, err)

	known := map[string]bool{"s1": true, "s2": true}
	for _, s := range DefaultStrategies("low") {
		known[s] = true
	}
	for _, pair := range [][2]string{{"blog", "low"}, {"blog", "high"}, {"other", "low"}} {
		for _, s := range m.Recommend(pair[0], pair[1]) {
			inDefaults := false
			for _, d := range DefaultStrategies(pair[1]) {
				inDefaults = inDefaults || d == s
			}
			assert.True(t, known[s] || inDefaults, "unexpected strategy %q", s)
		}
	}
}

func TestShouldSwitch(t *testing.T) {
	m := newTestMemory(t)
	assert.False(t, m.ShouldSwitch([]string{"a"}, "unknown.com"), "no history")

	_, err := m.Record(Reflection{Domain: "d.com", AttemptedStrategies: []string{"a", "b"}})
	require.NoError(t, err)
	assert.False(t, m.ShouldSwitch([]string{"a"}, "d.com"), "nothing known to work")

	_, err = m.Record(Reflection{Domain: "d.com", AttemptedStrategies: []string{"c"}, ExecutionSuccess: true})
	require.NoError(t, err)

	tests := []struct {
		current []string
		want    bool
	}{
		{[]string{"a"}, true},
		{[]string{"a", "b"}, true},
		{[]string{"a", "c"}, false},
		{[]string{"z"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.ShouldSwitch(tt.current, "d.com"), "%v", tt.current)
	}
}

func TestRecentReflections(t *testing.T) {
	m := newTestMemory(t)
	for i := 0; i < 4; i++ {
		_, err := m.Record(Reflection{Domain: fmt.Sprintf("d%d.com", i%2), RootCause: fmt.Sprint(i)})
		require.NoError(t, err)
	}

	all := m.RecentReflections("", 3)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"3", "2", "1"}, []string{all[0].RootCause, all[1].RootCause, all[2].RootCause})

	d0 := m.RecentReflections("d0.com", 10)
	require.Len(t, d0, 2)
	assert.Equal(t, "2", d0[0].RootCause)
	assert.Equal(t, "0", d0[1].RootCause)
}

func TestWebsiteTypeInsightsAndSummary(t *testing.T) {
	m := newTestMemory(t)

	empty := m.WebsiteTypeInsights("news")
	assert.Equal(t, 0, empty.TotalAttempts)
	assert.Empty(t, empty.CommonFailures)

	for _, r := range []Reflection{
		{Domain: "a.com", WebsiteType: "news", FailureType: "timeout"},
		{Domain: "a.com", WebsiteType: "news", FailureType: "timeout"},
		{Domain: "b.com", WebsiteType: "news", FailureType: "selector_error", ExecutionSuccess: true, AttemptedStrategies: []string{"z", "y"}},
		{Domain: "c.com", WebsiteType: "ecommerce", FailureType: "blocked", AttemptedStrategies: []string{"q"}},
	} {
		_, err := m.Record(r)
		require.NoError(t, err)
	}

	ti := m.WebsiteTypeInsights("news")
	want := TypeInsights{
		WebsiteType:   "news",
		TotalAttempts: 3,
		SuccessRate:   1.0 / 3,
		CommonFailures: []FailureCount{
			{FailureType: "timeout", Count: 2},
			{FailureType: "selector_error", Count: 1},
		},
		RecommendedStrategies: []string{"y", "z"},
	}
	if diff := cmp.Diff(want, ti); diff != "" {
		t.Errorf("WebsiteTypeInsights mismatch (-want +got):\n%s", diff)
	}

	s := m.Summary()
	assert.Equal(t, 4, s.TotalReflections)
	assert.Equal(t, 3, s.TotalDomains)
	assert.Equal(t, 3, s.TotalStrategiesTracked)
	assert.InDelta(t, 0.25, s.OverallSuccessRate, 1e-9)
	assert.Equal(t, map[string]int{"news": 3, "ecommerce": 1}, s.WebsiteTypeDistribution)
}

func TestSnapshotIsIsolated(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.Record(Reflection{Domain: "a.com", AttemptedStrategies: []string{"x"}})
	require.NoError(t, err)

	snap := m.Snapshot()
	snap.DomainInsights["a.com"].NonWorkingStrategies[0] = "mutated"
	snap.DomainInsights["a.com"].CommonFailures["new"] = 9

	d, _ := m.DomainInsight("a.com")
	assert.Equal(t, []string{"x"}, d.NonWorkingStrategies)
	assert.NotContains(t, d.CommonFailures, "new")
}

type failingStorage struct{ *InMemoryStorage }

func (f *failingStorage) AppendAndSave(Entry, *Store) error { return fmt.Errorf("disk full") }

func TestRecord_SaveFailureKeepsEntry(t *testing.T) {
	m, err := NewMemory(&failingStorage{InMemoryStorage: NewInMemoryStorage()})
	require.NoError(t, err)

	_, err = m.Record(Reflection{Domain: "a.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, m.Summary().TotalReflections)
}

func TestMemory_ConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem", "reflections.json")
	m, err := NewMemory(NewFileStorage(path))
	require.NoError(t, err)

	const writers = 40
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Record(Reflection{
				Domain: "shared.com", WebsiteType: "news", AntiBotLevel: "low",
				FailureType: "timeout", AttemptedStrategies: []string{"s"}, ExecutionSuccess: i%2 == 0,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	reloaded, err := NewFileStorage(path).Load()
	require.NoError(t, err)
	assert.Len(t, reloaded.Reflections, writers)
	st := reloaded.StrategyEffectiveness["news:low:s"]
	require.NotNil(t, st)
	assert.Equal(t, writers, st.TotalCount)
	assert.Equal(t, writers/2, st.SuccessCount)
	assert.Equal(t, writers, reloaded.DomainInsights["shared.com"].AttemptCount)
}

// pausingStorage blocks the next Load after reading its snapshot until
// release is closed.
type pausingStorage struct {
	*InMemoryStorage
	loaded  chan struct{}
	release chan struct{}
	pause   bool
}

func (p *pausingStorage) Load() (*Store, error) {
	st, err := p.InMemoryStorage.Load()
	if p.pause {
		p.pause = false
		close(p.loaded)
		<-p.release
	}
	return st, err
}

func TestMemory_ReloadDoesNotLoseConcurrentRecord(t *testing.T) {
	storage := &pausingStorage{
		InMemoryStorage: NewInMemoryStorage(),
		loaded:          make(chan struct{}),
		release:         make(chan struct{}),
	}
	m, err := NewMemory(storage)
	require.NoError(t, err)

	rec := Reflection{Domain: "a.com", WebsiteType: "news", AntiBotLevel: "low", AttemptedStrategies: []string{"s"}}
	_, err = m.Record(rec)
	require.NoError(t, err)

	storage.pause = true
	reloaded := make(chan error, 1)
	go func() { reloaded <- m.Reload() }()
	<-storage.loaded

	recorded := make(chan error, 1)
	go func() {
		_, err := m.Record(rec)
		recorded <- err
	}()
	select {
	case <-recorded:
		t.Fatal("Record finished while a reload was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(storage.release)
	require.NoError(t, <-reloaded)
	require.NoError(t, <-recorded)

	_, err = m.Record(rec)
	require.NoError(t, err)

	assert.Equal(t, 3, m.Summary().TotalReflections)
	persisted, err := storage.InMemoryStorage.Load()
	require.NoError(t, err)
	assert.Len(t, persisted.Reflections, 3)
	assert.Equal(t, 3, persisted.StrategyEffectiveness["news:low:s"].TotalCount)
}

func TestAnalyzePartialSuccess(t *testing.T) {
	ps := AnalyzePartialSuccess(true, "", nil)
	assert.True(t, ps.PartialSuccess)
	assert.Equal(t, 1.0, ps.SuccessRate)
	assert.Equal(t, []string{"Code executed successfully"}, ps.Strengths)

	ps = AnalyzePartialSuccess(false, "boom", nil)
	assert.False(t, ps.PartialSuccess)
	assert.Empty(t, ps.Issues)

	records := []map[string]any{
		{"title": "a", "price": ""},
		{"title": "a", "price": ""},
		{"title": "b", "price": "1"},
	}
	ps = AnalyzePartialSuccess(false, "", records)
	assert.True(t, ps.PartialSuccess)
	assert.Equal(t, 0.5, ps.SuccessRate)
	assert.Equal(t, 3, ps.RecordCount)
	assert.InDelta(t, 4.0/6, ps.Completeness, 1e-9)
	assert.InDelta(t, 1.0/3, ps.DuplicateRate, 1e-9)
	assert.Equal(t, []string{"price", "title"}, ps.WorkingFields)
	assert.Equal(t, []string{
		"Execution failed: Unknown",
		"High duplicate rate: 33.3%",
	}, ps.Issues)
	assert.Equal(t, []string{
		"Extracted 3 items despite error",
		"Good data completeness: 66.7%",
	}, ps.Strengths)
}

func TestFileStorage_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStorage(filepath.Join(dir, "r.json"))

	store, err := fs.Load()
	require.NoError(t, err)
	assert.Empty(t, store.Reflections)

	require.NoError(t, os.WriteFile(fs.Path(), []byte("{not json"), 0644))
	store, err = fs.Load()
	require.NoError(t, err)
	assert.Empty(t, store.Reflections)
	_, err = os.Stat(fs.Path() + ".corrupt")
	assert.NoError(t, err, "corrupt file is kept aside")

	require.NoError(t, os.WriteFile(fs.Path(), []byte(`{"reflections":[{"domain":"x.com"}]}`), 0644))
	store, err = fs.Load()
	require.NoError(t, err)
	assert.Len(t, store.Reflections, 1)
	assert.NotNil(t, store.DomainInsights, "partial document is normalized")
}

func TestFileStorage_RoundTripFormat(t *testing.T) {
	fs := NewFileStorage(filepath.Join(t.TempDir(), "r.json"))
	m, err := NewMemory(fs)
	require.NoError(t, err)
	_, err = m.Record(Reflection{Domain: "a.com", WebsiteType: "blog", AntiBotLevel: "none", AttemptedStrategies: []string{"s"}})
	require.NoError(t, err)

	raw, err := os.ReadFile(fs.Path())
	require.NoError(t, err)
	for _, key := range []string{`"reflections"`, `"domain_insights"`, `"strategy_effectiveness"`, `"blog:none:s"`} {
		assert.Contains(t, string(raw), key)
	}

	again, err := NewMemory(fs)
	require.NoError(t, err)
	if diff := cmp.Diff(m.Summary(), again.Summary()); diff != "" {
		t.Errorf("summary changed after reload (-before +after):\n%s", diff)
	}
}

func TestMemory_WatchReloadsExternalChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reflections.json")
	fs := NewFileStorage(path)
	fs.debounce = 10 * time.Millisecond

	m, err := NewMemory(fs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	external := NewStore()
	external.apply(Entry{Domain: "ext.com", WebsiteType: "news"})
	writer := NewFileStorage(path)

	require.Eventually(t, func() bool {
		assert.NoError(t, writer.AppendAndSave(Entry{}, external))
		return m.Summary().TotalReflections == 1
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestMemory_WatchUnsupported(t *testing.T) {
	m := newTestMemory(t)
	err := m.Watch(context.Background())
	require.Error(t, err)
}
