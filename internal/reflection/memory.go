package reflection

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"reconagent/internal/logging"

	"github.com/google/uuid"
)

// Reflection is the input to Record.
type Reflection struct {
	URL string
	// Domain overrides the host derived from URL.
	Domain              string
	WebsiteType         string
	AntiBotLevel        string
	FailureType         string
	RootCause           string
	SuggestedFix        string
	AttemptedStrategies []string
	PartialSuccess      PartialSuccess
	ExecutionSuccess    bool
	DataExtracted       int
}

// Memory is the shared reflection memory. It is safe for concurrent use;
// every Record is a single critical section covering the index update and
// the storage write.
type Memory struct {
	mu      sync.RWMutex
	storage Storage
	store   *Store
	now     func() time.Time
}

// NewMemory loads the store from storage.
func NewMemory(storage Storage) (*Memory, error) {
	if storage == nil {
		return nil, ErrNoStorage
	}
	store, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("load reflection memory: %w", err)
	}
	logging.Memory("reflection memory loaded: %d reflections, %d domains", len(store.Reflections), len(store.DomainInsights))
	return &Memory{storage: storage, store: store, now: time.Now}, nil
}

// Record appends a reflection, updates the indexes and persists. The entry
// stays in memory even when the save fails; the save error is returned.
func (m *Memory) Record(r Reflection) (Entry, error) {
	domain := r.Domain
	if domain == "" {
		domain = domainOf(r.URL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := Entry{
		ID:                  uuid.NewString(),
		Timestamp:           m.now(),
		URL:                 r.URL,
		Domain:              domain,
		WebsiteType:         r.WebsiteType,
		AntiBotLevel:        r.AntiBotLevel,
		FailureType:         r.FailureType,
		RootCause:           r.RootCause,
		SuggestedFix:        r.SuggestedFix,
		AttemptedStrategies: append([]string{}, r.AttemptedStrategies...),
		PartialSuccess:      r.PartialSuccess,
		ExecutionSuccess:    r.ExecutionSuccess,
		DataExtracted:       r.DataExtracted,
	}
	m.store.apply(e)

	if err := m.storage.AppendAndSave(e, m.store.clone()); err != nil {
		logging.MemoryWarn("failed to persist reflection for %s: %v", domain, err)
		return e, fmt.Errorf("persist reflection: %w", err)
	}
	logging.Get(logging.CategoryReflect).Info("recorded reflection %s: domain=%s type=%s failure=%s",
		e.ID, domain, r.WebsiteType, r.FailureType)
	return e, nil
}

// domainOf returns the URL's host with port, or the input itself when it
// has no scheme.
func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

// Recommend ranks strategies tried for exactly this (type, level) pair by
// success ratio and returns the top three. Without history it returns the
// default table for the level.
func (m *Memory) Recommend(websiteType, antiBotLevel string) []string {
	m.mu.RLock()
	var relevant []StrategyStats
	for _, st := range m.store.StrategyEffectiveness {
		if st.WebsiteType == websiteType && st.AntiBotLevel == antiBotLevel {
			relevant = append(relevant, *st)
		}
	}
	m.mu.RUnlock()

	if len(relevant) == 0 {
		return DefaultStrategies(antiBotLevel)
	}

	sort.Slice(relevant, func(i, j int) bool {
		ri, rj := relevant[i].Ratio(), relevant[j].Ratio()
		if ri != rj {
			return ri > rj
		}
		if relevant[i].TotalCount != relevant[j].TotalCount {
			return relevant[i].TotalCount > relevant[j].TotalCount
		}
		return relevant[i].Strategy < relevant[j].Strategy
	})
	if len(relevant) > 3 {
		relevant = relevant[:3]
	}
	out := make([]string, len(relevant))
	for i, st := range relevant {
		out[i] = st.Strategy
	}
	return out
}

var defaultStrategies = map[string][]string{
	"none": {
		"Use basic Playwright browser",
		"Wait for page load with wait_for_selector",
		"Extract data with standard selectors",
	},
	"low": {
		"Use random User-Agent",
		"Add small delays (1-2s)",
		"Use standard CSS selectors",
	},
	"medium": {
		"Use stealth browser with anti-detection",
		"Add random delays (2-4s)",
		"Use more specific selectors",
		"Wait for dynamic content",
	},
	"high": {
		"Use maximum stealth configuration",
		"Add longer random delays (3-6s)",
		"Use XPath or complex selectors",
		"Handle CAPTCHA challenges",
		"Rotate IP addresses if needed",
	},
}

// DefaultStrategies returns the static strategies for an anti-bot level;
// unknown levels get the medium set.
func DefaultStrategies(antiBotLevel string) []string {
	list, ok := defaultStrategies[antiBotLevel]
	if !ok {
		list = defaultStrategies["medium"]
	}
	return append([]string{}, list...)
}

// ShouldSwitch reports whether the current strategies are all known to fail
// on the domain while some other strategy is known to work there. A domain
// with no history never triggers a switch.
func (m *Memory) ShouldSwitch(current []string, domain string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.store.DomainInsights[domain]
	if !ok || len(d.WorkingStrategies) == 0 {
		return false
	}
	failing := make(map[string]bool, len(d.NonWorkingStrategies))
	for _, s := range d.NonWorkingStrategies {
		failing[s] = true
	}
	for _, s := range current {
		if !failing[s] {
			return false
		}
	}
	return true
}

// DomainInsight returns a copy of the insight for a domain.
func (m *Memory) DomainInsight(domain string) (DomainInsight, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.store.DomainInsights[domain]
	if !ok {
		return DomainInsight{}, false
	}
	return *d.clone(), true
}

// RecentReflections returns up to limit entries, newest first, optionally
// filtered by domain ("" means all).
func (m *Memory) RecentReflections(domain string, limit int) []Entry {
	m.mu.RLock()
	var out []Entry
	for _, e := range m.store.Reflections {
		if domain == "" || e.Domain == domain {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	// Stable and reversed first so equal timestamps keep newest-appended first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FailureCount is a failure type with its frequency.
type FailureCount struct {
	FailureType string `json:"failure_type"`
	Count       int    `json:"count"`
}

// TypeInsights aggregates reflections for one website type.
type TypeInsights struct {
	WebsiteType           string         `json:"website_type"`
	TotalAttempts         int            `json:"total_attempts"`
	SuccessRate           float64        `json:"success_rate"`
	CommonFailures        []FailureCount `json:"common_failures"`
	RecommendedStrategies []string       `json:"recommended_strategies"`
}

// WebsiteTypeInsights aggregates every reflection recorded for a type.
func (m *Memory) WebsiteTypeInsights(websiteType string) TypeInsights {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ti := TypeInsights{WebsiteType: websiteType, CommonFailures: []FailureCount{}, RecommendedStrategies: []string{}}
	counts := map[string]int{}
	working := map[string]bool{}
	successes := 0
	for _, e := range m.store.Reflections {
		if e.WebsiteType != websiteType {
			continue
		}
		ti.TotalAttempts++
		counts[e.FailureType]++
		if e.ExecutionSuccess {
			successes++
			for _, s := range e.AttemptedStrategies {
				working[s] = true
			}
		}
	}
	if ti.TotalAttempts == 0 {
		return ti
	}

	ti.SuccessRate = float64(successes) / float64(ti.TotalAttempts)
	for ft, c := range counts {
		ti.CommonFailures = append(ti.CommonFailures, FailureCount{FailureType: ft, Count: c})
	}
	sort.Slice(ti.CommonFailures, func(i, j int) bool {
		if ti.CommonFailures[i].Count != ti.CommonFailures[j].Count {
			return ti.CommonFailures[i].Count > ti.CommonFailures[j].Count
		}
		return ti.CommonFailures[i].FailureType < ti.CommonFailures[j].FailureType
	})
	for s := range working {
		ti.RecommendedStrategies = append(ti.RecommendedStrategies, s)
	}
	sort.Strings(ti.RecommendedStrategies)
	return ti
}

// Summary is an overview of the whole memory.
type Summary struct {
	TotalReflections        int            `json:"total_reflections"`
	TotalDomains            int            `json:"total_domains"`
	TotalStrategiesTracked  int            `json:"total_strategies_tracked"`
	OverallSuccessRate      float64        `json:"overall_success_rate"`
	WebsiteTypeDistribution map[string]int `json:"website_type_distribution"`
}

// Summary computes overall statistics.
func (m *Memory) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		TotalReflections:        len(m.store.Reflections),
		TotalDomains:            len(m.store.DomainInsights),
		TotalStrategiesTracked:  len(m.store.StrategyEffectiveness),
		WebsiteTypeDistribution: map[string]int{},
	}
	successes := 0
	for _, e := range m.store.Reflections {
		if e.ExecutionSuccess {
			successes++
		}
		s.WebsiteTypeDistribution[e.WebsiteType]++
	}
	if s.TotalReflections > 0 {
		s.OverallSuccessRate = float64(successes) / float64(s.TotalReflections)
	}
	return s
}

// Snapshot returns a deep copy of the current store.
func (m *Memory) Snapshot() *Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.clone()
}

// Reload replaces in-memory state with what storage holds now. The load and
// the swap are one critical section with Record, so a reflection recorded
// concurrently is either in the loaded snapshot or applied on top of it.
func (m *Memory) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, err := m.storage.Load()
	if err != nil {
		return fmt.Errorf("reload reflection memory: %w", err)
	}
	m.store = store
	logging.MemoryDebug("reflection memory reloaded: %d reflections", len(store.Reflections))
	return nil
}

// Watch reloads the memory whenever the storage reports an external change.
// It blocks until ctx is done. Storages that cannot watch return an error.
func (m *Memory) Watch(ctx context.Context) error {
	w, ok := m.storage.(Watcher)
	if !ok {
		return fmt.Errorf("reflection storage %T does not support watching", m.storage)
	}
	return w.Watch(ctx, func() {
		if err := m.Reload(); err != nil {
			logging.MemoryWarn("%v", err)
		}
	})
}
