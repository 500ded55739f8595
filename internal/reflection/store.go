// Package reflection keeps the process-wide memory of past failures: a raw
// reflection log plus two derived indexes (per-domain insights and
// per-(website type, anti-bot level, strategy) effectiveness counters).
//
// All writes go through Memory, which serializes the read-modify-write of
// the indexes and the storage write behind one mutex.
package reflection

import (
	"errors"
	"time"
)

// ErrNoStorage is returned when a Memory is built without a storage backend.
var ErrNoStorage = errors.New("reflection: no storage configured")

// Entry is one reflection in the append-only log.
type Entry struct {
	ID                  string         `json:"id"`
	Timestamp           time.Time      `json:"timestamp"`
	URL                 string         `json:"url"`
	Domain              string         `json:"domain"`
	WebsiteType         string         `json:"website_type"`
	AntiBotLevel        string         `json:"anti_bot_level"`
	FailureType         string         `json:"failure_type"`
	RootCause           string         `json:"root_cause"`
	SuggestedFix        string         `json:"suggested_fix"`
	AttemptedStrategies []string       `json:"attempted_strategies"`
	PartialSuccess      PartialSuccess `json:"partial_success_data"`
	ExecutionSuccess    bool           `json:"execution_success"`
	DataExtracted       int            `json:"data_extracted"`
}

// DomainInsight accumulates what has been learned about one domain.
type DomainInsight struct {
	Domain               string         `json:"domain"`
	WebsiteType          string         `json:"website_type"`
	AntiBotLevel         string         `json:"anti_bot_level"`
	AttemptCount         int            `json:"attempt_count"`
	SuccessCount         int            `json:"success_count"`
	CommonFailures       map[string]int `json:"common_failures"`
	WorkingStrategies    []string       `json:"working_strategies"`
	NonWorkingStrategies []string       `json:"non_working_strategies"`
}

// StrategyStats counts outcomes of one strategy for one (type, level) pair.
type StrategyStats struct {
	SuccessCount int    `json:"success_count"`
	TotalCount   int    `json:"total_count"`
	WebsiteType  string `json:"website_type"`
	AntiBotLevel string `json:"anti_bot_level"`
	Strategy     string `json:"strategy"`
}

// Ratio is the historical success ratio.
func (s StrategyStats) Ratio() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalCount)
}

// Store is the persisted document.
type Store struct {
	Reflections           []Entry                   `json:"reflections"`
	DomainInsights        map[string]*DomainInsight `json:"domain_insights"`
	StrategyEffectiveness map[string]*StrategyStats `json:"strategy_effectiveness"`
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Reflections:           []Entry{},
		DomainInsights:        map[string]*DomainInsight{},
		StrategyEffectiveness: map[string]*StrategyStats{},
	}
}

// normalize fills nil collections left by a partial document.
func (s *Store) normalize() {
	if s.Reflections == nil {
		s.Reflections = []Entry{}
	}
	if s.DomainInsights == nil {
		s.DomainInsights = map[string]*DomainInsight{}
	}
	if s.StrategyEffectiveness == nil {
		s.StrategyEffectiveness = map[string]*StrategyStats{}
	}
	for _, d := range s.DomainInsights {
		if d.CommonFailures == nil {
			d.CommonFailures = map[string]int{}
		}
	}
}

func strategyKey(websiteType, antiBotLevel, strategy string) string {
	return websiteType + ":" + antiBotLevel + ":" + strategy
}

// apply appends the entry and updates both indexes.
func (s *Store) apply(e Entry) {
	s.Reflections = append(s.Reflections, e)

	d, ok := s.DomainInsights[e.Domain]
	if !ok {
		d = &DomainInsight{
			Domain:               e.Domain,
			WebsiteType:          e.WebsiteType,
			AntiBotLevel:         e.AntiBotLevel,
			CommonFailures:       map[string]int{},
			WorkingStrategies:    []string{},
			NonWorkingStrategies: []string{},
		}
		s.DomainInsights[e.Domain] = d
	}
	d.AttemptCount++
	if e.ExecutionSuccess {
		d.SuccessCount++
	}
	d.CommonFailures[e.FailureType]++
	for _, strategy := range e.AttemptedStrategies {
		if e.ExecutionSuccess {
			d.WorkingStrategies = appendUnique(d.WorkingStrategies, strategy)
		} else {
			d.NonWorkingStrategies = appendUnique(d.NonWorkingStrategies, strategy)
		}
	}

	for _, strategy := range e.AttemptedStrategies {
		key := strategyKey(e.WebsiteType, e.AntiBotLevel, strategy)
		st, ok := s.StrategyEffectiveness[key]
		if !ok {
			st = &StrategyStats{WebsiteType: e.WebsiteType, AntiBotLevel: e.AntiBotLevel, Strategy: strategy}
			s.StrategyEffectiveness[key] = st
		}
		st.TotalCount++
		if e.ExecutionSuccess {
			st.SuccessCount++
		}
	}
}

// clone deep-copies the store so snapshots handed to storage or callers
// never alias live state.
func (s *Store) clone() *Store {
	out := &Store{
		Reflections:           make([]Entry, len(s.Reflections)),
		DomainInsights:        make(map[string]*DomainInsight, len(s.DomainInsights)),
		StrategyEffectiveness: make(map[string]*StrategyStats, len(s.StrategyEffectiveness)),
	}
	for i, e := range s.Reflections {
		e.AttemptedStrategies = append([]string(nil), e.AttemptedStrategies...)
		out.Reflections[i] = e
	}
	for k, d := range s.DomainInsights {
		out.DomainInsights[k] = d.clone()
	}
	for k, st := range s.StrategyEffectiveness {
		c := *st
		out.StrategyEffectiveness[k] = &c
	}
	return out
}

func (d *DomainInsight) clone() *DomainInsight {
	c := *d
	c.CommonFailures = make(map[string]int, len(d.CommonFailures))
	for k, v := range d.CommonFailures {
		c.CommonFailures[k] = v
	}
	c.WorkingStrategies = append([]string{}, d.WorkingStrategies...)
	c.NonWorkingStrategies = append([]string{}, d.NonWorkingStrategies...)
	return &c
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
