package soal

import (
	"sort"
	"sync"
)

// Knowledge is what one task learns while repairing itself. It is not
// persisted; the reflection memory covers cross-task learning.
type Knowledge struct {
	mu               sync.RWMutex
	alpha            float64
	workingSelectors map[string]string
	failedPatterns   []string
	strategyScores   map[string]float64
}

const initialScore = 0.5

// NewKnowledge creates empty knowledge. alpha is the EMA weight of each new
// outcome; values outside (0,1] fall back to 0.3.
func NewKnowledge(alpha float64) *Knowledge {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &Knowledge{
		alpha:            alpha,
		workingSelectors: map[string]string{},
		strategyScores:   map[string]float64{},
	}
}

// RecordSelector remembers a selector that produced data for field.
func (k *Knowledge) RecordSelector(field, selector string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.workingSelectors[field] = selector
}

// RecordFailure remembers a pattern that did not work.
func (k *Knowledge) RecordFailure(pattern string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range k.failedPatterns {
		if p == pattern {
			return
		}
	}
	k.failedPatterns = append(k.failedPatterns, pattern)
}

// UpdateStrategy folds one outcome into the strategy's score.
func (k *Knowledge) UpdateStrategy(name string, success bool) float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	score, ok := k.strategyScores[name]
	if !ok {
		score = initialScore
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	score = (1-k.alpha)*score + k.alpha*outcome
	k.strategyScores[name] = score
	return score
}

// Score returns a strategy's score, 0.5 when never tried.
func (k *Knowledge) Score(name string) float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if s, ok := k.strategyScores[name]; ok {
		return s
	}
	return initialScore
}

// WorkingSelectors returns a copy of the field to selector map.
func (k *Knowledge) WorkingSelectors() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]string, len(k.workingSelectors))
	for f, s := range k.workingSelectors {
		out[f] = s
	}
	return out
}

// FailedPatterns returns failed patterns in insertion order.
func (k *Knowledge) FailedPatterns() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]string(nil), k.failedPatterns...)
}

// Strategies lists scored strategies by name.
func (k *Knowledge) Strategies() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.strategyScores))
	for n := range k.strategyScores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
