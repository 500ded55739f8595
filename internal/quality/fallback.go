package quality

import (
	"fmt"
	"math"
	"strings"
)

var placeholderValues = map[string]bool{
	"n/a": true, "null": true, "none": true, "待补充": true, "暂无": true,
	"tbd": true, "-": true, "—": true, "undefined": true,
}

var keyFields = []string{"title", "name", "url", "link", "href"}

// FallbackScore estimates validity from key-field emptiness and placeholder
// values alone. A nil or all-empty record is one issue; each present key
// field that is blank or a placeholder is another. The raw ratio is capped
// at PrimaryFloor.
func (e *Evaluator) FallbackScore(records []Record) float64 {
	return math.Min(RawFallbackScore(records), e.PrimaryFloor())
}

// RawFallbackScore is the uncapped fallback ratio, rounded to two places.
func RawFallbackScore(records []Record) float64 {
	if len(records) == 0 {
		return 0
	}

	total := len(records)
	issues := 0
	for _, rec := range records {
		if allEmpty(rec) {
			issues++
			continue
		}
		for _, key := range keyFields {
			v, ok := rec[key]
			if !ok {
				continue
			}
			s := ""
			if v != nil {
				s = strings.TrimSpace(fmt.Sprint(v))
			}
			if s == "" || placeholderValues[strings.ToLower(s)] {
				issues++
			}
		}
	}

	if issues > total {
		issues = total
	}
	return round2(float64(total-issues) / float64(total))
}

func allEmpty(rec Record) bool {
	if len(rec) == 0 {
		return true
	}
	for _, v := range rec {
		if s, ok := v.(string); v != nil && (!ok || s != "") {
			return false
		}
	}
	return true
}

// PrimaryFloor is the lowest score the primary evaluator can give a
// non-empty batch: no required fields, both L2 parts at their minimum
// (title 0.3, content 0.2) and L3 at its 0.3 floor.
func (e *Evaluator) PrimaryFloor() float64 {
	c := e.config
	return c.WeightCompleteness*0 + c.WeightSemantic*((0.3+0.2)/2) + c.WeightIntent*0.3
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
