package reflection

import (
	"encoding/json"
	"fmt"
	"sort"
)

// PartialSuccess describes how much of a failed run was still usable.
type PartialSuccess struct {
	PartialSuccess bool     `json:"partial_success"`
	SuccessRate    float64  `json:"success_rate"`
	RecordCount    int      `json:"record_count"`
	Completeness   float64  `json:"completeness"`
	DuplicateRate  float64  `json:"duplicate_rate"`
	WorkingFields  []string `json:"working_fields,omitempty"`
	Issues         []string `json:"issues"`
	Strengths      []string `json:"strengths"`
}

// AnalyzePartialSuccess inspects an execution outcome and whatever records
// it produced.
func AnalyzePartialSuccess(success bool, execErr string, records []map[string]any) PartialSuccess {
	ps := PartialSuccess{RecordCount: len(records), Issues: []string{}, Strengths: []string{}}

	switch {
	case success:
		ps.PartialSuccess = true
		ps.SuccessRate = 1.0
		ps.Strengths = append(ps.Strengths, "Code executed successfully")
	case len(records) > 0:
		ps.PartialSuccess = true
		ps.SuccessRate = 0.5
		ps.Strengths = append(ps.Strengths, fmt.Sprintf("Extracted %d items despite error", len(records)))
		if execErr == "" {
			execErr = "Unknown"
		}
		ps.Issues = append(ps.Issues, "Execution failed: "+truncate(execErr, 100))
	}

	if len(records) == 0 {
		return ps
	}

	empty, total := 0, 0
	working := map[string]bool{}
	for _, rec := range records {
		for k, v := range rec {
			total++
			if isEmptyValue(v) {
				empty++
			} else {
				working[k] = true
			}
		}
	}
	if total > 0 {
		ps.Completeness = 1.0 - float64(empty)/float64(total)
		if ps.Completeness < 0.5 {
			ps.Issues = append(ps.Issues, fmt.Sprintf("Low data completeness: %.1f%%", ps.Completeness*100))
		} else {
			ps.Strengths = append(ps.Strengths, fmt.Sprintf("Good data completeness: %.1f%%", ps.Completeness*100))
		}
	}
	for k := range working {
		ps.WorkingFields = append(ps.WorkingFields, k)
	}
	sort.Strings(ps.WorkingFields)

	if len(records) > 1 {
		unique := map[string]bool{}
		for _, rec := range records {
			// encoding/json sorts map keys, so equal records encode equally.
			b, _ := json.Marshal(rec)
			unique[string(b)] = true
		}
		if len(unique) < len(records) {
			ps.DuplicateRate = 1.0 - float64(len(unique))/float64(len(records))
			if ps.DuplicateRate > 0.3 {
				ps.Issues = append(ps.Issues, fmt.Sprintf("High duplicate rate: %.1f%%", ps.DuplicateRate*100))
			} else {
				ps.Strengths = append(ps.Strengths, fmt.Sprintf("Low duplicate rate: %.1f%%", ps.DuplicateRate*100))
			}
		}
	}
	return ps
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case float64:
		return x == 0
	case int:
		return x == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
