package recon

import (
	"fmt"
	"strings"
	"time"

	"reconagent/internal/soal"
)

// StageMetric is the timing of one stage across a task.
type StageMetric struct {
	Count   int   `json:"count"`
	TotalMs int64 `json:"total_ms"`
	LastMs  int64 `json:"last_ms"`
}

// StageMetrics is keyed by stage.
type StageMetrics map[Stage]StageMetric

// Record adds one run of stage.
func (m StageMetrics) Record(stage Stage, d time.Duration) {
	sm := m[stage]
	sm.Count++
	sm.LastMs = d.Milliseconds()
	sm.TotalMs += sm.LastMs
	m[stage] = sm
}

// Report is the externally consumed result of a task.
type Report struct {
	TaskID           string           `json:"task_id"`
	SiteURL          string           `json:"site_url"`
	UserGoal         string           `json:"user_goal"`
	QualityScore     float64          `json:"quality_score"`
	SampleData       []Record         `json:"sample_data"`
	SampleCount      int              `json:"sample_count"`
	DataSuccess      bool             `json:"data_success"`
	CompletionStatus CompletionStatus `json:"completion_status"`
	FailureReason    Reason           `json:"failure_reason,omitempty"`
	FailureDetail    string           `json:"failure_detail,omitempty"`
	GeneratedCode    string           `json:"generated_code"`
	WebsiteType      string           `json:"website_type"`
	AntiBotLevel     AntiBotLevel     `json:"anti_bot_level"`
	Iterations       int              `json:"iterations"`
	QualityIssues    []string         `json:"quality_issues"`
	FailureHistory   []FailureRecord  `json:"failure_history"`
	Repairs          []soal.Result    `json:"repairs,omitempty"`
	StageMetrics     StageMetrics     `json:"stage_metrics"`
	Markdown         string           `json:"markdown"`
	Duration         time.Duration    `json:"duration"`
}

// finalize settles the verdict on the state. A failed task always carries
// a reason; the defaults distinguish empty output from weak output.
func finalize(s *TaskState, threshold float64) {
	dataSuccess := len(s.SampleData) > 0 && s.QualityScore >= threshold
	switch {
	case s.FailureReason == ReasonCancelled:
		s.CompletionStatus = StatusCancelled
	case dataSuccess && s.FailureReason == "":
		s.CompletionStatus = StatusSuccess
	default:
		s.CompletionStatus = StatusFailed
		if s.FailureReason == "" {
			if len(s.SampleData) == 0 {
				s.FailureReason = ReasonNoData
			} else {
				s.FailureReason = ReasonLowQuality
			}
		}
	}
}

func buildReport(s *TaskState) *Report {
	return &Report{
		TaskID:           s.TaskID,
		SiteURL:          s.SiteURL,
		UserGoal:         s.UserGoal,
		QualityScore:     s.QualityScore,
		SampleData:       s.SampleData,
		SampleCount:      len(s.SampleData),
		DataSuccess:      s.CompletionStatus == StatusSuccess,
		CompletionStatus: s.CompletionStatus,
		FailureReason:    s.FailureReason,
		FailureDetail:    s.FailureDetail,
		GeneratedCode:    s.GeneratedCode,
		WebsiteType:      s.WebsiteType,
		AntiBotLevel:     s.AntiBotLevel,
		Iterations:       s.SOALIteration,
		QualityIssues:    s.QualityIssues,
		FailureHistory:   s.FailureHistory,
		Repairs:          s.Repairs,
		StageMetrics:     s.Metrics,
	}
}

// FallbackMarkdown renders the report without a generator.
func FallbackMarkdown(r *Report) string {
	var b strings.Builder
	b.WriteString("# Website Reconnaissance Report\n\n")
	b.WriteString("## Site\n")
	fmt.Fprintf(&b, "- URL: %s\n", r.SiteURL)
	fmt.Fprintf(&b, "- Goal: %s\n", r.UserGoal)
	fmt.Fprintf(&b, "- Website type: %s\n", r.WebsiteType)
	fmt.Fprintf(&b, "- Anti-bot level: %s\n\n", r.AntiBotLevel)
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Status: %s\n", r.CompletionStatus)
	if r.FailureReason != "" {
		fmt.Fprintf(&b, "- Failure reason: %s\n", r.FailureReason)
	}
	fmt.Fprintf(&b, "- Repair iterations: %d\n", r.Iterations)
	fmt.Fprintf(&b, "- Quality score: %.2f\n", r.QualityScore)
	fmt.Fprintf(&b, "- Sample count: %d\n", r.SampleCount)
	if len(r.QualityIssues) > 0 {
		b.WriteString("\n## Quality issues\n")
		for _, issue := range lastN(r.QualityIssues, 10) {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	return b.String()
}
