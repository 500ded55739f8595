// Package recon runs one reconnaissance task end to end: observe the site,
// validate selectors, generate an extraction script, verify and run it,
// score the records, and diagnose and repair failures until the output is
// good enough or the retry budget is spent.
//
// The pipeline is an explicit finite-state machine (see fsm.go). Every stage
// handler writes only the TaskState fields it owns; transitions are pure
// functions of the state.
package recon

import (
	"time"

	"reconagent/internal/browser"
	"reconagent/internal/quality"
	"reconagent/internal/reflection"
	"reconagent/internal/selector"
	"reconagent/internal/soal"
	"reconagent/internal/tactile"
	"reconagent/internal/verify"
)

// Stage names a pipeline state.
type Stage string

const (
	StageSense      Stage = "sense"
	StageInteract   Stage = "interact"
	StageValidate   Stage = "validate"
	StagePlan       Stage = "plan"
	StageVerifyPlan Stage = "verify_plan"
	StageAct        Stage = "act"
	StageSOAL       Stage = "soal"
	StageVerify     Stage = "verify"
	StageReflect    Stage = "reflect"
	StageReport     Stage = "report"
	StageDone       Stage = "done"
)

// Stages lists every non-terminal stage in pipeline order.
var Stages = []Stage{
	StageSense, StageInteract, StageValidate, StagePlan, StageVerifyPlan,
	StageAct, StageSOAL, StageVerify, StageReflect, StageReport,
}

// AntiBotLevel grades how hard a site defends against automation.
type AntiBotLevel string

const (
	AntiBotNone   AntiBotLevel = "none"
	AntiBotLow    AntiBotLevel = "low"
	AntiBotMedium AntiBotLevel = "medium"
	AntiBotHigh   AntiBotLevel = "high"
)

func (l AntiBotLevel) rank() int {
	switch l {
	case AntiBotLow:
		return 1
	case AntiBotMedium:
		return 2
	case AntiBotHigh:
		return 3
	default:
		return 0
	}
}

// Max returns the stronger of two levels.
func (l AntiBotLevel) Max(other AntiBotLevel) AntiBotLevel {
	if other.rank() > l.rank() {
		return other
	}
	if l == "" {
		return AntiBotNone
	}
	return l
}

// ParseAntiBotLevel maps a string onto a level; unknown input is none.
func ParseAntiBotLevel(s string) AntiBotLevel {
	switch l := AntiBotLevel(s); l {
	case AntiBotLow, AntiBotMedium, AntiBotHigh:
		return l
	default:
		return AntiBotNone
	}
}

// CompletionStatus is the final verdict of a task.
type CompletionStatus string

const (
	StatusSuccess   CompletionStatus = "success"
	StatusFailed    CompletionStatus = "failed"
	StatusCancelled CompletionStatus = "cancelled"
)

// Reason is a pipeline-level failure code.
type Reason string

const (
	ReasonEmptyCode      Reason = "EMPTY_CODE_BLOCKED"
	ReasonPlanVerify     Reason = "PLAN_VERIFY_BLOCKED"
	ReasonNoData         Reason = "NO_DATA_EXTRACTED"
	ReasonLowQuality     Reason = "LOW_QUALITY"
	ReasonCancelled      Reason = "TASK_CANCELLED"
	ReasonStagePanic     Reason = "STAGE_PANIC"
	ReasonSOALTerminated Reason = "SOAL_TERMINATED"
)

// Record is one extracted item.
type Record = quality.Record

// FailureRecord is one diagnosed failure, appended by Reflect.
type FailureRecord struct {
	Iteration           int                       `json:"iteration"`
	FailureType         soal.FailureType          `json:"failure_type"`
	RootCause           string                    `json:"root_cause"`
	SuggestedFix        string                    `json:"suggested_fix"`
	WebsiteType         string                    `json:"website_type"`
	AntiBotLevel        AntiBotLevel              `json:"anti_bot_level"`
	AttemptedStrategies []string                  `json:"attempted_strategies"`
	PartialSuccess      reflection.PartialSuccess `json:"partial_success"`
	Timestamp           time.Time                 `json:"timestamp"`
}

// Task is the input of one pipeline run.
type Task struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	URL  string `json:"url" yaml:"url"`
	Goal string `json:"goal" yaml:"goal"`
}

// TaskState is threaded through the pipeline and owned by exactly one
// in-flight task. Field groups are annotated with the stage that writes
// them; no other stage writes them.
type TaskState struct {
	TaskID   string `json:"task_id"`
	UserGoal string `json:"user_goal"`
	Stage    Stage  `json:"stage"`

	// Sense; Interact may replace SiteURL with the post-interaction URL.
	SiteURL             string                `json:"site_url"`
	DOMSnapshot         string                `json:"-"`
	PageTitle           string                `json:"page_title,omitempty"`
	HTTPStatus          int                   `json:"http_status,omitempty"`
	ObservedBy          string                `json:"observed_by,omitempty"`
	AntiBotLevel        AntiBotLevel          `json:"anti_bot_level"`
	AntiBotFeatures     []string              `json:"anti_bot_features,omitempty"`
	WebsiteType         string                `json:"website_type"`
	Classification      Classification        `json:"classification"`
	Features            []string              `json:"features,omitempty"`
	Structure           *selector.Structure   `json:"structure,omitempty"`
	Links               *browser.LinkReport   `json:"-"`
	RequiresInteraction bool                  `json:"requires_interaction"`
	SenseError          string                `json:"sense_error,omitempty"`
	Interaction         *tactile.ScriptResult `json:"interaction,omitempty"`

	// Validate
	ValidatedSelectors []string         `json:"validated_selectors"`
	SelectorReport     *selector.Report `json:"selector_report,omitempty"`

	// Plan and SOAL (repairs replace the code)
	GeneratedCode     string   `json:"generated_code"`
	AttemptSignatures []string `json:"attempt_signatures"`
	RepeatDetected    bool     `json:"repeat_detected"`

	// VerifyPlan
	PlanVerification *verify.Report `json:"plan_verification,omitempty"`

	// Act
	ExecutionResult *tactile.ScriptResult `json:"execution_result,omitempty"`
	SampleData      []Record              `json:"sample_data"`

	// Verify
	QualityScore    float64          `json:"quality_score"`
	QualityIssues   []string         `json:"quality_issues"`
	QualityMetrics  *quality.Metrics `json:"quality_metrics,omitempty"`
	QualityFallback bool             `json:"quality_fallback,omitempty"`

	// SOAL and Reflect share the iteration budget.
	SOALIteration int           `json:"soal_iteration"`
	LastRepair    *soal.Result  `json:"last_repair,omitempty"`
	Repairs       []soal.Result `json:"repairs,omitempty"`

	// Reflect
	FailureHistory   []FailureRecord `json:"failure_history"`
	ReflectionMemory []string        `json:"reflection_memory"`
	SwitchStrategy   bool            `json:"switch_strategy"`

	// Driver and Report
	CompletionStatus CompletionStatus `json:"completion_status"`
	FailureReason    Reason           `json:"failure_reason,omitempty"`
	FailureDetail    string           `json:"failure_detail,omitempty"`
	Metrics          StageMetrics     `json:"stage_metrics"`
}

// NewTaskState creates the initial state for a task.
func NewTaskState(t Task) *TaskState {
	return &TaskState{
		TaskID:             t.ID,
		SiteURL:            t.URL,
		UserGoal:           t.Goal,
		Stage:              StageSense,
		AntiBotLevel:       AntiBotNone,
		WebsiteType:        TypeUnknown,
		ValidatedSelectors: []string{},
		AttemptSignatures:  []string{},
		SampleData:         []Record{},
		QualityIssues:      []string{},
		FailureHistory:     []FailureRecord{},
		ReflectionMemory:   []string{},
		Metrics:            StageMetrics{},
	}
}

// LastFailure returns the most recent diagnosed failure.
func (s *TaskState) LastFailure() (FailureRecord, bool) {
	if len(s.FailureHistory) == 0 {
		return FailureRecord{}, false
	}
	return s.FailureHistory[len(s.FailureHistory)-1], true
}

// planBlocked reports whether the current failure is the plan gate rather
// than an execution.
func (s *TaskState) planBlocked() bool {
	return s.PlanVerification != nil && !s.PlanVerification.CanProceed
}

// failureText describes whatever failed last, for diagnosis.
func (s *TaskState) failureText() string {
	if s.planBlocked() {
		v := s.PlanVerification
		switch {
		case v.Error != "":
			return v.Error
		case !v.SyntaxValid():
			return "SyntaxError: " + v.Syntax.Error
		case v.DryRun.Error != "":
			return v.DryRun.Error + "\n" + tail(v.DryRun.Stderr, 800)
		default:
			return "dry run failed\n" + tail(v.DryRun.Stderr, 800)
		}
	}
	if r := s.ExecutionResult; r != nil && !r.Success {
		msg := r.Error
		if r.Stderr != "" {
			msg += "\n" + tail(r.Stderr, 800)
		}
		return msg
	}
	return ""
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
