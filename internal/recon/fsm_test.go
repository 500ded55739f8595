package recon

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconagent/internal/soal"
	"reconagent/internal/tactile"
	"reconagent/internal/verify"
)

func TestNext_EveryTransition(t *testing.T) {
	lim := Limits{MaxIterations: 2, QualityThreshold: 0.6}

	state := func(mut func(s *TaskState)) *TaskState {
		s := NewTaskState(Task{ID: "t", URL: "https://example.com", Goal: "titles"})
		if mut != nil {
			mut(s)
		}
		return s
	}
	passed := &verify.Report{CanProceed: true}
	blocked := &verify.Report{CanProceed: false, Error: "dry run failed"}

	tests := []struct {
		name  string
		stage Stage
		state *TaskState
		want  Edge
		out   Outcome
	}{
		{"sense to validate", StageSense, state(nil), Edge{To: StageValidate}, OutcomeNext},
		{"sense to interact", StageSense, state(func(s *TaskState) { s.RequiresInteraction = true }), Edge{To: StageInteract}, OutcomeInteract},
		{"interact to validate", StageInteract, state(nil), Edge{To: StageValidate}, OutcomeNext},
		{"validate to plan", StageValidate, state(nil), Edge{To: StagePlan}, OutcomeNext},
		{"plan to verify plan", StagePlan, state(func(s *TaskState) { s.GeneratedCode = "print(1)" }), Edge{To: StageVerifyPlan}, OutcomeNext},
		{"plan empty code blocks", StagePlan, state(nil), Edge{To: StageReport, Reason: ReasonEmptyCode}, OutcomeBlocked},
		{"verify plan proceeds", StageVerifyPlan, state(func(s *TaskState) { s.PlanVerification = passed }), Edge{To: StageAct}, OutcomeProceed},
		{"verify plan repairs", StageVerifyPlan, state(func(s *TaskState) { s.PlanVerification = blocked }), Edge{To: StageSOAL}, OutcomeRepair},
		{"verify plan gives up", StageVerifyPlan, state(func(s *TaskState) {
			s.PlanVerification = blocked
			s.SOALIteration = 2
		}), Edge{To: StageReport, Reason: ReasonPlanVerify}, OutcomeGiveUp},
		{"act to verify", StageAct, state(func(s *TaskState) { s.ExecutionResult = &tactile.ScriptResult{Success: true} }), Edge{To: StageVerify}, OutcomeNext},
		{"act failure repairs", StageAct, state(func(s *TaskState) { s.ExecutionResult = &tactile.ScriptResult{} }), Edge{To: StageSOAL}, OutcomeRepair},
		{"act without result repairs", StageAct, state(nil), Edge{To: StageSOAL}, OutcomeRepair},
		{"soal repaired", StageSOAL, state(func(s *TaskState) { s.LastRepair = &soal.Result{Success: true} }), Edge{To: StageVerifyPlan}, OutcomeRepaired},
		{"soal retries", StageSOAL, state(func(s *TaskState) {
			s.LastRepair = &soal.Result{}
			s.SOALIteration = 1
		}), Edge{To: StageSOAL}, OutcomeRetry},
		{"soal terminates", StageSOAL, state(func(s *TaskState) { s.LastRepair = &soal.Result{Terminated: true} }), Edge{To: StageReport, Reason: ReasonSOALTerminated}, OutcomeTerminate},
		{"soal exhausted on plan gate", StageSOAL, state(func(s *TaskState) {
			s.PlanVerification = blocked
			s.SOALIteration = 2
		}), Edge{To: StageReport, Reason: ReasonPlanVerify}, OutcomeBlocked},
		{"soal exhausted after execution", StageSOAL, state(func(s *TaskState) {
			s.PlanVerification = passed
			s.ExecutionResult = &tactile.ScriptResult{}
			s.SOALIteration = 2
		}), Edge{To: StageReport}, OutcomeGiveUp},
		{"verify accepts", StageVerify, state(func(s *TaskState) {
			s.SampleData = []Record{{"title": "x"}}
			s.QualityScore = 0.6
		}), Edge{To: StageReport}, OutcomeAccept},
		{"verify low score reflects", StageVerify, state(func(s *TaskState) {
			s.SampleData = []Record{{"title": "x"}}
			s.QualityScore = 0.59
		}), Edge{To: StageReflect}, OutcomeReflect},
		{"verify no data reflects", StageVerify, state(func(s *TaskState) { s.QualityScore = 1 }), Edge{To: StageReflect}, OutcomeReflect},
		{"reflect replans", StageReflect, state(func(s *TaskState) { s.SOALIteration = 1 }), Edge{To: StagePlan}, OutcomeReplan},
		{"reflect gives up at cap", StageReflect, state(func(s *TaskState) { s.SOALIteration = 2 }), Edge{To: StageReport}, OutcomeGiveUp},
		{"reflect gives up when blocked", StageReflect, state(func(s *TaskState) {
			s.FailureHistory = append(s.FailureHistory, FailureRecord{FailureType: soal.FailureBlocked})
		}), Edge{To: StageReport}, OutcomeGiveUp},
		{"report to done", StageReport, state(nil), Edge{To: StageDone}, OutcomeNext},
	}

	covered := map[Stage]map[Outcome]bool{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edge, out, err := Next(tt.stage, tt.state, lim)
			require.NoError(t, err)
			assert.Equal(t, tt.out, out)
			if diff := cmp.Diff(tt.want, edge); diff != "" {
				t.Errorf("edge mismatch (-want +got):\n%s", diff)
			}
		})
		if covered[tt.stage] == nil {
			covered[tt.stage] = map[Outcome]bool{}
		}
		covered[tt.stage][tt.out] = true
	}

	for stage, edges := range Transitions {
		for out := range edges {
			assert.True(t, covered[stage][out], "transition %s/%s has no test", stage, out)
		}
	}
}

func TestNext_EveryStageHasPredicate(t *testing.T) {
	for _, stage := range Stages {
		if stage == StageDone {
			continue
		}
		_, ok := Predicates[stage]
		assert.True(t, ok, "stage %s", stage)
		_, ok = handlers[stage]
		assert.True(t, ok, "handler for %s", stage)
	}
	_, _, err := Next(StageDone, NewTaskState(Task{}), Limits{})
	assert.Error(t, err)
}
