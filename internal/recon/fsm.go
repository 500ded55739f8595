package recon

import (
	"fmt"

	"reconagent/internal/soal"
)

// Outcome is the result of a stage's transition predicate.
type Outcome string

const (
	OutcomeNext      Outcome = "next"
	OutcomeInteract  Outcome = "interact"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeProceed   Outcome = "proceed"
	OutcomeRepair    Outcome = "repair"
	OutcomeRepaired  Outcome = "repaired"
	OutcomeRetry     Outcome = "retry"
	OutcomeTerminate Outcome = "terminate"
	OutcomeGiveUp    Outcome = "give_up"
	OutcomeAccept    Outcome = "accept"
	OutcomeReflect   Outcome = "reflect"
	OutcomeReplan    Outcome = "replan"
)

// Limits are the thresholds the predicates read.
type Limits struct {
	MaxIterations    int
	QualityThreshold float64
}

// Edge is one entry of the dispatch table. Reason is recorded on the state
// when the edge is taken and no reason is set yet.
type Edge struct {
	To     Stage
	Reason Reason
}

// Transitions maps (stage, outcome) to the next stage.
var Transitions = map[Stage]map[Outcome]Edge{
	StageSense: {
		OutcomeInteract: {To: StageInteract},
		OutcomeNext:     {To: StageValidate},
	},
	StageInteract: {
		OutcomeNext: {To: StageValidate},
	},
	StageValidate: {
		OutcomeNext: {To: StagePlan},
	},
	StagePlan: {
		OutcomeNext:    {To: StageVerifyPlan},
		OutcomeBlocked: {To: StageReport, Reason: ReasonEmptyCode},
	},
	StageVerifyPlan: {
		OutcomeProceed: {To: StageAct},
		OutcomeRepair:  {To: StageSOAL},
		OutcomeGiveUp:  {To: StageReport, Reason: ReasonPlanVerify},
	},
	StageAct: {
		OutcomeNext:   {To: StageVerify},
		OutcomeRepair: {To: StageSOAL},
	},
	StageSOAL: {
		OutcomeRepaired:  {To: StageVerifyPlan},
		OutcomeRetry:     {To: StageSOAL},
		OutcomeTerminate: {To: StageReport, Reason: ReasonSOALTerminated},
		OutcomeBlocked:   {To: StageReport, Reason: ReasonPlanVerify},
		OutcomeGiveUp:    {To: StageReport},
	},
	StageVerify: {
		OutcomeAccept:  {To: StageReport},
		OutcomeReflect: {To: StageReflect},
	},
	StageReflect: {
		OutcomeReplan: {To: StagePlan},
		OutcomeGiveUp: {To: StageReport},
	},
	StageReport: {
		OutcomeNext: {To: StageDone},
	},
}

// Predicates decide the outcome of each stage from the state alone.
var Predicates = map[Stage]func(*TaskState, Limits) Outcome{
	StageSense:      senseOutcome,
	StageInteract:   alwaysNext,
	StageValidate:   alwaysNext,
	StagePlan:       planOutcome,
	StageVerifyPlan: verifyPlanOutcome,
	StageAct:        actOutcome,
	StageSOAL:       soalOutcome,
	StageVerify:     verifyOutcome,
	StageReflect:    reflectOutcome,
	StageReport:     alwaysNext,
}

func alwaysNext(*TaskState, Limits) Outcome { return OutcomeNext }

func senseOutcome(s *TaskState, _ Limits) Outcome {
	if s.RequiresInteraction {
		return OutcomeInteract
	}
	return OutcomeNext
}

func planOutcome(s *TaskState, _ Limits) Outcome {
	if s.GeneratedCode == "" {
		return OutcomeBlocked
	}
	return OutcomeNext
}

func verifyPlanOutcome(s *TaskState, lim Limits) Outcome {
	switch {
	case s.PlanVerification != nil && s.PlanVerification.CanProceed:
		return OutcomeProceed
	case s.SOALIteration < lim.MaxIterations:
		return OutcomeRepair
	default:
		return OutcomeGiveUp
	}
}

func actOutcome(s *TaskState, _ Limits) Outcome {
	if s.ExecutionResult == nil || !s.ExecutionResult.Success {
		return OutcomeRepair
	}
	return OutcomeNext
}

func soalOutcome(s *TaskState, lim Limits) Outcome {
	if r := s.LastRepair; r != nil {
		if r.Success {
			return OutcomeRepaired
		}
		if r.Terminated {
			return OutcomeTerminate
		}
	}
	switch {
	case s.SOALIteration < lim.MaxIterations:
		return OutcomeRetry
	case s.planBlocked():
		return OutcomeBlocked
	default:
		return OutcomeGiveUp
	}
}

func verifyOutcome(s *TaskState, lim Limits) Outcome {
	if len(s.SampleData) == 0 || s.QualityScore < lim.QualityThreshold {
		return OutcomeReflect
	}
	return OutcomeAccept
}

func reflectOutcome(s *TaskState, lim Limits) Outcome {
	if s.SOALIteration >= lim.MaxIterations {
		return OutcomeGiveUp
	}
	if last, ok := s.LastFailure(); ok && last.FailureType == soal.FailureBlocked {
		return OutcomeGiveUp
	}
	return OutcomeReplan
}

// Next resolves the transition out of stage. Every (stage, outcome) pair a
// predicate can produce has an edge; a missing one is a programming error.
func Next(stage Stage, s *TaskState, lim Limits) (Edge, Outcome, error) {
	pred, ok := Predicates[stage]
	if !ok {
		return Edge{}, "", fmt.Errorf("no predicate for stage %q", stage)
	}
	out := pred(s, lim)
	edge, ok := Transitions[stage][out]
	if !ok {
		return Edge{}, out, fmt.Errorf("no transition for %s on %s", stage, out)
	}
	return edge, out, nil
}
