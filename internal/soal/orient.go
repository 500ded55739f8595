package soal

import (
	"fmt"
	"math"
)

// Action is a repair the loop can take.
type Action string

const (
	ActionUpdateSelectors Action = "update_selectors"
	ActionSwitchStrategy  Action = "switch_strategy"
	ActionApplyPatch      Action = "apply_patch"
	ActionReplan          Action = "replan"
	ActionTerminate       Action = "terminate"
	// ActionSlowDown is only used by the simplified remedy list.
	ActionSlowDown Action = "slow_down"
)

// Actions are the candidates Orient scores, in tie-break order.
var Actions = []Action{ActionUpdateSelectors, ActionSwitchStrategy, ActionApplyPatch, ActionReplan, ActionTerminate}

// Components are the raw inputs to an action's utility, each in [0,1].
type Components struct {
	Coverage float64 `json:"coverage_gain"`
	Quality  float64 `json:"quality_improvement"`
	Cost     float64 `json:"cost_efficiency"`
	Risk     float64 `json:"risk"`
	Urgency  float64 `json:"urgency"`
}

// Utility blends components with w. Risk is subtracted.
func (c Components) Utility(w UtilityWeights) float64 {
	return w.Coverage*c.Coverage + w.Quality*c.Quality + w.Cost*c.Cost - w.Risk*c.Risk + w.Urgency*c.Urgency
}

var baseComponents = map[Action]Components{
	ActionUpdateSelectors: {Coverage: 0.6, Quality: 0.6, Cost: 0.8, Risk: 0.2, Urgency: 0.5},
	ActionSwitchStrategy:  {Coverage: 0.5, Quality: 0.4, Cost: 0.5, Risk: 0.3, Urgency: 0.6},
	ActionApplyPatch:      {Coverage: 0.4, Quality: 0.5, Cost: 0.9, Risk: 0.2, Urgency: 0.5},
	ActionReplan:          {Coverage: 0.7, Quality: 0.7, Cost: 0.2, Risk: 0.5, Urgency: 0.4},
	ActionTerminate:       {Cost: 1.0},
}

// affinity says which action addresses a failure type. The matching action
// gets its coverage and quality gains raised by affinityBoost.
var affinity = map[FailureType]Action{
	FailureSelector:        ActionUpdateSelectors,
	FailureStructureChange: ActionUpdateSelectors,
	FailureContentMissing:  ActionUpdateSelectors,
	FailureTimeout:         ActionSwitchStrategy,
	FailureRateLimit:       ActionSwitchStrategy,
	FailureSyntax:          ActionApplyPatch,
	FailureAPI:             ActionApplyPatch,
	FailureUnknown:         ActionReplan,
}

const affinityBoost = 0.3

// ActionFor returns the action that addresses t. A blocked page has no
// remedy and maps to terminate.
func ActionFor(t FailureType) Action {
	if a, ok := affinity[t]; ok {
		return a
	}
	return ActionTerminate
}

// baseConfidence is how sure Orient is when it picks an action.
var baseConfidence = map[Action]float64{
	ActionUpdateSelectors: 0.8,
	ActionSwitchStrategy:  0.7,
	ActionApplyPatch:      0.6,
	ActionReplan:          0.5,
	ActionTerminate:       0.9,
}

var reasoning = map[Action]string{
	ActionUpdateSelectors: "Selector errors can be fixed with pattern updates",
	ActionSwitchStrategy:  "Rate limiting or slow responses, switch to a slower strategy",
	ActionApplyPatch:      "Code error, apply a targeted patch",
	ActionReplan:          "Unknown issue, try comprehensive replan",
	ActionTerminate:       "Blocked by site, cannot proceed",
}

// Decision is Orient's output.
type Decision struct {
	Action     Action              `json:"action"`
	Confidence float64             `json:"confidence"`
	Utility    float64             `json:"utility"`
	Reasoning  string              `json:"reasoning"`
	Dominant   FailureType         `json:"dominant_failure_type"`
	Grouped    map[FailureType]int `json:"grouped_failures"`
	Scores     map[Action]float64  `json:"scores"`
}

// ComponentsFor returns the utility inputs of action when dominant is the
// main failure type. A strategy that has failed before in this task carries
// extra risk.
func ComponentsFor(action Action, dominant FailureType, k *Knowledge) Components {
	c := baseComponents[action]
	if affinity[dominant] == action {
		c.Coverage = math.Min(1, c.Coverage+affinityBoost)
		c.Quality = math.Min(1, c.Quality+affinityBoost)
	}
	if k != nil && action != ActionTerminate {
		if s := k.Score(string(action)); s < initialScore {
			c.Risk = math.Min(1, c.Risk+(initialScore-s)*2)
		}
	}
	return c
}

// Orient picks the highest utility action for the grouped failures. A
// blocked site always terminates.
func Orient(failures []Failure, k *Knowledge, w UtilityWeights) Decision {
	dominant := Dominant(failures)
	d := Decision{
		Dominant: dominant,
		Grouped:  Group(failures),
		Scores:   map[Action]float64{},
	}

	for _, a := range Actions {
		d.Scores[a] = round3(ComponentsFor(a, dominant, k).Utility(w))
	}

	if dominant == FailureBlocked {
		d.Action = ActionTerminate
	} else {
		best := math.Inf(-1)
		for _, a := range Actions {
			if a == ActionTerminate {
				continue
			}
			if d.Scores[a] > best {
				best, d.Action = d.Scores[a], a
			}
		}
	}

	d.Utility = d.Scores[d.Action]
	d.Confidence = baseConfidence[d.Action]
	d.Reasoning = reasoning[d.Action]
	if dominant != FailureUnknown && d.Action != ActionTerminate {
		d.Reasoning = fmt.Sprintf("%s (dominant failure: %s)", d.Reasoning, dominant)
	}
	return d
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
