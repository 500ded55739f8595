package soal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"reconagent/internal/logging"
)

// ErrIterationCap is returned once the loop has used all its iterations.
var ErrIterationCap = errors.New("soal: iteration cap reached")

// RepairRequest is what Act hands to the Repairer.
type RepairRequest struct {
	Action    Action
	Decision  Decision
	Code      string
	Error     string
	Failures  []Failure
	Params    map[string]any
	Iteration int
	Knowledge *Knowledge
}

// Hint renders the action as an instruction for a code generator.
func (r RepairRequest) Hint() string {
	switch r.Action {
	case ActionUpdateSelectors:
		return "The selectors did not match. Re-derive every selector from the page structure and prefer stable attributes."
	case ActionSwitchStrategy:
		if s, ok := r.Params["strategy"].(string); ok && s != "" {
			return fmt.Sprintf("Switch the fetch strategy to %s rendering with explicit waits for content.", s)
		}
		return "Switch strategy: use a full browser, wait for network idle and add human-like delays."
	case ActionSlowDown:
		return fmt.Sprintf("Slow down: wait %v seconds between navigations and interactions.", r.Params["delay"])
	case ActionApplyPatch:
		return "Apply a minimal patch that fixes the reported error without restructuring the script."
	case ActionReplan:
		return "Rewrite the script from scratch with a different extraction approach."
	default:
		return ""
	}
}

// RepairOutcome is what the Repairer produced.
type RepairOutcome struct {
	Code      string            `json:"-"`
	Changes   map[string]any    `json:"changes,omitempty"`
	Selectors map[string]string `json:"selectors,omitempty"`
}

// Repairer applies one repair action. The pipeline backs it with the code
// generator.
type Repairer interface {
	Repair(ctx context.Context, req RepairRequest) (*RepairOutcome, error)
}

// RepairFunc adapts a function to Repairer.
type RepairFunc func(ctx context.Context, req RepairRequest) (*RepairOutcome, error)

func (f RepairFunc) Repair(ctx context.Context, req RepairRequest) (*RepairOutcome, error) {
	return f(ctx, req)
}

// VerifyResult is the re-check of a repair.
type VerifyResult struct {
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail,omitempty"`
}

// Checker re-checks repaired code.
type Checker func(ctx context.Context, code string) VerifyResult

// Result is the outcome of one iteration.
type Result struct {
	Iteration  int            `json:"iteration"`
	Mode       Mode           `json:"mode"`
	Action     Action         `json:"action"`
	Decision   *Decision      `json:"decision,omitempty"`
	Success    bool           `json:"success"`
	Terminated bool           `json:"terminated"`
	Code       string         `json:"-"`
	Changes    map[string]any `json:"changes,omitempty"`
	Verify     VerifyResult   `json:"verify"`
	Reason     string         `json:"reason,omitempty"`
}

type remedy struct {
	action Action
	params map[string]any
}

var simplifiedRemedies = []remedy{
	{ActionSwitchStrategy, map[string]any{"strategy": "browser"}},
	{ActionSlowDown, map[string]any{"delay": 2}},
}

// Loop is the diagnose and repair loop for one task. Its iteration counter
// never exceeds the cap for its mode.
type Loop struct {
	mu        sync.Mutex
	config    Config
	repairer  Repairer
	checker   Checker
	knowledge *Knowledge
	iteration int
	failures  []Failure
}

// NewLoop creates a loop. checker may be nil, in which case any non-empty
// repaired code passes.
func NewLoop(cfg Config, repairer Repairer, checker Checker) *Loop {
	return &Loop{
		config:    cfg,
		repairer:  repairer,
		checker:   checker,
		knowledge: NewKnowledge(cfg.ScoreAlpha),
	}
}

// Knowledge returns the per-task knowledge.
func (l *Loop) Knowledge() *Knowledge { return l.knowledge }

// Mode returns the configured mode.
func (l *Loop) Mode() Mode { return l.config.Mode }

// Iterations returns how many iterations have run.
func (l *Loop) Iterations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iteration
}

// Remaining returns how many iterations are left.
func (l *Loop) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config.MaxIterations() - l.iteration
}

// Failures returns every failure the loop has seen.
func (l *Loop) Failures() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Failure(nil), l.failures...)
}

// Iterate runs one iteration for the failure in errText against code.
func (l *Loop) Iterate(ctx context.Context, code, errText string) (*Result, error) {
	l.mu.Lock()
	if l.iteration >= l.config.MaxIterations() {
		l.mu.Unlock()
		return nil, ErrIterationCap
	}
	l.iteration++
	iter := l.iteration
	if strings.TrimSpace(errText) != "" {
		l.failures = append(l.failures, NewFailure(errText, iter))
	}
	failures := append([]Failure(nil), l.failures...)
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *Result
	if l.config.Mode == ModeComplete {
		res = l.iterateComplete(ctx, iter, code, errText, failures)
	} else {
		res = l.iterateSimplified(ctx, iter, code, errText, failures)
	}

	if !res.Success && !res.Terminated && res.Reason != "" {
		l.mu.Lock()
		l.failures = append(l.failures, Failure{Type: Classify(res.Reason), Message: res.Reason, Iteration: iter})
		l.mu.Unlock()
	}
	logging.SOAL("iteration %d/%d (%s): action=%s success=%v terminated=%v %s",
		iter, l.config.MaxIterations(), l.config.Mode, res.Action, res.Success, res.Terminated, res.Reason)
	return res, nil
}

// Run iterates until a repair verifies, Orient terminates or the cap is
// reached.
func (l *Loop) Run(ctx context.Context, code, errText string) (*Result, error) {
	var last *Result
	for {
		res, err := l.Iterate(ctx, code, errText)
		if errors.Is(err, ErrIterationCap) {
			if last == nil {
				return nil, err
			}
			last.Reason = "Max iterations reached"
			if l.config.Mode == ModeSimplified {
				last.Reason = "Simplified SOAL exhausted"
			}
			return last, nil
		}
		if err != nil {
			return nil, err
		}
		if res.Success || res.Terminated {
			return res, nil
		}
		last = res
		errText = ""
	}
}

func (l *Loop) iterateSimplified(ctx context.Context, iter int, code, errText string, failures []Failure) *Result {
	idx := iter - 1
	if idx >= len(simplifiedRemedies) {
		idx = len(simplifiedRemedies) - 1
	}
	if blockedBySite(errText, failures) {
		decision := Decision{
			Action:     ActionTerminate,
			Confidence: baseConfidence[ActionTerminate],
			Reasoning:  reasoning[ActionTerminate],
			Dominant:   FailureBlocked,
			Grouped:    Group(failures),
		}
		return &Result{
			Iteration:  iter,
			Mode:       ModeSimplified,
			Action:     ActionTerminate,
			Decision:   &decision,
			Terminated: true,
			Reason:     "Cannot recover: " + decision.Reasoning,
		}
	}
	rem := simplifiedRemedies[idx]
	res := &Result{Iteration: iter, Mode: ModeSimplified, Action: rem.action}

	l.act(ctx, res, RepairRequest{
		Action:    rem.action,
		Code:      code,
		Error:     errText,
		Failures:  failures,
		Params:    rem.params,
		Iteration: iter,
		Knowledge: l.knowledge,
	})
	return res
}

// blockedBySite reports whether the current failure, or the dominant one
// when errText is empty, is the site refusing access. No remedy fixes that.
func blockedBySite(errText string, failures []Failure) bool {
	if strings.TrimSpace(errText) != "" {
		return Classify(errText) == FailureBlocked
	}
	return len(failures) > 0 && Dominant(failures) == FailureBlocked
}

func (l *Loop) iterateComplete(ctx context.Context, iter int, code, errText string, failures []Failure) *Result {
	decision := Orient(failures, l.knowledge, l.config.Weights)
	res := &Result{Iteration: iter, Mode: ModeComplete, Action: decision.Action, Decision: &decision}

	logging.SOALDebug("orient: dominant=%s action=%s utility=%.3f confidence=%.2f",
		decision.Dominant, decision.Action, decision.Utility, decision.Confidence)

	if decision.Action == ActionTerminate {
		res.Terminated = true
		res.Reason = "Cannot recover: " + decision.Reasoning
		return res
	}

	l.act(ctx, res, RepairRequest{
		Action:    decision.Action,
		Decision:  decision,
		Code:      code,
		Error:     errText,
		Failures:  failures,
		Iteration: iter,
		Knowledge: l.knowledge,
	})
	return res
}

// act runs Act, Verify and Learn into res.
func (l *Loop) act(ctx context.Context, res *Result, req RepairRequest) {
	if l.repairer == nil {
		res.Reason = "no repairer configured"
		return
	}
	out, err := l.repairer.Repair(ctx, req)
	if err != nil {
		res.Reason = fmt.Sprintf("repair failed: %v", err)
		l.learn(req.Action, &RepairOutcome{}, false)
		return
	}
	if out == nil {
		out = &RepairOutcome{}
	}
	res.Code = out.Code
	res.Changes = out.Changes

	res.Verify = l.verify(ctx, out.Code)
	res.Success = res.Verify.Passed
	l.learn(req.Action, out, res.Success)
	if !res.Success {
		res.Reason = res.Verify.Detail
	}
}

func (l *Loop) verify(ctx context.Context, after string) VerifyResult {
	if strings.TrimSpace(after) == "" {
		return VerifyResult{Detail: "repair produced no code"}
	}
	if l.checker == nil {
		return VerifyResult{Passed: true, Score: 1}
	}
	v := l.checker(ctx, after)
	if !v.Passed && v.Detail == "" {
		v.Detail = "repaired code failed verification"
	}
	return v
}

// learn updates knowledge. Selectors are only recorded for verified repairs.
func (l *Loop) learn(action Action, out *RepairOutcome, success bool) {
	l.knowledge.UpdateStrategy(string(action), success)
	if !success {
		l.knowledge.RecordFailure(string(action))
		return
	}
	for field, sel := range out.Selectors {
		l.knowledge.RecordSelector(field, sel)
	}
}
