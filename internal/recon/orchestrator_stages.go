package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"reconagent/internal/browser"
	"reconagent/internal/llm"
	"reconagent/internal/reflection"
	"reconagent/internal/selector"
	"reconagent/internal/soal"
	"reconagent/internal/tactile"
	"reconagent/internal/verify"
)

// generate calls the code generator with purpose attached to the context
// and audits the call.
func (r *taskRun) generate(ctx context.Context, purpose, prompt string) (string, error) {
	start := time.Now()
	out, err := r.o.gen.Generate(llm.WithPurpose(ctx, purpose), prompt)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		r.log.Warn("%s generation failed: %v", purpose, err)
	}
	r.audit.LLMCall(purpose, len(prompt), time.Since(start).Milliseconds(), err == nil, errMsg)
	return out, err
}

// run executes a script in the sandbox and audits it.
func (r *taskRun) run(ctx context.Context, purpose, code string, timeout time.Duration) *tactile.ScriptResult {
	res := r.o.runner.Run(ctx, code, timeout)
	r.audit.SandboxRun(purpose, res.Duration.Milliseconds(), res.Success, res.Error)
	return res
}

func (r *taskRun) sense(ctx context.Context) {
	s := r.s
	obs, err := r.o.observer.Observe(ctx, s.SiteURL)
	if err != nil {
		s.SenseError = err.Error()
		r.log.Warn("observation failed, continuing on URL only: %v", err)
		obs = &browser.Observation{URL: s.SiteURL}
	}

	s.DOMSnapshot = obs.HTML
	s.PageTitle = obs.Title
	s.HTTPStatus = obs.Status
	s.ObservedBy = obs.Source
	if obs.FinalURL != "" {
		s.SiteURL = obs.FinalURL
	}

	ab := DetectAntiBot(obs.HTML, obs.Headers)
	s.AntiBotLevel, s.AntiBotFeatures = ab.Level, ab.Features

	s.Classification = Classify(s.SiteURL, obs.HTML)
	s.WebsiteType = s.Classification.Type
	s.Features = ExtractFeatures(obs.HTML, s.SiteURL)
	s.RequiresInteraction = obs.HTML != "" && RequiresInteraction(s.UserGoal, obs.HTML)

	if obs.HTML != "" {
		if snap, err := selector.NewSnapshot(obs.HTML); err == nil {
			st := snap.AnalyzeStructure()
			s.Structure = &st
		}
		if links, err := browser.AnalyzeLinks(obs.HTML, s.SiteURL); err == nil {
			s.Links = links
		} else {
			r.log.Debug("link analysis failed: %v", err)
		}
	}

	r.log.Info("sensed: type=%s (%.2f, %s) anti_bot=%s html=%d interaction=%v",
		s.WebsiteType, s.Classification.Confidence, s.Classification.Method, s.AntiBotLevel, len(obs.HTML), s.RequiresInteraction)
}

// interact runs a generated interaction script. Failures are logged and the
// pipeline continues on the original page.
func (r *taskRun) interact(ctx context.Context) {
	s := r.s
	out, err := r.generate(ctx, PurposeInteract, interactPrompt(s))
	if err != nil {
		return
	}
	code := llm.ExtractCode(out)
	if code == "" {
		r.log.Warn("interaction generator returned no code")
		return
	}
	res := r.run(ctx, PurposeInteract, code, r.o.cfg.GetInteractTimeout())
	s.Interaction = res
	if !res.Success {
		r.log.Warn("interaction script failed: %s", res.Error)
		return
	}
	if m, ok := res.ParsedData.(map[string]any); ok {
		if u, ok := m["final_url"].(string); ok && u != "" {
			r.log.Info("interaction moved to %s", u)
			s.SiteURL = u
		}
	}
}

func (r *taskRun) validate(ctx context.Context) {
	s := r.s
	report, err := r.validateSelectors(ctx)
	if err != nil {
		r.log.Warn("selector validation failed: %v", err)
		report = selector.FailedReport(err)
	}
	s.SelectorReport = report
	s.ValidatedSelectors = append([]string{}, report.ValidSelectors...)
}

func (r *taskRun) validateSelectors(ctx context.Context) (*selector.Report, error) {
	s := r.s
	snap, err := selector.NewSnapshot(s.DOMSnapshot)
	if err != nil {
		return nil, err
	}
	report, err := r.o.validator.Validate(ctx, snap, selector.Suggest(s.UserGoal, s.WebsiteType, s.SiteURL))
	if err != nil {
		return nil, err
	}
	if !r.o.validator.NeedsAlternatives(report) {
		return report, nil
	}

	s.SelectorReport = report
	out, err := r.generate(ctx, PurposeSelectors, selectorPrompt(s))
	if err != nil {
		return report, nil
	}
	var alt struct {
		Alternatives []string `json:"alternative_selectors"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(out)), &alt); err != nil {
		r.log.Debug("unparseable selector alternatives: %v", err)
		return report, nil
	}
	if err := r.o.validator.MergeAlternatives(ctx, snap, report, alt.Alternatives); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *taskRun) plan(ctx context.Context) {
	s := r.s
	in := PlanInputs{
		Recommendations: r.o.memory.Recommend(s.WebsiteType, string(s.AntiBotLevel)),
		RecentFailures:  r.o.cfg.Memory.RecentFailures,
	}
	if len(s.ValidatedSelectors) == 0 {
		in.Suggestions = selector.SuggestionPrompt(s.UserGoal, s.WebsiteType, s.SiteURL)
	}

	prompt := planPrompt(s, in)
	s.GeneratedCode = ""
	out, err := r.generate(ctx, PurposePlan, prompt)
	if err != nil {
		return
	}
	s.GeneratedCode = llm.ExtractCode(out)
	if s.GeneratedCode == "" {
		r.log.Warn("plan generator returned no code")
		return
	}
	r.recordSignature(s.GeneratedCode)
}

// recordSignature appends the code's signature. A signature seen before
// sets RepeatDetected for the next Plan prompt; a fresh one clears it.
func (r *taskRun) recordSignature(code string) {
	s := r.s
	sig := CodeSignature(code)
	s.RepeatDetected = slices.Contains(s.AttemptSignatures, sig)
	if s.RepeatDetected {
		r.log.Warn("script %s was already tried", sig)
	}
	s.AttemptSignatures = append(s.AttemptSignatures, sig)
}

func (r *taskRun) verifyPlan(ctx context.Context) {
	s := r.s
	if !r.o.cfg.Pipeline.PlanVerification {
		ok := strings.TrimSpace(s.GeneratedCode) != ""
		status := verify.StatusPassed
		if !ok {
			status = verify.StatusFailed
		}
		s.PlanVerification = &verify.Report{
			Status:          status,
			CanProceed:      ok,
			Warnings:        []string{"plan verification disabled"},
			Recommendations: []string{},
		}
		return
	}
	s.PlanVerification = r.o.verifier.Verify(ctx, s.GeneratedCode)
	if !s.PlanVerification.CanProceed {
		r.log.Warn("plan blocked: %s", firstLine(s.failureText()))
	}
}

func (r *taskRun) act(ctx context.Context) {
	s := r.s
	res := r.run(ctx, "act", s.GeneratedCode, r.o.cfg.GetActTimeout())
	s.ExecutionResult = res
	// A new run invalidates the previous run's score.
	s.QualityScore = 0
	s.QualityIssues = []string{}
	s.QualityMetrics = nil
	s.QualityFallback = false
	s.SampleData = s.SampleData[:0]
	for _, rec := range tactile.ExtractRecords(res.ParsedData) {
		s.SampleData = append(s.SampleData, Record(rec))
	}
	if res.Success {
		r.log.Info("script produced %d records in %v", len(s.SampleData), res.Duration)
	} else {
		r.log.Warn("script failed (exit %d, killed=%v): %s", res.ExitCode, res.Killed, res.Error)
	}
}

// repair is the SOAL stage: one diagnose and repair iteration per visit.
func (r *taskRun) repair(ctx context.Context) {
	s := r.s
	s.LastRepair = nil
	if s.SOALIteration >= r.o.limits.MaxIterations {
		return
	}
	s.SOALIteration++

	res, err := r.loop.Iterate(ctx, s.GeneratedCode, s.failureText())
	if err != nil {
		if !errors.Is(err, soal.ErrIterationCap) {
			r.log.Warn("repair iteration %d: %v", s.SOALIteration, err)
		}
		return
	}
	s.LastRepair = res
	s.Repairs = append(s.Repairs, *res)
	r.audit.SOALAction(string(res.Action), decisionConfidence(res), res.Success)

	if res.Success {
		s.GeneratedCode = res.Code
		r.recordSignature(res.Code)
		r.log.Info("repair %d (%s) produced new code", s.SOALIteration, res.Action)
		return
	}
	r.log.Warn("repair %d (%s) failed: %s", s.SOALIteration, res.Action, res.Reason)
}

func decisionConfidence(res *soal.Result) float64 {
	if res.Decision == nil {
		return 0
	}
	return res.Decision.Confidence
}

// Repair backs the SOAL loop with the code generator.
func (r *taskRun) Repair(ctx context.Context, req soal.RepairRequest) (*soal.RepairOutcome, error) {
	out, err := r.generate(ctx, PurposeRepair, repairPrompt(r.s, req))
	if err != nil {
		return nil, err
	}
	code := llm.ExtractCode(out)
	if code == "" {
		return nil, llm.ErrEmptyResponse
	}
	return &soal.RepairOutcome{
		Code:      code,
		Changes:   map[string]any{"action": string(req.Action), "iteration": req.Iteration},
		Selectors: selectorsIn(code, r.s.ValidatedSelectors),
	}, nil
}

// selectorsIn returns the validated selectors that code quotes verbatim,
// keyed by the field name each one targets. The loop only learns them when
// the repaired script verifies.
func selectorsIn(code string, validated []string) map[string]string {
	var out map[string]string
	for _, sel := range validated {
		if !strings.Contains(code, `"`+sel+`"`) && !strings.Contains(code, `'`+sel+`'`) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[selectorField(sel)] = sel
	}
	return out
}

// selectorField names the field a selector targets after its last compound
// part: the final class or id, else the tag.
func selectorField(sel string) string {
	last := strings.TrimSpace(sel)
	if i := strings.LastIndexAny(last, " >+~"); i >= 0 {
		last = last[i+1:]
	}
	if i := strings.IndexAny(last, "[:"); i >= 0 {
		last = last[:i]
	}
	if i := strings.LastIndexAny(last, ".#"); i >= 0 && i+1 < len(last) {
		last = last[i+1:]
	}
	if last == "" {
		return sel
	}
	return last
}

// checkRepair is the in-loop check: the code must parse and carry the
// output structure. Data quality is judged after the next Act.
func (r *taskRun) checkRepair(ctx context.Context, code string) soal.VerifyResult {
	syn := r.o.syntax.Check(ctx, code)
	if !syn.Valid {
		return soal.VerifyResult{Detail: "syntax: " + syn.Error}
	}
	st := verify.CheckStructure(code)
	if !st.HasJSONOutput {
		return soal.VerifyResult{Score: 0.5, Detail: "no JSON output"}
	}
	score := 1.0 - 0.1*float64(len(st.Issues))
	return soal.VerifyResult{Passed: true, Score: max(score, 0.5), Detail: strings.Join(st.Issues, "; ")}
}

func (r *taskRun) verify(ctx context.Context) {
	s := r.s
	res := r.o.evaluator.EvaluateWithFallback(s.SampleData, s.UserGoal)
	s.QualityScore = res.Score
	s.QualityIssues = append([]string{}, res.Issues...)
	s.QualityMetrics = &res.Metrics
	s.QualityFallback = res.Fallback
	r.log.Info("quality %.2f over %d records (threshold %.2f, fallback=%v)",
		s.QualityScore, len(s.SampleData), r.o.limits.QualityThreshold, s.QualityFallback)
}

type diagnosis struct {
	FailureType  string `json:"failure_type"`
	RootCause    string `json:"root_cause"`
	SuggestedFix string `json:"suggested_fix"`
}

func (r *taskRun) reflect(ctx context.Context) {
	s := r.s
	if s.SOALIteration < r.o.limits.MaxIterations {
		s.SOALIteration++
	}

	errText := s.failureText()
	if errText == "" {
		if len(s.SampleData) == 0 {
			errText = string(ReasonNoData)
		} else {
			errText = string(ReasonLowQuality)
		}
	}

	execOK := s.ExecutionResult != nil && s.ExecutionResult.Success
	execErr := ""
	if s.ExecutionResult != nil {
		execErr = s.ExecutionResult.Error
	}
	records := make([]map[string]any, len(s.SampleData))
	for i, rec := range s.SampleData {
		records[i] = rec
	}
	partial := reflection.AnalyzePartialSuccess(execOK, execErr, records)
	strategies := InferStrategies(s.GeneratedCode, s.AntiBotLevel, len(s.ValidatedSelectors) > 0)

	d := r.diagnose(ctx, errText)
	fr := FailureRecord{
		Iteration:           s.SOALIteration,
		FailureType:         soal.FailureType(d.FailureType),
		RootCause:           d.RootCause,
		SuggestedFix:        d.SuggestedFix,
		WebsiteType:         s.WebsiteType,
		AntiBotLevel:        s.AntiBotLevel,
		AttemptedStrategies: strategies,
		PartialSuccess:      partial,
		Timestamp:           time.Now(),
	}
	s.FailureHistory = append(s.FailureHistory, fr)
	memo := fmt.Sprintf("[%s] %s", fr.FailureType, fr.RootCause)
	if fr.SuggestedFix != "" {
		memo += " -> " + fr.SuggestedFix
	}
	s.ReflectionMemory = append(s.ReflectionMemory, memo)

	if _, err := r.o.memory.Record(reflection.Reflection{
		URL:                 s.SiteURL,
		WebsiteType:         s.WebsiteType,
		AntiBotLevel:        string(s.AntiBotLevel),
		FailureType:         d.FailureType,
		RootCause:           d.RootCause,
		SuggestedFix:        d.SuggestedFix,
		AttemptedStrategies: strategies,
		PartialSuccess:      partial,
		ExecutionSuccess:    execOK,
		DataExtracted:       len(s.SampleData),
	}); err != nil {
		r.log.Warn("reflection not persisted: %v", err)
	}
	r.audit.ReflectionRecord(hostOf(s.SiteURL), d.FailureType)

	s.SwitchStrategy = r.o.memory.ShouldSwitch(strategies, hostOf(s.SiteURL))
	r.log.Info("reflection %d: %s (%s) switch=%v", s.SOALIteration, fr.FailureType, firstLine(fr.RootCause), s.SwitchStrategy)
}

// diagnose asks the generator for a diagnosis and falls back to the rule
// classifier when it fails or answers with an unknown failure type.
func (r *taskRun) diagnose(ctx context.Context, errText string) diagnosis {
	rule := soal.Classify(errText)
	fallback := diagnosis{
		FailureType:  string(rule),
		RootCause:    firstLine(errText),
		SuggestedFix: soal.RepairRequest{Action: soal.ActionFor(rule)}.Hint(),
	}

	out, err := r.generate(ctx, PurposeReflect, reflectPrompt(r.s, errText))
	if err != nil {
		return fallback
	}
	var d diagnosis
	if err := json.Unmarshal([]byte(llm.ExtractJSON(out)), &d); err != nil {
		r.log.Debug("unparseable diagnosis: %v", err)
		return fallback
	}
	if t := soal.ParseFailureType(d.FailureType); t == soal.FailureUnknown && rule != soal.FailureUnknown {
		d.FailureType = string(rule)
	} else {
		d.FailureType = string(t)
	}
	if d.RootCause == "" {
		d.RootCause = fallback.RootCause
	}
	if d.SuggestedFix == "" {
		d.SuggestedFix = fallback.SuggestedFix
	}
	return d
}

func (r *taskRun) report(ctx context.Context) {
	s := r.s
	finalize(s, r.o.limits.QualityThreshold)
	rep := buildReport(s)

	if ctx.Err() == nil {
		if md, err := r.generate(ctx, PurposeReport, reportPrompt(rep)); err == nil && strings.TrimSpace(md) != "" {
			rep.Markdown = md
		}
	}
	if rep.Markdown == "" {
		rep.Markdown = FallbackMarkdown(rep)
	}
	r.audit.TaskComplete(string(rep.CompletionStatus), rep.QualityScore, rep.Iterations)
	r.result = rep
}

// hostOf matches the domain key reflection memory files insights under.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
