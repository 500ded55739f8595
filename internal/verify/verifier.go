package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reconagent/internal/logging"
	"reconagent/internal/tactile"
)

// Status is the overall verification verdict.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
)

// Runner executes a script. *tactile.Sandbox satisfies it.
type Runner interface {
	Run(ctx context.Context, code string, timeout time.Duration) *tactile.ScriptResult
}

// DryRunResult is the outcome of the early-exit run.
type DryRunResult struct {
	Success  bool   `json:"success"`
	Injected bool   `json:"injected"`
	Skipped  bool   `json:"skipped,omitempty"`
	Output   any    `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Report is the immutable go/no-go record handed to the Act stage.
type Report struct {
	Status          Status          `json:"status"`
	Syntax          SyntaxResult    `json:"syntax_check"`
	Imports         ImportResult    `json:"import_check"`
	Structure       StructureResult `json:"structure_check"`
	DryRun          DryRunResult    `json:"dry_run"`
	CanProceed      bool            `json:"can_proceed"`
	Warnings        []string        `json:"warnings"`
	Recommendations []string        `json:"recommendations"`
	Error           string          `json:"error,omitempty"`
}

// SyntaxValid reports whether the script parsed.
func (r *Report) SyntaxValid() bool { return r.Syntax.Valid }

// ImportsOK reports whether every required import was found.
func (r *Report) ImportsOK() bool { return r.Imports.Valid }

// StructureIssues lists structural problems.
func (r *Report) StructureIssues() []string { return r.Structure.Issues }

// DryRunSuccess reports whether the dry run exited cleanly.
func (r *Report) DryRunSuccess() bool { return r.DryRun.Success }

// Verifier runs all checks on a script.
type Verifier struct {
	syntax  *SyntaxChecker
	runner  Runner
	timeout time.Duration
}

// NewVerifier creates a verifier. dryRunTimeout <= 0 means 30s.
func NewVerifier(runner Runner, dryRunTimeout time.Duration) *Verifier {
	if dryRunTimeout <= 0 {
		dryRunTimeout = 30 * time.Second
	}
	return &Verifier{syntax: NewSyntaxChecker(), runner: runner, timeout: dryRunTimeout}
}

// Verify checks code. Empty code fails without running anything. The dry
// run is skipped when the syntax check fails since it cannot succeed.
// CanProceed equals the dry run's success.
func (v *Verifier) Verify(ctx context.Context, code string) *Report {
	timer := logging.StartTimer(logging.CategoryVerifyPlan, "Verify")
	defer timer.Stop()

	if code == "" {
		return &Report{
			Status:          StatusFailed,
			Error:           "No code generated for verification",
			Warnings:        []string{},
			Recommendations: []string{},
		}
	}

	r := &Report{
		Syntax:    v.syntax.Check(ctx, code),
		Imports:   CheckImports(code),
		Structure: CheckStructure(code),
	}

	if r.Syntax.Valid {
		r.DryRun = v.dryRun(ctx, code)
	} else {
		r.DryRun = DryRunResult{Skipped: true, Error: "skipped: " + r.Syntax.Error}
	}

	r.CanProceed = r.DryRun.Success
	r.Status = determineStatus(r)
	r.Warnings = collectWarnings(r)
	r.Recommendations = recommendations(r)

	logging.Get(logging.CategoryVerifyPlan).Info("verification %s: syntax=%v imports=%v structure_issues=%d dry_run=%v",
		r.Status, r.Syntax.Valid, r.Imports.Valid, len(r.Structure.Issues), r.DryRun.Success)
	return r
}

func (v *Verifier) dryRun(ctx context.Context, code string) DryRunResult {
	if v.runner == nil {
		return DryRunResult{Error: "no sandbox available for dry run"}
	}
	dry, injected := InjectDryRunExit(code)
	res := v.runner.Run(ctx, dry, v.timeout)
	return DryRunResult{
		Success:  res.Success,
		Injected: injected,
		Output:   res.ParsedData,
		Error:    res.Error,
		Stderr:   res.Stderr,
	}
}

func determineStatus(r *Report) Status {
	switch {
	case !r.Syntax.Valid, !r.DryRun.Success:
		return StatusFailed
	case !r.Imports.Valid, !r.Structure.Valid:
		return StatusWarning
	default:
		return StatusPassed
	}
}

func collectWarnings(r *Report) []string {
	warnings := []string{}
	if !r.Imports.Valid {
		warnings = append(warnings, fmt.Sprintf("Missing imports: %s", strings.Join(r.Imports.Missing, ", ")))
	}
	return append(warnings, r.Structure.Issues...)
}

func recommendations(r *Report) []string {
	recs := []string{}
	if !r.Syntax.Valid {
		recs = append(recs, "Fix syntax error: "+r.Syntax.Error)
	}
	if !r.Imports.Valid {
		recs = append(recs, "Add missing import statements")
	}
	if !r.Structure.Valid {
		if !r.Structure.HasMainFunction {
			recs = append(recs, "Add a main() or scrape() function")
		}
		if !r.Structure.HasJSONOutput {
			recs = append(recs, "Ensure code prints results as JSON")
		}
		if !r.Structure.HasErrorHandling {
			recs = append(recs, "Consider adding try-except blocks for error handling")
		}
	}
	if !r.DryRun.Success && !r.DryRun.Skipped {
		msg := r.DryRun.Error
		if msg == "" {
			msg = "Unknown error"
		}
		if len([]rune(msg)) > 100 {
			msg = string([]rune(msg)[:100])
		}
		recs = append(recs, "Fix execution error: "+msg)
	}
	return recs
}
