package recon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"reconagent/internal/browser"
	"reconagent/internal/config"
	"reconagent/internal/llm"
	"reconagent/internal/logging"
	"reconagent/internal/quality"
	"reconagent/internal/reflection"
	"reconagent/internal/selector"
	"reconagent/internal/soal"
	"reconagent/internal/tactile"
	"reconagent/internal/verify"
)

// ErrNoGenerator is returned by New without a code generator.
var ErrNoGenerator = errors.New("recon: code generator required")

// Event reports pipeline progress.
type Event struct {
	Type      string    `json:"type"` // task_started, stage_completed, task_completed
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	Stage     Stage     `json:"stage,omitempty"`
	Next      Stage     `json:"next,omitempty"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Options wires an Orchestrator. Only Generator is required; the rest
// default to the configured implementations.
type Options struct {
	Config    *config.Config
	Generator llm.CodeGenerator
	Observer  browser.Observer
	Runner    verify.Runner
	Memory    *reflection.Memory

	// Events receives progress; sends never block.
	Events chan<- Event
}

// Orchestrator runs tasks through the pipeline. It is safe to run several
// tasks at once; they share only the reflection memory.
type Orchestrator struct {
	cfg       *config.Config
	gen       llm.CodeGenerator
	observer  browser.Observer
	runner    verify.Runner
	memory    *reflection.Memory
	verifier  *verify.Verifier
	syntax    *verify.SyntaxChecker
	validator *selector.Validator
	evaluator *quality.Evaluator
	limits    Limits
	events    chan<- Event
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Generator == nil {
		return nil, ErrNoGenerator
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	o := &Orchestrator{
		cfg:       cfg,
		gen:       opts.Generator,
		observer:  opts.Observer,
		runner:    opts.Runner,
		memory:    opts.Memory,
		syntax:    verify.NewSyntaxChecker(),
		validator: selector.NewValidator(cfg.Selector),
		evaluator: quality.NewEvaluator(cfg.Quality),
		limits: Limits{
			MaxIterations:    cfg.SOAL.MaxIterations(),
			QualityThreshold: cfg.Pipeline.QualityThreshold,
		},
		events: opts.Events,
	}
	if o.observer == nil {
		o.observer = browser.New(cfg.Browser)
	}
	if o.runner == nil {
		o.runner = tactile.NewSandbox(cfg.Sandbox, nil)
	}
	if o.memory == nil {
		mem, err := reflection.NewMemory(reflection.NewInMemoryStorage())
		if err != nil {
			return nil, err
		}
		o.memory = mem
	}
	o.verifier = verify.NewVerifier(o.runner, cfg.GetDryRunTimeout())

	logging.Orchestrator("orchestrator ready: generator=%s observer=%s soal=%s max_iterations=%d threshold=%.2f",
		o.gen.Name(), o.observer.Name(), cfg.SOAL.Mode, o.limits.MaxIterations, o.limits.QualityThreshold)
	return o, nil
}

// Memory returns the shared reflection memory.
func (o *Orchestrator) Memory() *reflection.Memory { return o.memory }

// Limits returns the thresholds the transition predicates use.
func (o *Orchestrator) Limits() Limits { return o.limits }

// Close releases the observer.
func (o *Orchestrator) Close() error {
	if err := o.observer.Close(); err != nil {
		logging.OrchestratorError("close observer %s: %v", o.observer.Name(), err)
		return err
	}
	return nil
}

// taskRun is the per-task context handed to stage handlers.
type taskRun struct {
	o     *Orchestrator
	s     *TaskState
	loop  *soal.Loop
	log   *logging.RequestLogger
	audit *logging.AuditLogger

	result *Report
}

type stageHandler func(r *taskRun, ctx context.Context)

var handlers = map[Stage]stageHandler{
	StageSense:      (*taskRun).sense,
	StageInteract:   (*taskRun).interact,
	StageValidate:   (*taskRun).validate,
	StagePlan:       (*taskRun).plan,
	StageVerifyPlan: (*taskRun).verifyPlan,
	StageAct:        (*taskRun).act,
	StageSOAL:       (*taskRun).repair,
	StageVerify:     (*taskRun).verify,
	StageReflect:    (*taskRun).reflect,
	StageReport:     (*taskRun).report,
}

// Run executes one task. It always returns a report: stage errors, panics
// and cancellation all end in the Report stage, which runs exactly once.
func (o *Orchestrator) Run(ctx context.Context, task Task) *Report {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	timer := logging.StartTimer(logging.CategoryOrchestrator, "task "+task.ID)
	r := &taskRun{
		o:     o,
		s:     NewTaskState(task),
		log:   logging.WithRequestID(logging.CategoryOrchestrator, task.ID).WithField("url", task.URL),
		audit: logging.AuditForTask(task.ID),
	}
	r.loop = soal.NewLoop(o.cfg.SOAL, r, r.checkRepair)

	r.log.Info("task started: goal=%q", task.Goal)
	r.audit.TaskStart(task.URL, task.Goal)
	o.emit(Event{Type: "task_started", TaskID: task.ID, Message: task.URL})

	stage := StageSense
	for stage != StageReport {
		if err := ctx.Err(); err != nil {
			r.s.FailureReason = ReasonCancelled
			r.s.FailureDetail = fmt.Sprintf("cancelled before %s: %v", stage, err)
			r.log.Warn("task cancelled before stage %s", stage)
			break
		}
		stage = r.step(ctx, stage)
	}
	r.step(ctx, StageReport)

	report := r.result
	report.Duration = timer.Elapsed()
	logging.Get(logging.CategoryOrchestrator).StructuredLog("info", "task finished", map[string]interface{}{
		"req":        r.log.RequestID(),
		"url":        task.URL,
		"status":     string(report.CompletionStatus),
		"reason":     string(report.FailureReason),
		"score":      report.QualityScore,
		"records":    report.SampleCount,
		"iterations": report.Iterations,
		"duration":   report.Duration.String(),
	})
	o.emit(Event{Type: "task_completed", TaskID: task.ID, Message: string(report.CompletionStatus)})
	return report
}

// step runs one stage and resolves the transition out of it.
func (r *taskRun) step(ctx context.Context, stage Stage) Stage {
	s := r.s
	s.Stage = stage
	r.audit.StageEnter(string(stage))
	timer := logging.StartTimer(logging.CategoryPerformance, string(stage))

	panicked := r.invoke(ctx, stage)

	d := timer.Stop()
	s.Metrics.Record(stage, d)

	var (
		edge Edge
		out  Outcome
	)
	switch {
	case panicked && stage == StageReport:
		edge, out = Edge{To: StageDone}, OutcomeGiveUp
	case panicked:
		edge, out = Edge{To: StageReport}, OutcomeGiveUp
	default:
		var err error
		edge, out, err = Next(stage, s, r.o.limits)
		if err != nil {
			r.log.Error("transition: %v", err)
			s.FailureReason, s.FailureDetail = ReasonStagePanic, err.Error()
			edge = Edge{To: StageReport}
		}
	}
	if edge.Reason != "" && s.FailureReason == "" {
		s.FailureReason = edge.Reason
	}

	r.audit.StageExit(string(stage), string(edge.To), d.Milliseconds())
	r.log.Debug("stage %s -> %s (%s) in %v", stage, edge.To, out, d)
	r.o.emit(Event{Type: "stage_completed", TaskID: s.TaskID, Stage: stage, Next: edge.To, Outcome: out})
	return edge.To
}

// invoke runs a handler. A panic is recorded on the state as STAGE_PANIC;
// a panic inside Report still leaves a fallback report behind.
func (r *taskRun) invoke(ctx context.Context, stage Stage) (panicked bool) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		panicked = true
		r.s.FailureReason = ReasonStagePanic
		r.s.FailureDetail = fmt.Sprintf("panic in %s: %v", stage, p)
		r.log.Error("%s\n%s", r.s.FailureDetail, debug.Stack())
		if stage == StageReport && r.result == nil {
			finalize(r.s, r.o.limits.QualityThreshold)
			r.result = buildReport(r.s)
			r.result.Markdown = FallbackMarkdown(r.result)
		}
	}()
	handlers[stage](r, ctx)
	return false
}

func (o *Orchestrator) emit(e Event) {
	if o.events == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case o.events <- e:
	default:
		logging.OrchestratorDebug("event %s for task %s dropped: channel full", e.Type, e.TaskID)
	}
}
