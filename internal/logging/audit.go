package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType identifies one kind of task event in audit.jsonl.
type AuditEventType string

const (
	AuditTaskStart        AuditEventType = "task_start"
	AuditTaskComplete     AuditEventType = "task_complete"
	AuditStageEnter       AuditEventType = "stage_enter"
	AuditStageExit        AuditEventType = "stage_exit"
	AuditSandboxRun       AuditEventType = "sandbox_run"
	AuditLLMCall          AuditEventType = "llm_call"
	AuditSOALAction       AuditEventType = "soal_action"
	AuditReflectionRecord AuditEventType = "reflection_record"
)

// AuditEvent is one structured audit line.
type AuditEvent struct {
	EventType  AuditEventType
	TaskID     string
	Target     string
	Action     string
	Success    bool
	DurationMs int64
	Error      string
	Fields     map[string]interface{}
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditMu   sync.Mutex
	auditZap  *zap.Logger
	auditSink *lumberjack.Logger
)

// AuditLogger writes task-scoped events to the shared audit file.
type AuditLogger struct {
	taskID string
}

// InitAudit opens the audit file. It is a no-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() || LogsDir() == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditZap != nil {
		return nil
	}

	auditSink = newSink("audit.jsonl")
	core := zapcore.NewCore(newEncoder(true), zapcore.AddSync(auditSink), zapcore.DebugLevel)
	auditZap = zap.New(core)
	return nil
}

// CloseAudit flushes and closes the audit file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditZap != nil {
		_ = auditZap.Sync()
		auditZap = nil
	}
	if auditSink != nil {
		_ = auditSink.Close()
		auditSink = nil
	}
}

// AuditForTask returns an audit logger that stamps every event with taskID.
func AuditForTask(taskID string) *AuditLogger {
	return &AuditLogger{taskID: taskID}
}

// Log writes an audit event.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditZap == nil {
		return
	}
	if event.TaskID == "" {
		event.TaskID = a.taskID
	}

	fields := []zap.Field{
		zap.String("event", string(event.EventType)),
		zap.String("task", event.TaskID),
		zap.Bool("success", event.Success),
		zap.Time("at", time.Now()),
	}
	if event.Target != "" {
		fields = append(fields, zap.String("target", event.Target))
	}
	if event.Action != "" {
		fields = append(fields, zap.String("action", event.Action))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("dur_ms", event.DurationMs))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	for k, v := range event.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	auditZap.Info(string(event.EventType), fields...)
}

// =============================================================================
// CONVENIENCE METHODS
// =============================================================================

// TaskStart records the beginning of a pipeline run.
func (a *AuditLogger) TaskStart(siteURL, goal string) {
	a.Log(AuditEvent{
		EventType: AuditTaskStart,
		Target:    siteURL,
		Success:   true,
		Fields:    map[string]interface{}{"goal": goal},
	})
}

// TaskComplete records the final report status.
func (a *AuditLogger) TaskComplete(status string, score float64, iterations int) {
	a.Log(AuditEvent{
		EventType: AuditTaskComplete,
		Action:    status,
		Success:   status == "success",
		Fields:    map[string]interface{}{"quality_score": score, "iterations": iterations},
	})
}

// StageEnter records a stage beginning.
func (a *AuditLogger) StageEnter(stage string) {
	a.Log(AuditEvent{EventType: AuditStageEnter, Target: stage, Success: true})
}

// StageExit records a stage end and where the FSM routes next.
func (a *AuditLogger) StageExit(stage, next string, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditStageExit,
		Target:     stage,
		Action:     next,
		Success:    true,
		DurationMs: durationMs,
	})
}

// SandboxRun records one script execution.
func (a *AuditLogger) SandboxRun(purpose string, durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditSandboxRun,
		Action:     purpose,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// LLMCall records one generation call.
func (a *AuditLogger) LLMCall(purpose string, promptLen int, durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditLLMCall,
		Action:     purpose,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"prompt_len": promptLen},
	})
}

// SOALAction records the action chosen by the repair loop.
func (a *AuditLogger) SOALAction(action string, confidence float64, success bool) {
	a.Log(AuditEvent{
		EventType: AuditSOALAction,
		Action:    action,
		Success:   success,
		Fields:    map[string]interface{}{"confidence": confidence},
	})
}

// ReflectionRecord records a memory write.
func (a *AuditLogger) ReflectionRecord(domain, failureType string) {
	a.Log(AuditEvent{
		EventType: AuditReflectionRecord,
		Target:    domain,
		Action:    failureType,
		Success:   true,
	})
}
