// Package logging provides config-driven categorized file-based logging for reconagent.
// Logs are written to <workspace>/.recon/logs/ with one rotating file per category.
// Logging is controlled by debug_mode in the logging config section - when false,
// no logs are written and every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot         Category = "boot"         // Boot/initialization
	CategoryOrchestrator Category = "orchestrator" // FSM transitions, task lifecycle
	CategoryPerformance  Category = "performance"  // Stage timings, slow operations

	// Pipeline stages
	CategorySense      Category = "sense"       // Page observation, anti-bot detection
	CategoryValidate   Category = "validate"    // Selector validation
	CategoryPlan       Category = "plan"        // Code generation
	CategoryVerifyPlan Category = "verify_plan" // Syntax/structure checks, dry-run
	CategoryAct        Category = "act"         // Script execution
	CategoryQuality    Category = "quality"     // Quality scoring
	CategoryReflect    Category = "reflect"     // Failure reflection

	// Supporting systems
	CategorySOAL     Category = "soal"     // Diagnose/repair loop
	CategoryMemory   Category = "memory"   // Reflection memory persistence
	CategorySandbox  Category = "sandbox"  // Process execution
	CategoryBrowser  Category = "browser"  // Browser/HTTP observers
	CategoryLLM      Category = "llm"      // Code generation calls
	CategorySelector Category = "selector" // DOM selector testing
)

// Settings mirrors config.LoggingConfig so this package stays import-free of config.
type Settings struct {
	DebugMode  bool
	Categories map[string]bool
	Level      string
	JSONFormat bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger wraps a zap sugared logger bound to one category and one rotating file.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	sink     *lumberjack.Logger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	settings  Settings
	configMu  sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize sets up the logging directory and stores settings.
// Should be called once at startup with the workspace path.
func Initialize(ws string, s Settings) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	configMu.Lock()
	workspace = ws
	logsDir = filepath.Join(workspace, ".recon", "logs")
	settings = s
	level.SetLevel(parseLevel(s.Level))
	configMu.Unlock()

	if !s.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== reconagent logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", level.Level())
	if len(s.Categories) == 0 {
		boot.Info("All categories enabled (no category filter)")
	} else {
		enabled := 0
		for _, on := range s.Categories {
			if on {
				enabled++
			}
		}
		boot.Info("Enabled categories: %d/%d", enabled, len(s.Categories))
	}
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogsDir returns the active log directory ("" before Initialize).
func LogsDir() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return logsDir
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

func newSink(name string) *lumberjack.Logger {
	configMu.RLock()
	defer configMu.RUnlock()
	maxSize := settings.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 15
	}
	backups := settings.MaxBackups
	if backups <= 0 {
		backups = 3
	}
	age := settings.MaxAgeDays
	if age <= 0 {
		age = 28
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(logsDir, name),
		MaxSize:    maxSize,
		MaxBackups: backups,
		MaxAge:     age,
		Compress:   settings.Compress,
	}
}

func newEncoder(jsonFormat bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if jsonFormat {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || LogsDir() == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	sink := newSink(string(category) + ".log")
	core := zapcore.NewCore(newEncoder(IsJSONFormat()), zapcore.AddSync(sink), level)
	l := &Logger{
		category: category,
		sugar:    zap.New(core).With(zap.String("cat", string(category))).Sugar(),
		sink:     sink,
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// StructuredLog writes a log entry with custom fields
func (l *Logger) StructuredLog(lvl string, msg string, fields map[string]interface{}) {
	if l.sugar == nil {
		return
	}
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	switch parseLevel(lvl) {
	case zapcore.DebugLevel:
		l.sugar.Debugw(msg, kv...)
	case zapcore.WarnLevel:
		l.sugar.Warnw(msg, kv...)
	case zapcore.ErrorLevel:
		l.sugar.Errorw(msg, kv...)
	default:
		l.sugar.Infow(msg, kv...)
	}
}

// IsJSONFormat returns whether JSON logging is enabled
func IsJSONFormat() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return settings.JSONFormat
}

// WithContext returns a context logger for structured logging
func (l *Logger) WithContext(ctx map[string]interface{}) *ContextLogger {
	c := &ContextLogger{logger: l}
	if l.sugar != nil {
		kv := make([]interface{}, 0, len(ctx)*2)
		for k, v := range ctx {
			kv = append(kv, k, v)
		}
		c.sugar = l.sugar.With(kv...)
	}
	return c
}

// ContextLogger provides structured logging with key-value context
type ContextLogger struct {
	logger *Logger
	sugar  *zap.SugaredLogger
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	if c.sugar != nil {
		c.sugar.Debugf(format, args...)
	}
}

func (c *ContextLogger) Info(format string, args ...interface{}) {
	if c.sugar != nil {
		c.sugar.Infof(format, args...)
	}
}

func (c *ContextLogger) Warn(format string, args ...interface{}) {
	if c.sugar != nil {
		c.sugar.Warnf(format, args...)
	}
}

func (c *ContextLogger) Error(format string, args ...interface{}) {
	if c.sugar != nil {
		c.sugar.Errorf(format, args...)
	}
}

// CloseAll flushes and closes all log files
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.sink != nil {
			_ = l.sink.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Orchestrator logs to the orchestrator category
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// OrchestratorDebug logs debug to the orchestrator category
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}

// OrchestratorWarn logs warning to the orchestrator category
func OrchestratorWarn(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Warn(format, args...)
}

// OrchestratorError logs error to the orchestrator category
func OrchestratorError(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Error(format, args...)
}

// Sandbox logs to the sandbox category
func Sandbox(format string, args ...interface{}) {
	Get(CategorySandbox).Info(format, args...)
}

// SandboxDebug logs debug to the sandbox category
func SandboxDebug(format string, args ...interface{}) {
	Get(CategorySandbox).Debug(format, args...)
}

// SandboxWarn logs warning to the sandbox category
func SandboxWarn(format string, args ...interface{}) {
	Get(CategorySandbox).Warn(format, args...)
}

// SandboxError logs error to the sandbox category
func SandboxError(format string, args ...interface{}) {
	Get(CategorySandbox).Error(format, args...)
}

// Memory logs to the memory category
func Memory(format string, args ...interface{}) {
	Get(CategoryMemory).Info(format, args...)
}

// MemoryDebug logs debug to the memory category
func MemoryDebug(format string, args ...interface{}) {
	Get(CategoryMemory).Debug(format, args...)
}

// MemoryWarn logs warning to the memory category
func MemoryWarn(format string, args ...interface{}) {
	Get(CategoryMemory).Warn(format, args...)
}

// SOAL logs to the soal category
func SOAL(format string, args ...interface{}) {
	Get(CategorySOAL).Info(format, args...)
}

// SOALDebug logs debug to the soal category
func SOALDebug(format string, args ...interface{}) {
	Get(CategorySOAL).Debug(format, args...)
}

// LLM logs to the llm category
func LLM(format string, args ...interface{}) {
	Get(CategoryLLM).Info(format, args...)
}

// LLMDebug logs debug to the llm category
func LLMDebug(format string, args ...interface{}) {
	Get(CategoryLLM).Debug(format, args...)
}

// LLMWarn logs warning to the llm category
func LLMWarn(format string, args ...interface{}) {
	Get(CategoryLLM).Warn(format, args...)
}

// Browser logs to the browser category
func Browser(format string, args ...interface{}) {
	Get(CategoryBrowser).Info(format, args...)
}

// BrowserDebug logs debug to the browser category
func BrowserDebug(format string, args ...interface{}) {
	Get(CategoryBrowser).Debug(format, args...)
}

// BrowserWarn logs warning to the browser category
func BrowserWarn(format string, args ...interface{}) {
	Get(CategoryBrowser).Warn(format, args...)
}

// =============================================================================
// REQUEST ID TRACING - one task id per pipeline run
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	logger    *Logger
	requestID string
	sugar     *zap.SugaredLogger
}

// WithRequestID creates a request-scoped logger
func WithRequestID(category Category, requestID string) *RequestLogger {
	l := Get(category)
	r := &RequestLogger{logger: l, requestID: requestID}
	if l.sugar != nil {
		r.sugar = l.sugar.With("req", requestID)
	}
	return r
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	if r.sugar != nil {
		r.sugar = r.sugar.With(key, value)
	}
	return r
}

// RequestID returns the correlation id.
func (r *RequestLogger) RequestID() string { return r.requestID }

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	if r.sugar != nil {
		r.sugar.Debugf(format, args...)
	}
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	if r.sugar != nil {
		r.sugar.Infof(format, args...)
	}
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	if r.sugar != nil {
		r.sugar.Warnf(format, args...)
	}
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	if r.sugar != nil {
		r.sugar.Errorf(format, args...)
	}
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Elapsed returns the time since the timer started without logging.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
		Get(CategoryPerformance).Warn("%s/%s slow: %v", t.category, t.op, elapsed)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
