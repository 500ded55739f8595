package tactile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reconagent/internal/logging"
)

// Sandbox runs generated scripts through an Executor. Every run gets a fresh
// scratch directory that is removed on every exit path.
type Sandbox struct {
	config   SandboxConfig
	executor Executor
}

// NewSandbox creates a sandbox over the given executor. A nil executor picks
// one from config.Mode.
func NewSandbox(config SandboxConfig, executor Executor) *Sandbox {
	defaults := DefaultSandboxConfig()
	if config.PythonBinary == "" {
		config.PythonBinary = defaults.PythonBinary
	}
	if config.ScriptName == "" {
		config.ScriptName = defaults.ScriptName
	}
	if config.DirPrefix == "" {
		config.DirPrefix = defaults.DirPrefix
	}
	if config.Mode == "" {
		config.Mode = SandboxNone
	}
	if executor == nil {
		executor = NewExecutor(config)
	}
	return &Sandbox{config: config, executor: executor}
}

// NewExecutor builds the executor for a sandbox mode.
func NewExecutor(config SandboxConfig) Executor {
	execCfg := DefaultExecutorConfig()
	if config.MaxOutputBytes > 0 {
		execCfg.MaxOutputBytes = config.MaxOutputBytes
	}
	if config.Mode == SandboxDocker {
		return NewDockerExecutor(DockerOptions{
			Image:       config.Image,
			NetworkMode: config.NetworkMode,
			Memory:      config.Memory,
			ShmSize:     config.ShmSize,
		}, execCfg)
	}
	return NewDirectExecutorWithConfig(execCfg)
}

// Mode reports the configured isolation mode.
func (s *Sandbox) Mode() SandboxMode {
	return s.config.Mode
}

// Run writes code to a scratch directory and executes it with the given
// timeout. Process-level failures are reported in the result, never as a
// panic or a returned error.
func (s *Sandbox) Run(ctx context.Context, code string, timeout time.Duration) *ScriptResult {
	if strings.TrimSpace(code) == "" {
		return &ScriptResult{ExitCode: -1, Error: ErrEmptyScript.Error()}
	}

	dir, err := os.MkdirTemp("", s.config.DirPrefix+"*")
	if err != nil {
		return &ScriptResult{ExitCode: -1, Error: fmt.Sprintf("create scratch dir: %v", err)}
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logging.SandboxWarn("failed to remove scratch dir %s: %v", dir, rmErr)
		}
	}()

	scriptPath := filepath.Join(dir, s.config.ScriptName)
	if err := os.WriteFile(scriptPath, []byte(code), 0o600); err != nil {
		return &ScriptResult{ExitCode: -1, Error: fmt.Sprintf("write script: %v", err)}
	}

	cmd := Command{
		Binary:           s.config.PythonBinary,
		Arguments:        []string{scriptPath},
		WorkingDirectory: dir,
		Timeout:          timeout,
		Environment:      []string{"PYTHONUNBUFFERED=1", "PYTHONIOENCODING=utf-8"},
	}
	if s.config.Mode == SandboxDocker {
		cmd.Binary = "python"
		cmd.Arguments = []string{s.config.ScriptName}
	}

	logging.Sandbox("running script (%d bytes, mode=%s, timeout=%s)", len(code), s.config.Mode, timeout)
	res, err := s.executor.Execute(ctx, cmd)
	if err != nil {
		logging.SandboxError("executor refused script: %v", err)
		return &ScriptResult{ExitCode: -1, Error: err.Error()}
	}
	return toScriptResult(res)
}

func toScriptResult(res *ExecutionResult) *ScriptResult {
	out := &ScriptResult{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
		Killed:   res.Killed,
	}

	switch {
	case res.TimedOut:
		out.Error = res.KillReason
	case res.Killed:
		out.Error = "cancelled: " + res.KillReason
	case res.Error != "":
		out.Error = res.Error
	case res.ExitCode == 0:
		out.Success = true
	default:
		out.Error = strings.TrimSpace(res.Stderr)
		if out.Error == "" {
			out.Error = fmt.Sprintf("exit status %d", res.ExitCode)
		}
	}

	out.ParsedData = ParseOutput(res.Stdout)
	return out
}

// ParseOutput decodes script stdout. The whole trimmed output is tried as
// JSON first, then the last non-empty line (scripts often log before the
// result). Non-JSON output comes back as the trimmed string; empty output
// as nil.
func ParseOutput(stdout string) any {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}

	lines := strings.Split(trimmed, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
			if err := json.Unmarshal([]byte(line), &v); err == nil {
				return v
			}
		}
		break
	}
	return trimmed
}

// ExtractRecords pulls the record list out of parsed script output. Both
// {"results": [...]} and a bare array are accepted; anything else yields nil.
// Non-object entries are skipped.
func ExtractRecords(parsed any) []map[string]any {
	var items []any
	switch v := parsed.(type) {
	case []any:
		items = v
	case map[string]any:
		results, ok := v["results"].([]any)
		if !ok {
			return nil
		}
		items = results
	default:
		return nil
	}

	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records
}

// Metadata returns the "metadata" object of parsed output, if any.
func Metadata(parsed any) map[string]any {
	m, ok := parsed.(map[string]any)
	if !ok {
		return nil
	}
	meta, _ := m["metadata"].(map[string]any)
	return meta
}
