// Package tactile is the execution layer that runs generated extraction
// scripts against the outside world.
//
// Two layers live here:
//   - Executors run a Command as a process (DirectExecutor on the host,
//     DockerExecutor inside a throwaway container) with timeouts, output
//     limits, and process-group kill on timeout or cancellation.
//   - Sandbox wraps an Executor with the script contract: write the script
//     into a scratch directory, run it, decode stdout as JSON, and always
//     remove the scratch directory.
package tactile

import (
	"errors"
	"time"
)

// SandboxMode defines the isolation level for script execution.
type SandboxMode string

const (
	// SandboxNone runs scripts directly on the host in their own process group.
	SandboxNone SandboxMode = "none"

	// SandboxDocker runs scripts in a Docker container.
	SandboxDocker SandboxMode = "docker"
)

// ErrEmptyScript is returned when asked to run an empty script.
var ErrEmptyScript = errors.New("empty script")

// Command represents a process to be executed.
type Command struct {
	// Binary is the executable to run (e.g., "python3", "docker").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to set (in KEY=VALUE format), merged with the
	// executor's allowed environment.
	Environment []string `json:"environment,omitempty"`

	// Stdin provides input to the command's standard input.
	Stdin string `json:"stdin,omitempty"`

	// Timeout bounds the run. Zero means the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxOutputBytes caps captured stdout and stderr each. Zero means the executor default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// ExecutionResult is the process-level outcome of a Command.
type ExecutionResult struct {
	// ExitCode is the process exit code (-1 if it never exited normally).
	ExitCode int `json:"exit_code"`

	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	// Killed is true when the process was terminated by timeout or cancellation.
	Killed     bool   `json:"killed"`
	KillReason string `json:"kill_reason,omitempty"`

	// TimedOut distinguishes deadline kills from caller cancellation.
	TimedOut bool `json:"timed_out,omitempty"`

	Truncated      bool  `json:"truncated,omitempty"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// Error holds an infrastructure failure (binary missing, etc.).
	Error string `json:"error,omitempty"`

	SandboxUsed SandboxMode `json:"sandbox_used"`
}

// ScriptResult is the outcome of running one generated script.
// It is created once by Sandbox.Run and never mutated afterwards.
type ScriptResult struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`

	// ParsedData is the decoded JSON value of stdout, or the trimmed raw
	// stdout string when it is not JSON, or nil when stdout is empty.
	ParsedData any `json:"parsed_data,omitempty"`

	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Killed   bool          `json:"killed,omitempty"`
}

// ExecutorCapabilities describes what an executor supports.
type ExecutorCapabilities struct {
	Name                     string        `json:"name"`
	Platform                 string        `json:"platform"`
	SupportsNetworkIsolation bool          `json:"supports_network_isolation"`
	DefaultTimeout           time.Duration `json:"default_timeout"`
}

// ExecutorConfig holds executor-wide defaults.
type ExecutorConfig struct {
	DefaultTimeout     time.Duration
	MaxOutputBytes     int64
	AllowedEnvironment []string
	// KillGrace bounds how long Wait blocks on leftover pipes after a kill.
	KillGrace time.Duration
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout: 120 * time.Second,
		MaxOutputBytes: 10 * 1024 * 1024,
		AllowedEnvironment: []string{
			"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR",
			"PLAYWRIGHT_BROWSERS_PATH", "PYTHONPATH", "VIRTUAL_ENV",
			"SYSTEMROOT", "TEMP", "TMP",
		},
		KillGrace: 2 * time.Second,
	}
}

// Merge fills unset command fields from the config.
func (c ExecutorConfig) Merge(cmd Command) Command {
	if cmd.Timeout <= 0 {
		cmd.Timeout = c.DefaultTimeout
	}
	if cmd.MaxOutputBytes <= 0 {
		cmd.MaxOutputBytes = c.MaxOutputBytes
	}
	return cmd
}

// SandboxConfig configures the script sandbox.
type SandboxConfig struct {
	Mode         SandboxMode `yaml:"mode"`
	PythonBinary string      `yaml:"python_binary"`
	ScriptName   string      `yaml:"script_name"`
	DirPrefix    string      `yaml:"dir_prefix"`

	// Docker settings
	Image       string `yaml:"image"`
	NetworkMode string `yaml:"network_mode"`
	Memory      string `yaml:"memory"`
	ShmSize     string `yaml:"shm_size"`

	MaxOutputBytes int64 `yaml:"max_output_bytes"`
}

// DefaultSandboxConfig returns the host-mode defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Mode:           SandboxNone,
		PythonBinary:   "python3",
		ScriptName:     "scrape.py",
		DirPrefix:      "crawler_",
		Image:          "crawler-sandbox:latest",
		NetworkMode:    "bridge",
		Memory:         "1g",
		ShmSize:        "512m",
		MaxOutputBytes: 10 * 1024 * 1024,
	}
}
