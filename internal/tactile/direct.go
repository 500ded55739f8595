package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"reconagent/internal/logging"
)

// DirectExecutor runs commands as host processes. Each one gets its own
// process group, so a timeout or cancellation takes down every child the
// script spawned (browsers included).
type DirectExecutor struct {
	config ExecutorConfig
}

// NewDirectExecutor returns a host executor with DefaultExecutorConfig.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	logging.SandboxDebug("host executor: timeout=%s max_output=%d", config.DefaultTimeout, config.MaxOutputBytes)
	return &DirectExecutor{config: config}
}

func (e *DirectExecutor) Capabilities() ExecutorCapabilities {
	return ExecutorCapabilities{
		Name:           "direct",
		Platform:       runtime.GOOS,
		DefaultTimeout: e.config.DefaultTimeout,
	}
}

// Validate rejects commands with no binary. A binary missing from PATH is
// not a validation error; it surfaces as ExecutionResult.Error.
func (e *DirectExecutor) Validate(cmd Command) error {
	if strings.TrimSpace(cmd.Binary) == "" {
		return errors.New("tactile: command has no binary")
	}
	return nil
}

// Execute runs cmd and waits for it. The returned error is non-nil only when
// the command is invalid; everything that happens to the process is in the
// result.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if err := e.Validate(cmd); err != nil {
		logging.SandboxWarn("rejected command %q: %v", cmd.Binary, err)
		return nil, err
	}
	cmd = e.config.Merge(cmd)

	timer := logging.StartTimer(logging.CategorySandbox, "host process "+cmd.Binary)
	defer timer.Stop()

	runCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: cmd.MaxOutputBytes}
	stderr := &cappedBuffer{limit: cmd.MaxOutputBytes}
	proc := e.process(runCtx, cmd, stdout, stderr)

	logging.SandboxDebug("exec %s %v in %q (timeout %s)", cmd.Binary, cmd.Arguments, cmd.WorkingDirectory, cmd.Timeout)
	start := time.Now()
	runErr := proc.Run()
	end := time.Now()

	res := &ExecutionResult{
		ExitCode:    -1,
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		StartedAt:   start,
		FinishedAt:  end,
		Duration:    end.Sub(start),
		SandboxUsed: SandboxNone,
	}
	if dropped := stdout.dropped + stderr.dropped; dropped > 0 {
		res.Truncated = true
		res.TruncatedBytes = dropped
		logging.SandboxWarn("%s: dropped %d bytes of output", cmd.Binary, dropped)
	}
	settle(res, ctx, runCtx, runErr, cmd)

	logging.Sandbox("%s exited %d after %s (%d bytes stdout, killed=%v)",
		cmd.Binary, res.ExitCode, res.Duration, len(res.Stdout), res.Killed)
	return res, nil
}

func (e *DirectExecutor) process(ctx context.Context, cmd Command, stdout, stderr *cappedBuffer) *exec.Cmd {
	p := exec.CommandContext(ctx, cmd.Binary, cmd.Arguments...)
	p.Dir = cmd.WorkingDirectory
	p.Env = hostEnv(e.config.AllowedEnvironment, cmd.Environment)
	p.Stdout = stdout
	p.Stderr = stderr
	if cmd.Stdin != "" {
		p.Stdin = strings.NewReader(cmd.Stdin)
	}
	setupProcessGroup(p)
	p.Cancel = func() error { return killProcessGroup(p) }
	p.WaitDelay = e.config.KillGrace
	return p
}

// settle fills the exit fields of res. Caller cancellation wins over the
// deadline, and both win over whatever exit status the killed process left.
func settle(res *ExecutionResult, parent, run context.Context, runErr error, cmd Command) {
	var exitErr *exec.ExitError
	switch {
	case parent.Err() != nil:
		res.Killed = true
		res.KillReason = "context canceled"
		logging.SandboxWarn("%s killed: caller cancelled", cmd.Binary)
	case errors.Is(run.Err(), context.DeadlineExceeded):
		res.Killed = true
		res.TimedOut = true
		res.KillReason = fmt.Sprintf("timeout after %gs", cmd.Timeout.Seconds())
		logging.SandboxWarn("%s killed: %s", cmd.Binary, res.KillReason)
	case runErr == nil:
		res.ExitCode = 0
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.Error = runErr.Error()
		logging.SandboxError("%s did not start: %v", cmd.Binary, runErr)
	}
}

// hostEnv passes through the allowed host variables that are set, then
// appends the command's own KEY=VALUE pairs.
func hostEnv(allowed, extra []string) []string {
	env := make([]string, 0, len(allowed)+len(extra))
	for _, key := range allowed {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			env = append(env, key+"="+v)
		}
	}
	return append(env, extra...)
}

// cappedBuffer keeps the first limit bytes written to it and counts the rest.
// Writes never fail, so a chatty script is not killed by a broken pipe.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int64
	dropped int64
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - int64(c.buf.Len())
	switch {
	case room <= 0:
		c.dropped += int64(len(p))
	case int64(len(p)) > room:
		c.buf.Write(p[:room])
		c.dropped += int64(len(p)) - room
	default:
		c.buf.Write(p)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }
