package tactile

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"reconagent/internal/logging"
)

// DockerOptions configures the container a script runs in.
type DockerOptions struct {
	Image       string
	NetworkMode string
	Memory      string
	ShmSize     string
}

// DockerExecutor runs each command in a throwaway container through the
// docker CLI, which itself runs under a DirectExecutor. The command's
// WorkingDirectory is mounted at /workspace.
type DockerExecutor struct {
	host    *DirectExecutor
	options DockerOptions

	// docker is the resolved CLI path; empty when the daemon did not answer.
	docker string
}

func NewDockerExecutor(options DockerOptions, config ExecutorConfig) *DockerExecutor {
	return &DockerExecutor{
		host:    NewDirectExecutorWithConfig(config),
		options: options,
		docker:  probeDocker(),
	}
}

// probeDocker returns the docker CLI path if the daemon responds within 5s.
func probeDocker() string {
	path, err := exec.LookPath("docker")
	if err != nil {
		logging.SandboxDebug("no docker CLI on PATH: %v", err)
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, path, "info", "--format", "{{.ServerVersion}}").Run(); err != nil {
		logging.SandboxWarn("docker daemon unreachable, container sandbox disabled: %v", err)
		return ""
	}
	return path
}

func (e *DockerExecutor) IsAvailable() bool { return e.docker != "" }

func (e *DockerExecutor) Capabilities() ExecutorCapabilities {
	caps := e.host.Capabilities()
	caps.Name = "docker"
	caps.SupportsNetworkIsolation = true
	return caps
}

func (e *DockerExecutor) Validate(cmd Command) error {
	switch {
	case !e.IsAvailable():
		return errors.New("tactile: docker is not available on this host")
	case e.options.Image == "":
		return errors.New("tactile: docker sandbox has no image")
	}
	return e.host.Validate(cmd)
}

// Execute runs a command inside a fresh container. On timeout or
// cancellation the container itself is killed, not just the docker client.
func (e *DockerExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if err := e.Validate(cmd); err != nil {
		return nil, err
	}

	name := "recon-" + uuid.NewString()
	dockerCmd := Command{
		Binary:         e.docker,
		Arguments:      e.buildDockerArgs(name, cmd),
		Stdin:          cmd.Stdin,
		Timeout:        cmd.Timeout,
		MaxOutputBytes: cmd.MaxOutputBytes,
	}

	logging.SandboxDebug("docker run %s (image=%s, mount=%s)", name, e.options.Image, cmd.WorkingDirectory)
	result, err := e.host.Execute(ctx, dockerCmd)
	if err != nil {
		return nil, err
	}
	result.SandboxUsed = SandboxDocker

	if result.Killed {
		e.killContainer(name)
	}
	return result, nil
}

func (e *DockerExecutor) buildDockerArgs(name string, cmd Command) []string {
	args := []string{"run", "--rm", "--name", name}

	if e.options.NetworkMode != "" {
		args = append(args, "--network="+e.options.NetworkMode)
	}
	if e.options.Memory != "" {
		args = append(args, "--memory="+e.options.Memory)
	}
	if e.options.ShmSize != "" {
		args = append(args, "--shm-size="+e.options.ShmSize)
	}
	if cmd.WorkingDirectory != "" {
		args = append(args, "-v", cmd.WorkingDirectory+":/workspace", "-w", "/workspace")
	}
	for _, env := range cmd.Environment {
		args = append(args, "-e", env)
	}
	if cmd.Stdin != "" {
		args = append(args, "-i")
	}

	args = append(args, e.options.Image, cmd.Binary)
	return append(args, cmd.Arguments...)
}

// killContainer stops a container whose client process was killed.
// It uses a fresh context because the caller's is already done.
func (e *DockerExecutor) killContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, e.docker, "kill", name).Run(); err != nil {
		logging.SandboxDebug("docker kill %s: %v", name, err)
		return
	}
	logging.Sandbox("killed container %s", name)
}
