package tactile

import "context"

// Executor is a process runner. Execute must kill the process and its
// children when ctx ends or the command timeout passes. Its error is for
// commands that could not be attempted; process failures go in the result.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)
	Capabilities() ExecutorCapabilities
	Validate(cmd Command) error
}
