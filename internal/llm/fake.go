package llm

import (
	"context"
	"sync"
)

// Call is one prompt seen by Fake.
type Call struct {
	Purpose string
	Prompt  string
}

// Fake is a deterministic CodeGenerator for tests and offline runs.
// Responses are queued per purpose; the last queued response repeats.
type Fake struct {
	mu     sync.Mutex
	queues map[string][]string
	fn     func(purpose, prompt string) (string, error)
	calls  []Call
}

// NewFake creates a Fake with no scripted responses.
func NewFake() *Fake {
	return &Fake{queues: map[string][]string{}}
}

// On queues responses for a purpose.
func (f *Fake) On(purpose string, responses ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[purpose] = append(f.queues[purpose], responses...)
	return f
}

// OnFunc answers every purpose without a queue.
func (f *Fake) OnFunc(fn func(purpose, prompt string) (string, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	return f
}

func (f *Fake) Name() string { return "fake" }
func (f *Fake) Close() error { return nil }

func (f *Fake) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	purpose := PurposeFrom(ctx)

	f.mu.Lock()
	f.calls = append(f.calls, Call{Purpose: purpose, Prompt: prompt})
	q := f.queues[purpose]
	fn := f.fn
	if len(q) > 0 {
		out := q[0]
		if len(q) > 1 {
			f.queues[purpose] = q[1:]
		}
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()

	if fn != nil {
		return fn(purpose, prompt)
	}
	return "", ErrEmptyResponse
}

// Calls returns every prompt seen so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Prompts returns the prompts seen for one purpose.
func (f *Fake) Prompts(purpose string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Purpose == purpose {
			out = append(out, c.Prompt)
		}
	}
	return out
}
