// Package llm is the code-generation boundary. The pipeline only needs
// text back for a prompt; everything provider specific stays here.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrEmptyResponse is returned when the provider answers with no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// CodeGenerator turns a prompt into text.
type CodeGenerator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// PermanentError marks a failure that retrying cannot fix (bad key,
// unknown model, malformed request).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type purposeKey struct{}

// WithPurpose tags a context with what the call is for (plan, reflect,
// report...). Middleware uses it for logs.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

// PurposeFrom returns the purpose set by WithPurpose, or "generate".
func PurposeFrom(ctx context.Context) string {
	if p, ok := ctx.Value(purposeKey{}).(string); ok && p != "" {
		return p
	}
	return "generate"
}

// New builds the configured provider wrapped with caching, logging and retry.
func New(ctx context.Context, cfg Config) (CodeGenerator, error) {
	var base CodeGenerator
	switch cfg.Provider {
	case ProviderGemini, "":
		g, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		base = g
	case ProviderOpenAI:
		o, err := NewOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		base = o
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	mws := []Middleware{}
	if cfg.CacheSize > 0 {
		mws = append(mws, Cache(cfg.CacheSize))
	}
	mws = append(mws, Logging(), Retry(cfg.MaxRetries+1, 0))
	return Wrap(base, mws...), nil
}

var (
	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*[ \t]*\r?\n(.*?)```")
	jsonFence    = regexp.MustCompile("(?s)```json[ \t]*\r?\n(.*?)```")
)

// ExtractCode returns the body of the first fenced code block, or the whole
// text trimmed when there is no fence.
func ExtractCode(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// ExtractJSON returns the JSON payload of a response: a ```json block if
// present, else the span from the first '{' to the last '}'.
func ExtractJSON(text string) string {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
