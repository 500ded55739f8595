package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"reconagent/internal/logging"
)

// Middleware decorates a CodeGenerator.
type Middleware func(CodeGenerator) CodeGenerator

// Wrap applies mws so the first one is outermost: Wrap(g, A, B) == A(B(g)).
func Wrap(inner CodeGenerator, mws ...Middleware) CodeGenerator {
	for i := len(mws) - 1; i >= 0; i-- {
		inner = mws[i](inner)
	}
	return inner
}

// Retry retries Generate up to maxAttempts times with exponential backoff
// starting at baseDelay. Permanent errors and context cancellation stop it.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return func(next CodeGenerator) CodeGenerator {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next CodeGenerator
	max  int
	base time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }

func (r *retrying) Generate(ctx context.Context, prompt string) (string, error) {
	var last error
	for i := 0; i < r.max; i++ {
		out, err := r.next.Generate(ctx, prompt)
		if err == nil {
			return out, nil
		}
		var pErr *PermanentError
		if errors.As(err, &pErr) {
			return "", err
		}
		last = err
		if i == r.max-1 {
			break
		}
		logging.LLMWarn("%s attempt %d/%d failed: %v", PurposeFrom(ctx), i+1, r.max, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.base * time.Duration(1<<i)):
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", r.max, last)
}

// Logging records each call's purpose, size and latency.
func Logging() Middleware {
	return func(next CodeGenerator) CodeGenerator {
		return &logged{next: next}
	}
}

type logged struct {
	next CodeGenerator
}

func (l *logged) Name() string { return l.next.Name() }
func (l *logged) Close() error { return l.next.Close() }

func (l *logged) Generate(ctx context.Context, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, PurposeFrom(ctx))
	out, err := l.next.Generate(ctx, prompt)
	elapsed := timer.Stop()
	if err != nil {
		logging.LLMWarn("%s via %s failed after %v: %v", PurposeFrom(ctx), l.next.Name(), elapsed, err)
		return "", err
	}
	logging.LLM("%s via %s: prompt=%d response=%d in %v", PurposeFrom(ctx), l.next.Name(), len(prompt), len(out), elapsed)
	return out, nil
}

// Cache memoizes successful responses in an LRU keyed by the prompt's sha256.
// Errors are never cached.
func Cache(size int) Middleware {
	return func(next CodeGenerator) CodeGenerator {
		c, err := lru.New[string, string](size)
		if err != nil {
			logging.LLMWarn("cache disabled: %v", err)
			return next
		}
		return &cached{next: next, cache: c}
	}
}

type cached struct {
	next  CodeGenerator
	cache *lru.Cache[string, string]
}

func (c *cached) Name() string { return c.next.Name() }

func (c *cached) Close() error {
	c.cache.Purge()
	return c.next.Close()
}

func (c *cached) Generate(ctx context.Context, prompt string) (string, error) {
	sum := sha256.Sum256([]byte(prompt))
	key := hex.EncodeToString(sum[:])
	if out, ok := c.cache.Get(key); ok {
		logging.LLMDebug("cache hit for %s", PurposeFrom(ctx))
		return out, nil
	}
	out, err := c.next.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, out)
	return out, nil
}
