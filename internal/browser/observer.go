// Package browser observes target pages for the Sense stage: a headless
// Chrome observer driven by rod, a plain HTTP observer and a chain that falls
// back from one to the next.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reconagent/internal/logging"
)

// ErrNoObserver is returned by an empty Chain.
var ErrNoObserver = errors.New("browser: no observer configured")

// Observation is a snapshot of a page.
type Observation struct {
	URL        string            `json:"url"`
	FinalURL   string            `json:"final_url"`
	Status     int               `json:"status"`
	Title      string            `json:"title"`
	HTML       string            `json:"-"`
	Headers    map[string]string `json:"headers"`
	Screenshot []byte            `json:"-"`
	Source     string            `json:"source"`
	Duration   time.Duration     `json:"duration"`
}

// Observer fetches a page.
type Observer interface {
	Name() string
	Observe(ctx context.Context, url string) (*Observation, error)
	Close() error
}

// Chain tries observers in order and returns the first success.
type Chain struct {
	observers []Observer
}

// NewChain creates a chain. Nil observers are skipped.
func NewChain(observers ...Observer) *Chain {
	c := &Chain{}
	for _, o := range observers {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
	return c
}

// New builds the configured chain: rod first when enabled, then HTTP.
func New(cfg Config) *Chain {
	var obs []Observer
	if cfg.UseHeadless {
		obs = append(obs, NewRodObserver(cfg))
	}
	return NewChain(append(obs, NewHTTPObserver(cfg))...)
}

func (c *Chain) Name() string {
	names := make([]string, len(c.observers))
	for i, o := range c.observers {
		names[i] = o.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Observe returns the first successful observation. When every observer
// fails the errors are joined.
func (c *Chain) Observe(ctx context.Context, url string) (*Observation, error) {
	if len(c.observers) == 0 {
		return nil, ErrNoObserver
	}
	var errs []error
	for _, o := range c.observers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs, err := o.Observe(ctx, url)
		if err == nil {
			return obs, nil
		}
		logging.BrowserWarn("%s failed for %s: %v", o.Name(), url, err)
		errs = append(errs, fmt.Errorf("%s: %w", o.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// Close closes every observer.
func (c *Chain) Close() error {
	var errs []error
	for _, o := range c.observers {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
