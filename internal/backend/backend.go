// Package backend is the completion provider layer: a single Complete call
// that turns a prompt into text plus usage. Implementations talk to the
// Anthropic API or shell out to an agent CLI; Resilient and Router compose
// them.
package backend

import (
	"context"
	"fmt"
)

// Backend is the interface every completion provider implements.
type Backend interface {
	// Complete sends the request and returns the provider's answer.
	// Errors caused by quota or rate limits wrap ErrRateLimited.
	Complete(ctx context.Context, req Request) (Response, error)
}

// Func adapts an ordinary function to the Backend interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Complete calls f(ctx, req).
func (f Func) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// New creates a backend based on the provided configuration.
// The ProcessManager is used by CLI backends to track subprocesses for
// cleanup and may be nil.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "anthropic", "":
		return NewAnthropic(cfg)
	case "claude", "codex", "goose":
		return NewCLI(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

func withTimeout(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	if cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, cfg.Timeout)
}
