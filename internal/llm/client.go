// Package llm defines the pipeline's view of the external LLM collaborator:
// a single synchronous Query contract, independent of which provider
// backs it, wrapped in a circuit breaker so a failing provider degrades
// gracefully instead of cascading into worker retry storms.
package llm

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// Client is the contract analysis workers use to obtain candidate
// relationships for a prompt (spec.md §4.2 step 2, §6).
type Client interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// Provider is implemented by each concrete backend (anthropic, bedrock,
// langchain) before circuit-breaker wrapping.
type Provider interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// breakered wraps a Provider in a gobreaker.CircuitBreaker so three
// consecutive failures trip the breaker open for a cool-down window,
// rather than letting every worker's own retry loop hammer a downed
// provider.
type breakered struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// Wrap builds a Client around a raw provider with default breaker
// settings: open after 3 consecutive failures, half-open after 30s.
func Wrap(name string, inner Provider) Client {
	st := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &breakered{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *breakered) Query(ctx context.Context, prompt string) (string, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Query(ctx, prompt)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", pipelineerrors.NewTransientError("llm query (breaker open)", err)
		}
		return "", pipelineerrors.NewTransientError("llm query", err)
	}
	return result.(string), nil
}
