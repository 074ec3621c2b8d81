// Package langchain implements internal/llm's Provider contract via
// tmc/langchaingo, letting the pipeline point at any langchaingo-backed
// model (OpenAI, Ollama, etc.) as its analysis LLM.
package langchain

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// Provider queries an llms.Model (OpenAI, Ollama, etc. — whichever
// langchaingo backend the deployment configures).
type Provider struct {
	model       llms.Model
	maxTokens   int
	temperature float64
}

// New builds a Provider over an already-configured langchaingo model.
func New(model llms.Model, maxTokens int, temperature float64) *Provider {
	return &Provider{model: model, maxTokens: maxTokens, temperature: temperature}
}

// Query sends prompt as-is. The one-shot correction retry on malformed
// output (spec.md §4.2 step 2) is handled by internal/analysis.Worker,
// uniformly across every provider, rather than here.
func (p *Provider) Query(ctx context.Context, prompt string) (string, error) {
	resp, err := llms.GenerateFromSinglePrompt(ctx, p.model, prompt,
		llms.WithMaxTokens(p.maxTokens),
		llms.WithTemperature(p.temperature),
	)
	if err != nil {
		return "", pipelineerrors.NewTransientError("langchain generate", err)
	}
	return resp, nil
}
