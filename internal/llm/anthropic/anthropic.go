// Package anthropic implements internal/llm's Provider contract against
// Anthropic's Messages API.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// Provider queries Claude models for candidate relationships.
type Provider struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// New builds a Provider from an API key, model name, and sampling
// parameters (spec.md §6's LLM client contract).
func New(apiKey, model string, maxTokens int, temperature float64) *Provider {
	return &Provider{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       anthropic.Model(model),
		maxTokens:   int64(maxTokens),
		temperature: temperature,
	}
}

// Query sends prompt as a single user message and returns the
// concatenated text of the response.
func (p *Provider) Query(ctx context.Context, prompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", pipelineerrors.NewTransientError("anthropic messages.new", err)
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
