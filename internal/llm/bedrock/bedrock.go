// Package bedrock implements internal/llm's Provider contract against
// AWS Bedrock Runtime's InvokeModel API.
package bedrock

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// Provider queries a Bedrock-hosted foundation model.
type Provider struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float64
}

// New builds a Provider over an already-configured bedrockruntime
// client (credentials resolved by aws-sdk-go-v2/config at call-site
// construction, outside this package's concern).
func New(client *bedrockruntime.Client, modelID string, maxTokens int, temperature float64) *Provider {
	return &Provider{client: client, modelID: modelID, maxTokens: maxTokens, temperature: temperature}
}

type invokeRequest struct {
	AnthropicVersion string       `json:"anthropic_version"`
	MaxTokens        int          `json:"max_tokens"`
	Temperature      float64      `json:"temperature"`
	Messages         []invokeTurn `json:"messages"`
}

type invokeTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Query invokes the configured model with prompt as a single user turn.
func (p *Provider) Query(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(invokeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        p.maxTokens,
		Temperature:      p.temperature,
		Messages:         []invokeTurn{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", pipelineerrors.NewInternal(err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", pipelineerrors.NewTransientError("bedrock invoke model", err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", pipelineerrors.NewTransientError("bedrock response decode", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
