package api

import (
	"context"

	"github.com/ablatext/ablatext/internal/config"
	"github.com/ablatext/ablatext/pkg/models"
)

// Generator adapts the chat client to the single-prompt generation call
// the gate controller consumes.
type Generator struct {
	client   *Client
	modelCfg config.ModelConfig
	apiKey   string
}

// NewGenerator creates a generator bound to one model endpoint
func NewGenerator(client *Client, modelCfg config.ModelConfig, apiKey string) *Generator {
	return &Generator{
		client:   client,
		modelCfg: modelCfg,
		apiKey:   apiKey,
	}
}

// Generate produces text for a prompt with the given parameters
func (g *Generator) Generate(ctx context.Context, prompt string, params models.Params) (string, error) {
	resp, err := g.client.ChatCompletion(ctx, g.modelCfg, g.apiKey, []Message{
		{Role: "user", Content: prompt},
	}, params)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}
