package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/raven/internal/ai/transport"
	"github.com/kiranshivaraju/raven/internal/config"
	"github.com/kiranshivaraju/raven/pkg/models"
)

// Provider implements models.AIProvider against any OpenAI-compatible
// chat completions endpoint.
type Provider struct {
	name   string
	model  string
	client *transport.Client
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	return NewCompatible("openai", cfg.BaseURL, cfg.APIKey, cfg.Model, timeout)
}

// NewCompatible builds a provider for a self-hosted server speaking the
// same protocol. An empty apiKey sends no Authorization header.
func NewCompatible(name, baseURL, apiKey, model string, timeout time.Duration) *Provider {
	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &Provider{
		name:   name,
		model:  model,
		client: transport.NewClient(baseURL, timeout, headers),
	}
}

func (p *Provider) Name() string { return p.name }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *Provider) Complete(ctx context.Context, prompt models.Prompt) (models.Completion, error) {
	req := chatRequest{
		Model:     p.model,
		MaxTokens: prompt.MaxTokens,
	}
	if prompt.System != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: prompt.System})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: prompt.User})
	if prompt.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := p.client.PostJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return models.Completion{}, fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return models.Completion{}, fmt.Errorf("%s chat completion: %w: no choices", p.name, transport.ErrInvalidResponse)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return models.Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

var _ models.AIProvider = (*Provider)(nil)
