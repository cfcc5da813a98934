package ollama

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/raven/internal/ai/transport"
	"github.com/kiranshivaraju/raven/internal/config"
	"github.com/kiranshivaraju/raven/pkg/models"
)

// Provider implements models.AIProvider using Ollama's chat endpoint.
type Provider struct {
	model  string
	client *transport.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	return &Provider{
		model:  cfg.Model,
		client: transport.NewClient(cfg.BaseURL, timeout, nil),
	}
}

func (p *Provider) Name() string { return "ollama" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string  `json:"model"`
	Message         message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

func (p *Provider) Complete(ctx context.Context, prompt models.Prompt) (models.Completion, error) {
	req := chatRequest{
		Model:   p.model,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
	if prompt.MaxTokens > 0 {
		req.Options["num_predict"] = prompt.MaxTokens
	}
	if prompt.System != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: prompt.System})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: prompt.User})
	if prompt.JSON {
		req.Format = "json"
	}

	var resp chatResponse
	if err := p.client.PostJSON(ctx, "/api/chat", req, &resp); err != nil {
		return models.Completion{}, fmt.Errorf("ollama chat: %w", err)
	}

	return models.Completion{
		Text:             resp.Message.Content,
		Model:            p.model,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

var _ models.AIProvider = (*Provider)(nil)
