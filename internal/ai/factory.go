package ai

import (
	"fmt"

	"github.com/kiranshivaraju/raven/internal/ai/anthropic"
	"github.com/kiranshivaraju/raven/internal/ai/ollama"
	"github.com/kiranshivaraju/raven/internal/ai/openai"
	"github.com/kiranshivaraju/raven/internal/ai/vllm"
	"github.com/kiranshivaraju/raven/internal/config"
	"github.com/kiranshivaraju/raven/pkg/models"
)

// Provider is the reasoning dependency used by the classifier.
type Provider = models.AIProvider

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.RequestTimeout), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, cfg.RequestTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.RequestTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.RequestTimeout), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic", cfg.Provider)
	}
}
