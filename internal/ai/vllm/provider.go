package vllm

import (
	"time"

	"github.com/kiranshivaraju/raven/internal/ai/openai"
	"github.com/kiranshivaraju/raven/internal/config"
)

// NewProvider returns a client for a vLLM server. vLLM exposes the OpenAI
// chat completions API, so the openai provider does the work.
func NewProvider(cfg config.VLLMConfig, timeout time.Duration) *openai.Provider {
	return openai.NewCompatible("vllm", cfg.BaseURL, "", cfg.Model, timeout)
}
