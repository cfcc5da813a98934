package models

import "context"

// AIProvider is the interface every reasoning backend implements.
// Callers depend on this, never on a concrete provider.
type AIProvider interface {
	// Complete sends one prompt and returns the raw model text.
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// Prompt is a single-turn request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
	// JSON asks the provider to constrain output to a JSON object when it
	// supports doing so.
	JSON bool
}

// Completion is the provider's answer plus token accounting.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}
