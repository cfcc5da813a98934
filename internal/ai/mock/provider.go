package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/raven/internal/ai"
	"github.com/kiranshivaraju/raven/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing.
type MockProvider struct {
	Name_        string
	CompleteFunc func(ctx context.Context, prompt models.Prompt) (models.Completion, error)

	mu      sync.Mutex
	prompts []models.Prompt
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Complete(ctx context.Context, prompt models.Prompt) (models.Completion, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return models.Completion{}, nil
}

// Prompts returns every prompt received so far.
func (m *MockProvider) Prompts() []models.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Prompt(nil), m.prompts...)
}

// Calls returns the number of Complete invocations.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// NewMockProvider returns a MockProvider that marks every fragment as not relevant.
func NewMockProvider() *MockProvider {
	return NewTextProvider(`{"relevant": "no", "why": "mock provider"}`)
}

// NewTextProvider returns a MockProvider that always answers with text.
func NewTextProvider(text string) *MockProvider {
	return &MockProvider{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, prompt models.Prompt) (models.Completion, error) {
			return models.Completion{
				Text:             text,
				Model:            "mock-v1",
				PromptTokens:     len(prompt.User) / 4,
				CompletionTokens: len(text) / 4,
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CompleteFunc: func(_ context.Context, _ models.Prompt) (models.Completion, error) {
			return models.Completion{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CompleteFunc: func(ctx context.Context, _ models.Prompt) (models.Completion, error) {
			<-ctx.Done()
			return models.Completion{}, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
