package ai

import "github.com/kiranshivaraju/raven/internal/ai/transport"

var (
	ErrProviderUnavailable = transport.ErrProviderUnavailable
	ErrInferenceTimeout    = transport.ErrInferenceTimeout
	ErrInvalidResponse     = transport.ErrInvalidResponse
)

// IsTransient reports whether a provider error should be retried.
func IsTransient(err error) bool {
	return transport.IsTransient(err)
}
