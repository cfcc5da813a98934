package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"github.com/kiranshivaraju/raven/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Auth checks the caller's API key against a single bcrypt hash.
type Auth struct {
	hash []byte

	// verified remembers digests of keys that already matched, so bcrypt
	// runs once per distinct key rather than once per request.
	verified sync.Map
}

// NewAuth creates a new Auth middleware from a bcrypt hash of the API key.
func NewAuth(keyHash string) *Auth {
	return &Auth{hash: []byte(keyHash)}
}

// Authenticate accepts the key from X-API-Key or a Bearer token and sets
// the key prefix in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractAPIKey(r)
		if rawKey == "" {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Not authenticated", nil)
			return
		}

		if !a.valid(rawKey) {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Invalid API key", nil)
			return
		}

		prefix := rawKey
		if len(prefix) > keyPrefixLen {
			prefix = prefix[:keyPrefixLen]
		}
		next.ServeHTTP(w, r.WithContext(setKeyPrefix(r.Context(), prefix)))
	})
}

func (a *Auth) valid(rawKey string) bool {
	digest := sha256.Sum256([]byte(rawKey))
	if _, ok := a.verified.Load(digest); ok {
		return true
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(rawKey)) != nil {
		return false
	}
	a.verified.Store(digest, struct{}{})
	return true
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return extractBearerToken(r)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
