package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/inferq/internal/api/response"
	"github.com/kiranshivaraju/inferq/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Auth provides authentication middleware. Job submission and polling
// accept anonymous requests; listing an owner's jobs does not.
type Auth struct {
	store store.Store
}

func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate requires a valid Bearer API key and sets owner_id,
// key_prefix, and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		authed, ok := a.resolve(r, rawKey)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}
		next.ServeHTTP(w, authed)
	})
}

// AuthenticateOptional resolves credentials when present but lets
// anonymous requests through with no owner in context. A key that is
// supplied but invalid is still rejected: a typo'd key silently
// downgrading to anonymous would orphan the submitted jobs.
func (a *Auth) AuthenticateOptional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authed, ok := a.resolve(r, rawKey)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}
		next.ServeHTTP(w, authed)
	})
}

// resolve matches the raw key against stored bcrypt hashes sharing its
// prefix and returns the request with owner identity attached.
func (a *Auth) resolve(r *http.Request, rawKey string) (*http.Request, bool) {
	if len(rawKey) < keyPrefixLen {
		return nil, false
	}
	prefix := rawKey[:keyPrefixLen]

	keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
	if err != nil {
		return nil, false
	}

	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			ctx := r.Context()
			ctx = SetOwnerID(ctx, key.OwnerID)
			ctx = setKeyPrefix(ctx, prefix)
			ctx = setScopes(ctx, key.Scopes)

			go a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)
			return r.WithContext(ctx), true
		}
	}
	return nil, false
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range getScopes(r) {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
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
