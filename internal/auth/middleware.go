// Package auth authenticates tenants by their static API keys.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stacklok/seqci-proxy/internal/registry"
)

// RFC 6750 Section 3 error codes
const (
	errorCodeInvalidRequest = "invalid_request"
	errorCodeInvalidToken   = "invalid_token"
)

const defaultRealm = "seqci-proxy"

var (
	// ErrMissingToken is returned when the request carries no bearer token
	ErrMissingToken = errors.New("missing bearer token")

	// ErrMalformedHeader is returned when the Authorization header is not a bearer credential
	ErrMalformedHeader = errors.New("authorization header is not a bearer credential")
)

//go:generate mockgen -destination=mocks/mock_credential_store.go -package=mocks -source=middleware.go CredentialStore

// CredentialStore resolves API keys to tenants
type CredentialStore interface {
	// TenantByAPIKey returns registry.ErrTenantNotFound for unknown keys
	TenantByAPIKey(ctx context.Context, apiKey string) (*registry.Tenant, error)
}

// ExtractBearerToken returns the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type bearerMiddleware struct {
	store CredentialStore
	realm string
}

// NewMiddleware returns middleware that resolves the bearer token through
// store and attaches the tenant to the request context. Requests without a
// valid key never reach next.
func NewMiddleware(store CredentialStore, realm string) (func(http.Handler) http.Handler, error) {
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if realm == "" {
		realm = defaultRealm
	}
	m := &bearerMiddleware{store: store, realm: realm}
	return m.Middleware, nil
}

// Middleware implements the bearer authentication
func (m *bearerMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractBearerToken(r)
		if err != nil {
			slog.Debug("Token extraction failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			m.writeError(w, http.StatusUnauthorized, errorCodeInvalidRequest, "missing or malformed authorization header")
			return
		}

		tenant, err := m.store.TenantByAPIKey(r.Context(), token)
		if errors.Is(err, registry.ErrTenantNotFound) {
			slog.Warn("Unknown API key",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			m.writeError(w, http.StatusUnauthorized, errorCodeInvalidToken, "invalid API key")
			return
		}
		if err != nil {
			slog.Error("Credential lookup failed", "error", err, "path", r.URL.Path)
			writeJSONError(w, http.StatusInternalServerError, "failed to authenticate request")
			return
		}

		slog.Debug("Authentication successful", "tenant", tenant.Name, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
	})
}

// sanitizeHeaderValue strips characters that would allow header injection
func sanitizeHeaderValue(s string) string {
	if !strings.ContainsAny(s, "\r\n\"") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.ReplaceAll(s, `"`, `\"`)
}

// writeError writes a JSON error with an RFC 6750 WWW-Authenticate challenge
func (m *bearerMiddleware) writeError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s", error="%s", error_description="%s"`,
		sanitizeHeaderValue(m.realm), errCode, sanitizeHeaderValue(description)))
	writeJSONError(w, status, description)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := struct {
		Error string `json:"error"`
	}{Error: message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
