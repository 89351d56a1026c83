// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// GetAndValidateURLParam extracts, decodes, and validates a URL parameter from the request.
// The decoded value must be non-empty and free of whitespace and slashes.
func GetAndValidateURLParam(r *http.Request, paramName string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, paramName))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", paramName)
	}

	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", paramName)
	}

	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", paramName)
	}

	if strings.Contains(decoded, "/") {
		return "", fmt.Errorf("%s cannot contain '/'", paramName)
	}

	return decoded, nil
}

// ParseOptionalUint parses query parameter name as an unsigned integer.
// It returns nil when the parameter is absent or empty.
func ParseOptionalUint(r *http.Request, name string) (*uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return &v, nil
}

// ParseBool parses query parameter name as a boolean, defaulting to false
func ParseBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", name, raw)
	}
	return v, nil
}
