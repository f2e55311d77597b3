package cloudapi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured indicates one of the four account secrets is missing.
var ErrNotConfigured = errors.New("cloudapi: app id, app secret, email and password must all be configured")

// AuthError means the upstream rejected our credentials.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "cloudapi: authentication rejected"
	}
	return "cloudapi: authentication rejected: " + e.Message
}

// APIError is a non-2xx response or an error-coded envelope from the cloud API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("cloudapi: upstream error (http %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("cloudapi: upstream error (http %d): %s", e.Status, e.Message)
}

// AuthShaped reports whether the failure indicates an expired or invalid
// token, warranting one re-authentication attempt.
func (e *APIError) AuthShaped() bool {
	if e.Status == 401 {
		return true
	}
	if e.Code == authExpiredCode {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "token") || strings.Contains(msg, "auth")
}
