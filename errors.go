package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrStateMismatch      = errors.New("state mismatch, possible csrf")
	ErrCallbackTimeout    = errors.New("no callback received (timeout)")
	ErrIssuerMismatch     = errors.New("incoming iss did not match authserver iss")
	ErrMissingRequestUri  = errors.New("PAR ok but missing request_uri")
	ErrMissingAccessToken = errors.New("no access_token in token response")
	ErrMissingDpopNonce   = errors.New("server asked for a dpop nonce but sent none")
)

// HTTPError is a non-2xx response from a remote endpoint. Body is truncated.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s failed: %d %s", e.Op, e.StatusCode, e.Body)
}

// AuthorizationError is an error redirect from the authorization server, eg access_denied.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization refused: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization refused: %s", e.Code)
}
