package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/haileyok/fedi-oauth-golang/internal/helpers"
	"github.com/haileyok/fedi-oauth-golang/internal/metrics"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	DefaultIssuer          = "https://bsky.social"
	DefaultScope           = "atproto"
	DefaultCallbackAddr    = "127.0.0.1:8080"
	DefaultCallbackTimeout = 120 * time.Second

	maxResponseBytes = 1 << 20
)

type Client struct {
	h               *http.Client
	logger          *slog.Logger
	clientId        string
	redirectUri     string
	issuer          string
	scope           string
	callbackAddr    string
	callbackPath    string
	callbackTimeout time.Duration
	openBrowser     func(string) error
	resolver        *HandleResolver
	progress        func(LoginState)
}

type ClientArgs struct {
	H      *http.Client
	Logger *slog.Logger

	// ClientId is the url of the client metadata document.
	ClientId string

	// RedirectUri must match one of the redirect_uris in the client metadata. When unset it
	// is derived from CallbackAddr and CallbackPath.
	RedirectUri string

	Issuer string
	Scope  string

	CallbackAddr    string
	CallbackPath    string
	CallbackTimeout time.Duration

	// OpenBrowser defaults to OpenBrowser. A failure is logged, never fatal.
	OpenBrowser func(string) error

	// Resolver turns the token subject into a display handle. Nil skips resolution.
	Resolver *HandleResolver

	Progress func(LoginState)
}

func NewClient(args ClientArgs) (*Client, error) {
	if args.ClientId == "" {
		return nil, fmt.Errorf("no client id provided")
	}

	if args.H == nil {
		args.H = &http.Client{
			Timeout: 10 * time.Second,
		}
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.Issuer == "" {
		args.Issuer = DefaultIssuer
	}
	args.Issuer = strings.TrimSuffix(args.Issuer, "/")

	if _, err := helpers.IsSafeAndParsed(args.Issuer); err != nil {
		return nil, fmt.Errorf("invalid issuer: %w", err)
	}

	if args.Scope == "" {
		args.Scope = DefaultScope
	}

	if args.CallbackAddr == "" {
		args.CallbackAddr = DefaultCallbackAddr
	}

	if args.CallbackPath == "" {
		args.CallbackPath = "/callback"
	}

	if args.CallbackTimeout <= 0 {
		args.CallbackTimeout = DefaultCallbackTimeout
	}

	if args.RedirectUri == "" {
		args.RedirectUri = fmt.Sprintf("http://%s%s", args.CallbackAddr, args.CallbackPath)
	}

	if args.OpenBrowser == nil {
		args.OpenBrowser = OpenBrowser
	}

	if args.Progress == nil {
		args.Progress = func(LoginState) {}
	}

	return &Client{
		h:               args.H,
		logger:          args.Logger.With("platform", "bluesky"),
		clientId:        args.ClientId,
		redirectUri:     args.RedirectUri,
		issuer:          args.Issuer,
		scope:           args.Scope,
		callbackAddr:    args.CallbackAddr,
		callbackPath:    args.CallbackPath,
		callbackTimeout: args.CallbackTimeout,
		openBrowser:     args.OpenBrowser,
		resolver:        args.Resolver,
		progress:        args.Progress,
	}, nil
}

func (c *Client) Issuer() string {
	return c.issuer
}

func (c *Client) ParUrl() string {
	return c.issuer + "/oauth/par"
}

func (c *Client) TokenUrl() string {
	return c.issuer + "/oauth/token"
}

// AuthorizeURL is where the browser goes after a successful PAR.
func (c *Client) AuthorizeURL(requestUri string) string {
	v := url.Values{
		"client_id":   {c.clientId},
		"request_uri": {requestUri},
	}
	return c.issuer + "/oauth/authorize?" + v.Encode()
}

func (c *Client) SendParAuthRequest(ctx context.Context, loginHint string, signer *DpopSigner) (*SendParAuthResponse, error) {
	if signer == nil {
		return nil, fmt.Errorf("nil dpop signer provided")
	}

	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}

	body := PushedAuthRequest{
		ClientId:            c.clientId,
		RedirectUri:         c.redirectUri,
		ResponseType:        "code",
		Scope:               c.scope,
		State:               state,
		CodeChallenge:       pkce.Challenge,
		CodeChallengeMethod: pkce.Method,
		LoginHint:           loginHint,
	}

	vals, err := query.Values(body)
	if err != nil {
		return nil, err
	}

	c.logger.Info("sending auth request", "scope", c.scope, "redirectUri", c.redirectUri)

	resp, err := c.postWithDpop(ctx, "PAR", c.ParUrl(), vals, "", signer)
	if err != nil {
		return nil, err
	}

	if resp.statusCode != http.StatusOK && resp.statusCode != http.StatusCreated {
		return nil, resp.httpError("PAR")
	}

	var parResp PushedAuthResponse
	if err := json.Unmarshal(resp.body, &parResp); err != nil {
		return nil, fmt.Errorf("auth request (PAR) response failed to decode: %w", err)
	}

	if strings.TrimSpace(parResp.RequestUri) == "" {
		return nil, ErrMissingRequestUri
	}

	return &SendParAuthResponse{
		PkceVerifier:        pkce.Verifier,
		State:               state,
		DpopAuthserverNonce: resp.nonce,
		RequestUri:          parResp.RequestUri,
		ExpiresIn:           parResp.ExpiresIn,
		NonceRetried:        resp.retried,
	}, nil
}

func (c *Client) InitialTokenRequest(
	ctx context.Context,
	code,
	pkceVerifier,
	dpopAuthserverNonce string,
	signer *DpopSigner,
) (*TokenSet, error) {
	body := InitialTokenRequestBody{
		GrantType:    "authorization_code",
		ClientId:     c.clientId,
		RedirectUri:  c.redirectUri,
		Code:         code,
		CodeVerifier: pkceVerifier,
	}

	vals, err := query.Values(body)
	if err != nil {
		return nil, err
	}

	return c.tokenRequest(ctx, "token exchange", vals, dpopAuthserverNonce, signer)
}

func (c *Client) RefreshTokenRequest(
	ctx context.Context,
	refreshToken,
	dpopAuthserverNonce string,
	dpopPrivateJwk jwk.Key,
) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token provided")
	}

	signer, err := NewDpopSigner(dpopPrivateJwk)
	if err != nil {
		return nil, err
	}

	body := RefreshTokenRequestBody{
		GrantType:    "refresh_token",
		ClientId:     c.clientId,
		RefreshToken: refreshToken,
	}

	vals, err := query.Values(body)
	if err != nil {
		return nil, err
	}

	return c.tokenRequest(ctx, "token refresh", vals, dpopAuthserverNonce, signer)
}

// RefreshSession returns a copy of sess carrying the refreshed tokens.
func (c *Client) RefreshSession(ctx context.Context, sess *Session) (*Session, error) {
	if sess == nil {
		return nil, fmt.Errorf("nil session provided")
	}

	tokens, err := c.RefreshTokenRequest(ctx, sess.RefreshToken, sess.DpopAuthserverNonce, sess.DpopPrivateJwk)
	if err != nil {
		return nil, err
	}

	updated := *sess
	updated.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		updated.RefreshToken = tokens.RefreshToken
	}
	updated.ExpiresIn = tokens.ExpiresIn
	updated.DpopAuthserverNonce = tokens.DpopAuthserverNonce
	if tokens.Scope != "" {
		updated.Scope = tokens.Scope
	}

	return &updated, nil
}

func (c *Client) tokenRequest(ctx context.Context, op string, vals url.Values, nonce string, signer *DpopSigner) (*TokenSet, error) {
	if signer == nil {
		return nil, fmt.Errorf("nil dpop signer provided")
	}

	resp, err := c.postWithDpop(ctx, op, c.TokenUrl(), vals, nonce, signer)
	if err != nil {
		return nil, err
	}

	if resp.statusCode != http.StatusOK {
		return nil, resp.httpError(op)
	}

	var tokens TokenSet
	if err := json.Unmarshal(resp.body, &tokens); err != nil {
		return nil, fmt.Errorf("token response failed to decode: %w", err)
	}

	if tokens.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}

	// set the nonce so that updates are reflected in response
	tokens.DpopAuthserverNonce = resp.nonce
	tokens.NonceRetried = resp.retried

	return &tokens, nil
}

type dpopResponse struct {
	statusCode int
	body       []byte
	nonce      string
	retried    bool
}

func (r *dpopResponse) httpError(op string) *HTTPError {
	return &HTTPError{
		Op:         op,
		StatusCode: r.statusCode,
		Body:       helpers.Truncate(string(r.body), helpers.MaxErrorBodyLen),
	}
}

// postWithDpop sends a dpop protected form post. A 401, or a 400 carrying
// use_dpop_nonce, is retried exactly once with the nonce from the DPoP-Nonce header.
func (c *Client) postWithDpop(ctx context.Context, op, endpoint string, vals url.Values, nonce string, signer *DpopSigner) (*dpopResponse, error) {
	bodyBytes := []byte(vals.Encode())

	var out *dpopResponse
	for attempt := range 2 {
		dpopProof, err := signer.Proof("POST", endpoint, nonce)
		if err != nil {
			return nil, fmt.Errorf("error getting dpop proof: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", helpers.UserAgent())
		req.Header.Set("DPoP", dpopProof)

		resp, err := c.h.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request failed: %w", op, err)
		}

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("could not read %s response body: %w", op, err)
		}

		serverNonce := resp.Header.Get("DPoP-Nonce")
		if serverNonce != "" {
			nonce = serverNonce
		}

		out = &dpopResponse{
			statusCode: resp.StatusCode,
			body:       b,
			nonce:      nonce,
			retried:    attempt > 0,
		}

		if attempt > 0 || !wantsDpopNonce(resp.StatusCode, b) {
			break
		}

		if serverNonce == "" {
			if resp.StatusCode == http.StatusBadRequest {
				return nil, fmt.Errorf("%s: %w", op, ErrMissingDpopNonce)
			}
			break
		}

		c.logger.Warn("retrying with dpop nonce", "op", op, "endpoint", endpoint, "statusCode", resp.StatusCode)
		metrics.DpopNonceRetries.WithLabelValues(op).Inc()
		switch op {
		case "PAR":
			c.progress(StateParNonceRetry)
		default:
			c.progress(StateTokenNonceRetry)
		}
	}

	return out, nil
}

func wantsDpopNonce(statusCode int, body []byte) bool {
	if statusCode == http.StatusUnauthorized {
		return true
	}
	return statusCode == http.StatusBadRequest && bytes.Contains(body, []byte(`"use_dpop_nonce"`))
}
