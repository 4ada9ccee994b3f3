// Package mastodon logs a desktop user into a mastodon instance with the classic oauth
// authorization code flow, registering the app with the instance on first use.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	oauth "github.com/haileyok/fedi-oauth-golang"
	"github.com/haileyok/fedi-oauth-golang/internal/helpers"
	"github.com/haileyok/fedi-oauth-golang/internal/metrics"
	"github.com/haileyok/fedi-oauth-golang/loopback"
	"golang.org/x/oauth2"
)

const (
	DefaultCallbackAddr    = "127.0.0.1:8765"
	DefaultCallbackTimeout = 180 * time.Second
)

type Client struct {
	h               *http.Client
	logger          *slog.Logger
	registry        *Registry
	callbackAddr    string
	callbackPath    string
	callbackTimeout time.Duration
	openBrowser     func(string) error
	progress        func(oauth.LoginState)
}

type ClientArgs struct {
	H        *http.Client
	Logger   *slog.Logger
	Registry *Registry

	CallbackAddr    string
	CallbackPath    string
	CallbackTimeout time.Duration

	OpenBrowser func(string) error
	Progress    func(oauth.LoginState)
}

func NewClient(args ClientArgs) *Client {
	if args.H == nil {
		args.H = &http.Client{
			Timeout: 10 * time.Second,
		}
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.Registry == nil {
		args.Registry = NewRegistry(RegistryArgs{H: args.H, Logger: args.Logger})
	}

	if args.CallbackAddr == "" {
		args.CallbackAddr = DefaultCallbackAddr
	}

	if args.CallbackPath == "" {
		args.CallbackPath = loopback.DefaultPath
	}

	if args.CallbackTimeout <= 0 {
		args.CallbackTimeout = DefaultCallbackTimeout
	}

	if args.OpenBrowser == nil {
		args.OpenBrowser = oauth.OpenBrowser
	}

	if args.Progress == nil {
		args.Progress = func(oauth.LoginState) {}
	}

	return &Client{
		h:               args.H,
		logger:          args.Logger.With("platform", "mastodon"),
		registry:        args.Registry,
		callbackAddr:    args.CallbackAddr,
		callbackPath:    args.CallbackPath,
		callbackTimeout: args.CallbackTimeout,
		openBrowser:     args.OpenBrowser,
		progress:        args.Progress,
	}
}

func (c *Client) RedirectUri() string {
	return fmt.Sprintf("http://%s%s", c.callbackAddr, c.callbackPath)
}

func (c *Client) oauthConfig(instance string, info *ClientInfo) *oauth2.Config {
	base := baseURL(c.registry.Scheme(), instance)

	return &oauth2.Config{
		ClientID:     info.ClientID,
		ClientSecret: info.ClientSecret,
		RedirectURL:  info.RedirectURI,
		Scopes:       strings.Fields(info.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "/oauth/authorize",
			TokenURL: base + "/oauth/token",
		},
	}
}

// Login runs one complete mastodon authorization attempt for the instance named in input.
func (c *Client) Login(ctx context.Context, input string) (sess *Session, err error) {
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			c.progress(oauth.StateFailed)
			c.logger.Warn("login failed", "err", err)
		}
		metrics.LoginAttempts.WithLabelValues("mastodon", outcome).Inc()
	}()

	c.progress(oauth.StateStart)

	instance, err := ParseInstance(input)
	if err != nil {
		return nil, err
	}

	listener := loopback.New(loopback.Config{
		Addr:      c.callbackAddr,
		Path:      c.callbackPath,
		AnyMethod: true,
		Logger:    c.logger,
	})
	if err := listener.Start(); err != nil {
		return nil, err
	}
	defer listener.Stop()
	c.progress(oauth.StateListening)

	info, err := c.registry.GetOrRegister(ctx, instance, c.RedirectUri())
	if err != nil {
		return nil, err
	}

	state := uuid.NewString()
	cfg := c.oauthConfig(instance, info)

	authUrl := cfg.AuthCodeURL(state)
	if err := c.openBrowser(authUrl); err != nil {
		c.logger.Warn("could not open browser, visit the authorize url manually", "url", authUrl, "err", err)
	}
	c.progress(oauth.StateBrowserOpened)

	c.progress(oauth.StateAwaitingCallback)
	waitStart := time.Now()
	res, ok := listener.Await(ctx, c.callbackTimeout)
	metrics.CallbackWait.WithLabelValues("mastodon").Observe(time.Since(waitStart).Seconds())
	listener.Stop()

	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.progress(oauth.StateTimeout)
		return nil, oauth.ErrCallbackTimeout
	}

	if res.IsError() {
		return nil, &oauth.AuthorizationError{Code: res.Error, Description: res.ErrorDescription}
	}

	if res.State != state {
		c.progress(oauth.StateStateMismatch)
		return nil, oauth.ErrStateMismatch
	}

	if res.Code == "" {
		return nil, fmt.Errorf("callback missing authorization code")
	}
	c.progress(oauth.StateStateOk)

	c.progress(oauth.StateTokenSent)
	tokens, err := c.exchangeCode(ctx, cfg, info, res.Code)
	if err != nil {
		return nil, err
	}
	c.progress(oauth.StateTokenOk)

	account, err := c.verifyCredentials(ctx, instance, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	c.progress(oauth.StateHandleResolved)

	c.logger.Info("mastodon login complete", "instance", instance, "acct", account.Acct)
	c.progress(oauth.StateDone)

	scope := tokens.Scope
	if scope == "" {
		scope = info.Scope
	}

	return &Session{
		Instance:    instance,
		AccessToken: tokens.AccessToken,
		Scope:       scope,
		Account:     *account,
	}, nil
}

// LoginAsync runs Login on its own goroutine. The channel receives exactly one result.
func (c *Client) LoginAsync(ctx context.Context, input string) <-chan LoginResult {
	out := make(chan LoginResult, 1)

	go func() {
		sess, err := c.Login(ctx, input)
		out <- LoginResult{Session: sess, Err: err}
		close(out)
	}()

	return out
}

func (c *Client) exchangeCode(ctx context.Context, cfg *oauth2.Config, info *ClientInfo, code string) (*tokenResponse, error) {
	reqBody := tokenRequest{
		ClientID:     info.ClientID,
		ClientSecret: info.ClientSecret,
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  info.RedirectURI,
		Scope:        info.Scope,
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", cfg.Endpoint.TokenURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", helpers.UserAgent())

	body, err := c.do(req, "token exchange")
	if err != nil {
		return nil, err
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("token response failed to decode: %w", err)
	}

	if tokens.AccessToken == "" {
		return nil, oauth.ErrMissingAccessToken
	}

	return &tokens, nil
}

func (c *Client) verifyCredentials(ctx context.Context, instance, accessToken string) (*Account, error) {
	hctx := context.WithValue(ctx, oauth2.HTTPClient, c.h)
	authed := oauth2.NewClient(hctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL(c.registry.Scheme(), instance)+"/api/v1/accounts/verify_credentials", nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", helpers.UserAgent())

	body, err := doWith(authed, req, "verify_credentials")
	if err != nil {
		return nil, err
	}

	var account Account
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("verify_credentials response failed to decode: %w", err)
	}

	return &account, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	return doWith(c.h, req, op)
}

// doWith returns the body of a 200 response, anything else is an *oauth.HTTPError.
func doWith(h *http.Client, req *http.Request, op string) ([]byte, error) {
	resp, err := h.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read %s response body: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &oauth.HTTPError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       helpers.Truncate(string(body), helpers.MaxErrorBodyLen),
		}
	}

	return body, nil
}
