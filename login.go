package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/haileyok/fedi-oauth-golang/internal/metrics"
	"github.com/haileyok/fedi-oauth-golang/loopback"
)

// Login runs one complete bluesky authorization attempt: PAR, browser, loopback
// callback, token exchange and handle resolution. Every call uses a fresh dpop key,
// pkce pair, state and listener.
func (c *Client) Login(ctx context.Context, loginHint string) (sess *Session, err error) {
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			c.progress(StateFailed)
			c.logger.Warn("login failed", "err", err)
		}
		metrics.LoginAttempts.WithLabelValues("bluesky", outcome).Inc()
	}()

	c.progress(StateStart)

	dpopKey, err := GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("could not generate dpop key: %w", err)
	}

	signer, err := NewDpopSigner(dpopKey)
	if err != nil {
		return nil, err
	}

	// bind before PAR so a busy port does not burn a request_uri
	listener := loopback.New(loopback.Config{
		Addr:   c.callbackAddr,
		Path:   c.callbackPath,
		Logger: c.logger,
	})
	if err := listener.Start(); err != nil {
		return nil, err
	}
	defer listener.Stop()

	c.progress(StateParSent)
	parResp, err := c.SendParAuthRequest(ctx, normalizeLoginHint(loginHint), signer)
	if err != nil {
		return nil, err
	}
	c.progress(StateParOk)
	c.progress(StateListening)

	authUrl := c.AuthorizeURL(parResp.RequestUri)
	if err := c.openBrowser(authUrl); err != nil {
		c.logger.Warn("could not open browser, visit the authorize url manually", "url", authUrl, "err", err)
	}
	c.progress(StateBrowserOpened)

	c.progress(StateAwaitingCallback)
	waitStart := time.Now()
	res, ok := listener.Await(ctx, c.callbackTimeout)
	metrics.CallbackWait.WithLabelValues("bluesky").Observe(time.Since(waitStart).Seconds())
	listener.Stop()

	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.progress(StateTimeout)
		return nil, ErrCallbackTimeout
	}

	if res.IsError() {
		return nil, &AuthorizationError{Code: res.Error, Description: res.ErrorDescription}
	}

	if res.State != parResp.State {
		c.progress(StateStateMismatch)
		return nil, ErrStateMismatch
	}

	if res.Issuer != "" && res.Issuer != c.issuer {
		return nil, ErrIssuerMismatch
	}

	if res.Code == "" {
		return nil, fmt.Errorf("callback missing authorization code")
	}
	c.progress(StateStateOk)

	c.progress(StateTokenSent)
	tokens, err := c.InitialTokenRequest(ctx, res.Code, parResp.PkceVerifier, parResp.DpopAuthserverNonce, signer)
	if err != nil {
		return nil, err
	}
	c.progress(StateTokenOk)

	did := tokens.Subject
	if did == "" {
		did = SubjectFromToken(tokens.AccessToken)
	}

	seed := loginHint
	if seed == "" {
		seed = did
	}

	handle := seed
	if c.resolver != nil {
		handle = c.resolver.Resolve(ctx, seed, tokens.AccessToken)
	}
	c.progress(StateHandleResolved)

	c.logger.Info("bluesky login complete", "did", did, "handle", handle)
	c.progress(StateDone)

	return &Session{
		Issuer:              c.issuer,
		Did:                 did,
		Handle:              handle,
		AccessToken:         tokens.AccessToken,
		RefreshToken:        tokens.RefreshToken,
		Scope:               tokens.Scope,
		ExpiresIn:           tokens.ExpiresIn,
		DpopAuthserverNonce: tokens.DpopAuthserverNonce,
		DpopPrivateJwk:      dpopKey,
	}, nil
}

// LoginAsync runs Login on its own goroutine. The channel receives exactly one result.
func (c *Client) LoginAsync(ctx context.Context, loginHint string) <-chan LoginResult {
	out := make(chan LoginResult, 1)

	go func() {
		sess, err := c.Login(ctx, loginHint)
		out <- LoginResult{Session: sess, Err: err}
		close(out)
	}()

	return out
}

// normalizeLoginHint keeps only hints the authorization server can use.
func normalizeLoginHint(hint string) string {
	if hint == "" {
		return ""
	}

	if h, err := syntax.ParseHandle(hint); err == nil {
		return h.Normalize().String()
	}

	if d, err := syntax.ParseDID(hint); err == nil {
		return d.String()
	}

	return ""
}
