package oauth

import (
	"github.com/lestrrat-go/jwx/v2/jwk"
)

type PushedAuthRequest struct {
	ClientId            string `url:"client_id"`
	RedirectUri         string `url:"redirect_uri"`
	ResponseType        string `url:"response_type"`
	Scope               string `url:"scope"`
	State               string `url:"state"`
	CodeChallenge       string `url:"code_challenge"`
	CodeChallengeMethod string `url:"code_challenge_method"`
	LoginHint           string `url:"login_hint,omitempty"`
}

type InitialTokenRequestBody struct {
	GrantType    string `url:"grant_type"`
	ClientId     string `url:"client_id"`
	RedirectUri  string `url:"redirect_uri"`
	Code         string `url:"code"`
	CodeVerifier string `url:"code_verifier"`
}

type RefreshTokenRequestBody struct {
	GrantType    string `url:"grant_type"`
	ClientId     string `url:"client_id"`
	RefreshToken string `url:"refresh_token"`
}

type PushedAuthResponse struct {
	RequestUri string `json:"request_uri"`
	ExpiresIn  int64  `json:"expires_in"`
}

type SendParAuthResponse struct {
	PkceVerifier        string
	State               string
	DpopAuthserverNonce string
	RequestUri          string
	ExpiresIn           int64
	NonceRetried        bool
}

// TokenSet is the token endpoint response. RefreshToken, Subject and IDToken are optional.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	Subject      string `json:"sub,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	// the nonce last issued by the auth server, reused on the next request
	DpopAuthserverNonce string `json:"-"`
	NonceRetried        bool   `json:"-"`
}

// Session is a completed bluesky login.
type Session struct {
	Issuer              string
	Did                 string
	Handle              string
	AccessToken         string
	RefreshToken        string
	Scope               string
	ExpiresIn           int64
	DpopAuthserverNonce string
	DpopPrivateJwk      jwk.Key
}

type LoginResult struct {
	Session *Session
	Err     error
}

// LoginState marks progress through a login attempt, reported via ClientArgs.Progress.
type LoginState string

const (
	StateStart            LoginState = "START"
	StateParSent          LoginState = "PAR_SENT"
	StateParNonceRetry    LoginState = "PAR_NONCE_RETRY"
	StateParOk            LoginState = "PAR_OK"
	StateListening        LoginState = "LISTENING"
	StateBrowserOpened    LoginState = "BROWSER_OPENED"
	StateAwaitingCallback LoginState = "AWAITING_CALLBACK"
	StateStateOk          LoginState = "STATE_OK"
	StateStateMismatch    LoginState = "STATE_MISMATCH"
	StateTimeout          LoginState = "TIMEOUT"
	StateTokenSent        LoginState = "TOKEN_SENT"
	StateTokenNonceRetry  LoginState = "TOKEN_NONCE_RETRY"
	StateTokenOk          LoginState = "TOKEN_OK"
	StateHandleResolved   LoginState = "HANDLE_RESOLVED"
	StateDone             LoginState = "DONE"
	StateFailed           LoginState = "FAILED"
)
