package mastodon

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// ClientInfo is the result of registering this app with one instance.
type ClientInfo struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
	RedirectURI  string `json:"redirect_uri" validate:"required,url"`
	Scope        string `json:"scope" validate:"required"`
}

var validate = validator.New()

func (ci *ClientInfo) Validate() error {
	return validate.Struct(ci)
}

type appRegistrationRequest struct {
	ClientName   string `json:"client_name"`
	RedirectUris string `json:"redirect_uris"`
	Scopes       string `json:"scopes"`
	Website      string `json:"website,omitempty"`
}

type appRegistrationResponse struct {
	ID           string `json:"id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
	Scope        string `json:"scope"`
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	Scope        string `json:"scope"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	CreatedAt   int64  `json:"created_at"`
}

type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

// Handle is the account's acct (or username) with a leading @.
func (a *Account) Handle() string {
	h := a.Acct
	if h == "" {
		h = a.Username
	}
	if h == "" {
		return ""
	}
	return "@" + strings.TrimPrefix(h, "@")
}

// Session is a completed mastodon login.
type Session struct {
	Instance    string
	AccessToken string
	Scope       string
	Account     Account
}

type LoginResult struct {
	Session *Session
	Err     error
}
