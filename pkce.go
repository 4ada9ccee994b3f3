package oauth

import (
	"fmt"

	"github.com/haileyok/fedi-oauth-golang/internal/helpers"
)

const CodeChallengeMethodS256 = "S256"

// PKCE holds one login attempt's verifier and the challenge sent to the server.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

func GeneratePKCE() (*PKCE, error) {
	verifier, err := helpers.GenerateToken(48)
	if err != nil {
		return nil, fmt.Errorf("could not generate pkce verifier: %w", err)
	}

	return &PKCE{
		Verifier:  verifier,
		Challenge: S256Challenge(verifier),
		Method:    CodeChallengeMethodS256,
	}, nil
}

func S256Challenge(verifier string) string {
	return helpers.GenerateCodeChallenge(verifier)
}

func GenerateState() (string, error) {
	state, err := helpers.GenerateToken(10)
	if err != nil {
		return "", fmt.Errorf("could not generate state token: %w", err)
	}
	return state, nil
}
