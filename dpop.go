package oauth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/haileyok/fedi-oauth-golang/internal/helpers"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const dpopProofTTL = 30 * time.Second

// DpopSigner mints proofs with a single key. The same signer has to be used for every
// request of a login attempt, the token ends up bound to its key.
type DpopSigner struct {
	key    jwk.Key
	rawKey any
	pubMap map[string]any
	now    func() time.Time
}

func NewDpopSigner(privateJwk jwk.Key) (*DpopSigner, error) {
	if privateJwk == nil {
		return nil, fmt.Errorf("no dpop key provided")
	}

	pubJwk, err := privateJwk.PublicKey()
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(pubJwk)
	if err != nil {
		return nil, err
	}

	var pubMap map[string]any
	if err := json.Unmarshal(b, &pubMap); err != nil {
		return nil, err
	}

	var rawKey any
	if err := privateJwk.Raw(&rawKey); err != nil {
		return nil, err
	}

	return &DpopSigner{
		key:    privateJwk,
		rawKey: rawKey,
		pubMap: pubMap,
		now:    time.Now,
	}, nil
}

func (s *DpopSigner) Key() jwk.Key {
	return s.key
}

// Proof returns a compact dpop+jwt for the method and url. An empty nonce is left out.
func (s *DpopSigner) Proof(method, ustr, nonce string) (string, error) {
	htu, err := helpers.StripQueryAndFragment(ustr)
	if err != nil {
		return "", fmt.Errorf("invalid dpop target url: %w", err)
	}

	now := s.now()

	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"htm": method,
		"htu": htu,
		"iat": now.Unix(),
		"exp": now.Add(dpopProofTTL).Unix(),
	}

	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["alg"] = "ES256"
	token.Header["jwk"] = s.pubMap

	tokenString, err := token.SignedString(s.rawKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}
