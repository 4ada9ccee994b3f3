package helpers

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestGenerateToken(t *testing.T) {
	assert := assert.New(t)

	a, err := GenerateToken(16)
	assert.NoError(err)
	assert.Len(a, 32)

	b, err := GenerateToken(16)
	assert.NoError(err)
	assert.NotEqual(a, b)
}

func TestGenerateCodeChallenge(t *testing.T) {
	assert := assert.New(t)

	sum := sha256.Sum256([]byte("verifier"))
	assert.Equal(base64.RawURLEncoding.EncodeToString(sum[:]), GenerateCodeChallenge("verifier"))
	assert.NotContains(GenerateCodeChallenge("verifier"), "=")
}

func TestTruncate(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("abc", Truncate("abc", 300))
	assert.Len(Truncate(strings.Repeat("x", 500), MaxErrorBodyLen), MaxErrorBodyLen)

	// the limit counts characters, not bytes
	assert.Equal("aé", Truncate("aé", 2))
	assert.Equal("a", Truncate("aé", 1))
	assert.Equal("", Truncate("é", 0))

	out := Truncate(strings.Repeat("é", 400), MaxErrorBodyLen)
	assert.Equal(MaxErrorBodyLen, utf8.RuneCountInString(out))
	assert.Equal(strings.Repeat("é", MaxErrorBodyLen), out)
}

func TestStripQueryAndFragment(t *testing.T) {
	assert := assert.New(t)

	out, err := StripQueryAndFragment("https://bsky.social/oauth/token?foo=bar#frag")
	assert.NoError(err)
	assert.Equal("https://bsky.social/oauth/token", out)
}

func TestIsSafeAndParsed(t *testing.T) {
	assert := assert.New(t)

	_, err := IsSafeAndParsed("https://bsky.social")
	assert.NoError(err)

	_, err = IsSafeAndParsed("http://127.0.0.1:8080")
	assert.NoError(err)

	_, err = IsSafeAndParsed("http://bsky.social")
	assert.Error(err)

	_, err = IsSafeAndParsed("https://user@bsky.social")
	assert.Error(err)

	_, err = IsSafeAndParsed("ftp://bsky.social")
	assert.Error(err)
}
