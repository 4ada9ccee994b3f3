package helpers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"unicode/utf8"

	"github.com/carlmjohnson/versioninfo"
)

// MaxErrorBodyLen bounds how much of a response body ends up in an error message.
const MaxErrorBodyLen = 300

func UserAgent() string {
	return "fedi-oauth-golang/" + versioninfo.Short()
}

func GenerateToken(len int) (string, error) {
	b := make([]byte, len)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

func GenerateCodeChallenge(pkceVerifier string) string {
	h := sha256.New()
	h.Write([]byte(pkceVerifier))
	hash := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(hash)
}

// Truncate cuts s to at most n characters (runes).
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}

	return s
}

// StripQueryAndFragment returns the url as it should appear in a dpop htu claim.
func StripQueryAndFragment(ustr string) (string, error) {
	u, err := url.Parse(ustr)
	if err != nil {
		return "", err
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// IsSafeAndParsed accepts https urls, and plain http only when the host is a loopback address.
func IsSafeAndParsed(ustr string) (*url.URL, error) {
	u, err := url.Parse(ustr)
	if err != nil {
		return nil, err
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("url hostname was empty")
	}

	if u.User != nil {
		return nil, fmt.Errorf("url user was not empty")
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !IsLoopbackHost(u.Hostname()) {
			return nil, fmt.Errorf("input url is not https")
		}
	default:
		return nil, fmt.Errorf("input url is not https")
	}

	return u, nil
}

func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
