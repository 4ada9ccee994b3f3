package mastodon

import (
	"errors"
	"strings"
)

var ErrInvalidInstance = errors.New("could not parse instance from input")

// ParseInstance pulls the instance host out of whatever the user typed: a bare host,
// host:port, a url, user@host or @user@host.
func ParseInstance(input string) (string, error) {
	s := strings.TrimSpace(input)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "@")

	// the path goes first, profile urls carry the user as /@alice
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}

	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}

	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || strings.ContainsAny(s, " \t?#") {
		return "", ErrInvalidInstance
	}

	return s, nil
}

func baseURL(scheme, instance string) string {
	return scheme + "://" + instance
}
