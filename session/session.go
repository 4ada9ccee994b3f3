// Package session composes the per platform login results into the single value a UI
// holds on to, and runs logins on its behalf.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	oauth "github.com/haileyok/fedi-oauth-golang"
	"github.com/haileyok/fedi-oauth-golang/loopback"
	"github.com/haileyok/fedi-oauth-golang/mastodon"
)

type Platform string

const (
	PlatformBluesky  Platform = "bluesky"
	PlatformMastodon Platform = "mastodon"
)

func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformBluesky:
		return PlatformBluesky, nil
	case PlatformMastodon:
		return PlatformMastodon, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

// Session holds at most one login per platform. It is a value: the With methods return
// an updated copy and leave the receiver alone.
type Session struct {
	Bluesky  *oauth.Session
	Mastodon *mastodon.Session
}

func (s Session) WithBluesky(b *oauth.Session) Session {
	s.Bluesky = b
	return s
}

func (s Session) WithMastodon(m *mastodon.Session) Session {
	s.Mastodon = m
	return s
}

func (s Session) LoggedIn(p Platform) bool {
	switch p {
	case PlatformBluesky:
		return s.Bluesky != nil
	case PlatformMastodon:
		return s.Mastodon != nil
	}
	return false
}

// Store guards the current Session for concurrent login attempts.
type Store struct {
	mu      sync.Mutex
	current Session
}

func NewStore() *Store {
	return &Store{}
}

func (st *Store) Current() Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// Apply replaces the current session with fn(current) and returns the result.
func (st *Store) Apply(fn func(Session) Session) Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = fn(st.current)
	return st.current
}

// Failure is what a UI shows when a login attempt does not produce a session.
type Failure struct {
	Platform Platform
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s login failed: %s", f.Platform, describe(f.Err))
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsTimeout reports whether err came from a callback that never arrived, the case
// where offering a retry makes sense.
func IsTimeout(err error) bool {
	return errors.Is(err, oauth.ErrCallbackTimeout)
}

func describe(err error) string {
	var authErr *oauth.AuthorizationError
	var httpErr *oauth.HTTPError

	switch {
	case errors.Is(err, oauth.ErrCallbackTimeout):
		return "no callback received (timeout)"
	case errors.Is(err, oauth.ErrStateMismatch):
		return "state mismatch"
	case errors.Is(err, loopback.ErrPortInUse):
		return "another login is already waiting on the callback port"
	case errors.Is(err, context.Canceled):
		return "login canceled"
	case errors.As(err, &authErr):
		return authErr.Error()
	case errors.As(err, &httpErr):
		return httpErr.Error()
	default:
		return err.Error()
	}
}
