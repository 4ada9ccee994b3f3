package session

import (
	"context"
	"fmt"
	"log/slog"

	oauth "github.com/haileyok/fedi-oauth-golang"
	"github.com/haileyok/fedi-oauth-golang/mastodon"
)

type BlueskyAuthenticator interface {
	Login(ctx context.Context, loginHint string) (*oauth.Session, error)
}

type MastodonAuthenticator interface {
	Login(ctx context.Context, input string) (*mastodon.Session, error)
}

// Manager is the entry point a UI drives: pick a platform, pass the user's input, get
// back the merged session or a *Failure.
type Manager struct {
	bluesky  BlueskyAuthenticator
	mastodon MastodonAuthenticator
	store    *Store
	logger   *slog.Logger
}

type ManagerArgs struct {
	Bluesky  BlueskyAuthenticator
	Mastodon MastodonAuthenticator
	Store    *Store
	Logger   *slog.Logger
}

func NewManager(args ManagerArgs) *Manager {
	if args.Store == nil {
		args.Store = NewStore()
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Manager{
		bluesky:  args.Bluesky,
		mastodon: args.Mastodon,
		store:    args.Store,
		logger:   args.Logger.With("component", "session_manager"),
	}
}

func (m *Manager) Current() Session {
	return m.store.Current()
}

// Login runs one attempt and merges its result into that platform's slot only. On
// failure the current session is returned unchanged.
func (m *Manager) Login(ctx context.Context, platform Platform, input string) (Session, error) {
	switch platform {
	case PlatformBluesky:
		if m.bluesky == nil {
			return m.Current(), &Failure{Platform: platform, Err: fmt.Errorf("bluesky login is not configured")}
		}

		sess, err := m.bluesky.Login(ctx, input)
		if err != nil {
			return m.Current(), &Failure{Platform: platform, Err: err}
		}

		return m.store.Apply(func(s Session) Session { return s.WithBluesky(sess) }), nil
	case PlatformMastodon:
		if m.mastodon == nil {
			return m.Current(), &Failure{Platform: platform, Err: fmt.Errorf("mastodon login is not configured")}
		}

		sess, err := m.mastodon.Login(ctx, input)
		if err != nil {
			return m.Current(), &Failure{Platform: platform, Err: err}
		}

		return m.store.Apply(func(s Session) Session { return s.WithMastodon(sess) }), nil
	default:
		return m.Current(), &Failure{Platform: platform, Err: fmt.Errorf("unknown platform %q", platform)}
	}
}

// LoginAsync runs Login on its own goroutine and hands the outcome to done exactly once.
func (m *Manager) LoginAsync(ctx context.Context, platform Platform, input string, done func(Session, error)) {
	go func() {
		sess, err := m.Login(ctx, platform, input)
		if err != nil {
			m.logger.Warn("login attempt failed", "platform", platform, "err", err)
		}
		done(sess, err)
	}()
}
