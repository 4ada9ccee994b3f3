package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	oauth "github.com/haileyok/fedi-oauth-golang"
	"github.com/haileyok/fedi-oauth-golang/mastodon"
	"github.com/haileyok/fedi-oauth-golang/session"
	"github.com/urfave/cli/v2"
)

var loginCmd = &cli.Command{
	Name:  "login",
	Usage: "run one browser login",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "how long to wait on the browser redirect, zero uses the platform default",
			EnvVars: []string{"FEDILOGIN_CALLBACK_TIMEOUT"},
		},
		&cli.BoolFlag{
			Name:  "show-tokens",
			Usage: "print access and refresh tokens",
		},
	},
	Subcommands: []*cli.Command{
		loginBlueskyCmd,
		loginMastodonCmd,
	},
}

var loginBlueskyCmd = &cli.Command{
	Name:  "bluesky",
	Usage: "log into bluesky with oauth, par and dpop",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "handle",
			Usage:   "handle or did, sent as a login hint",
			EnvVars: []string{"FEDILOGIN_BSKY_HANDLE"},
		},
		&cli.StringFlag{
			Name:     "client-id",
			Usage:    "url of the client metadata document",
			Required: true,
			EnvVars:  []string{"FEDILOGIN_BSKY_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "redirect-uri",
			Usage:   "must be listed in the client metadata, defaults to the callback address",
			EnvVars: []string{"FEDILOGIN_BSKY_REDIRECT_URI"},
		},
		&cli.StringFlag{
			Name:    "issuer",
			Value:   oauth.DefaultIssuer,
			EnvVars: []string{"FEDILOGIN_BSKY_ISSUER"},
		},
		&cli.StringFlag{
			Name:    "callback-addr",
			Value:   oauth.DefaultCallbackAddr,
			EnvVars: []string{"FEDILOGIN_BSKY_CALLBACK_ADDR"},
		},
		&cli.StringFlag{
			Name:    "appview",
			Usage:   "host used to resolve the account handle",
			Value:   oauth.DefaultAppViewHost,
			EnvVars: []string{"FEDILOGIN_BSKY_APPVIEW"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.Default()

		client, err := oauth.NewClient(oauth.ClientArgs{
			Logger:          logger,
			ClientId:        cctx.String("client-id"),
			RedirectUri:     cctx.String("redirect-uri"),
			Issuer:          cctx.String("issuer"),
			CallbackAddr:    cctx.String("callback-addr"),
			CallbackTimeout: cctx.Duration("timeout"),
			Resolver: oauth.NewHandleResolver(oauth.HandleResolverArgs{
				Host:   cctx.String("appview"),
				Logger: logger,
			}),
			Progress: progressLogger(logger, session.PlatformBluesky),
		})
		if err != nil {
			return err
		}

		mgr := session.NewManager(session.ManagerArgs{Bluesky: client, Logger: logger})

		sess, err := mgr.Login(cctx.Context, session.PlatformBluesky, cctx.String("handle"))
		if err != nil {
			return err
		}

		return printSession(sess, cctx.Bool("show-tokens"))
	},
}

var loginMastodonCmd = &cli.Command{
	Name:  "mastodon",
	Usage: "log into a mastodon instance, registering the app on first use",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "instance",
			Usage:    "instance host, url or @user@host",
			Required: true,
			EnvVars:  []string{"FEDILOGIN_MASTODON_INSTANCE"},
		},
		&cli.StringFlag{
			Name:    "callback-addr",
			Value:   mastodon.DefaultCallbackAddr,
			EnvVars: []string{"FEDILOGIN_MASTODON_CALLBACK_ADDR"},
		},
		&cli.StringFlag{
			Name:    "client-name",
			Value:   mastodon.DefaultClientName,
			EnvVars: []string{"FEDILOGIN_MASTODON_CLIENT_NAME"},
		},
		&cli.StringFlag{
			Name:    "website",
			EnvVars: []string{"FEDILOGIN_MASTODON_WEBSITE"},
		},
		&cli.StringFlag{
			Name:    "scope",
			Value:   mastodon.DefaultScope,
			EnvVars: []string{"FEDILOGIN_MASTODON_SCOPE"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.Default()

		store, err := openRegistryStore(cctx)
		if err != nil {
			return err
		}

		client := mastodon.NewClient(mastodon.ClientArgs{
			Logger: logger,
			Registry: mastodon.NewRegistry(mastodon.RegistryArgs{
				Store:      store,
				Logger:     logger,
				ClientName: cctx.String("client-name"),
				Website:    cctx.String("website"),
				Scope:      cctx.String("scope"),
			}),
			CallbackAddr:    cctx.String("callback-addr"),
			CallbackTimeout: cctx.Duration("timeout"),
			Progress:        progressLogger(logger, session.PlatformMastodon),
		})

		mgr := session.NewManager(session.ManagerArgs{Mastodon: client, Logger: logger})

		sess, err := mgr.Login(cctx.Context, session.PlatformMastodon, cctx.String("instance"))
		if err != nil {
			if session.IsTimeout(err) {
				fmt.Fprintln(os.Stderr, "no redirect arrived, run the command again to retry")
			}
			return err
		}

		return printSession(sess, cctx.Bool("show-tokens"))
	},
}

func progressLogger(logger *slog.Logger, platform session.Platform) func(oauth.LoginState) {
	return func(s oauth.LoginState) {
		logger.Debug("login progress", "platform", platform, "state", s)
	}
}

type sessionSummary struct {
	Bluesky  *blueskySummary  `json:"bluesky,omitempty"`
	Mastodon *mastodonSummary `json:"mastodon,omitempty"`
}

type blueskySummary struct {
	Did          string `json:"did"`
	Handle       string `json:"handle"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type mastodonSummary struct {
	Instance    string `json:"instance"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	Scope       string `json:"scope,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

func summarize(sess session.Session, showTokens bool) sessionSummary {
	var out sessionSummary

	if b := sess.Bluesky; b != nil {
		out.Bluesky = &blueskySummary{
			Did:       b.Did,
			Handle:    b.Handle,
			Scope:     b.Scope,
			ExpiresIn: b.ExpiresIn,
		}
		if showTokens {
			out.Bluesky.AccessToken = b.AccessToken
			out.Bluesky.RefreshToken = b.RefreshToken
		}
	}

	if m := sess.Mastodon; m != nil {
		out.Mastodon = &mastodonSummary{
			Instance:    m.Instance,
			Handle:      m.Account.Handle(),
			DisplayName: m.Account.DisplayName,
			Scope:       m.Scope,
		}
		if showTokens {
			out.Mastodon.AccessToken = m.AccessToken
		}
	}

	return out
}

func printSession(sess session.Session, showTokens bool) error {
	b, err := json.MarshalIndent(summarize(sess, showTokens), "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(b))
	return nil
}
