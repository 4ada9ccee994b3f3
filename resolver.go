package oauth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/haileyok/fedi-oauth-golang/internal/helpers"
)

const (
	DefaultAppViewHost  = "https://public.api.bsky.app"
	DefaultHandleSuffix = ".bsky.social"

	invalidHandle = "handle.invalid"
)

// HandleResolver finds a display handle for a freshly logged in account. It never
// fails: every lookup error just moves on to the next candidate.
type HandleResolver struct {
	xrpcc  *xrpc.Client
	suffix string
	logger *slog.Logger
}

type HandleResolverArgs struct {
	H      *http.Client
	Host   string
	Suffix string
	Logger *slog.Logger
}

func NewHandleResolver(args HandleResolverArgs) *HandleResolver {
	if args.H == nil {
		args.H = &http.Client{
			Timeout: 5 * time.Second,
		}
	}

	if args.Host == "" {
		args.Host = DefaultAppViewHost
	}

	if args.Suffix == "" {
		args.Suffix = DefaultHandleSuffix
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	ua := helpers.UserAgent()

	return &HandleResolver{
		xrpcc: &xrpc.Client{
			Client:    args.H,
			Host:      strings.TrimSuffix(args.Host, "/"),
			UserAgent: &ua,
		},
		suffix: args.Suffix,
		logger: args.Logger.With("component", "handle_resolver"),
	}
}

// Resolve tries, in order: the access token's subject, the seed, seed plus the default
// suffix (bare names only), and an actor search. It falls back to the seed. The default
// suffix is stripped from whatever wins.
func (r *HandleResolver) Resolve(ctx context.Context, seed, accessToken string) string {
	if sub := SubjectFromToken(accessToken); sub != "" {
		if _, err := syntax.ParseDID(sub); err == nil {
			if h := r.lookupProfile(ctx, sub); h != "" {
				return r.StripSuffix(h)
			}
		}
	}

	if seed == "" {
		return ""
	}

	if h := r.lookupProfile(ctx, seed); h != "" {
		return r.StripSuffix(h)
	}

	if !strings.Contains(seed, ".") && !strings.HasPrefix(seed, "did:") {
		if h := r.lookupProfile(ctx, seed+r.suffix); h != "" {
			return r.StripSuffix(h)
		}
	}

	if h := r.searchFirstHandle(ctx, seed); h != "" {
		return r.StripSuffix(h)
	}

	return seed
}

func (r *HandleResolver) StripSuffix(handle string) string {
	trimmed := strings.TrimSuffix(handle, r.suffix)
	if trimmed == "" {
		return handle
	}
	return trimmed
}

func (r *HandleResolver) lookupProfile(ctx context.Context, actor string) string {
	out, err := bsky.ActorGetProfile(ctx, r.xrpcc, actor)
	if err != nil {
		r.logger.Debug("profile lookup failed", "actor", actor, "err", err)
		return ""
	}

	if out.Handle == invalidHandle {
		return ""
	}

	return out.Handle
}

func (r *HandleResolver) searchFirstHandle(ctx context.Context, term string) string {
	params := map[string]any{
		"q":     term,
		"limit": 1,
	}

	var out bsky.ActorSearchActors_Output
	if err := r.xrpcc.Do(ctx, xrpc.Query, "", "app.bsky.actor.searchActors", params, nil, &out); err != nil {
		r.logger.Debug("actor search failed", "term", term, "err", err)
		return ""
	}

	// only the top hit counts, an invalid one is a miss
	if len(out.Actors) == 0 || out.Actors[0] == nil {
		return ""
	}

	if h := out.Actors[0].Handle; h != invalidHandle {
		return h
	}

	return ""
}

// SubjectFromToken reads the sub claim of a jwt shaped token without verifying it.
// Anything that is not three dot separated segments yields "".
func SubjectFromToken(token string) string {
	if strings.Count(token, ".") != 2 {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}

	return sub
}
