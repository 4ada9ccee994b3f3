package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oauth "github.com/haileyok/fedi-oauth-golang"
	"github.com/haileyok/fedi-oauth-golang/internal/helpers"
	"github.com/haileyok/fedi-oauth-golang/internal/metrics"
)

const (
	DefaultClientName = "fedi-oauth-golang"
	DefaultScope      = "read"

	maxResponseBytes = 1 << 20
)

// Registry hands out a client registration per instance, registering the app with the
// instance the first time it is seen.
type Registry struct {
	h          *http.Client
	store      Store
	logger     *slog.Logger
	scheme     string
	clientName string
	website    string
	scope      string
}

type RegistryArgs struct {
	H      *http.Client
	Store  Store
	Logger *slog.Logger

	// Scheme used to reach instances, https unless testing.
	Scheme string

	ClientName string
	Website    string
	Scope      string
}

func NewRegistry(args RegistryArgs) *Registry {
	if args.H == nil {
		args.H = &http.Client{
			Timeout: 10 * time.Second,
		}
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.Store == nil {
		args.Store = NewFileStore(DefaultStorePath, args.Logger)
	}

	if args.Scheme == "" {
		args.Scheme = "https"
	}

	if args.ClientName == "" {
		args.ClientName = DefaultClientName
	}

	if args.Scope == "" {
		args.Scope = DefaultScope
	}

	return &Registry{
		h:          args.H,
		store:      args.Store,
		logger:     args.Logger.With("component", "mastodon_registry"),
		scheme:     args.Scheme,
		clientName: args.ClientName,
		website:    args.Website,
		scope:      args.Scope,
	}
}

func (r *Registry) Scheme() string {
	return r.scheme
}

func (r *Registry) Store() Store {
	return r.store
}

// Get returns the stored registration. An entry that fails validation reads as a miss.
func (r *Registry) Get(ctx context.Context, instance string) (*ClientInfo, bool, error) {
	info, err := r.store.Load(ctx, instance)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if err := info.Validate(); err != nil {
		r.logger.Warn("stored client registration is invalid, ignoring", "instance", instance, "err", err)
		return nil, false, nil
	}

	return info, true, nil
}

// Register creates a new app on the instance and overwrites any stored entry.
func (r *Registry) Register(ctx context.Context, instance, redirectUri string) (info *ClientInfo, err error) {
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		metrics.ClientRegistrations.WithLabelValues(outcome).Inc()
	}()

	reqBody := appRegistrationRequest{
		ClientName:   r.clientName,
		RedirectUris: redirectUri,
		Scopes:       r.scope,
		Website:      r.website,
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", baseURL(r.scheme, instance)+"/api/v1/apps", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", helpers.UserAgent())

	r.logger.Info("registering app with instance", "instance", instance, "redirectUri", redirectUri)

	resp, err := r.h.Do(req)
	if err != nil {
		return nil, fmt.Errorf("app registration request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read app registration response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &oauth.HTTPError{
			Op:         "app registration",
			StatusCode: resp.StatusCode,
			Body:       helpers.Truncate(string(body), helpers.MaxErrorBodyLen),
		}
	}

	var regResp appRegistrationResponse
	if err := json.Unmarshal(body, &regResp); err != nil {
		return nil, fmt.Errorf("app registration response failed to decode: %w", err)
	}

	info = &ClientInfo{
		ClientID:     regResp.ClientID,
		ClientSecret: regResp.ClientSecret,
		RedirectURI:  regResp.RedirectURI,
		Scope:        regResp.Scope,
	}

	// older instances leave these out of the response
	if info.RedirectURI == "" {
		info.RedirectURI = redirectUri
	}
	if info.Scope == "" {
		info.Scope = r.scope
	}

	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("app registration response is incomplete: %w", err)
	}

	if err := r.store.Save(ctx, instance, info); err != nil {
		// the registration is still usable for this attempt
		r.logger.Warn("could not persist client registration", "instance", instance, "err", err)
	}

	return info, nil
}

// GetOrRegister registers only when there is no usable entry for this redirect uri.
func (r *Registry) GetOrRegister(ctx context.Context, instance, redirectUri string) (*ClientInfo, error) {
	info, ok, err := r.Get(ctx, instance)
	if err != nil {
		r.logger.Warn("could not load client registration", "instance", instance, "err", err)
	}

	if ok && redirectMatches(info.RedirectURI, redirectUri) {
		return info, nil
	}

	if ok {
		r.logger.Info("stored registration uses another redirect uri, registering again", "instance", instance, "stored", info.RedirectURI)
	}

	return r.Register(ctx, instance, redirectUri)
}

// List returns every stored registration.
func (r *Registry) List(ctx context.Context) (map[string]ClientInfo, error) {
	return r.store.List(ctx)
}

// mastodon stores redirect_uris as a newline separated list
func redirectMatches(stored, want string) bool {
	for _, u := range strings.Fields(stored) {
		if u == want {
			return true
		}
	}
	return false
}
