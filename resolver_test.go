package oauth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAppView answers getProfile from profiles and searchActors from search, and
// records the order of lookups as "profile:<actor>" or "search:<q>".
type fakeAppView struct {
	srv *httptest.Server

	mu       sync.Mutex
	calls    []string
	profiles map[string]string
	search   map[string][]string
}

func newFakeAppView(t *testing.T) *fakeAppView {
	av := &fakeAppView{
		profiles: map[string]string{},
		search:   map[string][]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		actor := r.URL.Query().Get("actor")
		av.record("profile:" + actor)

		handle, ok := av.profiles[actor]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "InvalidRequest", "message": "Profile not found"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"did": "did:plc:test", "handle": handle})
	})
	mux.HandleFunc("GET /xrpc/app.bsky.actor.searchActors", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		av.record("search:" + q)

		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)
		assert.Equal(t, 1, limit)

		actors := []map[string]any{}
		for _, h := range av.search[q] {
			if len(actors) == limit {
				break
			}
			actors = append(actors, map[string]any{"did": "did:plc:test", "handle": h})
		}

		writeJSON(w, http.StatusOK, map[string]any{"actors": actors})
	})

	av.srv = httptest.NewServer(mux)
	t.Cleanup(av.srv.Close)

	return av
}

func (av *fakeAppView) record(call string) {
	av.mu.Lock()
	defer av.mu.Unlock()
	av.calls = append(av.calls, call)
}

func (av *fakeAppView) allCalls() []string {
	av.mu.Lock()
	defer av.mu.Unlock()
	return append([]string(nil), av.calls...)
}

func (av *fakeAppView) resolver() *HandleResolver {
	return NewHandleResolver(HandleResolverArgs{Host: av.srv.URL})
}

func unsignedToken(t *testing.T, sub string) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte("secret"))
	require.NoError(t, err)

	return tok
}

func TestResolveProfile(t *testing.T) {
	av := newFakeAppView(t)
	av.profiles["alice"] = "alice.example"

	assert.Equal(t, "alice.example", av.resolver().Resolve(ctx, "alice", "opaque-token"))
	assert.Equal(t, []string{"profile:alice"}, av.allCalls())
}

func TestResolveAppendsSuffixToBareName(t *testing.T) {
	av := newFakeAppView(t)
	av.profiles["bob.bsky.social"] = "bob.bsky.social"

	assert.Equal(t, "bob", av.resolver().Resolve(ctx, "bob", ""))
	assert.Equal(t, []string{"profile:bob", "profile:bob.bsky.social"}, av.allCalls())
}

func TestResolveFallbackOrder(t *testing.T) {
	av := newFakeAppView(t)

	assert.Equal(t, "bob", av.resolver().Resolve(ctx, "bob", ""))
	assert.Equal(t, []string{"profile:bob", "profile:bob.bsky.social", "search:bob"}, av.allCalls())
}

func TestResolveDottedSeedSkipsSuffix(t *testing.T) {
	av := newFakeAppView(t)
	av.search["carol.example"] = []string{"carol.example.com"}

	assert.Equal(t, "carol.example.com", av.resolver().Resolve(ctx, "carol.example", ""))
	assert.Equal(t, []string{"profile:carol.example", "search:carol.example"}, av.allCalls())
}

func TestResolveInvalidTopSearchHitFallsBack(t *testing.T) {
	av := newFakeAppView(t)
	av.search["frank"] = []string{"handle.invalid", "frank.bsky.social"}

	assert.Equal(t, "frank", av.resolver().Resolve(ctx, "frank", ""))
	assert.Equal(t, []string{"profile:frank", "profile:frank.bsky.social", "search:frank"}, av.allCalls())
}

func TestResolveSearchStripsSuffix(t *testing.T) {
	av := newFakeAppView(t)
	av.search["dave"] = []string{"dave.bsky.social"}

	assert.Equal(t, "dave", av.resolver().Resolve(ctx, "dave", ""))
}

func TestResolveInvalidHandleIgnored(t *testing.T) {
	av := newFakeAppView(t)
	av.profiles["erin.example"] = "handle.invalid"

	assert.Equal(t, "erin.example", av.resolver().Resolve(ctx, "erin.example", ""))
}

func TestResolveFromTokenSubject(t *testing.T) {
	av := newFakeAppView(t)
	av.profiles["did:plc:frank"] = "frank.bsky.social"

	assert.Equal(t, "frank", av.resolver().Resolve(ctx, "someone-else", unsignedToken(t, "did:plc:frank")))
	assert.Equal(t, []string{"profile:did:plc:frank"}, av.allCalls())
}

func TestResolveEmptySeed(t *testing.T) {
	av := newFakeAppView(t)

	assert.Equal(t, "", av.resolver().Resolve(ctx, "", ""))
	assert.Empty(t, av.allCalls())
}

func TestResolveUnreachable(t *testing.T) {
	r := NewHandleResolver(HandleResolverArgs{Host: "http://127.0.0.1:1"})
	assert.Equal(t, "gina", r.Resolve(ctx, "gina", ""))
}

func TestStripSuffix(t *testing.T) {
	assert := assert.New(t)

	r := NewHandleResolver(HandleResolverArgs{})

	assert.Equal("alice", r.StripSuffix("alice.bsky.social"))
	assert.Equal("alice.example.com", r.StripSuffix("alice.example.com"))
	assert.Equal(".bsky.social", r.StripSuffix(".bsky.social"))

	custom := NewHandleResolver(HandleResolverArgs{Suffix: ".example.com"})
	assert.Equal("alice", custom.StripSuffix("alice.example.com"))
}

func TestSubjectFromToken(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("did:plc:alice", SubjectFromToken(unsignedToken(t, "did:plc:alice")))
	assert.Equal("", SubjectFromToken(""))
	assert.Equal("", SubjectFromToken("opaque"))
	assert.Equal("", SubjectFromToken("a.b.c.d"))
	assert.Equal("", SubjectFromToken("not.a.jwt"))
}
