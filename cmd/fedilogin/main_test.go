package main

import (
	"log/slog"
	"testing"

	oauth "github.com/haileyok/fedi-oauth-golang"
	"github.com/haileyok/fedi-oauth-golang/mastodon"
	"github.com/haileyok/fedi-oauth-golang/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert := assert.New(t)

	l, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(slog.LevelDebug, l)

	l, err = parseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(slog.LevelWarn, l)

	_, err = parseLevel("loud")
	assert.Error(err)
}

func TestSummarizeHidesTokens(t *testing.T) {
	assert := assert.New(t)

	sess := session.Session{}.
		WithBluesky(&oauth.Session{Did: "did:plc:alice", Handle: "alice", AccessToken: "a", RefreshToken: "r"}).
		WithMastodon(&mastodon.Session{Instance: "mastodon.social", AccessToken: "m", Account: mastodon.Account{Acct: "alice"}})

	out := summarize(sess, false)
	assert.Equal("did:plc:alice", out.Bluesky.Did)
	assert.Empty(out.Bluesky.AccessToken)
	assert.Equal("@alice", out.Mastodon.Handle)
	assert.Empty(out.Mastodon.AccessToken)

	out = summarize(sess, true)
	assert.Equal("a", out.Bluesky.AccessToken)
	assert.Equal("r", out.Bluesky.RefreshToken)
	assert.Equal("m", out.Mastodon.AccessToken)
}
