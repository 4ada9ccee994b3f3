package oauth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBrowser(t *testing.T) {
	orig := browserLauncher
	t.Cleanup(func() { browserLauncher = orig })

	var launched string
	browserLauncher = func(u string) error {
		launched = u
		return nil
	}

	require.NoError(t, OpenBrowser("https://bsky.social/oauth/authorize?request_uri=x"))
	assert.Equal(t, "https://bsky.social/oauth/authorize?request_uri=x", launched)

	browserLauncher = func(string) error {
		return errors.New("no display")
	}

	err := OpenBrowser("https://bsky.social")
	assert.ErrorContains(t, err, "failed to open browser")
	assert.ErrorContains(t, err, "no display")
}
