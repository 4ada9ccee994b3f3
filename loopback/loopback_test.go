package loopback

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startListener(t *testing.T, cfg Config) *Listener {
	t.Helper()

	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}

	l := New(cfg)
	require.NoError(t, l.Start())
	t.Cleanup(l.Stop)

	return l
}

func TestListenerDeliversResult(t *testing.T) {
	assert := assert.New(t)

	l := startListener(t, Config{})

	resp, err := http.Get(l.URL() + "?code=abc&state=xyz&iss=https%3A%2F%2Fbsky.social")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(string(body), "close this window")

	res, ok := l.Await(context.Background(), 2*time.Second)
	require.True(t, ok)
	assert.Equal("abc", res.Code)
	assert.Equal("xyz", res.State)
	assert.Equal("https://bsky.social", res.Issuer)
	assert.False(res.IsError())
}

func TestListenerErrorRedirect(t *testing.T) {
	assert := assert.New(t)

	l := startListener(t, Config{})

	resp, err := http.Get(l.URL() + "?error=access_denied&error_description=User+denied")
	require.NoError(t, err)
	resp.Body.Close()

	res, ok := l.Await(context.Background(), 2*time.Second)
	require.True(t, ok)
	assert.True(res.IsError())
	assert.Equal("access_denied", res.Error)
	assert.Equal("User denied", res.ErrorDescription)
}

func TestListenerTimeout(t *testing.T) {
	assert := assert.New(t)

	l := startListener(t, Config{})

	start := time.Now()
	res, ok := l.Await(context.Background(), 1*time.Second)
	elapsed := time.Since(start)

	assert.False(ok)
	assert.Nil(res)
	assert.GreaterOrEqual(elapsed, 1*time.Second)
	assert.Less(elapsed, 3*time.Second)
}

func TestListenerAwaitContextCancel(t *testing.T) {
	l := startListener(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := l.Await(ctx, time.Minute)
	assert.False(t, ok)
}

func TestListenerGetOnly(t *testing.T) {
	assert := assert.New(t)

	l := startListener(t, Config{})

	resp, err := http.Post(l.URL()+"?code=a&state=b", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(http.StatusMethodNotAllowed, resp.StatusCode)

	_, ok := l.Await(context.Background(), 200*time.Millisecond)
	assert.False(ok)
}

func TestListenerAnyMethod(t *testing.T) {
	l := startListener(t, Config{AnyMethod: true})

	resp, err := http.Post(l.URL()+"?code=a&state=b", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()

	res, ok := l.Await(context.Background(), 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "a", res.Code)
}

func TestListenerSingleShot(t *testing.T) {
	assert := assert.New(t)

	l := startListener(t, Config{})

	resp, err := http.Get(l.URL() + "?code=first&state=s")
	require.NoError(t, err)
	resp.Body.Close()

	res, ok := l.Await(context.Background(), 2*time.Second)
	require.True(t, ok)
	assert.Equal("first", res.Code)

	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not shut down after delivering a result")
	}

	_, err = http.Get(l.URL() + "?code=second&state=s")
	assert.Error(err)
}

func TestListenerPortInUse(t *testing.T) {
	assert := assert.New(t)

	first := startListener(t, Config{})

	second := New(Config{Addr: first.Addr()})
	err := second.Start()
	assert.ErrorIs(err, ErrPortInUse)

	// once the first attempt is done the port is free again
	first.Stop()
	third := New(Config{Addr: first.Addr()})
	assert.NoError(third.Start())
	third.Stop()
}

func TestListenerRebindAfterStop(t *testing.T) {
	first := New(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, first.Start())
	addr := first.Addr()
	first.Stop()

	for i := 0; i < 5; i++ {
		l := New(Config{Addr: addr})
		require.NoError(t, l.Start(), "attempt %d", i)
		l.Stop()

		select {
		case <-l.Done():
		default:
			t.Fatalf("attempt %d: done not closed after Stop returned", i)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestListenerRedactsCallbackQuery(t *testing.T) {
	assert := assert.New(t)

	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := startListener(t, Config{Logger: logger})

	resp, err := http.Get(l.URL() + "?code=secret-code&state=secret-state")
	require.NoError(t, err)
	resp.Body.Close()

	_, ok := l.Await(context.Background(), 2*time.Second)
	require.True(t, ok)

	// a repeat is logged at warn
	resp, err = http.Get(l.URL() + "?code=secret-code&state=secret-state")
	if err == nil {
		resp.Body.Close()
	}

	l.Stop()

	logs := out.String()
	assert.Contains(logs, "Incoming request")
	assert.Contains(logs, redacted)
	assert.NotContains(logs, "secret-code")
	assert.NotContains(logs, "secret-state")
}

func TestListenerAccessLogIsDebug(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := startListener(t, Config{Logger: logger})

	resp, err := http.Get(l.URL() + "?code=a&state=b")
	require.NoError(t, err)
	resp.Body.Close()

	_, ok := l.Await(context.Background(), 2*time.Second)
	require.True(t, ok)
	l.Stop()

	assert.NotContains(t, out.String(), "Incoming request")
}

func TestListenerStopIdempotent(t *testing.T) {
	l := New(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, l.Start())

	l.Stop()
	l.Stop()

	<-l.Done()
}
