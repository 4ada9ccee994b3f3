// Package loopback runs the short lived local http server that receives an oauth
// authorization redirect during a desktop login.
//
// A Listener accepts exactly one callback. It must be started before the browser is
// pointed at the authorization server, and it closes its socket once the result has
// been handed off (or Stop is called), so a later attempt can bind the same port.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	slogecho "github.com/samber/slog-echo"
)

const (
	DefaultPath = "/callback"

	shutdownTimeout = 5 * time.Second
)

var ErrPortInUse = errors.New("callback port already in use")

const closePage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Login complete</title></head>
<body><h3>You can close this window and return to the app.</h3></body></html>`

// Result is what the authorization server sent back through the browser.
type Result struct {
	Code   string
	State  string
	Issuer string

	// Error and ErrorDescription are set when the user or server refused the request.
	Error            string
	ErrorDescription string
}

func (r *Result) IsError() bool {
	return r.Error != ""
}

type Config struct {
	// Addr is the host:port to bind, eg 127.0.0.1:8080. A zero port picks a free one.
	Addr string

	// Path defaults to DefaultPath.
	Path string

	// AnyMethod accepts the callback on every http method instead of GET only.
	AnyMethod bool

	Logger *slog.Logger
}

type Listener struct {
	addr      string
	path      string
	anyMethod bool
	logger    *slog.Logger

	ln       net.Listener
	server   *http.Server
	resultCh chan *Result
	done     chan struct{}

	handleOnce sync.Once
	stopOnce   sync.Once
}

func New(cfg Config) *Listener {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Listener{
		addr:      cfg.Addr,
		path:      cfg.Path,
		anyMethod: cfg.AnyMethod,
		logger:    cfg.Logger.With("component", "loopback"),
		resultCh:  make(chan *Result, 1),
		done:      make(chan struct{}),
	}
}

// Start binds the socket synchronously and serves in the background.
func (l *Listener) Start() error {
	if l.ln != nil {
		return fmt.Errorf("listener already started")
	}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrPortInUse, l.addr)
		}
		return fmt.Errorf("could not bind callback listener on %s: %w", l.addr, err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(slogecho.NewWithConfig(slog.New(redactQuery{l.logger.Handler()}), slogecho.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))

	if l.anyMethod {
		e.Any(l.path, l.handleCallback)
	} else {
		e.GET(l.path, l.handleCallback)
	}

	l.ln = ln
	l.server = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Warn("callback listener stopped", "err", err)
		}
	}()

	l.logger.Debug("callback listener started", "addr", ln.Addr().String(), "path", l.path)

	return nil
}

// Addr is the bound address, only meaningful after Start.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

func (l *Listener) URL() string {
	return fmt.Sprintf("http://%s%s", l.Addr(), l.path)
}

func (l *Listener) handleCallback(e echo.Context) error {
	handled := false
	l.handleOnce.Do(func() {
		handled = true

		res := &Result{
			Code:             e.QueryParam("code"),
			State:            e.QueryParam("state"),
			Issuer:           e.QueryParam("iss"),
			Error:            e.QueryParam("error"),
			ErrorDescription: e.QueryParam("error_description"),
		}

		// the slot is empty on the first and only delivery
		select {
		case l.resultCh <- res:
		default:
		}

		l.logger.Debug("callback received", "has_code", res.Code != "", "error", res.Error)
	})

	if !handled {
		return e.String(http.StatusBadRequest, "callback already processed")
	}

	e.Response().Header().Set("Cache-Control", "no-store")
	e.Response().Header().Set("Referrer-Policy", "no-referrer")
	if err := e.HTML(http.StatusOK, closePage); err != nil {
		return err
	}

	// shutdown waits on in-flight handlers, including this one
	go l.Stop()

	return nil
}

// Await blocks until the callback arrives, the timeout passes, or ctx is done.
// The bool is false when no result was received.
func (l *Listener) Await(ctx context.Context, timeout time.Duration) (*Result, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-l.resultCh:
		return res, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Stop closes the socket. Safe to call more than once and from any goroutine.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		defer close(l.done)

		if l.server == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := l.server.Shutdown(ctx); err != nil {
			l.logger.Warn("callback listener shutdown", "err", err)
			_ = l.server.Close()
		}

		// Serve may not have taken ownership of the socket yet
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.logger.Warn("callback listener close", "err", err)
		}

		l.logger.Debug("callback listener stopped", "addr", l.Addr())
	})
}

// Done is closed once the listener has released its socket.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}
