package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/haileyok/fedi-oauth-golang/mastodon"
	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "fedilogin",
		Usage:   "log into bluesky and mastodon from the desktop",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				EnvVars: []string{"FEDILOGIN_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "serve prometheus metrics on this address while running",
				EnvVars: []string{"FEDILOGIN_METRICS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "registry-path",
				Usage:   "json file holding mastodon client registrations",
				Value:   mastodon.DefaultStorePath,
				EnvVars: []string{"FEDILOGIN_REGISTRY_PATH"},
			},
			&cli.StringFlag{
				Name:    "registry-db",
				Usage:   "sqlite database holding mastodon client registrations, used instead of --registry-path",
				EnvVars: []string{"FEDILOGIN_REGISTRY_DB"},
			},
		},
		Before: func(cctx *cli.Context) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("could not load .env: %w", err)
			}

			level, err := parseLevel(cctx.String("log-level"))
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			// stdout carries the session json
			browser.Stdout = os.Stderr

			if addr := cctx.String("metrics-addr"); addr != "" {
				go serveMetrics(addr)
			}

			return nil
		},
		Commands: []*cli.Command{
			loginCmd,
			registryCmd,
			generateJwksCmd,
		},
	}

	app.RunAndExitOnError()
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server stopped", "err", err)
	}
}

// openRegistryStore picks the sqlite store when a database is configured.
func openRegistryStore(cctx *cli.Context) (mastodon.Store, error) {
	if db := cctx.String("registry-db"); db != "" {
		return mastodon.OpenSqliteStore(db)
	}

	return mastodon.NewFileStore(cctx.String("registry-path"), slog.Default()), nil
}
