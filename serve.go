package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/gdindex/internal/config"
	"github.com/tonimelisma/gdindex/internal/drive"
	"github.com/tonimelisma/gdindex/internal/gate"
	"github.com/tonimelisma/gdindex/internal/proxy"
	"github.com/tonimelisma/gdindex/internal/server"
)

// tokenExchangeTimeout bounds one OAuth refresh. Media requests get no
// client timeout since a download may legitimately run for hours.
const tokenExchangeTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download proxy",
		Long: `Run the HTTP download proxy until SIGINT or SIGTERM.

The first signal stops accepting connections and lets in-flight downloads
finish within server.shutdown_timeout; a second signal exits immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger(resolvedCfg, os.Stderr)
			ctx := shutdownContext(cmd.Context(), logger)

			ln, err := net.Listen("tcp", resolvedCfg.Server.ListenAddr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", resolvedCfg.Server.ListenAddr, err)
			}

			return runServe(ctx, resolvedCfg, ln, logger)
		},
	}

	cmd.Flags().String("listen", "", "listen address (overrides server.listen_addr)")

	return cmd
}

// driveStack is the backend side of the index, shared by serve and resolve.
type driveStack struct {
	tokens   *drive.TokenManager
	client   *drive.Client
	resolver *drive.Resolver
}

// newDriveStack wires credentials, the Drive client and the resolution
// cache. transport nil means http.DefaultTransport.
func newDriveStack(cfg *config.Config, transport http.RoundTripper, logger *slog.Logger) (*driveStack, error) {
	creds := make([]drive.Credential, len(cfg.Credentials))
	for i, c := range cfg.Credentials {
		creds[i] = drive.Credential{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RefreshToken: c.RefreshToken,
		}
	}

	tokenClient := &http.Client{Transport: transport, Timeout: tokenExchangeTimeout}
	tokens := drive.NewTokenManager(creds, cfg.Drive.TokenEndpoint, tokenClient, logger)
	client := drive.NewClient(cfg.Drive.APIEndpoint, transport, tokens, cfg.Drive.UserAgent, logger)

	cache, err := drive.NewCache(cfg.Cache.MaxEntries)
	if err != nil {
		return nil, err
	}

	return &driveStack{
		tokens:   tokens,
		client:   client,
		resolver: drive.NewResolver(client, cache, logger),
	}, nil
}

// newKeySource loads the gate's verification key. The returned FileKey is
// non-nil only when the key file should be watched for rotation.
func newKeySource(g *config.GateConfig, logger *slog.Logger) (gate.KeySource, *gate.FileKey, error) {
	if g.PublicKeyFile != "" {
		fk, err := gate.NewFileKey(g.PublicKeyFile, logger)
		if err != nil {
			return nil, nil, err
		}

		if !g.WatchKeyFile {
			return fk, nil, nil
		}

		return fk, fk, nil
	}

	key, err := gate.ParsePublicKey([]byte(g.PublicKey))
	if err != nil {
		return nil, nil, fmt.Errorf("gate.public_key: %w", err)
	}

	return gate.StaticKey{Key: key}, nil, nil
}

// newHandler assembles gate, proxy and router on top of st.
func newHandler(cfg *config.Config, st *driveStack, keys gate.KeySource, logger *slog.Logger) http.Handler {
	// A nil *gate.Gate must not end up inside a non-nil interface.
	var auth server.Authorizer
	if cfg.Gate.Enabled {
		auth = gate.New(keys, cfg.Gate.TokenParam, cfg.Gate.LeewayDuration(), logger)
	}

	p := proxy.New(st.resolver, st.client, logger)

	return server.New(p, auth, server.Options{
		DefaultRootID: cfg.Drive.DefaultRootID,
		AllowOrigin:   cfg.Server.CORSAllowOrigin,
	}, logger).Handler()
}

// runServe serves on ln until ctx is canceled, then drains in-flight
// requests for up to the configured shutdown timeout.
func runServe(ctx context.Context, cfg *config.Config, ln net.Listener, logger *slog.Logger) error {
	st, err := newDriveStack(cfg, nil, logger)
	if err != nil {
		return err
	}

	var (
		keys    gate.KeySource
		watcher *gate.FileKey
	)

	if cfg.Gate.Enabled {
		keys, watcher, err = newKeySource(&cfg.Gate, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("request gate disabled, serving without token checks")
	}

	shutdownTimeout, readHeaderTimeout := cfg.Server.Timeouts()

	srv := &http.Server{
		Handler:           newHandler(cfg, st, keys, logger),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("serving",
			slog.String("addr", ln.Addr().String()),
			slog.Int("credential_slots", st.tokens.Slots()),
			slog.Bool("gate", cfg.Gate.Enabled),
			slog.Int64("cache_max_entries", cfg.Cache.MaxEntries),
		)

		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down",
			slog.Duration("timeout", shutdownTimeout),
			slog.Any("cause", context.Cause(gctx)),
		)

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}

		logger.Info("server stopped",
			slog.Int("cached_lookups", st.resolver.CacheLen()),
		)

		return nil
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	return g.Wait()
}
