// Package server is the HTTP front of the index. It authorizes each request
// with the gate, turns the URL into a path and root id, hands both to the
// proxy and maps the outcome onto a status code.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tonimelisma/gdindex/internal/gate"
	"github.com/tonimelisma/gdindex/internal/proxy"
)

// Streamer serves file content by path. *proxy.Proxy is the production
// implementation.
type Streamer interface {
	Stream(ctx context.Context, path, rootID, rangeHeader string, initialSlot int) (*proxy.Result, error)
}

// Authorizer checks the token attached to a request. *gate.Gate is the
// production implementation.
type Authorizer interface {
	TokenFromRequest(r *http.Request) string
	Verify(raw string) (*gate.AuthToken, error)
}

// Options tunes the router.
type Options struct {
	// DefaultRootID is used when a request carries no rootId parameter.
	DefaultRootID string

	// AllowOrigin is sent as Access-Control-Allow-Origin. Empty means "*".
	AllowOrigin string
}

// Server routes download requests.
type Server struct {
	streamer Streamer
	auth     Authorizer
	opts     Options
	logger   *slog.Logger
}

// New creates a Server. A nil auth disables token checks.
func New(streamer Streamer, auth Authorizer, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.DefaultRootID == "" {
		opts.DefaultRootID = "root"
	}

	if opts.AllowOrigin == "" {
		opts.AllowOrigin = "*"
	}

	return &Server{
		streamer: streamer,
		auth:     auth,
		opts:     opts,
		logger:   logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(s.recoverJSON)
	r.Use(s.cors)

	r.Options("/*", s.preflight)
	r.Get("/*", s.download)
	r.MethodNotAllowed(s.methodNotAllowed)

	return r
}
