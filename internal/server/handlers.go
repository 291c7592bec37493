package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/gdindex/internal/drive"
	"github.com/tonimelisma/gdindex/internal/proxy"
)

// Response bodies for the refusals a client can see.
const (
	msgInvalidToken  = "Invalid Token"
	msgNotFound      = "File not found"
	msgForbiddenType = "Don't mess with the url"
	msgQuota         = "Download quota exceeded for this file. Please try again later; " +
		"the quota usually resets within 24 hours."
)

// hopHeaders are connection-scoped and never copied from the backend.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
}

func (s *Server) preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "GET, OPTIONS")
	w.WriteHeader(http.StatusMethodNotAllowed)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)

	if s.auth != nil {
		if _, err := s.auth.Verify(s.auth.TokenFromRequest(r)); err != nil {
			logger.Info("request token rejected", slog.String("reason", err.Error()))
			writeText(w, http.StatusForbidden, msgInvalidToken)

			return
		}
	}

	path := decodePath(r.URL.EscapedPath())

	rootID := r.URL.Query().Get("rootId")
	if rootID == "" {
		rootID = s.opts.DefaultRootID
	}

	logger.Debug("serving path",
		slog.String("path", path),
		slog.String("root_id", rootID),
	)

	res, err := s.streamer.Stream(r.Context(), path, rootID, r.Header.Get("Range"), 0)
	if err != nil {
		s.writeStreamError(w, r, logger, err)
		return
	}
	defer res.Body.Close()

	h := w.Header()
	for k, vv := range res.Header {
		h[k] = vv
	}

	for _, k := range hopHeaders {
		h.Del(k)
	}

	h.Set("Access-Control-Allow-Origin", s.opts.AllowOrigin)
	w.WriteHeader(res.Status)

	if _, err := io.Copy(w, res.Body); err != nil {
		logger.Info("stream ended early",
			slog.String("file_id", res.File.ID),
			slog.String("error", err.Error()),
		)
	}
}

// writeStreamError maps a Stream failure onto the response.
func (s *Server) writeStreamError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, proxy.ErrNotFound):
		writeText(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, proxy.ErrForbiddenType):
		writeText(w, http.StatusMethodNotAllowed, msgForbiddenType)
	case errors.Is(err, proxy.ErrQuotaExhausted):
		logger.Warn("all identities exhausted", slog.String("error", err.Error()))
		writeText(w, http.StatusForbidden, msgQuota)
	case errors.Is(err, drive.ErrRangeNotSatisfiable):
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		logger.Debug("client went away", slog.String("error", err.Error()))
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodePath percent-decodes each segment of an escaped URL path twice.
// Some clients encode names twice; a segment whose second decode fails
// (e.g. a literal "%" in the name) keeps its first decode.
func decodePath(escaped string) string {
	segs := strings.Split(escaped, "/")
	for i, seg := range segs {
		segs[i] = decodeSegment(seg)
	}

	return strings.Join(segs, "/")
}

func decodeSegment(seg string) string {
	once, err := url.PathUnescape(seg)
	if err != nil {
		return seg
	}

	twice, err := url.PathUnescape(once)
	if err != nil {
		return once
	}

	return twice
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
