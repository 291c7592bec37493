// Package gate authorizes inbound requests by verifying an RS256-signed
// token carried in a query parameter. Verification is stateless: the token
// must be unexpired and its signature must check out against the configured
// public key. Any failure is a hard reject; nothing is retried.
package gate

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenParam is the query parameter that carries the token.
const DefaultTokenParam = "token"

// Rejection reasons. Verify wraps exactly one of these.
var (
	ErrMissingToken   = errors.New("gate: missing token")
	ErrMalformedToken = errors.New("gate: malformed token")
	ErrExpiredToken   = errors.New("gate: token expired")
	ErrBadSignature   = errors.New("gate: signature verification failed")
)

// KeySource supplies the current verification key. StaticKey and FileKey
// implement it.
type KeySource interface {
	PublicKey() *rsa.PublicKey
}

// StaticKey is a KeySource that never changes.
type StaticKey struct {
	Key *rsa.PublicKey
}

// PublicKey returns the fixed key.
func (s StaticKey) PublicKey() *rsa.PublicKey {
	return s.Key
}

// AuthToken is a decoded token. RawHeader and RawPayload are the segments
// exactly as received; the signature covers them, not a re-encoding.
type AuthToken struct {
	Header     map[string]any
	Claims     jwt.MapClaims
	Signature  []byte
	RawHeader  string
	RawPayload string
}

// SigningInput returns "<header>.<payload>" as it was signed.
func (t *AuthToken) SigningInput() string {
	return t.RawHeader + "." + t.RawPayload
}

// Gate verifies request tokens.
type Gate struct {
	keys   KeySource
	param  string
	leeway time.Duration
	logger *slog.Logger

	// now is the clock. Tests pin it.
	now func() time.Time
}

// New creates a Gate. An empty param means DefaultTokenParam. leeway extends
// a token's life past its exp claim; zero keeps the strict comparison.
func New(keys KeySource, param string, leeway time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}

	if param == "" {
		param = DefaultTokenParam
	}

	return &Gate{
		keys:   keys,
		param:  param,
		leeway: leeway,
		logger: logger,
		now:    time.Now,
	}
}

// TokenParam returns the query parameter name the gate reads.
func (g *Gate) TokenParam() string {
	return g.param
}

// TokenFromRequest extracts the raw token from r's query string, trimmed of
// surrounding whitespace.
func (g *Gate) TokenFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(g.param))
}

// Authorize reports whether raw is an acceptable token. The rejection reason
// is logged.
func (g *Gate) Authorize(raw string) bool {
	if _, err := g.Verify(raw); err != nil {
		g.logger.Info("request token rejected", slog.String("reason", err.Error()))
		return false
	}

	return true
}

// Verify decodes raw, checks exp against the clock and then checks the
// RS256 signature over the raw header and payload segments.
func (g *Gate) Verify(raw string) (*AuthToken, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	tok, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	exp, err := tok.Claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %w", ErrMalformedToken, err)
	}

	if exp == nil {
		return nil, fmt.Errorf("%w: no exp claim", ErrMalformedToken)
	}

	// exp must be strictly after now.
	if !exp.Add(g.leeway).After(g.now()) {
		return nil, fmt.Errorf("%w: at %s", ErrExpiredToken, exp.UTC().Format(time.RFC3339))
	}

	key := g.keys.PublicKey()
	if key == nil {
		return nil, fmt.Errorf("%w: no verification key loaded", ErrBadSignature)
	}

	if err := jwt.SigningMethodRS256.Verify(tok.SigningInput(), tok.Signature, key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}

	return tok, nil
}

// Parse splits raw into its three segments and decodes them. It does not
// verify anything.
func Parse(raw string) (*AuthToken, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: want 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	headerJSON, err := decodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMalformedToken, err)
	}

	payloadJSON, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrMalformedToken, err)
	}

	sig, err := decodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %w", ErrMalformedToken, err)
	}

	tok := &AuthToken{
		Signature:  sig,
		RawHeader:  parts[0],
		RawPayload: parts[1],
	}

	if err := json.Unmarshal(headerJSON, &tok.Header); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMalformedToken, err)
	}

	if err := json.Unmarshal(payloadJSON, &tok.Claims); err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrMalformedToken, err)
	}

	if alg, _ := tok.Header["alg"].(string); alg != "" && alg != jwt.SigningMethodRS256.Alg() {
		return nil, fmt.Errorf("%w: unsupported alg %q", ErrMalformedToken, alg)
	}

	return tok, nil
}

// decodeSegment accepts both base64 alphabets, padded or not.
func decodeSegment(s string) ([]byte, error) {
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	s = strings.TrimRight(s, "=")

	return base64.RawStdEncoding.DecodeString(s)
}
