package drive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

// tokenLifetime is how long a refreshed token is trusted. The provider
// advertises 3600s; the 100s gap absorbs clock skew and request latency.
const tokenLifetime = 3500 * time.Second

// TokenManager hands out bearer tokens for credential slots. Each slot's
// token is created lazily, shared by every caller of that slot and refreshed
// once it expires. Concurrent refreshes of one slot are coalesced.
type TokenManager struct {
	creds      []Credential
	endpoint   oauth2.Endpoint
	httpClient *http.Client
	logger     *slog.Logger

	// now is the clock. Tests override it to step past expiry.
	now func() time.Time

	mu     sync.RWMutex
	tokens []AccessToken

	refreshes singleflight.Group
}

// NewTokenManager creates a TokenManager for the given credentials.
// tokenURL is the OAuth token endpoint; empty means Google's.
func NewTokenManager(creds []Credential, tokenURL string, httpClient *http.Client, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	endpoint := google.Endpoint
	if tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}

	// The token endpoint expects client_id and client_secret in the form body.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &TokenManager{
		creds:      creds,
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		tokens:     make([]AccessToken, len(creds)),
	}
}

// Slots returns the number of configured credential slots.
func (m *TokenManager) Slots() int {
	return len(m.creds)
}

// EnsureToken returns a usable access token for slot. With forceCheck false
// any cached token is returned without looking at its expiry; callers use
// this right after an expiry-checked call in the same request. A refresh
// failure is returned wrapped in ErrAuth and is not retried.
func (m *TokenManager) EnsureToken(ctx context.Context, slot int, forceCheck bool) (AccessToken, error) {
	if slot < 0 || slot >= len(m.creds) {
		return AccessToken{}, fmt.Errorf("%w: %d", ErrNoSuchSlot, slot)
	}

	m.mu.RLock()
	cached := m.tokens[slot]
	m.mu.RUnlock()

	if cached.Value != "" && (!forceCheck || cached.ValidAt(m.now())) {
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return AccessToken{}, err
	}

	// The refresh runs detached so one disconnecting caller does not fail
	// the others waiting on the same slot.
	ch := m.refreshes.DoChan(strconv.Itoa(slot), func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), slot)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}

		tok, ok := res.Val.(AccessToken)
		if !ok {
			return AccessToken{}, fmt.Errorf("drive: unexpected refresh result %T", res.Val)
		}

		return tok, nil
	case <-ctx.Done():
		return AccessToken{}, ctx.Err()
	}
}

// Invalidate drops the cached token for slot so the next EnsureToken call
// performs a refresh.
func (m *TokenManager) Invalidate(slot int) {
	if slot < 0 || slot >= len(m.creds) {
		return
	}

	m.mu.Lock()
	m.tokens[slot] = AccessToken{}
	m.mu.Unlock()
}

// refresh exchanges the slot's refresh token for a new access token.
func (m *TokenManager) refresh(ctx context.Context, slot int) (AccessToken, error) {
	cred := m.creds[slot]

	m.logger.Info("refreshing access token", slog.Int("slot", slot))

	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     m.endpoint,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	t, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		m.logger.Warn("access token refresh failed",
			slog.Int("slot", slot),
			slog.String("error", err.Error()),
		)

		return AccessToken{}, fmt.Errorf("%w: slot %d: %w", ErrAuth, slot, err)
	}

	tok := AccessToken{
		Value:     t.AccessToken,
		ExpiresAt: m.now().Add(tokenLifetime),
	}

	m.mu.Lock()
	m.tokens[slot] = tok
	m.mu.Unlock()

	m.logger.Debug("access token refreshed",
		slog.Int("slot", slot),
		slog.Time("expires_at", tok.ExpiresAt),
	)

	return tok, nil
}
