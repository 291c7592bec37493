package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DefaultEndpoint is the Drive v3 REST base URL.
const DefaultEndpoint = "https://www.googleapis.com/drive/v3/"

const defaultUserAgent = "gdindex/0.1"

// TokenProvider supplies bearer tokens per credential slot. *TokenManager is
// the production implementation.
type TokenProvider interface {
	EnsureToken(ctx context.Context, slot int, forceCheck bool) (AccessToken, error)
	Invalidate(slot int)
	Slots() int
}

// session is a Drive service bound to one access token.
type session struct {
	token string
	svc   *drivev3.Service
}

// Client performs the three backend operations the index needs: child
// lookup by name, metadata fetch by id and media download by id. Each slot
// gets its own Drive service bound to that slot's current token; the service
// is rebuilt whenever the token changes.
type Client struct {
	endpoint  string
	base      http.RoundTripper
	tokens    TokenProvider
	userAgent string
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[int]*session
}

// NewClient creates a backend client. endpoint is the Drive v3 base URL
// (DefaultEndpoint when empty). base is the transport underneath the bearer
// token transport; nil means http.DefaultTransport.
func NewClient(endpoint string, base http.RoundTripper, tokens TokenProvider, userAgent string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	if base == nil {
		base = http.DefaultTransport
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		endpoint:  endpoint,
		base:      base,
		tokens:    tokens,
		userAgent: userAgent,
		logger:    logger,
		sessions:  make(map[int]*session),
	}
}

// Slots returns the number of credential slots available for failover.
func (c *Client) Slots() int {
	return c.tokens.Slots()
}

// service returns the Drive service for slot, refreshing the slot's token
// first when forceCheck is set and the token has expired.
func (c *Client) service(ctx context.Context, slot int, forceCheck bool) (*drivev3.Service, error) {
	tok, err := c.tokens.EnsureToken(ctx, slot, forceCheck)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[slot]; ok && s.token == tok.Value {
		return s.svc, nil
	}

	hc := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.Value, TokenType: "Bearer"}),
			Base:   c.base,
		},
	}

	svc, err := drivev3.NewService(ctx,
		option.WithHTTPClient(hc),
		option.WithEndpoint(c.endpoint),
		option.WithUserAgent(c.userAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("drive: creating service for slot %d: %w", slot, err)
	}

	c.sessions[slot] = &session{token: tok.Value, svc: svc}

	c.logger.Debug("bound drive service to fresh token", slog.Int("slot", slot))

	return svc, nil
}

// FindChild returns the id of the first non-trashed child of parentID named
// name. found is false when the backend returned no match.
func (c *Client) FindChild(ctx context.Context, parentID, name string, slot int) (id string, found bool, err error) {
	svc, err := c.service(ctx, slot, true)
	if err != nil {
		return "", false, err
	}

	res, err := svc.Files.List().
		Q(childQuery(parentID, name)).
		Fields("files(id)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, c.handleErr(slot, err)
	}

	if len(res.Files) == 0 {
		return "", false, nil
	}

	if len(res.Files) > 1 {
		c.logger.Debug("multiple children share a name, using the first",
			slog.String("parent_id", parentID),
			slog.Int("matches", len(res.Files)),
		)
	}

	return res.Files[0].Id, true, nil
}

// GetFile fetches the full metadata record for id.
func (c *Client) GetFile(ctx context.Context, id string, slot int) (*RemoteFile, error) {
	svc, err := c.service(ctx, slot, true)
	if err != nil {
		return nil, err
	}

	f, err := svc.Files.Get(id).
		Fields("*").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, c.handleErr(slot, err)
	}

	return toRemoteFile(f, c.logger), nil
}

// Download starts a media download of id, forwarding rangeHeader verbatim
// when it is non-empty. The caller owns the returned body. checkExpiry may be
// false when the slot's token was checked moments earlier in the same
// request, e.g. by metadata resolution.
func (c *Client) Download(ctx context.Context, id, rangeHeader string, slot int, checkExpiry bool) (*http.Response, error) {
	svc, err := c.service(ctx, slot, checkExpiry)
	if err != nil {
		return nil, err
	}

	call := svc.Files.Get(id).SupportsAllDrives(true).Context(ctx)

	// An explicit encoding stops net/http from negotiating gzip and then
	// decoding it, which would drop the upstream Content-Length.
	call.Header().Set("Accept-Encoding", "identity")

	if rangeHeader != "" {
		call.Header().Set("Range", rangeHeader)
	}

	resp, err := call.Download()
	if err != nil {
		return nil, c.handleErr(slot, err)
	}

	return resp, nil
}

// handleErr classifies err and drops the slot's token on 401 so the next
// call refreshes it.
func (c *Client) handleErr(slot int, err error) error {
	err = classify(err)
	if errors.Is(err, ErrUnauthorized) {
		c.logger.Warn("backend rejected access token, invalidating",
			slog.Int("slot", slot),
		)
		c.tokens.Invalidate(slot)
	}

	return err
}

// childQuery builds the Drive search expression for a named child of
// parentID. Backslashes and single quotes are escaped so names like
// "it's" stay inside the quoted literal.
func childQuery(parentID, name string) string {
	return fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false",
		escapeQuery(parentID), escapeQuery(name))
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// toRemoteFile normalizes a Drive API file into our RemoteFile type.
func toRemoteFile(f *drivev3.File, logger *slog.Logger) *RemoteFile {
	rf := &RemoteFile{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
		MD5:      f.Md5Checksum,
		Trashed:  f.Trashed,
	}

	if f.ModifiedTime != "" {
		t, err := time.Parse(time.RFC3339, f.ModifiedTime)
		if err != nil {
			logger.Warn("invalid modifiedTime",
				slog.String("file_id", f.Id),
				slog.String("raw", f.ModifiedTime),
			)
		} else {
			rf.ModifiedTime = t
		}
	}

	return rf
}
