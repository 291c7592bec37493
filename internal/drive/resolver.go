package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Backend is the subset of Client the Resolver depends on.
type Backend interface {
	FindChild(ctx context.Context, parentID, name string, slot int) (id string, found bool, err error)
	GetFile(ctx context.Context, id string, slot int) (*RemoteFile, error)
}

// Resolver translates slash-separated paths into file ids by walking one
// segment at a time from a root id. Every (parent, name) translation is
// memoized in the cache for the lifetime of the Resolver, including
// confirmed absences. Backend errors are not memoized.
type Resolver struct {
	backend Backend
	cache   Cache
	logger  *slog.Logger
}

// NewResolver creates a Resolver. A nil cache means an unbounded in-memory
// cache.
func NewResolver(backend Backend, cache Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	if cache == nil {
		cache = newMemoryCache()
	}

	return &Resolver{
		backend: backend,
		cache:   cache,
		logger:  logger,
	}
}

// CacheLen returns the number of memoized translations.
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}

// Lookup resolves one child and reports why it did or did not resolve.
func (r *Resolver) Lookup(ctx context.Context, parentID, name string, slot int) Lookup {
	if e, ok := r.cache.Load(parentID, name); ok {
		if e.Found {
			return Lookup{Status: LookupFound, ID: e.ID}
		}

		return Lookup{Status: LookupNotFound}
	}

	id, found, err := r.backend.FindChild(ctx, parentID, name, slot)
	if err != nil {
		r.logger.Warn("child lookup failed",
			slog.String("parent_id", parentID),
			slog.Int("slot", slot),
			slog.String("error", err.Error()),
		)

		return Lookup{Status: LookupBackendError, Err: err}
	}

	r.cache.Store(parentID, name, CacheEntry{ID: id, Found: found})

	if !found {
		return Lookup{Status: LookupNotFound}
	}

	return Lookup{Status: LookupFound, ID: id}
}

// ResolveChild returns the id of parentID's child called name. A backend
// error from the children query is reported the same way as a missing
// child. Credential failures and cancellation are returned as errors since
// they say nothing about whether the child exists.
func (r *Resolver) ResolveChild(ctx context.Context, parentID, name string, slot int) (string, bool, error) {
	l := r.Lookup(ctx, parentID, name, slot)
	if l.Status == LookupBackendError && isFatalLookupErr(ctx, l.Err) {
		return "", false, l.Err
	}

	return l.ID, l.Found(), nil
}

// isFatalLookupErr reports whether err must not be downgraded to not-found.
func isFatalLookupErr(ctx context.Context, err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrNoSuchSlot) || ctx.Err() != nil
}

// ResolveID walks path from rootID. An empty path (after dropping empty
// segments) resolves to rootID itself without any backend call.
func (r *Resolver) ResolveID(ctx context.Context, path, rootID string, slot int) (string, bool, error) {
	id := rootID

	for _, seg := range splitPath(path) {
		next, ok, err := r.ResolveChild(ctx, id, seg, slot)
		if err != nil {
			return "", false, fmt.Errorf("drive: resolving segment %q: %w", seg, err)
		}

		if !ok {
			r.logger.Debug("path segment did not resolve",
				slog.String("parent_id", id),
				slog.String("segment", seg),
			)

			return "", false, nil
		}

		id = next
	}

	return id, true, nil
}

// ResolveMetadata resolves path and fetches the file's metadata. It returns
// (nil, nil) when the path does not exist. Errors come from credential
// failures during the walk or from the metadata fetch for a resolved id.
func (r *Resolver) ResolveMetadata(ctx context.Context, path, rootID string, slot int) (*RemoteFile, error) {
	id, ok, err := r.ResolveID(ctx, path, rootID, slot)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil //nolint:nilnil // nil file means "no such path"
	}

	return r.backend.GetFile(ctx, id, slot)
}

// splitPath returns the non-empty segments of a slash-separated path.
func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}
