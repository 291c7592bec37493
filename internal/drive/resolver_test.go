package drive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory Backend keyed by (parent, name).
type fakeBackend struct {
	mu       sync.Mutex
	children map[string]string
	files    map[string]*RemoteFile
	errs     map[string]error
	finds    []string
	gets     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		children: make(map[string]string),
		files:    make(map[string]*RemoteFile),
		errs:     make(map[string]error),
	}
}

func (b *fakeBackend) add(parent, name, id string) {
	b.children[parent+"/"+name] = id
	b.files[id] = &RemoteFile{ID: id, Name: name, MimeType: "application/octet-stream"}
}

func (b *fakeBackend) FindChild(_ context.Context, parentID, name string, _ int) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := parentID + "/" + name
	b.finds = append(b.finds, key)

	if err := b.errs[key]; err != nil {
		return "", false, err
	}

	id, ok := b.children[key]

	return id, ok, nil
}

func (b *fakeBackend) GetFile(_ context.Context, id string, _ int) (*RemoteFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gets++

	f, ok := b.files[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}

	return f, nil
}

func (b *fakeBackend) findCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.finds)
}

func TestResolveChild_CachedAfterFirstLookup(t *testing.T) {
	b := newFakeBackend()
	b.add("P", "x", "id-x")
	r := NewResolver(b, nil, testLogger(t))

	id1, ok1, err1 := r.ResolveChild(context.Background(), "P", "x", 0)
	id2, ok2, err2 := r.ResolveChild(context.Background(), "P", "x", 0)

	require.NoError(t, err1)
	require.NoError(t, err2)

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, "id-x", id1)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, b.findCount())
}

func TestResolveChild_NotFoundIsCached(t *testing.T) {
	b := newFakeBackend()
	r := NewResolver(b, nil, testLogger(t))

	_, ok, _ := r.ResolveChild(context.Background(), "P", "missing", 0)
	assert.False(t, ok)

	// Appearing later does not matter: the absence is memoized.
	b.add("P", "missing", "id-late")

	_, ok, _ = r.ResolveChild(context.Background(), "P", "missing", 0)
	assert.False(t, ok)
	assert.Equal(t, 1, b.findCount())
}

func TestLookup_BackendErrorLooksLikeNotFoundButIsNotCached(t *testing.T) {
	b := newFakeBackend()
	b.add("P", "x", "id-x")
	b.errs["P/x"] = errors.New("boom")
	r := NewResolver(b, nil, testLogger(t))

	l := r.Lookup(context.Background(), "P", "x", 0)
	assert.Equal(t, LookupBackendError, l.Status)
	require.Error(t, l.Err)

	_, ok, err := r.ResolveChild(context.Background(), "P", "x", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	delete(b.errs, "P/x")

	id, ok, err := r.ResolveChild(context.Background(), "P", "x", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "id-x", id)
	assert.Equal(t, 3, b.findCount())
}

func TestResolveID_MatchesSequentialResolution(t *testing.T) {
	b := newFakeBackend()
	b.add("R", "a", "id1")
	b.add("id1", "b", "id2")
	b.add("id2", "c", "id3")

	walk := NewResolver(b, nil, testLogger(t))
	id, ok, err := walk.ResolveID(context.Background(), "a/b/c", "R", 0)
	require.NoError(t, err)
	require.True(t, ok)

	step := NewResolver(newFakeBackendFrom(b), nil, testLogger(t))
	id1, _, _ := step.ResolveChild(context.Background(), "R", "a", 0)
	id2, _, _ := step.ResolveChild(context.Background(), id1, "b", 0)
	id3, _, _ := step.ResolveChild(context.Background(), id2, "c", 0)

	assert.Equal(t, id3, id)
	assert.Equal(t, "id3", id)
	assert.Equal(t, []string{"R/a", "id1/b", "id2/c"}, b.finds)
}

func newFakeBackendFrom(src *fakeBackend) *fakeBackend {
	b := newFakeBackend()
	for k, v := range src.children {
		b.children[k] = v
	}

	return b
}

func TestResolveID_EmptyPathIsRoot(t *testing.T) {
	tests := []string{"", "/", "//", "///"}

	for _, path := range tests {
		t.Run(fmt.Sprintf("%q", path), func(t *testing.T) {
			b := newFakeBackend()
			r := NewResolver(b, nil, testLogger(t))

			id, ok, err := r.ResolveID(context.Background(), path, "R", 0)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "R", id)
			assert.Equal(t, 0, b.findCount())
		})
	}
}

func TestResolveID_IgnoresRedundantSlashes(t *testing.T) {
	b := newFakeBackend()
	b.add("R", "a", "id1")
	b.add("id1", "b", "id2")
	r := NewResolver(b, nil, testLogger(t))

	id, ok, err := r.ResolveID(context.Background(), "/a//b/", "R", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "id2", id)
}

func TestResolveID_ShortCircuitsOnMissingSegment(t *testing.T) {
	b := newFakeBackend()
	b.add("R", "a", "id1")
	r := NewResolver(b, nil, testLogger(t))

	_, ok, err := r.ResolveID(context.Background(), "a/nope/c", "R", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"R/a", "id1/nope"}, b.finds)
}

func TestResolveMetadata(t *testing.T) {
	b := newFakeBackend()
	b.add("R", "a", "id1")
	r := NewResolver(b, nil, testLogger(t))

	f, err := r.ResolveMetadata(context.Background(), "a", "R", 0)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "id1", f.ID)

	f, err = r.ResolveMetadata(context.Background(), "b", "R", 0)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 1, b.gets)
}

func TestResolveMetadata_FetchErrorPropagates(t *testing.T) {
	b := newFakeBackend()
	b.children["R/ghost"] = "id-ghost"
	r := NewResolver(b, nil, testLogger(t))

	_, err := r.ResolveMetadata(context.Background(), "ghost", "R", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_CacheKeysDoNotCollide(t *testing.T) {
	b := newFakeBackend()
	b.add("ab", "c", "id-1")
	b.add("a", "bc", "id-2")
	r := NewResolver(b, nil, testLogger(t))

	id1, _, _ := r.ResolveChild(context.Background(), "ab", "c", 0)
	id2, _, _ := r.ResolveChild(context.Background(), "a", "bc", 0)

	assert.Equal(t, "id-1", id1)
	assert.Equal(t, "id-2", id2)
	assert.Equal(t, 2, r.CacheLen())
}

func TestResolveMetadata_CredentialFailurePropagates(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"refresh failed", fmt.Errorf("%w: slot 0: invalid_grant", ErrAuth)},
		{"unknown slot", fmt.Errorf("%w: 7", ErrNoSuchSlot)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			b.add("R", "a", "id1")
			b.add("id1", "b", "id2")
			b.errs["id1/b"] = tt.err
			r := NewResolver(b, nil, testLogger(t))

			f, err := r.ResolveMetadata(context.Background(), "a/b", "R", 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, f)
			assert.Equal(t, 0, b.gets)

			// Not memoized: the next walk asks the backend again.
			delete(b.errs, "id1/b")

			id, ok, err := r.ResolveID(context.Background(), "a/b", "R", 0)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "id2", id)
		})
	}
}

func TestResolveChild_CanceledContextIsAnError(t *testing.T) {
	b := newFakeBackend()
	b.errs["P/x"] = context.Canceled
	r := NewResolver(b, nil, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := r.ResolveChild(ctx, "P", "x", 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
