package drive

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdindex/testutil"
)

func newTestClient(t *testing.T, fake *testutil.FakeDrive, slots int) (*Client, *TokenManager) {
	t.Helper()

	tm, _ := newTestTokenManager(t, fake, slots)
	c := NewClient(fake.Endpoint(), fake.Server.Client().Transport, tm, "test-agent", testLogger(t))

	return c, tm
}

func TestFindChild_Found(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFolder("root", "f1", "Music")
	c, _ := newTestClient(t, fake, 1)

	id, found, err := c.FindChild(context.Background(), "root", "Music", 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "f1", id)
}

func TestFindChild_FirstMatchWins(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "dup-1", "a.txt", "text/plain", nil)
	fake.AddFile("root", "dup-2", "a.txt", "text/plain", nil)
	c, _ := newTestClient(t, fake, 1)

	id, found, err := c.FindChild(context.Background(), "root", "a.txt", 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dup-1", id)
}

func TestFindChild_QuotesAndBackslashesEscaped(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "q1", `it's a \ test.mp3`, "audio/mpeg", nil)
	c, _ := newTestClient(t, fake, 1)

	id, found, err := c.FindChild(context.Background(), "root", `it's a \ test.mp3`, 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "q1", id)
}

func TestFindChild_TrashedIgnored(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.Add(&testutil.FakeFile{ID: "t1", Name: "old.txt", Parent: "root", Trashed: true})
	c, _ := newTestClient(t, fake, 1)

	_, found, err := c.FindChild(context.Background(), "root", "old.txt", 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindChild_ServerErrorClassified(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.FailLists(1)
	c, _ := newTestClient(t, fake, 1)

	_, _, err := c.FindChild(context.Background(), "root", "x", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "backendError", apiErr.Reason)
}

func TestGetFile(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "f1", "song.mp3", "audio/mpeg", []byte("0123456789"))
	c, _ := newTestClient(t, fake, 1)

	f, err := c.GetFile(context.Background(), "f1", 0)
	require.NoError(t, err)
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, "song.mp3", f.Name)
	assert.Equal(t, "audio/mpeg", f.MimeType)
	assert.Equal(t, int64(10), f.Size)
	assert.False(t, f.ModifiedTime.IsZero())
	assert.False(t, f.IsVirtual())
}

func TestGetFile_NotFound(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	c, _ := newTestClient(t, fake, 1)

	_, err := c.GetFile(context.Background(), "nope", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownload_ForwardsRange(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "f1", "data.bin", "application/octet-stream", []byte("0123456789abcdef"))
	c, _ := newTestClient(t, fake, 1)

	resp, err := c.Download(context.Background(), "f1", "bytes=2-5", 0, true)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "2345", string(body))
	assert.Equal(t, "bytes 2-5/16", resp.Header.Get("Content-Range"))
	assert.Equal(t, "bytes=2-5", fake.LastRange())
}

func TestDownload_NoRangeHeaderWhenEmpty(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "f1", "data.bin", "application/octet-stream", []byte("abc"))
	c, _ := newTestClient(t, fake, 1)

	resp, err := c.Download(context.Background(), "f1", "", 0, false)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, fake.LastRange())
}

func TestDownload_QuotaClassified(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "f1", "data.bin", "application/octet-stream", []byte("abc"))
	fake.ExhaustQuota("clienta")
	c, _ := newTestClient(t, fake, 1)

	_, err := c.Download(context.Background(), "f1", "", 0, true)
	assert.ErrorIs(t, err, ErrQuota)
}

func TestClient_ServiceRebuiltAfterInvalidate(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "f1", "a", "text/plain", nil)
	c, tm := newTestClient(t, fake, 1)

	_, err := c.GetFile(context.Background(), "f1", 0)
	require.NoError(t, err)

	tm.Invalidate(0)

	_, err = c.GetFile(context.Background(), "f1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.RefreshCount("clienta"))
	assert.Equal(t, 1, c.Slots())
}

func TestClient_RefreshFailureSurfaces(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.FailRefresh("clienta")
	c, _ := newTestClient(t, fake, 1)

	_, _, err := c.FindChild(context.Background(), "root", "x", 0)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestChildQuery(t *testing.T) {
	tests := []struct {
		name, parent, child, want string
	}{
		{"plain", "root", "a.txt", `'root' in parents and name = 'a.txt' and trashed = false`},
		{"quote", "root", "it's", `'root' in parents and name = 'it\'s' and trashed = false`},
		{"backslash", "root", `a\b`, `'root' in parents and name = 'a\\b' and trashed = false`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, childQuery(tt.parent, tt.child))
		})
	}
}

func TestDownload_BodyAndLengthPassThroughUnencoded(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "f1", "song.mp3", "audio/mpeg", []byte("0123456789"))
	fake.GzipMedia()
	c, _ := newTestClient(t, fake, 1)

	resp, err := c.Download(context.Background(), "f1", "", 0, true)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "identity", fake.LastAcceptEncoding())
	assert.Equal(t, "0123456789", string(body))
	assert.Equal(t, "10", resp.Header.Get("Content-Length"))
	assert.Equal(t, int64(10), resp.ContentLength)
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.False(t, resp.Uncompressed)
}

func TestClient_SharedDriveParameters(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "f1", "song.mp3", "audio/mpeg", []byte("abc"))
	c, _ := newTestClient(t, fake, 1)

	_, _, err := c.FindChild(context.Background(), "root", "song.mp3", 0)
	require.NoError(t, err)
	assert.Equal(t, "true", fake.LastParams().Get("supportsAllDrives"))
	assert.Equal(t, "true", fake.LastParams().Get("includeItemsFromAllDrives"))

	_, err = c.GetFile(context.Background(), "f1", 0)
	require.NoError(t, err)
	assert.Equal(t, "true", fake.LastParams().Get("supportsAllDrives"))

	resp, err := c.Download(context.Background(), "f1", "", 0, true)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "true", fake.LastParams().Get("supportsAllDrives"))
	assert.Equal(t, "media", fake.LastParams().Get("alt"))
}
