// Package testutil provides a fake Drive backend for package tests. It serves
// the OAuth token endpoint and the slice of the Drive v3 API the index uses
// (child search, metadata, media download) from one httptest server, and
// records what it was asked so tests can assert on call counts.
package testutil

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

// FolderMimeType is the Drive MIME type for folders.
const FolderMimeType = "application/vnd.google-apps.folder"

// childQueryRe matches the search expression built by the drive package.
var childQueryRe = regexp.MustCompile(
	`^'((?:[^'\\]|\\.)*)' in parents and name = '((?:[^'\\]|\\.)*)' and trashed = false$`)

// FakeFile is one node in the fake tree.
type FakeFile struct {
	ID       string
	Name     string
	MimeType string
	Parent   string
	Content  []byte
	Trashed  bool
}

// FakeDrive is an in-memory Drive backend.
type FakeDrive struct {
	Server *httptest.Server

	mu           sync.Mutex
	files        map[string]*FakeFile
	order        []string
	failRefresh  map[string]bool
	quota        map[string]bool
	listFailures int
	tokenOwner   map[string]string
	refreshes    map[string]int
	lists        int
	metaFetches  int
	downloads    []string
	lastRange    string
	gzipMedia    bool
	lastAccept   string
	lastParams   url.Values
}

// NewFakeDrive starts a fake backend that is closed when the test ends.
func NewFakeDrive(tb testing.TB) *FakeDrive {
	tb.Helper()

	f := &FakeDrive{
		files:       make(map[string]*FakeFile),
		failRefresh: make(map[string]bool),
		quota:       make(map[string]bool),
		tokenOwner:  make(map[string]string),
		refreshes:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", f.handleToken)
	mux.HandleFunc("GET /drive/v3/files", f.withAuth(f.handleList))
	mux.HandleFunc("GET /drive/v3/files/{id}", f.withAuth(f.handleGet))

	f.Server = httptest.NewServer(mux)
	tb.Cleanup(f.Server.Close)

	return f
}

// TokenURL is the OAuth token endpoint of the fake.
func (f *FakeDrive) TokenURL() string {
	return f.Server.URL + "/token"
}

// Endpoint is the Drive v3 base URL of the fake.
func (f *FakeDrive) Endpoint() string {
	return f.Server.URL + "/drive/v3/"
}

// AddFolder adds a folder under parent.
func (f *FakeDrive) AddFolder(parent, id, name string) {
	f.add(&FakeFile{ID: id, Name: name, MimeType: FolderMimeType, Parent: parent})
}

// AddFile adds a file with content under parent.
func (f *FakeDrive) AddFile(parent, id, name, mimeType string, content []byte) {
	f.add(&FakeFile{ID: id, Name: name, MimeType: mimeType, Parent: parent, Content: content})
}

// Add inserts an arbitrary node, e.g. a trashed file.
func (f *FakeDrive) Add(file *FakeFile) {
	f.add(file)
}

func (f *FakeDrive) add(file *FakeFile) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[file.ID] = file
	f.order = append(f.order, file.ID)
}

// FailRefresh makes token refreshes for clientID fail with invalid_grant.
func (f *FakeDrive) FailRefresh(clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failRefresh[clientID] = true
}

// ExhaustQuota makes media downloads made with clientID's tokens fail with
// downloadQuotaExceeded.
func (f *FakeDrive) ExhaustQuota(clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.quota[clientID] = true
}

// GzipMedia makes full media responses gzip-encoded whenever the request
// accepts gzip, as the real backend may.
func (f *FakeDrive) GzipMedia() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gzipMedia = true
}

// FailLists makes the next n child searches fail with HTTP 500.
func (f *FakeDrive) FailLists(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listFailures = n
}

// RefreshCount returns how many token refreshes clientID performed.
func (f *FakeDrive) RefreshCount(clientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.refreshes[clientID]
}

// ListCount returns how many child searches were served.
func (f *FakeDrive) ListCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lists
}

// MetadataCount returns how many metadata fetches were served.
func (f *FakeDrive) MetadataCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.metaFetches
}

// DownloadAttempts returns the client ids of every media request, in order.
func (f *FakeDrive) DownloadAttempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.downloads...)
}

// LastAcceptEncoding returns the Accept-Encoding header of the most recent
// media request.
func (f *FakeDrive) LastAcceptEncoding() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastAccept
}

// LastParams returns the query parameters of the most recent Drive API
// request.
func (f *FakeDrive) LastParams() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastParams
}

// LastRange returns the Range header of the most recent media request.
func (f *FakeDrive) LastRange() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastRange
}

func (f *FakeDrive) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	clientID := r.PostForm.Get("client_id")

	f.mu.Lock()
	defer f.mu.Unlock()

	if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") == "" ||
		r.PostForm.Get("client_secret") == "" || f.failRefresh[clientID] {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token has been expired or revoked.",
		})

		return
	}

	f.refreshes[clientID]++
	token := fmt.Sprintf("at-%s-%d", clientID, f.refreshes[clientID])
	f.tokenOwner[token] = clientID

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// withAuth resolves the bearer token to its client id.
func (f *FakeDrive) withAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		f.mu.Lock()
		owner, ok := f.tokenOwner[token]
		f.lastParams = r.URL.Query()
		f.mu.Unlock()

		if !ok {
			writeAPIError(w, http.StatusUnauthorized, "authError", "Invalid Credentials")
			return
		}

		next(w, r, owner)
	}
}

func (f *FakeDrive) handleList(w http.ResponseWriter, r *http.Request, _ string) {
	m := childQueryRe.FindStringSubmatch(r.URL.Query().Get("q"))
	if m == nil {
		writeAPIError(w, http.StatusBadRequest, "invalid", "Invalid Value")
		return
	}

	parent, name := unescapeQuery(m[1]), unescapeQuery(m[2])

	f.mu.Lock()
	f.lists++

	if f.listFailures > 0 {
		f.listFailures--
		f.mu.Unlock()
		writeAPIError(w, http.StatusInternalServerError, "backendError", "Backend Error")

		return
	}

	type idOnly struct {
		ID string `json:"id"`
	}

	matches := []idOnly{}

	for _, id := range f.order {
		file := f.files[id]
		if file.Parent == parent && file.Name == name && !file.Trashed {
			matches = append(matches, idOnly{ID: file.ID})
		}
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"files": matches})
}

func (f *FakeDrive) handleGet(w http.ResponseWriter, r *http.Request, owner string) {
	id := r.PathValue("id")

	f.mu.Lock()
	file, ok := f.files[id]

	media := r.URL.Query().Get("alt") == "media"
	if media {
		f.downloads = append(f.downloads, owner)
		f.lastRange = r.Header.Get("Range")
		f.lastAccept = r.Header.Get("Accept-Encoding")
	} else {
		f.metaFetches++
	}

	exhausted := f.quota[owner]
	gzipMedia := f.gzipMedia
	f.mu.Unlock()

	if !ok {
		writeAPIError(w, http.StatusNotFound, "notFound", "File not found: "+id)
		return
	}

	if !media {
		writeJSON(w, http.StatusOK, map[string]any{
			"kind":         "drive#file",
			"id":           file.ID,
			"name":         file.Name,
			"mimeType":     file.MimeType,
			"size":         fmt.Sprint(len(file.Content)),
			"trashed":      file.Trashed,
			"modifiedTime": "2024-01-01T00:00:00.000Z",
		})

		return
	}

	if exhausted {
		writeAPIError(w, http.StatusForbidden, "downloadQuotaExceeded",
			"The download quota for this file has been exceeded.")

		return
	}

	w.Header().Set("Content-Type", file.MimeType)

	if gzipMedia && r.Header.Get("Range") == "" && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)

		zw := gzip.NewWriter(w)
		_, _ = zw.Write(file.Content)
		_ = zw.Close()

		return
	}

	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(file.Content))
}

func unescapeQuery(s string) string {
	var b strings.Builder

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}

		b.WriteByte(s[i])
	}

	return b.String()
}

func writeAPIError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"errors": []map[string]string{
				{"domain": "global", "reason": reason, "message": message},
			},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
