package drive

import (
	"strings"
	"time"
)

// googleAppsPrefix marks native Drive document types (Docs, Sheets, folders,
// shortcuts). They have no byte content to stream.
const googleAppsPrefix = "application/vnd.google-apps"

// Credential is one OAuth identity. Slots index into the list of credentials
// handed to NewTokenManager and never change after construction.
type Credential struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// AccessToken is a bearer token owned by the TokenManager for one slot.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token may still be used at now.
func (t AccessToken) ValidAt(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// RemoteFile is a read-only snapshot of a file's metadata. It is fetched
// fresh on every request and never cached.
type RemoteFile struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	MD5          string
	ModifiedTime time.Time
	Trashed      bool
}

// IsVirtual reports whether the file is a native Drive document type that
// cannot be downloaded as raw bytes.
func (f *RemoteFile) IsVirtual() bool {
	return strings.Contains(f.MimeType, googleAppsPrefix)
}

// LookupStatus discriminates the outcome of a single child lookup.
type LookupStatus int

const (
	LookupFound LookupStatus = iota
	LookupNotFound
	LookupBackendError
)

func (s LookupStatus) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	case LookupBackendError:
		return "backend_error"
	default:
		return "unknown"
	}
}

// Lookup is the result of resolving one (parent, name) pair. ID is set only
// for LookupFound and Err only for LookupBackendError.
type Lookup struct {
	Status LookupStatus
	ID     string
	Err    error
}

// Found reports whether the lookup produced a child id.
func (l Lookup) Found() bool {
	return l.Status == LookupFound
}
