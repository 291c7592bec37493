// Package proxy streams file content from the backend to the caller. A
// failed media fetch moves on to the next credential slot, so one identity
// running out of quota does not fail the request while spare identities
// remain.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tonimelisma/gdindex/internal/drive"
)

// Terminal outcomes of Stream.
var (
	ErrNotFound       = errors.New("proxy: path not found")
	ErrForbiddenType  = errors.New("proxy: file type cannot be streamed")
	ErrQuotaExhausted = errors.New("proxy: quota exhausted for all identities")
)

// MetadataResolver resolves a path to file metadata. *drive.Resolver is the
// production implementation.
type MetadataResolver interface {
	ResolveMetadata(ctx context.Context, path, rootID string, slot int) (*drive.RemoteFile, error)
}

// Downloader starts media downloads. *drive.Client is the production
// implementation.
type Downloader interface {
	Download(ctx context.Context, id, rangeHeader string, slot int, checkExpiry bool) (*http.Response, error)
	Slots() int
}

// Result is a successful stream. The caller must close Body.
type Result struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	File   *drive.RemoteFile
	Slot   int
}

// QuotaError reports a failover that ran out of identities.
type QuotaError struct {
	Attempts int
	Last     error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("proxy: all %d identities failed, last error: %v", e.Attempts, e.Last)
}

func (e *QuotaError) Unwrap() []error {
	return []error{ErrQuotaExhausted, e.Last}
}

// Proxy streams files by path.
type Proxy struct {
	resolver   MetadataResolver
	downloader Downloader
	logger     *slog.Logger
}

// New creates a Proxy.
func New(resolver MetadataResolver, downloader Downloader, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}

	return &Proxy{
		resolver:   resolver,
		downloader: downloader,
		logger:     logger,
	}
}

// Stream resolves path under rootID with initialSlot and streams the file,
// forwarding rangeHeader to the backend. Metadata is resolved once; each
// failed download tries the next slot with the same metadata until a fetch
// succeeds or the last slot has failed, so at most one attempt is made per
// slot.
func (p *Proxy) Stream(ctx context.Context, path, rootID, rangeHeader string, initialSlot int) (*Result, error) {
	file, err := p.resolver.ResolveMetadata(ctx, path, rootID, initialSlot)
	if err != nil {
		return nil, fmt.Errorf("proxy: resolving %q: %w", path, err)
	}

	if file == nil {
		return nil, ErrNotFound
	}

	if file.IsVirtual() {
		p.logger.Info("refusing to stream native document",
			slog.String("file_id", file.ID),
			slog.String("mime_type", file.MimeType),
		)

		return nil, ErrForbiddenType
	}

	slots := p.downloader.Slots()
	attempts := 0

	var last error

	for slot := initialSlot; slot < slots; slot++ {
		attempts++

		// The initial slot's token was just checked while resolving.
		resp, err := p.downloader.Download(ctx, file.ID, rangeHeader, slot, slot != initialSlot)
		if err == nil {
			p.logger.Debug("streaming file",
				slog.String("file_id", file.ID),
				slog.Int("slot", slot),
				slog.Int("status", resp.StatusCode),
			)

			return newResult(resp, file, slot), nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("proxy: download canceled: %w", ctx.Err())
		}

		if errors.Is(err, drive.ErrRangeNotSatisfiable) {
			return nil, err
		}

		last = err

		p.logger.Warn("download failed, rotating identity",
			slog.String("file_id", file.ID),
			slog.Int("slot", slot),
			slog.String("error", err.Error()),
		)
	}

	if last == nil {
		last = fmt.Errorf("%w: %d", drive.ErrNoSuchSlot, initialSlot)
	}

	return nil, &QuotaError{Attempts: attempts, Last: last}
}

// newResult copies the backend response and forces inline display under the
// file's own name.
func newResult(resp *http.Response, file *drive.RemoteFile, slot int) *Result {
	h := resp.Header.Clone()
	h.Set("Content-Disposition", ContentDisposition(file.Name))

	return &Result{
		Status: resp.StatusCode,
		Header: h,
		Body:   resp.Body,
		File:   file,
		Slot:   slot,
	}
}

// ContentDisposition returns an inline disposition carrying name as an
// RFC 5987 UTF-8 filename* parameter.
func ContentDisposition(name string) string {
	return "inline; filename*=UTF-8''" + encodeFilename(name)
}

// encodeFilename percent-encodes every byte of s outside A-Z a-z 0-9 and
// "-_.!~", which are safe both in a URI component and an RFC 5987 value.
func encodeFilename(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}

		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}

	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}

	return strings.IndexByte("-_.!~", c) >= 0
}
