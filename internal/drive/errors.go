// Package drive talks to the Drive v3 REST API on behalf of a rotating set of
// OAuth identities. It owns the per-identity access tokens, the path resolver
// with its memo table, and the error classification used by the proxy to
// decide when to fail over to the next identity.
package drive

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// Sentinel errors for backend failures.
// Use errors.Is(err, drive.ErrQuota) to check.
var (
	ErrAuth                = errors.New("drive: credential refresh failed")
	ErrUnauthorized        = errors.New("drive: unauthorized")
	ErrForbidden           = errors.New("drive: forbidden")
	ErrQuota               = errors.New("drive: quota exceeded")
	ErrNotFound            = errors.New("drive: not found")
	ErrRangeNotSatisfiable = errors.New("drive: range not satisfiable")
	ErrServerError         = errors.New("drive: server error")
	ErrBackend             = errors.New("drive: backend error")
	ErrNoSuchSlot          = errors.New("drive: no such credential slot")
)

// quotaReasons are the googleapi error reasons that mean "this identity is
// out of budget", as opposed to a permissions problem.
var quotaReasons = map[string]bool{
	"userRateLimitExceeded":    true,
	"rateLimitExceeded":        true,
	"dailyLimitExceeded":       true,
	"downloadQuotaExceeded":    true,
	"quotaExceeded":            true,
	"sharingRateLimitExceeded": true,
}

// APIError wraps a sentinel error with the HTTP status code, the first
// googleapi reason and the API message for debugging.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("drive: HTTP %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}

	return fmt.Sprintf("drive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classify converts an error returned by the Drive client library into an
// *APIError. Errors that did not come from an HTTP response (transport
// failures, canceled contexts) are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	reason := ""
	if len(gerr.Errors) > 0 {
		reason = gerr.Errors[0].Reason
	}

	msg := gerr.Message
	if msg == "" {
		msg = strings.TrimSpace(gerr.Body)
	}

	return &APIError{
		StatusCode: gerr.Code,
		Reason:     reason,
		Message:    msg,
		Err:        classifyStatus(gerr.Code, reason, gerr.Body),
	}
}

// classifyStatus maps an HTTP status code and googleapi reason to a sentinel.
func classifyStatus(code int, reason, body string) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrQuota
	case http.StatusForbidden:
		if quotaReasons[reason] || mentionsQuota(body) {
			return ErrQuota
		}

		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrBackend
	}
}

// mentionsQuota covers media responses whose JSON body was not decoded into
// structured error items.
func mentionsQuota(body string) bool {
	for reason := range quotaReasons {
		if strings.Contains(body, reason) {
			return true
		}
	}

	return false
}
