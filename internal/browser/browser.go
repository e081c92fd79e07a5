// Package browser abstracts the transport that navigates pages, exposes
// their DOM, and captures screenshots. The crawler core only depends on the
// Session and Factory interfaces; chromedp and plain-HTTP implementations
// live alongside them.
package browser

import (
	"context"
	"errors"
	"net/http"
	"time"

	"webharvest/pkg/types"
)

// ErrScreenshotUnsupported is returned by transports that cannot render
// pixels. Callers treat visual hashing as best-effort.
var ErrScreenshotUnsupported = errors.New("screenshot not supported by this transport")

// NavigateOptions bounds a single navigation.
type NavigateOptions struct {
	// Timeout bounds the structural page load.
	Timeout time.Duration
	// IdleTimeout bounds the best-effort network-idle wait after load.
	// Exceeding it is not an error.
	IdleTimeout time.Duration
}

// NavigateResult reports the transport-level outcome of a navigation.
type NavigateResult struct {
	Status   int
	Headers  http.Header
	FinalURL string
}

// Session is one isolated browsing context with its own identity and cookie
// state. Sessions are not safe for concurrent use; each worker owns one.
type Session interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) (*NavigateResult, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Cookies(ctx context.Context) ([]types.Cookie, error)
	SetCookies(ctx context.Context, cookies []types.Cookie) error
	Close() error
}

// Factory creates sessions configured with a scheduler-assigned fingerprint.
type Factory interface {
	NewSession(ctx context.Context, fp types.Fingerprint) (Session, error)
}
