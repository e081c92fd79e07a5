// Package storage persists crawl results and per-domain cookie state, and
// applies content deduplication before anything is written.
package storage

import (
	"context"

	"webharvest/pkg/types"
)

// Store is the persistence surface the scheduler depends on. Implementations
// must be safe for concurrent use.
type Store interface {
	// SaveResult persists one scrape result. Results flagged as duplicates
	// may be skipped depending on configuration.
	SaveResult(ctx context.Context, result *types.ScrapeResult) error

	// PreviousResult returns the most recent stored result for a URL, or
	// nil when the URL has never been stored. Used to seed selector healing.
	PreviousResult(ctx context.Context, url string) (*types.ScrapeResult, error)

	// LoadCookies returns the stored cookie jar for a domain, possibly empty.
	LoadCookies(ctx context.Context, domain string) ([]types.Cookie, error)

	// SaveCookies replaces the stored cookie jar for a domain.
	SaveCookies(ctx context.Context, domain string, cookies []types.Cookie) error

	Close() error
}
