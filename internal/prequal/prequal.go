// Package prequal filters URLs with a cheap HEAD request before the crawler
// commits to a full fetch.
package prequal

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"webharvest/internal/config"
)

// Checker issues HEAD requests with their own timeout, independent of the
// full-fetch timeout.
type Checker struct {
	client    *http.Client
	userAgent string
	allowed   map[string]struct{}
	maxLength int64
	failOpen  bool
	enabled   bool
}

// New constructs a checker from configuration. The client is optional; pass
// nil for a default one honouring the configured timeout.
func New(cfg config.PrequalConfig, userAgent string, client *http.Client) *Checker {
	if client == nil {
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowed[strings.ToLower(strings.TrimSpace(ct))] = struct{}{}
	}
	return &Checker{
		client:    client,
		userAgent: userAgent,
		allowed:   allowed,
		maxLength: cfg.MaxContentLength,
		failOpen:  cfg.FailOpen,
		enabled:   cfg.Enabled,
	}
}

// Check reports whether the URL qualifies for a full fetch. On rejection the
// reason names the failing criterion. A HEAD request that cannot complete is
// an unknown outcome and passes or fails according to the fail-open policy.
func (c *Checker) Check(ctx context.Context, rawURL string) (bool, string) {
	if !c.enabled {
		return true, ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false, fmt.Sprintf("invalid url: %v", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if c.failOpen {
			return true, ""
		}
		return false, fmt.Sprintf("head request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil {
			mediaType = strings.ToLower(strings.TrimSpace(ct))
		}
		if _, ok := c.allowed[strings.ToLower(mediaType)]; !ok {
			return false, fmt.Sprintf("content type %s not allowed", mediaType)
		}
	}
	if c.maxLength > 0 && resp.ContentLength > c.maxLength {
		return false, fmt.Sprintf("content length %d exceeds cap %d", resp.ContentLength, c.maxLength)
	}
	return true, ""
}
