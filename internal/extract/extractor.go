// Package extract drives a single page through navigation, readable-content
// extraction, quality validation, link discovery, visual hashing, and
// classification.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"webharvest/internal/browser"
	"webharvest/internal/config"
	"webharvest/internal/healing"
	"webharvest/internal/policy"
	"webharvest/internal/textclean"
	"webharvest/internal/visual"
	"webharvest/pkg/types"
)

// Extractor runs the per-page pipeline. It is stateless across pages; one
// instance serves all workers.
type Extractor struct {
	cfg     config.ExtractConfig
	cleaner textclean.Cleaner
	logger  *slog.Logger
}

// New constructs an extractor. A nil cleaner means no text transformation.
func New(cfg config.ExtractConfig, cleaner textclean.Cleaner, logger *slog.Logger) *Extractor {
	if cleaner == nil {
		cleaner = textclean.Identity{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, cleaner: cleaner, logger: logger}
}

// Page fetches and extracts one frontier item inside the given session.
// The result is always non-nil; unexpected panics are converted to FAILED
// results so a worker never dies on a single page.
func (e *Extractor) Page(ctx context.Context, sess browser.Session, item types.FrontierItem, schema map[string]string, previous *types.ScrapeResult) (result *types.ScrapeResult) {
	start := time.Now()
	result = &types.ScrapeResult{
		Status:    types.StatusFailed,
		URL:       item.URL,
		Depth:     item.Depth,
		FetchedAt: start,
	}
	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			result.Status = types.StatusFailed
			result.ErrorMessage = fmt.Sprintf("panic during extraction: %v", r)
			result.Retryable = false
			e.logger.Error("extraction panic", "url", item.URL, "panic", r)
		}
	}()

	// NAVIGATING
	nav, err := sess.Navigate(ctx, item.URL, browser.NavigateOptions{
		Timeout:     e.cfg.NavigationTimeout.Duration,
		IdleTimeout: e.cfg.IdleTimeout.Duration,
	})
	if err != nil {
		netErr := &types.NetworkError{Err: err}
		result.ErrorMessage = netErr.Error()
		if policy.RetryableError(err) {
			result.Status = types.StatusRetry
			result.Retryable = true
		}
		return result
	}
	result.HTTPStatus = nav.Status
	result.Headers = nav.Headers
	if policy.RetryableStatus(nav.Status) {
		netErr := &types.NetworkError{Status: nav.Status}
		result.Status = types.StatusRetry
		result.Retryable = true
		result.ErrorMessage = netErr.Error()
		return result
	}
	if nav.Status >= 400 {
		result.ErrorMessage = fmt.Sprintf("http status %d", nav.Status)
		return result
	}

	// EXTRACTING
	pageHTML, err := sess.Content(ctx)
	if err != nil {
		if policy.RetryableError(err) {
			result.Status = types.StatusRetry
			result.Retryable = true
			result.ErrorMessage = (&types.NetworkError{Err: err}).Error()
		} else {
			result.ErrorMessage = (&types.ParsingError{Err: err}).Error()
		}
		return result
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		result.ErrorMessage = (&types.ParsingError{Err: err}).Error()
		return result
	}

	title, contentHTML, err := ReadableContent(doc)
	if err != nil {
		result.ErrorMessage = (&types.ParsingError{Err: err}).Error()
		return result
	}
	result.Title = title
	result.ContentHTML = contentHTML

	text := PlainText(contentHTML)
	cleaned, err := e.cleaner.Clean(ctx, text)
	if err != nil {
		e.logger.Warn("text cleaner failed, using raw text", "url", item.URL, "error", err)
		cleaned = text
	}
	result.ContentText = cleaned

	// VALIDATING
	if qerr := e.checkQuality(title, cleaned); qerr != nil {
		result.QualityRejected = true
		result.ErrorMessage = qerr.Error()
		return result
	}

	baseURL := item.URL
	if nav.FinalURL != "" {
		baseURL = nav.FinalURL
	}
	if base, err := url.Parse(baseURL); err == nil {
		result.Links = DiscoverLinks(doc, base, e.cfg.MaxLinksPerPage)
	}

	if e.cfg.Screenshots {
		result.VisualHash = e.visualHash(ctx, sess, item.URL)
	}

	result.ContentType = Classify(title, cleaned, e.cfg.MinContentLength)

	if len(schema) > 0 {
		data, events := healing.Extract(doc, schema, previous)
		result.ExtractedData = data
		result.HealingEvents = events
	}

	result.Status = types.StatusSuccess
	result.ErrorMessage = ""
	return result
}

// checkQuality applies the content quality gate. Failing it is terminal for
// the page, never a retry: the input is deterministic.
func (e *Extractor) checkQuality(title, text string) *types.ContentQualityError {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &types.ContentQualityError{Reason: "empty content"}
	}
	if len(trimmed) < e.cfg.MinContentLength {
		return &types.ContentQualityError{
			Reason: fmt.Sprintf("content length %d below minimum %d", len(trimmed), e.cfg.MinContentLength),
		}
	}
	haystack := strings.ToLower(title + "\n" + text)
	for _, phrase := range e.cfg.ForbiddenPhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(phrase)) {
			return &types.ContentQualityError{Reason: fmt.Sprintf("forbidden phrase %q", phrase)}
		}
	}
	return nil
}

// visualHash captures a screenshot and hashes it. Best effort: transports
// without rendering simply skip it.
func (e *Extractor) visualHash(ctx context.Context, sess browser.Session, url string) string {
	shot, err := sess.Screenshot(ctx)
	if err != nil {
		if !errors.Is(err, browser.ErrScreenshotUnsupported) {
			e.logger.Debug("screenshot failed", "url", url, "error", err)
		}
		return ""
	}
	hash, err := visual.Hash(shot)
	if err != nil {
		e.logger.Debug("visual hash failed", "url", url, "error", err)
		return ""
	}
	return hash
}
