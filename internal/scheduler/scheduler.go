// Package scheduler wires the frontier, domain policy, prequalifier,
// browser sessions, extraction, and persistence into a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"webharvest/internal/browser"
	"webharvest/internal/config"
	"webharvest/internal/extract"
	"webharvest/internal/frontier"
	"webharvest/internal/identity"
	"webharvest/internal/policy"
	"webharvest/internal/prequal"
	"webharvest/internal/storage"
	"webharvest/internal/textclean"
	"webharvest/pkg/types"
)

// Scheduler orchestrates one crawl run end to end.
type Scheduler struct {
	cfg    config.Config
	logger *slog.Logger

	frontier  *frontier.Queue
	policy    *policy.Engine
	robots    *policy.RobotsAgent
	prequal   *prequal.Checker
	identity  *identity.Provider
	factory   browser.Factory
	extractor *extract.Extractor
	store     storage.Store
	dedup     *storage.Deduplicator

	allowed  map[string]struct{}
	excluded map[string]struct{}

	includePatterns []*regexp.Regexp
	excludePatterns []*regexp.Regexp

	maxPages int64
	enqueued atomic.Int64
	pending  atomic.Int64

	succeeded  atomic.Int64
	failed     atomic.Int64
	retried    atomic.Int64
	duplicates atomic.Int64
	skipped    atomic.Int64
}

// New builds a scheduler from configuration and externally constructed
// transport and persistence. A nil store falls back to in-memory storage.
func New(cfg config.Config, factory browser.Factory, store storage.Store, logger *slog.Logger) (*Scheduler, error) {
	if factory == nil {
		return nil, errors.New("scheduler requires a browser factory")
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}

	include, err := compilePatterns(cfg.Crawl.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	exclude, err := compilePatterns(cfg.Crawl.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}

	allowed := hostSet(cfg.Crawl.AllowedDomains)
	if len(allowed) == 0 {
		// Unscoped crawls stay on the seed domains.
		for _, seed := range cfg.Crawl.Seeds {
			if u, err := url.Parse(seed); err == nil && u.Hostname() != "" {
				allowed[strings.ToLower(u.Hostname())] = struct{}{}
			}
		}
	}

	maxPages := int64(cfg.Crawl.MaxPages)
	if maxPages <= 0 {
		maxPages = math.MaxInt64
	}

	httpClient := &http.Client{Timeout: cfg.Prequal.Timeout.Duration}

	return &Scheduler{
		cfg:             cfg,
		logger:          logger,
		frontier:        frontier.New(cfg.Crawl.TrapRepeatThreshold),
		policy:          policy.New(cfg.Policy, logger),
		robots:          policy.NewRobotsAgent(cfg.Robots, nil),
		prequal:         prequal.New(cfg.Prequal, cfg.Robots.UserAgent, httpClient),
		identity:        identity.New(cfg.Identity),
		factory:         factory,
		extractor:       extract.New(cfg.Extract, textclean.Normalizer{}, logger),
		store:           store,
		dedup:           storage.NewDeduplicator(cfg.Dedup),
		allowed:         allowed,
		excluded:        hostSet(cfg.Crawl.ExcludedDomains),
		includePatterns: include,
		excludePatterns: exclude,
		maxPages:        maxPages,
	}, nil
}

// Run seeds the frontier and drives workers until the frontier drains or the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	start := time.Now()
	seeded := 0
	for _, seed := range s.cfg.Crawl.Seeds {
		normalized, err := normalizeSeed(seed)
		if err != nil {
			return fmt.Errorf("seed %q: %w", seed, err)
		}
		if s.admit(normalized, 0) && s.frontier.Push(normalized, 0) {
			s.enqueued.Add(1)
			s.pending.Add(1)
			seeded++
		}
	}
	if seeded == 0 {
		return errors.New("no crawlable seeds")
	}
	workers := s.cfg.Worker.Concurrency
	if workers < 1 {
		workers = 1
	}
	// Workers beyond the rendering session cap would only block on the
	// session semaphore; each worker needs a session for its whole life.
	if s.cfg.Rendering.Enabled && s.cfg.Rendering.ConcurrentSessions > 0 && workers > s.cfg.Rendering.ConcurrentSessions {
		s.logger.Info("worker count clamped to rendering session cap",
			"workers", workers,
			"sessions", s.cfg.Rendering.ConcurrentSessions,
		)
		workers = s.cfg.Rendering.ConcurrentSessions
	}
	s.logger.Info("crawl starting",
		"seeds", seeded,
		"workers", workers,
		"max_pages", s.cfg.Crawl.MaxPages,
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return s.worker(gctx)
		})
	}
	err := g.Wait()
	s.logSummary(time.Since(start))
	if errors.Is(err, frontier.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// worker owns one browser session for its lifetime. The fingerprint assigned
// at session start stays consistent across every page the session visits.
func (s *Scheduler) worker(ctx context.Context) error {
	fp := s.identity.Next()
	sess, err := s.factory.NewSession(ctx, fp)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()
	sessionID := uuid.NewString()

	for {
		item, err := s.frontier.Pop(ctx)
		if err != nil {
			return err
		}
		s.process(ctx, sess, sessionID, item)
		if s.pending.Add(-1) == 0 {
			s.frontier.Close()
		}
	}
}

func (s *Scheduler) process(ctx context.Context, sess browser.Session, sessionID string, item types.FrontierItem) {
	if ctx.Err() != nil {
		return
	}
	u, err := url.Parse(item.URL)
	if err != nil {
		s.skipped.Add(1)
		return
	}
	domain := strings.ToLower(u.Hostname())

	if !s.robots.Allowed(ctx, u) {
		s.logger.Debug("blocked by robots", "url", item.URL)
		s.skipped.Add(1)
		return
	}

	// The politeness wait covers every request to the domain, the
	// prequalification HEAD included.
	if err := s.policy.Wait(ctx, domain); err != nil {
		return
	}

	if ok, reason := s.prequal.Check(ctx, item.URL); !ok {
		s.logger.Debug("prequalification rejected", "url", item.URL, "reason", reason)
		s.skipped.Add(1)
		return
	}

	// Once dispatched, the page runs to completion or its own timeouts.
	// A stop signal only prevents new pops and retries.
	pageCtx := context.WithoutCancel(ctx)

	cookies, err := s.store.LoadCookies(pageCtx, domain)
	if err != nil {
		s.logger.Warn("cookie load failed", "domain", domain, "error", err)
	} else if len(cookies) > 0 {
		if err := sess.SetCookies(pageCtx, cookies); err != nil {
			s.logger.Warn("cookie restore failed", "domain", domain, "error", err)
		}
	}

	previous, err := s.store.PreviousResult(pageCtx, item.URL)
	if err != nil {
		s.logger.Warn("previous result lookup failed", "url", item.URL, "error", err)
	}

	result := s.extractor.Page(pageCtx, sess, item, s.schemaFor(domain), previous)
	result.SessionID = sessionID

	s.policy.RecordOutcome(domain, result)
	s.saveCookiesIfChanged(pageCtx, sess, domain, cookies)

	for _, event := range result.HealingEvents {
		s.logger.Info("selector healed",
			"url", item.URL,
			"field", event.Field,
			"old", event.OldSelector,
			"new", event.NewSelector,
		)
	}

	switch result.Status {
	case types.StatusRetry:
		if item.Attempt < s.policy.MaxRetries() {
			s.scheduleRetry(ctx, item, result)
			return
		}
		// Attempts exhausted; the failure becomes terminal.
		result.Status = types.StatusFailed
		fallthrough
	case types.StatusFailed:
		s.failed.Add(1)
		s.logger.Warn("page failed",
			"url", item.URL,
			"attempt", item.Attempt,
			"error", result.ErrorMessage,
		)
		s.persist(pageCtx, result)
	case types.StatusSuccess:
		s.succeeded.Add(1)
		s.dedup.Check(result)
		if result.Duplicate {
			s.duplicates.Add(1)
		}
		s.persist(pageCtx, result)
		s.fanOut(result)
	}
}

// scheduleRetry re-inserts the item after the policy-computed delay. The
// pending count is held for the retry so the frontier cannot drain early.
func (s *Scheduler) scheduleRetry(ctx context.Context, item types.FrontierItem, result *types.ScrapeResult) {
	delay := s.policy.RetryDelay(item.Attempt)
	s.retried.Add(1)
	s.pending.Add(1)
	s.logger.Info("retry scheduled",
		"url", item.URL,
		"attempt", item.Attempt+1,
		"delay", delay,
		"error", result.ErrorMessage,
	)
	go func() {
		requeued := false
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			item.Attempt++
			requeued = s.frontier.Requeue(item)
		}
		if !requeued {
			if s.pending.Add(-1) == 0 {
				s.frontier.Close()
			}
		}
	}()
}

func (s *Scheduler) persist(ctx context.Context, result *types.ScrapeResult) {
	if !s.dedup.ShouldStore(result) {
		return
	}
	if err := s.store.SaveResult(ctx, result); err != nil {
		s.logger.Error("persist failed", "url", result.URL, "error", err)
	}
}

// fanOut admits discovered links into the frontier.
func (s *Scheduler) fanOut(result *types.ScrapeResult) {
	depth := result.Depth + 1
	if s.cfg.Crawl.MaxDepth > 0 && depth > s.cfg.Crawl.MaxDepth {
		return
	}
	for _, link := range result.Links {
		if !s.admit(link, depth) {
			continue
		}
		if s.enqueued.Load() >= s.maxPages {
			return
		}
		if s.frontier.Push(link, depth) {
			if s.enqueued.Add(1) > s.maxPages {
				// Lost the race on the page cap; the item stays queued but
				// later pushes stop.
				return
			}
			s.pending.Add(1)
		}
	}
}

// admit applies domain scope and URL pattern filters.
func (s *Scheduler) admit(rawURL string, depth int) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[host]; !ok {
			return false
		}
	}
	if _, denied := s.excluded[host]; denied {
		return false
	}
	if len(s.includePatterns) > 0 {
		matched := false
		for _, pat := range s.includePatterns {
			if pat.MatchString(rawURL) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pat := range s.excludePatterns {
		if pat.MatchString(rawURL) {
			return false
		}
	}
	return true
}

// schemaFor returns the structured-extraction selectors for a host, if any.
// An exact host entry wins over its www-stripped form.
func (s *Scheduler) schemaFor(host string) map[string]string {
	if schema, ok := s.cfg.Schemas[host]; ok {
		return schema
	}
	if trimmed := strings.TrimPrefix(host, "www."); trimmed != host {
		if schema, ok := s.cfg.Schemas[trimmed]; ok {
			return schema
		}
	}
	return nil
}

func (s *Scheduler) saveCookiesIfChanged(ctx context.Context, sess browser.Session, domain string, before []types.Cookie) {
	after, err := sess.Cookies(ctx)
	if err != nil {
		s.logger.Debug("cookie read failed", "domain", domain, "error", err)
		return
	}
	if cookiesEqual(before, after) {
		return
	}
	if err := s.store.SaveCookies(ctx, domain, after); err != nil {
		s.logger.Warn("cookie save failed", "domain", domain, "error", err)
	}
}

func cookiesEqual(a, b []types.Cookie) bool {
	if len(a) != len(b) {
		return false
	}
	index := make(map[string]string, len(a))
	for _, c := range a {
		index[c.Domain+"\x00"+c.Path+"\x00"+c.Name] = c.Value
	}
	for _, c := range b {
		v, ok := index[c.Domain+"\x00"+c.Path+"\x00"+c.Name]
		if !ok || v != c.Value {
			return false
		}
	}
	return true
}

func (s *Scheduler) logSummary(elapsed time.Duration) {
	s.logger.Info("crawl finished",
		"elapsed", elapsed.Round(time.Millisecond),
		"succeeded", s.succeeded.Load(),
		"failed", s.failed.Load(),
		"retries", s.retried.Load(),
		"duplicates", s.duplicates.Load(),
		"skipped", s.skipped.Load(),
	)
	for _, m := range s.policy.Snapshot() {
		s.logger.Info("domain summary",
			"domain", m.Domain,
			"scraped", m.TotalScraped,
			"success", m.Success,
			"failed", m.Failed,
			"low_quality", m.LowQuality,
			"backoff_factor", m.BackoffFactor,
		)
	}
}

func normalizeSeed(seed string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(seed))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
		parsed, err = url.Parse(parsed.String())
		if err != nil {
			return "", err
		}
	}
	if parsed.Host == "" {
		return "", errors.New("missing host")
	}
	return parsed.String(), nil
}

func hostSet(hosts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			out[h] = struct{}{}
		}
	}
	return out
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		pat, err := regexp.Compile(raw)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, pat)
	}
	return compiled, nil
}

// BuildLogger constructs the process logger from configuration.
func BuildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
