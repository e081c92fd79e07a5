// Package policy owns per-domain politeness: rate limits, exponential
// backoff, retry decisions, robots compliance, and quality anomaly signals.
package policy

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"webharvest/internal/config"
	"webharvest/pkg/types"
)

var retryableStatuses = map[int]struct{}{
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// Anomaly is raised when a domain's low-quality ratio crosses the configured
// threshold.
type Anomaly struct {
	Domain       string
	Ratio        float64
	TotalScraped int64
	LowQuality   int64
}

// Engine holds rolling metrics for every domain touched during the session.
// Safe for concurrent workers.
type Engine struct {
	cfg    config.PolicyConfig
	logger *slog.Logger

	mu       sync.Mutex
	metrics  map[string]*types.DomainMetrics
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
	rnd      *rand.Rand
}

// New builds a policy engine from configuration.
func New(cfg config.PolicyConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		metrics:  make(map[string]*types.DomainMetrics),
		last:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) domainLocked(domain string) *types.DomainMetrics {
	m, ok := e.metrics[domain]
	if !ok {
		delay := e.cfg.BaseDelay.Duration
		if override, ok := e.cfg.DelayOverrides[domain]; ok {
			delay = override.Duration
		}
		m = &types.DomainMetrics{
			Domain:        domain,
			Delay:         delay,
			BackoffFactor: 1.0,
			MaxRetries:    e.cfg.MaxRetries,
		}
		e.metrics[domain] = m
	}
	return m
}

// ShouldWait returns how long the caller must suspend before issuing the
// next request to the domain. Zero means the domain is ready.
func (e *Engine) ShouldWait(domain string) time.Duration {
	domain = strings.ToLower(domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.domainLocked(domain)
	effective := time.Duration(float64(m.Delay) * m.BackoffFactor)
	last, ok := e.last[domain]
	if !ok {
		return 0
	}
	rest := effective - time.Since(last)
	if rest < 0 {
		return 0
	}
	return rest
}

// Wait suspends until politeness constraints for the domain are satisfied
// and stamps the request time. Workers targeting different domains proceed
// independently; the lock is never held while sleeping.
func (e *Engine) Wait(ctx context.Context, domain string) error {
	domain = strings.ToLower(domain)
	sleep := e.ShouldWait(domain)

	var limiter *rate.Limiter
	if e.cfg.RateLimit.Enabled() {
		e.mu.Lock()
		limiter = e.limiterLocked(domain)
		e.mu.Unlock()
	}

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.last[domain] = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *Engine) limiterLocked(domain string) *rate.Limiter {
	limiter, ok := e.limiters[domain]
	if ok {
		return limiter
	}
	interval := e.cfg.RateLimit.Window.Duration / time.Duration(e.cfg.RateLimit.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter = rate.NewLimiter(rate.Every(interval), e.cfg.RateLimit.Requests)
	e.limiters[domain] = limiter
	return limiter
}

// RecordOutcome folds one completed attempt into the domain's metrics and
// adjusts the backoff factor: growth on retryable failure, decay toward 1.0
// on success.
func (e *Engine) RecordOutcome(domain string, res *types.ScrapeResult) {
	if res == nil {
		return
	}
	domain = strings.ToLower(domain)

	e.mu.Lock()
	m := e.domainLocked(domain)
	m.TotalScraped++
	switch {
	case res.Status == types.StatusSuccess:
		m.Success++
		m.BackoffFactor = 1.0 + (m.BackoffFactor-1.0)*e.cfg.BackoffDecay
		if m.BackoffFactor < 1.0 {
			m.BackoffFactor = 1.0
		}
	case res.QualityRejected:
		m.LowQuality++
		m.Failed++
		// Pages with no text at all are tracked separately from pages that
		// merely failed the quality bar.
		if strings.TrimSpace(res.ContentText) == "" {
			m.Empty++
		}
	default:
		m.Failed++
		if res.Retryable {
			m.BackoffFactor = math.Min(e.cfg.BackoffCap, m.BackoffFactor*e.cfg.BackoffGrowth)
		}
	}
	e.mu.Unlock()

	if anomaly, ok := e.CheckAnomaly(domain); ok {
		e.mu.Lock()
		m.BackoffFactor = math.Min(e.cfg.BackoffCap, m.BackoffFactor*e.cfg.BackoffGrowth)
		e.mu.Unlock()
		e.logger.Warn("domain anomaly: low-quality ratio above threshold",
			"domain", anomaly.Domain,
			"ratio", anomaly.Ratio,
			"total", anomaly.TotalScraped,
			"low_quality", anomaly.LowQuality,
		)
	}
}

// CheckAnomaly reports whether the domain's low-quality ratio meets the
// anomaly threshold, once enough samples exist.
func (e *Engine) CheckAnomaly(domain string) (Anomaly, bool) {
	domain = strings.ToLower(domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.metrics[domain]
	if !ok || m.TotalScraped < int64(e.cfg.AnomalyMinSamples) || m.TotalScraped == 0 {
		return Anomaly{}, false
	}
	ratio := float64(m.LowQuality) / float64(m.TotalScraped)
	if ratio < e.cfg.AnomalyThreshold {
		return Anomaly{}, false
	}
	return Anomaly{
		Domain:       domain,
		Ratio:        ratio,
		TotalScraped: m.TotalScraped,
		LowQuality:   m.LowQuality,
	}, true
}

// MaxRetries returns the retry cap applied to RETRY outcomes.
func (e *Engine) MaxRetries() int { return e.cfg.MaxRetries }

// RetryDelay computes the sleep before re-enqueueing a retry:
// min(cap, base × 2^attempt) scaled by a jitter factor in [0.75, 1.25).
func (e *Engine) RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := e.cfg.RetryBase.Duration
	capd := e.cfg.RetryCap.Duration
	delay := float64(base) * math.Pow(2, float64(attempt))
	if capd > 0 && delay > float64(capd) {
		delay = float64(capd)
	}

	e.mu.Lock()
	jitter := 0.75 + e.rnd.Float64()*0.5
	e.mu.Unlock()

	return time.Duration(delay * jitter)
}

// Snapshot copies current metrics for all domains, for the end-of-run
// summary.
func (e *Engine) Snapshot() []types.DomainMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.DomainMetrics, 0, len(e.metrics))
	for _, m := range e.metrics {
		out = append(out, *m)
	}
	return out
}

// RetryableStatus reports whether an HTTP status code warrants a retry.
func RetryableStatus(code int) bool {
	_, ok := retryableStatuses[code]
	return ok
}

// RetryableError reports whether a transport failure warrants a retry:
// timeouts and connection-level errors are transient, everything else is
// terminal.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
