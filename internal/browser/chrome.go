package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"webharvest/internal/config"
	"webharvest/pkg/types"
)

// ChromeFactory creates headless Chrome sessions with bounded concurrency.
type ChromeFactory struct {
	cfg       config.RenderingConfig
	semaphore chan struct{}
	logger    *slog.Logger
}

// NewChromeFactory constructs a factory from rendering configuration.
func NewChromeFactory(cfg config.RenderingConfig, logger *slog.Logger) *ChromeFactory {
	if cfg.ConcurrentSessions <= 0 {
		cfg.ConcurrentSessions = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeFactory{
		cfg:       cfg,
		semaphore: make(chan struct{}, cfg.ConcurrentSessions),
		logger:    logger,
	}
}

// NewSession starts a Chrome browsing context carrying the fingerprint's
// user agent, viewport, and navigator overrides. Blocks while the session
// concurrency cap is reached.
func (f *ChromeFactory) NewSession(ctx context.Context, fp types.Fingerprint) (Session, error) {
	select {
	case f.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	headless := !f.cfg.DisableHeadless
	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	}
	if fp.UserAgent != "" {
		execOpts = append(execOpts, chromedp.UserAgent(fp.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)

	sess := &chromeSession{
		factory: f,
		ctx:     chromeCtx,
		cancel: func() {
			chromeCancel()
			allocCancel()
		},
		logger: f.logger.With("transport", "chromedp"),
	}

	if err := chromedp.Run(chromeCtx, applyFingerprint(fp)...); err != nil {
		sess.Close()
		return nil, fmt.Errorf("apply fingerprint: %w", err)
	}
	return sess, nil
}

func applyFingerprint(fp types.Fingerprint) []chromedp.Action {
	var actions []chromedp.Action
	if fp.Viewport.Width > 0 && fp.Viewport.Height > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(
			int64(fp.Viewport.Width), int64(fp.Viewport.Height), 1.0, false,
		))
	}
	if script := overrideScript(fp.JSOverrides); script != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}))
	}
	return actions
}

// overrideScript builds the navigator property spoofing injected before any
// page script runs.
func overrideScript(overrides map[string]any) string {
	if len(overrides) == 0 {
		return ""
	}
	script := ""
	for prop, value := range overrides {
		encoded, err := json.Marshal(value)
		if err != nil {
			continue
		}
		switch prop {
		case "plugins.length":
			script += fmt.Sprintf(
				"Object.defineProperty(navigator, 'plugins', {get: () => ({length: %s})});\n", encoded)
		default:
			script += fmt.Sprintf(
				"Object.defineProperty(navigator, %q, {get: () => %s});\n", prop, encoded)
		}
	}
	return script
}

type chromeSession struct {
	factory *ChromeFactory
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	closed  bool
}

// Navigate loads the URL, waits for the structural load, then best-effort
// waits for the document to settle within the idle timeout.
func (s *chromeSession) Navigate(parent context.Context, url string, opts NavigateOptions) (*NavigateResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := mergeDeadline(s.ctx, parent, timeout)
	defer cancel()

	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, fmt.Errorf("chromedp navigate: %w", err)
	}

	if opts.IdleTimeout > 0 {
		idleCtx, idleCancel := mergeDeadline(s.ctx, parent, opts.IdleTimeout)
		if err := chromedp.Run(idleCtx, waitDocumentComplete()); err != nil {
			// Idle settling is best effort; a slow page is still usable.
			s.logger.Debug("idle wait did not complete", "url", url, "error", err)
		}
		idleCancel()
	}

	result := &NavigateResult{FinalURL: url}
	if resp != nil {
		result.Status = int(resp.Status)
		result.Headers = headersFrom(resp.Headers)
		if resp.URL != "" {
			result.FinalURL = resp.URL
		}
	}
	return result, nil
}

func (s *chromeSession) Content(parent context.Context) (string, error) {
	ctx, cancel := mergeDeadline(s.ctx, parent, 15*time.Second)
	defer cancel()
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp outer html: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Screenshot(parent context.Context) ([]byte, error) {
	ctx, cancel := mergeDeadline(s.ctx, parent, 15*time.Second)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 80)); err != nil {
		return nil, fmt.Errorf("chromedp screenshot: %w", err)
	}
	return buf, nil
}

func (s *chromeSession) Cookies(parent context.Context) ([]types.Cookie, error) {
	ctx, cancel := mergeDeadline(s.ctx, parent, 10*time.Second)
	defer cancel()
	var out []types.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			cookie := types.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			}
			if c.Expires > 0 {
				cookie.Expires = time.Unix(int64(c.Expires), 0)
			}
			out = append(out, cookie)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("chromedp get cookies: %w", err)
	}
	return out, nil
}

func (s *chromeSession) SetCookies(parent context.Context, cookies []types.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	ctx, cancel := mergeDeadline(s.ctx, parent, 10*time.Second)
	defer cancel()
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if !c.Expires.IsZero() {
				expires := cdp.TimeSinceEpoch(c.Expires)
				param = param.WithExpires(&expires)
			}
			if err := param.Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("chromedp set cookies: %w", err)
	}
	return nil
}

func (s *chromeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	<-s.factory.semaphore
	return nil
}

// waitDocumentComplete polls document.readyState until the page settles.
func waitDocumentComplete() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

// mergeDeadline derives a timeout context from the session's Chrome context
// that is also cancelled when the caller's context ends.
func mergeDeadline(sessCtx, caller context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(sessCtx, timeout)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func headersFrom(raw network.Headers) map[string][]string {
	headers := make(map[string][]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			headers[k] = []string{s}
		}
	}
	return headers
}
