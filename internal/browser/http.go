package browser

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"webharvest/pkg/types"
)

// HTTPFactory creates plain-HTTP sessions. No JavaScript runs and no pixels
// are rendered; Screenshot returns ErrScreenshotUnsupported. Used when
// rendering is disabled and as the fallback when Chrome fails to start.
type HTTPFactory struct {
	transport    *http.Transport
	maxBodyBytes int64
}

// NewHTTPFactory constructs a factory with a shared transport.
func NewHTTPFactory(maxBodyBytes int64) *HTTPFactory {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 5 * 1024 * 1024
	}
	return &HTTPFactory{
		transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		maxBodyBytes: maxBodyBytes,
	}
}

// NewSession creates a session with its own cookie jar carrying the
// fingerprint's user agent.
func (f *HTTPFactory) NewSession(_ context.Context, fp types.Fingerprint) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &httpSession{
		client: &http.Client{
			Transport: f.transport,
			Jar:       jar,
		},
		jar:          jar,
		userAgent:    fp.UserAgent,
		maxBodyBytes: f.maxBodyBytes,
	}, nil
}

type httpSession struct {
	client       *http.Client
	jar          http.CookieJar
	userAgent    string
	maxBodyBytes int64

	pending []types.Cookie
	current *url.URL
	body    []byte
}

func (s *httpSession) Navigate(ctx context.Context, rawURL string, opts NavigateOptions) (*NavigateResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	if len(s.pending) > 0 {
		s.jar.SetCookies(req.URL, toHTTPCookies(s.pending))
		s.pending = nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch: %w", err)
	}

	body, err := s.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	s.current = finalURL
	s.body = body

	return &NavigateResult{
		Status:   resp.StatusCode,
		Headers:  resp.Header.Clone(),
		FinalURL: finalURL.String(),
	}, nil
}

func (s *httpSession) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, s.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > s.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", s.maxBodyBytes)
	}
	return body, nil
}

func (s *httpSession) Content(context.Context) (string, error) {
	if s.current == nil {
		return "", errors.New("no page loaded")
	}
	return string(s.body), nil
}

func (s *httpSession) Screenshot(context.Context) ([]byte, error) {
	return nil, ErrScreenshotUnsupported
}

func (s *httpSession) Cookies(context.Context) ([]types.Cookie, error) {
	if s.current == nil {
		return nil, nil
	}
	var out []types.Cookie
	for _, c := range s.jar.Cookies(s.current) {
		out = append(out, types.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: s.current.Hostname(),
			Path:   "/",
		})
	}
	return out, nil
}

func (s *httpSession) SetCookies(_ context.Context, cookies []types.Cookie) error {
	// Applied to the jar on the next navigation, when the target URL is
	// known.
	s.pending = append(s.pending, cookies...)
	return nil
}

func (s *httpSession) Close() error { return nil }

func toHTTPCookies(cookies []types.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}
