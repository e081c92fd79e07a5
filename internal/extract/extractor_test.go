package extract

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"webharvest/internal/browser"
	"webharvest/internal/config"
	"webharvest/pkg/types"
)

type fakeSession struct {
	navResult  *browser.NavigateResult
	navErr     error
	html       string
	contentErr error
	screenshot []byte
	shotErr    error
}

func (f *fakeSession) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) (*browser.NavigateResult, error) {
	if f.navErr != nil {
		return nil, f.navErr
	}
	if f.navResult != nil {
		return f.navResult, nil
	}
	return &browser.NavigateResult{Status: http.StatusOK, Headers: http.Header{}}, nil
}

func (f *fakeSession) Content(ctx context.Context) (string, error) {
	if f.contentErr != nil {
		return "", f.contentErr
	}
	return f.html, nil
}

func (f *fakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return f.screenshot, nil
}

func (f *fakeSession) Cookies(ctx context.Context) ([]types.Cookie, error) { return nil, nil }
func (f *fakeSession) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	return nil
}
func (f *fakeSession) Close() error { return nil }

func testConfig() config.ExtractConfig {
	return config.ExtractConfig{
		NavigationTimeout: config.DurationFrom(5 * time.Second),
		IdleTimeout:       config.DurationFrom(time.Second),
		MinContentLength:  50,
		ForbiddenPhrases:  []string{"page not found", "captcha"},
		MaxLinksPerPage:   100,
		Screenshots:       false,
	}
}

const articleHTML = `<html><head><title>Testing Strategies for Crawlers</title></head>
<body>
<nav><a href="/home">Home</a></nav>
<article>
<h1>Testing Strategies for Crawlers</h1>
<p>Crawlers that fetch real pages need deterministic fixtures so their behaviour
can be checked without a network. This article was published to explain how we
report on fixture design for navigation, extraction, and validation stages in a
long form suitable for automated length checks.</p>
<p>More prose follows so the density scorer has a clear winner over the nav links,
according to the author of this report.</p>
<a href="/deeper/page">Deeper</a>
<a href="/deeper/page#section">Same with fragment</a>
<a href="javascript:void(0)">Noop</a>
<a href="/hidden" style="display:none">Hidden</a>
</article>
<footer><a href="/about">About</a></footer>
</body></html>`

func TestPageSuccess(t *testing.T) {
	sess := &fakeSession{html: articleHTML}
	ex := New(testConfig(), nil, nil)

	res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "http://example.com/a", Depth: 1}, nil, nil)

	if res.Status != types.StatusSuccess {
		t.Fatalf("status = %s (%s), want SUCCESS", res.Status, res.ErrorMessage)
	}
	if res.Title != "Testing Strategies for Crawlers" {
		t.Errorf("title = %q", res.Title)
	}
	if !strings.Contains(res.ContentText, "deterministic fixtures") {
		t.Errorf("content text missing article body: %q", res.ContentText)
	}
	if res.HTTPStatus != http.StatusOK {
		t.Errorf("http status = %d", res.HTTPStatus)
	}
	if res.Depth != 1 {
		t.Errorf("depth = %d, want 1", res.Depth)
	}
	if res.Duration <= 0 {
		t.Errorf("duration not recorded")
	}
}

func TestPageLinkDiscovery(t *testing.T) {
	sess := &fakeSession{html: articleHTML}
	ex := New(testConfig(), nil, nil)

	res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "http://example.com/a"}, nil, nil)

	want := map[string]bool{
		"http://example.com/home":        true,
		"http://example.com/deeper/page": true,
		"http://example.com/about":       true,
	}
	if len(res.Links) != len(want) {
		t.Fatalf("links = %v, want %d unique visible links", res.Links, len(want))
	}
	for _, l := range res.Links {
		if !want[l] {
			t.Errorf("unexpected link %q", l)
		}
	}
}

func TestPageRetryableStatus(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 504} {
		sess := &fakeSession{navResult: &browser.NavigateResult{Status: status, Headers: http.Header{}}}
		ex := New(testConfig(), nil, nil)

		res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "http://example.com/a"}, nil, nil)

		if res.Status != types.StatusRetry {
			t.Errorf("status %d: result = %s, want RETRY", status, res.Status)
		}
		if !res.Retryable {
			t.Errorf("status %d: retryable flag not set", status)
		}
	}
}

func TestPageNonRetryableStatus(t *testing.T) {
	sess := &fakeSession{navResult: &browser.NavigateResult{Status: http.StatusNotFound, Headers: http.Header{}}}
	ex := New(testConfig(), nil, nil)

	res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "http://example.com/a"}, nil, nil)

	if res.Status != types.StatusFailed {
		t.Fatalf("status = %s, want FAILED for 404", res.Status)
	}
	if res.Retryable {
		t.Errorf("404 marked retryable")
	}
}

func TestPageNavigateConnectionRefused(t *testing.T) {
	sess := &fakeSession{navErr: &url.Error{Op: "Get", URL: "http://example.com", Err: syscall.ECONNREFUSED}}
	ex := New(testConfig(), nil, nil)

	res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "http://example.com/a"}, nil, nil)

	if res.Status != types.StatusRetry {
		t.Fatalf("status = %s, want RETRY on connection refused", res.Status)
	}
}

func TestPageNavigateHardError(t *testing.T) {
	sess := &fakeSession{navErr: errors.New("unsupported scheme")}
	ex := New(testConfig(), nil, nil)

	res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "ftp://example.com/a"}, nil, nil)

	if res.Status != types.StatusFailed {
		t.Fatalf("status = %s, want FAILED on non-retryable error", res.Status)
	}
}

func TestPageQualityTooShort(t *testing.T) {
	sess := &fakeSession{html: "<html><head><title>t</title></head><body><article><p>tiny</p></article></body></html>"}
	ex := New(testConfig(), nil, nil)

	res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "http://example.com/a"}, nil, nil)

	if res.Status != types.StatusFailed {
		t.Fatalf("status = %s, want FAILED for short content", res.Status)
	}
	if !res.QualityRejected {
		t.Errorf("quality rejection flag not set")
	}
	if res.Retryable {
		t.Errorf("quality failure marked retryable")
	}
}

func TestPageQualityForbiddenPhrase(t *testing.T) {
	page := strings.Replace(articleHTML, "Crawlers that fetch", "CAPTCHA required. Crawlers that fetch", 1)
	sess := &fakeSession{html: page}
	ex := New(testConfig(), nil, nil)

	res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "http://example.com/a"}, nil, nil)

	if res.Status != types.StatusFailed || !res.QualityRejected {
		t.Fatalf("status = %s rejected = %v, want quality failure on forbidden phrase", res.Status, res.QualityRejected)
	}
}

func TestPageScreenshotUnsupportedSkipsHash(t *testing.T) {
	cfg := testConfig()
	cfg.Screenshots = true
	sess := &fakeSession{html: articleHTML, shotErr: browser.ErrScreenshotUnsupported}
	ex := New(cfg, nil, nil)

	res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "http://example.com/a"}, nil, nil)

	if res.Status != types.StatusSuccess {
		t.Fatalf("status = %s, screenshot failure must not fail the page", res.Status)
	}
	if res.VisualHash != "" {
		t.Errorf("visual hash = %q, want empty", res.VisualHash)
	}
}

func TestPageSchemaExtraction(t *testing.T) {
	page := strings.Replace(articleHTML, "<h1>", `<span id="price-tag">19.99</span><h1>`, 1)
	sess := &fakeSession{html: page}
	ex := New(testConfig(), nil, nil)

	res := ex.Page(context.Background(), sess, types.FrontierItem{URL: "http://example.com/a"}, map[string]string{"price": "#price-tag"}, nil)

	if res.Status != types.StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.ErrorMessage)
	}
	got, ok := res.Field("price")
	if !ok || got != "19.99" {
		t.Fatalf("price = %q ok=%v, want 19.99", got, ok)
	}
}

func TestClassifyOrdering(t *testing.T) {
	long := strings.Repeat("general prose without keywords. ", 20)
	cases := []struct {
		name  string
		title string
		text  string
		want  types.ContentType
	}{
		{"product beats blog", "Widget", "price $10 add to cart. posted by admin", types.ContentProduct},
		{"blog", "My post", "posted by someone on a blog", types.ContentBlogPost},
		{"article", "Daily news", "the reporter published this report", types.ContentArticle},
		{"general by length", "Plain", long, types.ContentGeneral},
		{"unknown when short", "Plain", "short", types.ContentUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.title, tc.text, 150); got != tc.want {
			t.Errorf("%s: Classify = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestPlainTextStripsScriptsAndImages(t *testing.T) {
	frag := `<div><script>var x=1;</script><p>kept text</p><img src="a.png"><style>.a{}</style><a href="/x">anchor text</a></div>`
	got := PlainText(frag)
	if strings.Contains(got, "var x") || strings.Contains(got, ".a{}") {
		t.Errorf("script or style leaked into text: %q", got)
	}
	if !strings.Contains(got, "kept text") || !strings.Contains(got, "anchor text") {
		t.Errorf("visible text missing: %q", got)
	}
}

func TestReadableContentPicksDenseCandidate(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(articleHTML))
	if err != nil {
		t.Fatal(err)
	}
	title, contentHTML, err := ReadableContent(doc)
	if err != nil {
		t.Fatal(err)
	}
	if title != "Testing Strategies for Crawlers" {
		t.Errorf("title = %q", title)
	}
	if !strings.Contains(contentHTML, "deterministic fixtures") {
		t.Errorf("content missing article text")
	}
	if strings.Contains(contentHTML, "<nav>") {
		t.Errorf("boilerplate nav kept in content")
	}
}

func TestPageIdempotentOnSamePage(t *testing.T) {
	sess := &fakeSession{html: articleHTML}
	ex := New(testConfig(), nil, nil)
	item := types.FrontierItem{URL: "http://example.com/a"}

	first := ex.Page(context.Background(), sess, item, map[string]string{"title": "h1"}, nil)
	second := ex.Page(context.Background(), sess, item, map[string]string{"title": "h1"}, first)

	if first.Status != types.StatusSuccess || second.Status != types.StatusSuccess {
		t.Fatalf("statuses = %s, %s", first.Status, second.Status)
	}
	if len(second.HealingEvents) != 0 {
		t.Errorf("healing triggered on unchanged page: %+v", second.HealingEvents)
	}
	if a, _ := first.Field("title"); a == "" {
		t.Errorf("title not extracted")
	}
}
