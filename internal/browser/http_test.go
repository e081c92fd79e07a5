package browser

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"webharvest/pkg/types"
)

func newHTTPSession(t *testing.T) Session {
	t.Helper()
	factory := NewHTTPFactory(1 << 20)
	sess, err := factory.NewSession(context.Background(), types.Fingerprint{UserAgent: "test-agent"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestHTTPSessionNavigateAndContent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	sess := newHTTPSession(t)
	res, err := sess.Navigate(context.Background(), srv.URL, NavigateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("status = %d", res.Status)
	}
	if gotUA != "test-agent" {
		t.Errorf("user agent = %q", gotUA)
	}
	body, err := sess.Content(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if body != "<html><body>hello</body></html>" {
		t.Errorf("content = %q", body)
	}
}

func TestHTTPSessionGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, _ = gz.Write([]byte("<html>compressed</html>"))
		_ = gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	sess := newHTTPSession(t)
	if _, err := sess.Navigate(context.Background(), srv.URL, NavigateOptions{}); err != nil {
		t.Fatal(err)
	}
	body, err := sess.Content(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if body != "<html>compressed</html>" {
		t.Errorf("content = %q", body)
	}
}

func TestHTTPSessionCookieRoundTrip(t *testing.T) {
	var sawCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err == nil {
			sawCookie = c.Value
		}
		http.SetCookie(w, &http.Cookie{Name: "issued", Value: "server", Path: "/"})
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sess := newHTTPSession(t)
	if err := sess.SetCookies(context.Background(), []types.Cookie{{Name: "sid", Value: "restored", Path: "/"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.Navigate(context.Background(), srv.URL, NavigateOptions{}); err != nil {
		t.Fatal(err)
	}
	if sawCookie != "restored" {
		t.Errorf("server saw cookie %q, want restored", sawCookie)
	}

	cookies, err := sess.Cookies(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range cookies {
		if c.Name == "issued" && c.Value == "server" {
			found = true
		}
	}
	if !found {
		t.Errorf("server-issued cookie not captured: %+v", cookies)
	}
}

func TestHTTPSessionScreenshotUnsupported(t *testing.T) {
	sess := newHTTPSession(t)
	if _, err := sess.Screenshot(context.Background()); !errors.Is(err, ErrScreenshotUnsupported) {
		t.Fatalf("err = %v, want ErrScreenshotUnsupported", err)
	}
}

func TestHTTPSessionBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer srv.Close()

	factory := NewHTTPFactory(1024)
	sess, err := factory.NewSession(context.Background(), types.Fingerprint{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if _, err := sess.Navigate(context.Background(), srv.URL, NavigateOptions{}); err == nil {
		t.Fatal("oversized body accepted")
	}
}
