package prequal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"webharvest/internal/config"
)

func headServer(contentType string, contentLength int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			http.Error(w, "head only", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(contentLength))
	}))
}

func checkerWith(caps int64, failOpen bool, client *http.Client) *Checker {
	cfg := config.PrequalConfig{
		Enabled:             true,
		AllowedContentTypes: []string{"text/html"},
		MaxContentLength:    caps,
		FailOpen:            failOpen,
	}
	return New(cfg, "webharvest-bot/1.0", client)
}

func TestCheckRejectsDisallowedContentType(t *testing.T) {
	srv := headServer("application/pdf", 500)
	defer srv.Close()

	c := checkerWith(1000, true, srv.Client())
	ok, reason := c.Check(context.Background(), srv.URL)
	if ok {
		t.Fatal("expected rejection for application/pdf")
	}
	if !strings.Contains(reason, "application/pdf") {
		t.Fatalf("reason should name the content type, got %q", reason)
	}
}

func TestCheckRejectsOversizedBody(t *testing.T) {
	srv := headServer("text/html", 2000)
	defer srv.Close()

	c := checkerWith(1000, true, srv.Client())
	ok, reason := c.Check(context.Background(), srv.URL)
	if ok {
		t.Fatal("expected rejection for oversized body")
	}
	if !strings.Contains(reason, "2000") {
		t.Fatalf("reason should name the length, got %q", reason)
	}
}

func TestCheckAcceptsHTMLUnderCap(t *testing.T) {
	srv := headServer("text/html; charset=utf-8", 500)
	defer srv.Close()

	c := checkerWith(1000, true, srv.Client())
	if ok, reason := c.Check(context.Background(), srv.URL); !ok {
		t.Fatalf("expected acceptance, got rejection: %s", reason)
	}
}

func TestCheckFailOpenPolicy(t *testing.T) {
	// Server is closed immediately so the HEAD request cannot complete.
	srv := headServer("text/html", 100)
	url := srv.URL
	srv.Close()

	open := checkerWith(1000, true, nil)
	if ok, _ := open.Check(context.Background(), url); !ok {
		t.Fatal("fail-open checker should pass unreachable targets")
	}

	closed := checkerWith(1000, false, nil)
	if ok, _ := closed.Check(context.Background(), url); ok {
		t.Fatal("fail-closed checker should reject unreachable targets")
	}
}

func TestCheckDisabledPassesEverything(t *testing.T) {
	cfg := config.PrequalConfig{Enabled: false}
	c := New(cfg, "", nil)
	if ok, _ := c.Check(context.Background(), "https://nowhere.invalid/"); !ok {
		t.Fatal("disabled checker must pass all URLs")
	}
}
