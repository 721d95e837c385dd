package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Acme Pricing</title>
  <meta name="description" content="Plans &amp; fees for every team">
  <meta name="author" content="Jane Doe">
  <meta name="keywords" content="pricing, plans , fees">
  <script>var tracking = true;</script>
</head>
<body>
  <nav><a href="/">Home</a></nav>
  <main>
    <h1>Pricing</h1>
    <p>Plans start at ten dollars per month.</p>
    <p>Enterprise plans include priority support.</p>
    <a href="/pricing#faq">FAQ</a>
    <a href="/contact/">Contact</a>
    <a href="https://other.test/page">Elsewhere</a>
    <a href="mailto:sales@acme.test">Mail</a>
    <img src="/img/plans.png" alt="Plans">
  </main>
</body>
</html>`

func TestExtractPage(t *testing.T) {
	page, err := ExtractPage("https://acme.test/pricing", "https://acme.test/", []byte(samplePage))
	if err != nil {
		t.Fatalf("ExtractPage: %v", err)
	}
	if page.Title != "Acme Pricing" {
		t.Fatalf("expected title, got %q", page.Title)
	}
	if page.Description != "Plans & fees for every team" {
		t.Fatalf("expected decoded description, got %q", page.Description)
	}
	if !strings.Contains(page.Content, "Plans start at ten dollars per month. Enterprise plans include priority support.") {
		t.Fatalf("unexpected content %q", page.Content)
	}
	if strings.Contains(page.Content, "tracking") {
		t.Fatalf("expected scripts to be stripped")
	}
	want := map[string]bool{"https://acme.test/pricing": true, "https://acme.test/contact": true, "https://acme.test/": true}
	if len(page.Links) != len(want) {
		t.Fatalf("expected %d same-domain links, got %v", len(want), page.Links)
	}
	for _, l := range page.Links {
		if !want[l] {
			t.Fatalf("unexpected link %s", l)
		}
	}
	if len(page.Images) != 1 || page.Images[0].Src != "https://acme.test/img/plans.png" {
		t.Fatalf("unexpected images %+v", page.Images)
	}
	if page.Metadata.Language != "en" || page.Metadata.Author != "Jane Doe" || len(page.Metadata.Keywords) != 3 {
		t.Fatalf("unexpected metadata %+v", page.Metadata)
	}
	if len(page.Hash) != 64 {
		t.Fatalf("expected a sha256 hash, got %q", page.Hash)
	}
}

func TestDetectContentType(t *testing.T) {
	cases := []struct {
		path string
		want entity.ContentType
	}{
		{"/", entity.ContentHomepage},
		{"/blog/launch", entity.ContentArticle},
		{"/shop/widget", entity.ContentProduct},
		{"/about-us", entity.ContentAbout},
		{"/contact", entity.ContentContact},
		{"/help/billing", entity.ContentSupport},
		{"/pricing", entity.ContentPage},
	}
	for _, c := range cases {
		if got := DetectContentType(nil, c.path); got != c.want {
			t.Fatalf("%s: expected %s, got %s", c.path, c.want, got)
		}
	}
}

func TestFetcher(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			http.Error(w, "bad agent", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, samplePage)
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(time.Second, nil)
	ctx := context.Background()

	page, err := f.Fetch(ctx, srv.URL+"/ok", srv.URL, "test-agent")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "Acme Pricing" || page.Bytes == 0 {
		t.Fatalf("unexpected page %+v", page)
	}

	if page, err := f.Fetch(ctx, srv.URL+"/moved", srv.URL, "test-agent"); err != nil || page.URL != srv.URL+"/moved" {
		t.Fatalf("expected redirect to be followed, got %v", err)
	}
	if _, err := f.Fetch(ctx, srv.URL+"/missing", srv.URL, "test-agent"); !errors.Is(err, repository.ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
	if _, err := f.Fetch(ctx, srv.URL+"/json", srv.URL, "test-agent"); !errors.Is(err, repository.ErrNotHTML) {
		t.Fatalf("expected ErrNotHTML, got %v", err)
	}

	fast := NewFetcher(50*time.Millisecond, nil)
	if _, err := fast.Fetch(ctx, srv.URL+"/slow", srv.URL, "test-agent"); !errors.Is(err, repository.ErrFetchTimeout) {
		t.Fatalf("expected ErrFetchTimeout, got %v", err)
	}
}

func TestRobotsPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rules, err := NewRobotsPolicy(time.Second).Load(context.Background(), srv.URL+"/docs", "RAG-Bot/1.0")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !rules.Allowed(srv.URL + "/docs/intro") {
		t.Fatalf("expected /docs to be allowed")
	}
	if rules.Allowed(srv.URL + "/private/area") {
		t.Fatalf("expected /private to be disallowed")
	}

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()
	open, err := NewRobotsPolicy(time.Second).Load(context.Background(), missing.URL, "RAG-Bot/1.0")
	if err != nil {
		t.Fatalf("expected a missing robots.txt to be fine, got %v", err)
	}
	if !open.Allowed(missing.URL + "/private") {
		t.Fatalf("expected everything allowed without robots.txt")
	}
}
