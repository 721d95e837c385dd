package utils

import (
	"net/url"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.com", "https://example.com/"},
		{"https://example.com/", "https://example.com/"},
		{"https://example.com/docs/", "https://example.com/docs"},
		{"https://example.com/docs#install", "https://example.com/docs"},
		{"https://example.com/a/b///", "https://example.com/a/b"},
		{"https://example.com/search?q=1#top", "https://example.com/search?q=1"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("NormalizeURL(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestNormalizeURLRejectsOtherSchemes(t *testing.T) {
	if _, err := NormalizeURL("ftp://example.com/file"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestResolveURL(t *testing.T) {
	base, _ := url.Parse("https://example.com/blog/post")
	tests := []struct {
		href    string
		want    string
		wantErr bool
	}{
		{"/about/", "https://example.com/about", false},
		{"next", "https://example.com/blog/next", false},
		{"//cdn.example.com/x", "https://cdn.example.com/x", false},
		{"#section", "", true},
		{"mailto:hi@example.com", "", true},
		{"tel:+123", "", true},
		{"javascript:void(0)", "", true},
	}
	for _, tt := range tests {
		got, err := ResolveURL(base, tt.href)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ResolveURL(%q): expected error, got %q", tt.href, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ResolveURL(%q): %v", tt.href, err)
		}
		if got != tt.want {
			t.Fatalf("ResolveURL(%q): expected %q, got %q", tt.href, tt.want, got)
		}
	}
}

func TestIsSameDomain(t *testing.T) {
	if !IsSameDomain("https://www.example.com/a", "https://example.com") {
		t.Fatal("expected www to be ignored")
	}
	if IsSameDomain("https://blog.example.com", "https://example.com") {
		t.Fatal("expected subdomain to be a different domain")
	}
}

func TestPathAllowed(t *testing.T) {
	tests := []struct {
		url      string
		allowed  []string
		excluded []string
		want     bool
	}{
		{"https://x.com/docs/a", nil, nil, true},
		{"https://x.com/docs/a", []string{"/docs"}, nil, true},
		{"https://x.com/blog/a", []string{"/docs"}, nil, false},
		{"https://x.com/docs/private", []string{"/docs"}, []string{"/docs/private"}, false},
		{"https://x.com/admin", nil, []string{"/admin"}, false},
	}
	for _, tt := range tests {
		if got := PathAllowed(tt.url, tt.allowed, tt.excluded); got != tt.want {
			t.Fatalf("PathAllowed(%q): expected %v, got %v", tt.url, tt.want, got)
		}
	}
}
