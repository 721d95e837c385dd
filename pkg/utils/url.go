package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

var ErrUnsupportedLink = errors.New("unsupported link")

// HashURL creates a SHA256 hash of a URL string.
// This is useful for creating consistent, safe keys for Redis.
func HashURL(rawURL string) string {
	return HashString(rawURL)
}

// HashString returns the hex SHA256 of s.
func HashString(s string) string {
	h := sha256.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// ToAbsoluteURL converts a relative URL to an absolute URL given a base URL.
func ToAbsoluteURL(base *url.URL, relative string) (string, error) {
	relURL, err := url.Parse(relative)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(relURL).String(), nil
}

// ResolveURL resolves href against base and normalizes the result. Fragments,
// mail, phone and script links are rejected.
func ResolveURL(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "javascript:") {
		return "", ErrUnsupportedLink
	}
	abs, err := ToAbsoluteURL(base, href)
	if err != nil {
		return "", err
	}
	return NormalizeURL(abs)
}

// NormalizeURL strips the fragment, lowercases scheme and host and removes the
// trailing slash from every path but the root.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrUnsupportedLink
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}
	u.RawPath = ""
	return u.String(), nil
}

// EnsureScheme prefixes bare domains with https.
func EnsureScheme(domain string) string {
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}

// NormalizeHost lowercases a hostname and strips a leading "www.".
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

// IsSameDomain reports whether two URLs share a hostname once "www." is ignored.
func IsSameDomain(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return NormalizeHost(ua.Hostname()) == NormalizeHost(ub.Hostname())
}

// PathAllowed applies allow and exclude prefix lists to the path of rawURL.
// Exclusions win; a non-empty allow list must match.
func PathAllowed(rawURL string, allowed, excluded []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, p := range excluded {
		if p != "" && strings.HasPrefix(path, p) {
			return false
		}
	}
	if len(allowed) == 0 {
		return true
	}
	for _, p := range allowed {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
