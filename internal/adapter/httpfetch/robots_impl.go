package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/user/rag-service/internal/repository"
)

// RobotsPolicy loads robots.txt with temoto/robotstxt.
type RobotsPolicy struct {
	client *http.Client
}

func NewRobotsPolicy(timeout time.Duration) *RobotsPolicy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RobotsPolicy{client: &http.Client{Timeout: timeout}}
}

type robotsGroup struct {
	group *robotstxt.Group
}

func (r robotsGroup) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return r.group.Test(path)
}

// Load fetches <origin>/robots.txt. A missing file allows everything.
func (p *RobotsPolicy) Load(ctx context.Context, baseURL, userAgent string) (repository.RobotsRules, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("fetch robots.txt: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return robotsGroup{group: data.FindGroup(userAgent)}, nil
}
