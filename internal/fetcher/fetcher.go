// Package fetcher downloads the watched listing page.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"site_watcher/internal/model"
)

const maxBodySize = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Error is a failed page fetch: network failure, timeout, bad status or an
// unreadable body.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetcher downloads pages over HTTP.
type Fetcher struct {
	client    HTTPClient
	timeout   time.Duration
	userAgent string
	now       func() time.Time
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, userAgent string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    client,
		timeout:   timeout,
		userAgent: userAgent,
		now:       time.Now,
	}
}

// Fetch downloads url. Bodies above 5 MB are rejected.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*model.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/rss+xml,application/atom+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: url, Err: fmt.Errorf("http get: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, &Error{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > maxBodySize {
		return nil, &Error{URL: url, Err: fmt.Errorf("body exceeds %d MB", maxBodySize>>20)}
	}

	return &model.Page{
		URL:         url,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   f.now().UTC(),
	}, nil
}
