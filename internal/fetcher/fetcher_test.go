package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"site_watcher/internal/model"
)

type mockTransport struct {
	body        string
	statusCode  int
	contentType string
	err         error

	lastReq *http.Request
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	h := http.Header{}
	if m.contentType != "" {
		h.Set("Content-Type", m.contentType)
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Header:     h,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

// blockingTransport waits for the request context to end.
type blockingTransport struct{}

func (blockingTransport) Do(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func TestFetch(t *testing.T) {
	fetchedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		transport *mockTransport
		want      *model.Page
		wantErr   bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: "<html><body>ok</body></html>", statusCode: 200, contentType: "text/html; charset=utf-8"},
			want: &model.Page{
				URL:         "https://example.com/duyurular",
				ContentType: "text/html; charset=utf-8",
				Body:        []byte("<html><body>ok</body></html>"),
				FetchedAt:   fetchedAt,
			},
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "not found", statusCode: 404},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.transport, "SiteWatcher/test", time.Second)
			f.now = func() time.Time { return fetchedAt }

			page, err := f.Fetch(context.Background(), "https://example.com/duyurular")

			if tt.wantErr {
				var ferr *Error
				if !errors.As(err, &ferr) {
					t.Fatalf("expected *fetcher.Error, got %v", err)
				}
				if ferr.URL != "https://example.com/duyurular" {
					t.Errorf("error url = %q", ferr.URL)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, page); diff != "" {
				t.Errorf("page mismatch (-want +got):\n%s", diff)
			}
			if got := tt.transport.lastReq.Header.Get("User-Agent"); got != "SiteWatcher/test" {
				t.Errorf("User-Agent = %q", got)
			}
			if got := tt.transport.lastReq.Header.Get("Accept"); got == "" {
				t.Error("missing Accept header")
			}
		})
	}
}

func TestFetchBodySizeLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "at limit", size: maxBodySize},
		{name: "over limit", size: maxBodySize + 1, wantErr: true},
		{name: "far over limit", size: maxBodySize + 100, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(&mockTransport{body: strings.Repeat("x", tt.size), statusCode: 200}, "ua", time.Second)

			page, err := f.Fetch(context.Background(), "https://example.com")
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(page.Body) != tt.size {
					t.Errorf("body length = %d, want %d", len(page.Body), tt.size)
				}
				return
			}
			var ferr *Error
			if !errors.As(err, &ferr) {
				t.Fatalf("expected *fetcher.Error, got %v", err)
			}
			if page != nil {
				t.Error("expected no page for oversized body")
			}
			if !strings.Contains(err.Error(), "body exceeds 5 MB") {
				t.Errorf("error = %q, want size limit message", err)
			}
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	f := New(blockingTransport{}, "ua", 20*time.Millisecond)

	_, err := f.Fetch(context.Background(), "https://example.com")
	var ferr *Error
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *fetcher.Error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
