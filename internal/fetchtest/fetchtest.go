// Package fetchtest provides an in-memory Fetcher for tests.
package fetchtest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"stream-resolver-go/pkg/types"
)

// Page is a canned response. A zero Status means 200.
type Page struct {
	Status   int
	Body     string
	FinalURL string
	Header   http.Header
	Err      error
}

// Request records one call made to the fake.
type Request struct {
	URL     string
	Headers map[string]string
}

// Fetcher serves canned pages keyed by exact URL. Unknown URLs return 404.
type Fetcher struct {
	mu       sync.Mutex
	pages    map[string]Page
	requests []Request
}

// New creates a fake serving pages.
func New(pages map[string]Page) *Fetcher {
	if pages == nil {
		pages = make(map[string]Page)
	}
	return &Fetcher{pages: pages}
}

// Set registers or replaces a page.
func (f *Fetcher) Set(url string, page Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = page
}

// Fetch implements interfaces.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string, headers map[string]string) (*types.FetchResponse, error) {
	f.mu.Lock()
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	f.requests = append(f.requests, Request{URL: url, Headers: copied})
	page, ok := f.pages[url]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return &types.FetchResponse{StatusCode: http.StatusNotFound, FinalURL: url}, nil
	}
	if page.Err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, page.Err)
	}

	status := page.Status
	if status == 0 {
		status = http.StatusOK
	}
	final := page.FinalURL
	if final == "" {
		final = url
	}
	header := page.Header
	if header == nil {
		header = make(http.Header)
	}
	return &types.FetchResponse{
		StatusCode: status,
		FinalURL:   final,
		Body:       []byte(page.Body),
		Header:     header,
	}, nil
}

// Requests returns every request seen so far.
func (f *Fetcher) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// Requested returns the headers of the first request for url, or nil.
func (f *Fetcher) Requested(url string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.URL == url {
			return r.Headers
		}
	}
	return nil
}
