// Package types defines core domain types used throughout the resolver.
package types

import (
	"net/http"
	"net/url"
	"strings"
)

// Track is a subtitle track attached to a stream.
type Track struct {
	URL      string `json:"url"`
	Language string `json:"language"`
}

// StreamCandidate is a resolved, playable (or further-resolvable) link.
// Headers must be sent on playback, not only during resolution.
type StreamCandidate struct {
	URL       string            `json:"url"`
	Label     string            `json:"label"`
	Headers   map[string]string `json:"headers,omitempty"`
	Subtitles []Track           `json:"subtitles,omitempty"`
}

// Valid reports whether the candidate carries an absolute http(s) URL.
func (c StreamCandidate) Valid() bool {
	if strings.TrimSpace(c.URL) == "" {
		return false
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Provider is one mirror or leech option returned by a multi-server API.
// It is not playable by itself and is always fed back into dispatch.
type Provider struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Quality string `json:"quality"`
	Size    string `json:"size"`
}

// Target is a single (embed URL, server hint) pair to resolve.
type Target struct {
	URL     string
	Hint    string
	Quality string // optional quality label inherited from a mirror listing
}

// ExtractRequest carries everything an extractor needs for one resolution.
type ExtractRequest struct {
	URL     string
	Hint    string
	Quality string
	Headers map[string]string
}

// FetchResponse is the result of a single fetch.
type FetchResponse struct {
	StatusCode int
	FinalURL   string // post-redirect URL, distinct from the requested one
	Body       []byte
	Header     http.Header
}

// Text returns the body as a string.
func (r *FetchResponse) Text() string {
	return string(r.Body)
}

// OK reports whether the status code is 2xx.
func (r *FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// CloneHeaders returns a copy of h with the extra key/value pairs applied.
// The source map is never mutated so it can be shared between branches.
func CloneHeaders(h map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(h)+len(kv)/2)
	for k, v := range h {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		setHeader(out, kv[i], kv[i+1])
	}
	return out
}

// setHeader replaces any existing key that differs only in case.
func setHeader(h map[string]string, key, value string) {
	for k := range h {
		if strings.EqualFold(k, key) && k != key {
			delete(h, k)
		}
	}
	h[key] = value
}
