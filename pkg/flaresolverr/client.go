// Package flaresolverr talks to a FlareSolverr instance so pages behind a
// Cloudflare interstitial can still be fetched.
package flaresolverr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
)

// ErrSolve is wrapped by every error FlareSolverr itself reports.
var ErrSolve = errors.New("FlareSolverr error")

const maxResponseSize = 10 << 20

// Cookie is a cookie as FlareSolverr sends and receives it.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

type solution struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	Response  string   `json:"response"`
	Cookies   []Cookie `json:"cookies"`
	UserAgent string   `json:"userAgent"`
}

type apiResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Solution solution `json:"solution"`
}

type apiRequest struct {
	Cmd        string   `json:"cmd"`
	URL        string   `json:"url"`
	MaxTimeout int      `json:"maxTimeout"`
	Cookies    []Cookie `json:"cookies,omitempty"`
}

// Client is a FlareSolverr API client.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	log        *logging.Logger
}

// NewClient creates a new FlareSolverr client.
func NewClient(baseURL string, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		endpoint: baseURL + "/v1",
		timeout:  timeout,
		// The solver needs up to timeout for the challenge itself.
		httpClient: &http.Client{Timeout: timeout + 10*time.Second},
		log:        log.WithComponent("flaresolverr"),
	}
}

// Solve fetches targetURL through FlareSolverr and reshapes the solution into
// a fetch response. Cookies from the caller's Cookie header are forwarded;
// clearance cookies come back as Set-Cookie headers and the solver's user
// agent as X-Solver-User-Agent.
func (c *Client) Solve(ctx context.Context, targetURL string, headers map[string]string) (*types.FetchResponse, error) {
	log := c.log.WithURL(targetURL)
	start := time.Now()

	sol, err := c.do(ctx, apiRequest{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: int(c.timeout.Milliseconds()),
		Cookies:    cookiesFromHeader(headers),
	})
	if err != nil {
		log.WithError(err).Debug("solve failed")
		return nil, err
	}

	header := make(http.Header)
	if sol.UserAgent != "" {
		header.Set("X-Solver-User-Agent", sol.UserAgent)
	}
	for _, cookie := range httpCookies(sol.Cookies) {
		header.Add("Set-Cookie", cookie.String())
	}

	out := &types.FetchResponse{
		StatusCode: sol.Status,
		FinalURL:   sol.URL,
		Body:       []byte(sol.Response),
		Header:     header,
	}
	if out.StatusCode == 0 {
		out.StatusCode = http.StatusOK
	}
	if out.FinalURL == "" {
		out.FinalURL = targetURL
	}

	log.WithDuration(time.Since(start)).Debug("challenge solved",
		"status", out.StatusCode,
		"cookies", len(sol.Cookies),
		"response_length", len(out.Body))
	return out, nil
}

func (c *Client) do(ctx context.Context, payload apiRequest) (*solution, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("FlareSolverr returned status %d: %s", resp.StatusCode, raw)
	}

	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if decoded.Status != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrSolve, decoded.Message)
	}
	return &decoded.Solution, nil
}

// cookiesFromHeader parses a Cookie request header, matched case-insensitively.
func cookiesFromHeader(headers map[string]string) []Cookie {
	var raw string
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == "Cookie" {
			raw = v
			break
		}
	}
	if raw == "" {
		return nil
	}
	parsed, err := http.ParseCookie(raw)
	if err != nil {
		return nil
	}
	out := make([]Cookie, 0, len(parsed))
	for _, p := range parsed {
		out = append(out, Cookie{Name: p.Name, Value: p.Value})
	}
	return out
}

func httpCookies(cookies []Cookie) []*http.Cookie {
	result := make([]*http.Cookie, len(cookies))
	for i, cookie := range cookies {
		result[i] = &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HTTPOnly,
		}
		if cookie.Expires > 0 {
			result[i].Expires = time.Unix(cookie.Expires, 0)
		}
	}
	return result
}
