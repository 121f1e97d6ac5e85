package httpclient

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/logging"
)

func TestGetClientForURL(t *testing.T) {
	log := logging.New("debug", false, nil)

	tests := []struct {
		name          string
		cfg           *config.Config
		targetURL     string
		expectProxy   bool
		expectDefault bool
		expectUTLS    bool
	}{
		{
			name: "uses global proxy when no transport routes match",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://proxy.example.com:1080"},
			},
			targetURL:   "https://mixdrop.co/e/abc",
			expectProxy: true,
		},
		{
			name: "uses transport route when URL matches",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{URLPattern: "dood.", Proxy: "socks5://specific-proxy.example.com:1080"},
				},
			},
			targetURL:   "https://dood.so/e/xyz",
			expectProxy: true,
		},
		{
			name:          "uses default client when no proxy configured",
			cfg:           &config.Config{},
			targetURL:     "https://vidbom.com/embed-abc.html",
			expectDefault: true,
		},
		{
			name: "insecure route without proxy",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{URLPattern: "specific-cdn.com", DisableSSL: true},
				},
			},
			targetURL: "https://specific-cdn.com/video.m3u8",
		},
		{
			name:       "fingerprinted hosts use utls",
			cfg:        &config.Config{GlobalProxies: []string{"socks5://proxy.example.com:1080"}},
			targetURL:  "https://www.mp4upload.com/embed-abc.html",
			expectUTLS: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.cfg, log)
			httpClient := client.getClientForURL(tt.targetURL)

			isDefaultClient := httpClient == client.defaultClient

			if tt.expectUTLS {
				if httpClient != client.utlsClient {
					t.Error("expected utls client")
				}
				return
			}
			if tt.expectDefault && !isDefaultClient {
				t.Error("expected default client but got a different client")
			}
			if !tt.expectDefault && isDefaultClient {
				t.Error("expected proxy/insecure client but got default client")
			}
		})
	}
}

func TestFetch(t *testing.T) {
	var gotUA, gotReferer string
	mux := http.NewServeMux()
	mux.HandleFunc("/d/abc", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/e/abc", http.StatusFound)
	})
	mux.HandleFunc("/e/abc", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("player page"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := New(&config.Config{RequestTimeout: 5 * time.Second}, logging.Discard())

	resp, err := client.Fetch(context.Background(), server.URL+"/d/abc", map[string]string{
		"Referer": "https://dood.so/",
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !resp.OK() {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if resp.FinalURL != server.URL+"/e/abc" {
		t.Errorf("FinalURL = %q, want redirect target", resp.FinalURL)
	}
	if resp.Text() != "player page" {
		t.Errorf("Body = %q", resp.Text())
	}
	if gotUA != config.DefaultUserAgent {
		t.Errorf("User-Agent = %q, want default", gotUA)
	}
	if gotReferer != "https://dood.so/" {
		t.Errorf("Referer = %q", gotReferer)
	}
}

func TestFetchKeepsCallerUserAgent(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := New(&config.Config{}, logging.Discard())
	if _, err := client.Fetch(context.Background(), server.URL, map[string]string{"User-Agent": "Aniyomi"}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotUA != "Aniyomi" {
		t.Errorf("User-Agent = %q, want Aniyomi", gotUA)
	}
}

func TestFetchNon2xxIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(&config.Config{}, logging.Discard())
	resp, err := client.Fetch(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.StatusCode != http.StatusNotFound || resp.OK() {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
}

func TestFetchFallsBackToFlareSolverr(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Just a moment..."))
	}))
	defer origin.Close()

	solver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","solution":{"url":%q,"status":200,"response":"solved page"}}`, origin.URL+"/e/abc")
	}))
	defer solver.Close()

	client := New(&config.Config{
		FlareSolverrURL:     solver.URL,
		FlareSolverrTimeout: 10 * time.Second,
	}, logging.Discard())

	resp, err := client.Fetch(context.Background(), origin.URL+"/e/abc", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Text() != "solved page" {
		t.Errorf("Body = %q, want solver response", resp.Text())
	}
	if !resp.OK() {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
}

func TestUTLSRoundTripperClosesHTTP2Conn(t *testing.T) {
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U"))
	}))
	server.EnableHTTP2 = true
	closed := make(chan struct{}, 1)
	server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateClosed {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
	}
	server.StartTLS()
	defer server.Close()

	roots := x509.NewCertPool()
	roots.AddCert(server.Certificate())
	rt := newUTLSRoundTripper()
	rt.rootCAs = roots

	req, err := http.NewRequest(http.MethodGet, server.URL+"/master.m3u8", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if resp.ProtoMajor != 2 {
		t.Errorf("negotiated HTTP/%d, want HTTP/2", resp.ProtoMajor)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "#EXTM3U" {
		t.Errorf("body = %q", body)
	}
	resp.Body.Close()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("connection still open after the response body was closed")
	}
}
