package config

import (
	"testing"
	"time"
)

func TestParseTransportRoutes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []TransportRoute
	}{
		{"empty", "", nil},
		{
			"single route",
			"{URL=mixdrop, PROXY=socks5://127.0.0.1:1080}",
			[]TransportRoute{{URLPattern: "mixdrop", Proxy: "socks5://127.0.0.1:1080"}},
		},
		{
			"multiple routes",
			"{URL=dood, DIRECT=true}, {URL=voe.sx, DISABLE_SSL=true}",
			[]TransportRoute{
				{URLPattern: "dood", Direct: true},
				{URLPattern: "voe.sx", DisableSSL: true},
			},
		},
		{"route without url is skipped", "{PROXY=http://p:8080}", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTransportRoutes(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d routes, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("route %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("MAX_DEPTH", "5")
	t.Setenv("BROWSER_TIMEOUT", "7")
	t.Setenv("SITE_BASE_URL", "https://xsanime.com/")
	t.Setenv("GLOBAL_PROXY", "socks5://proxy:1080")
	t.Setenv("BROWSER_FALLBACK", "1")

	cfg := Load()

	if cfg.MaxDepth != 5 {
		t.Errorf("MaxDepth = %d, want 5", cfg.MaxDepth)
	}
	if cfg.BrowserTimeout != 7*time.Second {
		t.Errorf("BrowserTimeout = %v, want 7s", cfg.BrowserTimeout)
	}
	if cfg.SiteBaseURL != "https://xsanime.com" {
		t.Errorf("SiteBaseURL = %q", cfg.SiteBaseURL)
	}
	if len(cfg.GlobalProxies) != 1 || cfg.GlobalProxies[0] != "socks5://proxy:1080" {
		t.Errorf("GlobalProxies = %v", cfg.GlobalProxies)
	}
	if !cfg.BrowserFallback {
		t.Error("BrowserFallback should be enabled")
	}
	if cfg.PreferredQuality != "1080" {
		t.Errorf("PreferredQuality = %q, want default 1080", cfg.PreferredQuality)
	}
}

func TestLoadClampsDepthAndWorkers(t *testing.T) {
	t.Setenv("MAX_DEPTH", "0")
	t.Setenv("WORKERS", "-2")

	cfg := Load()
	if cfg.MaxDepth != 1 || cfg.Workers != 1 {
		t.Errorf("got depth=%d workers=%d, want 1/1", cfg.MaxDepth, cfg.Workers)
	}
}
