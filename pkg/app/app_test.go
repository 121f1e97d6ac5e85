package app

import (
	"context"
	"testing"

	"stream-resolver-go/internal/fetchtest"
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
)

func newTestApp(t *testing.T, fetcher *fetchtest.Fetcher, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	cfg.SiteBaseURL = "https://anime.example"
	if mutate != nil {
		mutate(cfg)
	}
	a, err := NewWithFetcher(cfg, logging.Discard(), fetcher)
	if err != nil {
		t.Fatalf("NewWithFetcher() error = %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestRoutingTable(t *testing.T) {
	a := newTestApp(t, fetchtest.New(nil), nil)

	tests := []struct {
		url  string
		hint string
		want string
	}{
		{"https://dood.so/e/abc", "", "dood"},
		{"https://example.com/e/1", "DoodStream", "dood"},
		{"https://mixdrop.co/e/abc", "", "mixdrop"},
		{"https://example.com/e/1", "MixDrop HD", "mixdrop"},
		{"https://example.com/e/1", "vadbam", "vidbom"},
		{"https://example.com/e/1", "LuluStream", "vidbom"},
		{"https://example.com/e/1", "upstream", "streamwish"},
		{"https://example.com/e/1", "streamwish", "streamwish"},
		{"https://vidhide.com/v/1", "", "streamwish"},
		{"https://example.com/e/1", "mp4", "mp4upload"},
		{"https://www.mp4upload.com/embed-x.html", "", "mp4upload"},
		{"https://ok.ru/videoembed/123", "server", "okru"},
		{"https://example.com/e/1", "VOE", "voe"},
		{"https://example.com/e/1", "streamtape", "streamtape"},
		{"https://krakenfiles.com/embed-video/x", "", "krakenfiles"},
		// First match wins: the dood hint outranks a mixdrop URL.
		{"https://mixdrop.co/e/abc", "dood", "dood"},
	}
	for _, tt := range tests {
		t.Run(tt.hint+" "+tt.url, func(t *testing.T) {
			got := a.ExtractorReg.Get(types.Target{URL: tt.url, Hint: tt.hint})
			if got == nil {
				t.Fatalf("no extractor for %q / %q", tt.url, tt.hint)
			}
			if got.Name() != tt.want {
				t.Errorf("routed to %q, want %q", got.Name(), tt.want)
			}
		})
	}
}

func TestUnknownHintHasNoFallbackByDefault(t *testing.T) {
	a := newTestApp(t, fetchtest.New(nil), nil)

	if got := a.ExtractorReg.Get(types.Target{URL: "https://unknown.example/e/1", Hint: "mystery"}); got != nil {
		t.Fatalf("routed to %q, want none", got.Name())
	}
	if got := a.Resolve(context.Background(), types.Target{URL: "https://unknown.example/e/1", Hint: "mystery"}); len(got) != 0 {
		t.Fatalf("Resolve() = %+v, want empty", got)
	}
}

func TestBrowserFallbackRegistered(t *testing.T) {
	a := newTestApp(t, fetchtest.New(nil), func(cfg *config.Config) { cfg.BrowserFallback = true })

	got := a.ExtractorReg.Get(types.Target{URL: "https://unknown.example/e/1", Hint: "mystery"})
	if got == nil || got.Name() != "browser" {
		t.Fatalf("fallback = %v, want browser", got)
	}
}

const mirrorListing = `{"props":{"streams":{"data":[
	{"resolution":"1280x720","size":8388608,"mirrors":[
		{"driver":"mixdrop","link":"//mixdrop.co/e/abc"},
		{"driver":"unknownhost","link":"https://nowhere.example/e/1"}
	]}
],"msg":"ok","status":"success"}}}`

func TestResolveMirrorListingEndToEnd(t *testing.T) {
	fetcher := fetchtest.New(map[string]fetchtest.Page{
		"https://files.example/iframe/ep1": {Body: mirrorListing},
		"https://mixdrop.co/e/abc":         {Body: `<script>MDCore.wurl = "//cdn.example/v.mp4";</script>`},
	})
	a := newTestApp(t, fetcher, nil)

	got := a.Resolve(context.Background(), types.Target{URL: "https://files.example/iframe/ep1", Hint: "multi"})
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(got), got)
	}
	if got[0].URL != "https://cdn.example/v.mp4" || got[0].Label != "MixDrop: 720p" {
		t.Errorf("candidate = %+v", got[0])
	}

	h := fetcher.Requested("https://files.example/iframe/ep1")
	if h["Referer"] != "https://anime.example/" || h["X-Inertia"] != "true" {
		t.Errorf("listing fetched with headers %v", h)
	}
}

func TestSorted(t *testing.T) {
	a := newTestApp(t, fetchtest.New(nil), func(cfg *config.Config) { cfg.PreferredQuality = "720" })

	got := a.Sorted([]types.StreamCandidate{{Label: "Voe: 1080p"}, {Label: "Dood: 720p"}})
	if got[0].Label != "Dood: 720p" {
		t.Errorf("Sorted()[0] = %q", got[0].Label)
	}
}
