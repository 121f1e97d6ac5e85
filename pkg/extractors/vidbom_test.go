package extractors

import (
	"context"
	"testing"

	"stream-resolver-go/internal/fetchtest"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
)

const vidbomPage = `<html><head><script>var x = 1;</script></head><body>
<script>
var player = jwplayer("vplayer").setup({
  sources: [{file:"https://v1.vidbom.com/hls/abc/v.mp4",label:"720p"},{file:"https://v2.vidshar.com/hls/abc/index.m3u8"}],
  image: "https://v1.vidbom.com/i/abc.jpg"
});
</script></body></html>`

func TestVidBomExtractor_Extract(t *testing.T) {
	fetcher := fetchtest.New(map[string]fetchtest.Page{
		"https://vidbom.com/embed-abc.html": {Body: vidbomPage},
		"https://v2.vidshar.com/hls/abc/index.m3u8": {
			Body: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=854x480\nindex-v1.m3u8\n",
		},
	})
	e := NewVidBomExtractor(fetcher, logging.Discard(), "https://anime4up.example/")

	got, err := e.Extract(context.Background(), types.ExtractRequest{URL: "https://vidbom.com/embed-abc.html", Hint: "vadbam"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[0].URL != "https://v1.vidbom.com/hls/abc/v.mp4" || got[0].Label != "Vidbom: 720p" {
		t.Errorf("candidate 0 = %+v", got[0])
	}
	if got[1].URL != "https://v2.vidshar.com/hls/abc/index.m3u8" || got[1].Label != "Vidshare: 480p" {
		t.Errorf("candidate 1 = %+v", got[1])
	}
	if h := fetcher.Requested("https://vidbom.com/embed-abc.html"); h["Referer"] != "https://anime4up.example/" {
		t.Errorf("page fetched with Referer %q, want site base URL", h["Referer"])
	}
}

func TestVidBomExtractor_GovidLabel(t *testing.T) {
	fetcher := fetchtest.New(map[string]fetchtest.Page{
		"https://govid.me/embed-abc.html": {Body: vidbomPage},
	})
	e := NewVidBomExtractor(fetcher, logging.Discard(), "")

	got, err := e.Extract(context.Background(), types.ExtractRequest{URL: "https://govid.me/embed-abc.html"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	// The HLS entry is skipped because its playlist is not served.
	if len(got) != 1 || got[0].Label != "Govid: 720p" {
		t.Errorf("got %+v", got)
	}
}

func TestVidBomExtractor_NoSources(t *testing.T) {
	fetcher := fetchtest.New(map[string]fetchtest.Page{
		"https://vidbom.com/embed-x.html": {Body: "<html><script>var a;</script></html>"},
	})
	e := NewVidBomExtractor(fetcher, logging.Discard(), "")

	if _, err := e.Extract(context.Background(), types.ExtractRequest{URL: "https://vidbom.com/embed-x.html"}); err == nil {
		t.Error("expected ErrNotFound")
	}
}
