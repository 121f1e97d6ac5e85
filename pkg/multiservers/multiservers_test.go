package multiservers

import (
	"context"
	"errors"
	"testing"

	"stream-resolver-go/internal/fetchtest"
	"stream-resolver-go/pkg/logging"
)

const mirrorBody = `{"component":"files/mirror/video","props":{"streams":{"status":"success","msg":"ok","data":[
  {"resolution":"1280x682","size":8388608,"mirrors":[
    {"driver":"streamwish","link":"//streamwish.to/e/abc"},
    {"driver":"dood","link":"https://dood.so/e/xyz"}
  ]},
  {"resolution":"640x360","size":4000,"mirrors":[{"driver":"mixdrop","link":"/f/local"}]}
]}}}`

const leechBody = `{"props":{"streams":{"status":"success","msg":"ok","data":[
  {"file":"https://files.example/v720.mp4","label":"720p HD","size":80000000000,"type":"video/mp4"},
  {"file":"//files.example/v360.mp4","label":"360p","size":16,"type":"video/mp4"}
]}}}`

func TestSnapQuality(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"682", "720p"},
		{"1080", "1080p"},
		{"600", "480p"},
		{"2160", "1080p"},
		{"100", "144p"},
		{" 360 ", "360p"},
	}
	for _, tt := range tests {
		got, err := SnapQuality(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("SnapQuality(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := SnapQuality("hd"); err == nil {
		t.Error("SnapQuality(\"hd\") should fail")
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		bits int64
		want string
	}{
		{8_388_608, "1.00 MB"},
		{8_000_000, "976.56 KB"},
		{8 * 1023, "1023 bytes"},
		{8 * 1024, "1.00 KB"},
		{8 * (1 << 30) * 3 / 2, "1.50 GB"},
		{0, "0 bytes"},
	}
	for _, tt := range tests {
		if got := HumanSize(tt.bits); got != tt.want {
			t.Errorf("HumanSize(%d) = %q, want %q", tt.bits, got, tt.want)
		}
	}
}

func TestKind(t *testing.T) {
	if Kind("https://site.example/iframe/123") != KindMirror {
		t.Error("iframe endpoint should be mirror")
	}
	if Kind("https://site.example/leech/123") != KindLeech {
		t.Error("other endpoints should be leech")
	}
}

func TestExtractedURLs_Mirror(t *testing.T) {
	const endpoint = "https://files.example/iframe/abc"
	fetcher := fetchtest.New(map[string]fetchtest.Page{endpoint: {Body: mirrorBody}})
	n := New(fetcher, map[string]string{"User-Agent": "test"}, logging.Discard())

	got, err := n.ExtractedURLs(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("ExtractedURLs() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d providers, want 3", len(got))
	}

	if got[0].URL != "https://streamwish.to/e/abc" || got[0].Name != "streamwish" || got[0].Quality != "720p" || got[0].Size != "1.00 MB" {
		t.Errorf("provider 0 = %+v", got[0])
	}
	if got[1].URL != "https://dood.so/e/xyz" || got[1].Quality != "720p" {
		t.Errorf("provider 1 = %+v", got[1])
	}
	if got[2].URL != "https://files.example/f/local" || got[2].Quality != "360p" || got[2].Size != "500 bytes" {
		t.Errorf("provider 2 = %+v", got[2])
	}

	h := fetcher.Requested(endpoint)
	want := map[string]string{
		"X-Inertia":                   "true",
		"X-Inertia-Partial-Component": "files/mirror/video",
		"X-Inertia-Partial-Data":      "streams",
		"X-Inertia-Version":           InertiaVersion,
		"User-Agent":                  "test",
	}
	for k, v := range want {
		if h[k] != v {
			t.Errorf("header %s = %q, want %q", k, h[k], v)
		}
	}
}

func TestExtractedURLs_Leech(t *testing.T) {
	const endpoint = "https://files.example/leech/abc"
	fetcher := fetchtest.New(map[string]fetchtest.Page{endpoint: {Body: leechBody}})
	n := New(fetcher, nil, logging.Discard())

	got, err := n.ExtractedURLs(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("ExtractedURLs() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d providers, want 2", len(got))
	}
	if got[0].Name != "Leech" || got[0].Quality != "720p" || got[0].Size != "9.31 GB" {
		t.Errorf("provider 0 = %+v", got[0])
	}
	if got[1].URL != "https://files.example/v360.mp4" || got[1].Quality != "360p" || got[1].Size != "2 bytes" {
		t.Errorf("provider 1 = %+v", got[1])
	}
	if h := fetcher.Requested(endpoint); h["X-Inertia-Partial-Component"] != "files/leech/video" {
		t.Errorf("partial component = %q", h["X-Inertia-Partial-Component"])
	}
}

func TestExtractedURLs_SchemaViolations(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		body     string
	}{
		{"invalid json", "https://x.example/iframe/1", `{"props":`},
		{"missing streams", "https://x.example/iframe/1", `{"props":{}}`},
		{"missing msg", "https://x.example/iframe/1", `{"props":{"streams":{"status":"ok","data":[]}}}`},
		{"non-numeric resolution", "https://x.example/iframe/1", `{"props":{"streams":{"status":"ok","msg":"","data":[{"resolution":"HDxFull","size":1,"mirrors":[]}]}}}`},
		{"mirror without link", "https://x.example/iframe/1", `{"props":{"streams":{"status":"ok","msg":"","data":[{"resolution":"1x720","size":1,"mirrors":[{"driver":"dood"}]}]}}}`},
		{"size as string", "https://x.example/leech/1", `{"props":{"streams":{"status":"ok","msg":"","data":[{"file":"f","label":"l","size":"big","type":"t"}]}}}`},
		{"leech missing type", "https://x.example/leech/1", `{"props":{"streams":{"status":"ok","msg":"","data":[{"file":"f","label":"l","size":1}]}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := fetchtest.New(map[string]fetchtest.Page{tt.endpoint: {Body: tt.body}})
			n := New(fetcher, nil, logging.Discard())

			_, err := n.ExtractedURLs(context.Background(), tt.endpoint)
			if !errors.Is(err, ErrSchema) {
				t.Errorf("ExtractedURLs() error = %v, want ErrSchema", err)
			}
		})
	}
}

func TestExtractedURLs_TransportFailure(t *testing.T) {
	n := New(fetchtest.New(nil), nil, logging.Discard())
	_, err := n.ExtractedURLs(context.Background(), "https://x.example/iframe/missing")
	if err == nil || errors.Is(err, ErrSchema) {
		t.Errorf("ExtractedURLs() error = %v, want non-schema error", err)
	}
}
