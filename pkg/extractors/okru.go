package extractors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/playlist"
	"stream-resolver-go/pkg/types"
)

// okruQualities maps ok.ru rendition names to display heights.
var okruQualities = map[string]string{
	"mobile": "144p",
	"lowest": "240p",
	"low":    "360p",
	"sd":     "480p",
	"hd":     "720p",
	"full":   "1080p",
	"quad":   "1440p",
	"ultra":  "2160p",
}

type okruOptions struct {
	Flashvars struct {
		Metadata string `json:"metadata"`
	} `json:"flashvars"`
}

type okruMetadata struct {
	Videos []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"videos"`
	HLSManifestURL string `json:"hlsManifestUrl"`
	OndemandHLS    string `json:"ondemandHls"`
	OndemandDash   string `json:"ondemandDash"`
}

// OkruExtractor extracts streams from ok.ru video embeds.
type OkruExtractor struct {
	*BaseExtractor
	log *logging.Logger
}

// NewOkruExtractor creates a new ok.ru extractor.
func NewOkruExtractor(fetcher interfaces.Fetcher, log *logging.Logger) *OkruExtractor {
	return &OkruExtractor{
		BaseExtractor: NewBaseExtractor(fetcher, log),
		log:           log.WithComponent("okru-extractor"),
	}
}

// Name returns the extractor name.
func (e *OkruExtractor) Name() string {
	return "okru"
}

// CanExtract matches ok.ru URLs only; hints are not consulted.
func (e *OkruExtractor) CanExtract(target types.Target) bool {
	return keywordRule{url: []string{"ok.ru"}}.match(target)
}

// Extract reads the player metadata embedded in div[data-options].
func (e *OkruExtractor) Extract(ctx context.Context, req types.ExtractRequest) ([]types.StreamCandidate, error) {
	doc, _, err := e.GetDocument(ctx, req.URL, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	raw, ok := doc.Find("div[data-options]").First().Attr("data-options")
	if !ok {
		return nil, fmt.Errorf("okru data-options: %w", ErrNotFound)
	}

	var opts okruOptions
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fmt.Errorf("failed to parse data-options: %w", err)
	}
	var meta okruMetadata
	if err := json.Unmarshal([]byte(opts.Flashvars.Metadata), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	expand := playlist.Options{
		Referer: req.URL,
		Headers: req.Headers,
		Prefix:  "Okru",
		Quality: req.Quality,
	}

	switch {
	case meta.OndemandHLS != "":
		return e.playlist.ExpandHLS(ctx, meta.OndemandHLS, expand)
	case meta.OndemandDash != "":
		return e.playlist.ExpandDASH(ctx, meta.OndemandDash, expand)
	}

	out := make([]types.StreamCandidate, 0, len(meta.Videos))
	for i := len(meta.Videos) - 1; i >= 0; i-- {
		v := meta.Videos[i]
		if !strings.HasPrefix(v.URL, "https://") {
			continue
		}
		quality, ok := okruQualities[v.Name]
		if !ok {
			quality = v.Name
		}
		out = append(out, types.StreamCandidate{
			URL:     v.URL,
			Label:   Label("Okru", quality),
			Headers: types.CloneHeaders(req.Headers, "Referer", req.URL),
		})
	}
	if len(out) > 0 {
		return out, nil
	}

	if meta.HLSManifestURL != "" {
		return e.playlist.ExpandHLS(ctx, meta.HLSManifestURL, expand)
	}
	return nil, fmt.Errorf("okru videos: %w", ErrNotFound)
}

var _ interfaces.Extractor = (*OkruExtractor)(nil)
