package extractors

import (
	"context"
	"fmt"
	"regexp"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/unpacker"
)

const mp4uploadReferer = "https://www.mp4upload.com/"

var (
	mp4uploadSrcRegex     = regexp.MustCompile(`src:\s*"([^"]+)"`)
	mp4uploadQualityRegex = regexp.MustCompile(`\WHEIGHT=(\d+)`)
)

// Mp4uploadExtractor extracts streams from Mp4upload.
type Mp4uploadExtractor struct {
	*BaseExtractor
	log *logging.Logger
}

// NewMp4uploadExtractor creates a new Mp4upload extractor.
func NewMp4uploadExtractor(fetcher interfaces.Fetcher, log *logging.Logger) *Mp4uploadExtractor {
	return &Mp4uploadExtractor{
		BaseExtractor: NewBaseExtractor(fetcher, log),
		log:           log.WithComponent("mp4upload-extractor"),
	}
}

// Name returns the extractor name.
func (e *Mp4uploadExtractor) Name() string {
	return "mp4upload"
}

// CanExtract matches any hint containing "mp4" and mp4upload URLs.
func (e *Mp4uploadExtractor) CanExtract(target types.Target) bool {
	return keywordRule{hint: []string{"mp4"}, url: []string{"mp4upload"}}.match(target)
}

// Extract reads the player source from the packed or plain player script.
func (e *Mp4uploadExtractor) Extract(ctx context.Context, req types.ExtractRequest) ([]types.StreamCandidate, error) {
	headers := types.CloneHeaders(req.Headers, "Referer", mp4uploadReferer)

	doc, _, err := e.GetDocument(ctx, req.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	script, ok := FindScript(doc, "eval", "p,a,c,k,e,d")
	if ok {
		script = unpacker.UnpackOrOriginal(script)
	} else if script, ok = FindScript(doc, "player.src"); !ok {
		return nil, fmt.Errorf("mp4upload player script: %w", ErrNotFound)
	}

	m := mp4uploadSrcRegex.FindStringSubmatch(script)
	if m == nil {
		return nil, fmt.Errorf("mp4upload source: %w", ErrNotFound)
	}

	resolution := "Unknown resolution"
	if q := mp4uploadQualityRegex.FindStringSubmatch(script); q != nil {
		resolution = q[1] + "p"
	}

	return KeepValid([]types.StreamCandidate{{
		URL:     m[1],
		Label:   "Mp4Upload - " + resolution,
		Headers: headers,
	}}), nil
}

var _ interfaces.Extractor = (*Mp4uploadExtractor)(nil)
