package extractors

import (
	"context"
	"fmt"
	"regexp"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/playlist"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/unpacker"
	"stream-resolver-go/pkg/urlutil"
)

var (
	streamWishM3U8Regex     = regexp.MustCompile(`https[^"]*m3u8[^"]*`)
	streamWishSubtitleRegex = regexp.MustCompile(`\{\s*file\s*:\s*"([^"]+)"\s*,\s*label\s*:\s*"([^"]*)"\s*,\s*kind\s*:\s*"captions"`)
)

// StreamWishExtractor handles StreamWish and its rebrands (Upstream, Vidhide).
type StreamWishExtractor struct {
	*BaseExtractor
	log *logging.Logger
}

// NewStreamWishExtractor creates a new StreamWish extractor.
func NewStreamWishExtractor(fetcher interfaces.Fetcher, log *logging.Logger) *StreamWishExtractor {
	return &StreamWishExtractor{
		BaseExtractor: NewBaseExtractor(fetcher, log),
		log:           log.WithComponent("streamwish-extractor"),
	}
}

// Name returns the extractor name.
func (e *StreamWishExtractor) Name() string {
	return "streamwish"
}

// CanExtract returns true for the StreamWish family.
func (e *StreamWishExtractor) CanExtract(target types.Target) bool {
	return keywordRule{
		hint: []string{"upstream", "streamwish", "vidhide"},
		url:  []string{"streamwish.", "upstream.", "vidhide"},
	}.match(target)
}

// Extract locates the master playlist in the player script and expands it.
func (e *StreamWishExtractor) Extract(ctx context.Context, req types.ExtractRequest) ([]types.StreamCandidate, error) {
	doc, _, err := e.GetDocument(ctx, req.URL, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	script, ok := FindScript(doc, "m3u8")
	if !ok {
		script, ok = FindScript(doc, unpacker.Marker)
	}
	if !ok {
		return nil, fmt.Errorf("streamwish player script: %w", ErrNotFound)
	}
	script = unpacker.UnpackOrOriginal(script)

	masterURL := streamWishM3U8Regex.FindString(script)
	if masterURL == "" {
		return nil, fmt.Errorf("streamwish master playlist: %w", ErrNotFound)
	}

	var subtitles []types.Track
	for _, m := range streamWishSubtitleRegex.FindAllStringSubmatch(script, -1) {
		subtitles = append(subtitles, types.Track{
			URL:      urlutil.UpgradeProtocolRelative(m[1]),
			Language: m[2],
		})
	}

	prefix := req.Hint
	if prefix == "" {
		prefix = urlutil.HostLabel(req.URL)
	}

	candidates, err := e.playlist.ExpandHLS(ctx, masterURL, playlist.Options{
		Referer:   req.URL,
		Headers:   req.Headers,
		Prefix:    prefix,
		Quality:   req.Quality,
		Subtitles: subtitles,
	})
	if err != nil {
		return nil, err
	}
	return KeepValid(candidates), nil
}

var _ interfaces.Extractor = (*StreamWishExtractor)(nil)
