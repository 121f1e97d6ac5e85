package extractors

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// KrakenExtractor scrapes the <source> tags of a Krakenfiles page.
type KrakenExtractor struct {
	*BaseExtractor
	log *logging.Logger
}

// NewKrakenExtractor creates a new Krakenfiles extractor.
func NewKrakenExtractor(fetcher interfaces.Fetcher, log *logging.Logger) *KrakenExtractor {
	return &KrakenExtractor{
		BaseExtractor: NewBaseExtractor(fetcher, log),
		log:           log.WithComponent("kraken-extractor"),
	}
}

// Name returns the extractor name.
func (e *KrakenExtractor) Name() string {
	return "krakenfiles"
}

// CanExtract returns true for Krakenfiles hints or URLs.
func (e *KrakenExtractor) CanExtract(target types.Target) bool {
	return keywordRule{hint: []string{"krakenfiles"}, url: []string{"krakenfiles"}}.match(target)
}

// Extract returns one candidate per <source src>.
func (e *KrakenExtractor) Extract(ctx context.Context, req types.ExtractRequest) ([]types.StreamCandidate, error) {
	doc, resp, err := e.GetDocument(ctx, req.URL, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	quality := req.Quality
	if quality == "" {
		quality = "Mirror"
	}

	var out []types.StreamCandidate
	doc.Find("source[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			return
		}
		out = append(out, types.StreamCandidate{
			URL:     urlutil.ResolveURL(src, resp.FinalURL),
			Label:   "Kraken: " + quality,
			Headers: types.CloneHeaders(req.Headers, "Referer", resp.FinalURL),
		})
	})
	return KeepValid(out), nil
}

var _ interfaces.Extractor = (*KrakenExtractor)(nil)
