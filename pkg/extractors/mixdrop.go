package extractors

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/unpacker"
	"stream-resolver-go/pkg/urlutil"
)

const mixdropPackedMarker = "(p,a,c,k,e,d)"

var (
	mixdropLocationRegex = regexp.MustCompile(`location\s*=\s*["']([^'"]+)`)
	mixdropURLRegex      = regexp.MustCompile(`(?:vsr|wurl|surl)[^=]*=\s*"([^"]+)`)
)

// MixdropExtractor extracts streams from Mixdrop.
type MixdropExtractor struct {
	*BaseExtractor
	log *logging.Logger
}

// NewMixdropExtractor creates a new Mixdrop extractor.
func NewMixdropExtractor(fetcher interfaces.Fetcher, log *logging.Logger) *MixdropExtractor {
	return &MixdropExtractor{
		BaseExtractor: NewBaseExtractor(fetcher, log),
		log:           log.WithComponent("mixdrop-extractor"),
	}
}

// Name returns the extractor name.
func (e *MixdropExtractor) Name() string {
	return "mixdrop"
}

// CanExtract returns true for Mixdrop hints or URLs.
func (e *MixdropExtractor) CanExtract(target types.Target) bool {
	return keywordRule{hint: []string{"mixdrop"}, url: []string{"mixdrop", "mixdrp."}}.match(target)
}

// Extract resolves a Mixdrop embed page to at most one candidate.
func (e *MixdropExtractor) Extract(ctx context.Context, req types.ExtractRequest) ([]types.StreamCandidate, error) {
	e.log.Debug("extracting Mixdrop stream", "url", req.URL)

	host := mixdropHost(req.URL)
	if host == "" {
		return nil, fmt.Errorf("mixdrop url %q: %w", req.URL, ErrNotFound)
	}
	origin := "https://" + host
	headers := types.CloneHeaders(req.Headers, "Referer", origin+"/", "Origin", origin)

	resp, err := e.GetPage(ctx, req.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	if m := mixdropLocationRegex.FindStringSubmatch(resp.Text()); m != nil {
		next := urlutil.ResolveURL(m[1], origin+"/")
		e.log.Debug("following location redirect", "url", next)
		resp, err = e.GetPage(ctx, next, headers)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch redirect: %w", err)
		}
	}

	html := resp.Text()
	if strings.Contains(html, mixdropPackedMarker) {
		html = unpacker.UnpackOrOriginal(html)
	}

	m := mixdropURLRegex.FindStringSubmatch(html)
	if m == nil {
		e.log.Debug("no stream url in page", "url", resp.FinalURL)
		return nil, nil
	}

	streamURL := urlutil.UpgradeProtocolRelative(m[1])
	return KeepValid([]types.StreamCandidate{{
		URL:     streamURL,
		Label:   Label("MixDrop", req.Quality),
		Headers: types.CloneHeaders(req.Headers, "Referer", resp.FinalURL),
	}}), nil
}

// mixdropHost returns the authority of urlStr with the .club mirror mapped to .co.
func mixdropHost(urlStr string) string {
	parts := strings.Split(urlStr, "/")
	if len(parts) < 3 {
		return ""
	}
	host := parts[2]
	if strings.HasSuffix(host, ".club") {
		host = strings.TrimSuffix(host, ".club") + ".co"
	}
	return host
}

var _ interfaces.Extractor = (*MixdropExtractor)(nil)
