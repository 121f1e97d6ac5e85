package extractors

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/playlist"
	"stream-resolver-go/pkg/types"
)

var (
	voeRedirectRegex = regexp.MustCompile(`window\.location\.href\s*=\s*'([^']+)'`)
	voeHLSRegex      = regexp.MustCompile(`'hls'\s*:\s*'([^']+)'`)
)

// VoeExtractor extracts streams from voe.sx and its rotating mirror domains.
type VoeExtractor struct {
	*BaseExtractor
	log *logging.Logger
}

// NewVoeExtractor creates a new Voe extractor.
func NewVoeExtractor(fetcher interfaces.Fetcher, log *logging.Logger) *VoeExtractor {
	return &VoeExtractor{
		BaseExtractor: NewBaseExtractor(fetcher, log),
		log:           log.WithComponent("voe-extractor"),
	}
}

// Name returns the extractor name.
func (e *VoeExtractor) Name() string {
	return "voe"
}

// CanExtract returns true for Voe hints or URLs.
func (e *VoeExtractor) CanExtract(target types.Target) bool {
	return keywordRule{hint: []string{"voe"}, url: []string{"voe.sx"}}.match(target)
}

// Extract follows the mirror redirect once and expands the HLS source.
func (e *VoeExtractor) Extract(ctx context.Context, req types.ExtractRequest) ([]types.StreamCandidate, error) {
	resp, err := e.GetPage(ctx, req.URL, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	if m := voeRedirectRegex.FindStringSubmatch(resp.Text()); m != nil {
		e.log.Debug("following mirror redirect", "url", m[1])
		resp, err = e.GetPage(ctx, m[1], req.Headers)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch mirror: %w", err)
		}
	}

	m := voeHLSRegex.FindStringSubmatch(resp.Text())
	if m == nil {
		return nil, fmt.Errorf("voe hls source: %w", ErrNotFound)
	}

	masterURL, err := decodeVoeSource(m[1])
	if err != nil {
		return nil, err
	}

	candidates, err := e.playlist.ExpandHLS(ctx, masterURL, playlist.Options{
		Referer: resp.FinalURL,
		Headers: req.Headers,
		Prefix:  "Voe",
		Quality: req.Quality,
	})
	if err != nil {
		return nil, err
	}
	return KeepValid(candidates), nil
}

// decodeVoeSource returns src unchanged when it is already a URL, otherwise
// base64-decodes it.
func decodeVoeSource(src string) (string, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(src)
	if err != nil {
		if decoded, err = base64.RawStdEncoding.DecodeString(src); err != nil {
			return "", fmt.Errorf("failed to decode voe source: %w", err)
		}
	}
	return string(decoded), nil
}

var _ interfaces.Extractor = (*VoeExtractor)(nil)
