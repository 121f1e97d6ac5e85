// Package extractors provides provider extractor implementations.
// Each extractor handles one embed host and resolves its pages to stream candidates.
//
// To add a new extractor:
// 1. Create a new file (e.g., myhost.go)
// 2. Implement the Extractor interface
// 3. Register it in the registry (see pkg/app)
package extractors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/playlist"
	"stream-resolver-go/pkg/types"
)

// ErrNotFound is returned when an expected pattern or element is missing
// from a provider page.
var ErrNotFound = errors.New("extractor: pattern not found")

// BaseExtractor provides common functionality for extractors.
type BaseExtractor struct {
	fetcher  interfaces.Fetcher
	playlist *playlist.Expander
	log      *logging.Logger
}

// NewBaseExtractor creates a new base extractor.
func NewBaseExtractor(fetcher interfaces.Fetcher, log *logging.Logger) *BaseExtractor {
	return &BaseExtractor{
		fetcher:  fetcher,
		playlist: playlist.New(fetcher, log),
		log:      log,
	}
}

// Close releases resources.
func (b *BaseExtractor) Close() error {
	return nil
}

// GetPage fetches urlStr and treats any non-2xx status as an error.
func (b *BaseExtractor) GetPage(ctx context.Context, urlStr string, headers map[string]string) (*types.FetchResponse, error) {
	resp, err := b.fetcher.Fetch(ctx, urlStr, headers)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		logging.FromContext(ctx).Debug("page returned non-2xx", "url", urlStr, "status", resp.StatusCode)
		return nil, fmt.Errorf("%s returned status %d", urlStr, resp.StatusCode)
	}
	return resp, nil
}

// GetDocument fetches urlStr and parses it as HTML.
func (b *BaseExtractor) GetDocument(ctx context.Context, urlStr string, headers map[string]string) (*goquery.Document, *types.FetchResponse, error) {
	resp, err := b.GetPage(ctx, urlStr, headers)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}
	return doc, resp, nil
}

// FindScript returns the text of the first <script> whose body contains all needles.
func FindScript(doc *goquery.Document, needles ...string) (string, bool) {
	sel := doc.Find("script").FilterFunction(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		for _, n := range needles {
			if !strings.Contains(text, n) {
				return false
			}
		}
		return true
	}).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}

// Label joins a provider name and an optional quality as "Name: quality".
func Label(name, quality string) string {
	if quality == "" {
		return name
	}
	return name + ": " + quality
}

// KeepValid drops candidates whose URL is not an absolute http(s) URL.
func KeepValid(candidates []types.StreamCandidate) []types.StreamCandidate {
	return lo.Filter(candidates, func(c types.StreamCandidate, _ int) bool {
		return c.Valid()
	})
}

// ContainsAny reports whether s contains any of the keywords.
func ContainsAny(s string, keywords ...string) bool {
	return lo.SomeBy(keywords, func(k string) bool {
		return strings.Contains(s, k)
	})
}

// keywordRule matches a target by lower-cased hint and URL keywords.
type keywordRule struct {
	hint []string
	url  []string
}

func (r keywordRule) match(target types.Target) bool {
	return ContainsAny(strings.ToLower(target.Hint), r.hint...) ||
		ContainsAny(strings.ToLower(target.URL), r.url...)
}
