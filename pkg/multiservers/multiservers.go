// Package multiservers normalizes the Inertia "streams" API used by
// multi-server hosts into a flat list of providers.
package multiservers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// InertiaVersion is the asset version the API expects on partial reloads.
const InertiaVersion = "933f5361ce18c71b82fa342f88de9634"

// Listing kinds, selected from the endpoint URL.
const (
	KindMirror = "mirror"
	KindLeech  = "leech"
)

// ErrSchema is returned when the response does not match the expected shape.
var ErrSchema = errors.New("multiservers: unexpected response schema")

// ladder is the set of heights a mirror resolution snaps to.
var ladder = []int{144, 240, 360, 480, 720, 1080}

type mirrorResponse struct {
	Props *struct {
		Streams *struct {
			Data []struct {
				Mirrors []struct {
					Driver *string `json:"driver"`
					Link   *string `json:"link"`
				} `json:"mirrors"`
				Resolution *string `json:"resolution"`
				Size       *int64  `json:"size"`
			} `json:"data"`
			Msg    *string `json:"msg"`
			Status *string `json:"status"`
		} `json:"streams"`
	} `json:"props"`
}

type leechResponse struct {
	Props *struct {
		Streams *struct {
			Data []struct {
				File  *string `json:"file"`
				Label *string `json:"label"`
				Size  *int64  `json:"size"`
				Type  *string `json:"type"`
			} `json:"data"`
			Msg    *string `json:"msg"`
			Status *string `json:"status"`
		} `json:"streams"`
	} `json:"props"`
}

// Normalizer calls the streams API and flattens its listings.
type Normalizer struct {
	fetcher interfaces.Fetcher
	headers map[string]string
	log     *logging.Logger
}

// New creates a normalizer. headers are sent with every request, under the
// Inertia routing headers.
func New(fetcher interfaces.Fetcher, headers map[string]string, log *logging.Logger) *Normalizer {
	return &Normalizer{
		fetcher: fetcher,
		headers: headers,
		log:     log.WithComponent("multiservers"),
	}
}

// Kind reports whether endpointURL lists mirrors or leech files.
func Kind(endpointURL string) string {
	if strings.Contains(endpointURL, "/iframe/") {
		return KindMirror
	}
	return KindLeech
}

// RequestHeaders returns the base headers plus the Inertia partial-reload headers.
func (n *Normalizer) RequestHeaders(kind string) map[string]string {
	return types.CloneHeaders(n.headers,
		"X-Inertia", "true",
		"X-Inertia-Partial-Component", "files/"+kind+"/video",
		"X-Inertia-Partial-Data", "streams",
		"X-Inertia-Version", InertiaVersion,
	)
}

// ExtractedURLs fetches endpointURL and returns one provider per mirror or
// leech file. Transport failures and schema violations are returned as errors.
func (n *Normalizer) ExtractedURLs(ctx context.Context, endpointURL string) ([]types.Provider, error) {
	kind := Kind(endpointURL)

	resp, err := n.fetcher.Fetch(ctx, endpointURL, n.RequestHeaders(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch streams: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("streams endpoint returned status %d", resp.StatusCode)
	}

	var providers []types.Provider
	if kind == KindMirror {
		providers, err = parseMirrors(resp.Body, endpointURL)
	} else {
		providers, err = parseLeech(resp.Body)
	}
	if err != nil {
		n.log.Warn("schema violation", "url", endpointURL, "kind", kind, "error", err)
		return nil, err
	}

	n.log.Debug("normalized listing", "url", endpointURL, "kind", kind, "providers", len(providers))
	return providers, nil
}

func parseMirrors(body []byte, endpointURL string) ([]types.Provider, error) {
	var r mirrorResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if r.Props == nil || r.Props.Streams == nil || r.Props.Streams.Msg == nil || r.Props.Streams.Status == nil || r.Props.Streams.Data == nil {
		return nil, fmt.Errorf("%w: missing props.streams fields", ErrSchema)
	}

	var providers []types.Provider
	for i, group := range r.Props.Streams.Data {
		if group.Resolution == nil || group.Size == nil || group.Mirrors == nil {
			return nil, fmt.Errorf("%w: data[%d] missing resolution, size or mirrors", ErrSchema, i)
		}
		quality, err := SnapQuality(substringAfter(*group.Resolution, "x"))
		if err != nil {
			return nil, fmt.Errorf("%w: data[%d]: %v", ErrSchema, i, err)
		}
		size := HumanSize(*group.Size)

		for j, m := range group.Mirrors {
			if m.Driver == nil || m.Link == nil {
				return nil, fmt.Errorf("%w: data[%d].mirrors[%d] missing driver or link", ErrSchema, i, j)
			}
			providers = append(providers, types.Provider{
				URL:     normalizeLink(*m.Link, endpointURL),
				Name:    *m.Driver,
				Quality: quality,
				Size:    size,
			})
		}
	}
	return providers, nil
}

func parseLeech(body []byte) ([]types.Provider, error) {
	var r leechResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if r.Props == nil || r.Props.Streams == nil || r.Props.Streams.Msg == nil || r.Props.Streams.Status == nil || r.Props.Streams.Data == nil {
		return nil, fmt.Errorf("%w: missing props.streams fields", ErrSchema)
	}

	providers := make([]types.Provider, 0, len(r.Props.Streams.Data))
	for i, f := range r.Props.Streams.Data {
		if f.File == nil || f.Label == nil || f.Size == nil || f.Type == nil {
			return nil, fmt.Errorf("%w: data[%d] missing file, label, size or type", ErrSchema, i)
		}
		quality, _, _ := strings.Cut(*f.Label, " ")
		providers = append(providers, types.Provider{
			URL:     urlutil.UpgradeProtocolRelative(*f.File),
			Name:    "Leech",
			Quality: quality,
			Size:    HumanSize(*f.Size),
		})
	}
	return providers, nil
}

// normalizeLink upgrades protocol-relative links and roots absolute paths at
// the endpoint host.
func normalizeLink(link, endpointURL string) string {
	switch {
	case strings.HasPrefix(link, "//"):
		return urlutil.UpgradeProtocolRelative(link)
	case strings.HasPrefix(link, "/"):
		return urlutil.ResolveURL(link, endpointURL)
	default:
		return link
	}
}

// SnapQuality rounds a pixel height to the nearest ladder rung. Ties go to
// the lower rung.
func SnapQuality(height string) (string, error) {
	h, err := strconv.Atoi(strings.TrimSpace(height))
	if err != nil {
		return "", fmt.Errorf("resolution %q is not numeric", height)
	}
	rung := lo.MinBy(ladder, func(a, b int) bool {
		return abs(a-h) < abs(b-h)
	})
	return strconv.Itoa(rung) + "p", nil
}

// HumanSize converts a size in bits to a binary-prefixed byte string.
func HumanSize(bits int64) string {
	n := bits / 8
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func substringAfter(s, sep string) string {
	if _, after, ok := strings.Cut(s, sep); ok {
		return after
	}
	return s
}
