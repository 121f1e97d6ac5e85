// Package playlist expands HLS master playlists and DASH manifests into one
// stream candidate per rendition.
package playlist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// Options controls labelling and the headers attached to expanded candidates.
type Options struct {
	// Referer is sent when fetching the manifest and attached to every
	// candidate. Origin is derived from it.
	Referer string
	// Headers are base headers; Referer/Origin override matching keys.
	Headers map[string]string
	// Prefix becomes "<Prefix>: <quality>".
	Prefix string
	// Quality labels a media playlist that has no variants.
	Quality string
	// Subtitles are attached to every candidate in addition to those
	// declared by the playlist.
	Subtitles []types.Track
}

func (o Options) headers() map[string]string {
	if o.Referer == "" {
		return types.CloneHeaders(o.Headers)
	}
	h := types.CloneHeaders(o.Headers, "Referer", o.Referer)
	if origin := urlutil.GetSchemeHost(o.Referer); origin != "" {
		h = types.CloneHeaders(h, "Origin", origin)
	}
	return h
}

func (o Options) label(quality string) string {
	switch {
	case quality == "":
		return o.Prefix
	case o.Prefix == "":
		return quality
	default:
		return o.Prefix + ": " + quality
	}
}

// Variant is one #EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	URL     string
	Quality string
}

// Expander fetches manifests through the shared fetch collaborator.
type Expander struct {
	fetcher interfaces.Fetcher
	log     *logging.Logger
}

// New creates an expander.
func New(fetcher interfaces.Fetcher, log *logging.Logger) *Expander {
	return &Expander{
		fetcher: fetcher,
		log:     log.WithComponent("playlist"),
	}
}

func (e *Expander) fetch(ctx context.Context, manifestURL string, headers map[string]string) ([]byte, error) {
	resp, err := e.fetcher.Fetch(ctx, manifestURL, headers)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("manifest %s returned status %d", manifestURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// ExpandHLS fetches masterURL and returns one candidate per variant stream.
// A media playlist yields a single candidate pointing at masterURL.
func (e *Expander) ExpandHLS(ctx context.Context, masterURL string, opts Options) ([]types.StreamCandidate, error) {
	headers := opts.headers()
	body, err := e.fetch(ctx, masterURL, headers)
	if err != nil {
		return nil, err
	}

	variants, subs := ParseMaster(body, masterURL)
	subs = append(append([]types.Track{}, opts.Subtitles...), subs...)

	if len(variants) == 0 {
		e.log.Debug("media playlist, no variants", "url", masterURL)
		return []types.StreamCandidate{{
			URL:       masterURL,
			Label:     opts.label(opts.Quality),
			Headers:   types.CloneHeaders(headers),
			Subtitles: subs,
		}}, nil
	}

	out := make([]types.StreamCandidate, 0, len(variants))
	for _, v := range variants {
		out = append(out, types.StreamCandidate{
			URL:       v.URL,
			Label:     opts.label(v.Quality),
			Headers:   types.CloneHeaders(headers),
			Subtitles: subs,
		})
	}
	e.log.Debug("expanded HLS master", "url", masterURL, "variants", len(out))
	return out, nil
}

// ParseMaster scans a master playlist for variant streams and subtitle
// renditions, resolving URIs against baseURL.
func ParseMaster(manifest []byte, baseURL string) ([]Variant, []types.Track) {
	var (
		variants []Variant
		subs     []types.Track
		pending  *Variant
	)

	scanner := bufio.NewScanner(bytes.NewReader(manifest))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			pending = &Variant{Quality: variantQuality(attrs)}
		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
			if attrs["TYPE"] == "SUBTITLES" && attrs["URI"] != "" {
				subs = append(subs, types.Track{
					URL:      urlutil.ResolveURL(attrs["URI"], baseURL),
					Language: attrs["NAME"],
				})
			}
		case strings.HasPrefix(line, "#"):
		default:
			if pending != nil {
				pending.URL = urlutil.ResolveURL(line, baseURL)
				variants = append(variants, *pending)
				pending = nil
			}
		}
	}
	return variants, subs
}

func variantQuality(attrs map[string]string) string {
	if res := attrs["RESOLUTION"]; res != "" {
		if _, h, ok := strings.Cut(res, "x"); ok {
			return h + "p"
		}
	}
	if bw, err := strconv.Atoi(attrs["BANDWIDTH"]); err == nil && bw > 0 {
		return strconv.Itoa(bw/1000) + " kbps"
	}
	return ""
}

// parseAttributes splits an HLS attribute list, honouring quoted commas.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[:eq])
		s = s[eq+1:]

		var value string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				value, s = s[1:], ""
			} else {
				value, s = s[1:end+1], s[end+2:]
			}
			s = strings.TrimPrefix(s, ",")
		} else if comma := strings.IndexByte(s, ','); comma >= 0 {
			value, s = s[:comma], s[comma+1:]
		} else {
			value, s = s, ""
		}
		attrs[strings.ToUpper(key)] = value
	}
	return attrs
}

// MPD is the subset of a DASH manifest needed to enumerate renditions.
type MPD struct {
	XMLName xml.Name `xml:"MPD"`
	Periods []Period `xml:"Period"`
}

// Period is a DASH period.
type Period struct {
	AdaptationSets []AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet groups interchangeable representations.
type AdaptationSet struct {
	MimeType        string           `xml:"mimeType,attr"`
	ContentType     string           `xml:"contentType,attr"`
	Representations []Representation `xml:"Representation"`
}

// Representation is one encoded rendition.
type Representation struct {
	ID        string `xml:"id,attr"`
	MimeType  string `xml:"mimeType,attr"`
	Bandwidth int    `xml:"bandwidth,attr"`
	Width     int    `xml:"width,attr"`
	Height    int    `xml:"height,attr"`
}

func isVideo(as AdaptationSet, rep Representation) bool {
	if strings.Contains(as.MimeType, "video") || as.ContentType == "video" || strings.Contains(rep.MimeType, "video") {
		return true
	}
	return rep.Height > 0
}

// ExpandDASH fetches mpdURL and returns one candidate per video representation.
// Every candidate points at the manifest itself.
func (e *Expander) ExpandDASH(ctx context.Context, mpdURL string, opts Options) ([]types.StreamCandidate, error) {
	headers := opts.headers()
	body, err := e.fetch(ctx, mpdURL, headers)
	if err != nil {
		return nil, err
	}

	var mpd MPD
	if err := xml.Unmarshal(body, &mpd); err != nil {
		return nil, fmt.Errorf("failed to parse MPD: %w", err)
	}

	var out []types.StreamCandidate
	for _, period := range mpd.Periods {
		for _, as := range period.AdaptationSets {
			for _, rep := range as.Representations {
				if !isVideo(as, rep) {
					continue
				}
				quality := ""
				switch {
				case rep.Height > 0:
					quality = strconv.Itoa(rep.Height) + "p"
				case rep.Bandwidth > 0:
					quality = strconv.Itoa(rep.Bandwidth/1000) + " kbps"
				}
				out = append(out, types.StreamCandidate{
					URL:       mpdURL,
					Label:     opts.label(quality),
					Headers:   types.CloneHeaders(headers),
					Subtitles: opts.Subtitles,
				})
			}
		}
	}
	e.log.Debug("expanded DASH manifest", "url", mpdURL, "representations", len(out))
	return out, nil
}
