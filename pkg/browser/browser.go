// Package browser resolves embeds that build their media URL at runtime by
// loading the page in a disposable headless surface and watching its network
// requests for the first media-looking URL.
package browser

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/playlist"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// DefaultTimeout bounds how long a page may take to request media.
const DefaultTimeout = 20 * time.Second

var mediaRegex = regexp.MustCompile(`\.(mp4|m3u8|mpd)`)

// Surface is a single-use page environment with its own cookies and storage.
type Surface interface {
	// Load navigates to url sending headers and reports every outgoing
	// request URL to onRequest. onRequest may be called from any goroutine
	// and may keep being called after Load returns.
	Load(ctx context.Context, url string, headers map[string]string, onRequest func(string)) error
	// Close tears the surface down.
	Close() error
}

// SurfaceFactory creates a fresh surface for one resolution.
type SurfaceFactory func(ctx context.Context, userAgent string) (Surface, error)

// Resolver is the browser-observation resolver. It also serves as the
// registry fallback extractor.
type Resolver struct {
	newSurface SurfaceFactory
	playlist   *playlist.Expander
	timeout    time.Duration
	log        *logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithSurfaceFactory replaces the headless Chrome surface.
func WithSurfaceFactory(f SurfaceFactory) Option {
	return func(r *Resolver) {
		if f != nil {
			r.newSurface = f
		}
	}
}

// NewResolver creates a resolver backed by headless Chrome unless a
// different surface factory is supplied.
func NewResolver(fetcher interfaces.Fetcher, log *logging.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		newSurface: ChromeFactory(ChromeOptions{}),
		playlist:   playlist.New(fetcher, log),
		timeout:    DefaultTimeout,
		log:        log.WithComponent("browser-resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the extractor name.
func (r *Resolver) Name() string {
	return "browser"
}

// CanExtract accepts any http(s) URL. The resolver is only consulted as the
// fallback, after every provider rule has declined.
func (r *Resolver) CanExtract(target types.Target) bool {
	return strings.HasPrefix(target.URL, "http://") || strings.HasPrefix(target.URL, "https://")
}

// Extract implements interfaces.Extractor.
func (r *Resolver) Extract(ctx context.Context, req types.ExtractRequest) ([]types.StreamCandidate, error) {
	return r.Resolve(ctx, req.URL, req.Headers, req.Quality), nil
}

// Close implements interfaces.Extractor. Surfaces are per call, so there is
// nothing to release.
func (r *Resolver) Close() error {
	return nil
}

// Resolve loads requestURL and turns the first observed media request into
// candidates. A timeout or any surface failure yields an empty list.
func (r *Resolver) Resolve(ctx context.Context, requestURL string, headers map[string]string, quality string) []types.StreamCandidate {
	log := r.log.WithURL(requestURL)
	start := time.Now()

	match, err := r.observe(ctx, requestURL, headers)
	if err != nil {
		log.WithError(err).WithDuration(time.Since(start)).Debug("No media request observed")
		return nil
	}
	log.Debug("Observed media request", "media_url", match)

	candidates, err := r.interpret(ctx, requestURL, match, headers, quality)
	if err != nil {
		log.WithError(err).Warn("Failed to expand observed media")
		return nil
	}
	return candidates
}

var errNoMedia = errors.New("no media request before timeout")

// observe runs one surface and returns the first request URL that looks like
// media. The surface is closed exactly once whatever happens.
func (r *Resolver) observe(ctx context.Context, requestURL string, headers map[string]string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	surface, err := r.newSurface(waitCtx, headerValue(headers, "User-Agent"))
	if err != nil {
		return "", err
	}
	var once sync.Once
	closeSurface := func() {
		once.Do(func() {
			if err := surface.Close(); err != nil {
				r.log.WithError(err).Debug("Failed to close surface")
			}
		})
	}
	defer closeSurface()

	found := make(chan string, 1)
	onRequest := func(u string) {
		if !mediaRegex.MatchString(u) {
			return
		}
		select {
		case found <- u:
		default:
		}
	}

	go func() {
		if err := surface.Load(waitCtx, requestURL, headers, onRequest); err != nil && waitCtx.Err() == nil {
			r.log.WithURL(requestURL).WithError(err).Debug("Page load failed")
		}
	}()

	select {
	case u := <-found:
		return u, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errNoMedia
	}
}

func (r *Resolver) interpret(ctx context.Context, requestURL, match string, headers map[string]string, quality string) ([]types.StreamCandidate, error) {
	host := urlutil.HostLabel(requestURL)
	opts := playlist.Options{
		Referer: requestURL,
		Headers: headers,
		Prefix:  host,
		Quality: quality,
	}

	switch {
	case strings.Contains(match, "m3u8"):
		return r.playlist.ExpandHLS(ctx, match, opts)
	case strings.Contains(match, "mpd"):
		return r.playlist.ExpandDASH(ctx, match, opts)
	case strings.Contains(match, "mp4"):
		if quality == "" {
			quality = "Mirror"
		}
		c := types.StreamCandidate{
			URL:     match,
			Label:   host + ": " + quality,
			Headers: types.CloneHeaders(headers, "Referer", requestURL),
		}
		if !c.Valid() {
			return nil, nil
		}
		return []types.StreamCandidate{c}, nil
	}
	return nil, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

var _ interfaces.Extractor = (*Resolver)(nil)
