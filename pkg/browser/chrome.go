package browser

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures headless Chrome surfaces.
type ChromeOptions struct {
	// ExecPath points at the Chrome binary. Empty means auto-detect.
	ExecPath string
}

// ChromeFactory returns a SurfaceFactory that starts a fresh headless Chrome
// per surface. Each process gets its own temporary profile directory.
func ChromeFactory(opts ChromeOptions) SurfaceFactory {
	return func(ctx context.Context, userAgent string) (Surface, error) {
		return newChromeSurface(ctx, opts, userAgent)
	}
}

type chromeSurface struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

func newChromeSurface(ctx context.Context, opts ChromeOptions, userAgent string) (*chromeSurface, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if userAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(userAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// Start the browser on the long-lived tab context so a cancelled Load
	// does not take the process down with it.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, err
	}

	return &chromeSurface{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}, nil
}

func (s *chromeSurface) Load(ctx context.Context, url string, headers map[string]string, onRequest func(string)) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	chromedp.ListenTarget(s.ctx, func(ev any) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok && e.Request != nil {
			onRequest(e.Request.URL)
		}
	})

	return chromedp.Run(runCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(extraHeaders(headers)),
		chromedp.Navigate(url),
	)
}

func (s *chromeSurface) Close() error {
	s.cancelTab()
	s.cancelAlloc()
	return nil
}

// extraHeaders drops User-Agent, which is set on the allocator instead.
func extraHeaders(headers map[string]string) network.Headers {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "User-Agent") {
			continue
		}
		h[k] = v
	}
	return h
}
