// Package app wires configuration, the fetch client, the extractors and the
// dispatch engine into a ready-to-use resolver.
package app

import (
	"context"
	"fmt"

	"stream-resolver-go/pkg/appctx"
	"stream-resolver-go/pkg/browser"
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/dispatch"
	"stream-resolver-go/pkg/extractors"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/multiservers"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/types"
)

// App is the resolver container.
type App struct {
	Ctx          *appctx.Context
	ExtractorReg *registry.ExtractorRegistry
	Engine       *dispatch.Engine
}

// New creates a resolver from environment configuration.
func New() (*App, error) {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	return NewWithConfig(cfg, log)
}

// NewWithConfig creates a resolver backed by the HTTP client.
func NewWithConfig(cfg *config.Config, log *logging.Logger) (*App, error) {
	return NewWithFetcher(cfg, log, httpclient.New(cfg, log))
}

// NewWithFetcher creates a resolver on top of an existing fetch collaborator.
func NewWithFetcher(cfg *config.Config, log *logging.Logger, fetcher interfaces.Fetcher) (*App, error) {
	log.Info("initializing resolver",
		"log_level", cfg.LogLevel,
		"max_depth", cfg.MaxDepth,
		"workers", cfg.Workers,
		"browser_fallback", cfg.BrowserFallback,
	)

	ctx := appctx.New(cfg, log).WithFetcher(fetcher)
	if cfg.SiteBaseURL != "" {
		ctx.WithHeader("Referer", cfg.SiteBaseURL+"/")
	}

	extractorReg := registry.NewExtractorRegistry()
	registerExtractors(extractorReg, ctx)

	servers := multiservers.New(fetcher, ctx.Headers, log)
	engine, err := dispatch.New(extractorReg, servers, log, dispatch.Options{
		Headers:  ctx.Headers,
		MaxDepth: cfg.MaxDepth,
		Workers:  cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch engine: %w", err)
	}

	return &App{
		Ctx:          ctx,
		ExtractorReg: extractorReg,
		Engine:       engine,
	}, nil
}

// Resolve resolves one (embed URL, server hint) pair.
func (a *App) Resolve(ctx context.Context, target types.Target) []types.StreamCandidate {
	return a.Engine.Resolve(ctx, target)
}

// ResolveAll resolves every pair in parallel.
func (a *App) ResolveAll(ctx context.Context, targets []types.Target) []types.StreamCandidate {
	return a.Engine.ResolveAll(ctx, targets)
}

// Sorted orders candidates by the configured preferred quality.
func (a *App) Sorted(candidates []types.StreamCandidate) []types.StreamCandidate {
	return dispatch.SortByQuality(candidates, a.Ctx.Config.PreferredQuality)
}

// Close releases the worker pool and the extractors.
func (a *App) Close() {
	a.Ctx.Log.Info("shutting down resolver")
	a.Engine.Close()
	if err := a.ExtractorReg.Close(); err != nil {
		a.Ctx.Log.WithError(err).Warn("failed to close extractors")
	}
}

// registerExtractors registers all provider extractors.
// Registration order is routing precedence. Add new extractors here by:
// 1. Creating a new extractor in pkg/extractors/
// 2. Registering it below
func registerExtractors(reg *registry.ExtractorRegistry, ctx *appctx.Context) {
	fetcher, log, cfg := ctx.Fetcher, ctx.Log, ctx.Config

	reg.Register(extractors.NewDoodExtractor(fetcher, log))
	reg.Register(extractors.NewMixdropExtractor(fetcher, log))
	reg.Register(extractors.NewVidBomExtractor(fetcher, log, cfg.SiteBaseURL))
	reg.Register(extractors.NewStreamWishExtractor(fetcher, log))
	reg.Register(extractors.NewMp4uploadExtractor(fetcher, log))
	reg.Register(extractors.NewOkruExtractor(fetcher, log))
	reg.Register(extractors.NewVoeExtractor(fetcher, log))
	reg.Register(extractors.NewStreamtapeExtractor(fetcher, log))
	reg.Register(extractors.NewKrakenExtractor(fetcher, log))

	if cfg.BrowserFallback {
		reg.SetFallback(browser.NewResolver(fetcher, log,
			browser.WithTimeout(cfg.BrowserTimeout),
			browser.WithSurfaceFactory(browser.ChromeFactory(browser.ChromeOptions{ExecPath: cfg.BrowserPath})),
		))
		log.Info("browser fallback enabled", "timeout", cfg.BrowserTimeout)
	}

	log.Info("registered extractors", "count", len(reg.All()))
}
