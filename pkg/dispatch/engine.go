// Package dispatch routes (embed URL, server hint) pairs to provider
// extractors, expanding multi-server listings recursively and in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
)

// DefaultMaxDepth caps iframe recursion.
const DefaultMaxDepth = 3

// ServerLister expands a multi-server endpoint into providers.
type ServerLister interface {
	ExtractedURLs(ctx context.Context, endpointURL string) ([]types.Provider, error)
}

// Options configures an Engine.
type Options struct {
	// Headers are the base headers handed to every extractor.
	Headers map[string]string
	// MaxDepth is the deepest iframe level still resolved. The top-level
	// target is depth 0.
	MaxDepth int
	// Workers bounds concurrent branches.
	Workers int
}

// Engine is the dispatch engine. It is safe for concurrent use.
type Engine struct {
	registry interfaces.Registry[interfaces.Extractor]
	servers  ServerLister
	pool     *ants.Pool
	headers  map[string]string
	maxDepth int
	log      *logging.Logger
}

// New creates an engine over an ordered extractor registry.
func New(registry interfaces.Registry[interfaces.Extractor], servers ServerLister, log *logging.Logger, opts Options) (*Engine, error) {
	if opts.MaxDepth < 1 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	// Nonblocking: a full pool makes Submit fail and the branch runs in the
	// caller instead, so nested fan-out never waits on its own workers.
	pool, err := ants.NewPool(opts.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Engine{
		registry: registry,
		servers:  servers,
		pool:     pool,
		headers:  types.CloneHeaders(opts.Headers),
		maxDepth: opts.MaxDepth,
		log:      log.WithComponent("dispatch"),
	}, nil
}

// Resolve resolves one target. It never fails: unknown hints, extractor
// errors and exhausted depth all yield an empty list.
func (e *Engine) Resolve(ctx context.Context, target types.Target) []types.StreamCandidate {
	return e.resolve(ctx, target, 0)
}

// ResolveAll resolves every target in parallel and flattens the results.
// Result order is unspecified.
func (e *Engine) ResolveAll(ctx context.Context, targets []types.Target) []types.StreamCandidate {
	return e.fanOut(ctx, targets, 0)
}

// Close releases the worker pool.
func (e *Engine) Close() {
	e.pool.Release()
}

func (e *Engine) resolve(ctx context.Context, target types.Target, depth int) []types.StreamCandidate {
	log := e.log.WithTarget(target.URL, target.Hint, depth)

	if depth > e.maxDepth {
		log.Warn("Recursion depth exceeded, dropping branch", "max_depth", e.maxDepth)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return nil
	}

	hint := strings.ToLower(target.Hint)
	url := strings.ToLower(target.URL)

	switch {
	case strings.Contains(hint, "leech"):
		return e.leech(ctx, target, log)
	case strings.Contains(url, "iframe"):
		return e.mirrors(ctx, target, depth, log)
	}

	extractor := e.registry.Get(target)
	if extractor == nil {
		log.Debug("No extractor matched")
		return nil
	}

	start := time.Now()
	candidates, err := e.extract(log.WithContext(ctx), extractor, types.ExtractRequest{
		URL:     target.URL,
		Hint:    target.Hint,
		Quality: target.Quality,
		Headers: e.headers,
	})
	log = log.With("extractor", extractor.Name()).WithDuration(time.Since(start))
	if err != nil {
		log.WithError(err).Warn("Extraction failed")
		return nil
	}

	valid := lo.Filter(candidates, func(c types.StreamCandidate, _ int) bool { return c.Valid() })
	if dropped := len(candidates) - len(valid); dropped > 0 {
		log.Debug("Dropped invalid candidates", "count", dropped)
	}
	log.Debug("Extraction finished", "candidates", len(valid))
	return valid
}

// leech maps a leech listing straight to candidates. Leech files are final,
// so nothing recurses.
func (e *Engine) leech(ctx context.Context, target types.Target, log *logging.Logger) []types.StreamCandidate {
	providers, err := e.servers.ExtractedURLs(ctx, target.URL)
	if err != nil {
		log.WithError(err).Warn("Failed to list leech files")
		return nil
	}

	out := make([]types.StreamCandidate, 0, len(providers))
	for _, p := range providers {
		c := types.StreamCandidate{
			URL:     p.URL,
			Label:   p.Name + ": " + p.Quality,
			Headers: types.CloneHeaders(e.headers, "Referer", target.URL),
		}
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) mirrors(ctx context.Context, target types.Target, depth int, log *logging.Logger) []types.StreamCandidate {
	providers, err := e.servers.ExtractedURLs(ctx, target.URL)
	if err != nil {
		log.WithError(err).Warn("Failed to list mirrors")
		return nil
	}
	log.Debug("Expanding mirrors", "count", len(providers))

	children := lo.Map(providers, func(p types.Provider, _ int) types.Target {
		return types.Target{URL: p.URL, Hint: p.Name, Quality: p.Quality}
	})
	return e.fanOut(ctx, children, depth+1)
}

// fanOut resolves targets concurrently and waits for all of them.
func (e *Engine) fanOut(ctx context.Context, targets []types.Target, depth int) []types.StreamCandidate {
	switch len(targets) {
	case 0:
		return nil
	case 1:
		return e.resolve(ctx, targets[0], depth)
	}

	results := make([][]types.StreamCandidate, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = e.resolve(ctx, t, depth)
		}
		if err := e.pool.Submit(task); err != nil {
			if !errors.Is(err, ants.ErrPoolOverload) {
				e.log.WithError(err).Debug("Pool unavailable, resolving inline")
			}
			task()
		}
	}
	wg.Wait()

	return lo.Flatten(results)
}

// extract runs one extractor, turning a panic into an error for that branch.
func (e *Engine) extract(ctx context.Context, extractor interfaces.Extractor, req types.ExtractRequest) (candidates []types.StreamCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor %s panicked: %v", extractor.Name(), r)
		}
	}()
	return extractor.Extract(ctx, req)
}

// SortByQuality returns candidates with those whose label contains preferred
// first. Relative order is otherwise kept.
func SortByQuality(candidates []types.StreamCandidate, preferred string) []types.StreamCandidate {
	out := slices.Clone(candidates)
	if preferred == "" {
		return out
	}
	slices.SortStableFunc(out, func(a, b types.StreamCandidate) int {
		pa, pb := strings.Contains(a.Label, preferred), strings.Contains(b.Label, preferred)
		switch {
		case pa && !pb:
			return -1
		case pb && !pa:
			return 1
		}
		return 0
	})
	return out
}
