// Package appctx provides the resolver context that holds all runtime dependencies.
package appctx

import (
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
)

// Context holds all resolver runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config  *config.Config
	Log     *logging.Logger
	Fetcher interfaces.Fetcher
	// Headers are the base request headers handed to every extractor.
	Headers map[string]string
}

// New creates a new resolver context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		Headers: map[string]string{"User-Agent": cfg.UserAgent},
	}
}

// WithFetcher sets the fetch collaborator.
func (c *Context) WithFetcher(f interfaces.Fetcher) *Context {
	c.Fetcher = f
	return c
}

// WithHeader adds a base header.
func (c *Context) WithHeader(key, value string) *Context {
	c.Headers[key] = value
	return c
}
