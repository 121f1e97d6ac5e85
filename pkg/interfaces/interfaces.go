// Package interfaces defines the core abstractions for the resolver.
// Extractors, the fetch collaborator and registries implement these interfaces,
// which keeps every provider independently testable.
package interfaces

import (
	"context"

	"stream-resolver-go/pkg/types"
)

// Fetcher issues GET requests for extractors.
// Implementations must expose the post-redirect URL in FetchResponse.FinalURL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (*types.FetchResponse, error)
}

// Extractor resolves embed pages of one hosting provider.
//
// To add a new extractor:
// 1. Create a new file in pkg/extractors/
// 2. Implement this interface
// 3. Register it in the ExtractorRegistry (see pkg/app)
type Extractor interface {
	// Name returns a unique identifier for this extractor.
	Name() string

	// CanExtract returns true if the hint or URL routes to this extractor.
	CanExtract(target types.Target) bool

	// Extract resolves the embed URL to zero or more stream candidates.
	Extract(ctx context.Context, req types.ExtractRequest) ([]types.StreamCandidate, error)

	// Close releases any resources held by the extractor.
	Close() error
}

// Registry is a generic interface for component registries.
type Registry[T any] interface {
	// Register adds a component to the registry.
	Register(component T)

	// Get returns the first component matching the target.
	Get(target types.Target) T

	// All returns all registered components.
	All() []T
}

// Logger defines the logging interface used throughout the module.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
