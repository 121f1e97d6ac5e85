// Package registry provides the ordered extractor rule table used by dispatch.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
)

// ExtractorRegistry manages provider extractors. Registration order is the
// routing precedence: the first extractor whose CanExtract matches wins.
type ExtractorRegistry struct {
	mu         sync.RWMutex
	extractors []interfaces.Extractor
	fallback   interfaces.Extractor
}

// NewExtractorRegistry creates a new extractor registry.
func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{
		extractors: make([]interfaces.Extractor, 0),
	}
}

// Register adds an extractor to the registry.
func (r *ExtractorRegistry) Register(extractor interfaces.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, extractor)
}

// SetFallback sets the fallback extractor used when no extractor matches.
func (r *ExtractorRegistry) SetFallback(extractor interfaces.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = extractor
}

// Get returns the first extractor matching target. When none matches, the
// fallback is returned if it accepts the target; otherwise nil.
func (r *ExtractorRegistry) Get(target types.Target) interfaces.Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.extractors {
		if e.CanExtract(target) {
			return e
		}
	}
	if r.fallback != nil && r.fallback.CanExtract(target) {
		return r.fallback
	}
	return nil
}

// All returns all registered extractors.
func (r *ExtractorRegistry) All() []interfaces.Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Extractor, len(r.extractors))
	copy(result, r.extractors)
	return result
}

// Close closes all registered extractors and the fallback, joining their errors.
func (r *ExtractorRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, e := range r.extractors {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.Name(), err))
		}
	}
	if r.fallback != nil {
		if err := r.fallback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fallback %s: %w", r.fallback.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ interfaces.Registry[interfaces.Extractor] = (*ExtractorRegistry)(nil)
