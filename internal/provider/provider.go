// Package provider defines person-lookup adapters and the registry the
// fallback resolver draws them from.
package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/sells-group/participant-enrichment/internal/model"
)

// Adapter looks up one email against a single external provider.
type Adapter interface {
	// Name returns the provider source tag.
	Name() model.Source
	// Lookup returns (record, nil) on a hit, (nil, nil) when the provider has
	// no data for the email, and a non-nil error when the call failed.
	Lookup(ctx context.Context, email, displayName string) (*model.EnrichedRecord, error)
}

// Registry holds the adapters available to the resolver.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.Source]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.Source]Adapter)}
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for src.
func (r *Registry) Get(src model.Source) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[src]
	return a, ok
}

// List returns registered sources in default fallback order.
func (r *Registry) List() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Source
	for _, src := range model.ProviderSources() {
		if _, ok := r.adapters[src]; ok {
			out = append(out, src)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// joinLocation renders "city, state" from whichever parts are present.
func joinLocation(parts ...string) string {
	var keep []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			keep = append(keep, s)
		}
	}
	return strings.Join(keep, ", ")
}
