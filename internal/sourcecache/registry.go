package sourcecache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/specialdays/internal/extract"
)

// ErrUnknownSource is returned for a source name that is not configured.
var ErrUnknownSource = errors.New("unknown source")

// SourceConfig configures one scraped source.
type SourceConfig struct {
	extract.Source `mapstructure:",squash"`
	TTL            time.Duration `mapstructure:"ttl"`
	Enabled        bool          `mapstructure:"enabled"`
}

// Factory builds the cache for a source on first use.
type Factory func(cfg SourceConfig) *Cache

// Registry hands out one Cache per configured source, constructing each
// lazily.
type Registry struct {
	factory Factory

	mu      sync.Mutex
	configs map[string]SourceConfig
	caches  map[string]*Cache
}

// NewRegistry builds a Registry over configs.
func NewRegistry(configs []SourceConfig, factory Factory) *Registry {
	r := &Registry{
		factory: factory,
		configs: make(map[string]SourceConfig, len(configs)),
		caches:  make(map[string]*Cache, len(configs)),
	}
	for _, cfg := range configs {
		r.configs[key(cfg.Name)] = cfg
	}
	return r
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get returns the cache for name, building it if needed. Disabled sources
// are still reachable so they can be inspected and refreshed by hand.
func (r *Registry) Get(name string) (*Cache, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(name)
	if c, ok := r.caches[k]; ok {
		return c, nil
	}
	cfg, ok := r.configs[k]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	c := r.factory(cfg)
	r.caches[k] = c
	return c, nil
}

// Names returns configured source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.configs))
	for _, cfg := range r.configs {
		names = append(names, cfg.Name)
	}
	sort.Strings(names)
	return names
}

// EnabledNames returns the names of enabled sources in sorted order.
func (r *Registry) EnabledNames() []string {
	var out []string
	for _, name := range r.Names() {
		r.mu.Lock()
		enabled := r.configs[key(name)].Enabled
		r.mu.Unlock()
		if enabled {
			out = append(out, name)
		}
	}
	return out
}

// Enabled returns caches for every enabled source, sorted by name.
func (r *Registry) Enabled() []*Cache {
	var out []*Cache
	for _, name := range r.EnabledNames() {
		c, err := r.Get(name)
		if err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Refresh refreshes one source by name.
func (r *Registry) Refresh(ctx context.Context, name string, force bool) (RefreshStats, error) {
	c, err := r.Get(name)
	if err != nil {
		return RefreshStats{}, err
	}
	return c.Refresh(ctx, force), nil
}

// RefreshStale refreshes every enabled source whose cache is not fresh and
// returns the outcome per source name.
func (r *Registry) RefreshStale(ctx context.Context) map[string]RefreshStats {
	out := make(map[string]RefreshStats)
	for _, c := range r.Enabled() {
		if ctx.Err() != nil {
			break
		}
		out[c.Name()] = c.Refresh(ctx, false)
	}
	return out
}

// Statuses reports every configured source.
func (r *Registry) Statuses(ctx context.Context) []Status {
	var out []Status
	for _, name := range r.Names() {
		c, err := r.Get(name)
		if err != nil {
			continue
		}
		st := c.Status(ctx)
		r.mu.Lock()
		st.Enabled = r.configs[key(name)].Enabled
		r.mu.Unlock()
		out = append(out, st)
	}
	return out
}
