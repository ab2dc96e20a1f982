package xpost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/logutil"
)

// Factory builds one connector, usually from environment variables.
type Factory func(ctx context.Context) (Poster, error)

// Registry maps target ids to connectors. Every id in its limit table is a
// known target; only those with a working connector are enabled.
type Registry struct {
	mu      sync.RWMutex
	posters map[string]Poster
	limits  map[string]int
	errs    map[string]error
}

// NewRegistry returns a registry over the default limits with posters enabled.
func NewRegistry(posters ...Poster) *Registry {
	r := &Registry{
		posters: map[string]Poster{},
		limits:  map[string]int{},
		errs:    map[string]error{},
	}
	for id, n := range DefaultLimits {
		r.limits[id] = n
	}
	for _, p := range posters {
		r.posters[p.Name()] = p
		if _, ok := r.limits[p.Name()]; !ok {
			r.limits[p.Name()] = DefaultLimits[X]
		}
	}
	return r
}

// Build runs every factory. A connector that fails to build leaves its target
// disabled; missing credentials are logged at debug, anything else at warn.
func Build(ctx context.Context, factories map[string]Factory) *Registry {
	r := NewRegistry()
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p, err := factories[id](ctx)
		if err != nil {
			r.errs[id] = err
			if errors.Is(err, ErrNotConfigured) {
				logutil.Debugf("%s disabled: %v", id, err)
			} else {
				logutil.Warnf("%s disabled: %v", id, err)
			}
			continue
		}
		r.posters[id] = p
		if _, ok := r.limits[id]; !ok {
			r.limits[id] = DefaultLimits[X]
		}
		logutil.Infof("%s connector ready", id)
	}
	return r
}

// SetLimits overrides limits for the given ids, keeping the rest.
func (r *Registry) SetLimits(overrides map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, n := range DefaultLimits {
		r.limits[id] = n
	}
	for id, n := range overrides {
		if n > 0 {
			r.limits[id] = n
		}
	}
}

// Poster returns the connector for id.
func (r *Registry) Poster(id string) (Poster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.posters[id]
	return p, ok
}

// Err is why id has no connector, or nil.
func (r *Registry) Err(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.posters[id]; ok {
		return nil
	}
	if err, ok := r.errs[id]; ok {
		return err
	}
	if _, ok := r.limits[id]; ok {
		return fmt.Errorf("%s is not configured", id)
	}
	return fmt.Errorf("unknown target %q", id)
}

// Platforms is the /api/platforms view.
func (r *Registry) Platforms() api.Platforms {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(api.Platforms, len(r.limits))
	for id, n := range r.limits {
		_, ok := r.posters[id]
		out[id] = api.PlatformInfo{Enabled: ok, Limit: n}
	}
	return out
}

// Limits is the /api/character_limits view.
func (r *Registry) Limits() api.CharacterLimits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(api.CharacterLimits, len(r.limits))
	for id, n := range r.limits {
		out[id] = n
	}
	return out
}

// Limit returns id's limit, or 0 when unknown.
func (r *Registry) Limit(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limits[id]
}
