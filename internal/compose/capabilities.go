package compose

import (
	"context"
	"fmt"
	"sort"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/logutil"
)

// TargetDescriptor is one postable destination as reported by the backend.
type TargetDescriptor struct {
	ID      string
	Enabled bool
	Limit   int
}

// Capabilities is a read-only snapshot of the targets and their limits.
type Capabilities struct {
	targets []TargetDescriptor
	index   map[string]int
	limits  map[string]int
}

// NewCapabilities builds a snapshot from descriptors, ordered by id.
func NewCapabilities(targets ...TargetDescriptor) Capabilities {
	out := append([]TargetDescriptor(nil), targets...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	caps := Capabilities{
		targets: out,
		index:   make(map[string]int, len(out)),
		limits:  make(map[string]int, len(out)),
	}
	for i, t := range out {
		caps.index[t.ID] = i
		caps.limits[t.ID] = t.Limit
	}
	return caps
}

// Targets returns every known target in display order.
func (c Capabilities) Targets() []TargetDescriptor {
	return append([]TargetDescriptor(nil), c.targets...)
}

// Lookup finds a target by id.
func (c Capabilities) Lookup(id string) (TargetDescriptor, bool) {
	i, ok := c.index[id]
	if !ok {
		return TargetDescriptor{}, false
	}
	return c.targets[i], true
}

// Limit returns the character limit for id, or 0 when unknown.
func (c Capabilities) Limit(id string) int {
	return c.limits[id]
}

// MinLimit is the smallest limit across every loaded target, enabled or not.
// It caps the unified editor before any target is chosen. Zero means no limits
// are loaded.
func (c Capabilities) MinLimit() int {
	minLimit := 0
	for _, l := range c.limits {
		if l <= 0 {
			continue
		}
		if minLimit == 0 || l < minLimit {
			minLimit = l
		}
	}
	return minLimit
}

func (c Capabilities) order(id string) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return len(c.targets)
}

// CapabilitySource is the slice of the backend client the loader needs.
type CapabilitySource interface {
	Platforms(ctx context.Context) (api.Platforms, error)
	CharacterLimits(ctx context.Context) (api.CharacterLimits, error)
}

// LoadCapabilities fetches the target list and the limit table and merges
// them. A limit from the limit table wins over the one embedded in the
// target list; limits for targets missing from the list still count towards
// MinLimit.
func LoadCapabilities(ctx context.Context, src CapabilitySource) (Capabilities, error) {
	platforms, err := src.Platforms(ctx)
	if err != nil {
		return Capabilities{}, &ActionError{Action: "load platforms", Err: err}
	}
	limits, err := src.CharacterLimits(ctx)
	if err != nil {
		return Capabilities{}, &ActionError{Action: "load character limits", Err: err}
	}

	targets := make([]TargetDescriptor, 0, len(platforms))
	for id, info := range platforms {
		limit := info.Limit
		if l, ok := limits[id]; ok && l > 0 {
			limit = l
		}
		targets = append(targets, TargetDescriptor{ID: id, Enabled: info.Enabled, Limit: limit})
	}
	caps := NewCapabilities(targets...)
	for id, l := range limits {
		if _, ok := caps.limits[id]; !ok {
			caps.limits[id] = l
		}
	}
	if len(caps.targets) == 0 {
		return caps, fmt.Errorf("backend reported no targets")
	}
	logutil.Debugf("capabilities loaded: targets=%d min_limit=%d", len(caps.targets), caps.MinLimit())
	return caps, nil
}
