package frequency

import (
	"fmt"
	"sort"
	"time"
)

const (
	None        = "none"
	Immediately = "immediately"
	Daily       = "daily"
	Weekly      = "weekly"
)

// Plugin describes one digest cadence a user can pick.
type Plugin struct {
	ID       string        `json:"id"`
	Label    string        `json:"label"`
	Weight   int           `json:"weight"`
	Interval time.Duration `json:"-"`
	// Disabled cadences never become due.
	Disabled bool `json:"-"`
}

// IntervalSeconds is the batching window exposed to clients.
func (p Plugin) IntervalSeconds() int64 {
	return int64(p.Interval / time.Second)
}

// Due reports whether a recipient whose oldest pending activity was created
// at oldest should be flushed at now.
func (p Plugin) Due(oldest, now time.Time) bool {
	if p.Disabled || oldest.IsZero() {
		return false
	}
	return now.Sub(oldest) >= p.Interval
}

// Builtin returns the stock cadences.
func Builtin() []Plugin {
	return []Plugin{
		{ID: None, Label: "Never", Weight: 0, Disabled: true},
		{ID: Immediately, Label: "Immediately", Weight: 10},
		{ID: Daily, Label: "Daily", Weight: 20, Interval: 24 * time.Hour},
		{ID: Weekly, Label: "Weekly", Weight: 30, Interval: 7 * 24 * time.Hour},
	}
}

// Registry holds the cadence plugins ordered by weight.
type Registry struct {
	plugins []Plugin
	byID    map[string]Plugin
	def     Plugin
}

// NewRegistry validates plugins and the default id. With no plugins the
// built-in set is used.
func NewRegistry(defaultID string, plugins ...Plugin) (*Registry, error) {
	if len(plugins) == 0 {
		plugins = Builtin()
	}
	byID := make(map[string]Plugin, len(plugins))
	for _, p := range plugins {
		if p.ID == "" {
			return nil, fmt.Errorf("frequency id required")
		}
		if p.Interval < 0 {
			return nil, fmt.Errorf("frequency %q has negative interval", p.ID)
		}
		if _, ok := byID[p.ID]; ok {
			return nil, fmt.Errorf("duplicate frequency %q", p.ID)
		}
		byID[p.ID] = p
	}
	def, ok := byID[defaultID]
	if !ok {
		return nil, fmt.Errorf("default frequency %q is not registered", defaultID)
	}

	sorted := append([]Plugin(nil), plugins...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight < sorted[j].Weight
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &Registry{plugins: sorted, byID: byID, def: def}, nil
}

func (r *Registry) Get(id string) (Plugin, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// List returns the plugins in presentation order.
func (r *Registry) List() []Plugin {
	return append([]Plugin(nil), r.plugins...)
}

func (r *Registry) Default() Plugin {
	return r.def
}
