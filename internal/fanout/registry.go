package fanout

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Binding attaches plugins to one template. Order is significant: resolvers
// are unioned in order and destinations are consulted in order at render time.
type Binding struct {
	TemplateID   string
	Gates        []string
	Resolvers    []string
	Destinations []string
}

// Plan is the resolved plugin list for a template, computed once at Freeze.
type Plan struct {
	TemplateID   string
	Gates        []Gate
	Resolvers    []Resolver
	Destinations []Destination
}

// Registry maps plugin ids to implementations and templates to plans. It is
// populated at startup and frozen before serving; lookups after Freeze take no lock.
type Registry struct {
	mu           sync.Mutex
	gates        map[string]Gate
	resolvers    map[string]Resolver
	destinations map[string]Destination
	bindings     map[string]Binding
	plans        map[string]*Plan
	frozen       atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{
		gates:        map[string]Gate{},
		resolvers:    map[string]Resolver{},
		destinations: map[string]Destination{},
		bindings:     map[string]Binding{},
	}
}

func (r *Registry) RegisterGate(g Gate) error {
	return r.register(KindGate, g, func(id string) bool {
		if _, ok := r.gates[id]; ok {
			return false
		}
		r.gates[id] = g
		return true
	})
}

func (r *Registry) RegisterResolver(res Resolver) error {
	return r.register(KindResolver, res, func(id string) bool {
		if _, ok := r.resolvers[id]; ok {
			return false
		}
		r.resolvers[id] = res
		return true
	})
}

func (r *Registry) RegisterDestination(d Destination) error {
	return r.register(KindDestination, d, func(id string) bool {
		if _, ok := r.destinations[id]; ok {
			return false
		}
		r.destinations[id] = d
		return true
	})
}

func (r *Registry) register(kind string, p Plugin, add func(id string) bool) error {
	if p == nil {
		return fmt.Errorf("%s is nil", kind)
	}
	id := strings.TrimSpace(p.ID())
	if id == "" {
		return fmt.Errorf("%s id required", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("registry frozen: cannot register %s %q", kind, id)
	}
	if !add(id) {
		return fmt.Errorf("duplicate %s %q", kind, id)
	}
	return nil
}

// Bind attaches plugins to a template. Binding the same template twice merges the lists.
func (r *Registry) Bind(b Binding) error {
	id := strings.TrimSpace(b.TemplateID)
	if id == "" {
		return fmt.Errorf("template id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("registry frozen: cannot bind template %q", id)
	}
	existing := r.bindings[id]
	existing.TemplateID = id
	existing.Gates = appendUnique(existing.Gates, b.Gates...)
	existing.Resolvers = appendUnique(existing.Resolvers, b.Resolvers...)
	existing.Destinations = appendUnique(existing.Destinations, b.Destinations...)
	r.bindings[id] = existing
	return nil
}

// Freeze validates every binding and computes the per-template plans.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return nil
	}
	plans := make(map[string]*Plan, len(r.bindings))
	for id, b := range r.bindings {
		plan := &Plan{TemplateID: id}
		for _, gid := range b.Gates {
			g, ok := r.gates[gid]
			if !ok {
				return fmt.Errorf("template %q binds unknown gate %q", id, gid)
			}
			plan.Gates = append(plan.Gates, g)
		}
		for _, rid := range b.Resolvers {
			res, ok := r.resolvers[rid]
			if !ok {
				return fmt.Errorf("template %q binds unknown resolver %q", id, rid)
			}
			plan.Resolvers = append(plan.Resolvers, res)
		}
		for _, did := range b.Destinations {
			d, ok := r.destinations[did]
			if !ok {
				return fmt.Errorf("template %q binds unknown destination %q", id, did)
			}
			plan.Destinations = append(plan.Destinations, d)
		}
		plans[id] = plan
	}
	r.plans = plans
	r.frozen.Store(true)
	return nil
}

// Plan returns the frozen plan for templateID.
func (r *Registry) Plan(templateID string) (*Plan, bool) {
	if !r.frozen.Load() {
		return nil, false
	}
	plan, ok := r.plans[templateID]
	return plan, ok
}

// Destination looks up a registered destination by id.
func (r *Registry) Destination(id string) (Destination, bool) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	d, ok := r.destinations[id]
	return d, ok
}

// Templates lists the bound template ids in lexical order.
func (r *Registry) Templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
