package fanout

import (
	"context"
	"fmt"
	"sort"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/metrics"
)

// Router assigns destinations at creation and resolves view modes at render time.
type Router struct {
	registry *Registry
	guard    guard
}

// RouterParams configure the router.
type RouterParams struct {
	Registry *Registry
	Logger   *logger.Logger
	Metrics  *metrics.FanoutMetrics
	Reporter FailureReporter
}

// NewRouter builds a router over a frozen registry.
func NewRouter(params RouterParams) (*Router, error) {
	if params.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Router{
		registry: params.Registry,
		guard: guard{
			logg:     params.Logger,
			metrics:  params.Metrics,
			reporter: params.Reporter,
		},
	}, nil
}

// Route returns the ids of the plan's destinations that accept the draft,
// in binding order. A destination that panics is treated as not accepting.
func (r *Router) Route(ctx context.Context, plan *Plan, draft *Draft) []string {
	if plan == nil {
		return nil
	}
	out := make([]string, 0, len(plan.Destinations))
	for _, d := range plan.Destinations {
		accepted := false
		r.guard.run(ctx, KindDestination, d.ID(), plan.TemplateID, func() error {
			accepted = d.Accepts(draft)
			return nil
		})
		if accepted {
			out = append(out, d.ID())
		}
	}
	return out
}

// ActiveDestination returns the first of the activity's destinations active in view.
func (r *Router) ActiveDestination(ctx context.Context, activity *models.Activity, view ViewContext) (Destination, bool) {
	if activity == nil {
		return nil, false
	}
	for _, id := range activity.Destinations {
		d, ok := r.registry.Destination(id)
		if !ok {
			continue
		}
		active := false
		r.guard.run(ctx, KindDestination, id, activity.TemplateID, func() error {
			active = d.IsActiveInView(view)
			return nil
		})
		if active {
			return d, true
		}
	}
	return nil, false
}

// ViewMode applies the active destination's override, keeping original when
// no destination is active or the override fails.
func (r *Router) ViewMode(ctx context.Context, rendered Rendered, view ViewContext, original string) string {
	d, ok := r.ActiveDestination(ctx, rendered.Activity, view)
	if !ok {
		return original
	}
	mode := original
	failure := r.guard.run(ctx, KindDestination, d.ID(), rendered.Activity.TemplateID, func() error {
		override := d.ViewModeOverride(original, rendered)
		if override == "" {
			return fmt.Errorf("empty view mode override")
		}
		mode = override
		return nil
	})
	if failure != nil {
		return original
	}
	return mode
}

// DestinationsForView lists registered destination ids active in view. Callers
// use it to filter activity queries before rendering.
func (r *Router) DestinationsForView(ctx context.Context, view ViewContext) []string {
	ids := []string{}
	r.registry.mu.Lock()
	destinations := make([]Destination, 0, len(r.registry.destinations))
	for _, d := range r.registry.destinations {
		destinations = append(destinations, d)
	}
	r.registry.mu.Unlock()
	for _, d := range destinations {
		active := false
		r.guard.run(ctx, KindDestination, d.ID(), "", func() error {
			active = d.IsActiveInView(view)
			return nil
		})
		if active {
			ids = append(ids, d.ID())
		}
	}
	sort.Strings(ids)
	return ids
}
