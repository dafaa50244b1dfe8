package fanout

import (
	"context"
	"fmt"

	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/metrics"
)

// FailureReporter receives every isolated plugin failure as a PLUGIN_FAILURE error.
type FailureReporter interface {
	ReportPluginFailure(ctx context.Context, err *pkgerrors.Error)
}

// FailureDetails is attached to PLUGIN_FAILURE errors.
type FailureDetails struct {
	Kind       string `json:"kind"`
	PluginID   string `json:"plugin_id"`
	TemplateID string `json:"template_id"`
}

// guard runs plugin code, converting errors and panics into reported failures.
type guard struct {
	logg     *logger.Logger
	metrics  *metrics.FanoutMetrics
	reporter FailureReporter
}

func (g guard) run(ctx context.Context, kind, pluginID, templateID string, fn func() error) (failure *pkgerrors.Error) {
	defer func() {
		if rec := recover(); rec != nil {
			failure = g.report(ctx, kind, pluginID, templateID, fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := fn(); err != nil {
		return g.report(ctx, kind, pluginID, templateID, err)
	}
	return nil
}

func (g guard) report(ctx context.Context, kind, pluginID, templateID string, cause error) *pkgerrors.Error {
	failure := pkgerrors.Wrap(pkgerrors.CodePluginFailure, cause, kind+" "+pluginID).
		WithDetails(FailureDetails{Kind: kind, PluginID: pluginID, TemplateID: templateID})

	if g.logg != nil {
		logCtx := g.logg.WithPlugin(ctx, kind, pluginID)
		logCtx = g.logg.WithTemplateID(logCtx, templateID)
		g.logg.Error(logCtx, "plugin failed", failure)
	}
	g.metrics.IncPluginFailure(kind, pluginID)
	if g.reporter != nil {
		g.reporter.ReportPluginFailure(ctx, failure)
	}
	return failure
}
