package fanout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	"github.com/angelmondragon/activity-fanout/pkg/enums"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/metrics"
)

const (
	defaultPageSize  = 200
	maxResolverPages = 1000
)

// Store persists an activity together with its recipient rows.
type Store interface {
	CreateWithRecipients(ctx context.Context, activity *models.Activity) error
}

// TemplateCatalog reports whether a template's notifications go into digest email.
type TemplateCatalog interface {
	Digestable(ctx context.Context, templateID string) bool
}

// FactoryParams configure the activity factory.
type FactoryParams struct {
	Registry  *Registry
	Router    *Router
	Dedup     *DeduplicationPolicy
	Store     Store
	Templates TemplateCatalog
	Logger    *logger.Logger
	Metrics   *metrics.FanoutMetrics
	Reporter  FailureReporter
	PageSize  int
	Now       func() time.Time
}

// Factory turns entity mutations into persisted activities.
type Factory struct {
	registry  *Registry
	router    *Router
	dedup     *DeduplicationPolicy
	store     Store
	templates TemplateCatalog
	logg      *logger.Logger
	metrics   *metrics.FanoutMetrics
	guard     guard
	pageSize  int
	now       func() time.Time
}

// NewFactory builds an activity factory. The registry must be frozen.
func NewFactory(params FactoryParams) (*Factory, error) {
	if params.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if !params.Registry.frozen.Load() {
		return nil, fmt.Errorf("registry must be frozen")
	}
	router := params.Router
	if router == nil {
		var err error
		router, err = NewRouter(RouterParams{
			Registry: params.Registry,
			Logger:   params.Logger,
			Metrics:  params.Metrics,
			Reporter: params.Reporter,
		})
		if err != nil {
			return nil, err
		}
	}
	dedup := params.Dedup
	if dedup == nil {
		dedup = NewDeduplicationPolicy(nil, nil)
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Factory{
		registry:  params.Registry,
		router:    router,
		dedup:     dedup,
		store:     params.Store,
		templates: params.Templates,
		logg:      params.Logger,
		metrics:   params.Metrics,
		guard: guard{
			logg:     params.Logger,
			metrics:  params.Metrics,
			reporter: params.Reporter,
		},
		pageSize: pageSize,
		now:      now,
	}, nil
}

// Router exposes the render-time router sharing the factory's failure channel.
func (f *Factory) Router() *Router {
	return f.router
}

// CreateParams describe one triggering event.
type CreateParams struct {
	TemplateID string
	ActorID    uuid.UUID
	// Entity is nil for purely user-to-user activities.
	Entity *Entity
	Extra  map[string]any
	// Batch scopes deduplication across Create calls of one triggering operation.
	Batch *Batch
}

// Create runs gates, resolvers, deduplication and routing, then persists the
// activity. It returns nil without error when a gate rejects the entity or no
// recipient or destination remains. Plugin failures are isolated and reported;
// only validation and persistence errors are returned.
func (f *Factory) Create(ctx context.Context, params CreateParams) (*models.Activity, error) {
	templateID := strings.TrimSpace(params.TemplateID)
	if templateID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "template id required")
	}
	if params.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	plan, ok := f.registry.Plan(templateID)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "template not bound").
			WithDetails(map[string]string{"template_id": templateID})
	}
	ctx = f.logg.WithTemplateID(ctx, templateID)

	if !f.passesGates(ctx, plan, params.Entity) {
		f.discard(ctx, templateID, metrics.DiscardGateRejected)
		return nil, nil
	}

	exemptions := f.dedup.Exemptions()
	data := ActivityData{
		TemplateID: templateID,
		ActorID:    params.ActorID,
		Entity:     params.Entity,
		Extra:      params.Extra,
	}
	recipients := Dedupe(f.resolve(ctx, plan, data))
	recipients = params.Batch.claim(templateID, recipients, exemptions.Exempt(templateID))
	if len(recipients) == 0 {
		f.discard(ctx, templateID, metrics.DiscardNoRecipients)
		return nil, nil
	}

	draft := &Draft{ActivityData: data, Recipients: recipients}
	destinations := f.router.Route(ctx, plan, draft)
	if len(destinations) == 0 {
		f.discard(ctx, templateID, metrics.DiscardNoDestinations)
		return nil, nil
	}

	activity := f.build(ctx, draft, destinations)
	if err := f.store.CreateWithRecipients(ctx, activity); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist activity")
	}

	f.metrics.IncCreated(templateID)
	f.logg.Info(f.logg.WithFields(ctx, map[string]any{
		"activity_id":     activity.ID.String(),
		"recipient_count": len(activity.Recipients),
		"destinations":    destinations,
	}), "activity created")
	return activity, nil
}

func (f *Factory) passesGates(ctx context.Context, plan *Plan, entity *Entity) bool {
	for _, g := range plan.Gates {
		if !gateApplies(g, entity) {
			continue
		}
		valid := false
		failure := f.guard.run(ctx, KindGate, g.ID(), plan.TemplateID, func() error {
			var err error
			valid, err = g.IsValid(entity, plan.TemplateID)
			return err
		})
		if failure != nil || !valid {
			return false
		}
	}
	return true
}

func gateApplies(g Gate, entity *Entity) bool {
	types := g.AppliesTo()
	if len(types) == 0 {
		return true
	}
	if entity == nil {
		return false
	}
	for _, t := range types {
		if t == entity.Ref.Type {
			return true
		}
	}
	return false
}

// resolve unions the recipients of every relevant resolver in binding order.
func (f *Factory) resolve(ctx context.Context, plan *Plan, data ActivityData) []Recipient {
	var union []Recipient
	for _, res := range plan.Resolvers {
		relevant := false
		if failure := f.guard.run(ctx, KindResolver, res.ID(), plan.TemplateID, func() error {
			relevant = res.IsValidEntity(data.Entity)
			return nil
		}); failure != nil || !relevant {
			continue
		}

		var resolved []Recipient
		if failure := f.guard.run(ctx, KindResolver, res.ID(), plan.TemplateID, func() error {
			var err error
			resolved, err = f.resolveAll(ctx, res, data)
			return err
		}); failure != nil {
			continue
		}

		allowSelf := false
		if self, ok := res.(SelfNotifier); ok {
			allowSelf = self.AllowsSelfNotification()
		}
		for _, r := range resolved {
			if !allowSelf && r.TargetType == enums.TargetUser && r.TargetID == data.ActorID {
				continue
			}
			union = append(union, r)
		}
	}
	return union
}

// resolveAll pages through a resolver until it returns a short page.
func (f *Factory) resolveAll(ctx context.Context, res Resolver, data ActivityData) ([]Recipient, error) {
	var out []Recipient
	lastID := uuid.Nil
	for page := 0; page < maxResolverPages; page++ {
		batch, err := res.ResolveRecipients(ctx, data, lastID, f.pageSize)
		if err != nil {
			return nil, err
		}
		for _, r := range batch {
			if !r.valid() {
				return nil, fmt.Errorf("malformed recipient %+v", r)
			}
		}
		out = append(out, batch...)
		if len(batch) < f.pageSize {
			return out, nil
		}
		next := batch[len(batch)-1].TargetID
		if next == lastID {
			return nil, fmt.Errorf("resolver repeated page after %s", lastID)
		}
		lastID = next
	}
	return nil, fmt.Errorf("resolver exceeded %d pages", maxResolverPages)
}

func (f *Factory) build(ctx context.Context, draft *Draft, destinations []string) *models.Activity {
	now := f.now().UTC()
	activity := &models.Activity{
		ID:           uuid.New(),
		TemplateID:   draft.TemplateID,
		ActorID:      draft.ActorID,
		Destinations: datatypes.JSONSlice[string](destinations),
		CreatedAt:    now,
	}

	extra := datatypes.JSONMap{}
	for k, v := range draft.Extra {
		extra[k] = v
	}
	if entity := draft.Entity; entity != nil && !entity.Ref.IsZero() {
		entityType, entityID := entity.Ref.Type, entity.Ref.ID
		activity.RelatedEntityType = &entityType
		activity.RelatedEntityID = &entityID
		if entity.Bundle != "" {
			extra[ExtraEntityBundle] = entity.Bundle
		}
	}
	if len(extra) > 0 {
		activity.Extra = extra
	}

	digestable := activity.HasDestination(DestinationNotification) && f.digestable(ctx, draft.TemplateID)
	activity.Recipients = make([]models.ActivityRecipient, 0, len(draft.Recipients))
	for _, r := range draft.Recipients {
		digestStatus := enums.DigestNotApplicable
		if digestable && r.TargetType == enums.TargetUser {
			digestStatus = enums.DigestPending
		}
		activity.Recipients = append(activity.Recipients, models.ActivityRecipient{
			ID:           uuid.New(),
			ActivityID:   activity.ID,
			TemplateID:   draft.TemplateID,
			TargetType:   r.TargetType,
			TargetID:     r.TargetID,
			Status:       enums.ReadStatusUnread,
			DigestStatus: digestStatus,
			CreatedAt:    now,
		})
	}
	return activity
}

func (f *Factory) digestable(ctx context.Context, templateID string) bool {
	if f.templates == nil {
		return true
	}
	return f.templates.Digestable(ctx, templateID)
}

func (f *Factory) discard(ctx context.Context, templateID, reason string) {
	f.metrics.IncDiscarded(templateID, reason)
	f.logg.Info(f.logg.WithField(ctx, "reason", reason), "activity discarded")
}
