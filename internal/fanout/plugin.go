package fanout

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
)

// Plugin kinds as reported in failures and metrics.
const (
	KindGate        = "gate"
	KindResolver    = "resolver"
	KindDestination = "destination"
)

// DestinationNotification is the destination whose user recipients are drained into digest email.
const DestinationNotification = "notification"

// Plugin carries the static metadata every plugin registers with.
type Plugin interface {
	ID() string
	Label() string
}

// Gate decides from entity state alone whether an activity may be created.
// Gates must not write.
type Gate interface {
	Plugin
	// AppliesTo lists the entity types the gate inspects; empty means all.
	AppliesTo() []string
	IsValid(entity *Entity, templateID string) (bool, error)
}

// Resolver produces recipients for an activity, one page at a time.
type Resolver interface {
	Plugin
	IsValidEntity(entity *Entity) bool
	// ResolveRecipients returns up to limit recipients ordered by TargetID,
	// starting after lastID (uuid.Nil for the first page).
	ResolveRecipients(ctx context.Context, data ActivityData, lastID uuid.UUID, limit int) ([]Recipient, error)
}

// SelfNotifier is implemented by resolvers that may name the actor.
type SelfNotifier interface {
	AllowsSelfNotification() bool
}

// View names understood by the built-in destinations.
const (
	ViewNotifications = "notifications"
	ViewProfileStream = "profile_stream"
	ViewGroupStream   = "group_stream"
)

// ViewContext describes where activities are being rendered.
type ViewContext struct {
	Name     string
	ViewerID uuid.UUID
	OwnerID  uuid.UUID
	GroupID  uuid.UUID
}

// Rendered is a persisted activity plus its related entity when the caller loaded it.
type Rendered struct {
	Activity *models.Activity
	Entity   *Entity
}

// Bundle returns the related entity bundle, falling back to the value captured at creation.
func (r Rendered) Bundle() string {
	if r.Entity != nil && r.Entity.Bundle != "" {
		return r.Entity.Bundle
	}
	if r.Activity == nil {
		return ""
	}
	if bundle, ok := r.Activity.Extra[ExtraEntityBundle].(string); ok {
		return bundle
	}
	return ""
}

// ExtraEntityBundle is the extra-data key holding the related entity bundle.
const ExtraEntityBundle = "entity_bundle"

// Destination is a channel an activity can be routed to.
type Destination interface {
	Plugin
	// Accepts decides membership once, at creation.
	Accepts(draft *Draft) bool
	IsActiveInView(view ViewContext) bool
	ViewModeOverride(original string, activity Rendered) string
}
