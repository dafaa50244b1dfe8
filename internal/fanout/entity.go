package fanout

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/pkg/enums"
)

// ErrPriorStateRequired is returned by gates that compare revisions when the
// entity carries no prior state.
var ErrPriorStateRequired = errors.New("prior entity state required")

// EntityRef identifies the entity an activity is about.
type EntityRef struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

func (r EntityRef) String() string {
	return r.Type + ":" + r.ID
}

// Entity is the mutated entity as seen by gates and resolvers. Plugins read it
// through the accessor methods and never write to it.
type Entity struct {
	Ref     EntityRef
	Bundle  string
	OwnerID uuid.UUID
	// GroupID is the audience group of the entity, uuid.Nil for profile-only content.
	GroupID uuid.UUID
	Parent  *EntityRef
	Event   enums.EntityEvent
	Fields  map[string]any
	// Prior holds the previous revision for update events.
	Prior *Entity
}

// IsRoot reports whether the entity is the top of its content hierarchy.
func (e *Entity) IsRoot() bool {
	return e != nil && (e.Parent == nil || e.Parent.IsZero())
}

// RequirePrior returns the prior revision or ErrPriorStateRequired.
func (e *Entity) RequirePrior() (*Entity, error) {
	if e == nil {
		return nil, errors.New("entity required")
	}
	if e.Prior == nil {
		return nil, fmt.Errorf("%w: %s event on %s", ErrPriorStateRequired, e.Event, e.Ref)
	}
	return e.Prior, nil
}

// Bool reads a field as a flag. Missing fields and unrecognised values are false.
func (e *Entity) Bool(field string) bool {
	if e == nil {
		return false
	}
	switch v := e.Fields[field].(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

// Strings reads a multi-value reference field.
func (e *Entity) Strings(field string) []string {
	if e == nil {
		return nil
	}
	switch v := e.Fields[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// Recipient is one target of an activity.
type Recipient struct {
	TargetType enums.TargetType
	TargetID   uuid.UUID
}

func (r Recipient) valid() bool {
	return r.TargetType.IsValid() && r.TargetID != uuid.Nil
}

// UserRecipient is shorthand for a user target.
func UserRecipient(id uuid.UUID) Recipient {
	return Recipient{TargetType: enums.TargetUser, TargetID: id}
}

// ActivityData is what resolvers see of the activity being built.
type ActivityData struct {
	TemplateID string
	ActorID    uuid.UUID
	Entity     *Entity
	Extra      map[string]any
}

// Draft is the activity after recipient resolution, handed to destinations.
type Draft struct {
	ActivityData
	Recipients []Recipient
}
