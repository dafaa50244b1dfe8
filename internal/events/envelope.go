package events

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/internal/fanout"
	"github.com/angelmondragon/activity-fanout/pkg/enums"
)

// EventTypeEntityMutated is the event_type attribute of entity mutation messages.
const EventTypeEntityMutated = "entity.mutated"

// Envelope is the entity mutation message published by the content service.
type Envelope struct {
	EventID     uuid.UUID      `json:"event_id"`
	TemplateIDs []string       `json:"template_ids" validate:"dive,required"`
	ActorID     uuid.UUID      `json:"actor_id"`
	Event       string         `json:"event" validate:"required,oneof=insert update delete"`
	Entity      EntityPayload  `json:"entity"`
	Prior       *EntityPayload `json:"prior,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// EntityPayload is one revision of the mutated entity.
type EntityPayload struct {
	Type    string            `json:"type" validate:"required"`
	ID      string            `json:"id" validate:"required"`
	Bundle  string            `json:"bundle,omitempty"`
	OwnerID uuid.UUID         `json:"owner_id"`
	GroupID uuid.UUID         `json:"group_id"`
	Parent  *fanout.EntityRef `json:"parent,omitempty"`
	Fields  map[string]any    `json:"fields,omitempty"`
}

var validate = validator.New()

// Validate checks the envelope shape. Insert and update events also need an actor.
func (e Envelope) Validate() error {
	if e.EventID == uuid.Nil {
		return fmt.Errorf("event_id required")
	}
	if err := validate.Struct(e); err != nil {
		return err
	}
	if e.Event == string(enums.EntityDeleted) {
		return nil
	}
	if e.ActorID == uuid.Nil {
		return fmt.Errorf("actor_id required for %s events", e.Event)
	}
	if len(e.TemplateIDs) == 0 {
		return fmt.Errorf("template_ids required for %s events", e.Event)
	}
	return nil
}

// ToEntity converts the payload into the entity seen by gates and resolvers.
func (e Envelope) ToEntity() (*fanout.Entity, error) {
	event, err := enums.ParseEntityEvent(e.Event)
	if err != nil {
		return nil, err
	}
	entity := e.Entity.toEntity(event)
	if e.Prior != nil {
		entity.Prior = e.Prior.toEntity(event)
	}
	return entity, nil
}

func (p EntityPayload) toEntity(event enums.EntityEvent) *fanout.Entity {
	return &fanout.Entity{
		Ref:     fanout.EntityRef{Type: p.Type, ID: p.ID},
		Bundle:  p.Bundle,
		OwnerID: p.OwnerID,
		GroupID: p.GroupID,
		Parent:  p.Parent,
		Event:   event,
		Fields:  p.Fields,
	}
}
