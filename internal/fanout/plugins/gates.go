package plugins

import (
	"github.com/angelmondragon/activity-fanout/internal/fanout"
	"github.com/angelmondragon/activity-fanout/pkg/enums"
)

const (
	GateFieldBecameTrue = "field_became_true"
	GateRootItem        = "root_item"
	GateTagsAdded       = "tags_added"
)

// FieldBecameTrue passes when any watched flag went from unset/false to true.
// Inserts count as a transition from unset; updates must carry the prior revision.
type FieldBecameTrue struct {
	id          string
	entityTypes []string
	fields      []string
	alter       *fanout.Alterations
}

func NewFieldBecameTrue(id string, entityTypes, fields []string, alter *fanout.Alterations) *FieldBecameTrue {
	if id == "" {
		id = GateFieldBecameTrue
	}
	return &FieldBecameTrue{id: id, entityTypes: entityTypes, fields: fields, alter: alter}
}

func (g *FieldBecameTrue) ID() string          { return g.id }
func (g *FieldBecameTrue) Label() string       { return "Field became true" }
func (g *FieldBecameTrue) AppliesTo() []string { return g.entityTypes }

func (g *FieldBecameTrue) IsValid(entity *fanout.Entity, _ string) (bool, error) {
	if entity == nil {
		return false, nil
	}
	fields := g.alter.FieldsToCheck(g.id, g.fields)
	switch entity.Event {
	case enums.EntityInserted:
		for _, field := range fields {
			if entity.Bool(field) {
				return true, nil
			}
		}
		return false, nil
	case enums.EntityUpdated:
		prior, err := entity.RequirePrior()
		if err != nil {
			return false, err
		}
		for _, field := range fields {
			if entity.Bool(field) && !prior.Bool(field) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

// RootItem passes only for the top item of a content hierarchy.
type RootItem struct {
	entityTypes []string
}

func NewRootItem(entityTypes []string) *RootItem {
	return &RootItem{entityTypes: entityTypes}
}

func (g *RootItem) ID() string          { return GateRootItem }
func (g *RootItem) Label() string       { return "Root item" }
func (g *RootItem) AppliesTo() []string { return g.entityTypes }

func (g *RootItem) IsValid(entity *fanout.Entity, _ string) (bool, error) {
	return entity.IsRoot(), nil
}

// TagsAdded passes when a tag-reference field gained at least one value
// compared to the prior revision.
type TagsAdded struct {
	entityTypes []string
	fields      []string
	alter       *fanout.Alterations
}

func NewTagsAdded(entityTypes, fields []string, alter *fanout.Alterations) *TagsAdded {
	return &TagsAdded{entityTypes: entityTypes, fields: fields, alter: alter}
}

func (g *TagsAdded) ID() string          { return GateTagsAdded }
func (g *TagsAdded) Label() string       { return "Tags added" }
func (g *TagsAdded) AppliesTo() []string { return g.entityTypes }

func (g *TagsAdded) IsValid(entity *fanout.Entity, _ string) (bool, error) {
	if entity == nil || entity.Event == enums.EntityDeleted {
		return false, nil
	}
	var prior *fanout.Entity
	if entity.Event == enums.EntityUpdated {
		p, err := entity.RequirePrior()
		if err != nil {
			return false, err
		}
		prior = p
	}
	for _, field := range g.alter.FieldsToCheck(GateTagsAdded, g.fields) {
		before := map[string]struct{}{}
		for _, v := range prior.Strings(field) {
			before[v] = struct{}{}
		}
		for _, v := range entity.Strings(field) {
			if _, ok := before[v]; !ok {
				return true, nil
			}
		}
	}
	return false, nil
}
