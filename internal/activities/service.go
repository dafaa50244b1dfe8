package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/internal/fanout"
	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	"github.com/angelmondragon/activity-fanout/pkg/enums"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/pagination"
)

// DefaultViewMode is used when the caller does not ask for a specific rendering.
const DefaultViewMode = "full"

// Service defines list/read operations for rendered activities and entity purges.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID, recipientID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	PurgeEntity(ctx context.Context, ref fanout.EntityRef) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// ServiceParams wires the activities service.
type ServiceParams struct {
	Repo   Repository
	Router *fanout.Router
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo   Repository
	router *fanout.Router
	logg   *logger.Logger
	now    func() time.Time
}

// ListParams selects one view. Notifications need ViewerID, the group stream
// GroupID and the profile stream OwnerID.
type ListParams struct {
	View       string
	ViewerID   uuid.UUID
	OwnerID    uuid.UUID
	GroupID    uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
	ViewMode   string
}

// Item is one activity as rendered in a view.
type Item struct {
	ID            uuid.UUID         `json:"id"`
	ActivityID    uuid.UUID         `json:"activity_id"`
	TemplateID    string            `json:"template_id"`
	ActorID       uuid.UUID         `json:"actor_id"`
	RelatedEntity *fanout.EntityRef `json:"related_entity,omitempty"`
	Extra         map[string]any    `json:"extra,omitempty"`
	Status        enums.ReadStatus  `json:"status,omitempty"`
	ReadAt        *time.Time        `json:"read_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ViewMode      string            `json:"view_mode"`
}

// ListResult wraps returned items and the cursor for the next page.
type ListResult struct {
	Items  []Item `json:"items"`
	Cursor string `json:"cursor"`
}

// NewService wires activities dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activities repository required")
	}
	if params.Router == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activity router required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{repo: params.Repo, router: params.Router, logg: params.Logger, now: now}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	view := fanout.ViewContext{Name: params.View, ViewerID: params.ViewerID, OwnerID: params.OwnerID, GroupID: params.GroupID}
	mode := params.ViewMode
	if mode == "" {
		mode = DefaultViewMode
	}

	var cursor *pagination.Cursor
	if params.Cursor != "" {
		parsed, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		cursor = parsed
	}

	switch params.View {
	case fanout.ViewNotifications:
		if params.ViewerID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "viewer id required")
		}
		return s.listForRecipient(ctx, view, enums.TargetUser, params.ViewerID, params, cursor, mode)
	case fanout.ViewGroupStream:
		if params.GroupID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "group id required")
		}
		params.UnreadOnly = false
		return s.listForRecipient(ctx, view, enums.TargetGroup, params.GroupID, params, cursor, mode)
	case fanout.ViewProfileStream:
		if params.OwnerID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile owner id required")
		}
		return s.listByActor(ctx, view, params, cursor, mode)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown view %q", params.View))
	}
}

func (s *service) listForRecipient(ctx context.Context, view fanout.ViewContext, targetType enums.TargetType, targetID uuid.UUID, params ListParams, cursor *pagination.Cursor, mode string) (*ListResult, error) {
	destinations := s.router.DestinationsForView(ctx, view)
	if len(destinations) == 0 {
		return &ListResult{Items: []Item{}}, nil
	}
	rows, err := s.repo.ListForRecipient(ctx, listRecipientParams{
		TargetType:   targetType,
		TargetID:     targetID,
		Destinations: destinations,
		Limit:        pagination.LimitWithBuffer(params.Limit),
		Cursor:       cursor,
		UnreadOnly:   params.UnreadOnly,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list activities")
	}

	page, next := pagination.Trim(rows, params.Limit, func(r models.ActivityRecipient) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	items := make([]Item, 0, len(page))
	for _, row := range page {
		if row.Activity == nil {
			continue
		}
		item := s.render(ctx, row.Activity, view, mode)
		item.ID = row.ID
		item.Status = row.Status
		item.ReadAt = row.ReadAt
		items = append(items, item)
	}
	return &ListResult{Items: items, Cursor: next}, nil
}

func (s *service) listByActor(ctx context.Context, view fanout.ViewContext, params ListParams, cursor *pagination.Cursor, mode string) (*ListResult, error) {
	destinations := s.router.DestinationsForView(ctx, view)
	if len(destinations) == 0 {
		return &ListResult{Items: []Item{}}, nil
	}
	rows, err := s.repo.ListByActor(ctx, listActorParams{
		ActorID:      params.OwnerID,
		Destinations: destinations,
		Limit:        pagination.LimitWithBuffer(params.Limit),
		Cursor:       cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list activities")
	}

	page, next := pagination.Trim(rows, params.Limit, func(a models.Activity) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	items := make([]Item, 0, len(page))
	for i := range page {
		items = append(items, s.render(ctx, &page[i], view, mode))
	}
	return &ListResult{Items: items, Cursor: next}, nil
}

func (s *service) render(ctx context.Context, activity *models.Activity, view fanout.ViewContext, mode string) Item {
	item := Item{
		ID:         activity.ID,
		ActivityID: activity.ID,
		TemplateID: activity.TemplateID,
		ActorID:    activity.ActorID,
		Extra:      activity.Extra,
		CreatedAt:  activity.CreatedAt,
		ViewMode:   s.router.ViewMode(ctx, fanout.Rendered{Activity: activity}, view, mode),
	}
	if activity.RelatedEntityType != nil && activity.RelatedEntityID != nil {
		item.RelatedEntity = &fanout.EntityRef{Type: *activity.RelatedEntityType, ID: *activity.RelatedEntityID}
	}
	return item
}

func (s *service) MarkRead(ctx context.Context, userID, recipientID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if recipientID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, userID, recipientID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	count, err := s.repo.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

func (s *service) PurgeEntity(ctx context.Context, ref fanout.EntityRef) (int64, error) {
	if ref.Type == "" || ref.ID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "entity type and id required")
	}
	deleted, err := s.repo.DeleteForEntity(ctx, ref.Type, ref.ID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge entity activities")
	}
	if deleted > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"entity":  ref.String(),
			"deleted": deleted,
		})
		s.logg.Info(logCtx, "purged activities for deleted entity")
	}
	return deleted, nil
}

func (s *service) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if cutoff.IsZero() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "cutoff required")
	}
	if limit <= 0 {
		limit = 1000
	}
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff.UTC(), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge expired activities")
	}
	return deleted, nil
}
