package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	"github.com/angelmondragon/activity-fanout/pkg/enums"
	"github.com/angelmondragon/activity-fanout/pkg/pagination"
)

// Repository exposes persistence helpers for activities and their recipient rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateWithRecipients(ctx context.Context, activity *models.Activity) error
	ListForRecipient(ctx context.Context, params listRecipientParams) ([]models.ActivityRecipient, error)
	ListByActor(ctx context.Context, params listActorParams) ([]models.Activity, error)
	MarkRead(ctx context.Context, targetID, recipientID uuid.UUID, now time.Time) (markResult, error)
	MarkAllRead(ctx context.Context, targetID uuid.UUID, now time.Time) (int64, error)
	PendingRecipientIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
	PendingForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.ActivityRecipient, error)
	MarkDelivered(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	RecordDeliveryFailure(ctx context.Context, ids []uuid.UUID, message string) error
	MarkDigestFailed(ctx context.Context, ids []uuid.UUID, message string) (int64, error)
	DeleteForEntity(ctx context.Context, entityType, entityID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an activities repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listRecipientParams struct {
	TargetType   enums.TargetType
	TargetID     uuid.UUID
	Destinations []string
	Limit        int
	Cursor       *pagination.Cursor
	UnreadOnly   bool
}

type listActorParams struct {
	ActorID      uuid.UUID
	Destinations []string
	Limit        int
	Cursor       *pagination.Cursor
}

type markResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// CreateWithRecipients inserts the activity and all recipient rows atomically.
func (r *repositoryImpl) CreateWithRecipients(ctx context.Context, activity *models.Activity) error {
	if activity == nil {
		return fmt.Errorf("activity required")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(activity).Error; err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		if len(activity.Recipients) == 0 {
			return nil
		}
		for i := range activity.Recipients {
			activity.Recipients[i].ActivityID = activity.ID
		}
		if err := tx.Omit(clause.Associations).Create(&activity.Recipients).Error; err != nil {
			return fmt.Errorf("insert activity recipients: %w", err)
		}
		return nil
	})
}

func (r *repositoryImpl) ListForRecipient(ctx context.Context, params listRecipientParams) ([]models.ActivityRecipient, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ActivityRecipient{}).
		Joins("JOIN activities ON activities.id = activity_recipients.activity_id").
		Where("activity_recipients.target_type = ? AND activity_recipients.target_id = ?", params.TargetType, params.TargetID)
	if params.UnreadOnly {
		query = query.Where("activity_recipients.status = ?", enums.ReadStatusUnread)
	}
	query = whereAnyDestination(query, params.Destinations)
	if params.Cursor != nil {
		query = query.Where("(activity_recipients.created_at, activity_recipients.id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.ActivityRecipient
	err := query.
		Preload("Activity").
		Order("activity_recipients.created_at DESC, activity_recipients.id DESC").
		Limit(params.Limit).
		Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) ListByActor(ctx context.Context, params listActorParams) ([]models.Activity, error) {
	query := r.db.WithContext(ctx).Model(&models.Activity{}).Where("actor_id = ?", params.ActorID)
	query = whereAnyDestination(query, params.Destinations)
	if params.Cursor != nil {
		query = query.Where("(activities.created_at, activities.id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Activity
	err := query.Order("activities.created_at DESC, activities.id DESC").Limit(params.Limit).Find(&rows).Error
	return rows, err
}

// whereAnyDestination matches the serialized destination ids; the text cast
// keeps the filter portable between jsonb and sqlite json text.
func whereAnyDestination(query *gorm.DB, destinations []string) *gorm.DB {
	if len(destinations) == 0 {
		return query
	}
	cond := query.Session(&gorm.Session{NewDB: true})
	for i, id := range destinations {
		pattern := fmt.Sprintf("%%%q%%", id)
		if i == 0 {
			cond = cond.Where("CAST(activities.destinations AS TEXT) LIKE ?", pattern)
			continue
		}
		cond = cond.Or("CAST(activities.destinations AS TEXT) LIKE ?", pattern)
	}
	return query.Where(cond)
}

func (r *repositoryImpl) MarkRead(ctx context.Context, targetID, recipientID uuid.UUID, now time.Time) (markResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ActivityRecipient{}).
		Where("id = ? AND target_id = ? AND status = ?", recipientID, targetID, enums.ReadStatusUnread).
		UpdateColumns(map[string]any{"status": enums.ReadStatusRead, "read_at": now})
	if result.Error != nil {
		return markResult{}, result.Error
	}

	mark := markResult{Updated: result.RowsAffected > 0}
	if result.RowsAffected > 0 {
		mark.Found = true
		return mark, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ActivityRecipient{}).
		Where("id = ? AND target_id = ?", recipientID, targetID).
		Count(&count).Error; err != nil {
		return markResult{}, err
	}
	mark.Found = count > 0
	return mark, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, targetID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ActivityRecipient{}).
		Where("target_id = ? AND status = ?", targetID, enums.ReadStatusUnread).
		UpdateColumns(map[string]any{"status": enums.ReadStatusRead, "read_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// PendingRecipientIDs pages through users with undelivered digest rows, ordered by id.
func (r *repositoryImpl) PendingRecipientIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ActivityRecipient{}).
		Where("digest_status = ? AND target_type = ?", enums.DigestPending, enums.TargetUser)
	if afterID != uuid.Nil {
		query = query.Where("target_id > ?", afterID)
	}
	var ids []uuid.UUID
	err := query.Distinct("target_id").Order("target_id ASC").Limit(limit).Pluck("target_id", &ids).Error
	return ids, err
}

// PendingForRecipient returns the oldest pending rows for one user with their activities.
func (r *repositoryImpl) PendingForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.ActivityRecipient, error) {
	var rows []models.ActivityRecipient
	err := r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ? AND digest_status = ?", enums.TargetUser, recipientID, enums.DigestPending).
		Preload("Activity").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) MarkDelivered(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.ActivityRecipient{}).
		Where("id IN ? AND digest_status = ?", ids, enums.DigestPending).
		UpdateColumns(map[string]any{
			"digest_status":     enums.DigestDelivered,
			"delivered_at":      now,
			"last_digest_error": nil,
		})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) RecordDeliveryFailure(ctx context.Context, ids []uuid.UUID, message string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ActivityRecipient{}).
		Where("id IN ? AND digest_status = ?", ids, enums.DigestPending).
		UpdateColumns(map[string]any{
			"digest_attempts":   gorm.Expr("digest_attempts + 1"),
			"last_digest_error": message,
		}).Error
}

func (r *repositoryImpl) MarkDigestFailed(ctx context.Context, ids []uuid.UUID, message string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.ActivityRecipient{}).
		Where("id IN ? AND digest_status = ?", ids, enums.DigestPending).
		UpdateColumns(map[string]any{
			"digest_status":     enums.DigestFailed,
			"last_digest_error": message,
		})
	return result.RowsAffected, result.Error
}

// DeleteForEntity purges every activity about the entity together with its recipient rows.
func (r *repositoryImpl) DeleteForEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		if err := tx.Model(&models.Activity{}).
			Where("related_entity_type = ? AND related_entity_id = ?", entityType, entityID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		n, err := deleteActivities(tx, ids)
		deleted = n
		return err
	})
	return deleted, err
}

// DeleteOlderThan purges up to limit activities created before cutoff.
func (r *repositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		if err := tx.Model(&models.Activity{}).
			Where("created_at < ?", cutoff).
			Order("created_at ASC").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		n, err := deleteActivities(tx, ids)
		deleted = n
		return err
	})
	return deleted, err
}

// deleteActivities removes recipient rows explicitly so drivers without
// enforced foreign keys leave no orphans.
func deleteActivities(tx *gorm.DB, ids []uuid.UUID) (int64, error) {
	if err := tx.Where("activity_id IN ?", ids).Delete(&models.ActivityRecipient{}).Error; err != nil {
		return 0, fmt.Errorf("delete activity recipients: %w", err)
	}
	result := tx.Where("id IN ?", ids).Delete(&models.Activity{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete activities: %w", result.Error)
	}
	return result.RowsAffected, nil
}
