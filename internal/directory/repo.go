package directory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
)

// Repository reads who holds a permission and who belongs to a group.
// Both lookups page by user id: pass uuid.Nil for the first page and the last
// returned id for the next.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UsersWithPermission(ctx context.Context, permission string, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
	GroupMembers(ctx context.Context, groupID, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
	GrantPermission(ctx context.Context, userID uuid.UUID, permission string) error
	AddGroupMember(ctx context.Context, groupID, userID uuid.UUID) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a directory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) UsersWithPermission(ctx context.Context, permission string, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).
		Model(&models.UserPermission{}).
		Where("permission = ?", permission)
	return pluckUserIDs(query, afterID, limit)
}

func (r *repositoryImpl) GroupMembers(ctx context.Context, groupID, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).
		Model(&models.GroupMembership{}).
		Where("group_id = ?", groupID)
	return pluckUserIDs(query, afterID, limit)
}

func (r *repositoryImpl) GrantPermission(ctx context.Context, userID uuid.UUID, permission string) error {
	row := models.UserPermission{UserID: userID, Permission: permission}
	return r.db.WithContext(ctx).Where(row).FirstOrCreate(&row).Error
}

func (r *repositoryImpl) AddGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	row := models.GroupMembership{GroupID: groupID, UserID: userID}
	return r.db.WithContext(ctx).Where(row).FirstOrCreate(&row).Error
}

func pluckUserIDs(query *gorm.DB, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	if afterID != uuid.Nil {
		query = query.Where("user_id > ?", afterID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var ids []uuid.UUID
	if err := query.Order("user_id ASC").Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
