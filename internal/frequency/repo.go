package frequency

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
)

// Repository persists per-user digest cadence preferences.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, userID uuid.UUID) (*models.EmailFrequencyPreference, error)
	Upsert(ctx context.Context, pref *models.EmailFrequencyPreference) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a preference repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// Get returns nil without error when the user never picked a cadence.
func (r *repositoryImpl) Get(ctx context.Context, userID uuid.UUID) (*models.EmailFrequencyPreference, error) {
	var pref models.EmailFrequencyPreference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

func (r *repositoryImpl) Upsert(ctx context.Context, pref *models.EmailFrequencyPreference) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"frequency", "updated_at"}),
		}).
		Create(pref).Error
}
