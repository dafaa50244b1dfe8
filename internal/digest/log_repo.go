package digest

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/activity-fanout/pkg/db"
	"github.com/angelmondragon/activity-fanout/pkg/db/models"
)

// LogRepository stores one row per digest handed to the mail queue.
type LogRepository interface {
	Record(ctx context.Context, entry *models.DigestLog) error
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.DigestLog, error)
}

type logRepository struct {
	db *gorm.DB
}

func NewLogRepository(db *gorm.DB) LogRepository {
	return &logRepository{db: db}
}

// Record is a no-op when the window was already logged by an earlier sweep.
func (r *logRepository) Record(ctx context.Context, entry *models.DigestLog) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	if db.IsUniqueViolation(err, "") {
		return nil
	}
	return err
}

func (r *logRepository) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.DigestLog, error) {
	var rows []models.DigestLog
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
