package fanout

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

const maxFailureMessageLen = 1024

// FailureRepository persists plugin failures so operators can list them
// without scraping logs. It is the production FailureReporter.
type FailureRepository struct {
	db   *gorm.DB
	logg *logger.Logger
	now  func() time.Time
}

func NewFailureRepository(db *gorm.DB, logg *logger.Logger) (*FailureRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &FailureRepository{db: db, logg: logg, now: time.Now}, nil
}

// ReportPluginFailure records the failure. A write error is logged and
// swallowed; fan-out never blocks on the failure channel.
func (r *FailureRepository) ReportPluginFailure(ctx context.Context, failure *pkgerrors.Error) {
	if failure == nil {
		return
	}
	entry := models.PluginFailure{
		Message:  truncateFailureMessage(failure.Error()),
		FailedAt: r.now().UTC(),
	}
	if details, ok := failure.Details().(FailureDetails); ok {
		entry.Kind = details.Kind
		entry.PluginID = details.PluginID
		entry.TemplateID = details.TemplateID
	}
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error; err != nil {
		logCtx := r.logg.WithPlugin(ctx, entry.Kind, entry.PluginID)
		r.logg.Error(logCtx, "record plugin failure", err)
	}
}

// List returns the most recent failures, newest first.
func (r *FailureRepository) List(ctx context.Context, limit int) ([]models.PluginFailure, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.PluginFailure
	err := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func truncateFailureMessage(msg string) string {
	if len(msg) <= maxFailureMessageLen {
		return msg
	}
	return msg[:maxFailureMessageLen]
}
