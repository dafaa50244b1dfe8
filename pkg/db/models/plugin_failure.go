package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PluginFailure is an operator-visible record of a gate, resolver or
// destination that errored or panicked during fan-out.
type PluginFailure struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Kind       string    `gorm:"column:kind;not null"`
	PluginID   string    `gorm:"column:plugin_id;not null;index:idx_plugin_failures_plugin"`
	TemplateID string    `gorm:"column:template_id;not null"`
	Message    string    `gorm:"column:message;not null"`
	FailedAt   time.Time `gorm:"column:failed_at;not null;index:idx_plugin_failures_plugin"`
}

func (PluginFailure) TableName() string { return "plugin_failures" }

func (p *PluginFailure) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
