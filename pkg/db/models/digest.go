package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailFrequencyPreference stores the one cadence a user picked for digest email.
type EmailFrequencyPreference struct {
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Frequency string    `gorm:"column:frequency;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (EmailFrequencyPreference) TableName() string { return "email_frequency_preferences" }

// DigestLog records every digest handed to the mail queue.
type DigestLog struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	RecipientID   uuid.UUID `gorm:"column:recipient_id;type:uuid;not null;index"`
	Frequency     string    `gorm:"column:frequency;not null"`
	WindowKey     string    `gorm:"column:window_key;not null;uniqueIndex:ux_digest_logs_window"`
	TaskID        string    `gorm:"column:task_id;not null"`
	ActivityCount int       `gorm:"column:activity_count;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (DigestLog) TableName() string { return "digest_logs" }

func (d *DigestLog) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
