package models

import "time"

// ConfigEntity carries the lifecycle fields shared by configuration objects.
// Both fields are stamped once, on first save, and never change afterwards.
type ConfigEntity struct {
	UniqueID  int64     `gorm:"column:unique_id;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// ConfigBase exposes the embedded lifecycle fields.
func (c *ConfigEntity) ConfigBase() *ConfigEntity { return c }

// IsNew reports whether the entity has never been persisted.
func (c *ConfigEntity) IsNew() bool { return c.CreatedAt.IsZero() }

// MessageTemplate configures one business event that can produce activities.
type MessageTemplate struct {
	ID          string `gorm:"column:id;primaryKey"`
	Label       string `gorm:"column:label;not null"`
	Description string `gorm:"column:description"`
	Digestable  bool   `gorm:"column:digestable;not null"`
	ConfigEntity
}

func (MessageTemplate) TableName() string { return "message_templates" }

// ConfigEntitySequence is the per-table high-water mark for unique ids, so an
// id stays retired after its entity is deleted.
type ConfigEntitySequence struct {
	EntityTable string `gorm:"column:entity_table;primaryKey"`
	NextID      int64  `gorm:"column:next_id;not null"`
}

func (ConfigEntitySequence) TableName() string { return "config_entity_sequences" }
