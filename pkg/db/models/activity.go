package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/activity-fanout/pkg/enums"
)

// Activity is one fan-out of a triggering entity mutation. Only per-recipient
// read/digest state changes after insert.
type Activity struct {
	ID                uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	TemplateID        string                      `gorm:"column:template_id;not null;index:idx_activities_template_created,priority:1"`
	ActorID           uuid.UUID                   `gorm:"column:actor_id;type:uuid;not null"`
	RelatedEntityType *string                     `gorm:"column:related_entity_type;index:idx_activities_related,priority:1"`
	RelatedEntityID   *string                     `gorm:"column:related_entity_id;index:idx_activities_related,priority:2"`
	Destinations      datatypes.JSONSlice[string] `gorm:"column:destinations;not null"`
	Extra             datatypes.JSONMap           `gorm:"column:extra"`
	CreatedAt         time.Time                   `gorm:"column:created_at;not null;index:idx_activities_template_created,priority:2"`
	Recipients        []ActivityRecipient         `gorm:"foreignKey:ActivityID;constraint:OnDelete:CASCADE"`
}

func (Activity) TableName() string { return "activities" }

func (a *Activity) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// HasDestination reports whether the activity was routed to the destination.
func (a Activity) HasDestination(id string) bool {
	for _, dest := range a.Destinations {
		if dest == id {
			return true
		}
	}
	return false
}

// ActivityRecipient joins an activity to one target with its own read and
// digest delivery state.
type ActivityRecipient struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ActivityID      uuid.UUID          `gorm:"column:activity_id;type:uuid;not null;uniqueIndex:ux_activity_recipients_target,priority:1"`
	TemplateID      string             `gorm:"column:template_id;not null"`
	TargetType      enums.TargetType   `gorm:"column:target_type;not null;uniqueIndex:ux_activity_recipients_target,priority:2"`
	TargetID        uuid.UUID          `gorm:"column:target_id;type:uuid;not null;uniqueIndex:ux_activity_recipients_target,priority:3;index:idx_activity_recipients_target_status,priority:1"`
	Status          enums.ReadStatus   `gorm:"column:status;not null;default:unread;index:idx_activity_recipients_target_status,priority:2"`
	ReadAt          *time.Time         `gorm:"column:read_at"`
	DigestStatus    enums.DigestStatus `gorm:"column:digest_status;not null;default:not_applicable;index"`
	DigestAttempts  int                `gorm:"column:digest_attempts;not null;default:0"`
	LastDigestError *string            `gorm:"column:last_digest_error"`
	DeliveredAt     *time.Time         `gorm:"column:delivered_at"`
	CreatedAt       time.Time          `gorm:"column:created_at;not null"`
	Activity        *Activity          `gorm:"foreignKey:ActivityID"`
}

func (ActivityRecipient) TableName() string { return "activity_recipients" }

func (r *ActivityRecipient) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
