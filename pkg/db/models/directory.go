package models

import "github.com/google/uuid"

// UserPermission grants a named permission to a user.
type UserPermission struct {
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Permission string    `gorm:"column:permission;primaryKey;index"`
}

func (UserPermission) TableName() string { return "user_permissions" }

// GroupMembership links a user to a group.
type GroupMembership struct {
	GroupID uuid.UUID `gorm:"column:group_id;type:uuid;primaryKey"`
	UserID  uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
}

func (GroupMembership) TableName() string { return "group_memberships" }
