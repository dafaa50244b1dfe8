package plugins

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/internal/fanout"
	"github.com/angelmondragon/activity-fanout/pkg/enums"
)

const (
	ResolverEntityOwner       = "entity_owner"
	ResolverPermissionHolders = "permission_holders"
	ResolverGroupMembers      = "group_members"
	ResolverGroupAudience     = "group_audience"
	ResolverSelfConfirmation  = "self_confirmation"
)

// Directory answers the paged membership questions resolvers ask.
type Directory interface {
	UsersWithPermission(ctx context.Context, permission string, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
	GroupMembers(ctx context.Context, groupID, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// EntityOwner resolves the author of the related entity.
type EntityOwner struct{}

func (EntityOwner) ID() string    { return ResolverEntityOwner }
func (EntityOwner) Label() string { return "Entity owner" }

func (EntityOwner) IsValidEntity(entity *fanout.Entity) bool {
	return entity != nil && entity.OwnerID != uuid.Nil
}

func (EntityOwner) ResolveRecipients(_ context.Context, data fanout.ActivityData, lastID uuid.UUID, _ int) ([]fanout.Recipient, error) {
	if lastID != uuid.Nil || data.Entity == nil {
		return nil, nil
	}
	return []fanout.Recipient{fanout.UserRecipient(data.Entity.OwnerID)}, nil
}

// PermissionHolders resolves every user holding a permission.
type PermissionHolders struct {
	id         string
	permission string
	directory  Directory
}

// NewPermissionHolders builds a resolver for one permission. An empty id
// registers it under the default resolver id.
func NewPermissionHolders(id, permission string, directory Directory) (*PermissionHolders, error) {
	if permission == "" {
		return nil, fmt.Errorf("permission required")
	}
	if directory == nil {
		return nil, fmt.Errorf("directory required")
	}
	if id == "" {
		id = ResolverPermissionHolders
	}
	return &PermissionHolders{id: id, permission: permission, directory: directory}, nil
}

func (r *PermissionHolders) ID() string    { return r.id }
func (r *PermissionHolders) Label() string { return "Users with permission " + r.permission }

func (r *PermissionHolders) IsValidEntity(*fanout.Entity) bool { return true }

func (r *PermissionHolders) ResolveRecipients(ctx context.Context, _ fanout.ActivityData, lastID uuid.UUID, limit int) ([]fanout.Recipient, error) {
	ids, err := r.directory.UsersWithPermission(ctx, r.permission, lastID, limit)
	if err != nil {
		return nil, fmt.Errorf("users with permission %q: %w", r.permission, err)
	}
	return usersToRecipients(ids), nil
}

// GroupMembers resolves the members of the entity's audience group.
type GroupMembers struct {
	directory Directory
}

func NewGroupMembers(directory Directory) (*GroupMembers, error) {
	if directory == nil {
		return nil, fmt.Errorf("directory required")
	}
	return &GroupMembers{directory: directory}, nil
}

func (r *GroupMembers) ID() string    { return ResolverGroupMembers }
func (r *GroupMembers) Label() string { return "Group members" }

func (r *GroupMembers) IsValidEntity(entity *fanout.Entity) bool {
	return entity != nil && entity.GroupID != uuid.Nil
}

func (r *GroupMembers) ResolveRecipients(ctx context.Context, data fanout.ActivityData, lastID uuid.UUID, limit int) ([]fanout.Recipient, error) {
	ids, err := r.directory.GroupMembers(ctx, data.Entity.GroupID, lastID, limit)
	if err != nil {
		return nil, fmt.Errorf("group members %s: %w", data.Entity.GroupID, err)
	}
	return usersToRecipients(ids), nil
}

// GroupAudience targets the audience group itself, feeding the group stream.
type GroupAudience struct{}

func (GroupAudience) ID() string    { return ResolverGroupAudience }
func (GroupAudience) Label() string { return "Group audience" }

func (GroupAudience) IsValidEntity(entity *fanout.Entity) bool {
	return entity != nil && entity.GroupID != uuid.Nil
}

func (GroupAudience) ResolveRecipients(_ context.Context, data fanout.ActivityData, lastID uuid.UUID, _ int) ([]fanout.Recipient, error) {
	if lastID != uuid.Nil {
		return nil, nil
	}
	return []fanout.Recipient{{TargetType: enums.TargetGroup, TargetID: data.Entity.GroupID}}, nil
}

// SelfConfirmation notifies the actor, e.g. a user who enrolled themselves.
type SelfConfirmation struct{}

func (SelfConfirmation) ID() string                        { return ResolverSelfConfirmation }
func (SelfConfirmation) Label() string                     { return "Actor confirmation" }
func (SelfConfirmation) IsValidEntity(*fanout.Entity) bool { return true }
func (SelfConfirmation) AllowsSelfNotification() bool      { return true }

func (SelfConfirmation) ResolveRecipients(_ context.Context, data fanout.ActivityData, lastID uuid.UUID, _ int) ([]fanout.Recipient, error) {
	if lastID != uuid.Nil {
		return nil, nil
	}
	return []fanout.Recipient{fanout.UserRecipient(data.ActorID)}, nil
}

func usersToRecipients(ids []uuid.UUID) []fanout.Recipient {
	out := make([]fanout.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, fanout.UserRecipient(id))
	}
	return out
}
