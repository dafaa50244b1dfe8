package directory

import (
	"context"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.UserPermission{}, &models.GroupMembership{}))
	return conn
}

func sortedIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func TestUsersWithPermissionPagesByUserID(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t))
	moderators := sortedIDs(3)
	for _, id := range moderators {
		require.NoError(t, repo.GrantPermission(ctx, id, "view inappropriate reports"))
	}
	require.NoError(t, repo.GrantPermission(ctx, moderators[0], "view inappropriate reports"))
	require.NoError(t, repo.GrantPermission(ctx, uuid.New(), "administer site"))

	first, err := repo.UsersWithPermission(ctx, "view inappropriate reports", uuid.Nil, 2)
	require.NoError(t, err)
	require.Equal(t, moderators[:2], first)

	second, err := repo.UsersWithPermission(ctx, "view inappropriate reports", first[len(first)-1], 2)
	require.NoError(t, err)
	require.Equal(t, moderators[2:], second)
}

func TestGroupMembers(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t))
	group, other := uuid.New(), uuid.New()
	members := sortedIDs(2)
	for _, id := range members {
		require.NoError(t, repo.AddGroupMember(ctx, group, id))
	}
	require.NoError(t, repo.AddGroupMember(ctx, other, uuid.New()))

	got, err := repo.GroupMembers(ctx, group, uuid.Nil, 10)
	require.NoError(t, err)
	require.Equal(t, members, got)
}
