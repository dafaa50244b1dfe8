package fanout

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

func openFailureDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.PluginFailure{}))
	return conn
}

func TestFailureRepositoryRecordsGuardedFailures(t *testing.T) {
	ctx := context.Background()
	repo, err := NewFailureRepository(openFailureDB(t), logger.Nop())
	require.NoError(t, err)
	repo.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	g := guard{logg: logger.Nop(), reporter: repo}
	failure := g.run(ctx, "resolver", "permission_holders", "content_report", func() error {
		return errors.New("directory offline")
	})
	require.NotNil(t, failure)
	g.run(ctx, "gate", "root_item", "post_published", func() error {
		panic(strings.Repeat("x", 2000))
	})

	rows, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byPlugin := map[string]models.PluginFailure{}
	for _, row := range rows {
		byPlugin[row.PluginID] = row
	}
	resolver := byPlugin["permission_holders"]
	require.Equal(t, "resolver", resolver.Kind)
	require.Equal(t, "content_report", resolver.TemplateID)
	require.Contains(t, resolver.Message, "directory offline")

	gate := byPlugin["root_item"]
	require.Equal(t, "gate", gate.Kind)
	require.Len(t, gate.Message, maxFailureMessageLen)
}

func TestFailureRepositoryToleratesWriteErrors(t *testing.T) {
	db := openFailureDB(t)
	require.NoError(t, db.Migrator().DropTable(&models.PluginFailure{}))
	repo, err := NewFailureRepository(db, logger.Nop())
	require.NoError(t, err)

	g := guard{logg: logger.Nop(), reporter: repo}
	failure := g.run(context.Background(), "destination", "stream_group", "vote_cast", func() error {
		return errors.New("bad view")
	})
	require.NotNil(t, failure)
}

func TestNewFailureRepositoryValidates(t *testing.T) {
	_, err := NewFailureRepository(nil, logger.Nop())
	require.Error(t, err)
	_, err = NewFailureRepository(openFailureDB(t), nil)
	require.Error(t, err)
}
