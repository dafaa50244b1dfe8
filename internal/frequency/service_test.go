package frequency

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
)

func newTestService(t *testing.T, defaultID string) (Service, Repository) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.EmailFrequencyPreference{}))

	registry, err := NewRegistry(defaultID)
	require.NoError(t, err)
	repo := NewRepository(conn)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewService(repo, registry, func() time.Time { return now })
	require.NoError(t, err)
	return svc, repo
}

func TestServiceDefaultsWhenUnset(t *testing.T) {
	svc, _ := newTestService(t, Daily)
	user := uuid.New()

	pref, err := svc.Get(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, Daily, pref.Frequency)
	require.True(t, pref.IsDefault)

	plugin, err := svc.Resolve(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, Daily, plugin.ID)
}

func TestServiceSetUpserts(t *testing.T) {
	svc, repo := newTestService(t, Immediately)
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.Set(ctx, user, Weekly)
	require.NoError(t, err)
	_, err = svc.Set(ctx, user, None)
	require.NoError(t, err)

	stored, err := repo.Get(ctx, user)
	require.NoError(t, err)
	require.Equal(t, None, stored.Frequency)

	pref, err := svc.Get(ctx, user)
	require.NoError(t, err)
	require.False(t, pref.IsDefault)
	require.Equal(t, None, pref.Frequency)
}

func TestServiceRejectsUnknownFrequency(t *testing.T) {
	svc, _ := newTestService(t, Immediately)

	_, err := svc.Set(context.Background(), uuid.New(), "hourly")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Get(context.Background(), uuid.Nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestServiceFallsBackForUnregisteredStoredValue(t *testing.T) {
	svc, repo := newTestService(t, Immediately)
	ctx := context.Background()
	user := uuid.New()
	require.NoError(t, repo.Upsert(ctx, &models.EmailFrequencyPreference{UserID: user, Frequency: "hourly", UpdatedAt: time.Now().UTC()}))

	plugin, err := svc.Resolve(ctx, user)
	require.NoError(t, err)
	require.Equal(t, Immediately, plugin.ID)
}
