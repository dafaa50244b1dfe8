package configentity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

var fixedNow = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.MessageTemplate{}, &models.ConfigEntitySequence{}))
	return conn
}

func newTestRepository(t *testing.T, db *gorm.DB) *Repository {
	t.Helper()
	repo, err := NewRepository(RepositoryParams{DB: db, Logger: logger.Nop(), Now: func() time.Time { return fixedNow }, MaxAttempts: 3})
	require.NoError(t, err)
	return repo
}

func TestSaveAssignsNextUniqueID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := newTestRepository(t, db)

	for _, id := range []string{"vote_cast", "content_report"} {
		require.NoError(t, repo.Save(ctx, &models.MessageTemplate{ID: id, Label: id}))
	}

	third := &models.MessageTemplate{ID: "post_published", Label: "Post published"}
	require.NoError(t, repo.Save(ctx, third))
	require.EqualValues(t, 2, third.UniqueID)
	require.True(t, third.CreatedAt.Equal(fixedNow))

	var first models.MessageTemplate
	require.NoError(t, db.Where("id = ?", "vote_cast").First(&first).Error)
	require.EqualValues(t, 0, first.UniqueID)
}

func TestSaveExistingKeepsLifecycleFields(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := newTestRepository(t, db)

	tmpl := &models.MessageTemplate{ID: "vote_cast", Label: "Vote", Digestable: true}
	require.NoError(t, repo.Save(ctx, tmpl))
	require.NoError(t, repo.Save(ctx, &models.MessageTemplate{ID: "content_report", Label: "Report"}))

	tmpl.Label = "New vote"
	tmpl.UniqueID = 99
	require.NoError(t, repo.Save(ctx, tmpl))

	var stored models.MessageTemplate
	require.NoError(t, db.Where("id = ?", "vote_cast").First(&stored).Error)
	require.Equal(t, "New vote", stored.Label)
	require.EqualValues(t, 0, stored.UniqueID)
	require.True(t, stored.CreatedAt.Equal(fixedNow))
}

func TestSaveNeverReusesDeletedUniqueID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := newTestRepository(t, db)

	for _, id := range []string{"vote_cast", "content_report", "post_published"} {
		require.NoError(t, repo.Save(ctx, &models.MessageTemplate{ID: id, Label: id}))
	}
	require.NoError(t, db.Where("id = ?", "post_published").Delete(&models.MessageTemplate{}).Error)

	next := &models.MessageTemplate{ID: "tags_added", Label: "Tags added"}
	require.NoError(t, repo.Save(ctx, next))
	require.EqualValues(t, 3, next.UniqueID)

	var seq models.ConfigEntitySequence
	require.NoError(t, db.Where("entity_table = ?", "message_templates").First(&seq).Error)
	require.EqualValues(t, 4, seq.NextID)
}

func TestSaveFollowsRowsInsertedOutsideRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := newTestRepository(t, db)

	require.NoError(t, repo.Save(ctx, &models.MessageTemplate{ID: "vote_cast", Label: "Vote"}))
	require.NoError(t, db.Exec(
		"INSERT INTO message_templates (id, label, description, digestable, unique_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		"imported", "Imported", "", true, 7, fixedNow,
	).Error)

	next := &models.MessageTemplate{ID: "content_report", Label: "Report"}
	require.NoError(t, repo.Save(ctx, next))
	require.EqualValues(t, 8, next.UniqueID)
}

func TestSaveConcurrentAssignsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := newTestRepository(t, db)

	const n = 8
	templates := make([]*models.MessageTemplate, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		templates[i] = &models.MessageTemplate{ID: fmt.Sprintf("template_%d", i), Label: "t"}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Save(ctx, templates[i])
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.False(t, seen[templates[i].UniqueID], "unique id %d assigned twice", templates[i].UniqueID)
		seen[templates[i].UniqueID] = true
	}
	for id := int64(0); id < n; id++ {
		require.True(t, seen[id], "missing unique id %d", id)
	}
}

// injectCollision occupies the unique id a save is about to use, inside the
// same transaction, for the first n attempts.
func injectCollision(t *testing.T, db *gorm.DB, n int) *int {
	t.Helper()
	calls := 0
	err := db.Callback().Create().Before("gorm:create").Register("test:collide", func(tx *gorm.DB) {
		tmpl, ok := tx.Statement.Dest.(*models.MessageTemplate)
		if !ok || tmpl.ID == "squatter" {
			return
		}
		calls++
		if calls > n {
			return
		}
		tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO message_templates (id, label, description, digestable, unique_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			"squatter", "squatter", "", true, tmpl.UniqueID, fixedNow,
		)
	})
	require.NoError(t, err)
	return &calls
}

func TestSaveRetriesAfterCollision(t *testing.T) {
	db := openTestDB(t)
	repo := newTestRepository(t, db)
	calls := injectCollision(t, db, 1)

	tmpl := &models.MessageTemplate{ID: "vote_cast", Label: "Vote"}
	require.NoError(t, repo.Save(context.Background(), tmpl))
	require.Equal(t, 2, *calls)
	require.EqualValues(t, 0, tmpl.UniqueID)
}

func TestSaveReportsCollisionAfterMaxAttempts(t *testing.T) {
	db := openTestDB(t)
	repo := newTestRepository(t, db)
	calls := injectCollision(t, db, 100)

	tmpl := &models.MessageTemplate{ID: "vote_cast", Label: "Vote"}
	err := repo.Save(context.Background(), tmpl)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUniqueIDCollision), "got %v", err)
	require.Equal(t, 3, *calls)
	require.True(t, tmpl.IsNew())
}

func TestSaveDuplicatePrimaryKeyIsNotRetried(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := newTestRepository(t, db)
	require.NoError(t, repo.Save(ctx, &models.MessageTemplate{ID: "vote_cast", Label: "Vote"}))

	err := repo.Save(ctx, &models.MessageTemplate{ID: "vote_cast", Label: "Again"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
}

func TestTemplateCatalog(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := newTestRepository(t, db)
	catalog, err := NewTemplateCatalog(db, repo, logger.Nop())
	require.NoError(t, err)

	created, err := catalog.Seed(ctx, DefaultTemplates())
	require.NoError(t, err)
	require.Equal(t, len(DefaultTemplates()), created)

	created, err = catalog.Seed(ctx, DefaultTemplates())
	require.NoError(t, err)
	require.Zero(t, created)

	require.False(t, catalog.Digestable(ctx, "enrollment_confirmed"))
	require.True(t, catalog.Digestable(ctx, "vote_cast"))
	require.True(t, catalog.Digestable(ctx, "unconfigured"))

	order, err := catalog.Order(ctx, []string{"vote_cast", "content_report", "unconfigured"})
	require.NoError(t, err)
	require.Less(t, order["content_report"], order["vote_cast"])
	_, ok := order["unconfigured"]
	require.False(t, ok)
}
