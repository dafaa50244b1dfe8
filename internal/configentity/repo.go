package configentity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/activity-fanout/pkg/db"
	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

const defaultMaxAttempts = 5

// Entity is a configuration object carrying the shared lifecycle fields.
type Entity interface {
	TableName() string
	ConfigBase() *models.ConfigEntity
}

// Repository saves configuration entities, assigning each new instance the
// next unique id of its table. Ids come from a per-table high-water mark and
// are never handed out twice, even after the entity holding one is deleted.
type Repository struct {
	db          *gorm.DB
	logg        *logger.Logger
	now         func() time.Time
	maxAttempts int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// RepositoryParams wires the repository.
type RepositoryParams struct {
	DB          *gorm.DB
	Logger      *logger.Logger
	Now         func() time.Time
	MaxAttempts int
}

func NewRepository(params RepositoryParams) (*Repository, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Repository{
		db:          params.DB,
		logg:        params.Logger,
		now:         now,
		maxAttempts: attempts,
		locks:       map[string]*sync.Mutex{},
	}, nil
}

func (r *Repository) tableLock(table string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[table]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[table] = lock
	}
	return lock
}

// Save inserts new entities and updates existing ones. UniqueID and CreatedAt
// are stamped on insert only.
func (r *Repository) Save(ctx context.Context, entity Entity) error {
	if entity == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "config entity required")
	}
	base := entity.ConfigBase()
	if !base.IsNew() {
		if err := r.db.WithContext(ctx).Omit("unique_id", "created_at").Save(entity).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update config entity")
		}
		return nil
	}

	table := entity.TableName()
	lock := r.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			next, err := nextUniqueID(tx, table)
			if err != nil {
				return err
			}
			base.UniqueID = next
			base.CreatedAt = r.now().UTC()
			if err := tx.Create(entity).Error; err != nil {
				return err
			}
			return advanceSequence(tx, table, next+1)
		})
		if err == nil {
			return nil
		}
		id := base.UniqueID
		base.UniqueID = 0
		base.CreatedAt = time.Time{}
		if !isUniqueIDViolation(err, table) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert config entity")
		}

		logCtx := r.logg.WithFields(ctx, map[string]any{
			"table":     table,
			"unique_id": id,
			"attempt":   attempt,
		})
		r.logg.Warn(logCtx, "unique id collision, retrying with fresh max")
	}
	return pkgerrors.New(pkgerrors.CodeUniqueIDCollision, fmt.Sprintf("could not assign unique id for %s after %d attempts", table, r.maxAttempts))
}

// nextUniqueID is max(high-water mark, MAX(unique_id)+1). The max read keeps
// rows inserted outside the repository from being collided with.
func nextUniqueID(tx *gorm.DB, table string) (int64, error) {
	var fromMax int64
	if err := tx.Table(table).Select("COALESCE(MAX(unique_id), -1) + 1").Scan(&fromMax).Error; err != nil {
		return 0, fmt.Errorf("read max unique id: %w", err)
	}
	var seq models.ConfigEntitySequence
	res := tx.Where("entity_table = ?", table).Limit(1).Find(&seq)
	if res.Error != nil {
		return 0, fmt.Errorf("read unique id sequence: %w", res.Error)
	}
	if res.RowsAffected > 0 && seq.NextID > fromMax {
		return seq.NextID, nil
	}
	return fromMax, nil
}

func advanceSequence(tx *gorm.DB, table string, next int64) error {
	seq := models.ConfigEntitySequence{EntityTable: table, NextID: next}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_table"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_id"}),
	}).Create(&seq).Error
	if err != nil {
		return fmt.Errorf("advance unique id sequence: %w", err)
	}
	return nil
}

// isUniqueIDViolation matches the postgres index name or the sqlite column path.
func isUniqueIDViolation(err error, table string) bool {
	return db.IsUniqueViolation(err, "idx_"+table+"_unique_id") || db.IsUniqueViolation(err, table+".unique_id")
}
