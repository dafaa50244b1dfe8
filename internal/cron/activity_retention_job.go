package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

const (
	activityRetentionDays = 180
	activityPurgeBatch    = 1000
)

type ActivityRetentionJobParams struct {
	Logger    *logger.Logger
	Purger    activityPurger
	Retention int
	BatchSize int
}

type activityPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

func NewActivityRetentionJob(params ActivityRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Purger == nil {
		return nil, fmt.Errorf("activity purger required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = activityRetentionDays
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = activityPurgeBatch
	}
	return &activityRetentionJob{
		logg:      params.Logger,
		purger:    params.Purger,
		retention: retention,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type activityRetentionJob struct {
	logg      *logger.Logger
	purger    activityPurger
	retention int
	batch     int
	now       func() time.Time
}

func (j *activityRetentionJob) Name() string { return "activity-retention" }

// Run deletes expired activities in batches until a short batch comes back.
func (j *activityRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var deleted int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := j.purger.PurgeOlderThan(ctx, cutoff, j.batch)
		if err != nil {
			return fmt.Errorf("activity retention: %w", err)
		}
		deleted += rows
		if rows < int64(j.batch) {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "activity retention complete")
	return nil
}
