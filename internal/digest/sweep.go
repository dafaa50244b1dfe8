package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/activity-fanout/internal/frequency"
	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/mailqueue"
	"github.com/angelmondragon/activity-fanout/pkg/metrics"
	"github.com/angelmondragon/activity-fanout/pkg/redis"
)

// JobName is the cron job name of the digest sweep.
const JobName = "digest-sweep"

const (
	defaultConcurrency      = 8
	defaultRecipientTimeout = 30 * time.Second
	defaultClaimTTL         = 5 * time.Minute
	defaultMaxAttempts      = 5
	defaultBatchSize        = 500
)

// Store is the pending-delivery view of activity recipient rows.
type Store interface {
	PendingRecipientIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
	PendingForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.ActivityRecipient, error)
	MarkDelivered(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	RecordDeliveryFailure(ctx context.Context, ids []uuid.UUID, message string) error
	MarkDigestFailed(ctx context.Context, ids []uuid.UUID, message string) (int64, error)
}

// FrequencyResolver returns the cadence governing a user's digests.
type FrequencyResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (frequency.Plugin, error)
}

// TemplateOrder ranks templates for digest sections.
type TemplateOrder interface {
	Order(ctx context.Context, templateIDs []string) (map[string]int64, error)
}

// Enqueuer hands a digest to the mail queue. Enqueueing an existing key is a no-op.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg mailqueue.Message) (string, error)
}

// ClaimStore backs the per-recipient claim that keeps overlapping sweeps apart.
type ClaimStore interface {
	redis.LockStore
	DigestClaimKey(recipientID string) string
}

// SweeperParams wires the sweeper.
type SweeperParams struct {
	Store       Store
	Frequencies FrequencyResolver
	Templates   TemplateOrder
	Queue       Enqueuer
	Logs        LogRepository
	Claims      ClaimStore
	Logger      *logger.Logger
	Metrics     *metrics.DigestMetrics

	Concurrency      int
	RecipientTimeout time.Duration
	ClaimTTL         time.Duration
	MaxAttempts      int
	BatchSize        int
	Now              func() time.Time
}

// Sweeper drains due recipients' pending notification activities into digest emails.
type Sweeper struct {
	store       Store
	frequencies FrequencyResolver
	templates   TemplateOrder
	queue       Enqueuer
	logs        LogRepository
	claims      ClaimStore
	logg        *logger.Logger
	metrics     *metrics.DigestMetrics

	concurrency      int
	recipientTimeout time.Duration
	claimTTL         time.Duration
	maxAttempts      int
	batchSize        int
	now              func() time.Time
}

// Outcome is what happened to one recipient during a sweep.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeNotDue   Outcome = "not_due"
	OutcomeDisabled Outcome = "disabled"
	OutcomeClaimed  Outcome = "claimed"
	OutcomeEmpty    Outcome = "empty"
	OutcomeFailed   Outcome = "failed"
)

func NewSweeper(params SweeperParams) (*Sweeper, error) {
	switch {
	case params.Store == nil:
		return nil, fmt.Errorf("store required")
	case params.Frequencies == nil:
		return nil, fmt.Errorf("frequency resolver required")
	case params.Queue == nil:
		return nil, fmt.Errorf("mail queue required")
	case params.Claims == nil:
		return nil, fmt.Errorf("claim store required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	s := &Sweeper{
		store:            params.Store,
		frequencies:      params.Frequencies,
		templates:        params.Templates,
		queue:            params.Queue,
		logs:             params.Logs,
		claims:           params.Claims,
		logg:             params.Logger,
		metrics:          params.Metrics,
		concurrency:      params.Concurrency,
		recipientTimeout: params.RecipientTimeout,
		claimTTL:         params.ClaimTTL,
		maxAttempts:      params.MaxAttempts,
		batchSize:        params.BatchSize,
		now:              params.Now,
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	if s.recipientTimeout <= 0 {
		s.recipientTimeout = defaultRecipientTimeout
	}
	if s.claimTTL <= 0 {
		s.claimTTL = defaultClaimTTL
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Sweeper) Name() string { return JobName }

// Run processes every recipient with pending digest rows. Recipients are
// independent: one failure is reported without affecting the others. When ctx
// ends no new recipients are started; in-flight ones finish under their own timeout.
func (s *Sweeper) Run(ctx context.Context) error {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	var (
		g        errgroup.Group
		mu       sync.Mutex
		errs     error
		outcomes = map[Outcome]int{}
	)
	g.SetLimit(s.concurrency)

	afterID := uuid.Nil
	stopped := false
	for !stopped && ctx.Err() == nil {
		ids, err := s.store.PendingRecipientIDs(ctx, afterID, s.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				errs = multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending digest recipients"))
			}
			break
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			recipientID := id
			g.Go(func() error {
				outcome, err := s.processRecipient(context.WithoutCancel(ctx), recipientID)
				mu.Lock()
				defer mu.Unlock()
				outcomes[outcome]++
				if err != nil {
					errs = multierr.Append(errs, err)
				}
				return nil
			})
		}
		if len(ids) < s.batchSize {
			break
		}
		afterID = ids[len(ids)-1]
	}
	_ = g.Wait()

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"sent":        outcomes[OutcomeSent],
		"not_due":     outcomes[OutcomeNotDue],
		"disabled":    outcomes[OutcomeDisabled],
		"claimed":     outcomes[OutcomeClaimed],
		"failed":      outcomes[OutcomeFailed],
		"duration_ms": time.Since(start).Milliseconds(),
	})
	s.logg.Info(logCtx, "digest sweep finished")
	return errs
}

// processRecipient flushes one recipient if their cadence window elapsed.
func (s *Sweeper) processRecipient(parent context.Context, recipientID uuid.UUID) (Outcome, error) {
	ctx, cancel := context.WithTimeout(parent, s.recipientTimeout)
	defer cancel()
	ctx = s.logg.WithRecipientID(ctx, recipientID.String())

	claim, err := redis.NewRedisLock(s.claims, s.claims.DigestClaimKey(recipientID.String()), s.claimTTL)
	if err != nil {
		return OutcomeFailed, err
	}
	ok, err := claim.Acquire(ctx)
	if err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim digest recipient")
	}
	if !ok {
		return OutcomeClaimed, nil
	}
	defer func() {
		if err := claim.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "release digest claim", err)
		}
	}()

	plugin, err := s.frequencies.Resolve(ctx, recipientID)
	if err != nil {
		return OutcomeFailed, err
	}
	if plugin.Disabled {
		return OutcomeDisabled, nil
	}

	rows, err := s.store.PendingForRecipient(ctx, recipientID, s.batchSize)
	if err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending digest rows")
	}
	if len(rows) == 0 {
		return OutcomeEmpty, nil
	}
	now := s.now().UTC()
	if !plugin.Due(rows[0].CreatedAt, now) {
		return OutcomeNotDue, nil
	}

	payload := BuildPayload(recipientID, plugin.ID, rows, s.templateOrder(ctx, rows))
	if payload.Count() == 0 {
		return OutcomeEmpty, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode digest payload")
	}

	ids := rowIDs(rows)
	key := WindowKey(recipientID, plugin.ID, payload.WindowStart, ids)
	taskID, err := s.queue.Enqueue(ctx, mailqueue.Message{Key: key, Payload: body})
	if err != nil {
		return OutcomeFailed, s.recordFailure(ctx, plugin.ID, rows, ids, err)
	}

	if _, err := s.store.MarkDelivered(ctx, ids, now); err != nil {
		// unchanged rows re-enqueue under the same key, which the queue drops
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark digest delivered")
	}
	s.metrics.IncSent(plugin.ID)

	if s.logs != nil {
		entry := &models.DigestLog{
			RecipientID:   recipientID,
			Frequency:     plugin.ID,
			WindowKey:     key,
			TaskID:        taskID,
			ActivityCount: payload.Count(),
			CreatedAt:     now,
		}
		if err := s.logs.Record(ctx, entry); err != nil {
			s.logg.Error(ctx, "record digest log", err)
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"frequency": plugin.ID,
		"task_id":   taskID,
		"items":     payload.Count(),
	})
	s.logg.Info(logCtx, "digest enqueued")
	return OutcomeSent, nil
}

func (s *Sweeper) templateOrder(ctx context.Context, rows []models.ActivityRecipient) map[string]int64 {
	if s.templates == nil {
		return nil
	}
	seen := map[string]struct{}{}
	ids := []string{}
	for _, row := range rows {
		if _, ok := seen[row.TemplateID]; ok {
			continue
		}
		seen[row.TemplateID] = struct{}{}
		ids = append(ids, row.TemplateID)
	}
	order, err := s.templates.Order(ctx, ids)
	if err != nil {
		s.logg.Error(ctx, "load template order for digest", err)
		return nil
	}
	return order
}

// recordFailure counts the attempt on every row; once the limit is reached
// the rows leave the pending set for good.
func (s *Sweeper) recordFailure(ctx context.Context, frequencyID string, rows []models.ActivityRecipient, ids []uuid.UUID, cause error) error {
	attempts := 0
	for _, row := range rows {
		if row.DigestAttempts > attempts {
			attempts = row.DigestAttempts
		}
	}
	attempts++
	failure := pkgerrors.Wrap(pkgerrors.CodeDeliveryFailure, cause, "enqueue digest").
		WithDetails(map[string]any{"frequency": frequencyID, "attempt": attempts})

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"frequency": frequencyID,
		"attempt":   attempts,
		"rows":      len(ids),
	})
	if attempts >= s.maxAttempts {
		if _, err := s.store.MarkDigestFailed(ctx, ids, cause.Error()); err != nil {
			return multierr.Append(failure, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark digest failed"))
		}
		s.metrics.IncExhausted(frequencyID)
		s.logg.Error(logCtx, "digest delivery exhausted, rows marked failed", failure)
		return failure
	}

	if err := s.store.RecordDeliveryFailure(ctx, ids, cause.Error()); err != nil {
		return multierr.Append(failure, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record digest failure"))
	}
	s.metrics.IncFailed(frequencyID)
	s.logg.Warn(logCtx, "digest delivery failed, will retry next sweep")
	return failure
}

func rowIDs(rows []models.ActivityRecipient) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}
