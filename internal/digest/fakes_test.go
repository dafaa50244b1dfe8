package digest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/internal/frequency"
	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	"github.com/angelmondragon/activity-fanout/pkg/enums"
	"github.com/angelmondragon/activity-fanout/pkg/mailqueue"
	"github.com/angelmondragon/activity-fanout/pkg/redis"
)

type memoryStore struct {
	mu       sync.Mutex
	rows     []*models.ActivityRecipient
	markErrs int
}

func (s *memoryStore) add(recipient uuid.UUID, templateID string, createdAt time.Time) *models.ActivityRecipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity := &models.Activity{ID: uuid.New(), TemplateID: templateID, ActorID: uuid.New(), CreatedAt: createdAt}
	row := &models.ActivityRecipient{
		ID:           uuid.New(),
		ActivityID:   activity.ID,
		TemplateID:   templateID,
		TargetType:   enums.TargetUser,
		TargetID:     recipient,
		DigestStatus: enums.DigestPending,
		CreatedAt:    createdAt,
		Activity:     activity,
	}
	s.rows = append(s.rows, row)
	return row
}

func (s *memoryStore) PendingRecipientIDs(_ context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	ids := []uuid.UUID{}
	for _, row := range s.rows {
		if row.DigestStatus != enums.DigestPending || seen[row.TargetID] {
			continue
		}
		if afterID != uuid.Nil && row.TargetID.String() <= afterID.String() {
			continue
		}
		seen[row.TargetID] = true
		ids = append(ids, row.TargetID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memoryStore) PendingForRecipient(_ context.Context, recipientID uuid.UUID, limit int) ([]models.ActivityRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ActivityRecipient{}
	for _, row := range s.rows {
		if row.TargetID == recipientID && row.DigestStatus == enums.DigestPending {
			out = append(out, *row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) update(ids []uuid.UUID, fn func(row *models.ActivityRecipient)) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for _, row := range s.rows {
		if want[row.ID] && row.DigestStatus == enums.DigestPending {
			fn(row)
			n++
		}
	}
	return n
}

var errStoreDown = errors.New("store unavailable")

func (s *memoryStore) MarkDelivered(_ context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	s.mu.Lock()
	if s.markErrs > 0 {
		s.markErrs--
		s.mu.Unlock()
		return 0, errStoreDown
	}
	s.mu.Unlock()
	return s.update(ids, func(row *models.ActivityRecipient) {
		row.DigestStatus = enums.DigestDelivered
		row.DeliveredAt = &now
	}), nil
}

func (s *memoryStore) RecordDeliveryFailure(_ context.Context, ids []uuid.UUID, message string) error {
	s.update(ids, func(row *models.ActivityRecipient) {
		row.DigestAttempts++
		row.LastDigestError = &message
	})
	return nil
}

func (s *memoryStore) MarkDigestFailed(_ context.Context, ids []uuid.UUID, message string) (int64, error) {
	return s.update(ids, func(row *models.ActivityRecipient) {
		row.DigestStatus = enums.DigestFailed
		row.LastDigestError = &message
	}), nil
}

func (s *memoryStore) status(id uuid.UUID) (enums.DigestStatus, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id {
			return row.DigestStatus, row.DigestAttempts
		}
	}
	return "", 0
}

type staticFrequencies struct {
	registry *frequency.Registry
	prefs    map[uuid.UUID]string
}

func (f staticFrequencies) Resolve(_ context.Context, userID uuid.UUID) (frequency.Plugin, error) {
	if id, ok := f.prefs[userID]; ok {
		p, _ := f.registry.Get(id)
		return p, nil
	}
	return f.registry.Default(), nil
}

// recordingQueue keeps the first message per key and reports a repeated key
// as success, the way the asynq client treats a task id conflict.
type recordingQueue struct {
	mu        sync.Mutex
	messages  map[string]mailqueue.Message
	enqueues  int
	conflicts int
	failFor   map[uuid.UUID]bool
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{messages: map[string]mailqueue.Message{}, failFor: map[uuid.UUID]bool{}}
}

var errQueueDown = errors.New("queue unavailable")

func (q *recordingQueue) Enqueue(_ context.Context, msg mailqueue.Message) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range q.failFor {
		if strings.HasPrefix(msg.Key, "digest:"+id.String()+":") {
			return "", errQueueDown
		}
	}
	if _, ok := q.messages[msg.Key]; ok {
		q.conflicts++
		return msg.Key, nil
	}
	q.enqueues++
	q.messages[msg.Key] = msg
	return msg.Key, nil
}

// delivered returns the activity ids across every queued payload.
func (q *recordingQueue) delivered(t *testing.T) map[uuid.UUID]int {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[uuid.UUID]int{}
	for _, msg := range q.messages {
		var payload Payload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		for _, section := range payload.Sections {
			for _, item := range section.Items {
				out[item.ActivityID]++
			}
		}
	}
	return out
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

type memoryClaims struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{values: map[string]string{}}
}

func (c *memoryClaims) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = value.(string)
	return true, nil
}

func (c *memoryClaims) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (c *memoryClaims) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
	}
	return nil
}

func (c *memoryClaims) DigestClaimKey(recipientID string) string {
	return "fanout:digest:claim:" + recipientID
}

type memoryLogs struct {
	mu      sync.Mutex
	entries map[string]models.DigestLog
}

func (l *memoryLogs) Record(_ context.Context, entry *models.DigestLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = map[string]models.DigestLog{}
	}
	if _, ok := l.entries[entry.WindowKey]; !ok {
		l.entries[entry.WindowKey] = *entry
	}
	return nil
}

func (l *memoryLogs) ListForRecipient(context.Context, uuid.UUID, int) ([]models.DigestLog, error) {
	return nil, nil
}

type staticOrder map[string]int64

func (o staticOrder) Order(context.Context, []string) (map[string]int64, error) {
	return o, nil
}
