package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
)

// Payload is the digest email body handed to the mail queue.
type Payload struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Frequency   string    `json:"frequency"`
	WindowStart time.Time `json:"window_start"`
	Sections    []Section `json:"sections"`
}

// Section groups the digest items of one template.
type Section struct {
	TemplateID string `json:"template_id"`
	Items      []Item `json:"items"`
}

type Item struct {
	ActivityID        uuid.UUID      `json:"activity_id"`
	ActorID           uuid.UUID      `json:"actor_id"`
	RelatedEntityType string         `json:"related_entity_type,omitempty"`
	RelatedEntityID   string         `json:"related_entity_id,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Count returns the number of items across sections.
func (p Payload) Count() int {
	n := 0
	for _, s := range p.Sections {
		n += len(s.Items)
	}
	return n
}

// WindowKey identifies one flush of a recipient's digest by its exact
// contents: the same set of pending rows always yields the same key, and any
// other set yields a different one. A queue conflict on the key therefore
// means this payload is already queued.
func WindowKey(recipientID uuid.UUID, frequency string, windowStart time.Time, rowIDs []uuid.UUID) string {
	sorted := make([]string, len(rowIDs))
	for i, id := range rowIDs {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return fmt.Sprintf("digest:%s:%s:%d:%s", recipientID, frequency, windowStart.Unix(), hex.EncodeToString(sum[:16]))
}

// BuildPayload groups rows by template. Sections follow the template unique
// id, unconfigured templates last; items within a section are oldest first.
func BuildPayload(recipientID uuid.UUID, frequency string, rows []models.ActivityRecipient, order map[string]int64) Payload {
	payload := Payload{RecipientID: recipientID, Frequency: frequency}
	sections := map[string]*Section{}
	for _, row := range rows {
		if row.Activity == nil {
			continue
		}
		if payload.WindowStart.IsZero() || row.CreatedAt.Before(payload.WindowStart) {
			payload.WindowStart = row.CreatedAt
		}
		section, ok := sections[row.TemplateID]
		if !ok {
			section = &Section{TemplateID: row.TemplateID}
			sections[row.TemplateID] = section
		}
		item := Item{
			ActivityID: row.ActivityID,
			ActorID:    row.Activity.ActorID,
			Extra:      row.Activity.Extra,
			CreatedAt:  row.Activity.CreatedAt,
		}
		if row.Activity.RelatedEntityType != nil {
			item.RelatedEntityType = *row.Activity.RelatedEntityType
		}
		if row.Activity.RelatedEntityID != nil {
			item.RelatedEntityID = *row.Activity.RelatedEntityID
		}
		section.Items = append(section.Items, item)
	}

	rank := func(templateID string) int64 {
		if id, ok := order[templateID]; ok {
			return id
		}
		return math.MaxInt64
	}
	for _, section := range sections {
		sort.SliceStable(section.Items, func(i, j int) bool {
			return section.Items[i].CreatedAt.Before(section.Items[j].CreatedAt)
		})
		payload.Sections = append(payload.Sections, *section)
	}
	sort.Slice(payload.Sections, func(i, j int) bool {
		ri, rj := rank(payload.Sections[i].TemplateID), rank(payload.Sections[j].TemplateID)
		if ri != rj {
			return ri < rj
		}
		return payload.Sections[i].TemplateID < payload.Sections[j].TemplateID
	})
	return payload
}
