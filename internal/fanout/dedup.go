package fanout

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/pkg/enums"
)

// DeduplicationPolicy decides which templates may repeat for a recipient
// within one triggering operation.
type DeduplicationPolicy struct {
	base  []string
	alter *Alterations
}

func NewDeduplicationPolicy(exempt []string, alter *Alterations) *DeduplicationPolicy {
	base := make([]string, 0, len(exempt))
	for _, id := range exempt {
		if id = strings.TrimSpace(id); id != "" {
			base = append(base, id)
		}
	}
	return &DeduplicationPolicy{base: base, alter: alter}
}

// Exemptions snapshots the altered exemption list. The factory takes one
// snapshot per Create call.
func (p *DeduplicationPolicy) Exemptions() Exemptions {
	set := Exemptions{}
	if p == nil {
		return set
	}
	for _, id := range p.alter.DedupExemptions(p.base) {
		set[id] = struct{}{}
	}
	return set
}

// Exemptions is a snapshot of exempt template ids.
type Exemptions map[string]struct{}

func (e Exemptions) Exempt(templateID string) bool {
	_, ok := e[templateID]
	return ok
}

// Dedupe removes repeated targets keeping the first occurrence.
func Dedupe(recipients []Recipient) []Recipient {
	seen := make(map[Recipient]struct{}, len(recipients))
	out := make([]Recipient, 0, len(recipients))
	for _, r := range recipients {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

type batchKey struct {
	templateID string
	targetType enums.TargetType
	targetID   uuid.UUID
}

// Batch scopes deduplication to one triggering operation that may call
// Create several times. A nil Batch only dedupes within a single call.
type Batch struct {
	mu   sync.Mutex
	seen map[batchKey]struct{}
}

func NewBatch() *Batch {
	return &Batch{seen: map[batchKey]struct{}{}}
}

// claim drops recipients that already received templateID in this batch.
// Exempt templates are recorded but never filtered.
func (b *Batch) claim(templateID string, recipients []Recipient, exempt bool) []Recipient {
	if b == nil {
		return recipients
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := recipients[:0:0]
	for _, r := range recipients {
		key := batchKey{templateID: templateID, targetType: r.TargetType, targetID: r.TargetID}
		if _, ok := b.seen[key]; ok && !exempt {
			continue
		}
		b.seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
