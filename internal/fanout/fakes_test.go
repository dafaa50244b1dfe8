package fanout

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
)

type stubGate struct {
	id    string
	types []string
	valid bool
	err   error
	calls int
}

func (g *stubGate) ID() string          { return g.id }
func (g *stubGate) Label() string       { return g.id }
func (g *stubGate) AppliesTo() []string { return g.types }
func (g *stubGate) IsValid(*Entity, string) (bool, error) {
	g.calls++
	return g.valid, g.err
}

type stubResolver struct {
	id         string
	recipients []Recipient
	relevant   bool
	allowSelf  bool
	err        error
	panicMsg   string
	calls      int
}

func (r *stubResolver) ID() string                  { return r.id }
func (r *stubResolver) Label() string               { return r.id }
func (r *stubResolver) IsValidEntity(*Entity) bool  { return r.relevant }
func (r *stubResolver) AllowsSelfNotification() bool { return r.allowSelf }

// ResolveRecipients pages through the sorted recipient list by TargetID.
func (r *stubResolver) ResolveRecipients(_ context.Context, _ ActivityData, lastID uuid.UUID, limit int) ([]Recipient, error) {
	r.calls++
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	if r.err != nil {
		return nil, r.err
	}
	sorted := append([]Recipient(nil), r.recipients...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TargetID.String() < sorted[j].TargetID.String() })
	out := []Recipient{}
	for _, rec := range sorted {
		if lastID != uuid.Nil && rec.TargetID.String() <= lastID.String() {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type stubDestination struct {
	id       string
	accepts  bool
	view     string
	override string
	panics   bool
}

func (d *stubDestination) ID() string    { return d.id }
func (d *stubDestination) Label() string { return d.id }
func (d *stubDestination) Accepts(*Draft) bool {
	if d.panics {
		panic("destination exploded")
	}
	return d.accepts
}
func (d *stubDestination) IsActiveInView(view ViewContext) bool { return view.Name == d.view }
func (d *stubDestination) ViewModeOverride(original string, _ Rendered) string {
	if d.override == "" {
		return original
	}
	return d.override
}

type memoryStore struct {
	mu         sync.Mutex
	activities []*models.Activity
	err        error
}

func (s *memoryStore) CreateWithRecipients(_ context.Context, activity *models.Activity) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, activity)
	return nil
}

type recordingReporter struct {
	failures []*pkgerrors.Error
}

func (r *recordingReporter) ReportPluginFailure(_ context.Context, err *pkgerrors.Error) {
	r.failures = append(r.failures, err)
}

type staticCatalog map[string]bool

func (c staticCatalog) Digestable(_ context.Context, templateID string) bool {
	digestable, ok := c[templateID]
	return !ok || digestable
}

var errBoom = errors.New("boom")
