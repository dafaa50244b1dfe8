package frequency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
)

// Service reads and writes user cadence preferences.
type Service interface {
	List() []Plugin
	Get(ctx context.Context, userID uuid.UUID) (*Preference, error)
	Set(ctx context.Context, userID uuid.UUID, frequencyID string) (*Preference, error)
	Resolve(ctx context.Context, userID uuid.UUID) (Plugin, error)
}

// Preference is the effective cadence for one user.
type Preference struct {
	UserID    uuid.UUID  `json:"user_id"`
	Frequency string     `json:"frequency"`
	IsDefault bool       `json:"is_default"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type service struct {
	repo     Repository
	registry *Registry
	now      func() time.Time
}

// NewService wires frequency dependencies.
func NewService(repo Repository, registry *Registry, now func() time.Time) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "frequency repository required")
	}
	if registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "frequency registry required")
	}
	if now == nil {
		now = time.Now
	}
	return &service{repo: repo, registry: registry, now: now}, nil
}

func (s *service) List() []Plugin {
	return s.registry.List()
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*Preference, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	pref, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get email frequency")
	}
	if pref == nil {
		return &Preference{UserID: userID, Frequency: s.registry.Default().ID, IsDefault: true}, nil
	}
	// a stored id that was unregistered since falls back to the default
	if _, ok := s.registry.Get(pref.Frequency); !ok {
		return &Preference{UserID: userID, Frequency: s.registry.Default().ID, IsDefault: true}, nil
	}
	updated := pref.UpdatedAt
	return &Preference{UserID: userID, Frequency: pref.Frequency, UpdatedAt: &updated}, nil
}

func (s *service) Set(ctx context.Context, userID uuid.UUID, frequencyID string) (*Preference, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if _, ok := s.registry.Get(frequencyID); !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown email frequency %q", frequencyID))
	}
	now := s.now().UTC()
	if err := s.repo.Upsert(ctx, &models.EmailFrequencyPreference{UserID: userID, Frequency: frequencyID, UpdatedAt: now}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set email frequency")
	}
	return &Preference{UserID: userID, Frequency: frequencyID, UpdatedAt: &now}, nil
}

// Resolve returns the cadence plugin governing userID's digests.
func (s *service) Resolve(ctx context.Context, userID uuid.UUID) (Plugin, error) {
	pref, err := s.Get(ctx, userID)
	if err != nil {
		return Plugin{}, err
	}
	p, _ := s.registry.Get(pref.Frequency)
	return p, nil
}
