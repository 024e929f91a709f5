package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
	"khural/pkg/platform/sentinel"
)

// Service answers membership questions and maintains the registry.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("membership store is required")
	}

	svc := &Service{
		store:  store,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// RegisterCitizen upserts the citizen at the given level.
func (s *Service) RegisterCitizen(ctx context.Context, citizenID id.CitizenID, level VerificationLevel, system bool) (Citizen, error) {
	if citizenID.IsNil() {
		return Citizen{}, dErrors.New(dErrors.CodeInvalidInput, "citizen id is required")
	}
	if !level.IsValid() {
		return Citizen{}, dErrors.New(dErrors.CodeInvalidInput, "unknown verification level")
	}

	citizen := Citizen{
		ID:           citizenID,
		Level:        level,
		System:       system,
		RegisteredAt: time.Now().UTC(),
	}
	if existing, err := s.store.Citizen(ctx, citizenID); err == nil {
		citizen.RegisteredAt = existing.RegisteredAt
	}

	if err := s.store.UpsertCitizen(ctx, citizen); err != nil {
		return Citizen{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register citizen")
	}
	return citizen, nil
}

// Citizen returns the registry row.
func (s *Service) Citizen(ctx context.Context, citizenID id.CitizenID) (Citizen, error) {
	citizen, err := s.store.Citizen(ctx, citizenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Citizen{}, dErrors.New(dErrors.CodeNotFound, "citizen not found")
		}
		return Citizen{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load citizen")
	}
	return citizen, nil
}

// CreateGroup registers a membership circle.
func (s *Service) CreateGroup(ctx context.Context, group Group) (Group, error) {
	if group.ID.IsNil() {
		group.ID = id.NewGroupID()
	}
	switch group.Kind {
	case GroupFamily:
		if group.Husband.IsNil() || group.Wife.IsNil() {
			return Group{}, dErrors.New(dErrors.CodeInvalidInput, "family group requires both spouses")
		}
	case GroupOrganizational:
		if len(group.Members) == 0 {
			return Group{}, dErrors.New(dErrors.CodeInvalidInput, "organizational group requires members")
		}
	default:
		return Group{}, dErrors.New(dErrors.CodeInvalidInput, "unknown group kind")
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	if err := s.store.SaveGroup(ctx, group); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Group{}, dErrors.New(dErrors.CodeConflict, "group already exists")
		}
		return Group{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save group")
	}
	return group, nil
}

// CreateFederation registers a federation of groups.
func (s *Service) CreateFederation(ctx context.Context, federation Federation) (Federation, error) {
	if federation.ID.IsNil() {
		federation.ID = id.NewFederationID()
	}
	if len(federation.Groups) == 0 {
		return Federation{}, dErrors.New(dErrors.CodeInvalidInput, "federation requires at least one group")
	}
	if federation.CreatedAt.IsZero() {
		federation.CreatedAt = time.Now().UTC()
	}

	if err := s.store.SaveFederation(ctx, federation); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Federation{}, dErrors.New(dErrors.CodeConflict, "federation already exists")
		}
		return Federation{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save federation")
	}
	return federation, nil
}

// IsGroupMember reports whether the citizen belongs to the group, covering
// both circle shapes: spouse or child of a family group, or on the flat
// roster of an organizational group.
func (s *Service) IsGroupMember(ctx context.Context, citizenID id.CitizenID, groupID id.GroupID) (bool, error) {
	group, err := s.store.Group(ctx, groupID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.New(dErrors.CodeNotFound, "group not found")
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
	}
	return group.Contains(citizenID), nil
}

// IsFederationMember reports whether the citizen belongs to any group of the
// federation.
func (s *Service) IsFederationMember(ctx context.Context, citizenID id.CitizenID, federationID id.FederationID) (bool, error) {
	federation, err := s.store.Federation(ctx, federationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.New(dErrors.CodeNotFound, "federation not found")
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load federation")
	}

	for _, groupID := range federation.Groups {
		group, err := s.store.Group(ctx, groupID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				// Stale federation entry; skip it rather than fail the proof.
				s.logger.WarnContext(ctx, "federation references missing group", "group_id", groupID.String())
				continue
			}
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load federation group")
		}
		if group.Contains(citizenID) {
			return true, nil
		}
	}
	return false, nil
}

// EligiblePopulation returns the non-system citizens at or above the level.
// The UBI scheduler combines this with an active-account check.
func (s *Service) EligiblePopulation(ctx context.Context, level VerificationLevel) ([]Citizen, error) {
	citizens, err := s.store.ListByMinLevel(ctx, level)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list citizens")
	}
	return citizens, nil
}
