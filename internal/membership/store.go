package membership

import (
	"context"

	id "khural/pkg/domain"
)

// Store is the durable registry of citizens, groups and federations.
type Store interface {
	// UpsertCitizen inserts the citizen or updates an existing row.
	UpsertCitizen(ctx context.Context, citizen Citizen) error

	// Citizen returns the registry row, or sentinel.ErrNotFound.
	Citizen(ctx context.Context, citizenID id.CitizenID) (Citizen, error)

	// ListByMinLevel returns every non-system citizen at or above the level.
	ListByMinLevel(ctx context.Context, level VerificationLevel) ([]Citizen, error)

	// SaveGroup inserts a group. Returns sentinel.ErrConflict on duplicate id.
	SaveGroup(ctx context.Context, group Group) error

	// Group returns a group, or sentinel.ErrNotFound.
	Group(ctx context.Context, groupID id.GroupID) (Group, error)

	// SaveFederation inserts a federation. Returns sentinel.ErrConflict on
	// duplicate id.
	SaveFederation(ctx context.Context, federation Federation) error

	// Federation returns a federation, or sentinel.ErrNotFound.
	Federation(ctx context.Context, federationID id.FederationID) (Federation, error)
}
