package distribution

import (
	"context"

	id "khural/pkg/domain"
)

// Store persists pools and per-citizen distribution records.
type Store interface {
	// CreatePool inserts a new pool. Returns sentinel.ErrConflict when an
	// ACTIVE pool already exists; the active-pool singleton is a storage
	// constraint, not a service-level check.
	CreatePool(ctx context.Context, pool Pool) error

	// ActivePool returns the ACTIVE pool, or sentinel.ErrNotFound.
	ActivePool(ctx context.Context) (Pool, error)

	// UpdatePool rewrites counters and status for the pool.
	UpdatePool(ctx context.Context, pool Pool) error

	// CreateUserDistribution inserts a citizen's record. Returns
	// sentinel.ErrConflict when the citizen is already registered.
	CreateUserDistribution(ctx context.Context, dist UserDistribution) error

	// UserDistribution returns a citizen's record, or sentinel.ErrNotFound.
	UserDistribution(ctx context.Context, citizenID id.CitizenID) (UserDistribution, error)

	// UpdateUserDistribution rewrites a citizen's record.
	UpdateUserDistribution(ctx context.Context, dist UserDistribution) error
}
