// Package distribution implements the per-capita emission pool: a one-time
// total emission split into citizen, treasury and commons sub-pools, with the
// citizen sub-pool released to each registered citizen in progressive slices
// keyed to their verification level.
package distribution

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"khural/internal/membership"
	id "khural/pkg/domain"
)

// PoolStatus is the lifecycle of a distribution pool.
type PoolStatus string

const (
	PoolActive PoolStatus = "ACTIVE"
	PoolClosed PoolStatus = "CLOSED"
)

// PoolID identifies a distribution pool epoch.
type PoolID uuid.UUID

func NewPoolID() PoolID { return PoolID(uuid.New()) }

func (id PoolID) String() string { return uuid.UUID(id).String() }

// ParsePoolID validates and returns a PoolID.
func ParsePoolID(s string) (PoolID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PoolID{}, err
	}
	return PoolID(u), nil
}

// Pool is the per-epoch emission pool singleton. At most one pool is ACTIVE
// at a time; its three sub-pools always sum to the total emission.
type Pool struct {
	ID                PoolID
	TotalEmission     decimal.Decimal
	CitizenPool       decimal.Decimal
	TreasuryPool      decimal.Decimal
	CommonsPool       decimal.Decimal
	PerCitizenShare   decimal.Decimal
	EstimatedCitizens int64
	// RegisteredCitizens counts citizens holding a UserDistribution row.
	RegisteredCitizens int64
	// TotalDistributed is the cumulative ALTAN released from the citizen pool.
	TotalDistributed decimal.Decimal
	Status           PoolStatus
	CreatedAt        time.Time
	ClosedAt         time.Time
}

// UserDistribution tracks one citizen's progress through their entitlement.
// Invariant: Entitlement = TotalReceived + Remaining at all times, and
// TotalReceived is monotonically non-decreasing.
type UserDistribution struct {
	CitizenID   id.CitizenID
	PoolID      PoolID
	Entitlement decimal.Decimal

	TotalReceived decimal.Decimal
	Remaining     decimal.Decimal

	// Per-slice sub-totals.
	ReceivedByLevel map[membership.VerificationLevel]decimal.Decimal

	FirstDistributionAt time.Time
	LastDistributionAt  time.Time
	FullyDistributedAt  time.Time
}

// cloneLevels deep-copies the per-level map so store reads don't alias.
func cloneLevels(in map[membership.VerificationLevel]decimal.Decimal) map[membership.VerificationLevel]decimal.Decimal {
	out := make(map[membership.VerificationLevel]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
