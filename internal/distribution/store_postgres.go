package distribution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"khural/internal/membership"
	id "khural/pkg/domain"
	"khural/pkg/platform/sentinel"
)

// PostgresStore persists pools and distribution records. A partial unique
// index on distribution_pools(status) WHERE status = 'ACTIVE' enforces the
// single-active-pool rule at the storage layer.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreatePool(ctx context.Context, pool Pool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO distribution_pools
			(id, total_emission, citizen_pool, treasury_pool, commons_pool,
			 per_citizen_share, estimated_citizens, registered_citizens,
			 total_distributed, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		pool.ID.String(),
		pool.TotalEmission,
		pool.CitizenPool,
		pool.TreasuryPool,
		pool.CommonsPool,
		pool.PerCitizenShare,
		pool.EstimatedCitizens,
		pool.RegisteredCitizens,
		pool.TotalDistributed,
		string(pool.Status),
		pool.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActivePool(ctx context.Context) (Pool, error) {
	var (
		pool     Pool
		rawID    string
		status   string
		closedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, total_emission, citizen_pool, treasury_pool, commons_pool,
		       per_citizen_share, estimated_citizens, registered_citizens,
		       total_distributed, status, created_at, closed_at
		FROM distribution_pools WHERE status = 'ACTIVE'
	`).Scan(
		&rawID,
		&pool.TotalEmission,
		&pool.CitizenPool,
		&pool.TreasuryPool,
		&pool.CommonsPool,
		&pool.PerCitizenShare,
		&pool.EstimatedCitizens,
		&pool.RegisteredCitizens,
		&pool.TotalDistributed,
		&status,
		&pool.CreatedAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Pool{}, sentinel.ErrNotFound
		}
		return Pool{}, fmt.Errorf("query active pool: %w", err)
	}
	poolID, err := ParsePoolID(rawID)
	if err != nil {
		return Pool{}, fmt.Errorf("corrupt pool id %q: %w", rawID, err)
	}
	pool.ID = poolID
	pool.Status = PoolStatus(status)
	if closedAt.Valid {
		pool.ClosedAt = closedAt.Time
	}
	return pool, nil
}

func (s *PostgresStore) UpdatePool(ctx context.Context, pool Pool) error {
	var closedAt sql.NullTime
	if !pool.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: pool.ClosedAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE distribution_pools
		SET registered_citizens = $1, total_distributed = $2, status = $3, closed_at = $4
		WHERE id = $5
	`, pool.RegisteredCitizens, pool.TotalDistributed, string(pool.Status), closedAt, pool.ID.String())
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateUserDistribution(ctx context.Context, dist UserDistribution) error {
	levels, err := json.Marshal(dist.ReceivedByLevel)
	if err != nil {
		return fmt.Errorf("marshal level sub-totals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_distributions
			(citizen_id, pool_id, entitlement, total_received, remaining,
			 received_by_level, first_distribution_at, last_distribution_at, fully_distributed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		dist.CitizenID.String(),
		dist.PoolID.String(),
		dist.Entitlement,
		dist.TotalReceived,
		dist.Remaining,
		levels,
		nullableTime(dist.FirstDistributionAt),
		nullableTime(dist.LastDistributionAt),
		nullableTime(dist.FullyDistributedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert user distribution: %w", err)
	}
	return nil
}

func (s *PostgresStore) UserDistribution(ctx context.Context, citizenID id.CitizenID) (UserDistribution, error) {
	var (
		dist                  UserDistribution
		rawCitizen, rawPool   string
		rawLevels             []byte
		first, last, fully    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT citizen_id, pool_id, entitlement, total_received, remaining,
		       received_by_level, first_distribution_at, last_distribution_at, fully_distributed_at
		FROM user_distributions WHERE citizen_id = $1
	`, citizenID.String()).Scan(
		&rawCitizen,
		&rawPool,
		&dist.Entitlement,
		&dist.TotalReceived,
		&dist.Remaining,
		&rawLevels,
		&first,
		&last,
		&fully,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserDistribution{}, sentinel.ErrNotFound
		}
		return UserDistribution{}, fmt.Errorf("query user distribution: %w", err)
	}

	parsedCitizen, err := id.ParseCitizenID(rawCitizen)
	if err != nil {
		return UserDistribution{}, fmt.Errorf("corrupt citizen id %q: %w", rawCitizen, err)
	}
	parsedPool, err := ParsePoolID(rawPool)
	if err != nil {
		return UserDistribution{}, fmt.Errorf("corrupt pool id %q: %w", rawPool, err)
	}
	dist.CitizenID = parsedCitizen
	dist.PoolID = parsedPool

	dist.ReceivedByLevel = make(map[membership.VerificationLevel]decimal.Decimal)
	if len(rawLevels) > 0 {
		if err := json.Unmarshal(rawLevels, &dist.ReceivedByLevel); err != nil {
			return UserDistribution{}, fmt.Errorf("unmarshal level sub-totals: %w", err)
		}
	}
	if first.Valid {
		dist.FirstDistributionAt = first.Time
	}
	if last.Valid {
		dist.LastDistributionAt = last.Time
	}
	if fully.Valid {
		dist.FullyDistributedAt = fully.Time
	}
	return dist, nil
}

func (s *PostgresStore) UpdateUserDistribution(ctx context.Context, dist UserDistribution) error {
	levels, err := json.Marshal(dist.ReceivedByLevel)
	if err != nil {
		return fmt.Errorf("marshal level sub-totals: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_distributions
		SET total_received = $1, remaining = $2, received_by_level = $3,
		    first_distribution_at = $4, last_distribution_at = $5, fully_distributed_at = $6
		WHERE citizen_id = $7
	`,
		dist.TotalReceived,
		dist.Remaining,
		levels,
		nullableTime(dist.FirstDistributionAt),
		nullableTime(dist.LastDistributionAt),
		nullableTime(dist.FullyDistributedAt),
		dist.CitizenID.String(),
	)
	if err != nil {
		return fmt.Errorf("update user distribution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user distribution: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
