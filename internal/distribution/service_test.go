package distribution

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"khural/internal/ledger"
	"khural/internal/membership"
	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
)

// =============================================================================
// Distribution Service Test Suite
// =============================================================================
// Justification for unit tests: the cumulative-target arithmetic, the
// entitlement cap and the single-active-pool rule are pure invariants best
// pinned down here, against the real in-memory ledger.

type flakyMirror struct {
	calls int
	fail  bool
}

func (m *flakyMirror) MirrorBalance(_ context.Context, _ id.AccountRef, _ decimal.Decimal) error {
	m.calls++
	if m.fail {
		return errors.New("wallet unreachable")
	}
	return nil
}

type DistributionServiceSuite struct {
	suite.Suite
	store       *InMemoryStore
	ledgerStore *ledger.InMemoryStore
	ledgerSvc   *ledger.Service
	funding     id.CitizenID
	service     *Service
}

func TestDistributionServiceSuite(t *testing.T) {
	suite.Run(t, new(DistributionServiceSuite))
}

func (s *DistributionServiceSuite) SetupTest() {
	ctx := context.Background()

	s.store = NewInMemoryStore()
	s.ledgerStore = ledger.NewInMemoryStore()

	var err error
	s.ledgerSvc, err = ledger.New(s.ledgerStore)
	s.Require().NoError(err)

	s.funding = id.NewCitizenID()
	_, err = s.ledgerSvc.OpenAccount(ctx, s.funding)
	s.Require().NoError(err)
	s.Require().NoError(s.ledgerStore.SeedBalance(s.funding, decimal.New(2, 12))) // 2T

	s.service, err = New(s.store, s.ledgerSvc, s.funding)
	s.Require().NoError(err)
}

func (s *DistributionServiceSuite) initPool() Pool {
	ctx := context.Background()
	pool, err := s.service.InitializePool(ctx,
		decimal.New(21, 11), // 2.1T
		60, 30, 10,
		145_000_000,
	)
	s.Require().NoError(err)
	return pool
}

// =============================================================================
// InitializePool Tests
// =============================================================================

func (s *DistributionServiceSuite) TestInitializePool() {
	ctx := context.Background()

	s.Run("splits the emission and computes the share", func() {
		s.SetupTest()
		pool := s.initPool()

		s.True(pool.CitizenPool.Equal(decimal.New(126, 10)), "citizen pool: %s", pool.CitizenPool)
		s.True(pool.TreasuryPool.Equal(decimal.New(63, 10)))
		s.True(pool.CommonsPool.Equal(decimal.New(21, 10)))
		s.Equal("8689.66", pool.PerCitizenShare.StringFixed(2))
		s.Equal(PoolActive, pool.Status)
	})

	s.Run("second initialization fails while a pool is active", func() {
		s.SetupTest()
		s.initPool()

		_, err := s.service.InitializePool(ctx, decimal.New(21, 11), 60, 30, 10, 145_000_000)
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
		s.Contains(err.Error(), "already initialized")
	})

	s.Run("percentages must sum to 100", func() {
		s.SetupTest()
		_, err := s.service.InitializePool(ctx, decimal.New(21, 11), 50, 30, 10, 145_000_000)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("zero citizens is rejected", func() {
		s.SetupTest()
		_, err := s.service.InitializePool(ctx, decimal.New(21, 11), 60, 30, 10, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("a closed pool no longer blocks initialization", func() {
		s.SetupTest()
		s.initPool()
		_, err := s.service.ClosePool(ctx)
		s.Require().NoError(err)

		_, err = s.service.InitializePool(ctx, decimal.New(21, 11), 60, 30, 10, 145_000_000)
		s.NoError(err)
	})
}

// =============================================================================
// RegisterCitizen Tests
// =============================================================================

func (s *DistributionServiceSuite) TestRegisterCitizen() {
	ctx := context.Background()

	s.Run("registers and releases the first slice", func() {
		s.SetupTest()
		pool := s.initPool()
		citizen := id.NewCitizenID()

		dist, err := s.service.RegisterCitizen(ctx, citizen)
		s.NoError(err)
		s.True(dist.Entitlement.Equal(pool.PerCitizenShare))
		s.True(dist.TotalReceived.Equal(decimal.NewFromInt(100)), "UNVERIFIED slice released on registration")
		s.True(dist.Remaining.Equal(dist.Entitlement.Sub(decimal.NewFromInt(100))))

		account, err := s.ledgerSvc.Balance(ctx, citizen)
		s.Require().NoError(err)
		s.True(account.Balance.Equal(decimal.NewFromInt(100)))
	})

	s.Run("repeat registration returns the existing record unchanged", func() {
		s.SetupTest()
		s.initPool()
		citizen := id.NewCitizenID()

		first, err := s.service.RegisterCitizen(ctx, citizen)
		s.Require().NoError(err)

		second, err := s.service.RegisterCitizen(ctx, citizen)
		s.NoError(err)
		s.True(second.TotalReceived.Equal(first.TotalReceived))

		account, err := s.ledgerSvc.Balance(ctx, citizen)
		s.Require().NoError(err)
		s.True(account.Balance.Equal(decimal.NewFromInt(100)), "no second slice")
	})

	s.Run("registration without an active pool fails", func() {
		s.SetupTest()
		_, err := s.service.RegisterCitizen(ctx, id.NewCitizenID())
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	s.Run("pool counters track registrations", func() {
		s.SetupTest()
		s.initPool()
		_, err := s.service.RegisterCitizen(ctx, id.NewCitizenID())
		s.Require().NoError(err)
		_, err = s.service.RegisterCitizen(ctx, id.NewCitizenID())
		s.Require().NoError(err)

		stats, err := s.service.Stats(ctx)
		s.NoError(err)
		s.EqualValues(2, stats.Pool.RegisteredCitizens)
		s.True(stats.Pool.TotalDistributed.Equal(decimal.NewFromInt(200)))
	})
}

// =============================================================================
// DistributeByLevel Tests
// =============================================================================

func (s *DistributionServiceSuite) TestDistributeByLevel() {
	ctx := context.Background()

	s.Run("levels release cumulative targets monotonically", func() {
		s.SetupTest()
		// Small population keeps the share above the ZUN target so no cap
		// interferes with the target arithmetic.
		_, err := s.service.InitializePool(ctx, decimal.New(21, 11), 60, 30, 10, 100_000)
		s.Require().NoError(err)
		citizen := id.NewCitizenID()
		_, err = s.service.RegisterCitizen(ctx, citizen)
		s.Require().NoError(err)

		arban, err := s.service.DistributeByLevel(ctx, citizen, membership.LevelArbanVerified)
		s.NoError(err)
		s.True(arban.Distributed)
		s.True(arban.Amount.Equal(decimal.NewFromInt(900)), "top up to 1000")
		s.True(arban.TotalReceived.Equal(decimal.NewFromInt(1_000)))

		zun, err := s.service.DistributeByLevel(ctx, citizen, membership.LevelZunVerified)
		s.NoError(err)
		s.True(zun.Amount.Equal(decimal.NewFromInt(9_000)), "top up to 10000")
		s.True(zun.TotalReceived.Equal(decimal.NewFromInt(10_000)))
	})

	s.Run("repeating a level distributes nothing", func() {
		s.SetupTest()
		s.initPool()
		citizen := id.NewCitizenID()
		_, err := s.service.RegisterCitizen(ctx, citizen)
		s.Require().NoError(err)

		_, err = s.service.DistributeByLevel(ctx, citizen, membership.LevelArbanVerified)
		s.Require().NoError(err)

		again, err := s.service.DistributeByLevel(ctx, citizen, membership.LevelArbanVerified)
		s.NoError(err)
		s.False(again.Distributed)
		s.True(again.Amount.IsZero())
	})

	s.Run("final level releases exactly the remaining entitlement", func() {
		s.SetupTest()
		pool := s.initPool()
		citizen := id.NewCitizenID()
		_, err := s.service.RegisterCitizen(ctx, citizen)
		s.Require().NoError(err)

		full, err := s.service.DistributeByLevel(ctx, citizen, membership.LevelFullyVerified)
		s.NoError(err)
		s.True(full.Distributed)
		s.True(full.TotalReceived.Equal(pool.PerCitizenShare))
		s.True(full.Remaining.IsZero())

		// Nothing further at any level.
		for _, level := range []membership.VerificationLevel{
			membership.LevelArbanVerified,
			membership.LevelZunVerified,
			membership.LevelFullyVerified,
		} {
			res, err := s.service.DistributeByLevel(ctx, citizen, level)
			s.NoError(err)
			s.False(res.Distributed)
		}
	})

	s.Run("received never exceeds entitlement", func() {
		s.SetupTest()
		pool := s.initPool()
		citizen := id.NewCitizenID()
		_, err := s.service.RegisterCitizen(ctx, citizen)
		s.Require().NoError(err)

		// ZUN target (10000) exceeds the entitlement (~8689.66): the slice
		// must be capped at the remaining entitlement.
		res, err := s.service.DistributeByLevel(ctx, citizen, membership.LevelZunVerified)
		s.NoError(err)
		s.True(res.TotalReceived.Equal(pool.PerCitizenShare))
		s.True(res.Remaining.IsZero())
	})

	s.Run("unregistered citizen returns not found", func() {
		s.SetupTest()
		s.initPool()
		_, err := s.service.DistributeByLevel(ctx, id.NewCitizenID(), membership.LevelArbanVerified)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("level without a slice is rejected", func() {
		s.SetupTest()
		s.initPool()
		citizen := id.NewCitizenID()
		_, err := s.service.RegisterCitizen(ctx, citizen)
		s.Require().NoError(err)

		_, err = s.service.DistributeByLevel(ctx, citizen, membership.LevelVerified)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// =============================================================================
// Wallet Mirror Tests
// =============================================================================

func (s *DistributionServiceSuite) TestWalletMirror() {
	ctx := context.Background()

	s.Run("mirror failure does not roll back the transfer", func() {
		s.SetupTest()
		mirror := &flakyMirror{fail: true}
		svc, err := New(s.store, s.ledgerSvc, s.funding, WithWalletMirror(mirror))
		s.Require().NoError(err)

		_, err = svc.InitializePool(ctx, decimal.New(21, 11), 60, 30, 10, 145_000_000)
		s.Require().NoError(err)

		citizen := id.NewCitizenID()
		dist, err := svc.RegisterCitizen(ctx, citizen)
		s.NoError(err, "mirror failure is non-fatal")
		s.True(dist.TotalReceived.Equal(decimal.NewFromInt(100)))
		s.Equal(1, mirror.calls)

		account, err := s.ledgerSvc.Balance(ctx, citizen)
		s.Require().NoError(err)
		s.True(account.Balance.Equal(decimal.NewFromInt(100)), "internal transfer stands")
	})

	s.Run("mirror receives each release", func() {
		s.SetupTest()
		mirror := &flakyMirror{}
		svc, err := New(s.store, s.ledgerSvc, s.funding, WithWalletMirror(mirror))
		s.Require().NoError(err)

		_, err = svc.InitializePool(ctx, decimal.New(21, 11), 60, 30, 10, 145_000_000)
		s.Require().NoError(err)

		citizen := id.NewCitizenID()
		_, err = svc.RegisterCitizen(ctx, citizen)
		s.Require().NoError(err)
		_, err = svc.DistributeByLevel(ctx, citizen, membership.LevelArbanVerified)
		s.Require().NoError(err)

		s.Equal(2, mirror.calls)
	})
}

// =============================================================================
// Stats and ClosePool Tests
// =============================================================================

func (s *DistributionServiceSuite) TestStatsAndClose() {
	ctx := context.Background()

	s.Run("stats derive percent distributed", func() {
		s.SetupTest()
		s.initPool()
		citizen := id.NewCitizenID()
		_, err := s.service.RegisterCitizen(ctx, citizen)
		s.Require().NoError(err)

		stats, err := s.service.Stats(ctx)
		s.NoError(err)
		s.True(stats.Pool.TotalDistributed.Equal(decimal.NewFromInt(100)))
		s.True(stats.CitizenPoolLeft.Equal(stats.Pool.CitizenPool.Sub(decimal.NewFromInt(100))))
		s.True(stats.PercentDistributed.IsPositive())
	})

	s.Run("close marks the pool and stats start failing", func() {
		s.SetupTest()
		s.initPool()
		pool, err := s.service.ClosePool(ctx)
		s.NoError(err)
		s.Equal(PoolClosed, pool.Status)
		s.False(pool.ClosedAt.IsZero())

		_, err = s.service.Stats(ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
	})
}
