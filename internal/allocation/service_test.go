package allocation

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"khural/internal/ledger"
	"khural/internal/membership"
	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
)

// =============================================================================
// Allocation Service Test Suite
// =============================================================================
// Justification for unit tests: exactly-once allocation under retry and the
// membership gating are the core invariants of the engine; both are checked
// here against the real in-memory ledger rather than mocks so the storage
// uniqueness constraint is part of the assertion.

type AllocationServiceSuite struct {
	suite.Suite
	ledgerStore *ledger.InMemoryStore
	ledgerSvc   *ledger.Service
	members     *membership.Service
	reserve     id.CitizenID
	service     *Service
}

func TestAllocationServiceSuite(t *testing.T) {
	suite.Run(t, new(AllocationServiceSuite))
}

func (s *AllocationServiceSuite) SetupTest() {
	ctx := context.Background()

	s.ledgerStore = ledger.NewInMemoryStore()

	var err error
	s.ledgerSvc, err = ledger.New(s.ledgerStore)
	s.Require().NoError(err)

	memberStore := membership.NewInMemoryStore()
	s.members, err = membership.New(memberStore)
	s.Require().NoError(err)

	// Pre-funded reserve.
	s.reserve = id.NewCitizenID()
	_, err = s.ledgerSvc.OpenAccount(ctx, s.reserve)
	s.Require().NoError(err)
	s.Require().NoError(s.ledgerStore.SeedBalance(s.reserve, decimal.NewFromInt(1_000_000)))

	s.service, err = New(s.ledgerSvc, s.members, s.reserve)
	s.Require().NoError(err)
}

func (s *AllocationServiceSuite) registerCitizen(level membership.VerificationLevel) id.CitizenID {
	ctx := context.Background()
	citizenID := id.NewCitizenID()
	_, err := s.members.RegisterCitizen(ctx, citizenID, level, false)
	s.Require().NoError(err)
	_, err = s.ledgerSvc.OpenAccount(ctx, citizenID)
	s.Require().NoError(err)
	return citizenID
}

// =============================================================================
// Level 1 Tests
// =============================================================================

func (s *AllocationServiceSuite) TestAllocateLevel1() {
	ctx := context.Background()

	s.Run("grants 100 ALTAN once", func() {
		citizen := s.registerCitizen(membership.LevelVerified)

		result, err := s.service.AllocateLevel1(ctx, citizen)
		s.NoError(err)
		s.True(result.Allocated)
		s.True(result.Amount.Equal(decimal.NewFromInt(100)))

		account, err := s.ledgerSvc.Balance(ctx, citizen)
		s.Require().NoError(err)
		s.True(account.Balance.Equal(decimal.NewFromInt(100)))
	})

	s.Run("second call is the idempotency hit", func() {
		citizen := s.registerCitizen(membership.LevelVerified)

		first, err := s.service.AllocateLevel1(ctx, citizen)
		s.Require().NoError(err)
		s.True(first.Allocated)

		second, err := s.service.AllocateLevel1(ctx, citizen)
		s.NoError(err)
		s.False(second.Allocated)
		s.True(second.Amount.IsZero())

		account, err := s.ledgerSvc.Balance(ctx, citizen)
		s.Require().NoError(err)
		s.True(account.Balance.Equal(decimal.NewFromInt(100)), "exactly one award paid")
	})

	s.Run("unknown citizen returns not found", func() {
		_, err := s.service.AllocateLevel1(ctx, id.NewCitizenID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unconfigured reserve returns configuration error", func() {
		svc, err := New(s.ledgerSvc, s.members, id.CitizenID{})
		s.Require().NoError(err)

		citizen := s.registerCitizen(membership.LevelVerified)
		_, err = svc.AllocateLevel1(ctx, citizen)
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
	})
}

// =============================================================================
// Level 2 Tests
// =============================================================================

func (s *AllocationServiceSuite) TestAllocateLevel2() {
	ctx := context.Background()

	s.Run("grants 5000 ALTAN to a family group member", func() {
		husband := s.registerCitizen(membership.LevelArbanVerified)
		wife := s.registerCitizen(membership.LevelArbanVerified)

		group, err := s.members.CreateGroup(ctx, membership.Group{
			Kind:    membership.GroupFamily,
			Husband: husband,
			Wife:    wife,
		})
		s.Require().NoError(err)

		result, err := s.service.AllocateLevel2(ctx, husband, group.ID)
		s.NoError(err)
		s.True(result.Allocated)
		s.True(result.Amount.Equal(decimal.NewFromInt(5_000)))
	})

	s.Run("grants to an organizational group member", func() {
		citizen := s.registerCitizen(membership.LevelArbanVerified)

		group, err := s.members.CreateGroup(ctx, membership.Group{
			Kind:    membership.GroupOrganizational,
			Members: []id.CitizenID{citizen},
		})
		s.Require().NoError(err)

		result, err := s.service.AllocateLevel2(ctx, citizen, group.ID)
		s.NoError(err)
		s.True(result.Allocated)
	})

	s.Run("non-member fails membership proof", func() {
		outsider := s.registerCitizen(membership.LevelVerified)
		group, err := s.members.CreateGroup(ctx, membership.Group{
			Kind:    membership.GroupFamily,
			Husband: s.registerCitizen(membership.LevelVerified),
			Wife:    s.registerCitizen(membership.LevelVerified),
		})
		s.Require().NoError(err)

		_, err = s.service.AllocateLevel2(ctx, outsider, group.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeMembership))

		account, balErr := s.ledgerSvc.Balance(ctx, outsider)
		s.Require().NoError(balErr)
		s.True(account.Balance.IsZero(), "denied proof must not pay")
	})

	s.Run("repeat allocation pays exactly once", func() {
		citizen := s.registerCitizen(membership.LevelArbanVerified)
		group, err := s.members.CreateGroup(ctx, membership.Group{
			Kind:    membership.GroupOrganizational,
			Members: []id.CitizenID{citizen},
		})
		s.Require().NoError(err)

		first, err := s.service.AllocateLevel2(ctx, citizen, group.ID)
		s.Require().NoError(err)
		s.True(first.Allocated)

		second, err := s.service.AllocateLevel2(ctx, citizen, group.ID)
		s.NoError(err)
		s.False(second.Allocated)

		records, err := s.ledgerSvc.History(ctx, first.Ref, 10)
		s.Require().NoError(err)
		s.Len(records, 1, "exactly one transfer record")
	})
}

// =============================================================================
// Level 3 Tests
// =============================================================================

func (s *AllocationServiceSuite) TestAllocateLevel3() {
	ctx := context.Background()

	s.Run("grants 9383 ALTAN to a federation member", func() {
		citizen := s.registerCitizen(membership.LevelZunVerified)

		group, err := s.members.CreateGroup(ctx, membership.Group{
			Kind:    membership.GroupOrganizational,
			Members: []id.CitizenID{citizen},
		})
		s.Require().NoError(err)

		federation, err := s.members.CreateFederation(ctx, membership.Federation{
			Groups: []id.GroupID{group.ID},
		})
		s.Require().NoError(err)

		result, err := s.service.AllocateLevel3(ctx, citizen, federation.ID)
		s.NoError(err)
		s.True(result.Allocated)
		s.True(result.Amount.Equal(decimal.NewFromInt(9_383)))
	})

	s.Run("non-member of every federated group is denied", func() {
		outsider := s.registerCitizen(membership.LevelVerified)

		group, err := s.members.CreateGroup(ctx, membership.Group{
			Kind:    membership.GroupOrganizational,
			Members: []id.CitizenID{s.registerCitizen(membership.LevelVerified)},
		})
		s.Require().NoError(err)

		federation, err := s.members.CreateFederation(ctx, membership.Federation{
			Groups: []id.GroupID{group.ID},
		})
		s.Require().NoError(err)

		_, err = s.service.AllocateLevel3(ctx, outsider, federation.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeMembership))
	})
}

// =============================================================================
// Summary Tests
// =============================================================================

func (s *AllocationServiceSuite) TestAllocationSummary() {
	ctx := context.Background()

	s.Run("reflects paid tiers and totals", func() {
		citizen := s.registerCitizen(membership.LevelArbanVerified)
		group, err := s.members.CreateGroup(ctx, membership.Group{
			Kind:    membership.GroupOrganizational,
			Members: []id.CitizenID{citizen},
		})
		s.Require().NoError(err)

		_, err = s.service.AllocateLevel1(ctx, citizen)
		s.Require().NoError(err)
		_, err = s.service.AllocateLevel2(ctx, citizen, group.ID)
		s.Require().NoError(err)

		summary, err := s.service.AllocationSummary(ctx, citizen)
		s.NoError(err)
		s.True(summary.Level1)
		s.True(summary.Level2)
		s.False(summary.Level3)
		s.True(summary.Total.Equal(decimal.NewFromInt(5_100)))
	})
}
