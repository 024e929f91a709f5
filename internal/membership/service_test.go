package membership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
)

// =============================================================================
// Membership Service Test Suite
// =============================================================================

type MembershipServiceSuite struct {
	suite.Suite
	store   *InMemoryStore
	service *Service
}

func TestMembershipServiceSuite(t *testing.T) {
	suite.Run(t, new(MembershipServiceSuite))
}

func (s *MembershipServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()

	var err error
	s.service, err = New(s.store)
	s.Require().NoError(err)
}

func (s *MembershipServiceSuite) familyGroup(members ...id.CitizenID) Group {
	ctx := context.Background()
	group := Group{
		Kind:    GroupFamily,
		Husband: members[0],
		Wife:    members[1],
	}
	if len(members) > 2 {
		group.Children = members[2:]
	}
	created, err := s.service.CreateGroup(ctx, group)
	s.Require().NoError(err)
	return created
}

// =============================================================================
// Registration Tests
// =============================================================================

func (s *MembershipServiceSuite) TestRegisterCitizen() {
	ctx := context.Background()

	s.Run("registers and reads back", func() {
		citizenID := id.NewCitizenID()
		_, err := s.service.RegisterCitizen(ctx, citizenID, LevelVerified, false)
		s.NoError(err)

		citizen, err := s.service.Citizen(ctx, citizenID)
		s.NoError(err)
		s.Equal(LevelVerified, citizen.Level)
		s.False(citizen.System)
	})

	s.Run("upgrade keeps original registration time", func() {
		citizenID := id.NewCitizenID()
		first, err := s.service.RegisterCitizen(ctx, citizenID, LevelUnverified, false)
		s.Require().NoError(err)

		second, err := s.service.RegisterCitizen(ctx, citizenID, LevelArbanVerified, false)
		s.NoError(err)
		s.Equal(first.RegisteredAt, second.RegisteredAt)
		s.Equal(LevelArbanVerified, second.Level)
	})

	s.Run("unknown level is rejected", func() {
		_, err := s.service.RegisterCitizen(ctx, id.NewCitizenID(), VerificationLevel("BOGUS"), false)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("missing citizen returns not found", func() {
		_, err := s.service.Citizen(ctx, id.NewCitizenID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Group Membership Tests
// =============================================================================

func (s *MembershipServiceSuite) TestIsGroupMember() {
	ctx := context.Background()

	s.Run("spouses and children are family members", func() {
		husband := id.NewCitizenID()
		wife := id.NewCitizenID()
		child := id.NewCitizenID()
		group := s.familyGroup(husband, wife, child)

		for _, member := range []id.CitizenID{husband, wife, child} {
			ok, err := s.service.IsGroupMember(ctx, member, group.ID)
			s.NoError(err)
			s.True(ok)
		}
	})

	s.Run("outsider is not a family member", func() {
		group := s.familyGroup(id.NewCitizenID(), id.NewCitizenID())
		ok, err := s.service.IsGroupMember(ctx, id.NewCitizenID(), group.ID)
		s.NoError(err)
		s.False(ok)
	})

	s.Run("flat roster membership for organizational groups", func() {
		member := id.NewCitizenID()
		group, err := s.service.CreateGroup(ctx, Group{
			Kind:    GroupOrganizational,
			Members: []id.CitizenID{member, id.NewCitizenID()},
		})
		s.Require().NoError(err)

		ok, err := s.service.IsGroupMember(ctx, member, group.ID)
		s.NoError(err)
		s.True(ok)

		ok, err = s.service.IsGroupMember(ctx, id.NewCitizenID(), group.ID)
		s.NoError(err)
		s.False(ok)
	})

	s.Run("unknown group returns not found", func() {
		_, err := s.service.IsGroupMember(ctx, id.NewCitizenID(), id.NewGroupID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("family group requires both spouses", func() {
		_, err := s.service.CreateGroup(ctx, Group{Kind: GroupFamily, Husband: id.NewCitizenID()})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// =============================================================================
// Federation Membership Tests
// =============================================================================

func (s *MembershipServiceSuite) TestIsFederationMember() {
	ctx := context.Background()

	s.Run("member of any federated group is a federation member", func() {
		insider := id.NewCitizenID()
		groupA := s.familyGroup(id.NewCitizenID(), id.NewCitizenID())
		groupB := s.familyGroup(insider, id.NewCitizenID())

		federation, err := s.service.CreateFederation(ctx, Federation{
			Name:   "test-zun",
			Groups: []id.GroupID{groupA.ID, groupB.ID},
		})
		s.Require().NoError(err)

		ok, err := s.service.IsFederationMember(ctx, insider, federation.ID)
		s.NoError(err)
		s.True(ok)

		ok, err = s.service.IsFederationMember(ctx, id.NewCitizenID(), federation.ID)
		s.NoError(err)
		s.False(ok)
	})

	s.Run("missing referenced group is skipped not fatal", func() {
		insider := id.NewCitizenID()
		group := s.familyGroup(insider, id.NewCitizenID())

		federation, err := s.service.CreateFederation(ctx, Federation{
			Groups: []id.GroupID{id.NewGroupID(), group.ID},
		})
		s.Require().NoError(err)

		ok, err := s.service.IsFederationMember(ctx, insider, federation.ID)
		s.NoError(err)
		s.True(ok)
	})

	s.Run("unknown federation returns not found", func() {
		_, err := s.service.IsFederationMember(ctx, id.NewCitizenID(), id.NewFederationID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Eligible Population Tests
// =============================================================================

func (s *MembershipServiceSuite) TestEligiblePopulation() {
	ctx := context.Background()

	s.Run("filters by level and excludes system accounts", func() {
		verified := id.NewCitizenID()
		unverified := id.NewCitizenID()
		system := id.NewCitizenID()

		_, err := s.service.RegisterCitizen(ctx, verified, LevelVerified, false)
		s.Require().NoError(err)
		_, err = s.service.RegisterCitizen(ctx, unverified, LevelUnverified, false)
		s.Require().NoError(err)
		_, err = s.service.RegisterCitizen(ctx, system, LevelFullyVerified, true)
		s.Require().NoError(err)

		citizens, err := s.service.EligiblePopulation(ctx, LevelVerified)
		s.NoError(err)
		s.Require().Len(citizens, 1)
		s.Equal(verified, citizens[0].ID)
	})
}
