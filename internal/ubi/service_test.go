package ubi

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"khural/internal/ledger"
	"khural/internal/membership"
	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
)

// =============================================================================
// UBI Service Test Suite
// =============================================================================
// Justification for unit tests: exactly-once under re-runs and per-citizen
// failure isolation are the two properties that make the batch safe to
// schedule; both need precise control of the clock and the reserve balance.

// wednesday is a fixed reference instant. The previous Monday-to-Sunday week
// starts on 2026-08-17.
var wednesday = time.Date(2026, time.August, 26, 15, 0, 0, 0, time.UTC)

type UBIServiceSuite struct {
	suite.Suite
	store       *InMemoryStore
	ledgerStore *ledger.InMemoryStore
	ledgerSvc   *ledger.Service
	members     *membership.Service
	reserve     id.CitizenID
	clock       *clockwork.FakeClock
	service     *Service
}

func TestUBIServiceSuite(t *testing.T) {
	suite.Run(t, new(UBIServiceSuite))
}

func (s *UBIServiceSuite) SetupTest() {
	ctx := context.Background()

	s.store = NewInMemoryStore()
	s.ledgerStore = ledger.NewInMemoryStore()

	var err error
	s.ledgerSvc, err = ledger.New(s.ledgerStore)
	s.Require().NoError(err)

	memberStore := membership.NewInMemoryStore()
	s.members, err = membership.New(memberStore)
	s.Require().NoError(err)

	s.reserve = id.NewCitizenID()
	_, err = s.members.RegisterCitizen(ctx, s.reserve, membership.LevelFullyVerified, true)
	s.Require().NoError(err)
	_, err = s.ledgerSvc.OpenAccount(ctx, s.reserve)
	s.Require().NoError(err)
	s.Require().NoError(s.ledgerStore.SeedBalance(s.reserve, decimal.NewFromInt(1_000_000)))

	s.clock = clockwork.NewFakeClockAt(wednesday)

	s.service, err = New(s.store, s.ledgerSvc, s.members, s.reserve,
		WithClock(s.clock),
		WithWorkers(4),
	)
	s.Require().NoError(err)
}

func (s *UBIServiceSuite) addCitizen() id.CitizenID {
	ctx := context.Background()
	citizenID := id.NewCitizenID()
	_, err := s.members.RegisterCitizen(ctx, citizenID, membership.LevelVerified, false)
	s.Require().NoError(err)
	_, err = s.ledgerSvc.OpenAccount(ctx, citizenID)
	s.Require().NoError(err)
	return citizenID
}

// =============================================================================
// Week Range Tests
// =============================================================================

func (s *UBIServiceSuite) TestLastWeekRange() {
	s.Run("midweek run pays the previous Monday week", func() {
		weekStart, weekEnd := lastWeekRange(wednesday)
		s.Equal(time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC), weekStart)
		s.Equal(time.Monday, weekStart.Weekday())
		s.True(weekEnd.Before(weekStart.AddDate(0, 0, 7)))
	})

	s.Run("Monday run pays the week that just ended", func() {
		monday := time.Date(2026, time.August, 24, 0, 1, 0, 0, time.UTC)
		weekStart, _ := lastWeekRange(monday)
		s.Equal(time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC), weekStart)
	})

	s.Run("Sunday run still pays the running week's Monday", func() {
		sunday := time.Date(2026, time.August, 23, 12, 0, 0, 0, time.UTC)
		weekStart, _ := lastWeekRange(sunday)
		s.Equal(time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC), weekStart)
	})
}

// =============================================================================
// Distribution Tests
// =============================================================================

func (s *UBIServiceSuite) TestDistributeWeekly() {
	ctx := context.Background()

	s.Run("pays each eligible citizen 400 ALTAN", func() {
		s.SetupTest()
		first := s.addCitizen()
		second := s.addCitizen()

		report, err := s.service.DistributeWeekly(ctx)
		s.NoError(err)
		s.Equal(2, report.Eligible)
		s.Equal(2, report.Succeeded)
		s.Equal(0, report.Skipped)
		s.Equal(0, report.Failed)

		for _, citizen := range []id.CitizenID{first, second} {
			account, err := s.ledgerSvc.Balance(ctx, citizen)
			s.Require().NoError(err)
			s.True(account.Balance.Equal(decimal.NewFromInt(400)))

			payment, err := s.service.PaymentFor(ctx, citizen, report.WeekStart)
			s.Require().NoError(err)
			s.Equal(PaymentCompleted, payment.Status)
			s.False(payment.TransferID.IsNil())
		}
	})

	s.Run("second run for the same week skips everyone", func() {
		s.SetupTest()
		s.addCitizen()
		s.addCitizen()
		s.addCitizen()

		first, err := s.service.DistributeWeekly(ctx)
		s.Require().NoError(err)
		s.Equal(3, first.Succeeded)

		second, err := s.service.DistributeWeekly(ctx)
		s.NoError(err)
		s.Equal(second.Eligible, second.Skipped, "skipped equals eligible population")
		s.Equal(0, second.Succeeded)
		s.Equal(0, second.Failed)
	})

	s.Run("unverified and system citizens are not eligible", func() {
		s.SetupTest()
		s.addCitizen()

		unverified := id.NewCitizenID()
		_, err := s.members.RegisterCitizen(ctx, unverified, membership.LevelUnverified, false)
		s.Require().NoError(err)
		_, err = s.ledgerSvc.OpenAccount(ctx, unverified)
		s.Require().NoError(err)

		report, err := s.service.DistributeWeekly(ctx)
		s.NoError(err)
		s.Equal(1, report.Eligible)
	})

	s.Run("citizen without an account link is not eligible", func() {
		s.SetupTest()
		s.addCitizen()

		unlinked := id.NewCitizenID()
		_, err := s.members.RegisterCitizen(ctx, unlinked, membership.LevelVerified, false)
		s.Require().NoError(err)

		report, err := s.service.DistributeWeekly(ctx)
		s.NoError(err)
		s.Equal(1, report.Eligible)
	})

	s.Run("week listing returns every recorded row", func() {
		s.SetupTest()
		s.addCitizen()
		s.addCitizen()

		report, err := s.service.DistributeWeekly(ctx)
		s.Require().NoError(err)

		payments, err := s.service.PaymentsForWeek(ctx, report.WeekStart)
		s.NoError(err)
		s.Require().Len(payments, 2)
		for _, payment := range payments {
			s.Equal(PaymentCompleted, payment.Status)
		}
	})

	s.Run("unconfigured reserve fails fast", func() {
		s.SetupTest()
		svc, err := New(s.store, s.ledgerSvc, s.members, id.CitizenID{}, WithClock(s.clock))
		s.Require().NoError(err)

		_, err = svc.DistributeWeekly(ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
	})
}

// =============================================================================
// Failure Isolation Tests
// =============================================================================

func (s *UBIServiceSuite) TestFailureIsolation() {
	ctx := context.Background()

	s.Run("one failing payment never aborts the batch", func() {
		s.SetupTest()
		// Reserve covers exactly one payment; with two citizens one transfer
		// must fail with insufficient funds.
		s.Require().NoError(s.ledgerStore.SeedBalance(s.reserve, decimal.NewFromInt(400)))
		s.addCitizen()
		s.addCitizen()

		svc, err := New(s.store, s.ledgerSvc, s.members, s.reserve,
			WithClock(s.clock),
			WithWorkers(1), // deterministic: one success, one failure
		)
		s.Require().NoError(err)

		report, err := svc.DistributeWeekly(ctx)
		s.NoError(err, "batch itself succeeds")
		s.Equal(2, report.Eligible)
		s.Equal(1, report.Succeeded)
		s.Equal(1, report.Failed)
	})

	s.Run("failed payments stay failed on re-run", func() {
		s.SetupTest()
		s.Require().NoError(s.ledgerStore.SeedBalance(s.reserve, decimal.NewFromInt(400)))
		citizenA := s.addCitizen()
		citizenB := s.addCitizen()

		svc, err := New(s.store, s.ledgerSvc, s.members, s.reserve,
			WithClock(s.clock), WithWorkers(1))
		s.Require().NoError(err)

		first, err := svc.DistributeWeekly(ctx)
		s.Require().NoError(err)
		s.Equal(1, first.Failed)

		// Top the reserve back up; the failed row must not be auto-retried.
		s.Require().NoError(s.ledgerStore.SeedBalance(s.reserve, decimal.NewFromInt(10_000)))
		second, err := svc.DistributeWeekly(ctx)
		s.NoError(err)
		s.Equal(2, second.Skipped)
		s.Equal(0, second.Succeeded)

		// One of the two rows is FAILED with a reason.
		var failed int
		for _, citizen := range []id.CitizenID{citizenA, citizenB} {
			payment, err := svc.PaymentFor(ctx, citizen, first.WeekStart)
			s.Require().NoError(err)
			if payment.Status == PaymentFailed {
				failed++
				s.NotEmpty(payment.FailureReason)
			}
		}
		s.Equal(1, failed)
	})
}

// =============================================================================
// Manual Distribution Tests
// =============================================================================

func (s *UBIServiceSuite) TestManual() {
	ctx := context.Background()

	s.Run("explicit week override pays that week", func() {
		s.SetupTest()
		citizen := s.addCitizen()

		override := time.Date(2026, time.July, 6, 0, 0, 0, 0, time.UTC)
		report, err := s.service.Manual(ctx, override)
		s.NoError(err)
		s.Equal(override, report.WeekStart)
		s.Equal(1, report.Succeeded)

		payment, err := s.service.PaymentFor(ctx, citizen, override)
		s.NoError(err)
		s.Equal(PaymentCompleted, payment.Status)
	})

	s.Run("override and scheduled runs are independent weeks", func() {
		s.SetupTest()
		s.addCitizen()

		override := time.Date(2026, time.July, 6, 0, 0, 0, 0, time.UTC)
		_, err := s.service.Manual(ctx, override)
		s.Require().NoError(err)

		report, err := s.service.DistributeWeekly(ctx)
		s.NoError(err)
		s.Equal(1, report.Succeeded, "different week, paid again")
	})

	s.Run("zero override falls back to the previous week", func() {
		s.SetupTest()
		s.addCitizen()

		report, err := s.service.Manual(ctx, time.Time{})
		s.NoError(err)
		s.Equal(time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC), report.WeekStart)
	})
}
