package ubi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"khural/internal/ledger"
	"khural/internal/membership"
	"khural/internal/ubi/metrics"
	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
	"khural/pkg/platform/audit"
	"khural/pkg/platform/sentinel"
)

// DefaultWeeklyAmount is the fixed per-citizen weekly payout in ALTAN.
var DefaultWeeklyAmount = decimal.NewFromInt(400)

const defaultWorkers = 8

// Ledger is the slice of the ledger service the batch needs.
type Ledger interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferRecord, error)
	Balance(ctx context.Context, citizenID id.CitizenID) (ledger.Account, error)
}

// Population lists eligible citizens.
type Population interface {
	EligiblePopulation(ctx context.Context, level membership.VerificationLevel) ([]membership.Citizen, error)
}

type Service struct {
	store      Store
	ledger     Ledger
	population Population
	reserve    id.CitizenID
	amount     decimal.Decimal
	workers    int
	clock      clockwork.Clock
	audit      *audit.Publisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher *audit.Publisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithWeeklyAmount overrides the per-citizen payout.
func WithWeeklyAmount(amount decimal.Decimal) Option {
	return func(s *Service) {
		s.amount = amount
	}
}

// WithWorkers bounds the per-citizen worker pool.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock injects a fake clock for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New builds the scheduler service. The reserve account is resolved once by
// the caller and fixed for the service lifetime.
func New(store Store, ledgerSvc Ledger, population Population, reserve id.CitizenID, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ubi store is required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if population == nil {
		return nil, fmt.Errorf("population source is required")
	}

	svc := &Service{
		store:      store,
		ledger:     ledgerSvc,
		population: population,
		reserve:    reserve,
		amount:     DefaultWeeklyAmount,
		workers:    defaultWorkers,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// DistributeWeekly pays the previous Monday-to-Sunday week. The scheduled
// entry point; Manual shares the same core.
func (s *Service) DistributeWeekly(ctx context.Context) (BatchReport, error) {
	weekStart, weekEnd := lastWeekRange(s.clock.Now())
	return s.run(ctx, weekStart, weekEnd)
}

// Manual triggers a run for an explicit week start, or for the previous week
// when weekStart is zero.
func (s *Service) Manual(ctx context.Context, weekStart time.Time) (BatchReport, error) {
	if weekStart.IsZero() {
		return s.DistributeWeekly(ctx)
	}
	start := weekStart.UTC().Truncate(24 * time.Hour)
	return s.run(ctx, start, weekEndOf(start))
}

// PaymentFor returns the payment row for a citizen-week.
func (s *Service) PaymentFor(ctx context.Context, citizenID id.CitizenID, weekStart time.Time) (Payment, error) {
	payment, err := s.store.Payment(ctx, citizenID, weekStart)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Payment{}, dErrors.New(dErrors.CodeNotFound, "no payment for this citizen and week")
		}
		return Payment{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payment")
	}
	return payment, nil
}

// PaymentsForWeek lists every payment row recorded for the week, for
// operator reconciliation after a run.
func (s *Service) PaymentsForWeek(ctx context.Context, weekStart time.Time) ([]Payment, error) {
	payments, err := s.store.ListForWeek(ctx, weekStart)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list payments for week")
	}
	return payments, nil
}

func (s *Service) run(ctx context.Context, weekStart, weekEnd time.Time) (BatchReport, error) {
	start := s.clock.Now()

	if s.reserve.IsNil() {
		return BatchReport{}, dErrors.New(dErrors.CodeConfiguration, "reserve account is not configured")
	}
	if _, err := s.ledger.Balance(ctx, s.reserve); err != nil {
		return BatchReport{}, dErrors.Wrap(err, dErrors.CodeConfiguration, "reserve account unresolved")
	}

	citizens, err := s.population.EligiblePopulation(ctx, membership.LevelVerified)
	if err != nil {
		return BatchReport{}, err
	}

	eligible := make([]membership.Citizen, 0, len(citizens))
	for _, citizen := range citizens {
		// Eligibility additionally requires an active account link.
		account, err := s.ledger.Balance(ctx, citizen.ID)
		if err != nil || account.Status != ledger.AccountActive {
			continue
		}
		eligible = append(eligible, citizen)
	}
	s.metrics.SetEligible(len(eligible))

	report := BatchReport{WeekStart: weekStart, WeekEnd: weekEnd, Eligible: len(eligible)}
	var mu sync.Mutex

	// Per-citizen work items are independent; one failure never aborts the
	// batch, so workers always return nil.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, citizen := range eligible {
		g.Go(func() error {
			outcome := s.payOne(gctx, citizen.ID, weekStart, weekEnd)
			mu.Lock()
			switch outcome {
			case "paid":
				report.Succeeded++
			case "skipped":
				report.Skipped++
			default:
				report.Failed++
			}
			mu.Unlock()
			s.metrics.IncrementOutcome(outcome)
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.ObserveBatchLatency(s.clock.Since(start))
	s.logger.InfoContext(ctx, "ubi distribution complete",
		"week_start", weekStart.Format(time.DateOnly),
		"eligible", report.Eligible,
		"paid", report.Succeeded,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	s.emitAudit(ctx, audit.Event{
		Action:    audit.ActionUBIRunCompleted,
		Subject:   weekStart.Format(time.DateOnly),
		Reference: fmt.Sprintf("paid=%d skipped=%d failed=%d", report.Succeeded, report.Skipped, report.Failed),
	})

	return report, nil
}

// payOne processes one citizen-week and reports "paid", "skipped" or
// "failed". Errors are recorded on the payment row, never propagated.
func (s *Service) payOne(ctx context.Context, citizenID id.CitizenID, weekStart, weekEnd time.Time) string {
	now := s.clock.Now().UTC()
	payment := Payment{
		ID:        id.NewPaymentID(),
		CitizenID: citizenID,
		WeekStart: weekStart,
		WeekEnd:   weekEnd,
		Amount:    s.amount,
		Status:    PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreatePending(ctx, payment); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Already paid (or recorded failed) for this week.
			return "skipped"
		}
		s.logger.ErrorContext(ctx, "ubi payment row creation failed", "error", err)
		return "failed"
	}

	rec, err := s.ledger.Transfer(ctx, ledger.TransferRequest{
		From:       s.reserve,
		To:         citizenID,
		Amount:     s.amount,
		Category:   ledger.CategoryUBI,
		Memo:       fmt.Sprintf("UBI %s", weekStart.Format(time.DateOnly)),
		UniqueMemo: true,
	})
	if err != nil {
		payment.FailureReason = err.Error()
		if upsertErr := s.store.UpsertFailed(ctx, payment); upsertErr != nil {
			s.logger.ErrorContext(ctx, "ubi failure record upsert failed", "error", upsertErr)
		}
		return "failed"
	}

	if err := s.store.MarkCompleted(ctx, payment.ID, rec.ID); err != nil {
		s.logger.ErrorContext(ctx, "ubi payment completion mark failed", "error", err)
		return "failed"
	}
	return "paid"
}

// lastWeekRange returns the previous Monday-to-Sunday window in UTC. A run
// on Monday pays the week that just ended.
func lastWeekRange(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	daysBack := int(now.Weekday()) + 6
	if now.Weekday() == time.Sunday {
		daysBack = 6
	}
	weekStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -daysBack)
	return weekStart, weekEndOf(weekStart)
}

func weekEndOf(weekStart time.Time) time.Time {
	return weekStart.AddDate(0, 0, 7).Add(-time.Nanosecond)
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}
