// Package allocation implements the tiered allocation engine: three one-time
// awards unlocked by escalating verification milestones, all funded from a
// single pre-funded reserve account.
package allocation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"khural/internal/allocation/metrics"
	"khural/internal/ledger"
	"khural/internal/membership"
	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
	"khural/pkg/platform/audit"
)

// Ledger is the slice of the ledger service the engine needs.
type Ledger interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferRecord, error)
	HasCompletedTransfer(ctx context.Context, to id.CitizenID, memo string) (bool, error)
}

// Oracle answers membership questions.
type Oracle interface {
	Citizen(ctx context.Context, citizenID id.CitizenID) (membership.Citizen, error)
	IsGroupMember(ctx context.Context, citizenID id.CitizenID, groupID id.GroupID) (bool, error)
	IsFederationMember(ctx context.Context, citizenID id.CitizenID, federationID id.FederationID) (bool, error)
}

type Service struct {
	ledger  Ledger
	oracle  Oracle
	reserve id.CitizenID
	cfg     Config
	audit   *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
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

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// New builds the engine. The reserve account is resolved once by the caller
// and fixed for the service lifetime.
func New(ledgerSvc Ledger, oracle Oracle, reserve id.CitizenID, opts ...Option) (*Service, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("membership oracle is required")
	}

	svc := &Service{
		ledger:  ledgerSvc,
		oracle:  oracle,
		reserve: reserve,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Result reports one allocation attempt. Allocated=false with a nil error is
// the idempotency hit: the award was already paid, nothing moved.
type Result struct {
	Allocated bool
	Amount    decimal.Decimal
	Ref       id.AccountRef
}

// AllocateLevel1 pays the base-verification award. Unconditional beyond the
// citizen existing in the registry.
func (s *Service) AllocateLevel1(ctx context.Context, citizenID id.CitizenID) (Result, error) {
	if _, err := s.oracle.Citizen(ctx, citizenID); err != nil {
		return Result{}, err
	}
	return s.allocate(ctx, citizenID, "1", s.cfg.Level1Amount, MemoLevel1)
}

// AllocateLevel2 pays the group-membership award. The citizen must belong to
// the given family or organizational group.
func (s *Service) AllocateLevel2(ctx context.Context, citizenID id.CitizenID, groupID id.GroupID) (Result, error) {
	if _, err := s.oracle.Citizen(ctx, citizenID); err != nil {
		return Result{}, err
	}

	member, err := s.oracle.IsGroupMember(ctx, citizenID, groupID)
	if err != nil {
		return Result{}, err
	}
	if !member {
		s.metrics.IncrementOutcome("2", "denied")
		return Result{}, dErrors.New(dErrors.CodeMembership, "citizen is not a member of the group")
	}

	return s.allocate(ctx, citizenID, "2", s.cfg.Level2Amount, MemoLevel2)
}

// AllocateLevel3 pays the federation award. The citizen must belong to any
// one group of the federation.
func (s *Service) AllocateLevel3(ctx context.Context, citizenID id.CitizenID, federationID id.FederationID) (Result, error) {
	if _, err := s.oracle.Citizen(ctx, citizenID); err != nil {
		return Result{}, err
	}

	member, err := s.oracle.IsFederationMember(ctx, citizenID, federationID)
	if err != nil {
		return Result{}, err
	}
	if !member {
		s.metrics.IncrementOutcome("3", "denied")
		return Result{}, dErrors.New(dErrors.CodeMembership, "citizen is not a member of the federation")
	}

	return s.allocate(ctx, citizenID, "3", s.cfg.Level3Amount, MemoLevel3)
}

func (s *Service) allocate(ctx context.Context, citizenID id.CitizenID, level string, amount decimal.Decimal, memo string) (Result, error) {
	if s.reserve.IsNil() {
		return Result{}, dErrors.New(dErrors.CodeConfiguration, "reserve account is not configured")
	}

	// Fast path: the award was already paid.
	done, err := s.ledger.HasCompletedTransfer(ctx, citizenID, memo)
	if err != nil {
		return Result{}, err
	}
	if done {
		s.metrics.IncrementOutcome(level, "already_allocated")
		return Result{Allocated: false, Amount: decimal.Zero}, nil
	}

	rec, err := s.ledger.Transfer(ctx, ledger.TransferRequest{
		From:       s.reserve,
		To:         citizenID,
		Amount:     amount,
		Category:   ledger.CategoryAward,
		Memo:       memo,
		UniqueMemo: true,
	})
	if err != nil {
		// A concurrent retry won the race; same outcome as the fast path.
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.IncrementOutcome(level, "already_allocated")
			return Result{Allocated: false, Amount: decimal.Zero}, nil
		}
		s.metrics.IncrementOutcome(level, "error")
		return Result{}, err
	}

	s.logger.InfoContext(ctx, "tier award granted",
		"level", level,
		"ref", rec.ToRef.Short(),
		"amount", amount.String(),
	)
	s.emitAudit(ctx, audit.Event{
		Action:    audit.ActionAllocationGranted,
		Subject:   rec.ToRef.String(),
		Amount:    amount.String(),
		Reference: memo,
	})
	s.metrics.IncrementOutcome(level, "granted")

	return Result{Allocated: true, Amount: amount, Ref: rec.ToRef}, nil
}

// Summary reports which tiers the citizen has already received.
type Summary struct {
	Level1 bool
	Level2 bool
	Level3 bool
	Total  decimal.Decimal
}

// AllocationSummary inspects the transfer history witnesses for all three
// tiers.
func (s *Service) AllocationSummary(ctx context.Context, citizenID id.CitizenID) (Summary, error) {
	if _, err := s.oracle.Citizen(ctx, citizenID); err != nil {
		return Summary{}, err
	}

	var summary Summary
	summary.Total = decimal.Zero
	for _, tier := range []struct {
		memo   string
		amount decimal.Decimal
		flag   *bool
	}{
		{MemoLevel1, s.cfg.Level1Amount, &summary.Level1},
		{MemoLevel2, s.cfg.Level2Amount, &summary.Level2},
		{MemoLevel3, s.cfg.Level3Amount, &summary.Level3},
	} {
		done, err := s.ledger.HasCompletedTransfer(ctx, citizenID, tier.memo)
		if err != nil {
			return Summary{}, err
		}
		if done {
			*tier.flag = true
			summary.Total = summary.Total.Add(tier.amount)
		}
	}
	return summary, nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}
